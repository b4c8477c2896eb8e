// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backend

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ianlancetaylor/demangle"

	"github.com/bincov/bincov/pkg/log"
	"github.com/bincov/bincov/pkg/osutil"
)

// ELFConfig configures the ELF backend.
type ELFConfig struct {
	// Rewriter is an optional external command that applies a patch plan:
	// it is invoked as "rewriter -in binary -plan plan.json -out output".
	// Without it WriteBinary emits an unmodified copy plus the plan.
	Rewriter string
	Timeout  time.Duration
}

type elfBackend struct {
	cfg ELFConfig
}

// NewELF returns a backend that reads statements from DWARF line tables and
// functions from ELF symbol tables. Insertions are collected into a Plan.
func NewELF(cfg ELFConfig) Backend {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &elfBackend{cfg: cfg}
}

func (be *elfBackend) OpenBinary(path string) (Binary, error) {
	file, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file %v: %w", path, err)
	}
	bin := &elfBinary{
		cfg:  be.cfg,
		path: path,
		file: file,
		text: file.Section(".text"),
		plan: &Plan{Binary: path},
	}
	symbols, err := readFuncSymbols(file, "")
	if err != nil {
		file.Close()
		return nil, err
	}
	bin.symbols = symbols
	return bin, nil
}

type elfBinary struct {
	cfg     ELFConfig
	path    string
	file    *elf.File
	text    *elf.Section
	symbols []*Function // sorted by Addr, binary symbols only
	libs    []*Function
	plan    *Plan
}

func (bin *elfBinary) Image() (Image, error) {
	if bin.text == nil {
		return nil, fmt.Errorf("%v: %w", bin.path, ErrNoText)
	}
	return bin, nil
}

func (bin *elfBinary) Close() error {
	return bin.file.Close()
}

func (bin *elfBinary) FindFunction(name string) ([]*Function, error) {
	var res []*Function
	for _, syms := range [][]*Function{bin.symbols, bin.libs} {
		for _, fn := range syms {
			if fn.Name == name || demangle.Filter(fn.Name, demangle.NoParams) == name {
				res = append(res, fn)
			}
		}
	}
	return res, nil
}

func (bin *elfBinary) FindPoints(addr uint64) ([]Point, error) {
	fn := bin.funcAt(addr)
	if fn == nil {
		return nil, nil
	}
	return []Point{{Addr: addr, Func: fn.Name}}, nil
}

func (bin *elfBinary) funcAt(addr uint64) *Function {
	idx := sort.Search(len(bin.symbols), func(i int) bool {
		return bin.symbols[i].Addr > addr
	})
	if idx == 0 {
		return nil
	}
	fn := bin.symbols[idx-1]
	if addr >= fn.Addr+fn.Size {
		return nil
	}
	return fn
}

func (bin *elfBinary) LoadLibrary(path string) (*Object, error) {
	file, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open library %v: %w", path, err)
	}
	defer file.Close()
	symbols, err := readFuncSymbols(file, path)
	if err != nil {
		return nil, err
	}
	obj := &Object{Path: path, Name: path}
	if sonames, err := file.DynString(elf.DT_SONAME); err == nil && len(sonames) != 0 {
		obj.Name = sonames[0]
	}
	bin.libs = append(bin.libs, symbols...)
	bin.plan.Libraries = append(bin.plan.Libraries, *obj)
	log.Logf(1, "loaded library %v (%v functions)", obj.Name, len(symbols))
	return obj, nil
}

func (bin *elfBinary) InsertCall(points []Point, fn *Function, args []Arg, order Order) (Handle, error) {
	if len(points) == 0 {
		return 0, fmt.Errorf("%w: no points", ErrBadInsertion)
	}
	if fn == nil {
		return 0, fmt.Errorf("%w: no function", ErrBadInsertion)
	}
	for _, pt := range points {
		if bin.funcAt(pt.Addr) == nil {
			return 0, fmt.Errorf("%w: 0x%x is not in a function", ErrBadInsertion, pt.Addr)
		}
	}
	bin.plan.Insertions = append(bin.plan.Insertions, Insertion{
		Points:   append([]Point{}, points...),
		Function: fn.Name,
		Object:   fn.Object,
		Args:     append([]Arg{}, args...),
		Order:    order,
	})
	return Handle(len(bin.plan.Insertions)), nil
}

func (bin *elfBinary) WriteBinary(path string) error {
	planFile := PlanFile(path)
	if err := bin.plan.Save(planFile); err != nil {
		return err
	}
	if bin.cfg.Rewriter == "" {
		log.Logf(0, "no rewriter configured, %v is a copy of %v, patches are in %v",
			path, bin.path, planFile)
		return osutil.CopyFile(bin.path, path)
	}
	if _, err := osutil.RunCmd(bin.cfg.Timeout, "", bin.cfg.Rewriter,
		"-in", bin.path, "-plan", planFile, "-out", path); err != nil {
		return fmt.Errorf("rewriter failed: %w", err)
	}
	return nil
}

func readFuncSymbols(file *elf.File, object string) ([]*Function, error) {
	allSymbols, err := file.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("failed to read ELF symbols: %w", err)
	}
	dynSymbols, err := file.DynamicSymbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("failed to read ELF dynamic symbols: %w", err)
	}
	seen := make(map[string]bool)
	var symbols []*Function
	for _, symb := range append(allSymbols, dynSymbols...) {
		if elf.ST_TYPE(symb.Info) != elf.STT_FUNC || symb.Value == 0 {
			continue
		}
		if symb.Section == elf.SHN_UNDEF || int(symb.Section) >= len(file.Sections) {
			continue
		}
		sect := file.Sections[symb.Section]
		if sect.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		key := fmt.Sprintf("%v:%x", symb.Name, symb.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		// Versioned dynamic symbols look like "name@@VERSION".
		name, _, _ := strings.Cut(symb.Name, "@")
		symbols = append(symbols, &Function{
			Name:   name,
			Addr:   symb.Value,
			Size:   symb.Size,
			Entry:  []Point{{Addr: symb.Value, Func: name}},
			Object: object,
		})
	}
	sort.Slice(symbols, func(i, j int) bool {
		return symbols[i].Addr < symbols[j].Addr
	})
	return symbols, nil
}
