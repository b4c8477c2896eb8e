// Copyright 2021 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backend

import (
	"debug/dwarf"
	"errors"
	"fmt"
	"io"
	"sort"
)

type dwarfModule struct {
	data *dwarf.Data
	unit *dwarf.Entry
	name string
}

func (bin *elfBinary) Modules() (modules []Module, err error) {
	defer func() {
		// Go's DWARF parser used to crash on DWARF 5 data produced by new compilers,
		// turn such panic into an error.
		if recErr := recover(); recErr != nil {
			modules = nil
			err = fmt.Errorf("panic occurred while parsing DWARF: %v", recErr)
		}
	}()
	data, err := bin.file.DWARF()
	if err != nil {
		return nil, fmt.Errorf("%v: %w: %w", bin.path, ErrNoDebugInfo, err)
	}
	for r := data.Reader(); ; {
		ent, err := r.Next()
		if err != nil {
			return nil, err
		}
		if ent == nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		name, _ := ent.Val(dwarf.AttrName).(string)
		modules = append(modules, &dwarfModule{
			data: data,
			unit: ent,
			name: name,
		})
		r.SkipChildren()
	}
	return modules, nil
}

func (mod *dwarfModule) Name() string {
	return mod.name
}

// Statements returns one statement per address, sorted by address.
func (mod *dwarfModule) Statements() ([]Statement, error) {
	lr, err := mod.data.LineReader(mod.unit)
	if err != nil {
		return nil, fmt.Errorf("failed to read line table of %v: %w", mod.name, err)
	}
	if lr == nil {
		return nil, nil
	}
	seen := make(map[uint64]bool)
	var stmts []Statement
	var entry dwarf.LineEntry
	for {
		if err := lr.Next(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read line table of %v: %w", mod.name, err)
		}
		if !entry.IsStmt || entry.EndSequence || entry.File == nil || entry.Line == 0 {
			continue
		}
		if seen[entry.Address] {
			continue
		}
		seen[entry.Address] = true
		stmts = append(stmts, Statement{
			File: entry.File.Name,
			Line: entry.Line,
			Addr: entry.Address,
		})
	}
	sort.SliceStable(stmts, func(i, j int) bool {
		return stmts[i].Addr < stmts[j].Addr
	})
	return stmts, nil
}
