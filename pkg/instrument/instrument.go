// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package instrument drives a patching backend to either rewrite a binary so
// that it records its own coverage (write mode), or to replay coverage recorded
// by a previous run of the rewritten binary (read mode).
//
// The call sequence is the same in both modes:
//
//	ctrl.AddFile(exe)
//	ctrl.SetupParser()
//	ctrl.Start(listener, exe)
//	ctrl.Parse()              // line listeners call RegisterBreakpoint
//	ctrl.ContinueExecution()
package instrument

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bincov/bincov/pkg/cover/backend"
	"github.com/bincov/bincov/pkg/covfile"
	"github.com/bincov/bincov/pkg/hash"
	"github.com/bincov/bincov/pkg/log"
	"github.com/bincov/bincov/pkg/osutil"
	"github.com/bincov/bincov/pkg/registry"
)

// Names of the recorder library entry points.
const (
	InitFunc   = "bincov_recorder_init"
	ReportFunc = "bincov_recorder_report"
	MainFunc   = "main"
)

var (
	ErrOpenFailed             = errors.New("can't open binary for rewriting")
	ErrNoImage                = errors.New("can't obtain binary image")
	ErrRecorderSymbolsMissing = errors.New("recorder library entry points not found")
	ErrMainInsertFailed       = errors.New("can't insert recorder init call into main")
	ErrNotStarted             = errors.New("controller is not started")
	ErrModeUnset              = errors.New("instrumentation mode is not set")
)

type Mode int

const (
	ModeUnset Mode = iota
	ModeWrite
	ModeRead
)

func (m Mode) String() string {
	switch m {
	case ModeWrite:
		return "write"
	case ModeRead:
		return "read"
	}
	return "unset"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "write":
		return ModeWrite, nil
	case "read":
		return ModeRead, nil
	}
	return ModeUnset, fmt.Errorf("unknown mode %q, expect write or read", s)
}

type EventKind int

const (
	EventBreakpoint EventKind = iota
	EventExit
)

type Event struct {
	Kind EventKind
	// Addr is the registered address of the hit point, 0 for EventExit.
	Addr uint64
	Data int
}

type LineListener interface {
	OnLine(file string, line int, addr uint64)
}

type FileListener interface {
	OnFile(path string)
}

type EventListener interface {
	OnEvent(ev Event)
}

type Config struct {
	Mode Mode
	// NewBackend is called once by SetupParser.
	NewBackend func() backend.Backend
	// DataDir is where the recorder keeps coverage files.
	DataDir string
	// Output is the path of the rewritten binary.
	Output string
	// RecorderLib is the recorder shared library, copied next to Output.
	RecorderLib string
	// Options is stored in coverage files, read mode ignores files with other options.
	Options string
}

type pendingPoint struct {
	addr uint64
	idx  uint32
}

type Controller struct {
	cfg           Config
	filename      string
	fileListeners []FileListener
	lineListeners []LineListener
	listener      EventListener
	be            backend.Backend
	bin           backend.Binary
	img           backend.Image
	checksum      uint32
	reg           *registry.Registry
	pending       []pendingPoint
	handles       map[uint64]backend.Handle
}

func New(cfg Config) (*Controller, error) {
	if cfg.Mode != ModeWrite && cfg.Mode != ModeRead {
		return nil, ErrModeUnset
	}
	if cfg.NewBackend == nil {
		return nil, fmt.Errorf("no patching backend")
	}
	if cfg.Mode == ModeWrite && (cfg.Output == "" || cfg.RecorderLib == "") {
		return nil, fmt.Errorf("write mode needs output and recorder library paths")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = covfile.DefaultDir
	}
	return &Controller{
		cfg:     cfg,
		reg:     registry.New(),
		handles: make(map[uint64]backend.Handle),
	}, nil
}

func (ctrl *Controller) RegisterLineListener(l LineListener) {
	ctrl.lineListeners = append(ctrl.lineListeners, l)
}

func (ctrl *Controller) RegisterFileListener(l FileListener) {
	ctrl.fileListeners = append(ctrl.fileListeners, l)
}

// AddFile records the executable path, parsing happens in Start/Parse.
func (ctrl *Controller) AddFile(path string) {
	ctrl.filename = path
	for _, l := range ctrl.fileListeners {
		l.OnFile(path)
	}
}

func (ctrl *Controller) SetupParser() {
	if ctrl.be == nil {
		ctrl.be = ctrl.cfg.NewBackend()
	}
}

func (ctrl *Controller) Start(listener EventListener, executable string) error {
	ctrl.SetupParser()
	ctrl.listener = listener
	sig, err := hash.File(executable)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	ctrl.checksum = sig.Truncate32()
	if ctrl.filename == "" {
		ctrl.filename = executable
	}
	bin, err := ctrl.be.OpenBinary(executable)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	img, err := bin.Image()
	if err != nil {
		bin.Close()
		return fmt.Errorf("%w: %w", ErrNoImage, err)
	}
	ctrl.bin, ctrl.img = bin, img
	log.Logf(1, "%v: identity %08x, mode %v", executable, ctrl.checksum, ctrl.cfg.Mode)
	return nil
}

// Parse reports every statement of the binary to the line listeners.
func (ctrl *Controller) Parse() error {
	if ctrl.img == nil {
		return ErrNotStarted
	}
	modules, err := ctrl.img.Modules()
	if err != nil {
		return err
	}
	for _, mod := range modules {
		stmts, err := mod.Statements()
		if err != nil {
			log.Logf(1, "skipping module %v: %v", mod.Name(), err)
			continue
		}
		for _, stmt := range stmts {
			for _, l := range ctrl.lineListeners {
				l.OnLine(stmt.File, stmt.Line, stmt.Addr)
			}
		}
	}
	return nil
}

// RegisterBreakpoint assigns the next index to addr.
func (ctrl *Controller) RegisterBreakpoint(addr uint64) uint32 {
	idx := ctrl.reg.Register(addr)
	if ctrl.cfg.Mode == ModeWrite {
		ctrl.pending = append(ctrl.pending, pendingPoint{addr, idx})
	}
	return idx
}

// ContinueExecution rewrites the binary or replays recorded coverage,
// then reports the exit event. There is nothing to continue afterwards.
func (ctrl *Controller) ContinueExecution() error {
	if ctrl.bin == nil {
		return ErrNotStarted
	}
	var err error
	if ctrl.cfg.Mode == ModeWrite {
		err = ctrl.writeBinary()
	} else {
		ctrl.readCoverage()
	}
	ctrl.reportEvent(Event{Kind: EventExit})
	return err
}

func (ctrl *Controller) writeBinary() error {
	report, initFn, err := ctrl.loadRecorder()
	if err != nil {
		return err
	}
	for _, pp := range ctrl.pending {
		ctrl.insertReport(report, pp)
	}
	mains, err := ctrl.img.FindFunction(MainFunc)
	if err != nil || len(mains) == 0 {
		return fmt.Errorf("%w: no %v function", ErrMainInsertFailed, MainFunc)
	}
	args := []backend.Arg{
		backend.IntArg(uint64(ctrl.checksum)),
		backend.IntArg(uint64(ctrl.reg.Words())),
		backend.StringArg(ctrl.filename),
		backend.StringArg(ctrl.cfg.Options),
	}
	if _, err := ctrl.bin.InsertCall(mains[0].Entry, initFn, args, backend.OrderFirst); err != nil {
		return fmt.Errorf("%w: %w", ErrMainInsertFailed, err)
	}
	if err := ctrl.bin.WriteBinary(ctrl.cfg.Output); err != nil {
		return err
	}
	log.Logf(0, "wrote %v: %v points, %v instrumented", ctrl.cfg.Output, ctrl.reg.Count(), ctrl.Inserted())
	return nil
}

func (ctrl *Controller) loadRecorder() (report, initFn *backend.Function, err error) {
	lib := filepath.Join(filepath.Dir(ctrl.cfg.Output), filepath.Base(ctrl.cfg.RecorderLib))
	if lib != ctrl.cfg.RecorderLib {
		if err := osutil.MkdirAll(filepath.Dir(lib)); err != nil {
			return nil, nil, err
		}
		if err := osutil.CopyFile(ctrl.cfg.RecorderLib, lib); err != nil {
			return nil, nil, fmt.Errorf("failed to bundle recorder library: %w", err)
		}
	}
	if _, err := ctrl.bin.LoadLibrary(lib); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRecorderSymbolsMissing, err)
	}
	report = ctrl.lookupFunction(ReportFunc)
	initFn = ctrl.lookupFunction(InitFunc)
	if report == nil || initFn == nil {
		return nil, nil, ErrRecorderSymbolsMissing
	}
	return report, initFn, nil
}

func (ctrl *Controller) lookupFunction(name string) *backend.Function {
	fns, err := ctrl.img.FindFunction(name)
	if err != nil || len(fns) == 0 {
		log.Errorf("unable to find function %v: %v", name, err)
		return nil
	}
	return fns[0]
}

func (ctrl *Controller) insertReport(report *backend.Function, pp pendingPoint) {
	points, err := ctrl.img.FindPoints(pp.addr)
	if err != nil || len(points) == 0 {
		log.Logf(2, "no points at 0x%x", pp.addr)
		return
	}
	h, err := ctrl.bin.InsertCall(points, report, []backend.Arg{backend.IntArg(uint64(pp.idx))}, backend.OrderLast)
	if err != nil {
		log.Logf(2, "failed to instrument 0x%x: %v", pp.addr, err)
		return
	}
	for _, pt := range points {
		ctrl.handles[pt.Addr] = h
	}
}

func (ctrl *Controller) readCoverage() {
	path := covfile.Path(ctrl.cfg.DataDir, ctrl.checksum)
	c, err := covfile.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Logf(0, "no coverage data for %v in %v", ctrl.filename, path)
		} else {
			log.Errorf("ignoring coverage data: %v", err)
		}
		return
	}
	if c.Options != ctrl.cfg.Options {
		log.Errorf("ignoring %v: recorded with options %q, want %q", path, c.Options, ctrl.cfg.Options)
		return
	}
	count := uint32(ctrl.reg.Count())
	stale := 0
	c.SetBits(func(idx uint32) {
		if idx >= count {
			stale++
			return
		}
		addr, _ := ctrl.reg.AddressOf(idx)
		ctrl.reportEvent(Event{Kind: EventBreakpoint, Addr: addr})
	})
	if stale != 0 {
		log.Logf(0, "ignored %v stale indices in %v", stale, path)
	}
}

func (ctrl *Controller) reportEvent(ev Event) {
	if ctrl.listener != nil {
		ctrl.listener.OnEvent(ev)
	}
}

// Kill does nothing: the controller never runs the target.
func (ctrl *Controller) Kill(sig os.Signal) {}

func (ctrl *Controller) Close() error {
	if ctrl.bin == nil {
		return nil
	}
	err := ctrl.bin.Close()
	ctrl.bin, ctrl.img = nil, nil
	return err
}

func (ctrl *Controller) Checksum() uint32 {
	return ctrl.checksum
}

func (ctrl *Controller) Mode() Mode {
	return ctrl.cfg.Mode
}

func (ctrl *Controller) Registry() *registry.Registry {
	return ctrl.reg
}

// Inserted returns the number of points that got a report call.
func (ctrl *Controller) Inserted() int {
	return len(ctrl.handles)
}
