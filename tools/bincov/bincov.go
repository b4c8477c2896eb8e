// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bincov records line coverage of compiled binaries without recompilation.
//
// Write mode produces a rewritten binary that records its own coverage
// into the data directory each time it runs:
//
//	bincov -mode write -binary ./prog -recorder_lib libbincov-recorder.so [-run -- args...]
//
// Read mode prints coverage accumulated by the runs of the rewritten binary:
//
//	bincov -mode read -binary ./prog [-csv coverage.csv]
//
// All parameters can also be given in a config file (-config).
// Diagnostics of the last invocation are saved to bincov.log in the workdir.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bincov/bincov/pkg/config"
	"github.com/bincov/bincov/pkg/covconfig"
	"github.com/bincov/bincov/pkg/cover"
	"github.com/bincov/bincov/pkg/cover/backend"
	"github.com/bincov/bincov/pkg/instrument"
	"github.com/bincov/bincov/pkg/log"
	"github.com/bincov/bincov/pkg/osutil"
	"github.com/bincov/bincov/pkg/tool"
)

var (
	flagConfig      = flag.String("config", "", "configuration file (optional)")
	flagMode        = flag.String("mode", "", "write or read (overrides config)")
	flagBinary      = flag.String("binary", "", "binary to instrument or report on (overrides config)")
	flagDataDir     = flag.String("data_dir", "", "coverage data directory (overrides config)")
	flagOutput      = flag.String("output", "", "rewritten binary path (overrides config)")
	flagRecorderLib = flag.String("recorder_lib", "", "recorder shared library (overrides config)")
	flagOptions     = flag.String("options", "", "options string stored in coverage files (overrides config)")
	flagRewriter    = flag.String("rewriter", "", "external command that applies the patch plan (overrides config)")
	flagCSV         = flag.String("csv", "", "export per-file coverage in csv format (read mode, optional)")
	flagRun         = flag.Bool("run", false, "run the rewritten binary with the remaining arguments (write mode)")
	flagTimeout     = flag.Duration("timeout", time.Hour, "timeout for -run")
)

// LogFile keeps the diagnostics of the last invocation in the workdir.
const LogFile = "bincov.log"

func main() {
	defer tool.Init()()
	log.EnableLogCaching(1000, 1<<20)
	cfg, err := loadConfig()
	if err != nil {
		tool.Fail(err)
	}
	err = bincov(cfg)
	if err := saveLog(cfg.Workdir); err != nil {
		log.Errorf("failed to save log: %v", err)
	}
	if err != nil {
		tool.Fail(err)
	}
}

func bincov(cfg *covconfig.Config) error {
	ctrl, err := instrument.New(instrument.Config{
		Mode: cfg.ParsedMode,
		NewBackend: func() backend.Backend {
			return backend.NewELF(backend.ELFConfig{Rewriter: cfg.Rewriter})
		},
		DataDir:     cfg.DataDir,
		Output:      cfg.Output,
		RecorderLib: cfg.RecorderLib,
		Options:     cfg.Options,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan struct{})
	osutil.HandleInterrupts(shutdown)
	go func() {
		select {
		case <-shutdown:
			ctrl.Kill(os.Interrupt)
			cancel()
		case <-ctx.Done():
		}
	}()

	collector := cover.NewCollector(ctrl)
	ctrl.RegisterFileListener(collector)
	ctrl.RegisterLineListener(collector)
	ctrl.AddFile(cfg.Binary)
	ctrl.SetupParser()
	if err := ctrl.Start(collector, cfg.Binary); err != nil {
		return err
	}
	if err := ctrl.Parse(); err != nil {
		return err
	}
	if err := ctrl.ContinueExecution(); err != nil {
		return err
	}
	switch cfg.ParsedMode {
	case instrument.ModeWrite:
		if *flagRun {
			return run(ctx, cfg, flag.Args())
		}
	case instrument.ModeRead:
		if err := collector.WriteSummary(os.Stdout); err != nil {
			return err
		}
		if *flagCSV != "" {
			return writeCSV(collector, *flagCSV)
		}
	}
	return nil
}

func saveLog(workdir string) error {
	return osutil.WriteFile(filepath.Join(workdir, LogFile), []byte(log.CachedLogOutput()))
}

func loadConfig() (*covconfig.Config, error) {
	cfg := covconfig.Default()
	if *flagConfig != "" {
		// The file may be incomplete on its own, flags fill in the rest before Complete.
		if err := config.LoadFile(*flagConfig, cfg); err != nil {
			return nil, err
		}
	}
	override := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	override(&cfg.Mode, *flagMode)
	override(&cfg.Binary, *flagBinary)
	override(&cfg.DataDir, *flagDataDir)
	override(&cfg.Output, *flagOutput)
	override(&cfg.RecorderLib, *flagRecorderLib)
	override(&cfg.Options, *flagOptions)
	override(&cfg.Rewriter, *flagRewriter)
	if err := covconfig.Complete(cfg); err != nil {
		return nil, err
	}
	log.Logf(1, "mode %v, binary %v, data dir %v", cfg.Mode, cfg.Binary, cfg.DataDir)
	return cfg, nil
}

// run executes the rewritten binary, an interrupt kills it.
func run(ctx context.Context, cfg *covconfig.Config, args []string) error {
	cmd := osutil.Command(cfg.Output, args...)
	cmd.Env = append(os.Environ(), cfg.RecorderEnv()...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	_, err := osutil.RunContext(ctx, *flagTimeout, cmd)
	return err
}

func writeCSV(collector *cover.Collector, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := collector.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %v: %w", filename, err)
	}
	return nil
}
