// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covconfig

import (
	"time"

	"github.com/bincov/bincov/pkg/instrument"
)

type Config struct {
	// Executable to instrument or to report coverage for.
	Binary string `json:"binary"`
	// "write" rewrites the binary so that it records coverage when run,
	// "read" reports coverage recorded by previous runs of the rewritten binary.
	Mode string `json:"mode"`
	// Directory with coverage files, shared with the recorder (/tmp/bincov-data by default).
	DataDir string `json:"data_dir,omitempty"`
	// Location of a working directory for the bincov process.
	// The rewritten binary and the recorder library are placed here.
	Workdir string `json:"workdir"`
	// Path of the rewritten binary (<workdir>/bincov-instrumented by default).
	Output string `json:"output,omitempty"`
	// Recorder shared library built with -buildmode=c-shared (write mode only).
	RecorderLib string `json:"recorder_lib,omitempty"`
	// Arbitrary string stored in coverage files.
	// Read mode ignores files recorded with different options.
	Options string `json:"options,omitempty"`
	// External command that applies the patch plan to the binary (optional).
	// Without it only the plan (<output>.plan.json) is produced.
	Rewriter string `json:"rewriter,omitempty"`
	// Minimal period between periodic flushes of the recorder, e.g. "2s".
	FlushInterval string `json:"flush_interval,omitempty"`
	// Number of hits the recorder buffers before it is initialized.
	EarlyHits int `json:"early_hits,omitempty"`

	// Implementation details beyond this point. Filled after parsing.
	ParsedMode     instrument.Mode `json:"-"`
	ParsedInterval time.Duration   `json:"-"`
}
