// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package recorder

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bincov/bincov/pkg/log"
)

const (
	EnvDataDir       = "BINCOV_DATA_DIR"
	EnvFlushInterval = "BINCOV_FLUSH_INTERVAL"
	EnvEarlyHits     = "BINCOV_EARLY_HITS"
	EnvVerbosity     = "BINCOV_VERBOSITY"
)

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns the process-wide recorder, created on first use with
// options taken from the environment. This is the recorder the injected
// entry points talk to.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = New(OptionsFromEnv(os.Getenv))
	})
	return defaultRecorder
}

// OptionsFromEnv builds options from environment variables.
// Malformed values are reported and replaced with defaults.
func OptionsFromEnv(getenv func(string) string) Options {
	opts := Options{
		DataDir: getenv(EnvDataDir),
	}
	if v := getenv(EnvVerbosity); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			log.SetVerbosity(n)
		}
	}
	if v := getenv(EnvFlushInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Errorf("recorder: bad %v=%q: %v", EnvFlushInterval, v, err)
		}
		opts.FlushInterval = d
	}
	if v := getenv(EnvEarlyHits); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Errorf("recorder: bad %v=%q: %v", EnvEarlyHits, v, err)
		}
		opts.EarlyHits = n
	}
	return opts
}
