// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covconfig

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bincov/bincov/pkg/config"
	"github.com/bincov/bincov/pkg/covfile"
	"github.com/bincov/bincov/pkg/instrument"
	"github.com/bincov/bincov/pkg/recorder"
)

func LoadData(data []byte) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(filename string) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadFile(filename, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with default values for callers that
// build the config from command line flags only.
func Default() *Config {
	return defaultValues()
}

func defaultValues() *Config {
	return &Config{
		DataDir: covfile.DefaultDir,
		Workdir: ".",
	}
}

// Complete checks the config and fills in derived values.
func Complete(cfg *Config) error {
	if cfg.Binary == "" {
		return fmt.Errorf("config param binary is empty")
	}
	var err error
	if cfg.ParsedMode, err = instrument.ParseMode(cfg.Mode); err != nil {
		return fmt.Errorf("bad config param mode: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = covfile.DefaultDir
	}
	if cfg.Workdir == "" {
		return fmt.Errorf("config param workdir is empty")
	}
	if cfg.Workdir, err = filepath.Abs(cfg.Workdir); err != nil {
		return err
	}
	if cfg.Output == "" {
		cfg.Output = filepath.Join(cfg.Workdir, "bincov-instrumented")
	}
	if cfg.ParsedMode == instrument.ModeWrite && cfg.RecorderLib == "" {
		return fmt.Errorf("config param recorder_lib is required in write mode")
	}
	cfg.ParsedInterval = recorder.DefaultFlushInterval
	if cfg.FlushInterval != "" {
		if cfg.ParsedInterval, err = time.ParseDuration(cfg.FlushInterval); err != nil {
			return fmt.Errorf("bad config param flush_interval: %w", err)
		}
		if cfg.ParsedInterval < 0 {
			return fmt.Errorf("bad config param flush_interval: %v is negative", cfg.FlushInterval)
		}
	}
	if cfg.EarlyHits < 0 {
		return fmt.Errorf("bad config param early_hits: %v", cfg.EarlyHits)
	}
	return nil
}

// RecorderEnv returns the environment that passes the recorder settings
// to the rewritten binary.
func (cfg *Config) RecorderEnv() []string {
	env := []string{
		recorder.EnvDataDir + "=" + cfg.DataDir,
		recorder.EnvFlushInterval + "=" + cfg.ParsedInterval.String(),
	}
	if cfg.EarlyHits != 0 {
		env = append(env, recorder.EnvEarlyHits+"="+strconv.Itoa(cfg.EarlyHits))
	}
	return env
}
