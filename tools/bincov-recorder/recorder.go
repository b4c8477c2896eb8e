// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bincov-recorder is the shared library that bincov loads into rewritten binaries.
// Build with:
//
//	go build -buildmode=c-shared -o libbincov-recorder.so ./tools/bincov-recorder
//
// The library is configured with environment variables of the target process:
// BINCOV_DATA_DIR, BINCOV_FLUSH_INTERVAL, BINCOV_EARLY_HITS, BINCOV_VERBOSITY
// and BINCOV_METRICS_ADDR (serve recorder metrics at http://addr/metrics).
package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bincov/bincov/pkg/log"
	"github.com/bincov/bincov/pkg/recorder"
	"github.com/bincov/bincov/pkg/stats"
)

const EnvMetricsAddr = "BINCOV_METRICS_ADDR"

var statEarlyPending = stats.Create("early hits pending", "Buffered hits waiting for initialization",
	stats.Prometheus("bincov_recorder_early_pending"),
	func() int { return recorder.Default().EarlyPending() })

func init() {
	log.SetPrefix("bincov: ")
	if addr := os.Getenv(EnvMetricsAddr); addr != "" {
		serveMetrics(addr)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(addr, mux)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
}

func initRecorder(id uint32, words int, filename, options string) {
	defer recoverPanic("init")
	recorder.Default().Init(id, words, filename, options)
}

func report(idx uint32) {
	defer recoverPanic("report")
	recorder.Default().Report(idx)
}

func closeRecorder() {
	defer recoverPanic("exit")
	if err := recorder.Default().Close(); err != nil && !errors.Is(err, recorder.ErrNotInitialized) {
		log.Errorf("final flush failed: %v", err)
	}
}

// recoverPanic keeps recorder bugs from crashing the target process.
func recoverPanic(what string) {
	if r := recover(); r != nil {
		log.Errorf("%v: %v", what, r)
	}
}

func main() {}
