// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package recorder records coverage hits inside an instrumented process.
//
// The rewritten binary calls Init once from the entry of main and Report at
// every instrumented point. Report may run on any thread, concurrently, and
// possibly before Init (e.g. from constructors); such early hits are buffered
// and replayed once the recorder is active. Bits are set with a lock-free
// compare-and-swap loop. The vector is periodically persisted with
// write-to-temp-then-rename, so a killed process loses at most the hits
// since the last flush.
//
// The recorder never fails the host program: all errors are logged and
// swallowed.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bincov/bincov/pkg/covfile"
	"github.com/bincov/bincov/pkg/log"
	"github.com/bincov/bincov/pkg/stats"
)

const (
	DefaultDataDir       = covfile.DefaultDir
	DefaultFlushInterval = 2 * time.Second
	DefaultEarlyHits     = 4096
)

var ErrNotInitialized = errors.New("recorder is not initialized")

var (
	statHits = stats.Create("recorder hits", "Newly covered points",
		stats.Console, stats.Rate{}, stats.Prometheus("bincov_recorder_hits"))
	statEarly = stats.Create("early hits", "Hits buffered before initialization",
		stats.Prometheus("bincov_recorder_early_hits"))
	statEarlyDropped = stats.Create("early hits dropped", "Hits lost because the early buffer was full",
		stats.Console, stats.Prometheus("bincov_recorder_early_hits_dropped"))
	statOutOfRange = stats.Create("out of range", "Reports with an index outside of the vector",
		stats.Console, stats.Prometheus("bincov_recorder_out_of_range"))
	statFlushes = stats.Create("flushes", "Coverage file writes",
		stats.Console, stats.Prometheus("bincov_recorder_flushes"))
	statFlushErrors = stats.Create("flush errors", "Skipped coverage file writes",
		stats.Console, stats.Prometheus("bincov_recorder_flush_errors"))
)

type Options struct {
	// DataDir holds one coverage file per binary identity.
	DataDir string
	// FlushInterval is the minimal time between two flushes triggered by Report.
	FlushInterval time.Duration
	// EarlyHits is the capacity of the buffer for hits reported before Init.
	EarlyHits int
	// Now is used instead of time.Now if set (for testing).
	Now func() time.Time
}

type Recorder struct {
	opts     Options
	early    []atomic.Uint64 // idx+1 of buffered hits, 0 means not written yet
	earlyPos atomic.Uint32
	state    atomic.Pointer[instance]
	initMu   sync.Mutex
	flushMu  sync.Mutex
}

// instance is the Active state. It is immutable after publication except
// for the words (updated atomically) and the flush timestamp.
type instance struct {
	id        uint32
	words     []uint32
	filename  string
	options   string
	lastFlush atomic.Int64
}

func New(opts Options) *Recorder {
	if opts.DataDir == "" {
		opts.DataDir = DefaultDataDir
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.EarlyHits <= 0 {
		opts.EarlyHits = DefaultEarlyHits
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		opts:  opts,
		early: make([]atomic.Uint64, opts.EarlyHits),
	}
}

// Init makes the recorder active with a zeroed vector of the given number of
// 32-bit words, merges coverage persisted by previous runs of the same binary
// and replays early hits. Calls after the first one are ignored.
func (r *Recorder) Init(id uint32, words int, filename, options string) {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.state.Load() != nil {
		log.Errorf("recorder is already initialized, ignoring init for %08x", id)
		return
	}
	if words < 0 {
		words = 0
	}
	inst := &instance{
		id:       id,
		words:    make([]uint32, words),
		filename: filename,
		options:  options,
	}
	inst.lastFlush.Store(r.opts.Now().UnixNano())
	r.loadPrevious(inst)
	r.state.Store(inst)
	r.drainEarly(inst)
	log.Logf(1, "recorder: initialized %08x with %v words", id, words)
}

func (r *Recorder) loadPrevious(inst *instance) {
	path := covfile.Path(r.opts.DataDir, inst.id)
	prev, err := covfile.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Logf(0, "recorder: discarding previous coverage: %v", err)
		}
		return
	}
	if len(prev.Words) != len(inst.words) {
		log.Logf(0, "recorder: discarding previous coverage %v: %v words, want %v",
			path, len(prev.Words), len(inst.words))
		return
	}
	for i, w := range prev.Words {
		inst.words[i] |= w
	}
}

// Report records a hit of the point idx. Safe for concurrent use, never blocks.
func (r *Recorder) Report(idx uint32) {
	inst := r.state.Load()
	if inst == nil {
		r.reportEarly(idx)
		return
	}
	if r.earlyPos.Load() != 0 {
		r.drainEarly(inst)
	}
	r.record(inst, idx)
}

func (r *Recorder) reportEarly(idx uint32) {
	pos := r.earlyPos.Add(1) - 1
	if int(pos) >= len(r.early) {
		// Init may have completed while we were here.
		if inst := r.state.Load(); inst != nil {
			r.record(inst, idx)
			return
		}
		statEarlyDropped.Add(1)
		log.Errorf("recorder: not initialized yet and early hit buffer is full, missing point %v", idx)
		return
	}
	r.early[pos].Store(uint64(idx) + 1)
	statEarly.Add(1)
	// If the drain has already passed this slot, nobody else will record the hit.
	if inst := r.state.Load(); inst != nil {
		r.record(inst, idx)
	}
}

// drainEarly replays buffered early hits. The position is reset before the
// replay, so hits recorded during the drain do not re-enter it. Slots whose
// writer has taken a position but not stored the index yet are skipped: such
// a writer observes the Active state after its store and records the hit itself.
func (r *Recorder) drainEarly(inst *instance) {
	n := int(r.earlyPos.Swap(0))
	if n > len(r.early) {
		n = len(r.early)
	}
	for i := 0; i < n; i++ {
		if v := r.early[i].Swap(0); v != 0 {
			r.record(inst, uint32(v-1))
		}
	}
}

// EarlyPending returns the number of buffered early hits not replayed yet.
func (r *Recorder) EarlyPending() int {
	n := int(r.earlyPos.Load())
	if n > len(r.early) {
		n = len(r.early)
	}
	return n
}

func (r *Recorder) record(inst *instance, idx uint32) {
	word, mask := idx/32, uint32(1)<<(idx%32)
	if uint64(word) >= uint64(len(inst.words)) {
		statOutOfRange.Add(1)
		log.Errorf("recorder: index out of bounds (%v vs %v words)", idx, len(inst.words))
		return
	}
	if !inst.set(word, mask) {
		return
	}
	statHits.Add(1)
	r.maybeFlush(inst)
}

// set returns true if the bit was not set before.
func (inst *instance) set(word, mask uint32) bool {
	p := &inst.words[word]
	for {
		old := atomic.LoadUint32(p)
		if old&mask != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(p, old, old|mask) {
			return true
		}
	}
}

func (r *Recorder) maybeFlush(inst *instance) {
	now := r.opts.Now().UnixNano()
	last := inst.lastFlush.Load()
	if time.Duration(now-last) < r.opts.FlushInterval {
		return
	}
	// Exactly one reporter wins the slot, the rest carry on.
	if !inst.lastFlush.CompareAndSwap(last, now) {
		return
	}
	if !r.flushMu.TryLock() {
		return
	}
	defer r.flushMu.Unlock()
	if err := r.write(inst); err != nil {
		log.Logf(1, "recorder: skipping flush: %v", err)
	}
}

// Flush persists the current vector. Unlike the periodic flush from Report,
// it waits for a concurrent flush to finish.
func (r *Recorder) Flush() error {
	inst := r.state.Load()
	if inst == nil {
		return ErrNotInitialized
	}
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	inst.lastFlush.Store(r.opts.Now().UnixNano())
	return r.write(inst)
}

// Close is the exit-time flush. Early hits still in the buffer are recorded first.
func (r *Recorder) Close() error {
	inst := r.state.Load()
	if inst == nil {
		return ErrNotInitialized
	}
	r.drainEarly(inst)
	if err := r.Flush(); err != nil {
		return err
	}
	log.Logf(1, "recorder: %v", stats.Summary(stats.Console))
	return nil
}

func (r *Recorder) write(inst *instance) error {
	c := &covfile.Container{
		Words:    inst.snapshot(),
		Filename: inst.filename,
		Options:  inst.options,
	}
	if err := covfile.Save(r.opts.DataDir, inst.id, c); err != nil {
		statFlushErrors.Add(1)
		return fmt.Errorf("failed to write coverage for %08x: %w", inst.id, err)
	}
	statFlushes.Add(1)
	return nil
}

func (inst *instance) snapshot() []uint32 {
	words := make([]uint32, len(inst.words))
	for i := range inst.words {
		words[i] = atomic.LoadUint32(&inst.words[i])
	}
	return words
}

// Snapshot returns a copy of the current vector, or nil before Init.
func (r *Recorder) Snapshot() []uint32 {
	inst := r.state.Load()
	if inst == nil {
		return nil
	}
	return inst.snapshot()
}

func (r *Recorder) Initialized() bool {
	return r.state.Load() != nil
}

// Path returns the coverage file the recorder writes, or "" before Init.
func (r *Recorder) Path() string {
	inst := r.state.Load()
	if inst == nil {
		return ""
	}
	return covfile.Path(r.opts.DataDir, inst.id)
}
