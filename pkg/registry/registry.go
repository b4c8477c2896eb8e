// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package registry assigns dense zero-based indices to instrumentation points.
// Index i corresponds to bit i of the coverage bit-vector.
package registry

import (
	"errors"
	"fmt"
)

var ErrOutOfRange = errors.New("breakpoint index out of range")

// MaxPoints is the number of distinct indices of the 32-bit report argument.
const MaxPoints = 1 << 32

// Registry is not safe for concurrent use; the controller that owns it is single-threaded.
type Registry struct {
	addrs []uint64
	max   uint64 // MaxPoints if 0
}

func New() *Registry {
	return &Registry{}
}

// Register appends addr and returns its index. Callers control uniqueness.
// Registering more than MaxPoints addresses panics.
func (r *Registry) Register(addr uint64) uint32 {
	limit := r.max
	if limit == 0 {
		limit = MaxPoints
	}
	if uint64(len(r.addrs)) >= limit {
		panic(fmt.Sprintf("too many breakpoints: %v", len(r.addrs)))
	}
	r.addrs = append(r.addrs, addr)
	return uint32(len(r.addrs) - 1)
}

func (r *Registry) AddressOf(idx uint32) (uint64, error) {
	if uint64(idx) >= uint64(len(r.addrs)) {
		return 0, fmt.Errorf("%w: %v >= %v", ErrOutOfRange, idx, len(r.addrs))
	}
	return r.addrs[idx], nil
}

func (r *Registry) Count() int {
	return len(r.addrs)
}

// Words returns the number of 32-bit words needed to hold a bit per point.
func (r *Registry) Words() int {
	return WordsFor(len(r.addrs))
}

func WordsFor(points int) int {
	return (points + 31) / 32
}
