// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package registry

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/bincov/bincov/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := New()
	assert.Equal(t, uint32(0), r.Register(0x1000))
	assert.Equal(t, uint32(1), r.Register(0x1010))
	assert.Equal(t, uint32(2), r.Register(0x1020))
	assert.Equal(t, 3, r.Count())

	addr, err := r.AddressOf(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1010), addr)

	_, err = r.AddressOf(3)
	assert.True(t, errors.Is(err, ErrOutOfRange), "got %v", err)
}

func TestRegistryNoDedup(t *testing.T) {
	r := New()
	assert.Equal(t, uint32(0), r.Register(0x1000))
	assert.Equal(t, uint32(1), r.Register(0x1000))
	for i := uint32(0); i < 2; i++ {
		addr, err := r.AddressOf(i)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x1000), addr)
	}
}

func TestRegistryFull(t *testing.T) {
	r := &Registry{max: 2}
	r.Register(0x10)
	r.Register(0x20)
	assert.Panics(t, func() { r.Register(0x30) })
	assert.Equal(t, 2, r.Count())
}

func TestWords(t *testing.T) {
	for _, test := range []struct{ points, words int }{
		{0, 0}, {1, 1}, {31, 1}, {32, 1}, {33, 2}, {64, 2}, {65, 3},
	} {
		assert.Equal(t, test.words, WordsFor(test.points), "points=%v", test.points)
	}
	r := New()
	for i := 0; i < 33; i++ {
		r.Register(uint64(i))
	}
	assert.Equal(t, 2, r.Words())
}

func TestRegistryRandom(t *testing.T) {
	rnd := rand.New(testutil.RandSource(t))
	r := New()
	var addrs []uint64
	for i := 0; i < testutil.IterCount(); i++ {
		addr := rnd.Uint64()
		addrs = append(addrs, addr)
		assert.Equal(t, uint32(i), r.Register(addr))
	}
	for i, want := range addrs {
		addr, err := r.AddressOf(uint32(i))
		require.NoError(t, err)
		assert.Equal(t, want, addr)
	}
	assert.Equal(t, (len(addrs)+31)/32, r.Words())
}
