// Copyright 2022 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package testutil

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandIndices(t *testing.T) {
	rnd := rand.New(RandSource(t))
	idxs := RandIndices(rnd, IterCount(), 100)
	assert.Len(t, idxs, IterCount())
	for _, idx := range idxs {
		assert.Less(t, idx, uint32(100))
	}
	assert.Positive(t, IterCount())
}
