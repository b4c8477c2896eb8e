// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiling(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	mem := filepath.Join(dir, "mem.prof")
	stop, err := installProfiling(cpu, mem)
	require.NoError(t, err)
	require.NoError(t, stop())
	assert.FileExists(t, cpu)
	assert.FileExists(t, mem)

	stop, err = installProfiling("", "")
	require.NoError(t, err)
	assert.NoError(t, stop())

	_, err = installProfiling(filepath.Join(dir, "missing", "cpu.prof"), "")
	assert.Error(t, err)
	stop, err = installProfiling("", filepath.Join(dir, "missing", "mem.prof"))
	require.NoError(t, err)
	assert.Error(t, stop())
}
