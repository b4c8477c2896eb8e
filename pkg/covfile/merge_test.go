// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id, err := ParseID("/tmp/data/0000beef")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xbeef), id)
	id, err = ParseID(Path("dir", 0xdeadbeef))
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), id)
	for _, name := range []string{"beef", "0000beef.tmp", "0000bexf", ".lock"} {
		_, err := ParseID(name)
		assert.Error(t, err, name)
	}
}

func TestExpandInputs(t *testing.T) {
	dir, other := t.TempDir(), t.TempDir()
	for _, id := range []uint32{0xb, 0xa} {
		require.NoError(t, Save(dir, id, &Container{Words: []uint32{1}}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockName), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0000000a.1234.tmp"), nil, 0644))
	require.NoError(t, Save(other, 0xc, &Container{Words: []uint32{1}}))
	inputs, err := ExpandInputs([]string{dir, Path(other, 0xc)})
	require.NoError(t, err)
	assert.Equal(t, []string{Path(dir, 0xa), Path(dir, 0xb), Path(other, 0xc)}, inputs)

	_, err = ExpandInputs([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestMergeDir(t *testing.T) {
	in1, in2, out := t.TempDir(), t.TempDir(), filepath.Join(t.TempDir(), "out")
	save := func(dir string, id uint32, opts string, words ...uint32) string {
		require.NoError(t, Save(dir, id, &Container{Words: words, Filename: "prog", Options: opts}))
		return Path(dir, id)
	}
	save(out, 1, "", 0x100, 0)
	inputs := []string{
		save(in1, 1, "", 0x1, 0x0),
		save(in2, 1, "", 0x2, 0x80000000),
		save(in1, 2, "x", 0x7),
		save(in2, 2, "x", 0x1, 0x1), // different size
		save(in2, 3, "y", 0x10),
	}
	// A different options string for the same identity.
	inputs = append(inputs, save(t.TempDir(), 3, "z", 0x20))

	res, err := MergeDir(context.Background(), out, inputs)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, res.Written)
	assert.Equal(t, 2, res.Skipped)

	for id, want := range map[uint32][]uint32{
		1: {0x103, 0x80000000},
		2: {0x7},
		3: {0x10},
	} {
		c, err := Load(Path(out, id))
		require.NoError(t, err)
		assert.Equal(t, want, c.Words, "id %v", id)
	}
	assert.FileExists(t, filepath.Join(out, LockName))
}

func TestMergeDirCorruptTarget(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(Path(out, 5), []byte("garbage"), 0644))
	require.NoError(t, Save(in, 5, &Container{Words: []uint32{0x3}}))
	_, err := MergeDir(context.Background(), out, []string{Path(in, 5)})
	require.NoError(t, err)
	c, err := Load(Path(out, 5))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x3}, c.Words)
}

func TestMergeDirErrors(t *testing.T) {
	out := t.TempDir()
	_, err := MergeDir(context.Background(), out, []string{"not-a-coverage-file"})
	assert.Error(t, err)
	_, err = MergeDir(context.Background(), out, []string{Path(t.TempDir(), 7)})
	assert.Error(t, err)
	bad := Path(t.TempDir(), 8)
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0644))
	_, err = MergeDir(context.Background(), out, []string{bad})
	assert.Error(t, err)
	assert.NoFileExists(t, Path(out, 8))
}
