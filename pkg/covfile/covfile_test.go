// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/bincov/bincov/pkg/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(0))
	for _, n := range []int{0, 1, 2, 3, 17, 1000} {
		for _, strs := range [][2]string{
			{"", ""},
			{"/usr/bin/true", ""},
			{"", "--include-pattern=foo"},
			{"./a.out", "--exclude-path=/usr"},
		} {
			t.Run(fmt.Sprintf("%v-%q-%q", n, strs[0], strs[1]), func(t *testing.T) {
				c := &Container{
					Words:    make([]uint32, n),
					Filename: strs[0],
					Options:  strs[1],
				}
				for i := range c.Words {
					c.Words[i] = rnd.Uint32()
				}
				data := Encode(c)
				assert.Len(t, data, HeaderSize+n*4+len(strs[0])+1+len(strs[1])+1)
				c1, err := Decode(data)
				require.NoError(t, err)
				if diff := cmp.Diff(c, c1); diff != "" {
					t.Fatal(diff)
				}
				assert.Equal(t, data, Encode(c1))
			})
		}
	}
}

func TestHeaderLayout(t *testing.T) {
	c := &Container{
		Words:    []uint32{0x80000001, 0x80000001},
		Filename: "prog",
		Options:  "opts",
	}
	data := Encode(c)
	le := binary.LittleEndian
	assert.Equal(t, uint32(0x4d455247), le.Uint32(data[0:]))
	assert.Equal(t, uint32(1), le.Uint32(data[4:]))
	assert.Equal(t, uint32(2), le.Uint32(data[8:]))
	assert.Equal(t, uint32(0), le.Uint32(data[12:]))
	assert.Equal(t, uint32(2*4+HeaderSize), le.Uint32(data[16:]))
	assert.Equal(t, uint32(2*4+HeaderSize+len("prog")+1), le.Uint32(data[20:]))
	assert.Equal(t, uint32(0x80000001), le.Uint32(data[24:]))
	assert.Equal(t, uint32(0x80000001), le.Uint32(data[28:]))
	assert.Equal(t, "prog\x00opts\x00", string(data[32:]))
}

func TestDecodeErrors(t *testing.T) {
	valid := Encode(&Container{Words: []uint32{1, 2}, Filename: "f", Options: "o"})
	patch := func(off int, v uint32) []byte {
		data := append([]byte{}, valid...)
		binary.LittleEndian.PutUint32(data[off:], v)
		return data
	}
	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"empty", nil, ErrTruncated},
		{"short-header", valid[:HeaderSize-1], ErrTruncated},
		{"magic", patch(0, 0x12345678), ErrBadMagic},
		{"version", patch(4, 2), ErrUnsupportedVersion},
		{"too-many-entries", patch(8, 1000), ErrTruncated},
		{"header-plus-entries", patch(8, 8), ErrTruncated},
		{"drop-last-byte", valid[:len(valid)-1], ErrSizeMismatch},
		{"drop-strings", valid[:HeaderSize+8], ErrSizeMismatch},
		{"padded", append(append([]byte{}, valid...), 0), ErrSizeMismatch},
		{"padded-junk", append(append([]byte{}, valid...), 'x'), ErrSizeMismatch},
		{"fewer-entries", patch(8, 1), ErrSizeMismatch},
		{"filename-offset", patch(16, 0), ErrSizeMismatch},
		{"options-offset", patch(20, 0), ErrSizeMismatch},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Decode(test.data)
			assert.True(t, errors.Is(err, test.err), "want %v, got %v", test.err, err)
		})
	}
}

func TestDecodeMagicBeforeSize(t *testing.T) {
	data := make([]byte, 7*HeaderSize)
	_, err := Decode(data)
	assert.True(t, errors.Is(err, ErrBadMagic), "got %v", err)
}

func TestMerge(t *testing.T) {
	a := &Container{Words: []uint32{0x1, 0x0, 0xf0}}
	b := &Container{Words: []uint32{0x2, 0x80000000, 0x0f}}
	require.NoError(t, Merge(a, b))
	assert.Equal(t, []uint32{0x3, 0x80000000, 0xff}, a.Words)
	assert.Equal(t, []uint32{0x2, 0x80000000, 0x0f}, b.Words)

	err := Merge(a, &Container{Words: []uint32{1}})
	assert.True(t, errors.Is(err, ErrIncompatible), "got %v", err)
}

func TestSetBits(t *testing.T) {
	c := &Container{Words: []uint32{0x80000001, 0x80000001, 0, 0x4}}
	var got []uint32
	c.SetBits(func(idx uint32) { got = append(got, idx) })
	assert.Equal(t, []uint32{0, 31, 32, 63, 98}, got)
	assert.Equal(t, 5, c.Count())
	assert.True(t, c.IsSet(98))
	assert.False(t, c.IsSet(97))
	assert.False(t, c.IsSet(1000))
}

func TestSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	assert.Equal(t, filepath.Join(dir, "0000beef"), Path(dir, 0xbeef))
	_, err := Load(Path(dir, 0xbeef))
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)

	c := &Container{Words: []uint32{7, 8}, Filename: "bin", Options: "x"}
	require.NoError(t, Save(dir, 0xbeef, c))
	c1, err := Load(Path(dir, 0xbeef))
	require.NoError(t, err)
	assert.Equal(t, c, c1)

	require.NoError(t, os.WriteFile(Path(dir, 1), []byte("garbage that is long enough for a header"), 0644))
	_, err = Load(Path(dir, 1))
	assert.True(t, errors.Is(err, ErrBadMagic), "got %v", err)
}

func FuzzDecode(f *testing.F) {
	f.Add(Encode(&Container{}))
	f.Add(Encode(&Container{Words: []uint32{1, 2, 3}, Filename: "f", Options: "o"}))
	f.Fuzz(func(t *testing.T, data []byte) {
		c, err := Decode(data)
		if err != nil {
			return
		}
		// The header checksum is reserved and not preserved.
		want := append([]byte{}, data...)
		binary.LittleEndian.PutUint32(want[12:], 0)
		if diff := cmp.Diff(want, Encode(c)); diff != "" {
			t.Fatalf("decoded container does not re-encode to the input:\n%v", diff)
		}
	})
}

func TestRandomMerge(t *testing.T) {
	rnd := rand.New(testutil.RandSource(t))
	for i := 0; i < testutil.IterCount()/10; i++ {
		words := rnd.Intn(8) + 1
		limit := uint32(words * 32)
		a := &Container{Words: make([]uint32, words)}
		b := &Container{Words: make([]uint32, words)}
		want := make(map[uint32]bool)
		for _, idx := range testutil.RandIndices(rnd, rnd.Intn(50), limit) {
			a.Words[idx/32] |= 1 << (idx % 32)
			want[idx] = true
		}
		for _, idx := range testutil.RandIndices(rnd, rnd.Intn(50), limit) {
			b.Words[idx/32] |= 1 << (idx % 32)
			want[idx] = true
		}
		ab := &Container{Words: append([]uint32{}, a.Words...)}
		require.NoError(t, Merge(ab, b))
		ba := &Container{Words: append([]uint32{}, b.Words...)}
		require.NoError(t, Merge(ba, a))
		assert.Equal(t, ab.Words, ba.Words)
		got := make(map[uint32]bool)
		ab.SetBits(func(idx uint32) {
			assert.True(t, ab.IsSet(idx))
			got[idx] = true
		})
		assert.Equal(t, want, got)
		assert.Equal(t, len(want), ab.Count())
	}
}
