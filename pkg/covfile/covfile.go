// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package covfile implements the persisted coverage container shared by the
// injected recorder and the host-side controller.
//
// Layout (all integers little-endian):
//
//	u32 magic
//	u32 version
//	u32 n_entries           // number of 32-bit words that follow the header
//	u32 header_checksum     // reserved, written as 0
//	u32 filename_offset     // = HeaderSize + n_entries*4
//	u32 options_offset      // = filename_offset + len(filename) + 1
//	u32 data[n_entries]
//	char filename[]; '\0'
//	char options[]; '\0'
//
// Decoding is strict: any length other than the one implied by the header and
// the two strings is rejected, the caller is expected to discard such file.
package covfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"

	"github.com/bincov/bincov/pkg/osutil"
)

const (
	Magic      = 0x4d455247 // "MERG"
	Version    = 1
	HeaderSize = 6 * 4
	// DefaultDir is the coverage data directory shared by the recorder and the controller.
	DefaultDir = "/tmp/bincov-data"
)

var (
	ErrBadMagic           = errors.New("bad coverage file magic")
	ErrUnsupportedVersion = errors.New("unsupported coverage file version")
	ErrTruncated          = errors.New("truncated coverage file")
	ErrSizeMismatch       = errors.New("coverage file size mismatch")
	ErrIncompatible       = errors.New("incompatible coverage containers")
)

// Container is the decoded form of a coverage file.
type Container struct {
	Words    []uint32
	Filename string
	Options  string
}

// Encode serializes c. The result is a deterministic function of c.
func Encode(c *Container) []byte {
	n := len(c.Words)
	filenameOff := HeaderSize + n*4
	optionsOff := filenameOff + len(c.Filename) + 1
	data := make([]byte, optionsOff+len(c.Options)+1)
	le := binary.LittleEndian
	le.PutUint32(data[0:], Magic)
	le.PutUint32(data[4:], Version)
	le.PutUint32(data[8:], uint32(n))
	le.PutUint32(data[12:], 0)
	le.PutUint32(data[16:], uint32(filenameOff))
	le.PutUint32(data[20:], uint32(optionsOff))
	for i, w := range c.Words {
		le.PutUint32(data[HeaderSize+i*4:], w)
	}
	copy(data[filenameOff:], c.Filename)
	copy(data[optionsOff:], c.Options)
	return data
}

func Decode(data []byte) (*Container, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %v bytes, header needs %v", ErrTruncated, len(data), HeaderSize)
	}
	le := binary.LittleEndian
	if magic := le.Uint32(data[0:]); magic != Magic {
		return nil, fmt.Errorf("%w: 0x%x", ErrBadMagic, magic)
	}
	if ver := le.Uint32(data[4:]); ver != Version {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedVersion, ver)
	}
	n := uint64(le.Uint32(data[8:]))
	if n*4 > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %v entries in %v bytes", ErrTruncated, n, len(data))
	}
	filenameOff := HeaderSize + int(n)*4
	if filenameOff > len(data) {
		return nil, fmt.Errorf("%w: %v entries in %v bytes", ErrTruncated, n, len(data))
	}
	filename, rest, ok := cutString(data[filenameOff:])
	if !ok {
		return nil, fmt.Errorf("%w: unterminated filename", ErrSizeMismatch)
	}
	options, _, ok := cutString(rest)
	if !ok {
		return nil, fmt.Errorf("%w: unterminated options", ErrSizeMismatch)
	}
	optionsOff := filenameOff + len(filename) + 1
	if want := optionsOff + len(options) + 1; want != len(data) {
		return nil, fmt.Errorf("%w: have %v bytes, want %v", ErrSizeMismatch, len(data), want)
	}
	if off := le.Uint32(data[16:]); uint64(off) != uint64(filenameOff) {
		return nil, fmt.Errorf("%w: filename offset %v, want %v", ErrSizeMismatch, off, filenameOff)
	}
	if off := le.Uint32(data[20:]); uint64(off) != uint64(optionsOff) {
		return nil, fmt.Errorf("%w: options offset %v, want %v", ErrSizeMismatch, off, optionsOff)
	}
	c := &Container{
		Words:    make([]uint32, n),
		Filename: filename,
		Options:  options,
	}
	for i := range c.Words {
		c.Words[i] = le.Uint32(data[HeaderSize+i*4:])
	}
	return c, nil
}

func cutString(data []byte) (string, []byte, bool) {
	pos := bytes.IndexByte(data, 0)
	if pos == -1 {
		return "", nil, false
	}
	return string(data[:pos]), data[pos+1:], true
}

// Path returns the canonical coverage file for the binary identity id.
func Path(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%08x", id))
}

// Load reads and decodes the file. A missing file is reported as os.ErrNotExist.
func Load(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return c, nil
}

// Save writes c as the canonical file for id in dir.
// The data is written to a uniquely named temp file which is then renamed
// over the canonical file, so concurrent writers and crashes never leave
// a partially written canonical file behind.
func Save(dir string, id uint32, c *Container) error {
	if err := osutil.MkdirAll(dir); err != nil {
		return err
	}
	return osutil.WriteFileAtomic(Path(dir, id), Encode(c))
}

// Merge ORs src coverage into dst. Both must describe the same number of words.
func Merge(dst, src *Container) error {
	if len(dst.Words) != len(src.Words) {
		return fmt.Errorf("%w: %v vs %v words", ErrIncompatible, len(dst.Words), len(src.Words))
	}
	for i, w := range src.Words {
		dst.Words[i] |= w
	}
	return nil
}

// IsSet reports whether bit idx is set.
func (c *Container) IsSet(idx uint32) bool {
	w := int(idx / 32)
	return w < len(c.Words) && c.Words[w]&(1<<(idx%32)) != 0
}

// SetBits calls fn for every set bit in increasing index order.
func (c *Container) SetBits(fn func(idx uint32)) {
	for i, w := range c.Words {
		for w != 0 {
			bit := bits.TrailingZeros32(w)
			fn(uint32(i*32 + bit))
			w &= w - 1
		}
	}
}

// Count returns the number of set bits.
func (c *Container) Count() int {
	n := 0
	for _, w := range c.Words {
		n += bits.OnesCount32(w)
	}
	return n
}
