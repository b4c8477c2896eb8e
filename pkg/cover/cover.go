// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

/* Package cover collects line coverage of an instrumented binary from the controller events. */
package cover

import (
	"sort"

	"github.com/bincov/bincov/pkg/instrument"
	"github.com/bincov/bincov/pkg/log"
)

// Registrar assigns report indices to addresses.
type Registrar interface {
	RegisterBreakpoint(addr uint64) uint32
}

type lineKey struct {
	file string
	line int
}

type file struct {
	filename string
	lines    map[int][]uint64
}

// Collector maps statement addresses to source lines and counts hits per address.
// It is driven by a single controller goroutine and is not safe for concurrent use.
type Collector struct {
	reg     Registrar
	binary  string
	files   map[string]*file
	addrs   map[uint64][]lineKey
	hits    map[uint64]int
	unknown int
	exited  bool
}

func NewCollector(reg Registrar) *Collector {
	return &Collector{
		reg:   reg,
		files: make(map[string]*file),
		addrs: make(map[uint64][]lineKey),
		hits:  make(map[uint64]int),
	}
}

func (c *Collector) OnFile(path string) {
	c.binary = path
}

// OnLine records the mapping and registers the address the first time it is seen.
func (c *Collector) OnLine(filename string, line int, addr uint64) {
	f := c.files[filename]
	if f == nil {
		f = &file{filename: filename, lines: make(map[int][]uint64)}
		c.files[filename] = f
	}
	key := lineKey{filename, line}
	keys, seen := c.addrs[addr]
	for _, k := range keys {
		if k == key {
			return
		}
	}
	c.addrs[addr] = append(keys, key)
	f.lines[line] = append(f.lines[line], addr)
	if !seen && c.reg != nil {
		c.reg.RegisterBreakpoint(addr)
	}
}

func (c *Collector) OnEvent(ev instrument.Event) {
	switch ev.Kind {
	case instrument.EventBreakpoint:
		if _, ok := c.addrs[ev.Addr]; !ok {
			c.unknown++
			log.Logf(2, "hit at unknown address 0x%x", ev.Addr)
			return
		}
		c.hits[ev.Addr]++
	case instrument.EventExit:
		c.exited = true
	}
}

func (c *Collector) Binary() string {
	return c.binary
}

// Exited reports whether the exit event was received.
func (c *Collector) Exited() bool {
	return c.exited
}

// Hits returns the number of hit events for addr.
func (c *Collector) Hits(addr uint64) int {
	return c.hits[addr]
}

// LineHits returns hit counts of the line summed over its addresses,
// and false if no statement maps to the line.
func (c *Collector) LineHits(filename string, line int) (int, bool) {
	f := c.files[filename]
	if f == nil {
		return 0, false
	}
	addrs, ok := f.lines[line]
	if !ok {
		return 0, false
	}
	hits := 0
	for _, addr := range addrs {
		hits += c.hits[addr]
	}
	return hits, true
}

// Files returns the sorted list of source files with statements.
func (c *Collector) Files() []string {
	var res []string
	for name := range c.files {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}
