// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bincov/bincov/pkg/instrument"
	"github.com/bincov/bincov/pkg/registry"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

type testRegistrar struct {
	reg *registry.Registry
}

func (r *testRegistrar) RegisterBreakpoint(addr uint64) uint32 {
	return r.reg.Register(addr)
}

func testCollector() (*Collector, *registry.Registry) {
	reg := registry.New()
	c := NewCollector(&testRegistrar{reg})
	c.OnFile("/bin/prog")
	c.OnLine("a.c", 1, 0x10)
	c.OnLine("a.c", 2, 0x14)
	c.OnLine("a.c", 2, 0x18)
	c.OnLine("a.c", 2, 0x18) // duplicate statement
	c.OnLine("b.c", 5, 0x20)
	c.OnLine("inline.h", 7, 0x20)
	c.OnLine("b.c", 6, 0x24)
	return c, reg
}

func hit(c *Collector, addrs ...uint64) {
	for _, addr := range addrs {
		c.OnEvent(instrument.Event{Kind: instrument.EventBreakpoint, Addr: addr})
	}
}

func TestCollectorRegistration(t *testing.T) {
	c, reg := testCollector()
	assert.Equal(t, "/bin/prog", c.Binary())
	// One registration per distinct address.
	assert.Equal(t, 5, reg.Count())
	for idx, want := range []uint64{0x10, 0x14, 0x18, 0x20, 0x24} {
		addr, err := reg.AddressOf(uint32(idx))
		assert.NoError(t, err)
		assert.Equal(t, want, addr)
	}
	assert.Equal(t, []string{"a.c", "b.c", "inline.h"}, c.Files())
}

func TestCollectorHits(t *testing.T) {
	c, _ := testCollector()
	hit(c, 0x14, 0x20, 0x20, 0x99)
	assert.False(t, c.Exited())
	c.OnEvent(instrument.Event{Kind: instrument.EventExit})
	assert.True(t, c.Exited())

	assert.Equal(t, 2, c.Hits(0x20))
	assert.Equal(t, 0, c.Hits(0x99))
	hits, ok := c.LineHits("a.c", 2)
	assert.True(t, ok)
	assert.Equal(t, 1, hits)
	hits, ok = c.LineHits("inline.h", 7)
	assert.True(t, ok)
	assert.Equal(t, 2, hits)
	_, ok = c.LineHits("a.c", 3)
	assert.False(t, ok)
	_, ok = c.LineHits("c.c", 1)
	assert.False(t, ok)
	assert.Equal(t, []int{1}, c.UncoveredLines("a.c"))
	assert.Equal(t, []int{6}, c.UncoveredLines("b.c"))
	assert.Nil(t, c.UncoveredLines("c.c"))

	stats := c.Stats()
	want := []FileStats{
		{Name: "a.c", CoveredLines: 1, TotalLines: 2, CoveredPCs: 1, TotalPCs: 3},
		{Name: "b.c", CoveredLines: 1, TotalLines: 2, CoveredPCs: 1, TotalPCs: 2},
		{Name: "inline.h", CoveredLines: 1, TotalLines: 1, CoveredPCs: 1, TotalPCs: 1},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatal(diff)
	}
	assert.Equal(t, FileStats{Name: "total", CoveredLines: 3, TotalLines: 5, CoveredPCs: 3, TotalPCs: 6},
		Total(stats))
}

func TestWriteSummary(t *testing.T) {
	c, _ := testCollector()
	hit(c, 0x10, 0x14, 0x99)
	buf := new(bytes.Buffer)
	assert.NoError(t, c.WriteSummary(buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	fields := func(s string) []string { return strings.Fields(s) }
	assert.Equal(t, []string{"FILE", "LINES", "COVERED", "%"}, fields(lines[0]))
	assert.Equal(t, []string{"a.c", "2", "2", "100%"}, fields(lines[1]))
	assert.Equal(t, []string{"b.c", "2", "0", "0%"}, fields(lines[2]))
	assert.Equal(t, []string{"inline.h", "1", "0", "0%"}, fields(lines[3]))
	assert.Equal(t, []string{"total", "5", "2", "40%"}, fields(lines[4]))
	assert.Equal(t, "hits at unknown addresses: 1", lines[len(lines)-1])
}

func TestWriteCSV(t *testing.T) {
	c, _ := testCollector()
	hit(c, 0x24)
	buf := new(bytes.Buffer)
	assert.NoError(t, c.WriteCSV(buf))
	assert.Equal(t, "Filename,CoveredLines,TotalLines,CoveredPCs,TotalPCs\n"+
		"a.c,0,2,0,3\n"+
		"b.c,1,2,1,2\n"+
		"inline.h,0,1,0,1\n", buf.String())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(0, 0))
	assert.Equal(t, 99, percent(999, 1000))
	assert.Equal(t, 100, percent(3, 3))
	assert.Equal(t, 34, percent(1, 3))
}
