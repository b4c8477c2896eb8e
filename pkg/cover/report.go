// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"text/tabwriter"
)

type FileStats struct {
	Name         string
	CoveredLines int
	TotalLines   int
	CoveredPCs   int
	TotalPCs     int
}

var csvFilesHeader = []string{
	"Filename",
	"CoveredLines",
	"TotalLines",
	"CoveredPCs",
	"TotalPCs",
}

// Stats returns per-file statistics sorted by file name.
func (c *Collector) Stats() []FileStats {
	var res []FileStats
	for _, name := range c.Files() {
		f := c.files[name]
		st := FileStats{Name: name}
		for _, addrs := range f.lines {
			st.TotalLines++
			covered := false
			for _, addr := range addrs {
				st.TotalPCs++
				if c.hits[addr] != 0 {
					st.CoveredPCs++
					covered = true
				}
			}
			if covered {
				st.CoveredLines++
			}
		}
		res = append(res, st)
	}
	return res
}

// Total sums stats over all files.
func Total(stats []FileStats) FileStats {
	total := FileStats{Name: "total"}
	for _, st := range stats {
		total.CoveredLines += st.CoveredLines
		total.TotalLines += st.TotalLines
		total.CoveredPCs += st.CoveredPCs
		total.TotalPCs += st.TotalPCs
	}
	return total
}

// WriteSummary prints a per-file line coverage table.
func (c *Collector) WriteSummary(w io.Writer) error {
	stats := c.Stats()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "FILE\tLINES\tCOVERED\t%%\n")
	for _, st := range append(stats, Total(stats)) {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v%%\n", st.Name, st.TotalLines, st.CoveredLines,
			percent(st.CoveredLines, st.TotalLines))
	}
	if c.unknown != 0 {
		fmt.Fprintf(tw, "\nhits at unknown addresses: %v\n", c.unknown)
	}
	return tw.Flush()
}

// WriteCSV writes the per-file statistics in CSV format.
func (c *Collector) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(csvFilesHeader); err != nil {
		return err
	}
	var d [][]string
	for _, st := range c.Stats() {
		d = append(d, []string{
			st.Name,
			strconv.Itoa(st.CoveredLines),
			strconv.Itoa(st.TotalLines),
			strconv.Itoa(st.CoveredPCs),
			strconv.Itoa(st.TotalPCs),
		})
	}
	return writer.WriteAll(d)
}

// UncoveredLines returns sorted numbers of the lines of filename that were not hit.
func (c *Collector) UncoveredLines(filename string) []int {
	f := c.files[filename]
	if f == nil {
		return nil
	}
	var res []int
	for line, addrs := range f.lines {
		hit := false
		for _, addr := range addrs {
			hit = hit || c.hits[addr] != 0
		}
		if !hit {
			res = append(res, line)
		}
	}
	sort.Ints(res)
	return res
}

func percent[T int | int64](covered, total T) T {
	if total == 0 {
		return 0
	}
	f := math.Ceil(float64(covered) / float64(total) * 100)
	if f == 100 && covered < total {
		f = 99
	}
	return T(f)
}
