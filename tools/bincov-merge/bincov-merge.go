// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bincov-merge merges coverage files collected from several data directories
// (e.g. from different machines) into one data directory:
//
//	bincov-merge -dir /tmp/bincov-data host1/0123abcd host2/ ...
//
// Directory arguments stand for all coverage files in them.
// Files are matched by the binary identity in their names. Files of the same
// identity recorded with other options or for a different binary build are skipped.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/bincov/bincov/pkg/covfile"
	"github.com/bincov/bincov/pkg/log"
	"github.com/bincov/bincov/pkg/osutil"
	"github.com/bincov/bincov/pkg/tool"
)

func main() {
	flagDir := flag.String("dir", covfile.DefaultDir, "data directory to merge into")
	defer tool.Init()()
	if flag.NArg() == 0 {
		tool.Failf("usage: bincov-merge [-dir dir] coverage-file-or-dir...")
	}
	inputs, err := covfile.ExpandInputs(flag.Args())
	if err != nil {
		tool.Fail(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan struct{})
	osutil.HandleInterrupts(shutdown)
	go func() {
		<-shutdown
		cancel()
	}()
	res, err := covfile.MergeDir(ctx, *flagDir, inputs)
	if err != nil {
		tool.Fail(err)
	}
	for _, id := range res.Written {
		log.Logf(1, "updated %v", covfile.Path(*flagDir, id))
	}
	fmt.Printf("merged %v files into %v coverage files in %v, skipped %v\n",
		len(inputs)-res.Skipped, len(res.Written), *flagDir, res.Skipped)
}
