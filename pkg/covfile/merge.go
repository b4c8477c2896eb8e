// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/bincov/bincov/pkg/log"
	"github.com/bincov/bincov/pkg/osutil"
)

// LockName is the advisory lock file that serializes offline merges into a directory.
const LockName = ".lock"

// ParseID returns the binary identity encoded in a canonical file name.
func ParseID(path string) (uint32, error) {
	name := filepath.Base(path)
	if len(name) != 8 {
		return 0, fmt.Errorf("%v is not a coverage file name", path)
	}
	id, err := strconv.ParseUint(name, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%v is not a coverage file name: %w", path, err)
	}
	return uint32(id), nil
}

// ExpandInputs replaces directories in paths with the coverage files they contain.
// Other entries of the directories (temp files, the lock) are ignored.
func ExpandInputs(paths []string) ([]string, error) {
	var res []string
	for _, path := range paths {
		st, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			res = append(res, path)
			continue
		}
		names, err := osutil.ListDir(path)
		if err != nil {
			return nil, err
		}
		sort.Strings(names)
		for _, name := range names {
			if _, err := ParseID(name); err == nil {
				res = append(res, filepath.Join(path, name))
			}
		}
	}
	return res, nil
}

type MergeResult struct {
	// Written holds identities of the updated canonical files, sorted.
	Written []uint32
	// Skipped is the number of inputs that did not match the other files of the same identity.
	Skipped int
}

// MergeDir ORs inputs into the canonical files in dir, grouping them by the
// identity encoded in their names. Existing canonical files take part in the
// merge unless they fail to decode, in which case they are replaced.
func MergeDir(ctx context.Context, dir string, inputs []string) (*MergeResult, error) {
	ids := make([]uint32, len(inputs))
	for i, input := range inputs {
		id, err := ParseID(input)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	conts := make([]*Container, len(inputs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())
	for i, input := range inputs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := Load(input)
			if err != nil {
				return err
			}
			conts[i] = c
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if err := osutil.MkdirAll(dir); err != nil {
		return nil, err
	}
	lock, err := osutil.LockFile(filepath.Join(dir, LockName))
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	groups := make(map[uint32][]int)
	for i, id := range ids {
		groups[id] = append(groups[id], i)
	}
	res := new(MergeResult)
	for id := range groups {
		res.Written = append(res.Written, id)
	}
	sort.Slice(res.Written, func(i, j int) bool { return res.Written[i] < res.Written[j] })
	for _, id := range res.Written {
		base, err := Load(Path(dir, id))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Errorf("replacing %v", err)
			}
			base = nil
		}
		for _, idx := range groups[id] {
			c := conts[idx]
			if base == nil {
				base = c
				continue
			}
			if c.Options != base.Options {
				log.Logf(0, "skipping %v: options %q, want %q", inputs[idx], c.Options, base.Options)
				res.Skipped++
				continue
			}
			if err := Merge(base, c); err != nil {
				log.Logf(0, "skipping %v: %v", inputs[idx], err)
				res.Skipped++
			}
		}
		if err := Save(dir, id, base); err != nil {
			return nil, err
		}
	}
	return res, nil
}
