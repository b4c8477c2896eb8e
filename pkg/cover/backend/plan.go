// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backend

import (
	"encoding/json"

	"github.com/bincov/bincov/pkg/osutil"
)

// Plan is the list of modifications requested for a binary. It is the input
// of the external rewriter.
type Plan struct {
	Binary     string      `json:"binary"`
	Libraries  []Object    `json:"libraries,omitempty"`
	Insertions []Insertion `json:"insertions,omitempty"`
}

type Insertion struct {
	Points   []Point `json:"points"`
	Function string  `json:"function"`
	Object   string  `json:"object,omitempty"`
	Args     []Arg   `json:"args,omitempty"`
	Order    Order   `json:"order"`
}

func PlanFile(output string) string {
	return output + ".plan.json"
}

func (p *Plan) Save(filename string) error {
	data, err := json.MarshalIndent(p, "", "\t")
	if err != nil {
		return err
	}
	return osutil.WriteFile(filename, data)
}
