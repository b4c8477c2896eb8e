// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stats

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	a := assert.New(t)
	set := newSet(nil)
	a.Empty(set.Collect(All))

	v0 := set.Create("v0", "desc0")
	a.Equal(v0.Val(), 0)
	v0.Add(1)
	a.Equal(v0.Val(), 1)
	v0.Add(1)
	a.Equal(v0.Val(), 2)

	vv1 := 0
	v1 := set.Create("v1", "desc1", Console, func() int { return vv1 })
	a.Equal(v1.Val(), 0)
	vv1 = 11
	a.Equal(v1.Val(), 11)
	a.Panics(func() { v1.Add(1) })

	v2 := set.Create("v2", "desc2", Console, func(v int, period time.Duration) string {
		return fmt.Sprintf("v2 %v", v)
	})
	v2.Add(100)

	a.Panics(func() { set.Create("v3", "desc3", 42) })

	a.Equal([]UI{
		{Name: "v1", Desc: "desc1", Level: Console, Value: "11", V: 11},
		{Name: "v2", Desc: "desc2", Level: Console, Value: "v2 100", V: 100},
		{Name: "v0", Desc: "desc0", Level: All, Value: "2", V: 2},
	}, set.Collect(All))
	a.Equal("v1=11 v2=v2 100", set.Summary(Console))
}

func TestSetRate(t *testing.T) {
	set := newSet(nil)
	v := set.Create("rate", "desc", Rate{})
	v.Add(1)
	assert.Equal(t, "1 (60/min)", set.Collect(All)[0].Value)
	assert.Equal(t, "600 (600/sec)", formatRate(600, time.Second))
	assert.Equal(t, "20 (20/min)", formatRate(20, time.Minute))
}

func TestSetPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	set := newSet(reg)
	v := set.Create("hits", "number of hits", Prometheus("bincov_test_hits"))
	v.Add(3)
	// Duplicate registration must not panic.
	set.Create("hits2", "number of hits", Prometheus("bincov_test_hits"))
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "bincov_test_hits", families[0].GetName())
	assert.Equal(t, 3.0, families[0].GetMetric()[0].GetGauge().GetValue())
}

func TestSetConcurrent(t *testing.T) {
	set := newSet(nil)
	v := set.Create("v", "desc")
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				v.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, v.Val())
}
