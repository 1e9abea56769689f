// Copyright 2024 The Ganeti Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/alloc"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/score"
)

func singleNodeSnapshot(totalMemMiB int64) *cluster.Snapshot {
	s := cluster.NewSnapshot()
	gidx := s.AddGroup(cluster.Group{
		Name:   "default",
		Policy: cluster.PolicyPreferred,
		IPolicy: cluster.InstancePolicy{
			MaxSpec:          cluster.Spec{MemSize: 16384, DiskSize: 1048576, Cpu: 16},
			EnabledTemplates: []cluster.DiskTemplate{cluster.TemplatePlain},
			VcpuRatio:        4,
			SpindleRatio:     8,
		},
	})
	s.AddNode(cluster.Node{
		Name: "node1", GroupIdx: gidx,
		TotalMem: totalMemMiB, FreeMem: totalMemMiB,
		TotalDisk: 1048576, FreeDisk: 1048576,
		TotalCpu: 16,
		Flags:    cluster.NodeFlags{VMCapable: true},
	})
	return s
}

func TestStandardFillCountMatchesMemoryCapacity(t *testing.T) {
	s := singleNodeSnapshot(4096)
	req := alloc.Request{
		Spec:     cluster.Spec{MemSize: 1024, DiskSize: 1024, Cpu: 1},
		Template: cluster.TemplatePlain,
	}

	res := StandardFill(s, req, []int{0}, score.DefaultWeights())
	require.Equal(t, 4, res.Count)
	require.Equal(t, 1, res.Stats.Count(cluster.FailMem))
}

func TestTieredFillDescendsOnExhaustion(t *testing.T) {
	s := singleNodeSnapshot(3072)
	req := alloc.Request{Template: cluster.TemplatePlain}
	steps := Steps{
		MemStep:  1024,
		DiskStep: 512,
		CpuStep:  1,
		Min:      cluster.Spec{MemSize: 512, DiskSize: 512, Cpu: 0},
	}

	res := TieredFill(s, req, cluster.Spec{MemSize: 2048, DiskSize: 1024, Cpu: 1}, steps, []int{0}, score.DefaultWeights())
	require.NotEmpty(t, res.Tiers)
	require.Equal(t, int64(2048), res.Tiers[0].Spec.MemSize)
	require.Equal(t, 1, res.Tiers[0].Count)

	var total int
	for _, tier := range res.Tiers {
		total += tier.Count
	}
	require.Greater(t, total, 0)
}
