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

package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/score"
)

func homogeneousPolicy() cluster.InstancePolicy {
	return cluster.InstancePolicy{
		MaxSpec:          cluster.Spec{MemSize: 16384, DiskSize: 1048576, Cpu: 16},
		EnabledTemplates: []cluster.DiskTemplate{cluster.TemplatePlain, cluster.TemplateDrbd8},
		VcpuRatio:        4,
		SpindleRatio:     8,
	}
}

func threeNodeSnapshot() *cluster.Snapshot {
	s := cluster.NewSnapshot()
	gidx := s.AddGroup(cluster.Group{Name: "default", Policy: cluster.PolicyPreferred, IPolicy: homogeneousPolicy()})
	for _, name := range []string{"nodeC", "nodeA", "nodeB"} {
		s.AddNode(cluster.Node{
			Name: name, GroupIdx: gidx,
			TotalMem: 8192, FreeMem: 8192,
			TotalDisk: 1048576, FreeDisk: 1048576,
			TotalCpu: 8,
			Flags:    cluster.NodeFlags{VMCapable: true},
		})
	}
	return s
}

func plainRequest() Request {
	return Request{
		Name:     "new1",
		Spec:     cluster.Spec{MemSize: 1024, DiskSize: 10240, Cpu: 1},
		Template: cluster.TemplatePlain,
	}
}

func TestAllocateNewPlainTieBreakByName(t *testing.T) {
	s := threeNodeSnapshot()
	res := AllocateNew(s, plainRequest(), []int{0}, score.DefaultWeights())
	require.True(t, res.Success)
	require.Equal(t, "nodeA", res.Snapshot.Nodes[res.PrimaryIdx].Name)
	require.Equal(t, cluster.NoSecondary, res.SecondaryIdx)
}

func TestAllocateNewDrbdPicksDistinctPrimarySecondary(t *testing.T) {
	s := threeNodeSnapshot()
	req := plainRequest()
	req.Template = cluster.TemplateDrbd8

	res := AllocateNew(s, req, []int{0}, score.DefaultWeights())
	require.True(t, res.Success)
	require.NotEqual(t, res.PrimaryIdx, res.SecondaryIdx)
	require.Equal(t, "nodeA", res.Snapshot.Nodes[res.PrimaryIdx].Name)
	require.Equal(t, "nodeB", res.Snapshot.Nodes[res.SecondaryIdx].Name)
}

func TestAllocateNewSkipsOfflineNode(t *testing.T) {
	s := threeNodeSnapshot()
	nidx, ok := s.NodeByName("nodeA")
	require.True(t, ok)
	s.Nodes[nidx].Flags.Offline = true

	res := AllocateNew(s, plainRequest(), []int{0}, score.DefaultWeights())
	require.True(t, res.Success)
	require.Equal(t, "nodeB", res.Snapshot.Nodes[res.PrimaryIdx].Name)
}

func TestAllocateNewPrefersPreferredTierOverLastResort(t *testing.T) {
	s := cluster.NewSnapshot()
	tight := homogeneousPolicy()
	tight.MaxSpec = cluster.Spec{MemSize: 512, DiskSize: 1048576, Cpu: 16}
	preferredIdx := s.AddGroup(cluster.Group{Name: "tight", Policy: cluster.PolicyPreferred, IPolicy: tight})
	lastResortIdx := s.AddGroup(cluster.Group{Name: "roomy", Policy: cluster.PolicyLastResort, IPolicy: homogeneousPolicy()})

	s.AddNode(cluster.Node{
		Name: "tightnode", GroupIdx: preferredIdx,
		TotalMem: 8192, FreeMem: 8192, TotalDisk: 1048576, FreeDisk: 1048576, TotalCpu: 8,
		Flags: cluster.NodeFlags{VMCapable: true},
	})
	s.AddNode(cluster.Node{
		Name: "roomynode", GroupIdx: lastResortIdx,
		TotalMem: 8192, FreeMem: 8192, TotalDisk: 1048576, FreeDisk: 1048576, TotalCpu: 8,
		Flags: cluster.NodeFlags{VMCapable: true},
	})

	res := AllocateNew(s, plainRequest(), []int{preferredIdx, lastResortIdx}, score.DefaultWeights())
	require.True(t, res.Success)
	require.Equal(t, lastResortIdx, res.GroupIdx)
	require.Equal(t, "roomynode", res.Snapshot.Nodes[res.PrimaryIdx].Name)
	require.Equal(t, 1, res.Stats.Count(cluster.FailPolicy))
}

func TestAllocateNewSkipsUnallocableGroup(t *testing.T) {
	s := cluster.NewSnapshot()
	gidx := s.AddGroup(cluster.Group{Name: "locked", Policy: cluster.PolicyUnallocable, IPolicy: homogeneousPolicy()})
	s.AddNode(cluster.Node{
		Name: "node1", GroupIdx: gidx,
		TotalMem: 8192, FreeMem: 8192, TotalDisk: 1048576, FreeDisk: 1048576, TotalCpu: 8,
		Flags: cluster.NodeFlags{VMCapable: true},
	})

	res := AllocateNew(s, plainRequest(), []int{gidx}, score.DefaultWeights())
	require.False(t, res.Success)
}

func TestAllocateNewFailsWhenNoCapacity(t *testing.T) {
	s := threeNodeSnapshot()
	req := plainRequest()
	req.Spec.MemSize = 16384 // within the policy max, twice any node's total

	res := AllocateNew(s, req, []int{0}, score.DefaultWeights())
	require.False(t, res.Success)
	require.Equal(t, 3, res.Stats.Count(cluster.FailMem))
}

func TestMultiEvacuatePrimaryFailsOverOntoSecondaryFirst(t *testing.T) {
	s := threeNodeSnapshot()
	na, _ := s.NodeByName("nodeA")
	nb, _ := s.NodeByName("nodeB")
	iidx := s.AddInstance(cluster.Instance{
		Name: "drbdinst", PrimaryIdx: na, SecondaryIdx: nb,
		Spec: cluster.Spec{MemSize: 1024, DiskSize: 10240, Cpu: 1}, DiskTempl: cluster.TemplateDrbd8,
		Admin: cluster.AdminUp,
	})
	s.Nodes[nb].PeerMem[iidx] = 1024

	moves, out, _ := MultiEvacuate(s, []int{na}, EvacuatePrimary, score.DefaultWeights())
	require.Len(t, moves, 1)
	require.Equal(t, cluster.MoveFailover, moves[0].Kind)
	require.Equal(t, nb, out.Instances[iidx].PrimaryIdx)
	require.Equal(t, na, out.Instances[iidx].SecondaryIdx)
}

func TestChangeGroupMovesInstanceToCandidateGroup(t *testing.T) {
	s := cluster.NewSnapshot()
	fromIdx := s.AddGroup(cluster.Group{Name: "from", Policy: cluster.PolicyPreferred, IPolicy: homogeneousPolicy()})
	toIdx := s.AddGroup(cluster.Group{Name: "to", Policy: cluster.PolicyPreferred, IPolicy: homogeneousPolicy()})

	fromNode := s.AddNode(cluster.Node{
		Name: "fromnode", GroupIdx: fromIdx,
		TotalMem: 8192, FreeMem: 8192, TotalDisk: 1048576, FreeDisk: 1048576, TotalCpu: 8,
		Flags: cluster.NodeFlags{VMCapable: true},
	})
	s.AddNode(cluster.Node{
		Name: "tonode", GroupIdx: toIdx,
		TotalMem: 8192, FreeMem: 8192, TotalDisk: 1048576, FreeDisk: 1048576, TotalCpu: 8,
		Flags: cluster.NodeFlags{VMCapable: true},
	})

	iidx := s.AddInstance(cluster.Instance{
		Name: "inst1", PrimaryIdx: fromNode, SecondaryIdx: cluster.NoSecondary,
		Spec: cluster.Spec{MemSize: 1024, DiskSize: 10240, Cpu: 1}, DiskTempl: cluster.TemplatePlain,
		Admin: cluster.AdminUp,
	})

	moves, out, _ := ChangeGroup(s, iidx, []int{fromIdx, toIdx}, score.DefaultWeights())
	require.Len(t, moves, 1)
	require.Equal(t, "tonode", out.Nodes[out.Instances[iidx].PrimaryIdx].Name)
	require.Equal(t, toIdx, out.Nodes[out.Instances[iidx].PrimaryIdx].GroupIdx)
}
