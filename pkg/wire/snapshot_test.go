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

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
)

func buildDrbdSnapshot() *cluster.Snapshot {
	s := cluster.NewSnapshot()
	gIdx := s.AddGroup(cluster.Group{
		Name:   "default",
		UUID:   "group-uuid-1",
		Policy: cluster.PolicyPreferred,
		IPolicy: cluster.InstancePolicy{
			MinSpec:          cluster.Spec{MemSize: 128, DiskSize: 1024, Cpu: 1},
			MaxSpec:          cluster.Spec{MemSize: 65536, DiskSize: 1048576, Cpu: 16},
			StdSpec:          cluster.Spec{MemSize: 2048, DiskSize: 20480, Cpu: 2},
			EnabledTemplates: []cluster.DiskTemplate{cluster.TemplatePlain, cluster.TemplateDrbd8},
			VcpuRatio:        4,
			SpindleRatio:     8,
		},
	})

	n1 := s.AddNode(cluster.Node{
		Name: "node1.example.com", GroupIdx: gIdx, UUID: "node1-uuid",
		PrimaryIP: "192.0.2.1", SecondaryIP: "10.0.0.1",
		TotalMem: 16384, FreeMem: 8192, TotalDisk: 1048576, FreeDisk: 524288,
		TotalCpu: 8, UsedCpu: 2,
		NICLinks: []string{"br0"},
		Flags:    cluster.NodeFlags{Master: true, MasterCandidate: true, VMCapable: true},
		Tags:     []string{"role:master"},
	})
	n2 := s.AddNode(cluster.Node{
		Name: "node2.example.com", GroupIdx: gIdx, UUID: "node2-uuid",
		PrimaryIP: "192.0.2.2", SecondaryIP: "10.0.0.2",
		TotalMem: 16384, FreeMem: 8192, TotalDisk: 1048576, FreeDisk: 524288,
		TotalCpu: 8, UsedCpu: 1,
		NICLinks: []string{"br0"},
		Flags:    cluster.NodeFlags{MasterCandidate: true, VMCapable: true},
	})

	s.AddInstance(cluster.Instance{
		Name: "inst1.example.com", UUID: "inst1-uuid",
		PrimaryIdx: n1, SecondaryIdx: n2,
		Spec:      cluster.Spec{MemSize: 2048, DiskSize: 20480, DiskCount: 1, Cpu: 2},
		DiskTempl: cluster.TemplateDrbd8,
		Disks: []cluster.Disk{
			{Kind: cluster.TemplateDrbd8, Size: 20480, Mode: "rw", IVName: "disk/0",
				NodeA: n1, NodeB: n2, Port: 11000, MinorA: 0, MinorB: 0, Secret: "s3cr3t",
				Children: []int{1, 2}},
			{Kind: cluster.TemplatePlain, Size: 20480, Mode: "rw", IVName: "disk/0.data", VG: "vg0", LV: "lv.data"},
			{Kind: cluster.TemplatePlain, Size: 128, Mode: "rw", IVName: "disk/0.meta", VG: "vg0", LV: "lv.meta"},
		},
		Admin:       cluster.AdminUp,
		AutoBalance: true,
		Tags:        []string{"env:prod"},
		NICs:        []cluster.NIC{{IP: "198.51.100.10", MAC: "aa:bb:cc:dd:ee:ff", Link: "br0"}},
	})

	s.Version = 7
	return s
}

func TestEncodeDecodeSnapshotRoundTrip(t *testing.T) {
	orig := buildDrbdSnapshot()

	data, err := EncodeSnapshot(orig)
	require.NoError(t, err)

	got, err := DecodeSnapshot(data)
	require.NoError(t, err)

	require.Equal(t, orig.Version, got.Version)
	require.Len(t, got.Nodes, len(orig.Nodes))
	require.Len(t, got.Instances, len(orig.Instances))

	gIdx, ok := got.GroupByName("default")
	require.True(t, ok)
	require.Equal(t, cluster.PolicyPreferred, got.Groups[gIdx].Policy)
	require.Equal(t, orig.Groups[0].IPolicy.VcpuRatio, got.Groups[gIdx].IPolicy.VcpuRatio)

	n1Idx, ok := got.NodeByName("node1.example.com")
	require.True(t, ok)
	require.Equal(t, "192.0.2.1", got.Nodes[n1Idx].PrimaryIP)
	require.True(t, got.Nodes[n1Idx].Flags.Master)

	iIdx, ok := got.InstanceByName("inst1.example.com")
	require.True(t, ok)
	inst := got.Instances[iIdx]
	require.Equal(t, cluster.TemplateDrbd8, inst.DiskTempl)
	require.Len(t, inst.NICs, 1)
	require.Equal(t, "198.51.100.10", inst.NICs[0].IP)

	require.Len(t, inst.Disks, 3)
	root := inst.Disks[0]
	require.Equal(t, cluster.TemplateDrbd8, root.Kind)
	require.Equal(t, n1Idx, root.NodeA)
	require.Len(t, root.Children, 2)
	child0 := inst.Disks[root.Children[0]]
	require.Equal(t, "vg0", child0.VG)
	require.Equal(t, "lv.data", child0.LV)
}

func TestDecodeSnapshotUnknownGroupError(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{
		"version": 1,
		"nodegroups": {},
		"nodes": {"n1": {"uuid":"u","group":"missing","primary_ip":"1.2.3.4"}},
		"instances": {}
	}`))
	require.Error(t, err)
}
