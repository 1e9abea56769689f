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

// Package cluster holds the resource model (C1): nodes, instances,
// groups and policies, their invariants, and the pure move primitives
// planners apply to produce new snapshots.
package cluster

import (
	"github.com/google/uuid"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/clog"
)

var log = clog.Get("cluster")

// Snapshot is an immutable cluster state: the unit of atomic replacement
// for the confd reloader, and the unit of copy-on-write cloning for
// planners. Index allocation (the order groups/nodes/instances were
// appended) is monotone within one build and is never renumbered.
type Snapshot struct {
	Version int

	Groups    []Group
	Nodes     []Node
	Instances []Instance

	groupByName map[string]int
	nodeByName  map[string]int
	instByName  map[string]int
}

// NewSnapshot builds an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		groupByName: map[string]int{},
		nodeByName:  map[string]int{},
		instByName:  map[string]int{},
	}
}

// AddGroup appends g, assigns it the next group index, and returns that index.
// A group added without a UUID (e.g. one freshly synthesized rather than
// decoded off the wire) is assigned one.
func (s *Snapshot) AddGroup(g Group) int {
	if g.UUID == "" {
		g.UUID = uuid.NewString()
	}
	idx := len(s.Groups)
	s.Groups = append(s.Groups, g)
	s.groupByName[g.Name] = idx
	return idx
}

// AddNode appends n, assigns it the next node index, and returns that index.
// A node added without a UUID is assigned one.
func (s *Snapshot) AddNode(n Node) int {
	if n.UUID == "" {
		n.UUID = uuid.NewString()
	}
	idx := len(s.Nodes)
	if n.PeerMem == nil {
		n.PeerMem = map[int]int64{}
	}
	s.Nodes = append(s.Nodes, n)
	s.nodeByName[n.Name] = idx
	if n.GroupIdx >= 0 && n.GroupIdx < len(s.Groups) {
		s.Groups[n.GroupIdx].NodeIdxs = append(s.Groups[n.GroupIdx].NodeIdxs, idx)
	}
	return idx
}

// AddInstance appends i, assigns it the next instance index, and returns
// that index. An instance added without a UUID — notably one the
// allocator just placed — is assigned one.
func (s *Snapshot) AddInstance(i Instance) int {
	if i.UUID == "" {
		i.UUID = uuid.NewString()
	}
	idx := len(s.Instances)
	s.Instances = append(s.Instances, i)
	s.instByName[i.Name] = idx
	s.reindexInstancePlacement(idx)
	return idx
}

func (s *Snapshot) reindexInstancePlacement(idx int) {
	inst := &s.Instances[idx]
	if inst.PrimaryIdx >= 0 && inst.PrimaryIdx < len(s.Nodes) {
		s.Nodes[inst.PrimaryIdx].PrimaryIdxs = append(s.Nodes[inst.PrimaryIdx].PrimaryIdxs, idx)
	}
	if inst.Replicated() && inst.SecondaryIdx >= 0 && inst.SecondaryIdx < len(s.Nodes) {
		s.Nodes[inst.SecondaryIdx].SecondaryIdxs = append(s.Nodes[inst.SecondaryIdx].SecondaryIdxs, idx)
	}
}

// GroupByName resolves a group name to its index.
func (s *Snapshot) GroupByName(name string) (int, bool) {
	idx, ok := s.groupByName[name]
	return idx, ok
}

// NodeByName resolves a node name to its index.
func (s *Snapshot) NodeByName(name string) (int, bool) {
	idx, ok := s.nodeByName[name]
	return idx, ok
}

// InstanceByName resolves an instance name to its index.
func (s *Snapshot) InstanceByName(name string) (int, bool) {
	idx, ok := s.instByName[name]
	return idx, ok
}

// Clone returns a deep copy safe for a planner to mutate in place via the
// move primitives below; the receiver is left untouched so the caller can
// still compute a before/after delta.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Version:     s.Version,
		Groups:      make([]Group, len(s.Groups)),
		Nodes:       make([]Node, len(s.Nodes)),
		Instances:   append([]Instance(nil), s.Instances...),
		groupByName: make(map[string]int, len(s.groupByName)),
		nodeByName:  make(map[string]int, len(s.nodeByName)),
		instByName:  make(map[string]int, len(s.instByName)),
	}
	for i, g := range s.Groups {
		ng := g
		ng.NodeIdxs = append([]int(nil), g.NodeIdxs...)
		ng.IPolicy.EnabledTemplates = append([]DiskTemplate(nil), g.IPolicy.EnabledTemplates...)
		out.Groups[i] = ng
	}
	for i, n := range s.Nodes {
		nn := n
		nn.PeerMem = make(map[int]int64, len(n.PeerMem))
		for k, v := range n.PeerMem {
			nn.PeerMem[k] = v
		}
		nn.Tags = append([]string(nil), n.Tags...)
		nn.NICLinks = append([]string(nil), n.NICLinks...)
		nn.PrimaryIdxs = append([]int(nil), n.PrimaryIdxs...)
		nn.SecondaryIdxs = append([]int(nil), n.SecondaryIdxs...)
		out.Nodes[i] = nn
	}
	for k, v := range s.groupByName {
		out.groupByName[k] = v
	}
	for k, v := range s.nodeByName {
		out.nodeByName[k] = v
	}
	for k, v := range s.instByName {
		out.instByName[k] = v
	}
	return out
}

// GroupNodes returns the node indices belonging to g.
func (s *Snapshot) GroupNodes(groupIdx int) []int {
	if groupIdx < 0 || groupIdx >= len(s.Groups) {
		return nil
	}
	return s.Groups[groupIdx].NodeIdxs
}
