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

package reboot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
)

// buildChain adds n nodes and n-1 replicated instances forming a simple
// path 0-1-2-...-(n-1) in the conflict graph: two colors suffice.
func buildChain(n int) (*cluster.Snapshot, int) {
	s := cluster.NewSnapshot()
	gIdx := s.AddGroup(cluster.Group{Name: "default"})
	nodeIdxs := make([]int, n)
	for i := 0; i < n; i++ {
		nodeIdxs[i] = s.AddNode(cluster.Node{
			Name: fmt.Sprintf("node%d", i), GroupIdx: gIdx,
			Flags: cluster.NodeFlags{VMCapable: true},
		})
	}
	for i := 0; i < n-1; i++ {
		s.AddInstance(cluster.Instance{
			Name:         fmt.Sprintf("inst%d", i),
			PrimaryIdx:   nodeIdxs[i],
			SecondaryIdx: nodeIdxs[i+1],
			DiskTempl:    cluster.TemplateDrbd8,
			Admin:        cluster.AdminUp,
		})
	}
	return s, gIdx
}

// buildClique adds n nodes where every pair shares a replicated
// instance: a clique needs exactly n colors.
func buildClique(n int) (*cluster.Snapshot, int) {
	s := cluster.NewSnapshot()
	gIdx := s.AddGroup(cluster.Group{Name: "default"})
	nodeIdxs := make([]int, n)
	for i := 0; i < n; i++ {
		nodeIdxs[i] = s.AddNode(cluster.Node{
			Name: fmt.Sprintf("node%d", i), GroupIdx: gIdx,
			Flags: cluster.NodeFlags{VMCapable: true},
		})
	}
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s.AddInstance(cluster.Instance{
				Name:         fmt.Sprintf("inst%d", k),
				PrimaryIdx:   nodeIdxs[i],
				SecondaryIdx: nodeIdxs[j],
				DiskTempl:    cluster.TemplateDrbd8,
				Admin:        cluster.AdminUp,
			})
			k++
		}
	}
	return s, gIdx
}

func allNames(waves [][]string) []string {
	var out []string
	for _, w := range waves {
		out = append(out, w...)
	}
	return out
}

func TestColorIsProperOnChain(t *testing.T) {
	s, gIdx := buildChain(6)
	g := BuildGraph(s, gIdx)
	waves := Color(g)

	require.LessOrEqual(t, len(waves), 2)
	assertProperColoring(t, g, waves)
	require.ElementsMatch(t, g.names, allNames(waves))
}

func TestColorCliqueNeedsNColors(t *testing.T) {
	s, gIdx := buildClique(5)
	g := BuildGraph(s, gIdx)
	waves := Color(g)

	require.Len(t, waves, 5)
	for _, wave := range waves {
		require.Len(t, wave, 1)
	}
	assertProperColoring(t, g, waves)
}

func TestColorEmptyGraph(t *testing.T) {
	s := cluster.NewSnapshot()
	gIdx := s.AddGroup(cluster.Group{Name: "default"})
	g := BuildGraph(s, gIdx)
	require.Nil(t, Color(g))
}

// assertProperColoring checks no two nodes in the same wave conflict.
func assertProperColoring(t *testing.T, g *Graph, waves [][]string) {
	t.Helper()
	pos := make(map[string]int, len(g.names))
	for i, name := range g.names {
		pos[name] = i
	}
	for _, wave := range waves {
		for i := range wave {
			for j := i + 1; j < len(wave); j++ {
				vi, vj := pos[wave[i]], pos[wave[j]]
				require.False(t, g.adj[vi][vj], "wave contains conflicting nodes %s and %s", wave[i], wave[j])
			}
		}
	}
}
