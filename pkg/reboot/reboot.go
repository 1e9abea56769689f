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

// Package reboot partitions nodes into rolling-reboot waves (C6): nodes
// sharing a replicated instance get an edge in a conflict graph, and
// graph coloring assigns each node a wave such that no two adjacent
// nodes share a wave.
//
// Three coloring heuristics run concurrently, mirroring the teacher's
// pkg/cpuallocator pattern of evaluating independent candidate
// strategies and keeping the best by a fixed tie-break order, here
// applied to graph-coloring heuristics instead of CPU topology
// candidates.
package reboot

import (
	"sort"
	"sync"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/clog"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
)

var log = clog.Get("reboot")

// Graph is an adjacency-set representation of the node-conflict graph.
type Graph struct {
	n     int
	names []string
	adj   []map[int]bool
}

// BuildGraph derives the conflict graph for the nodes of groupIdx: an
// edge connects any two nodes that are both primary/secondary for the
// same replicated instance.
func BuildGraph(s *cluster.Snapshot, groupIdx int) *Graph {
	nodeIdxs := s.Groups[groupIdx].NodeIdxs
	pos := make(map[int]int, len(nodeIdxs))
	g := &Graph{n: len(nodeIdxs), names: make([]string, len(nodeIdxs)), adj: make([]map[int]bool, len(nodeIdxs))}
	for i, nidx := range nodeIdxs {
		pos[nidx] = i
		g.names[i] = s.Nodes[nidx].Name
		g.adj[i] = map[int]bool{}
	}

	for i := range s.Instances {
		inst := &s.Instances[i]
		if !inst.Replicated() {
			continue
		}
		pi, ok1 := pos[inst.PrimaryIdx]
		si, ok2 := pos[inst.SecondaryIdx]
		if !ok1 || !ok2 {
			continue
		}
		g.adj[pi][si] = true
		g.adj[si][pi] = true
	}

	return g
}

func (g *Graph) degree(v int) int { return len(g.adj[v]) }

// heuristicName labels which coloring strategy produced a Result, used
// to break ties between equally-good colorings in the fixed order LF,
// DSATUR, DColor.
type heuristicName int

const (
	heurLF heuristicName = iota
	heurDSATUR
	heurDColor
)

func (h heuristicName) String() string {
	switch h {
	case heurLF:
		return "LF"
	case heurDSATUR:
		return "DSATUR"
	case heurDColor:
		return "DColor"
	default:
		return "unknown"
	}
}

type coloringResult struct {
	heuristic heuristicName
	colors    []int // colors[v] = color assigned to vertex v
	numColors int
}

// Color runs LF, DSATUR, and DColor concurrently and returns the
// partition produced by whichever used the fewest colors, breaking ties
// in the order LF, DSATUR, DColor.
func Color(g *Graph) [][]string {
	if g.n == 0 {
		return nil
	}

	var wg sync.WaitGroup
	results := make([]coloringResult, 3)
	wg.Add(3)
	go func() { defer wg.Done(); results[heurLF] = colorLF(g) }()
	go func() { defer wg.Done(); results[heurDSATUR] = colorDSATUR(g) }()
	go func() { defer wg.Done(); results[heurDColor] = colorDColor(g) }()
	wg.Wait()

	best := results[0]
	for _, r := range results[1:] {
		if r.numColors < best.numColors {
			best = r
		}
	}

	log.Debug("reboot coloring: LF=%d DSATUR=%d DColor=%d colors, chose %s", results[heurLF].numColors, results[heurDSATUR].numColors, results[heurDColor].numColors, best.heuristic)

	return partition(g, best)
}

func partition(g *Graph, r coloringResult) [][]string {
	waves := make([][]string, r.numColors)
	for v, c := range r.colors {
		waves[c] = append(waves[c], g.names[v])
	}
	for _, wave := range waves {
		sort.Strings(wave)
	}
	return waves
}

// colorLF orders vertices by descending degree (ties by name, for
// determinism) and greedily assigns each the lowest color unused by its
// already-colored neighbors.
func colorLF(g *Graph) coloringResult {
	order := make([]int, g.n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		di, dj := g.degree(order[i]), g.degree(order[j])
		if di != dj {
			return di > dj
		}
		return g.names[order[i]] < g.names[order[j]]
	})

	colors := make([]int, g.n)
	for i := range colors {
		colors[i] = -1
	}
	maxColor := 0
	for _, v := range order {
		c := lowestFreeColor(g, colors, v)
		colors[v] = c
		if c+1 > maxColor {
			maxColor = c + 1
		}
	}
	return coloringResult{heuristic: heurLF, colors: colors, numColors: maxColor}
}

// colorDSATUR greedily colors the vertex with the highest saturation
// (distinct colors among already-colored neighbors), breaking ties by
// degree then name.
func colorDSATUR(g *Graph) coloringResult {
	colors := make([]int, g.n)
	colored := make([]bool, g.n)
	for i := range colors {
		colors[i] = -1
	}
	maxColor := 0

	for coloredCount := 0; coloredCount < g.n; coloredCount++ {
		v := pickDSATUR(g, colors, colored)
		c := lowestFreeColor(g, colors, v)
		colors[v] = c
		colored[v] = true
		if c+1 > maxColor {
			maxColor = c + 1
		}
	}
	return coloringResult{heuristic: heurDSATUR, colors: colors, numColors: maxColor}
}

func pickDSATUR(g *Graph, colors []int, colored []bool) int {
	best, bestSat, bestDeg := -1, -1, -1
	for v := 0; v < g.n; v++ {
		if colored[v] {
			continue
		}
		sat := saturation(g, colors, v)
		deg := g.degree(v)
		if sat > bestSat || (sat == bestSat && deg > bestDeg) ||
			(sat == bestSat && deg == bestDeg && (best == -1 || g.names[v] < g.names[best])) {
			best, bestSat, bestDeg = v, sat, deg
		}
	}
	return best
}

func saturation(g *Graph, colors []int, v int) int {
	seen := map[int]bool{}
	for n := range g.adj[v] {
		if colors[n] != -1 {
			seen[colors[n]] = true
		}
	}
	return len(seen)
}

// colorDColor is DSATUR's variant: among the candidates tied for
// highest current saturation, prefer the vertex whose coloring would
// raise saturation the most among its still-uncolored neighbors (most
// constraining choice first).
func colorDColor(g *Graph) coloringResult {
	colors := make([]int, g.n)
	colored := make([]bool, g.n)
	for i := range colors {
		colors[i] = -1
	}
	maxColor := 0

	for coloredCount := 0; coloredCount < g.n; coloredCount++ {
		v := pickDColor(g, colors, colored)
		c := lowestFreeColor(g, colors, v)
		colors[v] = c
		colored[v] = true
		if c+1 > maxColor {
			maxColor = c + 1
		}
	}
	return coloringResult{heuristic: heurDColor, colors: colors, numColors: maxColor}
}

func pickDColor(g *Graph, colors []int, colored []bool) int {
	bestSat := -1
	var tied []int
	for v := 0; v < g.n; v++ {
		if colored[v] {
			continue
		}
		sat := saturation(g, colors, v)
		if sat > bestSat {
			bestSat, tied = sat, []int{v}
		} else if sat == bestSat {
			tied = append(tied, v)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	best, bestGain, bestDeg := tied[0], -1, -1
	for _, v := range tied {
		gain := satIncrease(g, colors, colored, v)
		deg := g.degree(v)
		if gain > bestGain || (gain == bestGain && deg > bestDeg) ||
			(gain == bestGain && deg == bestDeg && g.names[v] < g.names[best]) {
			best, bestGain, bestDeg = v, gain, deg
		}
	}
	return best
}

// satIncrease estimates how much coloring v would raise the saturation
// of its uncolored neighbors: the count of uncolored neighbors that do
// not yet have any colored neighbor with v's eventual color class.
func satIncrease(g *Graph, colors []int, colored []bool, v int) int {
	c := lowestFreeColor(g, colors, v)
	total := 0
	for n := range g.adj[v] {
		if colored[n] {
			continue
		}
		seen := false
		for m := range g.adj[n] {
			if colors[m] == c {
				seen = true
				break
			}
		}
		if !seen {
			total++
		}
	}
	return total
}

func lowestFreeColor(g *Graph, colors []int, v int) int {
	used := map[int]bool{}
	for n := range g.adj[v] {
		if colors[n] != -1 {
			used[colors[n]] = true
		}
	}
	c := 0
	for used[c] {
		c++
	}
	return c
}
