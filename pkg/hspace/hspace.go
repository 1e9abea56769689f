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

// Package hspace implements the capacity analysis loops (C5): repeated
// allocation of a standard spec, or a descending tiered sequence of
// specs, until the allocator can no longer place an instance.
//
// The result-histogram shape follows Guimove-clusterfit's
// internal/model.Result (a running tally keyed by what was placed, plus
// a post-fill efficiency summary) adapted from disk-placement simulation
// to instance-placement simulation.
package hspace

import (
	"github.com/yiannist/pkg-ganeti-sub001/pkg/alloc"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/clog"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/score"
)

var log = clog.Get("hspace")

// Efficiency reports post-fill resource usage as a fraction of total
// cluster capacity.
type Efficiency struct {
	MemEff float64
	DskEff float64
	CpuEff float64
}

// StandardResult is the outcome of filling a cluster with copies of a
// single spec until allocation fails.
type StandardResult struct {
	Count      int
	Stats      cluster.FailStats
	Efficiency Efficiency
	Snapshot   *cluster.Snapshot
}

// StandardFill repeatedly allocates req (a fixed spec/template/NIC
// request) within groupIdxs on successive clones of s until the
// allocator reports failure, returning how many instances fit and the
// post-fill efficiency metrics.
func StandardFill(s *cluster.Snapshot, req alloc.Request, groupIdxs []int, w score.Weights) StandardResult {
	cur := s
	count := 0
	var lastStats cluster.FailStats

	for {
		res := alloc.AllocateNew(cur, namedRequest(req, count), groupIdxs, w)
		if !res.Success {
			lastStats = res.Stats
			break
		}
		cur = res.Snapshot
		count++
	}

	log.Info("hspace standard fill: placed %d instances before exhaustion", count)
	return StandardResult{
		Count:      count,
		Stats:      lastStats,
		Efficiency: computeEfficiency(cur, groupIdxs),
		Snapshot:   cur,
	}
}

// TierEntry is one step of the tiered descent: the spec attempted and
// how many instances of it were placed before the allocator moved on to
// the next, smaller step.
type TierEntry struct {
	Spec  cluster.Spec
	Count int
}

// TieredResult is the outcome of the descending-spec fill loop.
type TieredResult struct {
	Tiers      []TierEntry
	Stats      cluster.FailStats
	Efficiency Efficiency
	Snapshot   *cluster.Snapshot
}

// Steps describes the per-dimension reduction applied when a tier is
// exhausted, and the floor below which the descent stops.
type Steps struct {
	MemStep, DiskStep int64
	CpuStep           int
	Min               cluster.Spec
}

// TieredFill starts at maxSpec and, each time allocation fails, reduces
// the spec along one dimension in the fixed order memory, then disk,
// then cpu, by one policy-defined step, retrying until the spec would
// fall below steps.Min. The returned Tiers are in insertion (descending
// spec) order: the starting spec has an entry only once it has placed an
// instance, each later spec gets an entry when it is stepped to, and
// zero-count entries at the end of the list are dropped.
func TieredFill(s *cluster.Snapshot, req alloc.Request, maxSpec cluster.Spec, steps Steps, groupIdxs []int, w score.Weights) TieredResult {
	cur := s
	spec := maxSpec
	var tiers []TierEntry
	var lastStats cluster.FailStats
	placed := 0

	for {
		req.Spec = spec
		res := alloc.AllocateNew(cur, namedRequest(req, placed), groupIdxs, w)
		if res.Success {
			cur = res.Snapshot
			placed++
			if len(tiers) == 0 {
				tiers = append(tiers, TierEntry{Spec: spec})
			}
			tiers[len(tiers)-1].Count++
			continue
		}

		lastStats = res.Stats
		next, ok := stepDown(spec, steps)
		if !ok {
			break
		}
		spec = next
		tiers = append(tiers, TierEntry{Spec: spec})
	}

	// Drop a trailing zero-count tier: it was attempted and failed
	// immediately, contributing nothing to the histogram.
	for len(tiers) > 0 && tiers[len(tiers)-1].Count == 0 {
		tiers = tiers[:len(tiers)-1]
	}

	log.Info("hspace tiered fill: %d distinct spec tiers, %d total instances", len(tiers), placed)
	return TieredResult{
		Tiers:      tiers,
		Stats:      lastStats,
		Efficiency: computeEfficiency(cur, groupIdxs),
		Snapshot:   cur,
	}
}

// stepDown reduces spec by one step along memory, then disk, then cpu —
// the first dimension that can take a full step without going below its
// floor is the one reduced. Returns false when no dimension can.
func stepDown(spec cluster.Spec, steps Steps) (cluster.Spec, bool) {
	if spec.MemSize-steps.MemStep >= steps.Min.MemSize {
		spec.MemSize -= steps.MemStep
		return spec, true
	}
	if spec.DiskSize-steps.DiskStep >= steps.Min.DiskSize {
		spec.DiskSize -= steps.DiskStep
		return spec, true
	}
	if spec.Cpu-steps.CpuStep >= steps.Min.Cpu {
		spec.Cpu -= steps.CpuStep
		return spec, true
	}
	return cluster.Spec{}, false
}

func namedRequest(req alloc.Request, n int) alloc.Request {
	out := req
	out.Name = req.Name + "." + itoa(n)
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func computeEfficiency(s *cluster.Snapshot, groupIdxs []int) Efficiency {
	var instMem, instDisk, instCpu float64
	var nodeMem, nodeDisk, nodeCpu float64

	inGroup := make(map[int]bool, len(groupIdxs))
	for _, g := range groupIdxs {
		inGroup[g] = true
	}

	for i := range s.Nodes {
		n := &s.Nodes[i]
		if !inGroup[n.GroupIdx] {
			continue
		}
		nodeMem += float64(n.TotalMem)
		nodeDisk += float64(n.TotalDisk)
		nodeCpu += n.TotalCpu * vcpuRatio(s, n.GroupIdx)
	}

	for i := range s.Instances {
		inst := &s.Instances[i]
		if !inGroup[s.Nodes[inst.PrimaryIdx].GroupIdx] {
			continue
		}
		instMem += float64(inst.Spec.MemSize)
		instDisk += float64(inst.Spec.DiskSize)
		instCpu += float64(inst.Spec.Cpu)
	}

	eff := Efficiency{}
	if nodeMem > 0 {
		eff.MemEff = instMem / nodeMem
	}
	if nodeDisk > 0 {
		eff.DskEff = instDisk / nodeDisk
	}
	if nodeCpu > 0 {
		eff.CpuEff = instCpu / nodeCpu
	}
	return eff
}

func vcpuRatio(s *cluster.Snapshot, groupIdx int) float64 {
	r := s.Groups[groupIdx].IPolicy.VcpuRatio
	if r <= 0 {
		return 1
	}
	return r
}
