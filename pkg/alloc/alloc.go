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

// Package alloc implements the constructive allocator (C3): choosing
// primary (and, for replicated templates, secondary) nodes for a new or
// relocating instance.
//
// The candidate-enumeration shape — filter live/capable nodes, check
// policy and resource feasibility, score survivors, take the best with a
// deterministic tie-break — follows the teacher's
// pkg/cpuallocator.CpuAllocator (filter idle packages/cores/threads,
// sort by preference, greedily take) generalized from CPU topology
// indices to (primary, secondary) node-index pairs.
package alloc

import (
	"sort"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/clog"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/score"
)

var log = clog.Get("alloc")

// Request describes a single instance placement to find.
type Request struct {
	Name     string
	Spec     cluster.Spec
	Template cluster.DiskTemplate
	NICLink  string
	Tags     []string

	// Exclude lists node indices the allocator must not place onto
	// (set by MultiEvacuate to keep the instance's current nodes and the
	// nodes being evacuated out of consideration).
	Exclude map[int]bool
}

// Result is the outcome of a single-instance allocation attempt.
type Result struct {
	Success      bool
	Snapshot     *cluster.Snapshot
	GroupIdx     int
	PrimaryIdx   int
	SecondaryIdx int
	Stats        cluster.FailStats
}

type candidate struct {
	primary   int
	secondary int
	cv        float64
}

// AllocateNew finds a placement for a brand-new instance across the
// given candidate groups, ordered by allocation policy (preferred before
// last_resort; unallocable groups are skipped). Within a policy tier,
// the group whose best candidate yields the lowest post-allocation
// compCV wins.
func AllocateNew(s *cluster.Snapshot, req Request, groupIdxs []int, w score.Weights) Result {
	tiers := tierGroups(s, groupIdxs)

	var merged cluster.FailStats
	for _, tier := range tiers {
		var bestGroup = -1
		var bestCand candidate
		bestCand.cv = posInf
		var tierStats cluster.FailStats

		for _, gidx := range tier {
			cand, stats, found := bestCandidateInGroup(s, gidx, req, w)
			tierStats.Merge(stats)
			if found && (bestGroup == -1 || better(cand, bestCand, s)) {
				bestGroup, bestCand = gidx, cand
			}
		}

		merged.Merge(tierStats)
		if bestGroup != -1 {
			out := s.Clone()
			inst := newInstance(req, bestCand.primary, bestCand.secondary)
			iidx := out.AddInstance(inst)
			if inst.Replicated() {
				out.Nodes[bestCand.secondary].PeerMem[iidx] = inst.Spec.MemSize
			}
			return Result{
				Success:      true,
				Snapshot:     out,
				GroupIdx:     bestGroup,
				PrimaryIdx:   bestCand.primary,
				SecondaryIdx: bestCand.secondary,
				Stats:        merged,
			}
		}
	}

	return Result{Success: false, Stats: merged, SecondaryIdx: cluster.NoSecondary}
}

// Relocate finds a new secondary for a replicated instance that must
// move off its current secondary (e.g. because that node is being
// evacuated), without changing the primary.
func Relocate(s *cluster.Snapshot, instIdx int, exclude map[int]bool) Result {
	inst := &s.Instances[instIdx]
	if !inst.Replicated() {
		return Result{Success: false, SecondaryIdx: cluster.NoSecondary}
	}
	groupIdx := s.Nodes[inst.PrimaryIdx].GroupIdx

	var stats cluster.FailStats
	var best = -1
	var bestCV float64 = posInf

	for _, nidx := range s.Groups[groupIdx].NodeIdxs {
		if nidx == inst.PrimaryIdx || nidx == inst.SecondaryIdx {
			continue
		}
		if exclude[nidx] {
			continue
		}
		if mode, ok := feasibleSecondary(s, nidx, instIdx, groupIdx); !ok {
			stats.Add(mode)
			continue
		}
		out := s.Clone()
		out.Nodes[out.Instances[instIdx].SecondaryIdx].SecondaryIdxs = removeFrom(out.Nodes[out.Instances[instIdx].SecondaryIdx].SecondaryIdxs, instIdx)
		delete(out.Nodes[inst.SecondaryIdx].PeerMem, instIdx)
		out.Nodes[nidx].PeerMem[instIdx] = inst.Spec.MemSize
		out.Nodes[nidx].SecondaryIdxs = append(out.Nodes[nidx].SecondaryIdxs, instIdx)
		out.Instances[instIdx].SecondaryIdx = nidx

		res := score.ComputeCV(out, groupIdx, score.DefaultWeights())
		if best == -1 || res.Total < bestCV || (res.Total == bestCV && s.Nodes[nidx].Name < s.Nodes[best].Name) {
			best, bestCV = nidx, res.Total
		}
	}

	if best == -1 {
		return Result{Success: false, Stats: stats, SecondaryIdx: cluster.NoSecondary}
	}

	out := s.Clone()
	oi := &out.Instances[instIdx]
	out.Nodes[oi.SecondaryIdx].SecondaryIdxs = removeFrom(out.Nodes[oi.SecondaryIdx].SecondaryIdxs, instIdx)
	delete(out.Nodes[oi.SecondaryIdx].PeerMem, instIdx)
	out.Nodes[best].PeerMem[instIdx] = oi.Spec.MemSize
	out.Nodes[best].SecondaryIdxs = append(out.Nodes[best].SecondaryIdxs, instIdx)
	oi.SecondaryIdx = best

	return Result{Success: true, Snapshot: out, GroupIdx: groupIdx, PrimaryIdx: oi.PrimaryIdx, SecondaryIdx: best, Stats: stats}
}

func feasibleSecondary(s *cluster.Snapshot, nodeIdx, instIdx, groupIdx int) (cluster.FailMode, bool) {
	n := &s.Nodes[nodeIdx]
	if n.Flags.Offline || !n.Flags.VMCapable {
		return cluster.FailNetwork, false
	}
	if n.GroupIdx != groupIdx {
		return cluster.FailPolicy, false
	}
	if mode := s.CanHostAsSecondaryExported(nodeIdx, instIdx); mode >= 0 {
		return mode, false
	}
	return -1, true
}

func removeFrom(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

const posInf = 1e308

func newInstance(req Request, primary, secondary int) cluster.Instance {
	return cluster.Instance{
		Name:         req.Name,
		PrimaryIdx:   primary,
		SecondaryIdx: secondary,
		Spec:         req.Spec,
		DiskTempl:    req.Template,
		Admin:        cluster.AdminUp,
		AutoBalance:  true,
		Tags:         req.Tags,
	}
}

// tierGroups buckets groupIdxs by allocation policy, in increasing
// (most-preferred-first) policy order, dropping unallocable groups.
func tierGroups(s *cluster.Snapshot, groupIdxs []int) [][]int {
	byPolicy := map[cluster.AllocPolicy][]int{}
	for _, gidx := range groupIdxs {
		pol := s.Groups[gidx].Policy
		if !pol.Allocable() {
			continue
		}
		byPolicy[pol] = append(byPolicy[pol], gidx)
	}
	policies := make([]cluster.AllocPolicy, 0, len(byPolicy))
	for p := range byPolicy {
		policies = append(policies, p)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i] < policies[j] })

	out := make([][]int, 0, len(policies))
	for _, p := range policies {
		group := byPolicy[p]
		sort.Slice(group, func(i, j int) bool { return s.Groups[group[i]].Name < s.Groups[group[j]].Name })
		out = append(out, group)
	}
	return out
}

// bestCandidateInGroup enumerates every feasible (primary[, secondary])
// placement within gidx and returns the one with the lowest
// post-allocation compCV, with ties broken by (primary name, secondary
// name) as required by §4.3.
func bestCandidateInGroup(s *cluster.Snapshot, gidx int, req Request, w score.Weights) (candidate, cluster.FailStats, bool) {
	var stats cluster.FailStats
	pol := s.Groups[gidx].IPolicy

	if !pol.TemplateEnabled(req.Template) {
		stats.Add(cluster.FailPolicy)
		return candidate{}, stats, false
	}
	if !pol.WithinBounds(req.Spec) {
		stats.Add(cluster.FailPolicy)
		return candidate{}, stats, false
	}

	nodeIdxs := filterCandidateNodes(s, gidx, req, &stats)

	if !req.Template.Replicated() {
		return bestSingleNode(s, gidx, nodeIdxs, req, w, &stats)
	}
	return bestNodePair(s, gidx, nodeIdxs, req, w, &stats)
}

func filterCandidateNodes(s *cluster.Snapshot, gidx int, req Request, stats *cluster.FailStats) []int {
	var out []int
	for _, nidx := range s.Groups[gidx].NodeIdxs {
		n := &s.Nodes[nidx]
		if req.Exclude[nidx] {
			continue
		}
		if n.Flags.Offline || !n.Flags.VMCapable {
			continue
		}
		if !n.HasNICLink(req.NICLink) {
			stats.Add(cluster.FailNetwork)
			continue
		}
		out = append(out, nidx)
	}
	return out
}

func bestSingleNode(s *cluster.Snapshot, gidx int, nodeIdxs []int, req Request, w score.Weights, stats *cluster.FailStats) (candidate, cluster.FailStats, bool) {
	found := false
	var best candidate
	best.secondary = cluster.NoSecondary
	best.cv = posInf

	names := sortedByName(s, nodeIdxs)
	for _, nidx := range names {
		mode := s.CanHostAsPrimarySpec(nidx, req.Spec, true)
		if mode >= 0 {
			stats.Add(mode)
			continue
		}
		cv := simulateSingle(s, gidx, nidx, req, w)
		if !found || cv < best.cv {
			found, best = true, candidate{primary: nidx, secondary: cluster.NoSecondary, cv: cv}
		}
	}
	return best, *stats, found
}

func bestNodePair(s *cluster.Snapshot, gidx int, nodeIdxs []int, req Request, w score.Weights, stats *cluster.FailStats) (candidate, cluster.FailStats, bool) {
	found := false
	var best candidate
	best.cv = posInf

	names := sortedByName(s, nodeIdxs)
	for _, p := range names {
		if mode := s.CanHostAsPrimarySpec(p, req.Spec, true); mode >= 0 {
			stats.Add(mode)
			continue
		}
		for _, sec := range names {
			if sec == p {
				continue
			}
			if mode := s.CanHostAsSecondarySpec(sec, req.Spec.MemSize, req.Spec.Spindles); mode >= 0 {
				continue
			}
			cv := simulatePair(s, gidx, p, sec, req, w)
			if !found || cv < best.cv ||
				(cv == best.cv && betterPair(s, p, sec, best)) {
				found, best = true, candidate{primary: p, secondary: sec, cv: cv}
			}
		}
	}
	return best, *stats, found
}

func betterPair(s *cluster.Snapshot, p, sec int, cur candidate) bool {
	if s.Nodes[p].Name != s.Nodes[cur.primary].Name {
		return s.Nodes[p].Name < s.Nodes[cur.primary].Name
	}
	return s.Nodes[sec].Name < s.Nodes[cur.secondary].Name
}

func sortedByName(s *cluster.Snapshot, idxs []int) []int {
	out := append([]int(nil), idxs...)
	sort.Slice(out, func(i, j int) bool { return s.Nodes[out[i]].Name < s.Nodes[out[j]].Name })
	return out
}

func simulateSingle(s *cluster.Snapshot, gidx, nidx int, req Request, w score.Weights) float64 {
	out := s.Clone()
	out.AddInstance(newInstance(req, nidx, cluster.NoSecondary))
	return score.ComputeCV(out, gidx, w).Total
}

func simulatePair(s *cluster.Snapshot, gidx, p, sec int, req Request, w score.Weights) float64 {
	out := s.Clone()
	iidx := out.AddInstance(newInstance(req, p, sec))
	out.Nodes[sec].PeerMem[iidx] = req.Spec.MemSize
	return score.ComputeCV(out, gidx, w).Total
}

// EvacuateMode selects which roles MultiEvacuate moves off the
// evacuated nodes.
type EvacuateMode int

const (
	EvacuatePrimary EvacuateMode = iota
	EvacuateSecondary
	EvacuateAll
)

// MultiEvacuate relocates every instance with a role on one of nodeIdxs
// (per mode) onto other nodes in the same group, returning the move
// list and the resulting snapshot. Instances are processed in name
// order for determinism; a primary evacuation tries a failover onto the
// current secondary first (cheap, no data copy) and falls back to a
// fresh allocation only when that is infeasible or the instance is not
// replicated.
func MultiEvacuate(s *cluster.Snapshot, nodeIdxs []int, mode EvacuateMode, w score.Weights) ([]cluster.Move, *cluster.Snapshot, cluster.FailStats) {
	evac := make(map[int]bool, len(nodeIdxs))
	for _, n := range nodeIdxs {
		evac[n] = true
	}

	out := s.Clone()
	var moves []cluster.Move
	var stats cluster.FailStats

	for _, iidx := range evacuationOrder(out, evac, mode) {
		inst := &out.Instances[iidx]
		needPrimary := (mode == EvacuatePrimary || mode == EvacuateAll) && evac[inst.PrimaryIdx]
		needSecondary := inst.Replicated() && (mode == EvacuateSecondary || mode == EvacuateAll) && evac[inst.SecondaryIdx]

		if needPrimary && inst.Replicated() && !evac[inst.SecondaryIdx] {
			p, sidx := inst.PrimaryIdx, inst.SecondaryIdx
			if res := out.ApplyFailover(iidx); res.Ok {
				moves = append(moves, cluster.Move{InstanceIdx: iidx, Kind: cluster.MoveFailover, FromPrimary: p, ToPrimary: sidx, FromSecondary: sidx, ToSecondary: p})
				needPrimary = false
			}
		}

		if needSecondary {
			groupIdx := out.Nodes[inst.PrimaryIdx].GroupIdx
			exclude := map[int]bool{inst.PrimaryIdx: true}
			for n := range evac {
				exclude[n] = true
			}
			sidx := inst.SecondaryIdx
			res := Relocate(out, iidx, exclude)
			stats.Merge(res.Stats)
			if res.Success {
				out = res.Snapshot
				moves = append(moves, cluster.Move{InstanceIdx: iidx, Kind: cluster.MoveReplaceSecondary, FromPrimary: inst.PrimaryIdx, ToPrimary: inst.PrimaryIdx, FromSecondary: sidx, ToSecondary: res.SecondaryIdx, DeltaCV: 0})
			} else {
				log.Warn("multiEvacuate: no feasible secondary for instance %s in group %d", inst.Name, groupIdx)
			}
			inst = &out.Instances[iidx]
		}

		if needPrimary {
			groupIdx := out.Nodes[inst.PrimaryIdx].GroupIdx
			req := Request{Name: inst.Name, Spec: inst.Spec, Template: inst.DiskTempl, Tags: inst.Tags, Exclude: map[int]bool{inst.PrimaryIdx: true}}
			if inst.Replicated() {
				req.Exclude[inst.SecondaryIdx] = true
			}
			for n := range evac {
				req.Exclude[n] = true
			}

			fromPrimary, fromSecondary := inst.PrimaryIdx, inst.SecondaryIdx
			if err := evacuateSingle(out, iidx, groupIdx, req); err == nil {
				newInst := &out.Instances[iidx]
				moves = append(moves, cluster.Move{InstanceIdx: iidx, Kind: cluster.MoveMigrateAndReplace, FromPrimary: fromPrimary, ToPrimary: newInst.PrimaryIdx, FromSecondary: fromSecondary, ToSecondary: newInst.SecondaryIdx})
			} else {
				log.Warn("multiEvacuate: no feasible placement for instance %s: %v", inst.Name, err)
			}
		}
	}

	return moves, out, stats
}

// evacuateSingle removes instIdx from the snapshot and re-allocates it
// fresh within groupIdx honoring req.Exclude, replacing the instance's
// placement in out in place.
func evacuateSingle(out *cluster.Snapshot, instIdx, groupIdx int, req Request) error {
	removeInstancePlacement(out, instIdx)

	res := AllocateNew(out, req, []int{groupIdx}, score.DefaultWeights())
	if !res.Success {
		restoreInstancePlacement(out, instIdx)
		return errEvacFailed
	}

	placed := res.Snapshot.Instances[len(res.Snapshot.Instances)-1]
	out.Instances[instIdx].PrimaryIdx = res.PrimaryIdx
	out.Instances[instIdx].SecondaryIdx = res.SecondaryIdx
	out.Nodes[res.PrimaryIdx].PrimaryIdxs = append(out.Nodes[res.PrimaryIdx].PrimaryIdxs, instIdx)
	if placed.Replicated() {
		out.Nodes[res.SecondaryIdx].SecondaryIdxs = append(out.Nodes[res.SecondaryIdx].SecondaryIdxs, instIdx)
		out.Nodes[res.SecondaryIdx].PeerMem[instIdx] = placed.Spec.MemSize
	}
	return nil
}

func removeInstancePlacement(out *cluster.Snapshot, instIdx int) {
	inst := &out.Instances[instIdx]
	out.Nodes[inst.PrimaryIdx].PrimaryIdxs = removeFrom(out.Nodes[inst.PrimaryIdx].PrimaryIdxs, instIdx)
	if inst.Replicated() {
		out.Nodes[inst.SecondaryIdx].SecondaryIdxs = removeFrom(out.Nodes[inst.SecondaryIdx].SecondaryIdxs, instIdx)
		delete(out.Nodes[inst.SecondaryIdx].PeerMem, instIdx)
	}
}

func restoreInstancePlacement(out *cluster.Snapshot, instIdx int) {
	inst := &out.Instances[instIdx]
	out.Nodes[inst.PrimaryIdx].PrimaryIdxs = append(out.Nodes[inst.PrimaryIdx].PrimaryIdxs, instIdx)
	if inst.Replicated() {
		out.Nodes[inst.SecondaryIdx].SecondaryIdxs = append(out.Nodes[inst.SecondaryIdx].SecondaryIdxs, instIdx)
		out.Nodes[inst.SecondaryIdx].PeerMem[instIdx] = inst.Spec.MemSize
	}
}

type evacError string

func (e evacError) Error() string { return string(e) }

const errEvacFailed = evacError("no feasible placement")

// evacuationOrder returns the indices of instances touched by mode on
// evac, sorted by instance name for determinism.
func evacuationOrder(s *cluster.Snapshot, evac map[int]bool, mode EvacuateMode) []int {
	var out []int
	for iidx := range s.Instances {
		inst := &s.Instances[iidx]
		hit := false
		if (mode == EvacuatePrimary || mode == EvacuateAll) && evac[inst.PrimaryIdx] {
			hit = true
		}
		if inst.Replicated() && (mode == EvacuateSecondary || mode == EvacuateAll) && evac[inst.SecondaryIdx] {
			hit = true
		}
		if hit {
			out = append(out, iidx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.Instances[out[i]].Name < s.Instances[out[j]].Name })
	return out
}

// ChangeGroup relocates instIdx (primary and, if replicated, secondary)
// into the best-scoring group among candidateGroups, using the same
// per-group candidate search as AllocateNew. The instance's current
// placement is excluded from consideration.
func ChangeGroup(s *cluster.Snapshot, instIdx int, candidateGroups []int, w score.Weights) ([]cluster.Move, *cluster.Snapshot, cluster.FailStats) {
	inst := &s.Instances[instIdx]
	req := Request{Name: inst.Name, Spec: inst.Spec, Template: inst.DiskTempl, Tags: inst.Tags, Exclude: map[int]bool{}}

	fromGroup := s.Nodes[inst.PrimaryIdx].GroupIdx
	fromPrimary, fromSecondary := inst.PrimaryIdx, inst.SecondaryIdx

	groups := make([]int, 0, len(candidateGroups))
	for _, g := range candidateGroups {
		if g != fromGroup {
			groups = append(groups, g)
		}
	}

	out := s.Clone()
	removeInstancePlacement(out, instIdx)

	res := AllocateNew(out, req, groups, w)
	if !res.Success {
		restoreInstancePlacement(out, instIdx)
		return nil, out, res.Stats
	}

	placed := res.Snapshot.Instances[len(res.Snapshot.Instances)-1]
	out.Instances[instIdx].PrimaryIdx = res.PrimaryIdx
	out.Instances[instIdx].SecondaryIdx = res.SecondaryIdx
	out.Nodes[res.PrimaryIdx].PrimaryIdxs = append(out.Nodes[res.PrimaryIdx].PrimaryIdxs, instIdx)
	if placed.Replicated() {
		out.Nodes[res.SecondaryIdx].SecondaryIdxs = append(out.Nodes[res.SecondaryIdx].SecondaryIdxs, instIdx)
		out.Nodes[res.SecondaryIdx].PeerMem[instIdx] = placed.Spec.MemSize
	}

	moves := []cluster.Move{{
		InstanceIdx:   instIdx,
		Kind:          cluster.MoveMigrateAndReplace,
		FromPrimary:   fromPrimary,
		ToPrimary:     res.PrimaryIdx,
		FromSecondary: fromSecondary,
		ToSecondary:   res.SecondaryIdx,
	}}
	return moves, out, res.Stats
}

func better(a, b candidate, s *cluster.Snapshot) bool {
	if a.cv != b.cv {
		return a.cv < b.cv
	}
	if s.Nodes[a.primary].Name != s.Nodes[b.primary].Name {
		return s.Nodes[a.primary].Name < s.Nodes[b.primary].Name
	}
	if a.secondary == cluster.NoSecondary || b.secondary == cluster.NoSecondary {
		return false
	}
	return s.Nodes[a.secondary].Name < s.Nodes[b.secondary].Name
}
