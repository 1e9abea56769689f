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

// Package balance implements the iterative local-search move planner
// (C4): hill descent over single-instance moves (failover, migrate,
// replace-secondary, migrate+replace), minimizing compCV.
//
// The simulate-on-a-clone / pick-best-delta / commit / repeat loop
// follows GoProxLB's internal/balancer advanced balancer and
// mihai-snyk-descheduler's NSGA2 candidate generation-and-selection
// shape, specialized to single-move hill descent rather than a
// population search (the spec calls for deterministic hill descent, not
// a genetic search).
package balance

import (
	"sort"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/clog"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/score"
)

var log = clog.Get("balance")

// Limits bounds a single balancing run.
type Limits struct {
	MaxMoves        int
	MaxDiskMoves    int
	MaxCpuMoves     int
	MinDelta        float64 // ε; a candidate move must improve compCV by at least this much
	AllowCrossGroup bool
}

// DefaultLimits mirrors Ganeti's hbal defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxMoves:     -1, // unlimited
		MaxDiskMoves: -1,
		MaxCpuMoves:  -1,
		MinDelta:     1e-9,
	}
}

// Result is the outcome of a balancing run.
type Result struct {
	Moves     []cluster.Move
	Snapshot  *cluster.Snapshot
	BadItems  bool
	InitialCV float64
	FinalCV   float64
}

// Balance runs hill descent on group groupIdx of s until no candidate
// move improves compCV by at least limits.MinDelta, or a limit is hit.
func Balance(s *cluster.Snapshot, groupIdx int, limits Limits, w score.Weights) Result {
	if err := s.VerifyCluster(); err != nil {
		log.Warn("balance: input snapshot fails verification, refusing to plan: %v", err)
		return Result{BadItems: true, Snapshot: s}
	}

	cur := s.Clone()
	initial := score.ComputeCV(cur, groupIdx, w).Total
	cv := initial

	var moves []cluster.Move
	diskMoves, cpuMoves := 0, 0

	for {
		if limits.MaxMoves >= 0 && len(moves) >= limits.MaxMoves {
			break
		}

		best, bestMove, ok := bestCandidate(cur, groupIdx, w, cv, limits, diskMoves, cpuMoves)
		if !ok || bestMove.DeltaCV > -limits.MinDelta {
			break
		}

		cur = best
		cv += bestMove.DeltaCV
		moves = append(moves, bestMove)

		switch bestMove.Kind {
		case cluster.MoveReplaceSecondary, cluster.MoveMigrateAndReplace:
			diskMoves++
		}
		if isCpuIntensive(bestMove.Kind) {
			cpuMoves++
		}

		log.Debug("balance: committed %s for instance %d, deltaCV=%.6f, cv=%.6f", bestMove.Kind, bestMove.InstanceIdx, bestMove.DeltaCV, cv)
	}

	return Result{Moves: moves, Snapshot: cur, InitialCV: initial, FinalCV: cv}
}

func isCpuIntensive(k cluster.MoveKind) bool {
	return k == cluster.MoveMigrate || k == cluster.MoveMigrateAndReplace
}

type scoredMove struct {
	snap  *cluster.Snapshot
	move  cluster.Move
}

// bestCandidate enumerates every candidate move for every movable
// instance in groupIdx, simulates each on a clone, and returns the one
// with the most-negative ΔCV. Ties are broken by (instance name, move
// type in the fixed order failover < migrate < replace-secondary <
// migrate+replace).
func bestCandidate(s *cluster.Snapshot, groupIdx int, w score.Weights, curCV float64, limits Limits, diskMoves, cpuMoves int) (*cluster.Snapshot, cluster.Move, bool) {
	var all []scoredMove

	for iidx := range s.Instances {
		inst := &s.Instances[iidx]
		if !inst.AutoBalance || !inst.Up() {
			continue
		}
		if s.Nodes[inst.PrimaryIdx].GroupIdx != groupIdx {
			continue
		}

		if inst.Replicated() {
			if cand, mv, ok := tryFailover(s, iidx); ok {
				all = append(all, scoredMove{cand, mv})
			}
			if limits.MaxDiskMoves < 0 || diskMoves < limits.MaxDiskMoves {
				for _, cand := range tryReplaceSecondary(s, groupIdx, iidx) {
					all = append(all, cand)
				}
				if limits.MaxCpuMoves < 0 || cpuMoves < limits.MaxCpuMoves {
					for _, cand := range tryMigrateAndReplace(s, groupIdx, iidx) {
						all = append(all, cand)
					}
				}
			}
		} else {
			if limits.MaxCpuMoves < 0 || cpuMoves < limits.MaxCpuMoves {
				for _, cand := range tryMigrate(s, groupIdx, iidx) {
					all = append(all, cand)
				}
			}
		}
	}

	if len(all) == 0 {
		return nil, cluster.Move{}, false
	}

	for i := range all {
		all[i].move.DeltaCV = score.ComputeCV(all[i].snap, groupIdx, w).Total - curCV
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].move, all[j].move
		if a.DeltaCV != b.DeltaCV {
			return a.DeltaCV < b.DeltaCV
		}
		an, bn := s.Instances[a.InstanceIdx].Name, s.Instances[b.InstanceIdx].Name
		if an != bn {
			return an < bn
		}
		return a.Kind < b.Kind
	})

	return all[0].snap, all[0].move, true
}

func tryFailover(s *cluster.Snapshot, iidx int) (*cluster.Snapshot, cluster.Move, bool) {
	inst := &s.Instances[iidx]
	p, sec := inst.PrimaryIdx, inst.SecondaryIdx
	cand := s.Clone()
	if res := cand.ApplyFailover(iidx); !res.Ok {
		return nil, cluster.Move{}, false
	}
	return cand, cluster.Move{InstanceIdx: iidx, Kind: cluster.MoveFailover, FromPrimary: p, ToPrimary: sec, FromSecondary: sec, ToSecondary: p}, true
}

func tryMigrate(s *cluster.Snapshot, groupIdx, iidx int) []scoredMove {
	var out []scoredMove
	inst := &s.Instances[iidx]
	p := inst.PrimaryIdx
	for _, nidx := range s.Groups[groupIdx].NodeIdxs {
		if nidx == p || s.Nodes[nidx].Flags.Offline || !s.Nodes[nidx].Flags.VMCapable {
			continue
		}
		cand := s.Clone()
		if res := cand.ApplyPrimaryMove(iidx, nidx); !res.Ok {
			continue
		}
		out = append(out, scoredMove{cand, cluster.Move{InstanceIdx: iidx, Kind: cluster.MoveMigrate, FromPrimary: p, ToPrimary: nidx, FromSecondary: cluster.NoSecondary, ToSecondary: cluster.NoSecondary}})
	}
	return out
}

func tryReplaceSecondary(s *cluster.Snapshot, groupIdx, iidx int) []scoredMove {
	var out []scoredMove
	inst := &s.Instances[iidx]
	p, sec := inst.PrimaryIdx, inst.SecondaryIdx
	for _, nidx := range s.Groups[groupIdx].NodeIdxs {
		if nidx == p || nidx == sec || s.Nodes[nidx].Flags.Offline || !s.Nodes[nidx].Flags.VMCapable {
			continue
		}
		cand := s.Clone()
		if res := cand.ApplySecondaryMove(iidx, nidx); !res.Ok {
			continue
		}
		out = append(out, scoredMove{cand, cluster.Move{InstanceIdx: iidx, Kind: cluster.MoveReplaceSecondary, FromPrimary: p, ToPrimary: p, FromSecondary: sec, ToSecondary: nidx}})
	}
	return out
}

func tryMigrateAndReplace(s *cluster.Snapshot, groupIdx, iidx int) []scoredMove {
	var out []scoredMove
	inst := &s.Instances[iidx]
	p, sec := inst.PrimaryIdx, inst.SecondaryIdx
	for _, nidx := range s.Groups[groupIdx].NodeIdxs {
		if nidx == p || nidx == sec || s.Nodes[nidx].Flags.Offline || !s.Nodes[nidx].Flags.VMCapable {
			continue
		}
		cand := s.Clone()
		if res := cand.ApplyReplaceAndMigrate(iidx, nidx); !res.Ok {
			continue
		}
		out = append(out, scoredMove{cand, cluster.Move{InstanceIdx: iidx, Kind: cluster.MoveMigrateAndReplace, FromPrimary: p, ToPrimary: sec, FromSecondary: sec, ToSecondary: nidx}})
	}
	return out
}
