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

// Package score computes the cluster variance score (compCV, C2): the
// weighted sum of per-resource variances across a group's online,
// vm-capable nodes, plus a penalty term that lexicographically dominates
// small variance differences so invariant violations are resolved before
// balance is refined.
//
// The shape — per-node utilization fractions reduced to a variance,
// then weighted and summed — follows
// mihai-snyk-descheduler's objectives/balance.BalanceObjective,
// generalized from two resources (cpu, mem) to the five the data model
// tracks (free-mem, free-disk, reserved-mem/N+1, cpu-load, spindles).
package score

import (
	"math"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/clog"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
)

var log = clog.Get("score")

// Weights tunes the contribution of each per-node statistic to compCV.
type Weights struct {
	FreeMem      float64
	FreeDisk     float64
	ReservedMem  float64
	CpuLoad      float64
	Spindles     float64
	OfflinePenalty float64
	N1Penalty      float64
}

// DefaultWeights mirrors Ganeti's htools defaults: weight free memory,
// free disk, N+1 reservation, cpu load and spindles equally, and make the
// penalty terms dominate.
func DefaultWeights() Weights {
	return Weights{
		FreeMem:        1.0,
		FreeDisk:       1.0,
		ReservedMem:    1.0,
		CpuLoad:        1.0,
		Spindles:       1.0,
		OfflinePenalty: 1e4,
		N1Penalty:      1e4,
	}
}

// Result is compCV decomposed into its terms, useful for diagnostics.
type Result struct {
	Variance      float64
	PenaltyCount  int
	Total         float64
}

// ComputeCV computes the cluster variance score for the online,
// vm-capable nodes of a single group. Lower is better; zero is not
// achievable in general.
func ComputeCV(s *cluster.Snapshot, groupIdx int, w Weights) Result {
	nodeIdxs := onlineVMCapable(s, groupIdx)
	hasSpindles := false

	freeMem := make([]float64, 0, len(nodeIdxs))
	freeDisk := make([]float64, 0, len(nodeIdxs))
	reservedMem := make([]float64, 0, len(nodeIdxs))
	cpuLoad := make([]float64, 0, len(nodeIdxs))
	spindles := make([]float64, 0, len(nodeIdxs))

	penalty := 0

	for _, nidx := range s.Groups[groupIdx].NodeIdxs {
		n := &s.Nodes[nidx]
		if n.Flags.Offline {
			if len(n.PrimaryIdxs) > 0 || len(n.SecondaryIdxs) > 0 {
				penalty++
			}
			continue
		}
		if !n.Flags.Offline && !s.CheckN1(nidx) {
			penalty++
		}
	}

	for _, nidx := range nodeIdxs {
		freeMem = append(freeMem, s.FreeMemFrac(nidx))
		freeDisk = append(freeDisk, s.FreeDiskFrac(nidx))
		reservedMem = append(reservedMem, s.ReservedMemFrac(nidx))
		cpuLoad = append(cpuLoad, s.CpuLoad(nidx))
		if s.Nodes[nidx].HasSpindles {
			hasSpindles = true
			spindles = append(spindles, s.SpindleFrac(nidx))
		}
	}

	variance := w.FreeMem*variance(freeMem) +
		w.FreeDisk*variance(freeDisk) +
		w.ReservedMem*variance(reservedMem) +
		w.CpuLoad*variance(cpuLoad)
	if hasSpindles {
		variance += w.Spindles * score2variance(spindles)
	}

	total := variance + float64(penalty)*(w.OfflinePenalty+w.N1Penalty)/2

	res := Result{Variance: variance, PenaltyCount: penalty, Total: total}
	log.Debug("compCV(group=%d) = %.6f (variance=%.6f, penalties=%d)", groupIdx, total, variance, penalty)
	return res
}

// onlineVMCapable returns the node indices of groupIdx that are online and vm-capable.
func onlineVMCapable(s *cluster.Snapshot, groupIdx int) []int {
	var out []int
	for _, nidx := range s.Groups[groupIdx].NodeIdxs {
		n := &s.Nodes[nidx]
		if n.VMCapable() {
			out = append(out, nidx)
		}
	}
	return out
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	v := 0.0
	for _, x := range xs {
		d := x - mean
		v += d * d
	}
	return v / float64(len(xs))
}

// score2variance is an alias kept distinct from variance for spindle
// utilization so the two call sites can diverge (e.g. a different
// normalization) without entangling the common path.
func score2variance(xs []float64) float64 {
	return variance(xs)
}

// StdDev returns the standard deviation of xs, exposed for diagnostics
// and tests that assert on the human-readable metric rather than compCV's
// internal variance terms.
func StdDev(xs []float64) float64 {
	return math.Sqrt(variance(xs))
}
