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

package cluster

// FailMode tags why a candidate placement, or move, was rejected.
type FailMode int

const (
	// FailMem is insufficient free memory.
	FailMem FailMode = iota
	// FailDisk is insufficient free disk space.
	FailDisk
	// FailCpu is the vcpu-ratio cap exceeded.
	FailCpu
	// FailSpindles is insufficient free spindles.
	FailSpindles
	// FailDiskCount is too many disks for the template.
	FailDiskCount
	// FailTags is a tag/network incompatibility.
	FailTags
	// FailN1 is an N+1 violation.
	FailN1
	// FailPolicy is a group instance-policy violation (spec bounds, disk template disabled).
	FailPolicy
	// FailNetwork is a missing NIC link on the candidate node.
	FailNetwork

	numFailModes = FailNetwork + 1
)

var failModeNames = [numFailModes]string{
	FailMem:       "FailMem",
	FailDisk:      "FailDisk",
	FailCpu:       "FailCpu",
	FailSpindles:  "FailSpindles",
	FailDiskCount: "FailDiskCount",
	FailTags:      "FailTags",
	FailN1:        "FailN1",
	FailPolicy:    "FailPolicy",
	FailNetwork:   "FailNetwork",
}

func (f FailMode) String() string {
	if f < 0 || int(f) >= len(failModeNames) {
		return "FailUnknown"
	}
	return failModeNames[f]
}

// FailStats is a dense, fixed-key histogram of FailMode counts. A dense
// array indexed by enum value is used instead of a map so that merging
// inside the inner allocator loop stays allocation-free.
type FailStats struct {
	counts [numFailModes]int
}

// Add increments the count for mode by one.
func (s *FailStats) Add(mode FailMode) {
	if mode < 0 || int(mode) >= len(s.counts) {
		return
	}
	s.counts[mode]++
}

// Count returns the current count for mode.
func (s *FailStats) Count(mode FailMode) int {
	if mode < 0 || int(mode) >= len(s.counts) {
		return 0
	}
	return s.counts[mode]
}

// Merge adds other's counts into s.
func (s *FailStats) Merge(other FailStats) {
	for i := range s.counts {
		s.counts[i] += other.counts[i]
	}
}

// Total returns the sum of all counts.
func (s FailStats) Total() int {
	total := 0
	for _, c := range s.counts {
		total += c
	}
	return total
}

// Histogram returns a name-keyed snapshot of the non-zero counts, for
// serialization into the IAllocator response.
func (s FailStats) Histogram() map[string]int {
	h := make(map[string]int)
	for i, c := range s.counts {
		if c > 0 {
			h[FailMode(i).String()] = c
		}
	}
	return h
}
