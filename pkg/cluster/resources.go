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

// NodeOverheadMem is the fixed hypervisor/OS memory overhead assumed on
// every node, subtracted from capacity before instances are counted.
const NodeOverheadMem int64 = 0

// UsedMem sums the memory of every up primary instance on node nodeIdx.
func (s *Snapshot) UsedMem(nodeIdx int) int64 {
	var total int64 = NodeOverheadMem
	for _, iidx := range s.Nodes[nodeIdx].PrimaryIdxs {
		inst := &s.Instances[iidx]
		if inst.Up() {
			total += inst.Spec.MemSize
		}
	}
	return total
}

// UsedDisk sums the disk of every primary instance on node nodeIdx
// (disk is reserved regardless of admin state).
func (s *Snapshot) UsedDisk(nodeIdx int) int64 {
	var total int64
	for _, iidx := range s.Nodes[nodeIdx].PrimaryIdxs {
		total += s.Instances[iidx].Spec.DiskSize
	}
	return total
}

// UsedCpu sums the vcpus of every up primary instance on node nodeIdx.
func (s *Snapshot) UsedCpu(nodeIdx int) float64 {
	var total float64
	for _, iidx := range s.Nodes[nodeIdx].PrimaryIdxs {
		inst := &s.Instances[iidx]
		if inst.Up() {
			total += float64(inst.Spec.Cpu)
		}
	}
	return total
}

// UsedSpindles sums the spindles of every primary instance on node nodeIdx.
func (s *Snapshot) UsedSpindles(nodeIdx int) int {
	total := 0
	for _, iidx := range s.Nodes[nodeIdx].PrimaryIdxs {
		total += s.Instances[iidx].Spec.Spindles
	}
	return total
}

// FreeMemFrac returns the node's free-memory fraction of total.
func (s *Snapshot) FreeMemFrac(nodeIdx int) float64 {
	n := &s.Nodes[nodeIdx]
	if n.TotalMem == 0 {
		return 0
	}
	return float64(n.TotalMem-s.UsedMem(nodeIdx)) / float64(n.TotalMem)
}

// FreeDiskFrac returns the node's free-disk fraction of total.
func (s *Snapshot) FreeDiskFrac(nodeIdx int) float64 {
	n := &s.Nodes[nodeIdx]
	if n.TotalDisk == 0 {
		return 0
	}
	return float64(n.TotalDisk-s.UsedDisk(nodeIdx)) / float64(n.TotalDisk)
}

// ReservedMemFrac returns the fraction of total memory reserved for N+1 peer failover.
func (s *Snapshot) ReservedMemFrac(nodeIdx int) float64 {
	n := &s.Nodes[nodeIdx]
	if n.TotalMem == 0 {
		return 0
	}
	return float64(n.MaxPeerMem()) / float64(n.TotalMem)
}

// CpuLoad returns used vcpus over (total cpu * vcpuRatio) for the node's group.
func (s *Snapshot) CpuLoad(nodeIdx int) float64 {
	n := &s.Nodes[nodeIdx]
	ratio := s.groupVcpuRatio(n.GroupIdx)
	cap := n.TotalCpu * ratio
	if cap == 0 {
		return 0
	}
	return s.UsedCpu(nodeIdx) / cap
}

// SpindleFrac returns used spindles over total spindles, or 0 if the node
// does not track spindles separately.
func (s *Snapshot) SpindleFrac(nodeIdx int) float64 {
	n := &s.Nodes[nodeIdx]
	if !n.HasSpindles || n.TotalSpindles == 0 {
		return 0
	}
	return float64(s.UsedSpindles(nodeIdx)) / float64(n.TotalSpindles)
}

func (s *Snapshot) groupVcpuRatio(groupIdx int) float64 {
	if groupIdx < 0 || groupIdx >= len(s.Groups) {
		return 1
	}
	r := s.Groups[groupIdx].IPolicy.VcpuRatio
	if r <= 0 {
		return 1
	}
	return r
}

func (s *Snapshot) groupSpindleRatio(groupIdx int) float64 {
	if groupIdx < 0 || groupIdx >= len(s.Groups) {
		return 1
	}
	r := s.Groups[groupIdx].IPolicy.SpindleRatio
	if r <= 0 {
		return 1
	}
	return r
}
