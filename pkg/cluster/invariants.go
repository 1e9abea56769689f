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

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// CheckN1 reports whether node nodeIdx satisfies the N+1 invariant: its
// free memory must be able to absorb the largest of its secondaries'
// memory, should that secondary's primary fail over onto it.
func (s *Snapshot) CheckN1(nodeIdx int) bool {
	n := &s.Nodes[nodeIdx]
	free := n.TotalMem - s.UsedMem(nodeIdx)
	return free >= n.MaxPeerMem()
}

// VerifyCluster checks every invariant of the data model against s and
// returns the accumulated violations, if any. A nil return means s is
// fully consistent.
func (s *Snapshot) VerifyCluster() error {
	var errs *multierror.Error

	for iidx := range s.Instances {
		inst := &s.Instances[iidx]
		if inst.PrimaryIdx < 0 || inst.PrimaryIdx >= len(s.Nodes) {
			errs = multierror.Append(errs, fmt.Errorf("instance %s: primary node index %d out of range", inst.Name, inst.PrimaryIdx))
			continue
		}
		if inst.Replicated() {
			if inst.SecondaryIdx < 0 || inst.SecondaryIdx >= len(s.Nodes) {
				errs = multierror.Append(errs, fmt.Errorf("instance %s: secondary node index %d out of range", inst.Name, inst.SecondaryIdx))
				continue
			}
			if inst.SecondaryIdx == inst.PrimaryIdx {
				errs = multierror.Append(errs, fmt.Errorf("instance %s: primary and secondary are the same node %s", inst.Name, s.Nodes[inst.PrimaryIdx].Name))
			}
		}
	}

	for nidx := range s.Nodes {
		n := &s.Nodes[nidx]
		if n.TotalMem > 0 && s.UsedMem(nidx) > n.TotalMem {
			errs = multierror.Append(errs, fmt.Errorf("node %s: memory overcommitted (%d > %d)", n.Name, s.UsedMem(nidx), n.TotalMem))
		}
		if n.TotalDisk > 0 && s.UsedDisk(nidx) > n.TotalDisk {
			errs = multierror.Append(errs, fmt.Errorf("node %s: disk overcommitted (%d > %d)", n.Name, s.UsedDisk(nidx), n.TotalDisk))
		}
		ratio := s.groupVcpuRatio(n.GroupIdx)
		if cap := n.TotalCpu * ratio; cap > 0 && s.UsedCpu(nidx) > cap {
			errs = multierror.Append(errs, fmt.Errorf("node %s: vcpu-ratio cap exceeded (%.2f > %.2f)", n.Name, s.UsedCpu(nidx), cap))
		}
		if n.HasSpindles {
			sratio := s.groupSpindleRatio(n.GroupIdx)
			if cap := float64(n.TotalSpindles) * sratio; cap > 0 && float64(s.UsedSpindles(nidx)) > cap {
				errs = multierror.Append(errs, fmt.Errorf("node %s: spindle-ratio cap exceeded", n.Name))
			}
		}
		if !n.Flags.Offline && !s.CheckN1(nidx) {
			errs = multierror.Append(errs, fmt.Errorf("node %s: N+1 violated (free %d < max peer %d)", n.Name, n.TotalMem-s.UsedMem(nidx), n.MaxPeerMem()))
		}
	}

	for iidx := range s.Instances {
		inst := &s.Instances[iidx]
		if inst.PrimaryIdx < 0 || inst.PrimaryIdx >= len(s.Nodes) {
			continue
		}
		groupIdx := s.Nodes[inst.PrimaryIdx].GroupIdx
		if groupIdx < 0 || groupIdx >= len(s.Groups) {
			continue
		}
		pol := s.Groups[groupIdx].IPolicy
		if !pol.WithinBounds(inst.Spec) {
			errs = multierror.Append(errs, fmt.Errorf("instance %s: spec outside group %s policy bounds", inst.Name, s.Groups[groupIdx].Name))
		}
		if !pol.TemplateEnabled(inst.DiskTempl) {
			errs = multierror.Append(errs, fmt.Errorf("instance %s: disk template %s not enabled for group %s", inst.Name, inst.DiskTempl, s.Groups[groupIdx].Name))
		}
	}

	if errs != nil {
		return errs.ErrorOrNil()
	}
	return nil
}
