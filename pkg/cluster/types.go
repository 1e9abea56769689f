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

// NoSecondary is the sentinel secondary-node index for non-replicated instances.
const NoSecondary = -1

// AdminState is an instance's administrative desired state.
type AdminState int

const (
	AdminUp AdminState = iota
	AdminDown
	AdminOffline
)

// NodeFlags are boolean node attributes.
type NodeFlags struct {
	Offline          bool
	Drained          bool
	MasterCandidate  bool
	VMCapable        bool
	ExclusiveStorage bool
	Master           bool
}

// Node is a hypervisor in the cluster.
type Node struct {
	Name    string
	UUID    string
	GroupIdx int

	PrimaryIP   string
	SecondaryIP string

	TotalMem int64
	FreeMem  int64
	TotalDisk int64
	FreeDisk  int64
	TotalCpu  float64 // weight, e.g. core count
	UsedCpu   float64

	HasSpindles   bool
	TotalSpindles int
	FreeSpindles  int

	// PeerMem maps secondary instance index -> memory reserved on this
	// node to absorb that instance should its primary fail.
	PeerMem map[int]int64

	Flags NodeFlags

	Tags    []string
	NICLinks []string // networks this node's NICs are attached to

	PrimaryIdxs   []int // instance indices for which this node is primary
	SecondaryIdxs []int // instance indices for which this node is secondary
}

// VMCapable reports whether instances may be placed on this node at all.
func (n *Node) VMCapable() bool {
	return n.Flags.VMCapable && !n.Flags.Offline
}

// MaxPeerMem returns the largest reservation in PeerMem, or 0 if none.
func (n *Node) MaxPeerMem() int64 {
	var max int64
	for _, m := range n.PeerMem {
		if m > max {
			max = m
		}
	}
	return max
}

// HasNICLink reports whether the node has a NIC on the given network link.
func (n *Node) HasNICLink(link string) bool {
	if link == "" {
		return true
	}
	for _, l := range n.NICLinks {
		if l == link {
			return true
		}
	}
	return false
}

// Disk is a tagged variant over the disk backing kinds. Children holds
// indices into the owning Instance's Disks slice (DRBD-over-plain
// layering); this avoids self-owning pointers for the recursive shape.
type Disk struct {
	Kind     DiskTemplate
	Size     int64
	Mode     string // "rw" or "ro"
	IVName   string
	Children []int

	// LogicalID fields, populated according to Kind:
	//   plain:            VG, LV
	//   drbd8:             NodeA, NodeB, Port, MinorA, MinorB, Secret
	//   file/block/rbd:   Driver, Path
	VG, LV         string
	NodeA, NodeB   int
	Port           int
	MinorA, MinorB int
	Secret         string
	Driver, Path   string
}

// Instance is a virtual machine.
type Instance struct {
	Name string
	UUID string

	PrimaryIdx   int
	SecondaryIdx int // NoSecondary if not replicated

	Spec      Spec
	Disks     []Disk
	DiskTempl DiskTemplate

	Admin       AdminState
	AutoBalance bool

	// Util is an optional dynamic-utilization hint vector; nil if unset.
	Util *Utilization

	Tags []string
	NICs []NIC
}

// NIC is one virtual network interface of an instance.
type NIC struct {
	IP   string
	MAC  string
	Link string
}

// Utilization holds optional dynamic load hints for an instance.
type Utilization struct {
	CpuLoad  float64
	MemLoad  float64
	DiskLoad float64
	NetLoad  float64
}

// Up reports whether the instance currently counts against a node's
// resource usage (i.e. it is running).
func (i *Instance) Up() bool {
	return i.Admin == AdminUp
}

// Replicated reports whether this instance has a secondary node.
func (i *Instance) Replicated() bool {
	return i.DiskTempl.Replicated() && i.SecondaryIdx != NoSecondary
}
