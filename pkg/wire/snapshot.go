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

// Package wire is the canonical encoding (C9) of cluster snapshots and
// of the IAllocator request/response envelope, plus the small parsing
// helpers (parseUnit, niceSort, commaJoin/commaSplit) the rest of the
// core and its callers share.
//
// The polymorphic disk logical_id handling follows the documented
// external wire format directly (§6); there is no pack example of this
// specific shape, so the struct/interface split below is original to
// this package, built the way the teacher shapes its own wire types in
// pkg/sysfs (tagged-union-like structs decoded via a discriminant
// field) rather than via an interface hierarchy.
package wire

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
)

type diskDoc struct {
	LogicalID json.RawMessage `json:"logical_id"`
	Children  []diskDoc       `json:"children,omitempty"`
	IVName    string          `json:"iv_name"`
	Size      int64           `json:"size"`
	Mode      string          `json:"mode"`
	DevType   string          `json:"dev_type"`
}

func devTypeName(k cluster.DiskTemplate) string {
	switch k {
	case cluster.TemplatePlain:
		return "plain"
	case cluster.TemplateDrbd8:
		return "drbd8"
	case cluster.TemplateFile:
		return "file"
	case cluster.TemplateSharedFile:
		return "sharedfile"
	case cluster.TemplateBlock:
		return "blockdev"
	case cluster.TemplateRbd:
		return "rbd"
	default:
		return "diskless"
	}
}

func devTypeFromName(s string) (cluster.DiskTemplate, error) {
	switch s {
	case "plain":
		return cluster.TemplatePlain, nil
	case "drbd8":
		return cluster.TemplateDrbd8, nil
	case "file":
		return cluster.TemplateFile, nil
	case "sharedfile":
		return cluster.TemplateSharedFile, nil
	case "blockdev":
		return cluster.TemplateBlock, nil
	case "rbd":
		return cluster.TemplateRbd, nil
	case "diskless":
		return cluster.TemplateDiskless, nil
	default:
		return 0, errors.Errorf("unknown dev_type %q", s)
	}
}

// encodeDisk renders a single disk's logical_id. For drbd8 disks,
// NodeA/NodeB are resolved from snapshot node indices back to the node
// names the wire format uses.
func encodeDisk(s *cluster.Snapshot, d cluster.Disk) (diskDoc, error) {
	doc := diskDoc{IVName: d.IVName, Size: d.Size, Mode: d.Mode, DevType: devTypeName(d.Kind)}

	var raw interface{}
	switch d.Kind {
	case cluster.TemplatePlain:
		raw = [2]string{d.VG, d.LV}
	case cluster.TemplateDrbd8:
		raw = [6]interface{}{s.Nodes[d.NodeA].Name, s.Nodes[d.NodeB].Name, d.Port, d.MinorA, d.MinorB, d.Secret}
	case cluster.TemplateFile, cluster.TemplateBlock, cluster.TemplateRbd, cluster.TemplateSharedFile:
		raw = [2]string{d.Driver, d.Path}
	default:
		raw = []interface{}{}
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return diskDoc{}, errors.Wrap(err, "encoding logical_id")
	}
	doc.LogicalID = b
	return doc, nil
}

// encodeDiskList renders the flat, index-linked disk list of an
// instance as a forest of nested documents: a disk with children is a
// DRBD device layered on plain volumes, and the wire format nests the
// children inline rather than by index.
func encodeDiskList(s *cluster.Snapshot, disks []cluster.Disk) ([]diskDoc, error) {
	isChild := make(map[int]bool, len(disks))
	for _, d := range disks {
		for _, c := range d.Children {
			isChild[c] = true
		}
	}

	var out []diskDoc
	for i := range disks {
		if isChild[i] {
			continue
		}
		doc, err := encodeDiskTree(s, disks, i)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func encodeDiskTree(s *cluster.Snapshot, disks []cluster.Disk, idx int) (diskDoc, error) {
	doc, err := encodeDisk(s, disks[idx])
	if err != nil {
		return diskDoc{}, err
	}
	for _, c := range disks[idx].Children {
		child, err := encodeDiskTree(s, disks, c)
		if err != nil {
			return diskDoc{}, err
		}
		doc.Children = append(doc.Children, child)
	}
	return doc, nil
}

// decodeDiskList flattens the nested document forest back into the
// index-linked representation, assigning each disk the next free index
// in depth-first order of appearance. s must already have every node
// added, since drbd8 logical_ids reference nodes by name.
func decodeDiskList(s *cluster.Snapshot, docs []diskDoc) ([]cluster.Disk, error) {
	var out []cluster.Disk
	var walk func(diskDoc) (int, error)
	walk = func(d diskDoc) (int, error) {
		disk, err := decodeDisk(s, d)
		if err != nil {
			return 0, err
		}
		idx := len(out)
		out = append(out, disk)
		for _, cd := range d.Children {
			ci, err := walk(cd)
			if err != nil {
				return 0, err
			}
			out[idx].Children = append(out[idx].Children, ci)
		}
		return idx, nil
	}
	for _, d := range docs {
		if _, err := walk(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeDisk(s *cluster.Snapshot, doc diskDoc) (cluster.Disk, error) {
	kind, err := devTypeFromName(doc.DevType)
	if err != nil {
		return cluster.Disk{}, err
	}

	d := cluster.Disk{Kind: kind, Size: doc.Size, Mode: doc.Mode, IVName: doc.IVName}

	switch kind {
	case cluster.TemplatePlain:
		var lid [2]string
		if err := json.Unmarshal(doc.LogicalID, &lid); err != nil {
			return cluster.Disk{}, errors.Wrap(err, "decoding plain logical_id")
		}
		d.VG, d.LV = lid[0], lid[1]
	case cluster.TemplateDrbd8:
		var lid [6]json.RawMessage
		if err := json.Unmarshal(doc.LogicalID, &lid); err != nil {
			return cluster.Disk{}, errors.Wrap(err, "decoding drbd8 logical_id")
		}
		var nodeAName, nodeBName string
		if err := json.Unmarshal(lid[0], &nodeAName); err != nil {
			return cluster.Disk{}, errors.Wrap(err, "decoding drbd8 nodeA")
		}
		if err := json.Unmarshal(lid[1], &nodeBName); err != nil {
			return cluster.Disk{}, errors.Wrap(err, "decoding drbd8 nodeB")
		}
		var ok bool
		if d.NodeA, ok = s.NodeByName(nodeAName); !ok {
			return cluster.Disk{}, errors.Errorf("drbd8 disk: unknown node %q", nodeAName)
		}
		if d.NodeB, ok = s.NodeByName(nodeBName); !ok {
			return cluster.Disk{}, errors.Errorf("drbd8 disk: unknown node %q", nodeBName)
		}
		if err := json.Unmarshal(lid[2], &d.Port); err != nil {
			return cluster.Disk{}, errors.Wrap(err, "decoding drbd8 port")
		}
		if err := json.Unmarshal(lid[3], &d.MinorA); err != nil {
			return cluster.Disk{}, errors.Wrap(err, "decoding drbd8 minorA")
		}
		if err := json.Unmarshal(lid[4], &d.MinorB); err != nil {
			return cluster.Disk{}, errors.Wrap(err, "decoding drbd8 minorB")
		}
		if err := json.Unmarshal(lid[5], &d.Secret); err != nil {
			return cluster.Disk{}, errors.Wrap(err, "decoding drbd8 secret")
		}
	case cluster.TemplateFile, cluster.TemplateBlock, cluster.TemplateRbd, cluster.TemplateSharedFile:
		var lid [2]string
		if err := json.Unmarshal(doc.LogicalID, &lid); err != nil {
			return cluster.Disk{}, errors.Wrap(err, "decoding file-like logical_id")
		}
		d.Driver, d.Path = lid[0], lid[1]
	}

	return d, nil
}

type nicDoc struct {
	IP   string `json:"ip,omitempty"`
	MAC  string `json:"mac,omitempty"`
	Link string `json:"link,omitempty"`
}

type nodeDoc struct {
	UUID             string           `json:"uuid"`
	Group            string           `json:"group"`
	PrimaryIP        string           `json:"primary_ip"`
	SecondaryIP      string           `json:"secondary_ip,omitempty"`
	TotalMem         int64            `json:"total_memory"`
	FreeMem          int64            `json:"free_memory"`
	TotalDisk        int64            `json:"total_disk"`
	FreeDisk         int64            `json:"free_disk"`
	TotalCpu         float64          `json:"total_cpus"`
	UsedCpu          float64          `json:"used_cpus"`
	HasSpindles      bool             `json:"exclusive_storage"`
	TotalSpindles    int              `json:"total_spindles"`
	FreeSpindles     int              `json:"free_spindles"`
	Offline          bool             `json:"offline"`
	Drained          bool             `json:"drained"`
	MasterCandidate  bool             `json:"master_candidate"`
	VMCapable        bool             `json:"vm_capable"`
	Master           bool             `json:"master"`
	Tags             []string         `json:"tags,omitempty"`
	NICLinks         []string         `json:"nic_links,omitempty"`
}

type instanceDoc struct {
	UUID        string    `json:"uuid"`
	Pnode       string    `json:"pnode"`
	Snode       string    `json:"snode,omitempty"`
	Memory      int64     `json:"memory"`
	Disk        int64     `json:"disk_size"`
	Vcpus       int       `json:"vcpus"`
	Spindles    int       `json:"spindle_use,omitempty"`
	DiskCount   int       `json:"disk_count"`
	Disks       []diskDoc `json:"disks,omitempty"`
	DiskTemplate string   `json:"disk_template"`
	AdminState  string    `json:"admin_state"`
	AutoBalance bool      `json:"auto_balance"`
	Tags        []string  `json:"tags,omitempty"`
	NICs        []nicDoc  `json:"nics,omitempty"`
}

type groupDoc struct {
	UUID       string      `json:"uuid"`
	Policy     string      `json:"alloc_policy"`
	IPolicy    ipolicyDoc  `json:"ipolicy"`
}

type specDoc struct {
	Mem      int64 `json:"memory-size"`
	Disk     int64 `json:"disk-size"`
	DiskCount int  `json:"disk-count"`
	Cpu      int   `json:"cpu-count"`
	Spindles int   `json:"spindle-use"`
}

type ipolicyDoc struct {
	MinSpec          specDoc  `json:"min"`
	MaxSpec          specDoc  `json:"max"`
	StdSpec          specDoc  `json:"std"`
	EnabledTemplates []string `json:"disk-templates"`
	VcpuRatio        float64  `json:"vcpu-ratio"`
	SpindleRatio     float64  `json:"spindle-ratio"`
}

func specFromDoc(d specDoc) cluster.Spec {
	return cluster.Spec{MemSize: d.Mem, DiskSize: d.Disk, DiskCount: d.DiskCount, Cpu: d.Cpu, Spindles: d.Spindles}
}

func specToDoc(s cluster.Spec) specDoc {
	return specDoc{Mem: s.MemSize, Disk: s.DiskSize, DiskCount: s.DiskCount, Cpu: s.Cpu, Spindles: s.Spindles}
}

func allocPolicyName(p cluster.AllocPolicy) string {
	switch p {
	case cluster.PolicyPreferred:
		return "preferred"
	case cluster.PolicyLastResort:
		return "last_resort"
	default:
		return "unallocable"
	}
}

func allocPolicyFromName(s string) cluster.AllocPolicy {
	switch s {
	case "preferred":
		return cluster.PolicyPreferred
	case "last_resort":
		return cluster.PolicyLastResort
	default:
		return cluster.PolicyUnallocable
	}
}

func adminStateName(a cluster.AdminState) string {
	switch a {
	case cluster.AdminUp:
		return "up"
	case cluster.AdminDown:
		return "down"
	default:
		return "offline"
	}
}

func adminStateFromName(s string) cluster.AdminState {
	switch s {
	case "up":
		return cluster.AdminUp
	case "down":
		return cluster.AdminDown
	default:
		return cluster.AdminOffline
	}
}

type snapshotDoc struct {
	Version    int                    `json:"version"`
	Cluster    map[string]interface{} `json:"cluster,omitempty"`
	Nodes      map[string]nodeDoc     `json:"nodes"`
	Nodegroups map[string]groupDoc    `json:"nodegroups"`
	Instances  map[string]instanceDoc `json:"instances"`
}

// EncodeSnapshot renders s as the canonical JSON document described in
// §6: name-keyed node/nodegroup/instance objects, polymorphic disk
// logical_id arrays.
func EncodeSnapshot(s *cluster.Snapshot) ([]byte, error) {
	doc := snapshotDoc{
		Version:    s.Version,
		Nodes:      make(map[string]nodeDoc, len(s.Nodes)),
		Nodegroups: make(map[string]groupDoc, len(s.Groups)),
		Instances:  make(map[string]instanceDoc, len(s.Instances)),
	}

	for _, g := range s.Groups {
		doc.Nodegroups[g.Name] = groupDoc{
			UUID:   g.UUID,
			Policy: allocPolicyName(g.Policy),
			IPolicy: ipolicyDoc{
				MinSpec:          specToDoc(g.IPolicy.MinSpec),
				MaxSpec:          specToDoc(g.IPolicy.MaxSpec),
				StdSpec:          specToDoc(g.IPolicy.StdSpec),
				EnabledTemplates: templateNames(g.IPolicy.EnabledTemplates),
				VcpuRatio:        g.IPolicy.VcpuRatio,
				SpindleRatio:     g.IPolicy.SpindleRatio,
			},
		}
	}

	for _, n := range s.Nodes {
		doc.Nodes[n.Name] = nodeDoc{
			UUID:            n.UUID,
			Group:           s.Groups[n.GroupIdx].Name,
			PrimaryIP:       n.PrimaryIP,
			SecondaryIP:     n.SecondaryIP,
			TotalMem:        n.TotalMem,
			FreeMem:         n.FreeMem,
			TotalDisk:       n.TotalDisk,
			FreeDisk:        n.FreeDisk,
			TotalCpu:        n.TotalCpu,
			UsedCpu:         n.UsedCpu,
			HasSpindles:     n.HasSpindles,
			TotalSpindles:   n.TotalSpindles,
			FreeSpindles:    n.FreeSpindles,
			Offline:         n.Flags.Offline,
			Drained:         n.Flags.Drained,
			MasterCandidate: n.Flags.MasterCandidate,
			VMCapable:       n.Flags.VMCapable,
			Master:          n.Flags.Master,
			Tags:            n.Tags,
			NICLinks:        n.NICLinks,
		}
	}

	for _, inst := range s.Instances {
		idoc := instanceDoc{
			UUID:         inst.UUID,
			Pnode:        s.Nodes[inst.PrimaryIdx].Name,
			Memory:       inst.Spec.MemSize,
			Disk:         inst.Spec.DiskSize,
			Vcpus:        inst.Spec.Cpu,
			Spindles:     inst.Spec.Spindles,
			DiskCount:    inst.Spec.DiskCount,
			DiskTemplate: devTypeName(inst.DiskTempl),
			AdminState:   adminStateName(inst.Admin),
			AutoBalance:  inst.AutoBalance,
			Tags:         inst.Tags,
			NICs:         encodeNICs(inst.NICs),
		}
		if inst.SecondaryIdx != cluster.NoSecondary {
			idoc.Snode = s.Nodes[inst.SecondaryIdx].Name
		}
		disks, err := encodeDiskList(s, inst.Disks)
		if err != nil {
			return nil, errors.Wrapf(err, "while encoding instance %s", inst.Name)
		}
		idoc.Disks = disks
		doc.Instances[inst.Name] = idoc
	}

	return json.Marshal(doc)
}

// DecodeSnapshot parses the canonical JSON document into a fresh
// Snapshot, resolving name references into indices.
func DecodeSnapshot(data []byte) (*cluster.Snapshot, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding cluster snapshot")
	}

	s := cluster.NewSnapshot()
	s.Version = doc.Version

	groupNames := sortedKeys(doc.Nodegroups)
	for _, name := range groupNames {
		gd := doc.Nodegroups[name]
		templates, err := templatesFromNames(gd.IPolicy.EnabledTemplates)
		if err != nil {
			return nil, errors.Wrapf(err, "while parsing nodegroup %s", name)
		}
		s.AddGroup(cluster.Group{
			Name:   name,
			UUID:   gd.UUID,
			Policy: allocPolicyFromName(gd.Policy),
			IPolicy: cluster.InstancePolicy{
				MinSpec:          specFromDoc(gd.IPolicy.MinSpec),
				MaxSpec:          specFromDoc(gd.IPolicy.MaxSpec),
				StdSpec:          specFromDoc(gd.IPolicy.StdSpec),
				EnabledTemplates: templates,
				VcpuRatio:        gd.IPolicy.VcpuRatio,
				SpindleRatio:     gd.IPolicy.SpindleRatio,
			},
		})
	}

	nodeNames := sortedKeys(doc.Nodes)
	for _, name := range nodeNames {
		nd := doc.Nodes[name]
		gidx, ok := s.GroupByName(nd.Group)
		if !ok {
			return nil, errors.Errorf("node %s: unknown group %q", name, nd.Group)
		}
		s.AddNode(cluster.Node{
			Name:          name,
			UUID:          nd.UUID,
			GroupIdx:      gidx,
			PrimaryIP:     nd.PrimaryIP,
			SecondaryIP:   nd.SecondaryIP,
			TotalMem:      nd.TotalMem,
			FreeMem:       nd.FreeMem,
			TotalDisk:     nd.TotalDisk,
			FreeDisk:      nd.FreeDisk,
			TotalCpu:      nd.TotalCpu,
			UsedCpu:       nd.UsedCpu,
			HasSpindles:   nd.HasSpindles,
			TotalSpindles: nd.TotalSpindles,
			FreeSpindles:  nd.FreeSpindles,
			Flags: cluster.NodeFlags{
				Offline:          nd.Offline,
				Drained:          nd.Drained,
				MasterCandidate:  nd.MasterCandidate,
				VMCapable:        nd.VMCapable,
				ExclusiveStorage: nd.HasSpindles,
				Master:           nd.Master,
			},
			Tags:     nd.Tags,
			NICLinks: nd.NICLinks,
		})
	}

	instNames := sortedKeys(doc.Instances)
	for _, name := range instNames {
		idoc := doc.Instances[name]
		pidx, ok := s.NodeByName(idoc.Pnode)
		if !ok {
			return nil, errors.Errorf("instance %s: unknown primary node %q", name, idoc.Pnode)
		}
		sidx := cluster.NoSecondary
		if idoc.Snode != "" {
			sidx, ok = s.NodeByName(idoc.Snode)
			if !ok {
				return nil, errors.Errorf("instance %s: unknown secondary node %q", name, idoc.Snode)
			}
		}
		templ, err := devTypeFromName(idoc.DiskTemplate)
		if err != nil {
			return nil, errors.Wrapf(err, "instance %s", name)
		}

		disks, err := decodeDiskList(s, idoc.Disks)
		if err != nil {
			return nil, errors.Wrapf(err, "instance %s", name)
		}

		iidx := s.AddInstance(cluster.Instance{
			Name:         name,
			UUID:         idoc.UUID,
			PrimaryIdx:   pidx,
			SecondaryIdx: sidx,
			Spec: cluster.Spec{
				MemSize:   idoc.Memory,
				DiskSize:  idoc.Disk,
				DiskCount: idoc.DiskCount,
				Cpu:       idoc.Vcpus,
				Spindles:  idoc.Spindles,
			},
			Disks:       disks,
			DiskTempl:   templ,
			Admin:       adminStateFromName(idoc.AdminState),
			AutoBalance: idoc.AutoBalance,
			Tags:        idoc.Tags,
			NICs:        decodeNICs(idoc.NICs),
		})
		if sidx != cluster.NoSecondary {
			s.Nodes[sidx].PeerMem[iidx] = idoc.Memory
		}
	}

	return s, nil
}

func encodeNICs(nics []cluster.NIC) []nicDoc {
	if len(nics) == 0 {
		return nil
	}
	out := make([]nicDoc, len(nics))
	for i, n := range nics {
		out[i] = nicDoc{IP: n.IP, MAC: n.MAC, Link: n.Link}
	}
	return out
}

func decodeNICs(docs []nicDoc) []cluster.NIC {
	if len(docs) == 0 {
		return nil
	}
	out := make([]cluster.NIC, len(docs))
	for i, d := range docs {
		out[i] = cluster.NIC{IP: d.IP, MAC: d.MAC, Link: d.Link}
	}
	return out
}

func templateNames(ts []cluster.DiskTemplate) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = devTypeName(t)
	}
	return out
}

func templatesFromNames(names []string) ([]cluster.DiskTemplate, error) {
	out := make([]cluster.DiskTemplate, len(names))
	for i, n := range names {
		t, err := devTypeFromName(n)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
