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

package confd

import (
	"encoding/json"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/confcache"
)

// RequestType identifies the query carried in a request envelope's msg.
type RequestType string

const (
	ReqPing              RequestType = "ping"
	ReqClusterMaster     RequestType = "cluster-master"
	ReqNodeRoleByName    RequestType = "node-role-by-name"
	ReqNodePipList       RequestType = "node-pip-list"
	ReqMcPipList         RequestType = "mc-pip-list"
	ReqInstIpsList       RequestType = "inst-ips-list"
	ReqNodePipByInstPip  RequestType = "node-pip-by-inst-pip"
	ReqNodeDrbd          RequestType = "node-drbd"
)

// ReplyStatus is the outer status of a confd reply.
type ReplyStatus string

const (
	StatusOk    ReplyStatus = "ok"
	StatusError ReplyStatus = "error"
)

// Error payload kinds, carried as the Answer of an Error-status reply.
const (
	ErrUnknownEntry = "UnknownEntry"
	ErrArgument     = "Argument"
	ErrInternal     = "Internal"
)

type request struct {
	Type RequestType     `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

type reply struct {
	Status ReplyStatus `json:"status"`
	Answer interface{} `json:"answer"`
}

func errReply(kind string) reply {
	return reply{Status: StatusError, Answer: kind}
}

func okReply(answer interface{}) reply {
	return reply{Status: StatusOk, Answer: answer}
}

// clusterMasterArgs controls whether ClusterMaster returns the bare
// master name or the filled-fields form.
type clusterMasterArgs struct {
	Fields []string `json:"fields,omitempty"`
}

type clusterMasterFields struct {
	Name     string `json:"name,omitempty"`
	IP       string `json:"ip,omitempty"`
	MnodePip string `json:"mnodePip,omitempty"`
}

type instIpsArgs struct {
	Link string `json:"link,omitempty"`
}

// nodePipByInstPipArgs accepts either a single ip or an ipList, as
// documented by the spec's {link?, ip | ipList} shape.
type nodePipByInstPipArgs struct {
	Link   string   `json:"link,omitempty"`
	IP     *string  `json:"ip,omitempty"`
	IPList []string `json:"ipList,omitempty"`
}

// dispatch runs req against the current cache entry and returns the
// reply to sign and send. A cache load error maps to an Internal error
// reply (degraded mode, never propagated as a crash).
func dispatch(c *confcache.Cache, req request) reply {
	entry := c.Current()
	if entry == nil || entry.Err != nil {
		return errReply(ErrInternal)
	}
	s := entry.Snapshot

	switch req.Type {
	case ReqPing:
		return okReply(s.Version)

	case ReqClusterMaster:
		return handleClusterMaster(s, req.Args)

	case ReqNodeRoleByName:
		return handleNodeRoleByName(s, req.Args)

	case ReqNodePipList:
		return okReply(nodePipList(s))

	case ReqMcPipList:
		return okReply(mcPipList(s))

	case ReqInstIpsList:
		return handleInstIpsList(entry, req.Args)

	case ReqNodePipByInstPip:
		return handleNodePipByInstPip(s, entry, req.Args)

	case ReqNodeDrbd:
		return handleNodeDrbd(s, req.Args)

	default:
		return errReply(ErrArgument)
	}
}

func handleClusterMaster(s *cluster.Snapshot, args json.RawMessage) reply {
	var a clusterMasterArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return errReply(ErrArgument)
		}
	}

	masterIdx := -1
	for i := range s.Nodes {
		if s.Nodes[i].Flags.Master {
			masterIdx = i
			break
		}
	}
	if masterIdx < 0 {
		return errReply(ErrUnknownEntry)
	}
	master := &s.Nodes[masterIdx]

	if len(a.Fields) == 0 {
		return okReply(master.Name)
	}

	out := clusterMasterFields{}
	for _, f := range a.Fields {
		switch f {
		case "name":
			out.Name = master.Name
		case "ip":
			out.IP = master.PrimaryIP
		case "mnodePip":
			out.MnodePip = master.PrimaryIP
		}
	}
	return okReply(out)
}

func handleNodeRoleByName(s *cluster.Snapshot, args json.RawMessage) reply {
	var name string
	if err := json.Unmarshal(args, &name); err != nil || name == "" {
		return errReply(ErrArgument)
	}
	idx, ok := s.NodeByName(name)
	if !ok {
		return errReply(ErrUnknownEntry)
	}
	return okReply(nodeRole(&s.Nodes[idx]))
}

func nodeRole(n *cluster.Node) string {
	switch {
	case n.Flags.Master:
		return "master"
	case n.Flags.Offline:
		return "offline"
	case n.Flags.Drained:
		return "drained"
	case n.Flags.MasterCandidate:
		return "candidate"
	default:
		return "regular"
	}
}

func nodePipList(s *cluster.Snapshot) []string {
	out := make([]string, 0, len(s.Nodes))
	for i := range s.Nodes {
		if s.Nodes[i].PrimaryIP != "" {
			out = append(out, s.Nodes[i].PrimaryIP)
		}
	}
	return out
}

func mcPipList(s *cluster.Snapshot) []string {
	out := []string{}
	for i := range s.Nodes {
		if s.Nodes[i].Flags.MasterCandidate && s.Nodes[i].PrimaryIP != "" {
			out = append(out, s.Nodes[i].PrimaryIP)
		}
	}
	return out
}

func handleInstIpsList(entry *confcache.Entry, args json.RawMessage) reply {
	var a instIpsArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return errReply(ErrArgument)
		}
	}
	ips, ok := entry.LinkIPs[a.Link]
	if !ok {
		return okReply([]string{})
	}
	return okReply(ips)
}

// handleNodePipByInstPip preserves the asymmetry documented for this
// query: an entirely missing ip/ipList is an Argument error, while an
// ip that does not resolve to any known instance is UnknownEntry.
func handleNodePipByInstPip(s *cluster.Snapshot, entry *confcache.Entry, args json.RawMessage) reply {
	var a nodePipByInstPipArgs
	if len(args) == 0 {
		return errReply(ErrArgument)
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return errReply(ErrArgument)
	}

	var ips []string
	switch {
	case a.IP != nil:
		ips = []string{*a.IP}
	case len(a.IPList) > 0:
		ips = a.IPList
	default:
		return errReply(ErrArgument)
	}

	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		primary, ok := primaryPipForInstPip(s, ip)
		if !ok {
			return errReply(ErrUnknownEntry)
		}
		out = append(out, primary)
	}
	if a.IP != nil {
		return okReply(out[0])
	}
	return okReply(out)
}

func primaryPipForInstPip(s *cluster.Snapshot, ip string) (string, bool) {
	for i := range s.Instances {
		inst := &s.Instances[i]
		for _, nic := range inst.NICs {
			if nic.IP == ip {
				if inst.PrimaryIdx < 0 || inst.PrimaryIdx >= len(s.Nodes) {
					return "", false
				}
				return s.Nodes[inst.PrimaryIdx].PrimaryIP, true
			}
		}
	}
	return "", false
}

type drbdEntry [6]interface{}

func handleNodeDrbd(s *cluster.Snapshot, args json.RawMessage) reply {
	var name string
	if err := json.Unmarshal(args, &name); err != nil || name == "" {
		return errReply(ErrArgument)
	}
	nodeIdx, ok := s.NodeByName(name)
	if !ok {
		return errReply(ErrUnknownEntry)
	}

	out := []drbdEntry{}
	for i := range s.Instances {
		inst := &s.Instances[i]
		for _, d := range inst.Disks {
			if d.Kind != cluster.TemplateDrbd8 {
				continue
			}
			if d.NodeA != nodeIdx && d.NodeB != nodeIdx {
				continue
			}
			nameA := s.Nodes[d.NodeA].Name
			nameB := s.Nodes[d.NodeB].Name
			out = append(out, drbdEntry{nameA, nameB, d.Port, d.MinorA, d.MinorB, d.Secret})
		}
	}
	return okReply(out)
}
