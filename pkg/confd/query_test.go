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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/confcache"
)

func buildTestSnapshot() *cluster.Snapshot {
	s := cluster.NewSnapshot()
	gIdx := s.AddGroup(cluster.Group{Name: "default"})

	masterIdx := s.AddNode(cluster.Node{
		Name: "node1.example.com", GroupIdx: gIdx,
		PrimaryIP: "192.0.2.1", SecondaryIP: "10.0.0.1",
		Flags: cluster.NodeFlags{Master: true, MasterCandidate: true, VMCapable: true},
	})
	s.AddNode(cluster.Node{
		Name: "node2.example.com", GroupIdx: gIdx,
		PrimaryIP: "192.0.2.2", SecondaryIP: "10.0.0.2",
		Flags: cluster.NodeFlags{MasterCandidate: true, VMCapable: true},
	})

	s.AddInstance(cluster.Instance{
		Name:         "inst1.example.com",
		PrimaryIdx:   masterIdx,
		SecondaryIdx: cluster.NoSecondary,
		Admin:        cluster.AdminUp,
		NICs:         []cluster.NIC{{IP: "198.51.100.10", Link: "br0"}},
	})
	return s
}

func buildTestEntry() *confcache.Entry {
	s := buildTestSnapshot()
	linkIPs := map[string][]string{}
	for i := range s.Instances {
		for _, nic := range s.Instances[i].NICs {
			if nic.IP != "" {
				linkIPs[nic.Link] = append(linkIPs[nic.Link], nic.IP)
			}
		}
	}
	return &confcache.Entry{Snapshot: s, LinkIPs: linkIPs}
}

func rawArgs(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatchPing(t *testing.T) {
	s := buildTestSnapshot()
	s.Version = 42
	entry := &confcache.Entry{Snapshot: s}
	cache := confcacheWithEntry(entry)

	rep := dispatch(cache, request{Type: ReqPing})
	require.Equal(t, StatusOk, rep.Status)
	require.EqualValues(t, 42, rep.Answer)
}

func TestDispatchClusterMaster(t *testing.T) {
	cache := confcacheWithEntry(buildTestEntry())

	rep := dispatch(cache, request{Type: ReqClusterMaster})
	require.Equal(t, StatusOk, rep.Status)
	require.Equal(t, "node1.example.com", rep.Answer)
}

func TestDispatchNodeRoleByName(t *testing.T) {
	cache := confcacheWithEntry(buildTestEntry())

	rep := dispatch(cache, request{Type: ReqNodeRoleByName, Args: rawArgs(t, "node1.example.com")})
	require.Equal(t, StatusOk, rep.Status)
	require.Equal(t, "master", rep.Answer)

	rep = dispatch(cache, request{Type: ReqNodeRoleByName, Args: rawArgs(t, "node2.example.com")})
	require.Equal(t, StatusOk, rep.Status)
	require.Equal(t, "candidate", rep.Answer)

	rep = dispatch(cache, request{Type: ReqNodeRoleByName, Args: rawArgs(t, "nosuch.example.com")})
	require.Equal(t, StatusError, rep.Status)
	require.Equal(t, ErrUnknownEntry, rep.Answer)
}

func TestDispatchInstIpsList(t *testing.T) {
	cache := confcacheWithEntry(buildTestEntry())

	rep := dispatch(cache, request{Type: ReqInstIpsList, Args: rawArgs(t, instIpsArgs{Link: "br0"})})
	require.Equal(t, StatusOk, rep.Status)
	require.Equal(t, []string{"198.51.100.10"}, rep.Answer)
}

func TestDispatchNodePipByInstPip(t *testing.T) {
	cache := confcacheWithEntry(buildTestEntry())

	ip := "198.51.100.10"
	rep := dispatch(cache, request{Type: ReqNodePipByInstPip, Args: rawArgs(t, nodePipByInstPipArgs{IP: &ip})})
	require.Equal(t, StatusOk, rep.Status)
	require.Equal(t, "192.0.2.1", rep.Answer)

	// Entirely missing ip/ipList is an Argument error.
	rep = dispatch(cache, request{Type: ReqNodePipByInstPip, Args: rawArgs(t, nodePipByInstPipArgs{})})
	require.Equal(t, StatusError, rep.Status)
	require.Equal(t, ErrArgument, rep.Answer)

	// A well-formed but unresolvable ip is UnknownEntry.
	unknown := "203.0.113.5"
	rep = dispatch(cache, request{Type: ReqNodePipByInstPip, Args: rawArgs(t, nodePipByInstPipArgs{IP: &unknown})})
	require.Equal(t, StatusError, rep.Status)
	require.Equal(t, ErrUnknownEntry, rep.Answer)

	// A wholly absent args payload is also an Argument error.
	rep = dispatch(cache, request{Type: ReqNodePipByInstPip})
	require.Equal(t, StatusError, rep.Status)
	require.Equal(t, ErrArgument, rep.Answer)
}

func TestDispatchUnknownRequestType(t *testing.T) {
	cache := confcacheWithEntry(buildTestEntry())

	rep := dispatch(cache, request{Type: "bogus"})
	require.Equal(t, StatusError, rep.Status)
	require.Equal(t, ErrArgument, rep.Answer)
}

// confcacheWithEntry builds a Cache whose Current() immediately returns
// entry, without running any reload or watch machinery.
func confcacheWithEntry(entry *confcache.Entry) *confcache.Cache {
	c := confcache.New("", 0, 0, 0, 0, 0)
	c.TestSetEntry(entry)
	return c
}
