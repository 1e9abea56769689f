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

package confcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/wire"
)

func writeValidConfig(t *testing.T, path string) {
	s := cluster.NewSnapshot()
	gidx := s.AddGroup(cluster.Group{
		Name:    "default",
		Policy:  cluster.PolicyPreferred,
		IPolicy: cluster.InstancePolicy{EnabledTemplates: []cluster.DiskTemplate{cluster.TemplatePlain}, VcpuRatio: 4},
	})
	nidx := s.AddNode(cluster.Node{
		Name: "node1", GroupIdx: gidx,
		PrimaryIP: "192.0.2.1",
		TotalMem:  8192, FreeMem: 8192, TotalDisk: 102400, FreeDisk: 102400, TotalCpu: 4,
		Flags: cluster.NodeFlags{VMCapable: true},
	})
	s.AddInstance(cluster.Instance{
		Name: "inst1", PrimaryIdx: nidx, SecondaryIdx: cluster.NoSecondary,
		Spec: cluster.Spec{MemSize: 1024, DiskSize: 1024, Cpu: 1}, DiskTempl: cluster.TemplatePlain,
		Admin: cluster.AdminUp,
		NICs:  []cluster.NIC{{IP: "10.0.0.5", Link: "br0"}},
	})

	b, err := wire.EncodeSnapshot(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0644))
}

func TestReloadSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.data")
	writeValidConfig(t, path)

	c := New(path, 1<<20, time.Hour, time.Hour, 0, 0)
	c.Reload()

	entry := c.Current()
	require.NoError(t, entry.Err)
	require.NotNil(t, entry.Snapshot)
	require.Len(t, entry.Snapshot.Nodes, 1)
	require.Equal(t, []string{"10.0.0.5"}, entry.LinkIPs["br0"])
}

func TestReloadMissingFilePublishesError(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing.data"), 1<<20, time.Hour, time.Hour, 0, 0)
	c.Reload()

	entry := c.Current()
	require.Error(t, entry.Err)
	require.Nil(t, entry.Snapshot)
}

func TestReloadMalformedJSONPublishesError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.data")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	c := New(path, 1<<20, time.Hour, time.Hour, 0, 0)
	c.Reload()

	entry := c.Current()
	require.Error(t, entry.Err)
}

func TestReloadRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.data")
	writeValidConfig(t, path)

	c := New(path, 4, time.Hour, time.Hour, 0, 0)
	c.Reload()

	entry := c.Current()
	require.Error(t, entry.Err)
	require.Contains(t, entry.Err.Error(), "exceeds max size")
}

func TestSafeReloadOnlyReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.data")
	writeValidConfig(t, path)

	c := New(path, 1<<20, time.Hour, time.Hour, 0, 0)
	c.Reload()
	first := c.Current()

	require.False(t, c.safeReload())
	require.True(t, first == c.Current())

	// Touch mtime forward enough to guarantee a detectable change.
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	require.True(t, c.safeReload())
	require.False(t, first == c.Current())
}

func TestCurrentNeverNilAfterReload(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing.data"), 1<<20, time.Hour, time.Hour, 0, 0)
	require.Nil(t, c.Current())
	c.Reload()
	require.NotNil(t, c.Current())
}
