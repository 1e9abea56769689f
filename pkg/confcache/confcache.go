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

// Package confcache implements the config cache and reloader (C7): an
// atomically-swapped cluster snapshot kept fresh by a long-interval
// watcher, a short poll-interval fallback, and an fsnotify-driven
// handler, all serialized through a single mutex per §4.7.
//
// The atomic-swap-of-an-immutable-object shape follows the teacher's
// pkg/config.Config: readers take a pointer under a fast path and never
// block the writer. The three-agent watcher state machine has no direct
// analog in the teacher; it is built in the teacher's idiom (loop, sleep,
// voluntarily exit, mutex-guarded shared state) using
// github.com/fsnotify/fsnotify for the notify half, the only inotify
// wrapper present anywhere in the pack's dependency graphs.
package confcache

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/clog"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/wire"
)

var log = clog.Get("confcache")

// Mode is the reloader's current watch strategy.
type Mode int

const (
	// ModeNotify means a file-change notifier is installed and active.
	ModeNotify Mode = iota
	// ModePoll means the notifier is unavailable or rate-limited and a
	// poll watcher is running instead.
	ModePoll
)

func (m Mode) String() string {
	if m == ModeNotify {
		return "notify"
	}
	return "poll"
}

type fileStat struct {
	mtime time.Time
	size  int64
	valid bool
}

// Entry is the atomically-published unit: a parsed snapshot plus the
// derived map from NIC link to instance primary IPs, or a load error.
type Entry struct {
	Snapshot *cluster.Snapshot
	LinkIPs  map[string][]string // NIC link -> instance primary IPs
	Err      error
}

// Cache holds the current Entry and the reloader's watch state.
type Cache struct {
	path          string
	maxFileSize   int64
	watchInterval time.Duration
	pollInterval  time.Duration
	maxIdleRounds int
	rateLimit     time.Duration

	ref atomic.Pointer[Entry]

	mu            sync.Mutex
	mode          Mode
	pollRound     int
	lastLoadTime  time.Time
	lastStat      fileStat
	watcher       *fsnotify.Watcher
	shutdown      chan struct{}
	pollRunning   bool
}

// New constructs a Cache for path. Call Reload once synchronously before
// Start to populate the initial Entry.
func New(path string, maxFileSize int64, watchInterval, pollInterval, rateLimit time.Duration, maxIdleRounds int) *Cache {
	return &Cache{
		path:          path,
		maxFileSize:   maxFileSize,
		watchInterval: watchInterval,
		pollInterval:  pollInterval,
		maxIdleRounds: maxIdleRounds,
		rateLimit:     rateLimit,
		shutdown:      make(chan struct{}),
	}
}

// Current returns the most recently published Entry. Never blocks.
func (c *Cache) Current() *Entry {
	return c.ref.Load()
}

// TestSetEntry publishes entry directly, bypassing Reload. Exported for
// tests in other packages that need a Cache pre-seeded with a fixture
// snapshot without touching the filesystem or watcher goroutines.
func (c *Cache) TestSetEntry(entry *Entry) {
	c.ref.Store(entry)
}

// Reload reads c.path, parses it into a snapshot, builds the derived
// link-IP map, and atomically replaces the published Entry. Read errors
// publish an error Entry and reset lastStat to a sentinel so the next
// stat comparison always looks changed.
func (c *Cache) Reload() {
	st, data, err := readBounded(c.path, c.maxFileSize)
	if err != nil {
		log.Warn("confcache: reload %s failed: %v", c.path, err)
		c.ref.Store(&Entry{Err: err})
		c.mu.Lock()
		c.lastStat = fileStat{}
		c.mu.Unlock()
		return
	}

	snap, err := wire.DecodeSnapshot(data)
	if err != nil {
		err = errors.Wrapf(err, "parsing %s", c.path)
		log.Warn("confcache: %v", err)
		c.ref.Store(&Entry{Err: err})
		c.mu.Lock()
		c.lastStat = fileStat{}
		c.mu.Unlock()
		return
	}

	c.ref.Store(&Entry{Snapshot: snap, LinkIPs: buildLinkIPs(snap)})
	c.mu.Lock()
	c.lastStat = st
	c.lastLoadTime = now()
	c.mu.Unlock()
	log.Info("confcache: reloaded %s (version=%d)", c.path, snap.Version)
}

// safeReload reloads only if the file's (mtime, size) changed since the
// last successful stat. The spec's stat tuple also includes inode;
// os.FileInfo does not expose it portably, so mtime+size is the
// practical proxy used here.
func (c *Cache) safeReload() bool {
	st, err := os.Stat(c.path)
	if err != nil {
		c.Reload()
		return true
	}
	cur := fileStat{mtime: st.ModTime(), size: st.Size(), valid: true}

	c.mu.Lock()
	changed := !c.lastStat.valid || cur != c.lastStat
	c.mu.Unlock()

	if !changed {
		return false
	}
	c.Reload()
	return true
}

func readBounded(path string, maxSize int64) (fileStat, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileStat{}, nil, errors.Wrap(err, "opening config file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fileStat{}, nil, errors.Wrap(err, "stat config file")
	}

	buf := make([]byte, minInt64(info.Size(), maxSize))
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return fileStat{}, nil, errors.Wrap(err, "reading config file")
	}
	if info.Size() > maxSize {
		return fileStat{}, nil, errors.Errorf("config file %s exceeds max size %d bytes", path, maxSize)
	}

	return fileStat{mtime: info.ModTime(), size: info.Size(), valid: true}, buf[:n], nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// buildLinkIPs maps a NIC link name to the primary IPs of the
// instances that have a NIC on it, for InstIpsList.
func buildLinkIPs(s *cluster.Snapshot) map[string][]string {
	out := map[string][]string{}
	for i := range s.Instances {
		inst := &s.Instances[i]
		for _, nic := range inst.NICs {
			if nic.IP == "" {
				continue
			}
			out[nic.Link] = append(out[nic.Link], nic.IP)
		}
	}
	return out
}

// now is overridable by tests.
var now = time.Now
