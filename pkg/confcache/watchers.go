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
	"time"

	"github.com/fsnotify/fsnotify"
)

// Start installs the file-change notifier if possible and launches the
// long-interval watcher. It does not block.
func (c *Cache) Start() {
	c.mu.Lock()
	if c.installNotifierLocked() {
		c.mode = ModeNotify
	} else {
		c.mode = ModePoll
	}
	mode := c.mode
	c.mu.Unlock()

	go c.longIntervalWatcher()
	if mode == ModePoll {
		c.startPollWatcher()
	}
}

// Stop signals every watcher goroutine to exit at its next cycle.
func (c *Cache) Stop() {
	close(c.shutdown)
	c.mu.Lock()
	if c.watcher != nil {
		c.watcher.Close()
	}
	c.mu.Unlock()
}

// installNotifierLocked attempts to create and arm an fsnotify watcher
// on c.path. Caller must hold c.mu.
func (c *Cache) installNotifierLocked() bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("confcache: creating file watcher failed: %v", err)
		return false
	}
	if err := w.Add(c.path); err != nil {
		log.Warn("confcache: watching %s failed: %v", c.path, err)
		w.Close()
		return false
	}
	c.watcher = w
	go c.notifyHandler(w)
	return true
}

// longIntervalWatcher periodically re-checks the file and re-asserts
// the notifier, as a backstop against a missed or dropped event.
func (c *Cache) longIntervalWatcher() {
	t := time.NewTicker(c.watchInterval)
	defer t.Stop()
	for {
		select {
		case <-c.shutdown:
			return
		case <-t.C:
			c.safeReload()
			c.mu.Lock()
			if c.mode == ModeNotify && c.watcher == nil {
				c.installNotifierLocked()
			}
			c.mu.Unlock()
		}
	}
}

// startPollWatcher launches a poll-mode watcher goroutine if one is not
// already running.
func (c *Cache) startPollWatcher() {
	c.mu.Lock()
	if c.pollRunning {
		c.mu.Unlock()
		return
	}
	c.pollRunning = true
	c.pollRound = 0
	c.mu.Unlock()

	go c.pollWatcher()
}

// pollWatcher reloads every pollInterval while in Poll mode. After
// maxIdleRounds consecutive no-change rounds it retries installing the
// file-change notifier; on success it transitions to Notify mode and
// exits, on failure the idle-round counter resets to zero.
func (c *Cache) pollWatcher() {
	defer func() {
		c.mu.Lock()
		c.pollRunning = false
		c.mu.Unlock()
	}()

	t := time.NewTicker(c.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-t.C:
			c.mu.Lock()
			if c.mode != ModePoll {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

			changed := c.safeReload()

			c.mu.Lock()
			if changed {
				c.pollRound = 0
				c.mu.Unlock()
				continue
			}
			c.pollRound++
			if c.pollRound < c.maxIdleRounds {
				c.mu.Unlock()
				continue
			}
			if c.installNotifierLocked() {
				c.mode = ModeNotify
				c.mu.Unlock()
				log.Info("confcache: notifier reinstalled, leaving poll mode")
				return
			}
			c.pollRound = 0
			c.mu.Unlock()
		}
	}
}

// notifyHandler processes fsnotify events for w. On every write/create
// event it reloads unless the last reload was within rateLimit, in
// which case it falls back to poll mode. A lost watch ("remove"/error)
// triggers a re-install attempt, falling back to poll mode on failure.
//
// The rate-limit window is compared against the absolute difference
// between lastLoadTime and now, not the signed delta: a clock stepped
// backward by more than rateLimit un-suppresses reload immediately
// instead of rate-limiting for the rest of time.
func (c *Cache) notifyHandler(w *fsnotify.Watcher) {
	for {
		select {
		case <-c.shutdown:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			c.handleEvent(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn("confcache: watcher error: %v", err)
			c.handleLostWatch(w)
		}
	}
}

func (c *Cache) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
		c.handleLostWatch(w)
		return
	}

	c.mu.Lock()
	sinceLast := abs(now().Sub(c.lastLoadTime))
	rateLimited := c.lastLoadTime.IsZero() == false && sinceLast < c.rateLimit
	c.mu.Unlock()

	if rateLimited {
		log.Debug("confcache: notify event rate-limited, falling back to poll mode")
		c.mu.Lock()
		c.mode = ModePoll
		c.mu.Unlock()
		c.startPollWatcher()
		return
	}

	c.Reload()
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (c *Cache) handleLostWatch(w *fsnotify.Watcher) {
	c.mu.Lock()
	w.Close()
	c.watcher = nil
	reinstalled := c.installNotifierLocked()
	if !reinstalled {
		c.mode = ModePoll
	}
	c.mu.Unlock()

	if !reinstalled {
		c.startPollWatcher()
	}
}
