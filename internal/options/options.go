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

// Package options holds the confd daemon's tunable knobs, loaded from an
// optional small YAML file layered over hardcoded defaults — the same
// shape as the teacher's pkg/config module registration, minus the
// flag-parsing half (out of scope per the core's external-interfaces
// boundary).
package options

import (
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

// Options are the confd daemon's runtime knobs.
type Options struct {
	// DataDir is where ssconf_* files and the cluster config live.
	DataDir string `json:"dataDir"`
	// ConfigPath is the cluster config file reload watches.
	ConfigPath string `json:"configPath"`

	// UDPPort is the confd listen port.
	UDPPort int `json:"udpPort"`
	// HMACKey authenticates confd requests and replies.
	HMACKey string `json:"hmacKey"`
	// HMACClockSkew bounds how far a request's salt may drift from now.
	HMACClockSkew time.Duration `json:"hmacClockSkew"`
	// HandlerTimeout bounds a single request handler's total work.
	HandlerTimeout time.Duration `json:"handlerTimeout"`
	// MaxFileSize bounds a single config-file read.
	MaxFileSize int64 `json:"maxFileSize"`

	// WatchInterval is the long-interval reload watcher's period.
	WatchInterval time.Duration `json:"watchInterval"`
	// PollInterval is the poll-mode watcher's period.
	PollInterval time.Duration `json:"pollInterval"`
	// MaxIdlePollRounds is how many no-op poll rounds before retrying
	// the file-change notifier.
	MaxIdlePollRounds int `json:"maxIdlePollRounds"`
	// ReloadRatelimit suppresses a notify-triggered reload within this
	// window of the previous one, falling back to polling instead.
	ReloadRatelimit time.Duration `json:"reloadRatelimit"`

	// PidFile is where the daemon records its process id.
	PidFile string `json:"pidFile"`
}

// Defaults mirrors Ganeti's confd defaults.
func Defaults() Options {
	return Options{
		DataDir:           "/var/lib/ganeti",
		ConfigPath:        "/var/lib/ganeti/config.data",
		UDPPort:           1814,
		HMACClockSkew:     5 * time.Minute,
		HandlerTimeout:    50 * time.Millisecond,
		MaxFileSize:       128 * 1024,
		WatchInterval:     15 * time.Minute,
		PollInterval:      250 * time.Millisecond,
		MaxIdlePollRounds: 3,
		ReloadRatelimit:   1 * time.Second,
		PidFile:           "/var/run/ganeti/ganeti-confd.pid",
	}
}

// Load starts from Defaults and overlays path's YAML content, if path
// is non-empty and the file exists. A missing optional file is not an
// error; a malformed one is.
func Load(path string) (Options, error) {
	opts := Defaults()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return Options{}, errors.Wrapf(err, "reading options file %s", path)
	}

	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.Wrapf(err, "parsing options file %s", path)
	}
	return opts, nil
}
