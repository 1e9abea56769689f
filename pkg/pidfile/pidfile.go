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

// Package pidfile manages the confd daemon's PID file: a single-owner
// lifecycle (write-once, read, remove) used by cmd/ganeti-confd at
// startup and shutdown.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

var (
	pidFilePath = defaultPath()
	pidFile     *os.File
)

// GetPath returns the current pidfile path.
func GetPath() string {
	return pidFilePath
}

// SetPath sets the pidfile path to use for subsequent Write/Read/Remove calls.
func SetPath(path string) {
	close()
	pidFilePath = path
}

// Write creates the PID file and writes os.Getpid() to it. It fails if the
// file already exists.
func Write() error {
	if pidFile != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(pidFilePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create PID file directory")
	}

	f, err := os.OpenFile(pidFilePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}
	pidFile = f

	if _, err := pidFile.Write([]byte(fmt.Sprintf("%d\n", os.Getpid()))); err != nil {
		close()
		return errors.Wrap(err, "failed to write PID file")
	}

	return nil
}

// Read returns the process ID recorded in the PID file, or 0 if the file
// does not exist.
func Read() (int, error) {
	buf, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrap(err, "failed to read PID file")
	}

	pid, err := strconv.Atoi(strings.TrimRight(string(buf), "\n"))
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file", string(buf))
	}
	return pid, nil
}

func close() {
	if pidFile != nil {
		pidFile.Truncate(0)
		pidFile.Close()
		pidFile = nil
	}
}

// Remove removes the PID file unconditionally.
func Remove() error {
	close()
	err := os.Remove(pidFilePath)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// OwnerPid returns the ID of the process owning the PID file, 0 if none, or
// -1 and an error if the owner could not be determined.
func OwnerPid() (int, error) {
	pid, err := Read()
	if err != nil {
		return -1, err
	}
	if pid == 0 {
		return 0, nil
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return -1, errors.Wrapf(err, "FindProcess() failed for PID %d", pid)
	}

	err = p.Signal(syscall.Signal(0))
	if err == os.ErrProcessDone {
		return 0, nil
	}
	if err == nil {
		return pid, nil
	}
	return -1, errors.Wrapf(err, "failed to check process %d", pid)
}

func defaultPath() string {
	if len(os.Args) == 0 {
		return ""
	}
	name := filepath.Base(os.Args[0])
	if euid := os.Geteuid(); euid > 0 {
		return filepath.Join("/tmp", name+".pid")
	}
	return filepath.Join("/", "var", "run", name+".pid")
}
