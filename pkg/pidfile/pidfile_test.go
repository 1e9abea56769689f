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

package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testPidFile = "pidfile-test.pid"

func prepare(t *testing.T) string {
	dir, err := mkTestDir(t)
	if err != nil {
		t.Fatalf("failed to create test directory: %v", err)
	}
	SetPath(filepath.Join(dir, testPidFile))
	return dir
}

func TestWriteReadRemove(t *testing.T) {
	prepare(t)

	require.NoError(t, Write())

	pid, err := Read()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	require.NoError(t, Remove())

	pid, err = Read()
	require.NoError(t, err)
	require.Equal(t, 0, pid)
}

func TestWriteFailsIfAlreadyOwnedByAnotherFile(t *testing.T) {
	prepare(t)

	require.NoError(t, Write())
	close()

	err := Write()
	require.Error(t, err)

	require.NoError(t, Remove())
	require.NoError(t, Write())
}

func TestOwnerPid(t *testing.T) {
	prepare(t)

	require.NoError(t, Write())

	pid, err := OwnerPid()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}

func TestOwnerPidNoFile(t *testing.T) {
	prepare(t)

	pid, err := OwnerPid()
	require.NoError(t, err)
	require.Equal(t, 0, pid)
}

func mkTestDir(t *testing.T) (string, error) {
	tmp, err := os.MkdirTemp("", ".pidfile-test*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create test directory")
	}
	t.Cleanup(func() { os.RemoveAll(tmp) })
	return tmp, nil
}
