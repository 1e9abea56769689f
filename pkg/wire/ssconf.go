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

package wire

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// MaxSsconfFileSize bounds how much of an ssconf file is read (§6): 128
// KiB, matching the confd daemon's own file-read bound.
const MaxSsconfFileSize = 128 * 1024

// ReadSSConfFile reads <dataDir>/ssconf_<key>, a single-value text file,
// returning its content with trailing whitespace stripped. Files larger
// than MaxSsconfFileSize are truncated rather than read in full.
func ReadSSConfFile(dataDir, key string) (string, error) {
	path := filepath.Join(dataDir, "ssconf_"+key)
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "reading ssconf key %q", key)
	}
	defer f.Close()

	buf := make([]byte, MaxSsconfFileSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", errors.Wrapf(err, "reading ssconf key %q", key)
	}

	return strings.TrimRight(string(buf[:n]), " \t\r\n"), nil
}
