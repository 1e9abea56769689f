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

// Package clog implements leveled, per-source logging for the allocation
// and balancing core and the confd daemon.
//
// Every package obtains its own Logger with Get(source), and the process
// minimum severity and the set of sources with debug logging enabled are
// controlled process-wide. There is no dependency on a third-party
// structured-logging library: output is a single line per message,
// "TIMESTAMP source: LEVEL: message" with an RFC3339 timestamp, written
// to os.Stderr.
package clog
