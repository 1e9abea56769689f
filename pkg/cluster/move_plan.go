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

package cluster

// MoveKind identifies one of the balancer's four move shapes. The
// relative order here is the fixed tie-break order used by the balancer
// (§4.4): failover, migrate, replace-secondary, migrate+replace.
type MoveKind int

const (
	MoveFailover MoveKind = iota
	MoveMigrate
	MoveReplaceSecondary
	MoveMigrateAndReplace
)

func (k MoveKind) String() string {
	switch k {
	case MoveFailover:
		return "failover"
	case MoveMigrate:
		return "migrate"
	case MoveReplaceSecondary:
		return "replace-secondary"
	case MoveMigrateAndReplace:
		return "migrate+replace"
	default:
		return "unknown"
	}
}

// Move is one planned step: an instance moving from its current
// placement to a new one, tagged with the move shape that produced it.
type Move struct {
	InstanceIdx int
	Kind        MoveKind

	FromPrimary   int
	ToPrimary     int
	FromSecondary int
	ToSecondary   int

	DeltaCV float64
}
