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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUnit(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"128", 128},
		{"128m", 128},
		{"4g", 4096},
		{"1t", 1048576},
		{"2M", 1},
	}
	for _, c := range cases {
		got, err := ParseUnit(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseUnitInvalid(t *testing.T) {
	_, err := ParseUnit("4x")
	require.Error(t, err)
	_, err = ParseUnit("not-a-size")
	require.Error(t, err)
}

func TestNiceSort(t *testing.T) {
	in := []string{"node10", "node2", "node1", "node20"}
	got := NiceSort(in)
	require.Equal(t, []string{"node1", "node2", "node10", "node20"}, got)
	// Input slice is not mutated.
	require.Equal(t, []string{"node10", "node2", "node1", "node20"}, in)
}

func TestCommaJoinSplitRoundTrip(t *testing.T) {
	xs := []string{"a", "b", "c"}
	joined := CommaJoin(xs)
	require.Equal(t, "a,b,c", joined)
	require.Equal(t, xs, CommaSplit(joined))
}
