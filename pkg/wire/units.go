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
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var unitRE = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z]*)$`)

// ParseUnit parses a size string per §8: a bare number is mebibytes;
// suffix "m" is mebibytes; "g" multiplies by 1024; "t" by 1048576; "M"
// (capital) is decimal megabytes converted to mebibytes
// (floor(N*10^6/2^20)). Unknown suffixes are an error.
func ParseUnit(s string) (int64, error) {
	m := unitRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, errors.Errorf("parseUnit: invalid size %q", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parseUnit: invalid number in %q", s)
	}

	switch m[2] {
	case "", "m":
		return int64(n), nil
	case "g":
		return int64(n * 1024), nil
	case "t":
		return int64(n * 1024 * 1024), nil
	case "M":
		return int64(n * 1e6 / (1 << 20)), nil
	default:
		return 0, errors.Errorf("parseUnit: unknown suffix %q in %q", m[2], s)
	}
}

var niceSortRE = regexp.MustCompile(`(\d+|\D+)`)

// NiceSort orders strings the way Ganeti's tools do: alphabetic runs
// compare as text, digit runs compare numerically, so "node2" sorts
// before "node10". The input is not mutated; a new sorted slice is
// returned.
func NiceSort(xs []string) []string {
	out := append([]string(nil), xs...)
	sort.SliceStable(out, func(i, j int) bool {
		return niceLess(out[i], out[j])
	})
	return out
}

func niceLess(a, b string) bool {
	as := niceSortRE.FindAllString(a, -1)
	bs := niceSortRE.FindAllString(b, -1)
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aIsNum := tryAtoi(as[i])
		bn, bIsNum := tryAtoi(bs[i])
		if aIsNum && bIsNum {
			if an != bn {
				return an < bn
			}
			continue
		}
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}

func tryAtoi(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// CommaJoin joins xs with commas. It is the inverse of CommaSplit for
// any xs whose elements contain no comma.
func CommaJoin(xs []string) string {
	return strings.Join(xs, ",")
}

// CommaSplit splits a comma-joined string. An empty string splits to a
// single empty-string element, matching CommaJoin([""]) == "".
func CommaSplit(s string) []string {
	return strings.Split(s, ",")
}
