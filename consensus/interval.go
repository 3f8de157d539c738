// Copyright 2019 The go-ultiledger Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package consensus

import (
	"sort"

	"github.com/deckarep/golang-set"
)

// interval of ballot counters [lo, hi], lo == 0 means empty.
type interval struct {
	lo uint32
	hi uint32
}

func (i interval) empty() bool {
	return i.lo == 0
}

// Find the largest interval that satisfies the predicate by scanning
// the boundaries from the top: the first boundary satisfying the
// predicate fixes the high end, the following ones extend the low end
// until the predicate fails.
func findExtendedInterval(boundaries []uint32, pred func(interval) bool) interval {
	var candidate interval
	for i := len(boundaries) - 1; i >= 0; i-- {
		b := boundaries[i]

		var cur interval
		if candidate.empty() {
			// first, find the high bound
			cur = interval{lo: b, hi: b}
		} else if b > candidate.hi {
			continue
		} else {
			cur = interval{lo: b, hi: candidate.hi}
		}

		if pred(cur) {
			candidate = cur
		} else if !candidate.empty() {
			// could not extend further
			break
		}
	}
	return candidate
}

// Collect the commit boundaries reported by the statements
// compatible with the ballot, in ascending order.
func commitBoundaries(b *Ballot, stmts map[string]*Statement) []uint32 {
	set := mapset.NewThreadUnsafeSet()
	for _, st := range stmts {
		switch p := st.Pledges.(type) {
		case *Prepare:
			if compatibleBallots(b, &p.Ballot) && p.NC != 0 {
				set.Add(p.NC)
				set.Add(p.NH)
			}
		case *Confirm:
			if compatibleBallots(b, &p.Ballot) {
				set.Add(p.NCommit)
				set.Add(p.NH)
			}
		case *Externalize:
			if compatibleBallots(b, &p.Commit) {
				set.Add(p.Commit.Counter)
				set.Add(p.NH)
				set.Add(uint32(infiniteCounter))
			}
		default:
			fatal(ErrUnknownStatement)
		}
	}

	boundaries := make([]uint32, 0, set.Cardinality())
	for v := range set.Iter() {
		boundaries = append(boundaries, v.(uint32))
	}
	sort.Slice(boundaries, func(i, j int) bool {
		return boundaries[i] < boundaries[j]
	})
	return boundaries
}
