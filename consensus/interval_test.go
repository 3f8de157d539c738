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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindExtendedInterval(t *testing.T) {
	boundaries := []uint32{1, 2, 3, 5, 8}

	// accepted counters in [2, 5]
	pred := func(cur interval) bool {
		return cur.lo >= 2 && cur.hi <= 5
	}
	assert.Equal(t, interval{lo: 2, hi: 5}, findExtendedInterval(boundaries, pred))

	// nothing matches
	none := func(interval) bool { return false }
	assert.Equal(t, true, findExtendedInterval(boundaries, none).empty())
	assert.Equal(t, true, findExtendedInterval(nil, pred).empty())

	// a single point
	single := func(cur interval) bool { return cur.lo == 3 && cur.hi == 3 }
	assert.Equal(t, interval{lo: 3, hi: 3}, findExtendedInterval(boundaries, single))
}

func TestCommitBoundaries(t *testing.T) {
	x := makeBallot(3, "X")
	stmts := map[string]*Statement{
		"A": {NodeID: "A", SlotIndex: 1, Pledges: &Prepare{
			Ballot: *makeBallot(3, "X"), Prepared: makeBallot(3, "X"), NC: 2, NH: 3,
		}},
		// no commit vote
		"B": {NodeID: "B", SlotIndex: 1, Pledges: &Prepare{
			Ballot: *makeBallot(4, "X"), Prepared: makeBallot(3, "X"),
		}},
		"C": {NodeID: "C", SlotIndex: 1, Pledges: &Confirm{
			Ballot: *makeBallot(5, "X"), NPrepared: 5, NCommit: 4, NH: 5,
		}},
		// incompatible
		"D": {NodeID: "D", SlotIndex: 1, Pledges: &Confirm{
			Ballot: *makeBallot(9, "Y"), NPrepared: 9, NCommit: 7, NH: 9,
		}},
	}
	assert.Equal(t, []uint32{2, 3, 4, 5}, commitBoundaries(x, stmts))

	stmts["E"] = &Statement{NodeID: "E", SlotIndex: 1, Pledges: &Externalize{
		Commit: *makeBallot(2, "X"), NH: 6,
	}}
	assert.Equal(t, []uint32{2, 3, 4, 5, 6, infiniteCounter}, commitBoundaries(x, stmts))
}
