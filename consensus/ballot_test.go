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

func TestCompareBallots(t *testing.T) {
	assert.Equal(t, 0, compareBallots(nil, nil))
	assert.Equal(t, -1, compareBallots(nil, makeBallot(1, "X")))
	assert.Equal(t, 1, compareBallots(makeBallot(1, "X"), nil))

	assert.Equal(t, -1, compareBallots(makeBallot(1, "Y"), makeBallot(2, "X")))
	assert.Equal(t, -1, compareBallots(makeBallot(2, "X"), makeBallot(2, "Y")))
	assert.Equal(t, 0, compareBallots(makeBallot(2, "X"), makeBallot(2, "X")))
	assert.Equal(t, 1, compareBallots(makeBallot(infiniteCounter, "X"), makeBallot(2, "Y")))
}

func TestBallotCompatibility(t *testing.T) {
	x1, x2, y1 := makeBallot(1, "X"), makeBallot(2, "X"), makeBallot(1, "Y")

	assert.Equal(t, true, compatibleBallots(x1, x2))
	assert.Equal(t, false, compatibleBallots(x1, y1))
	assert.Equal(t, false, compatibleBallots(nil, x1))

	assert.Equal(t, true, lessAndCompatibleBallots(x1, x2))
	assert.Equal(t, true, lessAndCompatibleBallots(x1, x1))
	assert.Equal(t, false, lessAndCompatibleBallots(x2, x1))
	assert.Equal(t, false, lessAndCompatibleBallots(y1, x2))

	assert.Equal(t, true, lessAndIncompatibleBallots(y1, x2))
	assert.Equal(t, true, lessAndIncompatibleBallots(x1, y1))
	assert.Equal(t, false, lessAndIncompatibleBallots(y1, x1))
	assert.Equal(t, false, lessAndIncompatibleBallots(x1, x2))
}

func TestBallotString(t *testing.T) {
	var b *Ballot
	assert.Equal(t, "(<null_ballot>)", b.String())
	assert.Equal(t, "(3, X)", makeBallot(3, "X").String())
	assert.Nil(t, b.Clone())

	c := makeBallot(3, "X")
	cc := c.Clone()
	cc.Counter = 4
	assert.Equal(t, uint32(3), c.Counter)
}

func TestIsNewerStatement(t *testing.T) {
	prepare := func(b *Ballot, p, pp *Ballot, nh uint32) *Statement {
		return &Statement{NodeID: "A", SlotIndex: 1, Pledges: &Prepare{
			Ballot: *b, Prepared: p, PreparedPrime: pp, NH: nh,
		}}
	}
	confirm := func(b *Ballot, np, nh uint32) *Statement {
		return &Statement{NodeID: "A", SlotIndex: 1, Pledges: &Confirm{
			Ballot: *b, NPrepared: np, NCommit: 1, NH: nh,
		}}
	}
	externalize := &Statement{NodeID: "A", SlotIndex: 1, Pledges: &Externalize{
		Commit: *makeBallot(1, "X"), NH: 1,
	}}

	x1, x2, y1 := makeBallot(1, "X"), makeBallot(2, "X"), makeBallot(1, "Y")

	// prepare: b, then p, then p', then h
	assert.Equal(t, true, isNewerStatement(prepare(x1, nil, nil, 0), prepare(x2, nil, nil, 0)))
	assert.Equal(t, false, isNewerStatement(prepare(x2, nil, nil, 0), prepare(x1, nil, nil, 0)))
	assert.Equal(t, true, isNewerStatement(prepare(x2, nil, nil, 0), prepare(x2, x1, nil, 0)))
	assert.Equal(t, true, isNewerStatement(prepare(x2, x2, nil, 0), prepare(x2, x2, y1, 0)))
	assert.Equal(t, true, isNewerStatement(prepare(x2, x2, nil, 0), prepare(x2, x2, nil, 2)))
	assert.Equal(t, false, isNewerStatement(prepare(x2, x2, nil, 2), prepare(x2, x2, nil, 2)))

	// confirm: b, then p, then h
	assert.Equal(t, true, isNewerStatement(confirm(x1, 1, 1), confirm(x2, 1, 1)))
	assert.Equal(t, true, isNewerStatement(confirm(x2, 1, 2), confirm(x2, 2, 1)))
	assert.Equal(t, true, isNewerStatement(confirm(x2, 1, 1), confirm(x2, 1, 2)))
	assert.Equal(t, false, isNewerStatement(confirm(x2, 1, 2), confirm(x2, 1, 2)))

	// across types
	assert.Equal(t, true, isNewerStatement(prepare(x2, x2, nil, 2), confirm(x1, 1, 1)))
	assert.Equal(t, false, isNewerStatement(confirm(x1, 1, 1), prepare(x2, x2, nil, 2)))
	assert.Equal(t, true, isNewerStatement(confirm(x2, 2, 2), externalize))
	assert.Equal(t, false, isNewerStatement(externalize, externalize))
}

func TestStatementValues(t *testing.T) {
	st := &Statement{NodeID: "A", SlotIndex: 1, Pledges: &Prepare{
		Ballot:        *makeBallot(2, "X"),
		Prepared:      makeBallot(1, "X"),
		PreparedPrime: makeBallot(1, "W"),
	}}
	assert.Equal(t, []string{"X", "W"}, statementValues(st))

	// the self statement with b = 0 carries no value
	st = &Statement{NodeID: "A", SlotIndex: 1, Pledges: &Prepare{}}
	assert.Equal(t, 0, len(statementValues(st)))
}

func TestStatementClone(t *testing.T) {
	st := &Statement{NodeID: "A", SlotIndex: 1, Pledges: &Prepare{
		Ballot:   *makeBallot(2, "X"),
		Prepared: makeBallot(1, "X"),
	}}
	c := st.Clone()
	assert.Equal(t, true, equalStatements(st, c))

	c.Pledges.(*Prepare).Prepared.Counter = 2
	assert.Equal(t, uint32(1), st.Pledges.(*Prepare).Prepared.Counter)
	assert.Equal(t, false, equalStatements(st, c))
}
