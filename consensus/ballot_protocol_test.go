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
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalizeWithQuorum(t *testing.T) {
	n := newTestNetwork(t, nil)
	d := n.driver
	x := makeBallot(1, "X")

	// start the ballot protocol
	updated, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)
	assert.Equal(t, true, updated)
	require.Equal(t, 1, len(d.emitted))
	assert.Equal(t, n.prepare(nodeA, x, nil, nil, 0, 0), d.lastEmitted())
	assert.Equal(t, []*Ballot{x}, d.started)

	// B and C vote to prepare (1, X) which forms a quorum with A
	n.receive(t, n.prepare(nodeB, x, nil, nil, 0, 0))
	assert.Equal(t, 1, len(d.emitted))
	n.receive(t, n.prepare(nodeC, x, nil, nil, 0, 0))
	require.Equal(t, 2, len(d.emitted))
	assert.Equal(t, n.prepare(nodeA, x, x, nil, 0, 0), d.lastEmitted())

	// heard from the quorum at counter 1, the ballot timer is armed
	assert.Equal(t, []*Ballot{x}, d.heard)
	assert.NotNil(t, d.timers[BallotProtocolTimer])
	assert.Equal(t, time.Second, d.timeouts[BallotProtocolTimer])

	// B and C accept (1, X) as prepared, A confirms it and votes to commit
	n.receive(t, n.prepare(nodeB, x, x, nil, 0, 0))
	assert.Equal(t, 2, len(d.emitted))
	n.receive(t, n.prepare(nodeC, x, x, nil, 0, 0))
	require.Equal(t, 3, len(d.emitted))
	assert.Equal(t, n.prepare(nodeA, x, x, nil, 1, 1), d.lastEmitted())
	assert.Equal(t, []*Ballot{x}, d.confirmed)

	// B and C vote to commit, A accepts the commit
	n.receive(t, n.prepare(nodeB, x, x, nil, 1, 1))
	assert.Equal(t, 3, len(d.emitted))
	n.receive(t, n.prepare(nodeC, x, x, nil, 1, 1))
	require.Equal(t, 4, len(d.emitted))
	assert.Equal(t, n.confirm(nodeA, x, 1, 1, 1), d.lastEmitted())
	assert.Equal(t, PhaseConfirm, n.slot(t).Phase())

	// B and C accept the commit, A confirms it and externalizes
	n.receive(t, n.confirm(nodeB, x, 1, 1, 1))
	assert.Equal(t, 4, len(d.emitted))
	assert.Equal(t, 0, len(d.externalized[1]))
	n.receive(t, n.confirm(nodeC, x, 1, 1, 1))
	require.Equal(t, 5, len(d.emitted))
	assert.Equal(t, n.externalize(nodeA, x, 1), d.lastEmitted())
	assert.Equal(t, PhaseExternalize, n.slot(t).Phase())
	assert.Equal(t, []string{"X"}, d.externalized[1])

	// timers are stopped once externalized
	assert.Nil(t, d.timers[BallotProtocolTimer])
	assert.Contains(t, d.stopped, NominationTimer)

	// a late externalize of another value is rejected
	state, err := n.engine.ProcessStatement(n.externalize(nodeD, makeBallot(1, "Y"), 1))
	require.Nil(t, err)
	assert.Equal(t, StatementInvalid, state)

	// a compatible one is recorded without any new emission
	n.receive(t, n.externalize(nodeD, x, 1))
	assert.Equal(t, 5, len(d.emitted))
	assert.Equal(t, []string{"X"}, d.externalized[1])

	v, ok := n.engine.ExternalizedValue(1)
	assert.Equal(t, true, ok)
	assert.Equal(t, "X", v)

	ext := n.slot(t).ExternalizingState()
	require.Equal(t, 4, len(ext))
	assert.Equal(t, nodeA, ext[0].NodeID)
	assert.Equal(t, nodeD, ext[3].NodeID)
}

func TestPrepareSanity(t *testing.T) {
	n := newTestNetwork(t, nil)
	x5, x3 := makeBallot(5, "X"), makeBallot(3, "X")

	invalid := []*Statement{
		// c != 0 requires c <= h
		n.prepare(nodeB, x5, x5, nil, 5, 3),
		// zero counter from a peer
		n.prepare(nodeB, makeBallot(0, "X"), nil, nil, 0, 0),
		// p' must be less than and incompatible with p
		n.prepare(nodeB, x5, x5, x3, 0, 0),
		// h above p
		n.prepare(nodeB, x5, x3, nil, 0, 5),
		// c <= h <= b
		n.confirm(nodeB, x3, 3, 3, 5),
		n.confirm(nodeB, x5, 5, 5, 3),
		// h below the commit counter
		n.externalize(nodeB, x5, 3),
	}
	for _, st := range invalid {
		state, err := n.engine.ProcessStatement(st)
		require.Nil(t, err)
		assert.Equal(t, StatementInvalid, state, "statement %s", st)
	}
	assert.Nil(t, n.slot(t).LatestStatement(nodeB))

	// unknown quorum hash
	st := n.prepare(nodeB, x5, nil, nil, 0, 0)
	st.Pledges.(*Prepare).QuorumHash = "unknown"
	state, err := n.engine.ProcessStatement(st)
	require.Nil(t, err)
	assert.Equal(t, StatementInvalid, state)

	// quorum resolved through the driver
	n.driver.quorums["unknown"] = n.engine.Quorum()
	n.receive(t, st)
	assert.Equal(t, 0, len(n.driver.emitted))
}

func TestStaleStatements(t *testing.T) {
	n := newTestNetwork(t, nil)
	x1, x2 := makeBallot(1, "X"), makeBallot(2, "X")

	n.receive(t, n.prepare(nodeB, x2, nil, nil, 0, 0))

	for _, st := range []*Statement{
		n.prepare(nodeB, x1, nil, nil, 0, 0),
		n.prepare(nodeB, x2, nil, nil, 0, 0),
	} {
		state, err := n.engine.ProcessStatement(st)
		require.Nil(t, err)
		assert.Equal(t, StatementInvalid, state)
	}
	assert.Equal(t, n.prepare(nodeB, x2, nil, nil, 0, 0), n.slot(t).LatestStatement(nodeB))

	// confirm supersedes any prepare
	n.receive(t, n.confirm(nodeB, x1, 1, 1, 1))
	state, err := n.engine.ProcessStatement(n.prepare(nodeB, makeBallot(9, "X"), nil, nil, 0, 0))
	require.Nil(t, err)
	assert.Equal(t, StatementInvalid, state)
}

func TestIdempotentEmission(t *testing.T) {
	n := newTestNetwork(t, nil)
	x1 := makeBallot(1, "X")

	updated, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)
	assert.Equal(t, true, updated)

	// a ballot already exists
	updated, err = n.engine.BumpState(1, "Y", false)
	require.Nil(t, err)
	assert.Equal(t, false, updated)
	assert.Equal(t, 1, len(n.driver.emitted))

	// the same input twice changes nothing
	n.receive(t, n.prepare(nodeB, x1, nil, nil, 0, 0))
	state, err := n.engine.ProcessStatement(n.prepare(nodeB, x1, nil, nil, 0, 0))
	require.Nil(t, err)
	assert.Equal(t, StatementInvalid, state)
	assert.Equal(t, 1, len(n.driver.emitted))

	// forced bump moves to the next counter
	updated, err = n.engine.BumpState(1, "X", true)
	require.Nil(t, err)
	assert.Equal(t, true, updated)
	require.Equal(t, 2, len(n.driver.emitted))
	assert.Equal(t, n.prepare(nodeA, makeBallot(2, "X"), nil, nil, 0, 0), n.driver.lastEmitted())
}

func TestBallotMonotonicity(t *testing.T) {
	n := newTestNetwork(t, nil)

	_, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)
	_, err = n.engine.BumpState(1, "X", true)
	require.Nil(t, err)

	// cannot move back to a smaller counter
	updated, err := n.engine.AbandonBallot(1, 1)
	require.Nil(t, err)
	assert.Equal(t, false, updated)
	assert.Equal(t, "(2, X)", n.slot(t).Info().Ballot)

	updated, err = n.engine.AbandonBallot(1, 0)
	require.Nil(t, err)
	assert.Equal(t, true, updated)
	assert.Equal(t, "(3, X)", n.slot(t).Info().Ballot)

	// abandon picks the composite candidate
	n.engine.SetCompositeCandidate(1, "Y")
	updated, err = n.engine.AbandonBallot(1, 5)
	require.Nil(t, err)
	assert.Equal(t, true, updated)
	assert.Equal(t, "(5, Y)", n.slot(t).Info().Ballot)

	var last *Ballot
	for _, st := range n.driver.emitted {
		b := workingBallot(st)
		assert.Equal(t, 1, compareBallots(b, last), "ballot %s after %s", b, last)
		last = b
	}
	assert.Equal(t, 4, len(n.driver.emitted))
}

func TestValueOverride(t *testing.T) {
	n := newTestNetwork(t, nil)
	x := makeBallot(1, "X")

	_, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)
	n.receive(t,
		n.prepare(nodeB, x, nil, nil, 0, 0),
		n.prepare(nodeC, x, nil, nil, 0, 0),
		n.prepare(nodeB, x, x, nil, 0, 0),
		n.prepare(nodeC, x, x, nil, 0, 0),
	)
	assert.Equal(t, n.prepare(nodeA, x, x, nil, 1, 1), n.driver.lastEmitted())

	// X was confirmed prepared, bumping keeps it
	n.engine.SetCompositeCandidate(1, "Y")
	updated, err := n.engine.AbandonBallot(1, 0)
	require.Nil(t, err)
	assert.Equal(t, true, updated)
	assert.Equal(t, n.prepare(nodeA, makeBallot(2, "X"), x, nil, 1, 1), n.driver.lastEmitted())
}

func TestVBlockingBump(t *testing.T) {
	n := newTestNetwork(t, nil)
	x1 := makeBallot(1, "X")

	_, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)

	// B alone ahead is not v-blocking
	n.receive(t, n.prepare(nodeB, makeBallot(3, "X"), nil, nil, 0, 0))
	assert.Equal(t, "(1, X)", n.slot(t).Info().Ballot)

	// B and C ahead, bump to the lowest counter no v-blocking set is above
	n.receive(t, n.prepare(nodeC, makeBallot(5, "X"), nil, nil, 0, 0))
	assert.Equal(t, "(3, X)", n.slot(t).Info().Ballot)
	require.Equal(t, 2, len(n.driver.emitted))
	assert.Equal(t, StatementPrepare, n.driver.lastEmitted().Type())
	assert.Equal(t, makeBallot(3, "X"), workingBallot(n.driver.lastEmitted()))
	assert.Equal(t, []*Ballot{x1}, n.driver.started)
}

func TestAdvanceRecursionCeiling(t *testing.T) {
	n := newTestNetwork(t, nil)
	x := makeBallot(1, "X")

	_, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)

	s := n.slot(t)
	s.bp.messageLevel = maxAdvanceSlotRecursion

	state, err := n.engine.ProcessStatement(n.prepare(nodeB, x, nil, nil, 0, 0))
	assert.Equal(t, StatementInvalid, state)
	assert.Equal(t, ErrMaxRecursion, err)
	assert.Equal(t, true, IsFatal(err))
	assert.Equal(t, ErrMaxRecursion, s.Aborted())

	// the slot refuses any further processing
	_, err = n.engine.ProcessStatement(n.prepare(nodeC, x, nil, nil, 0, 0))
	assert.Equal(t, ErrSlotAborted, errors.Cause(err))
	_, err = n.engine.BumpState(1, "X", true)
	assert.Equal(t, ErrSlotAborted, errors.Cause(err))
	assert.Equal(t, true, IsFatal(err))

	// other slots are not affected
	updated, err := n.engine.BumpState(2, "X", false)
	require.Nil(t, err)
	assert.Equal(t, true, updated)
}

func TestBallotTimerExpiration(t *testing.T) {
	n := newTestNetwork(t, nil)
	d := n.driver
	x := makeBallot(1, "X")

	_, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)
	n.receive(t,
		n.prepare(nodeB, x, nil, nil, 0, 0),
		n.prepare(nodeC, x, nil, nil, 0, 0),
	)
	cb := d.timers[BallotProtocolTimer]
	require.NotNil(t, cb)

	s := n.slot(t)
	assert.Equal(t, NodeNoInfo, s.NodeState(nodeD, false))
	assert.Equal(t, NodeMissing, s.NodeState(nodeD, true))

	n.engine.SetCompositeCandidate(1, "Y")
	cb()
	info := s.Info()
	assert.Equal(t, 1, info.TimerExpirations)
	assert.Equal(t, "(2, Y)", info.Ballot)
	assert.Equal(t, false, info.Heard)
	assert.Equal(t, n.prepare(nodeA, makeBallot(2, "Y"), x, nil, 0, 0), d.lastEmitted())

	// not heard from a quorum at counter 2
	assert.Nil(t, d.timers[BallotProtocolTimer])

	cb()
	assert.Equal(t, "(3, Y)", s.Info().Ballot)
	assert.Equal(t, NodeMissing, s.NodeState(nodeD, false))
}

func TestNodeState(t *testing.T) {
	n := newTestNetwork(t, nil)
	x := makeBallot(1, "X")

	_, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)
	n.receive(t,
		n.prepare(nodeB, x, nil, nil, 0, 0),
		n.prepare(nodeC, x, nil, nil, 0, 0),
		n.prepare(nodeB, x, x, nil, 0, 0),
		n.prepare(nodeC, x, x, nil, 0, 0),
		n.prepare(nodeB, x, x, nil, 1, 1),
		n.prepare(nodeC, x, x, nil, 1, 1),
	)
	s := n.slot(t)
	require.Equal(t, PhaseConfirm, s.Phase())

	assert.Equal(t, NodeAgree, s.NodeState(nodeA, true))
	assert.Equal(t, NodeAgree, s.NodeState(nodeB, false))
	assert.Equal(t, NodeNoInfo, s.NodeState(nodeD, false))

	// D accepted to commit another value
	n.receive(t, n.confirm(nodeD, makeBallot(2, "Y"), 2, 2, 2))
	assert.Equal(t, NodeDisagree, s.NodeState(nodeD, false))

	n.receive(t,
		n.confirm(nodeB, x, 1, 1, 1),
		n.confirm(nodeC, x, 1, 1, 1),
	)
	require.Equal(t, PhaseExternalize, s.Phase())

	// B only confirmed while A moved on to the next slot
	assert.Equal(t, NodeAgree, s.NodeState(nodeB, false))
	assert.Equal(t, NodeDelayed, s.NodeState(nodeB, true))
	assert.Equal(t, NodeDisagree, s.NodeState(nodeD, true))

	assert.Equal(t, "DELAYED", NodeDelayed.String())
	assert.Equal(t, "NO_INFO", NodeNoInfo.String())
}

func TestQuorumInfo(t *testing.T) {
	n := newTestNetwork(t, nil)
	x := makeBallot(1, "X")

	_, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)
	n.receive(t,
		n.prepare(nodeB, x, nil, nil, 0, 0),
		n.prepare(nodeC, x, nil, nil, 0, 0),
	)

	info, err := n.engine.QuorumInfo(1, nodeA, false)
	require.Nil(t, err)
	assert.Equal(t, "PREPARE", info.Phase)
	// D is silent, one more failure blocks A
	assert.Equal(t, 1, info.FailAt)
	assert.Equal(t, []string{nodeB}, info.FailWith)
	assert.Equal(t, n.engine.Quorum(), info.Quorum)

	info, err = n.engine.QuorumInfo(1, nodeA, true)
	require.Nil(t, err)
	assert.Equal(t, 1, info.FailAt)
	assert.Nil(t, info.FailWith)
	assert.Nil(t, info.Quorum)

	info, err = n.engine.QuorumInfo(1, nodeD, false)
	require.Nil(t, err)
	assert.Equal(t, "expired", info.Phase)

	_, err = n.engine.QuorumInfo(9, nodeA, false)
	assert.Equal(t, ErrSlotNotFound, errors.Cause(err))
}

func TestSlotInfo(t *testing.T) {
	n := newTestNetwork(t, nil)
	x := makeBallot(1, "X")

	_, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)
	n.receive(t,
		n.prepare(nodeB, x, nil, nil, 0, 0),
		n.prepare(nodeC, x, nil, nil, 0, 0),
	)

	info, err := n.engine.SlotInfo(1)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), info.Index)
	assert.Equal(t, "PREPARE", info.Phase)
	assert.Equal(t, true, info.Heard)
	assert.Equal(t, "(1, X)", info.Ballot)
	assert.Equal(t, true, info.FullyValidated)
	// self, B, C and self again after accepting (1, X) as prepared
	assert.Equal(t, 4, len(info.History))

	assert.Equal(t, 3, len(n.slot(t).CurrentState(false)))
	assert.Equal(t, "FINISH", PhaseConfirm.String())

	_, err = n.engine.SlotInfo(9)
	assert.Equal(t, ErrSlotNotFound, errors.Cause(err))
}

func TestMaybeValidValue(t *testing.T) {
	n := newTestNetwork(t, nil)
	n.driver.levels["Z"] = MaybeValidValue
	n.driver.levels["bad"] = InvalidValue

	updated, err := n.engine.BumpState(1, "Z", false)
	require.Nil(t, err)
	assert.Equal(t, true, updated)

	s := n.slot(t)
	assert.Equal(t, false, s.IsFullyValidated())
	// nothing is emitted while the slot is not fully validated
	assert.Equal(t, 0, len(n.driver.emitted))
	assert.Equal(t, 0, len(s.CurrentState(false)))
	assert.Equal(t, 1, len(s.CurrentState(true)))

	state, err := n.engine.ProcessStatement(n.prepare(nodeB, makeBallot(1, "bad"), nil, nil, 0, 0))
	require.Nil(t, err)
	assert.Equal(t, StatementInvalid, state)
}
