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

	"github.com/stretchr/testify/require"

	"github.com/ultiledger/go-ballot/db"
	"github.com/ultiledger/go-ballot/quorum"
)

const (
	nodeA = "node-a"
	nodeB = "node-b"
	nodeC = "node-c"
	nodeD = "node-d"
)

// testDriver records every call made by the engine.
type testDriver struct {
	quorums map[string]*quorum.Quorum
	levels  map[string]ValidationLevel

	emitted      []*Statement
	externalized map[uint64][]string
	timers       map[TimerID]func()
	timeouts     map[TimerID]time.Duration
	stopped      []TimerID

	started   []*Ballot
	confirmed []*Ballot
	heard     []*Ballot
}

func newTestDriver() *testDriver {
	return &testDriver{
		quorums:      make(map[string]*quorum.Quorum),
		levels:       make(map[string]ValidationLevel),
		externalized: make(map[uint64][]string),
		timers:       make(map[TimerID]func()),
		timeouts:     make(map[TimerID]time.Duration),
	}
}

func (d *testDriver) ValidateValue(slotIndex uint64, value string, nomination bool) ValidationLevel {
	if lv, ok := d.levels[value]; ok {
		return lv
	}
	return FullyValidatedValue
}

func (d *testDriver) GetQuorum(hash string) *quorum.Quorum {
	return d.quorums[hash]
}

func (d *testDriver) EmitStatement(stmt *Statement) {
	d.emitted = append(d.emitted, stmt)
}

func (d *testDriver) SetupTimer(slotIndex uint64, id TimerID, timeout time.Duration, cb func()) {
	d.timers[id] = cb
	d.timeouts[id] = timeout
}

func (d *testDriver) StopTimer(slotIndex uint64, id TimerID) {
	delete(d.timers, id)
	d.stopped = append(d.stopped, id)
}

func (d *testDriver) ComputeTimeout(counter uint32) time.Duration {
	return time.Duration(counter) * time.Second
}

func (d *testDriver) ValueExternalized(slotIndex uint64, value string) {
	d.externalized[slotIndex] = append(d.externalized[slotIndex], value)
}

func (d *testDriver) StartedBallotProtocol(slotIndex uint64, ballot *Ballot) {
	d.started = append(d.started, ballot)
}

func (d *testDriver) AcceptedBallotPrepared(slotIndex uint64, ballot *Ballot) {}

func (d *testDriver) ConfirmedBallotPrepared(slotIndex uint64, ballot *Ballot) {
	d.confirmed = append(d.confirmed, ballot)
}

func (d *testDriver) AcceptedCommit(slotIndex uint64, ballot *Ballot) {}

func (d *testDriver) BallotDidHearFromQuorum(slotIndex uint64, ballot *Ballot) {
	d.heard = append(d.heard, ballot)
}

func (d *testDriver) lastEmitted() *Statement {
	if len(d.emitted) == 0 {
		return nil
	}
	return d.emitted[len(d.emitted)-1]
}

// testNetwork is the local node A in a flat quorum of
// A, B, C and D with threshold 3 out of 4.
type testNetwork struct {
	engine *Engine
	driver *testDriver
	hash   string
}

func newTestNetwork(t *testing.T, store db.Database, opts ...func(*EngineContext)) *testNetwork {
	q := quorum.Flat([]string{nodeA, nodeB, nodeC, nodeD}, 0.75)
	d := newTestDriver()
	ctx := &EngineContext{
		NodeID: nodeA,
		Quorum: q,
		Driver: d,
		Store:  store,
		Debug:  true,
	}
	for _, opt := range opts {
		opt(ctx)
	}
	e, err := NewEngine(ctx)
	require.Nil(t, err)
	return &testNetwork{engine: e, driver: d, hash: e.QuorumHash()}
}

func (n *testNetwork) prepare(nodeID string, b *Ballot, p, pp *Ballot, nc, nh uint32) *Statement {
	return &Statement{NodeID: nodeID, SlotIndex: 1, Pledges: &Prepare{
		QuorumHash:    n.hash,
		Ballot:        *b,
		Prepared:      p,
		PreparedPrime: pp,
		NC:            nc,
		NH:            nh,
	}}
}

func (n *testNetwork) confirm(nodeID string, b *Ballot, np, nc, nh uint32) *Statement {
	return &Statement{NodeID: nodeID, SlotIndex: 1, Pledges: &Confirm{
		QuorumHash: n.hash,
		Ballot:     *b,
		NPrepared:  np,
		NCommit:    nc,
		NH:         nh,
	}}
}

func (n *testNetwork) externalize(nodeID string, c *Ballot, nh uint32) *Statement {
	return &Statement{NodeID: nodeID, SlotIndex: 1, Pledges: &Externalize{
		Commit:           *c,
		NH:               nh,
		CommitQuorumHash: n.hash,
	}}
}

// receive processes the statements from the peers
// and requires them to be valid.
func (n *testNetwork) receive(t *testing.T, stmts ...*Statement) {
	for _, st := range stmts {
		state, err := n.engine.ProcessStatement(st)
		require.Nil(t, err)
		require.Equal(t, StatementValid, state, "statement %s", st)
	}
}

func (n *testNetwork) slot(t *testing.T) *Slot {
	s, ok := n.engine.Slot(1)
	require.True(t, ok)
	return s
}

// externalize drives slot 1 to externalize X with B and C.
func (n *testNetwork) externalizeX(t *testing.T) {
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
		n.confirm(nodeB, x, 1, 1, 1),
		n.confirm(nodeC, x, 1, 1, 1),
	)
	require.Equal(t, PhaseExternalize, n.slot(t).Phase())
}
