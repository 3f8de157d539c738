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

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultiledger/go-ballot/db/memdb"
	"github.com/ultiledger/go-ballot/quorum"
)

func TestNewEngine(t *testing.T) {
	q := quorum.Flat([]string{nodeA, nodeB}, 1.0)

	_, err := NewEngine(&EngineContext{Quorum: q, Driver: newTestDriver()})
	assert.NotNil(t, err)

	_, err = NewEngine(&EngineContext{NodeID: nodeA, Quorum: q})
	assert.NotNil(t, err)

	_, err = NewEngine(&EngineContext{NodeID: nodeA, Driver: newTestDriver()})
	assert.Equal(t, quorum.ErrNilQuorum, errors.Cause(err))

	bad := &quorum.Quorum{Threshold: 1.5, Validators: []string{nodeA}}
	_, err = NewEngine(&EngineContext{NodeID: nodeA, Quorum: bad, Driver: newTestDriver()})
	assert.Equal(t, quorum.ErrInvalidThreshold, errors.Cause(err))

	e, err := NewEngine(&EngineContext{NodeID: nodeA, Quorum: q, Driver: newTestDriver()})
	require.Nil(t, err)
	hash, err := quorum.Hash(q)
	require.Nil(t, err)
	assert.Equal(t, hash, e.QuorumHash())
	assert.Equal(t, nodeA, e.NodeID())
	assert.Equal(t, 0, len(e.SlotIndexes()))
}

func TestRestorePrepared(t *testing.T) {
	store := memdb.New()
	n := newTestNetwork(t, store)
	x := makeBallot(1, "X")

	_, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)

	// a restarted node picks up its own latest statement
	r := newTestNetwork(t, store)
	count, err := r.engine.Restore()
	require.Nil(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "(1, X)", r.slot(t).Info().Ballot)
	assert.Equal(t, 0, len(r.driver.emitted))

	// and continues from there
	r.receive(t,
		r.prepare(nodeB, x, nil, nil, 0, 0),
		r.prepare(nodeC, x, nil, nil, 0, 0),
	)
	require.Equal(t, 1, len(r.driver.emitted))
	assert.Equal(t, r.prepare(nodeA, x, x, nil, 0, 0), r.driver.lastEmitted())
}

func TestRestoreExternalized(t *testing.T) {
	store := memdb.New()
	n := newTestNetwork(t, store)
	n.externalizeX(t)

	r := newTestNetwork(t, store)
	count, err := r.engine.Restore()
	require.Nil(t, err)
	assert.Equal(t, 1, count)

	s := r.slot(t)
	assert.Equal(t, PhaseExternalize, s.Phase())
	v, ok := r.engine.ExternalizedValue(1)
	assert.Equal(t, true, ok)
	assert.Equal(t, "X", v)
	assert.Equal(t, n.externalize(nodeA, makeBallot(1, "X"), 1), s.LatestStatement(nodeA))

	// the restored slot does not bump any more
	updated, err := r.engine.BumpState(1, "X", true)
	require.Nil(t, err)
	assert.Equal(t, false, updated)
}

func TestSetStateTwice(t *testing.T) {
	n := newTestNetwork(t, nil)
	st := n.prepare(nodeA, makeBallot(2, "X"), makeBallot(1, "X"), nil, 0, 1)

	require.Nil(t, n.engine.SetStateFromStatement(st))
	assert.Equal(t, "(2, X)", n.slot(t).Info().Ballot)

	err := n.engine.SetStateFromStatement(st)
	assert.Equal(t, ErrStateAlreadySet, err)

	_, err = n.engine.ProcessStatement(n.prepare(nodeB, makeBallot(2, "X"), nil, nil, 0, 0))
	assert.Equal(t, ErrSlotAborted, errors.Cause(err))
}

func TestSetStateRejections(t *testing.T) {
	n := newTestNetwork(t, nil)

	err := n.engine.SetStateFromStatement(n.prepare(nodeB, makeBallot(1, "X"), nil, nil, 0, 0))
	assert.Equal(t, ErrNotSelfStatement, errors.Cause(err))

	assert.Equal(t, ErrNilStatement, n.engine.SetStateFromStatement(nil))
	_, err = n.engine.ProcessStatement(&Statement{NodeID: nodeB, SlotIndex: 1})
	assert.Equal(t, ErrNilStatement, err)

	// the slot is still usable
	updated, err := n.engine.BumpState(1, "X", false)
	require.Nil(t, err)
	assert.Equal(t, true, updated)
}

func TestPurgeSlots(t *testing.T) {
	store := memdb.New()
	n := newTestNetwork(t, store)
	n.externalizeX(t)

	for _, idx := range []uint64{2, 3} {
		_, err := n.engine.BumpState(idx, "X", false)
		require.Nil(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3}, n.engine.SlotIndexes())

	require.Nil(t, n.engine.PurgeSlots(3))
	assert.Equal(t, []uint64{3}, n.engine.SlotIndexes())

	vals, err := store.GetAll(statementBucket, nil)
	require.Nil(t, err)
	assert.Equal(t, 1, len(vals))

	// the value of a purged slot is still known
	v, ok := n.engine.ExternalizedValue(1)
	assert.Equal(t, true, ok)
	assert.Equal(t, "X", v)
	_, ok = n.engine.ExternalizedValue(2)
	assert.Equal(t, false, ok)
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := newTestNetwork(t, nil, func(ctx *EngineContext) {
		ctx.Registerer = reg
	})
	n.externalizeX(t)

	m := n.engine.metrics
	assert.Equal(t, float64(3), testutil.ToFloat64(m.emitted.WithLabelValues("PREPARE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.emitted.WithLabelValues("CONFIRM")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.emitted.WithLabelValues("EXTERNALIZE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.phases.WithLabelValues("FINISH")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.externalized))
	assert.Equal(t, float64(8), testutil.ToFloat64(m.statements.WithLabelValues("PREPARE", "valid"))+
		testutil.ToFloat64(m.statements.WithLabelValues("CONFIRM", "valid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeSlots))

	// a nil metrics discards everything
	var nm *Metrics
	nm.statementEmitted(StatementPrepare)
	nm.phaseEntered(PhaseExternalize)
}
