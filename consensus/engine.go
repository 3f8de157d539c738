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
	"encoding/binary"
	"sort"

	"code.cloudfoundry.org/clock"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ultiledger/go-ballot/crypto"
	"github.com/ultiledger/go-ballot/db"
	"github.com/ultiledger/go-ballot/log"
	"github.com/ultiledger/go-ballot/quorum"
)

const (
	// bucket of the latest statement emitted per slot
	statementBucket = "BALLOT"
	// number of externalized values remembered after purging slots
	defaultExternalizedCacheSize = 1000
)

// EngineContext contains the wiring of an engine.
type EngineContext struct {
	// id and quorum of the local node
	NodeID string
	Quorum *quorum.Quorum
	Driver Driver
	// defaults to quorum.NewEvaluator()
	Evaluator QuorumEvaluator
	// optional store to persist the emitted statements for restoration
	Store db.Database
	// optional registerer of the engine metrics
	Registerer prometheus.Registerer
	// defaults to the wall clock
	Clock clock.Clock
	// keep the statement history of slots and log
	// the ballot state on each advance
	Debug bool
	// size of the externalized values cache
	CacheSize int
}

// Engine runs the ballot protocol of the local node for
// a sequence of slots. It is not safe for concurrent use,
// all the calls including the timer callbacks must be
// serialized by the caller.
type Engine struct {
	nodeID     string
	shortID    string
	quorum     *quorum.Quorum
	quorumHash string

	driver    Driver
	observer  Observer
	evaluator QuorumEvaluator
	store     db.Database
	metrics   *Metrics
	clock     clock.Clock
	debug     bool

	slots map[uint64]*Slot

	// slot index to externalized value
	externalized *lru.Cache
}

func NewEngine(ctx *EngineContext) (*Engine, error) {
	if ctx.NodeID == "" {
		return nil, errors.New("empty node id")
	}
	if ctx.Driver == nil {
		return nil, errors.New("nil driver")
	}
	if err := quorum.Check(ctx.Quorum, false); err != nil {
		return nil, errors.Wrap(err, "invalid local quorum")
	}
	quorumHash, err := quorum.Hash(ctx.Quorum)
	if err != nil {
		return nil, err
	}

	size := ctx.CacheSize
	if size <= 0 {
		size = defaultExternalizedCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create externalized cache failed")
	}

	e := &Engine{
		nodeID:       ctx.NodeID,
		shortID:      crypto.Abbrev(ctx.NodeID),
		quorum:       ctx.Quorum.Clone(),
		quorumHash:   quorumHash,
		driver:       ctx.Driver,
		observer:     nopObserver{},
		evaluator:    ctx.Evaluator,
		store:        ctx.Store,
		metrics:      NewMetrics(ctx.Registerer),
		clock:        ctx.Clock,
		debug:        ctx.Debug,
		slots:        make(map[uint64]*Slot),
		externalized: cache,
	}
	if o, ok := ctx.Driver.(Observer); ok {
		e.observer = o
	}
	if e.evaluator == nil {
		e.evaluator = quorum.NewEvaluator()
	}
	if e.clock == nil {
		e.clock = clock.NewClock()
	}
	if e.store != nil {
		if err := e.store.NewBucket(statementBucket); err != nil {
			return nil, errors.Wrap(err, "create statement bucket failed")
		}
	}
	return e, nil
}

func (e *Engine) NodeID() string {
	return e.nodeID
}

func (e *Engine) Quorum() *quorum.Quorum {
	return e.quorum.Clone()
}

func (e *Engine) QuorumHash() string {
	return e.quorumHash
}

// Slot returns the slot of the index if it exists.
func (e *Engine) Slot(idx uint64) (*Slot, bool) {
	s, ok := e.slots[idx]
	return s, ok
}

func (e *Engine) getSlot(idx uint64) *Slot {
	if s, ok := e.slots[idx]; ok {
		return s
	}
	s := newSlot(idx, e)
	e.slots[idx] = s
	e.metrics.setActiveSlots(len(e.slots))
	return s
}

// SlotIndexes returns the indexes of the slots in memory in ascending order.
func (e *Engine) SlotIndexes() []uint64 {
	indexes := make([]uint64, 0, len(e.slots))
	for idx := range e.slots {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	return indexes
}

// ProcessStatement processes a statement received from the network.
func (e *Engine) ProcessStatement(stmt *Statement) (StatementState, error) {
	if stmt == nil || stmt.Pledges == nil {
		return StatementInvalid, ErrNilStatement
	}
	return e.getSlot(stmt.SlotIndex).ProcessStatement(stmt, false)
}

// SetStateFromStatement restores the slot state from a statement
// previously emitted by the local node.
func (e *Engine) SetStateFromStatement(stmt *Statement) error {
	if stmt == nil || stmt.Pledges == nil {
		return ErrNilStatement
	}
	return e.getSlot(stmt.SlotIndex).SetStateFromStatement(stmt)
}

// Restore restores the slots from the statements persisted in the
// store and returns the number of restored slots.
func (e *Engine) Restore() (int, error) {
	if e.store == nil {
		return 0, nil
	}
	vals, err := e.store.GetAll(statementBucket, nil)
	if err != nil {
		return 0, errors.Wrap(err, "load statements failed")
	}
	for _, v := range vals {
		stmt, err := DecodeStatement(v)
		if err != nil {
			return 0, err
		}
		if err := e.SetStateFromStatement(stmt); err != nil {
			return 0, errors.Wrapf(err, "restore slot %d failed", stmt.SlotIndex)
		}
		if value, ok := e.getSlot(stmt.SlotIndex).ExternalizedValue(); ok {
			e.externalized.Add(stmt.SlotIndex, value)
		}
		log.Infow("slot restored", "slot", stmt.SlotIndex, "statement", stmt)
	}
	return len(vals), nil
}

// BumpState starts or bumps the ballot protocol of the slot with the value.
func (e *Engine) BumpState(idx uint64, value string, force bool) (bool, error) {
	return e.getSlot(idx).BumpState(value, force)
}

// SetCompositeCandidate sets the value used when the ballot of the slot
// is abandoned.
func (e *Engine) SetCompositeCandidate(idx uint64, value string) {
	e.getSlot(idx).SetCompositeCandidate(value)
}

func (e *Engine) AbandonBallot(idx uint64, n uint32) (bool, error) {
	return e.getSlot(idx).AbandonBallot(n)
}

// PurgeSlots removes the slots below the index from memory and store.
func (e *Engine) PurgeSlots(maxSlotIndex uint64) error {
	for idx := range e.slots {
		if idx >= maxSlotIndex {
			continue
		}
		delete(e.slots, idx)
		if e.store != nil {
			if err := e.store.Delete(statementBucket, slotKey(idx)); err != nil {
				return errors.Wrapf(err, "delete statement of slot %d failed", idx)
			}
		}
	}
	e.metrics.setActiveSlots(len(e.slots))
	return nil
}

// ExternalizedValue returns the value agreed in the slot.
func (e *Engine) ExternalizedValue(idx uint64) (string, bool) {
	if v, ok := e.externalized.Get(idx); ok {
		return v.(string), true
	}
	if s, ok := e.slots[idx]; ok {
		return s.ExternalizedValue()
	}
	return "", false
}

func (e *Engine) SlotInfo(idx uint64) (*SlotInfo, error) {
	s, ok := e.slots[idx]
	if !ok {
		return nil, errors.Wrapf(ErrSlotNotFound, "slot %d", idx)
	}
	return s.Info(), nil
}

func (e *Engine) QuorumInfo(idx uint64, nodeID string, summary bool) (*QuorumInfo, error) {
	s, ok := e.slots[idx]
	if !ok {
		return nil, errors.Wrapf(ErrSlotNotFound, "slot %d", idx)
	}
	return s.QuorumInfo(nodeID, summary), nil
}

func (e *Engine) emitStatement(stmt *Statement) {
	if e.store != nil {
		b, err := EncodeStatement(stmt)
		if err != nil {
			fatalf(ErrInvariant, "encode self statement: %v", err)
		}
		if err := e.store.Put(statementBucket, slotKey(stmt.SlotIndex), b); err != nil {
			log.Errorw("persist statement failed", "slot", stmt.SlotIndex, "err", err)
		}
	}
	e.metrics.statementEmitted(stmt.Type())
	e.driver.EmitStatement(stmt.Clone())
}

func (e *Engine) valueExternalized(idx uint64, value string) {
	e.externalized.Add(idx, value)
	e.driver.ValueExternalized(idx, value)
}

// big endian keys keep the statements sorted by slot index
func slotKey(idx uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, idx)
	return key
}
