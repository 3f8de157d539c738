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
	"github.com/deckarep/golang-set"
	"github.com/pkg/errors"

	"github.com/ultiledger/go-ballot/log"
	"github.com/ultiledger/go-ballot/quorum"
)

// Slot is responsible for maintaining consensus
// state for a slot index. It is not safe for
// concurrent use.
type Slot struct {
	index  uint64
	engine *Engine
	logger *log.Logger

	bp *ballotProtocol

	// false once a statement with a maybe valid value was accepted
	fullyValidated bool

	// latest composite candidate produced by nomination
	compositeCandidate string
	nominationStopped  bool

	// processed statements, only kept in debug mode
	history []*HistoryEntry

	// the fatal error that stopped the slot
	aborted error
}

func newSlot(idx uint64, e *Engine) *Slot {
	s := &Slot{
		index:          idx,
		engine:         e,
		logger:         log.With("slot", idx, "node", e.shortID),
		fullyValidated: true,
	}
	s.bp = newBallotProtocol(s)
	return s
}

func (s *Slot) Index() uint64 {
	return s.index
}

// Recover the fatal condition raised while processing the slot,
// the slot is aborted and refuses any further processing.
func (s *Slot) guard(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	fe, ok := r.(fatalError)
	if !ok {
		panic(r)
	}
	s.aborted = fe.err
	s.engine.metrics.fatalRaised()
	s.logger.Errorw("slot processing aborted", "err", fe.err, "state", s.bp.localState())
	*errp = fe.err
}

func (s *Slot) checkAborted() error {
	if s.aborted != nil {
		return errors.Wrapf(ErrSlotAborted, "%v", s.aborted)
	}
	return nil
}

// ProcessStatement processes a statement of the slot, self
// indicates whether the statement is from the local node.
func (s *Slot) ProcessStatement(stmt *Statement, self bool) (state StatementState, err error) {
	if err := s.checkAborted(); err != nil {
		return StatementInvalid, err
	}
	if stmt == nil || stmt.Pledges == nil {
		return StatementInvalid, ErrNilStatement
	}
	if stmt.SlotIndex != s.index {
		return StatementInvalid, errors.Wrapf(ErrSlotMismatch, "got %d want %d", stmt.SlotIndex, s.index)
	}
	defer s.guard(&err)

	state = s.processStatement(stmt, self)
	s.engine.metrics.statementProcessed(stmt.Type(), state)
	return state, nil
}

func (s *Slot) processStatement(stmt *Statement, self bool) StatementState {
	if s.engine.debug {
		s.logger.Debugw("process statement", "self", self, "statement", stmt)
	}
	return s.bp.processStatement(stmt, self)
}

// SetStateFromStatement restores the ballot state from a statement
// previously emitted by the local node.
func (s *Slot) SetStateFromStatement(stmt *Statement) (err error) {
	if err := s.checkAborted(); err != nil {
		return err
	}
	if stmt == nil || stmt.Pledges == nil {
		return ErrNilStatement
	}
	if stmt.NodeID != s.engine.nodeID {
		return errors.Wrapf(ErrNotSelfStatement, "node %s", stmt.NodeID)
	}
	if stmt.SlotIndex != s.index {
		return errors.Wrapf(ErrSlotMismatch, "got %d want %d", stmt.SlotIndex, s.index)
	}
	defer s.guard(&err)

	s.bp.setStateFromStatement(stmt)
	return nil
}

// BumpState starts the ballot protocol with the value or, when forced,
// bumps the current ballot counter by one.
func (s *Slot) BumpState(value string, force bool) (updated bool, err error) {
	if err := s.checkAborted(); err != nil {
		return false, err
	}
	defer s.guard(&err)

	updated = s.bp.bumpState(value, force)
	return updated, nil
}

// AbandonBallot bumps the ballot to counter n with the latest
// composite candidate, or to the next counter if n is 0.
func (s *Slot) AbandonBallot(n uint32) (updated bool, err error) {
	if err := s.checkAborted(); err != nil {
		return false, err
	}
	defer s.guard(&err)

	updated = s.bp.abandonBallot(n)
	return updated, nil
}

// SetCompositeCandidate saves the value combined from the
// confirmed nominated candidates.
func (s *Slot) SetCompositeCandidate(value string) {
	s.compositeCandidate = value
}

func (s *Slot) ballotTimerExpired() {
	if s.aborted != nil {
		return
	}
	var err error
	defer func() {
		if err != nil {
			s.logger.Errorw("ballot timer expiration failed", "err", err)
		}
	}()
	defer s.guard(&err)

	s.bp.ballotProtocolTimerExpired()
}

func (s *Slot) stopNomination() {
	s.nominationStopped = true
	s.engine.driver.StopTimer(s.index, NominationTimer)
}

func (s *Slot) recordStatement(st *Statement) {
	if !s.engine.debug {
		return
	}
	s.history = append(s.history, &HistoryEntry{
		When:      s.engine.clock.Now(),
		Statement: st.String(),
		Validated: s.fullyValidated,
	})
}

func (s *Slot) Phase() Phase {
	return s.bp.phase
}

func (s *Slot) IsFullyValidated() bool {
	return s.fullyValidated
}

// Aborted returns the fatal error that stopped the slot, if any.
func (s *Slot) Aborted() error {
	return s.aborted
}

// ExternalizedValue returns the agreed value once the slot externalized.
func (s *Slot) ExternalizedValue() (string, bool) {
	if s.bp.phase != PhaseExternalize {
		return "", false
	}
	return s.bp.commit.Value, true
}

func (s *Slot) Info() *SlotInfo {
	info := s.bp.info()
	info.FullyValidated = s.fullyValidated
	info.NominationStopped = s.nominationStopped
	if s.engine.debug {
		info.History = append(info.History, s.history...)
	}
	return info
}

// QuorumInfo reports how close the quorum of the node is to be blocked,
// a summary omits the blocking nodes and the quorum itself.
func (s *Slot) QuorumInfo(nodeID string, summary bool) *QuorumInfo {
	return s.bp.quorumInfo(nodeID, summary)
}

func (s *Slot) NodeState(nodeID string, selfMovedOn bool) NodeState {
	return s.bp.nodeState(nodeID, selfMovedOn)
}

// CurrentState returns the latest statements of the slot, the ones of
// the local node only when the slot is fully validated or forced.
func (s *Slot) CurrentState(forceSelf bool) []*Statement {
	return s.bp.currentState(forceSelf)
}

func (s *Slot) LatestStatement(nodeID string) *Statement {
	return s.bp.latestStatement(nodeID)
}

// ExternalizingState returns the statements that helped the slot
// to externalize.
func (s *Slot) ExternalizingState() []*Statement {
	return s.bp.externalizingState()
}

func (s *Slot) getQuorum(hash string) *quorum.Quorum {
	if hash == "" {
		return nil
	}
	if hash == s.engine.quorumHash {
		return s.engine.quorum
	}
	return s.engine.driver.GetQuorum(hash)
}

// Externalize statements use the singleton quorum of their sender.
func (s *Slot) quorumFromStatement(st *Statement) *quorum.Quorum {
	if _, ok := st.Pledges.(*Externalize); ok {
		return quorum.Singleton(st.NodeID)
	}
	return s.getQuorum(companionQuorumHash(st))
}

func filterNodes(stmts map[string]*Statement, filter StatementFilter) mapset.Set {
	nodes := mapset.NewThreadUnsafeSet()
	for nodeID, st := range stmts {
		if filter(st) {
			nodes.Add(nodeID)
		}
	}
	return nodes
}

func (s *Slot) isQuorum(filter StatementFilter, stmts map[string]*Statement) bool {
	lookup := func(nodeID string) *quorum.Quorum {
		st, ok := stmts[nodeID]
		if !ok {
			return nil
		}
		return s.quorumFromStatement(st)
	}
	return s.engine.evaluator.IsQuorum(s.engine.quorum, filterNodes(stmts, filter), lookup)
}

func (s *Slot) isVBlocking(filter StatementFilter, stmts map[string]*Statement) bool {
	return s.engine.evaluator.IsVBlocking(s.engine.quorum, filterNodes(stmts, filter))
}

// Federated accept holds when a v-blocking set accepted the statement
// or a quorum voted or accepted it.
func (s *Slot) federatedAccept(voted StatementFilter, accepted StatementFilter, stmts map[string]*Statement) bool {
	if s.isVBlocking(accepted, stmts) {
		return true
	}
	votedOrAccepted := func(st *Statement) bool {
		return voted(st) || accepted(st)
	}
	return s.isQuorum(votedOrAccepted, stmts)
}

// Federated ratify holds when a quorum voted the statement.
func (s *Slot) federatedRatify(voted StatementFilter, stmts map[string]*Statement) bool {
	return s.isQuorum(voted, stmts)
}
