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
	"time"

	"github.com/deckarep/golang-set"

	"github.com/ultiledger/go-ballot/quorum"
)

type ValidationLevel int

const (
	InvalidValue ValidationLevel = iota
	MaybeValidValue
	FullyValidatedValue
)

type TimerID int

const (
	NominationTimer TimerID = iota
	BallotProtocolTimer
)

// StatementState is the result of processing a statement.
type StatementState int

const (
	StatementInvalid StatementState = iota
	StatementValid
)

func (s StatementState) String() string {
	if s == StatementValid {
		return "valid"
	}
	return "invalid"
}

// Driver is the interface the engine uses to talk to the
// application hosting it. All the methods are called from
// the goroutine driving the engine and must not block.
type Driver interface {
	// ValidateValue checks the value proposed for the slot.
	ValidateValue(slotIndex uint64, value string, nomination bool) ValidationLevel
	// GetQuorum resolves a quorum hash, nil if unknown.
	GetQuorum(hash string) *quorum.Quorum
	// EmitStatement broadcasts a statement of the local node.
	EmitStatement(stmt *Statement)
	// SetupTimer arms the timer of the slot replacing any armed one,
	// the callback must be invoked on the goroutine driving the engine.
	SetupTimer(slotIndex uint64, id TimerID, timeout time.Duration, cb func())
	StopTimer(slotIndex uint64, id TimerID)
	// ComputeTimeout returns the ballot timeout for the counter.
	ComputeTimeout(counter uint32) time.Duration
	// ValueExternalized is called once per slot with the agreed value.
	ValueExternalized(slotIndex uint64, value string)
}

// Observer is optionally implemented by a Driver
// to follow the progress of the ballot protocol.
type Observer interface {
	StartedBallotProtocol(slotIndex uint64, ballot *Ballot)
	AcceptedBallotPrepared(slotIndex uint64, ballot *Ballot)
	ConfirmedBallotPrepared(slotIndex uint64, ballot *Ballot)
	AcceptedCommit(slotIndex uint64, ballot *Ballot)
	BallotDidHearFromQuorum(slotIndex uint64, ballot *Ballot)
}

// QuorumEvaluator decides whether a set of nodes forms a quorum or a
// v-blocking set, see quorum.Evaluator for the default implementation.
type QuorumEvaluator interface {
	IsQuorum(q *quorum.Quorum, nodes mapset.Set, lookup func(string) *quorum.Quorum) bool
	IsVBlocking(q *quorum.Quorum, nodes mapset.Set) bool
	FindClosestVBlocking(q *quorum.Quorum, nodes mapset.Set, excluded string) []string
}

type nopObserver struct{}

func (nopObserver) StartedBallotProtocol(uint64, *Ballot)   {}
func (nopObserver) AcceptedBallotPrepared(uint64, *Ballot)  {}
func (nopObserver) ConfirmedBallotPrepared(uint64, *Ballot) {}
func (nopObserver) AcceptedCommit(uint64, *Ballot)          {}
func (nopObserver) BallotDidHearFromQuorum(uint64, *Ballot) {}
