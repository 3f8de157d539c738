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
	"fmt"
	"sort"

	"github.com/deckarep/golang-set"

	"github.com/ultiledger/go-ballot/quorum"
)

// max number of transitions that can occur from processing one statement
const maxAdvanceSlotRecursion = 50

type Phase int

const (
	PhasePrepare Phase = iota
	PhaseConfirm
	PhaseExternalize
)

var phaseNames = [...]string{"PREPARE", "FINISH", "EXTERNALIZE"}

func (p Phase) String() string {
	if p < PhasePrepare || p > PhaseExternalize {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

// ballotProtocol drives the ballot state of a slot through the
// PREPARE, CONFIRM and EXTERNALIZE phases.
type ballotProtocol struct {
	slot *Slot

	phase Phase

	// b, p, p', h and c of the protocol
	current       *Ballot
	prepared      *Ballot
	preparedPrime *Ballot
	high          *Ballot
	commit        *Ballot

	// value pinned once it was confirmed prepared or accepted committed
	valueOverride    string
	hasValueOverride bool

	// latest statement of each node
	latestStatements map[string]*Statement

	// last statement generated by the local node
	lastStatement *Statement
	// last statement handed to the driver
	lastEmitted *Statement

	heardFromQuorum  bool
	timerExpirations int

	// depth of nested advance calls
	messageLevel int
}

func newBallotProtocol(s *Slot) *ballotProtocol {
	bp := &ballotProtocol{
		slot:             s,
		phase:            PhasePrepare,
		latestStatements: make(map[string]*Statement),
	}
	return bp
}

func (bp *ballotProtocol) isNewerStatement(nodeID string, st *Statement) bool {
	old, ok := bp.latestStatements[nodeID]
	if !ok {
		return true
	}
	return isNewerStatement(old, st)
}

func (bp *ballotProtocol) recordStatement(st *Statement) {
	c := st.Clone()
	bp.latestStatements[st.NodeID] = c
	bp.slot.recordStatement(c)
}

func (bp *ballotProtocol) processStatement(st *Statement, self bool) StatementState {
	logger := bp.slot.logger

	if !bp.isStatementSane(st, self) {
		if self {
			logger.Errorw("not sane statement from self, skipping", "statement", st)
		}
		return StatementInvalid
	}

	if !bp.isNewerStatement(st.NodeID, st) {
		if self {
			logger.Errorw("stale statement from self, skipping", "statement", st)
		} else {
			logger.Debugw("stale statement, skipping", "node", st.NodeID)
		}
		return StatementInvalid
	}

	level := bp.validateValues(st)
	if level == InvalidValue {
		if self {
			logger.Errorw("invalid value from self, skipping", "statement", st)
		} else {
			logger.Debugw("invalid value", "node", st.NodeID)
		}
		return StatementInvalid
	}

	if bp.phase != PhaseExternalize {
		if level == MaybeValidValue {
			bp.slot.fullyValidated = false
		}
		bp.recordStatement(st)
		bp.advanceSlot(st)
		return StatementValid
	}

	// this also handles our own final externalize statement
	if bp.commit.Value == workingBallot(st).Value {
		bp.recordStatement(st)
		return StatementValid
	}

	if self {
		logger.Errorw("externalize statement with invalid value from self, skipping", "statement", st)
	}
	return StatementInvalid
}

func (bp *ballotProtocol) isStatementSane(st *Statement, self bool) bool {
	logger := bp.slot.logger

	q := bp.slot.quorumFromStatement(st)
	if q == nil {
		logger.Debugw("unknown quorum", "node", st.NodeID)
		return false
	}
	if err := quorum.Check(q, false); err != nil {
		logger.Debugw("invalid quorum received", "node", st.NodeID, "err", err)
		return false
	}

	ok := false
	switch p := st.Pledges.(type) {
	case *Prepare:
		// self is allowed to have b = 0 (as long as it never gets emitted)
		ok = self || p.Ballot.Counter > 0
		ok = ok && (p.PreparedPrime == nil || p.Prepared == nil ||
			lessAndIncompatibleBallots(p.PreparedPrime, p.Prepared))
		ok = ok && (p.NH == 0 || (p.Prepared != nil && p.NH <= p.Prepared.Counter))
		// c != 0 -> c <= h <= b
		ok = ok && (p.NC == 0 || (p.NH != 0 && p.Ballot.Counter >= p.NH && p.NH >= p.NC))
	case *Confirm:
		// c <= h <= b
		ok = p.Ballot.Counter > 0 && p.NH <= p.Ballot.Counter && p.NCommit <= p.NH
	case *Externalize:
		ok = p.Commit.Counter > 0 && p.NH >= p.Commit.Counter
	default:
		fatal(ErrUnknownStatement)
	}

	if !ok {
		logger.Debugw("malformed statement", "type", st.Type(), "node", st.NodeID)
	}
	return ok
}

func (bp *ballotProtocol) validateValues(st *Statement) ValidationLevel {
	values := statementValues(st)
	if len(values) == 0 {
		return InvalidValue
	}

	driver := bp.slot.engine.driver
	res := FullyValidatedValue
	for _, v := range values {
		lv := driver.ValidateValue(bp.slot.index, v, false)
		if lv < res {
			res = lv
		}
		if res == InvalidValue {
			break
		}
	}
	return res
}

// Bump the local ballot to counter n (or current+1 if n is 0) with the
// latest composite candidate, falling back to the current value.
func (bp *ballotProtocol) abandonBallot(n uint32) bool {
	v := bp.slot.compositeCandidate
	if v == "" && bp.current != nil {
		v = bp.current.Value
	}
	if v == "" {
		return false
	}
	if n == 0 {
		return bp.bumpState(v, true)
	}
	return bp.bumpStateTo(v, n)
}

func (bp *ballotProtocol) bumpState(value string, force bool) bool {
	if !force && bp.current != nil {
		return false
	}
	n := uint32(1)
	if bp.current != nil {
		n = bp.current.Counter + 1
	}
	return bp.bumpStateTo(value, n)
}

func (bp *ballotProtocol) bumpStateTo(value string, n uint32) bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	newb := makeBallot(n, value)
	if bp.hasValueOverride {
		// use the value we saw confirmed prepared
		// or that we at least voted to commit to
		newb.Value = bp.valueOverride
	}

	bp.slot.logger.Debugw("bump state", "ballot", newb)

	updated := bp.updateCurrentValue(newb)
	if updated {
		bp.emitCurrentStateStatement()
		bp.checkHeardFromQuorum()
	}
	return updated
}

// Update the local state to the ballot enforcing the invariants.
func (bp *ballotProtocol) updateCurrentValue(ballot *Ballot) bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	updated := false
	if bp.current == nil {
		bp.bumpToBallot(ballot, true)
		updated = true
	} else {
		if bp.commit != nil && !compatibleBallots(bp.commit, ballot) {
			return false
		}

		cmp := compareBallots(bp.current, ballot)
		if cmp < 0 {
			bp.bumpToBallot(ballot, true)
			updated = true
		} else if cmp > 0 {
			// this happens when other nodes are not following the protocol,
			// we cannot move back as statements at counter+1 may exist
			bp.slot.logger.Errorw("attempt to bump to a smaller value",
				"current", bp.current, "ballot", ballot)
			return false
		}
	}

	bp.checkInvariants()
	return updated
}

func (bp *ballotProtocol) bumpToBallot(ballot *Ballot, check bool) {
	bp.slot.logger.Debugw("bump to ballot", "ballot", ballot)

	if bp.phase == PhaseExternalize {
		fatalf(ErrInvariant, "bump to ballot %s after externalize", ballot)
	}
	if check && bp.current != nil && compareBallots(ballot, bp.current) < 0 {
		fatalf(ErrInvariant, "current ballot %s moved back to %s", bp.current, ballot)
	}

	gotBumped := bp.current == nil || bp.current.Counter != ballot.Counter

	if bp.current == nil {
		bp.slot.engine.observer.StartedBallotProtocol(bp.slot.index, ballot.Clone())
	}

	bp.current = ballot.Clone()

	// invariant: h.value = b.value
	if bp.high != nil && !compatibleBallots(bp.current, bp.high) {
		bp.high = nil
		// invariant: c set only when h is set
		bp.commit = nil
	}

	if gotBumped {
		bp.heardFromQuorum = false
	}
}

func (bp *ballotProtocol) startBallotProtocolTimer() {
	driver := bp.slot.engine.driver
	timeout := driver.ComputeTimeout(bp.current.Counter)
	driver.SetupTimer(bp.slot.index, BallotProtocolTimer, timeout, bp.slot.ballotTimerExpired)
}

func (bp *ballotProtocol) stopBallotProtocolTimer() {
	bp.slot.engine.driver.StopTimer(bp.slot.index, BallotProtocolTimer)
}

func (bp *ballotProtocol) ballotProtocolTimerExpired() {
	bp.timerExpirations++
	bp.slot.engine.metrics.timerExpired()
	bp.abandonBallot(0)
}

func (bp *ballotProtocol) createStatement() *Statement {
	bp.checkInvariants()

	st := &Statement{
		NodeID:    bp.slot.engine.nodeID,
		SlotIndex: bp.slot.index,
	}
	quorumHash := bp.slot.engine.quorumHash

	switch bp.phase {
	case PhasePrepare:
		p := &Prepare{
			QuorumHash:    quorumHash,
			Prepared:      bp.prepared.Clone(),
			PreparedPrime: bp.preparedPrime.Clone(),
		}
		if bp.current != nil {
			p.Ballot = *bp.current
		}
		if bp.commit != nil {
			p.NC = bp.commit.Counter
		}
		if bp.high != nil {
			p.NH = bp.high.Counter
		}
		st.Pledges = p
	case PhaseConfirm:
		st.Pledges = &Confirm{
			QuorumHash: quorumHash,
			Ballot:     *bp.current,
			NPrepared:  bp.prepared.Counter,
			NCommit:    bp.commit.Counter,
			NH:         bp.high.Counter,
		}
	case PhaseExternalize:
		st.Pledges = &Externalize{
			Commit:           *bp.commit,
			NH:               bp.high.Counter,
			CommitQuorumHash: quorumHash,
		}
	default:
		fatalf(ErrInvariant, "unknown phase %d", bp.phase)
	}

	return st
}

func (bp *ballotProtocol) emitCurrentStateStatement() {
	st := bp.createStatement()

	canEmit := bp.current != nil

	// if we generate the same statement, don't process it again,
	// this can occur when updating h in PREPARE phase as statements
	// only keep track of h.n (but h.x could be different)
	last, ok := bp.latestStatements[bp.slot.engine.nodeID]
	if ok && equalStatements(last, st) {
		return
	}

	if bp.slot.processStatement(st, true) != StatementValid {
		// the local node queued up a statement it considers invalid
		fatalf(ErrBadSelfStatement, "statement %s", st)
	}

	if canEmit && (bp.lastStatement == nil || isNewerStatement(bp.lastStatement, st)) {
		bp.lastStatement = st
		// this is a no-op when invoked from advanceSlot
		// which consolidates all statements sent
		bp.sendLatestStatement()
	}
}

func (bp *ballotProtocol) sendLatestStatement() {
	if bp.messageLevel != 0 || bp.lastStatement == nil || !bp.slot.fullyValidated {
		return
	}
	if bp.lastEmitted != bp.lastStatement {
		bp.lastEmitted = bp.lastStatement
		bp.slot.engine.emitStatement(bp.lastEmitted)
	}
}

func (bp *ballotProtocol) checkInvariants() {
	switch bp.phase {
	case PhasePrepare:
	case PhaseConfirm, PhaseExternalize:
		if bp.current == nil || bp.prepared == nil || bp.commit == nil || bp.high == nil {
			fatalf(ErrInvariant, "missing ballots in phase %s: %s", bp.phase, bp.localState())
		}
	default:
		fatalf(ErrInvariant, "unknown phase %d", bp.phase)
	}

	if bp.current != nil && bp.current.Counter == 0 {
		fatalf(ErrInvariant, "current ballot with zero counter: %s", bp.localState())
	}
	if bp.prepared != nil && bp.preparedPrime != nil &&
		!lessAndIncompatibleBallots(bp.preparedPrime, bp.prepared) {
		fatalf(ErrInvariant, "p' must be less and incompatible with p: %s", bp.localState())
	}
	if bp.high != nil {
		if bp.current == nil || !lessAndCompatibleBallots(bp.high, bp.current) {
			fatalf(ErrInvariant, "h must be less and compatible with b: %s", bp.localState())
		}
	}
	if bp.commit != nil {
		if bp.current == nil || bp.high == nil ||
			!lessAndCompatibleBallots(bp.commit, bp.high) ||
			!lessAndCompatibleBallots(bp.high, bp.current) {
			fatalf(ErrInvariant, "c <= h <= b does not hold: %s", bp.localState())
		}
	}
}

// Collect the ballots that may have been prepared from the hint,
// sorted from the highest to the lowest.
func (bp *ballotProtocol) getPrepareCandidates(hint *Statement) []*Ballot {
	var hintBallots []*Ballot
	switch p := hint.Pledges.(type) {
	case *Prepare:
		hintBallots = append(hintBallots, p.Ballot.Clone())
		if p.Prepared != nil {
			hintBallots = append(hintBallots, p.Prepared.Clone())
		}
		if p.PreparedPrime != nil {
			hintBallots = append(hintBallots, p.PreparedPrime.Clone())
		}
	case *Confirm:
		hintBallots = append(hintBallots, makeBallot(p.NPrepared, p.Ballot.Value))
		hintBallots = append(hintBallots, makeBallot(infiniteCounter, p.Ballot.Value))
	case *Externalize:
		hintBallots = append(hintBallots, makeBallot(infiniteCounter, p.Commit.Value))
	default:
		fatal(ErrUnknownStatement)
	}

	candidates := mapset.NewThreadUnsafeSet()
	for _, top := range hintBallots {
		for _, st := range bp.latestStatements {
			switch p := st.Pledges.(type) {
			case *Prepare:
				if lessAndCompatibleBallots(&p.Ballot, top) {
					candidates.Add(p.Ballot)
				}
				if p.Prepared != nil && lessAndCompatibleBallots(p.Prepared, top) {
					candidates.Add(*p.Prepared)
				}
				if p.PreparedPrime != nil && lessAndCompatibleBallots(p.PreparedPrime, top) {
					candidates.Add(*p.PreparedPrime)
				}
			case *Confirm:
				if compatibleBallots(top, &p.Ballot) {
					candidates.Add(*top)
					if p.NPrepared < top.Counter {
						candidates.Add(Ballot{Counter: p.NPrepared, Value: top.Value})
					}
				}
			case *Externalize:
				if compatibleBallots(top, &p.Commit) {
					candidates.Add(*top)
				}
			default:
				fatal(ErrUnknownStatement)
			}
		}
	}

	res := make([]*Ballot, 0, candidates.Cardinality())
	for c := range candidates.Iter() {
		b := c.(Ballot)
		res = append(res, &b)
	}
	sort.Sort(BallotSlice(res))
	return res
}

func (bp *ballotProtocol) updateCurrentIfNeeded(h *Ballot) bool {
	if bp.current == nil || compareBallots(bp.current, h) < 0 {
		bp.bumpToBallot(h, true)
		return true
	}
	return false
}

func (bp *ballotProtocol) attemptAcceptPrepared(hint *Statement) bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	candidates := bp.getPrepareCandidates(hint)

	// see if we can accept any of the candidates, starting with the highest
	for _, ballot := range candidates {
		if bp.phase == PhaseConfirm {
			// only consider the ballot if it may help us increase
			// p (note: at this point, p ~ c)
			if !lessAndCompatibleBallots(bp.prepared, ballot) {
				continue
			}
			if !compatibleBallots(bp.commit, ballot) {
				fatalf(ErrInvariant, "candidate %s incompatible with commit %s", ballot, bp.commit)
			}
		}

		// if ballot <= p' ballot is neither a candidate for p nor p'
		if bp.preparedPrime != nil && compareBallots(ballot, bp.preparedPrime) <= 0 {
			continue
		}

		// if ballot is already covered by p, skip
		if bp.prepared != nil && lessAndCompatibleBallots(ballot, bp.prepared) {
			continue
		}

		accepted := bp.slot.federatedAccept(prepareVoteFilter(ballot),
			prepareAcceptFilter(ballot), bp.latestStatements)
		if accepted {
			return bp.setAcceptPrepared(ballot)
		}
	}

	return false
}

// p and p' are the two highest prepared and incompatible ballots
func (bp *ballotProtocol) setPrepared(ballot *Ballot) bool {
	didWork := false

	if bp.prepared == nil {
		bp.prepared = ballot.Clone()
		return true
	}

	cmp := compareBallots(bp.prepared, ballot)
	if cmp < 0 {
		// as we're replacing p, we see if we should also replace p'
		if !compatibleBallots(bp.prepared, ballot) {
			bp.preparedPrime = bp.prepared
		}
		bp.prepared = ballot.Clone()
		didWork = true
	} else if cmp > 0 {
		// update p' only if it is unset or the ballot replaces it
		if bp.preparedPrime == nil ||
			(compareBallots(bp.preparedPrime, ballot) < 0 && !compatibleBallots(bp.prepared, ballot)) {
			bp.preparedPrime = ballot.Clone()
			didWork = true
		}
	}
	return didWork
}

func (bp *ballotProtocol) setAcceptPrepared(ballot *Ballot) bool {
	bp.slot.logger.Debugw("accept prepared", "ballot", ballot)

	didWork := bp.setPrepared(ballot)

	// check if we also need to clear c
	if bp.commit != nil && bp.high != nil {
		if (bp.prepared != nil && lessAndIncompatibleBallots(bp.high, bp.prepared)) ||
			(bp.preparedPrime != nil && lessAndIncompatibleBallots(bp.high, bp.preparedPrime)) {
			if bp.phase != PhasePrepare {
				fatalf(ErrInvariant, "commit aborted in phase %s", bp.phase)
			}
			bp.commit = nil
			didWork = true
		}
	}

	if didWork {
		bp.slot.engine.observer.AcceptedBallotPrepared(bp.slot.index, ballot.Clone())
		bp.emitCurrentStateStatement()
	}

	return didWork
}

func (bp *ballotProtocol) attemptConfirmPrepared(hint *Statement) bool {
	if bp.phase != PhasePrepare {
		return false
	}

	// check if we could accept this ballot as prepared
	if bp.prepared == nil {
		return false
	}

	candidates := bp.getPrepareCandidates(hint)

	// find the highest ratified candidate as the new h
	var newH *Ballot
	i := 0
	for ; i < len(candidates); i++ {
		ballot := candidates[i]

		// only consider it if we can potentially raise h
		if bp.high != nil && compareBallots(bp.high, ballot) >= 0 {
			break
		}

		if bp.slot.federatedRatify(prepareAcceptFilter(ballot), bp.latestStatements) {
			newH = ballot
			break
		}
	}

	if newH == nil {
		return false
	}

	// now, look for the new c (left unset if no update)
	var newC *Ballot
	b := &Ballot{}
	if bp.current != nil {
		b = bp.current
	}
	if bp.commit == nil &&
		(bp.prepared == nil || !lessAndIncompatibleBallots(newH, bp.prepared)) &&
		(bp.preparedPrime == nil || !lessAndIncompatibleBallots(newH, bp.preparedPrime)) {
		// continue where we left off (candidates[i] is newH)
		for ; i < len(candidates); i++ {
			ballot := candidates[i]
			if compareBallots(ballot, b) < 0 {
				break
			}
			// c and h must be compatible
			if !lessAndCompatibleBallots(ballot, newH) {
				continue
			}
			if bp.slot.federatedRatify(prepareAcceptFilter(ballot), bp.latestStatements) {
				newC = ballot
			} else {
				break
			}
		}
	}

	return bp.setConfirmPrepared(newC, newH)
}

func (bp *ballotProtocol) setConfirmPrepared(newC *Ballot, newH *Ballot) bool {
	bp.slot.logger.Debugw("confirm prepared", "h", newH, "c", newC)

	didWork := false

	// remember the value of h
	bp.valueOverride = newH.Value
	bp.hasValueOverride = true

	// we don't set c/h if we're not on a compatible ballot
	if bp.current == nil || compatibleBallots(bp.current, newH) {
		if bp.high == nil || compareBallots(newH, bp.high) > 0 {
			bp.high = newH.Clone()
			didWork = true
		}

		if newC != nil && newC.Counter != 0 {
			if bp.commit != nil {
				fatalf(ErrInvariant, "commit %s already set", bp.commit)
			}
			bp.commit = newC.Clone()
			didWork = true
		}

		if didWork {
			bp.slot.engine.observer.ConfirmedBallotPrepared(bp.slot.index, newH.Clone())
		}
	}

	// always bump b to at least h
	didWork = bp.updateCurrentIfNeeded(newH) || didWork

	if didWork {
		bp.emitCurrentStateStatement()
	}

	return didWork
}

func (bp *ballotProtocol) attemptAcceptCommit(hint *Statement) bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	// extract the value to commit from the hint,
	// the counter is only used for logging
	var ballot *Ballot
	switch p := hint.Pledges.(type) {
	case *Prepare:
		if p.NC == 0 {
			return false
		}
		ballot = makeBallot(p.NH, p.Ballot.Value)
	case *Confirm:
		ballot = makeBallot(p.NH, p.Ballot.Value)
	case *Externalize:
		ballot = makeBallot(p.NH, p.Commit.Value)
	default:
		fatal(ErrUnknownStatement)
	}

	if bp.phase == PhaseConfirm && !compatibleBallots(ballot, bp.high) {
		return false
	}

	pred := func(cur interval) bool {
		return bp.slot.federatedAccept(commitVoteFilter(ballot, cur.lo, cur.hi),
			commitAcceptFilter(ballot, cur.lo, cur.hi), bp.latestStatements)
	}

	boundaries := commitBoundaries(ballot, bp.latestStatements)
	if len(boundaries) == 0 {
		return false
	}

	candidate := findExtendedInterval(boundaries, pred)
	if candidate.empty() {
		return false
	}

	if bp.phase != PhaseConfirm || candidate.hi > bp.high.Counter {
		c := makeBallot(candidate.lo, ballot.Value)
		h := makeBallot(candidate.hi, ballot.Value)
		return bp.setAcceptCommit(c, h)
	}
	return false
}

func (bp *ballotProtocol) setAcceptCommit(c *Ballot, h *Ballot) bool {
	bp.slot.logger.Debugw("accept commit", "c", c, "h", h)

	didWork := false

	// remember the value of h
	bp.valueOverride = h.Value
	bp.hasValueOverride = true

	if bp.high == nil || bp.commit == nil ||
		compareBallots(bp.high, h) != 0 || compareBallots(bp.commit, c) != 0 {
		bp.commit = c.Clone()
		bp.high = h.Clone()
		didWork = true
	}

	if bp.phase == PhasePrepare {
		bp.phase = PhaseConfirm
		bp.slot.engine.metrics.phaseEntered(PhaseConfirm)
		if bp.current != nil && !lessAndCompatibleBallots(h, bp.current) {
			bp.bumpToBallot(h, false)
		}
		bp.preparedPrime = nil
		didWork = true
	}

	if didWork {
		bp.updateCurrentIfNeeded(bp.high)
		bp.slot.engine.observer.AcceptedCommit(bp.slot.index, h.Clone())
		bp.emitCurrentStateStatement()
	}

	return didWork
}

func (bp *ballotProtocol) hasVBlockingSubsetStrictlyAheadOf(n uint32) bool {
	return bp.slot.isVBlocking(aheadOfFilter(n), bp.latestStatements)
}

// If the nodes forming a v-blocking set all have ballot counters
// greater than the local one, bump the local ballot to the lowest
// counter for which this is no longer the case. Externalize
// statements implicitly have an infinite counter.
func (bp *ballotProtocol) attemptBump() bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	localCounter := uint32(0)
	if bp.current != nil {
		localCounter = bp.current.Counter
	}
	if !bp.hasVBlockingSubsetStrictlyAheadOf(localCounter) {
		return false
	}

	// collect all the counters we might need to advance to
	set := mapset.NewThreadUnsafeSet()
	for _, st := range bp.latestStatements {
		c := statementBallotCounter(st)
		if c > localCounter {
			set.Add(c)
		}
	}
	counters := make([]uint32, 0, set.Cardinality())
	for c := range set.Iter() {
		counters = append(counters, c.(uint32))
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i] < counters[j] })

	// find the minimal counter no v-blocking set is ahead of
	for _, n := range counters {
		if !bp.hasVBlockingSubsetStrictlyAheadOf(n) {
			return bp.abandonBallot(n)
		}
	}
	return false
}

func (bp *ballotProtocol) attemptConfirmCommit(hint *Statement) bool {
	if bp.phase != PhaseConfirm {
		return false
	}
	if bp.high == nil || bp.commit == nil {
		return false
	}

	var ballot *Ballot
	switch p := hint.Pledges.(type) {
	case *Prepare:
		return false
	case *Confirm:
		ballot = makeBallot(p.NH, p.Ballot.Value)
	case *Externalize:
		ballot = makeBallot(p.NH, p.Commit.Value)
	default:
		fatal(ErrUnknownStatement)
	}

	if !compatibleBallots(ballot, bp.commit) {
		return false
	}

	pred := func(cur interval) bool {
		return bp.slot.federatedRatify(commitAcceptFilter(ballot, cur.lo, cur.hi), bp.latestStatements)
	}

	boundaries := commitBoundaries(ballot, bp.latestStatements)
	candidate := findExtendedInterval(boundaries, pred)
	if candidate.empty() {
		return false
	}

	c := makeBallot(candidate.lo, ballot.Value)
	h := makeBallot(candidate.hi, ballot.Value)
	return bp.setConfirmCommit(c, h)
}

func (bp *ballotProtocol) setConfirmCommit(c *Ballot, h *Ballot) bool {
	bp.slot.logger.Infow("confirm commit", "c", c, "h", h)

	bp.commit = c.Clone()
	bp.high = h.Clone()
	bp.updateCurrentIfNeeded(bp.high)

	bp.phase = PhaseExternalize
	bp.slot.engine.metrics.phaseEntered(PhaseExternalize)

	bp.emitCurrentStateStatement()

	bp.slot.stopNomination()

	bp.slot.engine.valueExternalized(bp.slot.index, bp.commit.Value)

	return true
}

func (bp *ballotProtocol) advanceSlot(hint *Statement) {
	bp.messageLevel++
	if bp.slot.engine.debug {
		bp.slot.logger.Debugw("advance slot", "level", bp.messageLevel, "state", bp.localState())
	}

	if bp.messageLevel > maxAdvanceSlotRecursion {
		fatal(ErrMaxRecursion)
	}

	// attempt* methods queue up statements, causing advanceSlot
	// to be called recursively, they are done in order so that
	// the state is updated following the steps of the protocol
	didWork := false

	didWork = bp.attemptAcceptPrepared(hint) || didWork
	didWork = bp.attemptConfirmPrepared(hint) || didWork
	didWork = bp.attemptAcceptCommit(hint) || didWork
	didWork = bp.attemptConfirmCommit(hint) || didWork

	// only bump after we're done with everything else
	if bp.messageLevel == 1 {
		for {
			// attemptBump may invoke advanceSlot recursively
			didBump := bp.attemptBump()
			didWork = didBump || didWork
			if !didBump {
				break
			}
		}
		bp.checkHeardFromQuorum()
	}

	if bp.slot.engine.debug {
		bp.slot.logger.Debugw("advance slot exiting", "level", bp.messageLevel, "state", bp.localState())
	}

	bp.messageLevel--

	if didWork {
		bp.sendLatestStatement()
	}
}

// Other nodes can only move to higher counters, so the local node
// will not flip flop between heard and not heard for a given counter.
func (bp *ballotProtocol) checkHeardFromQuorum() {
	if bp.current == nil {
		return
	}

	if bp.slot.isQuorum(heardFilter(bp.current.Counter), bp.latestStatements) {
		oldHeard := bp.heardFromQuorum
		bp.heardFromQuorum = true
		if !oldHeard {
			// start the timer when we transition from not heard to heard
			bp.slot.engine.observer.BallotDidHearFromQuorum(bp.slot.index, bp.current.Clone())
			if bp.phase != PhaseExternalize {
				bp.startBallotProtocolTimer()
			}
		}
		if bp.phase == PhaseExternalize {
			bp.stopBallotProtocolTimer()
		}
	} else {
		bp.heardFromQuorum = false
		bp.stopBallotProtocolTimer()
	}
}

// Set the state directly from a statement of the local node.
func (bp *ballotProtocol) setStateFromStatement(st *Statement) {
	if bp.current != nil {
		fatal(ErrStateAlreadySet)
	}

	bp.recordStatement(st)

	bp.lastStatement = st.Clone()
	bp.lastEmitted = bp.lastStatement

	switch p := st.Pledges.(type) {
	case *Prepare:
		b := p.Ballot
		bp.bumpToBallot(&b, true)
		bp.prepared = p.Prepared.Clone()
		bp.preparedPrime = p.PreparedPrime.Clone()
		if p.NH != 0 {
			bp.high = makeBallot(p.NH, b.Value)
		}
		if p.NC != 0 {
			bp.commit = makeBallot(p.NC, b.Value)
		}
		bp.phase = PhasePrepare
	case *Confirm:
		v := p.Ballot.Value
		b := p.Ballot
		bp.bumpToBallot(&b, true)
		bp.prepared = makeBallot(p.NPrepared, v)
		bp.high = makeBallot(p.NH, v)
		bp.commit = makeBallot(p.NCommit, v)
		bp.phase = PhaseConfirm
	case *Externalize:
		v := p.Commit.Value
		bp.bumpToBallot(makeBallot(infiniteCounter, v), true)
		bp.prepared = makeBallot(infiniteCounter, v)
		bp.high = makeBallot(p.NH, v)
		bp.commit = p.Commit.Clone()
		bp.phase = PhaseExternalize
	default:
		fatal(ErrUnknownStatement)
	}
}

func (bp *ballotProtocol) localState() string {
	return fmt.Sprintf("i: %d | %s | b: %s | p: %s | p': %s | h: %s | c: %s | M: %d",
		bp.slot.index, bp.phase, bp.current, bp.prepared, bp.preparedPrime,
		bp.high, bp.commit, len(bp.latestStatements))
}
