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
	"time"

	"github.com/ultiledger/go-ballot/crypto"
	"github.com/ultiledger/go-ballot/quorum"
)

// Number of timeouts before a silent node is reported missing.
const numTimeoutsThresholdForReporting = 2

// NodeState is the state of a node in the quorum as seen by the local node.
type NodeState int

const (
	NodeAgree NodeState = iota
	NodeMissing
	NodeNoInfo
	NodeDelayed
	NodeDisagree
)

var nodeStateNames = [...]string{"AGREE", "MISSING", "NO_INFO", "DELAYED", "DISAGREE"}

func (s NodeState) String() string {
	if s < NodeAgree || s > NodeDisagree {
		return "UNKNOWN"
	}
	return nodeStateNames[s]
}

// Information about the ballot state of a slot.
type SlotInfo struct {
	Index             uint64          `json:"index"`
	Phase             string          `json:"phase"`
	Heard             bool            `json:"heard"`
	Ballot            string          `json:"ballot"`
	State             string          `json:"state"`
	FullyValidated    bool            `json:"fully_validated"`
	NominationStopped bool            `json:"nomination_stopped"`
	TimerExpirations  int             `json:"timer_expirations"`
	History           []*HistoryEntry `json:"history,omitempty"`
}

// Record of a statement processed by the slot.
type HistoryEntry struct {
	When      time.Time `json:"when"`
	Statement string    `json:"statement"`
	Validated bool      `json:"validated"`
}

// Information about how close the quorum of a node is to be blocked.
type QuorumInfo struct {
	Phase    string         `json:"phase"`
	FailAt   int            `json:"fail_at"`
	FailWith []string       `json:"fail_with,omitempty"`
	Quorum   *quorum.Quorum `json:"value,omitempty"`
	Hash     string         `json:"hash"`
}

func (bp *ballotProtocol) info() *SlotInfo {
	return &SlotInfo{
		Index:            bp.slot.index,
		Phase:            bp.phase.String(),
		Heard:            bp.heardFromQuorum,
		Ballot:           bp.current.String(),
		State:            bp.localState(),
		TimerExpirations: bp.timerExpirations,
	}
}

func (bp *ballotProtocol) nodeState(nodeID string, selfMovedOn bool) NodeState {
	state := NodeAgree
	if nodeID == bp.slot.engine.nodeID {
		// always mark myself as AGREE
		return state
	}

	st, ok := bp.latestStatements[nodeID]
	if !ok {
		if bp.timerExpirations >= numTimeoutsThresholdForReporting || selfMovedOn {
			return NodeMissing
		}
		// too soon to call the node missing
		return NodeNoInfo
	}

	if bp.lastEmitted == nil {
		return state
	}

	t := st.Type()
	externalized := t == StatementExternalize
	confirmedCommit := false
	if c, ok := st.Pledges.(*Confirm); ok {
		confirmedCommit = c.Ballot.Counter == infiniteCounter
	}
	if bp.phase == PhaseExternalize && !externalized && !confirmedCommit && selfMovedOn {
		// we have externalized and moved on to the next slot
		// but the node has not externalized yet
		state = NodeDelayed
	}

	selfAcceptedConfirm := bp.phase == PhaseConfirm || bp.phase == PhaseExternalize
	otherAcceptedConfirm := t == StatementConfirm || t == StatementExternalize
	if selfAcceptedConfirm && otherAcceptedConfirm &&
		!compatibleBallots(workingBallot(st), workingBallot(bp.lastEmitted)) {
		// the node accepted to commit a different value than ours
		state = NodeDisagree
	}
	return state
}

func (bp *ballotProtocol) quorumInfo(nodeID string, summary bool) *QuorumInfo {
	info := &QuorumInfo{}

	b := &Ballot{}
	var quorumHash string

	st, ok := bp.latestStatements[nodeID]
	if !ok {
		info.Phase = "unknown"
		if nodeID == bp.slot.engine.nodeID {
			quorumHash = bp.slot.engine.quorumHash
		}
	} else {
		switch p := st.Pledges.(type) {
		case *Prepare:
			info.Phase = "PREPARE"
			b = &p.Ballot
		case *Confirm:
			info.Phase = "CONFIRM"
			b = &p.Ballot
		case *Externalize:
			info.Phase = "EXTERNALIZE"
			b = &p.Commit
		default:
			fatal(ErrUnknownStatement)
		}
		// use the companion quorum even for externalize to
		// capture the view of the quorum during consensus
		quorumHash = companionQuorumHash(st)
	}

	q := bp.slot.getQuorum(quorumHash)
	if q == nil {
		info.Phase = "expired"
		return info
	}

	nodes := filterNodes(bp.latestStatements, func(st *Statement) bool {
		return compatibleBallots(workingBallot(st), b)
	})
	f := bp.slot.engine.evaluator.FindClosestVBlocking(q, nodes, nodeID)
	info.FailAt = len(f)

	if !summary {
		info.FailWith = f
		info.Quorum = q.Clone()
	}
	info.Hash = crypto.Abbrev(quorumHash)

	return info
}

func (bp *ballotProtocol) currentState(forceSelf bool) []*Statement {
	var res []*Statement
	for nodeID, st := range bp.latestStatements {
		// only return statements of self if the slot is fully validated
		if forceSelf || nodeID != bp.slot.engine.nodeID || bp.slot.fullyValidated {
			res = append(res, st.Clone())
		}
	}
	sortStatements(res)
	return res
}

func (bp *ballotProtocol) latestStatement(nodeID string) *Statement {
	if st, ok := bp.latestStatements[nodeID]; ok {
		return st.Clone()
	}
	return nil
}

func (bp *ballotProtocol) externalizingState() []*Statement {
	if bp.phase != PhaseExternalize {
		return nil
	}
	var res []*Statement
	for nodeID, st := range bp.latestStatements {
		if nodeID != bp.slot.engine.nodeID {
			// statements with the value that externalized
			if compatibleBallots(workingBallot(st), bp.commit) {
				res = append(res, st.Clone())
			}
		} else if bp.slot.fullyValidated {
			res = append(res, st.Clone())
		}
	}
	sortStatements(res)
	return res
}

func sortStatements(stmts []*Statement) {
	sort.Slice(stmts, func(i, j int) bool {
		return stmts[i].NodeID < stmts[j].NodeID
	})
}
