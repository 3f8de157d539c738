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
	"reflect"

	"github.com/ultiledger/go-ballot/crypto"
)

type StatementType int

const (
	StatementPrepare StatementType = iota
	StatementConfirm
	StatementExternalize
)

var statementTypeNames = [...]string{"PREPARE", "CONFIRM", "EXTERNALIZE"}

func (t StatementType) String() string {
	if t < StatementPrepare || t > StatementExternalize {
		return "UNKNOWN"
	}
	return statementTypeNames[t]
}

// Pledges is the content of a ballot statement, it is
// implemented by *Prepare, *Confirm and *Externalize only.
type Pledges interface {
	Type() StatementType
	clonePledges() Pledges
}

// Prepare votes to abort every ballot below Ballot that is
// incompatible with it. Prepared and PreparedPrime are the two
// highest incompatible ballots accepted as prepared, NC and NH
// are the counters of the commit and high ballots implicitly
// compatible with Ballot (0 means unset).
type Prepare struct {
	QuorumHash    string  `cbor:"1,keyasint"`
	Ballot        Ballot  `cbor:"2,keyasint"`
	Prepared      *Ballot `cbor:"3,keyasint,omitempty"`
	PreparedPrime *Ballot `cbor:"4,keyasint,omitempty"`
	NC            uint32  `cbor:"5,keyasint"`
	NH            uint32  `cbor:"6,keyasint"`
}

func (p *Prepare) Type() StatementType { return StatementPrepare }

func (p *Prepare) clonePledges() Pledges {
	np := *p
	np.Prepared = p.Prepared.Clone()
	np.PreparedPrime = p.PreparedPrime.Clone()
	return &np
}

// Confirm accepts to commit the ballots with counters in [NCommit, NH].
type Confirm struct {
	QuorumHash string `cbor:"1,keyasint"`
	Ballot     Ballot `cbor:"2,keyasint"`
	NPrepared  uint32 `cbor:"3,keyasint"`
	NCommit    uint32 `cbor:"4,keyasint"`
	NH         uint32 `cbor:"5,keyasint"`
}

func (c *Confirm) Type() StatementType { return StatementConfirm }

func (c *Confirm) clonePledges() Pledges {
	nc := *c
	return &nc
}

// Externalize confirms Commit and every compatible ballot above it.
type Externalize struct {
	Commit           Ballot `cbor:"1,keyasint"`
	NH               uint32 `cbor:"2,keyasint"`
	CommitQuorumHash string `cbor:"3,keyasint"`
}

func (e *Externalize) Type() StatementType { return StatementExternalize }

func (e *Externalize) clonePledges() Pledges {
	ne := *e
	return &ne
}

// Statement is the pledges of a node in a slot.
type Statement struct {
	NodeID    string
	SlotIndex uint64
	Pledges   Pledges
}

func (s *Statement) Type() StatementType {
	return s.Pledges.Type()
}

func (s *Statement) Clone() *Statement {
	if s == nil {
		return nil
	}
	return &Statement{
		NodeID:    s.NodeID,
		SlotIndex: s.SlotIndex,
		Pledges:   s.Pledges.clonePledges(),
	}
}

func (s *Statement) String() string {
	if s == nil {
		return "<nil>"
	}
	var body string
	switch p := s.Pledges.(type) {
	case *Prepare:
		body = fmt.Sprintf("PREPARE D: %s b: %s p: %s p': %s c.n: %d h.n: %d",
			crypto.Abbrev(p.QuorumHash), &p.Ballot, p.Prepared, p.PreparedPrime, p.NC, p.NH)
	case *Confirm:
		body = fmt.Sprintf("CONFIRM D: %s b: %s p.n: %d c.n: %d h.n: %d",
			crypto.Abbrev(p.QuorumHash), &p.Ballot, p.NPrepared, p.NCommit, p.NH)
	case *Externalize:
		body = fmt.Sprintf("EXTERNALIZE c: %s h.n: %d (lastD): %s",
			&p.Commit, p.NH, crypto.Abbrev(p.CommitQuorumHash))
	default:
		body = "UNKNOWN"
	}
	return fmt.Sprintf("{ENV@%s | i: %d | %s}", crypto.Abbrev(s.NodeID), s.SlotIndex, body)
}

func equalStatements(a *Statement, b *Statement) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.NodeID == b.NodeID && a.SlotIndex == b.SlotIndex &&
		reflect.DeepEqual(a.Pledges, b.Pledges)
}

// Check whether the latter statement is newer than the first one
func isNewerStatement(oldst *Statement, st *Statement) bool {
	// statement type (PREPARE < CONFIRM < EXTERNALIZE)
	if oldst.Type() != st.Type() {
		return oldst.Type() < st.Type()
	}

	switch p := st.Pledges.(type) {
	case *Prepare: // compare order: b, p, p', h
		op := oldst.Pledges.(*Prepare)
		cmp := compareBallots(&op.Ballot, &p.Ballot)
		if cmp != 0 {
			return cmp < 0
		}
		cmp = compareBallots(op.Prepared, p.Prepared)
		if cmp != 0 {
			return cmp < 0
		}
		cmp = compareBallots(op.PreparedPrime, p.PreparedPrime)
		if cmp != 0 {
			return cmp < 0
		}
		return op.NH < p.NH
	case *Confirm: // compare order: b, p, h
		oc := oldst.Pledges.(*Confirm)
		cmp := compareBallots(&oc.Ballot, &p.Ballot)
		if cmp != 0 {
			return cmp < 0
		}
		if oc.NPrepared == p.NPrepared {
			return oc.NH < p.NH
		}
		return oc.NPrepared < p.NPrepared
	case *Externalize:
		// externalize statements are never superseded
		return false
	default:
		fatal(ErrUnknownStatement)
	}
	return false
}

// The ballot a statement is working on.
func workingBallot(st *Statement) *Ballot {
	switch p := st.Pledges.(type) {
	case *Prepare:
		return p.Ballot.Clone()
	case *Confirm:
		return makeBallot(p.NCommit, p.Ballot.Value)
	case *Externalize:
		return p.Commit.Clone()
	default:
		fatal(ErrUnknownStatement)
	}
	return nil
}

// The ballot counter used to check whether a node is ahead of us.
func statementBallotCounter(st *Statement) uint32 {
	switch p := st.Pledges.(type) {
	case *Prepare:
		return p.Ballot.Counter
	case *Confirm:
		return p.Ballot.Counter
	case *Externalize:
		return infiniteCounter
	default:
		fatal(ErrUnknownStatement)
	}
	return 0
}

// The quorum hash the statement was produced with.
func companionQuorumHash(st *Statement) string {
	switch p := st.Pledges.(type) {
	case *Prepare:
		return p.QuorumHash
	case *Confirm:
		return p.QuorumHash
	case *Externalize:
		return p.CommitQuorumHash
	default:
		fatal(ErrUnknownStatement)
	}
	return ""
}

// Distinct values referenced by the statement.
func statementValues(st *Statement) []string {
	var values []string
	add := func(v string) {
		for _, ev := range values {
			if ev == v {
				return
			}
		}
		values = append(values, v)
	}

	switch p := st.Pledges.(type) {
	case *Prepare:
		if p.Ballot.Counter != 0 {
			add(p.Ballot.Value)
		}
		if p.Prepared != nil {
			add(p.Prepared.Value)
		}
		if p.PreparedPrime != nil {
			add(p.PreparedPrime.Value)
		}
	case *Confirm:
		add(p.Ballot.Value)
	case *Externalize:
		add(p.Commit.Value)
	default:
		fatal(ErrUnknownStatement)
	}
	return values
}
