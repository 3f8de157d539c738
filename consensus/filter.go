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

// StatementFilter selects the statements supporting a proposition.
type StatementFilter func(*Statement) bool

// Vote filter to choose ballot statements that have voted the prepare ballot.
func prepareVoteFilter(b *Ballot) StatementFilter {
	return func(stmt *Statement) bool {
		if stmt == nil {
			return false
		}
		switch p := stmt.Pledges.(type) {
		case *Prepare:
			return lessAndCompatibleBallots(b, &p.Ballot)
		case *Confirm:
			return compatibleBallots(b, &p.Ballot)
		case *Externalize:
			return compatibleBallots(b, &p.Commit)
		default:
			fatal(ErrUnknownStatement)
		}
		return false
	}
}

// Accept filter to choose ballot statements that have accepted the prepare ballot.
func prepareAcceptFilter(b *Ballot) StatementFilter {
	return func(stmt *Statement) bool {
		if stmt == nil {
			return false
		}
		return hasPreparedBallot(b, stmt)
	}
}

func hasPreparedBallot(b *Ballot, stmt *Statement) bool {
	switch p := stmt.Pledges.(type) {
	case *Prepare:
		if p.Prepared != nil && lessAndCompatibleBallots(b, p.Prepared) {
			return true
		}
		if p.PreparedPrime != nil && lessAndCompatibleBallots(b, p.PreparedPrime) {
			return true
		}
	case *Confirm:
		prepared := makeBallot(p.NPrepared, p.Ballot.Value)
		return lessAndCompatibleBallots(b, prepared)
	case *Externalize:
		return compatibleBallots(b, &p.Commit)
	default:
		fatal(ErrUnknownStatement)
	}
	return false
}

// Vote filter to choose ballot statements that have voted to
// commit the ballots with counter in [l, r].
func commitVoteFilter(b *Ballot, l uint32, r uint32) StatementFilter {
	return func(stmt *Statement) bool {
		if stmt == nil {
			return false
		}
		cond := false
		switch p := stmt.Pledges.(type) {
		case *Prepare:
			if compatibleBallots(b, &p.Ballot) && p.NC != 0 {
				cond = p.NC <= l && r <= p.NH
			}
		case *Confirm:
			if compatibleBallots(b, &p.Ballot) {
				cond = p.NCommit <= l
			}
		case *Externalize:
			if compatibleBallots(b, &p.Commit) {
				cond = p.Commit.Counter <= l
			}
		default:
			fatal(ErrUnknownStatement)
		}
		return cond
	}
}

// Accept filter to choose ballot statements that have accepted to
// commit the ballots with counter in [l, r].
func commitAcceptFilter(b *Ballot, l uint32, r uint32) StatementFilter {
	return func(stmt *Statement) bool {
		if stmt == nil {
			return false
		}
		cond := false
		switch p := stmt.Pledges.(type) {
		case *Prepare:
		case *Confirm:
			if compatibleBallots(b, &p.Ballot) {
				cond = p.NCommit <= l && r <= p.NH
			}
		case *Externalize:
			if compatibleBallots(b, &p.Commit) {
				cond = p.Commit.Counter <= l
			}
		default:
			fatal(ErrUnknownStatement)
		}
		return cond
	}
}

// Filter to choose statements whose ballot counter is above n.
func aheadOfFilter(n uint32) StatementFilter {
	return func(stmt *Statement) bool {
		return statementBallotCounter(stmt) > n
	}
}

// Filter to choose statements showing the node has heard
// of a ballot with counter at least n.
func heardFilter(n uint32) StatementFilter {
	return func(stmt *Statement) bool {
		if p, ok := stmt.Pledges.(*Prepare); ok {
			return n <= p.Ballot.Counter
		}
		return true
	}
}
