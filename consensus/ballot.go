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
	"math"
	"strings"
)

// The implicit counter of ballots in externalize statements.
const infiniteCounter = math.MaxUint32

// Ballot is the unit of federated voting: a counter and
// the value the counter votes for.
type Ballot struct {
	Counter uint32 `cbor:"1,keyasint" json:"counter"`
	Value   string `cbor:"2,keyasint" json:"value"`
}

func makeBallot(counter uint32, value string) *Ballot {
	return &Ballot{Counter: counter, Value: value}
}

func (b *Ballot) Clone() *Ballot {
	if b == nil {
		return nil
	}
	nb := *b
	return &nb
}

func (b *Ballot) String() string {
	if b == nil {
		return "(<null_ballot>)"
	}
	return fmt.Sprintf("(%d, %s)", b.Counter, b.Value)
}

// Ballots compare utilities
func lessAndCompatibleBallots(lb *Ballot, rb *Ballot) bool {
	if compareBallots(lb, rb) <= 0 && compatibleBallots(lb, rb) {
		return true
	}
	return false
}

func lessAndIncompatibleBallots(lb *Ballot, rb *Ballot) bool {
	if compareBallots(lb, rb) <= 0 && !compatibleBallots(lb, rb) {
		return true
	}
	return false
}

// Compare two ballots by counter then value, a nil
// ballot is less than any other ballot.
func compareBallots(lb *Ballot, rb *Ballot) int {
	// check input with nil ballot
	if lb == nil && rb == nil {
		return 0
	} else if lb == nil && rb != nil {
		return -1
	} else if lb != nil && rb == nil {
		return 1
	}

	// check normal case
	if lb.Counter < rb.Counter {
		return -1
	} else if lb.Counter > rb.Counter {
		return 1
	}

	return strings.Compare(lb.Value, rb.Value)
}

// Check whether the two ballots has the same value
func compatibleBallots(lb *Ballot, rb *Ballot) bool {
	if lb == nil || rb == nil {
		return false
	}
	return lb.Value == rb.Value
}
