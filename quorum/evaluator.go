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

package quorum

import (
	"sort"

	"github.com/deckarep/golang-set"
)

// Check whether the input node set form quorum slice for input quorum
func IsQuorumSlice(quorum *Quorum, nodeSet mapset.Set) bool {
	threshold := quorum.ThresholdCount()

	for _, vid := range quorum.Validators {
		if nodeSet.Contains(vid) {
			threshold = threshold - 1
			if threshold == 0 {
				return true
			}
		}
	}

	for _, nq := range quorum.NestQuorums {
		if IsQuorumSlice(nq, nodeSet) {
			threshold = threshold - 1
			if threshold == 0 {
				return true
			}
		}
	}

	return false
}

// Check whether the input node set form V-blocking for input quorum,
// i.e. it intersects every slice of the quorum.
func IsVBlocking(quorum *Quorum, nodeSet mapset.Set) bool {
	if quorum.Size() == 0 {
		return false
	}
	leftTillBlock := quorum.Size() - quorum.ThresholdCount() + 1

	for _, vid := range quorum.Validators {
		if nodeSet.Contains(vid) {
			leftTillBlock = leftTillBlock - 1
			if leftTillBlock == 0 {
				return true
			}
		}
	}

	for _, nq := range quorum.NestQuorums {
		if IsVBlocking(nq, nodeSet) {
			leftTillBlock = leftTillBlock - 1
			if leftTillBlock == 0 {
				return true
			}
		}
	}

	return false
}

// IsQuorum checks whether the node set contains a quorum for the input
// quorum: nodes whose own quorum (given by lookup) is not satisfied by
// the remaining set are removed until a fixed point is reached, then the
// input quorum must have a slice in what is left.
func IsQuorum(quorum *Quorum, nodeSet mapset.Set, lookup func(nodeID string) *Quorum) bool {
	remaining := nodeSet.Clone()
	for {
		count := remaining.Cardinality()
		filtered := mapset.NewThreadUnsafeSet()
		for n := range remaining.Iter() {
			nq := lookup(n.(string))
			if nq != nil && IsQuorumSlice(nq, remaining) {
				filtered.Add(n)
			}
		}
		remaining = filtered
		if remaining.Cardinality() == count {
			break
		}
	}
	return IsQuorumSlice(quorum, remaining)
}

// FindClosestVBlocking returns one of the smallest sets of nodes taken
// from nodeSet that would form a v-blocking set if they failed. Nodes
// outside of nodeSet are considered already failed and the excluded
// node is never part of the result. An empty result means the quorum
// is already blocked.
func FindClosestVBlocking(quorum *Quorum, nodeSet mapset.Set, excluded string) []string {
	leftTillBlock := 1 + quorum.Size() - quorum.ThresholdCount()

	var res []string
	for _, vid := range quorum.Validators {
		if !nodeSet.Contains(vid) {
			leftTillBlock--
			if leftTillBlock == 0 {
				// already blocked
				return []string{}
			}
		} else if excluded == "" || vid != excluded {
			// save this for later
			res = append(res, vid)
		}
	}

	var internals [][]string
	for _, nq := range quorum.NestQuorums {
		v := FindClosestVBlocking(nq, nodeSet, excluded)
		if len(v) == 0 {
			leftTillBlock--
			if leftTillBlock == 0 {
				return []string{}
			}
		} else {
			internals = append(internals, v)
		}
	}

	// use the top level validators to get closer
	if len(res) > leftTillBlock {
		res = res[:leftTillBlock]
	}
	leftTillBlock -= len(res)

	// use subsets to get closer, using the smallest ones first
	sort.SliceStable(internals, func(i, j int) bool {
		return len(internals[i]) < len(internals[j])
	})
	for _, v := range internals {
		if leftTillBlock == 0 {
			break
		}
		res = append(res, v...)
		leftTillBlock--
	}

	return res
}

// Evaluator exposes the package level predicates as a value, it is
// the default quorum oracle of the consensus engine.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

func (e *Evaluator) IsQuorum(q *Quorum, nodeSet mapset.Set, lookup func(string) *Quorum) bool {
	return IsQuorum(q, nodeSet, lookup)
}

func (e *Evaluator) IsVBlocking(q *Quorum, nodeSet mapset.Set) bool {
	return IsVBlocking(q, nodeSet)
}

func (e *Evaluator) FindClosestVBlocking(q *Quorum, nodeSet mapset.Set, excluded string) []string {
	return FindClosestVBlocking(q, nodeSet, excluded)
}
