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
	"github.com/pkg/errors"
)

const (
	// MaxNestingLevel is the deepest allowed nesting of quorums.
	MaxNestingLevel = 4
	// MaxNodes is the maximum number of validators in a quorum tree.
	MaxNodes = 1000
)

var (
	ErrNilQuorum        = errors.New("quorum is nil")
	ErrNestingTooDeep   = errors.New("quorum nesting too deep")
	ErrInvalidThreshold = errors.New("quorum threshold out of range")
	ErrUnsafeThreshold  = errors.New("quorum threshold below v-blocking size")
	ErrDuplicateNode    = errors.New("duplicate node in quorum")
	ErrNodeCount        = errors.New("number of nodes in quorum out of range")
)

type sanityChecker struct {
	extraChecks bool
	knownNodes  map[string]struct{}
	count       int
}

// Check verifies the structural validity of the quorum. With extraChecks
// every threshold must also be at least the v-blocking size, which
// rules out quorums that cannot be safe.
func Check(q *Quorum, extraChecks bool) error {
	if q == nil {
		return ErrNilQuorum
	}
	c := &sanityChecker{
		extraChecks: extraChecks,
		knownNodes:  make(map[string]struct{}),
	}
	if err := c.check(q, 0); err != nil {
		return err
	}
	if c.count < 1 || c.count > MaxNodes {
		return errors.Wrapf(ErrNodeCount, "got %d nodes", c.count)
	}
	return nil
}

// IsSane reports whether Check passes.
func IsSane(q *Quorum, extraChecks bool) bool {
	return Check(q, extraChecks) == nil
}

func (c *sanityChecker) check(q *Quorum, depth int) error {
	if q == nil {
		return ErrNilQuorum
	}
	if depth > MaxNestingLevel {
		return ErrNestingTooDeep
	}
	size := q.Size()
	if q.Threshold <= 0 || q.Threshold > 1 || size == 0 {
		return errors.Wrapf(ErrInvalidThreshold, "threshold %v over %d entries", q.Threshold, size)
	}
	t := q.ThresholdCount()
	if t > size {
		return errors.Wrapf(ErrInvalidThreshold, "threshold count %d over %d entries", t, size)
	}
	if c.extraChecks && t < size-t+1 {
		return errors.Wrapf(ErrUnsafeThreshold, "threshold count %d over %d entries", t, size)
	}
	c.count += len(q.Validators)
	for _, v := range q.Validators {
		if _, ok := c.knownNodes[v]; ok {
			return errors.Wrapf(ErrDuplicateNode, "node %s", v)
		}
		c.knownNodes[v] = struct{}{}
	}
	for _, nq := range q.NestQuorums {
		if err := c.check(nq, depth+1); err != nil {
			return err
		}
	}
	return nil
}
