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

// Package quorum implements nested threshold quorum sets and the
// federated voting predicates (quorum slice, quorum, v-blocking)
// evaluated over them.
package quorum

import (
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/ultiledger/go-ballot/crypto"
)

// Quorum is a nested threshold quorum set. Threshold is the fraction
// of the top level entries (validators plus nested quorums) that must
// agree to form a slice.
type Quorum struct {
	Threshold   float64   `cbor:"1,keyasint"`
	Validators  []string  `cbor:"2,keyasint"`
	NestQuorums []*Quorum `cbor:"3,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

// Build a quorum with one node.
func Singleton(nodeID string) *Quorum {
	return &Quorum{
		Threshold:  1.0,
		Validators: []string{nodeID},
	}
}

// Build a quorum with flat structure.
func Flat(nodeIDs []string, threshold float64) *Quorum {
	vs := make([]string, len(nodeIDs))
	copy(vs, nodeIDs)
	return &Quorum{
		Threshold:  threshold,
		Validators: vs,
	}
}

// Size returns the number of top level entries.
func (q *Quorum) Size() int {
	return len(q.Validators) + len(q.NestQuorums)
}

// ThresholdCount converts the fractional threshold to the number
// of top level entries needed for a slice.
func (q *Quorum) ThresholdCount() int {
	// tolerate the rounding error of fractions like 2/3
	t := int(math.Ceil(float64(q.Size())*q.Threshold - 1e-9))
	if t < 1 {
		t = 1
	}
	return t
}

// Clone makes a deep copy of the quorum.
func (q *Quorum) Clone() *Quorum {
	if q == nil {
		return nil
	}
	c := &Quorum{Threshold: q.Threshold}
	c.Validators = make([]string, len(q.Validators))
	copy(c.Validators, q.Validators)
	for _, nq := range q.NestQuorums {
		c.NestQuorums = append(c.NestQuorums, nq.Clone())
	}
	return c
}

// Nodes returns all the validators referenced in the quorum
// including the nested ones.
func (q *Quorum) Nodes() []string {
	var nodes []string
	nodes = append(nodes, q.Validators...)
	for _, nq := range q.NestQuorums {
		nodes = append(nodes, nq.Nodes()...)
	}
	return nodes
}

// Normalize returns a copy of the quorum with the validators and
// nested quorums sorted, two quorums with the same semantics have
// the same normalized form.
func Normalize(q *Quorum) *Quorum {
	c := q.Clone()
	normalize(c)
	return c
}

func normalize(q *Quorum) {
	sort.Strings(q.Validators)
	for _, nq := range q.NestQuorums {
		normalize(nq)
	}
	sort.Sort(QuorumSlice(q.NestQuorums))
}

// Encode the normalized quorum with canonical CBOR.
func Encode(q *Quorum) ([]byte, error) {
	if q == nil {
		return nil, errors.New("quorum is nil")
	}
	b, err := encMode.Marshal(Normalize(q))
	if err != nil {
		return nil, errors.Wrap(err, "encode quorum failed")
	}
	return b, nil
}

// Decode a quorum from CBOR bytes.
func Decode(b []byte) (*Quorum, error) {
	q := &Quorum{}
	if err := cbor.Unmarshal(b, q); err != nil {
		return nil, errors.Wrap(err, "decode quorum failed")
	}
	return q, nil
}

// Hash computes the base58 sha256 digest of the canonical encoding.
func Hash(q *Quorum) (string, error) {
	b, err := Encode(q)
	if err != nil {
		return "", err
	}
	return crypto.SHA256Hash(b), nil
}
