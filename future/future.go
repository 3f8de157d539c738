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

// Package future defines some futures as messages
// to communicate between the node loop and its callers.
package future

import (
	"github.com/ultiledger/go-ballot/consensus"
	"github.com/ultiledger/go-ballot/quorum"
)

type Future interface {
	Error() error
}

// Allow a future to respond an error in the future
type deferError struct {
	err       error
	errChan   chan error
	responded bool
}

// Every future should call this method to initialize
// underlying error channel
func (d *deferError) Init() {
	d.errChan = make(chan error, 1)
}

// Each future should respond error once and multiple
// calling with different error on the same future will
// have no effects.
func (d *deferError) Respond(err error) {
	if d.errChan == nil || d.responded {
		return
	}
	d.errChan <- err
	close(d.errChan)
	d.responded = true
}

// Error always return the first responded error
func (d *deferError) Error() error {
	if d.err != nil {
		return d.err
	}
	if d.errChan == nil {
		panic("waiting for response on nil channel")
	}
	d.err = <-d.errChan
	return d.err
}

// Future for the simulator to hand the composite
// candidate of a slot to the ballot protocol
type Propose struct {
	deferError
	SlotIndex uint64
	Value     string
}

// Future for feeding an encoded statement to the engine
type Statement struct {
	deferError
	Data  []byte
	State consensus.StatementState
}

// Future for querying quorum by its hash
type Quorum struct {
	deferError
	QuorumHash string
	Quorum     *quorum.Quorum
}

// Future for querying the ballot state of a slot
type SlotInfo struct {
	deferError
	SlotIndex uint64
	Info      *consensus.SlotInfo
}

// Future for querying the quorum state of a node in a slot
type QuorumInfo struct {
	deferError
	SlotIndex uint64
	NodeID    string
	Summary   bool
	Info      *consensus.QuorumInfo
}

// Future for querying the value externalized in a slot
type Externalized struct {
	deferError
	SlotIndex uint64
	Value     string
}
