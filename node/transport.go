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

package node

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/ultiledger/go-ballot/crypto"
)

// signedMessage carries an encoded statement and
// the signature of the sending node.
type signedMessage struct {
	NodeID    string `cbor:"1,keyasint"`
	Payload   []byte `cbor:"2,keyasint"`
	Signature string `cbor:"3,keyasint"`
}

func signMessage(nodeID string, seed string, payload []byte) ([]byte, error) {
	sig, err := crypto.Sign(seed, payload)
	if err != nil {
		return nil, errors.Wrap(err, "sign payload failed")
	}
	msg := &signedMessage{
		NodeID:    nodeID,
		Payload:   payload,
		Signature: sig,
	}
	b, err := cbor.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "encode message failed")
	}
	return b, nil
}

func openMessage(b []byte) (*signedMessage, error) {
	msg := &signedMessage{}
	if err := cbor.Unmarshal(b, msg); err != nil {
		return nil, errors.Wrap(err, "decode message failed")
	}
	if !crypto.Verify(msg.NodeID, msg.Signature, msg.Payload) {
		return nil, errors.Wrapf(ErrBadSignature, "node %s", msg.NodeID)
	}
	return msg, nil
}

// mailbox is an unbounded queue of inbound messages, the
// owner is notified through a channel when it is not empty.
type mailbox struct {
	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.queue
	m.queue = nil
	return msgs
}

// Hub is an in-process network connecting the nodes
// of a simulation, every message is delivered in order
// to every other node unless dropped by the filter.
type Hub struct {
	mu    sync.RWMutex
	nodes map[string]*mailbox
	drop  func(from, to string) bool
}

func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*mailbox)}
}

func (h *Hub) join(nodeID string, mb *mailbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes[nodeID] = mb
}

func (h *Hub) leave(nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, nodeID)
}

// SetDropFilter sets the function deciding whether the
// message from one node to another is lost.
func (h *Hub) SetDropFilter(drop func(from, to string) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop = drop
}

// Broadcast delivers the message to all the other nodes.
func (h *Hub) Broadcast(from string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for nodeID, mb := range h.nodes {
		if nodeID == from {
			continue
		}
		if h.drop != nil && h.drop(from, nodeID) {
			continue
		}
		mb.push(msg)
	}
}
