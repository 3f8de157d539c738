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
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ultiledger/go-ballot/consensus"
	"github.com/ultiledger/go-ballot/crypto"
	"github.com/ultiledger/go-ballot/db"
	"github.com/ultiledger/go-ballot/db/boltdb"
	"github.com/ultiledger/go-ballot/db/memdb"
	"github.com/ultiledger/go-ballot/future"
	"github.com/ultiledger/go-ballot/log"
	"github.com/ultiledger/go-ballot/quorum"
)

const (
	// number of slots kept in memory after externalizing
	maxSlotsToRemember = 12
	// number of quorums cached besides the pinned ones
	quorumCacheSize = 1024
	// buffer of externalized notifications
	externalizedBufferSize = 1024
)

var (
	ErrNodeStopped      = errors.New("node stopped")
	ErrBadSignature     = errors.New("invalid message signature")
	ErrSenderMismatch   = errors.New("statement sender mismatch")
	ErrQuorumNotFound   = errors.New("quorum not found")
	ErrNotExternalized  = errors.New("slot not externalized")
	ErrUnknownDBBackend = errors.New("unknown db backend")
	ErrSlotPurged       = errors.New("slot already purged")
)

// Externalized is the notification of a value agreed by a node.
type Externalized struct {
	NodeID    string
	SlotIndex uint64
	Value     string
}

// NodeContext contains the dependencies of a node.
type NodeContext struct {
	Config *Config
	// network the node broadcasts to
	Hub *Hub
	// defaults to the wall clock
	Clock clock.Clock
	// optional registerer of the consensus metrics
	Registerer prometheus.Registerer
	// Validator checks the values in statements, every
	// non empty value is fully validated if nil
	Validator func(slotIndex uint64, value string) consensus.ValidationLevel
}

// Node runs the consensus engine in a single event loop, every
// access to the engine goes through the loop.
type Node struct {
	nodeID  string
	shortID string
	seed    string
	config  *Config

	database  db.Database
	registry  *quorum.Registry
	engine    *consensus.Engine
	hub       *Hub
	inbox     *mailbox
	timers    *timerService
	validator func(slotIndex uint64, value string) consensus.ValidationLevel

	// highest externalized slot index
	lastExternalized uint64
	externalized     chan *Externalized

	// channel for stopping the event loop
	stopChan chan struct{}
	stopOnce sync.Once
	started  bool
	loopDone chan struct{}

	// futures for tasks with error responses
	proposeFuture      chan *future.Propose
	stmtFuture         chan *future.Statement
	quorumFuture       chan *future.Quorum
	slotInfoFuture     chan *future.SlotInfo
	quorumInfoFuture   chan *future.QuorumInfo
	externalizedFuture chan *future.Externalized
}

func newDatabase(conf *Config) (db.Database, error) {
	switch conf.DBBackend {
	case "boltdb":
		return boltdb.New(conf.DBPath)
	case "memdb":
		return memdb.New(), nil
	}
	return nil, errors.Wrapf(ErrUnknownDBBackend, "%s", conf.DBBackend)
}

// NewNode creates a node and its consensus engine.
func NewNode(ctx *NodeContext) (*Node, error) {
	conf := ctx.Config
	if conf == nil {
		return nil, errors.New("nil config")
	}
	if ctx.Hub == nil {
		return nil, errors.New("nil hub")
	}
	clk := ctx.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	registry, err := quorum.NewRegistry(quorumCacheSize)
	if err != nil {
		return nil, err
	}
	if _, err := registry.Pin(conf.Quorum); err != nil {
		return nil, errors.Wrap(err, "register local quorum failed")
	}

	database, err := newDatabase(conf)
	if err != nil {
		return nil, err
	}

	stopChan := make(chan struct{})
	n := &Node{
		nodeID:             conf.NodeID,
		shortID:            crypto.Abbrev(conf.NodeID),
		seed:               conf.Seed,
		config:             conf,
		database:           database,
		registry:           registry,
		hub:                ctx.Hub,
		inbox:              newMailbox(),
		timers:             newTimerService(clk, stopChan),
		validator:          ctx.Validator,
		externalized:       make(chan *Externalized, externalizedBufferSize),
		stopChan:           stopChan,
		loopDone:           make(chan struct{}),
		proposeFuture:      make(chan *future.Propose),
		stmtFuture:         make(chan *future.Statement),
		quorumFuture:       make(chan *future.Quorum),
		slotInfoFuture:     make(chan *future.SlotInfo),
		quorumInfoFuture:   make(chan *future.QuorumInfo),
		externalizedFuture: make(chan *future.Externalized),
	}

	// construct consensus engine context and create consensus engine
	engineCtx := &consensus.EngineContext{
		NodeID:     conf.NodeID,
		Quorum:     conf.Quorum,
		Driver:     n,
		Store:      database,
		Registerer: ctx.Registerer,
		Clock:      clk,
		Debug:      conf.Debug,
	}
	engine, err := consensus.NewEngine(engineCtx)
	if err != nil {
		database.Close()
		return nil, errors.Wrap(err, "create consensus engine failed")
	}
	n.engine = engine

	return n, nil
}

func (n *Node) NodeID() string {
	return n.nodeID
}

// Start restores the persisted slots and starts the event loop.
func (n *Node) Start() error {
	count, err := n.engine.Restore()
	if err != nil {
		return errors.Wrap(err, "restore slots failed")
	}
	for _, idx := range n.engine.SlotIndexes() {
		if v, ok := n.engine.ExternalizedValue(idx); ok && idx > n.lastExternalized {
			n.lastExternalized = idx
			log.Infow("restored externalized slot", "node", n.shortID, "slot", idx, "value", v)
		}
	}
	log.Infow("node started", "node", n.shortID, "restored", count)

	n.hub.join(n.nodeID, n.inbox)
	n.started = true
	go n.eventLoop()
	return nil
}

// Stop leaves the network and stops the event loop.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.hub.leave(n.nodeID)
		close(n.stopChan)
		if n.started {
			<-n.loopDone
		}
		if err := n.database.Close(); err != nil {
			log.Errorw("close database failed", "node", n.shortID, "err", err)
		}
	})
}

// AddQuorum makes the quorum resolvable from its hash.
func (n *Node) AddQuorum(q *quorum.Quorum) (string, error) {
	return n.registry.Pin(q)
}

// Externalized returns the channel of the values agreed by the node.
func (n *Node) Externalized() <-chan *Externalized {
	return n.externalized
}

func (n *Node) eventLoop() {
	defer close(n.loopDone)
	for {
		select {
		case <-n.inbox.notify:
			for _, msg := range n.inbox.drain() {
				if _, err := n.handleMessage(msg); err != nil {
					log.Warnw("drop message", "node", n.shortID, "err", err)
				}
			}
		case ev := <-n.timers.events:
			n.timers.fire(ev)
		case f := <-n.proposeFuture:
			f.Respond(n.propose(f.SlotIndex, f.Value))
		case f := <-n.stmtFuture:
			state, err := n.handleMessage(f.Data)
			f.State = state
			f.Respond(err)
		case f := <-n.quorumFuture:
			q := n.registry.Get(f.QuorumHash)
			if q == nil {
				f.Respond(errors.Wrapf(ErrQuorumNotFound, "hash %s", f.QuorumHash))
				continue
			}
			f.Quorum = q
			f.Respond(nil)
		case f := <-n.slotInfoFuture:
			info, err := n.engine.SlotInfo(f.SlotIndex)
			f.Info = info
			f.Respond(err)
		case f := <-n.quorumInfoFuture:
			info, err := n.engine.QuorumInfo(f.SlotIndex, f.NodeID, f.Summary)
			f.Info = info
			f.Respond(err)
		case f := <-n.externalizedFuture:
			v, ok := n.engine.ExternalizedValue(f.SlotIndex)
			if !ok {
				f.Respond(errors.Wrapf(ErrNotExternalized, "slot %d", f.SlotIndex))
				continue
			}
			f.Value = v
			f.Respond(nil)
		case <-n.stopChan:
			n.timers.stopAll()
			return
		}
		n.purgeSlots()
	}
}

func (n *Node) handleMessage(b []byte) (consensus.StatementState, error) {
	msg, err := openMessage(b)
	if err != nil {
		return consensus.StatementInvalid, err
	}
	stmt, err := consensus.DecodeStatement(msg.Payload)
	if err != nil {
		return consensus.StatementInvalid, err
	}
	if stmt.NodeID != msg.NodeID {
		return consensus.StatementInvalid, errors.Wrapf(ErrSenderMismatch, "signed by %s", msg.NodeID)
	}
	state, err := n.engine.ProcessStatement(stmt)
	if err != nil {
		log.Errorw("process statement failed", "node", n.shortID,
			"slot", stmt.SlotIndex, "fatal", consensus.IsFatal(err), "err", err)
	}
	return state, err
}

// The nomination of the slot produced the value, start
// the ballot protocol with it.
func (n *Node) propose(slotIndex uint64, value string) error {
	if n.lastExternalized > maxSlotsToRemember && slotIndex <= n.lastExternalized-maxSlotsToRemember {
		return errors.Wrapf(ErrSlotPurged, "slot %d", slotIndex)
	}
	n.engine.SetCompositeCandidate(slotIndex, value)
	_, err := n.engine.BumpState(slotIndex, value, false)
	return err
}

func (n *Node) purgeSlots() {
	if n.lastExternalized <= maxSlotsToRemember {
		return
	}
	maxSlotIndex := n.lastExternalized - maxSlotsToRemember + 1
	if err := n.engine.PurgeSlots(maxSlotIndex); err != nil {
		log.Errorw("purge slots failed", "node", n.shortID, "err", err)
	}
	n.timers.purge(maxSlotIndex)
}

// Propose starts the ballot protocol of the slot with the value.
func (n *Node) Propose(slotIndex uint64, value string) error {
	f := &future.Propose{SlotIndex: slotIndex, Value: value}
	f.Init()
	select {
	case n.proposeFuture <- f:
	case <-n.stopChan:
		return ErrNodeStopped
	}
	return f.Error()
}

// AddStatement processes a signed statement message.
func (n *Node) AddStatement(data []byte) (consensus.StatementState, error) {
	f := &future.Statement{Data: data}
	f.Init()
	select {
	case n.stmtFuture <- f:
	case <-n.stopChan:
		return consensus.StatementInvalid, ErrNodeStopped
	}
	err := f.Error()
	return f.State, err
}

func (n *Node) Quorum(hash string) (*quorum.Quorum, error) {
	f := &future.Quorum{QuorumHash: hash}
	f.Init()
	select {
	case n.quorumFuture <- f:
	case <-n.stopChan:
		return nil, ErrNodeStopped
	}
	if err := f.Error(); err != nil {
		return nil, err
	}
	return f.Quorum, nil
}

func (n *Node) SlotInfo(slotIndex uint64) (*consensus.SlotInfo, error) {
	f := &future.SlotInfo{SlotIndex: slotIndex}
	f.Init()
	select {
	case n.slotInfoFuture <- f:
	case <-n.stopChan:
		return nil, ErrNodeStopped
	}
	if err := f.Error(); err != nil {
		return nil, err
	}
	return f.Info, nil
}

func (n *Node) QuorumInfo(slotIndex uint64, nodeID string, summary bool) (*consensus.QuorumInfo, error) {
	f := &future.QuorumInfo{SlotIndex: slotIndex, NodeID: nodeID, Summary: summary}
	f.Init()
	select {
	case n.quorumInfoFuture <- f:
	case <-n.stopChan:
		return nil, ErrNodeStopped
	}
	if err := f.Error(); err != nil {
		return nil, err
	}
	return f.Info, nil
}

func (n *Node) ExternalizedValue(slotIndex uint64) (string, error) {
	f := &future.Externalized{SlotIndex: slotIndex}
	f.Init()
	select {
	case n.externalizedFuture <- f:
	case <-n.stopChan:
		return "", ErrNodeStopped
	}
	if err := f.Error(); err != nil {
		return "", err
	}
	return f.Value, nil
}

// Implementation of consensus.Driver, called from the event loop.

func (n *Node) ValidateValue(slotIndex uint64, value string, nomination bool) consensus.ValidationLevel {
	if n.validator != nil {
		return n.validator(slotIndex, value)
	}
	if value == "" {
		return consensus.InvalidValue
	}
	return consensus.FullyValidatedValue
}

func (n *Node) GetQuorum(hash string) *quorum.Quorum {
	return n.registry.Get(hash)
}

func (n *Node) EmitStatement(stmt *consensus.Statement) {
	payload, err := consensus.EncodeStatement(stmt)
	if err != nil {
		log.Errorw("encode statement failed", "node", n.shortID, "err", err)
		return
	}
	msg, err := signMessage(n.nodeID, n.seed, payload)
	if err != nil {
		log.Errorw("sign statement failed", "node", n.shortID, "err", err)
		return
	}
	n.hub.Broadcast(n.nodeID, msg)
}

func (n *Node) SetupTimer(slotIndex uint64, id consensus.TimerID, timeout time.Duration, cb func()) {
	n.timers.setup(slotIndex, id, timeout, cb)
}

func (n *Node) StopTimer(slotIndex uint64, id consensus.TimerID) {
	n.timers.stop(slotIndex, id)
}

// The timeout grows linearly with the counter up to the maximum.
func (n *Node) ComputeTimeout(counter uint32) time.Duration {
	base, maxTimeout := n.config.BallotTimeout, n.config.MaxBallotTimeout
	if base <= 0 {
		base = defaultBallotTimeout
	}
	if maxTimeout < base {
		maxTimeout = base
	}
	if counter == 0 {
		return base
	}
	if time.Duration(counter) > maxTimeout/base {
		return maxTimeout
	}
	return time.Duration(counter) * base
}

func (n *Node) ValueExternalized(slotIndex uint64, value string) {
	log.Infow("value externalized", "node", n.shortID, "slot", slotIndex, "value", value)
	if slotIndex > n.lastExternalized {
		n.lastExternalized = slotIndex
	}
	select {
	case n.externalized <- &Externalized{NodeID: n.nodeID, SlotIndex: slotIndex, Value: value}:
	default:
		log.Warnw("externalized notification dropped", "node", n.shortID, "slot", slotIndex)
	}
}

// Implementation of consensus.Observer.

func (n *Node) StartedBallotProtocol(slotIndex uint64, ballot *consensus.Ballot) {
	log.Debugw("started ballot protocol", "node", n.shortID, "slot", slotIndex, "ballot", ballot)
}

func (n *Node) AcceptedBallotPrepared(slotIndex uint64, ballot *consensus.Ballot) {
	log.Debugw("accepted ballot prepared", "node", n.shortID, "slot", slotIndex, "ballot", ballot)
}

func (n *Node) ConfirmedBallotPrepared(slotIndex uint64, ballot *consensus.Ballot) {
	log.Debugw("confirmed ballot prepared", "node", n.shortID, "slot", slotIndex, "ballot", ballot)
}

func (n *Node) AcceptedCommit(slotIndex uint64, ballot *consensus.Ballot) {
	log.Debugw("accepted commit", "node", n.shortID, "slot", slotIndex, "ballot", ballot)
}

func (n *Node) BallotDidHearFromQuorum(slotIndex uint64, ballot *consensus.Ballot) {
	log.Debugw("heard from quorum", "node", n.shortID, "slot", slotIndex, "ballot", ballot)
}
