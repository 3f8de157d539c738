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
	"context"
	"path/filepath"
	"sort"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ultiledger/go-ballot/crypto"
	"github.com/ultiledger/go-ballot/log"
	"github.com/ultiledger/go-ballot/quorum"
)

// NetworkConfig describes a simulated network of nodes
// sharing one flat quorum.
type NetworkConfig struct {
	Size      int
	Threshold float64
	// database backend of every node, boltdb files
	// are created under DBDir
	DBBackend        string
	DBDir            string
	BallotTimeout    time.Duration
	MaxBallotTimeout time.Duration
	Debug            bool
	Clock            clock.Clock
	// metrics of each node are labeled with its short ID
	Registerer prometheus.Registerer
}

// Network runs a set of nodes connected by an in-process hub.
type Network struct {
	hub        *Hub
	quorum     *quorum.Quorum
	quorumHash string
	nodes      []*Node
}

func NewNetwork(conf *NetworkConfig) (*Network, error) {
	if conf.Size <= 0 {
		return nil, errors.New("network size must be positive")
	}

	ids := make([]string, conf.Size)
	seeds := make([]string, conf.Size)
	for i := range ids {
		id, seed, err := crypto.GetNodeKeypair()
		if err != nil {
			return nil, errors.Wrap(err, "generate node keypair failed")
		}
		ids[i], seeds[i] = id, seed
	}

	q := quorum.Flat(ids, conf.Threshold)
	if err := quorum.Check(q, true); err != nil {
		return nil, errors.Wrap(err, "invalid network quorum")
	}
	hash, err := quorum.Hash(q)
	if err != nil {
		return nil, err
	}

	nw := &Network{hub: NewHub(), quorum: q, quorumHash: hash}
	for i := range ids {
		shortID := crypto.Abbrev(ids[i])
		c := &Config{
			NodeID:           ids[i],
			Seed:             seeds[i],
			DBBackend:        conf.DBBackend,
			BallotTimeout:    conf.BallotTimeout,
			MaxBallotTimeout: conf.MaxBallotTimeout,
			Debug:            conf.Debug,
			Quorum:           q,
		}
		if c.DBBackend == "boltdb" {
			c.DBPath = filepath.Join(conf.DBDir, shortID+".db")
		}
		var reg prometheus.Registerer
		if conf.Registerer != nil {
			reg = prometheus.WrapRegistererWith(prometheus.Labels{"node": shortID}, conf.Registerer)
		}
		n, err := NewNode(&NodeContext{Config: c, Hub: nw.hub, Clock: conf.Clock, Registerer: reg})
		if err != nil {
			nw.Stop()
			return nil, errors.Wrapf(err, "create node %s failed", shortID)
		}
		nw.nodes = append(nw.nodes, n)
	}

	// keep a stable order for reporting
	sort.Slice(nw.nodes, func(i, j int) bool {
		return nw.nodes[i].NodeID() < nw.nodes[j].NodeID()
	})
	return nw, nil
}

func (nw *Network) Hub() *Hub {
	return nw.hub
}

func (nw *Network) Nodes() []*Node {
	return nw.nodes
}

func (nw *Network) QuorumHash() string {
	return nw.quorumHash
}

func (nw *Network) Start() error {
	for _, n := range nw.nodes {
		if err := n.Start(); err != nil {
			return errors.Wrapf(err, "start node %s failed", n.shortID)
		}
	}
	return nil
}

func (nw *Network) Stop() {
	for _, n := range nw.nodes {
		n.Stop()
	}
}

// RunSlot lets node i propose values[i % len(values)] for the slot.
// When the proposals differ every node then takes the greatest one
// as its candidate, the way a nomination round would converge, and
// the ballot timers move the network onto it. It returns the value
// once every node externalized the slot.
func (nw *Network) RunSlot(ctx context.Context, slotIndex uint64, values []string) (string, error) {
	if len(values) == 0 {
		return "", errors.New("no value to propose")
	}
	composite := values[0]
	for _, v := range values {
		if v > composite {
			composite = v
		}
	}

	for i, n := range nw.nodes {
		if err := n.Propose(slotIndex, values[i%len(values)]); err != nil {
			return "", errors.Wrapf(err, "node %s propose failed", n.shortID)
		}
	}
	for i, n := range nw.nodes {
		if values[i%len(values)] == composite {
			continue
		}
		if err := n.Propose(slotIndex, composite); err != nil {
			return "", errors.Wrapf(err, "node %s propose failed", n.shortID)
		}
	}

	var result *multierror.Error
	agreed := ""
	for _, n := range nw.nodes {
		v, err := waitSlot(ctx, n, slotIndex)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "node %s", n.shortID))
			continue
		}
		if agreed != "" && v != agreed {
			// two nodes externalized different values
			return "", errors.Errorf("slot %d diverged: %s and %s", slotIndex, agreed, v)
		}
		agreed = v
	}
	if err := result.ErrorOrNil(); err != nil {
		return "", err
	}
	log.Infow("slot agreed", "slot", slotIndex, "value", agreed, "nodes", len(nw.nodes))
	return agreed, nil
}

func waitSlot(ctx context.Context, n *Node, slotIndex uint64) (string, error) {
	// the slot may be externalized already
	if v, err := n.ExternalizedValue(slotIndex); err == nil {
		return v, nil
	}
	for {
		select {
		case ext := <-n.Externalized():
			if ext.SlotIndex == slotIndex {
				return ext.Value, nil
			}
		case <-ctx.Done():
			return "", errors.Wrapf(ctx.Err(), "wait slot %d", slotIndex)
		}
	}
}
