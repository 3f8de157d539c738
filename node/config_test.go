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
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultiledger/go-ballot/crypto"
)

func getTestNodeIDs(t *testing.T, n int) ([]string, []string) {
	var ids, seeds []string
	for i := 0; i < n; i++ {
		id, seed, err := crypto.GetNodeKeypair()
		require.Nil(t, err)
		ids = append(ids, id)
		seeds = append(seeds, seed)
	}
	return ids, seeds
}

func TestNewConfig(t *testing.T) {
	ids, seeds := getTestNodeIDs(t, 4)

	v := viper.New()
	v.Set("node_id", ids[0])
	v.Set("seed", seeds[0])
	v.Set("db_backend", "memdb")
	v.Set("ballot_timeout", "2s")
	v.Set("debug", true)
	v.Set("quorum", map[string]interface{}{
		"threshold":  0.5,
		"validators": []interface{}{ids[0], ids[1]},
		"nest_quorums": []interface{}{
			map[string]interface{}{
				"threshold":  1.0,
				"validators": []interface{}{ids[2], ids[3]},
			},
		},
	})

	c, err := NewConfig(v)
	require.Nil(t, err)
	assert.Equal(t, ids[0], c.NodeID)
	assert.Equal(t, 2*time.Second, c.BallotTimeout)
	assert.Equal(t, defaultMaxBallotTimeout, c.MaxBallotTimeout)
	assert.Equal(t, true, c.Debug)
	assert.Equal(t, 0.5, c.Quorum.Threshold)
	assert.Equal(t, []string{ids[0], ids[1]}, c.Quorum.Validators)
	require.Equal(t, 1, len(c.Quorum.NestQuorums))
	assert.Equal(t, []string{ids[2], ids[3]}, c.Quorum.NestQuorums[0].Validators)
}

func TestNewConfigFromYAML(t *testing.T) {
	ids, seeds := getTestNodeIDs(t, 3)
	yaml := "node_id: " + ids[0] + "\n" +
		"seed: " + seeds[0] + "\n" +
		"db_backend: boltdb\n" +
		"db_path: /tmp/ballot.db\n" +
		"max_ballot_timeout: 1m\n" +
		"quorum:\n" +
		"  threshold: 0.6\n" +
		"  validators:\n" +
		"    - " + ids[0] + "\n" +
		"    - " + ids[1] + "\n" +
		"    - " + ids[2] + "\n"

	v := viper.New()
	v.SetConfigType("yaml")
	require.Nil(t, v.ReadConfig(strings.NewReader(yaml)))

	c, err := NewConfig(v)
	require.Nil(t, err)
	assert.Equal(t, "boltdb", c.DBBackend)
	assert.Equal(t, "/tmp/ballot.db", c.DBPath)
	assert.Equal(t, time.Minute, c.MaxBallotTimeout)
	assert.Equal(t, defaultBallotTimeout, c.BallotTimeout)
	assert.Equal(t, 2, c.Quorum.ThresholdCount())
}

func TestNewConfigErrors(t *testing.T) {
	_, err := NewConfig(viper.New())
	require.NotNil(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	// node ID, seed, db backend and quorum
	assert.Equal(t, 4, len(merr.Errors))

	ids, seeds := getTestNodeIDs(t, 2)
	v := viper.New()
	v.Set("node_id", seeds[0])
	v.Set("seed", seeds[0])
	v.Set("db_backend", "leveldb")
	// a single node out of two can never be safe
	v.Set("quorum", map[string]interface{}{
		"threshold":  0.5,
		"validators": []interface{}{ids[0], ids[1]},
	})
	_, err = NewConfig(v)
	require.NotNil(t, err)
	merr, ok = err.(*multierror.Error)
	require.True(t, ok)
	assert.Equal(t, 3, len(merr.Errors))
}
