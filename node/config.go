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
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/ultiledger/go-ballot/crypto"
	"github.com/ultiledger/go-ballot/quorum"
)

const (
	defaultBallotTimeout    = time.Second
	defaultMaxBallotTimeout = 30 * time.Minute
)

// Config is the configuration of a node.
type Config struct {
	// node ID (public key derived from seed)
	NodeID string
	// seed of this node
	Seed string
	// database backend, boltdb or memdb
	DBBackend string
	// database file path
	DBPath string
	// timeout of the first ballot, the timeout
	// grows linearly with the ballot counter
	BallotTimeout time.Duration
	// upper bound of the ballot timeout
	MaxBallotTimeout time.Duration
	// keep the statement history of slots
	Debug bool
	// quorum of this node
	Quorum *quorum.Quorum
}

func NewConfig(v *viper.Viper) (*Config, error) {
	var result *multierror.Error

	if v.GetString("node_id") == "" {
		result = multierror.Append(result, errors.New("node ID is empty"))
	} else if !crypto.IsNodeID(v.GetString("node_id")) {
		result = multierror.Append(result, errors.New("node ID is invalid"))
	}
	if v.GetString("seed") == "" {
		result = multierror.Append(result, errors.New("node seed is empty"))
	}
	switch v.GetString("db_backend") {
	case "memdb":
	case "boltdb":
		if v.GetString("db_path") == "" {
			result = multierror.Append(result, errors.New("db path is empty"))
		}
	case "":
		result = multierror.Append(result, errors.New("db backend is empty"))
	default:
		result = multierror.Append(result, fmt.Errorf("unknown db backend %s", v.GetString("db_backend")))
	}

	var q *quorum.Quorum
	quorumMap := v.GetStringMap("quorum")
	if len(quorumMap) == 0 {
		result = multierror.Append(result, errors.New("quorum is nil"))
	} else {
		var err error
		q, err = parseQuorum(quorumMap)
		if err != nil {
			result = multierror.Append(result, errors.Wrap(err, "parse quorum failed"))
		} else if err := quorum.Check(q, true); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "insane quorum"))
		}
	}

	ballotTimeout := v.GetDuration("ballot_timeout")
	if ballotTimeout == 0 {
		ballotTimeout = defaultBallotTimeout
	}
	maxBallotTimeout := v.GetDuration("max_ballot_timeout")
	if maxBallotTimeout == 0 {
		maxBallotTimeout = defaultMaxBallotTimeout
	}
	if maxBallotTimeout < ballotTimeout {
		result = multierror.Append(result, errors.New("max ballot timeout is less than ballot timeout"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	c := &Config{
		NodeID:           v.GetString("node_id"),
		Seed:             v.GetString("seed"),
		DBBackend:        v.GetString("db_backend"),
		DBPath:           v.GetString("db_path"),
		BallotTimeout:    ballotTimeout,
		MaxBallotTimeout: maxBallotTimeout,
		Debug:            v.GetBool("debug"),
		Quorum:           q,
	}

	return c, nil
}

func parseQuorum(q map[string]interface{}) (*quorum.Quorum, error) {
	threshold, ok := q["threshold"]
	if !ok {
		return nil, errors.New("quorum threshold is missing")
	}
	t, err := toFloat(threshold)
	if err != nil {
		return nil, err
	}

	validators, ok := q["validators"]
	if !ok {
		return nil, errors.New("quorum validators are missing")
	}

	var vs []string
	for _, v := range toSlice(validators) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("invalid validator %v", v)
		}
		vs = append(vs, s)
	}

	var nestQuorums []*quorum.Quorum

	if nestqs, ok := q["nest_quorums"]; ok {
		for _, nq := range toSlice(nestqs) {
			nestq, err := toStringMap(nq)
			if err != nil {
				return nil, err
			}
			sub, err := parseQuorum(nestq)
			if err != nil {
				return nil, errors.Wrap(err, "parse nest quorum failed")
			}
			nestQuorums = append(nestQuorums, sub)
		}
	}

	return &quorum.Quorum{
		Threshold:   t,
		Validators:  vs,
		NestQuorums: nestQuorums,
	}, nil
}

func toFloat(v interface{}) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case int:
		return float64(f), nil
	case int64:
		return float64(f), nil
	}
	return 0, fmt.Errorf("invalid quorum threshold %v", v)
}

func toSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case []string:
		res := make([]interface{}, 0, len(s))
		for _, e := range s {
			res = append(res, e)
		}
		return res
	}
	return nil
}

// yaml decodes nested maps with interface keys
func toStringMap(v interface{}) (map[string]interface{}, error) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, nil
	case map[interface{}]interface{}:
		res := make(map[string]interface{}, len(m))
		for k, e := range m {
			res[fmt.Sprint(k)] = e
		}
		return res, nil
	}
	return nil, fmt.Errorf("invalid nest quorum %v", v)
}
