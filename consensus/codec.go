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
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// envelope is the wire form of a statement, exactly
// one of the pledges is set according to Type.
type envelope struct {
	NodeID      string        `cbor:"1,keyasint"`
	SlotIndex   uint64        `cbor:"2,keyasint"`
	Type        StatementType `cbor:"3,keyasint"`
	Prepare     *Prepare      `cbor:"4,keyasint,omitempty"`
	Confirm     *Confirm      `cbor:"5,keyasint,omitempty"`
	Externalize *Externalize  `cbor:"6,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

// EncodeStatement encodes the statement to canonical CBOR.
func EncodeStatement(st *Statement) ([]byte, error) {
	if st == nil || st.Pledges == nil {
		return nil, ErrNilStatement
	}
	env := &envelope{
		NodeID:    st.NodeID,
		SlotIndex: st.SlotIndex,
		Type:      st.Type(),
	}
	switch p := st.Pledges.(type) {
	case *Prepare:
		env.Prepare = p
	case *Confirm:
		env.Confirm = p
	case *Externalize:
		env.Externalize = p
	default:
		return nil, ErrUnknownStatement
	}
	b, err := encMode.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "encode statement failed")
	}
	return b, nil
}

// DecodeStatement decodes the statement encoded by EncodeStatement.
func DecodeStatement(b []byte) (*Statement, error) {
	env := &envelope{}
	if err := cbor.Unmarshal(b, env); err != nil {
		return nil, errors.Wrap(err, "decode statement failed")
	}
	st := &Statement{
		NodeID:    env.NodeID,
		SlotIndex: env.SlotIndex,
	}
	switch env.Type {
	case StatementPrepare:
		if env.Prepare != nil {
			st.Pledges = env.Prepare
		}
	case StatementConfirm:
		if env.Confirm != nil {
			st.Pledges = env.Confirm
		}
	case StatementExternalize:
		if env.Externalize != nil {
			st.Pledges = env.Externalize
		}
	}
	if st.Pledges == nil {
		return nil, errors.Wrapf(ErrUnknownStatement, "type %d", env.Type)
	}
	return st, nil
}
