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

package crypto

import (
	"bytes"
	"encoding/binary"
	"errors"

	b58 "github.com/mr-tron/base58/base58"
)

type KeyType uint8

// enumeration of key type
const (
	_ KeyType = iota // skip zero
	KeyTypeNodeID
	KeyTypeSeed
)

var (
	ErrInvalidKey = errors.New("invalid key string")
)

// Key is the internal representation of node IDs and seeds,
// Code is for identifying the type of the key.
type Key struct {
	Code KeyType
	Hash [32]byte
}

// decode base58 encoded key string to Key
func DecodeKey(key string) (*Key, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	b, err := b58.Decode(key)
	if err != nil {
		return nil, ErrInvalidKey
	}

	var k Key
	r := bytes.NewReader(b)
	err = binary.Read(r, binary.BigEndian, &k)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if r.Len() != 0 {
		return nil, ErrInvalidKey
	}

	switch k.Code {
	case KeyTypeNodeID, KeyTypeSeed:
		return &k, nil
	}
	return nil, ErrInvalidKey
}

// encode Key to base58 encoded key string
func EncodeKey(k *Key) string {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, k)
	return b58.Encode(buf.Bytes())
}

// check the validity of supplied key string
func IsValidKey(key string) bool {
	if _, err := DecodeKey(key); err != nil {
		return false
	}
	return true
}

// check whether the key string is a valid node ID
func IsNodeID(key string) bool {
	k, err := DecodeKey(key)
	if err != nil {
		return false
	}
	return k.Code == KeyTypeNodeID
}
