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

package memdb

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ultiledger/go-ballot/db"
)

type memdb struct {
	sync.Mutex
	buckets map[string]map[string][]byte
}

// New creates a memory-based key-value store
// which is mainly used for testing.
func New() db.Database {
	return &memdb{buckets: make(map[string]map[string][]byte)}
}

func (m *memdb) NewBucket(name string) error {
	m.Lock()
	defer m.Unlock()

	if m.buckets == nil {
		return db.ErrClosed
	}
	if _, ok := m.buckets[name]; !ok {
		m.buckets[name] = make(map[string][]byte)
	}
	return nil
}

func (m *memdb) bucket(name string) (map[string][]byte, error) {
	if m.buckets == nil {
		return nil, db.ErrClosed
	}
	b, ok := m.buckets[name]
	if !ok {
		return nil, errors.Wrapf(db.ErrBucketNotFound, "bucket %s", name)
	}
	return b, nil
}

// Put writes the key/value pair to database.
func (m *memdb) Put(bucket string, key, value []byte) error {
	m.Lock()
	defer m.Unlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	b[string(key)] = v
	return nil
}

// Delete deletes the key from the database.
func (m *memdb) Delete(bucket string, key []byte) error {
	m.Lock()
	defer m.Unlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	delete(b, string(key))
	return nil
}

// Get retrieves the value of the key from database.
func (m *memdb) Get(bucket string, key []byte) ([]byte, error) {
	m.Lock()
	defer m.Unlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}
	if val, ok := b[string(key)]; ok {
		return val, nil
	}
	return nil, db.ErrNotFound
}

// GetAll retrieves the values of the keys with prefix from database.
func (m *memdb) GetAll(bucket string, keyPrefix []byte) ([][]byte, error) {
	m.Lock()
	defer m.Unlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}

	var keys []string
	for k := range b {
		if strings.HasPrefix(k, string(keyPrefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var vals [][]byte
	for _, k := range keys {
		vals = append(vals, b[k])
	}
	return vals, nil
}

// Close closes the underlying database.
func (m *memdb) Close() error {
	m.Lock()
	defer m.Unlock()

	m.buckets = nil
	return nil
}
