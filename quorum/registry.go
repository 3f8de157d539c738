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

package quorum

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Registry resolves quorum hashes to quorums. Quorums learnt from peers
// live in a bounded LRU cache while pinned quorums (e.g. the local one)
// are never evicted.
type Registry struct {
	mu     sync.RWMutex
	pinned map[string]*Quorum
	cache  *lru.Cache
}

func NewRegistry(size int) (*Registry, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create quorum cache failed")
	}
	r := &Registry{
		pinned: make(map[string]*Quorum),
		cache:  cache,
	}
	return r, nil
}

// Add saves the quorum into the cache and returns its hash.
func (r *Registry) Add(q *Quorum) (string, error) {
	hash, err := Hash(q)
	if err != nil {
		return "", err
	}
	r.cache.Add(hash, q.Clone())
	return hash, nil
}

// Pin saves the quorum permanently and returns its hash.
func (r *Registry) Pin(q *Quorum) (string, error) {
	hash, err := Hash(q)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.pinned[hash] = q.Clone()
	r.mu.Unlock()
	return hash, nil
}

// Get returns the quorum of the hash or nil if it is unknown.
func (r *Registry) Get(hash string) *Quorum {
	r.mu.RLock()
	q, ok := r.pinned[hash]
	r.mu.RUnlock()
	if ok {
		return q
	}
	if v, ok := r.cache.Get(hash); ok {
		return v.(*Quorum)
	}
	return nil
}

// Len returns the number of quorums known to the registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pinned) + r.cache.Len()
}
