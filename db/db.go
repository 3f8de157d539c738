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

package db

import (
	"github.com/pkg/errors"
)

var (
	ErrNotFound       = errors.New("value not found")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrClosed         = errors.New("database closed")
)

// Database is the key/value store interface used by the node
// to persist its consensus state.
type Database interface {
	// NewBucket creates the bucket if it does not exist yet.
	NewBucket(name string) error
	// Put writes the key/value pair to the bucket.
	Put(bucket string, key, value []byte) error
	// Delete removes the key from the bucket, it is not an error
	// to delete a missing key.
	Delete(bucket string, key []byte) error
	// Get returns ErrNotFound if the key does not exist.
	Get(bucket string, key []byte) ([]byte, error)
	// GetAll returns the values of all the keys with the prefix
	// in ascending key order.
	GetAll(bucket string, keyPrefix []byte) ([][]byte, error)
	Close() error
}
