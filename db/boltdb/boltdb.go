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

package boltdb

import (
	"bytes"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/ultiledger/go-ballot/db"
)

type boltdb struct {
	db *bolt.DB
}

// New creates a new boltdb instance which can be used by multiple
// goroutines of the same process, BoltDB obtains a file lock on the data
// file so multiple processes cannot open the same database at the same time.
func New(path string) (db.Database, error) {
	// open a database in specified path
	bt, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open boltdb %s failed", path)
	}
	return &boltdb{db: bt}, nil
}

func (bt *boltdb) NewBucket(name string) error {
	return bt.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func bucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, errors.Wrapf(db.ErrBucketNotFound, "bucket %s", name)
	}
	return b, nil
}

// Put writes the key/value pair to database.
func (bt *boltdb) Put(bucketName string, key, value []byte) error {
	return bt.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

// Delete deletes the key from the database.
func (bt *boltdb) Delete(bucketName string, key []byte) error {
	return bt.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		return b.Delete(key)
	})
}

// Get retrieves the value of the key from database.
func (bt *boltdb) Get(bucketName string, key []byte) ([]byte, error) {
	var val []byte
	err := bt.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		v := b.Get(key)
		if v == nil {
			return db.ErrNotFound
		}
		// the value is only valid during the transaction
		val = make([]byte, len(v))
		copy(val, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// GetAll retrieves the values of the keys with prefix from database.
func (bt *boltdb) GetAll(bucketName string, keyPrefix []byte) ([][]byte, error) {
	var vals [][]byte
	err := bt.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.Seek(keyPrefix); k != nil && bytes.HasPrefix(k, keyPrefix); k, v = c.Next() {
			val := make([]byte, len(v))
			copy(val, v)
			vals = append(vals, val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vals, nil
}

// Close closes the underlying database.
func (bt *boltdb) Close() error {
	if bt.db != nil {
		return bt.db.Close()
	}
	return nil
}
