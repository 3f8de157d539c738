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
	"github.com/pkg/errors"
)

var (
	ErrMaxRecursion     = errors.New("maximum number of transitions reached in advance slot")
	ErrStateAlreadySet  = errors.New("cannot set state after starting ballot protocol")
	ErrBadSelfStatement = errors.New("moved to a bad state")
	ErrInvariant        = errors.New("ballot protocol invariant violated")
	ErrUnknownStatement = errors.New("unknown statement type")
	ErrSlotAborted      = errors.New("slot processing aborted")

	ErrNilStatement     = errors.New("statement is nil")
	ErrNotSelfStatement = errors.New("statement is not from local node")
	ErrSlotMismatch     = errors.New("statement slot index mismatch")
	ErrSlotNotFound     = errors.New("slot not found")
)

// fatalError carries an unrecoverable condition up to the
// public entry points of a slot.
type fatalError struct {
	err error
}

func fatal(err error) {
	panic(fatalError{err: err})
}

func fatalf(err error, format string, args ...interface{}) {
	panic(fatalError{err: errors.Wrapf(err, format, args...)})
}

// IsFatal reports whether the error aborted slot processing.
func IsFatal(err error) bool {
	switch errors.Cause(err) {
	case ErrMaxRecursion, ErrStateAlreadySet, ErrBadSelfStatement,
		ErrInvariant, ErrUnknownStatement, ErrSlotAborted:
		return true
	}
	return false
}
