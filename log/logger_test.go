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

package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger(t *testing.T) {
	Errorw("test error level", "ctx", "error")
	Infow("test info level", "ctx", "info", "hello", "world")
	Warnw("test warn level", "ctx", "warn")

	assert.Equal(t, false, DebugEnabled())
	OpenDebug()
	assert.Equal(t, true, DebugEnabled())
	Debugw("test debug level (opened)")
	CloseDebug()
	assert.Equal(t, false, DebugEnabled())
}

func TestChildLogger(t *testing.T) {
	l := With("slot", uint64(7))
	l.Infow("child info", "ballot", "(1, X)")
	l.Errorw("child error")
	l.Debugw("child debug (closed)")
}
