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
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/ultiledger/go-ballot/consensus"
)

type timerKey struct {
	slotIndex uint64
	id        consensus.TimerID
}

type timerEntry struct {
	gen   uint64
	timer clock.Timer
	stop  chan struct{}
}

// expiration of a timer posted into the node loop
type timerEvent struct {
	key timerKey
	gen uint64
	cb  func()
}

// timerService arms the timers requested by the engine on the clock
// and posts their expiration back into the node loop. Apart from the
// waiting goroutines it is only used by the node loop.
type timerService struct {
	clock  clock.Clock
	events chan *timerEvent
	done   <-chan struct{}
	timers map[timerKey]*timerEntry
	gen    uint64
}

func newTimerService(clk clock.Clock, done <-chan struct{}) *timerService {
	return &timerService{
		clock:  clk,
		events: make(chan *timerEvent),
		done:   done,
		timers: make(map[timerKey]*timerEntry),
	}
}

// Arm the timer replacing the one armed with the same key.
func (ts *timerService) setup(slotIndex uint64, id consensus.TimerID, timeout time.Duration, cb func()) {
	key := timerKey{slotIndex: slotIndex, id: id}
	ts.stop(slotIndex, id)

	ts.gen++
	e := &timerEntry{
		gen:   ts.gen,
		timer: ts.clock.NewTimer(timeout),
		stop:  make(chan struct{}),
	}
	ts.timers[key] = e

	go func() {
		select {
		case <-e.timer.C():
			select {
			case ts.events <- &timerEvent{key: key, gen: e.gen, cb: cb}:
			case <-e.stop:
			case <-ts.done:
			}
		case <-e.stop:
		case <-ts.done:
		}
	}()
}

func (ts *timerService) stop(slotIndex uint64, id consensus.TimerID) {
	key := timerKey{slotIndex: slotIndex, id: id}
	e, ok := ts.timers[key]
	if !ok {
		return
	}
	e.timer.Stop()
	close(e.stop)
	delete(ts.timers, key)
}

// Run the callback unless the timer was stopped or re-armed
// after the expiration was posted.
func (ts *timerService) fire(ev *timerEvent) {
	e, ok := ts.timers[ev.key]
	if !ok || e.gen != ev.gen {
		return
	}
	delete(ts.timers, ev.key)
	ev.cb()
}

// Stop the timers of the slots below the index.
func (ts *timerService) purge(maxSlotIndex uint64) {
	for key := range ts.timers {
		if key.slotIndex < maxSlotIndex {
			ts.stop(key.slotIndex, key.id)
		}
	}
}

func (ts *timerService) stopAll() {
	for key := range ts.timers {
		ts.stop(key.slotIndex, key.id)
	}
}

func (ts *timerService) armed(slotIndex uint64, id consensus.TimerID) bool {
	_, ok := ts.timers[timerKey{slotIndex: slotIndex, id: id}]
	return ok
}
