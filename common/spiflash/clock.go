//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package spiflash

import (
	"sync/atomic"
	"time"
)

// Clock is the time source for ready-polls. Values are milliseconds.
type Clock interface {
	// Mark returns the current reading, to be passed to Elapsed later.
	Mark() uint32
	// Elapsed returns the milliseconds passed since mark.
	Elapsed(mark uint32) uint32
}

// TickCounter is a millisecond counter with a single writer (the periodic
// tick source) and any number of readers. On overflow the counter is clamped
// back to zero rather than wrapped, so a reader may see a value smaller than
// an earlier mark; Elapsed then counts from zero.
type TickCounter struct {
	ticks uint32
}

// Advance moves the counter forward by ms. Only the tick source calls it.
func (tc *TickCounter) Advance(ms uint32) {
	cur := atomic.LoadUint32(&tc.ticks)
	next := cur + ms
	if next < cur {
		next = 0
	}
	atomic.StoreUint32(&tc.ticks, next)
}

// Set forces the counter to v.
func (tc *TickCounter) Set(v uint32) {
	atomic.StoreUint32(&tc.ticks, v)
}

func (tc *TickCounter) Now() uint32 {
	return atomic.LoadUint32(&tc.ticks)
}

func (tc *TickCounter) Mark() uint32 {
	return tc.Now()
}

func (tc *TickCounter) Elapsed(mark uint32) uint32 {
	now := tc.Now()
	if now < mark {
		// Clamped since the mark was taken.
		return now
	}
	return now - mark
}

// SystemClock reads the host monotonic clock.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (sc *SystemClock) Mark() uint32 {
	return uint32(time.Since(sc.start) / time.Millisecond)
}

func (sc *SystemClock) Elapsed(mark uint32) uint32 {
	return sc.Mark() - mark
}
