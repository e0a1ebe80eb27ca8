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
package swd

import (
	"github.com/golang/glog"
)

const (
	// DefaultHalfPeriod is the SWCLK half-period in microseconds used until
	// the host sets a clock.
	DefaultHalfPeriod = 1
)

// Bus is the SWD transport primitive: it generates and samples single
// clock-synchronous bits on SWCLK/SWDIO and drives nRESET.
// It has no protocol knowledge.
type Bus struct {
	pins  Pins
	delay Delayer

	halfPeriod uint32
	dir        Direction
	clock      bool
	data       bool
	reset      bool
}

func NewBus(pins Pins, delay Delayer) *Bus {
	return &Bus{
		pins:       pins,
		delay:      delay,
		halfPeriod: DefaultHalfPeriod,
		dir:        Input,
		clock:      true,
		data:       true,
		reset:      true,
	}
}

// SetHalfPeriod sets the SWCLK half-period in microseconds. Zero is raised to one.
func (b *Bus) SetHalfPeriod(us uint32) {
	if us == 0 {
		us = 1
	}
	glog.V(1).Infof("SWCLK half-period %d us", us)
	b.halfPeriod = us
}

func (b *Bus) HalfPeriod() uint32 {
	return b.halfPeriod
}

// SetDirection always reaches the pins: a skipped switch corrupts the next phase.
func (b *Bus) SetDirection(dir Direction) {
	b.pins.SetDataDirection(dir)
	b.dir = dir
}

func (b *Bus) Direction() Direction {
	return b.dir
}

func (b *Bus) SetClock(level bool) {
	b.pins.SetClock(level)
	b.clock = level
}

func (b *Bus) SetData(level bool) {
	b.pins.SetData(level)
	b.data = level
}

func (b *Bus) GetData() bool {
	return b.pins.GetData()
}

func (b *Bus) SetReset(level bool) {
	b.pins.SetReset(level)
	b.reset = level
}

// Levels returns the last driven SWCLK, SWDIO and nRESET levels.
func (b *Bus) Levels() (clock, data, reset bool) {
	return b.clock, b.data, b.reset
}

func (b *Bus) Delay(us uint32) {
	if us > 0 {
		b.delay.DelayMicroseconds(us)
	}
}

// ClockCycle produces one full SWCLK period without touching SWDIO.
func (b *Bus) ClockCycle() {
	b.SetClock(false)
	b.delay.DelayMicroseconds(b.halfPeriod)
	b.SetClock(true)
	b.delay.DelayMicroseconds(b.halfPeriod)
}

// Cycles produces n clock periods.
func (b *Bus) Cycles(n int) {
	for ; n > 0; n-- {
		b.ClockCycle()
	}
}

// WriteBit drives one bit; the target samples it on the rising edge.
func (b *Bus) WriteBit(bit bool) {
	b.SetData(bit)
	b.ClockCycle()
}

// ReadBit samples SWDIO while SWCLK is low, then raises the clock so the
// target can present the next bit.
func (b *Bus) ReadBit() bool {
	b.SetClock(false)
	b.delay.DelayMicroseconds(b.halfPeriod)
	bit := b.pins.GetData()
	b.SetClock(true)
	b.delay.DelayMicroseconds(b.halfPeriod)
	return bit
}

// Sequence drives count raw bits taken LSB-first from data.
// Bits past the end of data are not sent.
func (b *Bus) Sequence(count int, data []byte) {
	if max := len(data) * 8; count > max {
		count = max
	}
	b.SetDirection(Output)
	for i := 0; i < count; i++ {
		b.WriteBit(data[i/8]&(1<<uint(i%8)) != 0)
	}
}
