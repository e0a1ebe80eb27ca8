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
	"time"
)

// Direction of the SWDIO line as seen from the probe.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Pins is the pin-control capability the transport drives.
// All methods are synchronous and unbuffered.
type Pins interface {
	// SetClock drives SWCLK.
	SetClock(level bool)
	// SetData drives SWDIO. Only meaningful when the line is an output.
	SetData(level bool)
	// GetData samples SWDIO.
	GetData() bool
	// SetDataDirection switches SWDIO between driving and sampling.
	SetDataDirection(dir Direction)
	// SetReset drives the target nRESET line (active low).
	SetReset(level bool)
}

// Delayer blocks for a number of microseconds.
type Delayer interface {
	DelayMicroseconds(n uint32)
}

// SpinDelay busy-waits short delays and sleeps long ones.
// time.Sleep granularity is far too coarse for SWD half-periods.
type SpinDelay struct{}

const spinThreshold = 100 * time.Microsecond

func (SpinDelay) DelayMicroseconds(n uint32) {
	d := time.Duration(n) * time.Microsecond
	if d >= spinThreshold {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
