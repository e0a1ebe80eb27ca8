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
	"fmt"

	"github.com/golang/glog"
)

// Space selects the Debug Port or an Access Port register.
type Space uint8

const (
	DP Space = 0
	AP Space = 1
)

func (s Space) String() string {
	if s == AP {
		return "AP"
	}
	return "DP"
}

// Op is the direction of a register access.
type Op uint8

const (
	Write Op = 0
	Read  Op = 1
)

func (o Op) String() string {
	if o == Read {
		return "R"
	}
	return "W"
}

// Request is one register access. Reg is A[3:2], 0..3.
type Request struct {
	Space Space
	Op    Op
	Reg   uint8
	Value uint32
}

// Header bit positions.
const (
	hdrStart  = 1 << 0
	hdrAPnDP  = 1 << 1
	hdrRnW    = 1 << 2
	hdrA2     = 1 << 3
	hdrA3     = 1 << 4
	hdrParity = 1 << 5
	hdrStop   = 1 << 6
	hdrPark   = 1 << 7
)

// Header assembles the 8-bit request header sent LSB-first.
func (r Request) Header() uint8 {
	h := uint8(hdrStart | hdrPark)
	var content uint8
	if r.Space == AP {
		content |= hdrAPnDP
	}
	if r.Op == Read {
		content |= hdrRnW
	}
	content |= (r.Reg & 3) << 3
	h |= content
	if parity8(content) {
		h |= hdrParity
	}
	return h
}

// ParseHeader is the inverse of Header. ok is false if start, stop, park
// or parity bits are wrong.
func ParseHeader(h uint8) (r Request, ok bool) {
	if h&hdrStart == 0 || h&hdrStop != 0 || h&hdrPark == 0 {
		return r, false
	}
	content := h & (hdrAPnDP | hdrRnW | hdrA2 | hdrA3)
	if parity8(content) != (h&hdrParity != 0) {
		return r, false
	}
	if h&hdrAPnDP != 0 {
		r.Space = AP
	}
	if h&hdrRnW != 0 {
		r.Op = Read
	}
	r.Reg = (h >> 3) & 3
	return r, true
}

func (r Request) String() string {
	if r.Op == Read {
		return fmt.Sprintf("%s%s[0x%x]", r.Op, r.Space, r.Reg<<2)
	}
	return fmt.Sprintf("%s%s[0x%x]=0x%08x", r.Op, r.Space, r.Reg<<2, r.Value)
}

// Ack is the outcome of a transfer. The first three values are the
// target acknowledgement flags; ProtocolError covers parity mismatches and
// malformed acknowledgements.
type Ack uint8

const (
	AckOK            Ack = 1
	AckWait          Ack = 2
	AckFault         Ack = 4
	AckProtocolError Ack = 8
)

func (a Ack) String() string {
	switch a {
	case AckOK:
		return "OK"
	case AckWait:
		return "WAIT"
	case AckFault:
		return "FAULT"
	case AckProtocolError:
		return "PROTOCOL_ERROR"
	}
	return fmt.Sprintf("ACK(0x%x)", uint8(a))
}

// Result of a transfer. Value is only meaningful for an OK read.
type Result struct {
	Ack   Ack
	Value uint32
}

func (r Result) OK() bool {
	return r.Ack == AckOK
}

// Config holds the electrical parameters of the transfer phase.
type Config struct {
	// Turnaround is the number of turnaround clock cycles, 1..4.
	Turnaround int
	// DataPhase generates a dummy data phase on WAIT and FAULT.
	DataPhase bool
	// IdleCycles are clocked after every successful transfer.
	IdleCycles uint8
}

// DefaultConfig matches the SWD power-on defaults.
func DefaultConfig() Config {
	return Config{Turnaround: 1}
}

// Engine executes SWD transfers on a Bus. It never retries: WAIT, FAULT and
// protocol errors are reported to the caller.
type Engine struct {
	bus *Bus
	cfg Config
}

func NewEngine(bus *Bus) *Engine {
	return &Engine{bus: bus, cfg: DefaultConfig()}
}

func (e *Engine) Bus() *Bus {
	return e.bus
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) SetConfig(cfg Config) {
	if cfg.Turnaround < 1 {
		cfg.Turnaround = 1
	}
	if cfg.Turnaround > 4 {
		cfg.Turnaround = 4
	}
	e.cfg = cfg
}

// Transfer performs one register access. On exit SWDIO is an input after a
// successful read and an output, driven high, in every other case.
func (e *Engine) Transfer(req Request) Result {
	b := e.bus
	hdr := req.Header()

	b.SetDirection(Output)
	for i := uint(0); i < 8; i++ {
		b.WriteBit(hdr&(1<<i) != 0)
	}

	b.SetDirection(Input)
	b.Cycles(e.cfg.Turnaround)
	var ack uint8
	for i := uint(0); i < 3; i++ {
		if b.ReadBit() {
			ack |= 1 << i
		}
	}

	switch Ack(ack) {
	case AckOK:
		// Data phase below.
	case AckWait, AckFault:
		if e.cfg.DataPhase && req.Op == Read {
			b.Cycles(33)
		}
		b.Cycles(e.cfg.Turnaround)
		b.SetDirection(Output)
		if e.cfg.DataPhase && req.Op == Write {
			b.SetData(false)
			b.Cycles(33)
		}
		b.SetData(true)
		glog.V(3).Infof("%s: %s", req, Ack(ack))
		return Result{Ack: Ack(ack)}
	default:
		// Nobody answered, or garbage: back off a full data phase.
		b.Cycles(e.cfg.Turnaround + 33)
		b.SetDirection(Output)
		b.SetData(true)
		glog.V(3).Infof("%s: bad ack 0x%x", req, ack)
		return Result{Ack: AckProtocolError}
	}

	if req.Op == Read {
		var value uint32
		parity := false
		for i := uint(0); i < 32; i++ {
			if b.ReadBit() {
				value |= 1 << i
				parity = !parity
			}
		}
		pbit := b.ReadBit()
		b.Cycles(e.cfg.Turnaround)
		b.SetDirection(Output)
		e.idle()
		b.SetData(true)
		if pbit != parity {
			glog.V(3).Infof("%s: parity error", req)
			return Result{Ack: AckProtocolError}
		}
		glog.V(3).Infof("%s: 0x%08x", req, value)
		return Result{Ack: AckOK, Value: value}
	}

	b.Cycles(e.cfg.Turnaround)
	b.SetDirection(Output)
	value := req.Value
	for i := uint(0); i < 32; i++ {
		b.WriteBit(value&(1<<i) != 0)
	}
	b.WriteBit(Parity(value))
	e.idle()
	b.SetData(true)
	glog.V(3).Infof("%s: OK", req)
	return Result{Ack: AckOK}
}

// idle clocks the configured idle cycles. The line is held low only when
// the probe owns it.
// idle clocks IdleCycles cycles with SWDIO driven low.
func (e *Engine) idle() {
	if e.cfg.IdleCycles == 0 {
		return
	}
	e.bus.SetData(false)
	e.bus.Cycles(int(e.cfg.IdleCycles))
}

// Sequence drives bitCount raw bits from bits, LSB-first per byte.
func (e *Engine) Sequence(bitCount int, bits []byte) {
	e.bus.Sequence(bitCount, bits)
}

var (
	lineResetBits = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	// 0xE79E, LSB first.
	jtagToSWDBits = []byte{0x9e, 0xe7}
)

// LineReset drives 56 ones followed by two idle cycles.
func (e *Engine) LineReset() {
	e.Sequence(56, lineResetBits)
	e.Sequence(2, []byte{0})
}

// JTAGToSWD performs the JTAG-to-SWD switch surrounded by line resets.
func (e *Engine) JTAGToSWD() {
	e.Sequence(56, lineResetBits)
	e.Sequence(16, jtagToSWDBits)
	e.LineReset()
}

func parity8(v uint8) bool {
	p := false
	for ; v != 0; v &= v - 1 {
		p = !p
	}
	return p
}

// Parity is the even-parity bit of v: true when v has an odd number of ones.
func Parity(v uint32) bool {
	p := false
	for ; v != 0; v &= v - 1 {
		p = !p
	}
	return p
}
