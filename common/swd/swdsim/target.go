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

// Package swdsim is a deterministic SWD target that plugs in where real
// pins would. It follows the host bit by bit: it samples the data line on
// every rising SWCLK edge while the host drives it and presents its own
// bits (acknowledgements, read data) for the host to sample while SWCLK is low.
package swdsim

import (
	"github.com/golang/glog"

	"github.com/mongoose-os/dapprobe/common/swd"
)

// DP register addresses, A[3:2].
const (
	RegIDR      = 0 // read: DPIDR, write: ABORT
	RegCtrlStat = 1
	RegSelect   = 2
	RegRdBuff   = 3
)

// DefaultIDR is a DPv1 DPIDR as reported by Cortex-M3/M4 parts.
const DefaultIDR = 0x2ba01477

// CTRL/STAT power-up request and acknowledge bits.
const (
	cdbgPwrUpReq = 1 << 28
	cdbgPwrUpAck = 1 << 29
	csysPwrUpReq = 1 << 30
	csysPwrUpAck = 1 << 31
	cdbgRstReq   = 1 << 26
	cdbgRstAck   = 1 << 27
)

// Consecutive ones that make a line reset.
const lineResetOnes = 50

type state int

const (
	stateIdle state = iota
	stateHeader
	stateTurnToTarget
	stateDrive
	stateTurnToHost
	stateWriteData
)

// Transaction is a request the target acknowledged, for inspection by tests.
type Transaction struct {
	Req swd.Request
	Ack swd.Ack
}

// Target is a simulated SWD debug port. It implements swd.Pins and
// swd.Delayer. It is not safe for concurrent use, just like real pins.
type Target struct {
	// Turnaround must match the host's SWD configuration.
	Turnaround int
	// IDR is returned for DPIDR reads.
	IDR uint32
	// AckFunc, if set, decides the acknowledgement of every request once
	// the queued acknowledgements are exhausted.
	AckFunc func(n int, req swd.Request) swd.Ack
	// ReadFunc, if set, overrides register reads.
	ReadFunc func(req swd.Request) uint32
	// Posted makes an AP read return the result of the previous AP read,
	// as real debug ports do. The new value is left in RDBUFF.
	Posted bool

	// Stats.
	PinCalls     int
	Edges        int
	BadHeaders   int
	LineResets   int
	ResetPulses  int
	DelayedUS    uint64
	Transactions []Transaction
	// Abort holds the last value written to the DP ABORT register.
	Abort uint32
	// Record, when set, appends every bit the host drives to Recorded.
	Record   bool
	Recorded []bool

	clock    bool
	hostDir  swd.Direction
	hostData bool
	reset    bool

	st      state
	shift   uint64
	nbits   int
	wait    int
	out     []bool
	after   state
	pending swd.Request
	ones    int

	acks        []swd.Ack
	corruptNext uint32

	ctrlStat uint32
	sel      uint32
	rdbuff   uint32
	dp       [4]uint32
	ap       map[uint32]uint32
}

func NewTarget() *Target {
	return &Target{
		Turnaround: 1,
		IDR:        DefaultIDR,
		clock:      true,
		hostData:   true,
		reset:      true,
		ap:         make(map[uint32]uint32),
	}
}

// QueueAcks makes the next len(acks) requests answer with the given values.
func (t *Target) QueueAcks(acks ...swd.Ack) {
	t.acks = append(t.acks, acks...)
}

// CorruptNextRead flips the bits in mask in the next read payload while
// keeping the parity bit computed for the original value.
func (t *Target) CorruptNextRead(mask uint32) {
	t.corruptNext = mask
}

// SetAPReg presets an AP register in bank/slot selected by SELECT.
func (t *Target) SetAPReg(apSel, addr uint8, value uint32) {
	t.ap[apKey(uint32(apSel)<<24|uint32(addr&0xf0), addr>>2&3)] = value
}

// APReg returns an AP register value as seen through SELECT.
func (t *Target) APReg(apSel, addr uint8) uint32 {
	return t.ap[apKey(uint32(apSel)<<24|uint32(addr&0xf0), addr>>2&3)]
}

func (t *Target) CtrlStat() uint32 {
	return t.ctrlStat
}

func (t *Target) Select() uint32 {
	return t.sel
}

// Requests returns the number of well-formed request headers received.
func (t *Target) Requests() int {
	return len(t.Transactions)
}

// HostDirection is the last SWDIO direction set by the host.
func (t *Target) HostDirection() swd.Direction {
	return t.hostDir
}

func (t *Target) SetClock(level bool) {
	t.PinCalls++
	rising := level && !t.clock
	t.clock = level
	if rising {
		t.Edges++
		t.rise()
	}
}

func (t *Target) SetData(level bool) {
	t.PinCalls++
	t.hostData = level
}

func (t *Target) GetData() bool {
	t.PinCalls++
	if t.st == stateDrive && len(t.out) > 0 {
		return t.out[0]
	}
	if t.hostDir == swd.Output {
		return t.hostData
	}
	// Pull-up.
	return true
}

func (t *Target) SetDataDirection(dir swd.Direction) {
	t.PinCalls++
	t.hostDir = dir
}

func (t *Target) SetReset(level bool) {
	t.PinCalls++
	if !level && t.reset {
		t.ResetPulses++
		t.st = stateIdle
	}
	t.reset = level
}

func (t *Target) DelayMicroseconds(n uint32) {
	t.DelayedUS += uint64(n)
}

func (t *Target) rise() {
	driving := t.hostDir == swd.Output
	bit := driving && t.hostData
	if t.Record && driving {
		t.Recorded = append(t.Recorded, bit)
	}
	if bit {
		t.ones++
		if t.ones >= lineResetOnes {
			if t.ones == lineResetOnes {
				t.LineResets++
				glog.V(4).Infof("sim: line reset")
			}
			t.st = stateIdle
			return
		}
	} else {
		t.ones = 0
	}

	switch t.st {
	case stateIdle:
		if bit {
			t.st = stateHeader
			t.shift = 1
			t.nbits = 1
		}
	case stateHeader:
		if !driving {
			t.st = stateIdle
			return
		}
		if bit {
			t.shift |= 1 << uint(t.nbits)
		}
		t.nbits++
		if t.nbits == 8 {
			t.onHeader(uint8(t.shift))
		}
	case stateTurnToTarget:
		t.wait--
		if t.wait <= 0 {
			t.st = stateDrive
		}
	case stateDrive:
		t.out = t.out[1:]
		if len(t.out) == 0 {
			t.st = stateTurnToHost
			t.wait = t.Turnaround
		}
	case stateTurnToHost:
		t.wait--
		if t.wait <= 0 {
			t.st = t.after
			t.shift = 0
			t.nbits = 0
		}
	case stateWriteData:
		if bit {
			t.shift |= 1 << uint(t.nbits)
		}
		t.nbits++
		if t.nbits == 33 {
			t.onWriteData()
			t.st = stateIdle
		}
	}
}

func (t *Target) onHeader(h uint8) {
	req, ok := swd.ParseHeader(h)
	if !ok {
		t.BadHeaders++
		glog.V(4).Infof("sim: bad header 0x%02x", h)
		t.st = stateIdle
		return
	}
	ack := t.nextAck(req)
	t.Transactions = append(t.Transactions, Transaction{Req: req, Ack: ack})
	t.out = t.out[:0]
	for i := uint(0); i < 3; i++ {
		t.out = append(t.out, uint8(ack)&(1<<i) != 0)
	}
	t.after = stateIdle
	switch {
	case ack == swd.AckOK && req.Op == swd.Read:
		v := t.read(req)
		parity := swd.Parity(v)
		v ^= t.corruptNext
		t.corruptNext = 0
		for i := uint(0); i < 32; i++ {
			t.out = append(t.out, v&(1<<i) != 0)
		}
		t.out = append(t.out, parity)
	case ack == swd.AckOK:
		t.pending = req
		t.after = stateWriteData
	}
	t.st = stateTurnToTarget
	t.wait = t.Turnaround
}

func (t *Target) onWriteData() {
	v := uint32(t.shift)
	parity := t.shift&(1<<32) != 0
	if parity != swd.Parity(v) {
		// A real DP sets WDATAERR and drops the write.
		glog.V(4).Infof("sim: write parity error")
		t.ctrlStat |= 1 << 7
		return
	}
	req := t.pending
	req.Value = v
	t.Transactions[len(t.Transactions)-1].Req = req
	t.write(req)
}

func (t *Target) nextAck(req swd.Request) swd.Ack {
	if len(t.acks) > 0 {
		a := t.acks[0]
		t.acks = t.acks[1:]
		return a
	}
	if t.AckFunc != nil {
		return t.AckFunc(len(t.Transactions), req)
	}
	return swd.AckOK
}

func apKey(sel uint32, reg uint8) uint32 {
	return sel&0xff0000f0 | uint32(reg)<<2
}

func (t *Target) read(req swd.Request) uint32 {
	if t.ReadFunc != nil {
		return t.ReadFunc(req)
	}
	if req.Space == swd.AP {
		v, prev := t.ap[apKey(t.sel, req.Reg)], t.rdbuff
		t.rdbuff = v
		if t.Posted {
			return prev
		}
		return v
	}
	switch req.Reg {
	case RegIDR:
		return t.IDR
	case RegCtrlStat:
		return t.ctrlStat
	case RegSelect:
		return t.sel
	case RegRdBuff:
		return t.rdbuff
	}
	return 0
}

func (t *Target) write(req swd.Request) {
	if req.Space == swd.AP {
		t.ap[apKey(t.sel, req.Reg)] = req.Value
		return
	}
	switch req.Reg {
	case RegIDR:
		t.Abort = req.Value
	case RegCtrlStat:
		v := req.Value &^ (cdbgPwrUpAck | csysPwrUpAck | cdbgRstAck)
		if v&cdbgPwrUpReq != 0 {
			v |= cdbgPwrUpAck
		}
		if v&csysPwrUpReq != 0 {
			v |= csysPwrUpAck
		}
		if v&cdbgRstReq != 0 {
			v |= cdbgRstAck
		}
		t.ctrlStat = v
	case RegSelect:
		t.sel = req.Value
	default:
		t.dp[req.Reg] = req.Value
	}
}
