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
package dap

import (
	"encoding/binary"
	"time"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/physic"

	"github.com/mongoose-os/dapprobe/common/swd"
)

// SWJ_Pins bit positions.
const (
	PinSWCLK  = 1 << 0
	PinSWDIO  = 1 << 1
	PinNRESET = 1 << 7
)

const (
	// Longest SWJ_Pins wait allowed by CMSIS-DAP.
	maxPinWaitUS = 3000000
	pinPollUS    = 10

	resetPulseUS  = 1000
	resetSettleUS = 1000
)

func (e *Engine) hostStatus(req, resp []byte) int {
	light, on := int(req[1]), req[2] != 0
	if light != HostStatusConnected && light != HostStatusRunning {
		resp[1] = StatusError
		return 2
	}
	e.lights[light] = on
	if e.opts.Indicator != nil {
		e.opts.Indicator(light, on)
	}
	resp[1] = StatusOK
	return 2
}

func (e *Engine) connect(req, resp []byte) int {
	switch Port(req[1]) {
	case PortDisabled, PortSWD:
		b := e.bus
		b.SetReset(true)
		b.SetClock(true)
		b.SetDirection(swd.Output)
		b.SetData(true)
		e.port = PortSWD
		glog.V(1).Infof("connected in SWD mode")
		resp[1] = uint8(PortSWD)
	default:
		glog.Warningf("Connect: port %d is not supported", req[1])
		resp[1] = uint8(PortDisabled)
	}
	return 2
}

func (e *Engine) disconnect(req, resp []byte) int {
	e.bus.SetDirection(swd.Input)
	e.port = PortDisabled
	glog.V(1).Infof("disconnected")
	resp[1] = StatusOK
	return 2
}

func (e *Engine) delay(req, resp []byte) int {
	e.bus.Delay(uint32(binary.LittleEndian.Uint16(req[1:])))
	resp[1] = StatusOK
	return 2
}

// resetTarget pulses nRESET. Response: status, execute flag.
func (e *Engine) resetTarget(req, resp []byte) int {
	e.bus.SetReset(false)
	e.bus.Delay(resetPulseUS)
	e.bus.SetReset(true)
	e.bus.Delay(resetSettleUS)
	resp[1] = StatusOK
	resp[2] = 1
	return 3
}

func (e *Engine) pinLevels() uint8 {
	clock, _, reset := e.bus.Levels()
	var v uint8
	if clock {
		v |= PinSWCLK
	}
	if e.bus.GetData() {
		v |= PinSWDIO
	}
	if reset {
		v |= PinNRESET
	}
	return v
}

// swjPins sets the selected pins, optionally waits for them to reach the
// requested levels and returns the pin levels.
func (e *Engine) swjPins(req, resp []byte) int {
	out, sel := req[1], req[2]
	wait := binary.LittleEndian.Uint32(req[3:])
	if sel&PinSWCLK != 0 {
		e.bus.SetClock(out&PinSWCLK != 0)
	}
	if sel&PinSWDIO != 0 {
		e.bus.SetData(out&PinSWDIO != 0)
	}
	if sel&PinNRESET != 0 {
		e.bus.SetReset(out&PinNRESET != 0)
	}
	if wait > maxPinWaitUS {
		wait = maxPinWaitUS
	}
	if sel != 0 && wait > 0 {
		for steps := wait/pinPollUS + 1; steps > 0; steps-- {
			if e.pinLevels()&sel == out&sel {
				break
			}
			e.bus.Delay(pinPollUS)
		}
	}
	resp[1] = e.pinLevels()
	return 2
}

// clockHalfPeriod converts a clock frequency to a whole number of
// microseconds per half period, at least one.
func clockHalfPeriod(hz uint32) uint32 {
	half := (physic.Frequency(hz) * physic.Hertz).Period() / 2
	us := uint32(half / time.Microsecond)
	if us < 1 {
		us = 1
	}
	return us
}

func (e *Engine) setClock(hz uint32) {
	e.bus.SetHalfPeriod(clockHalfPeriod(hz))
	e.clockHz = hz
}

func (e *Engine) swjClock(req, resp []byte) int {
	hz := binary.LittleEndian.Uint32(req[1:])
	if hz == 0 {
		resp[1] = StatusError
		return 2
	}
	e.setClock(hz)
	resp[1] = StatusOK
	return 2
}

func swjSequenceBits(req []byte) int {
	if n := int(req[1]); n > 0 {
		return n
	}
	return 256
}

func validSWJSequence(req []byte) bool {
	return 2+(swjSequenceBits(req)+7)/8 <= len(req)
}

func (e *Engine) swjSequence(req, resp []byte) int {
	n := swjSequenceBits(req)
	e.swd.Sequence(n, req[2:2+(n+7)/8])
	resp[1] = StatusOK
	return 2
}

func (e *Engine) swdConfigure(req, resp []byte) int {
	cfg := e.swd.Config()
	cfg.Turnaround = int(req[1]&3) + 1
	cfg.DataPhase = req[1]&4 != 0
	e.swd.SetConfig(cfg)
	glog.V(1).Infof("SWD turnaround %d, data phase %t", cfg.Turnaround, cfg.DataPhase)
	resp[1] = StatusOK
	return 2
}
