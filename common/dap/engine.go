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
	"encoding/hex"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/dapprobe/common/swd"
)

// TransferConfig is set by TransferConfigure and read by every transfer.
type TransferConfig struct {
	IdleCycles uint8
	// WaitRetry bounds the attempts of a transfer answered with WAIT.
	WaitRetry uint16
	// MatchRetry bounds the reads of a transfer with value match.
	MatchRetry uint16
}

func DefaultTransferConfig() TransferConfig {
	return TransferConfig{IdleCycles: 0, WaitRetry: 100, MatchRetry: 100}
}

// Port is the debug port mode selected by Connect.
type Port uint8

const (
	PortDisabled Port = 0
	PortSWD      Port = 1
	PortJTAG     Port = 2
)

// HostStatus light types.
const (
	HostStatusConnected = 0
	HostStatusRunning   = 1
)

// EngineOpts configure a new Engine.
type EngineOpts struct {
	Identity Identity
	Transfer TransferConfig
	// ClockHz is the initial SWCLK frequency, 0 leaves the bus default.
	ClockHz uint32
	// PostedReads follows every AP read with a DP RDBUFF read and reports
	// that value instead. Debug ports on real pins need it.
	PostedReads bool
	// Indicator, if set, is called for HostStatus commands.
	Indicator func(light int, on bool)
}

// Engine is a CMSIS-DAP command processor driving one SWD bus. All
// commands run under a single lock: there is never more than one command
// toggling the pins.
type Engine struct {
	mu sync.Mutex

	bus  *swd.Bus
	swd  *swd.Engine
	opts EngineOpts

	xfer       TransferConfig
	port       Port
	lights     [2]bool
	matchMask  uint32
	clockHz    uint32
	numCommand uint64
}

func NewEngine(pins swd.Pins, delay swd.Delayer, opts *EngineOpts) *Engine {
	if opts == nil {
		opts = &EngineOpts{Transfer: DefaultTransferConfig()}
	}
	bus := swd.NewBus(pins, delay)
	e := &Engine{
		bus:       bus,
		swd:       swd.NewEngine(bus),
		opts:      *opts,
		matchMask: 0xffffffff,
	}
	e.setTransferConfig(opts.Transfer)
	if opts.ClockHz > 0 {
		e.setClock(opts.ClockHz)
	}
	return e
}

// ProcessCommand executes one command packet and writes the response into
// resp, returning its length. resp must have room for a full packet.
// Malformed and unknown commands are answered with CmdInvalid; an error is
// only returned when the arguments themselves are unusable.
func (e *Engine) ProcessCommand(req, resp []byte) (int, error) {
	if len(req) == 0 {
		return 0, errors.NotValidf("empty request")
	}
	if len(resp) < PacketSize {
		return 0, errors.Errorf("response buffer too small (need %d, got %d)", PacketSize, len(resp))
	}
	resp = resp[:PacketSize]

	e.mu.Lock()
	defer e.mu.Unlock()
	e.numCommand++

	glog.V(4).Infof("=> %s", hex.EncodeToString(req))
	cmd := Command(req[0])
	h := handlers[cmd]
	switch {
	case h == nil:
		glog.Warningf("unknown command 0x%02x", req[0])
	case len(req) > PacketSize:
		glog.Warningf("%s: request too long (%d)", h.name, len(req))
		h = nil
	case len(req) < h.minLen:
		glog.Warningf("%s: request too short (%d < %d)", h.name, len(req), h.minLen)
		h = nil
	case h.valid != nil && !h.valid(req):
		glog.Warningf("%s: malformed request", h.name)
		h = nil
	}
	if h == nil {
		resp[0] = byte(CmdInvalid)
		return 1, nil
	}
	resp[0] = req[0]
	n := h.run(e, req, resp)
	glog.V(2).Infof("%s: %d -> %d bytes", h.name, len(req), n)
	glog.V(4).Infof("<= %s", hex.EncodeToString(resp[:n]))
	return n, nil
}

// Process is ProcessCommand with a freshly allocated response.
func (e *Engine) Process(req []byte) ([]byte, error) {
	resp := make([]byte, PacketSize)
	n, err := e.ProcessCommand(req, resp)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return resp[:n], nil
}

// TransferConfig returns the current transfer configuration.
func (e *Engine) TransferConfig() TransferConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.xfer
}

// Port returns the connected port mode.
func (e *Engine) Port() Port {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// SWDConfig returns the electrical configuration of the transfer phase.
func (e *Engine) SWDConfig() swd.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.swd.Config()
}

// ClockHz returns the last SWCLK frequency set.
func (e *Engine) ClockHz() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clockHz
}

// NumCommands returns the number of packets processed so far.
func (e *Engine) NumCommands() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numCommand
}

func (e *Engine) setTransferConfig(tc TransferConfig) {
	e.xfer = tc
	cfg := e.swd.Config()
	cfg.IdleCycles = tc.IdleCycles
	e.swd.SetConfig(cfg)
	glog.V(1).Infof("transfer config: idle %d, wait retry %d, match retry %d",
		tc.IdleCycles, tc.WaitRetry, tc.MatchRetry)
}

// regRDBUFF is the DP read buffer, holding the result of the last AP read.
const regRDBUFF = 3

// read executes a read request. With posted reads, the data phase of an AP
// read carries a stale value; the real one is fetched from RDBUFF.
func (e *Engine) read(req swd.Request) swd.Result {
	res := e.execute(req)
	if !res.OK() || !e.opts.PostedReads || req.Space != swd.AP {
		return res
	}
	return e.execute(swd.Request{Space: swd.DP, Op: swd.Read, Reg: regRDBUFF})
}

// execute runs one SWD transfer, repeating it while the target answers
// WAIT, for at most WaitRetry attempts in total.
func (e *Engine) execute(req swd.Request) swd.Result {
	attempts := int(e.xfer.WaitRetry)
	if attempts < 1 {
		attempts = 1
	}
	var res swd.Result
	for i := 0; i < attempts; i++ {
		res = e.swd.Transfer(req)
		if res.Ack != swd.AckWait {
			break
		}
	}
	return res
}
