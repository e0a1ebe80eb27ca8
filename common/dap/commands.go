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

// Package dap implements the probe side of the CMSIS-DAP command protocol
// on top of the SWD transfer engine.
// https://arm-software.github.io/CMSIS_5/DAP/html/group__DAP__Commands__gr.html
package dap

import (
	"fmt"
)

// Command is the opcode in byte 0 of every request.
type Command uint8

const (
	CmdInfo              Command = 0x00
	CmdHostStatus        Command = 0x01
	CmdConnect           Command = 0x02
	CmdDisconnect        Command = 0x03
	CmdTransferConfigure Command = 0x04
	CmdTransfer          Command = 0x05
	CmdTransferBlock     Command = 0x06
	CmdTransferAbort     Command = 0x07
	CmdWriteABORT        Command = 0x08
	CmdDelay             Command = 0x09
	CmdResetTarget       Command = 0x0a
	CmdSWJPins           Command = 0x10
	CmdSWJClock          Command = 0x11
	CmdSWJSequence       Command = 0x12
	CmdSWDConfigure      Command = 0x13
	CmdJTAGSequence      Command = 0x14
	CmdJTAGConfigure     Command = 0x15
	CmdJTAGIDCODE        Command = 0x16

	// CmdInvalid replaces the opcode in the response to a malformed or
	// unknown command.
	CmdInvalid Command = 0xff
)

// PacketSize is the fixed maximum size of a request or response.
const PacketSize = 64

// Command status byte values.
const (
	StatusOK    = 0x00
	StatusError = 0xff
)

type handler struct {
	name string
	// minLen includes the opcode byte.
	minLen int
	// valid, if set, pre-parses variable length commands so the handler
	// never runs on a request it cannot consume completely.
	valid func(req []byte) bool
	run   func(e *Engine, req, resp []byte) int
}

var handlers = map[Command]*handler{
	CmdInfo:              {name: "Info", minLen: 2, run: (*Engine).info},
	CmdHostStatus:        {name: "HostStatus", minLen: 3, run: (*Engine).hostStatus},
	CmdConnect:           {name: "Connect", minLen: 2, run: (*Engine).connect},
	CmdDisconnect:        {name: "Disconnect", minLen: 1, run: (*Engine).disconnect},
	CmdTransferConfigure: {name: "TransferConfigure", minLen: 6, run: (*Engine).transferConfigure},
	CmdTransfer:          {name: "Transfer", minLen: 3, valid: validTransfer, run: (*Engine).transfer},
	CmdTransferBlock:     {name: "TransferBlock", minLen: 5, valid: validTransferBlock, run: (*Engine).transferBlock},
	CmdTransferAbort:     {name: "TransferAbort", minLen: 1, run: (*Engine).transferAbort},
	CmdWriteABORT:        {name: "WriteABORT", minLen: 6, run: (*Engine).writeABORT},
	CmdDelay:             {name: "Delay", minLen: 3, run: (*Engine).delay},
	CmdResetTarget:       {name: "ResetTarget", minLen: 1, run: (*Engine).resetTarget},
	CmdSWJPins:           {name: "SWJ_Pins", minLen: 7, run: (*Engine).swjPins},
	CmdSWJClock:          {name: "SWJ_Clock", minLen: 5, run: (*Engine).swjClock},
	CmdSWJSequence:       {name: "SWJ_Sequence", minLen: 2, valid: validSWJSequence, run: (*Engine).swjSequence},
	CmdSWDConfigure:      {name: "SWD_Configure", minLen: 2, run: (*Engine).swdConfigure},
	CmdJTAGSequence:      {name: "JTAG_Sequence", minLen: 2, valid: validJTAGSequence, run: (*Engine).jtagSequence},
	CmdJTAGConfigure:     {name: "JTAG_Configure", minLen: 2, valid: validJTAGConfigure, run: (*Engine).jtagConfigure},
	CmdJTAGIDCODE:        {name: "JTAG_IDCODE", minLen: 2, run: (*Engine).jtagIDCODE},
}

func (c Command) String() string {
	if h := handlers[c]; h != nil {
		return h.name
	}
	return fmt.Sprintf("Command(0x%02x)", uint8(c))
}

// Transfer request byte bits, shared by Transfer and TransferBlock.
const (
	reqAPnDP      = 1 << 0
	reqRnW        = 1 << 1
	reqA2         = 1 << 2
	reqA3         = 1 << 3
	reqMatchValue = 1 << 4
	reqMatchMask  = 1 << 5
	reqTimestamp  = 1 << 7
)

// Transfer response bits on top of the SWD acknowledgement.
const (
	ackValueMismatch = 0x10
)
