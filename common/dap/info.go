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

	"github.com/golang/glog"
)

// Info IDs. Vendor and product are the numeric USB IDs; the firmware
// version lives at 0xf0.
const (
	InfoVendor          = 0x01
	InfoProduct         = 0x02
	InfoSerial          = 0x03
	InfoProtocolVersion = 0x04
	InfoTargetVendor    = 0x05
	InfoTargetName      = 0x06
	InfoBoardVendor     = 0x07
	InfoBoardName       = 0x08
	InfoFirmwareVersion = 0xf0
	InfoPacketCount     = 0xfe
	InfoPacketSize      = 0xff
)

// ProtocolVersion is the CMSIS-DAP version implemented.
const ProtocolVersion = "2.0.0"

// Reported when Identity leaves them unset.
const (
	DefaultVID             = 0x0d28
	DefaultPID             = 0x0204
	DefaultFirmwareVersion = "1.0.0"
)

// Identity holds the values reported by the Info command. Empty strings
// are reported with zero length.
type Identity struct {
	VID             uint16 `yaml:"vid"`
	PID             uint16 `yaml:"pid"`
	Serial          string `yaml:"serial"`
	TargetVendor    string `yaml:"target_vendor"`
	TargetName      string `yaml:"target_name"`
	BoardVendor     string `yaml:"board_vendor"`
	BoardName       string `yaml:"board_name"`
	FirmwareVersion string `yaml:"firmware_version"`
	// PacketCount is the number of packets the host may queue. Zero means 1.
	PacketCount uint8 `yaml:"packet_count"`
}

func putInfoU16(resp []byte, v, def uint16) int {
	if v == 0 {
		v = def
	}
	resp[1] = 2
	binary.LittleEndian.PutUint16(resp[2:], v)
	return 4
}

func (e *Engine) info(req, resp []byte) int {
	id := req[1]
	var s string
	switch id {
	case InfoVendor:
		return putInfoU16(resp, e.opts.Identity.VID, DefaultVID)
	case InfoProduct:
		return putInfoU16(resp, e.opts.Identity.PID, DefaultPID)
	case InfoSerial:
		s = e.opts.Identity.Serial
	case InfoProtocolVersion:
		s = ProtocolVersion
	case InfoTargetVendor:
		s = e.opts.Identity.TargetVendor
	case InfoTargetName:
		s = e.opts.Identity.TargetName
	case InfoBoardVendor:
		s = e.opts.Identity.BoardVendor
	case InfoBoardName:
		s = e.opts.Identity.BoardName
	case InfoFirmwareVersion:
		s = e.opts.Identity.FirmwareVersion
		if s == "" {
			s = DefaultFirmwareVersion
		}
	case InfoPacketCount:
		pc := e.opts.Identity.PacketCount
		if pc == 0 {
			pc = 1
		}
		resp[1] = 1
		resp[2] = pc
		return 3
	case InfoPacketSize:
		resp[1] = 2
		binary.LittleEndian.PutUint16(resp[2:], PacketSize)
		return 4
	default:
		// Unknown IDs get no length byte at all.
		glog.V(2).Infof("Info: unknown id 0x%02x", id)
		return 1
	}
	if max := len(resp) - 2; len(s) > max {
		s = s[:max]
	}
	resp[1] = uint8(len(s))
	return 2 + copy(resp[2:], s)
}
