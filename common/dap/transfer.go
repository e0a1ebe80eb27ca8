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

	"github.com/mongoose-os/dapprobe/common/swd"
)

func parseRequest(r uint8) swd.Request {
	req := swd.Request{
		Reg: (r >> 2) & 3,
	}
	if r&reqAPnDP != 0 {
		req.Space = swd.AP
	}
	if r&reqRnW != 0 {
		req.Op = swd.Read
	}
	return req
}

// transferDataLen returns the number of request and response data bytes
// carried by a Transfer sub-request.
func transferDataLen(r uint8) (in, out int) {
	switch {
	case r&reqRnW == 0:
		// Write, match mask write included.
		return 4, 0
	case r&reqMatchValue != 0:
		return 4, 0
	default:
		return 0, 4
	}
}

// validTransfer checks that every sub-request is complete and that the read
// data fits in a response packet.
func validTransfer(req []byte) bool {
	count := int(req[2])
	p, out := 3, 3
	for i := 0; i < count; i++ {
		if p >= len(req) {
			return false
		}
		r := req[p]
		if r&reqTimestamp != 0 {
			return false
		}
		in, o := transferDataLen(r)
		p += 1 + in
		out += o
	}
	return p <= len(req) && out <= PacketSize
}

func validTransferBlock(req []byte) bool {
	count := int(binary.LittleEndian.Uint16(req[2:]))
	r := req[4]
	if r&(reqMatchValue|reqMatchMask|reqTimestamp) != 0 {
		return false
	}
	if r&reqRnW != 0 {
		return 4+4*count <= PacketSize
	}
	return 5+4*count <= len(req)
}

func (e *Engine) transferConfigure(req, resp []byte) int {
	e.setTransferConfig(TransferConfig{
		IdleCycles: req[1],
		WaitRetry:  binary.LittleEndian.Uint16(req[2:]),
		MatchRetry: binary.LittleEndian.Uint16(req[4:]),
	})
	resp[1] = StatusOK
	return 2
}

// transfer executes a list of single transfers. Response: number of
// completed sub-transfers, the last acknowledgement, read data.
func (e *Engine) transfer(req, resp []byte) int {
	count := int(req[2])
	n := 3
	if e.port != PortSWD {
		glog.Warningf("Transfer: not connected")
		resp[1], resp[2] = 0, 0
		return n
	}
	var done int
	var ack uint8
	p := 3
	for ; done < count; done++ {
		r := req[p]
		p++
		sreq := parseRequest(r)
		switch {
		case sreq.Op == swd.Write && r&reqMatchMask != 0:
			e.matchMask = binary.LittleEndian.Uint32(req[p:])
			p += 4
			ack = uint8(swd.AckOK)
			continue
		case sreq.Op == swd.Write:
			sreq.Value = binary.LittleEndian.Uint32(req[p:])
			p += 4
			ack = uint8(e.execute(sreq).Ack)
		case r&reqMatchValue != 0:
			want := binary.LittleEndian.Uint32(req[p:])
			p += 4
			ack = e.matchRead(sreq, want)
		default:
			res := e.read(sreq)
			ack = uint8(res.Ack)
			if res.OK() {
				binary.LittleEndian.PutUint32(resp[n:], res.Value)
				n += 4
			}
		}
		if ack != uint8(swd.AckOK) {
			break
		}
	}
	resp[1] = uint8(done)
	resp[2] = ack
	glog.V(2).Infof("Transfer: %d/%d ack 0x%02x", done, count, ack)
	return n
}

// matchRead reads until the masked value equals want, for at most
// MatchRetry reads.
func (e *Engine) matchRead(req swd.Request, want uint32) uint8 {
	reads := int(e.xfer.MatchRetry)
	if reads < 1 {
		reads = 1
	}
	for i := 0; i < reads; i++ {
		res := e.read(req)
		if !res.OK() {
			return uint8(res.Ack)
		}
		if res.Value&e.matchMask == want {
			return uint8(swd.AckOK)
		}
	}
	return uint8(swd.AckOK) | ackValueMismatch
}

// transferBlock repeats one transfer count times. Response: completed
// count (u16), last acknowledgement, read data.
func (e *Engine) transferBlock(req, resp []byte) int {
	count := int(binary.LittleEndian.Uint16(req[2:]))
	n := 4
	if e.port != PortSWD {
		glog.Warningf("TransferBlock: not connected")
		resp[1], resp[2], resp[3] = 0, 0, 0
		return n
	}
	sreq := parseRequest(req[4])
	p := 5
	var done int
	var ack uint8
	for ; done < count; done++ {
		var res swd.Result
		if sreq.Op == swd.Write {
			sreq.Value = binary.LittleEndian.Uint32(req[p:])
			p += 4
			res = e.execute(sreq)
		} else {
			res = e.read(sreq)
		}
		ack = uint8(res.Ack)
		if !res.OK() {
			break
		}
		if sreq.Op == swd.Read {
			binary.LittleEndian.PutUint32(resp[n:], res.Value)
			n += 4
		}
	}
	binary.LittleEndian.PutUint16(resp[1:], uint16(done))
	resp[3] = ack
	glog.V(2).Infof("TransferBlock: %d/%d ack 0x%02x", done, count, ack)
	return n
}

// transferAbort runs in order with the other commands. Commands never
// overlap, so there is no transfer in progress to stop: the request is
// acknowledged and the next command runs normally.
func (e *Engine) transferAbort(req, resp []byte) int {
	glog.V(2).Infof("TransferAbort: no transfer in progress")
	return 1
}

func (e *Engine) writeABORT(req, resp []byte) int {
	if e.port != PortSWD {
		resp[1] = StatusError
		return 2
	}
	res := e.execute(swd.Request{Space: swd.DP, Op: swd.Write, Reg: 0, Value: binary.LittleEndian.Uint32(req[2:])})
	resp[1] = StatusOK
	if !res.OK() {
		resp[1] = StatusError
	}
	return 2
}
