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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongoose-os/dapprobe/common/swd"
	"github.com/mongoose-os/dapprobe/common/swd/swdsim"
)

// Transfer request bytes.
const (
	rdDPIDR    = reqRnW
	rdCtrlStat = reqRnW | reqA2
	wrSelect   = reqA3
	rdAP1      = reqAPnDP | reqRnW | reqA2
	wrAP1      = reqAPnDP | reqA2
	rdAP3      = reqAPnDP | reqRnW | reqA2 | reqA3
)

func configure(t *testing.T, e *Engine, idle uint8, wait, match uint16) {
	resp := process(t, e, byte(CmdTransferConfigure), idle, byte(wait), byte(wait>>8), byte(match), byte(match>>8))
	require.Equal(t, []byte{byte(CmdTransferConfigure), StatusOK}, resp)
}

func TestTransferReadOK(t *testing.T) {
	for _, idr := range []uint32{swdsim.DefaultIDR, 0, 0xffffffff, 0x6ba02477} {
		e, target := newTestEngine(t)
		target.IDR = idr
		connect(t, e)
		resp := process(t, e, byte(CmdTransfer), 0, 1, rdDPIDR)
		assert.Equal(t, cat([]byte{byte(CmdTransfer), 1, byte(swd.AckOK)}, le32(idr)), resp)
	}
}

func TestTransferWriteThenRead(t *testing.T) {
	e, target := newTestEngine(t)
	connect(t, e)
	for _, v := range []uint32{0x12345678, 0, 0xffffffff, 0x80000001} {
		resp := process(t, e, cat([]byte{byte(CmdTransfer), 0, 2, wrAP1}, le32(v), []byte{rdAP1})...)
		assert.Equal(t, cat([]byte{byte(CmdTransfer), 2, byte(swd.AckOK)}, le32(v)), resp)
		assert.Equal(t, v, target.APReg(0, 0x04))
	}
}

func TestTransferNotConnected(t *testing.T) {
	e, target := newTestEngine(t)
	resp := process(t, e, byte(CmdTransfer), 0, 1, rdDPIDR)
	assert.Equal(t, []byte{byte(CmdTransfer), 0, 0}, resp)
	resp = process(t, e, byte(CmdTransferBlock), 0, 1, 0, rdDPIDR)
	assert.Equal(t, []byte{byte(CmdTransferBlock), 0, 0, 0}, resp)
	resp = process(t, e, cat([]byte{byte(CmdWriteABORT), 0}, le32(0x1e))...)
	assert.Equal(t, []byte{byte(CmdWriteABORT), StatusError}, resp)
	assert.Equal(t, 0, target.PinCalls)
}

func TestTransferWaitThenOK(t *testing.T) {
	const waitRetry = 5
	for k := 0; k < waitRetry; k++ {
		e, target := newTestEngine(t)
		connect(t, e)
		configure(t, e, 0, waitRetry, 0)
		for i := 0; i < k; i++ {
			target.QueueAcks(swd.AckWait)
		}
		resp := process(t, e, byte(CmdTransfer), 0, 1, rdDPIDR)
		assert.Equal(t, cat([]byte{byte(CmdTransfer), 1, byte(swd.AckOK)}, le32(swdsim.DefaultIDR)), resp, "k=%d", k)
		assert.Equal(t, k+1, target.Requests(), "k=%d", k)
	}
}

func TestTransferAlwaysWait(t *testing.T) {
	for _, c := range []struct {
		waitRetry uint16
		attempts  int
	}{
		{1, 1},
		{7, 7},
		{100, 100},
		// Zero still makes one attempt.
		{0, 1},
	} {
		e, target := newTestEngine(t)
		target.AckFunc = func(int, swd.Request) swd.Ack { return swd.AckWait }
		connect(t, e)
		configure(t, e, 0, c.waitRetry, 0)

		resp := process(t, e, cat([]byte{byte(CmdTransfer), 0, 2, rdDPIDR, wrSelect}, le32(0))...)
		assert.Equal(t, []byte{byte(CmdTransfer), 0, byte(swd.AckWait)}, resp)
		assert.Equal(t, c.attempts, target.Requests(), "wait retry %d", c.waitRetry)
	}
}

func TestTransferStopsAtFault(t *testing.T) {
	e, target := newTestEngine(t)
	target.AckFunc = func(n int, req swd.Request) swd.Ack {
		if n == 1 {
			return swd.AckFault
		}
		return swd.AckOK
	}
	connect(t, e)
	resp := process(t, e, byte(CmdTransfer), 0, 3, rdDPIDR, rdCtrlStat, rdDPIDR)
	assert.Equal(t, cat([]byte{byte(CmdTransfer), 1, byte(swd.AckFault)}, le32(swdsim.DefaultIDR)), resp)
	// FAULT is not retried.
	assert.Equal(t, 2, target.Requests())
}

func TestTransferParityError(t *testing.T) {
	e, target := newTestEngine(t)
	connect(t, e)
	for _, bit := range []uint{0, 13, 31} {
		target.CorruptNextRead(1 << bit)
		resp := process(t, e, byte(CmdTransfer), 0, 1, rdDPIDR)
		assert.Equal(t, []byte{byte(CmdTransfer), 0, byte(swd.AckProtocolError)}, resp)
	}
	resp := process(t, e, byte(CmdTransfer), 0, 1, rdDPIDR)
	assert.Equal(t, cat([]byte{byte(CmdTransfer), 1, byte(swd.AckOK)}, le32(swdsim.DefaultIDR)), resp)
}

func TestTransferValueMatch(t *testing.T) {
	e, target := newTestEngine(t)
	var reads uint32
	target.ReadFunc = func(swd.Request) uint32 {
		reads++
		return 0xab00 | reads
	}
	connect(t, e)
	configure(t, e, 0, 10, 5)

	// Mask write, then match read: the third read matches.
	resp := process(t, e, cat(
		[]byte{byte(CmdTransfer), 0, 2, reqMatchMask}, le32(0xff),
		[]byte{rdDPIDR | reqMatchValue}, le32(3),
	)...)
	assert.Equal(t, []byte{byte(CmdTransfer), 2, byte(swd.AckOK)}, resp)
	assert.Equal(t, uint32(3), reads)
	assert.Equal(t, 3, target.Requests())

	// Never matches: MatchRetry reads, then a mismatch.
	resp = process(t, e, cat([]byte{byte(CmdTransfer), 0, 1, rdDPIDR | reqMatchValue}, le32(0x42))...)
	assert.Equal(t, []byte{byte(CmdTransfer), 0, byte(swd.AckOK) | ackValueMismatch}, resp)
	assert.Equal(t, uint32(8), reads)
}

func TestPostedAPReads(t *testing.T) {
	target := swdsim.NewTarget()
	target.Posted = true
	e := NewEngine(target, target, &EngineOpts{Transfer: DefaultTransferConfig(), PostedReads: true})
	target.SetAPReg(0, 0x04, 0x1111)
	target.SetAPReg(0, 0x0c, 0x3333)
	connect(t, e)

	resp := process(t, e, byte(CmdTransfer), 0, 3, rdAP1, rdDPIDR, rdAP3)
	assert.Equal(t, cat([]byte{byte(CmdTransfer), 3, byte(swd.AckOK)},
		le32(0x1111), le32(swdsim.DefaultIDR), le32(0x3333)), resp)
	// Each AP read is followed by an RDBUFF read.
	assert.Equal(t, 5, target.Requests())

	resp = process(t, e, byte(CmdTransferBlock), 0, 2, 0, rdAP1)
	assert.Equal(t, cat([]byte{byte(CmdTransferBlock), 2, 0, byte(swd.AckOK)}, le32(0x1111), le32(0x1111)), resp)

	// Value match compares the RDBUFF value.
	resp = process(t, e, cat([]byte{byte(CmdTransfer), 0, 1, rdAP3 | reqMatchValue}, le32(0x3333))...)
	assert.Equal(t, []byte{byte(CmdTransfer), 1, byte(swd.AckOK)}, resp)
}

func TestPostedAPReadsWithoutRdBuff(t *testing.T) {
	e, target := newTestEngine(t)
	target.Posted = true
	target.SetAPReg(0, 0x04, 0x1111)
	connect(t, e)
	// The data phase carries the previous AP read.
	resp := process(t, e, byte(CmdTransfer), 0, 2, rdAP1, rdAP1)
	assert.Equal(t, cat([]byte{byte(CmdTransfer), 2, byte(swd.AckOK)}, le32(0), le32(0x1111)), resp)
}

func TestTransferAbortWhileIdle(t *testing.T) {
	e, target := newTestEngine(t)
	connect(t, e)
	assert.Equal(t, []byte{byte(CmdTransferAbort)}, process(t, e, byte(CmdTransferAbort)))

	// The next transfer runs in full.
	resp := process(t, e, byte(CmdTransfer), 0, 1, rdDPIDR)
	assert.Equal(t, cat([]byte{byte(CmdTransfer), 1, byte(swd.AckOK)}, le32(swdsim.DefaultIDR)), resp)
	assert.Equal(t, 1, target.Requests())

	process(t, e, byte(CmdTransferAbort))
	process(t, e, byte(CmdTransferAbort))
	resp = process(t, e, byte(CmdTransferBlock), 0, 3, 0, rdDPIDR)
	assert.Equal(t, []byte{byte(CmdTransferBlock), 3, 0, byte(swd.AckOK)}, resp[:4])
	assert.Equal(t, 4, target.Requests())
}

func TestTransferAbortBeforeConnect(t *testing.T) {
	e, target := newTestEngine(t)
	assert.Equal(t, []byte{byte(CmdTransferAbort)}, process(t, e, byte(CmdTransferAbort)))
	assert.Equal(t, 0, target.PinCalls)
}

func TestTransferBlockRead(t *testing.T) {
	e, target := newTestEngine(t)
	var reads uint32
	target.ReadFunc = func(swd.Request) uint32 {
		reads++
		return reads * 0x1111
	}
	connect(t, e)
	resp := process(t, e, byte(CmdTransferBlock), 0, 4, 0, rdAP3)
	assert.Equal(t, cat(
		[]byte{byte(CmdTransferBlock), 4, 0, byte(swd.AckOK)},
		le32(0x1111), le32(0x2222), le32(0x3333), le32(0x4444),
	), resp)
	for _, tr := range target.Transactions {
		assert.Equal(t, swd.Request{Space: swd.AP, Op: swd.Read, Reg: 3}, tr.Req)
	}
}

func TestTransferBlockFaultOnThird(t *testing.T) {
	for _, n := range []int{3, 5, 15} {
		e, target := newTestEngine(t)
		target.AckFunc = func(i int, req swd.Request) swd.Ack {
			if i == 2 {
				return swd.AckFault
			}
			return swd.AckOK
		}
		target.SetAPReg(0, 0x0c, 0xcafe)
		connect(t, e)
		resp := process(t, e, byte(CmdTransferBlock), 0, byte(n), 0, rdAP3)
		assert.Equal(t, cat(
			[]byte{byte(CmdTransferBlock), 2, 0, byte(swd.AckFault)},
			le32(0xcafe), le32(0xcafe),
		), resp, "n=%d", n)
		assert.Equal(t, 3, target.Requests())
	}
}

func TestTransferBlockWrite(t *testing.T) {
	e, target := newTestEngine(t)
	connect(t, e)
	resp := process(t, e, cat([]byte{byte(CmdTransferBlock), 0, 3, 0, wrAP1}, le32(1), le32(2), le32(3))...)
	assert.Equal(t, []byte{byte(CmdTransferBlock), 3, 0, byte(swd.AckOK)}, resp)
	require.Len(t, target.Transactions, 3)
	for i, tr := range target.Transactions {
		assert.Equal(t, uint32(i+1), tr.Req.Value)
	}
	assert.Equal(t, uint32(3), target.APReg(0, 0x04))
}

func TestTransferBlockWaitRetry(t *testing.T) {
	e, target := newTestEngine(t)
	connect(t, e)
	configure(t, e, 0, 3, 0)
	target.QueueAcks(swd.AckOK, swd.AckWait, swd.AckWait, swd.AckOK, swd.AckWait, swd.AckWait, swd.AckWait)
	resp := process(t, e, byte(CmdTransferBlock), 0, 4, 0, rdDPIDR)
	assert.Equal(t, cat(
		[]byte{byte(CmdTransferBlock), 2, 0, byte(swd.AckWait)},
		le32(swdsim.DefaultIDR), le32(swdsim.DefaultIDR),
	), resp)
	assert.Equal(t, 7, target.Requests())
}

func TestTransferIdleCycles(t *testing.T) {
	e, target := newTestEngine(t)
	connect(t, e)
	process(t, e, byte(CmdTransfer), 0, 1, rdDPIDR)
	base := target.Edges

	configure(t, e, 16, 100, 100)
	process(t, e, byte(CmdTransfer), 0, 1, rdDPIDR)
	assert.Equal(t, 2*base+16, target.Edges)
}

func TestWriteABORT(t *testing.T) {
	e, target := newTestEngine(t)
	connect(t, e)
	resp := process(t, e, cat([]byte{byte(CmdWriteABORT), 0}, le32(0x1e))...)
	assert.Equal(t, []byte{byte(CmdWriteABORT), StatusOK}, resp)
	assert.Equal(t, uint32(0x1e), target.Abort)

	target.QueueAcks(swd.AckFault)
	resp = process(t, e, cat([]byte{byte(CmdWriteABORT), 0}, le32(0x04))...)
	assert.Equal(t, []byte{byte(CmdWriteABORT), StatusError}, resp)
}
