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
	"bytes"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongoose-os/dapprobe/common/swd"
	"github.com/mongoose-os/dapprobe/common/swd/swdsim"
)

var testIdentity = Identity{
	VID:             0x1209,
	PID:             0xda42,
	Serial:          "0123456789",
	TargetVendor:    "ST",
	TargetName:      "STM32F411",
	FirmwareVersion: "1.2.3",
	PacketCount:     4,
}

func newTestEngine(t *testing.T) (*Engine, *swdsim.Target) {
	target := swdsim.NewTarget()
	e := NewEngine(target, target, &EngineOpts{
		Identity: testIdentity,
		Transfer: DefaultTransferConfig(),
	})
	return e, target
}

func process(t *testing.T, e *Engine, req ...byte) []byte {
	resp, err := e.Process(req)
	require.NoError(t, err)
	return resp
}

func connect(t *testing.T, e *Engine) {
	require.Equal(t, []byte{byte(CmdConnect), byte(PortSWD)}, process(t, e, byte(CmdConnect), byte(PortSWD)))
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func cat(parts ...[]byte) []byte {
	var res []byte
	for _, p := range parts {
		res = append(res, p...)
	}
	return res
}

func TestProcessCommandArgs(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.ProcessCommand(nil, make([]byte, PacketSize))
	assert.Error(t, err)

	_, err = e.ProcessCommand([]byte{byte(CmdInfo), InfoVendor}, make([]byte, PacketSize-1))
	assert.Error(t, err)

	resp := make([]byte, 128)
	n, err := e.ProcessCommand([]byte{byte(CmdInfo), InfoSerial}, resp)
	require.NoError(t, err)
	assert.Equal(t, 2+len(testIdentity.Serial), n)
}

func TestMalformedRequestsMakeNoPinCalls(t *testing.T) {
	cases := []struct {
		name string
		req  []byte
	}{
		{"unknown opcode", []byte{0x42, 0, 0}},
		{"vendor range", []byte{0x80}},
		{"info no id", []byte{byte(CmdInfo)}},
		{"transfer configure 3 bytes", []byte{byte(CmdTransferConfigure), 0, 5}},
		{"transfer configure 5 bytes", []byte{byte(CmdTransferConfigure), 0, 5, 0, 5}},
		{"transfer no count", []byte{byte(CmdTransfer), 0}},
		{"transfer missing request", []byte{byte(CmdTransfer), 0, 2, 0x02}},
		{"transfer missing write data", cat([]byte{byte(CmdTransfer), 0, 1, 0x05}, []byte{1, 2, 3})},
		{"transfer missing match data", []byte{byte(CmdTransfer), 0, 1, 0x12, 1}},
		{"transfer timestamp", []byte{byte(CmdTransfer), 0, 1, 0x82}},
		{"transfer too many reads", cat([]byte{byte(CmdTransfer), 0, 16}, bytes.Repeat([]byte{0x02}, 16))},
		{"transfer block no request", []byte{byte(CmdTransferBlock), 0, 1, 0}},
		{"transfer block match", []byte{byte(CmdTransferBlock), 0, 1, 0, 0x12}},
		{"transfer block too many reads", []byte{byte(CmdTransferBlock), 0, 16, 0, 0x02}},
		{"transfer block short data", cat([]byte{byte(CmdTransferBlock), 0, 2, 0, 0x05}, le32(1))},
		{"write abort short", []byte{byte(CmdWriteABORT), 0, 1, 2, 3}},
		{"delay short", []byte{byte(CmdDelay), 1}},
		{"swj pins short", []byte{byte(CmdSWJPins), 0, 0x80, 0, 0}},
		{"swj clock short", []byte{byte(CmdSWJClock), 0x40, 0x42, 0x0f}},
		{"swj sequence short", []byte{byte(CmdSWJSequence), 9, 0xff}},
		{"swj sequence 256 short", cat([]byte{byte(CmdSWJSequence), 0}, make([]byte, 31))},
		{"swd configure short", []byte{byte(CmdSWDConfigure)}},
		{"jtag sequence short", []byte{byte(CmdJTAGSequence), 1, 0x10, 0xff}},
		{"jtag configure short", []byte{byte(CmdJTAGConfigure), 3, 4, 4}},
		{"oversized", cat([]byte{byte(CmdSWJSequence), 8, 0xff}, make([]byte, PacketSize))},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e, target := newTestEngine(t)
			// Connected, so transfers would reach the pins.
			e.port = PortSWD
			assert.Equal(t, []byte{byte(CmdInvalid)}, process(t, e, c.req...))
			assert.Equal(t, 0, target.PinCalls)
		})
	}
}

func TestTrailingBytesAreIgnored(t *testing.T) {
	e, _ := newTestEngine(t)
	req := make([]byte, PacketSize)
	req[0] = byte(CmdTransferConfigure)
	req[1] = 3
	req[2] = 7
	assert.Equal(t, []byte{byte(CmdTransferConfigure), StatusOK}, process(t, e, req...))
	assert.Equal(t, TransferConfig{IdleCycles: 3, WaitRetry: 7}, e.TransferConfig())
}

func TestInfo(t *testing.T) {
	e, _ := newTestEngine(t)
	str := func(s string) []byte {
		return append([]byte{byte(CmdInfo), byte(len(s))}, s...)
	}
	cases := []struct {
		id   byte
		want []byte
	}{
		{InfoVendor, []byte{byte(CmdInfo), 2, 0x09, 0x12}},
		{InfoProduct, []byte{byte(CmdInfo), 2, 0x42, 0xda}},
		{InfoSerial, str("0123456789")},
		{InfoProtocolVersion, str(ProtocolVersion)},
		{InfoTargetVendor, str("ST")},
		{InfoTargetName, str("STM32F411")},
		{InfoBoardVendor, str("")},
		{InfoBoardName, str("")},
		{InfoFirmwareVersion, str("1.2.3")},
		{InfoPacketCount, []byte{byte(CmdInfo), 1, 4}},
		{InfoPacketSize, []byte{byte(CmdInfo), 2, 64, 0}},
		{0x09, []byte{byte(CmdInfo)}},
		{0x0a, []byte{byte(CmdInfo)}},
		{0x42, []byte{byte(CmdInfo)}},
		{0xfd, []byte{byte(CmdInfo)}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, process(t, e, byte(CmdInfo), c.id), "id 0x%02x", c.id)
	}
}

func TestInfoDefaultIdentity(t *testing.T) {
	target := swdsim.NewTarget()
	e := NewEngine(target, target, nil)
	assert.Equal(t, []byte{byte(CmdInfo), 2, 0x28, 0x0d}, process(t, e, byte(CmdInfo), InfoVendor))
	assert.Equal(t, []byte{byte(CmdInfo), 2, 0x04, 0x02}, process(t, e, byte(CmdInfo), InfoProduct))
	assert.Equal(t, []byte{byte(CmdInfo), 5, '1', '.', '0', '.', '0'}, process(t, e, byte(CmdInfo), InfoFirmwareVersion))
}

func TestInfoTruncatesLongStrings(t *testing.T) {
	target := swdsim.NewTarget()
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	e := NewEngine(target, target, &EngineOpts{Identity: Identity{Serial: string(long)}})
	resp := process(t, e, byte(CmdInfo), InfoSerial)
	require.Len(t, resp, PacketSize)
	assert.Equal(t, byte(PacketSize-2), resp[1])

	// Packet count defaults to one.
	assert.Equal(t, []byte{byte(CmdInfo), 1, 1}, process(t, e, byte(CmdInfo), InfoPacketCount))
}

func TestDefaults(t *testing.T) {
	target := swdsim.NewTarget()
	e := NewEngine(target, target, nil)
	assert.Equal(t, DefaultTransferConfig(), e.TransferConfig())
	assert.Equal(t, PortDisabled, e.Port())
	assert.Equal(t, 1, e.SWDConfig().Turnaround)
	assert.Equal(t, 0, target.PinCalls)
}

func TestConnectDisconnect(t *testing.T) {
	e, target := newTestEngine(t)

	assert.Equal(t, []byte{byte(CmdConnect), byte(PortDisabled)}, process(t, e, byte(CmdConnect), byte(PortJTAG)))
	assert.Equal(t, PortDisabled, e.Port())

	assert.Equal(t, []byte{byte(CmdConnect), byte(PortSWD)}, process(t, e, byte(CmdConnect), byte(PortDisabled)))
	assert.Equal(t, PortSWD, e.Port())
	assert.Equal(t, swd.Output, target.HostDirection())

	assert.Equal(t, []byte{byte(CmdDisconnect), StatusOK}, process(t, e, byte(CmdDisconnect)))
	assert.Equal(t, PortDisabled, e.Port())
	assert.Equal(t, swd.Input, target.HostDirection())
}

func TestHostStatus(t *testing.T) {
	target := swdsim.NewTarget()
	var got [][2]interface{}
	e := NewEngine(target, target, &EngineOpts{
		Indicator: func(light int, on bool) {
			got = append(got, [2]interface{}{light, on})
		},
	})
	assert.Equal(t, []byte{byte(CmdHostStatus), StatusOK}, process(t, e, byte(CmdHostStatus), HostStatusConnected, 1))
	assert.Equal(t, []byte{byte(CmdHostStatus), StatusOK}, process(t, e, byte(CmdHostStatus), HostStatusRunning, 0))
	assert.Equal(t, []byte{byte(CmdHostStatus), StatusError}, process(t, e, byte(CmdHostStatus), 2, 1))
	assert.Equal(t, [][2]interface{}{{0, true}, {1, false}}, got)
	assert.Equal(t, [2]bool{true, false}, e.lights)
	assert.Equal(t, 0, target.PinCalls)
}

func TestDelay(t *testing.T) {
	e, target := newTestEngine(t)
	assert.Equal(t, []byte{byte(CmdDelay), StatusOK}, process(t, e, byte(CmdDelay), 0x10, 0x27))
	assert.Equal(t, uint64(10000), target.DelayedUS)
}

func TestResetTarget(t *testing.T) {
	e, target := newTestEngine(t)
	assert.Equal(t, []byte{byte(CmdResetTarget), StatusOK, 1}, process(t, e, byte(CmdResetTarget)))
	assert.Equal(t, 1, target.ResetPulses)
	_, _, reset := e.bus.Levels()
	assert.True(t, reset)
}

func TestJTAGIsRejected(t *testing.T) {
	e, target := newTestEngine(t)
	assert.Equal(t, []byte{byte(CmdJTAGSequence), StatusError},
		process(t, e, byte(CmdJTAGSequence), 2, 0x08, 0xaa, 0x40, 1, 2, 3, 4, 5, 6, 7, 8))
	assert.Equal(t, []byte{byte(CmdJTAGConfigure), StatusError},
		process(t, e, byte(CmdJTAGConfigure), 2, 4, 5))
	assert.Equal(t, []byte{byte(CmdJTAGIDCODE), StatusError, 0, 0, 0, 0},
		process(t, e, byte(CmdJTAGIDCODE), 0))
	assert.Equal(t, 0, target.PinCalls)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "TransferBlock", CmdTransferBlock.String())
	assert.Equal(t, "SWJ_Clock", CmdSWJClock.String())
	assert.Equal(t, "Command(0x42)", Command(0x42).String())
}

func TestConcurrentCommandsDoNotInterleave(t *testing.T) {
	e, target := newTestEngine(t)
	connect(t, e)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				resp, err := e.Process([]byte{byte(CmdTransfer), 0, 2, 0x02, 0x06})
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, []byte{byte(CmdTransfer), 2, 1}, resp[:3])
				assert.Equal(t, le32(swdsim.DefaultIDR), resp[3:7])
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, target.BadHeaders)
	assert.Equal(t, 8*20*2, target.Requests())
	assert.Equal(t, uint64(1+8*20), e.NumCommands())
}
