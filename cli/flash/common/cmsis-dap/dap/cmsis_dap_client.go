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

// This package implements the host side of the CMSIS-DAP probe interface
// https://arm-software.github.io/CMSIS_5/DAP/html/group__DAP__Commands__gr.html

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

type cmd uint8

const (
	cmdInfo              cmd = 0x00
	cmdSetHostStatus     cmd = 0x01
	cmdConnect           cmd = 0x02
	cmdDisconnect        cmd = 0x03
	cmdTransferConfigure cmd = 0x04
	cmdTransfer          cmd = 0x05
	cmdTransferBlock     cmd = 0x06
	cmdTransferAbort     cmd = 0x07
	cmdWriteABORT        cmd = 0x08
	cmdDelay             cmd = 0x09
	cmdResetTarget       cmd = 0x0a
	cmdSWJPins           cmd = 0x10
	cmdSWJClock          cmd = 0x11
	cmdSWJSequence       cmd = 0x12
	cmdSWDConfigure      cmd = 0x13
)

const (
	infoVendor          = 0x01
	infoProduct         = 0x02
	infoSerial          = 0x03
	infoProtocolVersion = 0x04
	infoTargetVendor    = 0x05
	infoTargetName      = 0x06
	infoFirmwareVersion = 0xf0
	infoPacketSize      = 0xff
)

type dapClient struct {
	t             Transport
	maxPacketSize int
}

// NewClient talks CMSIS-DAP over t. It queries the probe's packet size
// and takes ownership of t.
func NewClient(ctx context.Context, t Transport) (DAPClient, error) {
	dapc := &dapClient{
		t:             t,
		maxPacketSize: 8, // Start with a conservative guess
	}
	resp, err := dapc.GetInfo(ctx, infoPacketSize)
	if err != nil {
		dapc.Close(ctx)
		return nil, errors.Annotatef(err, "failed to get max packet size")
	}
	var rl uint8
	var mps uint16
	if binary.Read(resp, binary.LittleEndian, &rl) != nil || rl != 2 ||
		binary.Read(resp, binary.LittleEndian, &mps) != nil || mps < 8 {
		dapc.Close(ctx)
		return nil, errors.Errorf("invalid packet size info")
	}
	dapc.maxPacketSize = int(mps)
	glog.V(2).Infof("max packet size: %d", dapc.maxPacketSize)
	return dapc, nil
}

func newCmd(cmd cmd) *bytes.Buffer {
	return bytes.NewBuffer([]uint8{uint8(cmd)})
}

func (dapc *dapClient) exec(ctx context.Context, args *bytes.Buffer) (*bytes.Buffer, error) {
	glog.V(4).Infof(" => %s", hex.EncodeToString(args.Bytes()))
	if args.Len() > dapc.maxPacketSize {
		return nil, errors.Errorf("packet too long (max %d, got %d)", dapc.maxPacketSize, args.Len())
	}
	if err := dapc.t.Write(ctx, args.Bytes()); err != nil {
		return nil, errors.Annotatef(err, "device write failed")
	}
	resp, err := dapc.t.Read(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "DAP exec")
	}
	glog.V(4).Infof("<=  %s", hex.EncodeToString(resp))
	cmd := args.Bytes()[0]
	if len(resp) == 0 || resp[0] != cmd {
		if len(resp) > 0 && resp[0] == 0xff {
			return nil, errors.NotSupportedf("command 0x%02x", cmd)
		}
		return nil, errors.Errorf("Response to wrong command (want 0x%02x, got %x)", cmd, resp)
	}
	return bytes.NewBuffer(resp[1:]), nil
}

func (dapc *dapClient) execCheckStatus(ctx context.Context, args *bytes.Buffer) error {
	resp, err := dapc.exec(ctx, args)
	if err != nil {
		return errors.Trace(err)
	}
	cmd := args.Bytes()[0]
	if resp.Len() == 0 {
		return errors.Errorf("Command 0x%02x: no status", cmd)
	}
	if status := resp.Bytes()[0]; status != 0 {
		return errors.Errorf("Command 0x%02x returned error (0x%02x)", cmd, status)
	}
	return nil
}

func (dapc *dapClient) GetInfo(ctx context.Context, info uint8) (*bytes.Buffer, error) {
	glog.V(3).Infof("GetInfo(%d)", info)
	args := newCmd(cmdInfo)
	binary.Write(args, binary.LittleEndian, info)
	resp, err := dapc.exec(ctx, args)
	return resp, errors.Annotatef(err, "failed to get info 0x%02x", info)
}

func (dapc *dapClient) GetInfoString(ctx context.Context, info uint8) (string, error) {
	resp, err := dapc.GetInfo(ctx, info)
	if err != nil {
		return "", errors.Trace(err)
	}
	var sl uint8
	if binary.Read(resp, binary.LittleEndian, &sl) != nil {
		// No length at all: the probe does not know this ID.
		return "", nil
	}
	s := make([]uint8, sl)
	resp.Read(s)
	return string(bytes.TrimRight(s, "\x00")), nil
}

// getInfoU16 reads a numeric info value: length 2, little endian.
func (dapc *dapClient) getInfoU16(ctx context.Context, info uint8) (uint16, error) {
	resp, err := dapc.GetInfo(ctx, info)
	if err != nil {
		return 0, errors.Trace(err)
	}
	var l uint8
	var v uint16
	if binary.Read(resp, binary.LittleEndian, &l) != nil || l != 2 ||
		binary.Read(resp, binary.LittleEndian, &v) != nil {
		return 0, errors.Errorf("invalid info 0x%02x", info)
	}
	return v, nil
}

func (dapc *dapClient) GetVendorID(ctx context.Context) (uint16, error) {
	return dapc.getInfoU16(ctx, infoVendor)
}

func (dapc *dapClient) GetProductID(ctx context.Context) (uint16, error) {
	return dapc.getInfoU16(ctx, infoProduct)
}

func (dapc *dapClient) GetSerialNumber(ctx context.Context) (string, error) {
	return dapc.GetInfoString(ctx, infoSerial)
}

func (dapc *dapClient) GetProtocolVersion(ctx context.Context) (string, error) {
	return dapc.GetInfoString(ctx, infoProtocolVersion)
}

func (dapc *dapClient) GetFirmwareVersion(ctx context.Context) (string, error) {
	return dapc.GetInfoString(ctx, infoFirmwareVersion)
}

func (dapc *dapClient) GetTargetVendor(ctx context.Context) (string, error) {
	return dapc.GetInfoString(ctx, infoTargetVendor)
}

func (dapc *dapClient) GetTargetName(ctx context.Context) (string, error) {
	return dapc.GetInfoString(ctx, infoTargetName)
}

func (dapc *dapClient) SetHostStatus(ctx context.Context, st StatusType, value bool) error {
	args := newCmd(cmdSetHostStatus)
	binary.Write(args, binary.LittleEndian, uint8(st))
	binary.Write(args, binary.LittleEndian, value)
	return errors.Trace(dapc.execCheckStatus(ctx, args))
}

func (dapc *dapClient) Connect(ctx context.Context, mode ConnectMode) error {
	glog.V(3).Infof("Connect(%d)", mode)
	args := newCmd(cmdConnect)
	binary.Write(args, binary.LittleEndian, uint8(mode))
	resp, err := dapc.exec(ctx, args)
	if err != nil {
		return errors.Trace(err)
	}
	if resp.Len() == 0 || resp.Bytes()[0] == 0 {
		return errors.Errorf("connect error")
	}
	return nil
}

func (dapc *dapClient) Disconnect(ctx context.Context) error {
	return errors.Trace(dapc.execCheckStatus(ctx, newCmd(cmdDisconnect)))
}

func (dapc *dapClient) TransferConfigure(ctx context.Context, idleCycles uint8, waitRetry uint16, matchRetry uint16) error {
	glog.V(3).Infof("TransferConfigure(%d, %d, %d)", idleCycles, waitRetry, matchRetry)
	args := newCmd(cmdTransferConfigure)
	binary.Write(args, binary.LittleEndian, idleCycles)
	binary.Write(args, binary.LittleEndian, waitRetry)
	binary.Write(args, binary.LittleEndian, matchRetry)
	return errors.Trace(dapc.execCheckStatus(ctx, args))
}

// Transfer executes reqs. The probe retries WAIT itself, so the status of
// a failed transfer is final.
func (dapc *dapClient) Transfer(ctx context.Context, dapIndex uint8, reqs []TransferRequest) (TransferStatus, []uint32, error) {
	args := newCmd(cmdTransfer)
	binary.Write(args, binary.LittleEndian, dapIndex)
	binary.Write(args, binary.LittleEndian, uint8(len(reqs)))
	for i, req := range reqs {
		if req.Reg&3 != 0 {
			return 0, nil, errors.Errorf("treq %d invalid reg 0x%x", i, req.Reg)
		}
		treq := (req.Reg & 0xc)
		haveData := true
		if req.AP {
			treq |= 1 << 0
		}
		switch req.Op {
		case OpRead:
			treq |= 1 << 1
			haveData = false
		case OpReadMatch:
			treq |= 1<<1 | 1<<4
		case OpWrite:
			// Nothing
		case OpWriteMatch:
			treq |= 1 << 5
		}
		binary.Write(args, binary.LittleEndian, treq)
		if haveData {
			binary.Write(args, binary.LittleEndian, req.Data)
		}
	}
	resp, err := dapc.exec(ctx, args)
	if err != nil {
		return 0, nil, errors.Trace(err)
	}
	var tc uint8
	var st TransferStatus
	var data []uint32
	if binary.Read(resp, binary.LittleEndian, &tc) != nil ||
		binary.Read(resp, binary.LittleEndian, &st) != nil {
		return st, nil, errors.Errorf("response is too short")
	}
	if !st.Ok() {
		return st, nil, errors.Errorf("transfer failed (tc %d/%d st %s)", tc, len(reqs), st)
	}
	if int(tc) != len(reqs) {
		return st, nil, errors.Errorf("not all transfers completed (%d/%d)", tc, len(reqs))
	}
	for _, req := range reqs {
		if req.Op != OpRead {
			continue
		}
		var d uint32
		if binary.Read(resp, binary.LittleEndian, &d) != nil {
			return st, nil, errors.Errorf("response is too short")
		}
		data = append(data, d)
	}
	return st, data, nil
}

func (dapc *dapClient) GetTransferBlockMaxSize() int {
	headerLen := 1 /* op */ + 1 /* dap index */ + 2 /* transfer count */ + 1 /* request */
	return (dapc.maxPacketSize - headerLen) / 4
}

func (dapc *dapClient) TransferBlockRead(ctx context.Context, dapIndex uint8, ap bool, reg uint8, length int) ([]uint32, error) {
	glog.V(3).Infof("TransferBlockRead(%d, %t, 0x%x, %d)", dapIndex, ap, reg, length)
	if length > dapc.GetTransferBlockMaxSize() {
		return nil, errors.Errorf("request too big (max %d, got %d)", dapc.GetTransferBlockMaxSize(), length)
	}
	if reg&3 != 0 {
		return nil, errors.Errorf("invalid reg 0x%x", reg)
	}
	args := newCmd(cmdTransferBlock)
	binary.Write(args, binary.LittleEndian, dapIndex)
	binary.Write(args, binary.LittleEndian, uint16(length))
	treq := uint8(reg&0xc) | 2 /* read */
	if ap {
		treq |= 1 << 0
	}
	binary.Write(args, binary.LittleEndian, treq)
	resp, err := dapc.exec(ctx, args)
	if err != nil {
		return nil, errors.Trace(err)
	}
	tc, err := checkBlockStatus(resp, length)
	if err != nil {
		return nil, errors.Trace(err)
	}
	res := make([]uint32, tc)
	if binary.Read(resp, binary.LittleEndian, res) != nil {
		return nil, errors.Errorf("response is too short")
	}
	return res, nil
}

func checkBlockStatus(resp *bytes.Buffer, length int) (int, error) {
	var tc uint16
	var st TransferStatus
	if binary.Read(resp, binary.LittleEndian, &tc) != nil ||
		binary.Read(resp, binary.LittleEndian, &st) != nil {
		return 0, errors.Errorf("response is too short")
	}
	if !st.Ok() {
		return int(tc), errors.Errorf("transfer failed (tc %d/%d st %s)", tc, length, st)
	}
	if int(tc) != length {
		return int(tc), errors.Errorf("not all transfers completed (%d/%d)", tc, length)
	}
	return int(tc), nil
}

func (dapc *dapClient) TransferBlockWrite(ctx context.Context, dapIndex uint8, ap bool, reg uint8, data []uint32) error {
	glog.V(3).Infof("TransferBlockWrite(%d, %t, 0x%x, %d)", dapIndex, ap, reg, len(data))
	if reg&3 != 0 {
		return errors.Errorf("invalid reg 0x%x", reg)
	}
	args := newCmd(cmdTransferBlock)
	binary.Write(args, binary.LittleEndian, dapIndex)
	binary.Write(args, binary.LittleEndian, uint16(len(data)))
	treq := uint8(reg & 0xc)
	if ap {
		treq |= 1 << 0
	}
	binary.Write(args, binary.LittleEndian, treq)
	binary.Write(args, binary.LittleEndian, data)
	resp, err := dapc.exec(ctx, args)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = checkBlockStatus(resp, len(data))
	return errors.Trace(err)
}

// TransferAbort is executed in order with the other commands and echoed.
func (dapc *dapClient) TransferAbort(ctx context.Context) error {
	glog.V(3).Infof("TransferAbort()")
	_, err := dapc.exec(ctx, newCmd(cmdTransferAbort))
	return errors.Trace(err)
}

func (dapc *dapClient) WriteABORT(ctx context.Context, dapIndex uint8, value uint32) error {
	glog.V(3).Infof("WriteABORT(%d, 0x%08x)", dapIndex, value)
	args := newCmd(cmdWriteABORT)
	binary.Write(args, binary.LittleEndian, dapIndex)
	binary.Write(args, binary.LittleEndian, value)
	return errors.Trace(dapc.execCheckStatus(ctx, args))
}

func (dapc *dapClient) Delay(ctx context.Context, delay time.Duration) error {
	delayMicros := delay.Nanoseconds() / 1000
	if delayMicros > 65535 {
		return errors.Errorf("delay too large (%d)", delayMicros)
	}
	glog.V(3).Infof("Delay(%d)", delayMicros)
	args := newCmd(cmdDelay)
	binary.Write(args, binary.LittleEndian, uint16(delayMicros))
	return errors.Trace(dapc.execCheckStatus(ctx, args))
}

func (dapc *dapClient) ResetTarget(ctx context.Context) error {
	return errors.Trace(dapc.execCheckStatus(ctx, newCmd(cmdResetTarget)))
}

// SWJPins sets the pins in sel to output and returns the pin levels.
func (dapc *dapClient) SWJPins(ctx context.Context, output, sel uint8, wait time.Duration) (uint8, error) {
	glog.V(3).Infof("SWJPins(0x%02x, 0x%02x, %s)", output, sel, wait)
	args := newCmd(cmdSWJPins)
	binary.Write(args, binary.LittleEndian, output)
	binary.Write(args, binary.LittleEndian, sel)
	binary.Write(args, binary.LittleEndian, uint32(wait/time.Microsecond))
	resp, err := dapc.exec(ctx, args)
	if err != nil {
		return 0, errors.Trace(err)
	}
	var pins uint8
	if binary.Read(resp, binary.LittleEndian, &pins) != nil {
		return 0, errors.Errorf("response is too short")
	}
	return pins, nil
}

func (dapc *dapClient) SWJClock(ctx context.Context, clockHz uint32) error {
	glog.V(3).Infof("SWJClock(%d)", clockHz)
	args := newCmd(cmdSWJClock)
	binary.Write(args, binary.LittleEndian, clockHz)
	return errors.Trace(dapc.execCheckStatus(ctx, args))
}

func (dapc *dapClient) SWJSequence(ctx context.Context, numBits int, data []uint8) error {
	glog.V(3).Infof("SWJSequence(%d, %v)", numBits, data)
	if numBits < 1 || numBits > 256 {
		return errors.Errorf("length must be between 1 and 256 (got %d)", numBits)
	}
	if len(data) < (numBits+7)/8 {
		return errors.Errorf("not enough data for %d bits", numBits)
	}
	args := newCmd(cmdSWJSequence)
	binary.Write(args, binary.LittleEndian, uint8(numBits))
	args.Write(data[:(numBits+7)/8])
	return errors.Trace(dapc.execCheckStatus(ctx, args))
}

func (dapc *dapClient) SWDConfigure(ctx context.Context, config uint8) error {
	glog.V(3).Infof("SWDConfigure(0x%02x)", config)
	args := newCmd(cmdSWDConfigure)
	binary.Write(args, binary.LittleEndian, config)
	return errors.Trace(dapc.execCheckStatus(ctx, args))
}

func (dapc *dapClient) Close(ctx context.Context) error {
	if dapc.t != nil {
		return errors.Trace(dapc.t.Close())
	}
	return nil
}
