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
package dp

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/dapprobe/cli/flash/common/cmsis-dap/dap"
)

type DPReg uint8

const (
	DPIDR      DPReg = 0x00
	DPABORT    DPReg = 0x00 // Write only, shares the address with DPIDR.
	DPCTRLSTAT DPReg = 0x04
	DPSELECT   DPReg = 0x08
	DPRDBUFF   DPReg = 0x0c
)

// CTRL/STAT bits.
const (
	ctrlCDbgPwrUpReq = 0x10000000
	ctrlCDbgPwrUpAck = 0x20000000
	ctrlCSysPwrUpReq = 0x40000000
	ctrlCSysPwrUpAck = 0x80000000
	ctrlCDbgRstReq   = 0x04000000
	ctrlCDbgRstAck   = 0x08000000
)

// ABORT value clearing all the sticky error flags.
const abortClearErrors = 0x1e

// Polls of CTRL/STAT before giving up on a power-up or reset handshake.
const maxHandshakePolls = 100

type DPClient interface {
	Init(ctx context.Context) error
	GetIDR(ctx context.Context) (DPIDRValue, error)
	DbgReset(ctx context.Context) error
	SetDbgPower(ctx context.Context, dbg, sys bool) error
	ClearErrors(ctx context.Context) error
	ReadDPReg(ctx context.Context, reg DPReg) (uint32, error)
	WriteDPReg(ctx context.Context, reg DPReg, value uint32) error
	ReadAPReg(ctx context.Context, apSel, apReg uint8) (uint32, error)
	ReadAPRegMulti(ctx context.Context, apSel, apReg uint8, length int) ([]uint32, error)
	WriteAPReg(ctx context.Context, apSel, apReg uint8, value uint32) error
	WriteAPRegMulti(ctx context.Context, apSel, apReg uint8, values []uint32) error
}

func NewDPClient(dapc dap.DAPClient) DPClient {
	return &dpClient{dapc: dapc}
}

type dpClient struct {
	dapc dap.DAPClient

	selectValue uint32
}

func (dpc *dpClient) ReadReg(ctx context.Context, reg uint8, ap bool) (uint32, error) {
	_, data, err := dpc.dapc.Transfer(ctx, 0, []dap.TransferRequest{
		{Op: dap.OpRead, AP: ap, Reg: reg},
	})
	if err != nil {
		return 0, errors.Annotatef(err, "failed to read reg 0x%x (ap %t)", reg, ap)
	}
	if len(data) != 1 {
		return 0, errors.Errorf("expected 1 value, got %d", len(data))
	}
	return data[0], nil
}

func (dpc *dpClient) ReadRegMulti(ctx context.Context, reg uint8, ap bool, length int) ([]uint32, error) {
	maxChunkSize := dpc.dapc.GetTransferBlockMaxSize()
	var res []uint32
	for length > 0 {
		chunkSize := length
		if chunkSize > maxChunkSize {
			chunkSize = maxChunkSize
		}
		chunk, err := dpc.dapc.TransferBlockRead(ctx, 0, ap, reg, chunkSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		res = append(res, chunk...)
		length -= chunkSize
	}
	return res, nil
}

func (dpc *dpClient) ReadDPReg(ctx context.Context, reg DPReg) (uint32, error) {
	value, err := dpc.ReadReg(ctx, uint8(reg), false /* ap */)
	glog.V(4).Infof("%s == 0x%08x", reg, value)
	return value, err
}

func (dpc *dpClient) WriteReg(ctx context.Context, reg uint8, ap bool, value uint32) error {
	_, _, err := dpc.dapc.Transfer(ctx, 0, []dap.TransferRequest{
		{Op: dap.OpWrite, AP: ap, Reg: reg, Data: value},
	})
	return errors.Trace(err)
}

func (dpc *dpClient) WriteRegMulti(ctx context.Context, reg uint8, ap bool, values []uint32) error {
	offset := 0
	maxChunkSize := dpc.dapc.GetTransferBlockMaxSize()
	for offset < len(values) {
		chunk := values[offset:]
		if len(chunk) > maxChunkSize {
			chunk = chunk[:maxChunkSize]
		}
		if err := dpc.dapc.TransferBlockWrite(ctx, 0, ap, reg, chunk); err != nil {
			return errors.Trace(err)
		}
		offset += len(chunk)
	}
	return nil
}

func (dpc *dpClient) WriteDPReg(ctx context.Context, reg DPReg, value uint32) error {
	glog.V(4).Infof("%s = 0x%08x", reg, value)
	return errors.Trace(dpc.WriteReg(ctx, uint8(reg), false /* ap */, value))
}

func (dpc *dpClient) Init(ctx context.Context) error {
	if _, err := dpc.GetIDR(ctx); err != nil {
		return errors.Annotatef(err, "failed to read DP ID")
	}
	if err := dpc.ClearErrors(ctx); err != nil {
		return errors.Trace(err)
	}
	if err := dpc.WriteDPReg(ctx, DPSELECT, 0); err != nil {
		return errors.Trace(err)
	}
	dpc.selectValue = 0
	if err := dpc.SetDbgPower(ctx, true, true); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (dpc *dpClient) GetIDR(ctx context.Context) (DPIDRValue, error) {
	v, err := dpc.ReadDPReg(ctx, DPIDR)
	if err != nil {
		return 0, errors.Annotatef(err, "failed to read DPIDR")
	}
	return DPIDRValue(v), nil
}

// ClearErrors writes ABORT to clear the sticky error flags.
func (dpc *dpClient) ClearErrors(ctx context.Context) error {
	return errors.Annotatef(dpc.dapc.WriteABORT(ctx, 0, abortClearErrors), "failed to clear errors")
}

// waitCtrlStat polls CTRL/STAT until done returns true.
func (dpc *dpClient) waitCtrlStat(ctx context.Context, what string, done func(uint32) bool) (uint32, error) {
	for i := 0; i < maxHandshakePolls; i++ {
		statValue, err := dpc.ReadDPReg(ctx, DPCTRLSTAT)
		if err != nil {
			return 0, errors.Annotatef(err, "failed to read DPCTRLSTAT")
		}
		if done(statValue) {
			return statValue, nil
		}
	}
	return 0, errors.Errorf("timed out waiting for %s", what)
}

func (dpc *dpClient) SetDbgPower(ctx context.Context, dbg, sys bool) error {
	var reqMask, ackMask uint32
	if dbg {
		reqMask |= ctrlCDbgPwrUpReq
		ackMask |= ctrlCDbgPwrUpAck
	}
	if sys {
		reqMask |= ctrlCSysPwrUpReq
		ackMask |= ctrlCSysPwrUpAck
	}
	statValue, err := dpc.ReadDPReg(ctx, DPCTRLSTAT)
	if err != nil {
		return errors.Annotatef(err, "failed to read DPCTRLSTAT")
	}
	ctrlValue := (statValue & 0x0fffffff) | reqMask
	if err := dpc.WriteDPReg(ctx, DPCTRLSTAT, ctrlValue); err != nil {
		return errors.Annotatef(err, "failed to write DPCTRLSTAT")
	}
	_, err = dpc.waitCtrlStat(ctx, "power ack", func(v uint32) bool {
		return v&0xf0000000 == (reqMask | ackMask)
	})
	return errors.Trace(err)
}

func (dpc *dpClient) DbgReset(ctx context.Context) error {
	statValue, err := dpc.ReadDPReg(ctx, DPCTRLSTAT)
	if err != nil {
		return errors.Annotatef(err, "failed to read DPCTRLSTAT")
	}
	// Set reset request
	ctrlValue := (statValue & 0xf3ffffff) | ctrlCDbgRstReq
	if err := dpc.WriteDPReg(ctx, DPCTRLSTAT, ctrlValue); err != nil {
		return errors.Annotatef(err, "failed to write DPCTRLSTAT")
	}
	statValue, err = dpc.waitCtrlStat(ctx, "reset ack", func(v uint32) bool { return v&ctrlCDbgRstAck != 0 })
	if err != nil {
		return errors.Trace(err)
	}
	// Remove request
	ctrlValue = (statValue & 0xf3ffffff)
	if err := dpc.WriteDPReg(ctx, DPCTRLSTAT, ctrlValue); err != nil {
		return errors.Annotatef(err, "failed to write DPCTRLSTAT")
	}
	_, err = dpc.waitCtrlStat(ctx, "reset ack to clear", func(v uint32) bool { return v&ctrlCDbgRstAck == 0 })
	return errors.Trace(err)
}

func (dpc *dpClient) selectAP(ctx context.Context, apSel, apBank uint8) error {
	sv := (dpc.selectValue & 0x00ffff0f) | (uint32(apSel) << 24) | ((uint32(apBank) & 0xf) << 4)
	if sv == dpc.selectValue {
		return nil
	}
	if err := dpc.WriteDPReg(ctx, DPSELECT, sv); err != nil {
		return errors.Annotatef(err, "failed to select AP %d bank %d", apSel, apBank)
	}
	dpc.selectValue = sv
	return nil
}

func (dpc *dpClient) ReadAPReg(ctx context.Context, apSel, apReg uint8) (uint32, error) {
	apBank := apReg / 16
	if err := dpc.selectAP(ctx, apSel, apBank); err != nil {
		return 0, errors.Trace(err)
	}
	apReg = apReg % 16
	return dpc.ReadReg(ctx, apReg, true /* ap */)
}

func (dpc *dpClient) ReadAPRegMulti(ctx context.Context, apSel, apReg uint8, length int) ([]uint32, error) {
	apBank := apReg / 16
	if err := dpc.selectAP(ctx, apSel, apBank); err != nil {
		return nil, errors.Trace(err)
	}
	apReg = apReg % 16
	return dpc.ReadRegMulti(ctx, apReg, true /* ap */, length)
}

func (dpc *dpClient) WriteAPReg(ctx context.Context, apSel, apReg uint8, value uint32) error {
	apBank := apReg / 16
	if err := dpc.selectAP(ctx, apSel, apBank); err != nil {
		return errors.Trace(err)
	}
	apReg = apReg % 16
	return dpc.WriteReg(ctx, apReg, true /* ap */, value)
}

func (dpc *dpClient) WriteAPRegMulti(ctx context.Context, apSel, apReg uint8, values []uint32) error {
	apBank := apReg / 16
	if err := dpc.selectAP(ctx, apSel, apBank); err != nil {
		return errors.Trace(err)
	}
	apReg = apReg % 16
	return dpc.WriteRegMulti(ctx, apReg, true /* ap */, values)
}

type DPIDRValue uint32

type DPDesigner uint16

func (v DPIDRValue) Designer() DPDesigner {
	return DPDesigner((v >> 1) & 0x7ff)
}

func (v DPIDRValue) Version() uint8 {
	return uint8((v >> 12) & 0xf)
}

func (v DPIDRValue) Minimal() bool {
	return (v>>16)&1 != 0
}

func (v DPIDRValue) PartNumber() uint8 {
	return uint8((v >> 20) & 0xff)
}

func (v DPIDRValue) Revision() uint8 {
	return uint8((v >> 28) & 0xf)
}

func (v DPIDRValue) String() string {
	return fmt.Sprintf("0x%08x (designer %s, part 0x%02x, DPv%d, rev %d, min %t)",
		uint32(v), v.Designer(), v.PartNumber(), v.Version(), v.Revision(), v.Minimal())
}

func (v DPDesigner) String() string {
	if v == 0x23b {
		return "ARM"
	}
	return fmt.Sprintf("0x%03x", uint16(v))
}

func (r DPReg) String() string {
	switch r {
	case DPIDR:
		return "DPIDR"
	case DPCTRLSTAT:
		return "DPCTRLSTAT"
	case DPSELECT:
		return "DPSELECT"
	case DPRDBUFF:
		return "DPRDBUFF"
	}
	return fmt.Sprintf("0x%x", uint8(r))
}
