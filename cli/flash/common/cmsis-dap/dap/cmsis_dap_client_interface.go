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
	"context"
	"fmt"
	"time"
)

type DAPClient interface {
	GetInfo(ctx context.Context, info uint8) (*bytes.Buffer, error)
	GetInfoString(ctx context.Context, info uint8) (string, error)
	GetVendorID(ctx context.Context) (uint16, error)
	GetProductID(ctx context.Context) (uint16, error)
	GetSerialNumber(ctx context.Context) (string, error)
	GetProtocolVersion(ctx context.Context) (string, error)
	GetFirmwareVersion(ctx context.Context) (string, error)
	GetTargetVendor(ctx context.Context) (string, error)
	GetTargetName(ctx context.Context) (string, error)

	SetHostStatus(ctx context.Context, st StatusType, value bool) error
	Connect(ctx context.Context, mode ConnectMode) error
	Disconnect(ctx context.Context) error
	TransferConfigure(ctx context.Context, idleCycles uint8, waitRetry uint16, matchRetry uint16) error
	Transfer(ctx context.Context, dapIndex uint8, reqs []TransferRequest) (TransferStatus, []uint32, error)
	GetTransferBlockMaxSize() int
	TransferBlockRead(ctx context.Context, dapIndex uint8, ap bool, reg uint8, length int) ([]uint32, error)
	TransferBlockWrite(ctx context.Context, dapIndex uint8, ap bool, reg uint8, data []uint32) error
	TransferAbort(ctx context.Context) error
	WriteABORT(ctx context.Context, dapIndex uint8, value uint32) error
	Delay(ctx context.Context, delay time.Duration) error
	ResetTarget(ctx context.Context) error
	SWJPins(ctx context.Context, output, sel uint8, wait time.Duration) (uint8, error)
	SWJClock(ctx context.Context, clockHz uint32) error
	SWJSequence(ctx context.Context, numBits int, data []uint8) error
	SWDConfigure(ctx context.Context, config uint8) error

	Close(ctx context.Context) error
}

// Transport carries command packets to a probe and responses back.
type Transport interface {
	Write(ctx context.Context, pkt []byte) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type StatusType uint8

const (
	StatusConnected StatusType = 0x00
	StatusRunning   StatusType = 0x01
)

type ConnectMode uint8

const (
	ConnectModeAuto ConnectMode = 0x00
	ConnectModeSWD  ConnectMode = 0x01
	ConnectModeJTAG ConnectMode = 0x02
)

type TransferOp uint8

const (
	OpRead       TransferOp = 0
	OpReadMatch  TransferOp = 1
	OpWrite      TransferOp = 2
	OpWriteMatch TransferOp = 3
)

type TransferRequest struct {
	Op   TransferOp
	AP   bool
	Reg  uint8
	Data uint32
}

type TransferStatus uint8

const (
	TransferStatusOK    TransferStatus = 1
	TransferStatusWait  TransferStatus = 2
	TransferStatusFault TransferStatus = 4
)

func (ts TransferStatus) Ok() bool {
	return ts.AckValue() == 1 && !ts.SWDError() && !ts.ValueMismatch()
}

func (ts TransferStatus) AckValue() uint8 {
	return uint8(ts & 7)
}

func (ts TransferStatus) SWDError() bool {
	return ts&8 != 0
}

func (ts TransferStatus) ValueMismatch() bool {
	return ts&0x10 != 0
}

func (ts TransferStatus) String() string {
	switch {
	case ts.SWDError():
		return "SWD_ERROR"
	case ts.ValueMismatch():
		return "MISMATCH"
	}
	switch ts.AckValue() {
	case 0:
		return "NO_ACK"
	case 1:
		return "OK"
	case 2:
		return "WAIT"
	case 4:
		return "FAULT"
	}
	return fmt.Sprintf("0x%02x", uint8(ts))
}
