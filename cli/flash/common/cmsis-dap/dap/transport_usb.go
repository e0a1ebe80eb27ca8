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
// +build !no_libudev

package dap

import (
	"context"

	"github.com/golang/glog"
	"github.com/google/gousb"
	"github.com/juju/errors"

	"github.com/mongoose-os/dapprobe/cli/flash/common"
)

// Bulk endpoints appeared in protocol version 2.
const minBulkProtocolVersion = "2.0.0"

type usbTransport struct {
	dev   *common.USBDevice
	cfg   *gousb.Config
	intf  *gousb.Interface
	in    *gousb.InEndpoint
	out   *gousb.OutEndpoint
	rxBuf []byte
}

// OpenUSB opens the bulk interface of a CMSIS-DAP v2 probe.
func OpenUSB(vid, pid uint16, serial string, intfNum, epIn, epOut int) (Transport, error) {
	dev, err := common.OpenUSBDevice(common.USBDeviceID{Vendor: gousb.ID(vid), Product: gousb.ID(pid), Serial: serial})
	if err != nil {
		return nil, errors.Trace(err)
	}
	ut := &usbTransport{dev: dev}
	if err := ut.open(intfNum, epIn, epOut); err != nil {
		ut.Close()
		return nil, errors.Trace(err)
	}
	glog.Infof("Opened %s:%s intf %d ep %#x/%#x", gousb.ID(vid), gousb.ID(pid), intfNum, epIn, epOut)
	return ut, nil
}

func (ut *usbTransport) open(intfNum, epIn, epOut int) error {
	ut.dev.SetAutoDetach(true)
	cfgNum, err := ut.dev.ActiveConfigNum()
	if err != nil {
		return errors.Annotatef(err, "failed to get active config")
	}
	ut.cfg, err = ut.dev.Config(cfgNum)
	if err != nil {
		return errors.Annotatef(err, "failed to claim config %d", cfgNum)
	}
	ut.intf, err = ut.cfg.Interface(intfNum, 0)
	if err != nil {
		return errors.Annotatef(err, "failed to claim interface %d", intfNum)
	}
	ut.in, err = ut.intf.InEndpoint(epIn)
	if err != nil {
		return errors.Annotatef(err, "failed to open in endpoint %d", epIn)
	}
	ut.out, err = ut.intf.OutEndpoint(epOut)
	if err != nil {
		return errors.Annotatef(err, "failed to open out endpoint %d", epOut)
	}
	ut.rxBuf = make([]byte, ut.in.Desc.MaxPacketSize)
	return nil
}

func (ut *usbTransport) Write(ctx context.Context, pkt []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	_, err := ut.out.Write(pkt)
	return errors.Annotatef(err, "device write failed")
}

func (ut *usbTransport) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	n, err := ut.in.Read(ut.rxBuf)
	if err != nil {
		return nil, errors.Annotatef(err, "device read failed")
	}
	return append([]byte(nil), ut.rxBuf[:n]...), nil
}

func (ut *usbTransport) Close() error {
	if ut.intf != nil {
		ut.intf.Close()
	}
	if ut.cfg != nil {
		ut.cfg.Close()
	}
	return errors.Trace(ut.dev.Close())
}

// NewUSBClient opens a v2 probe and checks that it speaks a protocol
// version with bulk support.
func NewUSBClient(ctx context.Context, vid, pid uint16, serial string, intfNum, epIn, epOut int) (DAPClient, error) {
	t, err := OpenUSB(vid, pid, serial, intfNum, epIn, epOut)
	if err != nil {
		return nil, errors.Trace(err)
	}
	dapc, err := NewClient(ctx, t)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := CheckProtocolVersion(ctx, dapc, minBulkProtocolVersion); err != nil {
		dapc.Close(ctx)
		return nil, errors.Trace(err)
	}
	return dapc, nil
}
