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

	"github.com/cesanta/hid"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// HID reports carry a leading report ID and are always full size.
const hidReportSize = 64

type hidTransport struct {
	d hid.Device
}

// OpenHID opens the first CMSIS-DAP v1 probe matching vid:pid.
func OpenHID(vid, pid uint16) (Transport, error) {
	devs, err := hid.Devices()
	if err != nil {
		return nil, errors.Annotatef(err, "failed to enumerate HID devices")
	}
	for i, di := range devs {
		glog.V(1).Infof("%d: %04x:%04x %s", i, di.VendorID, di.ProductID, di.Path)
		// TODO(rojer): Serial number matching
		if di.VendorID != vid || di.ProductID != pid {
			continue
		}
		d, err := di.Open()
		if err != nil {
			return nil, errors.Annotatef(err, "failed to open device %04x:%04x (%s)", di.VendorID, di.ProductID, di.Path)
		}
		glog.Infof("Opened %04x:%04x (%s)", di.VendorID, di.ProductID, di.Path)
		return &hidTransport{d: d}, nil
	}
	return nil, errors.NotFoundf("device %04x:%04x", vid, pid)
}

func (ht *hidTransport) Write(ctx context.Context, pkt []byte) error {
	if len(pkt) > hidReportSize {
		return errors.Errorf("packet too long (max %d, got %d)", hidReportSize, len(pkt))
	}
	report := make([]byte, 1+hidReportSize)
	copy(report[1:], pkt)
	return errors.Annotatef(ht.d.Write(report), "device write failed")
}

func (ht *hidTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case resp, ok := <-ht.d.ReadCh():
		if !ok {
			return nil, errors.Annotatef(ht.d.ReadError(), "device read failed")
		}
		return resp, nil
	}
}

func (ht *hidTransport) Close() error {
	ht.d.Close()
	return nil
}
