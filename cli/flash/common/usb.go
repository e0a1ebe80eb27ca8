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

package common

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/google/gousb"
	"github.com/juju/errors"
)

// USBDevice is an open device together with the libusb context it lives in.
type USBDevice struct {
	*gousb.Device
	uctx *gousb.Context
}

func (d *USBDevice) Close() error {
	err := d.Device.Close()
	d.uctx.Close()
	return errors.Trace(err)
}

// USBDeviceID names a device by VID, PID and, optionally, serial number.
type USBDeviceID struct {
	Vendor  gousb.ID
	Product gousb.ID
	Serial  string
}

func (id USBDeviceID) String() string {
	if id.Serial == "" {
		return fmt.Sprintf("%s:%s", id.Vendor, id.Product)
	}
	return fmt.Sprintf("%s:%s/%s", id.Vendor, id.Product, id.Serial)
}

// OpenUSBDevice opens the first device matching id.
func OpenUSBDevice(id USBDeviceID) (*USBDevice, error) {
	uctx := gousb.NewContext()
	devs, err := uctx.OpenDevices(func(dd *gousb.DeviceDesc) bool {
		glog.V(1).Infof("Dev %+v", dd)
		return dd.Vendor == id.Vendor && dd.Product == id.Product
	})
	// Devices we have no access to fail the call but the rest are still returned.
	if err != nil && len(devs) == 0 {
		uctx.Close()
		return nil, errors.Annotatef(err, "failed to enumerate USB devices")
	}
	var res *gousb.Device
	for _, dev := range devs {
		if res != nil {
			dev.Close()
			continue
		}
		sn, _ := dev.SerialNumber()
		glog.V(1).Infof("Dev %s sn '%s'", dev, sn)
		if id.Serial == "" || sn == id.Serial {
			res = dev
		} else {
			dev.Close()
		}
	}
	if res == nil {
		uctx.Close()
		return nil, errors.NotFoundf("USB device %s", id)
	}
	return &USBDevice{Device: res, uctx: uctx}, nil
}
