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
package server

import (
	"io"

	"github.com/cesanta/go-serial/serial"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// SerialOptions configure the host link of a probe attached to a UART.
type SerialOptions struct {
	BaudRate            uint
	HardwareFlowControl bool
}

// OpenSerial opens a serial port for ServeStream. Reads block until at
// least one byte arrives.
func OpenSerial(portName string, opts *SerialOptions) (io.ReadWriteCloser, error) {
	glog.Infof("Opening %s...", portName)
	oo := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              115200,
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		HardwareFlowControl:   opts.HardwareFlowControl,
		InterCharacterTimeout: 0,
		MinimumReadSize:       1,
	}
	if opts.BaudRate != 0 {
		oo.BaudRate = opts.BaudRate
	}
	s, err := serial.Open(oo)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s", portName)
	}
	// Drop whatever the host sent before we were listening.
	s.Flush()
	glog.V(1).Infof("%s opened at %d", portName, oo.BaudRate)
	return s, nil
}
