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
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/dapprobe/common/pflagenv"
	"github.com/mongoose-os/dapprobe/version"
)

const (
	envPrefix = pflagenv.Prefix
)

var (
	configFile = flag.String("config", "", "YAML file with probe identity, transfer, SWD, pin and simulation settings")
	port       = flag.String("port", "", "Serial port of the host link. \"-\" is stdin/stdout")
	baudRate   = flag.Uint("baud-rate", 115200, "Serial port speed")
	hwFlowCtl  = flag.Bool("hw-flow-control", false, "Use RTS/CTS on the serial port")
	sim        = flag.Bool("sim", false, "Use a simulated target instead of GPIO pins")
	hidID      = flag.String("hid", "", "VID:PID of a CMSIS-DAP v1 (HID) probe")
	usbID      = flag.String("usb", "", "VID:PID of a CMSIS-DAP v2 (bulk) probe")
	usbSerial  = flag.String("serial-number", "", "USB serial number of the probe")
	usbIntf    = flag.Int("usb-intf", 0, "Bulk interface number of a v2 probe")
	usbEPIn    = flag.Int("usb-ep-in", 0x81, "Bulk IN endpoint of a v2 probe")
	usbEPOut   = flag.Int("usb-ep-out", 0x01, "Bulk OUT endpoint of a v2 probe")
	apSel      = flag.Uint8("apsel", 0, "AP to access with read-reg ap/write-reg ap")

	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var probeFlags = []string{"port", "hid", "usb", "serial-number", "usb-intf", "usb-ep-in", "usb-ep-out", "sim", "config"}

var (
	// put all commands here
	commands = []command{
		{"serve", serve, "", `Run the probe: CMSIS-DAP over SLIP on a serial port, SWD on GPIO pins or a simulated target`, []string{"port"}, []string{"baud-rate", "hw-flow-control", "sim", "config"}},
		{"info", probeInfo, "", `Print the identity of a probe`, []string{}, probeFlags},
		{"dpidr", probeDPIDR, "", `Connect to the target and print its Debug Port ID`, []string{}, probeFlags},
		{"read-reg", probeReadReg, "dp|ap ADDR ", `Read a DP or AP register`, []string{}, append([]string{"apsel"}, probeFlags...)},
		{"write-reg", probeWriteReg, "dp|ap ADDR VALUE ", `Write a DP or AP register`, []string{}, append([]string{"apsel"}, probeFlags...)},
	}
)

type command struct {
	name     string
	handler  handler
	args     string
	short    string
	required []string
	optional []string
}

type handler func(ctx context.Context) error

func run(ctx context.Context) error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			// check required flags
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			// run the handler
			if err := c.handler(ctx); err != nil {
				return errors.Trace(err)
			}
			return nil
		}
	}
	// not found
	usage()
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	if err := pflagenv.Parse(envPrefix); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if *helpFull {
		unhideFlags()
		usage()
		return
	} else if *versionFlag {
		fmt.Println(version.String())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	go func() {
		<-sigc
		glog.Infof("Interrupted")
		cancel()
	}()

	err := run(ctx)
	cancel()
	glog.Flush()
	if err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
