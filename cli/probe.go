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
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/dapprobe/cli/config"
	"github.com/mongoose-os/dapprobe/cli/flash/common/cmsis-dap/dap"
	"github.com/mongoose-os/dapprobe/cli/flash/common/cmsis-dap/dp"
	"github.com/mongoose-os/dapprobe/cli/ourutil"
	probe "github.com/mongoose-os/dapprobe/common/dap"
	"github.com/mongoose-os/dapprobe/common/dap/server"
	"github.com/mongoose-os/dapprobe/common/slip"
)

// Line reset, JTAG-to-SWD switch, line reset, idle.
var swdSwitchSequence = []struct {
	bits int
	data []uint8
}{
	{51, []uint8{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	{16, []uint8{0x9e, 0xe7}},
	{51, []uint8{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	{8, []uint8{0x00}},
}

func parseVIDPID(s string) (uint16, uint16, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, errors.NotValidf("VID:PID %q", s)
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, errors.NotValidf("VID %q", parts[0])
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, errors.NotValidf("PID %q", parts[1])
	}
	return uint16(vid), uint16(pid), nil
}

type simLink struct {
	io.Reader
	io.Writer
	close func() error
}

func (l simLink) Close() error {
	return l.close()
}

// simTransport runs a probe with a simulated target in this process.
func simTransport(ctx context.Context) (dap.Transport, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	eng, closePins, err := newEngine(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := server.New(eng)
	hostR, probeW := io.Pipe()
	probeR, hostW := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		errc <- s.ServeStream(ctx, slip.NewConn(simLink{Reader: probeR, Writer: probeW}, probe.PacketSize))
	}()
	closer := func() error {
		hostW.Close()
		err := <-errc
		probeW.Close()
		s.Close()
		closePins()
		return errors.Trace(err)
	}
	return dap.NewStreamTransport(simLink{hostR, hostW, closer}), nil
}

// openProbe connects to the probe selected by --hid, --usb, --port or --sim.
func openProbe(ctx context.Context) (dap.DAPClient, error) {
	var t dap.Transport
	var err error
	switch {
	case *usbID != "":
		vid, pid, err := parseVIDPID(*usbID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return dap.NewUSBClient(ctx, vid, pid, *usbSerial, *usbIntf, *usbEPIn, *usbEPOut)
	case *hidID != "":
		vid, pid, err := parseVIDPID(*hidID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		t, err = dap.OpenHID(vid, pid)
		if err != nil {
			return nil, errors.Trace(err)
		}
	case *port != "":
		rw, err := server.OpenSerial(*port, &server.SerialOptions{
			BaudRate:            *baudRate,
			HardwareFlowControl: *hwFlowCtl,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		t = dap.NewStreamTransport(rw)
	case *sim:
		t, err = simTransport(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
	default:
		return nil, errors.Errorf("no probe given, use --port, --hid, --usb or --sim")
	}
	return dap.NewClient(ctx, t)
}

// connectTarget switches the target to SWD and powers up its debug port.
func connectTarget(ctx context.Context, dapc dap.DAPClient) (dp.DPClient, error) {
	if err := dapc.Connect(ctx, dap.ConnectModeSWD); err != nil {
		return nil, errors.Trace(err)
	}
	if err := dapc.SetHostStatus(ctx, dap.StatusConnected, true); err != nil {
		return nil, errors.Trace(err)
	}
	for _, s := range swdSwitchSequence {
		if err := dapc.SWJSequence(ctx, s.bits, s.data); err != nil {
			return nil, errors.Annotatef(err, "failed to switch to SWD")
		}
	}
	dpc := dp.NewDPClient(dapc)
	if err := dpc.Init(ctx); err != nil {
		return nil, errors.Annotatef(err, "failed to init DP")
	}
	return dpc, nil
}

func disconnectTarget(ctx context.Context, dapc dap.DAPClient) {
	dapc.SetHostStatus(ctx, dap.StatusConnected, false)
	if err := dapc.Disconnect(ctx); err != nil {
		glog.Warningf("Disconnect: %s", err)
	}
}

func withProbe(ctx context.Context, f func(dapc dap.DAPClient) error) error {
	dapc, err := openProbe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer dapc.Close(ctx)
	return f(dapc)
}

func withTarget(ctx context.Context, f func(dapc dap.DAPClient, dpc dp.DPClient) error) error {
	return withProbe(ctx, func(dapc dap.DAPClient) error {
		dpc, err := connectTarget(ctx, dapc)
		if err != nil {
			return errors.Trace(err)
		}
		defer disconnectTarget(ctx, dapc)
		return f(dapc, dpc)
	})
}

func probeInfo(ctx context.Context) error {
	return withProbe(ctx, func(dapc dap.DAPClient) error {
		bold := color.New(color.Bold)
		vid, err := dapc.GetVendorID(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		pid, err := dapc.GetProductID(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		bold.Printf("%-14s", "USB ID:")
		fmt.Printf(" %04x:%04x\n", vid, pid)
		for _, item := range []struct {
			name string
			get  func(context.Context) (string, error)
		}{
			{"Serial", dapc.GetSerialNumber},
			{"Protocol", dapc.GetProtocolVersion},
			{"Firmware", dapc.GetFirmwareVersion},
			{"Target vendor", dapc.GetTargetVendor},
			{"Target name", dapc.GetTargetName},
		} {
			v, err := item.get(ctx)
			if err != nil {
				return errors.Trace(err)
			}
			bold.Printf("%-14s", item.name+":")
			fmt.Printf(" %s\n", v)
		}
		bold.Printf("%-14s", "Block size:")
		fmt.Printf(" %d words\n", dapc.GetTransferBlockMaxSize())
		return nil
	})
}

func probeDPIDR(ctx context.Context) error {
	return withTarget(ctx, func(dapc dap.DAPClient, dpc dp.DPClient) error {
		idr, err := dpc.GetIDR(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		color.New(color.FgGreen).Printf("DPIDR: %s\n", idr)
		return nil
	})
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.NotValidf("number %q", s)
	}
	return uint32(v), nil
}

// parseRegArgs parses "dp|ap ADDR [VALUE]".
func parseRegArgs(n int) (bool, uint8, []uint32, error) {
	args := flag.Args()[1:]
	if len(args) != n {
		return false, 0, nil, errors.Errorf("expected %d arguments, got %d", n, len(args))
	}
	var ap bool
	switch args[0] {
	case "dp":
	case "ap":
		ap = true
	default:
		return false, 0, nil, errors.NotValidf("register space %q", args[0])
	}
	var vals []uint32
	for _, a := range args[1:] {
		v, err := parseU32(a)
		if err != nil {
			return false, 0, nil, errors.Trace(err)
		}
		vals = append(vals, v)
	}
	if vals[0] > 0xff || vals[0]&3 != 0 || (!ap && vals[0] > 0xc) {
		return false, 0, nil, errors.NotValidf("register address 0x%x", vals[0])
	}
	return ap, uint8(vals[0]), vals[1:], nil
}

func printTransferError(err error) error {
	ourutil.Failf("FAILED: %s", err)
	return errors.Trace(err)
}

func probeReadReg(ctx context.Context) error {
	ap, addr, _, err := parseRegArgs(2)
	if err != nil {
		return errors.Trace(err)
	}
	return withTarget(ctx, func(dapc dap.DAPClient, dpc dp.DPClient) error {
		var v uint32
		if ap {
			v, err = dpc.ReadAPReg(ctx, *apSel, addr)
		} else {
			v, err = dpc.ReadDPReg(ctx, dp.DPReg(addr))
		}
		if err != nil {
			return printTransferError(err)
		}
		color.New(color.FgGreen).Printf("0x%08x\n", v)
		return nil
	})
}

func probeWriteReg(ctx context.Context) error {
	ap, addr, vals, err := parseRegArgs(3)
	if err != nil {
		return errors.Trace(err)
	}
	return withTarget(ctx, func(dapc dap.DAPClient, dpc dp.DPClient) error {
		if ap {
			err = dpc.WriteAPReg(ctx, *apSel, addr, vals[0])
		} else {
			err = dpc.WriteDPReg(ctx, dp.DPReg(addr), vals[0])
		}
		if err != nil {
			return printTransferError(err)
		}
		color.New(color.FgGreen).Printf("OK\n")
		return nil
	})
}
