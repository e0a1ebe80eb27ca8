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
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/dapprobe/cli/config"
	"github.com/mongoose-os/dapprobe/cli/ourutil"
	"github.com/mongoose-os/dapprobe/common/dap"
	"github.com/mongoose-os/dapprobe/common/dap/server"
	"github.com/mongoose-os/dapprobe/common/slip"
	"github.com/mongoose-os/dapprobe/common/swd"
	"github.com/mongoose-os/dapprobe/common/swd/rpiopins"
)

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error {
	return os.Stdin.Close()
}

// newEngine builds the command engine on the pins selected by --sim.
// The returned function releases the pins.
func newEngine(cfg *config.Config) (*dap.Engine, func() error, error) {
	var pins swd.Pins
	var delay swd.Delayer
	var posted bool
	closer := func() error { return nil }
	if *sim {
		t := cfg.NewSimTarget()
		t.Turnaround = cfg.SWD.Turnaround
		pins, delay, posted = t, t, t.Posted
		ourutil.Reportf("Using simulated target, IDCODE 0x%08x", cfg.Sim.IDCode)
	} else {
		p, err := rpiopins.Open(cfg.Pins)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		pins, delay, closer, posted = p, swd.SpinDelay{}, p.Close, true
	}
	opts := cfg.EngineOpts()
	opts.PostedReads = posted
	opts.Indicator = func(light int, on bool) {
		glog.V(1).Infof("LED %d: %t", light, on)
	}
	eng := dap.NewEngine(pins, delay, opts)
	// Apply the configured turnaround and data phase the same way a host would.
	resp, err := eng.Process([]byte{byte(dap.CmdSWDConfigure), cfg.SWDCommandConfig()})
	if err != nil || resp[0] != byte(dap.CmdSWDConfigure) || resp[1] != dap.StatusOK {
		closer()
		return nil, nil, errors.Errorf("failed to configure SWD: %x %v", resp, err)
	}
	return eng, closer, nil
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return errors.Trace(err)
	}
	eng, closePins, err := newEngine(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	defer closePins()

	var rw io.ReadWriteCloser
	if *port == "-" {
		rw = stdio{os.Stdin, os.Stdout}
	} else {
		rw, err = server.OpenSerial(*port, &server.SerialOptions{
			BaudRate:            *baudRate,
			HardwareFlowControl: *hwFlowCtl,
		})
		if err != nil {
			return errors.Trace(err)
		}
	}
	go func() {
		// Unblock the reader.
		<-ctx.Done()
		rw.Close()
	}()

	s := server.New(eng)
	ourutil.Reportf("Serving CMSIS-DAP on %s", *port)
	err = s.ServeStream(ctx, slip.NewConn(rw, dap.PacketSize))
	s.Close()
	served, aborted := s.Stats()
	ourutil.Reportf("Served %d commands, %d aborts", served, aborted)
	if ctx.Err() != nil {
		return nil
	}
	return errors.Trace(err)
}
