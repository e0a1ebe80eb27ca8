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

// Package rpiopins drives SWD from the Raspberry Pi GPIO header.
package rpiopins

import (
	"github.com/golang/glog"
	"github.com/juju/errors"
	rpio "github.com/stianeikeland/go-rpio/v4"

	"github.com/mongoose-os/dapprobe/common/swd"
)

// Config holds BCM pin numbers.
type Config struct {
	SWCLK  int `yaml:"swclk"`
	SWDIO  int `yaml:"swdio"`
	NRESET int `yaml:"nreset"`
}

// DefaultConfig uses pins 25, 24 and 18, which are free on most boards.
func DefaultConfig() Config {
	return Config{SWCLK: 25, SWDIO: 24, NRESET: 18}
}

// Pins implements swd.Pins on /dev/gpiomem.
type Pins struct {
	clk, dio, rst rpio.Pin
}

func Open(cfg Config) (*Pins, error) {
	for _, p := range []int{cfg.SWCLK, cfg.SWDIO, cfg.NRESET} {
		if p < 0 || p > 27 {
			return nil, errors.NotValidf("BCM pin %d", p)
		}
	}
	if cfg.SWCLK == cfg.SWDIO || cfg.SWCLK == cfg.NRESET || cfg.SWDIO == cfg.NRESET {
		return nil, errors.NotValidf("pin assignment %+v", cfg)
	}
	if err := rpio.Open(); err != nil {
		return nil, errors.Annotatef(err, "failed to map GPIO registers")
	}
	p := &Pins{
		clk: rpio.Pin(cfg.SWCLK),
		dio: rpio.Pin(cfg.SWDIO),
		rst: rpio.Pin(cfg.NRESET),
	}
	p.clk.Output()
	p.clk.High()
	p.rst.Output()
	p.rst.High()
	p.dio.PullUp()
	p.dio.Input()
	glog.V(1).Infof("GPIO SWCLK %d SWDIO %d nRESET %d", cfg.SWCLK, cfg.SWDIO, cfg.NRESET)
	return p, nil
}

func level(b bool) rpio.State {
	if b {
		return rpio.High
	}
	return rpio.Low
}

func (p *Pins) SetClock(l bool) {
	p.clk.Write(level(l))
}

func (p *Pins) SetData(l bool) {
	p.dio.Write(level(l))
}

func (p *Pins) GetData() bool {
	return p.dio.Read() == rpio.High
}

func (p *Pins) SetDataDirection(dir swd.Direction) {
	if dir == swd.Output {
		p.dio.Output()
	} else {
		p.dio.Input()
	}
}

func (p *Pins) SetReset(l bool) {
	p.rst.Write(level(l))
}

// Close releases the lines and unmaps the registers.
func (p *Pins) Close() error {
	p.dio.Input()
	p.clk.Input()
	p.rst.Input()
	return errors.Trace(rpio.Close())
}
