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

// Package config loads the probe configuration file.
package config

import (
	"io/ioutil"

	"github.com/golang/glog"
	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/mongoose-os/dapprobe/common/dap"
	"github.com/mongoose-os/dapprobe/common/multierror"
	"github.com/mongoose-os/dapprobe/common/swd/rpiopins"
	"github.com/mongoose-os/dapprobe/common/swd/swdsim"
	"github.com/mongoose-os/dapprobe/version"
)

type Config struct {
	Probe    dap.Identity    `yaml:"probe"`
	Transfer TransferConfig  `yaml:"transfer"`
	SWD      SWDConfig       `yaml:"swd"`
	Pins     rpiopins.Config `yaml:"pins"`
	Sim      SimConfig       `yaml:"sim"`
}

type TransferConfig struct {
	IdleCycles uint8  `yaml:"idle_cycles"`
	WaitRetry  uint16 `yaml:"wait_retry"`
	MatchRetry uint16 `yaml:"match_retry"`
}

type SWDConfig struct {
	ClockHz    uint32 `yaml:"clock_hz"`
	Turnaround int    `yaml:"turnaround"`
	DataPhase  bool   `yaml:"data_phase"`
}

// SimConfig describes the simulated target used by "serve --sim".
type SimConfig struct {
	IDCode uint32  `yaml:"idcode"`
	AP     []APReg `yaml:"ap"`
	// Posted makes AP reads posted, as on real hardware.
	Posted bool `yaml:"posted"`
}

// APReg presets one AP register of the simulated target.
type APReg struct {
	APSel uint8  `yaml:"apsel"`
	Addr  uint8  `yaml:"addr"`
	Value uint32 `yaml:"value"`
}

func Default() *Config {
	tc := dap.DefaultTransferConfig()
	return &Config{
		Probe: dap.Identity{
			VID:             dap.DefaultVID,
			PID:             dap.DefaultPID,
			FirmwareVersion: version.FirmwareVersion(dap.DefaultFirmwareVersion),
			PacketCount:     1,
		},
		Transfer: TransferConfig{
			IdleCycles: tc.IdleCycles,
			WaitRetry:  tc.WaitRetry,
			MatchRetry: tc.MatchRetry,
		},
		SWD: SWDConfig{
			ClockHz:    1000000,
			Turnaround: 1,
		},
		Pins: rpiopins.DefaultConfig(),
		Sim: SimConfig{
			IDCode: swdsim.DefaultIDR,
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read config")
	}
	if err := Parse(data, cfg); err != nil {
		return nil, errors.Annotatef(err, "%s", path)
	}
	glog.V(1).Infof("Config from %s: %+v", path, cfg)
	return cfg, nil
}

// Parse overlays YAML data on cfg and validates the result. Unknown keys
// are an error.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return errors.Annotatef(err, "invalid config")
	}
	return errors.Trace(cfg.Validate())
}

// Validate reports all the problems at once.
func (c *Config) Validate() error {
	var err error
	if c.Transfer.WaitRetry == 0 {
		err = multierror.Append(err, errors.NotValidf("transfer.wait_retry 0"))
	}
	if c.Transfer.MatchRetry == 0 {
		err = multierror.Append(err, errors.NotValidf("transfer.match_retry 0"))
	}
	if c.SWD.ClockHz == 0 {
		err = multierror.Append(err, errors.NotValidf("swd.clock_hz 0"))
	}
	if c.SWD.Turnaround < 1 || c.SWD.Turnaround > 4 {
		err = multierror.Append(err, errors.NotValidf("swd.turnaround %d (must be 1..4)", c.SWD.Turnaround))
	}
	for name, s := range map[string]string{
		"serial":           c.Probe.Serial,
		"target_vendor":    c.Probe.TargetVendor,
		"target_name":      c.Probe.TargetName,
		"board_vendor":     c.Probe.BoardVendor,
		"board_name":       c.Probe.BoardName,
		"firmware_version": c.Probe.FirmwareVersion,
	} {
		if len(s) > dap.PacketSize-2 {
			err = multierror.Append(err, errors.NotValidf("probe.%s too long (%d)", name, len(s)))
		}
	}
	for i, r := range c.Sim.AP {
		if r.Addr&3 != 0 {
			err = multierror.Append(err, errors.NotValidf("sim.ap[%d].addr 0x%x (must be word aligned)", i, r.Addr))
		}
	}
	return err
}

// EngineOpts converts the probe settings for dap.NewEngine.
func (c *Config) EngineOpts() *dap.EngineOpts {
	return &dap.EngineOpts{
		Identity: c.Probe,
		Transfer: dap.TransferConfig{
			IdleCycles: c.Transfer.IdleCycles,
			WaitRetry:  c.Transfer.WaitRetry,
			MatchRetry: c.Transfer.MatchRetry,
		},
		ClockHz: c.SWD.ClockHz,
	}
}

// SWDCommandConfig is the SWD_Configure byte matching the swd section.
func (c *Config) SWDCommandConfig() uint8 {
	v := uint8(c.SWD.Turnaround-1) & 3
	if c.SWD.DataPhase {
		v |= 4
	}
	return v
}

// NewSimTarget builds the simulated target described by the sim section.
func (c *Config) NewSimTarget() *swdsim.Target {
	t := swdsim.NewTarget()
	t.IDR = c.Sim.IDCode
	t.Posted = c.Sim.Posted
	for _, r := range c.Sim.AP {
		t.SetAPReg(r.APSel, r.Addr, r.Value)
	}
	return t
}
