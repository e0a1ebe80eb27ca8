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
package rpiopins

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	rpio "github.com/stianeikeland/go-rpio/v4"
)

func TestOpenRejectsBadPins(t *testing.T) {
	for _, cfg := range []Config{
		{SWCLK: -1, SWDIO: 24, NRESET: 18},
		{SWCLK: 25, SWDIO: 28, NRESET: 18},
		{SWCLK: 25, SWDIO: 25, NRESET: 18},
		{SWCLK: 25, SWDIO: 24, NRESET: 24},
	} {
		_, err := Open(cfg)
		assert.True(t, errors.IsNotValid(err), "%+v: %v", cfg, err)
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, rpio.High, level(true))
	assert.Equal(t, rpio.Low, level(false))
	d := DefaultConfig()
	assert.NotEqual(t, d.SWCLK, d.SWDIO)
}
