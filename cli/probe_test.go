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
	"testing"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVIDPID(t *testing.T) {
	vid, pid, err := parseVIDPID("0d28:0204")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0d28), vid)
	assert.Equal(t, uint16(0x0204), pid)

	for _, s := range []string{"", "0d28", "0d28:", "xyz:0204", "10000:1"} {
		_, _, err := parseVIDPID(s)
		assert.True(t, errors.IsNotValid(err), "%q: %v", s, err)
	}
}

func TestParseRegArgs(t *testing.T) {
	require.NoError(t, flag.CommandLine.Parse([]string{"write-reg", "ap", "0xfc", "42"}))
	ap, addr, vals, err := parseRegArgs(3)
	require.NoError(t, err)
	assert.True(t, ap)
	assert.Equal(t, uint8(0xfc), addr)
	assert.Equal(t, []uint32{42}, vals)

	for _, args := range [][]string{
		{"read-reg", "dp"},
		{"read-reg", "xp", "0"},
		{"read-reg", "dp", "0x10"},
		{"read-reg", "ap", "0x02"},
		{"read-reg", "ap", "zz"},
	} {
		require.NoError(t, flag.CommandLine.Parse(args))
		_, _, _, err := parseRegArgs(2)
		assert.Error(t, err, "%v", args)
	}
}

func TestSimProbe(t *testing.T) {
	*sim = true
	defer func() { *sim = false }()
	ctx := context.Background()

	require.NoError(t, probeInfo(ctx))
	require.NoError(t, probeDPIDR(ctx))

	require.NoError(t, flag.CommandLine.Parse([]string{"write-reg", "dp", "0x8", "0xf0"}))
	require.NoError(t, probeWriteReg(ctx))
	require.NoError(t, flag.CommandLine.Parse([]string{"read-reg", "ap", "0xfc"}))
	require.NoError(t, probeReadReg(ctx))
}
