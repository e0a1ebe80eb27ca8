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
package dp

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongoose-os/dapprobe/cli/flash/common/cmsis-dap/dap"
	probe "github.com/mongoose-os/dapprobe/common/dap"
	"github.com/mongoose-os/dapprobe/common/dap/server"
	"github.com/mongoose-os/dapprobe/common/slip"
	"github.com/mongoose-os/dapprobe/common/swd"
	"github.com/mongoose-os/dapprobe/common/swd/swdsim"
)

type pipeRW struct {
	io.Reader
	io.Writer
}

type pipeRWC struct {
	io.Reader
	io.Writer
	close func() error
}

func (p pipeRWC) Close() error {
	return p.close()
}

func newTestDP(t *testing.T) (DPClient, *swdsim.Target) {
	target := swdsim.NewTarget()
	s := server.New(probe.NewEngine(target, target, nil))
	hostR, probeW := io.Pipe()
	probeR, hostW := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		errc <- s.ServeStream(context.Background(), slip.NewConn(pipeRW{probeR, probeW}, probe.PacketSize))
	}()
	closer := func() error {
		hostW.Close()
		err := <-errc
		probeW.Close()
		s.Close()
		return err
	}
	ctx := context.Background()
	dapc, err := dap.NewClient(ctx, dap.NewStreamTransport(pipeRWC{hostR, hostW, closer}))
	require.NoError(t, err)
	t.Cleanup(func() {
		dapc.Close(ctx)
	})
	require.NoError(t, dapc.Connect(ctx, dap.ConnectModeSWD))
	require.NoError(t, dapc.SWJSequence(ctx, 51, []uint8{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}))
	return NewDPClient(dapc), target
}

func TestInit(t *testing.T) {
	dpc, target := newTestDP(t)
	ctx := context.Background()
	require.NoError(t, dpc.Init(ctx))
	assert.Equal(t, uint32(0x1e), target.Abort)
	assert.Equal(t, uint32(0xf0000000), target.CtrlStat())

	idr, err := dpc.GetIDR(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ARM", idr.Designer().String())
	assert.Equal(t, uint8(1), idr.Version())
	assert.Equal(t, uint8(0xba), idr.PartNumber())
	assert.Equal(t, uint8(2), idr.Revision())
	assert.False(t, idr.Minimal())

	require.NoError(t, dpc.DbgReset(ctx))
	assert.Zero(t, target.CtrlStat()&(ctrlCDbgRstReq|ctrlCDbgRstAck))
}

func TestAPAccess(t *testing.T) {
	dpc, target := newTestDP(t)
	ctx := context.Background()
	require.NoError(t, dpc.Init(ctx))

	require.NoError(t, dpc.WriteAPReg(ctx, 1, 0x14, 0x12345678))
	assert.Equal(t, uint32(0x12345678), target.APReg(1, 0x14))
	assert.Equal(t, uint32(0x01000010), target.Select())
	v, err := dpc.ReadAPReg(ctx, 1, 0x14)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), v)

	// Same bank: no SELECT write.
	before := target.Requests()
	_, err = dpc.ReadAPReg(ctx, 1, 0x18)
	require.NoError(t, err)
	assert.Equal(t, before+1, target.Requests())

	values := make([]uint32, 20)
	for i := range values {
		values[i] = uint32(i)
	}
	require.NoError(t, dpc.WriteAPRegMulti(ctx, 0, 0x0c, values))
	assert.Equal(t, uint32(19), target.APReg(0, 0x0c))

	target.SetAPReg(0, 0xfc, 0x24770011)
	read, err := dpc.ReadAPRegMulti(ctx, 0, 0xfc, 20)
	require.NoError(t, err)
	require.Len(t, read, 20)
	assert.Equal(t, uint32(0x24770011), read[19])
}

func TestHandshakeTimeout(t *testing.T) {
	dpc, target := newTestDP(t)
	ctx := context.Background()
	target.ReadFunc = func(req swd.Request) uint32 { return 0 }
	err := dpc.SetDbgPower(ctx, true, false)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "power ack")
}

func TestDPRegString(t *testing.T) {
	assert.Equal(t, "DPCTRLSTAT", DPCTRLSTAT.String())
	assert.Equal(t, "0x10", DPReg(0x10).String())
	assert.Equal(t, "0x123", DPDesigner(0x123).String())
	assert.Contains(t, DPIDRValue(swdsim.DefaultIDR).String(), "designer ARM")
}
