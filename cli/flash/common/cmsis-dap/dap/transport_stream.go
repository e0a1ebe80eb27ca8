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
package dap

import (
	"context"
	"io"
	"sync"

	"github.com/juju/errors"

	probe "github.com/mongoose-os/dapprobe/common/dap"
	"github.com/mongoose-os/dapprobe/common/slip"
)

type streamTransport struct {
	rwc     io.ReadWriteCloser
	conn    *slip.Conn
	frames  chan []byte
	readErr error
	done    chan struct{}
	once    sync.Once
}

// NewStreamTransport frames packets with SLIP over rwc, e.g. a serial port
// connected to a probe running "dapprobe serve".
func NewStreamTransport(rwc io.ReadWriteCloser) Transport {
	st := &streamTransport{
		rwc:    rwc,
		conn:   slip.NewConn(rwc, probe.PacketSize),
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	go st.reader()
	return st
}

func (st *streamTransport) reader() {
	defer close(st.frames)
	for {
		frame, err := st.conn.ReadFrame()
		switch errors.Cause(err) {
		case nil:
			select {
			case st.frames <- frame:
			case <-st.done:
				return
			}
		case slip.ErrBadEscape:
			continue
		default:
			st.readErr = err
			return
		}
	}
}

func (st *streamTransport) Write(ctx context.Context, pkt []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(st.conn.WriteFrame(pkt))
}

func (st *streamTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case frame, ok := <-st.frames:
		if !ok {
			if st.readErr == nil || errors.Cause(st.readErr) == io.EOF {
				return nil, errors.Errorf("probe closed the connection")
			}
			return nil, errors.Annotatef(st.readErr, "device read failed")
		}
		return frame, nil
	}
}

func (st *streamTransport) Close() error {
	var err error
	st.once.Do(func() {
		close(st.done)
		err = st.rwc.Close()
	})
	return errors.Trace(err)
}
