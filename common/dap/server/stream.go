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
	"context"
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/dapprobe/common/dap"
	"github.com/mongoose-os/dapprobe/common/slip"
)

// ServeStream serves SLIP framed packets from conn until the stream ends,
// fails or ctx is done. ReadFrame cannot be interrupted: to stop a server
// blocked on a quiet stream, close the stream.
func (s *Server) ServeStream(ctx context.Context, conn *slip.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Calls are answered in the order they were read.
	pending := make(chan *Call, QueueDepth)
	werrc := make(chan error, 1)
	go func() {
		var werr error
		for c := range pending {
			resp, err := c.Wait(ctx)
			if err != nil {
				glog.Errorf("%s", err)
				resp = []byte{byte(dap.CmdInvalid)}
			}
			if werr == nil {
				if werr = conn.WriteFrame(resp); werr != nil {
					cancel()
				}
			}
		}
		werrc <- werr
	}()

	err := s.readLoop(ctx, conn, pending)
	close(pending)
	if werr := <-werrc; werr != nil && err == nil {
		err = werr
	}
	if err == io.EOF {
		err = nil
	}
	return errors.Trace(err)
}

func (s *Server) readLoop(ctx context.Context, conn *slip.Conn, pending chan<- *Call) error {
	for {
		frame, err := conn.ReadFrame()
		switch {
		case err == nil:
		case err == io.EOF:
			return err
		case err == slip.ErrBadEscape:
			glog.Warningf("dropped a corrupted frame")
			continue
		case err == slip.ErrFrameTooLong:
			// The host waits for an answer to every packet.
			glog.Warningf("packet too long")
			c := &Call{Req: []byte{byte(dap.CmdInvalid)}, Resp: []byte{byte(dap.CmdInvalid)}, done: make(chan struct{})}
			close(c.done)
			if !enqueue(ctx, pending, c) {
				return ctx.Err()
			}
			continue
		default:
			return errors.Trace(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c, err := s.Submit(ctx, frame)
		if err != nil {
			return errors.Trace(err)
		}
		if !enqueue(ctx, pending, c) {
			return ctx.Err()
		}
	}
}

func enqueue(ctx context.Context, pending chan<- *Call, c *Call) bool {
	select {
	case pending <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
