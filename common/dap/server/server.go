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

// Package server moves command packets between transports and a DAP
// engine. A single worker owns the engine: packets are executed one at a
// time in arrival order and their responses are delivered in that order.
package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/dapprobe/common/dap"
)

// QueueDepth is the number of packets accepted ahead of the worker.
const QueueDepth = 20

// Engine executes command packets.
type Engine interface {
	ProcessCommand(req, resp []byte) (int, error)
}

// ErrClosed is returned for packets submitted to, or still queued in, a
// closed server.
var ErrClosed = errors.New("server closed")

// Call is one packet in flight.
type Call struct {
	Req  []byte
	Resp []byte
	Err  error
	done chan struct{}
}

// Done is closed when Resp and Err are final.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes or ctx expires. The call still
// runs if ctx expires first; only its result is lost.
func (c *Call) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.Resp, c.Err
	case <-ctx.Done():
		return nil, errors.Annotatef(ctx.Err(), "waiting for %s", dap.Command(c.Req[0]))
	}
}

type Server struct {
	// Accessed atomically, first for alignment on 32-bit platforms.
	numServed  uint64
	numAborted uint64

	eng   Engine
	queue chan *Call
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	// mu is held for reading while queueing; closed is only set with
	// mu held for writing, so no packet is queued after Close drains.
	mu     sync.RWMutex
	closed bool
}

// New starts a server executing packets on eng.
func New(eng Engine) *Server {
	s := &Server{
		eng:   eng,
		queue: make(chan *Call, QueueDepth),
		quit:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// IsAbort reports whether req is a TransferAbort packet. These are queued
// like any other packet and take effect between commands.
func IsAbort(req []byte) bool {
	return len(req) > 0 && dap.Command(req[0]) == dap.CmdTransferAbort
}

// Submit queues req, blocking while the queue is full.
func (s *Server) Submit(ctx context.Context, req []byte) (*Call, error) {
	if len(req) == 0 {
		return nil, errors.NotValidf("empty packet")
	}
	c := &Call{Req: req, done: make(chan struct{})}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	select {
	case s.queue <- c:
		return c, nil
	case <-s.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, errors.Annotatef(ctx.Err(), "queueing %s", dap.Command(req[0]))
	}
}

// Handle executes req and returns its response.
func (s *Server) Handle(ctx context.Context, req []byte) ([]byte, error) {
	c, err := s.Submit(ctx, req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.Wait(ctx)
}

func (s *Server) worker() {
	defer s.wg.Done()
	resp := make([]byte, dap.PacketSize)
	for {
		select {
		case c := <-s.queue:
			if IsAbort(c.Req) {
				glog.V(2).Infof("transfer abort")
				atomic.AddUint64(&s.numAborted, 1)
			}
			n, err := s.eng.ProcessCommand(c.Req, resp)
			if err != nil {
				c.Err = errors.Annotatef(err, "%s", dap.Command(c.Req[0]))
			} else {
				c.Resp = append([]byte(nil), resp[:n]...)
			}
			atomic.AddUint64(&s.numServed, 1)
			close(c.done)
		case <-s.quit:
			return
		}
	}
}

// Close stops the worker. Packets still queued complete with ErrClosed.
func (s *Server) Close() error {
	s.once.Do(func() {
		close(s.quit)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.wg.Wait()
		for {
			select {
			case c := <-s.queue:
				c.Err = ErrClosed
				close(c.done)
			default:
				return
			}
		}
	})
	return nil
}

// Stats returns the number of packets executed and abort requests seen.
func (s *Server) Stats() (served, aborted uint64) {
	return atomic.LoadUint64(&s.numServed), atomic.LoadUint64(&s.numAborted)
}
