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

// Package slip frames packets on byte streams.
// https://tools.ietf.org/html/rfc1055
package slip

import (
	"bufio"
	"encoding/hex"
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

// Conn reads and writes SLIP frames on a stream. Reads and writes may
// proceed concurrently; concurrent writes are serialized.
type Conn struct {
	r       *bufio.Reader
	w       io.Writer
	wmu     sync.Mutex
	maxSize int
	synced  bool
}

// NewConn wraps rw. Frames longer than maxSize are rejected by ReadFrame.
func NewConn(rw io.ReadWriter, maxSize int) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: rw, maxSize: maxSize}
}

// ErrFrameTooLong is returned by ReadFrame for an oversized frame. The
// rest of the frame is discarded and the next read starts afresh.
var ErrFrameTooLong = errors.New("SLIP frame too long")

// ErrBadEscape is returned by ReadFrame for an escape byte followed by
// anything but EscEnd or EscEsc. The stream resynchronizes on the next
// delimiter.
var ErrBadEscape = errors.New("invalid SLIP escape sequence")

// ReadFrame returns the next non-empty frame. Bytes received before the
// first delimiter on the stream are line noise and are dropped.
func (c *Conn) ReadFrame() ([]byte, error) {
	var frame []byte
	esc, overflow := false, false
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			if err == io.EOF && len(frame) == 0 {
				return nil, io.EOF
			}
			return nil, errors.Annotatef(err, "error reading frame")
		}
		if !c.synced {
			c.synced = b == End
			continue
		}
		switch {
		case b == End:
			if overflow {
				return nil, ErrFrameTooLong
			}
			if len(frame) == 0 {
				// Leading delimiter or an empty frame.
				esc = false
				continue
			}
			glog.V(4).Infof("<= (%d) %s", len(frame), hex.EncodeToString(frame))
			return frame, nil
		case esc:
			esc = false
			switch b {
			case EscEnd:
				b = End
			case EscEsc:
				b = Esc
			default:
				c.synced = false
				glog.V(1).Infof("bad escape 0x%02x after %d bytes", b, len(frame))
				return nil, ErrBadEscape
			}
		case b == Esc:
			esc = true
			continue
		}
		if len(frame) >= c.maxSize {
			overflow = true
			continue
		}
		frame = append(frame, b)
	}
}

// Encode returns data as a delimited frame.
func Encode(data []byte) []byte {
	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, End)
	for _, b := range data {
		switch b {
		case End:
			frame = append(frame, Esc, EscEnd)
		case Esc:
			frame = append(frame, Esc, EscEsc)
		default:
			frame = append(frame, b)
		}
	}
	return append(frame, End)
}

// WriteFrame writes data as one frame.
func (c *Conn) WriteFrame(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	glog.V(4).Infof("=> (%d) %s", len(data), hex.EncodeToString(data))
	_, err := c.w.Write(Encode(data))
	return errors.Annotatef(err, "error writing frame")
}
