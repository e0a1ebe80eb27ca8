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
	"github.com/golang/glog"
)

// JTAG is not supported: the commands are parsed so that the host gets a
// well-formed failure instead of a bogus response.

func validJTAGSequence(req []byte) bool {
	p := 2
	for i := 0; i < int(req[1]); i++ {
		if p >= len(req) {
			return false
		}
		tck := int(req[p] & 0x3f)
		if tck == 0 {
			tck = 64
		}
		p += 1 + (tck+7)/8
	}
	return p <= len(req)
}

func validJTAGConfigure(req []byte) bool {
	return 2+int(req[1]) <= len(req)
}

func (e *Engine) jtagSequence(req, resp []byte) int {
	glog.V(2).Infof("JTAG_Sequence: JTAG is not supported")
	resp[1] = StatusError
	return 2
}

func (e *Engine) jtagConfigure(req, resp []byte) int {
	glog.V(2).Infof("JTAG_Configure: JTAG is not supported")
	resp[1] = StatusError
	return 2
}

func (e *Engine) jtagIDCODE(req, resp []byte) int {
	resp[1] = StatusError
	for i := 2; i < 6; i++ {
		resp[i] = 0
	}
	return 6
}
