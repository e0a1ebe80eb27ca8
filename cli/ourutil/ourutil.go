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

// Package ourutil has the user-facing output helpers of the dapprobe command.
// Everything goes to stderr: stdout may be the probe's host link.
package ourutil

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/golang/glog"
)

var (
	stderr io.Writer = os.Stderr
	failed           = color.New(color.FgRed)
)

// Reportf prints a progress message and logs it.
func Reportf(f string, args ...interface{}) {
	Freportf(stderr, f, args...)
}

func Freportf(w io.Writer, f string, args ...interface{}) {
	fmt.Fprintf(w, f+"\n", args...)
	glog.Infof(f, args...)
}

// Failf is Reportf in red, logged as a warning.
func Failf(f string, args ...interface{}) {
	failed.Fprintf(stderr, f+"\n", args...)
	glog.Warningf(f, args...)
}
