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
package version

import (
	"fmt"
	"regexp"
	"runtime"
)

const (
	LatestVersionName = "latest"
)

var (
	regexpVersionNumber = regexp.MustCompile(`^\d+\.[0-9.]*$`)
)

func LooksLikeVersionNumber(s string) bool {
	return regexpVersionNumber.MatchString(s)
}

// FirmwareVersion is the version reported by the Info command. Probe
// strings are short, so development builds report def rather than the
// build id.
func FirmwareVersion(def string) string {
	if LooksLikeVersionNumber(Version) {
		return Version
	}
	return def
}

// String is the --version output.
func String() string {
	s := fmt.Sprintf("dapprobe %s", Version)
	if BuildId != "" {
		s += fmt.Sprintf(" (%s)", BuildId)
	}
	if BuildTimestamp != "" {
		s += fmt.Sprintf(", built %s", BuildTimestamp)
	}
	return fmt.Sprintf("%s %s/%s", s, runtime.GOOS, runtime.GOARCH)
}
