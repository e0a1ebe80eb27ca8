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
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	goversion "github.com/mcuadros/go-version"
)

// CheckProtocolVersion fails if the probe reports a protocol version
// older than min. Probes report versions like "2.0.0" or "1.10".
func CheckProtocolVersion(ctx context.Context, dapc DAPClient, min string) error {
	v, err := dapc.GetProtocolVersion(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	v = strings.TrimSpace(v)
	glog.V(1).Infof("Protocol version: %q", v)
	if v == "" {
		return errors.NotSupportedf("probe without protocol version")
	}
	if !goversion.Compare(goversion.Normalize(v), goversion.Normalize(min), ">=") {
		return errors.NotSupportedf("protocol version %s (need %s)", v, min)
	}
	return nil
}
