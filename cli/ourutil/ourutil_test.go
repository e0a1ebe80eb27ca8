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
package ourutil

import (
	"bytes"
	"io"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	defer func(w io.Writer, nc bool) {
		stderr, color.NoColor = w, nc
	}(stderr, color.NoColor)
	stderr = &buf
	color.NoColor = true

	Reportf("Serving on %s", "/dev/ttyAMA0")
	Failf("FAILED: %d", 42)
	assert.Equal(t, "Serving on /dev/ttyAMA0\nFAILED: 42\n", buf.String())
}
