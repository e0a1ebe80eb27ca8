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
package multierror

import "strings"

// Error is a list of errors reported together, e.g. all the problems
// found in a config file.
type Error struct {
	errs []error
}

func (e *Error) Error() string {
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	lines := make([]string, 0, len(e.errs)+1)
	lines = append(lines, "multiple errors:")
	for _, err := range e.errs {
		lines = append(lines, "  "+err.Error())
	}
	return strings.Join(lines, "\n")
}

// Errors returns the collected errors in the order they were added.
func (e *Error) Errors() []error {
	return e.errs
}

// Append adds errs to err. Nil errors are skipped, so the result is nil
// if there is nothing to report. err may be nil, a plain error or an *Error.
func Append(err error, errs ...error) error {
	var res *Error
	switch e := err.(type) {
	case nil:
		res = &Error{}
	case *Error:
		res = e
	default:
		res = &Error{errs: []error{e}}
	}
	for _, e := range errs {
		if e != nil {
			res.errs = append(res.errs, e)
		}
	}
	if len(res.errs) == 0 {
		return nil
	}
	return res
}
