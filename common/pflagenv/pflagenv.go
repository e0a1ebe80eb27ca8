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
package pflagenv

import (
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

// Prefix of the environment variables recognized by dapprobe.
const Prefix = "DAPPROBE_"

// LookupFunc is os.LookupEnv or a stand-in for tests.
type LookupFunc func(key string) (string, bool)

// ParseFlagSet sets every flag of fs that was not given on the command
// line from the environment variable named after it: envPrefix followed
// by the upper-cased flag name with dashes replaced by underscores.
// It must be called after fs.Parse.
func ParseFlagSet(fs *pflag.FlagSet, envPrefix string) error {
	return ParseFlagSetLookup(fs, envPrefix, os.LookupEnv)
}

func ParseFlagSetLookup(fs *pflag.FlagSet, envPrefix string, lookup LookupFunc) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || err != nil {
			return
		}
		name := EnvName(f.Name, envPrefix)
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		if serr := fs.Set(f.Name, v); serr != nil {
			err = errors.Annotatef(serr, "invalid value of %s", name)
			return
		}
		glog.V(1).Infof("--%s=%q from %s", f.Name, v, name)
	})
	return err
}

// Parse is ParseFlagSet on pflag.CommandLine.
func Parse(envPrefix string) error {
	return ParseFlagSet(pflag.CommandLine, envPrefix)
}

func EnvName(flagName, envPrefix string) string {
	return envPrefix + strings.Replace(strings.ToUpper(flagName), "-", "_", -1)
}
