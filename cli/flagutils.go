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
package main

import (
	goflag "flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/dapprobe/common/multierror"
	"github.com/mongoose-os/dapprobe/common/pflagenv"
	"github.com/mongoose-os/dapprobe/version"
)

// logFlags are the glog flags. Apart from -v they are only shown by
// --helpfull.
var logFlags []string

func initFlags() {
	goflag.CommandLine.VisitAll(func(f *goflag.Flag) {
		logFlags = append(logFlags, f.Name)
	})
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	setLogFlagsHidden(true)
	flag.Usage = usage
}

func setLogFlagsHidden(hidden bool) {
	for _, name := range logFlags {
		if f := flag.Lookup(name); f != nil && name != "v" {
			f.Hidden = hidden
		}
	}
}

func unhideFlags() {
	setLogFlagsHidden(false)
}

// checkFlags reports every required flag that was neither given on the
// command line nor through the environment.
func checkFlags(names []string) error {
	var errs error
	for _, name := range names {
		f := flag.Lookup(name)
		switch {
		case f == nil:
			errs = multierror.Append(errs, errors.NotFoundf("flag --%s", name))
		case !f.Changed:
			errs = multierror.Append(errs, errors.Errorf("--%s (or %s) is required: %s",
				name, pflagenv.EnvName(name, envPrefix), f.Usage))
		}
	}
	return errors.Trace(errs)
}

func printFlag(w io.Writer, opt string, name string) {
	f := flag.Lookup(name)
	if f == nil {
		return
	}
	arg := "<" + f.Value.Type() + ">"
	if f.Value.Type() == "bool" {
		arg = ""
	}
	def := ""
	if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
		def = fmt.Sprintf(", default %s", f.DefValue)
	}
	fmt.Fprintf(w, "  --%s %s\t%s\t%s%s\t%s\n", name, arg, opt, pflagenv.EnvName(name, envPrefix), def, f.Usage)
}

func commandUsage(w io.Writer, c *command) {
	fmt.Fprintf(w, "%s %s %s[FLAGS]\n\n%s.\n", os.Args[0], c.name, c.args, c.short)
	if len(c.required)+len(c.optional) == 0 {
		return
	}
	fmt.Fprintf(w, "\nFlags:\n")
	for _, name := range c.required {
		printFlag(w, "required", name)
	}
	for _, name := range c.optional {
		printFlag(w, "optional", name)
	}
}

func usage() {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 1, ' ', 0)
	defer w.Flush()

	if len(os.Args) == 3 && os.Args[1] == "help" {
		for i := range commands {
			if commands[i].name == os.Args[2] {
				commandUsage(w, &commands[i])
				return
			}
		}
	}

	fmt.Fprintf(w, "CMSIS-DAP probe over SWD, %s.\n\n", version.String())
	fmt.Fprintf(w, "Usage:\n  %s <command> [FLAGS]\n  %s help <command>\n", os.Args[0], os.Args[0])
	fmt.Fprintf(w, "\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s %s\t%s\n", c.name, strings.TrimSpace(c.args), c.short)
	}

	fmt.Fprintf(w, "\nGlobal flags:\n")
	if *helpFull {
		fmt.Fprintf(w, "%s", flag.CommandLine.FlagUsages())
		return
	}
	printFlag(w, "optional", "config")
	printFlag(w, "optional", "v")
	fmt.Fprintf(w, "\nLog levels: 1 configuration, 2 commands, 3 SWD transfers, 4 packet dumps.\n")
}
