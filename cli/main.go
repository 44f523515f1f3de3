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
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/sf2boot/common/pflagenv"
	"github.com/mongoose-os/sf2boot/version"
)

const (
	envPrefix = "SF2BOOT_"
)

var (
	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var (
	commands = []command{
		{"hex", hexCmd, `Convert an Intel HEX file into an image ready to be written to flash`,
			[]string{"input", "output"}, []string{"golden", "sequence", "name", "fw-version", "fw-min-version", "fw-flags", "force"}},
		{"mkhex", mkhexCmd, `Convert a binary file to Intel HEX`,
			[]string{"input", "output"}, []string{"addr", "start"}},
		{"info", infoCmd, `Show the image slots of a flash dump`,
			[]string{"flash"}, []string{"config", "device"}},
		{"write", writeCmd, `Write an image, or an Intel HEX file, into a slot`,
			[]string{"flash", "input"}, []string{"slot", "create", "sequence", "name", "fw-version", "fw-min-version", "fw-flags", "write-verify", "config", "device"}},
		{"read", readCmd, `Load the image from a slot and save it as Intel HEX or binary`,
			[]string{"flash", "output"}, []string{"slot", "format", "config", "device"}},
		{"invalidate", invalidateCmd, `Mark the image in a slot invalid`,
			[]string{"flash", "slot"}, []string{"config", "device"}},
		{"erase", eraseCmd, `Erase a block or the whole flash`,
			[]string{"flash"}, []string{"op", "addr", "force", "config", "device"}},
		{"boot", bootCmd, `Run the boot sequence against a flash dump`,
			[]string{"flash"}, []string{"transport", "port", "baud-rate", "idle-timeout", "hw-flow-control",
				"update", "use-golden", "copy-golden", "name", "output", "format", "create", "write-verify", "config", "device"}},
		{"version", versionCmd, `Show version information`, []string{}, []string{}},
	}
)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func() error

func run() error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			if err := c.handler(); err != nil {
				return errors.Trace(err)
			}
			return nil
		}
	}
	usage()
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	fromEnv, err := pflagenv.Parse(envPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if len(fromEnv) > 0 {
		glog.V(1).Infof("flags from the environment: %q", fromEnv)
	}
	setVerbosity()

	if *helpFull {
		unhideFlags()
		usage()
		return
	} else if *versionFlag {
		fmt.Printf(
			"%s\nVersion: %s\nBuild ID: %s\n",
			"The SF2 bootloader tool", version.Version, version.BuildId,
		)
		return
	}

	if err := run(); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
