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
	"bufio"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/sf2boot/cli/config"
	"github.com/mongoose-os/sf2boot/cli/flags"
	"github.com/mongoose-os/sf2boot/cli/ourutil"
	"github.com/mongoose-os/sf2boot/common/flashfile"
	"github.com/mongoose-os/sf2boot/common/image"
)

func reportf(f string, args ...interface{}) {
	ourutil.Reportf(f, args...)
}

// loadConfig reads the config file and applies the flags that override it.
func loadConfig() (*config.Config, error) {
	cfg, from, err := config.Load(*flags.Config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if *flags.Device != "" {
		cfg.Device = *flags.Device
	}
	if flag.CommandLine.Changed("write-verify") {
		cfg.WriteVerify = *flags.WriteVerify
	}
	if err := cfg.Validate(); err != nil {
		if from != "" {
			return nil, errors.Annotatef(err, "%s", from)
		}
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// openFlash opens the flash dump named by --flash and returns it along with
// an image store over it. The caller must close the dump.
func openFlash(cfg *config.Config) (*flashfile.File, *image.Store, error) {
	fam, err := cfg.Family()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	layout, err := cfg.ResolveLayout()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	f, err := flashfile.Open(*flags.Flash, fam, *flags.Create, cfg.DeviceOptions()...)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	glog.V(1).Infof("%s: %s, layout %s", *flags.Flash, fam.Profile().Name, layout)
	return f, image.NewStore(f.Device, layout), nil
}

// closeFlash closes f, saving it if save is set, and keeps the first error.
func closeFlash(f *flashfile.File, save bool, err *error) {
	if cerr := f.Close(save); cerr != nil && *err == nil {
		*err = errors.Trace(cerr)
	}
}

func readInput(name string) ([]byte, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = ioutil.ReadAll(os.Stdin)
	} else {
		data, err = ioutil.ReadFile(name)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", name)
	}
	return data, nil
}

// writeOutput calls write with a writer for name, stdout if name is "-".
func writeOutput(name string, write func(w io.Writer) error) error {
	if name == "-" {
		bw := bufio.NewWriter(os.Stdout)
		if err := write(bw); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(bw.Flush())
	}
	f, err := os.Create(name)
	if err != nil {
		return errors.Trace(err)
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return errors.Annotatef(err, "failed to write %s", name)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}

// outputFormat returns "hex" or "bin", from --format or the extension of name.
func outputFormat(name string) (string, error) {
	format := strings.ToLower(*flags.Format)
	if format == "" {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".bin":
			format = "bin"
		default:
			format = "hex"
		}
	}
	switch format {
	case "hex", "bin":
		return format, nil
	}
	return "", errors.Errorf("unknown format %q, want hex or bin", format)
}

// looksLikeHex tells Intel HEX text from a staged image, which starts with
// the header's valid word.
func looksLikeHex(data []byte) bool {
	for _, b := range data {
		switch b {
		case '\r', '\n', ' ', '\t':
			continue
		case ':':
			return true
		}
		return false
	}
	return false
}
