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
package flags

import (
	"time"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/sf2boot/common/image"
)

var (
	Config = flag.String("config", "", "Config file. If not set, sf2boot.yml next to the executable is used if present")
	Device = flag.String("device", "", "Flash device family, overrides the config. One of: at25df641, w25q64fv, n25q00aa, s25fl128s")
	Flash  = flag.String("flash", "", "Flash dump file to operate on")
	Create = flag.Bool("create", false, "Create the flash dump file if it does not exist")

	Input  = flag.StringP("input", "i", "", "Input file")
	Output = flag.StringP("output", "o", "", "Output file")
	Format = flag.String("format", "", "Output format, hex or bin. By default derived from the output file extension")

	Slot     = flag.String("slot", "image-1", "Image slot: golden, image-1 or image-2")
	Addr     = flag.Uint32("addr", 0, "Address of the binary data")
	Start    = flag.Int64("start", -1, "Start address to put into the hex file; none if negative")
	Sequence = flag.Uint16("sequence", 0, "Sequence number of the newest image on flash; the new image gets the next one")
	Golden   = flag.Bool("golden", false, "Build a golden image, which always has sequence number 0")
	Name     = flag.String("name", "", "Image name")

	FWVersion    = flag.String("fw-version", "", "Image version, major.minor.sub")
	FWMinVersion = flag.String("fw-min-version", "", "Minimum image version the image can be downgraded to, major.minor.sub")
	FWFlags      = flag.Uint32("fw-flags", 0, "Version block flags")

	Transport = flag.String("transport", "", `Where boot gets an image from: "file:/path/to/fw.hex", `+
		`"serial:/dev/ttyUSB0" or "cmd:rx -X -".`)
	Port        = flag.String("port", "", `Serial port, same as --transport=serial:<port>; "auto" picks the first one found`)
	BaudRate    = flag.Int("baud-rate", 115200, "Serial port speed")
	IdleTimeout = flag.Duration("idle-timeout", 3*time.Second, "Serial transfer ends after this much silence")
	HWFC        = flag.Bool("hw-flow-control", false, "Enable hardware flow control (CTS/RTS)")

	Update     = flag.Bool("update", false, "Request an image update")
	UseGolden  = flag.Bool("use-golden", false, "Request booting the golden image")
	CopyGolden = flag.Bool("copy-golden", false, "Request restoring image-1 from the golden image")

	EraseOp = flag.String("op", "erase-4k", "Erase operation: erase-4k, erase-32k, erase-64k or chip-erase")

	WriteVerify = flag.Bool("write-verify", false, "Read back and compare every page written")
	Force       = flag.Bool("force", false, "Use the force")
	Verbose     = flag.Bool("verbose", false, "Verbose output")
)

// ImageSlot returns the slot selected by --slot.
func ImageSlot() (image.Slot, error) {
	s, err := image.ParseSlot(*Slot)
	return s, errors.Trace(err)
}

// VersionBlock builds a version block from --fw-* flags, nil if no version
// was given.
func VersionBlock() (*image.VersionBlock, error) {
	if *FWVersion == "" {
		return nil, nil
	}
	v, err := image.ParseVersion(*FWVersion)
	if err != nil {
		return nil, errors.Trace(err)
	}
	mv, err := image.ParseVersion(*FWMinVersion)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &image.VersionBlock{Flags: *FWFlags, Version: v, MinVersion: mv}, nil
}

// TransportSpec returns the transport to boot from, --port being a shortcut
// for a serial one.
func TransportSpec() string {
	if *Transport == "" && *Port != "" {
		return "serial:" + *Port
	}
	return *Transport
}
