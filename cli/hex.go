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
	"io"

	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/cli/flags"
	"github.com/mongoose-os/sf2boot/common/ihex"
	"github.com/mongoose-os/sf2boot/common/image"
)

// stageHex turns Intel HEX text into an image with the sequence number
// following seq, or 0 if golden is set.
func stageHex(data []byte, seq uint16, golden bool) ([]byte, error) {
	l := &ihex.Loader{
		Sequence: image.Sequence(seq),
		Golden:   golden,
		Name:     *flags.Name,
	}
	vb, err := flags.VersionBlock()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if vb != nil {
		if !vb.Consistent() && !*flags.Force {
			return nil, errors.Errorf("version %s is below its minimum version %s, use --force to override",
				vb.VersionString(), vb.MinVersionString())
		}
		l.VersionBlock = vb.Encode()
	}
	size, staged, err := l.ProcessFile(data)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if size == 0 {
		return nil, errors.Errorf("no image data in the input")
	}
	h, err := image.DecodeHeader(staged)
	if err != nil {
		return nil, errors.Trace(err)
	}
	reportf("Image: %s", h)
	if l.HasStart {
		reportf("  start address: 0x%08x", l.Start)
	}
	return staged[:size], nil
}

func hexCmd() error {
	data, err := readInput(*flags.Input)
	if err != nil {
		return errors.Trace(err)
	}
	staged, err := stageHex(data, *flags.Sequence, *flags.Golden)
	if err != nil {
		return errors.Annotatef(err, "%s", *flags.Input)
	}
	err = writeOutput(*flags.Output, func(w io.Writer) error {
		_, err := w.Write(staged)
		return err
	})
	if err != nil {
		return errors.Trace(err)
	}
	reportf("Wrote %d bytes to %s", len(staged), *flags.Output)
	return nil
}

func mkhexCmd() error {
	data, err := readInput(*flags.Input)
	if err != nil {
		return errors.Trace(err)
	}
	var start *uint32
	if *flags.Start >= 0 {
		s := uint32(*flags.Start)
		start = &s
	}
	segs := []ihex.Segment{{Addr: *flags.Addr, Data: data}}
	if err := writeOutput(*flags.Output, func(w io.Writer) error {
		return ihex.FromBinary(w, segs, start)
	}); err != nil {
		return errors.Trace(err)
	}
	reportf("Wrote %d bytes @ 0x%08x to %s", len(data), *flags.Addr, *flags.Output)
	return nil
}
