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
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/sf2boot/cli/flags"
	"github.com/mongoose-os/sf2boot/cli/ourutil"
	"github.com/mongoose-os/sf2boot/common/image"
	"github.com/mongoose-os/sf2boot/common/spiflash"
)

var statusColors = map[image.HeaderStatus]color.Attribute{
	image.StatusOK:       color.FgGreen,
	image.StatusBlank:    color.FgYellow,
	image.StatusInvalid:  color.FgYellow,
	image.StatusBadCRC:   color.FgRed,
	image.StatusBadData:  color.FgRed,
	image.StatusReadFail: color.FgRed,
}

// sequenceBaseline returns the sequence number the next image is counted
// from: that of the image the selector would boot, golden aside, or 0 if
// there is none.
func sequenceBaseline(t image.SlotTable) uint16 {
	var images image.SlotTable
	for _, s := range t {
		if s.Slot != image.Golden {
			images = append(images, s)
		}
	}
	var seq image.Sequence
	image.SelectImage(image.Exec, images, &seq)
	return uint16(seq)
}

func versionOf(h *image.Header) *image.VersionBlock {
	vb, err := image.DecodeVersionBlock(h.VBlock)
	if err != nil {
		glog.V(2).Infof("no version block: %s", err)
		return nil
	}
	return vb
}

func infoCmd() (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	f, store, err := openFlash(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeFlash(f, false, &err)

	layout := store.Layout()
	fmt.Printf("%s: %s, %d byte slots\n", f.Path, f.Device, layout.SlotSize)
	t := store.CheckFlash()
	printSlots(os.Stdout, t)

	var seq image.Sequence
	mode, d := image.SelectImage(image.Exec, t, &seq)
	fmt.Printf("\nNext boot: %s (%s)\n", mode, d)
	return nil
}

func printSlots(out io.Writer, t image.SlotTable) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SLOT\tOFFSET\tSTATUS\tSEQ\tSIZE\tCHUNKS\tVERSION\tNAME\n")
	for _, s := range t {
		status := color.New(statusColors[s.Status]).Sprint(s.Status)
		if !s.OK() {
			fmt.Fprintf(w, "%s\t0x%08x\t%s\t\t\t\t\t\n", s.Slot, s.Offset, status)
			continue
		}
		h := s.Header
		ver := "-"
		if vb := versionOf(h); vb != nil {
			ver = vb.VersionString()
			if !vb.Consistent() {
				ver += color.New(color.FgRed).Sprintf(" (< min %s)", vb.MinVersionString())
			}
		}
		fmt.Fprintf(w, "%s\t0x%08x\t%s\t%d\t%d\t%d\t%s\t%s\n",
			s.Slot, s.Offset, status, h.Sequence, h.Size, h.NChunks, ver, h.NameString())
	}
	w.Flush()
}

func writeCmd() (err error) {
	slot, err := flags.ImageSlot()
	if err != nil {
		return errors.Trace(err)
	}
	data, err := readInput(*flags.Input)
	if err != nil {
		return errors.Trace(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	f, store, err := openFlash(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeFlash(f, true, &err)
	if !store.Layout().Has(slot) {
		return errors.Errorf("%s is not configured", slot)
	}

	staged := data
	if looksLikeHex(data) {
		seq := *flags.Sequence
		if !flag.CommandLine.Changed("sequence") {
			seq = sequenceBaseline(store.CheckFlash())
		}
		staged, err = stageHex(data, seq, slot == image.Golden)
		if err != nil {
			return errors.Annotatef(err, "%s", *flags.Input)
		}
	} else {
		h, err := image.DecodeHeader(staged)
		if err != nil {
			return errors.Annotatef(err, "%s", *flags.Input)
		}
		if h.Valid != image.Blank || int(h.Size) != len(staged) {
			return errors.Errorf("%s is not a staged image (%s)", *flags.Input, h)
		}
	}

	offset := store.Layout().Offset(slot)
	reportf("Writing %d bytes to %s @ 0x%x...", len(staged), slot, offset)
	if err := store.WriteImage(offset, staged); err != nil {
		return errors.Trace(err)
	}
	h, err := store.ReadImage(offset, image.NewHexTarget())
	if err != nil {
		return errors.Annotatef(err, "verification failed")
	}
	reportf("Wrote %s: %s", slot, h)
	return nil
}

func readCmd() (err error) {
	slot, err := flags.ImageSlot()
	if err != nil {
		return errors.Trace(err)
	}
	format, err := outputFormat(*flags.Output)
	if err != nil {
		return errors.Trace(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	f, store, err := openFlash(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeFlash(f, false, &err)
	if !store.Layout().Has(slot) {
		return errors.Errorf("%s is not configured", slot)
	}

	t := image.NewHexTarget()
	h, err := store.ReadImage(store.Layout().Offset(slot), t)
	if err != nil {
		return errors.Annotatef(err, "%s", slot)
	}
	if err := saveTarget(t, *flags.Output, format); err != nil {
		return errors.Trace(err)
	}
	reportf("%s: %s", slot, h)
	return nil
}

// saveTarget writes what was loaded into t as Intel HEX or a flat binary.
func saveTarget(t *image.HexTarget, name, format string) error {
	start, size := t.Extent()
	err := writeOutput(name, func(w io.Writer) error {
		if format == "bin" {
			return t.WriteBin(w)
		}
		return t.WriteHex(w)
	})
	if err != nil {
		return errors.Trace(err)
	}
	reportf("Saved 0x%08x-0x%08x (%d segments) to %s", start, start+size, len(t.Segments()), name)
	return nil
}

func invalidateCmd() (err error) {
	slot, err := flags.ImageSlot()
	if err != nil {
		return errors.Trace(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	f, store, err := openFlash(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeFlash(f, true, &err)
	if !store.Layout().Has(slot) {
		return errors.Errorf("%s is not configured", slot)
	}
	if err := store.Invalidate(store.Layout().Offset(slot)); err != nil {
		return errors.Annotatef(err, "%s", slot)
	}
	reportf("Invalidated %s", slot)
	return nil
}

func eraseCmd() (err error) {
	op, err := spiflash.ParseOp(*flags.EraseOp)
	if err != nil {
		return errors.Trace(err)
	}
	switch op {
	case spiflash.Erase4K, spiflash.Erase32K, spiflash.Erase64K, spiflash.ChipErase:
	default:
		return errors.Errorf("%s is not an erase operation", op)
	}
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	f, _, err := openFlash(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeFlash(f, true, &err)

	p := f.Device.Profile()
	if op == spiflash.ChipErase {
		if !ourutil.Confirm(fmt.Sprintf("Erase all of %s?", f.Path), *flags.Force) {
			return errors.Errorf("aborted")
		}
		if p.Supports(spiflash.GlobalUnprotect) {
			if _, err := f.Device.Control(spiflash.GlobalUnprotect, 0); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if _, err := f.Device.Control(op, *flags.Addr); err != nil {
		return errors.Trace(err)
	}
	if op == spiflash.ChipErase {
		reportf("Erased %s (%d bytes)", p.Name, p.Capacity)
	} else {
		reportf("%s @ 0x%x done", op, *flags.Addr)
	}
	return nil
}
