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
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/sf2boot/common/boot"
	"github.com/mongoose-os/sf2boot/common/flashfile"
	"github.com/mongoose-os/sf2boot/common/ihex"
	"github.com/mongoose-os/sf2boot/common/image"
	"github.com/mongoose-os/sf2boot/common/spiflash"
)

// setFlags sets command line flags for one command invocation and returns a
// function that puts them back to their defaults.
func setFlags(t *testing.T, kv map[string]string) func() {
	for k, v := range kv {
		if err := flag.Set(k, v); err != nil {
			t.Fatalf("--%s=%s: %s", k, v, err)
		}
	}
	return func() {
		for k := range kv {
			f := flag.Lookup(k)
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
}

func runCmd(t *testing.T, h handler, kv map[string]string) error {
	reset := setFlags(t, kv)
	defer reset()
	return h()
}

type workspace struct {
	dir    string
	config string
	flash  string
}

func newWorkspace(t *testing.T, config string) (*workspace, func()) {
	dir, err := ioutil.TempDir("", "sf2boot-cli")
	if err != nil {
		t.Fatal(err)
	}
	ws := &workspace{
		dir:    dir,
		config: filepath.Join(dir, "sf2boot.yml"),
		flash:  filepath.Join(dir, "flash.bin"),
	}
	if err := ioutil.WriteFile(ws.config, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
	return ws, func() { os.RemoveAll(dir) }
}

func (ws *workspace) path(name string) string {
	return filepath.Join(ws.dir, name)
}

func (ws *workspace) flags(kv map[string]string) map[string]string {
	kv["config"] = ws.config
	return kv
}

func (ws *workspace) slots(t *testing.T) image.SlotTable {
	fam, _ := spiflash.LookupFamily("w25q64fv")
	f, err := flashfile.Open(ws.flash, fam, false)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close(false)
	layout, err := (image.Layout{LogBlocks: 1, ConfigBlocks: 1, Golden: true, DualImage: true}).Resolve(fam.Profile())
	if err != nil {
		t.Fatal(err)
	}
	return image.NewStore(f.Device, layout).CheckFlash()
}

func writeHex(t *testing.T, name string, addr uint32, data []byte) {
	var buf bytes.Buffer
	if err := ihex.FromBinary(&buf, []ihex.Segment{{Addr: addr, Data: data}}, nil); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(name, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

const dualConfig = `
device: w25q64fv
layout: {log_blocks: 1, config_blocks: 1, golden: true, dual_image: true}
`

func TestCommands(t *testing.T) {
	ws, cleanup := newWorkspace(t, dualConfig)
	defer cleanup()
	data := payload(1000)
	writeHex(t, ws.path("fw.hex"), 0x1000, data)

	// hex
	if err := runCmd(t, hexCmd, ws.flags(map[string]string{
		"input": ws.path("fw.hex"), "output": ws.path("fw.img"),
		"name": "app", "fw-version": "1.2.3", "sequence": "4",
	})); err != nil {
		t.Fatal(err)
	}
	staged, err := ioutil.ReadFile(ws.path("fw.img"))
	if err != nil {
		t.Fatal(err)
	}
	h, err := image.DecodeHeader(staged)
	if err != nil {
		t.Fatal(err)
	}
	if h.Sequence != 5 || h.NameString() != "app" || int(h.Size) != len(staged) {
		t.Errorf("unexpected header %s", h)
	}

	// write
	if err := runCmd(t, writeCmd, ws.flags(map[string]string{
		"flash": ws.flash, "create": "true", "input": ws.path("fw.img"), "slot": "image-2",
	})); err != nil {
		t.Fatal(err)
	}
	st := ws.slots(t).Get(image.Image2)
	if !st.OK() || st.Header.Sequence != 5 {
		t.Errorf("got: %s, want: ok with seq 5", st.Status)
	}

	// info
	if err := runCmd(t, infoCmd, ws.flags(map[string]string{"flash": ws.flash})); err != nil {
		t.Fatal(err)
	}

	// read
	if err := runCmd(t, readCmd, ws.flags(map[string]string{
		"flash": ws.flash, "slot": "image-2", "output": ws.path("out.bin"),
	})); err != nil {
		t.Fatal(err)
	}
	got, err := ioutil.ReadFile(ws.path("out.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read back %d bytes, want %d", len(got), len(data))
	}

	// boot: golden is blank, so it is downloaded and copied to image-1.
	if err := runCmd(t, bootCmd, ws.flags(map[string]string{
		"flash": ws.flash, "transport": "file:" + ws.path("fw.hex"), "output": ws.path("boot.hex"),
	})); err != nil {
		t.Fatal(err)
	}
	slots := ws.slots(t)
	for i, c := range []struct {
		slot   image.Slot
		status image.HeaderStatus
		seq    uint16
	}{
		{image.Golden, image.StatusOK, 0},      // 0
		{image.Image1, image.StatusOK, 1},      // 1
		{image.Image2, image.StatusInvalid, 0}, // 2
	} {
		s := slots.Get(c.slot)
		if s.Status != c.status {
			t.Errorf("%d: %s: got: %s, want: %s", i, c.slot, s.Status, c.status)
			continue
		}
		if s.OK() && s.Header.Sequence != c.seq {
			t.Errorf("%d: %s: got: %d, want: %d", i, c.slot, s.Header.Sequence, c.seq)
		}
	}
	segs, err := ihex.Segments(mustRead(t, ws.path("boot.hex")))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].Addr != image.ExecAddress(0x1000) || !bytes.Equal(segs[0].Data, data) {
		t.Errorf("unexpected boot output %+v", segs)
	}

	// invalidate
	if err := runCmd(t, invalidateCmd, ws.flags(map[string]string{
		"flash": ws.flash, "slot": "image-1",
	})); err != nil {
		t.Fatal(err)
	}
	if s := ws.slots(t).Get(image.Image1); s.Status != image.StatusInvalid {
		t.Errorf("got: %s, want: %s", s.Status, image.StatusInvalid)
	}

	// erase
	if err := runCmd(t, eraseCmd, ws.flags(map[string]string{
		"flash": ws.flash, "op": "chip-erase", "force": "true",
	})); err != nil {
		t.Fatal(err)
	}
	for _, s := range ws.slots(t) {
		if s.Status != image.StatusBlank {
			t.Errorf("%s: got: %s, want: %s", s.Slot, s.Status, image.StatusBlank)
		}
	}
}

func mustRead(t *testing.T, name string) []byte {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestWriteHexUsesNewestSequence(t *testing.T) {
	ws, cleanup := newWorkspace(t, dualConfig)
	defer cleanup()
	writeHex(t, ws.path("fw.hex"), 0x2000, payload(100))

	for i, slot := range []string{"image-1", "image-2", "image-1"} {
		if err := runCmd(t, writeCmd, ws.flags(map[string]string{
			"flash": ws.flash, "create": "true", "input": ws.path("fw.hex"), "slot": slot,
		})); err != nil {
			t.Fatalf("%d: %s", i, err)
		}
	}
	slots := ws.slots(t)
	if got, want := slots.Get(image.Image1).Header.Sequence, uint16(3); got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
	if got, want := slots.Get(image.Image2).Header.Sequence, uint16(2); got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
}

func TestWriteHexSequenceWraps(t *testing.T) {
	ws, cleanup := newWorkspace(t, dualConfig)
	defer cleanup()
	writeHex(t, ws.path("fw.hex"), 0x2000, payload(100))

	for i, c := range []struct {
		slot    string
		seqFlag string
		want    uint16
	}{
		// 0
		{"image-1", "65534", 65535},
		// 1
		{"image-2", "65535", 0},
		// 2: image-2 is the newer one, so counting continues from 0
		{"image-1", "", 1},
	} {
		kv := map[string]string{
			"flash": ws.flash, "create": "true", "input": ws.path("fw.hex"), "slot": c.slot,
		}
		if c.seqFlag != "" {
			kv["sequence"] = c.seqFlag
		}
		if err := runCmd(t, writeCmd, ws.flags(kv)); err != nil {
			t.Fatalf("%d: %s", i, err)
		}
		slot, _ := image.ParseSlot(c.slot)
		if got := ws.slots(t).Get(slot).Header.Sequence; got != c.want {
			t.Errorf("%d: got: %d, want: %d", i, got, c.want)
		}
	}
	if got, want := sequenceBaseline(ws.slots(t)), uint16(1); got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
}

func TestSequenceBaseline(t *testing.T) {
	ok := func(s image.Slot, seq uint16) image.SlotState {
		return image.SlotState{Slot: s, Header: &image.Header{Sequence: seq}, Status: image.StatusOK}
	}
	blank := func(s image.Slot) image.SlotState {
		return image.SlotState{Slot: s, Status: image.StatusBlank}
	}
	for i, c := range []struct {
		t    image.SlotTable
		want uint16
	}{
		// 0
		{image.SlotTable{ok(image.Image1, 65535), ok(image.Image2, 0)}, 0},
		// 1
		{image.SlotTable{ok(image.Image1, 0), ok(image.Image2, 65535)}, 0},
		// 2
		{image.SlotTable{ok(image.Image1, 7), ok(image.Image2, 6)}, 7},
		// 3: a blank golden does not reset the count
		{image.SlotTable{blank(image.Golden), ok(image.Image1, 4), blank(image.Image2)}, 4},
		// 4
		{image.SlotTable{blank(image.Image1), blank(image.Image2)}, 0},
		// 5
		{image.SlotTable{ok(image.Image1, 9)}, 9},
	} {
		if got := sequenceBaseline(c.t); got != c.want {
			t.Errorf("%d: got: %d, want: %d", i, got, c.want)
		}
	}
}

func TestBootNoImage(t *testing.T) {
	ws, cleanup := newWorkspace(t, `
device: w25q64fv
layout: {log_blocks: 1, config_blocks: 1, golden: false, dual_image: false}
`)
	defer cleanup()
	err := runCmd(t, bootCmd, ws.flags(map[string]string{"flash": ws.flash, "create": "true"}))
	if errors.Cause(err) != boot.ErrNoBootableImage {
		t.Errorf("got: %v, want: %v", err, boot.ErrNoBootableImage)
	}
}

func TestCheckFlags(t *testing.T) {
	reset := setFlags(t, map[string]string{"flash": "x.bin"})
	defer reset()
	if err := checkFlags([]string{"flash"}); err != nil {
		t.Errorf("got: %v, want: nil", err)
	}
	err := checkFlags([]string{"flash", "input", "output"})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "2 error(s) occurred:"; !bytes.HasPrefix([]byte(got), []byte(want)) {
		t.Errorf("got: %q, want prefix: %q", got, want)
	}
}

func TestOutputFormat(t *testing.T) {
	for i, c := range []struct {
		name, format string
		want         string
		wantErr      bool
	}{
		{"fw.hex", "", "hex", false},    // 0
		{"fw.BIN", "", "bin", false},    // 1
		{"-", "", "hex", false},         // 2
		{"fw.bin", "hex", "hex", false}, // 3
		{"fw.hex", "elf", "", true},     // 4
	} {
		reset := setFlags(t, map[string]string{"format": c.format})
		got, err := outputFormat(c.name)
		reset()
		if (err != nil) != c.wantErr || got != c.want {
			t.Errorf("%d: got: %q %v, want: %q", i, got, err, c.want)
		}
	}
}

func TestLooksLikeHex(t *testing.T) {
	for i, c := range []struct {
		data string
		want bool
	}{
		{":00000001FF", true},       // 0
		{"\r\n:00000001FF", true},   // 1
		{"\xff\xff\xff\xff", false}, // 2
		{"", false},                 // 3
	} {
		if got := looksLikeHex([]byte(c.data)); got != c.want {
			t.Errorf("%d: got: %t, want: %t", i, got, c.want)
		}
	}
}
