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
package image

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/common/crc"
	"github.com/mongoose-os/sf2boot/common/spiflash"
)

var testLayout = Layout{
	LogBlocks:    1,
	ConfigBlocks: 1,
	SlotSize:     0x10000,
	Golden:       true,
	DualImage:    true,
}

// flakyFlash fails writes once failAfter of them went through.
type flakyFlash struct {
	Flash
	writes    int
	failAfter int
}

func (f *flakyFlash) Write(addr uint32, data []byte, eraseFirst bool) error {
	f.writes++
	if f.failAfter >= 0 && f.writes > f.failAfter {
		return errors.Annotatef(spiflash.WriteError, "injected")
	}
	return f.Flash.Write(addr, data, eraseFirst)
}

func newTestStore(t *testing.T, family string, l Layout) (*Store, *spiflash.SimChip) {
	f, err := spiflash.LookupFamily(family)
	if err != nil {
		t.Fatalf("%s", err)
	}
	sim := spiflash.NewSimChip(f.Profile())
	dev := spiflash.New(sim, f, spiflash.WithClock(&spiflash.TickCounter{}))
	if err := dev.Init(); err != nil {
		t.Fatalf("init: %s", err)
	}
	return NewStore(dev, &l), sim
}

// stage builds a staged image with one chunk of payload at dest.
func stage(seq uint16, dest uint32, payload []byte) []byte {
	ch := ChunkHeader{Base: dest &^ 0xFFFF, Offset: dest & 0xFFFF, Len: uint32(len(payload))}
	body := append(ch.Encode(), payload...)
	h := Header{Valid: Blank, Version: 1, Sequence: seq, NChunks: 1}
	h.SetName("test")
	h.Size = uint32(HeaderSize + len(body))
	h.CRC32 = crc.CRC32(body)
	h.Seal()
	return append(h.Encode(), body...)
}

func sealedHeader(valid uint32) *Header {
	h := &Header{Version: 1, Sequence: 7, Size: 1000, NChunks: 2, CRC32: 0x12345678}
	h.SetName("fw")
	h.Seal()
	h.Valid = valid
	return h
}

func TestCheckHeader(t *testing.T) {
	badCRC := sealedHeader(Valid)
	badCRC.CRC16 ^= 1
	for i, c := range []struct {
		h    *Header
		want HeaderStatus
	}{
		// 0
		{sealedHeader(Blank), StatusBlank},
		// 1
		{sealedHeader(Invalid), StatusInvalid},
		// 2
		{sealedHeader(0x12345678), StatusBadData},
		// 3
		{sealedHeader(Valid), StatusOK},
		// 4
		{badCRC, StatusBadCRC},
		// 5
		{&Header{Valid: Valid}, StatusBadCRC},
	} {
		if got := CheckHeader(c.h); got != c.want {
			t.Errorf("%d: got: %s, want: %s", i, got, c.want)
		}
	}
}

func TestCheckHeaderBitFlips(t *testing.T) {
	enc := sealedHeader(Valid).Encode()
	// The valid word itself is covered by TestCheckHeader.
	for i := 4; i < crc16Offset; i++ {
		for bit := uint(0); bit < 8; bit++ {
			b := append([]byte(nil), enc...)
			b[i] ^= 1 << bit
			h, _ := DecodeHeader(b)
			if got, want := CheckHeader(h), StatusBadCRC; got != want {
				t.Fatalf("byte %d bit %d: got: %s, want: %s", i, bit, got, want)
			}
		}
	}
}

func TestHeaderLayout(t *testing.T) {
	h := Header{Valid: Valid, Version: 0x0102, Sequence: 0x0304, Size: 0x11223344, NChunks: 3}
	h.SetName("abc")
	b := h.Encode()
	if got, want := len(b), HeaderSize; got != want {
		t.Fatalf("got: %d, want: %d", got, want)
	}
	for i, c := range []struct {
		off  int
		want []byte
	}{
		// 0
		{0, []byte{0x55, 0xAA, 0x55, 0xAA}},
		// 1
		{4, []byte{0x02, 0x01, 0x04, 0x03}},
		// 2
		{44, []byte{0x44, 0x33, 0x22, 0x11}},
		// 3
		{52, []byte{3, 0, 0, 0}},
		// 4
		{56, []byte{'a', 'b', 'c', 0}},
	} {
		if got := b[c.off : c.off+len(c.want)]; !bytes.Equal(got, c.want) {
			t.Errorf("%d: got: %x, want: %x", i, got, c.want)
		}
	}
	h2, err := DecodeHeader(b)
	if err != nil {
		t.Fatalf("%s", err)
	}
	if *h2 != h {
		t.Errorf("got: %s, want: %s", h2, &h)
	}
	if got, want := h2.NameString(), "abc"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}

// A header laid out field by field the way the bootloader firmware writes
// it must be accepted as is.
func TestCheckHeaderFirmwareLayout(t *testing.T) {
	b := make([]byte, 128)
	le := binary.LittleEndian
	le.PutUint32(b[0:], Valid)
	le.PutUint16(b[4:], 1)
	le.PutUint16(b[6:], 7)
	vb := VersionBlock{Version: [3]uint16{1, 2, 3}}
	vbb := vb.Encode()
	copy(b[12:44], vbb[:])
	le.PutUint32(b[44:], 0x1234)
	le.PutUint32(b[48:], 0xCAFEF00D)
	le.PutUint32(b[52:], 2)
	copy(b[56:120], "firmware")
	le.PutUint16(b[126:], crc.CRC16(b[:126]))

	if got, want := HeaderSize, len(b); got != want {
		t.Fatalf("got: %d, want: %d", got, want)
	}
	h, err := DecodeHeader(b)
	if err != nil {
		t.Fatalf("%s", err)
	}
	if got, want := CheckHeader(h), StatusOK; got != want {
		t.Errorf("got: %s, want: %s", got, want)
	}
	if h.Sequence != 7 || h.Size != 0x1234 || h.CRC32 != 0xCAFEF00D || h.NChunks != 2 || h.NameString() != "firmware" {
		t.Errorf("unexpected header %s", h)
	}
	v, err := DecodeVersionBlock(h.VBlock)
	if err != nil {
		t.Fatalf("%s", err)
	}
	if got, want := v.VersionString(), "1.2.3"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if !bytes.Equal(h.Encode(), b) {
		t.Errorf("re-encoded header differs")
	}
}

func table(g, s1, s2 HeaderStatus, seq1, seq2 uint16) SlotTable {
	var t SlotTable
	if g != StatusReadFail {
		t = append(t, SlotState{Slot: Golden, Header: &Header{}, Status: g})
	}
	t = append(t, SlotState{Slot: Image1, Header: &Header{Sequence: seq1}, Status: s1})
	if s2 != StatusReadFail {
		t = append(t, SlotState{Slot: Image2, Header: &Header{Sequence: seq2}, Status: s2})
	}
	return t
}

func TestSelectImage(t *testing.T) {
	// StatusReadFail in the golden or image-2 column stands for "not
	// configured" here.
	const none = StatusReadFail
	ok, blank, bad := StatusOK, StatusBlank, StatusBadCRC
	for i, c := range []struct {
		req       Mode
		tab       SlotTable
		want      Mode
		winner    Slot
		loser     Slot
		wantSeq   uint16
		wantReset bool
	}{
		// 0
		{Exec, table(none, ok, ok, 5, 6), Exec2, Image2, Image1, 6, false},
		// 1
		{Exec, table(none, ok, ok, 6, 5), Exec1, Image1, Image2, 6, false},
		// 2
		{Exec, table(none, ok, ok, 10, 10), Exec1, Image1, Image2, 10, false},
		// 3
		{Exec, table(none, ok, ok, 0, 65535), Exec1, Image1, Image2, 0, false},
		// 4
		{Exec, table(none, ok, ok, 65535, 0), Exec2, Image2, Image1, 0, false},
		// 5: desynchronized, the higher non-zero one wins.
		{Exec, table(none, ok, ok, 3, 9), Exec2, Image2, Image1, 9, false},
		// 6
		{Exec, table(none, ok, ok, 9, 3), Exec1, Image1, Image2, 9, false},
		// 7
		{Exec, table(none, ok, ok, 9, 0), Exec2, Image2, Image1, 0, false},
		// 8
		{Download, table(none, ok, ok, 5, 6), Download1, Image2, Image1, 6, false},
		// 9
		{Download, table(none, ok, bad, 5, 6), Download2, Image1, NoSlot, 5, false},
		// 10
		{Exec, table(none, blank, ok, 5, 6), Exec2, Image2, NoSlot, 6, false},
		// 11
		{Exec, table(none, blank, bad, 5, 6), Download1, NoSlot, NoSlot, 0, true},
		// 12
		{Download, table(none, blank, blank, 5, 6), Download1, NoSlot, NoSlot, 0, true},
		// 13
		{Exec, table(bad, ok, ok, 5, 6), DownloadGolden, NoSlot, NoSlot, 0, true},
		// 14
		{ExecGolden, table(ok, ok, ok, 5, 6), ExecGolden, Golden, NoSlot, 42, false},
		// 15
		{CopyGolden, table(ok, blank, blank, 5, 6), CopyGolden, Golden, NoSlot, 42, false},
		// 16
		{Exec, table(ok, ok, ok, 1, 2), Exec2, Image2, Image1, 2, false},
		// 17: single image.
		{Exec, table(none, ok, none, 7, 0), Exec1, Image1, NoSlot, 7, false},
		// 18
		{Download, table(none, ok, none, 7, 0), Download1, Image1, NoSlot, 7, false},
		// 19
		{Exec, table(none, bad, none, 7, 0), Download1, NoSlot, NoSlot, 0, true},
		// 20
		{Exec, table(ok, StatusInvalid, none, 7, 0), Download1, NoSlot, NoSlot, 0, true},
	} {
		seq := Sequence(42)
		got, d := SelectImage(c.req, c.tab, &seq)
		if got != c.want || d.Mode != c.want {
			t.Errorf("%d: got: %s, want: %s", i, got, c.want)
		}
		if d.Winner != c.winner || d.Loser != c.loser {
			t.Errorf("%d: got: winner %s loser %s, want: %s %s", i, d.Winner, d.Loser, c.winner, c.loser)
		}
		if uint16(seq) != c.wantSeq || d.SequenceReset != c.wantReset {
			t.Errorf("%d: got: seq %d reset %t, want: %d %t", i, seq, d.SequenceReset, c.wantSeq, c.wantReset)
		}
	}
}

func TestSequenceNextWraps(t *testing.T) {
	if got, want := Sequence(65535).Next(), uint16(0); got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
}

func TestWriteReadImage(t *testing.T) {
	for i, family := range []string{"w25q64fv", "at25df641", "n25q00aa", "s25fl128s"} {
		s, sim := newTestStore(t, family, Layout{SlotSize: 0x20000, Golden: true, DualImage: true})
		payload := bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 2500)
		img := stage(3, 0x100, payload)
		off := s.Layout().Offset(Image1)
		if err := s.WriteImage(off, img); err != nil {
			t.Fatalf("%d: write: %s", i, err)
		}
		st := s.CheckFlash().Get(Image1)
		if st.Status != StatusOK || st.Header.Sequence != 3 {
			t.Fatalf("%d: got: %s seq %d, want: ok seq 3", i, st.Status, st.Header.Sequence)
		}
		ram := NewRAM(ExecAliasOffset, 0x4000)
		h, err := s.ReadImage(off, ram)
		if err != nil {
			t.Fatalf("%d: read: %s", i, err)
		}
		if got, want := h.Size, uint32(len(img)); got != want {
			t.Errorf("%d: got: %d, want: %d", i, got, want)
		}
		if !bytes.Equal(ram.At(ExecAliasOffset+0x100, len(payload)), payload) {
			t.Errorf("%d: loaded data differs", i)
		}

		sim.Corrupt(off+HeaderSize+ChunkHeaderSize+5000, 0x01)
		if _, err := s.ReadImage(off, NewRAM(ExecAliasOffset, 0x4000)); errors.Cause(err) != ErrImageCRC {
			t.Errorf("%d: got: %v, want: %s", i, err, ErrImageCRC)
		}
	}
}

func TestReadImageFailures(t *testing.T) {
	s, _ := newTestStore(t, "w25q64fv", testLayout)
	off := s.Layout().Offset(Image2)
	// A blank slot must be rejected without trying to load 4GB.
	if _, err := s.ReadImage(off, NewHexTarget()); err != ErrImageCRC {
		t.Errorf("blank: got: %v, want: %s", err, ErrImageCRC)
	}
	if err := s.WriteImage(off, stage(1, 0x20001000, []byte{1, 2, 3})); err != nil {
		t.Fatalf("write: %s", err)
	}
	// Destination outside of the target.
	if _, err := s.ReadImage(off, NewRAM(0x30000000, 16)); err != ErrImageCRC {
		t.Errorf("load: got: %v, want: %s", err, ErrImageCRC)
	}
	ht := NewHexTarget()
	if _, err := s.ReadImage(off, ht); err != nil {
		t.Fatalf("read: %s", err)
	}
	if start, size := ht.Extent(); start != 0x20001000 || size != 3 {
		t.Errorf("got: 0x%x+%d, want: 0x20001000+3", start, size)
	}
}

func TestWriteImageCommitsLast(t *testing.T) {
	s, sim := newTestStore(t, "w25q64fv", testLayout)
	img := stage(1, 0, bytes.Repeat([]byte{0x5A}, 3*BufSize))
	off := s.Layout().Offset(Image1)

	ff := &flakyFlash{Flash: s.flash, failAfter: 4}
	s2 := NewStore(ff, s.Layout())
	if err := s2.WriteImage(off, img); spiflash.StatusOf(err) != spiflash.WriteError {
		t.Fatalf("got: %v, want: %s", err, spiflash.WriteError)
	}
	// All payload landed, but the commit did not.
	if !bytes.Equal(sim.Bytes()[off+4:off+uint32(len(img))], img[4:]) {
		t.Errorf("payload not written")
	}
	if got, want := s.CheckFlash().Get(Image1).Status, StatusBlank; got != want {
		t.Errorf("got: %s, want: %s", got, want)
	}

	if err := s.WriteImage(off, nil); err != nil {
		t.Errorf("empty write: %s", err)
	}
	big := make([]byte, testLayout.SlotSize+1)
	if err := s.WriteImage(off, big); spiflash.StatusOf(err) != spiflash.InvalidArguments {
		t.Errorf("got: %v, want: %s", err, spiflash.InvalidArguments)
	}
}

func TestRawReadRestamp(t *testing.T) {
	s, _ := newTestStore(t, "w25q64fv", testLayout)
	img := stage(0, 0x1000, []byte("golden payload"))
	goff := s.Layout().Offset(Golden)
	if _, err := s.RawReadImage(goff); spiflash.StatusOf(err) != spiflash.Unsuccess {
		t.Errorf("blank: got: %v, want: %s", err, spiflash.Unsuccess)
	}
	if err := s.WriteImage(goff, img); err != nil {
		t.Fatalf("write: %s", err)
	}
	raw, err := s.RawReadImage(goff)
	if err != nil {
		t.Fatalf("raw read: %s", err)
	}
	if !bytes.Equal(raw[4:], img[4:]) {
		t.Fatalf("raw copy differs")
	}
	if err := Restamp(raw, 1); err != nil {
		t.Fatalf("restamp: %s", err)
	}
	off1 := s.Layout().Offset(Image1)
	if err := s.WriteImage(off1, raw); err != nil {
		t.Fatalf("write: %s", err)
	}
	tab := s.CheckFlash()
	if st := tab.Get(Image1); st.Status != StatusOK || st.Header.Sequence != 1 {
		t.Errorf("got: %s seq %d, want: ok seq 1", st.Status, st.Header.Sequence)
	}
	if st := tab.Get(Golden); st.Status != StatusOK || st.Header.Sequence != 0 {
		t.Errorf("got: %s seq %d, want: ok seq 0", st.Status, st.Header.Sequence)
	}
	if _, err := s.ReadImage(off1, NewHexTarget()); err != nil {
		t.Errorf("read: %s", err)
	}
}

func TestInvalidate(t *testing.T) {
	s, _ := newTestStore(t, "w25q64fv", testLayout)
	off := s.Layout().Offset(Image2)
	if err := s.WriteImage(off, stage(2, 0, []byte{1})); err != nil {
		t.Fatalf("write: %s", err)
	}
	s.ApplyDecision(Decision{Loser: Image2, Winner: Image1})
	if got, want := s.CheckFlash().Get(Image2).Status, StatusInvalid; got != want {
		t.Errorf("got: %s, want: %s", got, want)
	}
	if got := s.InvalidateFailures(); got != 0 {
		t.Errorf("got: %d failures, want: 0", got)
	}

	s2 := NewStore(&flakyFlash{Flash: s.flash, failAfter: 0}, s.Layout())
	s2.InvalidateSlot(Image1)
	s2.ApplyDecision(Decision{Loser: Image1, Winner: Image2})
	s2.ApplyDecision(Decision{Loser: NoSlot, Winner: Image2})
	if got, want := s2.InvalidateFailures(), 2; got != want {
		t.Errorf("got: %d failures, want: %d", got, want)
	}
}

func TestInvalidateProtectedSector(t *testing.T) {
	s, sim := newTestStore(t, "at25df641", testLayout)
	off := s.Layout().Offset(Image2)
	if err := s.WriteImage(off, stage(3, 0, []byte{1, 2})); err != nil {
		t.Fatalf("write: %s", err)
	}
	// Sectors come back protected after a power cycle.
	sim.SetProtected(off, true)
	s.InvalidateSlot(Image2)
	if got, want := s.CheckFlash().Get(Image2).Status, StatusInvalid; got != want {
		t.Errorf("got: %s, want: %s", got, want)
	}
	if got := s.InvalidateFailures(); got != 0 {
		t.Errorf("got: %d failures, want: 0", got)
	}
}

func TestLayout(t *testing.T) {
	w25, _ := spiflash.LookupFamily("w25q64fv")
	s25, _ := spiflash.LookupFamily("s25fl128s")
	for i, c := range []struct {
		l       Layout
		p       *spiflash.Profile
		offsets []uint32
		size    uint32
		wantErr bool
	}{
		// 0
		{testLayout, w25.Profile(), []uint32{0x2000, 0x12000, 0x22000}, 0x10000, false},
		// 1: default slot size.
		{Layout{LogBlocks: 1, ConfigBlocks: 1, DualImage: true}, w25.Profile(), []uint32{0x2000, 0x401000}, 0x3FF000, false},
		// 2
		{Layout{FlashBase: 0x100000}, w25.Profile(), []uint32{0x100000}, 0x700000, false},
		// 3: reserved blocks misalign 64K slots.
		{Layout{LogBlocks: 1, DualImage: true}, s25.Profile(), nil, 0, true},
		// 4
		{Layout{SlotSize: 0x1800}, w25.Profile(), nil, 0, true},
		// 5
		{Layout{SlotSize: 0x800000, Golden: true}, w25.Profile(), nil, 0, true},
		// 6
		{Layout{SlotSize: 0x10000, Golden: true, DualImage: true}, s25.Profile(), []uint32{0, 0x10000, 0x20000}, 0x10000, false},
	} {
		l, err := c.l.Resolve(c.p)
		if c.wantErr {
			if err == nil {
				t.Errorf("%d: expected an error, got %s", i, l)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d: %s", i, err)
		}
		if l.SlotSize != c.size {
			t.Errorf("%d: got: 0x%x, want: 0x%x", i, l.SlotSize, c.size)
		}
		for j, s := range l.Slots() {
			if got, want := l.Offset(s), c.offsets[j]; got != want {
				t.Errorf("%d: %s got: 0x%x, want: 0x%x", i, s, got, want)
			}
		}
	}
}

func TestVersionBlock(t *testing.T) {
	v := VersionBlock{Flags: 1, Version: [3]uint16{1, 10, 2}, MinVersion: [3]uint16{1, 9, 0}}
	b := v.Encode()
	if got, want := string(b[2:8]), "SF2BLV"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	v2, err := DecodeVersionBlock(b)
	if err != nil {
		t.Fatalf("%s", err)
	}
	if *v2 != v {
		t.Errorf("got: %s, want: %s", v2, &v)
	}
	if !v2.Consistent() {
		t.Errorf("%s should be consistent", v2)
	}
	if got, want := binary.LittleEndian.Uint16(b[30:]), uint16(0x55AA); got != want {
		t.Errorf("got: 0x%04x, want: 0x%04x", got, want)
	}
	low := VersionBlock{Version: [3]uint16{1, 9, 7}, MinVersion: [3]uint16{1, 10, 0}}
	if low.Consistent() {
		t.Errorf("%s should not be consistent", &low)
	}
	b[30] = 0
	if _, err := DecodeVersionBlock(b); err == nil {
		t.Errorf("expected an error")
	}
	if _, err := DecodeVersionBlock([VersionBlockSize]byte{}); err == nil {
		t.Errorf("expected an error")
	}
	pv, err := ParseVersion("2.1")
	if err != nil || pv != [3]uint16{2, 1, 0} {
		t.Errorf("got: %v %v", pv, err)
	}
}
