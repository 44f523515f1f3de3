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
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/common/crc"
	"github.com/mongoose-os/sf2boot/common/spiflash"
)

// Images move between flash and memory in pieces of this size.
const BufSize = 4096

// ErrImageCRC is returned by ReadImage when the loaded image does not match
// its checksum, including when it could not be read in full.
var ErrImageCRC = errors.New("image CRC mismatch")

// Flash is the part of spiflash.Device the store needs.
type Flash interface {
	Read(addr uint32, buf []byte) error
	Write(addr uint32, data []byte, eraseFirst bool) error
	EraseBlock(addr uint32) error
	Profile() *spiflash.Profile
}

// controller is implemented by flash devices that accept raw operations.
type controller interface {
	Control(op spiflash.Op, param uint32) (uint32, error)
}

// Store reads and writes images in the slots of a layout.
type Store struct {
	flash  Flash
	layout *Layout

	invalidateFailures int
}

func NewStore(flash Flash, layout *Layout) *Store {
	return &Store{flash: flash, layout: layout}
}

func (s *Store) Layout() *Layout {
	return s.layout
}

// InvalidateFailures returns how many best-effort invalidations have failed.
func (s *Store) InvalidateFailures() int {
	return s.invalidateFailures
}

// ReadHeader reads and decodes the header at offset.
func (s *Store) ReadHeader(offset uint32) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if err := s.flash.Read(offset, buf); err != nil {
		return nil, errors.Annotatef(err, "failed to read header @ 0x%x", offset)
	}
	return DecodeHeader(buf)
}

// CheckFlash classifies the header of every configured slot.
func (s *Store) CheckFlash() SlotTable {
	var t SlotTable
	for _, slot := range s.layout.Slots() {
		st := SlotState{Slot: slot, Offset: s.layout.Offset(slot)}
		h, err := s.ReadHeader(st.Offset)
		if err != nil {
			glog.Warningf("%s: %s", slot, err)
			st.Status = StatusReadFail
		} else {
			st.Header = h
			st.Status = CheckHeader(h)
		}
		glog.V(1).Infof("%s @ 0x%x: %s", slot, st.Offset, st.Status)
		t = append(t, st)
	}
	return t
}

// WriteImage erases enough blocks at offset to hold the staged image, writes
// it and then commits it by writing the Valid word over the blank one in the
// staged header. Nothing is committed if any step fails.
func (s *Store) WriteImage(offset uint32, staging []byte) error {
	size := uint32(len(staging))
	if size == 0 {
		return nil
	}
	if size > s.layout.SlotSize {
		return errors.Annotatef(spiflash.InvalidArguments,
			"image size %d exceeds slot size %d", size, s.layout.SlotSize)
	}
	gran := s.flash.Profile().Granularity
	nBlocks := (size + gran - 1) / gran
	glog.V(1).Infof("writing %d bytes @ 0x%x, erasing %d blocks", size, offset, nBlocks)
	for i := uint32(0); i < nBlocks; i++ {
		if err := s.flash.EraseBlock(offset + i*gran); err != nil {
			return errors.Annotatef(err, "failed to erase block @ 0x%x", offset+i*gran)
		}
	}
	for off := uint32(0); off < size; off += BufSize {
		end := off + BufSize
		if end > size {
			end = size
		}
		if err := s.flash.Write(offset+off, staging[off:end], false); err != nil {
			return errors.Annotatef(err, "failed to write @ 0x%x", offset+off)
		}
		glog.V(2).Infof("  %d/%d", end, size)
	}
	if err := s.writeValid(offset, Valid); err != nil {
		return errors.Annotatef(err, "failed to commit image @ 0x%x", offset)
	}
	return nil
}

func (s *Store) writeValid(offset uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return errors.Trace(s.flash.Write(offset, b[:], false))
}

// Invalidate overwrites the valid word at offset with Invalid. On parts with
// per-sector protection the 64K unit holding the header is unprotected
// first, since it comes up protected after a power cycle.
func (s *Store) Invalidate(offset uint32) error {
	if err := s.unprotect(offset); err != nil {
		return errors.Annotatef(err, "failed to unprotect 0x%x", offset)
	}
	return errors.Trace(s.writeValid(offset, Invalid))
}

func (s *Store) unprotect(offset uint32) error {
	p := s.flash.Profile()
	if !p.SectorProtection || !p.Supports(spiflash.SectorUnprotect) {
		return nil
	}
	c, ok := s.flash.(controller)
	if !ok {
		return nil
	}
	_, err := c.Control(spiflash.SectorUnprotect, offset)
	return errors.Trace(err)
}

// InvalidateSlot demotes slot on a best-effort basis: a failure is counted
// and logged but not returned.
func (s *Store) InvalidateSlot(slot Slot) {
	if !s.layout.Has(slot) {
		return
	}
	offset := s.layout.Offset(slot)
	if err := s.Invalidate(offset); err != nil {
		s.invalidateFailures++
		glog.Warningf("failed to invalidate %s @ 0x%x (%d failures so far): %s",
			slot, offset, s.invalidateFailures, err)
		return
	}
	glog.Infof("invalidated %s @ 0x%x", slot, offset)
}

// ApplyDecision demotes the losing slot of d, if any.
func (s *Store) ApplyDecision(d Decision) {
	if d.Loser != NoSlot {
		s.InvalidateSlot(d.Loser)
	}
}

// ReadImage loads the image at offset into t, chunk by chunk, checking the
// CRC32 of chunk headers and payload against the one in the header. Chunk
// destinations are mapped with ExecAddress. Any read or load failure is
// reported as ErrImageCRC.
func (s *Store) ReadImage(offset uint32, t Target) (*Header, error) {
	h, err := s.ReadHeader(offset)
	if err != nil {
		glog.Warningf("%s", err)
		return nil, ErrImageCRC
	}
	limit := uint64(offset) + uint64(s.layout.SlotSize)
	if hl := uint64(offset) + uint64(h.Size); hl < limit {
		limit = hl
	}
	sum, err := s.loadChunks(h, offset+HeaderSize, limit, t)
	if err != nil {
		glog.Warningf("image @ 0x%x: %s", offset, err)
		sum = ^h.CRC32
	}
	if sum != h.CRC32 {
		glog.V(1).Infof("image @ 0x%x: crc32 0x%08x, want 0x%08x", offset, sum, h.CRC32)
		return h, ErrImageCRC
	}
	glog.V(1).Infof("loaded image @ 0x%x: %s", offset, h)
	return h, nil
}

func (s *Store) loadChunks(h *Header, src uint32, limit uint64, t Target) (uint32, error) {
	sum := crc.Seed32
	chb := make([]byte, ChunkHeaderSize)
	buf := make([]byte, BufSize)
	for i := uint32(0); i < h.NChunks; i++ {
		if uint64(src)+ChunkHeaderSize > limit {
			return 0, errors.Errorf("chunk %d header @ 0x%x is past the image end", i, src)
		}
		if err := s.flash.Read(src, chb); err != nil {
			return 0, errors.Annotatef(err, "chunk %d header", i)
		}
		ch, _ := DecodeChunkHeader(chb)
		sum = crc.Update32(sum, chb)
		src += ChunkHeaderSize
		if uint64(src)+uint64(ch.Len) > limit {
			return 0, errors.Errorf("chunk %s runs past the image end", ch)
		}
		dst := ExecAddress(ch.Dest())
		glog.V(2).Infof("chunk %s -> 0x%08x", ch, dst)
		for left := ch.Len; left > 0; {
			n := left
			if n > BufSize {
				n = BufSize
			}
			if err := s.flash.Read(src, buf[:n]); err != nil {
				return 0, errors.Annotatef(err, "chunk %d data @ 0x%x", ch.Index, src)
			}
			sum = crc.Update32(sum, buf[:n])
			if err := t.Load(dst, buf[:n]); err != nil {
				return 0, errors.Annotatef(err, "chunk %d", ch.Index)
			}
			src += n
			dst += n
			left -= n
		}
	}
	return sum, nil
}

// RawReadImage returns the image at offset byte for byte, header included.
// The header must be good.
func (s *Store) RawReadImage(offset uint32) ([]byte, error) {
	h, err := s.ReadHeader(offset)
	if err != nil {
		return nil, errors.Annotatef(spiflash.Unsuccess, "%s", err)
	}
	if st := CheckHeader(h); st != StatusOK {
		return nil, errors.Annotatef(spiflash.Unsuccess, "image @ 0x%x is %s", offset, st)
	}
	if h.Size < HeaderSize || h.Size > s.layout.SlotSize {
		return nil, errors.Annotatef(spiflash.Unsuccess, "image @ 0x%x has bad size %d", offset, h.Size)
	}
	img := make([]byte, h.Size)
	for off := uint32(0); off < h.Size; off += BufSize {
		end := off + BufSize
		if end > h.Size {
			end = h.Size
		}
		if err := s.flash.Read(offset+off, img[off:end]); err != nil {
			return nil, errors.Annotatef(err, "failed to read @ 0x%x", offset+off)
		}
	}
	return img, nil
}
