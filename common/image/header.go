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
// Package image implements the on-flash image format: a header sealed by a
// CRC16, followed by chunks of payload each introduced by a chunk header.
// It also knows where the image slots live and which one should boot.
package image

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/common/crc"
)

// Values of the header valid word.
const (
	Blank   uint32 = 0xFFFFFFFF
	Valid   uint32 = 0xAA55AA55
	Invalid uint32 = 0x00000000
)

const (
	HeaderSize       = 128
	ChunkHeaderSize  = 16
	VersionBlockSize = 32
	NameSize         = 64

	// Offset of the header CRC16, which covers everything before it.
	crc16Offset = 126
)

// Header is the image header as stored at the start of a slot. All fields
// are little-endian on flash.
type Header struct {
	Valid    uint32
	Version  uint16
	Sequence uint16
	Flags    uint32
	// VBlock is opaque to the boot path, see VersionBlock.
	VBlock   [VersionBlockSize]byte
	Size     uint32
	CRC32    uint32
	NChunks  uint32
	Name     [NameSize]byte
	Reserved [6]byte
	CRC16    uint16
}

// Encode returns the HeaderSize bytes of h.
func (h *Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	h.Put(b)
	return b
}

// Put stores h into the first HeaderSize bytes of b.
func (h *Header) Put(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], h.Valid)
	le.PutUint16(b[4:], h.Version)
	le.PutUint16(b[6:], h.Sequence)
	le.PutUint32(b[8:], h.Flags)
	copy(b[12:44], h.VBlock[:])
	le.PutUint32(b[44:], h.Size)
	le.PutUint32(b[48:], h.CRC32)
	le.PutUint32(b[52:], h.NChunks)
	copy(b[56:120], h.Name[:])
	copy(b[120:crc16Offset], h.Reserved[:])
	le.PutUint16(b[crc16Offset:], h.CRC16)
}

// DecodeHeader parses the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, errors.Errorf("header needs %d bytes, got %d", HeaderSize, len(b))
	}
	le := binary.LittleEndian
	h := &Header{
		Valid:    le.Uint32(b[0:]),
		Version:  le.Uint16(b[4:]),
		Sequence: le.Uint16(b[6:]),
		Flags:    le.Uint32(b[8:]),
		Size:     le.Uint32(b[44:]),
		CRC32:    le.Uint32(b[48:]),
		NChunks:  le.Uint32(b[52:]),
		CRC16:    le.Uint16(b[crc16Offset:]),
	}
	copy(h.VBlock[:], b[12:44])
	copy(h.Name[:], b[56:120])
	copy(h.Reserved[:], b[120:crc16Offset])
	return h, nil
}

// ComputeCRC16 returns the CRC16 of the header bytes preceding the crc16
// field, as they are now.
func (h *Header) ComputeCRC16() uint16 {
	return crc.CRC16(h.Encode()[:crc16Offset])
}

// Seal computes the header CRC with the valid word set to Valid, then puts
// the valid word back to Blank. A header written this way only becomes
// acceptable once the Valid word is committed on top of it.
func (h *Header) Seal() {
	h.Valid = Valid
	h.CRC16 = h.ComputeCRC16()
	h.Valid = Blank
}

func (h *Header) NameString() string {
	if i := bytes.IndexByte(h.Name[:], 0); i >= 0 {
		return string(h.Name[:i])
	}
	return string(h.Name[:])
}

// SetName stores s, truncated to NameSize bytes, NUL padded.
func (h *Header) SetName(s string) {
	h.Name = [NameSize]byte{}
	copy(h.Name[:], s)
}

func (h *Header) String() string {
	return fmt.Sprintf("valid=0x%08x seq=%d size=%d chunks=%d crc32=0x%08x crc16=0x%04x name=%q",
		h.Valid, h.Sequence, h.Size, h.NChunks, h.CRC32, h.CRC16, h.NameString())
}

// HeaderStatus is the verdict on a slot header.
type HeaderStatus int

const (
	StatusBlank HeaderStatus = iota
	StatusInvalid
	StatusBadCRC
	StatusBadData
	StatusReadFail
	StatusOK
)

func (s HeaderStatus) String() string {
	switch s {
	case StatusBlank:
		return "blank"
	case StatusInvalid:
		return "invalid"
	case StatusBadCRC:
		return "bad-crc"
	case StatusBadData:
		return "bad-data"
	case StatusReadFail:
		return "read-fail"
	case StatusOK:
		return "ok"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// CheckHeader classifies a header by its valid word. A Valid header is OK
// only if its CRC16 matches.
func CheckHeader(h *Header) HeaderStatus {
	switch h.Valid {
	case Blank:
		return StatusBlank
	case Invalid:
		return StatusInvalid
	case Valid:
		if h.CRC16 != h.ComputeCRC16() {
			return StatusBadCRC
		}
		return StatusOK
	}
	return StatusBadData
}

// Restamp changes the sequence number of the staged image in b and reseals
// its header.
func Restamp(b []byte, seq uint16) error {
	h, err := DecodeHeader(b)
	if err != nil {
		return errors.Trace(err)
	}
	h.Sequence = seq
	h.Seal()
	h.Put(b)
	return nil
}

// ChunkHeader introduces a run of payload bytes destined for Base+Offset.
type ChunkHeader struct {
	Base   uint32
	Offset uint32
	Len    uint32
	Index  uint32
}

// Dest is the linear address of the first payload byte.
func (c *ChunkHeader) Dest() uint32 {
	return c.Base + c.Offset
}

func (c *ChunkHeader) Encode() []byte {
	b := make([]byte, ChunkHeaderSize)
	c.Put(b)
	return b
}

// Put stores c into the first ChunkHeaderSize bytes of b.
func (c *ChunkHeader) Put(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], c.Base)
	le.PutUint32(b[4:], c.Offset)
	le.PutUint32(b[8:], c.Len)
	le.PutUint32(b[12:], c.Index)
}

func DecodeChunkHeader(b []byte) (*ChunkHeader, error) {
	if len(b) < ChunkHeaderSize {
		return nil, errors.Errorf("chunk header needs %d bytes, got %d", ChunkHeaderSize, len(b))
	}
	le := binary.LittleEndian
	return &ChunkHeader{
		Base:   le.Uint32(b[0:]),
		Offset: le.Uint32(b[4:]),
		Len:    le.Uint32(b[8:]),
		Index:  le.Uint32(b[12:]),
	}, nil
}

func (c *ChunkHeader) String() string {
	return fmt.Sprintf("#%d 0x%08x+0x%x len %d", c.Index, c.Base, c.Offset, c.Len)
}
