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
package ihex

import (
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/common/crc"
	"github.com/mongoose-os/sf2boot/common/image"
)

// DefaultCapacity bounds the staged image size when the loader is not told
// otherwise.
const DefaultCapacity = 8 * 1024 * 1024

// Loader builds staged images.
type Loader struct {
	// Sequence is the sequence number of the newest image already on
	// flash. Images get the next one.
	Sequence image.Sequence
	// Golden images keep sequence number 0.
	Golden bool
	Name   string
	// VersionBlock is copied into the header as is.
	VersionBlock [image.VersionBlockSize]byte
	// Capacity is the largest staged image allowed, DefaultCapacity if 0.
	Capacity int

	// Start is the start address found in the stream, if any.
	Start    uint32
	HasStart bool
}

// staging tracks the image being built.
type staging struct {
	buf      []byte
	limit    int
	chunkPos int
	chunk    image.ChunkHeader
	nChunks  uint32
	expected uint32
}

func (s *staging) ensure(n int) error {
	if len(s.buf)+n > s.limit {
		return errors.Errorf("image exceeds %d bytes", s.limit)
	}
	return nil
}

func (s *staging) flushChunk() {
	s.chunk.Put(s.buf[s.chunkPos:])
}

// newChunk closes the current chunk and starts a new one after it.
func (s *staging) newChunk(base, offset uint32) error {
	if err := s.ensure(image.ChunkHeaderSize); err != nil {
		return errors.Trace(err)
	}
	s.flushChunk()
	s.chunkPos = len(s.buf)
	s.buf = append(s.buf, make([]byte, image.ChunkHeaderSize)...)
	s.chunk = image.ChunkHeader{Base: base, Offset: offset, Index: s.nChunks}
	s.nChunks++
	return nil
}

// ProcessFile decodes the Intel HEX text in data into a staged image. It
// returns the image size, header included, and the image. The size is 0 if
// the stream holds no data, ends without an EOF record or contains a record
// of unknown type. Malformed records are errors.
func (l *Loader) ProcessFile(data []byte) (int, []byte, error) {
	limit := l.Capacity
	if limit == 0 {
		limit = DefaultCapacity
	}
	if limit < image.HeaderSize+image.ChunkHeaderSize {
		return 0, nil, errors.Errorf("capacity %d is too small", limit)
	}
	s := &staging{
		buf:      make([]byte, image.HeaderSize+image.ChunkHeaderSize, limit),
		limit:    limit,
		chunkPos: image.HeaderSize,
		nChunks:  1,
	}
	hdr := &image.Header{Valid: image.Blank, Version: 1, CRC16: 0xFFFF, VBlock: l.VersionBlock}
	hdr.SetName(l.Name)
	l.HasStart = false

	pos := 0
	for pos < len(data) {
		n, r, err := DecodeRecord(data[pos:])
		if err != nil {
			if errors.Cause(err) == ErrUnknownRecordType {
				glog.Warningf("pos %d: %s, stopping", pos, err)
				return 0, nil, nil
			}
			return 0, nil, errors.Annotatef(err, "pos %d", pos)
		}
		pos += n
		switch r.Type {
		case Data:
			if uint32(r.Offset) != s.expected {
				if s.chunk.Len == 0 {
					s.chunk.Offset = uint32(r.Offset)
				} else if err := s.newChunk(s.chunk.Base, uint32(r.Offset)); err != nil {
					return 0, nil, errors.Annotatef(err, "pos %d", pos)
				}
				s.expected = uint32(r.Offset)
			}
			if err := s.ensure(len(r.Data)); err != nil {
				return 0, nil, errors.Annotatef(err, "pos %d", pos)
			}
			s.buf = append(s.buf, r.Data...)
			s.chunk.Len += uint32(len(r.Data))
			s.expected += uint32(len(r.Data))
		case EOF:
			return l.finish(s, hdr)
		case ExtSegAddr, ExtLinAddr:
			if s.chunk.Len != 0 {
				if err := s.newChunk(0, 0); err != nil {
					return 0, nil, errors.Annotatef(err, "pos %d", pos)
				}
			}
			if r.Type == ExtSegAddr {
				s.chunk.Base = uint32(r.Address) * 16
			} else {
				s.chunk.Base = uint32(r.Address) << 16
			}
			s.chunk.Offset = 0
			s.expected = 0
		case StartSegAddr, StartLinAddr:
			l.Start, l.HasStart = r.Start, true
		}
		// Skip the line terminator.
		for pos < len(data) && (data[pos] == '\r' || data[pos] == '\n') {
			pos++
		}
	}
	glog.Warningf("no EOF record in %d bytes", len(data))
	return 0, nil, nil
}

func (l *Loader) finish(s *staging, hdr *image.Header) (int, []byte, error) {
	if s.nChunks == 1 && s.chunk.Len == 0 {
		hdr.Valid = image.Invalid
		hdr.CRC16 = hdr.ComputeCRC16()
		hdr.Put(s.buf)
		glog.V(1).Infof("empty image")
		return 0, s.buf[:image.HeaderSize], nil
	}
	s.flushChunk()
	if !l.Golden {
		hdr.Sequence = l.Sequence.Next()
	}
	hdr.NChunks = s.nChunks
	hdr.Size = uint32(len(s.buf))
	hdr.CRC32 = crc.CRC32(s.buf[image.HeaderSize:])
	hdr.Seal()
	hdr.Put(s.buf)
	glog.V(1).Infof("staged image: %s", hdr)
	return len(s.buf), s.buf, nil
}
