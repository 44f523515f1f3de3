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
// Package ihex turns an Intel HEX stream into a staged image: the header and
// chunk layout that the image store writes to a slot.
package ihex

import (
	"fmt"

	"github.com/juju/errors"
)

type RecordType int

const (
	Data         RecordType = 0
	EOF          RecordType = 1
	ExtSegAddr   RecordType = 2
	StartSegAddr RecordType = 3
	ExtLinAddr   RecordType = 4
	StartLinAddr RecordType = 5
)

func (t RecordType) String() string {
	switch t {
	case Data:
		return "data"
	case EOF:
		return "eof"
	case ExtSegAddr:
		return "ext-seg-addr"
	case StartSegAddr:
		return "start-seg-addr"
	case ExtLinAddr:
		return "ext-lin-addr"
	case StartLinAddr:
		return "start-lin-addr"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ErrUnknownRecordType is the cause of the error DecodeRecord returns for
// record types it does not know.
var ErrUnknownRecordType = errors.New("unknown record type")

// Record is one decoded line.
type Record struct {
	Type   RecordType
	Count  int
	Offset uint16
	// Data holds the payload of a Data record.
	Data []byte
	// Address is the value of an extended address record.
	Address uint16
	// Start is the value of a start address record, high word first.
	Start uint32
}

// Chars before the payload: ':' count(2) offset(4) type(2).
const recordOverhead = 9

func hexDigit(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// DecodeHexByte decodes two hex digits at the start of p and adds the value
// to *sum.
func DecodeHexByte(p []byte, sum *byte) (byte, error) {
	if len(p) < 2 {
		return 0, errors.Errorf("need 2 hex digits, %d chars left", len(p))
	}
	hi, ok1 := hexDigit(p[0])
	lo, ok2 := hexDigit(p[1])
	if !ok1 || !ok2 {
		return 0, errors.Errorf("invalid hex byte %q", p[:2])
	}
	v := hi<<4 | lo
	*sum += v
	return v, nil
}

// DecodeHexWord decodes a big-endian 16-bit value from four hex digits.
func DecodeHexWord(p []byte, sum *byte) (uint16, error) {
	hi, err := DecodeHexByte(p, sum)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(p) < 4 {
		return 0, errors.Errorf("need 4 hex digits, %d chars left", len(p))
	}
	lo, err := DecodeHexByte(p[2:], sum)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// DecodeRecord decodes the record at the start of p and returns the number
// of chars it took, not counting the line terminator. Nothing is returned
// for a record that fails to decode or has a bad checksum.
func DecodeRecord(p []byte) (int, *Record, error) {
	if len(p) == 0 || p[0] != ':' {
		return 0, nil, errors.Errorf("record does not start with ':'")
	}
	var sum byte
	count, err := DecodeHexByte(p[1:], &sum)
	if err != nil {
		return 0, nil, errors.Annotatef(err, "count")
	}
	offset, err := DecodeHexWord(p[3:], &sum)
	if err != nil {
		return 0, nil, errors.Annotatef(err, "offset")
	}
	typ, err := DecodeHexByte(p[7:], &sum)
	if err != nil {
		return 0, nil, errors.Annotatef(err, "type")
	}
	r := &Record{Type: RecordType(typ), Count: int(count), Offset: offset}
	pos := recordOverhead
	if len(p)-pos < r.Count*2+2 {
		return 0, nil, errors.Errorf("%s record of %d bytes is truncated", r.Type, r.Count)
	}
	switch r.Type {
	case Data:
		r.Data = make([]byte, r.Count)
		for i := range r.Data {
			if r.Data[i], err = DecodeHexByte(p[pos:], &sum); err != nil {
				return 0, nil, errors.Annotatef(err, "data byte %d", i)
			}
			pos += 2
		}
	case EOF:
	case ExtSegAddr, ExtLinAddr:
		if r.Address, err = DecodeHexWord(p[pos:], &sum); err != nil {
			return 0, nil, errors.Annotatef(err, "%s", r.Type)
		}
		pos += 4
	case StartSegAddr, StartLinAddr:
		hi, err := DecodeHexWord(p[pos:], &sum)
		if err != nil {
			return 0, nil, errors.Annotatef(err, "%s", r.Type)
		}
		pos += 4
		lo, err := DecodeHexWord(p[pos:], &sum)
		if err != nil {
			return 0, nil, errors.Annotatef(err, "%s", r.Type)
		}
		pos += 4
		r.Start = uint32(hi)<<16 | uint32(lo)
	default:
		return 0, nil, errors.Annotatef(ErrUnknownRecordType, "%d", typ)
	}
	want := -sum
	got, err := DecodeHexByte(p[pos:], &sum)
	if err != nil {
		return 0, nil, errors.Annotatef(err, "checksum")
	}
	if got != want {
		return 0, nil, errors.Errorf("invalid checksum (want %02x, got %02x)", want, got)
	}
	return pos + 2, r, nil
}
