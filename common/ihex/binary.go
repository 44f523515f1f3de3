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
	"bytes"
	"io"

	"github.com/juju/errors"
	"github.com/marcinbor85/gohex"
)

// Segment is a contiguous run of data at Addr.
type Segment struct {
	Addr uint32
	Data []byte
}

// FromBinary writes segs to w as an Intel HEX stream, with a start address
// record if start is not nil.
func FromBinary(w io.Writer, segs []Segment, start *uint32) error {
	mem := gohex.NewMemory()
	for _, s := range segs {
		if err := mem.AddBinary(s.Addr, s.Data); err != nil {
			return errors.Annotatef(err, "segment @ 0x%x", s.Addr)
		}
	}
	if start != nil {
		mem.SetStartAddress(*start)
	}
	return errors.Trace(mem.DumpIntelHex(w, 16))
}

// Segments parses an Intel HEX stream without staging it.
func Segments(data []byte) ([]Segment, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(data)); err != nil {
		return nil, errors.Trace(err)
	}
	var segs []Segment
	for _, ds := range mem.GetDataSegments() {
		segs = append(segs, Segment{Addr: ds.Address, Data: ds.Data})
	}
	return segs, nil
}
