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
	"io"

	"github.com/juju/errors"
	"github.com/marcinbor85/gohex"
)

const (
	// Destinations below this address are loaded through an alias window.
	ExecAliasBoundary uint32 = 0x20000000
	// ExecAliasOffset is added to such destinations.
	ExecAliasOffset uint32 = 0xA0000000
)

// ExecAddress maps an image destination address to the address the loader
// stores it at.
func ExecAddress(dest uint32) uint32 {
	if dest < ExecAliasBoundary {
		return dest + ExecAliasOffset
	}
	return dest
}

// Target receives the payload of an image being loaded.
type Target interface {
	Load(addr uint32, p []byte) error
}

// RAM is a flat memory window starting at Base.
type RAM struct {
	Base uint32
	Mem  []byte
}

func NewRAM(base uint32, size int) *RAM {
	return &RAM{Base: base, Mem: make([]byte, size)}
}

func (r *RAM) Load(addr uint32, p []byte) error {
	if addr < r.Base || uint64(addr-r.Base)+uint64(len(p)) > uint64(len(r.Mem)) {
		return errors.Errorf("0x%x+%d is outside of RAM 0x%x+%d", addr, len(p), r.Base, len(r.Mem))
	}
	copy(r.Mem[addr-r.Base:], p)
	return nil
}

// At returns n bytes at addr.
func (r *RAM) At(addr uint32, n int) []byte {
	return r.Mem[addr-r.Base : int(addr-r.Base)+n]
}

// HexTarget collects loaded data in a sparse memory that can be saved as
// Intel HEX or a flat binary.
type HexTarget struct {
	mem *gohex.Memory
}

func NewHexTarget() *HexTarget {
	return &HexTarget{mem: gohex.NewMemory()}
}

func (t *HexTarget) Load(addr uint32, p []byte) error {
	// gohex keeps the slice.
	b := make([]byte, len(p))
	copy(b, p)
	return errors.Annotatef(t.mem.AddBinary(addr, b), "load @ 0x%x", addr)
}

// Segments returns the contiguous runs of loaded data, sorted by address.
func (t *HexTarget) Segments() []gohex.DataSegment {
	return t.mem.GetDataSegments()
}

// Extent returns the lowest loaded address and the distance to the end of
// the highest loaded byte.
func (t *HexTarget) Extent() (uint32, uint32) {
	segs := t.mem.GetDataSegments()
	if len(segs) == 0 {
		return 0, 0
	}
	last := segs[len(segs)-1]
	return segs[0].Address, last.Address + uint32(len(last.Data)) - segs[0].Address
}

func (t *HexTarget) WriteHex(w io.Writer) error {
	return errors.Trace(t.mem.DumpIntelHex(w, 16))
}

// WriteBin writes the loaded range as one binary blob, gaps filled with
// 0xFF.
func (t *HexTarget) WriteBin(w io.Writer) error {
	start, size := t.Extent()
	_, err := w.Write(t.mem.ToBinary(start, size, 0xFF))
	return errors.Trace(err)
}
