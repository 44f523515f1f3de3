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
package spiflash

import (
	"fmt"

	"github.com/juju/errors"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

// Protection unit of parts with per-sector protection.
const protectSectorSize = 64 * 1024

// SimChip is an in-memory NOR flash part speaking the same wire protocol as
// the real ones. Programming can only clear bits, erasing sets them; commands
// that modify the array need the write enable latch. It stands in for the
// hardware in host tools and tests.
type SimChip struct {
	profile *Profile
	mem     []byte

	wel       bool
	busy      int
	faults    byte
	protected []bool
	fourByte  bool
	nvConfig  uint16
	vConfig   byte
	resetArm  bool

	// BusyPolls is how many status reads report busy after each program or
	// erase.
	BusyPolls int
	// Ticks, if set, is advanced by TickPerPoll on every status read so that
	// ready-polls observe time passing.
	Ticks       *TickCounter
	TickPerPoll uint32

	// PageProgramLens records the payload length of every accepted page
	// program command.
	PageProgramLens []int
	// Opcodes records every opcode received.
	Opcodes []byte
}

var _ spi.Conn = (*SimChip)(nil)

// NewSimChip returns an erased part. Parts with sector protection power up
// with every sector protected.
func NewSimChip(p *Profile) *SimChip {
	c := &SimChip{
		profile:  p,
		mem:      make([]byte, p.Capacity),
		nvConfig: 0xFFFF,
		vConfig:  0xFB,
	}
	for i := range c.mem {
		c.mem[i] = 0xFF
	}
	if p.SectorProtection {
		c.protected = make([]bool, p.Capacity/protectSectorSize)
		for i := range c.protected {
			c.protected[i] = true
		}
	}
	return c
}

// Load copies data into the array at offset 0, bypassing the protocol.
func (c *SimChip) Load(data []byte) error {
	if len(data) > len(c.mem) {
		return errors.Errorf("%d bytes do not fit into %s (%d bytes)", len(data), c.profile.Name, len(c.mem))
	}
	copy(c.mem, data)
	return nil
}

// Bytes returns the array contents. The slice aliases the chip memory.
func (c *SimChip) Bytes() []byte {
	return c.mem
}

// SetNVConfig sets the non-volatile configuration register, as if written in
// an earlier session.
func (c *SimChip) SetNVConfig(v uint16) {
	c.nvConfig = v
	c.fourByte = v&nvCfgAddrBytes == 0
}

// SetProtected changes protection of the sector covering addr.
func (c *SimChip) SetProtected(addr uint32, protected bool) {
	if c.protected != nil {
		c.protected[addr/protectSectorSize] = protected
	}
}

// Corrupt flips the bits in mask at addr.
func (c *SimChip) Corrupt(addr uint32, mask byte) {
	c.mem[addr] ^= mask
}

func (c *SimChip) String() string {
	return fmt.Sprintf("sim(%s)", c.profile.Name)
}

func (c *SimChip) Duplex() conn.Duplex {
	return conn.Full
}

func (c *SimChip) TxPackets(pkts []spi.Packet) error {
	for _, p := range pkts {
		if err := c.Tx(p.W, p.R); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (c *SimChip) Tx(w, r []byte) error {
	if len(w) == 0 {
		return errors.Errorf("empty transaction")
	}
	if len(r) != 0 && len(r) != len(w) {
		return errors.Errorf("full duplex transfer needs equal buffers (%d != %d)", len(w), len(r))
	}
	if r == nil {
		r = make([]byte, len(w))
	}
	op := w[0]
	c.Opcodes = append(c.Opcodes, op)
	if op != opReset {
		c.resetArm = false
	}
	switch op {
	case opWriteEnable:
		c.wel = true
	case opWriteDisable:
		c.wel = false
	case opReadStatus:
		fill(r[1:], c.status())
	case opReadFlagStatus:
		if !c.profile.FourByteMode {
			return c.unknown(op)
		}
		fill(r[1:], c.flagStatus())
	case opClearFlagStat:
		c.faults = 0
	case opReadID:
		copy(r[1:], c.profile.JEDEC[:])
	case opReadArray:
		addr, rest, err := c.addr(w[1:])
		if err != nil {
			return errors.Trace(err)
		}
		// Skip the dummy byte.
		for i := range r[len(w)-len(rest)+1:] {
			r[len(w)-len(rest)+1+i] = c.mem[(addr+uint32(i))%uint32(len(c.mem))]
		}
	case opPageProgram:
		addr, data, err := c.addr(w[1:])
		if err != nil {
			return errors.Trace(err)
		}
		c.program(addr, data)
	case opErase4K:
		return c.erase(w, SectorSize)
	case opErase32K:
		return c.erase(w, 32*1024)
	case opErase64K:
		return c.erase(w, 64*1024)
	case opChipErase:
		if c.takeWEL() {
			for _, p := range c.protected {
				if p {
					c.faults |= srAT25EPE
					return nil
				}
			}
			fill(c.mem, 0xFF)
			c.busy = c.BusyPolls
		}
	case opProtectSector, opUnprotectSector:
		if !c.profile.SectorProtection {
			return c.unknown(op)
		}
		addr, _, err := c.addr(w[1:])
		if err != nil {
			return errors.Trace(err)
		}
		if c.takeWEL() {
			c.protected[addr/protectSectorSize] = op == opProtectSector
		}
	case opWriteStatus:
		if len(w) < 2 {
			return errors.Errorf("write status without data")
		}
		if c.takeWEL() && c.protected != nil {
			switch w[1] & 0x3C {
			case 0x3C:
				fillBool(c.protected, true)
			case 0:
				fillBool(c.protected, false)
			}
		}
	case opReadNVConfig, opWriteNVConfig, opReadVConfig, opWriteVConfig, opEnter4Byte, opExit4Byte:
		if !c.profile.FourByteMode {
			return c.unknown(op)
		}
		c.extended(w, r)
	case opEnableReset:
		c.resetArm = true
	case opReset:
		if c.resetArm {
			c.wel = false
			c.busy = 0
			c.faults = 0
			c.fourByte = c.nvConfig&nvCfgAddrBytes == 0
		}
		c.resetArm = false
	default:
		return c.unknown(op)
	}
	return nil
}

func (c *SimChip) unknown(op byte) error {
	return errors.Errorf("%s: unsupported opcode 0x%02x", c.profile.Name, op)
}

func (c *SimChip) status() byte {
	s := c.faults
	if c.wel {
		s |= srWEL
	}
	if c.busy > 0 {
		c.busy--
		s |= srBusy
	}
	c.tick()
	return s
}

func (c *SimChip) flagStatus() byte {
	s := c.faults
	if c.fourByte {
		s |= fsr4Byte
	}
	if c.busy > 0 {
		c.busy--
	} else {
		s |= fsrReady
	}
	c.tick()
	return s
}

func (c *SimChip) tick() {
	if c.Ticks != nil {
		c.Ticks.Advance(c.TickPerPoll)
	}
}

func (c *SimChip) takeWEL() bool {
	wel := c.wel
	if wel {
		c.faults = 0
	}
	c.wel = false
	return wel
}

// addr decodes the address that follows an opcode and returns the remaining
// bytes.
func (c *SimChip) addr(b []byte) (uint32, []byte, error) {
	n := 3
	if c.fourByte {
		n = 4
	}
	if len(b) < n {
		return 0, nil, errors.Errorf("short address (%d bytes)", len(b))
	}
	var a uint32
	for _, v := range b[:n] {
		a = a<<8 | uint32(v)
	}
	if a >= uint32(len(c.mem)) {
		return 0, nil, errors.Errorf("address 0x%x beyond array", a)
	}
	return a, b[n:], nil
}

func (c *SimChip) isProtected(addr uint32) bool {
	return c.protected != nil && c.protected[addr/protectSectorSize]
}

func (c *SimChip) program(addr uint32, data []byte) {
	if !c.takeWEL() {
		return
	}
	if c.isProtected(addr) {
		c.faults |= c.protectionFault()
		return
	}
	c.faults = 0
	page := addr &^ (PageSize - 1)
	for i, b := range data {
		// The address wraps within the page.
		a := page + (addr+uint32(i)-page)%PageSize
		c.mem[a] &= b
	}
	c.PageProgramLens = append(c.PageProgramLens, len(data))
	c.busy = c.BusyPolls
}

func (c *SimChip) erase(w []byte, size uint32) error {
	addr, _, err := c.addr(w[1:])
	if err != nil {
		return errors.Trace(err)
	}
	if !c.takeWEL() {
		return nil
	}
	addr &^= size - 1
	if c.isProtected(addr) {
		c.faults |= c.protectionFault()
		return nil
	}
	c.faults = 0
	fill(c.mem[addr:addr+size], 0xFF)
	c.busy = c.BusyPolls
	return nil
}

func (c *SimChip) protectionFault() byte {
	if c.profile.FourByteMode {
		return fsrProtectErr
	}
	return srAT25EPE
}

func (c *SimChip) extended(w, r []byte) {
	switch w[0] {
	case opReadNVConfig:
		if len(r) >= 3 {
			r[1], r[2] = byte(c.nvConfig>>8), byte(c.nvConfig)
		}
	case opWriteNVConfig:
		if c.takeWEL() && len(w) >= 3 {
			c.nvConfig = uint16(w[1])<<8 | uint16(w[2])
		}
	case opReadVConfig:
		fill(r[1:], c.vConfig)
	case opWriteVConfig:
		if c.takeWEL() && len(w) >= 2 {
			c.vConfig = w[1]
		}
	case opEnter4Byte:
		if c.takeWEL() {
			c.fourByte = true
		}
	case opExit4Byte:
		if c.takeWEL() {
			c.fourByte = false
		}
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func fillBool(b []bool, v bool) {
	for i := range b {
		b[i] = v
	}
}
