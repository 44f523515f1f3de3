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
	"bytes"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"periph.io/x/conn/v3/spi"
)

// 4-byte preamble polls allow for a slow preceding operation.
const preambleExtraTimeout = 2000

// Largest payload moved in one read transaction.
const maxReadChunk = 4096

// DeviceID is what ReadDeviceID returns.
type DeviceID struct {
	Manufacturer byte
	Device       uint16
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%02x %04x", id.Manufacturer, id.Device)
}

// Device is a serial NOR flash part behind an SPI connection. It is not safe
// for concurrent use.
type Device struct {
	conn     spi.Conn
	family   Family
	profile  *Profile
	timeouts Timeouts
	clock    Clock
	verify   bool

	native4Byte bool
	inited      bool
}

type Option func(d *Device)

// WithClock sets the ready-poll time source. The default is the host clock.
func WithClock(c Clock) Option {
	return func(d *Device) { d.clock = c }
}

// WithWriteVerify makes Write read back every page it programs.
func WithWriteVerify(verify bool) Option {
	return func(d *Device) { d.verify = verify }
}

// WithTimeouts overrides the non-zero fields of the profile timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(d *Device) {
		override := func(dst *uint32, v uint32) {
			if v != 0 {
				*dst = v
			}
		}
		override(&d.timeouts.PageWrite, t.PageWrite)
		override(&d.timeouts.Erase4K, t.Erase4K)
		override(&d.timeouts.Erase32K, t.Erase32K)
		override(&d.timeouts.Erase64K, t.Erase64K)
		override(&d.timeouts.ChipErase, t.ChipErase)
		override(&d.timeouts.Misc, t.Misc)
	}
}

func New(conn spi.Conn, family Family, opts ...Option) *Device {
	d := &Device{
		conn:     conn,
		family:   family,
		profile:  family.Profile(),
		timeouts: family.Profile().Timeouts,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = NewSystemClock()
	}
	return d
}

func (d *Device) Profile() *Profile {
	return d.profile
}

func (d *Device) String() string {
	return fmt.Sprintf("%s on %s", d.profile.Name, d.conn)
}

// Init brings the part up. Calling it again is a no-op.
func (d *Device) Init() error {
	if d.inited {
		return nil
	}
	id, err := d.ReadID()
	if err != nil {
		return errors.Annotatef(err, "%s: failed to read device id", d.profile.Name)
	}
	want := DeviceID{
		Manufacturer: d.profile.JEDEC[0],
		Device:       uint16(d.profile.JEDEC[1])<<8 | uint16(d.profile.JEDEC[2]),
	}
	if id != want {
		glog.Warningf("%s: unexpected device id %s (want %s)", d.profile.Name, id, want)
	}
	if err := d.family.Setup(d); err != nil {
		return errors.Annotatef(err, "%s: setup failed", d.profile.Name)
	}
	d.inited = true
	glog.V(1).Infof("%s: initialized, id %s", d, id)
	return nil
}

// Deinit releases the connection if it can be closed. Calling it again is a
// no-op.
func (d *Device) Deinit() error {
	if !d.inited {
		return nil
	}
	d.inited = false
	if c, ok := d.conn.(io.Closer); ok {
		return errors.Trace(c.Close())
	}
	return nil
}

// tx runs one chip-select transaction: w is clocked out, followed by n filler
// bytes whose responses are copied to out.
func (d *Device) tx(w []byte, n int, out []byte) error {
	buf := make([]byte, len(w)+n)
	copy(buf, w)
	r := make([]byte, len(buf))
	if err := d.conn.Tx(buf, r); err != nil {
		return errors.Annotatef(Unsuccess, "spi transfer (op 0x%02x): %s", w[0], err)
	}
	if out != nil {
		copy(out, r[len(w):])
	}
	return nil
}

func (d *Device) addrCmd(op byte, addr uint32) []byte {
	if d.profile.AddrBytes == 4 {
		return []byte{op, byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
	}
	return []byte{op, byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

func (d *Device) checkRange(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(d.profile.Capacity) {
		return errors.Annotatef(InvalidAddress, "0x%x+%d is beyond %s capacity 0x%x", addr, n, d.profile.Name, d.profile.Capacity)
	}
	return nil
}

// waitReady polls the status register until the part is idle or timeout ms
// have passed. There is no way to abort it early. The last status read is
// returned.
func (d *Device) waitReady(timeout uint32) (byte, error) {
	var status [1]byte
	mark := d.clock.Mark()
	polls := 0
	ready := false
	for {
		if err := d.tx([]byte{d.family.StatusOpcode()}, 1, status[:]); err != nil {
			return 0, errors.Trace(err)
		}
		polls++
		if d.family.Ready(status[0]) {
			ready = true
			break
		}
		if d.clock.Elapsed(mark) >= timeout {
			break
		}
	}
	if err := d.family.FinishPoll(d); err != nil {
		return 0, errors.Trace(err)
	}
	if !ready {
		glog.Warningf("%s: not ready after %d ms (%d polls)", d.profile.Name, timeout, polls)
		return status[0], errors.Annotatef(Timeout, "waiting %d ms", timeout)
	}
	glog.V(3).Infof("%s: ready after %d polls", d.profile.Name, polls)
	return status[0], nil
}

// waitIdle is waitReady for callers that only care about readiness.
func (d *Device) waitIdle(timeout uint32) error {
	_, err := d.waitReady(timeout)
	return errors.Trace(err)
}

// waitDone waits for a program or erase to finish and checks the error bits
// it left behind.
func (d *Device) waitDone(timeout uint32) error {
	status, err := d.waitReady(timeout)
	if err != nil {
		return errors.Trace(err)
	}
	if s := d.family.Fault(status); s != Success {
		return errors.Annotatef(s, "status 0x%02x", status)
	}
	return nil
}

// writeEnable sets the write enable latch and waits for it to settle.
func (d *Device) writeEnable() error {
	if err := d.tx([]byte{opWriteEnable}, 0, nil); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.waitIdle(d.timeouts.Misc))
}

// set4ByteMode brackets addressed commands on parts that are not natively in
// 4-byte mode.
func (d *Device) set4ByteMode(enable bool) error {
	if !d.profile.FourByteMode || d.native4Byte {
		return nil
	}
	if err := d.waitIdle(d.timeouts.Misc + preambleExtraTimeout); err != nil {
		return errors.Trace(err)
	}
	if err := d.writeEnable(); err != nil {
		return errors.Trace(err)
	}
	op := byte(opExit4Byte)
	if enable {
		op = opEnter4Byte
	}
	if err := d.tx([]byte{op}, 0, nil); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.waitIdle(d.timeouts.Misc))
}

// addressed runs f inside the 4-byte addressing preamble and postamble.
func (d *Device) addressed(f func() error) error {
	if err := d.set4ByteMode(true); err != nil {
		return errors.Trace(err)
	}
	if err := f(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.set4ByteMode(false))
}

// simpleCmd is the sequence shared by most control operations: wait for the
// previous operation, set write enable, issue cmd and wait up to timeout.
func (d *Device) simpleCmd(cmd []byte, timeout uint32) error {
	if err := d.waitIdle(d.timeouts.Misc); err != nil {
		return errors.Trace(err)
	}
	if err := d.writeEnable(); err != nil {
		return errors.Trace(err)
	}
	if err := d.tx(cmd, 0, nil); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.waitDone(timeout))
}

func (d *Device) erase(op byte, addr, mask, timeout uint32) error {
	addr &= mask
	if err := d.checkRange(addr, 1); err != nil {
		return errors.Trace(err)
	}
	if err := d.waitIdle(d.timeouts.Misc); err != nil {
		return errors.Trace(err)
	}
	return d.addressed(func() error {
		if err := d.writeEnable(); err != nil {
			return errors.Trace(err)
		}
		if err := d.tx(d.addrCmd(op, addr), 0, nil); err != nil {
			return errors.Trace(err)
		}
		glog.V(3).Infof("%s: erase 0x%02x @ 0x%x", d.profile.Name, op, addr)
		return errors.Trace(d.waitDone(timeout))
	})
}

// Control performs a single non-data operation. param is the address for
// sector and erase operations and the new value for register writes; the
// returned value is the register or id read, zero otherwise. Operations the
// part does not have fail with InvalidArguments.
func (d *Device) Control(op Op, param uint32) (uint32, error) {
	if !d.profile.Supports(op) {
		return 0, errors.Annotatef(InvalidArguments, "%s does not support %s", d.profile.Name, op)
	}
	t := d.timeouts
	var err error
	switch op {
	case GetStatus:
		var status [1]byte
		err = d.tx([]byte{opReadStatus}, 1, status[:])
		return uint32(status[0]), errors.Trace(err)
	case ReadDeviceID:
		var id [3]byte
		if err = d.waitIdle(t.Misc); err == nil {
			err = d.tx([]byte{opReadID}, len(id), id[:])
		}
		return uint32(id[0])<<16 | uint32(id[1])<<8 | uint32(id[2]), errors.Trace(err)
	case SectorProtect, SectorUnprotect:
		code := byte(opUnprotectSector)
		if op == SectorProtect {
			code = opProtectSector
		}
		if err = d.checkRange(param, 1); err == nil {
			err = d.simpleCmd(d.addrCmd(code, param), t.Misc)
		}
	case GlobalProtect:
		err = d.simpleCmd([]byte{opWriteStatus, 0x3C}, t.Misc)
	case GlobalUnprotect:
		err = d.simpleCmd([]byte{opWriteStatus, 0x00}, t.Misc)
	case Erase4K:
		err = d.erase(opErase4K, param, blockMask4K, t.Erase4K)
	case Erase32K:
		err = d.erase(opErase32K, param, blockMask32K, t.Erase32K)
	case Erase64K:
		err = d.erase(opErase64K, param, blockMask64K, t.Erase64K)
	case ChipErase:
		err = d.simpleCmd([]byte{opChipErase}, t.ChipErase)
	case ReadNVConfig:
		var v [2]byte
		if err = d.waitIdle(t.Misc); err == nil {
			err = d.tx([]byte{opReadNVConfig}, len(v), v[:])
		}
		return uint32(v[0])<<8 | uint32(v[1]), errors.Trace(err)
	case WriteNVConfig:
		err = d.simpleCmd([]byte{opWriteNVConfig, byte(param >> 8), byte(param)}, t.Misc)
	case ReadVConfig:
		var v [1]byte
		if err = d.waitIdle(t.Misc); err == nil {
			err = d.tx([]byte{opReadVConfig}, len(v), v[:])
		}
		return uint32(v[0]), errors.Trace(err)
	case WriteVConfig:
		err = d.simpleCmd([]byte{opWriteVConfig, byte(param)}, t.Misc)
	case Reset:
		if err = d.tx([]byte{opEnableReset}, 0, nil); err == nil {
			if err = d.tx([]byte{opReset}, 0, nil); err == nil {
				err = d.waitIdle(t.Misc)
			}
		}
	}
	if err != nil {
		return 0, errors.Annotatef(err, "%s %s", d.profile.Name, op)
	}
	return 0, nil
}

// ReadID returns the JEDEC manufacturer and device id.
func (d *Device) ReadID() (DeviceID, error) {
	v, err := d.Control(ReadDeviceID, 0)
	if err != nil {
		return DeviceID{}, errors.Trace(err)
	}
	return DeviceID{Manufacturer: byte(v >> 16), Device: uint16(v)}, nil
}

// EraseBlock erases the granularity block covering addr, unprotecting it
// first on parts that need it. Protection is not restored afterwards.
func (d *Device) EraseBlock(addr uint32) error {
	if d.profile.SectorProtection {
		if _, err := d.Control(SectorUnprotect, addr); err != nil {
			return errors.Trace(err)
		}
	}
	_, err := d.Control(d.profile.EraseOp(), addr)
	return errors.Trace(err)
}

// Read fills buf with the contents of flash starting at addr.
func (d *Device) Read(addr uint32, buf []byte) error {
	if len(buf) == 0 {
		return errors.Annotatef(InvalidArguments, "empty read")
	}
	if err := d.checkRange(addr, len(buf)); err != nil {
		return errors.Trace(err)
	}
	if err := d.waitIdle(d.timeouts.Misc); err != nil {
		return errors.Trace(err)
	}
	return d.addressed(func() error {
		for off := 0; off < len(buf); off += maxReadChunk {
			end := off + maxReadChunk
			if end > len(buf) {
				end = len(buf)
			}
			// One dummy byte follows the address.
			cmd := append(d.addrCmd(opReadArray, addr+uint32(off)), 0)
			if err := d.tx(cmd, end-off, buf[off:end]); err != nil {
				return errors.Annotatef(err, "read @ 0x%x", addr+uint32(off))
			}
		}
		return nil
	})
}

// Write programs data at addr. A program command never crosses a page
// boundary: the first one runs up to the next boundary, the rest are whole
// pages and the last one takes what is left. With eraseFirst, every erase
// block is erased just before its first byte is programmed.
func (d *Device) Write(addr uint32, data []byte, eraseFirst bool) error {
	if len(data) == 0 {
		return errors.Annotatef(InvalidArguments, "empty write")
	}
	if err := d.checkRange(addr, len(data)); err != nil {
		return errors.Trace(err)
	}
	if err := d.waitIdle(d.timeouts.Misc); err != nil {
		return errors.Trace(err)
	}
	gmask := ^(d.profile.Granularity - 1)
	// Guaranteed to differ from the block of addr.
	curBlock := (addr + d.profile.Granularity) & gmask
	target := addr
	for idx := 0; idx < len(data); {
		if eraseFirst && target&gmask != curBlock {
			curBlock = target & gmask
			if err := d.EraseBlock(curBlock); err != nil {
				return errors.Annotatef(err, "erase before write @ 0x%x", curBlock)
			}
		}
		n := PageSize - int(target&(PageSize-1))
		if left := len(data) - idx; left < n {
			n = left
		}
		chunk := data[idx : idx+n]
		if err := d.programPage(target, chunk); err != nil {
			return errors.Annotatef(err, "program @ 0x%x", target)
		}
		if d.verify {
			if err := d.verifyPage(target, chunk); err != nil {
				return errors.Trace(err)
			}
		}
		target += uint32(n)
		idx += n
	}
	return nil
}

func (d *Device) programPage(addr uint32, chunk []byte) error {
	return d.addressed(func() error {
		if err := d.writeEnable(); err != nil {
			return errors.Trace(err)
		}
		cmd := append(d.addrCmd(opPageProgram, addr), chunk...)
		if err := d.tx(cmd, 0, nil); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(d.waitDone(d.timeouts.PageWrite))
	})
}

func (d *Device) verifyPage(addr uint32, chunk []byte) error {
	got := make([]byte, len(chunk))
	if err := d.Read(addr, got); err != nil {
		return errors.Annotatef(err, "verify read @ 0x%x", addr)
	}
	if !bytes.Equal(got, chunk) {
		return errors.Annotatef(VerifyFail, "@ 0x%x", addr)
	}
	return nil
}
