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
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const (
	PageSize   = 256
	SectorSize = 4096

	blockMask4K  = 0xFFFFF000
	blockMask32K = 0xFFFF8000
	blockMask64K = 0xFFFF0000
)

// Opcodes shared by all supported parts.
const (
	opReadArray    = 0x0B
	opReadID       = 0x9F
	opWriteEnable  = 0x06
	opWriteDisable = 0x04
	opPageProgram  = 0x02
	opWriteStatus  = 0x01
	opChipErase    = 0x60
	opErase4K      = 0x20
	opErase32K     = 0x52
	opErase64K     = 0xD8
	opReadStatus   = 0x05
	opEnableReset  = 0x66
	opReset        = 0x99

	opProtectSector   = 0x36
	opUnprotectSector = 0x39

	opReadNVConfig   = 0xB5
	opWriteNVConfig  = 0xB1
	opReadVConfig    = 0x85
	opWriteVConfig   = 0x81
	opEnter4Byte     = 0xB7
	opExit4Byte      = 0xE9
	opReadFlagStatus = 0x70
	opClearFlagStat  = 0x50
)

const (
	srBusy = 0x01
	srWEL  = 0x02

	// AT25DF641 erase/program error.
	srAT25EPE = 0x20
	// S25FL128S erase and program error.
	srS25EErr = 0x20
	srS25PErr = 0x40

	fsrReady      = 0x80
	fsrEraseErr   = 0x20
	fsrProgramErr = 0x10
	fsrProtectErr = 0x02
	fsr4Byte      = 0x01

	nvCfgAddrBytes  = 0x0001
	vCfgDummyClocks = 0xF0
)

// Timeouts holds per-operation ready-poll limits in milliseconds.
type Timeouts struct {
	PageWrite uint32 `yaml:"page_write"`
	Erase4K   uint32 `yaml:"erase_4k"`
	Erase32K  uint32 `yaml:"erase_32k"`
	Erase64K  uint32 `yaml:"erase_64k"`
	ChipErase uint32 `yaml:"chip_erase"`
	Misc      uint32 `yaml:"misc"`
}

// Profile is the data describing one flash part.
type Profile struct {
	Name     string
	JEDEC    [3]byte
	Capacity uint32
	// Granularity is the erase block used for image slots.
	Granularity uint32
	// AddrBytes is the address width sent with addressed commands.
	AddrBytes int
	// FourByteMode means addressed commands must be bracketed by
	// enter/exit 4-byte mode unless the part boots in native 4-byte mode.
	FourByteMode bool
	// SectorProtection means a sector has to be unprotected before it can
	// be erased or programmed.
	SectorProtection bool
	Timeouts         Timeouts
	Ops              []Op
}

func (p *Profile) Supports(op Op) bool {
	for _, o := range p.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// EraseOp returns the Control operation that erases one granularity block.
func (p *Profile) EraseOp() Op {
	switch p.Granularity {
	case 64 * 1024:
		return Erase64K
	case 32 * 1024:
		return Erase32K
	default:
		return Erase4K
	}
}

// Family is the behavior that differs between parts: how readiness is read
// and what has to happen when the part is brought up.
type Family interface {
	Profile() *Profile
	// StatusOpcode is the register read by the ready-poll.
	StatusOpcode() byte
	// Ready reports whether a status value read with StatusOpcode means the
	// part is idle.
	Ready(status byte) bool
	// Fault maps error bits in a final status value to a Status.
	Fault(status byte) Status
	// FinishPoll runs once after every ready-poll.
	FinishPoll(d *Device) error
	// Setup runs from Device.Init.
	Setup(d *Device) error
}

var commonOps = []Op{GetStatus, Erase4K, Erase32K, Erase64K, ChipErase, ReadDeviceID, Reset}

// busyBitFamily is the classic status register family: bit 0 set while an
// operation is in progress.
type busyBitFamily struct {
	profile *Profile
	fault   func(status byte) Status
}

func (f *busyBitFamily) Profile() *Profile { return f.profile }
func (f *busyBitFamily) StatusOpcode() byte { return opReadStatus }
func (f *busyBitFamily) Ready(status byte) bool { return status&srBusy == 0 }
func (f *busyBitFamily) FinishPoll(d *Device) error { return nil }
func (f *busyBitFamily) Setup(d *Device) error { return nil }

func (f *busyBitFamily) Fault(status byte) Status {
	if f.fault == nil {
		return Success
	}
	return f.fault(status)
}

// flagStatusFamily polls the flag status register, whose ready bit is set
// when idle, and clears it after each poll. Parts larger than 16MB live here
// and need the 4-byte addressing dance.
type flagStatusFamily struct {
	profile *Profile
}

func (f *flagStatusFamily) Profile() *Profile { return f.profile }
func (f *flagStatusFamily) StatusOpcode() byte { return opReadFlagStatus }
func (f *flagStatusFamily) Ready(status byte) bool { return status&fsrReady != 0 }

func (f *flagStatusFamily) Fault(status byte) Status {
	switch {
	case status&fsrProtectErr != 0:
		return ProtectionError
	case status&(fsrProgramErr|fsrEraseErr) != 0:
		return WriteError
	}
	return Success
}

func (f *flagStatusFamily) FinishPoll(d *Device) error {
	return errors.Trace(d.tx([]byte{opClearFlagStat}, 0, nil))
}

func (f *flagStatusFamily) Setup(d *Device) error {
	nv, err := d.Control(ReadNVConfig, 0)
	if err != nil {
		return errors.Annotatef(err, "reading NV config")
	}
	d.native4Byte = nv&nvCfgAddrBytes == 0
	glog.V(2).Infof("%s: NV config 0x%04x, native 4-byte addressing: %t", f.profile.Name, nv, d.native4Byte)

	// One dummy byte on fast reads is enough for clocks up to 90MHz.
	v, err := d.Control(ReadVConfig, 0)
	if err != nil {
		return errors.Annotatef(err, "reading V config")
	}
	v = (v &^ vCfgDummyClocks) | 0x80
	if _, err := d.Control(WriteVConfig, v); err != nil {
		return errors.Annotatef(err, "writing V config")
	}
	return nil
}

// Timeouts are the datasheet maximums plus 10ms, rounded up to 10ms.
var families = map[string]Family{
	"at25df641": &busyBitFamily{
		profile: &Profile{
			Name:             "AT25DF641",
			JEDEC:            [3]byte{0x1F, 0x48, 0x00},
			Capacity:         8 * 1024 * 1024,
			Granularity:      SectorSize,
			AddrBytes:        3,
			SectorProtection: true,
			Timeouts: Timeouts{
				PageWrite: 30, Erase4K: 220, Erase32K: 620, Erase64K: 970,
				ChipErase: 112000, Misc: 50,
			},
			Ops: append([]Op{SectorUnprotect, SectorProtect, GlobalUnprotect, GlobalProtect}, commonOps...),
		},
		fault: func(status byte) Status {
			if status&srAT25EPE != 0 {
				return ProtectionError
			}
			return Success
		},
	},
	"w25q64fv": &busyBitFamily{
		profile: &Profile{
			Name:        "W25Q64FV",
			JEDEC:       [3]byte{0xEF, 0x40, 0x17},
			Capacity:    8 * 1024 * 1024,
			Granularity: SectorSize,
			AddrBytes:   3,
			Timeouts: Timeouts{
				PageWrite: 30, Erase4K: 420, Erase32K: 1620, Erase64K: 2020,
				ChipErase: 100000, Misc: 50,
			},
			Ops: commonOps,
		},
	},
	"n25q00aa": &flagStatusFamily{
		profile: &Profile{
			Name:         "N25Q00AA",
			JEDEC:        [3]byte{0x20, 0xBA, 0x21},
			Capacity:     128 * 1024 * 1024,
			Granularity:  SectorSize,
			AddrBytes:    4,
			FourByteMode: true,
			Timeouts: Timeouts{
				PageWrite: 30, Erase4K: 820, Erase64K: 3020,
				// Per die; the part has four.
				ChipErase: 480000, Misc: 50,
			},
			Ops: []Op{
				GetStatus, Erase4K, Erase64K, ChipErase, ReadDeviceID, Reset,
				ReadNVConfig, WriteNVConfig, ReadVConfig, WriteVConfig,
			},
		},
	},
	"s25fl128s": &busyBitFamily{
		profile: &Profile{
			Name:        "S25FL128S",
			JEDEC:       [3]byte{0x01, 0x20, 0x18},
			Capacity:    16 * 1024 * 1024,
			Granularity: 64 * 1024,
			AddrBytes:   3,
			Timeouts: Timeouts{
				PageWrite: 30, Erase64K: 1320, ChipErase: 130000, Misc: 50,
			},
			Ops: []Op{GetStatus, Erase64K, ChipErase, ReadDeviceID, Reset},
		},
		fault: func(status byte) Status {
			if status&(srS25EErr|srS25PErr) != 0 {
				return WriteError
			}
			return Success
		},
	},
}

// LookupFamily returns the family registered under name (case-insensitive).
func LookupFamily(name string) (Family, error) {
	f, ok := families[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unknown flash device %q, known: %s", name, strings.Join(FamilyNames(), ", "))
	}
	return f, nil
}

func FamilyNames() []string {
	var names []string
	for n := range families {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
