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
	"fmt"

	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/common/multierror"
	"github.com/mongoose-os/sf2boot/common/spiflash"
)

// Reserved log and config regions are counted in blocks of this size.
const ReservedBlockSize = 4096

// Slot identifies one image slot.
type Slot int

const (
	NoSlot Slot = iota - 1
	Golden
	Image1
	Image2
)

func (s Slot) String() string {
	switch s {
	case NoSlot:
		return "none"
	case Golden:
		return "golden"
	case Image1:
		return "image-1"
	case Image2:
		return "image-2"
	}
	return fmt.Sprintf("slot(%d)", int(s))
}

// ParseSlot is the inverse of Slot.String; "1" and "2" are accepted too.
func ParseSlot(s string) (Slot, error) {
	switch s {
	case "golden", "g":
		return Golden, nil
	case "image-1", "1":
		return Image1, nil
	case "image-2", "2":
		return Image2, nil
	}
	return NoSlot, errors.Errorf("unknown slot %q", s)
}

// Layout describes where slots are:
//
//   [log blocks][config blocks][golden?][image-1][image-2?]
//
// starting at FlashBase.
type Layout struct {
	FlashBase    uint32 `yaml:"flash_base"`
	LogBlocks    uint32 `yaml:"log_blocks"`
	ConfigBlocks uint32 `yaml:"config_blocks"`
	// SlotSize of 0 splits what is left of the device evenly.
	SlotSize  uint32 `yaml:"slot_size"`
	Golden    bool   `yaml:"golden"`
	DualImage bool   `yaml:"dual_image"`
}

// Slots returns the configured slots in flash order.
func (l *Layout) Slots() []Slot {
	var ss []Slot
	if l.Golden {
		ss = append(ss, Golden)
	}
	ss = append(ss, Image1)
	if l.DualImage {
		ss = append(ss, Image2)
	}
	return ss
}

// Has reports whether s is configured.
func (l *Layout) Has(s Slot) bool {
	switch s {
	case Golden:
		return l.Golden
	case Image1:
		return true
	case Image2:
		return l.DualImage
	}
	return false
}

func (l *Layout) slotsStart() uint32 {
	return l.FlashBase + (l.LogBlocks+l.ConfigBlocks)*ReservedBlockSize
}

// Offset returns the flash address of slot s.
func (l *Layout) Offset(s Slot) uint32 {
	off := l.slotsStart()
	for _, ss := range l.Slots() {
		if ss == s {
			return off
		}
		off += l.SlotSize
	}
	panic(fmt.Sprintf("slot %s is not configured", s))
}

// Resolve fills in the default slot size for the device described by p and
// validates the result.
func (l Layout) Resolve(p *spiflash.Profile) (*Layout, error) {
	if l.SlotSize == 0 {
		start := l.slotsStart()
		if start < p.Capacity {
			l.SlotSize = (p.Capacity - start) / uint32(len(l.Slots()))
			l.SlotSize &^= p.Granularity - 1
		}
	}
	if err := l.Validate(p); err != nil {
		return nil, errors.Trace(err)
	}
	return &l, nil
}

// Validate checks that slots are aligned to the erase granularity of p and
// fit into the device.
func (l *Layout) Validate(p *spiflash.Profile) error {
	var err error
	if l.SlotSize == 0 {
		err = multierror.Append(err, errors.Errorf("slot size is zero"))
	} else if l.SlotSize%p.Granularity != 0 {
		err = multierror.Append(err, errors.Errorf(
			"slot size 0x%x is not a multiple of the %s erase granularity (0x%x)",
			l.SlotSize, p.Name, p.Granularity))
	}
	start := l.slotsStart()
	if start%p.Granularity != 0 {
		err = multierror.Append(err, errors.Errorf(
			"first slot @ 0x%x is not aligned to the %s erase granularity (0x%x)",
			start, p.Name, p.Granularity))
	}
	if l.SlotSize != 0 && l.SlotSize < HeaderSize+ChunkHeaderSize {
		err = multierror.Append(err, errors.Errorf("slot size 0x%x cannot hold an image", l.SlotSize))
	}
	end := uint64(start) + uint64(l.SlotSize)*uint64(len(l.Slots()))
	if end > uint64(p.Capacity) {
		err = multierror.Append(err, errors.Errorf(
			"%d slots of 0x%x @ 0x%x do not fit into %s (0x%x bytes)",
			len(l.Slots()), l.SlotSize, start, p.Name, p.Capacity))
	}
	return err
}

func (l *Layout) String() string {
	s := ""
	for i, ss := range l.Slots() {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s@0x%x", ss, l.Offset(ss))
	}
	return fmt.Sprintf("%s (slot size 0x%x)", s, l.SlotSize)
}
