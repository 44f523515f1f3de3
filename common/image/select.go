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

	"github.com/golang/glog"
)

// Mode is a boot mode. Exec and Download are requests; the rest are the
// concrete modes selection refines them into.
type Mode int

const (
	Exec Mode = iota
	Exec1
	Exec2
	ExecGolden
	CopyGolden
	Download
	Download1
	Download2
	DownloadGolden
)

func (m Mode) String() string {
	switch m {
	case Exec:
		return "exec"
	case Exec1:
		return "exec-1"
	case Exec2:
		return "exec-2"
	case ExecGolden:
		return "exec-golden"
	case CopyGolden:
		return "copy-golden"
	case Download:
		return "download"
	case Download1:
		return "download-1"
	case Download2:
		return "download-2"
	case DownloadGolden:
		return "download-golden"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m Mode) IsDownload() bool {
	switch m {
	case Download, Download1, Download2, DownloadGolden:
		return true
	}
	return false
}

// Slot returns the slot a concrete mode reads or writes first.
func (m Mode) Slot() Slot {
	switch m {
	case Exec1, Download1:
		return Image1
	case Exec2, Download2:
		return Image2
	case ExecGolden, CopyGolden, DownloadGolden:
		return Golden
	}
	return NoSlot
}

// SlotState is what CheckFlash found in one slot. Header is nil if it could
// not be read.
type SlotState struct {
	Slot   Slot
	Offset uint32
	Header *Header
	Status HeaderStatus
}

func (s *SlotState) OK() bool {
	return s.Status == StatusOK
}

// SlotTable holds the state of every configured slot.
type SlotTable []SlotState

// Get returns the state of s, or nil if s is not configured.
func (t SlotTable) Get(s Slot) *SlotState {
	for i := range t {
		if t[i].Slot == s {
			return &t[i]
		}
	}
	return nil
}

func (t SlotTable) ok(s Slot) bool {
	ss := t.Get(s)
	return ss != nil && ss.OK()
}

func (t SlotTable) seq(s Slot) uint16 {
	if ss := t.Get(s); ss != nil && ss.Header != nil {
		return ss.Header.Sequence
	}
	return 0
}

// Sequence is the sequence number of the newest good image. A downloaded
// image gets the next one.
type Sequence uint16

// Next wraps around after 65535.
func (s Sequence) Next() uint16 {
	return uint16(s) + 1
}

// Decision records how selection arrived at its mode.
type Decision struct {
	Mode Mode
	// Winner is the slot holding the image to run, NoSlot if there is none.
	Winner Slot
	// Loser is a good but older image to be demoted, NoSlot if none.
	Loser Slot
	// SequenceReset is set when selection found nothing to count from.
	SequenceReset bool
}

func (d Decision) String() string {
	return fmt.Sprintf("%s (winner %s, loser %s, seq reset %t)", d.Mode, d.Winner, d.Loser, d.SequenceReset)
}

// newer reports whether the image with sequence a should win over one with
// sequence b when both are good. Consecutive numbers decide first, wrapping
// around. Otherwise the higher non-zero number wins.
func newer(a, b uint16) bool {
	if a+1 == b {
		return false
	}
	if b+1 == a {
		return true
	}
	return b == a || (b < a && b != 0)
}

// SelectImage refines the requested mode into a concrete one given the slot
// table and updates seq to the baseline for the next download. Golden slot
// and second image participate if present in the table.
func SelectImage(requested Mode, table SlotTable, seq *Sequence) (Mode, Decision) {
	d := Decision{Mode: requested, Winner: NoSlot, Loser: NoSlot}
	download := requested.IsDownload()
	reset := func(m Mode) {
		d.Mode = m
		d.SequenceReset = true
		*seq = 0
	}
	golden := table.Get(Golden)
	switch {
	case golden != nil && !golden.OK():
		reset(DownloadGolden)
	case golden != nil && (requested == ExecGolden || requested == CopyGolden):
		d.Winner = Golden
	case table.Get(Image2) != nil:
		ok1, ok2 := table.ok(Image1), table.ok(Image2)
		win, lose := Image1, Image2
		switch {
		case !ok1 && !ok2:
			reset(Download1)
		case ok1 && ok2:
			if !newer(table.seq(Image1), table.seq(Image2)) {
				win, lose = Image2, Image1
			}
			d.Loser = lose
			fallthrough
		default:
			if !ok1 {
				win, lose = Image2, Image1
			}
			d.Winner = win
			*seq = Sequence(table.seq(win))
			if download {
				d.Mode = downloadMode(lose)
			} else {
				d.Mode = execMode(win)
			}
		}
	case !table.ok(Image1):
		reset(Download1)
	case download:
		d.Winner = Image1
		*seq = Sequence(table.seq(Image1))
		d.Mode = Download1
	default:
		d.Winner = Image1
		*seq = Sequence(table.seq(Image1))
		d.Mode = Exec1
	}
	glog.V(1).Infof("selected %s, sequence %d", d, *seq)
	return d.Mode, d
}

func downloadMode(s Slot) Mode {
	if s == Image2 {
		return Download2
	}
	return Download1
}

func execMode(s Slot) Mode {
	if s == Image2 {
		return Exec2
	}
	return Exec1
}
