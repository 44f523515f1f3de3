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
// Package boot decides what to boot, fetches a new image when asked to or
// when nothing bootable is left, and hands the loaded image over.
package boot

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/common/image"
)

// ErrNoBootableImage is the cause of the error Run returns when no image
// could be loaded. There is nothing left to do but wait for a host.
var ErrNoBootableImage = errors.New("no bootable image")

const DefaultReceiveSize = 16 * 1024 * 1024

type Mode = image.Mode

// Transport delivers the Intel HEX text of one image into buf and returns
// its length. Zero or less means the transfer failed.
type Transport interface {
	Receive(buf []byte) int
}

type TransportFunc func(buf []byte) int

func (f TransportFunc) Receive(buf []byte) int {
	return f(buf)
}

// Executor takes over once an image is loaded.
type Executor interface {
	Exec(ctx *BootContext) error
}

// Intents are requests from the outside world, such as a jumper or a flag
// left by the running application.
type Intents struct {
	CopyGolden bool
	UseGolden  bool
	Update     bool
}

func (in Intents) String() string {
	return fmt.Sprintf("copy-golden=%t use-golden=%t update=%t", in.CopyGolden, in.UseGolden, in.Update)
}

type IntentSource interface {
	Intents() Intents
}

type IntentFunc func() Intents

func (f IntentFunc) Intents() Intents {
	return f()
}

// CollectIntents ORs the intents of all sources.
func CollectIntents(srcs ...IntentSource) Intents {
	var res Intents
	for _, s := range srcs {
		in := s.Intents()
		res.CopyGolden = res.CopyGolden || in.CopyGolden
		res.UseGolden = res.UseGolden || in.UseGolden
		res.Update = res.Update || in.Update
	}
	return res
}

// Mode returns the mode requested by in. Golden intents only count if there
// is a golden slot.
func (in Intents) Mode(golden bool) Mode {
	switch {
	case golden && in.CopyGolden:
		return image.CopyGolden
	case golden && in.UseGolden:
		return image.ExecGolden
	case in.Update:
		return image.Download
	}
	return image.Exec
}

// BootContext is the state of one boot attempt.
type BootContext struct {
	Layout    *image.Layout
	Intents   Intents
	Requested Mode
	Slots     image.SlotTable
	Decision  image.Decision
	// Mode is the concrete mode selection arrived at.
	Mode Mode
	// Sequence is the baseline for numbering downloaded images.
	Sequence image.Sequence
	// Received is the size of the last transfer.
	Received int
	// ImageSize is the size of the last staged image.
	ImageSize int
	// Loaded is the slot the image came from, Header is its header.
	Loaded             image.Slot
	Header             *image.Header
	InvalidateFailures int
}

func (ctx *BootContext) String() string {
	return fmt.Sprintf("%s -> %s, loaded %s, seq %d", ctx.Requested, ctx.Mode, ctx.Loaded, ctx.Sequence)
}
