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
package boot

import (
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/common/ihex"
	"github.com/mongoose-os/sf2boot/common/image"
)

type Opts struct {
	Intents   []IntentSource
	Transport Transport
	// Executor may be nil, Run then just returns the context.
	Executor Executor
	// Target receives the image being loaded.
	Target image.Target
	// ReceiveSize is the receive buffer size, DefaultReceiveSize if 0.
	ReceiveSize int
	// Name goes into the header of downloaded images.
	Name string
}

type Selector struct {
	store *image.Store
	opts  Opts
}

func NewSelector(store *image.Store, opts Opts) *Selector {
	if opts.ReceiveSize == 0 {
		opts.ReceiveSize = DefaultReceiveSize
	}
	return &Selector{store: store, opts: opts}
}

// Run makes one boot attempt: it works out the requested mode, inspects the
// slots, selects the image and loads it, downloading or restoring an image
// first if the mode calls for it. On success the executor is invoked. If no
// image could be loaded the error has ErrNoBootableImage as its cause.
func (s *Selector) Run() (*BootContext, error) {
	layout := s.store.Layout()
	ctx := &BootContext{Layout: layout, Loaded: image.NoSlot}
	ctx.Intents = CollectIntents(s.opts.Intents...)
	ctx.Requested = ctx.Intents.Mode(layout.Golden)
	glog.Infof("intents: %s, requested mode: %s", ctx.Intents, ctx.Requested)

	ctx.Slots = s.store.CheckFlash()
	ctx.Mode, ctx.Decision = image.SelectImage(ctx.Requested, ctx.Slots, &ctx.Sequence)
	s.store.ApplyDecision(ctx.Decision)
	glog.Infof("boot mode: %s", ctx.Mode)

	var err error
	switch ctx.Mode {
	case image.Download1, image.Download2, image.DownloadGolden:
		err = s.download(ctx)
	case image.CopyGolden:
		err = s.copyGolden(ctx)
	case image.Exec1, image.Exec2, image.ExecGolden:
		err = s.load(ctx, ctx.Mode.Slot())
	default:
		err = errors.Errorf("unexpected mode %s", ctx.Mode)
	}
	ctx.InvalidateFailures = s.store.InvalidateFailures()
	if err != nil {
		glog.Errorf("%s: %s", ctx.Mode, err)
		return ctx, errors.Wrap(err, ErrNoBootableImage)
	}
	glog.Infof("loaded %s: %s", ctx.Loaded, ctx.Header)
	if s.opts.Executor != nil {
		if err := s.opts.Executor.Exec(ctx); err != nil {
			return ctx, errors.Annotatef(err, "exec failed")
		}
	}
	return ctx, nil
}

func (s *Selector) offset(slot image.Slot) uint32 {
	return s.store.Layout().Offset(slot)
}

func (s *Selector) load(ctx *BootContext, slot image.Slot) error {
	h, err := s.store.ReadImage(s.offset(slot), s.opts.Target)
	ctx.Header = h
	if err != nil {
		return errors.Annotatef(err, "%s", slot)
	}
	ctx.Loaded = slot
	return nil
}

func (s *Selector) invalidateSibling(slot image.Slot) {
	switch slot {
	case image.Image1:
		s.store.InvalidateSlot(image.Image2)
	case image.Image2:
		s.store.InvalidateSlot(image.Image1)
	}
}

// seedImage1 writes a copy of the staged golden image to image-1 with
// sequence number 1 and loads it from there.
func (s *Selector) seedImage1(ctx *BootContext, staged []byte) error {
	if err := image.Restamp(staged, 1); err != nil {
		return errors.Trace(err)
	}
	if err := s.store.WriteImage(s.offset(image.Image1), staged); err != nil {
		return errors.Annotatef(err, "failed to write %s", image.Image1)
	}
	ctx.Sequence = 1
	s.invalidateSibling(image.Image1)
	return s.load(ctx, image.Image1)
}

func (s *Selector) download(ctx *BootContext) error {
	if s.opts.Transport == nil {
		return errors.Errorf("no transport")
	}
	buf := make([]byte, s.opts.ReceiveSize)
	n := s.opts.Transport.Receive(buf)
	ctx.Received = n
	if n <= 0 {
		return errors.Errorf("transfer failed (%d)", n)
	}
	if n > len(buf) {
		n = len(buf)
	}
	glog.Infof("received %d bytes", n)
	l := &ihex.Loader{
		Sequence: ctx.Sequence,
		Golden:   ctx.Mode == image.DownloadGolden,
		Name:     s.opts.Name,
		Capacity: int(ctx.Layout.SlotSize),
	}
	size, staged, err := l.ProcessFile(buf[:n])
	if err != nil {
		return errors.Annotatef(err, "invalid image")
	}
	if size == 0 {
		return errors.Errorf("no image in %d bytes received", n)
	}
	ctx.ImageSize = size
	slot := ctx.Mode.Slot()
	glog.Infof("writing %d byte image to %s", size, slot)
	if err := s.store.WriteImage(s.offset(slot), staged); err != nil {
		return errors.Annotatef(err, "failed to write %s", slot)
	}
	if ctx.Mode == image.DownloadGolden {
		return s.seedImage1(ctx, staged)
	}
	ctx.Sequence = image.Sequence(ctx.Sequence.Next())
	s.invalidateSibling(slot)
	return s.load(ctx, slot)
}

func (s *Selector) copyGolden(ctx *BootContext) error {
	staged, err := s.store.RawReadImage(s.offset(image.Golden))
	if err != nil {
		return errors.Annotatef(err, "failed to read %s", image.Golden)
	}
	ctx.ImageSize = len(staged)
	return s.seedImage1(ctx, staged)
}
