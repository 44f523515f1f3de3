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
package main

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/cli/flags"
	"github.com/mongoose-os/sf2boot/cli/transport"
	"github.com/mongoose-os/sf2boot/common/boot"
	"github.com/mongoose-os/sf2boot/common/image"
)

// saveExecutor hands off by saving the loaded image, if asked to.
type saveExecutor struct {
	target *image.HexTarget
	output string
	format string
}

func (e *saveExecutor) Exec(ctx *boot.BootContext) error {
	start, _ := e.target.Extent()
	reportf("Booting %s (%s) @ 0x%08x", ctx.Loaded, ctx.Header.NameString(), start)
	if e.output == "" {
		return nil
	}
	return errors.Trace(saveTarget(e.target, e.output, e.format))
}

func flagIntents() boot.Intents {
	return boot.Intents{
		CopyGolden: *flags.CopyGolden,
		UseGolden:  *flags.UseGolden,
		Update:     *flags.Update,
	}
}

func bootCmd() (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	exec := &saveExecutor{target: image.NewHexTarget(), output: *flags.Output}
	if exec.output != "" {
		if exec.format, err = outputFormat(exec.output); err != nil {
			return errors.Trace(err)
		}
	}

	opts := boot.Opts{
		Intents:     []boot.IntentSource{boot.IntentFunc(flagIntents)},
		Executor:    exec,
		Target:      exec.target,
		ReceiveSize: cfg.StagingSize,
		Name:        *flags.Name,
	}
	if spec := flags.TransportSpec(); spec != "" {
		tr, err := transport.Open(spec, transport.Options{
			BaudRate:            uint(*flags.BaudRate),
			HardwareFlowControl: *flags.HWFC,
			IdleTimeout:         *flags.IdleTimeout,
		})
		if err != nil {
			return errors.Trace(err)
		}
		defer tr.Close()
		opts.Transport = tr
	}

	f, store, err := openFlash(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	// Slots may have been rewritten or invalidated even if the boot failed.
	defer closeFlash(f, true, &err)

	ctx, err := boot.NewSelector(store, opts).Run()
	fmt.Println()
	printSlots(os.Stdout, store.CheckFlash())
	if ctx != nil {
		fmt.Printf("\nMode: %s, decision: %s, sequence: %d\n", ctx.Mode, ctx.Decision, ctx.Sequence)
		if ctx.InvalidateFailures > 0 {
			reportf("Warning: %d slot(s) could not be invalidated", ctx.InvalidateFailures)
		}
	}
	if err != nil {
		if errors.Cause(err) == boot.ErrNoBootableImage {
			glog.Errorf("%+v", err)
			return boot.ErrNoBootableImage
		}
		return errors.Trace(err)
	}
	return nil
}
