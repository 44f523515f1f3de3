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
// Package flashfile keeps a flash part's contents in a host file so that the
// bootloader engine can be run against it as if it were a real chip.
package flashfile

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flock "github.com/theckman/go-flock"

	"github.com/mongoose-os/sf2boot/common/ourio"
	"github.com/mongoose-os/sf2boot/common/spiflash"
)

// File is an open flash dump. The dump is locked until Close.
type File struct {
	Path   string
	Chip   *spiflash.SimChip
	Device *spiflash.Device

	lock *flock.Flock
}

func lockName(path string) string {
	return fmt.Sprint(path, ".lock")
}

// Open locks and loads the dump at path for a part of the given family.
// A missing file is an error unless create is set, in which case the part
// starts erased. A dump shorter than the part fills its beginning.
func Open(path string, family spiflash.Family, create bool, opts ...spiflash.Option) (*File, error) {
	lock := flock.NewFlock(lockName(path))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Annotatef(err, "failed to lock %s", path)
	}
	if !locked {
		return nil, errors.Errorf("%s is in use by another process", path)
	}

	f := &File{
		Path: path,
		Chip: spiflash.NewSimChip(family.Profile()),
		lock: lock,
	}
	data, err := ioutil.ReadFile(path)
	switch {
	case err == nil:
		if err := f.Chip.Load(data); err != nil {
			f.unlock()
			return nil, errors.Annotatef(err, "%s", path)
		}
		glog.V(1).Infof("loaded %d bytes from %s", len(data), path)
	case os.IsNotExist(err) && create:
		glog.Infof("%s does not exist, starting with an erased %s", path, family.Profile().Name)
	default:
		f.unlock()
		return nil, errors.Trace(err)
	}

	f.Device = spiflash.New(f.Chip, family, opts...)
	if err := f.Device.Init(); err != nil {
		f.unlock()
		return nil, errors.Annotatef(err, "%s", path)
	}
	return f, nil
}

// Save writes the part's contents back to the dump file.
func (f *File) Save() error {
	changed, err := ourio.WriteFileIfDifferent(f.Path, f.Chip.Bytes(), 0644)
	if err != nil {
		return errors.Trace(err)
	}
	glog.V(1).Infof("saved %s (changed: %t)", f.Path, changed)
	return nil
}

// Close releases the device and the lock. With save set, the contents are
// written back first.
func (f *File) Close(save bool) error {
	var err error
	if derr := f.Device.Deinit(); derr != nil {
		glog.Warningf("%s: %s", f.Path, derr)
	}
	if save {
		err = f.Save()
	}
	f.unlock()
	return err
}

func (f *File) unlock() {
	if err := f.lock.Unlock(); err != nil {
		glog.Warningf("failed to unlock %s: %s", f.Path, err)
	}
}
