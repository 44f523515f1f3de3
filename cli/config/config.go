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
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/kardianos/osext"
	yaml "gopkg.in/yaml.v2"

	"github.com/mongoose-os/sf2boot/common/image"
	"github.com/mongoose-os/sf2boot/common/multierror"
	"github.com/mongoose-os/sf2boot/common/ourio"
	"github.com/mongoose-os/sf2boot/common/spiflash"
)

const FileName = "sf2boot.yml"

type Config struct {
	Device      string       `yaml:"device"`
	WriteVerify bool         `yaml:"write_verify"`
	Layout      image.Layout `yaml:"layout"`
	// StagingSize bounds the size of an image being received.
	StagingSize int `yaml:"staging_size"`
	// Timeouts override non-zero device timeouts.
	Timeouts *spiflash.Timeouts `yaml:"timeouts,omitempty"`
}

func Default() *Config {
	return &Config{
		Device: "w25q64fv",
		Layout: image.Layout{
			LogBlocks:    1,
			ConfigBlocks: 1,
			Golden:       true,
			DualImage:    true,
		},
		StagingSize: 8 * 1024 * 1024,
	}
}

// DefaultPath returns the config file path next to the executable.
func DefaultPath() (string, error) {
	dir, err := osext.ExecutableFolder()
	if err != nil {
		return "", errors.Trace(err)
	}
	return filepath.Join(dir, FileName), nil
}

// Parse overlays the YAML in data over the defaults. Unknown keys are
// errors.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}

// Load reads the config from path. With an empty path, the file next to the
// executable is used if there is one, otherwise the defaults. The second
// value is the file actually read, empty for the defaults.
func Load(path string) (*Config, string, error) {
	if path == "" {
		dp, err := DefaultPath()
		if err != nil {
			glog.Warningf("cannot locate the executable: %s", err)
			return Default(), "", nil
		}
		if _, err := os.Stat(dp); err != nil {
			glog.V(1).Infof("%s not found, using defaults", dp)
			return Default(), "", nil
		}
		path = dp
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, "", errors.Annotatef(err, "%s", path)
	}
	glog.V(1).Infof("loaded config from %s", path)
	return c, path, nil
}

// Save writes c as YAML to path unless the file already has these contents.
func (c *Config) Save(path string) (bool, error) {
	return ourio.WriteYAMLFileIfDifferent(path, c, 0644)
}

func (c *Config) Family() (spiflash.Family, error) {
	return spiflash.LookupFamily(c.Device)
}

// ResolveLayout returns the layout with the slot size filled in for the
// configured device.
func (c *Config) ResolveLayout() (*image.Layout, error) {
	f, err := c.Family()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.Layout.Resolve(f.Profile())
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs error
	f, err := c.Family()
	if err != nil {
		errs = multierror.Append(errs, err)
	} else if _, err := c.ResolveLayout(); err != nil {
		errs = multierror.Append(errs, errors.Annotatef(err, "layout"))
	}
	if c.StagingSize < image.HeaderSize+image.ChunkHeaderSize {
		errs = multierror.Append(errs, errors.Errorf("staging_size %d is too small", c.StagingSize))
	}
	if f != nil && c.Timeouts != nil && c.Timeouts.Misc == 0 && c.Timeouts.PageWrite == 0 &&
		c.Timeouts.Erase4K == 0 && c.Timeouts.Erase32K == 0 && c.Timeouts.Erase64K == 0 && c.Timeouts.ChipErase == 0 {
		glog.Warningf("empty timeouts section, %s defaults apply", f.Profile().Name)
	}
	return errs
}

// DeviceOptions returns the device options c asks for.
func (c *Config) DeviceOptions() []spiflash.Option {
	opts := []spiflash.Option{spiflash.WithWriteVerify(c.WriteVerify)}
	if c.Timeouts != nil {
		opts = append(opts, spiflash.WithTimeouts(*c.Timeouts))
	}
	return opts
}
