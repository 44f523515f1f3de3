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
// Package pflagenv lets environment variables stand in for command line
// flags that were not given explicitly.
package pflagenv

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

// ParseFlagSet sets every flag of fs that was not given on the command line
// from the environment variable named by EnvName, if that variable is
// non-empty. It must be called after fs.Parse. The names of the flags taken
// from the environment are returned in sorted order.
func ParseFlagSet(fs *pflag.FlagSet, envPrefix string) ([]string, error) {
	// pflag cannot tell a flag set to its default from one left alone, but
	// Visit only walks the ones that were set.
	unset := make(map[string]*pflag.Flag)
	fs.VisitAll(func(f *pflag.Flag) {
		unset[f.Name] = f
	})
	fs.Visit(func(f *pflag.Flag) {
		delete(unset, f.Name)
	})

	var names []string
	for name, f := range unset {
		v := os.Getenv(EnvName(name, envPrefix))
		if v == "" {
			continue
		}
		if err := f.Value.Set(v); err != nil {
			return nil, errors.Annotatef(err, "%s", EnvName(name, envPrefix))
		}
		f.Changed = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Parse is ParseFlagSet for pflag.CommandLine.
func Parse(envPrefix string) ([]string, error) {
	return ParseFlagSet(pflag.CommandLine, envPrefix)
}

// EnvName maps flag "baud-rate" with prefix "SF2BOOT_" to "SF2BOOT_BAUD_RATE".
func EnvName(flagName, envPrefix string) string {
	flagName = strings.ToUpper(flagName)
	flagName = strings.Replace(flagName, "-", "_", -1)
	return fmt.Sprint(envPrefix, flagName)
}
