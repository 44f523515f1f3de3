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
package version

import (
	"fmt"
	"regexp"
	"runtime"
	"time"

	"github.com/mongoose-os/sf2boot/cli/ourutil"
)

type Info struct {
	BuildId        string    `yaml:"build_id"`
	BuildTimestamp time.Time `yaml:"build_timestamp,omitempty"`
	BuildVersion   string    `yaml:"build_version"`
	Runtime        string    `yaml:"runtime"`
}

const (
	LatestVersionName = "latest"
)

var (
	regexpVersionNumber = regexp.MustCompile(`^\d+\.[0-9.]*$`)
	regexpBuildId       = regexp.MustCompile(`^(?P<date>\d{8})-(?P<time>\d{6})/(?P<hash>[0-9a-f]+)(?P<dirty>-dirty)?$`)
)

// GetVersion returns this binary's version, or "latest" if it's not a release build.
func GetVersion() string {
	if LooksLikeVersionNumber(Version) {
		return Version
	}
	return LatestVersionName
}

func LooksLikeVersionNumber(s string) bool {
	return regexpVersionNumber.MatchString(s)
}

// ParseBuildId splits a build id of the form 20201016-123456/0abc123[-dirty].
// Returns nil if s is not one.
func ParseBuildId(s string) map[string]string {
	return ourutil.FindNamedSubmatches(regexpBuildId, s)
}

func GetInfo() *Info {
	info := &Info{
		BuildId:      BuildId,
		BuildVersion: Version,
		Runtime:      fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
	if ts, err := time.Parse(time.RFC3339, BuildTimestamp); err == nil {
		info.BuildTimestamp = ts
	}
	return info
}

func GetUserAgent() string {
	return fmt.Sprintf("sf2boot/%s %s (%s; %s)", Version, BuildId, runtime.GOOS, runtime.GOARCH)
}
