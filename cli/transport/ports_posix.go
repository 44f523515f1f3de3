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
// +build !windows

package transport

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

func EnumerateSerialPorts() []string {
	var patterns []string
	if runtime.GOOS == "darwin" {
		patterns = []string{"/dev/cu.*"}
	} else {
		patterns = []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
	}
	var list []string
	for _, p := range patterns {
		m, _ := filepath.Glob(p)
		list = append(list, m...)
	}
	sort.Strings(list)
	return list
}

func filterPorts(ports []string) []string {
	var res []string
	for _, p := range ports {
		if !strings.Contains(p, "Bluetooth-") {
			res = append(res, p)
		}
	}
	return res
}
