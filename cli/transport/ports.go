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
package transport

import (
	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/cli/ourutil"
)

// AutoPort as the port name picks the first likely port.
const AutoPort = "auto"

// resolvePort maps AutoPort to a port found on the system.
func resolvePort(name string) (string, error) {
	if name != AutoPort {
		return name, nil
	}
	ports := filterPorts(EnumerateSerialPorts())
	if len(ports) == 0 {
		return "", errors.Errorf("no serial ports found")
	}
	ourutil.Reportf("Using port %s", ports[0])
	return ports[0], nil
}
