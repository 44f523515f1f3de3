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
// Package transport provides the sources the boot command can receive an
// Intel HEX image from.
package transport

import (
	"io"
	"regexp"
	"time"

	"github.com/juju/errors"

	"github.com/mongoose-os/sf2boot/cli/ourutil"
	"github.com/mongoose-os/sf2boot/common/boot"
)

// Transport is a boot.Transport that holds a resource until closed.
type Transport interface {
	boot.Transport
	io.Closer
}

type Options struct {
	BaudRate            uint
	HardwareFlowControl bool
	// A serial transfer ends after this much silence once data has started.
	IdleTimeout time.Duration
}

var specRE = regexp.MustCompile(`^(?P<kind>[a-z]+):(?P<arg>.+)$`)

// Open returns the transport described by spec, one of
//
//   file:<path>
//   serial:<port>
//   cmd:<command line>
func Open(spec string, opts Options) (Transport, error) {
	m := ourutil.FindNamedSubmatches(specRE, spec)
	if m == nil {
		return nil, errors.Errorf("invalid transport %q", spec)
	}
	switch m["kind"] {
	case "file":
		return &fileTransport{path: m["arg"]}, nil
	case "serial":
		return openSerial(m["arg"], opts)
	case "cmd":
		return newCommand(m["arg"])
	}
	return nil, errors.Errorf("unknown transport kind %q", m["kind"])
}

// readFull fills buf from r until EOF or until buf is full. A source with
// more data than fits is an error.
func readFull(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return n, nil
	case err != nil:
		return n, errors.Trace(err)
	}
	var one [1]byte
	if m, _ := r.Read(one[:]); m > 0 {
		return n, errors.Errorf("image does not fit into %d bytes", len(buf))
	}
	return n, nil
}
