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
	"io"
	"time"

	"github.com/cesanta/go-serial/serial"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Granularity of the silence detection.
const interCharacterTimeout = 100 * time.Millisecond

type serialTransport struct {
	portName string
	conn     serial.Serial
	idle     time.Duration
}

func openSerial(portName string, opts Options) (*serialTransport, error) {
	portName, err := resolvePort(portName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	glog.Infof("Opening %s...", portName)
	oo := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              115200,
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		HardwareFlowControl:   opts.HardwareFlowControl,
		InterCharacterTimeout: uint(interCharacterTimeout / time.Millisecond),
		MinimumReadSize:       0,
	}
	if opts.BaudRate != 0 {
		oo.BaudRate = opts.BaudRate
	}
	s, err := serial.Open(oo)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s", portName)
	}
	// Drop whatever arrived before we were ready.
	s.Flush()
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 3 * time.Second
	}
	return &serialTransport{portName: portName, conn: s, idle: idle}, nil
}

func (t *serialTransport) Receive(buf []byte) int {
	glog.Infof("%s: waiting for an image", t.portName)
	n, err := receiveUntilIdle(t.conn, buf, t.idle, time.Now)
	if err != nil {
		glog.Errorf("%s: %s", t.portName, err)
		return 0
	}
	glog.Infof("%s: received %d bytes", t.portName, n)
	return n
}

func (t *serialTransport) Close() error {
	return errors.Trace(t.conn.Close())
}

// receiveUntilIdle reads from r, whose reads return no data after a short
// timeout, into buf until idle passes without data. The wait for the first
// byte is unbounded. Data that does not fit into buf is drained until the
// line goes idle and reported as an error.
func receiveUntilIdle(r io.Reader, buf []byte, idle time.Duration, now func() time.Time) (int, error) {
	n, extra := 0, 0
	var last time.Time
	var scratch []byte
	for {
		dst := buf[n:]
		if len(dst) == 0 {
			if scratch == nil {
				scratch = make([]byte, 1024)
			}
			dst = scratch
		}
		m, err := r.Read(dst)
		if err != nil && err != io.EOF {
			return n, errors.Trace(err)
		}
		if m > 0 {
			if n < len(buf) {
				n += m
			} else {
				extra += m
			}
			last = now()
			continue
		}
		if n > 0 && now().Sub(last) >= idle {
			break
		}
	}
	if extra > 0 {
		return n, errors.Errorf("image does not fit into %d bytes (%d more received)", len(buf), extra)
	}
	return n, nil
}
