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
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenErrors(t *testing.T) {
	for i, c := range []struct {
		spec    string
		wantErr string
	}{
		// 0
		{"", "invalid transport"},
		// 1
		{"/dev/ttyS0", "invalid transport"},
		// 2
		{"usb:1", "unknown transport kind"},
		// 3
		{"cmd:rx 'unterminated", "invalid command"},
	} {
		_, err := Open(c.spec, Options{})
		if err == nil || !strings.Contains(err.Error(), c.wantErr) {
			t.Errorf("%d: got: %v, want: %q", i, err, c.wantErr)
		}
	}
}

func tempFile(t *testing.T, data string) (string, func()) {
	dir, err := ioutil.TempDir("", "transport")
	if err != nil {
		t.Fatal(err)
	}
	fn := filepath.Join(dir, "fw.hex")
	if err := ioutil.WriteFile(fn, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return fn, func() { os.RemoveAll(dir) }
}

const hexText = ":0400000001020304F2\r\n:00000001FF\r\n"

func TestFileTransport(t *testing.T) {
	fn, cleanup := tempFile(t, hexText)
	defer cleanup()

	tr, err := Open("file:"+fn, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	buf := make([]byte, 1024)
	n := tr.Receive(buf)
	if got, want := string(buf[:n]), hexText; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if n := tr.Receive(make([]byte, 10)); n != 0 {
		t.Errorf("got: %d, want: 0 for an image that does not fit", n)
	}

	tr, _ = Open("file:"+fn+".missing", Options{})
	if n := tr.Receive(buf); n != 0 {
		t.Errorf("got: %d, want: 0", n)
	}
}

func TestCommandTransport(t *testing.T) {
	fn, cleanup := tempFile(t, hexText)
	defer cleanup()

	tr, err := Open("cmd:cat '"+fn+"'", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := tr.(*commandTransport).args, []string{"cat", fn}; len(got) != 2 || got[1] != want[1] {
		t.Fatalf("got: %q, want: %q", got, want)
	}
	buf := make([]byte, 1024)
	n := tr.Receive(buf)
	if got, want := string(buf[:n]), hexText; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}

	tr, _ = Open("cmd:false", Options{})
	if n := tr.Receive(buf); n != 0 {
		t.Errorf("got: %d, want: 0 for a failing command", n)
	}
}

// burstReader returns its bursts one per Read, with empty reads in between,
// and advances a fake clock on every call.
type burstReader struct {
	bursts []string
	gap    int
	clock  *time.Time
	step   time.Duration

	empty int
}

func (r *burstReader) Read(p []byte) (int, error) {
	*r.clock = r.clock.Add(r.step)
	if len(r.bursts) == 0 || r.empty < r.gap {
		r.empty++
		return 0, nil
	}
	r.empty = 0
	n := copy(p, r.bursts[0])
	r.bursts[0] = r.bursts[0][n:]
	if r.bursts[0] == "" {
		r.bursts = r.bursts[1:]
	}
	return n, nil
}

func TestReceiveUntilIdle(t *testing.T) {
	for i, c := range []struct {
		bursts []string
		gap    int
		size   int
		want   string
	}{
		// 0: gaps shorter than the idle timeout are tolerated
		{[]string{":00", "000001", "FF\r\n"}, 5, 64, ":00000001FF\r\n"},
		// 1: an image that exactly fills the buffer
		{[]string{":00000001FF\r\n"}, 0, 13, ":00000001FF\r\n"},
		// 2: a gap longer than the idle timeout ends the transfer
		{[]string{":00", "000001FF"}, 20, 64, ":00"},
	} {
		var clock time.Time
		r := &burstReader{bursts: c.bursts, gap: c.gap, clock: &clock, step: 100 * time.Millisecond}
		buf := make([]byte, c.size)
		n, err := receiveUntilIdle(r, buf, time.Second, func() time.Time { return clock })
		if err != nil {
			t.Fatalf("%d: %s", i, err)
		}
		if got := string(buf[:n]); got != c.want {
			t.Errorf("%d: got: %q, want: %q", i, got, c.want)
		}
	}
}

func TestReceiveUntilIdleOverflow(t *testing.T) {
	var clock time.Time
	r := &burstReader{
		bursts: []string{":0000", "0001FF\r\n"},
		gap:    3,
		clock:  &clock,
		step:   100 * time.Millisecond,
	}
	buf := make([]byte, 4)
	_, err := receiveUntilIdle(r, buf, time.Second, func() time.Time { return clock })
	if err == nil {
		t.Fatalf("got no error, want an overflow error")
	}
	if !strings.Contains(err.Error(), "9 more received") {
		t.Errorf("got: %q, want the overflow size", err)
	}
	if len(r.bursts) != 0 {
		t.Errorf("got: %q left unread, want the line drained", r.bursts)
	}
}

func TestResolvePort(t *testing.T) {
	if got, err := resolvePort("/dev/ttyS3"); err != nil || got != "/dev/ttyS3" {
		t.Errorf("got: %q %v, want: %q", got, err, "/dev/ttyS3")
	}
	ports := filterPorts(EnumerateSerialPorts())
	got, err := resolvePort(AutoPort)
	if len(ports) == 0 {
		if err == nil {
			t.Errorf("got: %q, want an error", got)
		}
	} else if got != ports[0] {
		t.Errorf("got: %q, want: %q", got, ports[0])
	}
}
