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
	"bytes"
	"os"
	"os/exec"

	"github.com/golang/glog"
	"github.com/juju/errors"
	shellwords "github.com/mattn/go-shellwords"
)

// commandTransport runs an external receiver and takes what it prints.
type commandTransport struct {
	args []string
}

func newCommand(cmdline string) (*commandTransport, error) {
	args, err := shellwords.Parse(cmdline)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid command %q", cmdline)
	}
	if len(args) == 0 {
		return nil, errors.Errorf("empty command")
	}
	return &commandTransport{args: args}, nil
}

func (t *commandTransport) Receive(buf []byte) int {
	cmd := exec.Command(t.args[0], t.args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		glog.Errorf("%s", err)
		return 0
	}
	glog.Infof("running %s", t)
	if err := cmd.Start(); err != nil {
		glog.Errorf("%s: %s", t.args[0], err)
		return 0
	}
	n, rerr := readFull(out, buf)
	if rerr != nil {
		cmd.Process.Kill()
	}
	werr := cmd.Wait()
	switch {
	case rerr != nil:
		glog.Errorf("%s: %s", t.args[0], rerr)
		return 0
	case werr != nil:
		glog.Errorf("%s: %s", t.args[0], werr)
		return 0
	}
	glog.Infof("%s: received %d bytes", t.args[0], n)
	return n
}

func (t *commandTransport) Close() error {
	return nil
}

func (t *commandTransport) String() string {
	var b bytes.Buffer
	for i, a := range t.args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a)
	}
	return b.String()
}
