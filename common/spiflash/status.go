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
package spiflash

import (
	"fmt"

	"github.com/juju/errors"
)

// Status is the outcome of a flash operation. Every failure a Device reports
// carries one of these as its cause; Success is never returned as an error.
type Status int

const (
	Success Status = iota
	ProtectionError
	WriteError
	InvalidArguments
	InvalidAddress
	Timeout
	VerifyFail
	Unsuccess
)

var statusNames = map[Status]string{
	Success:          "success",
	ProtectionError:  "protection error",
	WriteError:       "write error",
	InvalidArguments: "invalid arguments",
	InvalidAddress:   "invalid address",
	Timeout:          "timeout",
	VerifyFail:       "verify failed",
	Unsuccess:        "unsuccessful",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) Error() string {
	return "flash: " + s.String()
}

// StatusOf digs the Status out of an error returned by a Device, looking
// through any annotations. Errors that do not originate from a Device map to
// Unsuccess.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	if s, ok := errors.Cause(err).(Status); ok {
		return s
	}
	return Unsuccess
}

// Op selects a Control operation.
type Op int

const (
	SectorUnprotect Op = iota
	SectorProtect
	GlobalUnprotect
	GlobalProtect
	GetStatus
	Erase4K
	Erase32K
	Erase64K
	ChipErase
	ReadDeviceID
	ReadNVConfig
	WriteNVConfig
	ReadVConfig
	WriteVConfig
	Reset
)

var opNames = []string{
	"sector-unprotect", "sector-protect", "global-unprotect", "global-protect",
	"get-status", "erase-4k", "erase-32k", "erase-64k", "chip-erase",
	"read-id", "read-nv-config", "write-nv-config", "read-v-config",
	"write-v-config", "reset",
}

func (op Op) String() string {
	if op >= 0 && int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, error) {
	for i, n := range opNames {
		if n == s {
			return Op(i), nil
		}
	}
	return 0, errors.Errorf("unknown flash operation %q", s)
}
