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
package image

import (
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"
	goversion "github.com/mcuadros/go-version"
)

const (
	vblockCheck1 = 0xAA55
	vblockCheck2 = 0x55AA
	vblockID     = "SF2BLV"
)

// VersionBlock is the product metadata embedded in a header. Booting never
// looks at it; host tools use it to tell images apart.
type VersionBlock struct {
	Flags      uint32
	Version    [3]uint16
	MinVersion [3]uint16
}

func (v *VersionBlock) Encode() [VersionBlockSize]byte {
	var b [VersionBlockSize]byte
	le := binary.LittleEndian
	le.PutUint16(b[0:], vblockCheck1)
	copy(b[2:8], vblockID)
	le.PutUint32(b[8:], v.Flags)
	for i := 0; i < 3; i++ {
		le.PutUint16(b[12+2*i:], v.Version[i])
		le.PutUint16(b[18+2*i:], v.MinVersion[i])
	}
	le.PutUint16(b[30:], vblockCheck2)
	return b
}

// DecodeVersionBlock parses b, which must carry both check words and the
// block id.
func DecodeVersionBlock(b [VersionBlockSize]byte) (*VersionBlock, error) {
	le := binary.LittleEndian
	if c1, c2 := le.Uint16(b[0:]), le.Uint16(b[30:]); c1 != vblockCheck1 || c2 != vblockCheck2 {
		return nil, errors.Errorf("bad version block check words 0x%04x 0x%04x", c1, c2)
	}
	if id := string(b[2:8]); id != vblockID {
		return nil, errors.Errorf("bad version block id %q", id)
	}
	v := &VersionBlock{Flags: le.Uint32(b[8:])}
	for i := 0; i < 3; i++ {
		v.Version[i] = le.Uint16(b[12+2*i:])
		v.MinVersion[i] = le.Uint16(b[18+2*i:])
	}
	return v, nil
}

// ParseVersion parses "major.minor.sub"; missing trailing parts are zero.
func ParseVersion(s string) ([3]uint16, error) {
	var v [3]uint16
	if s == "" {
		return v, nil
	}
	n, _ := fmt.Sscanf(s, "%d.%d.%d", &v[0], &v[1], &v[2])
	if n == 0 {
		return v, errors.Errorf("invalid version %q", s)
	}
	return v, nil
}

func versionString(v [3]uint16) string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

func (v *VersionBlock) VersionString() string {
	return versionString(v.Version)
}

func (v *VersionBlock) MinVersionString() string {
	return versionString(v.MinVersion)
}

// Consistent reports whether the image version is not below the minimum
// version it declares.
func (v *VersionBlock) Consistent() bool {
	return goversion.Compare(v.VersionString(), v.MinVersionString(), ">=")
}

func (v *VersionBlock) String() string {
	return fmt.Sprintf("%s (min %s, flags 0x%x)", v.VersionString(), v.MinVersionString(), v.Flags)
}
