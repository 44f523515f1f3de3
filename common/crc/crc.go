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

// Package crc provides the two checksums used by the image format: the
// YMODEM CRC16 that seals an image header and the running CRC32 that covers
// chunk headers and payload.
package crc

import (
	"hash/crc32"

	"github.com/sigurn/crc16"
)

// Seed32 is the initial value of a running image CRC32.
const Seed32 uint32 = 0xFFFFFFFF

var ymodemTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// CRC16 returns the YMODEM CRC16 (poly 0x1021, init 0) of data.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, ymodemTable)
}

// Update32 feeds p into a running CRC32. The running value carries no final
// inversion, so a CRC computed over a stream in pieces equals the CRC of the
// whole stream: Update32(Update32(Seed32, a), b) == Update32(Seed32, a+b).
func Update32(running uint32, p []byte) uint32 {
	return ^crc32.Update(^running, crc32.IEEETable, p)
}

// CRC32 returns the running CRC32 of data, starting from Seed32.
func CRC32(data []byte) uint32 {
	return Update32(Seed32, data)
}
