// Copyright © 2019 The pyupdi authors
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
package link

// UPDI instruction set. The opcode lives in the top three bits; the low
// nibble selects pointer mode, address width, data width or key length.
const (
	opLDS    = 0x00
	opLD     = 0x20
	opSTS    = 0x40
	opST     = 0x60
	opLDCS   = 0x80
	opRepeat = 0xA0
	opSTCS   = 0xC0
	opKey    = 0xE0
)

// Pointer access modes for LD/ST.
const (
	ptrIndirect = 0x00
	ptrInc      = 0x04
	ptrAddress  = 0x08
)

// Width fields. Address width occupies bits [3:2] of LDS/STS, data width
// bits [1:0].
const (
	addr8  = 0x00
	addr16 = 0x04
	addr24 = 0x08

	data8  = 0x00
	data16 = 0x01
)

const (
	repeatByte = 0x00
	repeatWord = 0x01

	keyKey = 0x00
	keySIB = 0x04

	// Key length field: 8 << n bytes
	Key64  = 0x00
	Key128 = 0x01

	sib16Bytes = 0x01
)

// Physical layer characters.
const (
	// Every instruction is prefixed with SYNC so the target can lock
	// onto our bit timing.
	syncChar = 0x55

	// Acknowledge byte the target sends after accepted multi-byte stores.
	ackByte = 0x40

	// A zero frame doubles as a break condition when sent slowly enough.
	breakChar = 0x00
)

// Control/status register space (LDCS/STCS addresses 0x00-0x0F).
const (
	CSStatusA      = 0x00
	CSStatusB      = 0x01
	CSCtrlA        = 0x02
	CSCtrlB        = 0x03
	CSASIKeyStatus = 0x07
	CSASIResetReq  = 0x08
	CSASICtrlA     = 0x09
	CSASISysCtrlA  = 0x0A
	CSASISysStatus = 0x0B
	CSASICRCStatus = 0x0C
)

// Register bit positions.
const (
	CtrlAIBDlyBit    = 7
	CtrlBCCDetDisBit = 3
	CtrlBUPDIDisBit  = 2

	KeyStatusChipEraseBit = 3
	KeyStatusNVMProgBit   = 4

	SysStatusLockStatusBit = 0
	SysStatusUROWProgBit   = 2
	SysStatusNVMProgBit    = 3
	SysStatusInSleepBit    = 4
	SysStatusRstSysBit     = 5
)

// Writing this signature to ASI_RESET_REQ asserts reset; writing zero
// releases it.
const ResetSignature = 0x59

// Activation keys, transmitted in reverse byte order after a KEY
// instruction. Values from the device programming reference.
var (
	KeyNVMProg   = []byte("NVMProg ")
	KeyChipErase = []byte("NVMErase")
)

// MaxBlockSize is the largest transfer a single REPEAT instruction can
// cover: the counter is 8 bits wide and counts repeats beyond the first.
const MaxBlockSize = 256
