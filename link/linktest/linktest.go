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

// Package linktest provides a fake serial port wired to a byte-level
// simulated UPDI target. The fake reproduces the single-wire loopback:
// every byte written to the port is echoed into the read buffer before
// the target's response, exactly as the shared wire does.
package linktest

import (
	"bytes"
	"time"

	"go.bug.st/serial"

	"github.com/mraardvark/pyupdi/link"
)

// UPDI opcodes, restated here from the wire protocol for the simulator.
const (
	opLDS    = 0x00
	opLD     = 0x20
	opSTS    = 0x40
	opST     = 0x60
	opLDCS   = 0x80
	opRepeat = 0xA0
	opSTCS   = 0xC0
	opKey    = 0xE0

	ackByte  = 0x40
	syncChar = 0x55
)

// Target simulates a UPDI device at the byte level: it parses the
// instruction stream and produces the responses a real part would.
type Target struct {
	// Data space. Unwritten NVM controller registers read as zero,
	// everything else as erased flash (0xFF).
	Mem map[uint32]byte

	// Control/status register space
	CS [16]byte

	// System information block
	SIB [16]byte

	// NVM controller base address
	NVMBase uint32

	// While non-empty, reads of the NVM status register pop from here
	// instead of Mem. Lets tests script busy/ready sequences.
	StatusSeq []byte

	// NVM commands written to CTRLA, in order
	Commands []byte

	// Key acceptance switches
	AcceptProgKey  bool
	AcceptEraseKey bool

	// A silent target parses nothing and answers nothing, as when no
	// device is wired to the adapter.
	Silent bool

	// Corrupt the next n response bytes (xor 0xFF); exercises ACK and
	// echo failure paths.
	CorruptReplies int

	// Addresses that silently ignore stores, like worn-out flash cells.
	ReadOnly map[uint32]bool

	// instruction assembly state
	buf         []byte
	stsAddr     uint32
	stsAwait    bool
	stLeft      int
	stWidth     int
	stUnit      []byte
	keyLeft     int
	keyBuf      []byte
	repeatTotal int
	ptr         uint32
	inReset     bool
}

// NewTarget returns an unlocked, responsive target with an empty memory.
func NewTarget() *Target {
	t := &Target{
		Mem:            map[uint32]byte{},
		NVMBase:        0x1000,
		AcceptProgKey:  true,
		AcceptEraseKey: true,
		repeatTotal:    1,
	}
	t.CS[link.CSStatusA] = 0x30
	copy(t.SIB[:], "tinyAVR P:0D:0-3")
	return t
}

// Locked marks the target as locked. The NVMPROG key is still taken but
// the lock blocks programming mode until a chip erase key clears it.
func (t *Target) Locked() *Target {
	t.CS[link.CSASISysStatus] |= 1 << link.SysStatusLockStatusBit
	return t
}

func (t *Target) readMem(addr uint32) byte {
	if v, ok := t.Mem[addr]; ok {
		return v
	}
	if addr >= t.NVMBase && addr < t.NVMBase+0x10 {
		return 0
	}
	return 0xFF
}

func (t *Target) statusRead() byte {
	if len(t.StatusSeq) > 0 {
		v := t.StatusSeq[0]
		t.StatusSeq = t.StatusSeq[1:]
		return v
	}
	return t.readMem(t.NVMBase + 2)
}

func (t *Target) storeMem(addr uint32, v byte) {
	if addr == t.NVMBase {
		t.command(v)
		return
	}
	if t.ReadOnly[addr] {
		return
	}
	t.Mem[addr] = v
}

func (t *Target) command(cmd byte) {
	t.Commands = append(t.Commands, cmd)
	switch cmd {
	case 0x05: // chip erase: flash and EEPROM revert to 0xFF
		for k := range t.Mem {
			if k >= 0x1400 {
				delete(t.Mem, k)
			}
		}
	case 0x07: // write fuse from staged ADDR/DATA
		a := uint32(t.readMem(t.NVMBase+8)) | uint32(t.readMem(t.NVMBase+9))<<8
		t.Mem[a] = t.readMem(t.NVMBase + 6)
	}
}

func (t *Target) storeCS(addr, v byte) {
	t.CS[addr] = v
	if addr != link.CSASIResetReq {
		return
	}
	if v == link.ResetSignature {
		t.inReset = true
		return
	}
	if !t.inReset {
		return
	}
	t.inReset = false

	ks := t.CS[link.CSASIKeyStatus]
	if ks&(1<<link.KeyStatusChipEraseBit) != 0 {
		t.command(0x05)
		t.CS[link.CSASISysStatus] &^= 1 << link.SysStatusLockStatusBit
		t.CS[link.CSASIKeyStatus] &^= 1 << link.KeyStatusChipEraseBit
	}
	if ks&(1<<link.KeyStatusNVMProgBit) != 0 {
		t.CS[link.CSASIKeyStatus] &^= 1 << link.KeyStatusNVMProgBit
		if t.CS[link.CSASISysStatus]&(1<<link.SysStatusLockStatusBit) == 0 {
			t.CS[link.CSASISysStatus] |= 1 << link.SysStatusNVMProgBit
		}
	}
}

func (t *Target) keyDone() {
	key := make([]byte, len(t.keyBuf))
	for i, b := range t.keyBuf {
		key[len(key)-1-i] = b
	}
	if bytes.Equal(key, link.KeyNVMProg) && t.AcceptProgKey {
		t.CS[link.CSASIKeyStatus] |= 1 << link.KeyStatusNVMProgBit
	}
	if bytes.Equal(key, link.KeyChipErase) && t.AcceptEraseKey {
		t.CS[link.CSASIKeyStatus] |= 1 << link.KeyStatusChipEraseBit
	}
}

func (t *Target) takeRepeat() int {
	n := t.repeatTotal
	t.repeatTotal = 1
	return n
}

// Feed consumes one byte of the host's transmission and returns the
// target's response bytes, if any.
func (t *Target) Feed(b byte) []byte {
	if t.Silent {
		return nil
	}

	if t.keyLeft > 0 {
		t.keyBuf = append(t.keyBuf, b)
		t.keyLeft--
		if t.keyLeft == 0 {
			t.keyDone()
		}
		return nil
	}

	if t.stsAwait {
		t.stsAwait = false
		t.storeMem(t.stsAddr, b)
		return []byte{ackByte}
	}

	if t.stLeft > 0 {
		t.stUnit = append(t.stUnit, b)
		if len(t.stUnit) < t.stWidth {
			return nil
		}
		t.flushStoreUnit()
		t.stLeft--
		return []byte{ackByte}
	}

	if len(t.buf) == 0 {
		if b == syncChar {
			t.buf = append(t.buf, b)
		}
		return nil
	}

	t.buf = append(t.buf, b)
	op := t.buf[1]
	if len(t.buf) < t.instrLen(op) {
		return nil
	}

	instr := t.buf
	t.buf = nil
	return t.execute(op, instr)
}

func (t *Target) flushStoreUnit() {
	for _, b := range t.stUnit {
		t.storeMem(t.ptr, b)
		t.ptr++
	}
	t.stUnit = nil
}

func (t *Target) instrLen(op byte) int {
	switch op & 0xE0 {
	case opLDCS, opLD, opKey:
		return 2
	case opSTCS:
		return 3
	case opLDS:
		return 2 + int((op>>2)&3) + 1
	case opSTS:
		return 2 + int((op>>2)&3) + 1
	case opRepeat:
		if op&1 != 0 {
			return 4
		}
		return 3
	case opST:
		switch (op >> 2) & 3 {
		case 2: // pointer address
			return 2 + int(op&3) + 1
		default: // pointer inc, first data unit inline
			return 2 + int(op&3) + 1
		}
	}
	return 2
}

func decodeAddr(b []byte) uint32 {
	var a uint32
	for i := len(b) - 1; i >= 0; i-- {
		a = a<<8 | uint32(b[i])
	}
	return a
}

func (t *Target) execute(op byte, instr []byte) []byte {
	switch op & 0xE0 {
	case opLDCS:
		return t.respond(t.CS[op&0x0F])

	case opSTCS:
		t.storeCS(op&0x0F, instr[2])
		return nil

	case opLDS:
		addr := decodeAddr(instr[2:])
		if addr == t.NVMBase+2 {
			return t.respond(t.statusRead())
		}
		return t.respond(t.readMem(addr))

	case opSTS:
		t.stsAddr = decodeAddr(instr[2:])
		t.stsAwait = true
		return t.respond(ackByte)

	case opRepeat:
		t.repeatTotal = int(decodeAddr(instr[2:])) + 1
		return nil

	case opKey:
		if op&0x04 != 0 {
			return t.respond(t.SIB[:]...)
		}
		t.keyLeft = 8 << (op & 3)
		t.keyBuf = nil
		return nil

	case opLD:
		if (op>>2)&3 == 2 { // read back the pointer
			width := int(op&3) + 1
			out := make([]byte, width)
			for i := range out {
				out[i] = byte(t.ptr >> (8 * i))
			}
			return t.respond(out...)
		}
		// pointer load with post-increment
		width := int(op&3) + 1
		units := t.takeRepeat()
		var out []byte
		for i := 0; i < units; i++ {
			for j := 0; j < width; j++ {
				var v byte
				if t.ptr == t.NVMBase+2 {
					v = t.statusRead()
				} else {
					v = t.readMem(t.ptr)
				}
				out = append(out, v)
				t.ptr++
			}
		}
		return t.respond(out...)

	case opST:
		if (op>>2)&3 == 2 { // set pointer
			t.ptr = decodeAddr(instr[2:])
			t.takeRepeat()
			return t.respond(ackByte)
		}
		// pointer store with post-increment, first unit inline
		t.stWidth = int(op&3) + 1
		t.stUnit = instr[2:]
		t.flushStoreUnit()
		t.stLeft = t.takeRepeat() - 1
		return t.respond(ackByte)
	}
	return nil
}

func (t *Target) respond(b ...byte) []byte {
	if t.CorruptReplies > 0 {
		out := make([]byte, len(b))
		for i := range b {
			out[i] = b[i]
			if t.CorruptReplies > 0 {
				out[i] ^= 0xFF
				t.CorruptReplies--
			}
		}
		return out
	}
	return b
}

// Port is a fake serial.Port carrying a Target on a shared wire.
type Port struct {
	Target      *Target
	Baud        int
	ModeHistory []int
	Breaks      int
	Closed      bool

	// Corrupt or swallow the next n self-echo bytes. Models line noise
	// and a missing loopback connection respectively.
	CorruptEcho int
	DropEcho    int

	rx bytes.Buffer
}

var _ serial.Port = (*Port)(nil)

// NewPort wires a fake port to a target.
func NewPort(t *Target) *Port {
	return &Port{Target: t}
}

func (p *Port) Write(b []byte) (int, error) {
	for _, c := range b {
		// Self-echo first: the wire is shared.
		switch {
		case p.DropEcho > 0:
			p.DropEcho--
		case p.CorruptEcho > 0:
			p.CorruptEcho--
			p.rx.WriteByte(c ^ 0xFF)
		default:
			p.rx.WriteByte(c)
		}

		if p.Baud > 0 && p.Baud < 1200 {
			// Too slow to be data: this is the break sequence.
			p.Breaks++
			continue
		}
		if p.Target != nil {
			p.rx.Write(p.Target.Feed(c))
		}
	}
	return len(b), nil
}

func (p *Port) Read(b []byte) (int, error) {
	if p.rx.Len() == 0 {
		// Behaves like a port read timeout
		return 0, nil
	}
	return p.rx.Read(b)
}

func (p *Port) SetMode(mode *serial.Mode) error {
	p.Baud = mode.BaudRate
	p.ModeHistory = append(p.ModeHistory, mode.BaudRate)
	return nil
}

func (p *Port) ResetInputBuffer() error {
	p.rx.Reset()
	return nil
}

func (p *Port) SetReadTimeout(t time.Duration) error { return nil }
func (p *Port) ResetOutputBuffer() error             { return nil }
func (p *Port) Drain() error                         { return nil }
func (p *Port) SetDTR(dtr bool) error                { return nil }
func (p *Port) SetRTS(rts bool) error                { return nil }
func (p *Port) Break(d time.Duration) error          { return nil }

func (p *Port) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (p *Port) Close() error {
	p.Closed = true
	return nil
}
