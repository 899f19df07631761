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

import (
	"fmt"
	"log"
)

// DefaultSyncAttempts bounds the break/sync handshake retries during
// Connect. This is the only retried operation in the whole stack; the
// handshake is known-noisy, everything after it is not.
const DefaultSyncAttempts = 3

// Datalink implements the UPDI register access instruction set on top of
// the physical layer: control/status space access, direct and
// pointer-indirect loads and stores, and repeated block transfers.
type Datalink struct {
	phy          *Physical
	SyncAttempts int

	// Address width in bytes for direct and pointer addressing. All
	// currently supported targets use 16-bit addressing; the encoding
	// also covers 8- and 24-bit widths.
	AddressSize int
}

// NewDatalink wraps a physical link. Connect must be called before any
// register access.
func NewDatalink(phy *Physical) *Datalink {
	return &Datalink{
		phy:          phy,
		SyncAttempts: DefaultSyncAttempts,
		AddressSize:  2,
	}
}

// Connect establishes the UPDI session: double break, sync, inter-byte
// delay on, collision detection off, then a status read to prove the
// target is alive. Retries the whole sequence up to SyncAttempts times.
func (dl *Datalink) Connect() error {
	var err error
	for attempt := 1; attempt <= dl.SyncAttempts; attempt++ {
		if err = dl.phy.SendDoubleBreak(); err != nil {
			return err
		}
		if err = dl.init(); err == nil {
			log.Print("UPDI link initialised")
			return nil
		}
		log.Printf("UPDI init attempt %d failed: %v", attempt, err)
	}
	return &InitError{Attempts: dl.SyncAttempts, Err: err}
}

func (dl *Datalink) init() error {
	if err := dl.STCS(CSCtrlB, 1<<CtrlBCCDetDisBit); err != nil {
		return err
	}
	if err := dl.STCS(CSCtrlA, 1<<CtrlAIBDlyBit); err != nil {
		return err
	}

	status, err := dl.LDCS(CSStatusA)
	if err != nil {
		return err
	}
	if status == 0 {
		return fmt.Errorf("STATUSA reads zero, target not in UPDI mode")
	}
	return nil
}

// LDCS reads a byte from control/status space.
func (dl *Datalink) LDCS(address byte) (byte, error) {
	log.Printf("LDCS from 0x%02X", address)
	if err := dl.phy.Send([]byte{syncChar, opLDCS | address&0x0F}); err != nil {
		return 0, err
	}
	resp, err := dl.phy.Receive(1)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// STCS writes a byte to control/status space. STCS carries no ACK.
func (dl *Datalink) STCS(address, value byte) error {
	log.Printf("STCS 0x%02X to 0x%02X", value, address)
	return dl.phy.Send([]byte{syncChar, opSTCS | address&0x0F, value})
}

func (dl *Datalink) addrWidth() byte {
	switch dl.AddressSize {
	case 1:
		return addr8
	case 3:
		return addr24
	default:
		return addr16
	}
}

func (dl *Datalink) appendAddr(buf []byte, address uint32) []byte {
	buf = append(buf, byte(address))
	if dl.AddressSize >= 2 {
		buf = append(buf, byte(address>>8))
	}
	if dl.AddressSize >= 3 {
		buf = append(buf, byte(address>>16))
	}
	return buf
}

// LDS loads a single byte from a directly addressed location.
func (dl *Datalink) LDS(address uint32) (byte, error) {
	log.Printf("LDS from 0x%06X", address)
	cmd := dl.appendAddr([]byte{syncChar, opLDS | dl.addrWidth() | data8}, address)
	if err := dl.phy.Send(cmd); err != nil {
		return 0, err
	}
	resp, err := dl.phy.Receive(1)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// STS stores a single byte to a directly addressed location. Both the
// address and data phases must be acknowledged.
func (dl *Datalink) STS(address uint32, value byte) error {
	log.Printf("STS 0x%02X to 0x%06X", value, address)
	cmd := dl.appendAddr([]byte{syncChar, opSTS | dl.addrWidth() | data8}, address)
	if err := dl.phy.Send(cmd); err != nil {
		return err
	}
	if err := dl.expectAck("STS address"); err != nil {
		return err
	}
	if err := dl.phy.Send([]byte{value}); err != nil {
		return err
	}
	return dl.expectAck("STS data")
}

func (dl *Datalink) expectAck(op string) error {
	resp, err := dl.phy.Receive(1)
	if err != nil {
		return err
	}
	if resp[0] != ackByte {
		return &AckError{Op: op, Got: resp[0]}
	}
	return nil
}

// StorePointer sets the indirect access pointer.
func (dl *Datalink) StorePointer(address uint32) error {
	log.Printf("ST ptr = 0x%06X", address)
	cmd := dl.appendAddr([]byte{syncChar, opST | ptrAddress | byte(dl.AddressSize-1)}, address)
	if err := dl.phy.Send(cmd); err != nil {
		return err
	}
	return dl.expectAck("ST ptr")
}

// LoadPointer reads back the indirect access pointer.
func (dl *Datalink) LoadPointer() (uint32, error) {
	log.Print("LD ptr")
	if err := dl.phy.Send([]byte{syncChar, opLD | ptrAddress | byte(dl.AddressSize-1)}); err != nil {
		return 0, err
	}
	resp, err := dl.phy.Receive(dl.AddressSize)
	if err != nil {
		return 0, err
	}
	var addr uint32
	for i := len(resp) - 1; i >= 0; i-- {
		addr = addr<<8 | uint32(resp[i])
	}
	return addr, nil
}

// Repeat arms the repeat counter so the next instruction executes count
// times. count must not exceed MaxBlockSize.
func (dl *Datalink) Repeat(count int) error {
	if count < 1 || count > MaxBlockSize {
		return fmt.Errorf("repeat count %d out of range 1..%d", count, MaxBlockSize)
	}
	log.Printf("Repeat %d", count)
	n := count - 1
	return dl.phy.Send([]byte{syncChar, opRepeat | repeatWord, byte(n), byte(n >> 8)})
}

// LoadPointerInc loads n bytes from the pointer location with
// post-increment, using a repeated transfer when n > 1.
func (dl *Datalink) LoadPointerInc(n int) ([]byte, error) {
	if n > 1 {
		if err := dl.Repeat(n); err != nil {
			return nil, err
		}
	}
	log.Printf("LD8 *ptr++ x%d", n)
	if err := dl.phy.Send([]byte{syncChar, opLD | ptrInc | data8}); err != nil {
		return nil, err
	}
	return dl.phy.Receive(n)
}

// LoadPointerIncWords loads words bytes-pairs from the pointer location
// with post-increment.
func (dl *Datalink) LoadPointerIncWords(words int) ([]byte, error) {
	if words > 1 {
		if err := dl.Repeat(words); err != nil {
			return nil, err
		}
	}
	log.Printf("LD16 *ptr++ x%d", words)
	if err := dl.phy.Send([]byte{syncChar, opLD | ptrInc | data16}); err != nil {
		return nil, err
	}
	return dl.phy.Receive(words * 2)
}

// StorePointerInc stores bytes to the pointer location with
// post-increment. Each byte is individually acknowledged.
func (dl *Datalink) StorePointerInc(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > 1 {
		if err := dl.Repeat(len(data)); err != nil {
			return err
		}
	}
	log.Printf("ST8 *ptr++ x%d", len(data))
	if err := dl.phy.Send([]byte{syncChar, opST | ptrInc | data8, data[0]}); err != nil {
		return err
	}
	if err := dl.expectAck("ST *ptr++"); err != nil {
		return err
	}
	for _, b := range data[1:] {
		if err := dl.phy.Send([]byte{b}); err != nil {
			return err
		}
		if err := dl.expectAck("ST *ptr++"); err != nil {
			return err
		}
	}
	return nil
}

// StorePointerIncWords stores byte pairs to the pointer location with
// post-increment. len(data) must be even. Each word is acknowledged.
func (dl *Datalink) StorePointerIncWords(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data)%2 != 0 {
		return fmt.Errorf("word store of odd length %d", len(data))
	}
	if len(data) > 2 {
		if err := dl.Repeat(len(data) / 2); err != nil {
			return err
		}
	}
	log.Printf("ST16 *ptr++ x%d", len(data)/2)
	if err := dl.phy.Send([]byte{syncChar, opST | ptrInc | data16, data[0], data[1]}); err != nil {
		return err
	}
	if err := dl.expectAck("ST16 *ptr++"); err != nil {
		return err
	}
	for i := 2; i < len(data); i += 2 {
		if err := dl.phy.Send(data[i : i+2]); err != nil {
			return err
		}
		if err := dl.expectAck("ST16 *ptr++"); err != nil {
			return err
		}
	}
	return nil
}

// Key presents an activation key. size is one of Key64/Key128 and the key
// is transmitted in reverse byte order. Keys are not acknowledged; their
// effect shows up in ASI_KEY_STATUS.
func (dl *Datalink) Key(size byte, key []byte) error {
	if len(key) != 8<<size {
		return fmt.Errorf("key length %d does not match size field %d", len(key), size)
	}
	log.Print("Writing key")
	if err := dl.phy.Send([]byte{syncChar, opKey | keyKey | size}); err != nil {
		return err
	}
	rev := make([]byte, len(key))
	for i, b := range key {
		rev[len(key)-1-i] = b
	}
	return dl.phy.Send(rev)
}

// ReadSIB reads the 16-byte system information block.
func (dl *Datalink) ReadSIB() ([]byte, error) {
	log.Print("Reading SIB")
	if err := dl.phy.Send([]byte{syncChar, opKey | keySIB | sib16Bytes}); err != nil {
		return nil, err
	}
	return dl.phy.Receive(16)
}

// ReadData loads up to MaxBlockSize bytes starting at address, using the
// pointer/repeat path. This is the bulk read primitive; callers chunk
// longer transfers.
func (dl *Datalink) ReadData(address uint32, size int) ([]byte, error) {
	log.Printf("Reading %d bytes from 0x%06X", size, address)
	if size > MaxBlockSize {
		return nil, fmt.Errorf("block read of %d exceeds %d", size, MaxBlockSize)
	}
	if err := dl.StorePointer(address); err != nil {
		return nil, err
	}
	return dl.LoadPointerInc(size)
}

// WriteData stores data starting at address with byte access. Short
// transfers go through direct stores; anything longer uses the
// pointer/repeat path, which is the throughput-critical page write route.
func (dl *Datalink) WriteData(address uint32, data []byte) error {
	log.Printf("Writing %d bytes to 0x%06X", len(data), address)
	switch {
	case len(data) == 0:
		return nil
	case len(data) == 1:
		return dl.STS(address, data[0])
	case len(data) == 2:
		if err := dl.STS(address, data[0]); err != nil {
			return err
		}
		return dl.STS(address+1, data[1])
	case len(data) > MaxBlockSize:
		return fmt.Errorf("block write of %d exceeds %d", len(data), MaxBlockSize)
	}

	if err := dl.StorePointer(address); err != nil {
		return err
	}
	return dl.StorePointerInc(data)
}

// WriteDataWords stores data starting at address with word access, as the
// flash page buffer requires. len(data) must be even.
func (dl *Datalink) WriteDataWords(address uint32, data []byte) error {
	log.Printf("Writing %d bytes (words) to 0x%06X", len(data), address)
	if len(data)%2 != 0 {
		return fmt.Errorf("word write of odd length %d", len(data))
	}
	if len(data)/2 > MaxBlockSize {
		return fmt.Errorf("block write of %d words exceeds %d", len(data)/2, MaxBlockSize)
	}
	if len(data) == 0 {
		return nil
	}

	if err := dl.StorePointer(address); err != nil {
		return err
	}
	return dl.StorePointerIncWords(data)
}
