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
package nvm

import (
	"log"
	"time"

	"github.com/mraardvark/pyupdi/link"
	"github.com/mraardvark/pyupdi/target"
)

// NVM controller register offsets.
const (
	regCtrlA  = 0x00
	regCtrlB  = 0x01
	regStatus = 0x02
	regDataL  = 0x06
	regDataH  = 0x07
	regAddrL  = 0x08
	regAddrH  = 0x09
)

// NVM controller status bits.
const (
	statusFlashBusyBit  = 0
	statusEEPROMBusyBit = 1
	statusWriteErrorBit = 2
)

// NVM controller commands (CTRLA).
const (
	cmdWritePage       = 0x01
	cmdErasePage       = 0x02
	cmdEraseWritePage  = 0x03
	cmdPageBufferClear = 0x04
	cmdChipErase       = 0x05
	cmdEraseEEPROM     = 0x06
	cmdWriteFuse       = 0x07
)

// Polling defaults for WaitReady. Chip erase takes tens of milliseconds;
// page writes are far quicker. The deadline is wall clock, not a retry
// count, because busy duration depends on the target clock and operation.
const (
	DefaultReadyTimeout = time.Second
	DefaultPollInterval = time.Millisecond
)

// Datalink is the register access surface the driver needs from the UPDI
// datalink layer. *link.Datalink implements it; tests substitute a
// simulated target.
type Datalink interface {
	LDCS(address byte) (byte, error)
	STCS(address, value byte) error
	LDS(address uint32) (byte, error)
	STS(address uint32, value byte) error
	ReadData(address uint32, size int) ([]byte, error)
	WriteData(address uint32, data []byte) error
	WriteDataWords(address uint32, data []byte) error
	Key(size byte, key []byte) error
	ReadSIB() ([]byte, error)
}

// Driver sequences NVM controller commands for one target device. All
// mutating operations end with a bounded wait for the controller to go
// idle, so a returned nil really means the bytes are in silicon.
type Driver struct {
	dl  Datalink
	dev *target.Definition

	ReadyTimeout time.Duration
	PollInterval time.Duration
}

// New creates a driver over an established datalink.
func New(dl Datalink, dev *target.Definition) *Driver {
	return &Driver{
		dl:           dl,
		dev:          dev,
		ReadyTimeout: DefaultReadyTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Device returns the driver's device definition.
func (d *Driver) Device() *target.Definition {
	return d.dev
}

// WaitReady polls the controller status until neither flash nor EEPROM is
// busy, the deadline expires, or the controller flags a write error.
func (d *Driver) WaitReady() error {
	deadline := time.Now().Add(d.ReadyTimeout)
	for {
		status, err := d.dl.LDS(d.dev.NVMCtrl + regStatus)
		if err != nil {
			return err
		}
		if status&(1<<statusWriteErrorBit) != 0 {
			return &ControllerError{Status: status}
		}
		if status&((1<<statusFlashBusyBit)|(1<<statusEEPROMBusyBit)) == 0 {
			return nil
		}
		if !time.Now().Before(deadline) {
			return &BusyTimeoutError{Status: status, Timeout: d.ReadyTimeout}
		}
		time.Sleep(d.PollInterval)
	}
}

func (d *Driver) command(cmd byte) error {
	log.Printf("NVM command 0x%02X", cmd)
	return d.dl.STS(d.dev.NVMCtrl+regCtrlA, cmd)
}

// ChipErase erases all of flash and EEPROM through the NVM controller.
// Only possible on an unlocked device; locked parts need the chip erase
// key instead.
func (d *Driver) ChipErase() error {
	log.Print("Chip erase")
	if err := d.WaitReady(); err != nil {
		return err
	}
	if err := d.command(cmdChipErase); err != nil {
		return err
	}
	return d.WaitReady()
}

// EraseEEPROM erases the EEPROM only.
func (d *Driver) EraseEEPROM() error {
	log.Print("EEPROM erase")
	if err := d.WaitReady(); err != nil {
		return err
	}
	if err := d.command(cmdEraseEEPROM); err != nil {
		return err
	}
	return d.WaitReady()
}

// WritePage programs exactly one page of a paged region: clear the page
// buffer, load it over the datalink, commit, wait for idle. data must be
// a full page and offset must be page aligned: the flash hardware
// programs fixed-size blocks, and a misaligned write would corrupt the
// neighbouring page.
func (d *Driver) WritePage(region Region, offset uint32, data []byte) error {
	l := layoutFor(d.dev, region)
	if !l.paged {
		return &AlignmentError{Region: region, Offset: offset, PageSize: l.page}
	}
	if len(data) != l.page {
		return &PageSizeError{Region: region, Length: len(data), PageSize: l.page}
	}
	if offset%uint32(l.page) != 0 {
		return &AlignmentError{Region: region, Offset: offset, PageSize: l.page}
	}
	if int(offset)+len(data) > l.size {
		return &RangeError{Region: region, Offset: offset, Length: len(data), Size: l.size}
	}

	log.Printf("Writing %s page at 0x%04X", region, offset)

	if err := d.WaitReady(); err != nil {
		return err
	}
	if err := d.command(cmdPageBufferClear); err != nil {
		return err
	}
	if err := d.WaitReady(); err != nil {
		return err
	}

	addr := l.base + offset
	var err error
	if l.wordAccess {
		err = d.dl.WriteDataWords(addr, data)
	} else {
		err = d.dl.WriteData(addr, data)
	}
	if err != nil {
		return err
	}

	if err := d.command(l.commitCmd); err != nil {
		return err
	}
	return d.WaitReady()
}

// ReadBytes reads an arbitrary extent of a region. No alignment is
// required; transfers are chunked to the repeat limit.
func (d *Driver) ReadBytes(region Region, offset uint32, length int) ([]byte, error) {
	l := layoutFor(d.dev, region)
	if int(offset)+length > l.size {
		return nil, &RangeError{Region: region, Offset: offset, Length: length, Size: l.size}
	}

	out := make([]byte, 0, length)
	addr := l.base + offset
	for length > 0 {
		n := length
		if n > link.MaxBlockSize {
			n = link.MaxBlockSize
		}
		chunk, err := d.dl.ReadData(addr, n)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		addr += uint32(n)
		length -= n
	}
	return out, nil
}

// ReadFuse reads a single fuse byte.
func (d *Driver) ReadFuse(index int) (byte, error) {
	if index < 0 || index >= d.dev.FuseCount {
		return 0, &FuseIndexError{Index: index, Count: d.dev.FuseCount}
	}
	return d.dl.LDS(d.dev.FuseBase + uint32(index))
}

// WriteFuse writes a single fuse byte. The index is validated before any
// traffic reaches the wire.
func (d *Driver) WriteFuse(index int, value byte) error {
	if index < 0 || index >= d.dev.FuseCount {
		return &FuseIndexError{Index: index, Count: d.dev.FuseCount}
	}
	log.Printf("Writing fuse %d = 0x%02X", index, value)
	return d.writeFuseAt(d.dev.FuseBase+uint32(index), value)
}

// ReadLock reads the lock byte.
func (d *Driver) ReadLock() (byte, error) {
	return d.dl.LDS(d.dev.Lockbits)
}

// WriteLock writes the lock byte; it shares the fuse write machinery.
func (d *Driver) WriteLock(value byte) error {
	log.Printf("Writing lock byte 0x%02X", value)
	return d.writeFuseAt(d.dev.Lockbits, value)
}

// writeFuseAt stages address and data in the NVM controller registers and
// issues the fuse write command. Fuses are not paged and cannot go
// through the page buffer.
func (d *Driver) writeFuseAt(address uint32, value byte) error {
	if err := d.WaitReady(); err != nil {
		return err
	}
	if err := d.dl.STS(d.dev.NVMCtrl+regAddrL, byte(address)); err != nil {
		return err
	}
	if err := d.dl.STS(d.dev.NVMCtrl+regAddrH, byte(address>>8)); err != nil {
		return err
	}
	if err := d.dl.STS(d.dev.NVMCtrl+regDataL, value); err != nil {
		return err
	}
	if err := d.command(cmdWriteFuse); err != nil {
		return err
	}
	return d.WaitReady()
}
