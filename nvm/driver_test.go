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
package nvm_test

import (
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mraardvark/pyupdi/link"
	"github.com/mraardvark/pyupdi/link/linktest"
	"github.com/mraardvark/pyupdi/nvm"
	"github.com/mraardvark/pyupdi/target"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// testDevice matches the address map of the simulated target.
func testDevice() *target.Definition {
	return &target.Definition{
		Name:           "testdev",
		Signature:      [3]byte{0x1E, 0x93, 0x20},
		NVMCtrl:        0x1000,
		Sigrow:         0x1100,
		Syscfg:         0x0F00,
		FuseBase:       0x1280,
		FuseCount:      9,
		Lockbits:       0x128A,
		UserRowBase:    0x1300,
		UserRowSize:    32,
		EEPROMBase:     0x1400,
		EEPROMSize:     128,
		EEPROMPageSize: 32,
		FlashBase:      0x8000,
		FlashSize:      8192,
		FlashPageSize:  64,
	}
}

func newDriver(tgt *linktest.Target) *nvm.Driver {
	port := linktest.NewPort(tgt)
	port.Baud = 115200
	phy := link.NewPhysical(port, 115200)
	phy.ReadTimeout = 20 * time.Millisecond

	drv := nvm.New(link.NewDatalink(phy), testDevice())
	drv.ReadyTimeout = 20 * time.Millisecond
	drv.PollInterval = time.Millisecond
	return drv
}

func TestWaitReadyBusyThenReady(t *testing.T) {
	tgt := linktest.NewTarget()
	tgt.StatusSeq = []byte{0x01, 0x01, 0x00}

	drv := newDriver(tgt)
	require.NoError(t, drv.WaitReady())
	assert.Empty(t, tgt.StatusSeq)
}

func TestWaitReadyBusyTimeout(t *testing.T) {
	tgt := linktest.NewTarget()
	tgt.Mem[0x1002] = 0x02 // EEPROM busy forever

	drv := newDriver(tgt)
	err := drv.WaitReady()
	var be *nvm.BusyTimeoutError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, byte(0x02), be.Status)
	assert.Equal(t, drv.ReadyTimeout, be.Timeout)
}

func TestWaitReadyWriteError(t *testing.T) {
	tgt := linktest.NewTarget()
	tgt.StatusSeq = []byte{0x04}

	drv := newDriver(tgt)
	err := drv.WaitReady()
	var ce *nvm.ControllerError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, byte(0x04), ce.Status)
}

func TestChipErase(t *testing.T) {
	tgt := linktest.NewTarget()
	tgt.Mem[0x8010] = 0x42

	drv := newDriver(tgt)
	require.NoError(t, drv.ChipErase())

	assert.Equal(t, []byte{0x05}, tgt.Commands)
	_, present := tgt.Mem[0x8010]
	assert.False(t, present, "flash should read erased after chip erase")
}

func TestEraseEEPROM(t *testing.T) {
	tgt := linktest.NewTarget()
	drv := newDriver(tgt)

	require.NoError(t, drv.EraseEEPROM())
	assert.Equal(t, []byte{0x06}, tgt.Commands)
}

func TestWritePageFlash(t *testing.T) {
	tgt := linktest.NewTarget()
	drv := newDriver(tgt)

	page := make([]byte, 64)
	for i := range page {
		page[i] = byte(i)
	}
	require.NoError(t, drv.WritePage(nvm.Flash, 64, page))

	// Page buffer clear first, then the write page commit.
	assert.Equal(t, []byte{0x04, 0x01}, tgt.Commands)
	for i, b := range page {
		assert.Equal(t, b, tgt.Mem[0x8040+uint32(i)])
	}
}

func TestWritePageEEPROM(t *testing.T) {
	tgt := linktest.NewTarget()
	drv := newDriver(tgt)

	page := make([]byte, 32)
	for i := range page {
		page[i] = byte(0x80 + i)
	}
	require.NoError(t, drv.WritePage(nvm.EEPROM, 32, page))

	// EEPROM commits with erase-write, no separate erase pass.
	assert.Equal(t, []byte{0x04, 0x03}, tgt.Commands)
	for i, b := range page {
		assert.Equal(t, b, tgt.Mem[0x1420+uint32(i)])
	}
}

func TestWritePageValidation(t *testing.T) {
	drv := newDriver(linktest.NewTarget())

	var pe *nvm.PageSizeError
	err := drv.WritePage(nvm.Flash, 0, make([]byte, 32))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 32, pe.Length)
	assert.Equal(t, 64, pe.PageSize)

	var ae *nvm.AlignmentError
	err = drv.WritePage(nvm.Flash, 33, make([]byte, 64))
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, uint32(33), ae.Offset)

	var re *nvm.RangeError
	err = drv.WritePage(nvm.Flash, 8192, make([]byte, 64))
	require.ErrorAs(t, err, &re)

	// Fuses are not paged and never go through the page buffer.
	err = drv.WritePage(nvm.Fuses, 0, []byte{0x00})
	require.ErrorAs(t, err, &ae)
}

func TestReadBytesChunked(t *testing.T) {
	tgt := linktest.NewTarget()
	for i := 0; i < 300; i++ {
		tgt.Mem[0x8000+uint32(i)] = byte(i * 7)
	}

	drv := newDriver(tgt)
	data, err := drv.ReadBytes(nvm.Flash, 0, 300)
	require.NoError(t, err)
	require.Len(t, data, 300)
	for i, b := range data {
		assert.Equal(t, byte(i*7), b)
	}
}

func TestReadBytesRange(t *testing.T) {
	drv := newDriver(linktest.NewTarget())

	_, err := drv.ReadBytes(nvm.EEPROM, 120, 16)
	var re *nvm.RangeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, nvm.EEPROM, re.Region)
}

func TestFuseRoundTrip(t *testing.T) {
	tgt := linktest.NewTarget()
	drv := newDriver(tgt)

	require.NoError(t, drv.WriteFuse(1, 0x5C))
	assert.Contains(t, tgt.Commands, byte(0x07))
	assert.Equal(t, byte(0x5C), tgt.Mem[0x1281])

	got, err := drv.ReadFuse(1)
	require.NoError(t, err)
	assert.Equal(t, byte(0x5C), got)
}

func TestWriteLock(t *testing.T) {
	tgt := linktest.NewTarget()
	drv := newDriver(tgt)

	require.NoError(t, drv.WriteLock(0xFC))
	assert.Equal(t, byte(0xFC), tgt.Mem[0x128A])

	got, err := drv.ReadLock()
	require.NoError(t, err)
	assert.Equal(t, byte(0xFC), got)
}

// countingDatalink records how many register accesses reach the wire.
type countingDatalink struct {
	calls int
}

func (c *countingDatalink) LDCS(address byte) (byte, error)  { c.calls++; return 0, nil }
func (c *countingDatalink) STCS(address, value byte) error   { c.calls++; return nil }
func (c *countingDatalink) LDS(address uint32) (byte, error) { c.calls++; return 0, nil }
func (c *countingDatalink) STS(address uint32, value byte) error {
	c.calls++
	return nil
}
func (c *countingDatalink) ReadData(address uint32, size int) ([]byte, error) {
	c.calls++
	return make([]byte, size), nil
}
func (c *countingDatalink) WriteData(address uint32, data []byte) error {
	c.calls++
	return nil
}
func (c *countingDatalink) WriteDataWords(address uint32, data []byte) error {
	c.calls++
	return nil
}
func (c *countingDatalink) Key(size byte, key []byte) error { c.calls++; return nil }
func (c *countingDatalink) ReadSIB() ([]byte, error)        { c.calls++; return make([]byte, 16), nil }

func TestFuseIndexValidatedBeforeTransport(t *testing.T) {
	dl := &countingDatalink{}
	drv := nvm.New(dl, testDevice())

	var fe *nvm.FuseIndexError
	err := drv.WriteFuse(9, 0x00)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 9, fe.Index)
	assert.Equal(t, 9, fe.Count)

	_, err = drv.ReadFuse(-1)
	require.ErrorAs(t, err, &fe)

	assert.Zero(t, dl.calls)
}
