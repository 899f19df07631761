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
package link_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mraardvark/pyupdi/link"
	"github.com/mraardvark/pyupdi/link/linktest"
)

func newDatalink(tgt *linktest.Target) (*link.Datalink, *linktest.Port) {
	port := linktest.NewPort(tgt)
	port.Baud = 115200
	phy := link.NewPhysical(port, 115200)
	phy.ReadTimeout = 20 * time.Millisecond
	return link.NewDatalink(phy), port
}

func TestConnect(t *testing.T) {
	tgt := linktest.NewTarget()
	dl, port := newDatalink(tgt)

	require.NoError(t, dl.Connect())

	assert.Equal(t, 2, port.Breaks)
	assert.Equal(t, byte(1<<link.CtrlBCCDetDisBit), tgt.CS[link.CSCtrlB])
	assert.Equal(t, byte(1<<link.CtrlAIBDlyBit), tgt.CS[link.CSCtrlA])
}

func TestConnectNoTarget(t *testing.T) {
	tgt := linktest.NewTarget()
	tgt.Silent = true
	dl, port := newDatalink(tgt)
	dl.SyncAttempts = 2

	err := dl.Connect()
	var ie *link.InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Attempts)
	// Every attempt starts with its own double break.
	assert.Equal(t, 4, port.Breaks)
}

func TestCSRoundTrip(t *testing.T) {
	dl, _ := newDatalink(linktest.NewTarget())

	require.NoError(t, dl.STCS(link.CSASICtrlA, 0x03))
	got, err := dl.LDCS(link.CSASICtrlA)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), got)
}

func TestDirectRoundTrip(t *testing.T) {
	tgt := linktest.NewTarget()
	dl, _ := newDatalink(tgt)

	require.NoError(t, dl.STS(0x1280, 0xAB))
	assert.Equal(t, byte(0xAB), tgt.Mem[0x1280])

	got, err := dl.LDS(0x1280)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), got)
}

func TestPointerRoundTrip(t *testing.T) {
	dl, _ := newDatalink(linktest.NewTarget())

	require.NoError(t, dl.StorePointer(0x1280))
	addr, err := dl.LoadPointer()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1280), addr)
}

func TestReadDataUsesRepeat(t *testing.T) {
	tgt := linktest.NewTarget()
	for i := 0; i < 64; i++ {
		tgt.Mem[0x8000+uint32(i)] = byte(i)
	}
	dl, _ := newDatalink(tgt)

	data, err := dl.ReadData(0x8000, 64)
	require.NoError(t, err)
	require.Len(t, data, 64)
	for i, b := range data {
		assert.Equal(t, byte(i), b)
	}
}

func TestReadDataBlockLimit(t *testing.T) {
	dl, _ := newDatalink(linktest.NewTarget())

	_, err := dl.ReadData(0x8000, link.MaxBlockSize+1)
	require.Error(t, err)
}

func TestWriteDataShortPaths(t *testing.T) {
	tgt := linktest.NewTarget()
	dl, _ := newDatalink(tgt)

	require.NoError(t, dl.WriteData(0x1400, []byte{0x11}))
	require.NoError(t, dl.WriteData(0x1402, []byte{0x22, 0x33}))

	assert.Equal(t, byte(0x11), tgt.Mem[0x1400])
	assert.Equal(t, byte(0x22), tgt.Mem[0x1402])
	assert.Equal(t, byte(0x33), tgt.Mem[0x1403])
}

func TestWriteDataBlock(t *testing.T) {
	tgt := linktest.NewTarget()
	dl, _ := newDatalink(tgt)

	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(0xA0 + i)
	}
	require.NoError(t, dl.WriteData(0x1400, data))

	for i, b := range data {
		assert.Equal(t, b, tgt.Mem[0x1400+uint32(i)])
	}
}

func TestWriteDataWords(t *testing.T) {
	tgt := linktest.NewTarget()
	dl, _ := newDatalink(tgt)

	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i * 3)
	}
	require.NoError(t, dl.WriteDataWords(0x8000, data))

	for i, b := range data {
		assert.Equal(t, b, tgt.Mem[0x8000+uint32(i)])
	}
}

func TestWriteDataWordsOddLength(t *testing.T) {
	dl, _ := newDatalink(linktest.NewTarget())
	require.Error(t, dl.WriteDataWords(0x8000, []byte{1, 2, 3}))
}

func TestRepeatRange(t *testing.T) {
	dl, _ := newDatalink(linktest.NewTarget())

	assert.Error(t, dl.Repeat(0))
	assert.Error(t, dl.Repeat(link.MaxBlockSize+1))
	assert.NoError(t, dl.Repeat(link.MaxBlockSize))
}

func TestKeyActivation(t *testing.T) {
	tgt := linktest.NewTarget()
	dl, _ := newDatalink(tgt)

	require.NoError(t, dl.Key(link.Key64, link.KeyNVMProg))
	assert.NotZero(t, tgt.CS[link.CSASIKeyStatus]&(1<<link.KeyStatusNVMProgBit))
}

func TestKeyLengthMismatch(t *testing.T) {
	dl, _ := newDatalink(linktest.NewTarget())
	require.Error(t, dl.Key(link.Key128, link.KeyNVMProg))
}

func TestReadSIB(t *testing.T) {
	tgt := linktest.NewTarget()
	dl, _ := newDatalink(tgt)

	sib, err := dl.ReadSIB()
	require.NoError(t, err)
	assert.Equal(t, tgt.SIB[:], sib)
}

func TestStoreAckError(t *testing.T) {
	tgt := linktest.NewTarget()
	tgt.CorruptReplies = 1
	dl, _ := newDatalink(tgt)

	err := dl.StorePointer(0x8000)
	var ae *link.AckError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "ST ptr", ae.Op)
	assert.Equal(t, byte(0xBF), ae.Got)
}
