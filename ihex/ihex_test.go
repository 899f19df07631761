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
package ihex_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mraardvark/pyupdi/ihex"
)

func TestNewSortsSegments(t *testing.T) {
	img, err := ihex.New(
		ihex.Segment{Address: 0x40, Data: []byte{4, 5}},
		ihex.Segment{Address: 0x00, Data: []byte{1, 2, 3}},
	)
	require.NoError(t, err)

	segs := img.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, uint32(0x00), segs[0].Address)
	assert.Equal(t, uint32(0x40), segs[1].Address)
	assert.Equal(t, uint32(0x00), img.Min())
	assert.Equal(t, uint32(0x42), img.Max())
	assert.Equal(t, 5, img.Size())
}

func TestNewRejectsOverlap(t *testing.T) {
	_, err := ihex.New(
		ihex.Segment{Address: 0x00, Data: []byte{1, 2, 3, 4}},
		ihex.Segment{Address: 0x02, Data: []byte{9}},
	)
	require.Error(t, err)
}

func TestNewDropsEmptySegments(t *testing.T) {
	img, err := ihex.New(ihex.Segment{Address: 0x10})
	require.NoError(t, err)
	assert.True(t, img.Empty())
}

func TestLoad(t *testing.T) {
	hex := strings.Join([]string{
		":0400000001020304F2",
		":00000001FF",
	}, "\n")

	img, err := ihex.Load(strings.NewReader(hex))
	require.NoError(t, err)

	segs := img.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, uint32(0), segs[0].Address)
	assert.Equal(t, []byte{1, 2, 3, 4}, segs[0].Data)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	img, err := ihex.New(
		ihex.Segment{Address: 0x0000, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		ihex.Segment{Address: 0x0100, Data: bytes.Repeat([]byte{0x5A}, 40)},
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, img.Dump(&buf))

	back, err := ihex.Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Segments(), back.Segments())
}

func TestShift(t *testing.T) {
	img, err := ihex.New(ihex.Segment{Address: 0x100, Data: []byte{1, 2}})
	require.NoError(t, err)

	shifted := img.Shift(0x8000)
	assert.Equal(t, uint32(0x8100), shifted.Min())
	// The original is untouched.
	assert.Equal(t, uint32(0x100), img.Min())
}

func TestSliceClips(t *testing.T) {
	img, err := ihex.New(
		ihex.Segment{Address: 0x10, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		ihex.Segment{Address: 0x40, Data: []byte{9}},
	)
	require.NoError(t, err)

	sub := img.Slice(0x12, 4)
	segs := sub.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, uint32(0x12), segs[0].Address)
	assert.Equal(t, []byte{3, 4, 5, 6}, segs[0].Data)

	assert.True(t, img.Slice(0x1000, 16).Empty())
}

func TestPagesPadding(t *testing.T) {
	img, err := ihex.New(ihex.Segment{Address: 0x800A, Data: []byte{1, 2, 3, 4}})
	require.NoError(t, err)

	pages := img.Pages(0x8000, 16)
	require.Len(t, pages, 1)
	assert.Equal(t, uint32(0), pages[0].Offset)

	want := bytes.Repeat([]byte{0xFF}, 16)
	copy(want[10:], []byte{1, 2, 3, 4})
	assert.Equal(t, want, pages[0].Data)
}

func TestPagesSpanning(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	img, err := ihex.New(ihex.Segment{Address: 0x8000, Data: data})
	require.NoError(t, err)

	pages := img.Pages(0x8000, 64)
	require.Len(t, pages, 2)
	assert.Equal(t, uint32(0), pages[0].Offset)
	assert.Equal(t, uint32(64), pages[1].Offset)
	assert.Equal(t, data[:64], pages[0].Data)
	assert.Equal(t, data[64:], pages[1].Data[:36])
	// The tail of the last page is erased-state padding.
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 28), pages[1].Data[36:])
}

func TestPagesSkipUntouched(t *testing.T) {
	img, err := ihex.New(
		ihex.Segment{Address: 0x8000, Data: []byte{1}},
		ihex.Segment{Address: 0x8080, Data: []byte{2}},
	)
	require.NoError(t, err)

	pages := img.Pages(0x8000, 64)
	require.Len(t, pages, 2)
	assert.Equal(t, uint32(0x00), pages[0].Offset)
	assert.Equal(t, uint32(0x80), pages[1].Offset)
}
