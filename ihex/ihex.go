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

// Package ihex holds sparse memory images and their Intel HEX
// serialisation. An Image is an ascending sequence of non-overlapping
// byte ranges at absolute target addresses.
package ihex

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/marcinbor85/gohex"
)

// Segment is one contiguous byte range of an image.
type Segment struct {
	Address uint32
	Data    []byte
}

// Image is a sparse memory image: segments sorted by address, none
// overlapping or empty.
type Image struct {
	segments []Segment
}

// New builds an image from segments, sorting them and rejecting overlaps.
func New(segments ...Segment) (*Image, error) {
	segs := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if len(s.Data) == 0 {
			continue
		}
		segs = append(segs, s)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })

	for i := 1; i < len(segs); i++ {
		prev := segs[i-1]
		if prev.Address+uint32(len(prev.Data)) > segs[i].Address {
			return nil, fmt.Errorf("ihex: segments 0x%04X+%d and 0x%04X overlap",
				prev.Address, len(prev.Data), segs[i].Address)
		}
	}
	return &Image{segments: segs}, nil
}

// Load parses Intel HEX data into an image.
func Load(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("ihex: %w", err)
	}

	var segs []Segment
	for _, s := range mem.GetDataSegments() {
		segs = append(segs, Segment{Address: s.Address, Data: s.Data})
	}
	return New(segs...)
}

// LoadFile parses an Intel HEX file into an image.
func LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Dump writes the image as Intel HEX, 16 data bytes per record.
func (im *Image) Dump(w io.Writer) error {
	mem := gohex.NewMemory()
	for _, s := range im.segments {
		if err := mem.AddBinary(s.Address, s.Data); err != nil {
			return fmt.Errorf("ihex: %w", err)
		}
	}
	return mem.DumpIntelHex(w, 16)
}

// Segments returns the image's ranges in ascending address order.
func (im *Image) Segments() []Segment {
	return im.segments
}

// Empty reports whether the image holds no data.
func (im *Image) Empty() bool {
	return len(im.segments) == 0
}

// Size returns the total number of data bytes.
func (im *Image) Size() int {
	n := 0
	for _, s := range im.segments {
		n += len(s.Data)
	}
	return n
}

// Min returns the lowest address present. Only meaningful when not empty.
func (im *Image) Min() uint32 {
	if len(im.segments) == 0 {
		return 0
	}
	return im.segments[0].Address
}

// Max returns one past the highest address present.
func (im *Image) Max() uint32 {
	if len(im.segments) == 0 {
		return 0
	}
	last := im.segments[len(im.segments)-1]
	return last.Address + uint32(len(last.Data))
}

// Shift returns a copy of the image with delta added to every address.
// Hex files for flash are commonly assembled at offset zero; shifting by
// the flash base turns them into absolute target addresses.
func (im *Image) Shift(delta uint32) *Image {
	segs := make([]Segment, len(im.segments))
	for i, s := range im.segments {
		segs[i] = Segment{Address: s.Address + delta, Data: s.Data}
	}
	return &Image{segments: segs}
}

// Slice returns the sub-image overlapping the window [base, base+size),
// with segments clipped to the window.
func (im *Image) Slice(base uint32, size int) *Image {
	end := base + uint32(size)
	var segs []Segment
	for _, s := range im.segments {
		sEnd := s.Address + uint32(len(s.Data))
		if sEnd <= base || s.Address >= end {
			continue
		}
		lo, hi := s.Address, sEnd
		if lo < base {
			lo = base
		}
		if hi > end {
			hi = end
		}
		segs = append(segs, Segment{
			Address: lo,
			Data:    s.Data[lo-s.Address : hi-s.Address],
		})
	}
	return &Image{segments: segs}
}

// Page is one page-aligned, page-sized write unit. Offset is relative to
// the region base. Bytes not covered by the image are padded with 0xFF,
// the erased state of AVR NVM.
type Page struct {
	Offset uint32
	Data   []byte
}

// Pages splits the image into the page-sized chunks needed to program a
// region starting at base, in ascending order. Only pages actually
// touched by image data are emitted.
func (im *Image) Pages(base uint32, pageSize int) []Page {
	var pages []Page
	var cur *Page

	for _, s := range im.segments {
		for i, b := range s.Data {
			off := s.Address + uint32(i) - base
			pageOff := off - off%uint32(pageSize)

			if cur == nil || cur.Offset != pageOff {
				data := make([]byte, pageSize)
				for j := range data {
					data[j] = 0xFF
				}
				pages = append(pages, Page{Offset: pageOff, Data: data})
				cur = &pages[len(pages)-1]
			}
			cur.Data[off-pageOff] = b
		}
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Offset < pages[j].Offset })
	return pages
}
