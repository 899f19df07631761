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
	"fmt"
	"time"
)

// BusyTimeoutError indicates the NVM controller stayed busy past the
// configured deadline. Status carries the last value read from the
// controller status register for diagnosis.
type BusyTimeoutError struct {
	Status  byte
	Timeout time.Duration
}

func (e *BusyTimeoutError) Error() string {
	return fmt.Sprintf("nvm: controller busy after %v (status 0x%02X)", e.Timeout, e.Status)
}

// ControllerError indicates the controller flagged a write error.
type ControllerError struct {
	Status byte
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("nvm: controller reports write error (status 0x%02X)", e.Status)
}

// AlignmentError indicates a page write at an offset that is not a
// multiple of the region's page size. Nothing was written.
type AlignmentError struct {
	Region   Region
	Offset   uint32
	PageSize int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("nvm: %s offset 0x%04X is not aligned to %d-byte pages",
		e.Region, e.Offset, e.PageSize)
}

// PageSizeError indicates a page write whose data length is not exactly
// one page. Nothing was written.
type PageSizeError struct {
	Region   Region
	Length   int
	PageSize int
}

func (e *PageSizeError) Error() string {
	return fmt.Sprintf("nvm: %s page write of %d bytes, page size is %d",
		e.Region, e.Length, e.PageSize)
}

// RangeError indicates an access extending past the end of a region.
type RangeError struct {
	Region Region
	Offset uint32
	Length int
	Size   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("nvm: %s access at 0x%04X+%d exceeds region size %d",
		e.Region, e.Offset, e.Length, e.Size)
}

// FuseIndexError indicates a fuse index outside the device's fuse map.
// The transport is never touched for such a request.
type FuseIndexError struct {
	Index int
	Count int
}

func (e *FuseIndexError) Error() string {
	return fmt.Sprintf("nvm: fuse index %d out of range, device has %d fuses", e.Index, e.Count)
}
