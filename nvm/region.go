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

	"github.com/mraardvark/pyupdi/target"
)

// Region names a programmable memory region of the target.
type Region int

const (
	Flash Region = iota
	EEPROM
	UserRow
	Fuses
	Lockbits
)

func (r Region) String() string {
	switch r {
	case Flash:
		return "flash"
	case EEPROM:
		return "eeprom"
	case UserRow:
		return "userrow"
	case Fuses:
		return "fuses"
	case Lockbits:
		return "lockbits"
	default:
		return fmt.Sprintf("region(%d)", int(r))
	}
}

// layout resolves a region against a device definition: base address,
// total size, page size, page buffer access width and the NVM command
// that commits a loaded page.
//
// Flash pages must be loaded with word access and committed with a plain
// page write (the page is already erased). EEPROM and user row use byte
// access and erase-write, so stale contents never need a separate erase
// pass. Fuses and lock bits are not paged at all; they go through the
// fuse write command.
type regionLayout struct {
	base       uint32
	size       int
	page       int
	wordAccess bool
	commitCmd  byte
	paged      bool
}

func layoutFor(dev *target.Definition, r Region) regionLayout {
	switch r {
	case Flash:
		return regionLayout{
			base:       dev.FlashBase,
			size:       dev.FlashSize,
			page:       dev.FlashPageSize,
			wordAccess: true,
			commitCmd:  cmdWritePage,
			paged:      true,
		}
	case EEPROM:
		return regionLayout{
			base:      dev.EEPROMBase,
			size:      dev.EEPROMSize,
			page:      dev.EEPROMPageSize,
			commitCmd: cmdEraseWritePage,
			paged:     true,
		}
	case UserRow:
		return regionLayout{
			base:      dev.UserRowBase,
			size:      dev.UserRowSize,
			page:      dev.UserRowSize,
			commitCmd: cmdEraseWritePage,
			paged:     true,
		}
	case Fuses:
		return regionLayout{
			base: dev.FuseBase,
			size: dev.FuseCount,
			page: 1,
		}
	case Lockbits:
		return regionLayout{
			base: dev.Lockbits,
			size: 1,
			page: 1,
		}
	default:
		panic("unknown region " + r.String())
	}
}

// RegionFor maps an absolute target address to the region containing it.
func RegionFor(dev *target.Definition, address uint32) (Region, bool) {
	for _, r := range []Region{Flash, EEPROM, UserRow, Fuses, Lockbits} {
		l := layoutFor(dev, r)
		if address >= l.base && address < l.base+uint32(l.size) {
			return r, true
		}
	}
	return 0, false
}

// RegionBase returns the base address of a region on the given device.
func RegionBase(dev *target.Definition, r Region) uint32 {
	return layoutFor(dev, r).base
}

// RegionSize returns the size in bytes of a region on the given device.
func RegionSize(dev *target.Definition, r Region) int {
	return layoutFor(dev, r).size
}

// RegionPageSize returns the programming granule of a region. Non-paged
// regions report 1.
func RegionPageSize(dev *target.Definition, r Region) int {
	return layoutFor(dev, r).page
}
