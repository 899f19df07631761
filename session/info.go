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
package session

import (
	"fmt"
	"strings"

	"github.com/mraardvark/pyupdi/link"
)

// Info describes the connected device as reported over UPDI.
type Info struct {
	// Raw system information block
	SIB string

	// Decoded SIB fields
	Family      string
	NVMVersion  byte
	OCDVersion  byte
	OscFreq     byte
	PDIRevision byte

	// Signature and die revision; only valid in programming mode
	Signature [3]byte
	Revision  string
}

func (i *Info) String() string {
	s := fmt.Sprintf("%s, NVM rev %c, OCD rev %c, PDI osc %cMHz, PDI rev %d",
		i.Family, i.NVMVersion, i.OCDVersion, i.OscFreq, i.PDIRevision)
	if i.Revision != "" {
		s += fmt.Sprintf(", signature %02X%02X%02X rev %s",
			i.Signature[0], i.Signature[1], i.Signature[2], i.Revision)
	}
	return s
}

// Info reads the system information block and, when the session is in
// programming mode, the signature row and die revision.
func (s *Session) Info() (*Info, error) {
	if s.state == StateClosed {
		return nil, &StateError{Op: "device info", State: s.state}
	}

	sib, err := s.dl.ReadSIB()
	if err != nil {
		return nil, s.fail(err)
	}

	statusA, err := s.dl.LDCS(link.CSStatusA)
	if err != nil {
		return nil, s.fail(err)
	}

	info := &Info{
		SIB:         string(sib),
		Family:      strings.TrimSpace(string(sib[0:7])),
		NVMVersion:  sib[10],
		OCDVersion:  sib[13],
		OscFreq:     sib[15],
		PDIRevision: statusA >> 4,
	}

	if ok, err := s.inProgMode(); err == nil && ok {
		sig, err := s.dl.ReadData(s.dev.Sigrow, 3)
		if err != nil {
			return nil, s.fail(err)
		}
		copy(info.Signature[:], sig)

		rev, err := s.dl.ReadData(s.dev.Syscfg+1, 1)
		if err != nil {
			return nil, s.fail(err)
		}
		info.Revision = string(rune('A' + rev[0]))
	}

	return info, nil
}
