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
)

// NotRespondingError indicates the target never came up on the UPDI link.
type NotRespondingError struct {
	Port string
	Err  error
}

func (e *NotRespondingError) Error() string {
	return fmt.Sprintf("session: no UPDI device responding on %s: %v", e.Port, e.Err)
}

func (e *NotRespondingError) Unwrap() error {
	return e.Err
}

// UnlockError indicates the target rejected an activation key or never
// reached the requested mode after the reset toggle.
type UnlockError struct {
	Reason    string
	KeyStatus byte
}

func (e *UnlockError) Error() string {
	return fmt.Sprintf("session: %s (ASI key status 0x%02X)", e.Reason, e.KeyStatus)
}

// StateError indicates an operation invalid for the session's current
// state, e.g. programming before unlock. This is an orchestration bug in
// the caller, not a device condition.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: %s not permitted in state %s", e.Op, e.State)
}

// VerifyError indicates post-write readback did not match the image. It
// reports the first differing absolute address.
type VerifyError struct {
	Address  uint32
	Expected byte
	Actual   byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("session: verify failed at 0x%06X: wrote 0x%02X, read 0x%02X",
		e.Address, e.Expected, e.Actual)
}

// SignatureError indicates the connected device's signature row does not
// match the selected target definition.
type SignatureError struct {
	Expected [3]byte
	Actual   [3]byte
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("session: device signature %02X%02X%02X does not match target (%02X%02X%02X)",
		e.Actual[0], e.Actual[1], e.Actual[2],
		e.Expected[0], e.Expected[1], e.Expected[2])
}

// ImageRangeError indicates image data at an address outside every
// programmable region of the target.
type ImageRangeError struct {
	Address uint32
	Length  int
}

func (e *ImageRangeError) Error() string {
	return fmt.Sprintf("session: image block 0x%06X+%d is outside every programmable region",
		e.Address, e.Length)
}
