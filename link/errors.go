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
)

// InitError indicates the target never answered the break/sync handshake.
// The link layer retries the handshake a bounded number of times before
// giving up; nothing else in the stack retries.
type InitError struct {
	Attempts int
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("link: initialisation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a read completed short of the expected byte count
// before the deadline.
type TimeoutError struct {
	Op       string
	Expected int
	Received int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("link: timeout during %s: got %d of %d bytes", e.Op, e.Received, e.Expected)
}

// AckError indicates the target answered a multi-byte store with something
// other than the ACK byte. The store must not be assumed to have happened.
type AckError struct {
	Op  string
	Got byte
}

func (e *AckError) Error() string {
	return fmt.Sprintf("link: %s not acknowledged: got 0x%02X, expected 0x%02X", e.Op, e.Got, ackByte)
}

// EchoError indicates the byte looped back from our own transmission did
// not match what was sent, which means something else drove the wire.
type EchoError struct {
	Sent byte
	Got  byte
}

func (e *EchoError) Error() string {
	return fmt.Sprintf("link: echo mismatch: sent 0x%02X, read back 0x%02X (bus contention?)", e.Sent, e.Got)
}
