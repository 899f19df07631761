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
	"log"
	"time"

	"go.bug.st/serial"
)

// Baud rate used for the double break. A zero frame at 300 baud holds the
// line low for around 30ms, well past the 24 bit times the target needs to
// recognise a break at any working baud rate.
const breakBaud = 300

// DefaultReadTimeout bounds every byte-level read on the wire.
const DefaultReadTimeout = time.Second

// How long the port blocks per Read call. Receive loops on this until its
// own wall-clock deadline expires.
const portReadTimeout = 50 * time.Millisecond

// Physical drives the half-duplex UPDI wire through a TTL serial adapter
// whose TX and RX are tied together through a series resistor. UPDI frames
// are 8 data bits, even parity, two stop bits. Because the wire is shared,
// every transmitted byte arrives back on the receive side and has to be
// stripped before any genuine reply can be read; that stripping happens
// here, in Send, and nowhere else.
type Physical struct {
	port        serial.Port
	name        string
	baud        int
	ReadTimeout time.Duration
}

func portMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}
}

// OpenPhysical opens the named serial port at the working baud rate.
func OpenPhysical(name string, baud int) (*Physical, error) {
	log.Printf("Opening %s at %d baud", name, baud)
	port, err := serial.Open(name, portMode(baud))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}

	p := NewPhysical(port, baud)
	p.name = name
	if err := port.SetReadTimeout(portReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("configuring %s: %w", name, err)
	}
	return p, nil
}

// NewPhysical wraps an already open port. Tests use this with a loopback
// fake in place of real hardware.
func NewPhysical(port serial.Port, baud int) *Physical {
	return &Physical{
		port:        port,
		name:        "updi",
		baud:        baud,
		ReadTimeout: DefaultReadTimeout,
	}
}

// SendDoubleBreak forces the target's UPDI state machine back to idle. Two
// break conditions separated by an idle gap are guaranteed to terminate
// whatever frame the target thinks it is in the middle of.
func (p *Physical) SendDoubleBreak() error {
	log.Print("Sending double break")

	if err := p.port.SetMode(portMode(breakBaud)); err != nil {
		return fmt.Errorf("%s: entering break baud: %w", p.name, err)
	}

	if _, err := p.port.Write([]byte{breakChar}); err != nil {
		return fmt.Errorf("%s: sending break: %w", p.name, err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, err := p.port.Write([]byte{breakChar}); err != nil {
		return fmt.Errorf("%s: sending break: %w", p.name, err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := p.port.SetMode(portMode(p.baud)); err != nil {
		return fmt.Errorf("%s: restoring baud: %w", p.name, err)
	}

	// The breaks echoed back as garbage frames; throw them away.
	return p.port.ResetInputBuffer()
}

// SendSync transmits the SYNC character. The target is present and in UPDI
// mode exactly when the character echoes back, so a failure here is the
// canonical "no device" signal.
func (p *Physical) SendSync() error {
	return p.Send([]byte{syncChar})
}

// Send writes raw bytes to the wire, then reads back and checks the
// self-echo the shared line produces. On return the receive side is
// positioned at the target's genuine reply, if any.
func (p *Physical) Send(data []byte) error {
	log.Printf("send: % X", data)
	n, err := p.port.Write(data)
	if err != nil {
		return fmt.Errorf("%s: write: %w", p.name, err)
	}
	if n != len(data) {
		return fmt.Errorf("%s: short write: %d of %d bytes", p.name, n, len(data))
	}

	echo, err := p.Receive(len(data))
	if err != nil {
		if te, ok := err.(*TimeoutError); ok {
			te.Op = "echo"
		}
		return err
	}
	for i := range echo {
		if echo[i] != data[i] {
			return &EchoError{Sent: data[i], Got: echo[i]}
		}
	}
	return nil
}

// Receive reads exactly n bytes, or fails with a TimeoutError once the
// deadline passes.
func (p *Physical) Receive(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(p.ReadTimeout)

	for got < n {
		k, err := p.port.Read(buf[got:])
		if err != nil {
			return nil, fmt.Errorf("%s: read: %w", p.name, err)
		}
		got += k
		if got < n && !time.Now().Before(deadline) {
			return nil, &TimeoutError{Op: "receive", Expected: n, Received: got}
		}
	}

	log.Printf("recv: % X", buf)
	return buf, nil
}

// Close releases the serial port.
func (p *Physical) Close() error {
	if p.port == nil {
		return nil
	}
	log.Printf("Closing %s", p.name)
	err := p.port.Close()
	p.port = nil
	return err
}
