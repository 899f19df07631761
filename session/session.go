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

// Package session orchestrates end-to-end UPDI programming: link bring-up,
// key unlock, image programming with verification, and teardown that never
// leaves the target stuck in programming mode.
package session

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mraardvark/pyupdi/ihex"
	"github.com/mraardvark/pyupdi/link"
	"github.com/mraardvark/pyupdi/nvm"
	"github.com/mraardvark/pyupdi/target"
)

// State is the session lifecycle state. Transitions only ever move
// forward: Closed → LinkEstablished → Unlocked → Programming, and any
// state → Closed. Operations invalid for a state are rejected with a
// StateError rather than reaching the wire.
type State int

const (
	StateClosed State = iota
	StateLinkEstablished
	StateUnlocked
	StateProgramming
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateLinkEstablished:
		return "link established"
	case StateUnlocked:
		return "unlocked"
	case StateProgramming:
		return "programming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session owns one UPDI connection to one target for its lifetime. It is
// single-threaded and synchronous: every exchange is a blocking
// request/response with a deadline, and no operation is cancellable
// mid-flight, since an interrupted page write can leave the NVM
// controller mid-cycle.
type Session struct {
	cfg   Config
	dev   *target.Definition
	dl    nvm.Datalink
	drv   *nvm.Driver
	phy   io.Closer
	state State
}

// Open connects to the target on the configured serial port and brings
// the UPDI link up. On success the session is in the LinkEstablished
// state and owns the transport until Close.
func Open(dev *target.Definition, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	phy, err := link.OpenPhysical(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, err
	}

	dl := link.NewDatalink(phy)
	dl.SyncAttempts = cfg.SyncAttempts
	if err := dl.Connect(); err != nil {
		phy.Close()
		return nil, &NotRespondingError{Port: cfg.Port, Err: err}
	}

	return newSession(dl, phy, dev, cfg), nil
}

// New wires a session over an already established datalink. Tests use
// this with a simulated target.
func New(dl nvm.Datalink, dev *target.Definition, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newSession(dl, nil, dev, cfg)
}

func newSession(dl nvm.Datalink, phy io.Closer, dev *target.Definition, cfg Config) *Session {
	drv := nvm.New(dl, dev)
	drv.ReadyTimeout = cfg.ReadyTimeout
	drv.PollInterval = cfg.PollInterval
	return &Session{
		cfg:   cfg,
		dev:   dev,
		dl:    dl,
		drv:   drv,
		phy:   phy,
		state: StateLinkEstablished,
	}
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Device returns the session's target definition.
func (s *Session) Device() *target.Definition {
	return s.dev
}

// fail is the forced cleanup path for unrecoverable link or NVM errors:
// tear the session down so it is never left dangling mid-state, then
// propagate.
func (s *Session) fail(err error) error {
	s.Close(false)
	return err
}

func (s *Session) inProgMode() (bool, error) {
	status, err := s.dl.LDCS(link.CSASISysStatus)
	if err != nil {
		return false, err
	}
	return status&(1<<link.SysStatusNVMProgBit) != 0, nil
}

func (s *Session) reset(apply bool) error {
	if apply {
		log.Print("Applying reset")
		return s.dl.STCS(link.CSASIResetReq, link.ResetSignature)
	}
	log.Print("Releasing reset")
	return s.dl.STCS(link.CSASIResetReq, 0x00)
}

// waitUnlocked waits for the lock status bit to clear after a key and
// reset sequence. Deadline-based: all devices boot as locked until proven
// otherwise.
func (s *Session) waitUnlocked(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := s.dl.LDCS(link.CSASISysStatus)
		if err != nil {
			return err
		}
		if status&(1<<link.SysStatusLockStatusBit) == 0 {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("timeout waiting for unlock (sys status 0x%02X)", status)
		}
		time.Sleep(s.cfg.PollInterval)
	}
}

// EnterProgrammingMode presents the NVMPROG key and verifies the target
// reached programming mode. A no-op when the target is already there.
// On key rejection the session stays in LinkEstablished; the caller may
// still try Unlock, which erases a locked device.
func (s *Session) EnterProgrammingMode() error {
	switch s.state {
	case StateClosed:
		return &StateError{Op: "enter programming mode", State: s.state}
	case StateUnlocked, StateProgramming:
		return nil
	}

	ok, err := s.inProgMode()
	if err != nil {
		return s.fail(err)
	}
	if ok {
		log.Print("Already in programming mode")
		s.state = StateUnlocked
		return nil
	}

	log.Print("Entering programming mode")
	if err := s.dl.Key(link.Key64, link.KeyNVMProg); err != nil {
		return s.fail(err)
	}

	keyStatus, err := s.dl.LDCS(link.CSASIKeyStatus)
	if err != nil {
		return s.fail(err)
	}
	log.Printf("Key status 0x%02X", keyStatus)
	if keyStatus&(1<<link.KeyStatusNVMProgBit) == 0 {
		return &UnlockError{Reason: "NVMPROG key not accepted", KeyStatus: keyStatus}
	}

	if err := s.toggleReset(); err != nil {
		return s.fail(err)
	}
	if err := s.waitUnlocked(s.cfg.UnlockTimeout); err != nil {
		return &UnlockError{Reason: "device stayed locked: " + err.Error(), KeyStatus: keyStatus}
	}

	ok, err = s.inProgMode()
	if err != nil {
		return s.fail(err)
	}
	if !ok {
		return &UnlockError{Reason: "programming mode not entered", KeyStatus: keyStatus}
	}

	log.Print("Now in programming mode")
	s.state = StateUnlocked
	return nil
}

// Unlock erases a locked device with the chip erase key, which is the
// only way back in when the NVMPROG key is rejected. All memories are
// lost; that is the point. A no-op when already unlocked.
func (s *Session) Unlock() error {
	switch s.state {
	case StateClosed:
		return &StateError{Op: "unlock", State: s.state}
	case StateUnlocked, StateProgramming:
		return nil
	}

	log.Print("Unlocking with chip erase key")
	if err := s.dl.Key(link.Key64, link.KeyChipErase); err != nil {
		return s.fail(err)
	}

	keyStatus, err := s.dl.LDCS(link.CSASIKeyStatus)
	if err != nil {
		return s.fail(err)
	}
	if keyStatus&(1<<link.KeyStatusChipEraseBit) == 0 {
		return &UnlockError{Reason: "chip erase key not accepted", KeyStatus: keyStatus}
	}

	if err := s.toggleReset(); err != nil {
		return s.fail(err)
	}
	if err := s.waitUnlocked(s.cfg.UnlockTimeout); err != nil {
		return &UnlockError{Reason: "chip erase key failed to unlock: " + err.Error(), KeyStatus: keyStatus}
	}

	// The erase leaves the part unlocked; programming mode still needs
	// its own key.
	s.state = StateLinkEstablished
	return s.EnterProgrammingMode()
}

func (s *Session) toggleReset() error {
	if err := s.reset(true); err != nil {
		return err
	}
	return s.reset(false)
}

func (s *Session) requireProgMode(op string) error {
	switch s.state {
	case StateUnlocked:
		// First NVM operation moves the session to Programming;
		// idempotent thereafter.
		s.state = StateProgramming
		return nil
	case StateProgramming:
		return nil
	default:
		return &StateError{Op: op, State: s.state}
	}
}

// ProgramOptions control a Program run.
type ProgramOptions struct {
	// Erase the chip before writing
	Erase bool

	// Read everything back after writing and compare
	Verify bool
}

// regionPlan is one region's slice of the memory image.
type regionPlan struct {
	region nvm.Region
	image  *ihex.Image
}

// programOrder fixes the write sequence. Lock bits go last so a locking
// image cannot cut off its own verification.
var programOrder = []nvm.Region{nvm.Flash, nvm.EEPROM, nvm.UserRow, nvm.Fuses, nvm.Lockbits}

func (s *Session) plan(img *ihex.Image) ([]regionPlan, error) {
	for _, seg := range img.Segments() {
		r, ok := nvm.RegionFor(s.dev, seg.Address)
		if !ok {
			return nil, &ImageRangeError{Address: seg.Address, Length: len(seg.Data)}
		}
		end := nvm.RegionBase(s.dev, r) + uint32(nvm.RegionSize(s.dev, r))
		if seg.Address+uint32(len(seg.Data)) > end {
			return nil, &ImageRangeError{Address: seg.Address, Length: len(seg.Data)}
		}
	}

	var plan []regionPlan
	for _, r := range programOrder {
		sub := img.Slice(nvm.RegionBase(s.dev, r), nvm.RegionSize(s.dev, r))
		if !sub.Empty() {
			plan = append(plan, regionPlan{region: r, image: sub})
		}
	}
	return plan, nil
}

// Program writes a memory image to the target: every region present in
// the image is split into ascending page-sized chunks (byte-sized for
// fuses and lock bits) and written through the NVM driver. With Verify
// set, every written range is read back and compared byte for byte.
func (s *Session) Program(img *ihex.Image, opts ProgramOptions) error {
	if err := s.requireProgMode("program"); err != nil {
		return err
	}

	plan, err := s.plan(img)
	if err != nil {
		return err
	}

	if opts.Erase {
		if err := s.drv.ChipErase(); err != nil {
			return s.fail(err)
		}
	}

	total := 0
	for _, p := range plan {
		l := nvm.RegionPageSize(s.dev, p.region)
		if l > 1 {
			total += len(p.image.Pages(nvm.RegionBase(s.dev, p.region), l))
		} else {
			total += p.image.Size()
		}
	}

	done := 0
	step := func() {
		done++
		if s.cfg.Progress != nil {
			s.cfg.Progress(done, total)
		}
	}

	for _, p := range plan {
		base := nvm.RegionBase(s.dev, p.region)
		pageSize := nvm.RegionPageSize(s.dev, p.region)

		switch p.region {
		case nvm.Fuses:
			for _, seg := range p.image.Segments() {
				for i, v := range seg.Data {
					index := int(seg.Address - base + uint32(i))
					if err := s.drv.WriteFuse(index, v); err != nil {
						return s.fail(err)
					}
					step()
				}
			}

		case nvm.Lockbits:
			for _, seg := range p.image.Segments() {
				for _, v := range seg.Data {
					if err := s.drv.WriteLock(v); err != nil {
						return s.fail(err)
					}
					step()
				}
			}

		default:
			for _, page := range p.image.Pages(base, pageSize) {
				if err := s.drv.WritePage(p.region, page.Offset, page.Data); err != nil {
					return s.fail(err)
				}
				step()
			}
		}
	}

	if opts.Verify {
		return s.verify(plan)
	}
	return nil
}

// verify reads back exactly the written ranges and reports the first
// mismatch. The comparison covers only image bytes, never page padding.
func (s *Session) verify(plan []regionPlan) error {
	log.Print("Verifying")
	for _, p := range plan {
		base := nvm.RegionBase(s.dev, p.region)
		for _, seg := range p.image.Segments() {
			read, err := s.drv.ReadBytes(p.region, seg.Address-base, len(seg.Data))
			if err != nil {
				return s.fail(err)
			}
			for i := range seg.Data {
				if read[i] != seg.Data[i] {
					return &VerifyError{
						Address:  seg.Address + uint32(i),
						Expected: seg.Data[i],
						Actual:   read[i],
					}
				}
			}
		}
	}
	return nil
}

// ChipErase erases the device through the NVM controller.
func (s *Session) ChipErase() error {
	if err := s.requireProgMode("chip erase"); err != nil {
		return err
	}
	if err := s.drv.ChipErase(); err != nil {
		return s.fail(err)
	}
	return nil
}

// ReadRegion reads length bytes at offset within a region.
func (s *Session) ReadRegion(region nvm.Region, offset uint32, length int) ([]byte, error) {
	if err := s.requireProgMode("read " + region.String()); err != nil {
		return nil, err
	}
	data, err := s.drv.ReadBytes(region, offset, length)
	if err != nil {
		return nil, s.fail(err)
	}
	return data, nil
}

// ReadFuse reads one fuse byte.
func (s *Session) ReadFuse(index int) (byte, error) {
	if err := s.requireProgMode("read fuse"); err != nil {
		return 0, err
	}
	return s.drv.ReadFuse(index)
}

// WriteFuse writes one fuse byte.
func (s *Session) WriteFuse(index int, value byte) error {
	if err := s.requireProgMode("write fuse"); err != nil {
		return err
	}
	return s.drv.WriteFuse(index, value)
}

// ReadSignature reads the three signature row bytes.
func (s *Session) ReadSignature() ([3]byte, error) {
	var sig [3]byte
	if err := s.requireProgMode("read signature"); err != nil {
		return sig, err
	}
	data, err := s.dl.ReadData(s.dev.Sigrow, 3)
	if err != nil {
		return sig, s.fail(err)
	}
	copy(sig[:], data)
	return sig, nil
}

// VerifySignature checks the connected device against the selected
// target definition.
func (s *Session) VerifySignature() error {
	sig, err := s.ReadSignature()
	if err != nil {
		return err
	}
	if sig != s.dev.Signature {
		return &SignatureError{Expected: s.dev.Signature, Actual: sig}
	}
	return nil
}

// Close releases the UPDI key lock, optionally resets the target so the
// user application starts, and releases the transport. Close is
// idempotent and best-effort: it is always safe to call after a failure,
// never raises a second error, and always leaves the session Closed.
func (s *Session) Close(resetTarget bool) error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	log.Print("Closing session")
	if resetTarget {
		s.toggleReset()
	}
	// Disabling UPDI releases any active keys and returns the pin to GPIO.
	s.dl.STCS(link.CSCtrlB, (1<<link.CtrlBUPDIDisBit)|(1<<link.CtrlBCCDetDisBit))

	if s.phy != nil {
		s.phy.Close()
		s.phy = nil
	}
	return nil
}
