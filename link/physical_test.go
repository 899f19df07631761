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
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mraardvark/pyupdi/link"
	"github.com/mraardvark/pyupdi/link/linktest"
)

func TestMain(m *testing.M) {
	// The byte-level tracing drowns out test output.
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newPhysical(port *linktest.Port) *link.Physical {
	port.Baud = 115200
	phy := link.NewPhysical(port, 115200)
	phy.ReadTimeout = 20 * time.Millisecond
	return phy
}

func TestSendStripsEcho(t *testing.T) {
	port := linktest.NewPort(nil)
	phy := newPhysical(port)

	require.NoError(t, phy.Send([]byte{0x55, 0x80}))

	// The echo must be fully consumed: nothing else is on the wire.
	_, err := phy.Receive(1)
	var te *link.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.Received)
}

func TestSendEchoMismatch(t *testing.T) {
	port := linktest.NewPort(nil)
	port.CorruptEcho = 1
	phy := newPhysical(port)

	err := phy.Send([]byte{0x55})
	var ee *link.EchoError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, byte(0x55), ee.Sent)
	assert.Equal(t, byte(0xAA), ee.Got)
}

func TestSendMissingEcho(t *testing.T) {
	port := linktest.NewPort(nil)
	port.DropEcho = 1
	phy := newPhysical(port)

	err := phy.SendSync()
	var te *link.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "echo", te.Op)
	assert.Equal(t, 1, te.Expected)
	assert.Equal(t, 0, te.Received)
}

func TestSendDoubleBreak(t *testing.T) {
	port := linktest.NewPort(nil)
	phy := newPhysical(port)

	require.NoError(t, phy.SendDoubleBreak())

	assert.Equal(t, 2, port.Breaks)
	// Drops to the break rate, then back to the working rate.
	assert.Equal(t, []int{300, 115200}, port.ModeHistory)
	assert.Equal(t, 115200, port.Baud)

	// Break garbage must not be left in the receive buffer.
	_, err := phy.Receive(1)
	var te *link.TimeoutError
	require.ErrorAs(t, err, &te)
}

func TestReceiveDeadline(t *testing.T) {
	port := linktest.NewPort(nil)
	phy := newPhysical(port)

	start := time.Now()
	_, err := phy.Receive(4)
	var te *link.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 4, te.Expected)
	assert.GreaterOrEqual(t, time.Since(start), phy.ReadTimeout)
}

func TestReceivePartialThenTimeout(t *testing.T) {
	tgt := linktest.NewTarget()
	port := linktest.NewPort(tgt)
	phy := newPhysical(port)

	// A lone SYNC echoes one byte back; asking for two must time out
	// and report the short count.
	_, err := port.Write([]byte{0x55})
	require.NoError(t, err)

	_, err = phy.Receive(2)
	var te *link.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Expected)
	assert.Equal(t, 1, te.Received)
}

func TestCloseIdempotent(t *testing.T) {
	port := linktest.NewPort(nil)
	phy := newPhysical(port)

	require.NoError(t, phy.Close())
	assert.True(t, port.Closed)
	require.NoError(t, phy.Close())
}
