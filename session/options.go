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
	"time"
)

// ProgressFunc is called after each page write during Program with the
// number of pages done and the total to be written.
type ProgressFunc func(done, total int)

// Config holds session tuning. The zero value is never used directly;
// defaults come from defaultConfig.
type Config struct {
	// Serial port path, e.g. /dev/ttyUSB0
	Port string

	// Working baud rate
	Baud int

	// Bounded retries for the break/sync handshake
	SyncAttempts int

	// Deadline for the target to leave the locked state after a key +
	// reset sequence
	UnlockTimeout time.Duration

	// NVM controller busy polling
	ReadyTimeout time.Duration
	PollInterval time.Duration

	// Optional page write progress callback
	Progress ProgressFunc
}

func defaultConfig() Config {
	return Config{
		Baud:          115200,
		SyncAttempts:  3,
		UnlockTimeout: 100 * time.Millisecond,
		ReadyTimeout:  time.Second,
		PollInterval:  time.Millisecond,
	}
}

// Option is a functional option for session construction.
type Option func(*Config)

// WithPort sets the serial port path.
func WithPort(port string) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithBaud sets the working baud rate.
func WithBaud(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.Baud = baud
		}
	}
}

// WithSyncAttempts bounds the break/sync handshake retries.
func WithSyncAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.SyncAttempts = attempts
		}
	}
}

// WithReadyTimeout sets the NVM controller busy deadline.
func WithReadyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadyTimeout = timeout
		}
	}
}

// WithPollInterval sets the NVM controller busy poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.PollInterval = interval
		}
	}
}

// WithProgress installs a page write progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}
