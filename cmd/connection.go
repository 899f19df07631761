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
package cmd

import (
	"errors"
	"fmt"

	"github.com/mraardvark/pyupdi/session"
	"github.com/mraardvark/pyupdi/target"
)

func connectToTarget(opts ...session.Option) (*session.Session, *target.Definition, error) {
	if targetName == "" {
		return nil, nil, errors.New("target device not specified (see 'pyupdi devices')")
	}
	td := target.ByName(targetName)
	if td == nil {
		return nil, nil, fmt.Errorf("target device '%s' not found (see 'pyupdi devices')", targetName)
	}

	if portName == "" {
		return nil, nil, errors.New("serial port not specified")
	}

	opts = append([]session.Option{
		session.WithPort(portName),
		session.WithBaud(baudRate),
	}, opts...)

	sess, err := session.Open(td, opts...)
	if err != nil {
		return nil, nil, err
	}

	return sess, td, nil
}
