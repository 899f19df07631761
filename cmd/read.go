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
	"os"

	"github.com/spf13/cobra"

	"github.com/mraardvark/pyupdi/ihex"
	"github.com/mraardvark/pyupdi/nvm"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read [outfile.hex]",
	Short: "Read device memory contents",
	Long:  `Read out the contents of the device's flash (and optionally EEPROM) as Intel HEX`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withEEPROM, _ := cmd.Flags().GetBool("eeprom")

		sess, td, err := connectToTarget()
		if err != nil {
			return err
		}
		defer sess.Close(false)

		if err := sess.EnterProgrammingMode(); err != nil {
			return err
		}
		if err := sess.VerifySignature(); err != nil {
			return err
		}

		segments := []ihex.Segment{}

		flash, err := sess.ReadRegion(nvm.Flash, 0, td.FlashSize)
		if err != nil {
			return err
		}
		segments = append(segments, ihex.Segment{Address: td.FlashBase, Data: flash})

		if withEEPROM {
			eeprom, err := sess.ReadRegion(nvm.EEPROM, 0, td.EEPROMSize)
			if err != nil {
				return err
			}
			segments = append(segments, ihex.Segment{Address: td.EEPROMBase, Data: eeprom})
		}

		img, err := ihex.New(segments...)
		if err != nil {
			return err
		}

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return img.Dump(f)
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().Bool("eeprom", false, "also read EEPROM")
}
