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
	"fmt"

	"github.com/spf13/cobra"
)

// eraseCmd represents the erase command
var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Chip erase the target device",
	Long:  `Erase all of flash and EEPROM. Also unlocks a locked device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, _, err := connectToTarget()
		if err != nil {
			return err
		}
		defer sess.Close(false)

		// On a locked part the chip erase key both unlocks and erases;
		// on an unlocked one an explicit NVM erase is still needed.
		if err := enterOrUnlock(sess, true); err != nil {
			return err
		}
		if err := sess.ChipErase(); err != nil {
			return err
		}

		fmt.Println("Chip erased")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eraseCmd)
}
