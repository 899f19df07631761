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

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mraardvark/pyupdi/target"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List supported target devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range target.Names() {
			td := target.ByName(name)
			if td == nil {
				color.Red("%s: missing definition", name)
				continue
			}
			fmt.Printf("%-12s flash %3dk (%3d byte pages), EEPROM %4d, signature %02X%02X%02X\n",
				name, td.FlashSize/1024, td.FlashPageSize, td.EEPROMSize,
				td.Signature[0], td.Signature[1], td.Signature[2])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
