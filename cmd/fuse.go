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
	"strconv"

	"github.com/spf13/cobra"
)

// fuseCmd represents the fuse command
var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Read or write fuses",
}

var fuseGetCmd = &cobra.Command{
	Use:   "get [index]",
	Short: "Read one fuse, or all fuses when no index is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, td, err := connectToTarget()
		if err != nil {
			return err
		}
		defer sess.Close(false)

		if err := sess.EnterProgrammingMode(); err != nil {
			return err
		}

		first, last := 0, td.FuseCount-1
		if len(args) == 1 {
			index, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				return fmt.Errorf("invalid fuse index '%s'", args[0])
			}
			first, last = int(index), int(index)
		}

		for i := first; i <= last; i++ {
			value, err := sess.ReadFuse(i)
			if err != nil {
				return err
			}
			fmt.Printf("fuse %d = 0x%02X\n", i, value)
		}
		return nil
	},
}

var fuseSetCmd = &cobra.Command{
	Use:   "set [index:value ...]",
	Short: "Write fuses, e.g. 'fuse set 1:0x1F 5:0xC9'",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var settings []fuseSetting
		for _, arg := range args {
			fs, err := parseFuseSpec(arg)
			if err != nil {
				return err
			}
			settings = append(settings, fs...)
		}

		sess, _, err := connectToTarget()
		if err != nil {
			return err
		}
		defer sess.Close(false)

		if err := sess.EnterProgrammingMode(); err != nil {
			return err
		}

		for _, f := range settings {
			if err := sess.WriteFuse(f.index, f.value); err != nil {
				return err
			}
			got, err := sess.ReadFuse(f.index)
			if err != nil {
				return err
			}
			fmt.Printf("fuse %d = 0x%02X\n", f.index, got)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fuseCmd)
	fuseCmd.AddCommand(fuseGetCmd)
	fuseCmd.AddCommand(fuseSetCmd)
}
