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
	"sort"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mraardvark/pyupdi/ihex"
	"github.com/mraardvark/pyupdi/session"
)

// programCmd represents the program command
var programCmd = &cobra.Command{
	Use:   "program",
	Short: "Program a target device",
	Long: `Program a target device from an Intel HEX file. Hex files assembled at
offset zero are treated as flash images; files using absolute UPDI
addresses may also carry EEPROM, user row and fuse data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		erase, _ := cmd.Flags().GetBool("erase")
		verify, _ := cmd.Flags().GetBool("verify")
		reset, _ := cmd.Flags().GetBool("reset")
		fuseSpec, _ := cmd.Flags().GetString("fuses")

		if file == "" && fuseSpec == "" {
			return errors.New("nothing to do: specify --file and/or --fuses")
		}

		fuses, err := parseFuseSpec(fuseSpec)
		if err != nil {
			return err
		}

		var bar *progressbar.ProgressBar
		progress := func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWidth(40),
					progressbar.OptionSetDescription("Writing"),
				)
			}
			bar.Set(done)
		}

		sess, td, err := connectToTarget(session.WithProgress(progress))
		if err != nil {
			return err
		}
		defer sess.Close(reset)

		if err := enterOrUnlock(sess, erase); err != nil {
			return err
		}
		if err := sess.VerifySignature(); err != nil {
			return err
		}

		if file != "" {
			img, err := ihex.LoadFile(file)
			if err != nil {
				return err
			}
			if !img.Empty() && img.Max() <= uint32(td.FlashSize) {
				// Assembled at offset zero: rebase onto flash
				img = img.Shift(td.FlashBase)
			}

			err = sess.Program(img, session.ProgramOptions{
				Erase:  erase,
				Verify: verify,
			})
			if bar != nil {
				fmt.Println()
			}
			if err != nil {
				return err
			}
		}

		for _, f := range fuses {
			if err := sess.WriteFuse(f.index, f.value); err != nil {
				return err
			}
			if verify {
				got, err := sess.ReadFuse(f.index)
				if err != nil {
					return err
				}
				if got != f.value {
					return fmt.Errorf("fuse %d verify failed: wrote 0x%02X, read 0x%02X",
						f.index, f.value, got)
				}
			}
		}

		fmt.Println("Programming complete")
		return nil
	},
}

type fuseSetting struct {
	index int
	value byte
}

// parseFuseSpec parses "index:value" pairs, e.g. "1:0x1F,5:0xC9".
func parseFuseSpec(spec string) ([]fuseSetting, error) {
	if spec == "" {
		return nil, nil
	}

	var out []fuseSetting
	for _, part := range strings.Split(spec, ",") {
		iv := strings.SplitN(part, ":", 2)
		if len(iv) != 2 {
			return nil, fmt.Errorf("invalid fuse setting '%s', expected index:value", part)
		}
		index, err := strconv.ParseUint(strings.TrimSpace(iv[0]), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid fuse index '%s'", iv[0])
		}
		value, err := strconv.ParseUint(strings.TrimSpace(iv[1]), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid fuse value '%s'", iv[1])
		}
		out = append(out, fuseSetting{index: int(index), value: byte(value)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}

// enterOrUnlock enters programming mode, falling back to the chip erase
// key when the device is locked and erasing was requested anyway.
func enterOrUnlock(sess *session.Session, mayErase bool) error {
	err := sess.EnterProgrammingMode()
	if err == nil {
		return nil
	}

	var ue *session.UnlockError
	if errors.As(err, &ue) && mayErase {
		fmt.Println("Device is locked, unlocking with chip erase")
		return sess.Unlock()
	}
	if errors.As(err, &ue) {
		return fmt.Errorf("%w (device may be locked; --erase unlocks it, erasing all memories)", err)
	}
	return err
}

func init() {
	rootCmd.AddCommand(programCmd)
	programCmd.Flags().StringP("file", "f", "", "Intel HEX file, e.g. app.hex")
	programCmd.Flags().BoolP("erase", "e", false, "chip erase before programming")
	programCmd.Flags().BoolP("verify", "V", true, "verify memory contents after writing")
	programCmd.Flags().BoolP("reset", "r", false, "reset the target afterwards so the application starts")
	programCmd.Flags().String("fuses", "", "fuse settings, e.g. 1:0x1F,5:0xC9")
}
