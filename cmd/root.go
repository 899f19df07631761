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
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/mraardvark/pyupdi/target/all"
)

var verbose bool
var targetName string
var portName string
var baudRate int

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pyupdi",
	Short: "AVR UPDI programmer",
	Long: `A tool for programming AVR devices over the UPDI interface using a
standard TTL serial adapter, with TX and RX tied together through a
series resistor and connected to the UPDI pin.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !verbose {
			log.SetOutput(io.Discard)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "make verbose (enable debug logging)")
	rootCmd.PersistentFlags().StringVarP(&targetName, "target", "t", "", "target device, e.g. attiny817")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "serial port, e.g. /dev/ttyUSB0")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "UPDI baud rate")
}
