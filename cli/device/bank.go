/*
	spiflash-loader
	Copyright (c) 2024 Arduino LLC.  All right reserved.

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package device

import (
	"fmt"
	"os"
	"strconv"

	"github.com/arduino/spiflash-loader/cli/arguments"
	"github.com/arduino/spiflash-loader/cli/common"
	"github.com/arduino/spiflash-loader/cli/feedback"
	"github.com/spf13/cobra"
)

// NewBankCommand creates a new `bank` command
func NewBankCommand(flags *arguments.Flags) *cobra.Command {
	command := &cobra.Command{
		Use:   "bank",
		Short: "Bank address register commands.",
		Long:  "Reads and writes the bank address register used by devices in 3-byte address mode.",
		Example: "" +
			"  " + os.Args[0] + " bank get\n" +
			"  " + os.Args[0] + " bank set 1\n",
	}
	command.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Reads the bank address register.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			f, _ := common.OpenFlasher(cmd, flags)
			defer f.Close()
			bank, err := f.ReadBankAddress()
			if err != nil {
				common.Abort(f, fmt.Sprintf("Error reading the bank address: %s", err), feedback.ErrDevice)
			}
			feedback.PrintResult(&bankResult{Bank: bank, Supported: f.Profile().BankAddressing()})
		},
	})
	command.AddCommand(&cobra.Command{
		Use:   "set <bank>",
		Short: "Writes the bank address register.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			bank, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				feedback.Fatal(fmt.Sprintf("Invalid bank %s: %s", args[0], err), feedback.ErrBadArgument)
			}
			f, _ := common.OpenFlasher(cmd, flags)
			defer f.Close()
			if err := f.WriteBankAddress(byte(bank)); err != nil {
				common.Abort(f, fmt.Sprintf("Error writing the bank address: %s", err), feedback.ErrDevice)
			}
			feedback.PrintResult(&bankResult{Bank: byte(bank), Supported: f.Profile().BankAddressing()})
		},
	})
	return command
}

type bankResult struct {
	Bank      byte `json:"bank"`
	Supported bool `json:"supported"`
}

func (r *bankResult) String() string {
	if !r.Supported {
		return "Bank addressing not used by this device (4-byte addresses)"
	}
	return fmt.Sprintf("Bank address: %d", r.Bank)
}

func (r *bankResult) Data() interface{} {
	return r
}
