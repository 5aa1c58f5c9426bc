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

	"github.com/arduino/spiflash-loader/cli/arguments"
	"github.com/arduino/spiflash-loader/cli/common"
	"github.com/arduino/spiflash-loader/cli/feedback"
	"github.com/arduino/spiflash-loader/flasher"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates a new `status` command
func NewStatusCommand(flags *arguments.Flags) *cobra.Command {
	var write int
	var yes bool
	command := &cobra.Command{
		Use:   "status",
		Short: "Reads or writes the status register.",
		Long:  "Reads the status register of the SPI flash. With --write the register is written first.",
		Example: "" +
			"  " + os.Args[0] + " status\n" +
			"  " + os.Args[0] + " status --write 0x00\n",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if cmd.Flags().Changed("write") && (write < 0 || write > 0xFF) {
				feedback.Fatal(fmt.Sprintf("Invalid status value %d", write), feedback.ErrBadArgument)
			}
			f, _ := common.OpenFlasher(cmd, flags)
			defer f.Close()
			if cmd.Flags().Changed("write") {
				common.RequireConfirmation(yes, f)
				if err := f.WriteStatus(byte(write)); err != nil {
					common.Abort(f, fmt.Sprintf("Error writing the status register: %s", err), feedback.ErrGeneric)
				}
			}
			status, err := f.Status()
			if err != nil {
				common.Abort(f, fmt.Sprintf("Error reading the status register: %s", err), feedback.ErrDevice)
			}
			res := newStatusResult(status)
			if unconfirmed := f.UnconfirmedWriteEnable(); unconfirmed != nil {
				res.Warning = unconfirmed.Error()
			}
			feedback.PrintResult(res)
		},
	}
	command.Flags().IntVar(&write, "write", 0, "Value written to the status register")
	command.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return command
}

type statusResult struct {
	Status       byte   `json:"status"`
	Busy         bool   `json:"busy"`
	WriteEnabled bool   `json:"write_enabled"`
	Warning      string `json:"warning,omitempty"`
}

func newStatusResult(s flasher.Status) *statusResult {
	return &statusResult{Status: byte(s), Busy: s.Busy(), WriteEnabled: s.WriteEnabled()}
}

func (r *statusResult) String() string {
	res := fmt.Sprintf("Status register: %s", flasher.Status(r.Status))
	if r.Warning != "" {
		res += "\nWarning: " + r.Warning
	}
	return res
}

func (r *statusResult) Data() interface{} {
	return r
}
