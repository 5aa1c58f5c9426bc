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
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/arduino/go-paths-helper"
	"github.com/arduino/spiflash-loader/cli/arguments"
	"github.com/arduino/spiflash-loader/cli/common"
	"github.com/arduino/spiflash-loader/cli/feedback"
	"github.com/spf13/cobra"
)

// NewReadCommand creates a new `read` command
func NewReadCommand(flags *arguments.Flags) *cobra.Command {
	var address uint32
	var length int
	var output string
	command := &cobra.Command{
		Use:   "read",
		Short: "Reads the SPI flash.",
		Long:  "Reads --length bytes starting at --address. The data is written to --output, or dumped on stdout.",
		Example: "" +
			"  " + os.Args[0] + " read --address 0x10000 --length 256\n" +
			"  " + os.Args[0] + " read --address 0 --length 0x1000000 --output dump.bin\n",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if length <= 0 {
				feedback.Fatal("The read length must be positive", feedback.ErrBadArgument)
			}
			f, _ := common.OpenFlasher(cmd, flags)
			defer f.Close()
			if uint64(address)+uint64(length) > f.Device().MemoryCapacity {
				common.Abort(f, fmt.Sprintf("Range 0x%08X+%d exceeds the device capacity", address, length), feedback.ErrBadArgument)
			}
			data, err := f.Read(address, length)
			if err != nil {
				common.Abort(f, fmt.Sprintf("Error reading the flash: %s", err), feedback.ErrDevice)
			}
			res := &readResult{Address: address, Length: length, data: data}
			if output != "" {
				res.Output = output
				if err := paths.New(output).WriteFile(data); err != nil {
					common.Abort(f, fmt.Sprintf("Error writing %s: %s", output, err), feedback.ErrGeneric)
				}
			} else {
				res.Hex = hex.EncodeToString(data)
			}
			feedback.PrintResult(res)
		},
	}
	command.Flags().Uint32Var(&address, "address", 0, "Start address, e.g.: 0x10000")
	command.Flags().IntVar(&length, "length", 0, "Number of bytes to read")
	command.Flags().StringVarP(&output, "output", "o", "", "File where the data is written")
	return command
}

type readResult struct {
	Address uint32 `json:"address"`
	Length  int    `json:"length"`
	Output  string `json:"output,omitempty"`
	Hex     string `json:"data,omitempty"`
	data    []byte
}

func (r *readResult) String() string {
	if r.Output != "" {
		return fmt.Sprintf("Read %d bytes at 0x%08X into %s", r.Length, r.Address, r.Output)
	}
	return strings.TrimSuffix(dump(r.Address, r.data), "\n")
}

func (r *readResult) Data() interface{} {
	return r
}

// dump formats data like hex.Dump, with offsets replaced by flash addresses.
func dump(address uint32, data []byte) string {
	var b strings.Builder
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		line := strings.TrimSuffix(hex.Dump(data[i:end]), "\n")
		// hex.Dump prefixes each line with an 8 digit offset
		fmt.Fprintf(&b, "%08x%s\n", address+uint32(i), line[8:])
	}
	return b.String()
}
