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
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewEraseCommand creates a new `erase` command
func NewEraseCommand(flags *arguments.Flags) *cobra.Command {
	var sector int
	var all, yes bool
	command := &cobra.Command{
		Use:   "erase",
		Short: "Erases a sector or the whole SPI flash.",
		Long: "Erases the sector with index --sector, or the whole device with --all. " +
			"A bulk erase waits at most bulk_erase_timeout (30m by default) for the device, raise it in the settings file for slower parts.",
		Example: "" +
			"  " + os.Args[0] + " erase --sector 3\n" +
			"  " + os.Args[0] + " erase --all --yes\n",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			bySector := cmd.Flags().Changed("sector")
			if bySector == all {
				feedback.Fatal("Exactly one of --sector and --all must be given", feedback.ErrBadArgument)
			}
			f, _ := common.OpenFlasher(cmd, flags)
			defer f.Close()

			res := &eraseResult{All: all}
			if bySector {
				sectorSize, err := f.SectorSize()
				if err != nil {
					common.Abort(f, err.Error(), feedback.ErrDevice)
				}
				res.Sector = sector
				res.Address = uint32(sector) * sectorSize
				res.Length = sectorSize
				feedback.Print(fmt.Sprintf("Erasing sector %d, %d bytes at 0x%08X", sector, sectorSize, res.Address))
			} else {
				feedback.Print(fmt.Sprintf("Erasing the whole device, %d bytes", f.Device().MemoryCapacity))
			}
			common.RequireConfirmation(yes, f)

			var err error
			if bySector {
				err = f.EraseSector(sector)
			} else {
				err = f.BulkErase()
			}
			if err == nil {
				err = f.WriteDisable()
			}
			if err != nil {
				logrus.Error(err)
				common.Abort(f, fmt.Sprintf("Error erasing: %s", err), feedback.ErrIncompleteProgram)
			}
			if unconfirmed := f.UnconfirmedWriteEnable(); unconfirmed != nil {
				res.Warning = unconfirmed.Error()
			}
			feedback.PrintResult(res)
		},
	}
	command.Flags().IntVar(&sector, "sector", 0, "Index of the sector to erase")
	command.Flags().BoolVar(&all, "all", false, "Erase the whole device")
	command.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return command
}

type eraseResult struct {
	All     bool   `json:"all"`
	Sector  int    `json:"sector"`
	Address uint32 `json:"address"`
	Length  uint32 `json:"length"`
	Warning string `json:"warning,omitempty"`
}

func (r *eraseResult) String() string {
	res := fmt.Sprintf("Sector %d erased", r.Sector)
	if r.All {
		res = "Device erased"
	}
	if r.Warning != "" {
		res += "\nWarning: " + r.Warning
	}
	return res
}

func (r *eraseResult) Data() interface{} {
	return r
}
