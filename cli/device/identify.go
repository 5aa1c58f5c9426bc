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

	"github.com/arduino/arduino-cli/table"
	"github.com/arduino/spiflash-loader/cli/arguments"
	"github.com/arduino/spiflash-loader/cli/common"
	"github.com/arduino/spiflash-loader/cli/feedback"
	"github.com/arduino/spiflash-loader/flasher"
	"github.com/spf13/cobra"
)

// NewIdentifyCommand creates a new `identify` command
func NewIdentifyCommand(flags *arguments.Flags) *cobra.Command {
	return &cobra.Command{
		Use:     "identify",
		Short:   "Shows the identity of the SPI flash.",
		Long:    "Reads the electronic signature and the JEDEC identifier of the SPI flash and shows the derived geometry.",
		Example: "  " + os.Args[0] + " identify --format json",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			f, _ := common.OpenFlasher(cmd, flags)
			defer f.Close()
			feedback.PrintResult(newIdentifyResult(f.Device(), f.Profile()))
		},
	}
}

type identifyResult struct {
	Device      flasher.Device            `json:"device"`
	Addressing  flasher.AddressingProfile `json:"addressing"`
	SectorSize  uint32                    `json:"sector_size,omitempty"`
	Unsupported string                    `json:"unsupported,omitempty"`
}

func newIdentifyResult(dev flasher.Device, profile flasher.AddressingProfile) *identifyResult {
	res := &identifyResult{Device: dev, Addressing: profile}
	if size, err := dev.SectorSize(); err != nil {
		res.Unsupported = err.Error()
	} else {
		res.SectorSize = size
	}
	return res
}

func (r *identifyResult) String() string {
	t := table.New()
	t.AddRow("Electronic signature", fmt.Sprintf("0x%02X", r.Device.ElectronicSignature))
	t.AddRow("Manufacturer ID", fmt.Sprintf("0x%02X", r.Device.ManufacturerID))
	t.AddRow("Memory type", fmt.Sprintf("0x%02X", r.Device.MemoryType))
	t.AddRow("Memory capacity", fmt.Sprintf("%d bytes", r.Device.MemoryCapacity))
	t.AddRow("Address width", fmt.Sprintf("%d bytes", r.Addressing.AddressWidth))
	if r.Unsupported != "" {
		t.AddRow("Sector size", r.Unsupported)
	} else {
		t.AddRow("Sector size", fmt.Sprintf("%d bytes", r.SectorSize))
	}
	return t.Render()
}

func (r *identifyResult) Data() interface{} {
	return r
}
