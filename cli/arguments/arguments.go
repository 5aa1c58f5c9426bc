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

package arguments

import (
	"github.com/arduino/go-paths-helper"
	"github.com/arduino/spiflash-loader/configuration"
	"github.com/spf13/cobra"
)

// Flags contains the flags selecting the settings file and the transport.
// This is useful so all commands that talk to the device
// read the same flags.
type Flags struct {
	ConfigFile string
	Transport  string
	In         string
	Out        string
	Port       string
	BaudRate   int
}

// AddToCommand adds the device flags as persistent flags of cmd.
func (f *Flags) AddToCommand(cmd *cobra.Command) {
	defaults := configuration.Default()
	cmd.PersistentFlags().StringVar(&f.ConfigFile, "config", "", "Path of the YAML settings file")
	cmd.PersistentFlags().StringVar(&f.Transport, "transport", defaults.Transport.Kind, "Transport to the SPI flash, can be {xillybus|serial}")
	cmd.PersistentFlags().StringVar(&f.In, "in", defaults.Transport.In, "xillybus device written with SPI commands")
	cmd.PersistentFlags().StringVar(&f.Out, "out", defaults.Transport.Out, "xillybus device read for SPI responses")
	cmd.PersistentFlags().StringVarP(&f.Port, "port", "p", "", "Serial port of the SPI bridge, e.g.: COM10, /dev/ttyUSB0")
	cmd.PersistentFlags().IntVar(&f.BaudRate, "baudrate", defaults.Transport.BaudRate, "Baud rate of the SPI bridge")
}

// Settings loads the settings file, if any, and applies the flags that were
// set on the command line on top of it.
func (f *Flags) Settings(cmd *cobra.Command) (*configuration.Settings, error) {
	settings := configuration.Default()
	if f.ConfigFile != "" {
		var err error
		if settings, err = configuration.Load(paths.New(f.ConfigFile)); err != nil {
			return nil, err
		}
	}
	changed := cmd.Flags().Changed
	if changed("transport") {
		settings.Transport.Kind = f.Transport
	}
	if changed("in") {
		settings.Transport.In = f.In
	}
	if changed("out") {
		settings.Transport.Out = f.Out
	}
	if changed("port") {
		settings.Transport.Port = f.Port
	}
	if changed("baudrate") {
		settings.Transport.BaudRate = f.BaudRate
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}
