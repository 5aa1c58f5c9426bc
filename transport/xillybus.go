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

package transport

import (
	"fmt"
	"io"
	"os"

	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"
)

// Default xillybus pipes exposed by the FPGA SPI core.
const (
	DefaultXillybusIn  = "/dev/xillybus_spi_in"
	DefaultXillybusOut = "/dev/xillybus_spi_out"
)

// XillybusSender talks to the SPI core through a pair of xillybus character
// devices. Both devices are opened and closed around every exchange, so no
// state is kept between commands.
type XillybusSender struct {
	in  *paths.Path
	out *paths.Path
}

// NewXillybus returns a Channel over the given write (in) and read (out)
// devices.
func NewXillybus(in, out *paths.Path) Channel {
	return NewChannel(&XillybusSender{in: in, out: out})
}

// Send writes msg to the in device and reads back the same amount from the
// out device.
func (x *XillybusSender) Send(msg []byte) ([]byte, error) {
	sin, err := os.OpenFile(x.in.String(), os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", x.in, err)
	}
	defer sin.Close()
	sout, err := x.out.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", x.out, err)
	}
	defer sout.Close()

	logrus.Tracef("xillybus send % X", msg)
	if _, err := sin.Write(msg); err != nil {
		return nil, fmt.Errorf("writing %s: %w", x.in, err)
	}
	if err := sin.Sync(); err != nil {
		// character devices may not support fsync
		logrus.Tracef("sync %s: %s", x.in, err)
	}

	res := make([]byte, len(msg))
	n, err := io.ReadFull(sout, res)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("reading %s: %w", x.out, err)
	}
	return res[:n], nil
}

// Close is a no-op: devices are only held open for the duration of Send.
func (x *XillybusSender) Close() error {
	return nil
}
