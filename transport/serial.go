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
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DefaultBaudRate is used by the serial bridge when none is configured.
const DefaultBaudRate = 115200

// SerialSender drives a UART to SPI bridge: every byte written on the port
// is shifted out on MOSI and the byte sampled on MISO is sent back.
type SerialSender struct {
	port io.ReadWriteCloser
}

// OpenSerial opens the bridge on portAddress and returns a Channel over it.
func OpenSerial(portAddress string, baudRate int) (Channel, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(portAddress, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		err = fmt.Errorf("opening serial port %s: %w", portAddress, err)
		logrus.Error(err)
		return nil, err
	}
	logrus.Infof("Opened port %s at %d", portAddress, baudRate)

	if err := port.SetReadTimeout(5 * time.Second); err != nil {
		port.Close()
		err = fmt.Errorf("could not set timeout on serial port: %s", err)
		logrus.Error(err)
		return nil, err
	}
	return NewChannel(&SerialSender{port: port}), nil
}

// Send writes msg and waits for the echoed MISO bytes.
func (s *SerialSender) Send(msg []byte) ([]byte, error) {
	buf := msg
	for len(buf) > 0 {
		sent, err := s.port.Write(buf)
		if err != nil {
			return nil, fmt.Errorf("writing data: %w", err)
		}
		if sent < len(buf) {
			logrus.Debugf("Sent %d bytes out of %d", sent, len(buf))
		}
		buf = buf[sent:]
	}

	res := make([]byte, len(msg))
	if err := s.fillBuffer(res); err != nil {
		return nil, err
	}
	return res, nil
}

// fillBuffer blocks until buffer is full.
func (s *SerialSender) fillBuffer(buffer []byte) error {
	read := 0
	for read < len(buffer) {
		n, err := s.port.Read(buffer[read:])
		if err != nil {
			return fmt.Errorf("reading data: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("serial port timed out after %d of %d bytes", read, len(buffer))
		}
		read += n
	}
	return nil
}

// Close the port used by this sender
func (s *SerialSender) Close() error {
	return s.port.Close()
}
