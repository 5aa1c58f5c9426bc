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

	"github.com/sirupsen/logrus"
)

// Channel is a synchronous, single-master SPI command channel.
//
// Command clocks out opcode, dataIn, dummyBytes zero bytes and readBytes zero
// bytes, and returns the last readBytes bytes clocked in.
type Channel interface {
	Command(opcode byte, dummyBytes, readBytes int, dataIn []byte) ([]byte, error)
	Close() error
}

// Sender performs one full-duplex exchange: every byte of msg is written to
// the device and exactly len(msg) bytes are read back.
type Sender interface {
	Send(msg []byte) ([]byte, error)
	Close() error
}

// ShortExchangeError is returned when the device answered with fewer bytes
// than were clocked out.
type ShortExchangeError struct {
	Opcode   byte
	Expected int
	Got      int
}

func (e *ShortExchangeError) Error() string {
	return fmt.Sprintf("short exchange for command 0x%02X: expected %d bytes, got %d", e.Opcode, e.Expected, e.Got)
}

// NewChannel frames commands on top of the given Sender.
func NewChannel(s Sender) Channel {
	return &channel{sender: s}
}

type channel struct {
	sender Sender
}

func (c *channel) Command(opcode byte, dummyBytes, readBytes int, dataIn []byte) ([]byte, error) {
	if dummyBytes < 0 || readBytes < 0 {
		return nil, fmt.Errorf("invalid command 0x%02X: negative dummy (%d) or read (%d) count", opcode, dummyBytes, readBytes)
	}
	msg := Frame(opcode, dummyBytes, readBytes, dataIn)
	res, err := c.sender.Send(msg)
	if err != nil {
		err = fmt.Errorf("sending command 0x%02X: %w", opcode, err)
		logrus.Error(err)
		return nil, err
	}
	if len(res) != len(msg) {
		err = &ShortExchangeError{Opcode: opcode, Expected: len(msg), Got: len(res)}
		logrus.Error(err)
		return nil, err
	}
	return res[1+len(dataIn)+dummyBytes:], nil
}

func (c *channel) Close() error {
	return c.sender.Close()
}

// Frame builds the bytes clocked out for a command.
func Frame(opcode byte, dummyBytes, readBytes int, dataIn []byte) []byte {
	msg := make([]byte, 1+len(dataIn)+dummyBytes+readBytes)
	msg[0] = opcode
	copy(msg[1:], dataIn)
	return msg
}
