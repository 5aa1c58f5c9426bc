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

package flasher

import (
	"github.com/arduino/spiflash-loader/transport"
)

// simFlash emulates a SPI NOR device at the byte level.
type simFlash struct {
	signature    byte
	manufacturer byte
	memoryType   byte
	capacityExp  byte
	sectorSize   uint32

	mem  map[uint32]byte
	wel  bool
	busy bool
	// busyLeft counts the status reads before a started command completes
	busyLeft  int
	busyPolls int
	bank      byte

	// faults
	stuckLatch    bool
	ignoreWrites  bool
	neverComplete bool

	opcodes     []byte
	statusReads int
}

func newSimFlash(manufacturer, memoryType, capacityExp byte, sectorSize uint32) *simFlash {
	return &simFlash{
		signature:    0x17,
		manufacturer: manufacturer,
		memoryType:   memoryType,
		capacityExp:  capacityExp,
		sectorSize:   sectorSize,
		mem:          map[uint32]byte{},
	}
}

func (s *simFlash) channel() transport.Channel {
	return transport.NewChannel(s)
}

func (s *simFlash) byteAt(addr uint32) byte {
	if b, ok := s.mem[addr]; ok {
		return b
	}
	return 0xFF
}

func (s *simFlash) address(opcode byte, msg []byte) (uint32, int) {
	width := 3
	switch opcode {
	case opRead4, opPageProgram4, opSectorErase4:
		width = 4
	}
	addr := uint32(0)
	for _, b := range msg[1 : 1+width] {
		addr = addr<<8 | uint32(b)
	}
	return addr, width
}

func (s *simFlash) readStatus() byte {
	s.statusReads++
	st := byte(0)
	if s.busy {
		st |= byte(StatusBusy)
	}
	if s.wel {
		st |= byte(StatusWriteEnableLatch)
	}
	if s.busy && !s.neverComplete {
		s.busyLeft--
		if s.busyLeft <= 0 {
			s.busy = false
			s.wel = false
		}
	}
	return st
}

// start begins a mutating command. It reports whether the device took it.
func (s *simFlash) start() bool {
	if !s.wel || s.busy || s.ignoreWrites {
		return false
	}
	if s.busyPolls == 0 && !s.neverComplete {
		s.wel = false
		return true
	}
	s.busy = true
	s.busyLeft = s.busyPolls
	return true
}

func (s *simFlash) Send(msg []byte) ([]byte, error) {
	res := make([]byte, len(msg))
	op := msg[0]
	s.opcodes = append(s.opcodes, op)
	switch op {
	case opReleasePowerDown:
		res[len(res)-1] = s.signature
	case opReadIdentifier:
		res[1], res[2], res[3] = s.manufacturer, s.memoryType, s.capacityExp
	case opReadStatus:
		res[1] = s.readStatus()
	case opWriteEnable:
		if !s.stuckLatch && !s.busy {
			s.wel = true
		}
	case opWriteDisable:
		if !s.busy {
			s.wel = false
		}
	case opRead3, opRead4:
		addr, width := s.address(op, msg)
		for i := 1 + width; i < len(res); i++ {
			res[i] = s.byteAt(addr + uint32(i-1-width))
		}
	case opPageProgram3, opPageProgram4:
		addr, width := s.address(op, msg)
		if s.start() {
			pageBase := addr &^ (PageSize - 1)
			for i, b := range msg[1+width:] {
				a := pageBase + (addr-pageBase+uint32(i))%PageSize
				s.mem[a] = s.byteAt(a) & b
			}
		}
	case opSectorErase3, opSectorErase4:
		addr, _ := s.address(op, msg)
		if s.start() {
			base := addr - addr%s.sectorSize
			for a := range s.mem {
				if a >= base && a < base+s.sectorSize {
					delete(s.mem, a)
				}
			}
		}
	case opBulkErase:
		if s.start() {
			s.mem = map[uint32]byte{}
		}
	case opWriteStatus:
		s.start()
	case opBankRead:
		res[1] = s.bank
	case opBankWrite:
		s.bank = msg[1]
	}
	return res, nil
}

func (s *simFlash) Close() error {
	return nil
}

// mutated reports whether any command other than identification, status
// and read was sent.
func (s *simFlash) mutated() bool {
	for _, op := range s.opcodes {
		switch op {
		case opReleasePowerDown, opReadIdentifier, opReadStatus, opRead3, opRead4:
		default:
			return true
		}
	}
	return false
}

func (s *simFlash) count(opcode byte) int {
	n := 0
	for _, op := range s.opcodes {
		if op == opcode {
			n++
		}
	}
	return n
}
