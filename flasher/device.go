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
	"fmt"
)

// SPI NOR command set.
const (
	opReleasePowerDown byte = 0xAB // RES, returns the electronic signature
	opReadIdentifier   byte = 0x9F // RDID
	opWriteEnable      byte = 0x06 // WREN
	opWriteDisable     byte = 0x04 // WRDI
	opReadStatus       byte = 0x05 // RDSR
	opWriteStatus      byte = 0x01 // WRSR
	opRead3            byte = 0x03
	opRead4            byte = 0x13
	opPageProgram3     byte = 0x02
	opPageProgram4     byte = 0x12
	opSectorErase3     byte = 0xD8
	opSectorErase4     byte = 0xDC
	opBankRead         byte = 0x16 // BRRD
	opBankWrite        byte = 0x17 // BRWR
	opBulkErase        byte = 0xC7
)

// PageSize is the largest write accepted by a single page program command.
const PageSize = 256

// Status is the value of the flash status register.
type Status byte

// Status register bits.
const (
	StatusBusy             Status = 0x01 // WIP
	StatusWriteEnableLatch Status = 0x02 // WEL
)

// Busy reports whether a write, erase or status update is in progress.
func (s Status) Busy() bool {
	return s&StatusBusy != 0
}

// WriteEnabled reports whether the write enable latch is set.
func (s Status) WriteEnabled() bool {
	return s&StatusWriteEnableLatch != 0
}

func (s Status) String() string {
	return fmt.Sprintf("0x%02X (WIP=%d WEL=%d)", byte(s), byte(s&StatusBusy), byte(s&StatusWriteEnableLatch)>>1)
}

// Device is the identity reported by the flash chip at open time.
type Device struct {
	ElectronicSignature byte   `json:"electronic_signature"`
	ManufacturerID      byte   `json:"manufacturer_id"`
	MemoryType          byte   `json:"memory_type"`
	CapacityExponent    byte   `json:"capacity_exponent"`
	MemoryCapacity      uint64 `json:"memory_capacity"`
}

func newDevice(signature byte, id []byte) Device {
	d := Device{
		ElectronicSignature: signature,
		ManufacturerID:      id[0],
		MemoryType:          id[1],
		CapacityExponent:    id[2],
	}
	if d.CapacityExponent < 64 {
		d.MemoryCapacity = 1 << d.CapacityExponent
	}
	return d
}

func (d Device) String() string {
	return fmt.Sprintf("signature 0x%02X, manufacturer 0x%02X, memory type 0x%02X, capacity %d bytes",
		d.ElectronicSignature, d.ManufacturerID, d.MemoryType, d.MemoryCapacity)
}

// SectorSize returns the erase sector size used for the device.
func (d Device) SectorSize() (uint32, error) {
	switch d.MemoryCapacity {
	case 1 << 24:
		if d.ManufacturerID == 0x20 && d.MemoryType == 0xBA {
			// Micron N25Q128
			return 64 * 1024, nil
		}
		return 256 * 1024, nil
	case 1 << 25:
		return 256 * 1024, nil
	case 1 << 20:
		return 64 * 1024, nil
	}
	return 0, &UnsupportedCapacityError{
		Capacity:       d.MemoryCapacity,
		ManufacturerID: d.ManufacturerID,
		MemoryType:     d.MemoryType,
	}
}

// AddressingProfile holds the address width and the opcodes derived from
// the device capacity.
type AddressingProfile struct {
	AddressWidth      int  `json:"address_width"`
	ReadOpcode        byte `json:"read_opcode"`
	PageProgramOpcode byte `json:"page_program_opcode"`
	SectorEraseOpcode byte `json:"sector_erase_opcode"`
}

// NewAddressingProfile selects 4-byte addressing for devices larger than
// 16 MiB and 3-byte addressing otherwise.
func NewAddressingProfile(d Device) AddressingProfile {
	if d.CapacityExponent > 24 {
		return AddressingProfile{
			AddressWidth:      4,
			ReadOpcode:        opRead4,
			PageProgramOpcode: opPageProgram4,
			SectorEraseOpcode: opSectorErase4,
		}
	}
	return AddressingProfile{
		AddressWidth:      3,
		ReadOpcode:        opRead3,
		PageProgramOpcode: opPageProgram3,
		SectorEraseOpcode: opSectorErase3,
	}
}

// BankAddressing reports whether the device is addressed in 3-byte mode and
// therefore uses the bank address register.
func (p AddressingProfile) BankAddressing() bool {
	return p.AddressWidth == 3
}

// encode returns addr big-endian in AddressWidth bytes.
func (p AddressingProfile) encode(addr uint32) []byte {
	b := make([]byte, p.AddressWidth)
	for i := range b {
		b[i] = byte(addr >> (8 * (p.AddressWidth - 1 - i)))
	}
	return b
}
