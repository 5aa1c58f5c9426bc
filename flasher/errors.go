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
	"time"
)

// FlasherError is a generic programming error.
type FlasherError struct {
	err string
}

func (e FlasherError) Error() string {
	return e.err
}

// UnsupportedCapacityError is returned by operations that need the sector
// size of a device whose capacity is not in the sector size table.
type UnsupportedCapacityError struct {
	Capacity       uint64
	ManufacturerID byte
	MemoryType     byte
}

func (e *UnsupportedCapacityError) Error() string {
	return fmt.Sprintf("unsupported flash capacity %d bytes (manufacturer 0x%02X, memory type 0x%02X)",
		e.Capacity, e.ManufacturerID, e.MemoryType)
}

// WriteEnableNotConfirmedError means the write enable latch was not observed
// after WREN.
type WriteEnableNotConfirmedError struct {
	Status   Status
	Attempts int
}

func (e *WriteEnableNotConfirmedError) Error() string {
	return fmt.Sprintf("write enable not confirmed after %d status reads, status %s", e.Attempts, e.Status)
}

// AcceptanceTimeoutError means the device never started a write or erase
// command. A write disable has been sent.
type AcceptanceTimeoutError struct {
	Operation string
	Address   uint32
	Status    Status
	Attempts  int
}

func (e *AcceptanceTimeoutError) Error() string {
	return fmt.Sprintf("%s at 0x%08X not accepted after %d status reads, status %s",
		e.Operation, e.Address, e.Attempts, e.Status)
}

// CompletionTimeoutError means a started command was still busy when the
// configured completion ceiling was reached.
type CompletionTimeoutError struct {
	Operation string
	Address   uint32
	Status    Status
	Attempts  int
	Elapsed   time.Duration
}

func (e *CompletionTimeoutError) Error() string {
	return fmt.Sprintf("%s at 0x%08X still busy after %d status reads (%s), status %s",
		e.Operation, e.Address, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Status)
}

// SegmentOutOfRangeError is returned when an image segment touches a sector
// beyond the end of the device.
type SegmentOutOfRangeError struct {
	Start   uint32
	End     uint32
	Sector  int
	Sectors int
}

func (e *SegmentOutOfRangeError) Error() string {
	return fmt.Sprintf("segment [0x%08X, 0x%08X) needs sector %d, device has %d sectors",
		e.Start, e.End, e.Sector, e.Sectors)
}

// VerifyMismatchError reports the first byte that differs from the image.
type VerifyMismatchError struct {
	Address  uint32
	Expected byte
	Actual   byte
}

func (e *VerifyMismatchError) Error() string {
	return fmt.Sprintf("verify failed at 0x%08X: expected 0x%02X, read 0x%02X", e.Address, e.Expected, e.Actual)
}
