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

// Package flasher programs SPI NOR flash devices over a transport.Channel.
package flasher

import (
	"errors"
	"fmt"
	"time"

	"github.com/arduino/spiflash-loader/transport"
	"github.com/sirupsen/logrus"
)

// Flasher is implemented by flash programmers.
type Flasher interface {
	ProgramImage(segments []Segment) (*Report, error)
	VerifyImage(segments []Segment) error
	SetProgressCallback(func(Progress))
	Close() error
}

// Segment is a contiguous block of image data at an absolute flash address.
type Segment interface {
	StartAddress() uint32
	EndAddress() uint32
	Size() int
	// Data returns the bytes in [lo, hi), clipped to the segment.
	Data(lo, hi uint32) []byte
}

// Progress is passed to the progress callback after every operation.
type Progress struct {
	Phase string
	Done  int
	Total int
}

// SPIFlasher drives one SPI NOR device.
type SPIFlasher struct {
	ch               transport.Channel
	config           Config
	device           Device
	profile          AddressingProfile
	state            sequenceState
	progressCallback func(Progress)
	// unconfirmed is set when the last mutating command was sent without
	// an observed write enable latch.
	unconfirmed *WriteEnableNotConfirmedError
}

// NewSPIFlasher identifies the device on ch and returns a flasher for it.
// Unset poll bounds in cfg are replaced by the defaults.
func NewSPIFlasher(ch transport.Channel, cfg Config) (*SPIFlasher, error) {
	if cfg.WriteEnablePolls == 0 {
		cfg.WriteEnablePolls = DefaultWriteEnablePolls
	}
	if cfg.AcceptancePolls == 0 {
		cfg.AcceptancePolls = DefaultAcceptancePolls
	}
	if err := cfg.Validate(); err != nil {
		logrus.Error(err)
		return nil, err
	}
	f := &SPIFlasher{ch: ch, config: cfg}
	if err := f.identify(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *SPIFlasher) identify() error {
	res, err := f.ch.Command(opReleasePowerDown, 3, 1, nil)
	if err != nil {
		logrus.Error(err)
		return err
	}
	signature := res[0]
	id, err := f.ch.Command(opReadIdentifier, 0, 3, nil)
	if err != nil {
		logrus.Error(err)
		return err
	}
	f.device = newDevice(signature, id)
	f.profile = NewAddressingProfile(f.device)

	logrus.Infof("Electronic signature: 0x%02X", f.device.ElectronicSignature)
	logrus.Infof("Manufacturer ID: 0x%02X", f.device.ManufacturerID)
	logrus.Infof("Memory type: 0x%02X", f.device.MemoryType)
	logrus.Infof("Memory capacity: %d bytes, %d-byte addressing", f.device.MemoryCapacity, f.profile.AddressWidth)
	return nil
}

// Device returns the identity read at open time.
func (f *SPIFlasher) Device() Device {
	return f.device
}

// Profile returns the addressing profile of the device.
func (f *SPIFlasher) Profile() AddressingProfile {
	return f.profile
}

// SetProgressCallback sets a function called after every erase, program
// and verify step.
func (f *SPIFlasher) SetProgressCallback(callback func(Progress)) {
	f.progressCallback = callback
}

func (f *SPIFlasher) progress(phase string, done, total int) {
	if f.progressCallback != nil {
		f.progressCallback(Progress{Phase: phase, Done: done, Total: total})
	}
}

// Close the underlying channel.
func (f *SPIFlasher) Close() error {
	return f.ch.Close()
}

// Status reads the status register.
func (f *SPIFlasher) Status() (Status, error) {
	res, err := f.ch.Command(opReadStatus, 0, 1, nil)
	if err != nil {
		return 0, err
	}
	return Status(res[0]), nil
}

// Read returns length bytes starting at address.
func (f *SPIFlasher) Read(address uint32, length int) ([]byte, error) {
	if length < 0 {
		return nil, FlasherError{err: fmt.Sprintf("invalid read length %d", length)}
	}
	return f.ch.Command(f.profile.ReadOpcode, 0, length, f.profile.encode(address))
}

// WriteEnable sets the write enable latch and waits until it is observed.
// If it never is, a *WriteEnableNotConfirmedError is returned.
func (f *SPIFlasher) WriteEnable() error {
	f.setState(stateEnabling)
	if _, err := f.ch.Command(opWriteEnable, 0, 0, nil); err != nil {
		f.setState(stateIdle)
		return err
	}
	res, err := f.poll(poller{limit: f.config.WriteEnablePolls, interval: f.config.PollInterval}, onEnableStatus)
	if err != nil {
		f.setState(stateIdle)
		return err
	}
	if res.action == actionAbort {
		f.setState(stateIdle)
		return &WriteEnableNotConfirmedError{Status: res.status, Attempts: res.attempts}
	}
	return nil
}

// WriteDisable clears the write enable latch. A latch that stays set is
// only logged.
func (f *SPIFlasher) WriteDisable() error {
	if _, err := f.ch.Command(opWriteDisable, 0, 0, nil); err != nil {
		return err
	}
	status, err := f.Status()
	if err != nil {
		return err
	}
	if status.WriteEnabled() {
		logrus.Warnf("Write enable latch still set after write disable, status %s", status)
	}
	f.setState(stateIdle)
	return nil
}

// UnconfirmedWriteEnable returns the unconfirmed write enable of the last
// erase, program or status write, or nil if the latch was observed set.
// It can only be non nil when StrictWriteEnable is off.
func (f *SPIFlasher) UnconfirmedWriteEnable() *WriteEnableNotConfirmedError {
	return f.unconfirmed
}

// operation is a mutating command sent through the write sequence.
type operation struct {
	name    string
	opcode  byte
	address uint32
	payload []byte
	// completionTimeout replaces Config.CompletionTimeout when positive
	completionTimeout time.Duration
}

// mutate runs op through write enable, issue, acceptance and completion.
func (f *SPIFlasher) mutate(op operation) error {
	f.unconfirmed = nil
	if err := f.WriteEnable(); err != nil {
		var notConfirmed *WriteEnableNotConfirmedError
		if !errors.As(err, &notConfirmed) {
			return err
		}
		if f.config.StrictWriteEnable {
			logrus.Error(err)
			return err
		}
		logrus.Warnf("%s at 0x%08X: %s", op.name, op.address, err)
		f.unconfirmed = notConfirmed
	}

	f.setState(stateIssued)
	if _, err := f.ch.Command(op.opcode, 0, 0, op.payload); err != nil {
		f.setState(stateIdle)
		return err
	}

	f.setState(stateAwaitingAcceptance)
	accepted, err := f.poll(poller{limit: f.config.AcceptancePolls, interval: f.config.PollInterval}, onAcceptanceStatus)
	if err != nil {
		f.setState(stateIdle)
		return err
	}
	if accepted.action == actionAbort {
		timeout := &AcceptanceTimeoutError{
			Operation: op.name,
			Address:   op.address,
			Status:    accepted.status,
			Attempts:  accepted.attempts,
		}
		logrus.Error(timeout)
		if err := f.WriteDisable(); err != nil {
			return err
		}
		return timeout
	}

	f.setState(stateAwaitingCompletion)
	// the status that confirmed acceptance may already show completion
	if onCompletionStatus(accepted.status).action == actionProceed {
		f.setState(stateIdle)
		return nil
	}
	ceiling := f.config.CompletionTimeout
	if op.completionTimeout > 0 {
		ceiling = op.completionTimeout
	}
	completed, err := f.poll(poller{
		limit:    f.config.CompletionPolls,
		timeout:  ceiling,
		interval: f.config.PollInterval,
	}, onCompletionStatus)
	f.setState(stateIdle)
	if err != nil {
		return err
	}
	if completed.action == actionAbort {
		timeout := &CompletionTimeoutError{
			Operation: op.name,
			Address:   op.address,
			Status:    completed.status,
			Attempts:  completed.attempts,
			Elapsed:   completed.elapsed,
		}
		logrus.Error(timeout)
		return timeout
	}
	return nil
}

// SectorSize returns the erase granularity of the device.
func (f *SPIFlasher) SectorSize() (uint32, error) {
	return f.device.SectorSize()
}

// EraseSector erases the sector with the given index.
func (f *SPIFlasher) EraseSector(sector int) error {
	sectorSize, err := f.SectorSize()
	if err != nil {
		logrus.Error(err)
		return err
	}
	sectors := int(f.device.MemoryCapacity / uint64(sectorSize))
	if sector < 0 || sector >= sectors {
		return FlasherError{err: fmt.Sprintf("sector %d out of range, device has %d sectors", sector, sectors)}
	}
	address := uint32(sector) * sectorSize
	logrus.Debugf("Erasing sector %d at 0x%08X", sector, address)
	return f.mutate(operation{
		name:    "sector erase",
		opcode:  f.profile.SectorEraseOpcode,
		address: address,
		payload: f.profile.encode(address),
	})
}

// BulkErase erases the whole device. Its completion wait is bounded by
// Config.BulkEraseTimeout when set.
func (f *SPIFlasher) BulkErase() error {
	logrus.Debug("Erasing the whole device")
	return f.mutate(operation{
		name:              "bulk erase",
		opcode:            opBulkErase,
		completionTimeout: f.config.BulkEraseTimeout,
	})
}

// ProgramPage writes at most PageSize bytes at address. Data crossing a page
// boundary wraps around within the page on the device.
func (f *SPIFlasher) ProgramPage(address uint32, data []byte) error {
	if len(data) == 0 || len(data) > PageSize {
		return FlasherError{err: fmt.Sprintf("invalid page program of %d bytes at 0x%08X", len(data), address)}
	}
	logrus.Tracef("Programming %d bytes at 0x%08X", len(data), address)
	return f.mutate(operation{
		name:    "page program",
		opcode:  f.profile.PageProgramOpcode,
		address: address,
		payload: append(f.profile.encode(address), data...),
	})
}

// WriteStatus writes the status register.
func (f *SPIFlasher) WriteStatus(value byte) error {
	return f.mutate(operation{name: "status write", opcode: opWriteStatus, payload: []byte{value}})
}

// WriteBankAddress selects the 16 MiB bank used by 3-byte addresses. It
// does nothing on devices using 4-byte addressing.
func (f *SPIFlasher) WriteBankAddress(bank byte) error {
	if !f.profile.BankAddressing() {
		return nil
	}
	_, err := f.ch.Command(opBankWrite, 0, 0, []byte{bank})
	return err
}

// ReadBankAddress returns the bank address register, or 0 on devices using
// 4-byte addressing.
func (f *SPIFlasher) ReadBankAddress() (byte, error) {
	if !f.profile.BankAddressing() {
		return 0, nil
	}
	res, err := f.ch.Command(opBankRead, 0, 1, nil)
	if err != nil {
		return 0, err
	}
	return res[0], nil
}
