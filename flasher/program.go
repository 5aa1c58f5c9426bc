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
	"bytes"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Outcome classifies the result of one erase or program operation.
type Outcome int

// Operation outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeWriteEnableNotConfirmed
	OutcomeAcceptanceTimeout
	OutcomeCompletionTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeWriteEnableNotConfirmed:
		return "write enable not confirmed"
	case OutcomeAcceptanceTimeout:
		return "acceptance timeout"
	case OutcomeCompletionTimeout:
		return "completion timeout"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Operation kinds recorded in a Report.
const (
	OperationErase   = "erase"
	OperationProgram = "program"
)

// OperationResult is the record of one erase or program operation.
type OperationResult struct {
	Kind    string  `json:"operation"`
	Sector  int     `json:"sector"`
	Address uint32  `json:"address"`
	Length  uint32  `json:"length"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
	Error   string  `json:"error,omitempty"`
	// Warning is set when the command was sent without a confirmed write
	// enable. The device may have ignored it.
	Warning string `json:"warning,omitempty"`
}

// Failed reports whether the operation did not succeed.
func (r *OperationResult) Failed() bool {
	return r.Outcome != OutcomeSuccess
}

// Warned reports whether the operation carries a warning.
func (r *OperationResult) Warned() bool {
	return r.Warning != ""
}

// Report is the result of ProgramImage.
type Report struct {
	Device     Device             `json:"device"`
	SectorSize uint32             `json:"sector_size"`
	ErasePlan  []int              `json:"erase_plan"`
	Operations []*OperationResult `json:"operations"`
	Aborted    bool               `json:"aborted"`
}

// Failures returns the operations that did not succeed.
func (r *Report) Failures() []*OperationResult {
	failures := []*OperationResult{}
	for _, op := range r.Operations {
		if op.Failed() {
			failures = append(failures, op)
		}
	}
	return failures
}

// Warnings returns the operations sent without a confirmed write enable.
func (r *Report) Warnings() []*OperationResult {
	warnings := []*OperationResult{}
	for _, op := range r.Operations {
		if op.Warned() {
			warnings = append(warnings, op)
		}
	}
	return warnings
}

// Success reports whether every operation succeeded.
func (r *Report) Success() bool {
	return !r.Aborted && len(r.Failures()) == 0
}

// classify maps a sequence error to an outcome. Errors that are not a
// recoverable sequence failure are returned as fatal.
func classify(err error) (Outcome, error) {
	if err == nil {
		return OutcomeSuccess, nil
	}
	var acceptance *AcceptanceTimeoutError
	var completion *CompletionTimeoutError
	var notConfirmed *WriteEnableNotConfirmedError
	switch {
	case errors.As(err, &acceptance):
		return OutcomeAcceptanceTimeout, nil
	case errors.As(err, &completion):
		return OutcomeCompletionTimeout, nil
	case errors.As(err, &notConfirmed):
		return OutcomeWriteEnableNotConfirmed, nil
	}
	return OutcomeSuccess, err
}

// record appends the result of an operation to the report. It returns a
// non nil error if the failure is fatal.
func (r *Report) record(res *OperationResult, err error, unconfirmed *WriteEnableNotConfirmedError) error {
	outcome, fatal := classify(err)
	if fatal != nil {
		return fatal
	}
	res.Outcome = outcome
	if err != nil {
		res.Err = err
		res.Error = err.Error()
	}
	if unconfirmed != nil {
		res.Warning = unconfirmed.Error()
	}
	r.Operations = append(r.Operations, res)
	return nil
}

// ProgramImage erases every sector touched by segments, programs the
// segments page by page and finally disables writes.
//
// Sequence failures are recorded in the returned Report. Unless
// AbortOnFailure is set, programming continues past them. Transport errors
// always stop programming and are returned.
func (f *SPIFlasher) ProgramImage(segments []Segment) (*Report, error) {
	sectorSize, err := f.SectorSize()
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	plan, err := PlanErase(segments, sectorSize, f.device.MemoryCapacity)
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	report := &Report{Device: f.device, SectorSize: sectorSize, ErasePlan: plan}
	logrus.Infof("Erasing %d sectors of %d bytes", len(plan), sectorSize)

	var firstFailure error
	stop := func(res *OperationResult) bool {
		if res.Failed() && firstFailure == nil {
			firstFailure = res.Err
		}
		if res.Failed() && f.config.AbortOnFailure {
			report.Aborted = true
		}
		return report.Aborted
	}

	for i, sector := range plan {
		res := &OperationResult{
			Kind:    OperationErase,
			Sector:  sector,
			Address: uint32(sector) * sectorSize,
			Length:  sectorSize,
		}
		opErr := f.EraseSector(sector)
		if err := report.record(res, opErr, f.unconfirmed); err != nil {
			return report, err
		}
		f.progress("erasing", i+1, len(plan))
		if stop(res) {
			break
		}
	}

	if !report.Aborted {
		chunks := make([][]Chunk, len(segments))
		total := 0
		for i, seg := range segments {
			chunks[i] = PageChunks(seg.StartAddress(), seg.EndAddress(), PageSize, f.config.AlignPages)
			total += len(chunks[i])
		}
		logrus.Infof("Programming %d bytes in %d pages", imageSize(segments), total)

		done := 0
	program:
		for i, seg := range segments {
			for _, chunk := range chunks[i] {
				res := &OperationResult{
					Kind:    OperationProgram,
					Sector:  int(chunk.Start / sectorSize),
					Address: chunk.Start,
					Length:  chunk.End - chunk.Start,
				}
				opErr := f.ProgramPage(chunk.Start, seg.Data(chunk.Start, chunk.End))
				if err := report.record(res, opErr, f.unconfirmed); err != nil {
					return report, err
				}
				done++
				f.progress("programming", done, total)
				if stop(res) {
					break program
				}
			}
		}
	}

	if err := f.WriteDisable(); err != nil {
		return report, err
	}
	if report.Aborted {
		return report, fmt.Errorf("programming aborted: %w", firstFailure)
	}
	if warnings := report.Warnings(); len(warnings) > 0 {
		logrus.Warnf("%d operations were sent without a confirmed write enable", len(warnings))
	}
	if failures := report.Failures(); len(failures) > 0 {
		logrus.Warnf("Programming finished with %d failed operations", len(failures))
	} else {
		logrus.Info("Programming complete")
	}
	return report, nil
}

// verifyChunkSize is the amount read back per read command while verifying.
const verifyChunkSize = 4096

// VerifyImage reads back every segment and compares it with the image. The
// first difference is returned as a *VerifyMismatchError.
func (f *SPIFlasher) VerifyImage(segments []Segment) error {
	total := 0
	for _, seg := range segments {
		total += len(PageChunks(seg.StartAddress(), seg.EndAddress(), verifyChunkSize, false))
	}
	done := 0
	for _, seg := range segments {
		for _, chunk := range PageChunks(seg.StartAddress(), seg.EndAddress(), verifyChunkSize, false) {
			expected := seg.Data(chunk.Start, chunk.End)
			actual, err := f.Read(chunk.Start, len(expected))
			if err != nil {
				logrus.Error(err)
				return err
			}
			if !bytes.Equal(expected, actual) {
				for i := range expected {
					if expected[i] != actual[i] {
						err := &VerifyMismatchError{
							Address:  chunk.Start + uint32(i),
							Expected: expected[i],
							Actual:   actual[i],
						}
						logrus.Error(err)
						return err
					}
				}
			}
			done++
			f.progress("verifying", done, total)
		}
	}
	logrus.Info("Verify complete")
	return nil
}

func imageSize(segments []Segment) int {
	size := 0
	for _, seg := range segments {
		size += seg.Size()
	}
	return size
}
