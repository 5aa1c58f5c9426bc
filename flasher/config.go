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

// Config tunes the write sequence and the programming policy.
type Config struct {
	// WriteEnablePolls bounds the status reads waiting for the write enable latch.
	WriteEnablePolls int `yaml:"write_enable_polls" json:"write_enable_polls"`
	// AcceptancePolls bounds the status reads waiting for a command to start.
	AcceptancePolls int `yaml:"acceptance_polls" json:"acceptance_polls"`
	// CompletionPolls and CompletionTimeout bound the wait for a started
	// command to finish. Zero means no bound.
	CompletionPolls   int           `yaml:"completion_polls" json:"completion_polls"`
	CompletionTimeout time.Duration `yaml:"completion_timeout" json:"completion_timeout"`
	// BulkEraseTimeout replaces CompletionTimeout for a bulk erase, which
	// takes minutes on large devices. Zero keeps CompletionTimeout.
	BulkEraseTimeout time.Duration `yaml:"bulk_erase_timeout" json:"bulk_erase_timeout"`
	// PollInterval is slept between two status reads.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// StrictWriteEnable turns an unconfirmed write enable into a failure.
	StrictWriteEnable bool `yaml:"strict_write_enable" json:"strict_write_enable"`
	// AbortOnFailure stops ProgramImage at the first failed operation.
	AbortOnFailure bool `yaml:"abort_on_failure" json:"abort_on_failure"`
	// AlignPages splits segments on absolute page boundaries.
	AlignPages bool `yaml:"align_pages" json:"align_pages"`
}

// Default poll bounds.
const (
	DefaultWriteEnablePolls = 10
	DefaultAcceptancePolls  = 10
)

// DefaultConfig returns the library defaults: bounded write enable and
// acceptance waits, unbounded completion wait, continue on failure.
func DefaultConfig() Config {
	return Config{
		WriteEnablePolls: DefaultWriteEnablePolls,
		AcceptancePolls:  DefaultAcceptancePolls,
	}
}

// Validate checks that no bound is negative and the mandatory bounds are set.
func (c Config) Validate() error {
	switch {
	case c.WriteEnablePolls <= 0:
		return fmt.Errorf("write_enable_polls must be positive, got %d", c.WriteEnablePolls)
	case c.AcceptancePolls <= 0:
		return fmt.Errorf("acceptance_polls must be positive, got %d", c.AcceptancePolls)
	case c.CompletionPolls < 0:
		return fmt.Errorf("completion_polls must not be negative, got %d", c.CompletionPolls)
	case c.CompletionTimeout < 0:
		return fmt.Errorf("completion_timeout must not be negative, got %s", c.CompletionTimeout)
	case c.BulkEraseTimeout < 0:
		return fmt.Errorf("bulk_erase_timeout must not be negative, got %s", c.BulkEraseTimeout)
	case c.PollInterval < 0:
		return fmt.Errorf("poll_interval must not be negative, got %s", c.PollInterval)
	}
	return nil
}
