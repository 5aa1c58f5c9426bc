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

package common

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/arduino/spiflash-loader/cli/feedback"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		answer string
		ok     bool
	}{
		{"yep\n", true},
		{"  yep \r\n", true},
		{"yep", true},
		{"yes\n", false},
		{"YEP\n", false},
		{"\n", false},
		{"", false},
		{"nope\nyep\n", false},
	}
	for _, test := range tests {
		var out bytes.Buffer
		require.Equal(t, test.ok, Confirm(strings.NewReader(test.answer), &out), "answer %q", test.answer)
		require.Equal(t, "This is your last chance, enter yep to proceed: ", out.String())
	}
}

type recordingCloser struct {
	events *[]string
	err    error
}

func (c *recordingCloser) Close() error {
	*c.events = append(*c.events, "close")
	return c.err
}

type failure string

func (f failure) String() string { return string(f) }
func (f failure) Data() interface{} { return string(f) }
func (f failure) ErrorString() string { return string(f) }

func TestAbortClosesBeforeExit(t *testing.T) {
	defer func(f func(string, feedback.ExitCode), fr func(feedback.ErrorResult, feedback.ExitCode)) {
		fatal, fatalResult = f, fr
	}(fatal, fatalResult)

	events := []string{}
	var code feedback.ExitCode
	fatal = func(msg string, exitCode feedback.ExitCode) {
		events = append(events, "exit "+msg)
		code = exitCode
	}
	fatalResult = func(res feedback.ErrorResult, exitCode feedback.ExitCode) {
		events = append(events, "exit "+res.ErrorString())
		code = exitCode
	}

	Abort(&recordingCloser{events: &events}, "device gone", feedback.ErrDevice)
	require.Equal(t, []string{"close", "exit device gone"}, events)
	require.Equal(t, feedback.ErrDevice, code)

	events = events[:0]
	AbortResult(&recordingCloser{events: &events, err: errors.New("busy")}, failure("2 operations failed"), feedback.ErrIncompleteProgram)
	require.Equal(t, []string{"close", "exit 2 operations failed"}, events)
	require.Equal(t, feedback.ErrIncompleteProgram, code)

	events = events[:0]
	Abort(nil, "Aborting", feedback.ErrDeclined)
	require.Equal(t, []string{"exit Aborting"}, events)
	require.Equal(t, feedback.ErrDeclined, code)
}
