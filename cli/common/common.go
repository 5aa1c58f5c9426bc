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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arduino/spiflash-loader/cli/arguments"
	"github.com/arduino/spiflash-loader/cli/feedback"
	"github.com/arduino/spiflash-loader/configuration"
	"github.com/arduino/spiflash-loader/flasher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ConfirmationWord must be typed to go ahead with a destructive operation.
const ConfirmationWord = "yep"

// fatal and fatalResult exit the process; deferred calls do not run.
var (
	fatal       = feedback.Fatal
	fatalResult = feedback.FatalResult
)

// Abort closes c, then exits with errorMsg and exitCode.
func Abort(c io.Closer, errorMsg string, exitCode feedback.ExitCode) {
	closeQuietly(c)
	fatal(errorMsg, exitCode)
}

// AbortResult closes c, then exits printing res.
func AbortResult(c io.Closer, res feedback.ErrorResult, exitCode feedback.ExitCode) {
	closeQuietly(c)
	fatalResult(res, exitCode)
}

func closeQuietly(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logrus.Warnf("Closing the transport: %s", err)
	}
}

// LoadSettings resolves the settings for cmd, exiting on failure.
func LoadSettings(cmd *cobra.Command, flags *arguments.Flags) *configuration.Settings {
	settings, err := flags.Settings(cmd)
	if err != nil {
		var notFound *configuration.NotFoundError
		if errors.As(err, &notFound) {
			feedback.Fatal(err.Error(), feedback.ErrNoConfigFile)
		}
		feedback.Fatal(fmt.Sprintf("Invalid settings: %s", err), feedback.ErrBadArgument)
	}
	return settings
}

// OpenFlasher opens the transport and identifies the flash device, exiting
// on failure.
func OpenFlasher(cmd *cobra.Command, flags *arguments.Flags) (*flasher.SPIFlasher, *configuration.Settings) {
	settings := LoadSettings(cmd, flags)
	ch, err := settings.OpenChannel()
	if err != nil {
		feedback.Fatal(fmt.Sprintf("Error opening the transport: %s", err), feedback.ErrDevice)
	}
	f, err := flasher.NewSPIFlasher(ch, settings.Flasher)
	if err != nil {
		ch.Close()
		feedback.Fatal(fmt.Sprintf("Error identifying the flash device: %s", err), feedback.ErrDevice)
	}
	logrus.Debugf("Opened %s", f.Device())
	return f, settings
}

// Confirm asks for the confirmation word on out and reads the answer from
// in.
func Confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprintf(out, "This is your last chance, enter %s to proceed: ", ConfirmationWord)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		logrus.Debugf("Reading confirmation: %s", err)
		return false
	}
	return strings.TrimSpace(answer) == ConfirmationWord
}

// RequireConfirmation exits with ErrDeclined unless the user confirms or
// yes is set. An open device c is closed before exiting; c may be nil.
func RequireConfirmation(yes bool, c io.Closer) {
	if yes {
		return
	}
	if !Confirm(os.Stdin, os.Stderr) {
		Abort(c, "Aborting", feedback.ErrDeclined)
	}
}
