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

package program

import (
	"fmt"
	"os"

	"github.com/arduino/arduino-cli/table"
	"github.com/arduino/go-paths-helper"
	"github.com/arduino/spiflash-loader/cli/arguments"
	"github.com/arduino/spiflash-loader/cli/common"
	"github.com/arduino/spiflash-loader/cli/feedback"
	"github.com/arduino/spiflash-loader/cli/globals"
	"github.com/arduino/spiflash-loader/download"
	"github.com/arduino/spiflash-loader/flasher"
	"github.com/arduino/spiflash-loader/hexfile"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	deviceFlags *arguments.Flags
	yes         bool
	verify      bool
	checksum    string
	size        int64
)

// NewCommand creates a new `program` command
func NewCommand(flags *arguments.Flags) *cobra.Command {
	deviceFlags = flags
	command := &cobra.Command{
		Use:   "program <image>",
		Short: "Programs an image into the SPI flash.",
		Long: "Erases every sector touched by the image, then programs the image page by page. " +
			"The image is an Intel HEX or MCS file, or an http(s) URL to download it from.",
		Example: "" +
			"  " + os.Args[0] + " program top.mcs\n" +
			"  " + os.Args[0] + " program --yes --verify top.mcs\n" +
			"  " + os.Args[0] + " program --transport serial -p /dev/ttyUSB0 top.mcs\n" +
			"  " + os.Args[0] + " program --checksum SHA-256:1ae5... --size 9437184 https://example.com/top.mcs\n",
		Args: cobra.ExactArgs(1),
		Run:  runProgram,
	}
	command.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	command.Flags().BoolVar(&verify, "verify", false, "Read back and compare the image after programming")
	command.Flags().StringVar(&checksum, "checksum", "", "Checksum of a downloaded image, e.g.: SHA-256:<hex>")
	command.Flags().Int64Var(&size, "size", 0, "Expected size in bytes of a downloaded image")
	return command
}

func runProgram(cmd *cobra.Command, args []string) {
	imageFile := loadImagePath(args[0])
	img, err := hexfile.Load(imageFile)
	if err != nil {
		feedback.Fatal(fmt.Sprintf("Error loading image: %s", err), feedback.ErrBadArgument)
	}
	feedback.Print(fmt.Sprintf("Programming %s: %d segments, %d bytes", imageFile, len(img.Segments), img.Size()))
	common.RequireConfirmation(yes, nil)

	f, _ := common.OpenFlasher(cmd, deviceFlags)
	defer f.Close()
	feedback.Print(fmt.Sprintf("Target: %s", f.Device()))

	if feedback.GetFormat() == feedback.Text {
		f.SetProgressCallback((&progressPrinter{}).update)
	}

	segments := make([]flasher.Segment, len(img.Segments))
	for i, s := range img.Segments {
		segments[i] = s
	}
	report, err := f.ProgramImage(segments)
	if report == nil {
		common.Abort(f, fmt.Sprintf("Error programming the image: %s", err), feedback.ErrGeneric)
	}
	res := &programResult{Image: imageFile.String(), Report: report}
	if err != nil {
		logrus.Error(err)
		res.Error = err.Error()
		common.AbortResult(f, res, feedback.ErrIncompleteProgram)
	}
	if !report.Success() {
		common.AbortResult(f, res, feedback.ErrIncompleteProgram)
	}

	if verify {
		if err := f.VerifyImage(segments); err != nil {
			res.Error = err.Error()
			common.AbortResult(f, res, feedback.ErrIncompleteProgram)
		}
		res.Verified = true
	}
	feedback.PrintResult(res)
}

// loadImagePath returns the local path of image, downloading it first if it
// is a URL.
func loadImagePath(image string) *paths.Path {
	if !download.IsURL(image) {
		imageFile := paths.New(image)
		if !imageFile.Exist() {
			feedback.Fatal(fmt.Sprintf("Image file not found in %s", imageFile), feedback.ErrBadArgument)
		}
		return imageFile
	}
	imageFile, err := download.DownloadImage(image, globals.ImagesPath, checksum, size)
	if err != nil {
		feedback.Fatal(fmt.Sprintf("Error downloading image from %s: %s", image, err), feedback.ErrNetwork)
	}
	logrus.Debugf("image downloaded in %s", imageFile)
	return imageFile
}

// progressPrinter shows one progress bar per programming phase.
type progressPrinter struct {
	phase string
	bar   *progressbar.ProgressBar
}

func (p *progressPrinter) update(progress flasher.Progress) {
	if p.bar == nil || p.phase != progress.Phase {
		p.phase = progress.Phase
		p.bar = progressbar.NewOptions(progress.Total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(progress.Phase),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
	}
	p.bar.Set(progress.Done)
}

type programResult struct {
	Image    string          `json:"image"`
	Report   *flasher.Report `json:"report"`
	Verified bool            `json:"verified"`
	Error    string          `json:"error,omitempty"`
}

func (r *programResult) String() string {
	erased, programmed := 0, 0
	for _, op := range r.Report.Operations {
		if op.Failed() {
			continue
		}
		switch op.Kind {
		case flasher.OperationErase:
			erased++
		case flasher.OperationProgram:
			programmed++
		}
	}
	res := fmt.Sprintf("Erased %d of %d sectors, programmed %d pages", erased, len(r.Report.ErasePlan), programmed)
	if r.Verified {
		res += ", verified"
	}
	warnings := r.Report.Warnings()
	if len(warnings) > 0 {
		res += fmt.Sprintf("\nWarning: %d operations were sent without a confirmed write enable, the device may have ignored them", len(warnings))
	}
	failures := r.Report.Failures()
	if len(failures) == 0 && len(warnings) == 0 {
		return res
	}
	t := table.New()
	t.SetHeader("Operation", "Sector", "Address", "Length", "Outcome")
	for _, op := range r.Report.Operations {
		if !op.Failed() && !op.Warned() {
			continue
		}
		outcome := op.Outcome.String()
		if op.Warned() {
			outcome += " (write enable not confirmed)"
		}
		t.AddRow(op.Kind, fmt.Sprint(op.Sector), fmt.Sprintf("0x%08X", op.Address), fmt.Sprint(op.Length), outcome)
	}
	return res + "\n" + t.Render()
}

func (r *programResult) Data() interface{} {
	return r
}

// ErrorString implements feedback.ErrorResult
func (r *programResult) ErrorString() string {
	if r.Error != "" {
		return r.Error
	}
	if n := len(r.Report.Failures()); n > 0 {
		return fmt.Sprintf("%d operations failed", n)
	}
	return ""
}
