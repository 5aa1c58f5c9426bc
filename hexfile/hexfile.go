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

// Package hexfile loads Intel HEX records (.hex, and the .mcs files written
// by FPGA tool chains) into address-tagged data segments.
package hexfile

import (
	"fmt"
	"io"

	"github.com/arduino/go-paths-helper"
	"github.com/marcinbor85/gohex"
	"github.com/sirupsen/logrus"
)

// Segment is a contiguous block of image data.
type Segment struct {
	start uint32
	data  []byte
}

// NewSegment creates a segment holding data at address start.
func NewSegment(start uint32, data []byte) *Segment {
	return &Segment{start: start, data: data}
}

// StartAddress is the address of the first byte of the segment.
func (s *Segment) StartAddress() uint32 {
	return s.start
}

// EndAddress is the address just past the last byte of the segment.
func (s *Segment) EndAddress() uint32 {
	return s.start + uint32(len(s.data))
}

// Size is the number of bytes in the segment.
func (s *Segment) Size() int {
	return len(s.data)
}

// Data returns the bytes in the absolute address range [lo, hi). The range is
// clipped to the segment.
func (s *Segment) Data(lo, hi uint32) []byte {
	if lo < s.start {
		lo = s.start
	}
	if hi > s.EndAddress() {
		hi = s.EndAddress()
	}
	if hi <= lo {
		return nil
	}
	return s.data[lo-s.start : hi-s.start]
}

func (s *Segment) String() string {
	return fmt.Sprintf("[0x%08X, 0x%08X)", s.StartAddress(), s.EndAddress())
}

// Image is a parsed firmware image.
type Image struct {
	Segments []*Segment
}

// Size is the total number of data bytes in the image.
func (i *Image) Size() int {
	size := 0
	for _, s := range i.Segments {
		size += s.Size()
	}
	return size
}

// Load reads and parses the image at imageFile.
func Load(imageFile *paths.Path) (*Image, error) {
	logrus.Debugf("Reading image %s", imageFile)
	f, err := imageFile.Open()
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	defer f.Close()

	img, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", imageFile, err)
	}
	return img, nil
}

// Parse reads Intel HEX records from r. Adjacent records are merged into a
// single segment; segments are ordered by address.
func Parse(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		logrus.Error(err)
		return nil, err
	}

	img := &Image{}
	for _, seg := range mem.GetDataSegments() {
		if len(seg.Data) == 0 {
			continue
		}
		logrus.Debugf("Segment at 0x%08X, %d bytes", seg.Address, len(seg.Data))
		img.Segments = append(img.Segments, NewSegment(seg.Address, seg.Data))
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("no data records found")
	}
	return img, nil
}
