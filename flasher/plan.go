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

// PlanErase returns the sectors touched by segments, each once, in the order
// they are first touched. totalSize is the device capacity.
func PlanErase(segments []Segment, sectorSize uint32, totalSize uint64) ([]int, error) {
	if sectorSize == 0 {
		return nil, FlasherError{err: "sector size must not be zero"}
	}
	sectors := int(totalSize / uint64(sectorSize))
	erased := make([]bool, sectors)
	plan := []int{}
	for _, seg := range segments {
		mark := func(sector int) error {
			if sector >= sectors {
				return &SegmentOutOfRangeError{
					Start:   seg.StartAddress(),
					End:     seg.EndAddress(),
					Sector:  sector,
					Sectors: sectors,
				}
			}
			if !erased[sector] {
				erased[sector] = true
				plan = append(plan, sector)
			}
			return nil
		}

		startSector := int(seg.StartAddress() / sectorSize)
		if err := mark(startSector); err != nil {
			return nil, err
		}
		for endSector := startSector + 1; uint64(endSector)*uint64(sectorSize) < uint64(seg.EndAddress()); endSector++ {
			if err := mark(endSector); err != nil {
				return nil, err
			}
		}
	}
	return plan, nil
}

// Chunk is the address range [Start, End) written by one page program.
type Chunk struct {
	Start uint32
	End   uint32
}

// PageChunks splits [start, end) into page program chunks. Chunks are
// pageSize long counted from start; with align the first chunk is cut
// at the next page boundary instead.
func PageChunks(start, end uint32, pageSize uint32, align bool) []Chunk {
	chunks := []Chunk{}
	if pageSize == 0 {
		return chunks
	}
	for cursor := uint64(start); cursor < uint64(end); {
		next := cursor + uint64(pageSize)
		if align {
			next = (cursor/uint64(pageSize) + 1) * uint64(pageSize)
		}
		if next > uint64(end) {
			next = uint64(end)
		}
		chunks = append(chunks, Chunk{Start: uint32(cursor), End: uint32(next)})
		cursor = next
	}
	return chunks
}
