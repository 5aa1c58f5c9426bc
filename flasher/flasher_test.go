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
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/arduino/spiflash-loader/hexfile"
	"github.com/arduino/spiflash-loader/transport"
	"github.com/stretchr/testify/require"
)

var _ Segment = (*hexfile.Segment)(nil)

func image(segments ...*hexfile.Segment) []Segment {
	res := make([]Segment, len(segments))
	for i, s := range segments {
		res[i] = s
	}
	return res
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func micron() *simFlash {
	return newSimFlash(0x20, 0xBA, 24, 64*1024)
}

func open(t *testing.T, sim *simFlash, cfg Config) *SPIFlasher {
	f, err := NewSPIFlasher(sim.channel(), cfg)
	require.NoError(t, err)
	return f
}

func TestIdentify(t *testing.T) {
	f := open(t, micron(), DefaultConfig())
	dev := f.Device()
	require.Equal(t, byte(0x17), dev.ElectronicSignature)
	require.Equal(t, byte(0x20), dev.ManufacturerID)
	require.Equal(t, byte(0xBA), dev.MemoryType)
	require.Equal(t, uint64(1<<24), dev.MemoryCapacity)

	p := f.Profile()
	require.Equal(t, 3, p.AddressWidth)
	require.Equal(t, opRead3, p.ReadOpcode)
	require.Equal(t, opPageProgram3, p.PageProgramOpcode)
	require.Equal(t, opSectorErase3, p.SectorEraseOpcode)

	sectorSize, err := f.SectorSize()
	require.NoError(t, err)
	require.Equal(t, uint32(64*1024), sectorSize)
}

func TestAddressingWidth(t *testing.T) {
	for exp := byte(0); exp < 40; exp++ {
		dev := newDevice(0, []byte{0xEF, 0x40, exp})
		p := NewAddressingProfile(dev)
		if dev.MemoryCapacity > 1<<24 {
			require.Equal(t, 4, p.AddressWidth, "exponent %d", exp)
			require.Equal(t, opRead4, p.ReadOpcode)
			require.Equal(t, opPageProgram4, p.PageProgramOpcode)
			require.Equal(t, opSectorErase4, p.SectorEraseOpcode)
			require.False(t, p.BankAddressing())
		} else {
			require.Equal(t, 3, p.AddressWidth, "exponent %d", exp)
			require.True(t, p.BankAddressing())
		}
		require.Len(t, p.encode(0x01020304), p.AddressWidth)
	}
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, NewAddressingProfile(newDevice(0, []byte{1, 2, 25})).encode(0x01020304))
	require.Equal(t, []byte{0x02, 0x03, 0x04}, NewAddressingProfile(newDevice(0, []byte{1, 2, 24})).encode(0x01020304))
}

func TestSectorSizeTable(t *testing.T) {
	tests := []struct {
		id   []byte
		size uint32
	}{
		{[]byte{0x20, 0xBA, 24}, 64 * 1024},
		{[]byte{0xEF, 0x40, 24}, 256 * 1024},
		{[]byte{0x20, 0xBB, 24}, 256 * 1024},
		{[]byte{0x01, 0x02, 25}, 256 * 1024},
		{[]byte{0xEF, 0x40, 20}, 64 * 1024},
	}
	for _, test := range tests {
		size, err := newDevice(0, test.id).SectorSize()
		require.NoError(t, err)
		require.Equal(t, test.size, size, "id % X", test.id)
	}

	for _, exp := range []byte{16, 21, 22, 23, 26, 30} {
		_, err := newDevice(0, []byte{0xEF, 0x40, exp}).SectorSize()
		var unsupported *UnsupportedCapacityError
		require.True(t, errors.As(err, &unsupported), "exponent %d", exp)
		require.Equal(t, uint64(1)<<exp, unsupported.Capacity)
	}
}

func TestUnsupportedCapacityBeforeMutation(t *testing.T) {
	sim := newSimFlash(0xEF, 0x40, 30, 64*1024)
	f := open(t, sim, DefaultConfig())
	require.Equal(t, 4, f.Profile().AddressWidth)

	report, err := f.ProgramImage(image(hexfile.NewSegment(0, pattern(10, 1))))
	var unsupported *UnsupportedCapacityError
	require.True(t, errors.As(err, &unsupported))
	require.Nil(t, report)

	require.Error(t, f.EraseSector(0))
	require.False(t, sim.mutated())
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "0x03 (WIP=1 WEL=1)", Status(0x03).String())
	require.Equal(t, "0x02 (WIP=0 WEL=1)", Status(0x02).String())
	require.True(t, Status(0x01).Busy())
	require.False(t, Status(0x01).WriteEnabled())
}

func TestTransitions(t *testing.T) {
	require.Equal(t, transition{stateEnabling, actionPoll}, onEnableStatus(0x00))
	require.Equal(t, transition{stateEnabling, actionPoll}, onEnableStatus(StatusBusy))
	require.Equal(t, transition{stateIssued, actionProceed}, onEnableStatus(StatusWriteEnableLatch))

	require.Equal(t, transition{stateAwaitingAcceptance, actionPoll}, onAcceptanceStatus(StatusWriteEnableLatch))
	require.Equal(t, transition{stateAwaitingCompletion, actionProceed}, onAcceptanceStatus(0x00))
	require.Equal(t, transition{stateAwaitingCompletion, actionProceed}, onAcceptanceStatus(StatusBusy|StatusWriteEnableLatch))

	require.Equal(t, transition{stateAwaitingCompletion, actionPoll}, onCompletionStatus(StatusBusy))
	require.Equal(t, transition{stateIdle, actionProceed}, onCompletionStatus(StatusWriteEnableLatch))
	require.Equal(t, transition{stateIdle, actionProceed}, onCompletionStatus(0x00))
}

func TestPlanEraseMicronScenario(t *testing.T) {
	segments := image(
		hexfile.NewSegment(0, make([]byte, 100)),
		hexfile.NewSegment(70000, make([]byte, 100)),
	)
	plan, err := PlanErase(segments, 64*1024, 1<<24)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, plan)
}

func TestPlanEraseFirstTouchOrder(t *testing.T) {
	segments := image(
		hexfile.NewSegment(0x5000, make([]byte, 0x10)),
		hexfile.NewSegment(0x2000, make([]byte, 0x1800)),
		hexfile.NewSegment(0x5100, make([]byte, 0x100)),
		hexfile.NewSegment(0x1000, make([]byte, 0x1000)),
	)
	plan, err := PlanErase(segments, 0x1000, 0x10000)
	require.NoError(t, err)
	require.Equal(t, []int{5, 2, 3, 1}, plan)
}

func TestPlanEraseOutOfRange(t *testing.T) {
	var outOfRange *SegmentOutOfRangeError

	_, err := PlanErase(image(hexfile.NewSegment(0xF000, make([]byte, 0x1001))), 0x1000, 0x10000)
	require.True(t, errors.As(err, &outOfRange))
	require.Equal(t, 16, outOfRange.Sector)
	require.Equal(t, 16, outOfRange.Sectors)

	_, err = PlanErase(image(hexfile.NewSegment(0x20000, make([]byte, 1))), 0x1000, 0x10000)
	require.True(t, errors.As(err, &outOfRange))

	plan, err := PlanErase(image(hexfile.NewSegment(0xF000, make([]byte, 0x1000))), 0x1000, 0x10000)
	require.NoError(t, err)
	require.Equal(t, []int{15}, plan)
}

func randomSegments(r *rand.Rand, sectorSize, total uint32) []Segment {
	n := 1 + r.Intn(6)
	segments := make([]Segment, n)
	for i := range segments {
		start := uint32(r.Int63n(int64(total - 1)))
		size := 1 + uint32(r.Int63n(int64(3*sectorSize)))
		if start+size > total {
			size = total - start
		}
		segments[i] = hexfile.NewSegment(start, make([]byte, size))
	}
	return segments
}

func TestPlanEraseCoverage(t *testing.T) {
	const sectorSize, total = 0x1000, 0x40000
	r := rand.New(rand.NewSource(1))
	for round := 0; round < 200; round++ {
		segments := randomSegments(r, sectorSize, total)
		plan, err := PlanErase(segments, sectorSize, total)
		require.NoError(t, err)

		planned := map[int]bool{}
		for _, sector := range plan {
			require.False(t, planned[sector], "sector %d planned twice", sector)
			planned[sector] = true
		}

		touched := map[int]bool{}
		for _, seg := range segments {
			for a := seg.StartAddress() / sectorSize; a*sectorSize < seg.EndAddress(); a++ {
				touched[int(a)] = true
			}
		}
		require.Equal(t, touched, planned)

		again, err := PlanErase(append(segments, segments...), sectorSize, total)
		require.NoError(t, err)
		require.Equal(t, plan, again)
	}
}

func TestPageChunks(t *testing.T) {
	require.Equal(t, []Chunk{{0, 256}, {256, 300}}, PageChunks(0, 300, 256, false))
	require.Equal(t, []Chunk{{70000, 70256}, {70256, 70300}}, PageChunks(70000, 70300, 256, false))
	require.Equal(t, []Chunk{{70000, 70144}, {70144, 70300}}, PageChunks(70000, 70300, 256, true))
	require.Equal(t, []Chunk{{0, 256}, {256, 512}}, PageChunks(0, 512, 256, true))
	require.Empty(t, PageChunks(5, 5, 256, false))
	require.Equal(t, []Chunk{{0xFFFFFF00, 0xFFFFFFFF}}, PageChunks(0xFFFFFF00, 0xFFFFFFFF, 256, false))
}

func TestPageChunksProperties(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for round := 0; round < 500; round++ {
		start := uint32(r.Intn(1 << 20))
		end := start + uint32(r.Intn(4096))
		for _, align := range []bool{false, true} {
			chunks := PageChunks(start, end, PageSize, align)
			cursor := start
			for i, c := range chunks {
				require.Equal(t, cursor, c.Start)
				require.Greater(t, c.End, c.Start)
				require.LessOrEqual(t, c.End-c.Start, uint32(PageSize))
				if !align && i < len(chunks)-1 {
					require.Equal(t, uint32(PageSize), c.End-c.Start)
				}
				if align {
					require.Equal(t, c.Start/PageSize, (c.End-1)/PageSize, "chunk crosses a page")
				}
				cursor = c.End
			}
			require.Equal(t, end, cursor)
		}
	}
}

func TestProgramImageRoundTrip(t *testing.T) {
	sim := micron()
	sim.busyPolls = 2
	sim.mem[50] = 0x00
	sim.mem[70050] = 0x12
	sim.mem[196700] = 0x00
	sim.mem[500000] = 0x00

	cfg := DefaultConfig()
	cfg.AlignPages = true
	f := open(t, sim, cfg)

	segments := image(
		hexfile.NewSegment(0, pattern(100, 1)),
		hexfile.NewSegment(70000, pattern(700, 2)),
		hexfile.NewSegment(200000, pattern(773, 3)),
	)
	report, err := f.ProgramImage(segments)
	require.NoError(t, err)
	require.True(t, report.Success())
	require.Equal(t, []int{0, 1, 3}, report.ErasePlan)
	require.Equal(t, uint32(64*1024), report.SectorSize)
	require.Equal(t, stateIdle, f.state)

	// erases come first, write disable last
	ops := sim.opcodes
	require.Equal(t, opWriteDisable, ops[len(ops)-2])
	require.Equal(t, opReadStatus, ops[len(ops)-1])
	firstProgram := -1
	lastErase := -1
	for i, op := range ops {
		if op == opPageProgram3 && firstProgram < 0 {
			firstProgram = i
		}
		if op == opSectorErase3 {
			lastErase = i
		}
	}
	require.Less(t, lastErase, firstProgram)

	for _, seg := range segments {
		data, err := f.Read(seg.StartAddress(), seg.Size())
		require.NoError(t, err)
		require.Equal(t, seg.Data(seg.StartAddress(), seg.EndAddress()), data)
	}
	require.Equal(t, byte(0xFF), sim.byteAt(196700), "planned sector not erased")
	require.Equal(t, byte(0x00), sim.byteAt(500000), "untouched sector erased")
	require.NoError(t, f.VerifyImage(segments))
}

func TestProgramImageUnalignedChunks(t *testing.T) {
	sim := micron()
	f := open(t, sim, DefaultConfig())

	// page aligned segment starts are not affected by unaligned chunking
	aligned := image(
		hexfile.NewSegment(0, pattern(100, 1)),
		hexfile.NewSegment(0x11100, pattern(700, 2)),
	)
	report, err := f.ProgramImage(aligned)
	require.NoError(t, err)
	require.True(t, report.Success())
	require.NoError(t, f.VerifyImage(aligned))

	// a chunk crossing a page boundary wraps around on the device
	unaligned := image(hexfile.NewSegment(70000, pattern(300, 1)))
	report, err = f.ProgramImage(unaligned)
	require.NoError(t, err)
	require.True(t, report.Success())
	programs := []*OperationResult{}
	for _, op := range report.Operations {
		if op.Kind == OperationProgram {
			programs = append(programs, op)
		}
	}
	require.Len(t, programs, 2)
	require.Equal(t, uint32(70000), programs[0].Address)
	require.Equal(t, uint32(256), programs[0].Length)
	require.Equal(t, uint32(70256), programs[1].Address)
	require.Equal(t, uint32(44), programs[1].Length)

	err = f.VerifyImage(unaligned)
	var mismatch *VerifyMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, uint32(70144), mismatch.Address)
	require.Equal(t, byte(0xFF), mismatch.Actual)
}

func TestFourByteAddressing(t *testing.T) {
	sim := newSimFlash(0x01, 0x02, 25, 256*1024)
	f := open(t, sim, DefaultConfig())

	data := pattern(256, 9)
	segments := image(hexfile.NewSegment(0x01000000, data))
	report, err := f.ProgramImage(segments)
	require.NoError(t, err)
	require.Equal(t, []int{64}, report.ErasePlan)

	read, err := f.Read(0x01000000, 256)
	require.NoError(t, err)
	require.Equal(t, data, read)
	require.Equal(t, 1, sim.count(opSectorErase4))
	require.Equal(t, 1, sim.count(opPageProgram4))
	require.Zero(t, sim.count(opPageProgram3))
	require.Zero(t, sim.count(opRead3))
}

func TestBankAddress(t *testing.T) {
	sim := newSimFlash(0x01, 0x02, 25, 256*1024)
	f := open(t, sim, DefaultConfig())
	require.NoError(t, f.WriteBankAddress(1))
	bank, err := f.ReadBankAddress()
	require.NoError(t, err)
	require.Zero(t, bank)
	require.Zero(t, sim.count(opBankWrite))
	require.Zero(t, sim.count(opBankRead))

	sim = micron()
	f = open(t, sim, DefaultConfig())
	require.NoError(t, f.WriteBankAddress(1))
	bank, err = f.ReadBankAddress()
	require.NoError(t, err)
	require.Equal(t, byte(1), bank)
}

func TestWriteStatusAndBulkErase(t *testing.T) {
	sim := micron()
	sim.mem[1234] = 0
	f := open(t, sim, DefaultConfig())
	require.NoError(t, f.WriteStatus(0x1C))
	require.Equal(t, 1, sim.count(opWriteStatus))
	require.NoError(t, f.BulkErase())
	require.Equal(t, byte(0xFF), sim.byteAt(1234))
}

func TestProgramPageLimits(t *testing.T) {
	f := open(t, micron(), DefaultConfig())
	require.Error(t, f.ProgramPage(0, nil))
	require.Error(t, f.ProgramPage(0, make([]byte, PageSize+1)))
	require.NoError(t, f.ProgramPage(0, make([]byte, PageSize)))
	_, err := f.Read(0, -1)
	require.Error(t, err)
}

func TestAcceptanceTimeoutContinues(t *testing.T) {
	sim := micron()
	sim.ignoreWrites = true
	f := open(t, sim, DefaultConfig())

	report, err := f.ProgramImage(image(hexfile.NewSegment(0, pattern(300, 1))))
	require.NoError(t, err)
	require.False(t, report.Success())
	require.False(t, report.Aborted)
	require.Len(t, report.Operations, 3)
	require.Len(t, report.Failures(), 3)
	for _, op := range report.Operations {
		require.Equal(t, OutcomeAcceptanceTimeout, op.Outcome)
		var timeout *AcceptanceTimeoutError
		require.True(t, errors.As(op.Err, &timeout))
		require.Equal(t, DefaultAcceptancePolls, timeout.Attempts)
	}
	// one write disable per timeout and the final one
	require.Equal(t, 4, sim.count(opWriteDisable))
	require.False(t, sim.wel)
}

func TestAcceptanceTimeoutAborts(t *testing.T) {
	sim := micron()
	sim.ignoreWrites = true
	cfg := DefaultConfig()
	cfg.AbortOnFailure = true
	f := open(t, sim, cfg)

	report, err := f.ProgramImage(image(hexfile.NewSegment(0, pattern(300, 1))))
	var timeout *AcceptanceTimeoutError
	require.True(t, errors.As(err, &timeout))
	require.True(t, report.Aborted)
	require.Len(t, report.Operations, 1)
	require.Equal(t, OperationErase, report.Operations[0].Kind)
	require.Zero(t, sim.count(opPageProgram3))
	require.Equal(t, 2, sim.count(opWriteDisable))
}

func TestCompletionCeiling(t *testing.T) {
	sim := micron()
	sim.neverComplete = true
	cfg := DefaultConfig()
	cfg.CompletionPolls = 5
	f := open(t, sim, cfg)

	err := f.ProgramPage(0, []byte{1, 2, 3})
	var timeout *CompletionTimeoutError
	require.True(t, errors.As(err, &timeout))
	require.Equal(t, 5, timeout.Attempts)
	require.Equal(t, "page program", timeout.Operation)
	require.Equal(t, stateIdle, f.state)

	sim = micron()
	sim.neverComplete = true
	cfg = DefaultConfig()
	cfg.CompletionTimeout = 20 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	f = open(t, sim, cfg)
	err = f.EraseSector(3)
	require.True(t, errors.As(err, &timeout))
	require.GreaterOrEqual(t, timeout.Elapsed, 20*time.Millisecond)
}

func TestCompletionUnboundedByDefault(t *testing.T) {
	sim := micron()
	sim.busyPolls = 50
	f := open(t, sim, DefaultConfig())
	require.NoError(t, f.ProgramPage(0x100, []byte{0x55}))
	require.GreaterOrEqual(t, sim.statusReads, 50)
	require.Equal(t, byte(0x55), sim.byteAt(0x100))
}

func TestWriteEnableNotConfirmed(t *testing.T) {
	sim := micron()
	sim.stuckLatch = true
	f := open(t, sim, DefaultConfig())
	// lenient: the command is still sent, and silently ignored by the device
	require.NoError(t, f.ProgramPage(0, []byte{0x00}))
	require.Equal(t, 1, sim.count(opPageProgram3))
	require.Equal(t, byte(0xFF), sim.byteAt(0))

	sim = micron()
	sim.stuckLatch = true
	cfg := DefaultConfig()
	cfg.StrictWriteEnable = true
	f = open(t, sim, cfg)
	err := f.ProgramPage(0, []byte{0x00})
	var notConfirmed *WriteEnableNotConfirmedError
	require.True(t, errors.As(err, &notConfirmed))
	require.Equal(t, DefaultWriteEnablePolls, notConfirmed.Attempts)
	require.Zero(t, sim.count(opPageProgram3))

	report, err := f.ProgramImage(image(hexfile.NewSegment(0, pattern(10, 1))))
	require.NoError(t, err)
	require.Len(t, report.Operations, 2)
	for _, op := range report.Operations {
		require.Equal(t, OutcomeWriteEnableNotConfirmed, op.Outcome)
		require.Empty(t, op.Warning)
	}
}

func TestUnconfirmedWriteEnableIsReported(t *testing.T) {
	sim := micron()
	sim.stuckLatch = true
	f := open(t, sim, DefaultConfig())

	report, err := f.ProgramImage(image(hexfile.NewSegment(0, pattern(300, 1))))
	require.NoError(t, err)
	require.Len(t, report.Operations, 3)
	require.Empty(t, report.Failures())
	require.Len(t, report.Warnings(), 3)
	for _, op := range report.Operations {
		require.Equal(t, OutcomeSuccess, op.Outcome)
		require.True(t, op.Warned())
		require.Contains(t, op.Warning, "write enable not confirmed")
	}
	// nothing was written
	require.Equal(t, byte(0xFF), sim.byteAt(0))
	require.NotNil(t, f.UnconfirmedWriteEnable())

	sim.stuckLatch = false
	require.NoError(t, f.ProgramPage(0, []byte{0x00}))
	require.Nil(t, f.UnconfirmedWriteEnable())
	require.Equal(t, byte(0x00), sim.byteAt(0))
}

func TestBulkEraseTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompletionTimeout = time.Millisecond
	cfg.PollInterval = 2 * time.Millisecond

	sim := micron()
	sim.busyPolls = 5
	err := open(t, sim, cfg).BulkErase()
	var timeout *CompletionTimeoutError
	require.True(t, errors.As(err, &timeout))
	require.Equal(t, "bulk erase", timeout.Operation)

	sim = micron()
	sim.busyPolls = 5
	sim.mem[42] = 0
	cfg.BulkEraseTimeout = time.Minute
	require.NoError(t, open(t, sim, cfg).BulkErase())
	require.Equal(t, byte(0xFF), sim.byteAt(42))
}

type failingSender struct {
	*simFlash
	left int
}

func (s *failingSender) Send(msg []byte) ([]byte, error) {
	if s.left == 0 {
		return nil, errors.New("link down")
	}
	s.left--
	return s.simFlash.Send(msg)
}

func TestTransportErrorIsFatal(t *testing.T) {
	sim := micron()
	sender := &failingSender{simFlash: sim, left: 2 + 20}
	f, err := NewSPIFlasher(transport.NewChannel(sender), DefaultConfig())
	require.NoError(t, err)

	report, err := f.ProgramImage(image(hexfile.NewSegment(0, pattern(4096, 1))))
	require.Error(t, err)
	require.Contains(t, err.Error(), "link down")
	require.NotNil(t, report)
	require.Less(t, len(report.Operations), 1+16)
}

func TestProgress(t *testing.T) {
	f := open(t, micron(), DefaultConfig())
	calls := map[string][]Progress{}
	f.SetProgressCallback(func(p Progress) {
		calls[p.Phase] = append(calls[p.Phase], p)
	})
	segments := image(hexfile.NewSegment(0x10000, pattern(1000, 4)))
	_, err := f.ProgramImage(segments)
	require.NoError(t, err)
	require.NoError(t, f.VerifyImage(segments))

	require.Len(t, calls["erasing"], 1)
	require.Len(t, calls["programming"], 4)
	require.Equal(t, Progress{Phase: "programming", Done: 4, Total: 4}, calls["programming"][3])
	require.Len(t, calls["verifying"], 1)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.CompletionPolls = -1
	require.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.PollInterval = -time.Second
	require.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.BulkEraseTimeout = -time.Second
	require.Error(t, cfg.Validate())

	_, err := NewSPIFlasher(micron().channel(), Config{AcceptancePolls: -1})
	require.Error(t, err)
}
