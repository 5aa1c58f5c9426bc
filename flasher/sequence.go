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
	"time"

	"github.com/sirupsen/logrus"
)

// sequenceState tracks a mutating command through the write sequence.
type sequenceState int

const (
	stateIdle sequenceState = iota
	stateEnabling
	stateIssued
	stateAwaitingAcceptance
	stateAwaitingCompletion
)

func (s sequenceState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateEnabling:
		return "enabling"
	case stateIssued:
		return "issued"
	case stateAwaitingAcceptance:
		return "awaiting acceptance"
	case stateAwaitingCompletion:
		return "awaiting completion"
	}
	return "unknown"
}

type pollAction int

const (
	actionPoll pollAction = iota
	actionProceed
	actionAbort
)

type transition struct {
	next   sequenceState
	action pollAction
}

// onEnableStatus decides on a status read while waiting for the latch.
func onEnableStatus(s Status) transition {
	if s.WriteEnabled() {
		return transition{next: stateIssued, action: actionProceed}
	}
	return transition{next: stateEnabling, action: actionPoll}
}

// onAcceptanceStatus decides on a status read after a command was issued.
// The command has been taken once the latch is released or the device is busy.
func onAcceptanceStatus(s Status) transition {
	if !s.WriteEnabled() || s.Busy() {
		return transition{next: stateAwaitingCompletion, action: actionProceed}
	}
	return transition{next: stateAwaitingAcceptance, action: actionPoll}
}

// onCompletionStatus decides on a status read while the device is working.
func onCompletionStatus(s Status) transition {
	if s.Busy() {
		return transition{next: stateAwaitingCompletion, action: actionPoll}
	}
	return transition{next: stateIdle, action: actionProceed}
}

// poller bounds a status wait. A zero limit or timeout is no bound.
type poller struct {
	limit    int
	timeout  time.Duration
	interval time.Duration
}

type pollResult struct {
	transition
	status   Status
	attempts int
	elapsed  time.Duration
}

// poll reads the status register until decide stops asking for more reads.
// When the bounds are exhausted the returned action is actionAbort.
func (f *SPIFlasher) poll(p poller, decide func(Status) transition) (pollResult, error) {
	start := time.Now()
	res := pollResult{}
	for {
		if res.attempts > 0 && p.interval > 0 {
			time.Sleep(p.interval)
		}
		status, err := f.Status()
		if err != nil {
			return res, err
		}
		res.attempts++
		res.status = status
		res.elapsed = time.Since(start)
		res.transition = decide(status)
		if res.action != actionPoll {
			return res, nil
		}
		if (p.limit > 0 && res.attempts >= p.limit) || (p.timeout > 0 && res.elapsed >= p.timeout) {
			res.action = actionAbort
			return res, nil
		}
	}
}

func (f *SPIFlasher) setState(s sequenceState) {
	if f.state != s {
		logrus.Tracef("write sequence: %s -> %s", f.state, s)
	}
	f.state = s
}
