// Package volume steps the AVR volume towards a target with remote-control
// key presses.
package volume

import (
	"errors"
	"fmt"

	"github.com/elijahnyp/theater_controller/cec"
)

const DefaultMultiplier = 2

// ErrNoStatus means the AVR volume could not be read, so nothing was sent.
var ErrNoStatus = errors.New("no audio status")

// Syncer converts a percent difference into key presses. The AVR moves
// half a percent per press, hence the default multiplier of two.
type Syncer struct {
	Multiplier int
}

// Current asks the AVR for its volume in percent. The mute bit is dropped.
func Current(l cec.Link, from cec.LogicalAddress) (uint8, error) {
	data, err := l.Request(from, cec.AudioSystem, cec.OpGiveAudioStatus, nil, cec.OpReportAudioStatus)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty ReportAudioStatus", cec.ErrNoReply)
	}
	return data[0] & 0x7f, nil
}

// Steps is the signed number of key presses that moves current to target.
func (s Syncer) Steps(current, target uint8) int {
	m := s.Multiplier
	if m <= 0 {
		m = DefaultMultiplier
	}
	return (int(target) - int(current)) * m
}

// Sync reads the current volume and presses VolumeUp or VolumeDown until the
// computed step count is used up. There is no read-back; the first failed
// press ends the run. The volume read before stepping is returned even
// when a press fails.
func (s Syncer) Sync(l cec.Link, from cec.LogicalAddress, target uint8) (uint8, error) {
	current, err := Current(l, from)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoStatus, err)
	}
	steps := s.Steps(current, target)
	key := cec.KeyVolumeUp
	if steps < 0 {
		key = cec.KeyVolumeDown
		steps = -steps
	}
	for i := 0; i < steps; i++ {
		if err := cec.KeyPress(l, from, cec.AudioSystem, key); err != nil {
			return current, fmt.Errorf("volume step %d of %d: %w", i+1, steps, err)
		}
	}
	return current, nil
}
