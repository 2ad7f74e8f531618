package snapproxy

import "time"

const DefaultQuiet = 5 * time.Second

// Tracker derives playback activity from message types. Chunks mean audio
// is flowing; time messages arrive twice a second regardless, so they only
// end activity once chunks have been absent for the quiet period.
type Tracker struct {
	Quiet     time.Duration
	now       func() time.Time
	lastChunk time.Time
	active    bool
}

func NewTracker(quiet time.Duration) *Tracker {
	return &Tracker{Quiet: quiet, now: time.Now}
}

// Observe feeds one message type and reports whether activity changed.
func (t *Tracker) Observe(typ uint16) (active, changed bool) {
	switch typ {
	case TypeWireChunk:
		t.lastChunk = t.now()
		if !t.active {
			t.active = true
			return true, true
		}
	case TypeTime:
		if t.active && t.now().Sub(t.lastChunk) > t.Quiet {
			t.active = false
			return false, true
		}
	}
	return t.active, false
}

func (t *Tracker) Active() bool {
	return t.active
}
