package orchestrator

import (
	"fmt"
	"time"
)

// Timing holds the configured durations. They are turned into tick counts
// once at startup.
type Timing struct {
	Tick              time.Duration
	SwitchOffWatchdog time.Duration
	LongWait          time.Duration
	StandbySettle     time.Duration
}

var DefaultTiming = Timing{
	Tick:              250 * time.Millisecond,
	SwitchOffWatchdog: 7 * time.Second,
	LongWait:          5500 * time.Millisecond,
	StandbySettle:     time.Second,
}

// Thresholds are Timing expressed in ticks.
type Thresholds struct {
	Watchdog      int
	LongWait      int
	StandbySettle int
}

// Ticks is the number of whole ticks that fit in d.
func Ticks(d, tick time.Duration) int {
	return int(d / tick)
}

func (t Timing) Thresholds() (Thresholds, error) {
	if t.Tick <= 0 {
		return Thresholds{}, fmt.Errorf("tick must be positive, got %v", t.Tick)
	}
	th := Thresholds{
		Watchdog:      Ticks(t.SwitchOffWatchdog, t.Tick),
		LongWait:      Ticks(t.LongWait, t.Tick),
		StandbySettle: Ticks(t.StandbySettle, t.Tick),
	}
	if th.LongWait >= th.Watchdog {
		return th, fmt.Errorf("long_wait (%v) must be shorter than switch_off_watchdog (%v)", t.LongWait, t.SwitchOffWatchdog)
	}
	if th.StandbySettle >= th.Watchdog {
		return th, fmt.Errorf("standby_settle (%v) must be shorter than switch_off_watchdog (%v)", t.StandbySettle, t.SwitchOffWatchdog)
	}
	return th, nil
}
