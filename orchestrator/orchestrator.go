// Package orchestrator runs the media state machine that decides when the
// AVR, lights and audio focus change.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elijahnyp/theater_controller/actor"
	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/state"
	"github.com/elijahnyp/theater_controller/util"
	"github.com/elijahnyp/theater_controller/volume"
)

// Commands is the bus and relay surface the orchestrator drives.
type Commands = actor.Commands

// Transactor runs fn with exclusive use of the bus and relay.
// *actor.Actor implements it.
type Transactor interface {
	Do(fn func(tx Commands) error) error
}

// Transition is reported to observers after every state change.
type Transition struct {
	From state.MediaState
	To   state.MediaState
	Rule string
	At   time.Time
}

type Observer func(Transition)

type Orchestrator struct {
	bus      Transactor
	shared   *state.Shared
	activity *state.Activity
	volume   *state.VolumeTarget
	tick     time.Duration
	th       Thresholds
	log      zerolog.Logger

	mu          sync.Mutex
	state       state.MediaState
	cycles      int
	baseline    uint8
	hasBaseline bool
	observers   []Observer
}

func New(bus Transactor, shared *state.Shared, activity *state.Activity, vol *state.VolumeTarget, timing Timing, initial state.MediaState) (*Orchestrator, error) {
	th, err := timing.Thresholds()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		bus:      bus,
		shared:   shared,
		activity: activity,
		volume:   vol,
		tick:     timing.Tick,
		th:       th,
		log:      util.Component("orchestrator"),
		state:    initial,
	}, nil
}

func (o *Orchestrator) Thresholds() Thresholds {
	return o.th
}

// Observe registers fn for every later transition. Observers run on the
// orchestrator goroutine and must not block.
func (o *Orchestrator) Observe(fn Observer) {
	o.mu.Lock()
	o.observers = append(o.observers, fn)
	o.mu.Unlock()
}

func (o *Orchestrator) State() state.MediaState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run ticks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info().Msgf("starting in %v, tick %v, thresholds %+v", o.State(), o.tick, o.th)
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.log.Info().Msg("stopped")
			return ctx.Err()
		case <-ticker.C:
			o.Tick()
		}
	}
}

// Tick runs one evaluation: watchdog, snapshot, decision, side effects.
func (o *Orchestrator) Tick() {
	o.mu.Lock()
	cur, cycles := o.state, o.cycles
	o.mu.Unlock()

	next, cycles, forced := Watchdog(cur, cycles, o.th)
	o.mu.Lock()
	o.cycles = cycles
	o.mu.Unlock()
	if forced {
		o.log.Error().Msgf("hang in %v, forcing switch off", cur)
		o.transition(cur, next, "watchdog")
		cur = next
	}

	// control commands cannot land between the steps of one tick
	var (
		d   Decision
		out Outcome
	)
	o.bus.Do(func(tx Commands) error {
		d = Decide(o.snapshot(tx, cur, cycles), o.th)
		out = d.Outcome
		o.run(tx, out.Actions)
		if d.Probe != nil {
			out = o.probe(tx, d.Probe)
		}
		return nil
	})
	if out.Transition {
		o.log.Info().Msgf("%v -> %v (%s)", cur, out.Next, d.Rule)
		o.transition(cur, out.Next, d.Rule)
	} else if d.Rule != "none" {
		o.log.Debug().Msgf("%v: %s", cur, d.Rule)
	}
}

func (o *Orchestrator) snapshot(tx Commands, cur state.MediaState, cycles int) Snapshot {
	f := o.shared.Facts()
	s := Snapshot{
		State:         cur,
		TV:            f.TV,
		AVRReady:      f.AVRReady,
		AVRStandby:    f.AVRStandby,
		Address:       f.Address,
		HasAddress:    f.HasAddress,
		ActiveSource:  f.ActiveSource,
		Activity:      o.activity.Get(),
		VolumeChanged: o.volume.Changed(),
		Cycles:        cycles,
	}
	if cur == state.SwitchingOff {
		powered, err := tx.AVRPowered()
		if err != nil {
			o.log.Warn().Err(err).Msg("reading AVR outlet")
			s.AVRPowered = state.Unknown
		} else {
			s.AVRPowered = state.TriOf(powered)
		}
	}
	return s
}

func (o *Orchestrator) transition(from, to state.MediaState, rule string) {
	o.mu.Lock()
	o.state = to
	o.cycles = 0
	observers := append([]Observer(nil), o.observers...)
	o.mu.Unlock()

	t := Transition{From: from, To: to, Rule: rule, At: time.Now()}
	for _, fn := range observers {
		fn(t)
	}
}

func (o *Orchestrator) probe(tx Commands, b *PowerBranch) Outcome {
	status, err := tx.PowerStatus()
	if err != nil {
		o.log.Debug().Err(err).Msg("power probe")
	} else {
		o.run(tx, b.Answered)
	}
	out := b.Pick(status)
	o.run(tx, out.Actions)
	return out
}

func (o *Orchestrator) run(tx Commands, actions []Action) {
	for _, a := range actions {
		if err := o.do(tx, a); err != nil {
			o.log.Error().Err(err).Msgf("%v failed", a)
		}
	}
}

func (o *Orchestrator) do(tx Commands, a Action) error {
	switch a {
	case LightsOn:
		return tx.SwitchLight(true)
	case LightsOff:
		return tx.SwitchLight(false)
	case RelayAVROn:
		return tx.SwitchAVR(true)
	case RelayAVROff:
		return tx.SwitchAVR(false)
	case RequestAudioFocus:
		return tx.RequestAudioFocus()
	case ReleaseAudioFocus:
		return tx.ReleaseAudioFocus()
	case CaptureVolume:
		prev, err := tx.SetVolume(o.volume.Take())
		if !errors.Is(err, volume.ErrNoStatus) {
			o.mu.Lock()
			o.baseline, o.hasBaseline = prev, true
			o.mu.Unlock()
			o.log.Debug().Msgf("baseline volume %d", prev)
		}
		return err
	case PushVolume:
		_, err := tx.SetVolume(o.volume.Take())
		return err
	case RestoreVolume:
		o.mu.Lock()
		baseline, ok := o.baseline, o.hasBaseline
		o.mu.Unlock()
		if !ok {
			return nil
		}
		_, err := tx.SetVolume(baseline)
		return err
	case BroadcastActiveSource:
		src := o.shared.ActiveSource()
		if src == state.NoActiveSource {
			return nil
		}
		return tx.BroadcastActiveSource(cec.PhysicalAddress(src))
	case PowerOnAVR:
		return tx.PowerOnAVR()
	case ProbePower:
		_, err := tx.PowerStatus()
		return err
	case StandbyAVR:
		return tx.StandbyAVR()
	case RequestPhysicalAddress:
		return tx.RequestPhysicalAddress()
	case EnsureAudioMode:
		on, err := tx.AudioModeOn()
		if err == nil && on {
			o.log.Debug().Msg("already in system audio mode")
			return nil
		}
		return tx.RequestAudioFocus()
	case MarkAVRReady:
		o.shared.SetAVRReady(true)
		return nil
	}
	return nil
}
