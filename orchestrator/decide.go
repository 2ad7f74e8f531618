package orchestrator

import (
	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/state"
)

// Action is one side effect of a decision. Actions run in order under the
// actor lock; a failing action is logged and the rest still run.
type Action uint8

const (
	LightsOn Action = iota + 1
	LightsOff
	// RelayAVROn and RelayAVROff also forget what we knew about the AVR.
	RelayAVROn
	RelayAVROff
	RequestAudioFocus
	ReleaseAudioFocus
	// CaptureVolume pushes the takeover volume and keeps the AVR's previous
	// volume as the baseline to restore.
	CaptureVolume
	PushVolume
	RestoreVolume
	BroadcastActiveSource
	PowerOnAVR
	// ProbePower asks for the AVR power status. The reply reaches the
	// monitor like any other frame.
	ProbePower
	StandbyAVR
	RequestPhysicalAddress
	// EnsureAudioMode asks whether system audio mode is on and re-requests
	// focus if it is not.
	EnsureAudioMode
	MarkAVRReady
)

var actionNames = map[Action]string{
	LightsOn:               "LightsOn",
	LightsOff:              "LightsOff",
	RelayAVROn:             "RelayAVROn",
	RelayAVROff:            "RelayAVROff",
	RequestAudioFocus:      "RequestAudioFocus",
	ReleaseAudioFocus:      "ReleaseAudioFocus",
	CaptureVolume:          "CaptureVolume",
	PushVolume:             "PushVolume",
	RestoreVolume:          "RestoreVolume",
	BroadcastActiveSource:  "BroadcastActiveSource",
	PowerOnAVR:             "PowerOnAVR",
	ProbePower:             "ProbePower",
	StandbyAVR:             "StandbyAVR",
	RequestPhysicalAddress: "RequestPhysicalAddress",
	EnsureAudioMode:        "EnsureAudioMode",
	MarkAVRReady:           "MarkAVRReady",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "Action(?)"
}

// Snapshot is everything a decision depends on, copied at the start of a
// tick.
type Snapshot struct {
	State        state.MediaState
	TV           state.Tri
	AVRReady     bool
	AVRStandby   state.Tri
	Address      cec.LogicalAddress
	HasAddress   bool
	ActiveSource uint16
	Activity     bool
	// VolumeChanged is set when the stream proxy has a new target.
	VolumeChanged bool
	// AVRPowered is the relay reading; only taken in SwitchingOff.
	AVRPowered state.Tri
	// Cycles counts ticks since the last transition.
	Cycles int
}

// Outcome is where a decision leads and what it does on the way.
type Outcome struct {
	Next       state.MediaState
	Transition bool
	Actions    []Action
}

// PowerBranch continues a decision once the AVR power status is known.
// Answered runs first whenever the AVR replied at all.
type PowerBranch struct {
	Answered []Action
	On       Outcome
	Standby  Outcome
	Unknown  Outcome
}

func (b *PowerBranch) Pick(p cec.PowerStatus) Outcome {
	switch p {
	case cec.PowerOn:
		return b.On
	case cec.PowerStandby:
		return b.Standby
	default:
		return b.Unknown
	}
}

// Decision is the result of one table evaluation. When Probe is set the
// Outcome is replaced by the branch picked after the probe.
type Decision struct {
	Rule string
	Outcome
	Probe *PowerBranch
}

func stay(s state.MediaState, actions ...Action) Outcome {
	return Outcome{Next: s, Actions: actions}
}

func move(to state.MediaState, actions ...Action) Outcome {
	return Outcome{Next: to, Transition: true, Actions: actions}
}

// Decide evaluates the transition table. The first matching rule wins; with
// no match the state is left alone.
func Decide(s Snapshot, th Thresholds) Decision {
	tvOn := s.TV == state.True
	tvOff := s.TV == state.False

	switch {
	case s.State == state.Watching && tvOff:
		if s.Activity {
			if s.HasAddress {
				return Decision{Rule: "watching-tv-off-resume", Outcome: move(state.Playing, LightsOff, RequestAudioFocus, CaptureVolume)}
			}
			return Decision{Rule: "watching-tv-off-resume", Outcome: move(state.Playing, LightsOff)}
		}
		return Decision{Rule: "watching-tv-off", Outcome: move(state.SwitchingOff, LightsOff)}

	case s.State == state.Playing && s.VolumeChanged && s.HasAddress:
		return Decision{Rule: "playing-volume", Outcome: stay(s.State, PushVolume)}

	case s.State == state.Playing && tvOn:
		if s.HasAddress {
			return Decision{Rule: "playing-tv-on", Outcome: move(state.Watching, ReleaseAudioFocus, RestoreVolume, LightsOn)}
		}
		return Decision{Rule: "playing-tv-on", Outcome: move(state.Watching, LightsOn)}

	case s.State == state.Playing && !s.Activity && s.HasAddress:
		return Decision{Rule: "playing-stopped", Outcome: move(state.SwitchingOff, ReleaseAudioFocus, RestoreVolume)}

	case s.State == state.Off && (s.Activity || tvOn):
		return Decision{Rule: "off-wake", Outcome: move(state.WaitForAudio, RelayAVROn)}

	case s.State == state.WaitForAudio && s.AVRReady:
		return avrReady(s)

	case s.State == state.WaitForAudio && s.Cycles == th.LongWait && s.HasAddress:
		return longWait(s)

	case s.State == state.Watching && s.AVRStandby != state.False && s.HasAddress:
		return Decision{Rule: "watching-avr-asleep", Outcome: stay(s.State, PowerOnAVR, ProbePower)}

	case s.State == state.Playing && s.AVRStandby != state.False && s.HasAddress:
		return Decision{Rule: "playing-avr-asleep", Outcome: stay(s.State, RequestAudioFocus, ProbePower)}

	case s.State == state.Booting:
		return booting(s)

	case s.State == state.SwitchingOff:
		return switchingOff(s, th)
	}
	return Decision{Rule: "none", Outcome: stay(s.State)}
}

func avrReady(s Snapshot) Decision {
	switch {
	case s.TV == state.True:
		if s.HasAddress && s.ActiveSource != state.NoActiveSource {
			return Decision{Rule: "avr-ready-tv", Outcome: move(state.Watching, LightsOn, BroadcastActiveSource)}
		}
		return Decision{Rule: "avr-ready-tv", Outcome: move(state.Watching, LightsOn)}
	case s.Activity:
		if !s.HasAddress {
			return Decision{Rule: "avr-ready-audio-no-address", Outcome: stay(s.State)}
		}
		return Decision{
			Rule:    "avr-ready-audio",
			Outcome: stay(s.State, RequestAudioFocus),
			Probe: &PowerBranch{
				On:      move(state.Playing, CaptureVolume),
				Standby: stay(s.State, PowerOnAVR),
				Unknown: stay(s.State),
			},
		}
	}
	return Decision{Rule: "avr-ready-unused", Outcome: move(state.SwitchingOff)}
}

func longWait(s Snapshot) Decision {
	b := &PowerBranch{
		Answered: []Action{MarkAVRReady},
		On:       stay(s.State),
		Standby:  stay(s.State),
		Unknown:  stay(s.State),
	}
	switch {
	case s.TV == state.True:
		b.Standby = stay(s.State, PowerOnAVR)
		b.Unknown = stay(s.State, PowerOnAVR)
	case s.Activity:
		b.On = stay(s.State, EnsureAudioMode)
		b.Standby = stay(s.State, RequestAudioFocus)
		b.Unknown = stay(s.State, RequestAudioFocus)
	}
	return Decision{Rule: "wait-long", Outcome: stay(s.State), Probe: b}
}

func booting(s Snapshot) Decision {
	switch s.AVRStandby {
	case state.False:
		if s.HasAddress {
			return Decision{Rule: "booting-avr-on", Outcome: move(state.WaitForAudio, RequestPhysicalAddress)}
		}
		return Decision{Rule: "booting-avr-on", Outcome: move(state.WaitForAudio)}
	case state.True:
		return Decision{Rule: "booting-avr-standby", Outcome: move(state.SwitchingOff)}
	}
	if !s.HasAddress {
		return Decision{Rule: "booting-no-address", Outcome: stay(s.State)}
	}
	return Decision{
		Rule:    "booting-probe",
		Outcome: stay(s.State),
		Probe: &PowerBranch{
			On:      move(state.WaitForAudio),
			Standby: move(state.SwitchingOff),
			Unknown: stay(s.State),
		},
	}
}

func switchingOff(s Snapshot, th Thresholds) Decision {
	switch s.AVRPowered {
	case state.False:
		return Decision{Rule: "switching-off-done", Outcome: move(state.Off)}
	case state.Unknown:
		return Decision{Rule: "switching-off-relay-unknown", Outcome: stay(s.State)}
	}
	switch {
	case s.AVRStandby == state.True && s.Cycles >= th.StandbySettle:
		return Decision{Rule: "switching-off-cut", Outcome: move(state.Off, RelayAVROff)}
	case s.AVRStandby == state.True:
		return Decision{Rule: "switching-off-settle", Outcome: stay(s.State)}
	case s.HasAddress:
		return Decision{Rule: "switching-off-standby", Outcome: stay(s.State, StandbyAVR, ProbePower)}
	}
	return Decision{Rule: "switching-off-no-address", Outcome: stay(s.State)}
}

// watched states are the transitional ones the watchdog guards.
func watched(s state.MediaState) bool {
	switch s {
	case state.Booting, state.WaitForAudio, state.SwitchingOff:
		return true
	}
	return false
}

// Watchdog advances the cycle counter for s. When a transitional state has
// lasted longer than the watchdog allows it is forced to SwitchingOff with
// the counter reset.
func Watchdog(s state.MediaState, cycles int, th Thresholds) (state.MediaState, int, bool) {
	if !watched(s) {
		return s, cycles, false
	}
	cycles++
	if cycles > th.Watchdog {
		return state.SwitchingOff, 0, true
	}
	return s, cycles, false
}
