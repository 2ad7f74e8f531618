package monitor

import (
	"bytes"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/state"
	"github.com/elijahnyp/theater_controller/util"
)

// addressPriority is the order in which a claimed playback address is
// adopted when the adapter holds several.
var addressPriority = []cec.LogicalAddress{cec.Playback1, cec.Playback2, cec.Playback3}

// Monitor turns bus traffic into facts in state.Shared.
type Monitor struct {
	bus    cec.Poller
	shared *state.Shared
	// avrReport is the ReportPhysicalAddr payload the AVR broadcasts once it
	// accepts commands.
	avrReport []byte
	// OnAddress runs in its own goroutine each time we go from holding no
	// logical address to holding one.
	OnAddress func(cec.LogicalAddress)
	log       zerolog.Logger
}

func New(bus cec.Poller, shared *state.Shared, avr cec.PhysicalAddress) *Monitor {
	return &Monitor{
		bus:       bus,
		shared:    shared,
		avrReport: append(avr.Bytes(), byte(cec.AudioSystem)),
		log:       util.Component("monitor"),
	}
}

// Run polls the bus until the transport fails. The returned error always
// wraps cec.ErrTransport.
func (m *Monitor) Run() error {
	for {
		ev, err := m.bus.PollEvent()
		if err != nil {
			return fmt.Errorf("%w: bus monitor: %v", cec.ErrTransport, err)
		}
		m.Handle(ev)
	}
}

func (m *Monitor) Handle(ev cec.Event) {
	switch e := ev.(type) {
	case cec.StateChange:
		m.stateChange(e)
	case cec.Frame:
		m.frame(e)
	}
}

func (m *Monitor) stateChange(e cec.StateChange) {
	m.log.Trace().Msgf("adapter state: phys %v mask 0x%04x", e.PhysicalAddress, uint16(e.Mask))
	for _, a := range addressPriority {
		if e.Mask.Has(a) {
			if m.shared.SetAddress(a) {
				m.log.Info().Msgf("claimed logical address %v", a)
				if m.OnAddress != nil {
					go m.OnAddress(a)
				}
			}
			return
		}
	}
	if _, had := m.shared.Address(); had {
		m.log.Info().Msg("lost logical address")
	}
	m.shared.ClearAddress()
}

func (m *Monitor) frame(f cec.Frame) {
	own, hasOwn := m.shared.Address()
	fromUs := hasOwn && f.Initiator == own

	switch {
	case f.Opcode == cec.OpStandby && f.Initiator == cec.TV:
		m.shared.SetTV(state.False)
		m.log.Info().Msg("tv off")

	case f.Opcode == cec.OpActiveSource && !fromUs:
		src := state.NoActiveSource
		if len(f.Payload) >= 2 {
			src = uint16(f.Payload[0])<<8 | uint16(f.Payload[1])
		}
		m.shared.SetTV(state.True)
		m.shared.SetActiveSource(src)
		m.log.Info().Msgf("tv on, active source %04x", src)

	case f.Opcode == cec.OpSetSystemAudioMode:
		m.log.Debug().Msgf("SetSystemAudioMode %x", f.Payload)
		m.shared.SetAVRStandby(state.False)

	case f.Opcode == cec.OpReportPowerStatus && f.Initiator == cec.AudioSystem:
		var v state.Tri
		switch cec.DecodePowerStatus(f.Payload) {
		case cec.PowerOn:
			v = state.False
		case cec.PowerStandby:
			v = state.True
		default:
			v = state.Unknown
		}
		m.shared.SetAVRStandby(v)
		m.log.Debug().Msgf("avr standby: %v", v)

	case f.Opcode == cec.OpReportPhysicalAddr && f.Initiator == cec.AudioSystem &&
		bytes.Equal(f.Payload, m.avrReport):
		m.shared.SetAVRReady(true)
		m.log.Info().Msg("avr ready")

	case m.noise(f, fromUs):

	default:
		m.log.Debug().Msgf("cec %v -> %v %v: %x", f.Initiator, f.Destination, f.Opcode, f.Payload)
	}
}

// noise reports frames that are expected and carry nothing for us.
func (m *Monitor) noise(f cec.Frame, fromUs bool) bool {
	switch f.Opcode {
	case cec.OpUserControlPressed, cec.OpUserControlReleased, cec.OpFeatureAbort:
		return fromUs
	case cec.OpGiveDevicePowerStatus:
		// the kernel answers these for us
		return f.Initiator == cec.TV
	case cec.OpReportPhysicalAddr, cec.OpDeviceVendorID, cec.OpGiveDeviceVendorID:
		return true
	}
	return false
}
