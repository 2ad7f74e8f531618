// Package actor serializes every command sent to the bus or the relay.
package actor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/relay"
	"github.com/elijahnyp/theater_controller/state"
	"github.com/elijahnyp/theater_controller/util"
	"github.com/elijahnyp/theater_controller/volume"
)

var ErrNoAddress = errors.New("no logical address claimed")

// Commands is every bus and relay operation. Both the locking Actor and
// the Tx handed out by Actor.Do implement it.
type Commands interface {
	SwitchLight(on bool) error
	SwitchAVR(on bool) error
	SetOutlet(outlet int, on bool) error
	AVRPowered() (bool, error)
	RequestAudioFocus() error
	ReleaseAudioFocus() error
	AudioModeOn() (bool, error)
	PowerStatus() (cec.PowerStatus, error)
	PowerOnAVR() error
	Mute() error
	StandbyAVR() error
	RequestPhysicalAddress() error
	BroadcastActiveSource(phys cec.PhysicalAddress) error
	SetVolume(target uint8) (uint8, error)
}

// Actor owns the bus link and relay controller. Each method holds the lock
// for one command; Do holds it across a whole transaction.
type Actor struct {
	mu sync.Mutex
	tx Tx
}

// Tx runs commands without locking. It is only valid inside Actor.Do.
type Tx struct {
	bus    cec.Link
	relay  relay.Controller
	shared *state.Shared
	// phys is our own physical address, sent with audio focus requests.
	phys   cec.PhysicalAddress
	volume volume.Syncer
	log    zerolog.Logger
}

func New(bus cec.Link, r relay.Controller, shared *state.Shared, phys cec.PhysicalAddress, v volume.Syncer) *Actor {
	return &Actor{tx: Tx{
		bus:    bus,
		relay:  r,
		shared: shared,
		phys:   phys,
		volume: v,
		log:    util.Component("actor"),
	}}
}

// Do runs fn with exclusive use of the bus and relay. No other command
// lands between the steps of fn.
func (a *Actor) Do(fn func(tx Commands) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(&a.tx)
}

func (a *Actor) lock() func() {
	a.mu.Lock()
	return a.mu.Unlock
}

func (a *Actor) SwitchLight(on bool) error {
	defer a.lock()()
	return a.tx.SwitchLight(on)
}

func (a *Actor) SwitchAVR(on bool) error {
	defer a.lock()()
	return a.tx.SwitchAVR(on)
}

func (a *Actor) SetOutlet(outlet int, on bool) error {
	defer a.lock()()
	return a.tx.SetOutlet(outlet, on)
}

func (a *Actor) AVRPowered() (bool, error) {
	defer a.lock()()
	return a.tx.AVRPowered()
}

func (a *Actor) RequestAudioFocus() error {
	defer a.lock()()
	return a.tx.RequestAudioFocus()
}

func (a *Actor) ReleaseAudioFocus() error {
	defer a.lock()()
	return a.tx.ReleaseAudioFocus()
}

func (a *Actor) AudioModeOn() (bool, error) {
	defer a.lock()()
	return a.tx.AudioModeOn()
}

func (a *Actor) PowerStatus() (cec.PowerStatus, error) {
	defer a.lock()()
	return a.tx.PowerStatus()
}

func (a *Actor) PowerOnAVR() error {
	defer a.lock()()
	return a.tx.PowerOnAVR()
}

func (a *Actor) Mute() error {
	defer a.lock()()
	return a.tx.Mute()
}

func (a *Actor) StandbyAVR() error {
	defer a.lock()()
	return a.tx.StandbyAVR()
}

func (a *Actor) RequestPhysicalAddress() error {
	defer a.lock()()
	return a.tx.RequestPhysicalAddress()
}

func (a *Actor) BroadcastActiveSource(phys cec.PhysicalAddress) error {
	defer a.lock()()
	return a.tx.BroadcastActiveSource(phys)
}

func (a *Actor) SetVolume(target uint8) (uint8, error) {
	defer a.lock()()
	return a.tx.SetVolume(target)
}

// from returns the logical address to send with, if we hold one.
func (t *Tx) from() (cec.LogicalAddress, error) {
	addr, ok := t.shared.Address()
	if !ok {
		return 0, ErrNoAddress
	}
	return addr, nil
}

func (t *Tx) SwitchLight(on bool) error {
	return t.SetOutlet(relay.LightOutlet, on)
}

// SwitchAVR switches the AVR mains outlet. What we knew about the AVR is
// forgotten whether or not the switch succeeds.
func (t *Tx) SwitchAVR(on bool) error {
	return t.SetOutlet(relay.AVROutlet, on)
}

// SetOutlet switches any outlet, with the same AVR handling as SwitchAVR.
func (t *Tx) SetOutlet(outlet int, on bool) error {
	if outlet == relay.AVROutlet {
		t.shared.ResetAVR()
	}
	t.log.Debug().Msgf("outlet %d -> %v", outlet, on)
	if err := t.relay.Set(outlet, on); err != nil {
		return fmt.Errorf("switching outlet %d: %w", outlet, err)
	}
	return nil
}

func (t *Tx) AVRPowered() (bool, error) {
	return t.relay.Status(relay.AVROutlet)
}

// RequestAudioFocus asks the AVR to route our input and leave standby.
func (t *Tx) RequestAudioFocus() error {
	from, err := t.from()
	if err != nil {
		return err
	}
	return t.bus.Transmit(from, cec.AudioSystem, cec.OpSystemAudioModeRequest, t.phys.Bytes()...)
}

// ReleaseAudioFocus ends system audio mode; the AVR confirms with
// SetSystemAudioMode.
func (t *Tx) ReleaseAudioFocus() error {
	from, err := t.from()
	if err != nil {
		return err
	}
	reply, err := t.bus.Request(from, cec.AudioSystem, cec.OpSystemAudioModeRequest, nil, cec.OpSetSystemAudioMode)
	if err != nil {
		return fmt.Errorf("releasing audio focus: %w", err)
	}
	t.log.Debug().Msgf("system audio mode off: %x", reply)
	return nil
}

// AudioModeOn reports whether the AVR says system audio mode is on.
func (t *Tx) AudioModeOn() (bool, error) {
	from, err := t.from()
	if err != nil {
		return false, err
	}
	reply, err := t.bus.Request(from, cec.AudioSystem, cec.OpGiveSystemAudioModeStatus, nil, cec.OpSystemAudioModeStatus)
	if err != nil {
		return false, err
	}
	return len(reply) > 0 && reply[0] == 1, nil
}

func (t *Tx) PowerStatus() (cec.PowerStatus, error) {
	from, err := t.from()
	if err != nil {
		return cec.PowerUnknown, err
	}
	return cec.RequestPower(t.bus, from, cec.AudioSystem)
}

// PowerOnAVR sends the power-on function key, which wakes the AVR without
// toggling it.
func (t *Tx) PowerOnAVR() error {
	return t.key(cec.AudioSystem, cec.KeyPowerOnFunction)
}

func (t *Tx) Mute() error {
	return t.key(cec.AudioSystem, cec.KeyMute)
}

func (t *Tx) key(to cec.LogicalAddress, key cec.UserControl) error {
	from, err := t.from()
	if err != nil {
		return err
	}
	return cec.KeyPress(t.bus, from, to, key)
}

func (t *Tx) StandbyAVR() error {
	return t.transmit(cec.AudioSystem, cec.OpStandby)
}

// RequestPhysicalAddress prompts the AVR to announce itself, which marks it
// ready once it does.
func (t *Tx) RequestPhysicalAddress() error {
	return t.transmit(cec.AudioSystem, cec.OpGivePhysicalAddr)
}

// BroadcastActiveSource claims the given physical address as the active
// source on behalf of whatever is plugged in there.
func (t *Tx) BroadcastActiveSource(phys cec.PhysicalAddress) error {
	return t.transmit(cec.Broadcast, cec.OpActiveSource, phys.Bytes()...)
}

func (t *Tx) transmit(to cec.LogicalAddress, op cec.Opcode, payload ...byte) error {
	from, err := t.from()
	if err != nil {
		return err
	}
	return t.bus.Transmit(from, to, op, payload...)
}

// SetVolume steps the AVR towards target and returns the volume it had
// before. Errors wrapping volume.ErrNoStatus mean nothing was read or sent.
func (t *Tx) SetVolume(target uint8) (uint8, error) {
	from, err := t.from()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", volume.ErrNoStatus, err)
	}
	return t.volume.Sync(t.bus, from, target)
}
