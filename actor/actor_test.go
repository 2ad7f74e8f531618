package actor

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/relay"
	"github.com/elijahnyp/theater_controller/state"
	"github.com/elijahnyp/theater_controller/volume"
)

type frame struct {
	from, to cec.LogicalAddress
	op       cec.Opcode
	payload  []byte
}

type fakeBus struct {
	mu      sync.Mutex
	frames  []frame
	replies map[cec.Opcode][]byte
	// inflight counts concurrent calls to catch missing serialization.
	inflight, maxInflight int
}

func (b *fakeBus) enter() {
	b.mu.Lock()
	b.inflight++
	if b.inflight > b.maxInflight {
		b.maxInflight = b.inflight
	}
	b.mu.Unlock()
	time.Sleep(time.Millisecond)
}

func (b *fakeBus) leave() {
	b.mu.Lock()
	b.inflight--
	b.mu.Unlock()
}

func (b *fakeBus) Transmit(from, to cec.LogicalAddress, op cec.Opcode, payload ...byte) error {
	b.enter()
	defer b.leave()
	b.mu.Lock()
	b.frames = append(b.frames, frame{from, to, op, payload})
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) Request(from, to cec.LogicalAddress, op cec.Opcode, payload []byte, reply cec.Opcode) ([]byte, error) {
	b.enter()
	defer b.leave()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame{from, to, op, payload})
	data, ok := b.replies[reply]
	if !ok {
		return nil, cec.ErrTimeout
	}
	return data, nil
}

type fakeRelay struct {
	outlets map[int]bool
	err     error
}

func (r *fakeRelay) Status(outlet int) (bool, error) { return r.outlets[outlet], r.err }
func (r *fakeRelay) Set(outlet int, on bool) error {
	if r.err != nil {
		return r.err
	}
	r.outlets[outlet] = on
	return nil
}

func newTestActor() (*Actor, *fakeBus, *fakeRelay, *state.Shared) {
	bus := &fakeBus{replies: map[cec.Opcode][]byte{}}
	r := &fakeRelay{outlets: map[int]bool{}}
	shared := state.NewShared()
	shared.SetAddress(cec.Playback2)
	return New(bus, r, shared, 0x3300, volume.Syncer{Multiplier: 2}), bus, r, shared
}

func TestSwitchAVRClearsFacts(t *testing.T) {
	a, _, r, shared := newTestActor()
	shared.SetAVRReady(true)
	shared.SetAVRStandby(state.False)

	if err := a.SwitchAVR(true); err != nil {
		t.Fatalf("SwitchAVR = %v", err)
	}
	if !r.outlets[relay.AVROutlet] {
		t.Error("AVR outlet should be on")
	}
	if shared.AVRReady() || shared.AVRStandby() != state.Unknown {
		t.Error("AVR facts should be cleared")
	}

	shared.SetAVRReady(true)
	r.err = errors.New("strip offline")
	if err := a.SwitchAVR(false); err == nil {
		t.Error("relay failure should be reported")
	}
	if shared.AVRReady() {
		t.Error("facts are cleared even when the switch fails")
	}
}

func TestSetOutlet(t *testing.T) {
	a, _, r, shared := newTestActor()
	shared.SetAVRReady(true)

	if err := a.SetOutlet(3, true); err != nil {
		t.Fatalf("SetOutlet(3) = %v", err)
	}
	if !r.outlets[3] {
		t.Error("outlet 3 should be on")
	}
	if !shared.AVRReady() {
		t.Error("spare outlets must not touch AVR facts")
	}
	if err := a.SetOutlet(relay.AVROutlet, true); err != nil {
		t.Fatalf("SetOutlet(2) = %v", err)
	}
	if shared.AVRReady() {
		t.Error("AVR outlet via SetOutlet clears facts")
	}
}

func TestAudioFocus(t *testing.T) {
	a, bus, _, _ := newTestActor()
	if err := a.RequestAudioFocus(); err != nil {
		t.Fatalf("RequestAudioFocus = %v", err)
	}
	f := bus.frames[0]
	if f.from != cec.Playback2 || f.to != cec.AudioSystem || f.op != cec.OpSystemAudioModeRequest ||
		!bytes.Equal(f.payload, []byte{0x33, 0x00}) {
		t.Errorf("focus frame = %+v", f)
	}

	if err := a.ReleaseAudioFocus(); !errors.Is(err, cec.ErrTimeout) {
		t.Errorf("ReleaseAudioFocus without reply = %v", err)
	}
	bus.replies[cec.OpSetSystemAudioMode] = []byte{0}
	if err := a.ReleaseAudioFocus(); err != nil {
		t.Errorf("ReleaseAudioFocus = %v", err)
	}
	if len(bus.frames[2].payload) != 0 {
		t.Errorf("release should carry no address, got %x", bus.frames[2].payload)
	}
}

func TestAudioModeOn(t *testing.T) {
	a, bus, _, _ := newTestActor()
	bus.replies[cec.OpSystemAudioModeStatus] = []byte{1}
	if on, err := a.AudioModeOn(); err != nil || !on {
		t.Errorf("AudioModeOn = %v, %v", on, err)
	}
	bus.replies[cec.OpSystemAudioModeStatus] = []byte{0}
	if on, _ := a.AudioModeOn(); on {
		t.Error("status 0 means off")
	}
}

func TestNoAddress(t *testing.T) {
	a, bus, _, shared := newTestActor()
	shared.ClearAddress()

	checks := map[string]error{
		"focus":   a.RequestAudioFocus(),
		"standby": a.StandbyAVR(),
		"power":   a.PowerOnAVR(),
		"source":  a.BroadcastActiveSource(0x3000),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrNoAddress) {
			t.Errorf("%s = %v, expected ErrNoAddress", name, err)
		}
	}
	if _, err := a.PowerStatus(); !errors.Is(err, ErrNoAddress) {
		t.Errorf("PowerStatus = %v", err)
	}
	if _, err := a.SetVolume(40); !errors.Is(err, ErrNoAddress) || !errors.Is(err, volume.ErrNoStatus) {
		t.Errorf("SetVolume = %v, expected ErrNoAddress and ErrNoStatus", err)
	}
	if len(bus.frames) != 0 {
		t.Errorf("nothing should reach the bus, got %d frames", len(bus.frames))
	}
}

func TestPowerAndBroadcast(t *testing.T) {
	a, bus, _, _ := newTestActor()
	bus.replies[cec.OpReportPowerStatus] = []byte{0x01}
	if s, err := a.PowerStatus(); err != nil || s != cec.PowerStandby {
		t.Errorf("PowerStatus = %v, %v", s, err)
	}
	bus.frames = nil

	a.PowerOnAVR()
	a.BroadcastActiveSource(0x3100)
	a.RequestPhysicalAddress()
	a.StandbyAVR()
	a.Mute()

	want := []frame{
		{cec.Playback2, cec.AudioSystem, cec.OpUserControlPressed, []byte{byte(cec.KeyPowerOnFunction)}},
		{cec.Playback2, cec.AudioSystem, cec.OpUserControlReleased, nil},
		{cec.Playback2, cec.Broadcast, cec.OpActiveSource, []byte{0x31, 0x00}},
		{cec.Playback2, cec.AudioSystem, cec.OpGivePhysicalAddr, nil},
		{cec.Playback2, cec.AudioSystem, cec.OpStandby, nil},
		{cec.Playback2, cec.AudioSystem, cec.OpUserControlPressed, []byte{byte(cec.KeyMute)}},
		{cec.Playback2, cec.AudioSystem, cec.OpUserControlReleased, nil},
	}
	if len(bus.frames) != len(want) {
		t.Fatalf("got %d frames, expected %d", len(bus.frames), len(want))
	}
	for i, w := range want {
		g := bus.frames[i]
		if g.from != w.from || g.to != w.to || g.op != w.op || !bytes.Equal(g.payload, w.payload) {
			t.Errorf("frame %d = %+v, expected %+v", i, g, w)
		}
	}
}

func TestSetVolumeSerialized(t *testing.T) {
	a, bus, _, _ := newTestActor()
	bus.replies[cec.OpReportAudioStatus] = []byte{20}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cur, err := a.SetVolume(22); err != nil || cur != 20 {
				t.Errorf("SetVolume = %d, %v", cur, err)
			}
		}()
	}
	wg.Wait()
	if bus.maxInflight != 1 {
		t.Errorf("bus saw %d concurrent calls, expected 1", bus.maxInflight)
	}
	// one status query plus four press/release pairs per caller
	if len(bus.frames) != 4*(1+8) {
		t.Errorf("frames = %d, expected 36", len(bus.frames))
	}
}

// gatedBus holds a chosen request open until released.
type gatedBus struct {
	*fakeBus
	gate     cec.Opcode
	entered  chan struct{}
	released chan struct{}
}

func (b *gatedBus) Request(from, to cec.LogicalAddress, op cec.Opcode, payload []byte, reply cec.Opcode) ([]byte, error) {
	if op == b.gate {
		close(b.entered)
		<-b.released
	}
	return b.fakeBus.Request(from, to, op, payload, reply)
}

func TestDoKeepsCommandsOutOfTransaction(t *testing.T) {
	bus := &gatedBus{
		fakeBus:  &fakeBus{replies: map[cec.Opcode][]byte{cec.OpSystemAudioModeStatus: {0}}},
		gate:     cec.OpGiveSystemAudioModeStatus,
		entered:  make(chan struct{}),
		released: make(chan struct{}),
	}
	shared := state.NewShared()
	shared.SetAddress(cec.Playback1)
	a := New(bus, &fakeRelay{outlets: map[int]bool{}}, shared, 0x3300, volume.Syncer{})

	txDone := make(chan error, 1)
	go func() {
		txDone <- a.Do(func(tx Commands) error {
			on, err := tx.AudioModeOn()
			if err != nil {
				return err
			}
			if !on {
				return tx.RequestAudioFocus()
			}
			return nil
		})
	}()
	<-bus.entered

	cmdDone := make(chan error, 1)
	go func() { cmdDone <- a.BroadcastActiveSource(0x3100) }()
	select {
	case <-cmdDone:
		t.Fatal("command ran while a transaction held the bus")
	case <-time.After(20 * time.Millisecond):
	}
	close(bus.released)

	if err := <-txDone; err != nil {
		t.Fatalf("Do = %v", err)
	}
	if err := <-cmdDone; err != nil {
		t.Fatalf("BroadcastActiveSource = %v", err)
	}
	want := []cec.Opcode{cec.OpGiveSystemAudioModeStatus, cec.OpSystemAudioModeRequest, cec.OpActiveSource}
	if len(bus.frames) != len(want) {
		t.Fatalf("frames = %+v, expected %v", bus.frames, want)
	}
	for i, op := range want {
		if bus.frames[i].op != op {
			t.Errorf("frame %d = %v, expected %v", i, bus.frames[i].op, op)
		}
	}
}
