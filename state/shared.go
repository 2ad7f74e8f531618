package state

import (
	"sync"
	"sync/atomic"

	"github.com/elijahnyp/theater_controller/cec"
)

// NoActiveSource marks an ActiveSource that has not been seen or was too
// short to decode.
const NoActiveSource uint16 = 0xFFFF

// Shared holds the facts learned from the bus. Each accessor takes the lock
// for a single field; nothing holds it across I/O.
type Shared struct {
	mu           sync.Mutex
	tv           Tri
	avrReady     bool
	avrStandby   Tri
	address      cec.LogicalAddress
	hasAddress   bool
	activeSource uint16
}

func NewShared() *Shared {
	return &Shared{activeSource: NoActiveSource}
}

func (s *Shared) TV() Tri {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tv
}

func (s *Shared) SetTV(v Tri) {
	s.mu.Lock()
	s.tv = v
	s.mu.Unlock()
}

func (s *Shared) AVRReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avrReady
}

func (s *Shared) SetAVRReady(v bool) {
	s.mu.Lock()
	s.avrReady = v
	s.mu.Unlock()
}

func (s *Shared) AVRStandby() Tri {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avrStandby
}

func (s *Shared) SetAVRStandby(v Tri) {
	s.mu.Lock()
	s.avrStandby = v
	s.mu.Unlock()
}

// Address returns our logical address and whether we hold one.
func (s *Shared) Address() (cec.LogicalAddress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.hasAddress
}

// SetAddress records a newly claimed address and reports whether we did
// not hold one before.
func (s *Shared) SetAddress(a cec.LogicalAddress) (gained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gained = !s.hasAddress
	s.address, s.hasAddress = a, true
	return gained
}

func (s *Shared) ClearAddress() {
	s.mu.Lock()
	s.address, s.hasAddress = 0, false
	s.mu.Unlock()
}

func (s *Shared) ActiveSource() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSource
}

func (s *Shared) SetActiveSource(v uint16) {
	s.mu.Lock()
	s.activeSource = v
	s.mu.Unlock()
}

// ResetAVR forgets what we know about the AVR. Called whenever its outlet
// is switched.
func (s *Shared) ResetAVR() {
	s.mu.Lock()
	s.avrReady = false
	s.avrStandby = Unknown
	s.mu.Unlock()
}

// Facts is a point-in-time copy of Shared.
type Facts struct {
	TV           Tri
	AVRReady     bool
	AVRStandby   Tri
	Address      cec.LogicalAddress
	HasAddress   bool
	ActiveSource uint16
}

func (s *Shared) Facts() Facts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Facts{
		TV:           s.tv,
		AVRReady:     s.avrReady,
		AVRStandby:   s.avrStandby,
		Address:      s.address,
		HasAddress:   s.hasAddress,
		ActiveSource: s.activeSource,
	}
}

// Activity is the "playback active" flag written by the stream proxy.
type Activity struct {
	v atomic.Bool
}

func (a *Activity) Set(active bool) { a.v.Store(active) }
func (a *Activity) Get() bool        { return a.v.Load() }
