package state

import "sync"

// VolumeTarget is the volume requested by the audio server, in percent.
type VolumeTarget struct {
	mu      sync.Mutex
	percent uint8
	changed bool
}

// Set stores a new target clamped to 0..100 and marks it changed.
func (v *VolumeTarget) Set(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	v.mu.Lock()
	v.percent = uint8(percent)
	v.changed = true
	v.mu.Unlock()
}

// Take returns the target and clears the changed flag.
func (v *VolumeTarget) Take() uint8 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.changed = false
	return v.percent
}

// Value returns the target without consuming the change.
func (v *VolumeTarget) Value() uint8 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.percent
}

func (v *VolumeTarget) Changed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.changed
}
