//go:build !linux

package cec

import (
	"fmt"
	"runtime"
	"time"
)

type Options struct {
	OSDName string
	Timeout time.Duration
}

// Device is unavailable outside Linux; Open and OpenMonitor always fail.
type Device struct{}

func Open(path string, opts Options) (*Device, error) {
	return nil, fmt.Errorf("%w: cec devices unsupported on %s", ErrTransport, runtime.GOOS)
}

func OpenMonitor(path string) (*Device, error) {
	return Open(path, Options{})
}

func (d *Device) Close() error { return nil }

func (d *Device) Transmit(from, to LogicalAddress, op Opcode, payload ...byte) error {
	return ErrTransport
}

func (d *Device) Request(from, to LogicalAddress, op Opcode, payload []byte, reply Opcode) ([]byte, error) {
	return nil, ErrTransport
}

func (d *Device) PollEvent() (Event, error) {
	return nil, ErrTransport
}
