// Package control accepts single-byte commands from local scripts and the
// command topic.
package control

import (
	"fmt"

	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/relay"
)

type Kind uint8

const (
	Invalid Kind = iota
	Volume
	Mute
	Outlet
	ActiveSource
)

func (k Kind) String() string {
	switch k {
	case Volume:
		return "volume"
	case Mute:
		return "mute"
	case Outlet:
		return "outlet"
	case ActiveSource:
		return "active-source"
	default:
		return "invalid"
	}
}

// Command is a decoded control byte.
//
//	0          mute
//	1..100     volume percent
//	10000ooo   outlet: bit 2 on/off, bits 0-1 outlet with 0 meaning 4
//	11000sss   active source 3.s.0.0
type Command struct {
	Kind   Kind
	Volume uint8
	Outlet int
	On     bool
	Source cec.PhysicalAddress
	Raw    byte
}

func (c Command) String() string {
	switch c.Kind {
	case Volume:
		return fmt.Sprintf("volume %d", c.Volume)
	case Outlet:
		return fmt.Sprintf("outlet %d %v", c.Outlet, c.On)
	case ActiveSource:
		return fmt.Sprintf("active source %v", c.Source)
	case Mute:
		return "mute"
	}
	return fmt.Sprintf("invalid 0x%02x", c.Raw)
}

func Decode(b byte) Command {
	switch {
	case b == 0:
		return Command{Kind: Mute, Raw: b}
	case b <= 100:
		return Command{Kind: Volume, Volume: b, Raw: b}
	}
	switch b & 0xF8 {
	case 0x80:
		outlet := int(b & 0x03)
		if outlet == 0 {
			outlet = relay.MaxOutlet
		}
		return Command{Kind: Outlet, Outlet: outlet, On: b&0x04 != 0, Raw: b}
	case 0xC0:
		return Command{Kind: ActiveSource, Source: cec.PhysicalAddress(uint16(0x30+b&0x07) << 8), Raw: b}
	}
	return Command{Kind: Invalid, Raw: b}
}
