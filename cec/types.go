package cec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrTransport = errors.New("cec transport error")
	ErrTimeout   = errors.New("cec request timed out")
	ErrNoReply   = errors.New("cec request not answered")
)

// LogicalAddress is the role a device has claimed on the bus.
type LogicalAddress uint8

const (
	TV          LogicalAddress = 0
	Recording1  LogicalAddress = 1
	Recording2  LogicalAddress = 2
	Tuner1      LogicalAddress = 3
	Playback1   LogicalAddress = 4
	AudioSystem LogicalAddress = 5
	Tuner2      LogicalAddress = 6
	Tuner3      LogicalAddress = 7
	Playback2   LogicalAddress = 8
	Recording3  LogicalAddress = 9
	Tuner4      LogicalAddress = 10
	Playback3   LogicalAddress = 11
	Specific    LogicalAddress = 14
	Broadcast   LogicalAddress = 15
)

func (a LogicalAddress) String() string {
	switch a {
	case TV:
		return "TV"
	case Playback1:
		return "Playback1"
	case AudioSystem:
		return "AudioSystem"
	case Playback2:
		return "Playback2"
	case Playback3:
		return "Playback3"
	case Broadcast:
		return "Broadcast"
	default:
		return fmt.Sprintf("LA(%d)", uint8(a))
	}
}

// AddrMask is the claimed-address bitmap reported by the adapter.
type AddrMask uint16

func (m AddrMask) Has(a LogicalAddress) bool {
	return m&(1<<a) != 0
}

type Opcode uint8

const (
	OpFeatureAbort              Opcode = 0x00
	OpImageViewOn               Opcode = 0x04
	OpStandby                   Opcode = 0x36
	OpUserControlPressed        Opcode = 0x44
	OpUserControlReleased       Opcode = 0x45
	OpSystemAudioModeRequest    Opcode = 0x70
	OpGiveAudioStatus           Opcode = 0x71
	OpSetSystemAudioMode        Opcode = 0x72
	OpReportAudioStatus         Opcode = 0x7A
	OpGiveSystemAudioModeStatus Opcode = 0x7D
	OpSystemAudioModeStatus     Opcode = 0x7E
	OpRoutingChange             Opcode = 0x80
	OpActiveSource              Opcode = 0x82
	OpGivePhysicalAddr          Opcode = 0x83
	OpReportPhysicalAddr        Opcode = 0x84
	OpDeviceVendorID            Opcode = 0x87
	OpGiveDeviceVendorID        Opcode = 0x8C
	OpGiveDevicePowerStatus     Opcode = 0x8F
	OpReportPowerStatus         Opcode = 0x90
)

var opcodeNames = map[Opcode]string{
	OpFeatureAbort:              "FeatureAbort",
	OpImageViewOn:               "ImageViewOn",
	OpStandby:                   "Standby",
	OpUserControlPressed:        "UserControlPressed",
	OpUserControlReleased:       "UserControlReleased",
	OpSystemAudioModeRequest:    "SystemAudioModeRequest",
	OpGiveAudioStatus:           "GiveAudioStatus",
	OpSetSystemAudioMode:        "SetSystemAudioMode",
	OpReportAudioStatus:         "ReportAudioStatus",
	OpGiveSystemAudioModeStatus: "GiveSystemAudioModeStatus",
	OpSystemAudioModeStatus:     "SystemAudioModeStatus",
	OpRoutingChange:             "RoutingChange",
	OpActiveSource:              "ActiveSource",
	OpGivePhysicalAddr:          "GivePhysicalAddr",
	OpReportPhysicalAddr:        "ReportPhysicalAddr",
	OpDeviceVendorID:            "DeviceVendorID",
	OpGiveDeviceVendorID:        "GiveDeviceVendorID",
	OpGiveDevicePowerStatus:     "GiveDevicePowerStatus",
	OpReportPowerStatus:         "ReportPowerStatus",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
}

// UserControl codes used with OpUserControlPressed.
type UserControl uint8

const (
	KeyPower           UserControl = 0x40
	KeyVolumeUp        UserControl = 0x41
	KeyVolumeDown      UserControl = 0x42
	KeyMute            UserControl = 0x43
	KeyPowerOnFunction UserControl = 0x6D
)

type PowerStatus uint8

const (
	PowerUnknown PowerStatus = iota
	PowerOn
	PowerStandby
)

func (p PowerStatus) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerStandby:
		return "standby"
	default:
		return "unknown"
	}
}

// DecodePowerStatus maps the operand of ReportPowerStatus. The two
// in-transition values are reported as unknown.
func DecodePowerStatus(payload []byte) PowerStatus {
	if len(payload) == 0 {
		return PowerUnknown
	}
	switch payload[0] {
	case 0x00:
		return PowerOn
	case 0x01:
		return PowerStandby
	default:
		return PowerUnknown
	}
}

// PhysicalAddress is the a.b.c.d routing position in the HDMI topology.
type PhysicalAddress uint16

const InvalidPhysicalAddress PhysicalAddress = 0xFFFF

// ParsePhysicalAddress reads the dotted a.b.c.d form.
func ParsePhysicalAddress(s string) (PhysicalAddress, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return InvalidPhysicalAddress, fmt.Errorf("physical address %q: want a.b.c.d", s)
	}
	var p PhysicalAddress
	for _, part := range parts {
		n, err := strconv.ParseUint(part, 16, 4)
		if err != nil {
			return InvalidPhysicalAddress, fmt.Errorf("physical address %q: %w", s, err)
		}
		p = p<<4 | PhysicalAddress(n)
	}
	return p, nil
}

func (p PhysicalAddress) Bytes() []byte {
	return []byte{byte(p >> 8), byte(p)}
}

func (p PhysicalAddress) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", p>>12, (p>>8)&0xF, (p>>4)&0xF, p&0xF)
}

// Event is returned by Poller.PollEvent: either a StateChange or a Frame.
type Event interface {
	event()
}

// StateChange reports the adapter's current physical address and the
// logical addresses it holds.
type StateChange struct {
	PhysicalAddress PhysicalAddress
	Mask            AddrMask
}

type Frame struct {
	Initiator   LogicalAddress
	Destination LogicalAddress
	Opcode      Opcode
	Payload     []byte
}

func (StateChange) event() {}
func (Frame) event()       {}

// Link is the initiator side of the bus. Request blocks until the reply
// opcode arrives or the transport timeout elapses.
type Link interface {
	Request(from, to LogicalAddress, op Opcode, payload []byte, reply Opcode) ([]byte, error)
	Transmit(from, to LogicalAddress, op Opcode, payload ...byte) error
}

// Poller waits indefinitely for the next bus event.
type Poller interface {
	PollEvent() (Event, error)
}

// KeyPress sends a press and release of key.
func KeyPress(l Link, from, to LogicalAddress, key UserControl) error {
	if err := l.Transmit(from, to, OpUserControlPressed, byte(key)); err != nil {
		return err
	}
	return l.Transmit(from, to, OpUserControlReleased)
}

// RequestPower asks to for its power status. Any failure reads as unknown.
func RequestPower(l Link, from, to LogicalAddress) (PowerStatus, error) {
	data, err := l.Request(from, to, OpGiveDevicePowerStatus, nil, OpReportPowerStatus)
	if err != nil {
		return PowerUnknown, err
	}
	return DecodePowerStatus(data), nil
}

// decodeMsg turns a raw bus message into a Frame. Polling messages carry
// no opcode and are skipped.
func decodeMsg(raw []byte, n int) (Frame, bool) {
	if n < 2 || n > len(raw) {
		return Frame{}, false
	}
	payload := make([]byte, n-2)
	copy(payload, raw[2:n])
	return Frame{
		Initiator:   LogicalAddress(raw[0] >> 4),
		Destination: LogicalAddress(raw[0] & 0x0f),
		Opcode:      Opcode(raw[1]),
		Payload:     payload,
	}, true
}
