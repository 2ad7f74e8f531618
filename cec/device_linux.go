//go:build linux

package cec

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linux/cec.h
type cecMsg struct {
	TxTs          uint64
	RxTs          uint64
	Len           uint32
	Timeout       uint32
	Sequence      uint32
	Flags         uint32
	Msg           [16]uint8
	Reply         uint8
	RxStatus      uint8
	TxStatus      uint8
	TxArbLostCnt  uint8
	TxNackCnt     uint8
	TxLowDriveCnt uint8
	TxErrorCnt    uint8
}

type cecEvent struct {
	Ts           uint64
	Event        uint32
	Flags        uint32
	PhysAddr     uint16
	LogAddrMask  uint16
	HaveConnInfo uint16
	_            [58]byte
}

type cecLogAddrs struct {
	LogAddr           [4]uint8
	LogAddrMask       uint16
	CecVersion        uint8
	NumLogAddrs       uint8
	VendorID          uint32
	Flags             uint32
	OsdName           [15]byte
	PrimaryDeviceType [4]uint8
	LogAddrType       [4]uint8
	AllDeviceTypes    [4]uint8
	Features          [4][12]uint8
}

const (
	iocWrite = 1
	iocRead  = 2
)

const (
	modeNoInitiator = 0x00
	modeMonitor     = 0xe0

	txStatusOK      = 0x01
	rxStatusOK      = 0x01
	rxStatusTimeout = 0x02
	rxStatusAbort   = 0x04

	eventStateChange = 1

	// POLLRDNORM from asm-generic/poll.h; x/sys/unix only exports it off Linux.
	pollRdNorm = 0x40

	cecVersion14        = 5
	vendorIDNone        = 0xffffffff
	primDevPlayback     = 4
	logAddrTypePlayback = 2
	allDevTypePlayback  = 0x10
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('a')<<8 | nr
}

var (
	ioctlSetLogAddrs = ioc(iocRead|iocWrite, 4, unsafe.Sizeof(cecLogAddrs{}))
	ioctlTransmit    = ioc(iocRead|iocWrite, 5, unsafe.Sizeof(cecMsg{}))
	ioctlReceive     = ioc(iocRead|iocWrite, 6, unsafe.Sizeof(cecMsg{}))
	ioctlDQEvent     = ioc(iocRead|iocWrite, 7, unsafe.Sizeof(cecEvent{}))
	ioctlSetMode     = ioc(iocWrite, 9, unsafe.Sizeof(uint32(0)))
)

// Options configures the initiator handle returned by Open.
type Options struct {
	OSDName string
	// Timeout bounds every Request round trip.
	Timeout time.Duration
}

// Device is a /dev/cecN handle.
type Device struct {
	fd      int
	path    string
	timeout time.Duration
}

// Open opens path as an initiator, drops any logical address the adapter
// holds and claims a playback address.
func Open(path string, opts Options) (*Device, error) {
	d, err := openDevice(path)
	if err != nil {
		return nil, err
	}
	d.timeout = opts.Timeout
	if d.timeout <= 0 {
		d.timeout = time.Second
	}

	var none cecLogAddrs
	if err := d.ioctl(ioctlSetLogAddrs, unsafe.Pointer(&none)); err != nil {
		d.Close()
		return nil, fmt.Errorf("clearing logical addresses on %s: %w", path, err)
	}

	claim := cecLogAddrs{
		CecVersion:  cecVersion14,
		NumLogAddrs: 1,
		VendorID:    vendorIDNone,
	}
	copy(claim.OsdName[:len(claim.OsdName)-1], opts.OSDName)
	claim.PrimaryDeviceType[0] = primDevPlayback
	claim.LogAddrType[0] = logAddrTypePlayback
	claim.AllDeviceTypes[0] = allDevTypePlayback
	if err := d.ioctl(ioctlSetLogAddrs, unsafe.Pointer(&claim)); err != nil {
		d.Close()
		return nil, fmt.Errorf("claiming playback address on %s: %w", path, err)
	}
	return d, nil
}

// OpenMonitor opens path in monitor mode: every frame on the bus is
// delivered, including replies to our own requests.
func OpenMonitor(path string) (*Device, error) {
	d, err := openDevice(path)
	if err != nil {
		return nil, err
	}
	mode := uint32(modeNoInitiator | modeMonitor)
	if err := d.ioctl(ioctlSetMode, unsafe.Pointer(&mode)); err != nil {
		d.Close()
		return nil, fmt.Errorf("setting monitor mode on %s: %w", path, err)
	}
	return d, nil
}

func openDevice(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrTransport, path, err)
	}
	return &Device{fd: fd, path: path}, nil
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("%w: ioctl 0x%x: %v", ErrTransport, req, errno)
		}
	}
}

func newMsg(from, to LogicalAddress, op Opcode, payload []byte) (cecMsg, error) {
	var m cecMsg
	if len(payload) > len(m.Msg)-2 {
		return m, fmt.Errorf("payload of %d bytes exceeds frame", len(payload))
	}
	m.Msg[0] = byte(from)<<4 | byte(to)&0x0f
	m.Msg[1] = byte(op)
	copy(m.Msg[2:], payload)
	m.Len = uint32(2 + len(payload))
	return m, nil
}

func (d *Device) Transmit(from, to LogicalAddress, op Opcode, payload ...byte) error {
	m, err := newMsg(from, to, op, payload)
	if err != nil {
		return err
	}
	if err := d.ioctl(ioctlTransmit, unsafe.Pointer(&m)); err != nil {
		return err
	}
	if m.TxStatus&txStatusOK == 0 {
		return fmt.Errorf("transmit %v to %v: tx status 0x%02x (nack %d)", op, to, m.TxStatus, m.TxNackCnt)
	}
	return nil
}

func (d *Device) Request(from, to LogicalAddress, op Opcode, payload []byte, reply Opcode) ([]byte, error) {
	m, err := newMsg(from, to, op, payload)
	if err != nil {
		return nil, err
	}
	m.Reply = byte(reply)
	m.Timeout = uint32(d.timeout / time.Millisecond)
	if err := d.ioctl(ioctlTransmit, unsafe.Pointer(&m)); err != nil {
		return nil, err
	}
	if m.TxStatus&txStatusOK == 0 {
		return nil, fmt.Errorf("request %v to %v: tx status 0x%02x", op, to, m.TxStatus)
	}
	switch {
	case m.RxStatus&rxStatusTimeout != 0:
		return nil, fmt.Errorf("%w: %v to %v", ErrTimeout, op, to)
	case m.RxStatus&rxStatusAbort != 0:
		return nil, fmt.Errorf("%w: %v aborted by %v", ErrNoReply, op, to)
	case m.RxStatus&rxStatusOK == 0:
		return nil, fmt.Errorf("%w: %v rx status 0x%02x", ErrNoReply, op, m.RxStatus)
	}
	if m.Len < 2 {
		return nil, nil
	}
	data := make([]byte, m.Len-2)
	copy(data, m.Msg[2:m.Len])
	return data, nil
}

func (d *Device) PollEvent() (Event, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN | pollRdNorm | unix.POLLPRI}}
	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("%w: poll %s: %v", ErrTransport, d.path, err)
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return nil, fmt.Errorf("%w: %s revents 0x%x", ErrTransport, d.path, fds[0].Revents)
		}
		if fds[0].Revents&unix.POLLPRI != 0 {
			var ev cecEvent
			if err := d.ioctl(ioctlDQEvent, unsafe.Pointer(&ev)); err != nil {
				return nil, err
			}
			if ev.Event == eventStateChange {
				return StateChange{
					PhysicalAddress: PhysicalAddress(ev.PhysAddr),
					Mask:            AddrMask(ev.LogAddrMask),
				}, nil
			}
			continue
		}
		if fds[0].Revents&(unix.POLLIN|pollRdNorm) != 0 {
			var m cecMsg
			if err := d.ioctl(ioctlReceive, unsafe.Pointer(&m)); err != nil {
				return nil, err
			}
			if f, ok := decodeMsg(m.Msg[:], int(m.Len)); ok {
				return f, nil
			}
		}
	}
}
