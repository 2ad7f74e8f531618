// Package snapproxy sits between snapclient and snapserver, forwarding the
// stream untouched while watching it for playback activity and volume.
package snapproxy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the fixed snapcast message header: type u16, 20 bytes of
// ids and timestamps, payload size u32. All little endian.
const HeaderSize = 26

const DefaultBufferSize = 17 * 1024

// Message types from the snapcast binary protocol.
const (
	TypeCodecHeader    uint16 = 1
	TypeWireChunk      uint16 = 2
	TypeServerSettings uint16 = 3
	TypeTime           uint16 = 4
)

var ErrFrameTooLarge = errors.New("snapcast frame exceeds buffer")

// ReadFrame reads one message into buf and returns its type and total
// length including the header.
func ReadFrame(r io.Reader, buf []byte) (uint16, int, error) {
	if len(buf) < HeaderSize {
		return 0, 0, fmt.Errorf("buffer of %d bytes cannot hold a header", len(buf))
	}
	if _, err := io.ReadFull(r, buf[:HeaderSize]); err != nil {
		return 0, 0, err
	}
	typ := binary.LittleEndian.Uint16(buf[0:2])
	size := int(binary.LittleEndian.Uint32(buf[22:26]))
	total := HeaderSize + size
	if size < 0 || total > len(buf) {
		return typ, 0, fmt.Errorf("%w: type %d, %d bytes", ErrFrameTooLarge, typ, total)
	}
	if _, err := io.ReadFull(r, buf[HeaderSize:total]); err != nil {
		return typ, 0, err
	}
	return typ, total, nil
}

// PutHeader writes a header for a payload of size bytes into buf.
func PutHeader(buf []byte, typ uint16, size int) {
	binary.LittleEndian.PutUint16(buf[0:2], typ)
	for i := 2; i < 22; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[22:26], uint32(size))
}
