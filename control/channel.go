package control

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/util"
)

// Handler carries out commands. *actor.Actor implements it.
type Handler interface {
	SetVolume(target uint8) (uint8, error)
	Mute() error
	SetOutlet(outlet int, on bool) error
	BroadcastActiveSource(phys cec.PhysicalAddress) error
}

type Channel struct {
	h   Handler
	log zerolog.Logger
}

func New(h Handler) *Channel {
	return &Channel{h: h, log: util.Component("control")}
}

func (c *Channel) Execute(cmd Command) error {
	c.log.Info().Msgf("command: %v", cmd)
	switch cmd.Kind {
	case Volume:
		_, err := c.h.SetVolume(cmd.Volume)
		return err
	case Mute:
		return c.h.Mute()
	case Outlet:
		return c.h.SetOutlet(cmd.Outlet, cmd.On)
	case ActiveSource:
		return c.h.BroadcastActiveSource(cmd.Source)
	}
	return fmt.Errorf("unknown command byte 0x%02x", cmd.Raw)
}

// Serve reads one byte from each connection on ln and executes it. It
// returns when ln is closed.
func (c *Channel) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c.handle(conn)
	}
}

func (c *Channel) handle(conn net.Conn) {
	defer conn.Close()
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		c.log.Debug().Err(err).Msg("empty control connection")
		return
	}
	if err := c.Execute(Decode(b[0])); err != nil {
		c.log.Error().Err(err).Msg("control command failed")
	}
}

// MessageHandler takes the command byte from an MQTT payload written as a
// number ("42", "0x84").
func (c *Channel) MessageHandler() MQTT.MessageHandler {
	return func(client MQTT.Client, msg MQTT.Message) {
		n, err := strconv.ParseUint(strings.TrimSpace(string(msg.Payload())), 0, 8)
		if err != nil {
			c.log.Warn().Msgf("bad command %q on %s", msg.Payload(), msg.Topic())
			return
		}
		if err := c.Execute(Decode(byte(n))); err != nil {
			c.log.Error().Err(err).Msg("control command failed")
		}
	}
}

// Listen returns the socket passed by systemd socket activation when there
// is exactly one for this process, else binds path, replacing a stale
// socket file.
func Listen(path string) (net.Listener, error) {
	if os.Getenv("LISTEN_PID") == strconv.Itoa(os.Getpid()) && os.Getenv("LISTEN_FDS") == "1" {
		f := os.NewFile(3, "systemd-socket")
		defer f.Close()
		ln, err := net.FileListener(f)
		if err != nil {
			return nil, fmt.Errorf("using activated socket: %w", err)
		}
		return ln, nil
	}
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		os.Remove(path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", path, err)
	}
	return ln, nil
}
