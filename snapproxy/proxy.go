package snapproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elijahnyp/theater_controller/state"
	"github.com/elijahnyp/theater_controller/util"
)

// Proxy forwards one snapclient connection at a time to the server.
type Proxy struct {
	// Upstream returns the snapserver stream address to dial.
	Upstream   func(ctx context.Context) (string, error)
	BufferSize int
	Quiet      time.Duration
	Volumes    VolumeMap
	Activity   *state.Activity
	Volume     *state.VolumeTarget
	// OnActivity is called after each activity change, if set.
	OnActivity func(active bool)

	log zerolog.Logger
}

func NewProxy(upstream func(ctx context.Context) (string, error), activity *state.Activity, volume *state.VolumeTarget) *Proxy {
	return &Proxy{
		Upstream:   upstream,
		BufferSize: DefaultBufferSize,
		Quiet:      DefaultQuiet,
		Volumes:    DefaultVolumeMap,
		Activity:   activity,
		Volume:     volume,
		log:        util.Component("snapproxy"),
	}
}

// StaticUpstream always dials addr.
func StaticUpstream(addr string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return addr, nil }
}

func (p *Proxy) setActivity(active bool) {
	p.Activity.Set(active)
	if p.OnActivity != nil {
		p.OnActivity(active)
	}
}

// Serve forwards client until either side ends. Both connections are
// closed on return and activity is cleared.
func (p *Proxy) Serve(ctx context.Context, client net.Conn) error {
	defer client.Close()
	addr, err := p.Upstream(ctx)
	if err != nil {
		return fmt.Errorf("resolving snapserver: %w", err)
	}
	var d net.Dialer
	server, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing snapserver %s: %w", addr, err)
	}
	defer server.Close()
	p.log.Info().Msgf("proxying %v to %s", client.RemoteAddr(), addr)

	var (
		once     sync.Once
		firstErr error
		wg       sync.WaitGroup
	)
	finish := func(err error) {
		once.Do(func() {
			firstErr = err
			// unblock the other direction
			client.Close()
			server.Close()
		})
	}

	stop := context.AfterFunc(ctx, func() { finish(ctx.Err()) })
	defer stop()

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := io.Copy(server, client)
		finish(err)
	}()
	go func() {
		defer wg.Done()
		finish(p.inspect(server, client))
	}()
	wg.Wait()
	p.setActivity(false)

	if firstErr == nil || errors.Is(firstErr, io.EOF) || errors.Is(firstErr, net.ErrClosed) ||
		errors.Is(firstErr, context.Canceled) {
		return nil
	}
	return firstErr
}

// inspect copies server messages to the client one frame at a time,
// updating activity and the volume target on the way.
func (p *Proxy) inspect(server io.Reader, client io.Writer) error {
	size := p.BufferSize
	if size < HeaderSize {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)
	tracker := NewTracker(p.Quiet)
	for {
		typ, n, err := ReadFrame(server, buf)
		if err != nil {
			return err
		}
		if active, changed := tracker.Observe(typ); changed {
			if active {
				p.log.Info().Msg("snapclient has data")
			} else {
				p.log.Info().Msgf("no data for %v", p.Quiet)
			}
			p.setActivity(active)
		}
		if typ == TypeServerSettings {
			p.settings(buf[HeaderSize:n])
		}
		if _, err := client.Write(buf[:n]); err != nil {
			return err
		}
	}
}

func (p *Proxy) settings(payload []byte) {
	s := ParseSettings(payload)
	p.log.Debug().Msgf("server settings: %s", payload)
	if !s.HasVolume {
		return
	}
	target := p.Volumes.Target(s.Volume)
	p.Volume.Set(target)
	p.log.Info().Msgf("server volume %d muted %v -> target %d", s.Volume, s.Muted, target)
}
