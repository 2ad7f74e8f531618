package snapproxy

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/elijahnyp/theater_controller/util"
)

// Process is a running snapclient.
type Process interface {
	Wait() error
}

// Supervisor runs snapclient against a local port served by Proxy and
// restarts it whenever it exits.
type Supervisor struct {
	Proxy *Proxy
	// Start launches the client against 127.0.0.1:port.
	Start func(ctx context.Context, port int) (Process, error)
	// OnRestart runs before each launch. A fresh client means the AVR state
	// is unknown again, so this powers it.
	OnRestart func() error

	log zerolog.Logger
}

func NewSupervisor(p *Proxy, binary string, args []string, onRestart func() error) *Supervisor {
	return &Supervisor{
		Proxy:     p,
		Start:     ExecStarter(binary, args),
		OnRestart: onRestart,
		log:       util.Component("snapclient"),
	}
}

// ExecStarter launches binary with -h/-p pointing at the proxy followed by
// args. Output goes to the system log through --logsink.
func ExecStarter(binary string, args []string) func(ctx context.Context, port int) (Process, error) {
	return func(ctx context.Context, port int) (Process, error) {
		argv := append([]string{"-h", "127.0.0.1", "-p", strconv.Itoa(port)}, args...)
		cmd := exec.CommandContext(ctx, binary, argv...)
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd, nil
	}
}

// Run binds the local port and keeps a client running until ctx ends or
// the listener fails.
func (s *Supervisor) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("binding proxy port: %w", err)
	}
	defer ln.Close()
	return s.serve(ctx, ln)
}

func (s *Supervisor) serve(ctx context.Context, ln net.Listener) error {
	port := ln.Addr().(*net.TCPAddr).Port

	conns := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			select {
			case conns <- c:
			case <-ctx.Done():
				c.Close()
				return
			}
		}
	}()

	for {
		if s.OnRestart != nil {
			if err := s.OnRestart(); err != nil {
				s.log.Error().Err(err).Msg("restart hook failed")
			}
		}
		proc, err := s.Start(ctx, port)
		if err != nil {
			return fmt.Errorf("starting snapclient: %w", err)
		}
		s.log.Info().Msgf("snapclient started on proxy port %d", port)

		exited := make(chan error, 1)
		go func() { exited <- proc.Wait() }()

	running:
		for {
			select {
			case c := <-conns:
				if err := s.Proxy.Serve(ctx, c); err != nil {
					s.log.Error().Err(err).Msg("proxy connection ended")
				}
			case err := <-exited:
				s.log.Warn().Msgf("snapclient exited: %v", err)
				s.Proxy.setActivity(false)
				break running
			case err := <-acceptErr:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("accepting snapclient: %w", err)
			case <-ctx.Done():
				ln.Close()
				<-exited
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
