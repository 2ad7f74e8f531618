package snapproxy

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeProcess struct {
	exit chan struct{}
}

func (p *fakeProcess) Wait() error {
	<-p.exit
	return errors.New("exit status 1")
}

func TestSupervisorRestarts(t *testing.T) {
	srv := newFakeServer(t, message(TypeWireChunk, []byte("pcm")))
	defer close(srv.hold)
	p, activity, _ := newTestProxy(srv.ln.Addr().String())

	var (
		mu       sync.Mutex
		restarts int
		procs    []*fakeProcess
	)
	started := make(chan int, 4)
	s := &Supervisor{
		Proxy: p,
		OnRestart: func() error {
			mu.Lock()
			restarts++
			mu.Unlock()
			return nil
		},
		Start: func(ctx context.Context, port int) (Process, error) {
			proc := &fakeProcess{exit: make(chan struct{})}
			mu.Lock()
			procs = append(procs, proc)
			mu.Unlock()
			started <- port
			return proc, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var port int
	select {
	case port = <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("client was never started")
	}

	// the client connects through the proxy and receives the chunk
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dialing proxy: %v", err)
	}
	buf := make([]byte, HeaderSize+3)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("reading from proxy: %v", err)
	}
	if !activity.Get() {
		t.Error("activity should be set while the chunk flows")
	}
	conn.Close()

	// client process exits: the cycle restarts on the same port
	mu.Lock()
	close(procs[0].exit)
	mu.Unlock()
	select {
	case again := <-started:
		if again != port {
			t.Errorf("restarted on port %d, expected %d", again, port)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client was not restarted")
	}
	if activity.Get() {
		t.Error("activity should be cleared when the client exits")
	}

	cancel()
	mu.Lock()
	close(procs[1].exit)
	mu.Unlock()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, expected context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if restarts != 2 {
		t.Errorf("OnRestart called %d times, expected 2", restarts)
	}
}

func TestSupervisorStartFailure(t *testing.T) {
	p, _, _ := newTestProxy("127.0.0.1:1")
	s := &Supervisor{
		Proxy: p,
		Start: func(ctx context.Context, port int) (Process, error) {
			return nil, errors.New("snapclient: not found")
		},
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("Run should fail when the client cannot start")
	}
}
