package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MonitorServer is the status HTTP server. It keeps its handlers across
// restarts so a config reload can move it to a new port.
type MonitorServer struct {
	mux     *http.ServeMux
	mu      sync.Mutex
	srv     *http.Server
	stopped chan struct{}
}

func NewMonitorServer() *MonitorServer {
	return &MonitorServer{mux: http.NewServeMux()}
}

func (s *MonitorServer) AddHandler(path string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(path, handler)
}

func (s *MonitorServer) AddRawHandler(path string, handler http.Handler) {
	s.mux.Handle(path, handler)
}

func (s *MonitorServer) Handler() http.Handler {
	return s.mux
}

func (s *MonitorServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return fmt.Errorf("already running")
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", Config.GetInt("details_port")),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	stopped := make(chan struct{})
	s.srv = srv
	s.stopped = stopped
	go func() {
		defer close(stopped)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			Logger.Warn().Msgf("Problem loading monitor server: %v", err)
		}
		Logger.Debug().Msg("monitor server shutdown")
	}()
	return nil
}

func (s *MonitorServer) Stop() {
	s.mu.Lock()
	srv, stopped := s.srv, s.stopped
	s.srv, s.stopped = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		Logger.Error().Msgf("Error shutting down monitor server: %v", err)
	}
	<-stopped
}

func (s *MonitorServer) Restart() {
	Logger.Debug().Msg("restarting monitor server")
	s.Stop()
	if err := s.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
}
