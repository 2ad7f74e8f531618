package util

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, url string) *http.Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("server at %s never came up: %v", url, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestMonitorServer_AddHandler(t *testing.T) {
	server := NewMonitorServer()
	server.AddHandler("/test", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("test response")) //nolint:errcheck // test helper
	})

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "test response" {
		t.Errorf("Expected 'test response', got '%s'", w.Body.String())
	}
}

func TestMonitorServer_AddRawHandler(t *testing.T) {
	server := NewMonitorServer()
	server.AddRawHandler("/raw", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/raw", nil))

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
}

func TestMonitorServer_StartRestartStop(t *testing.T) {
	port := freePort(t)
	Config.Set("details_port", port)

	server := NewMonitorServer()
	server.AddHandler("/health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "healthy") //nolint:errcheck // test helper
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}
	if err := server.Start(); err == nil {
		t.Error("Start() should return error when already running")
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	resp := waitForServer(t, url)
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // test helper
	resp.Body.Close()
	if string(body) != "healthy" {
		t.Errorf("Expected 'healthy', got '%s'", body)
	}

	server.Restart()
	resp = waitForServer(t, url)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 after restart, got %d", resp.StatusCode)
	}

	server.Stop()
	if _, err := http.Get(url); err == nil {
		t.Error("server should refuse connections after Stop()")
	}
	server.Stop() // second stop is a no-op
}
