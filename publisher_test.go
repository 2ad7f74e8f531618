package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

func TestStatePublisherMessage(t *testing.T) {
	p := NewStatePublisher("theater/state")
	if got := p.Message(); got.State != "Off" || got.Playing != "False" {
		t.Errorf("initial message = %+v", got)
	}
	p.SetState("Playing")
	p.SetPlaying(true)
	if got := p.Message(); got.State != "Playing" || got.Playing != "True" {
		t.Errorf("message = %+v, want Playing/True", got)
	}
}

func TestStatePublisherRun(t *testing.T) {
	out := make(chan published, 8)
	p := NewStatePublisher("theater/state")
	p.publish = func(topic string, retained bool, payload interface{}) error {
		out <- published{topic, retained, payload.([]byte)}
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.SetState("Watching")
	select {
	case msg := <-out:
		if msg.topic != "theater/state" || !msg.retained {
			t.Errorf("published to %s retained=%v", msg.topic, msg.retained)
		}
		var got StateMessage
		if err := json.Unmarshal(msg.payload, &got); err != nil {
			t.Fatal(err)
		}
		if got.State != "Watching" || got.Playing != "False" {
			t.Errorf("payload = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}
}

func TestStatePublisherCoalesces(t *testing.T) {
	p := NewStatePublisher("theater/state")
	// no Run loop: repeated updates must not block
	for i := 0; i < 10; i++ {
		p.SetPlaying(i%2 == 0)
	}
	if len(p.kick) != 1 {
		t.Errorf("kick queue = %d, want 1", len(p.kick))
	}
}

func TestStatePublisherKeepsRunningOnError(t *testing.T) {
	calls := make(chan struct{}, 8)
	p := NewStatePublisher("theater/state")
	p.publish = func(string, bool, interface{}) error {
		calls <- struct{}{}
		return errors.New("publish theater/state: not connected")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 2; i++ {
		p.Kick()
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("publish %d not attempted", i)
		}
	}
}
