package main

import (
	"context"
	"encoding/json"
	"sync"

	. "github.com/elijahnyp/theater_controller/util"
)

// StateMessage is the retained payload on state_topic. Playing is a
// string so the Home Assistant binary sensor can match it.
type StateMessage struct {
	State   string `json:"state"`
	Playing string `json:"playing"`
}

// StatePublisher publishes the latest media state without blocking the
// caller. Updates made while a publish is in flight are coalesced.
type StatePublisher struct {
	topic   string
	publish func(topic string, retained bool, payload interface{}) error

	mu      sync.Mutex
	state   string
	playing bool
	kick    chan struct{}
}

func NewStatePublisher(topic string) *StatePublisher {
	return &StatePublisher{
		topic:   topic,
		publish: Publish,
		state:   "Off",
		kick:    make(chan struct{}, 1),
	}
}

func (p *StatePublisher) SetState(s string) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.Kick()
}

func (p *StatePublisher) SetPlaying(b bool) {
	p.mu.Lock()
	p.playing = b
	p.mu.Unlock()
	p.Kick()
}

// Kick schedules a publish of the current values.
func (p *StatePublisher) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *StatePublisher) Message() StateMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := StateMessage{State: p.state, Playing: "False"}
	if p.playing {
		m.Playing = "True"
	}
	return m
}

func (p *StatePublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
		}
		data, err := json.Marshal(p.Message())
		if err != nil {
			Logger.Error().Msgf("Error marshalling state: %v", err)
			continue
		}
		if err := p.publish(p.topic, true, data); err != nil {
			// the connect hook kicks again once the broker is back
			Logger.Debug().Msgf("state not published: %v", err)
		}
	}
}
