package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/orchestrator"
	"github.com/elijahnyp/theater_controller/state"
	. "github.com/elijahnyp/theater_controller/util"
)

const recentTransitions = 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Data interface{} `json:"data"`
	Type string      `json:"type"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn *websocket.Conn
	send chan WebSocketMessage
	hub  *WSHub
}

// WSHub maintains the set of active clients and broadcasts messages
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WebSocketMessage
	register   chan *WSClient
	unregister chan *WSClient
}

// SystemStatus is the /api/status document.
type SystemStatus struct {
	State        string           `json:"state"`
	Playing      bool             `json:"playing"`
	TV           string           `json:"tv"`
	AVRReady     bool             `json:"avr_ready"`
	AVRStandby   string           `json:"avr_standby"`
	Address      string           `json:"address,omitempty"`
	ActiveSource string           `json:"active_source,omitempty"`
	Volume       uint8            `json:"volume"`
	Transitions  []TransitionItem `json:"recent_transitions"`
}

// TransitionItem is one orchestrator state change.
type TransitionItem struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Rule      string `json:"rule"`
	Timestamp int64  `json:"timestamp"`
}

func NewTransitionItem(t orchestrator.Transition) TransitionItem {
	return TransitionItem{
		From:      t.From.String(),
		To:        t.To.String(),
		Rule:      t.Rule,
		Timestamp: t.At.Unix(),
	}
}

// Dashboard collects what the status page shows.
type Dashboard struct {
	current  func() state.MediaState
	shared   *state.Shared
	activity *state.Activity
	volume   *state.VolumeTarget

	mu     sync.Mutex
	recent []TransitionItem
}

func NewDashboard(current func() state.MediaState, shared *state.Shared, activity *state.Activity, volume *state.VolumeTarget) *Dashboard {
	return &Dashboard{
		current:  current,
		shared:   shared,
		activity: activity,
		volume:   volume,
		recent:   []TransitionItem{},
	}
}

// Record keeps the last few transitions, newest first.
func (d *Dashboard) Record(t TransitionItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = append([]TransitionItem{t}, d.recent...)
	if len(d.recent) > recentTransitions {
		d.recent = d.recent[:recentTransitions]
	}
}

func (d *Dashboard) Status() SystemStatus {
	facts := d.shared.Facts()
	status := SystemStatus{
		State:      d.current().String(),
		Playing:    d.activity.Get(),
		TV:         facts.TV.String(),
		AVRReady:   facts.AVRReady,
		AVRStandby: facts.AVRStandby.String(),
		Volume:     d.volume.Value(),
	}
	if facts.HasAddress {
		status.Address = facts.Address.String()
	}
	if facts.ActiveSource != state.NoActiveSource {
		status.ActiveSource = cec.PhysicalAddress(facts.ActiveSource).String()
	}
	d.mu.Lock()
	status.Transitions = append([]TransitionItem{}, d.recent...)
	d.mu.Unlock()
	return status
}

// APIStatus returns the overall system status as JSON
func (d *Dashboard) APIStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.Status()); err != nil {
		Logger.Error().Err(err).Msg("Error encoding system status")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// NewHub creates a new WebSocket hub
func NewHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WebSocketMessage, 16),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the WebSocket hub
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			Logger.Info().Msg("Client connected to WebSocket")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				Logger.Info().Msg("Client disconnected from WebSocket")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// BroadcastUpdate queues an update for all connected clients. It never
// blocks; updates are dropped when the queue is full.
func (h *WSHub) BroadcastUpdate(messageType string, data interface{}) {
	select {
	case h.broadcast <- WebSocketMessage{Type: messageType, Data: data}:
	default:
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *WSClient) writePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(message); err != nil {
			return
		}
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		Logger.Debug().Err(err).Msg("Error writing close message")
	}
}

// ServeWebSocket streams transitions and activity changes to the peer,
// starting with the current status.
func (h *WSHub) ServeWebSocket(status func() SystemStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := &WSClient{
			conn: conn,
			send: make(chan WebSocketMessage, 256),
			hub:  h,
		}
		client.send <- WebSocketMessage{Type: "status", Data: status()}
		h.register <- client

		go client.writePump()
		go client.readPump()
	}
}
