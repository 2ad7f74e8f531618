package relay

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/elijahnyp/theater_controller/util"
)

// MQTTController drives a Tasmota style power strip: "ON"/"OFF" (or an
// empty query) go to cmnd/<device>/POWER<n> and the strip answers on
// stat/<device>/POWER<n>.
type MQTTController struct {
	client  func() MQTT.Client
	device  string
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	known   map[int]bool
	waiters map[int][]chan bool
}

func NewMQTTController(client func() MQTT.Client, device string, timeout time.Duration) *MQTTController {
	return &MQTTController{
		client:  client,
		device:  device,
		timeout: timeout,
		log:     util.Component("relay"),
		known:   make(map[int]bool),
		waiters: make(map[int][]chan bool),
	}
}

// StatTopic is the wildcard subscription carrying outlet reports.
func (c *MQTTController) StatTopic() string {
	return fmt.Sprintf("stat/%s/+", c.device)
}

func (c *MQTTController) commandTopic(outlet int) string {
	return fmt.Sprintf("cmnd/%s/POWER%d", c.device, outlet)
}

// Register subscribes to the strip's reports through the shared client.
func (c *MQTTController) Register() {
	util.RegisterMQTTSubscription(c.StatTopic(), c.handle)
}

func (c *MQTTController) handle(client MQTT.Client, msg MQTT.Message) {
	name := msg.Topic()[strings.LastIndex(msg.Topic(), "/")+1:]
	if !strings.HasPrefix(name, "POWER") {
		return
	}
	outlet := 1
	if idx := strings.TrimPrefix(name, "POWER"); idx != "" {
		n, err := strconv.Atoi(idx)
		if err != nil {
			return
		}
		outlet = n
	}
	var on bool
	switch strings.ToUpper(string(msg.Payload())) {
	case "ON", "1":
		on = true
	case "OFF", "0":
		on = false
	default:
		c.log.Warn().Msgf("unexpected payload %q on %s", msg.Payload(), msg.Topic())
		return
	}

	c.mu.Lock()
	c.known[outlet] = on
	waiters := c.waiters[outlet]
	delete(c.waiters, outlet)
	c.mu.Unlock()

	c.log.Debug().Msgf("outlet %d is %v", outlet, on)
	for _, w := range waiters {
		w <- on
	}
}

// Cached returns the last reported state of outlet without asking the strip.
func (c *MQTTController) Cached(outlet int) (on, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	on, ok = c.known[outlet]
	return on, ok
}

func (c *MQTTController) Status(outlet int) (bool, error) {
	return c.exchange(outlet, "")
}

func (c *MQTTController) Set(outlet int, on bool) error {
	payload := "OFF"
	if on {
		payload = "ON"
	}
	got, err := c.exchange(outlet, payload)
	if err != nil {
		return err
	}
	if got != on {
		return fmt.Errorf("outlet %d reported %v after switching to %v", outlet, got, on)
	}
	return nil
}

// exchange publishes payload to the outlet's command topic and waits for the
// next report for that outlet.
func (c *MQTTController) exchange(outlet int, payload string) (bool, error) {
	if err := checkOutlet(outlet); err != nil {
		return false, err
	}
	client := c.client()
	if client == nil || !client.IsConnected() {
		return false, fmt.Errorf("outlet %d: mqtt not connected", outlet)
	}

	reply := make(chan bool, 1)
	c.mu.Lock()
	c.waiters[outlet] = append(c.waiters[outlet], reply)
	c.mu.Unlock()

	token := client.Publish(c.commandTopic(outlet), 0, false, payload)
	if !token.WaitTimeout(c.timeout) {
		c.dropWaiter(outlet, reply)
		return false, fmt.Errorf("outlet %d: publish timed out", outlet)
	}
	if err := token.Error(); err != nil {
		c.dropWaiter(outlet, reply)
		return false, fmt.Errorf("outlet %d: publish: %w", outlet, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case on := <-reply:
		return on, nil
	case <-timer.C:
		c.dropWaiter(outlet, reply)
		return false, fmt.Errorf("outlet %d: %w within %v", outlet, ErrNoReply, c.timeout)
	}
}

func (c *MQTTController) dropWaiter(outlet int, reply chan bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws := c.waiters[outlet]
	for i, w := range ws {
		if w == reply {
			c.waiters[outlet] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}
