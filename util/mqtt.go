package util

import (
	"errors"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

var ErrMQTTDisabled = errors.New("mqtt disabled: no broker_uri configured")

var Client MQTT.Client

var (
	mqttMu          sync.Mutex
	subscriptions   map[string]MQTT.MessageHandler
	connectHandlers map[string]func(MQTT.Client)
)

const publishTimeout = 5 * time.Second

var connectHandler MQTT.OnConnectHandler = func(client MQTT.Client) {
	Logger.Info().Msg("mqtt connected")
	subscribe(client)
	client.Publish(Config.GetString("online_topic"), 0, true, "online").Wait()
	mqttMu.Lock()
	hooks := make([]func(MQTT.Client), 0, len(connectHandlers))
	for _, handler := range connectHandlers {
		hooks = append(hooks, handler)
	}
	mqttMu.Unlock()
	for _, handler := range hooks {
		handler(client)
	}
}

func RegisterMQTTConnectHook(name string, handler func(MQTT.Client)) {
	mqttMu.Lock()
	defer mqttMu.Unlock()
	if connectHandlers == nil {
		connectHandlers = make(map[string]func(client MQTT.Client))
	}
	if handler == nil {
		delete(connectHandlers, name)
	} else {
		connectHandlers[name] = handler
	}
}

// subscribe (re)subscribes every registered topic; called on each connect
// so subscriptions survive broker restarts.
func subscribe(client MQTT.Client) {
	mqttMu.Lock()
	subs := make(map[string]MQTT.MessageHandler, len(subscriptions))
	for topic, handler := range subscriptions {
		subs[topic] = handler
	}
	mqttMu.Unlock()
	for topic, handler := range subs {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			Logger.Error().Msgf("Error Subscribing to %s: %v", topic, token.Error())
		}
	}
}

func RegisterMQTTSubscription(topic string, handler MQTT.MessageHandler) {
	mqttMu.Lock()
	if subscriptions == nil {
		subscriptions = make(map[string]MQTT.MessageHandler)
	}
	if handler == nil {
		delete(subscriptions, topic)
	} else {
		subscriptions[topic] = handler
	}
	mqttMu.Unlock()

	if handler != nil && Client != nil && Client.IsConnected() {
		if token := Client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			Logger.Error().Msgf("Error Subscribing to %s: %v", topic, token.Error())
		}
	}
}

// Publish sends payload and waits a bounded time for the broker to ack.
func Publish(topic string, retained bool, payload interface{}) error {
	if Client == nil || !Client.IsConnected() {
		return fmt.Errorf("publish %s: not connected", topic)
	}
	token := Client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

func receiver(client MQTT.Client, message MQTT.Message) {
	Logger.Warn().Msgf("Received message on %v but no handler", message.Topic())
}

var connectLostHandler MQTT.ConnectionLostHandler = func(client MQTT.Client, err error) {
	Logger.Info().Msgf("Connect lost: %v", err)
}

func MqttInit() error {
	broker := Config.GetString("broker_uri")
	if broker == "" {
		return ErrMQTTDisabled
	}
	opts := MQTT.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(Config.GetString("id_base") + "_" + GetRandString(6))
	opts.SetUsername(Config.GetString("username"))
	opts.SetPassword(Config.GetString("password"))
	opts.SetCleanSession(Config.GetBool("cleansess"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetWill(Config.GetString("online_topic"), "offline", 0, true)
	opts.OnConnectionLost = connectLostHandler
	opts.OnConnect = connectHandler
	opts.SetDefaultPublishHandler(receiver)

	if Client != nil {
		Logger.Debug().Msg("Client exists - destroying")
		if Client.IsConnected() {
			Client.Disconnect(1000)
		}
		Client = nil
	}

	Client = MQTT.NewClient(opts)

	// with ConnectRetry the token completes once the first attempt is made;
	// later attempts run in the background.
	if token := Client.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("connecting to %s: %w", broker, token.Error())
	}
	return nil
}
