package util

import (
	"encoding/json"
	"fmt"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

type HAAvdvertisementAvailability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

type HADeviceSpec struct {
	Name        string   `json:"name"`
	Identifiers []string `json:"ids"`
}

type HAAdvertisement struct { //nolint:govet // struct layout optimized for JSON field order
	HAAvdvertisementAvailability []HAAvdvertisementAvailability `json:"availability"`
	Device                       HADeviceSpec                   `json:"device"`
	UniqueID                     string                         `json:"uniq_id"`
	Name                         string                         `json:"name"`
	StateTopic                   string                         `json:"state_topic"`
	ValueTemplate                string                         `json:"value_template,omitempty"`
	PayloadOn                    string                         `json:"payload_on,omitempty"`
	PayloadOff                   string                         `json:"payload_off,omitempty"`
	DeviceClass                  string                         `json:"device_class,omitempty"`
	Platform                     string                         `json:"platform"`
	Qos                          int                            `json:"qos"`
}

const haDeviceName = "theater_controller"

func (ha HAAdvertisement) ToJson() string {
	data, err := json.Marshal(ha)
	if err != nil {
		Logger.Error().Msgf("Error marshalling HAAdvertisement: %v", err)
		return ""
	}
	return string(data)
}

func (ha HAAdvertisement) ConfigTopic() string {
	return fmt.Sprintf("homeassistant/%s/%s/%s/config", ha.Platform, haDeviceName, ha.Name)
}

func newHAAdvertisement(name, stateTopic, platform string) HAAdvertisement {
	return HAAdvertisement{
		Name:       name,
		StateTopic: stateTopic,
		HAAvdvertisementAvailability: []HAAvdvertisementAvailability{
			{
				Topic:               Config.GetString("online_topic"),
				PayloadAvailable:    "online",
				PayloadNotAvailable: "offline",
			},
		},
		UniqueID: haDeviceName + "-" + name,
		Platform: platform,
		Device: HADeviceSpec{
			Name:        haDeviceName,
			Identifiers: []string{haDeviceName},
		},
	}
}

// MediaStateAdvertisement describes the orchestrator state as a text sensor
// reading the "state" field of the JSON published on stateTopic.
func MediaStateAdvertisement(stateTopic string) HAAdvertisement {
	ha := newHAAdvertisement("media_state", stateTopic, "sensor")
	ha.ValueTemplate = "{{ value_json.state }}"
	return ha
}

// PlaybackAdvertisement describes snapcast playback activity as a binary sensor.
func PlaybackAdvertisement(stateTopic string) HAAdvertisement {
	ha := newHAAdvertisement("playback", stateTopic, "binary_sensor")
	ha.ValueTemplate = "{{ value_json.playing }}"
	ha.PayloadOn = "True"
	ha.PayloadOff = "False"
	ha.DeviceClass = "sound"
	return ha
}

func AdvertiseHA(stateTopic string, client MQTT.Client) {
	for _, ha := range []HAAdvertisement{MediaStateAdvertisement(stateTopic), PlaybackAdvertisement(stateTopic)} {
		if token := client.Publish(ha.ConfigTopic(), 0, true, ha.ToJson()); token.Wait() && token.Error() != nil {
			Logger.Error().Msgf("Error Publishing %s: %v", ha.ConfigTopic(), token.Error())
		}
	}
}
