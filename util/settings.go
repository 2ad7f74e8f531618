package util

import (
	"crypto/rand"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "THEATER"

var Config = viper.New()

var config_listeners []func()

func RegisterNewConfigListener(new_listener func()) {
	for _, listener := range config_listeners {
		if reflect.ValueOf(new_listener).Pointer() == reflect.ValueOf(listener).Pointer() {
			Logger.Warn().Msg("config listener already registered")
			return
		}
	}
	config_listeners = append(config_listeners, new_listener)
}

func OnNewConfig() {
	for _, listener := range config_listeners {
		listener()
	}
}

func GetRandString(n int) string {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, n)
	for i := range b {
		randBytes := make([]byte, 1)
		if _, err := rand.Read(randBytes); err != nil {
			b[i] = letterBytes[i%len(letterBytes)]
		} else {
			b[i] = letterBytes[int(randBytes[0])%len(letterBytes)]
		}
	}
	return string(b)
}

func setDefaults() {
	Config.SetDefault("log_level", "info")

	// bus
	Config.SetDefault("cec_device", "/dev/cec0")
	Config.SetDefault("cec_osd_name", "pi4")
	Config.SetDefault("cec_timeout", time.Second)
	Config.SetDefault("physical_address", "3.3.0.0")
	Config.SetDefault("avr_physical_address", "3.0.0.0")
	Config.SetDefault("audio_service", "pipewire")
	Config.SetDefault("audio_service_restart", true)

	// orchestrator timing, converted to ticks once at startup
	Config.SetDefault("tick", 250*time.Millisecond)
	Config.SetDefault("switch_off_watchdog", 7*time.Second)
	Config.SetDefault("long_wait", 5500*time.Millisecond)
	Config.SetDefault("standby_settle", time.Second)
	Config.SetDefault("startup_delay", 5*time.Second)

	// volume
	Config.SetDefault("volume_step_multiplier", 2)
	Config.SetDefault("volume_offset", 34)
	Config.SetDefault("volume_scale", 0.6)

	// snapcast
	Config.SetDefault("snapserver", "127.0.0.1:1704")
	Config.SetDefault("snapserver_discover", false)
	Config.SetDefault("snapserver_discover_timeout", 3*time.Second)
	Config.SetDefault("snapclient_binary", "snapclient")
	Config.SetDefault("snapclient_args", []string{"--logsink", "system", "-s", "14", "--mixer", "none"})
	Config.SetDefault("proxy_buffer", 17*1024)
	Config.SetDefault("activity_quiet", 5*time.Second)

	// local control
	Config.SetDefault("control_socket", "/tmp/cec")

	// mqtt
	Config.SetDefault("broker_uri", "")
	Config.SetDefault("id_base", "theater_controller")
	Config.SetDefault("username", "")
	Config.SetDefault("password", "")
	Config.SetDefault("cleansess", false)
	Config.SetDefault("online_topic", "theater/online")
	Config.SetDefault("state_topic", "theater/state")
	Config.SetDefault("command_topic", "theater/cmd")
	Config.SetDefault("ha_discovery", true)

	// relay
	Config.SetDefault("relay.driver", "sispmctl")
	Config.SetDefault("relay.device", "theater_strip")
	Config.SetDefault("relay.sispmctl", "sispmctl")
	Config.SetDefault("relay.timeout", 2*time.Second)

	// monitor server
	Config.SetDefault("details_port", 8080)
}

func SetupConfig() {
	Config.SetEnvPrefix(ENV_PREFIX)
	setDefaults()

	// config file
	Config.SetConfigName("theater_controller")
	Config.AddConfigPath("/")
	Config.AddConfigPath("./")
	Config.AddConfigPath("./config")
	Config.AddConfigPath("/etc")
	Config.AddConfigPath("/theater_controller")
	Config.AddConfigPath("/theater_controller/config")

	if err := Config.ReadInConfig(); err != nil {
		Logger.Warn().Msgf("unable to read config file, using defaults: %v", err)
	}

	// environment variables
	Config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Config.AutomaticEnv()

	// watch for changes
	Config.WatchConfig()
	Config.OnConfigChange(func(e fsnotify.Event) {
		Logger.Info().Msgf("Config file changed: %v", e.Name)
		Logger.Debug().Msgf("Config Additional Info: %v", e.String())
		OnNewConfig()
	})
}
