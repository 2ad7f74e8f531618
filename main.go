package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/elijahnyp/theater_controller/actor"
	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/control"
	"github.com/elijahnyp/theater_controller/monitor"
	"github.com/elijahnyp/theater_controller/orchestrator"
	"github.com/elijahnyp/theater_controller/relay"
	"github.com/elijahnyp/theater_controller/snapproxy"
	"github.com/elijahnyp/theater_controller/state"
	. "github.com/elijahnyp/theater_controller/util"
	"github.com/elijahnyp/theater_controller/volume"
)

func main() {
	LogInit("info")
	SetupConfig()
	LogInit(Config.GetString("log_level"))
	RegisterNewConfigListener(func() { LogInit(Config.GetString("log_level")) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		Logger.Fatal().Msgf("theater controller stopped: %v", err)
	}
	Logger.Info().Msg("shutdown complete")
}

// newRelay builds the outlet driver named by relay.driver.
func newRelay() (relay.Controller, error) {
	switch driver := Config.GetString("relay.driver"); driver {
	case "mqtt":
		c := relay.NewMQTTController(func() MQTT.Client { return Client }, Config.GetString("relay.device"), Config.GetDuration("relay.timeout"))
		c.Register()
		return c, nil
	case "sispmctl":
		return relay.NewSispmController(Config.GetString("relay.sispmctl")), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", driver)
	}
}

// readInitialState picks the starting state from the AVR outlet and only
// then calls launch. An unreadable outlet counts as powered so the wake
// path re-checks it.
func readInitialState(outlet interface{ AVRPowered() (bool, error) }, launch func()) state.MediaState {
	initial := state.InitialMediaState(outlet.AVRPowered())
	launch()
	return initial
}

func timing() orchestrator.Timing {
	return orchestrator.Timing{
		Tick:              Config.GetDuration("tick"),
		SwitchOffWatchdog: Config.GetDuration("switch_off_watchdog"),
		LongWait:          Config.GetDuration("long_wait"),
		StandbySettle:     Config.GetDuration("standby_settle"),
	}
}

func upstream() func(context.Context) (string, error) {
	addr := Config.GetString("snapserver")
	if Config.GetBool("snapserver_discover") {
		return snapproxy.DiscoveredUpstream(addr, Config.GetDuration("snapserver_discover_timeout"))
	}
	return snapproxy.StaticUpstream(addr)
}

func run(ctx context.Context) error {
	phys, err := cec.ParsePhysicalAddress(Config.GetString("physical_address"))
	if err != nil {
		return err
	}
	avrPhys, err := cec.ParsePhysicalAddress(Config.GetString("avr_physical_address"))
	if err != nil {
		return err
	}
	// fail on bad timing before touching hardware
	if _, err := timing().Thresholds(); err != nil {
		return err
	}

	bus, err := cec.Open(Config.GetString("cec_device"), cec.Options{
		OSDName: Config.GetString("cec_osd_name"),
		Timeout: Config.GetDuration("cec_timeout"),
	})
	if err != nil {
		return err
	}
	defer bus.Close()
	tap, err := cec.OpenMonitor(Config.GetString("cec_device"))
	if err != nil {
		return err
	}
	defer tap.Close()

	shared := state.NewShared()
	activity := &state.Activity{}
	target := &state.VolumeTarget{}
	publisher := NewStatePublisher(Config.GetString("state_topic"))

	r, err := newRelay()
	if err != nil {
		return err
	}
	act := actor.New(bus, r, shared, phys, volume.Syncer{Multiplier: Config.GetInt("volume_step_multiplier")})
	channel := control.New(act)

	// mqtt carries the mqtt relay driver, the command topic and
	// the published state. Everything is registered before connecting so
	// the connect handler subscribes it.
	RegisterMQTTSubscription(Config.GetString("command_topic"), channel.MessageHandler())
	RegisterMQTTConnectHook("state", func(MQTT.Client) { publisher.Kick() })
	if Config.GetBool("ha_discovery") {
		RegisterMQTTConnectHook("haadvertise", func(client MQTT.Client) {
			AdvertiseHA(Config.GetString("state_topic"), client)
		})
	}
	switch err := MqttInit(); {
	case errors.Is(err, ErrMQTTDisabled):
		if Config.GetString("relay.driver") == "mqtt" {
			return fmt.Errorf("relay driver mqtt: %w", err)
		}
		Logger.Info().Msg("mqtt disabled")
	case err != nil:
		Logger.Warn().Msgf("mqtt not connected yet: %v", err)
	default:
		RegisterNewConfigListener(func() {
			if err := MqttInit(); err != nil {
				Logger.Error().Msgf("Error reconnecting mqtt: %v", err)
			}
		})
	}
	defer func() {
		if Client != nil && Client.IsConnected() {
			Client.Disconnect(1000)
		}
	}()
	go publisher.Run(ctx)

	errs := make(chan error, 4)

	mon := monitor.New(tap, shared, avrPhys)
	if Config.GetBool("audio_service_restart") {
		mon.OnAddress = monitor.NewAudioService(Config.GetString("audio_service")).Ensure
	}
	go func() { errs <- mon.Run() }()

	hub := NewHub()
	go hub.Run()

	proxy := snapproxy.NewProxy(upstream(), activity, target)
	proxy.BufferSize = Config.GetInt("proxy_buffer")
	proxy.Quiet = Config.GetDuration("activity_quiet")
	proxy.Volumes = snapproxy.VolumeMap{Offset: Config.GetFloat64("volume_offset"), Scale: Config.GetFloat64("volume_scale")}
	proxy.OnActivity = func(active bool) {
		publisher.SetPlaying(active)
		hub.BroadcastUpdate("activity", active)
	}
	supervisor := snapproxy.NewSupervisor(proxy, Config.GetString("snapclient_binary"), Config.GetStringSlice("snapclient_args"), func() error {
		return act.SwitchAVR(true)
	})
	// the supervisor powers the AVR outlet before each launch, so the
	// starting state is read first
	initial := readInitialState(act, func() {
		go func() {
			if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- err
			}
		}()
	})

	ln, err := control.Listen(Config.GetString("control_socket"))
	if err != nil {
		return err
	}
	go func() {
		if err := channel.Serve(ln); err != nil {
			errs <- err
		}
	}()
	context.AfterFunc(ctx, func() { ln.Close() })

	orch, err := orchestrator.New(act, shared, activity, target, timing(), initial)
	if err != nil {
		return err
	}
	publisher.SetState(initial.String())

	dash := NewDashboard(orch.State, shared, activity, target)
	orch.Observe(func(t orchestrator.Transition) {
		item := NewTransitionItem(t)
		dash.Record(item)
		publisher.SetState(t.To.String())
		hub.BroadcastUpdate("transition", item)
	})

	server := NewMonitorServer()
	server.AddHandler("/api/status", dash.APIStatus)
	server.AddHandler("/ws", hub.ServeWebSocket(dash.Status))
	if err := server.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
	defer server.Stop()
	RegisterNewConfigListener(func() { server.Restart() })

	go func() {
		select {
		case <-time.After(Config.GetDuration("startup_delay")):
		case <-ctx.Done():
			return
		}
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- err
		}
	}()

	Logger.Info().Msgf("ready: %v on %s, initial state %v", phys, Config.GetString("cec_device"), initial)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errs:
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
}
