// cmd/pasdbus/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/config"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/logging"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/metrics"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/poller"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/simulator"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/store"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/telemetry"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport"
)

const portPowerRegister = "ports_power_sensed"

func main() {
	cfgPath := flag.String("config", "pasdbus.yaml", "config file")
	simulate := flag.Bool("simulate", false, "run against an in-memory bus seeded from the register map")
	flag.Parse()

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config validation failed: %v\n", err)
		os.Exit(1)
	}
	config.Normalize(cfg)

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	// --------------------
	// Register map
	// --------------------

	var cat *registermap.Catalog
	if cfg.RegisterMap != "" {
		cat, err = registermap.LoadFile(cfg.RegisterMap)
	} else {
		cat, err = registermap.Default()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("register map")
	}

	// --------------------
	// Bus
	// --------------------

	var dial transport.Dial
	if *simulate {
		dial, err = simulated(cat, cfg.Controllers, log)
	} else {
		var frames *stdlog.Logger
		if cfg.Bus.Debug {
			frames = logging.Std(log.With().Str("component", "modbus").Logger())
		}
		dial, err = poller.Dialer(cfg.Bus, frames)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("bus")
	}

	st := store.New()
	obs := poller.Observers{
		poller.NewLogObserver(log),
		metrics.New(prometheus.DefaultRegisterer),
	}

	arb, err := poller.Build(cfg, cat, st, obs, dial)
	if err != nil {
		log.Fatal().Err(err).Msg("arbiter build failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := arb.Run(ctx); err != nil {
			log.Error().Err(err).Msg("arbiter")
			stop()
		}
	}()

	// ---- metrics endpoint ----
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("listen", cfg.Metrics.Listen).Msg("metrics endpoint")
			}
		}()
		defer srv.Close()
	}

	// ---- attachment from hub port power ----
	if cfg.FollowPortPower != "" {
		go func() {
			if err := poller.FollowPortPower(ctx, arb, cfg.FollowPortPower, portPowerRegister); err != nil {
				log.Error().Err(err).Str("hub", cfg.FollowPortPower).Msg("follow port power")
			}
		}()
	}

	// ---- low-pass filter constants ----
	writeFilters(ctx, arb, cfg.Filters, log)

	// ---- MQTT ----
	if cfg.MQTT.Broker != "" {
		mc, err := connectMQTT(cfg.MQTT)
		if err != nil {
			log.Fatal().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt connect")
		}
		defer mc.Disconnect(250)

		br := telemetry.New(telemetry.Config{
			Prefix: cfg.MQTT.TopicPrefix,
			QoS:    cfg.MQTT.QoS,
		}, mc, st, arb, arb.Controllers(), log)
		go func() {
			if err := br.Run(ctx); err != nil {
				log.Error().Err(err).Msg("mqtt bridge")
				stop()
			}
		}()
	}

	log.Info().
		Int("controllers", len(cfg.Controllers)).
		Str("endpoint", cfg.Bus.Endpoint).
		Bool("simulate", *simulate).
		Msg("pasdbus started")

	<-ctx.Done()
	stop()
	<-arb.Done()
	log.Info().Msg("pasdbus stopped")
}

// writeFilters submits every configured filter constant as an on-demand
// write and logs the outcomes as they arrive.
func writeFilters(ctx context.Context, arb *poller.Arbiter, filters []config.FilterConfig, log zerolog.Logger) {
	for _, f := range filters {
		fut, err := arb.Submit(ctx, poller.Request{
			Controller: f.Controller,
			Op:         poller.OpWrite,
			Register:   f.Register,
			Value:      f.Value,
		})
		if err != nil {
			log.Warn().Err(err).Str("controller", f.Controller).Str("register", f.Register).Msg("filter write rejected")
			continue
		}
		go func(f config.FilterConfig) {
			res, err := fut.Wait(ctx)
			if err == nil {
				err = res.Err
			}
			if err != nil {
				log.Warn().Err(err).Str("controller", f.Controller).Str("register", f.Register).Msg("filter write failed")
				return
			}
			log.Info().Str("controller", f.Controller).Str("register", res.Register).Int("value", f.Value).Msg("filter written")
		}(f)
	}
}

func connectMQTT(c config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}
	mc := mqtt.NewClient(opts)
	if tok := mc.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		if tok.Error() != nil {
			return nil, tok.Error()
		}
		return nil, errors.New("timed out")
	}
	return mc, nil
}

// simulated seeds an in-memory bus with every configured controller at the
// revision it is configured for (base map when detecting).
func simulated(cat *registermap.Catalog, ctrls []config.ControllerConfig, log zerolog.Logger) (transport.Dial, error) {
	bus := simulator.New()
	for _, cc := range ctrls {
		kind, err := registermap.ParseKind(cc.Kind)
		if err != nil {
			return nil, err
		}
		ck, err := cat.Resolve(kind, cc.Revision)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", cc.ID, err)
		}
		station := cc.Station
		if station == 0 {
			station = ck.Station
		}
		if skipped := bus.Populate(station, ck); len(skipped) > 0 {
			log.Debug().Str("controller", cc.ID).Strs("registers", skipped).Msg("simulator left registers unset")
		}
	}
	return bus.Dial, nil
}
