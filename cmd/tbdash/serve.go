package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tbdash/internal/api"
	"github.com/nerrad567/tbdash/internal/dashboard"
	"github.com/nerrad567/tbdash/internal/infrastructure/influxdb"
	"github.com/nerrad567/tbdash/internal/infrastructure/logging"
	"github.com/nerrad567/tbdash/internal/infrastructure/mqtt"
	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// pumpCommandTimeout bounds a pump command received over MQTT.
const pumpCommandTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard poller and local API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

// serve wires the long-running process. Shutdown runs in reverse order of
// startup through the deferred closes.
func serve(ctx context.Context, opts *rootOptions) error {
	a, err := newApp(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer a.close()

	log := a.log
	cfg := a.cfg
	log.Info("starting tbdash",
		"version", version,
		"commit", commit,
		"build_date", date,
		"backend", cfg.Backend.URL,
	)

	restored, err := a.client.Restore(ctx)
	if err != nil {
		return err
	}
	if !restored {
		log.Warn("no stored session; sign in with 'tbdash login' or POST /api/v1/auth/login")
	}

	state := dashboard.NewState()
	pumps := dashboard.NewPumpControl(a.client, state)
	aggregator := dashboard.NewAggregator(a.client,
		dashboard.WithAggregatorLogger(log),
		dashboard.WithAggregatorMetrics(a.metrics),
	)

	var checks []healthChecker
	if a.storeCheck != nil {
		checks = append(checks, healthChecker{"credentials", a.storeCheck})
	}
	sinks, mqttClient, err := connectSinks(ctx, a, &checks)
	if err != nil {
		return err
	}

	poller := dashboard.NewPoller(aggregator, state,
		dashboard.WithSchedule(cfg.Dashboard.Schedule),
		dashboard.WithSinks(sinks...),
		dashboard.WithPollerLogger(log),
	)

	srv, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Metrics: a.metrics,
		Backend: a.client,
		State:   state,
		Refresh: poller,
		Pumps:   pumps,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	stopBroadcast := dashboard.BroadcastChanges(state, srv.Hub())
	a.onClose(func() error {
		stopBroadcast()
		return nil
	})

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	a.onClose(srv.Close)
	checks = append(checks, healthChecker{"api", srv.HealthCheck})

	if mqttClient != nil {
		topic := mqttClient.Topics().AllPumpCommands()
		if err := mqttClient.Subscribe(topic, mqttClient.QoS(), pumpCommandHandler(ctx, mqttClient.Topics(), pumps, log)); err != nil {
			return fmt.Errorf("subscribing to pump commands: %w", err)
		}
		log.Info("listening for pump commands", "topic", topic)
	}

	if cfg.Dashboard.Enabled {
		if err := poller.Start(ctx); err != nil {
			return fmt.Errorf("starting dashboard poller: %w", err)
		}
		a.onClose(func() error {
			poller.Stop()
			return nil
		})
		log.Info("dashboard poller started", "schedule", cfg.Dashboard.Schedule)
	} else {
		log.Info("dashboard poller disabled; refresh via POST /api/v1/dashboard/refresh")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// connectSinks connects the optional snapshot mirrors. The MQTT client is
// returned as well so serve can subscribe to pump commands on it.
func connectSinks(ctx context.Context, a *app, checks *[]healthChecker) ([]dashboard.Sink, *mqtt.Client, error) {
	var (
		sinks      []dashboard.Sink
		mqttClient *mqtt.Client
	)
	log := a.log

	if a.cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, a.cfg.InfluxDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		a.onClose(influxClient.Close)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks = append(sinks, dashboard.NewTelemetryMirror(influxClient))
		*checks = append(*checks, healthChecker{"influxdb", influxClient.HealthCheck})
		log.Info("InfluxDB connected",
			"url", a.cfg.InfluxDB.URL,
			"org", a.cfg.InfluxDB.Org,
			"bucket", a.cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if a.cfg.MQTT.Enabled {
		var err error
		mqttClient, err = mqtt.Connect(a.client.BrokerURL(), a.cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		a.onClose(mqttClient.Close)
		mqttClient.SetLogger(log.With("component", "mqtt"))
		sinks = append(sinks, dashboard.NewSnapshotPublisher(mqttClient, mqttClient.Topics()))
		*checks = append(*checks, healthChecker{"mqtt", mqttClient.HealthCheck})
		log.Info("MQTT connected",
			"broker", a.client.BrokerURL(),
			"client_id", a.cfg.MQTT.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	return sinks, mqttClient, nil
}

// pumpSetter is satisfied by *dashboard.PumpControl.
type pumpSetter interface {
	SetPump(ctx context.Context, deviceID string, status thingsboard.PumpStatus) error
}

// pumpCommandHandler handles {prefix}/command/pump/{id} messages carrying
// "on" or "off". Malformed commands are logged and dropped.
func pumpCommandHandler(ctx context.Context, topics mqtt.Topics, pumps pumpSetter, log *logging.Logger) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		id, ok := topics.ParsePumpCommand(topic)
		if !ok {
			log.Warn("ignoring pump command on unexpected topic", "topic", topic)
			return nil
		}

		raw := strings.Trim(strings.TrimSpace(string(payload)), `"`)
		status, err := thingsboard.ParsePumpStatus(strings.ToLower(raw))
		if err != nil {
			log.Warn("ignoring malformed pump command", "device_id", id, "payload", raw)
			return nil
		}

		cmdCtx, cancel := context.WithTimeout(ctx, pumpCommandTimeout)
		defer cancel()
		if err := pumps.SetPump(cmdCtx, id, status); err != nil {
			return err
		}
		log.Info("pump commanded over MQTT", "device_id", id, "status", status)
		return nil
	}
}

// healthChecker names one component's health check.
type healthChecker struct {
	name  string
	check func(ctx context.Context) error
}

// healthCheck runs every check and returns the first failure.
func healthCheck(ctx context.Context, checks []healthChecker) error {
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
