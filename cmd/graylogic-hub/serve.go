package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/api"
	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/events"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub until interrupted",
	Long: `Loads the configuration, opens the database, connects to the broker,
starts every enabled program and serves the API. Runs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), configPath(cmd))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// run is the hub's lifecycle, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := automation.NewRegistry(automation.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading program registry: %w", refreshErr)
	}
	log.Info("program registry initialised", "programs", registry.GetProgramCount())

	// InfluxDB is optional; run telemetry is dropped without it.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	m := metrics.New()
	bus := events.NewBus()
	bus.SetLogger(log)

	core := mqtt.NewPersistentClient(
		mqtt.WithReconnectDelay(cfg.GetReconnectDelay()),
		mqtt.WithPresence(mqtt.Topics{}.SystemStatus()),
	)
	core.SetLogger(log)

	engine := automation.NewEngine(automation.Config{
		Includes:       cfg.Scripting.Includes,
		References:     cfg.Scripting.References,
		RunTimeout:     cfg.GetRunTimeout(),
		Broker:         brokerEndpoint(cfg),
		ReconnectDelay: cfg.GetReconnectDelay(),
	}, automation.Deps{
		Registry:  registry,
		Publisher: core,
		Recorder:  runRecorder(influxClient),
		Observer:  m,
		Events:    bus,
		Logger:    log,
		Output: func(programID string) io.Writer {
			return log.Writer(slog.LevelInfo, "program_id", programID)
		},
	})

	if err := startBroker(cfg, core, engine, bus, m, influxClient, log); err != nil {
		return fmt.Errorf("starting MQTT client: %w", err)
	}
	defer core.Disconnect()

	if cfg.Scripting.Enabled {
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("starting program engine: %w", err)
		}
	} else {
		log.Info("scripting disabled, programs will not start automatically")
	}
	defer engine.Stop()

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Registry: registry,
		Engine:   engine,
		MQTT:     core,
		Bus:      bus,
		Metrics:  m,
		DB:       db,
		Influx:   influxClient,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, engine, MQTT,
	// InfluxDB (if enabled), database.
	return nil
}

// brokerEndpoint is the broker configuration as an mqtt.Endpoint.
func brokerEndpoint(cfg *config.Config) mqtt.Endpoint {
	return mqtt.Endpoint{
		Address:   cfg.MQTT.Broker.Host,
		Port:      cfg.MQTT.Broker.Port,
		ClientID:  cfg.MQTT.Broker.ClientID,
		WebSocket: cfg.MQTT.Broker.WebSocket,
		TLS:       cfg.MQTT.Broker.TLS,
		Username:  cfg.MQTT.Auth.Username,
		Password:  cfg.MQTT.Auth.Password,
	}
}

// runRecorder keeps a nil *influxdb.Client out of the engine's interface.
func runRecorder(c *influxdb.Client) automation.RunRecorder {
	if c == nil {
		return nil
	}
	return c
}

// startBroker configures the hub's own broker session and starts it.
// Connect returns at once; the first attempt and any retries run in the
// background, so an unreachable broker does not stop the hub.
func startBroker(
	cfg *config.Config,
	core *mqtt.PersistentClient,
	engine *automation.Engine,
	bus *events.Bus,
	m *metrics.Metrics,
	influxClient *influxdb.Client,
	log *logging.Logger,
) error {
	relay := events.NewStateRelay(bus)
	relay.SetLogger(log)

	ep := brokerEndpoint(cfg)
	core.SetService(ep.Address, ep.Port, ep.ClientID, func(topic, payload string) {
		if relay.Handle(topic, payload) {
			return
		}
		if !engine.HandleMessage(topic, payload) {
			log.Debug("unhandled mqtt message", "topic", topic)
		}
	})
	core.UsingTLS(ep.TLS).UsingWebSockets(ep.WebSocket)
	if ep.HasCredentials() {
		core.WithCredentials(ep.Username, ep.Password)
	}

	qos := mqtt.QoS(cfg.MQTT.QoS) //nolint:gosec // validated to 0..2 by config
	for _, topic := range []string{relay.Topic(), mqtt.Topics{}.AllProgramRuns()} {
		if err := core.Subscribe(topic, qos); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	brokerState := func() {
		state := core.State().String()
		m.SetBrokerState(ep.ClientID, state)
		bus.Publish(events.New(events.DomainBroker, ep.ClientID, "state", state))
		if influxClient != nil {
			influxClient.WriteBrokerState(ep.ClientID, state)
		}
	}
	core.SetOnConnect(brokerState)
	core.SetOnDisconnect(func(err error) {
		log.Warn("MQTT session lost", "error", err)
		brokerState()
	})

	if err := core.Connect(); err != nil {
		return err
	}
	m.SetBrokerState(ep.ClientID, core.State().String())
	log.Info("MQTT client started",
		"broker", ep.URL(),
		"client_id", ep.ClientID,
		"reconnect_delay", cfg.GetReconnectDelay().String(),
	)
	return nil
}
