package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-cmv/internal/api"
	"github.com/nerrad567/gray-logic-cmv/internal/audit"
	"github.com/nerrad567/gray-logic-cmv/internal/bridge"
	"github.com/nerrad567/gray-logic-cmv/internal/cmv"
	"github.com/nerrad567/gray-logic-cmv/internal/entity"
	"github.com/nerrad567/gray-logic-cmv/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cmv/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cmv/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cmv/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cmv/internal/polling"
	"github.com/nerrad567/gray-logic-cmv/migrations"
)

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 5 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

// unitRuntime is everything owned for one configured device.
type unitRuntime struct {
	client *cmv.Client
	poller *polling.Coordinator
	unit   *entity.Unit
}

// runServe is the bridge lifecycle: load config, open the audit store,
// build one client/coordinator/unit per device, attach MQTT and the API,
// then poll until ctx ends.
func runServe(ctx context.Context, flags *globalFlags) error {
	log := logging.Default()
	log.Info("starting Gray Logic CMV", "version", version, "commit", commit, "build_date", date)

	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing useful to do on shutdown
	log.Info("configuration loaded", "path", flags.resolveConfigPath(), "devices", len(cfg.Devices))

	db, repo, err := openAudit(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := polling.NewMetrics(reg)

	units := buildUnits(cfg, repo, metrics, log)

	// First cycle for every unit before anything is published.
	initial, initCtx := errgroup.WithContext(ctx)
	for _, u := range units {
		u := u
		initial.Go(func() error {
			if refreshErr := u.poller.Refresh(initCtx); refreshErr != nil {
				log.Warn("initial refresh failed", "device_id", u.client.ID(), "error", refreshErr)
			}
			return nil
		})
	}
	_ = initial.Wait() //nolint:errcheck // failures are logged per device

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var br *bridge.Bridge
		mqttClient, br, err = startMQTT(ctx, cfg, units, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		// Runs before the disconnect so offline availability reaches the broker.
		defer br.Stop()
	} else {
		log.Info("MQTT disabled")
	}

	var server *api.Server
	if cfg.API.Enabled {
		server, err = startAPI(ctx, cfg, units, repo, reg, mqttClient, log)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	hcCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	err = healthCheck(hcCtx, db, mqttClient, server)
	cancel()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	pollers, pollCtx := errgroup.WithContext(ctx)
	for _, u := range units {
		u := u
		pollers.Go(func() error { return u.poller.Run(pollCtx) })
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := pollers.Wait(); err != nil {
		return fmt.Errorf("poller: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openAudit opens the database and returns the audit repository. Both are
// nil when the database is disabled.
func openAudit(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *audit.SQLiteRepository, error) {
	if !cfg.Database.Enabled {
		log.Info("database disabled, audit trail off")
		return nil, nil, nil
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())
	return db, audit.NewSQLiteRepository(db.DB), nil
}

func buildUnits(cfg *config.Config, repo *audit.SQLiteRepository, metrics *polling.Metrics, log *logging.Logger) []unitRuntime {
	// A nil *SQLiteRepository must not become a non-nil Recorder.
	var recorder entity.Recorder
	if repo != nil {
		recorder = repo
	}

	units := make([]unitRuntime, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		devLog := log.With("device_id", dc.ID())
		client := newClient(dc, devLog)
		poller := polling.New(client, polling.Options{
			Interval: cfg.GetPollInterval(),
			Logger:   devLog.With("component", "polling"),
			Metrics:  metrics,
		})
		unit := entity.NewUnit(client, poller, entity.Options{
			Recorder: recorder,
			Logger:   devLog.With("component", "entity"),
		})
		units = append(units, unitRuntime{client: client, poller: poller, unit: unit})
	}
	return units
}

func newClient(dc config.DeviceConfig, log *logging.Logger) *cmv.Client {
	return cmv.New(cmv.Config{
		Host:    dc.Host,
		Port:    dc.Port,
		Name:    dc.DisplayName(),
		Timeout: dc.GetTimeout(),
	}, cmv.WithLogger(log.With("component", "cmv")))
}

func startMQTT(ctx context.Context, cfg *config.Config, units []unitRuntime, log *logging.Logger) (*mqtt.Client, *bridge.Bridge, error) {
	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log.With("component", "mqtt")))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected", "broker", mqtt.BrokerURL(cfg.MQTT), "client_id", cfg.MQTT.Broker.ClientID)

	devices := make([]bridge.Device, 0, len(units))
	for _, u := range units {
		devices = append(devices, bridge.Device{Unit: u.unit, Poller: u.poller})
	}
	br, err := bridge.New(bridge.Options{
		MQTT:           client,
		Devices:        devices,
		BridgeID:       cfg.MQTT.Broker.ClientID,
		Version:        version,
		HealthInterval: cfg.GetHealthInterval(),
		Logger:         log.With("component", "bridge"),
	})
	if err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("creating bridge: %w", err)
	}

	// Retained state is republished after every reconnect.
	client.SetOnConnect(br.PublishAll)
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := br.Start(ctx); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("starting bridge: %w", err)
	}
	return client, br, nil
}

func startAPI(ctx context.Context, cfg *config.Config, units []unitRuntime, repo *audit.SQLiteRepository,
	reg *prometheus.Registry, mqttClient *mqtt.Client, log *logging.Logger,
) (*api.Server, error) {
	devices := make([]api.Device, 0, len(units))
	for _, u := range units {
		devices = append(devices, api.Device{Unit: u.unit, Poller: u.poller})
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log.With("component", "api"),
		Devices:  devices,
		Gatherer: reg,
		Version:  version,
	}
	if repo != nil {
		deps.Audit = repo
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return server, nil
}

// healthCheck verifies every enabled component. Nil components are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, server *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if server != nil {
		if err := server.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}
