package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-orchestrator/internal/api"
	"github.com/nerrad567/gray-logic-orchestrator/internal/audit"
	"github.com/nerrad567/gray-logic-orchestrator/internal/dispatch"
	"github.com/nerrad567/gray-logic-orchestrator/internal/history"
	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-orchestrator/internal/lifecycle"
	"github.com/nerrad567/gray-logic-orchestrator/internal/port"
	"github.com/nerrad567/gray-logic-orchestrator/internal/provision"
	"github.com/nerrad567/gray-logic-orchestrator/internal/registry"
	"github.com/nerrad567/gray-logic-orchestrator/internal/telemetry"
	"github.com/nerrad567/gray-logic-orchestrator/migrations"
)

// pruneInterval is how often expired history is deleted.
const pruneInterval = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run an orchestrator node",
		Long: `Run an orchestrator node.

The node connects to its configured infrastructure (broker, database,
InfluxDB), starts the command API, launches the root devices listed under
"devices" and then serves launch requests from other nodes until it receives
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return run(cmd.Context(), path)
		},
	}
}

// run is the node's lifetime, separated from the command for testability.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals
//   - configPath: Node configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting orchestrator", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, cfg.Node.Host, version)
	log.Info("configuration loaded", "path", configPath, "host", cfg.Node.Host)

	// ─── Infrastructure ─────────────────────────────────────────

	var db *database.DB
	var historyRepo history.Repository
	var auditRepo audit.Repository
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		historyRepo = history.NewSQLiteRepository(db.DB, nil)
		auditRepo = audit.NewSQLiteRepository(db.DB, nil)
		log.Info("database ready", "path", cfg.Database.Path)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// ─── Orchestration ──────────────────────────────────────────

	transport, err := buildTransport(cfg, mqttClient, log)
	if err != nil {
		return err
	}
	store, err := buildStore(cfg, mqttClient)
	if err != nil {
		return err
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	sink, queues := buildSinks(cfg, log, hub, mqttClient, influxClient, historyRepo)

	devLog := log.Component("lifecycle")
	reg := registry.New(registry.Options{
		Transport: transport,
		Store:     store,
		Sink:      sink,
		Dispatch: dispatch.Config{
			RetryPeriod:  cfg.Dispatcher.RetryPeriodDuration(),
			RetryTimeout: cfg.Dispatcher.RetryTimeoutDuration(),
		},
		Backoff:           cfg.Tree.BackoffDuration(),
		TransitionTimeout: cfg.Lifecycle.TimeoutDuration(),
		FetchTimeout:      cfg.Provision.FetchTimeoutDuration(),
		Logger:            log.Component("registry"),
		DeviceLogger:      func(name string) lifecycle.Logger { return devLog.Device(name) },
	})

	opts := provision.DistributorOptions{
		Host:   cfg.Node.Host,
		Local:  reg,
		Logger: log.Component("provision"),
	}
	if mqttClient != nil {
		opts.Remote = provision.NewMQTTLauncher(mqttClient, byte(cfg.MQTT.QoS))
	}
	reg.SetDistributor(provision.NewDistributor(store, opts))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	reg.Start(gctx)
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	for _, q := range queues {
		g.Go(func() error { return q.Run(context.WithoutCancel(gctx)) })
	}
	g.Go(func() error {
		err := reg.Wait()
		// Devices are gone; flush what they published.
		for _, q := range queues {
			q.Close()
		}
		return err
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if mqttClient != nil {
		if err := provision.ServeLaunches(gctx, mqttClient, byte(cfg.MQTT.QoS), cfg.Node.Host, reg, log.Component("launch")); err != nil {
			log.Warn("not serving launch requests", "error", err)
		}
	}

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Registry: reg,
			History:  historyRepo,
			Audit:    auditRepo,
			DB:       sqlDB(db),
			Hub:      hub,
			Version:  version,
		})
		if err != nil {
			return abort(fmt.Errorf("creating API server: %w", err))
		}
		if err := server.Start(gctx); err != nil {
			return abort(fmt.Errorf("starting API server: %w", err))
		}
		g.Go(func() error {
			<-gctx.Done()
			return server.Close()
		})
	}

	if historyRepo != nil && cfg.Telemetry.RetentionDuration() > 0 {
		g.Go(func() error {
			pruneHistory(gctx, historyRepo, cfg.Telemetry.RetentionDuration(), log)
			return nil
		})
	}

	launchRoots(gctx, reg, cfg.Devices, log)

	log.Info("initialisation complete", "devices", reg.Count())
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("orchestrator stopped")
	return nil
}

// buildTransport selects the port transport named by transport.kind.
func buildTransport(cfg *config.Config, client *mqtt.Client, log *logging.Logger) (port.Transport, error) {
	switch cfg.Transport.Kind {
	case "mqtt":
		if client == nil {
			return nil, errors.New("mqtt transport requires an MQTT connection")
		}
		return port.NewMQTTTransport(client, port.MQTTOptions{
			QoS:         byte(cfg.MQTT.QoS),
			DialTimeout: cfg.Transport.DialTimeoutDuration(),
			Logger:      log.Component("transport"),
		}), nil
	default:
		return port.NewHub(), nil
	}
}

// buildStore selects the configuration store named by provision.store.
func buildStore(cfg *config.Config, client *mqtt.Client) (provision.Store, error) {
	switch cfg.Provision.Store {
	case "mqtt":
		if client == nil {
			return nil, errors.New("mqtt store requires an MQTT connection")
		}
		s := provision.NewMQTT(client, byte(cfg.MQTT.QoS))
		if err := s.Start(); err != nil {
			return nil, fmt.Errorf("subscribing to configuration blobs: %w", err)
		}
		return s, nil
	case "memory":
		return provision.NewMemory(), nil
	default:
		return provision.NewFile(cfg.Provision.Dir), nil
	}
}

// buildSinks assembles the telemetry fan-out. Sinks that block on I/O sit
// behind an Async queue; the queues are returned so the caller can run and
// close them.
func buildSinks(
	cfg *config.Config,
	log *logging.Logger,
	hub *api.Hub,
	client *mqtt.Client,
	influxClient *influxdb.Client,
	repo history.Repository,
) (lifecycle.Sink, []*telemetry.Async) {
	telLog := log.Component("telemetry")
	sinks := telemetry.Multi{telemetry.NewHubSink(hub, nil)}
	var queues []*telemetry.Async

	if cfg.Telemetry.Log {
		sinks = append(sinks, telemetry.NewLogSink(telLog))
	}
	if influxClient != nil {
		sinks = append(sinks, telemetry.NewInfluxSink(influxClient, nil))
	}
	if cfg.Telemetry.MQTT && client != nil {
		q := telemetry.NewAsync("mqtt", telemetry.NewMQTTWriter(client, byte(cfg.MQTT.QoS)), 0, nil, telLog)
		queues = append(queues, q)
		sinks = append(sinks, q)
	}
	if cfg.Telemetry.History && repo != nil {
		q := telemetry.NewAsync("history", telemetry.NewHistoryWriter(repo, cfg.Node.Host), 0, nil, telLog)
		queues = append(queues, q)
		sinks = append(sinks, q)
	}
	return sinks, queues
}

// launchRoots starts the root devices listed in the node configuration.
// A device that fails to launch is logged; the others still start.
func launchRoots(ctx context.Context, reg *registry.Registry, devices []config.DeviceConfig, log *logging.Logger) {
	for _, d := range devices {
		ref := d.Ref
		if ref == "" {
			ref = d.Name
		}
		err := reg.Launch(ctx, provision.LaunchRequest{Name: d.Name, Ref: ref})
		if err != nil {
			log.Error("root device not launched", "device", d.Name, "ref", ref, "error", err)
			continue
		}
		log.Info("root device launched", "device", d.Name, "ref", ref)
	}
}

// pruneHistory deletes history older than retention once at start and then
// every pruneInterval until ctx is done.
func pruneHistory(ctx context.Context, repo history.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("history prune failed", "error", err)
		case n > 0:
			log.Info("history pruned", "deleted", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sqlDB unwraps the pool for statistics, tolerating a disabled database.
func sqlDB(db *database.DB) *sql.DB {
	if db == nil {
		return nil
	}
	return db.DB
}
