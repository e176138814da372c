// relaysync - local-first bridge for cloud-relayed relays and actuators
//
// relaysync keeps one canonical state per device while commands go out
// over the LAN when the device answers there and through the vendor's
// cloud relay otherwise. The host talks to it over an authenticated HTTP
// API and a WebSocket state feed.
//
// Usage:
//
//	relaysync                       run the bridge
//	relaysync token -scope control  print a host API token
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/relaysync/internal/api"
	"github.com/nerrad567/relaysync/internal/device"
	"github.com/nerrad567/relaysync/internal/infrastructure/config"
	"github.com/nerrad567/relaysync/internal/infrastructure/database"
	"github.com/nerrad567/relaysync/internal/infrastructure/influxdb"
	"github.com/nerrad567/relaysync/internal/infrastructure/logging"
	"github.com/nerrad567/relaysync/internal/infrastructure/mqtt"
	"github.com/nerrad567/relaysync/internal/orchestrator"
	"github.com/nerrad567/relaysync/internal/transport"
	"github.com/nerrad567/relaysync/internal/transport/cloud"
	"github.com/nerrad567/relaysync/internal/transport/lan"
	"github.com/nerrad567/relaysync/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// initialResyncConcurrency bounds the startup state requests in flight.
const initialResyncConcurrency = 4

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	// Cancels on Ctrl+C and SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application lifecycle, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring is linear but long
	log := logging.Default()
	log.Info("starting relaysync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
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

	devices, err := device.FromConfigs(cfg.Devices)
	if err != nil {
		return fmt.Errorf("loading device inventory: %w", err)
	}

	// Database
	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// MQTT broker carrying the cloud relay
	topics := mqtt.Topics{Prefix: cfg.Cloud.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics.BridgeStatus(cfg.Bridge.ID))
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
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB delivery telemetry (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
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
	}

	// Transports
	cloudTransport, err := cloud.New(cloud.Options{
		Client:  mqttClient,
		Topics:  topics,
		QoS:     byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		Timeout: cfg.GetCloudTimeout(),
		Logger:  log.Component("cloud"),
	})
	if err != nil {
		return fmt.Errorf("creating cloud transport: %w", err)
	}

	routerOpts := transport.Options{
		Cloud:        cloudTransport,
		LocalTimeout: cfg.GetLocalTimeout(),
		CloudTimeout: cfg.GetCloudTimeout(),
		Logger:       log.Component("transport"),
	}
	var lanClient *lan.Client
	if cfg.LAN.Enabled {
		lanClient = lan.NewClient(lan.ClientOptions{
			Timeout:     cfg.GetLocalTimeout(),
			DefaultPort: cfg.LAN.Port,
		})
		routerOpts.Local = lanClient
	}
	if influxClient != nil {
		routerOpts.Recorder = influxClient
	}

	router, err := transport.NewRouter(routerOpts)
	if err != nil {
		return fmt.Errorf("creating transport router: %w", err)
	}
	defer router.Close()
	if lanClient != nil {
		lanClient.Attach(router)
	}

	// Orchestrator
	orch, err := orchestrator.New(orchestrator.Options{
		Router:      router,
		Store:       device.NewSQLiteRepository(db.DB),
		RevertDelay: cfg.GetRevertDelay(),
		EchoWindow:  cfg.GetEchoWindow(),
		Logger:      log.Component("orchestrator"),
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	defer orch.Close()
	router.SetHandler(orch.Dispatch)

	if influxClient != nil {
		orch.OnStateChange(func(st orchestrator.CanonicalState) {
			if st.Position != nil && st.Target != nil {
				influxClient.RecordPosition(st.DeviceID, float64(*st.Position), *st.Target, string(st.Mode))
			}
		})
	}

	for _, d := range devices {
		if addErr := orch.AddDevice(ctx, d); addErr != nil {
			return fmt.Errorf("adding device %s: %w", d.ID, addErr)
		}
	}
	log.Info("device inventory loaded", "devices", orch.Count())

	// Host API
	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}
	apiDeps := api.Deps{
		Config:          cfg.API,
		WS:              cfg.WebSocket,
		Security:        cfg.Security,
		Logger:          log.Component("api"),
		Devices:         orch,
		Transport:       router,
		Checks:          checks,
		DefaultDebounce: cfg.GetDefaultDebounce(),
		Version:         version,
	}
	if cfg.LAN.Enabled {
		apiDeps.LAN = lan.NewHandler(router)
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	defer cloudTransport.Stop()
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Bring up the cloud subscriptions and the API listener together.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if startErr := cloudTransport.Start(gctx, router); startErr != nil {
			return fmt.Errorf("starting cloud transport: %w", startErr)
		}
		return nil
	})
	g.Go(func() error {
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		return nil
	})
	if waitErr := g.Wait(); waitErr != nil {
		return waitErr
	}
	log.Info("API server listening",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
	)

	if cfg.LAN.Enabled {
		monitor := lan.NewMonitor(lan.MonitorOptions{
			Prober:      lanClient,
			Presence:    router,
			Interval:    cfg.GetHeartbeatInterval(),
			AbsentAfter: cfg.LAN.AbsentAfter,
			Logger:      log.Component("lan"),
		})
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	initialResync(ctx, router, log)

	if err := healthCheck(ctx, checks); err != nil {
		log.Warn("startup health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// initialResync asks every device for its full state so the canonical
// view is populated before the first host query. Failures are logged;
// the device stays at its persisted position until it reports.
func initialResync(ctx context.Context, router *transport.Router, log *logging.Logger) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(initialResyncConcurrency)
	for _, id := range router.Devices() {
		id := id
		g.Go(func() error {
			if err := router.Resync(gctx, id); err != nil {
				log.Warn("initial resync failed", "device_id", id, "error", err)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
}

func getConfigPath() string {
	if path := os.Getenv("RELAYSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 5 * time.Second

func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var errs []error
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
