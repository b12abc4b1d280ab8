// School Docs Core - role resolution and dashboard routing service
//
// This is the main entry point for the School Docs Core application. It
// signs users in, resolves their roles (admin, teacher, plain) from the
// admin allow-list and stored role records, keeps every open session in
// step with live role changes over MQTT, and routes each session to a
// single dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	_ "github.com/nerrad567/schooldocs-core/migrations"

	"github.com/nerrad567/schooldocs-core/internal/api"
	"github.com/nerrad567/schooldocs-core/internal/audit"
	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/config"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/database"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/logging"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/schooldocs-core/internal/rolestore"
	"github.com/nerrad567/schooldocs-core/internal/roles"
	"github.com/nerrad567/schooldocs-core/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// defaultEnvFile is loaded, if present, before configuration.
const defaultEnvFile = ".env"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting School Docs Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadEnvFile(); err != nil {
		return err
	}

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

	topics := mqtt.NewTopics(cfg.Roles.TopicPrefix)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic_prefix", topics.Prefix(),
	)

	// InfluxDB is optional; sessions work without metrics.
	var recorder session.Recorder
	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	influxClient, err := influxdb.Connect(cfg.InfluxDB, cfg.School.ID)
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
		recorder = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	policy := roles.NewPolicy(allowList(cfg.Roles))
	log.Info("role policy loaded", "allow_listed", policy.AllowList().Len())

	accounts := identity.NewAccountRepository(db.DB)
	provider := identity.NewProvider(accounts)
	if cfg.Roles.SeedAccounts {
		if _, seedErr := identity.SeedAccounts(ctx, accounts, identity.DefaultHashParams,
			policy.AllowList().Emails(), log.Logger); seedErr != nil {
			return fmt.Errorf("seeding accounts: %w", seedErr)
		}
	}

	roleStore := rolestore.NewRealtimeStore(
		rolestore.NewSQLiteStore(db.DB),
		mqttClient,
		topics,
		mqttClient.QoS(),
		log.Logger,
	)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	sessions := session.NewManager(session.ManagerDeps{
		Authenticator: provider,
		Store:         roleStore,
		Policy:        policy,
		Logger:        log.Logger,
		Recorder:      recorder,
		Audit:         auditRepo,
		TTL:           cfg.Security.JWT.GetAccessTokenTTL(),
	})
	defer func() {
		log.Info("closing sessions", "open", sessions.Count())
		if closeErr := sessions.CloseAll(context.Background()); closeErr != nil {
			log.Error("error closing sessions", "error", closeErr)
		}
	}()

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Provider: provider,
		Sessions: sessions,
		Roles:    roleStore,
		Policy:   policy,
		Audit:    auditRepo,
		Checks:   checks,
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

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, sessions, InfluxDB (if enabled), MQTT, database.
	log.Info("School Docs Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SCHOOLDOCS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SCHOOLDOCS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadEnvFile loads SCHOOLDOCS_ENV_FILE (default .env) into the process
// environment. A missing default file is not an error; variables already
// set are not overridden.
func loadEnvFile() error {
	path := os.Getenv("SCHOOLDOCS_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// allowList merges configured administrators over the built-in list.
func allowList(cfg config.RolesConfig) *roles.AllowList {
	entries := make([]roles.Entry, 0, len(cfg.AdminAllowList))
	for _, e := range cfg.AdminAllowList {
		entries = append(entries, roles.Entry{Email: e.Email, Title: e.Title})
	}
	return roles.DefaultAllowList().With(entries...)
}

// healthCheck verifies every infrastructure dependency, returning the first
// failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		check, ok := checks[name]
		if !ok {
			continue
		}
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
