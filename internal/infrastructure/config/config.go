package config

import (
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "SCHOOLDOCS_"

// minJWTSecretLength is the shortest accepted HMAC secret.
const minJWTSecretLength = 32

// defaultAccessTokenTTL applies when security.jwt.access_token_ttl is unset.
const defaultAccessTokenTTL = 60 * time.Minute

// Config is the root configuration structure for School Docs Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	School    SchoolConfig    `yaml:"school"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Roles     RolesConfig     `yaml:"roles"`
}

// SchoolConfig identifies the deployment.
type SchoolConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker carries live role record updates between core instances.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for session metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// RateLimitConfig limits requests to the sign-in and sign-up endpoints per client IP.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// RolesConfig contains role resolution settings.
type RolesConfig struct {
	// AdminAllowList adds entries to the built-in admin allow-list.
	// Entries here override the built-in title for the same email.
	AdminAllowList []AdminEntry `yaml:"admin_allow_list"`

	// TopicPrefix is the MQTT topic root for live role record updates.
	TopicPrefix string `yaml:"topic_prefix"`

	// SeedAccounts creates accounts for allow-listed emails on first boot.
	SeedAccounts bool `yaml:"seed_accounts"`
}

// AdminEntry is one allow-listed administrator.
type AdminEntry struct {
	Email string `yaml:"email"`
	Title string `yaml:"title"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SCHOOLDOCS_SECTION_KEY
// For example: SCHOOLDOCS_DATABASE_PATH, SCHOOLDOCS_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		School: SchoolConfig{
			ID:   "school-001",
			Name: "School Docs",
		},
		Database: DatabaseConfig{
			Path:        "./data/schooldocs.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "schooldocs-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             10,
			},
		},
		Roles: RolesConfig{
			TopicPrefix: "schooldocs",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	strOverrides := map[string]*string{
		"DATABASE_PATH":      &cfg.Database.Path,
		"MQTT_HOST":          &cfg.MQTT.Broker.Host,
		"MQTT_USERNAME":      &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":      &cfg.MQTT.Auth.Password,
		"API_HOST":           &cfg.API.Host,
		"INFLUXDB_URL":       &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":     &cfg.InfluxDB.Token,
		"LOG_LEVEL":          &cfg.Logging.Level,
		"JWT_SECRET":         &cfg.Security.JWT.Secret,
		"ROLES_TOPIC_PREFIX": &cfg.Roles.TopicPrefix,
	}
	for key, dst := range strOverrides {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	intOverrides := map[string]*int{
		"MQTT_PORT": &cfg.MQTT.Broker.Port,
		"API_PORT":  &cfg.API.Port,
	}
	for key, dst := range intOverrides {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	if v := os.Getenv(envPrefix + "INFLUXDB_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sINFLUXDB_ENABLED: %w", envPrefix, err)
		}
		cfg.InfluxDB.Enabled = enabled
	}

	return nil
}

// Validate checks the configuration for errors and security issues.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.School.ID == "" {
		errs = append(errs, "school.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set SCHOOLDOCS_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Roles.TopicPrefix == "" || strings.ContainsAny(c.Roles.TopicPrefix, "+#") {
		errs = append(errs, "roles.topic_prefix must be non-empty and free of MQTT wildcards")
	}

	seen := make(map[string]bool, len(c.Roles.AdminAllowList))
	for i, entry := range c.Roles.AdminAllowList {
		email := strings.ToLower(strings.TrimSpace(entry.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			errs = append(errs, fmt.Sprintf("roles.admin_allow_list[%d].email %q is not a valid address", i, entry.Email))
			continue
		}
		if seen[email] {
			errs = append(errs, fmt.Sprintf("roles.admin_allow_list[%d].email %q is listed twice", i, entry.Email))
		}
		seen[email] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetAccessTokenTTL returns the access token lifetime. Sessions opened at
// sign-in expire with their token.
func (c JWTConfig) GetAccessTokenTTL() time.Duration {
	if c.AccessTokenTTL <= 0 {
		return defaultAccessTokenTTL
	}
	return time.Duration(c.AccessTokenTTL) * time.Minute
}
