package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "arbiter.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ARBITER_PORT")
	setString(&cfg.Server.CORSOrigin, "ARBITER_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ARBITER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ARBITER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ARBITER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ARBITER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ARBITER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "ARBITER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ARBITER_LOG_SERVICE")
	setInt64(&cfg.Cache.MaxSizeMB, "ARBITER_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "ARBITER_CACHE_TTL")
	setInt(&cfg.Broker.DispatchQueueSize, "ARBITER_DISPATCH_QUEUE")
	setDuration(&cfg.Broker.SinkTimeout, "ARBITER_SINK_TIMEOUT")
	setDuration(&cfg.Scheduler.TimeoutInterval, "ARBITER_TIMEOUT_INTERVAL")
	setDuration(&cfg.Scheduler.EscalationInterval, "ARBITER_ESCALATION_INTERVAL")
	setInt(&cfg.Scheduler.EscalationPriority, "ARBITER_ESCALATION_PRIORITY")
	setDuration(&cfg.Scheduler.EscalationAfter, "ARBITER_ESCALATION_AFTER")
	setDuration(&cfg.Scheduler.EscalationWindow, "ARBITER_ESCALATION_WINDOW")
	setString(&cfg.Workflow.ConfigPath, "ARBITER_WORKFLOWS_PATH")
	setString(&cfg.Workflow.ConstitutionalMarker, "ARBITER_WORKFLOW_CONSTITUTIONAL_MARKER")
	setString(&cfg.Workflow.EmergencyMarker, "ARBITER_WORKFLOW_EMERGENCY_MARKER")
	setDuration(&cfg.Workflow.DefaultStepTimeout, "ARBITER_WORKFLOW_STEP_TIMEOUT")
	setBool(&cfg.Otel.Enabled, "ARBITER_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "ARBITER_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Broker.DispatchQueueSize < 1 {
		return errors.New("broker.dispatch_queue_size must be >= 1")
	}
	if cfg.Scheduler.TimeoutInterval <= 0 {
		return errors.New("scheduler.timeout_interval must be positive")
	}
	if cfg.Scheduler.EscalationInterval <= 0 {
		return errors.New("scheduler.escalation_interval must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
