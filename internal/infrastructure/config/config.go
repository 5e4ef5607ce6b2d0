package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment" validate:"oneof=development staging production"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Assessment AssessmentConfig `koanf:"assessment"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	MetricsPort     int           `koanf:"metrics_port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL        string        `koanf:"url"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	CatalogTTL time.Duration `koanf:"catalog_ttl"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate" validate:"min=0,max=1"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
}

// AssessmentConfig tunes the assessment orchestrator.
type AssessmentConfig struct {
	DefaultMode string `koanf:"default_mode" validate:"oneof=automated manual hybrid"`
	// GeneratePoam / GenerateEvidence / UpdateSystemStatus seed the default
	// run options; callers may override per run.
	GeneratePoam       bool          `koanf:"generate_poam"`
	GenerateEvidence   bool          `koanf:"generate_evidence"`
	UpdateSystemStatus bool          `koanf:"update_system_status"`
	CleanupAge         time.Duration `koanf:"cleanup_age"`
	LaunchRate         float64       `koanf:"launch_rate" validate:"min=0"`
	LaunchBurst        int           `koanf:"launch_burst" validate:"min=0"`
}

func Load() (*Config, error) {
	return LoadFromFile("configs/config.yaml")
}

// LoadFromFile layers defaults, an optional YAML file, and CAE_-prefixed
// environment variables, in that order of precedence (lowest first).
func LoadFromFile(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:         0,
			CatalogTTL: 15 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
		Assessment: AssessmentConfig{
			DefaultMode:        "automated",
			GeneratePoam:       true,
			GenerateEvidence:   false,
			UpdateSystemStatus: true,
			CleanupAge:         24 * time.Hour,
			LaunchRate:         5,
			LaunchBurst:        10,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// The config file is optional.
	_ = k.Load(file.Provider(path), yaml.Parser())

	// Double underscore separates nesting levels so single underscores
	// survive inside key names (CAE_SERVER__PORT -> server.port).
	if err := k.Load(env.Provider("CAE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CAE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
