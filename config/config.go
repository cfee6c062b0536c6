package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fleetops/core/schedule"
	"github.com/kilianp07/fleetops/infra/logger"
	"github.com/kilianp07/fleetops/infra/metrics"
	"github.com/kilianp07/fleetops/infra/notify"
)

// Config is the full service configuration.
type Config struct {
	Store    StoreConfig             `json:"store"`
	Queue    QueueConfig             `json:"queue"`
	HTTP     HTTPConfig              `json:"http"`
	Executor schedule.ExecutorConfig `json:"executor"`
	Metrics  MetricsConfig           `json:"metrics"`
	Logging  logger.Config           `json:"logging"`
	Notify   notify.Config           `json:"notify"`
}

// Load reads the configuration file at path (yaml or json) with optional
// FLEET_-prefixed environment overrides, e.g. FLEET_HTTP__ADDRESS.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("FLEET_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "fleet_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies sane defaults to every section.
func (c *Config) SetDefaults() {
	c.Store.SetDefaults()
	c.Queue.SetDefaults()
	c.HTTP.SetDefaults()
	c.Executor.SetDefaults()
	c.Metrics.SetDefaults()
	c.Logging.SetDefaults()
	c.Notify.SetDefaults()
}

// Validate checks mandatory fields across sections.
func (c Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if c.Notify.Enabled && c.Notify.Broker == "" {
		return fmt.Errorf("notify.broker is required when notify is enabled")
	}
	return nil
}

// StoreConfig locates the entity database.
type StoreConfig struct {
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "fleet.db"
	}
}

// QueueConfig locates the action queue database.
type QueueConfig struct {
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *QueueConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "queue.db"
	}
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Address string `json:"address"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
}

// Validate checks mandatory fields.
func (c HTTPConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("http.address is required")
	}
	return nil
}

// MetricsConfig selects the export sinks.
type MetricsConfig struct {
	// PromEnabled exposes a Prometheus endpoint on PromAddress.
	PromEnabled bool   `json:"prom_enabled"`
	PromAddress string `json:"prom_address"`
	// InfluxEnabled additionally mirrors events to InfluxDB.
	InfluxEnabled bool                 `json:"influx_enabled"`
	Influx        metrics.InfluxConfig `json:"influx"`
}

// SetDefaults applies sane defaults.
func (c *MetricsConfig) SetDefaults() {
	if c.PromAddress == "" {
		c.PromAddress = ":9090"
	}
}

// Validate checks mandatory fields.
func (c MetricsConfig) Validate() error {
	if c.InfluxEnabled && c.Influx.URL == "" {
		return fmt.Errorf("metrics.influx.url is required when influx is enabled")
	}
	return nil
}
