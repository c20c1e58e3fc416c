// Package config holds the pipeline configuration types shared by the CLI
// and the engine. Loading from files, environment and flags lives in
// internal/cli/config.
package config

import (
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/loader"
)

// Config is the resolved pipeline configuration.
type Config struct {
	Environment string `koanf:"environment" yaml:"environment"`
	Verbose     bool   `koanf:"verbose" yaml:"verbose"`
	StatePath   string `koanf:"state_path" yaml:"state_path"`
	Parallelism int    `koanf:"parallelism" yaml:"parallelism"`

	// OrderLookbackDays bounds the orders and order_items extraction window.
	OrderLookbackDays int `koanf:"order_lookback_days" yaml:"order_lookback_days"`

	// Source is the query engine raw tables are registered in.
	Source *core.TargetConfig `koanf:"source" yaml:"source,omitempty"`
	// Destination is where primary tables are written.
	Destination *core.TargetConfig `koanf:"destination" yaml:"destination,omitempty"`

	Tables map[string]TableConfig `koanf:"tables" yaml:"tables,omitempty"`

	// Upsert maps table names to options overriding SaveArgs.
	Upsert map[string]loader.Options `koanf:"upsert" yaml:"upsert,omitempty"`
	// SaveArgs are the options applied to every table.
	SaveArgs loader.Options `koanf:"save_args" yaml:"save_args,omitempty"`

	Monitoring MonitoringConfig `koanf:"monitoring" yaml:"monitoring"`

	Environments map[string]EnvConfig `koanf:"environments" yaml:"environments,omitempty"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-" yaml:"-"`
}

// TableConfig configures one entity.
type TableConfig struct {
	// Path is a file or URL registered as the raw table. Empty reads an
	// existing relation named raw_<entity> from the source.
	Path string `koanf:"path" yaml:"path,omitempty"`
	// Columns is the ordered projection applied before any transform.
	Columns []string `koanf:"columns" yaml:"columns,omitempty"`
	// Mode is upsert (default) or append.
	Mode string `koanf:"mode" yaml:"mode,omitempty"`
}

// MonitoringConfig tunes per-entity resource logging.
type MonitoringConfig struct {
	// MemoryAlertThresholdMB flags entities whose memory grew by more
	// than this many megabytes. Zero means DefaultMemoryAlertThresholdMB.
	MemoryAlertThresholdMB int `koanf:"memory_alert_threshold_mb" yaml:"memory_alert_threshold_mb"`
}

// Threshold returns the effective alert threshold in megabytes.
func (m MonitoringConfig) Threshold() int {
	if m.MemoryAlertThresholdMB <= 0 {
		return DefaultMemoryAlertThresholdMB
	}
	return m.MemoryAlertThresholdMB
}

// EnvConfig holds environment-specific overrides.
type EnvConfig struct {
	Source      *core.TargetConfig `koanf:"source" yaml:"source,omitempty"`
	Destination *core.TargetConfig `koanf:"destination" yaml:"destination,omitempty"`
}

// Table returns the configuration of entity, or the zero value.
func (c *Config) Table(entity string) TableConfig {
	if c.Tables == nil {
		return TableConfig{}
	}
	return c.Tables[entity]
}
