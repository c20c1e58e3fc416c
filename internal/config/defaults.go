package config

import "github.com/leapstack-labs/thelook/pkg/core"

// Default configuration values.
const (
	DefaultEnv                    = "dev"
	DefaultStateFile              = ".thelook/state.db"
	DefaultParallelism            = 4
	DefaultOrderLookbackDays      = 3
	DefaultMemoryAlertThresholdMB = 1000
	DefaultRunsLimit              = 20

	DefaultPostgresPort   = 5432
	DefaultPostgresSchema = "public"
	DefaultDuckDBSchema   = "main"
)

// ConfigFileNames are the config file names looked up in a project root,
// in order of preference.
var ConfigFileNames = []string{"thelook.yaml", "thelook.yml"}

// DefaultSchemaForType returns the default schema of a target type.
func DefaultSchemaForType(dbType string) string {
	if dbType == "postgres" {
		return DefaultPostgresSchema
	}
	return DefaultDuckDBSchema
}

// ApplyTargetDefaults fills unset target fields based on the target type.
func ApplyTargetDefaults(t *core.TargetConfig) {
	if t == nil {
		return
	}
	if t.Schema == "" {
		t.Schema = DefaultSchemaForType(t.Type)
	}
	if t.Type == "postgres" && t.Port == 0 {
		t.Port = DefaultPostgresPort
	}
}

// ApplyDefaults fills unset top-level fields. Zero lookback is a valid
// value and is left untouched.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	if c.Environment == "" {
		c.Environment = DefaultEnv
	}
	if c.StatePath == "" {
		c.StatePath = DefaultStateFile
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.Source == nil {
		c.Source = &core.TargetConfig{Type: "duckdb", Database: ":memory:"}
	}
	ApplyTargetDefaults(c.Source)
	ApplyTargetDefaults(c.Destination)
}
