package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/leapstack-labs/thelook/pkg/adapter"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/loader"
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.OrderLookbackDays < 0 {
		errs = append(errs, fmt.Errorf("order_lookback_days must be >= 0, got %d", c.OrderLookbackDays))
	}
	if c.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be >= 1, got %d", c.Parallelism))
	}
	if err := ValidateTarget(adapter.RoleSource, c.Source); err != nil {
		errs = append(errs, err)
	}
	if c.Destination != nil {
		if err := ValidateTarget(adapter.RoleDestination, c.Destination); err != nil {
			errs = append(errs, err)
		}
	}

	for name, tbl := range c.Tables {
		if !core.IsEntity(name) {
			errs = append(errs, fmt.Errorf("tables.%s: unknown entity (known: %s)", name, strings.Join(core.Entities, ", ")))
		}
		switch tbl.Mode {
		case "", loader.ModeUpsert, loader.ModeAppend:
		default:
			errs = append(errs, fmt.Errorf("tables.%s.mode: must be %q or %q, got %q", name, loader.ModeUpsert, loader.ModeAppend, tbl.Mode))
		}
	}

	return errors.Join(errs...)
}

// ValidateTarget checks that a target names an adapter registered for role.
func ValidateTarget(role adapter.Role, t *core.TargetConfig) error {
	field := role.String()
	if t == nil {
		return fmt.Errorf("%s is required", field)
	}
	if t.Type == "" {
		return fmt.Errorf("%s.type is required", field)
	}
	if err := adapter.Supports(strings.ToLower(t.Type), role); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnvVars replaces ${VAR} with the value of VAR. Unset variables are
// left as is.
func ExpandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

// ExpandTargetEnvVars expands ${VAR} in the credential fields of t.
func ExpandTargetEnvVars(t *core.TargetConfig) {
	if t == nil {
		return
	}
	t.Host = ExpandEnvVars(t.Host)
	t.User = ExpandEnvVars(t.User)
	t.Password = ExpandEnvVars(t.Password)
	t.Database = ExpandEnvVars(t.Database)
}

// MergeTarget returns base with the non-zero fields of override applied.
// Options and params are merged key by key.
func MergeTarget(base, override *core.TargetConfig) *core.TargetConfig {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}

	merged := *base
	merged.Options = make(map[string]string, len(base.Options)+len(override.Options))
	merged.Params = make(map[string]any, len(base.Params)+len(override.Params))
	for k, v := range base.Options {
		merged.Options[k] = v
	}
	for k, v := range base.Params {
		merged.Params[k] = v
	}

	if override.Type != "" {
		merged.Type = override.Type
	}
	if override.Database != "" {
		merged.Database = override.Database
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	if override.User != "" {
		merged.User = override.User
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	if override.Schema != "" {
		merged.Schema = override.Schema
	}
	for k, v := range override.Options {
		merged.Options[k] = v
	}
	for k, v := range override.Params {
		merged.Params[k] = v
	}
	return &merged
}
