// Package config loads the pipeline configuration for the CLI.
//
// Values are layered with koanf, lowest to highest precedence: built-in
// defaults, thelook.yaml, THELOOK_* environment variables, command flags.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	intconfig "github.com/leapstack-labs/thelook/internal/config"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/spf13/pflag"
)

// Config is the shared pipeline configuration.
type Config = intconfig.Config

// EnvPrefix is the prefix of environment variables read into the config.
const EnvPrefix = "THELOOK_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

type (
	loggerKey struct{}
	configKey struct{}
)

// Loaded is a configuration plus the file it was read from.
type Loaded struct {
	*Config
	// File is the config file used, empty when none was found.
	File string
}

func configIn(dir string) string {
	for _, name := range intconfig.ConfigFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FindProjectRoot searches upward from startDir for a directory holding a
// config file. It returns "" if none is found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configIn(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func resolvePath(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) || strings.Contains(path, "://") {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Load resolves the configuration. cfgFile may be empty, in which case the
// config file is searched upward from the working directory. envName selects an
// entry of environments whose targets are merged over the base targets;
// empty uses the configured environment.
func Load(cfgFile, envName string, flags *pflag.FlagSet) (*Loaded, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"environment":                          intconfig.DefaultEnv,
		"state_path":                           intconfig.DefaultStateFile,
		"parallelism":                          intconfig.DefaultParallelism,
		"order_lookback_days":                  intconfig.DefaultOrderLookbackDays,
		"monitoring.memory_alert_threshold_mb": intconfig.DefaultMemoryAlertThresholdMB,
		"verbose":                              false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	root := ""
	if cfgFile == "" {
		if cwd, err := os.Getwd(); err == nil {
			if root = FindProjectRoot(cwd); root != "" {
				cfgFile = configIn(root)
			} else {
				root = cwd
			}
		}
	} else if abs, err := filepath.Abs(cfgFile); err == nil {
		cfgFile = abs
		root = filepath.Dir(abs)
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// THELOOK_ORDER_LOOKBACK_DAYS -> order_lookback_days,
	// THELOOK_DESTINATION__PASSWORD -> destination.password
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			switch key {
			case "state":
				key = "state_path"
			case "lookback":
				key = "order_lookback_days"
			case "env":
				key = "environment"
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if envName == "" {
		envName = cfg.Environment
	} else {
		cfg.Environment = envName
	}
	if override, ok := cfg.Environments[envName]; ok {
		cfg.Source = intconfig.MergeTarget(cfg.Source, override.Source)
		cfg.Destination = intconfig.MergeTarget(cfg.Destination, override.Destination)
	}

	for _, t := range []*core.TargetConfig{cfg.Source, cfg.Destination} {
		if t != nil {
			t.Type = strings.ToLower(t.Type)
			intconfig.ExpandTargetEnvVars(t)
		}
	}
	cfg.ApplyDefaults()
	cfg.ProjectRoot = root

	if cfg.Source.Type == "duckdb" {
		cfg.Source.Database = resolvePath(cfg.Source.Database, root)
	}
	cfg.StatePath = resolvePath(cfg.StatePath, root)
	for name, tbl := range cfg.Tables {
		tbl.Path = resolvePath(tbl.Path, root)
		cfg.Tables[name] = tbl
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Loaded{Config: &cfg, File: cfgFile}, nil
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// WithConfig stores the loaded configuration in ctx.
func WithConfig(ctx context.Context, cfg *Loaded) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the configuration from the command context, or nil.
func GetConfig(ctx context.Context) *Loaded {
	if c, ok := ctx.Value(configKey{}).(*Loaded); ok {
		return c
	}
	return nil
}
