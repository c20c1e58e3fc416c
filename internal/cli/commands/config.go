package commands

import (
	"fmt"

	intconfig "github.com/leapstack-labs/thelook/internal/config"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "***"

// NewConfigCommand creates the config command.
func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Long: `Print the configuration after defaults, the config file, THELOOK_*
environment variables and flags have been applied. Passwords are redacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := getConfig(cmd)
			if err != nil {
				return err
			}

			cfg := *loaded.Config
			cfg.Source = redact(cfg.Source)
			cfg.Destination = redact(cfg.Destination)
			if len(cfg.Environments) > 0 {
				envs := make(map[string]intconfig.EnvConfig, len(cfg.Environments))
				for name, e := range cfg.Environments {
					e.Source = redact(e.Source)
					e.Destination = redact(e.Destination)
					envs[name] = e
				}
				cfg.Environments = envs
			}

			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}

			out := cmd.OutOrStdout()
			if loaded.File != "" {
				_, _ = fmt.Fprintf(out, "# %s\n", loaded.File)
			}
			_, _ = out.Write(data)
			return nil
		},
	}
}

func redact(t *core.TargetConfig) *core.TargetConfig {
	if t == nil || t.Password == "" {
		return t
	}
	c := *t
	c.Password = redacted
	return &c
}
