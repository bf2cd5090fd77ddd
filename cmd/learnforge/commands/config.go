package commands

import (
	"fmt"
	"sort"

	"github.com/Sternrassler/learnforge/pkg/admission"
	"github.com/Sternrassler/learnforge/pkg/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)

		cfg, err := loadConfig(p)
		if err != nil {
			return err
		}

		p.Success("%s is valid", configPath)
		printConfig(cmd, cfg)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func printConfig(cmd *cobra.Command, cfg *config.Config) {
	p := newPrinter(cmd)

	p.Section("\nServer")
	p.Field("listen", cfg.Listen)
	p.Field("admin endpoints", enabled(cfg.AdminToken != ""))
	p.Field("log level", cfg.Log.Level)

	p.Section("\nCache")
	p.Field("durable backend", cfg.Durable.Backend)
	switch cfg.Durable.Backend {
	case config.BackendRedis:
		p.Field("redis", cfg.Durable.Redis.Addr)
	case config.BackendSQLite:
		p.Field("sqlite", cfg.Durable.SQLite.Path)
	}
	p.Field("local capacity", cfg.Cache.LocalCapacity)
	p.Field("breakdown ttl", cfg.TTL.Breakdown)
	p.Field("explain ttl", cfg.TTL.Explain)

	p.Section("\nFan-out")
	p.Field("workers", cfg.Fanout.Workers)
	p.Field("max attempts", cfg.Fanout.MaxAttempts)
	p.Field("call timeout", cfg.Fanout.CallTimeout)
	p.Field("request timeout", cfg.Fanout.Timeout)

	p.Section("\nProvider")
	p.Field("url", cfg.Provider.URL)
	p.Field("model", cfg.Provider.Model)
	p.Field("upstream tracking", enabled(cfg.Upstream.Enabled))

	p.Section("\nAdmission tiers")
	names := make([]string, 0, len(cfg.Admission.Tiers))
	for name := range cfg.Admission.Tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		label := name
		if name == cfg.Admission.AnonymousTier {
			label += " (anonymous)"
		}
		p.Field(label, tierSummary(cfg.Admission.Tiers[name]))
	}
	p.Field("global", limit(cfg.Admission.Global.RequestsPerMinute, "req/min")+", "+
		limit(cfg.Admission.Global.TokensPerMinute, "tok/min"))
	p.Field("identities", len(cfg.Identities))
}

func tierSummary(t admission.Tier) string {
	return limit(t.RequestsPerMinute, "req/min") + ", " +
		limit(t.RequestsPerDay, "req/day") + ", " +
		limit(t.TokensPerMinute, "tok/min") + ", " +
		limit(t.TokensPerDay, "tok/day")
}

func limit(n int64, unit string) string {
	if n <= 0 {
		return "unlimited " + unit
	}
	return fmt.Sprintf("%d %s", n, unit)
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
