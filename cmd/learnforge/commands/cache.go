package commands

import (
	"errors"
	"strings"

	"github.com/Sternrassler/learnforge/pkg/cache"
	"github.com/Sternrassler/learnforge/pkg/config"
	"github.com/Sternrassler/learnforge/pkg/gateway"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	invalidateNamespace string
	invalidateOperation string
	invalidateTopic     string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the shared cache",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Invalidate a cache namespace in the durable tier",
	Long: `Invalidate a cache namespace by bumping its version in the durable tier.

Replicas stop serving the namespace's durable entries immediately and
their local copies once the local TTL elapses. Target a namespace either
directly or by operation and topic:

  learnforge cache invalidate --namespace explanations:QuantumComputing
  learnforge cache invalidate --operation explain --topic "quantum computing"`,
	Args: cobra.NoArgs,
	RunE: runCacheInvalidate,
}

func init() {
	cacheInvalidateCmd.Flags().StringVar(&invalidateNamespace, "namespace", "", "namespace to invalidate")
	cacheInvalidateCmd.Flags().StringVar(&invalidateOperation, "operation", "", "operation (breakdown or explain)")
	cacheInvalidateCmd.Flags().StringVar(&invalidateTopic, "topic", "", "topic whose namespace to invalidate")
	cacheInvalidateCmd.MarkFlagsMutuallyExclusive("namespace", "operation")
	cacheInvalidateCmd.MarkFlagsMutuallyExclusive("namespace", "topic")
	cacheInvalidateCmd.MarkFlagsRequiredTogether("operation", "topic")

	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

// targetNamespace resolves the namespace named by the flags.
func targetNamespace(namespace, operation, topic string) (string, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace != "" {
		return namespace, nil
	}

	op := gateway.Operation(strings.ToLower(strings.TrimSpace(operation)))
	if op != gateway.OpBreakdown && op != gateway.OpExplain {
		return "", errors.New("--operation must be breakdown or explain")
	}
	if gateway.NamespaceToken(topic) == "" {
		return "", errors.New("--topic must contain a letter or digit")
	}
	return gateway.Namespace(op, topic), nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	namespace, err := targetNamespace(invalidateNamespace, invalidateOperation, invalidateTopic)
	if err != nil {
		return p.Error("Nothing to invalidate", err,
			"Pass --namespace, or --operation together with --topic")
	}

	cfg, err := loadConfig(p)
	if err != nil {
		return err
	}
	if cfg.Durable.Backend == config.BackendNone {
		return p.Error("No durable tier configured", nil,
			"Each replica keeps its own cache; use POST /v1/cache/invalidate on every replica")
	}

	logger := zerolog.Nop()
	d, err := openDurable(cmd.Context(), cfg.Durable, logger)
	if err != nil {
		return p.Error("Cannot open the durable tier", err)
	}
	cm, err := cache.NewManager(cfg.Cache, d.store, logger)
	if err != nil {
		closeDurable(d)
		return p.Error("Cannot create the cache", err)
	}
	defer cm.Close()

	if err := cm.Invalidate(cmd.Context(), namespace); err != nil {
		return p.ErrorWithContext("Invalidation failed", err,
			map[string]string{"namespace": namespace, "backend": cfg.Durable.Backend},
			"Check that the durable tier is reachable and retry")
	}

	p.Success("Invalidated %s", namespace)
	return nil
}
