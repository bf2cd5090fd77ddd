package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/learnforge/pkg/admission"
	"github.com/Sternrassler/learnforge/pkg/cache"
	"github.com/Sternrassler/learnforge/pkg/config"
	"github.com/Sternrassler/learnforge/pkg/fanout"
	"github.com/Sternrassler/learnforge/pkg/gateway"
	"github.com/Sternrassler/learnforge/pkg/logging"
	"github.com/Sternrassler/learnforge/pkg/provider"
	"github.com/Sternrassler/learnforge/pkg/quality"
	"github.com/Sternrassler/learnforge/pkg/ratelimit"
	"github.com/Sternrassler/learnforge/pkg/server"
	"github.com/Sternrassler/learnforge/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// startupPingTimeout bounds the durable tier reachability check at startup.
const startupPingTimeout = 2 * time.Second

// durable is an opened durable tier. Exactly one of redis and sqlite is
// set, or neither for a local-only cache.
type durable struct {
	store  cache.DurableStore
	redis  *redis.Client
	sqlite *cache.SQLiteStore
}

// openDurable opens the configured durable tier. An unreachable Redis is
// not fatal: the cache bypasses it until it answers again.
func openDurable(ctx context.Context, cfg config.DurableConfig, logger zerolog.Logger) (*durable, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})

		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).
				Msg("Redis unreachable at startup, serving from the local tier until it recovers")
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		}
		return &durable{store: cache.NewRedisStore(client), redis: client}, nil

	case config.BackendSQLite:
		store, err := cache.NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLite.Path).Msg("Opened SQLite cache")
		return &durable{store: store, sqlite: store}, nil

	case config.BackendNone:
		logger.Warn().Msg("No durable tier configured, cache is process-local")
		return &durable{}, nil
	}
	return nil, fmt.Errorf("unknown durable backend %q", cfg.Backend)
}

// app is a fully wired learnforge process.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	durable *durable
	cache   *cache.Manager
	service *gateway.Service
	server  *server.Server
}

// newApp wires every component from cfg. The caller must Close the app.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	d, err := openDurable(ctx, cfg.Durable, component(logger, "cache"))
	if err != nil {
		return nil, err
	}

	cm, err := cache.NewManager(cfg.Cache, d.store, component(logger, "cache"))
	if err != nil {
		closeDurable(d)
		return nil, fmt.Errorf("create cache: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, durable: d, cache: cm}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	adm, err := admission.New(cfg.Admission, component(a.logger, "admission"))
	if err != nil {
		return fmt.Errorf("create admission controller: %w", err)
	}
	exec, err := fanout.New(cfg.Fanout, component(a.logger, "fanout"))
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	gate, err := quality.New(cfg.Quality)
	if err != nil {
		return fmt.Errorf("create quality gate: %w", err)
	}
	resolver, err := gateway.NewStaticResolver(cfg.Identities)
	if err != nil {
		return fmt.Errorf("load identities: %w", err)
	}

	var opts []provider.Option
	if cfg.Upstream.Enabled {
		// A nil *redis.Client must not become a non-nil interface.
		var shared redis.UniversalClient
		if a.durable.redis != nil {
			shared = a.durable.redis
		}
		opts = append(opts, provider.WithLimitTracker(
			ratelimit.NewTracker(cfg.Upstream, shared, component(a.logger, "upstream")),
		))
	}
	prov, err := provider.NewHTTP(cfg.Provider, component(a.logger, "provider"), opts...)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	svc, err := gateway.New(gateway.Deps{
		Admission: adm,
		Cache:     a.cache,
		Executor:  exec,
		Gate:      gate,
		Telemetry: telemetry.NewRecorder(cfg.Telemetry),
		Provider:  prov,
		Resolver:  resolver,
		Logger:    component(a.logger, "gateway"),
		TTLs:      cfg.TTL,
	})
	if err != nil {
		return err
	}

	a.service = svc
	a.server = server.New(server.Options{
		Listen:          cfg.Listen,
		AdminToken:      cfg.AdminToken,
		ShutdownTimeout: cfg.ShutdownTimeout,
		TrustedProxies:  cfg.TrustedProxies,
	}, svc, component(a.logger, "http"))

	a.logger.Info().
		Str("durable_backend", cfg.Durable.Backend).
		Int("identities", resolver.Len()).
		Int("tiers", len(cfg.Admission.Tiers)).
		Int("workers", exec.Workers()).
		Bool("upstream_tracking", cfg.Upstream.Enabled).
		Msg("learnforge wired")
	return nil
}

// sweep deletes expired SQLite rows every interval until ctx is done. It
// returns immediately for other backends.
func (a *app) sweep(ctx context.Context) {
	store := a.durable.sqlite
	interval := a.cfg.Durable.SQLite.SweepInterval
	if store == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Warn().Err(err).Msg("Cache sweep failed")
				}
				continue
			}
			a.logger.Debug().Int64("deleted", n).Msg("Cache sweep completed")
		}
	}
}

// Close releases the durable tier.
func (a *app) Close() error {
	return a.cache.Close()
}

func closeDurable(d *durable) {
	if d.store != nil {
		d.store.Close()
	}
}

func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// setupLogging configures the global logger from cfg.
func setupLogging(cfg *config.Config) zerolog.Logger {
	return logging.Setup(cfg.Log)
}
