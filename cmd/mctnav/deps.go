package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/medcat-trainer-client/pkg/cache"
	"github.com/Sternrassler/medcat-trainer-client/pkg/client"
	"github.com/Sternrassler/medcat-trainer-client/pkg/enrich"
	"github.com/Sternrassler/medcat-trainer-client/pkg/logging"
	"github.com/Sternrassler/medcat-trainer-client/pkg/navigator"
	"github.com/Sternrassler/medcat-trainer-client/pkg/ratelimit"
)

// deps holds the long-lived objects shared by every command.
type deps struct {
	client   *client.Client
	enricher *enrich.Enricher
	redis    *redis.Client
}

// newDeps wires the trainer client with its cache and throttle. An
// unreachable Redis degrades to the in-memory cache.
func newDeps(ctx context.Context) (*deps, error) {
	logger := logging.NewLogger("mctnav")
	d := &deps{}

	cc := client.DefaultConfig(cfg.Server.URL)
	cc.Token = cfg.Server.Token
	cc.Timeout = cfg.Server.Timeout
	cc.MaxAttempts = cfg.Server.MaxAttempts

	if cfg.Cache.Enabled {
		if cfg.Cache.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := rdb.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				logger.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis unavailable, using memory cache only")
				_ = rdb.Close()
			} else {
				logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Connected to Redis")
				d.redis = rdb
			}
		}
		opts := cache.DefaultOptions()
		opts.DefaultTTL = cfg.Cache.MemoryTTL
		cc.Cache = cache.NewManager(d.redis, opts)
	}

	if cfg.RateLimit.RPS > 0 {
		cc.Limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logging.NewLogger("ratelimit"))
	}

	c, err := client.New(cc)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("creating trainer client: %w", err)
	}
	d.client = c
	d.enricher = enrich.New(c, enrich.Config{MaxConcurrency: cfg.Enrich.MaxConcurrency})
	return d, nil
}

// navigator builds a Navigator starting from route.
func (d *deps) navigator(route navigator.Route) *navigator.Navigator {
	return navigator.New(d.client, d.enricher, navigator.Config{
		DocPageBudget:  cfg.Navigation.DocPageBudget,
		EnrichOnSelect: cfg.Navigation.EnrichOnSelect,
	}, navigator.WithRouter(navigator.NewMemoryRouter(route)))
}

func (d *deps) Close() {
	if d.client != nil {
		_ = d.client.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}
