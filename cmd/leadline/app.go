package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/leadline/internal/cache"
	"github.com/LeventeLantos/leadline/internal/client"
	"github.com/LeventeLantos/leadline/internal/config"
	"github.com/LeventeLantos/leadline/internal/dispatch"
	"github.com/LeventeLantos/leadline/internal/events"
	"github.com/LeventeLantos/leadline/internal/maintenance"
	"github.com/LeventeLantos/leadline/internal/metrics"
	"github.com/LeventeLantos/leadline/internal/repo"
	"github.com/LeventeLantos/leadline/internal/retry"
	"github.com/LeventeLantos/leadline/internal/rotation"
	"github.com/LeventeLantos/leadline/internal/service"
)

// app holds the wired components shared by serve and the one-shot commands.
type app struct {
	cfg      *config.Config
	store    *repo.Store
	queue    *dispatch.Queue
	selector *rotation.Selector
	dialer   *service.Dialer
	runner   *maintenance.Runner

	closers []func() error
}

func openStore(ctx context.Context, cfg *config.Config) (*repo.Store, error) {
	return repo.Open(ctx, repo.Dialect(cfg.Database.Driver), cfg.Database.DSN())
}

// buildApp opens the store and every optional backend the configuration
// enables. Call close on the result even when a later step fails.
func buildApp(ctx context.Context, cfg *config.Config, m metrics.Collector) (*app, error) {
	if m == nil {
		m = metrics.Nop{}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: store}
	a.closers = append(a.closers, store.Close)

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQP.Enabled() {
		p, err := events.DialAMQP(cfg.AMQP.URL)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		publisher = p
		slog.Info("event publishing enabled", "exchange", events.ExchangeName)
	}

	var attemptCache cache.AttemptCache = cache.Nop{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = a.close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Address, err)
		}
		attemptCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
		slog.Info("attempt cache enabled", "addr", cfg.Redis.Address, "ttl", cfg.Redis.TTL)
	}

	policy := retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
	}

	a.queue = dispatch.NewQueue(store.Leads, store.Attempts, dispatch.Options{
		CallbackDelay: cfg.Dispatch.CallbackDelay,
		StaleAfter:    cfg.Dispatch.StaleLockAge,
		Retry:         policy,
		Metrics:       m,
		Events:        publisher,
	})

	a.selector = rotation.NewSelector(store.Numbers, rotation.Policy{
		DailyCap:      cfg.Rotation.DailyCap,
		Cooldown:      cfg.Rotation.Cooldown,
		OwnerFallback: cfg.Rotation.OwnerFallback,
	}, rotation.WithRetry(policy), rotation.WithMetrics(m))

	// left nil so the dialer records attempts without placing them
	var carrier service.CarrierClient
	if cfg.Carrier.Enabled() {
		carrier = client.NewCarrierClient(cfg.Carrier.URL, cfg.Carrier.Timeout)
	}
	a.dialer = service.NewDialer(store.Leads, store.Attempts, a.selector, carrier).
		WithCache(attemptCache).
		WithEvents(publisher)

	a.runner = maintenance.NewRunner(store.Numbers, a.queue, m)

	return a, nil
}

// close releases backends in reverse order of opening.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
