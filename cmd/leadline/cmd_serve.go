package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/leadline/internal/api"
	"github.com/LeventeLantos/leadline/internal/config"
	"github.com/LeventeLantos/leadline/internal/maintenance"
	"github.com/LeventeLantos/leadline/internal/metrics"
	"github.com/LeventeLantos/leadline/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the lock sweeper and maintenance schedule",
		Long: `Start the HTTP API. The stale-lock sweeper runs every
DISPATCH_SWEEP_INTERVAL_SECONDS and, when MAINTENANCE_ENABLED is set, the
daily counter reset fires on MAINTENANCE_RESET_CRON (UTC).

The process exits cleanly on SIGINT or SIGTERM after in-flight requests
finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAll()
			if err != nil {
				return err
			}
			config.InitLogger(cfg)

			return serve(cmd.Context(), cfg, prometheus.DefaultRegisterer, promhttp.Handler())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, metricsHandler http.Handler) error {
	prom := metrics.NewPrometheus(reg, "leadline")

	a, err := buildApp(ctx, cfg, prom)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			slog.Error("close backends", "error", err)
		}
	}()

	sweeper, err := scheduler.New(maintenance.JobSweepLocks, cfg.Dispatch.SweepInterval, func(ctx context.Context) error {
		_, err := a.runner.SweepLocks(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("lock sweeper: %w", err)
	}

	var daily *maintenance.Cron
	if cfg.Maintenance.Enabled {
		daily, err = maintenance.NewCron(a.runner, cfg.Maintenance.ResetSchedule)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	h := api.NewHandler(api.Deps{
		Store:       a.store,
		Queue:       a.queue,
		Selector:    a.selector,
		Dialer:      a.dialer,
		Maintenance: a.runner,
		Sweeper:     sweeper,
		SchedCtx:    gctx,
	})

	srv := &http.Server{
		Addr: cfg.Server.Address,
		Handler: api.Router(h,
			api.WithMetrics(metricsHandler),
			api.WithMiddleware(prom.Middleware),
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweeper.Start(gctx)
	if daily != nil {
		daily.Start()
	}

	g.Go(func() error {
		slog.Info("http server listening",
			"addr", srv.Addr,
			"driver", cfg.Database.Driver,
			"carrier", cfg.Carrier.Enabled(),
			"redis", cfg.Redis.Enabled,
			"amqp", cfg.AMQP.Enabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)

		sweeper.Wait()
		if daily != nil {
			select {
			case <-daily.Stop().Done():
			case <-shutdownCtx.Done():
				slog.Warn("daily maintenance still running at shutdown")
			}
		}
		return err
	})

	return g.Wait()
}
