package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"diskmesh/internal/handler"
	"diskmesh/internal/hub"
	"diskmesh/internal/logging"
	"diskmesh/internal/scheduler"
	"diskmesh/internal/watcher"
)

var (
	serveAddr   string
	serveLayout string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP API",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address")
	serveCmd.Flags().StringVar(&serveLayout, "layout", "", "world layout to load at startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveLayout != "" {
		cfg.World.Layout = serveLayout
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	if cfgPath != "" {
		log.Info(ctx, "config loaded", logging.String("path", cfgPath), logging.String("summary", cfg.Summary()))
	}
	if err := a.loadWorld(ctx); err != nil {
		return err
	}

	events := hub.New(log.With(logging.String("component", "hub")))
	defer events.Attach(a.notifier)()

	sched := scheduler.New(log.With(logging.String("component", "scheduler")))
	if err := sched.Every("reconcile", cfg.Schedule.ReconcileInterval.Duration(), func(ctx context.Context) error {
		_, err := a.reconciler.ReconcileAll(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := sched.Every("refresh", cfg.Schedule.RefreshInterval.Duration(), func(ctx context.Context) error {
		_, err := a.registry.FlushDeferred(ctx)
		return err
	}); err != nil {
		return err
	}

	opts := []handler.Option{
		handler.WithLogger(log.With(logging.String("component", "http"))),
		handler.WithEvents(events),
	}
	if cfg.Server.Metrics {
		opts = append(opts, handler.WithMetrics(a.metrics.Handler()))
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.New(a.engine, a.reconciler, a.world, opts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		log.Info(gctx, "http server listening", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfgPath != "" {
		w := watcher.New(cfgPath, watcher.ReloadLimits(cfgPath, a.limits, log), log)
		g.Go(func() error {
			if err := w.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn(gctx, "config watcher stopped", logging.Err(err))
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info(context.Background(), "shut down")
	return err
}
