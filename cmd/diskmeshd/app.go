package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"diskmesh/internal/config"
	"diskmesh/internal/domain"
	"diskmesh/internal/loader"
	"diskmesh/internal/logging"
	"diskmesh/internal/observability"
	"diskmesh/internal/repository"
	"diskmesh/internal/repository/sqlite"
	"diskmesh/internal/service"
	"diskmesh/internal/spatial"
	"diskmesh/internal/topology"
)

// app holds the wired engine.
type app struct {
	cfg        *config.Config
	log        logging.Logger
	store      *sqlite.Store
	world      *spatial.Grid
	limits     *topology.Limits
	detector   *topology.Detector
	notifier   *service.Notifier
	registry   *service.Registry
	reconciler *service.Reconciler
	engine     *service.Engine
	metrics    *observability.Collector
}

func newApp(cfg *config.Config, log logging.Logger) (*app, error) {
	store, err := sqlite.New(cfg.Database.Path, sqlite.WithLogger(log))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewCollector(reg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		world:   spatial.NewGrid(),
		limits:  topology.NewLimits(cfg.Topology.MaxCables, cfg.Topology.MaxScanNodes),
		metrics: metrics,
	}

	topoOpts := []topology.Option{
		topology.WithLimits(a.limits),
		topology.WithLogger(log.With(logging.String("component", "topology"))),
		topology.WithMetrics(metrics),
	}
	svcOpts := []service.Option{
		service.WithLogger(log.With(logging.String("component", "service"))),
		service.WithMetrics(metrics),
		service.WithValidityCache(cfg.Cache.Size, cfg.Cache.TTL.Duration()),
		service.WithBayCapacity(cfg.Storage.BayCapacity),
	}

	a.notifier = service.NewNotifier(svcOpts...)
	a.registry = service.NewRegistry(store, a.notifier, svcOpts...)
	a.detector = topology.NewDetector(a.world, topoOpts...)
	guard := topology.NewGuard(a.world, a.registry, topoOpts...)
	a.reconciler = service.NewReconciler(store, a.registry, a.world, a.notifier, svcOpts...)
	a.engine = service.NewEngine(a.world, store, a.detector, guard, a.registry, a.reconciler, a.notifier, svcOpts...)
	return a, nil
}

// loadWorld fills the grid from the configured layout and validates the
// persisted networks against it. Core nodes are written directly and
// rescanned; peripherals without a persisted row are placed through the
// engine so they get one. Without a layout the persisted state is left
// untouched.
func (a *app) loadWorld(ctx context.Context) error {
	if a.cfg.World.Layout == "" {
		return nil
	}
	layout, err := loader.LoadFile(a.cfg.World.Layout)
	if err != nil {
		return err
	}

	core := &domain.Layout{Version: layout.Version}
	var fresh []domain.Node
	for _, n := range layout.Nodes {
		if !n.Kind.IsPeripheral() {
			core.Nodes = append(core.Nodes, n)
			continue
		}
		_, err := a.store.PeripheralAt(ctx, n.Coordinate)
		switch {
		case err == nil:
			core.Nodes = append(core.Nodes, n)
		case errors.Is(err, repository.ErrNotFound):
			fresh = append(fresh, n)
		default:
			return err
		}
	}
	if err := loader.Apply(a.world, core); err != nil {
		return err
	}

	res, err := a.engine.Rescan(ctx, a.world.Find(domain.KindServer))
	if err != nil {
		return fmt.Errorf("rescan: %w", err)
	}
	conflicts, err := loader.Replay(ctx, a.engine, &domain.Layout{Nodes: fresh}, a.cfg.World.Owner)
	if err != nil {
		return err
	}
	for _, c := range conflicts {
		a.log.Warn(ctx, "layout placement refused", logging.String("at", c.At.Key()), logging.String("reason", string(c.Reason)))
	}
	if _, err := a.reconciler.ReconcileAll(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	a.log.Info(ctx, "world loaded",
		logging.String("layout", a.cfg.World.Layout),
		logging.Int("nodes", a.world.Len()),
		logging.Int("networks", len(res.Registered)))
	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}
