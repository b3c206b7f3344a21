// Package gateway assembles the core: store, router handle, security
// gate, transform engine, pipeline, listener supervisor, and the admin
// surface, and runs the reload loop that keeps them consistent.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YASSERRMD/naseejmesh/internal/config"
	"github.com/YASSERRMD/naseejmesh/internal/listener"
	"github.com/YASSERRMD/naseejmesh/internal/logging"
	"github.com/YASSERRMD/naseejmesh/internal/metrics"
	"github.com/YASSERRMD/naseejmesh/internal/pipeline"
	"github.com/YASSERRMD/naseejmesh/internal/router"
	"github.com/YASSERRMD/naseejmesh/internal/security"
	"github.com/YASSERRMD/naseejmesh/internal/store"
	"github.com/YASSERRMD/naseejmesh/internal/supervisor"
	"github.com/YASSERRMD/naseejmesh/internal/tracing"
	"github.com/YASSERRMD/naseejmesh/internal/transform"
)

// Gateway owns the core subsystems.
type Gateway struct {
	cfg        *config.Config
	store      *store.Store
	routes     *router.Handle
	gate       *security.Gate
	engine     *transform.Engine
	pipeline   *pipeline.Pipeline
	supervisor *supervisor.Supervisor
	metrics    *metrics.Metrics
	tracer     *tracing.Tracer

	adminServer *http.Server
}

// New wires the gateway. The store must be reachable; a config-store
// failure at startup is fatal.
func New(cfg *config.Config) (*Gateway, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("gateway: open store: %w", err)
	}

	gate, err := security.NewGate(cfg.Security)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("gateway: build security gate: %w", err)
	}

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("gateway: init tracing: %w", err)
	}

	g := &Gateway{
		cfg:     cfg,
		store:   st,
		routes:  router.NewHandle(),
		gate:    gate,
		engine:  transform.NewEngine(transform.DefaultLimits),
		metrics: metrics.New(),
		tracer:  tracer,
	}

	g.pipeline = &pipeline.Pipeline{
		Routes: g.routes,
		Gate:   gate,
		Engine: g.engine,
		Transforms: func(id string) (string, error) {
			return st.GetTransform(context.Background(), id)
		},
		Dispatcher:  pipeline.NewDispatcher(),
		Metrics:     g.metrics,
		MaxBodySize: cfg.MaxBodySize,
	}

	g.supervisor = supervisor.New(listener.NewFactory(listener.Handlers{
		HTTP: g.pipeline.HTTPHandler(),
		SOAP: g.pipeline.SOAPHandler(),
		MQTT: g.pipeline.MQTTHandler(),
		GRPC: g.pipeline.GRPCHandler(),
	}))

	g.adminServer = &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: g.pipeline.AdminMux(),
	}

	return g, nil
}

// Pipeline exposes the request pipeline, mainly for tests.
func (g *Gateway) Pipeline() *pipeline.Pipeline {
	return g.pipeline
}

// Store exposes the config store adapter.
func (g *Gateway) Store() *store.Store {
	return g.store
}

// Run starts the gateway and blocks until ctx is cancelled. Exit is
// clean once listeners have drained and the admin server is down.
func (g *Gateway) Run(ctx context.Context) error {
	if g.cfg.DevMode {
		logging.Info("dev mode: seeding default routes")
		if err := g.store.SeedDefaults(ctx); err != nil {
			return fmt.Errorf("gateway: seed defaults: %w", err)
		}
	}

	// Initial snapshot before accepting traffic.
	if err := g.reload(ctx); err != nil {
		return fmt.Errorf("gateway: initial reload: %w", err)
	}
	if err := g.reconcile(ctx); err != nil {
		return fmt.Errorf("gateway: initial reconcile: %w", err)
	}

	if g.gate.Limiter() != nil {
		idleEvict := g.cfg.BucketIdleEvict
		if idleEvict <= 0 {
			idleEvict = 10 * time.Minute
		}
		stop := make(chan struct{})
		defer close(stop)
		g.gate.Limiter().StartCleanup(time.Minute, idleEvict, stop)
	}

	go g.countListenerEvents()

	grp, runCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logging.Info("admin surface listening", zap.String("addr", g.cfg.AdminAddr))
		if err := g.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	grp.Go(func() error {
		g.watchLoop(runCtx)
		return nil
	})

	grp.Go(func() error {
		<-runCtx.Done()
		g.shutdown()
		return nil
	})

	return grp.Wait()
}

// watchLoop reacts to change notifications with a debounced full
// reload and listener reconcile. Watcher hiccups are reported and the
// loop continues.
func (g *Gateway) watchLoop(ctx context.Context) {
	events := g.store.Watch(ctx)
	debounce := g.cfg.ReloadDebounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
		}

		// Absorb bursts before reloading.
		timer := time.NewTimer(debounce)
	drain:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-events:
			case <-timer.C:
				break drain
			}
		}

		if err := g.reload(ctx); err != nil {
			logging.Error("reload failed", zap.Error(err))
			continue
		}
		if err := g.reconcile(ctx); err != nil {
			logging.Error("listener reconcile failed", zap.Error(err))
		}
	}
}

// reload rebuilds and publishes the router table from a full snapshot.
func (g *Gateway) reload(ctx context.Context) error {
	if err := g.store.Reload(ctx, g.routes); err != nil {
		return err
	}
	stats := g.routes.Load().Stats()
	g.metrics.ReloadsTotal.Inc()
	g.metrics.RoutesLoaded.Set(float64(stats.Routes))
	logging.Info("router table published",
		zap.Int("routes", stats.Routes),
		zap.Int("upstreams", stats.UniqueUpstreams),
	)
	return nil
}

// reconcile applies the current listener documents to the supervisor.
func (g *Gateway) reconcile(ctx context.Context) error {
	specs, err := g.store.ListListeners(ctx)
	if err != nil {
		return err
	}
	g.supervisor.Reconcile(specs)
	g.metrics.ListenersRunning.Set(float64(g.supervisor.Count()))
	return nil
}

func (g *Gateway) countListenerEvents() {
	for ev := range g.supervisor.Subscribe() {
		g.metrics.ListenerEvents.WithLabelValues(string(ev.Type)).Inc()
	}
}

// shutdown stops listeners, the admin server, tracing and the store.
func (g *Gateway) shutdown() {
	logging.Info("shutting down")

	g.supervisor.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g.adminServer.Shutdown(ctx)
	g.tracer.Shutdown(ctx)
	g.store.Close()
}
