package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/metis/pkg/eventbus"
	"github.com/dukex/metis/pkg/execution"
	"github.com/dukex/metis/pkg/failsafe"
	"github.com/dukex/metis/pkg/lock"
	"github.com/dukex/metis/pkg/metrics"
	"github.com/dukex/metis/pkg/persistence"
	"github.com/dukex/metis/pkg/queue"
	"github.com/dukex/metis/pkg/services"
	"github.com/dukex/metis/pkg/taskrunner"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the external systems an Orchestrator is wired to.
type Dependencies struct {
	Store  persistence.ExecutionStore
	Bus    eventbus.EventBus
	Locker lock.Locker
	Runner taskrunner.Client
	Tracer trace.Tracer
	// Metrics and Gatherer are set together; a nil Gatherer disables the metrics server.
	Metrics  metrics.Sink
	Gatherer prometheus.Gatherer
}

// Orchestrator runs the dispatch pool, the failsafe sweeper and the admin API of one instance.
type Orchestrator struct {
	config   Config
	logger   *slog.Logger
	gatherer prometheus.Gatherer

	pool    *queue.Pool
	sweeper *failsafe.Sweeper
	service *services.Execution
	app     *fiber.App
}

func NewOrchestrator(config Config, deps Dependencies, logger *slog.Logger) *Orchestrator {
	sink := deps.Metrics
	if sink == nil {
		sink = metrics.NewNoopSink()
	}

	publisher := queue.NewPublisher(deps.Bus)

	executor := execution.NewExecutor(
		deps.Store,
		deps.Runner,
		config.Executor,
		logger,
		execution.WithTracer(deps.Tracer),
		execution.WithMetrics(sink),
	)

	service := services.NewExecution(deps.Store, deps.Locker, publisher, logger)

	return &Orchestrator{
		config:   config,
		logger:   logger,
		gatherer: deps.Gatherer,
		pool:     queue.NewPool(config.InstanceID, executor, deps.Bus, config.Queue, logger, sink),
		sweeper:  failsafe.NewSweeper(deps.Store, deps.Locker, publisher, config.Failsafe, logger, sink),
		service:  service,
		app:      NewAPI(logger, service).App(),
	}
}

// Start runs every component until ctx is done, SIGINT or SIGTERM arrives, or one of them fails.
// Running executions are suspended and left for the failsafe sweep of any instance.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	err := o.pool.Start(gctx)
	if err != nil {
		return err
	}

	err = o.sweeper.Start(gctx)
	if err != nil {
		return err
	}

	g.Go(func() error {
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := o.sweeper.Stop(stopCtx)
		o.pool.Wait()

		return err
	})

	o.serveAPI(gctx, g)
	o.serveMetrics(gctx, g)

	o.logger.InfoContext(ctx, "Metis orchestrator started",
		"workers", o.config.Queue.Workers,
		"port", o.config.Port,
	)

	err = g.Wait()

	o.logger.InfoContext(ctx, "Metis orchestrator stopped")

	return err
}

func (o *Orchestrator) serveAPI(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return o.app.Listen(":"+strconv.Itoa(o.config.Port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return o.app.ShutdownWithContext(shutdownCtx)
	})
}

func (o *Orchestrator) serveMetrics(ctx context.Context, g *errgroup.Group) {
	if o.gatherer == nil || o.config.MetricsPort == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(o.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		o.logger.InfoContext(ctx, "Metrics server listening", "port", o.config.MetricsPort)

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})
}
