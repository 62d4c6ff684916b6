package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/metis/pkg/cmd"
	"github.com/dukex/metis/pkg/log"
	"github.com/dukex/metis/pkg/metrics"
	"github.com/dukex/metis/pkg/otelhelper"
	"github.com/dukex/metis/pkg/taskrunner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "metis-orchestrator"

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the orchestrator: dispatch workers, failsafe sweep and API",
		Flags:   configFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			config := configFromCommand(command)

			log.Setup(config.LogLevel, config.LogFormat)

			logger := log.WithModule(serviceName).With("instance_id", config.InstanceID)

			err := config.Validate()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if warning := config.livenessWarning(); warning != "" {
				logger.WarnContext(ctx, warning)
			}

			logger.InfoContext(ctx, "Initializing Metis orchestrator")

			tracer, shutdownTracer, err := newTracer(ctx, config)
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				err := shutdownTracer(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(config.EventBus, logger, config.KafkaBrokers)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, config.DatabaseURL)
			defer func() {
				err := persistence.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			locker, closeLocker := cmd.NewLocker(ctx, logger, config.RedisURL)
			defer func() {
				err := closeLocker()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close locker", "error", err)
				}
			}()

			sink, gatherer := newMetrics(config, logger)

			orchestrator := NewOrchestrator(config, Dependencies{
				Store:    persistence,
				Bus:      eventBus,
				Locker:   locker,
				Runner:   taskrunner.NewHTTPClient(config.TaskRunner, logger),
				Tracer:   tracer,
				Metrics:  sink,
				Gatherer: gatherer,
			}, logger)

			return orchestrator.Start(ctx)
		},
	}
}

// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func newTracer(ctx context.Context, config Config) (trace.Tracer, func(context.Context) error, error) {
	if !config.TracingEnabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	provider, err := otelhelper.NewTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	return provider.Tracer(serviceName), provider.Shutdown, nil
}

// nolint:ireturn
func newMetrics(config Config, logger *slog.Logger) (metrics.Sink, prometheus.Gatherer) {
	if config.MetricsPort == 0 {
		return metrics.NewNoopSink(), nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return metrics.NewPrometheusSink(registry, logger), registry
}
