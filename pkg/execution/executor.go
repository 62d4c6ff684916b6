package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/metis/pkg/metrics"
	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/otelhelper"
	"github.com/dukex/metis/pkg/persistence"
	"github.com/dukex/metis/pkg/plugins"
	"github.com/dukex/metis/pkg/taskrunner"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrExecutorPanic = errors.New("executor panicked")

// Executor drives one claimed execution at a time from its resume point to a terminal status.
// An Executor holds no per-execution state and is safe for concurrent use.
type Executor struct {
	store    persistence.ExecutionStore
	runner   taskrunner.Client
	claimer  *Claimer
	settings Settings
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  metrics.Sink
	now      func() time.Time
}

type Option func(*Executor)

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func WithMetrics(sink metrics.Sink) Option {
	return func(e *Executor) {
		if sink != nil {
			e.metrics = sink
		}
	}
}

func NewExecutor(
	store persistence.ExecutionStore,
	runner taskrunner.Client,
	settings Settings,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		store:    store,
		runner:   runner,
		settings: settings,
		logger:   logger.With("module", "executor", "instance_id", settings.InstanceID),
		tracer:   otelhelper.NoopTracer(),
		metrics:  metrics.NewNoopSink(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.claimer = NewClaimer(store, settings.InstanceID, settings.ClaimLease, e.metrics)

	return e
}

// Run claims the execution and drives it. It returns nil without touching the store when
// the execution cannot be claimed, so repeated calls for one id are safe.
//
// When ctx is cancelled the run stops at the next poll boundary and the execution is left
// RUNNING for the failsafe sweep to re-drive.
func (e *Executor) Run(ctx context.Context, executionID string) (*models.Execution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.run",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.InstanceIDKey, e.settings.InstanceID),
	)
	defer span.End()

	execution, err := e.claimer.Claim(ctx, executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if execution == nil {
		e.logger.DebugContext(ctx, "Execution not claimable, discarding", "execution_id", executionID)

		return nil, nil
	}

	span.SetAttributes(attribute.String(otelhelper.DatasetIDKey, execution.DatasetID))

	logger := e.logger.With("execution_id", execution.ID, "dataset_id", execution.DatasetID)
	logger.InfoContext(ctx, "Claimed execution", "resume_index", execution.ResumeIndex())

	started := e.now()

	interrupted, runErr := e.drive(ctx, execution, logger)
	if interrupted {
		err = e.suspend(execution, logger)
		logger.WarnContext(ctx, "Execution interrupted, leaving it for recovery", "error", context.Cause(ctx))

		return execution, err
	}

	err = e.finalize(ctx, execution, logger)
	if err != nil {
		runErr = errors.Join(runErr, err)
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowStatusKey, string(execution.Status)))
	e.metrics.ExecutionCompleted(string(execution.Status), e.now().Sub(started))

	if runErr != nil {
		otelhelper.SetError(span, runErr)
		logger.ErrorContext(ctx, "Execution ended with an error", "status", execution.Status, "error", runErr)

		return execution, runErr
	}

	logger.InfoContext(ctx, "Execution completed", "status", execution.Status)

	return execution, nil
}

// drive runs the plugin sequence. A panic outside plugin submission fails the plugin being
// driven so that finalization still sees a consistent execution.
func (e *Executor) drive(ctx context.Context, execution *models.Execution, logger *slog.Logger) (interrupted bool, err error) {
	current := -1

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, r)
			interrupted = false

			if current >= 0 && !execution.Plugins[current].Status.IsTerminal() {
				plugin := execution.Plugins[current]
				plugin.FinishedDate = nil
				plugin.SetStatus(models.PluginStatusFailed)
			}
		}
	}()

	for i := execution.ResumeIndex(); i < len(execution.Plugins); i++ {
		if ctx.Err() != nil {
			return true, nil
		}

		current = i
		plugin := execution.Plugins[i]
		pluginLogger := logger.With("plugin_id", plugin.ID, "plugin_type", plugin.Type)

		if i > 0 && plugin.Metadata != nil {
			plugin.Metadata.Base().SetPreviousRevision(execution.Plugins[i-1])
		}

		if plugin.ExternalTaskID == "" {
			if e.isCancelling(ctx, execution, pluginLogger) {
				pluginLogger.InfoContext(ctx, "Cancellation pending, plugin not submitted")

				return false, nil
			}

			if !e.submit(ctx, execution, i, pluginLogger) {
				return ctx.Err() != nil, nil
			}
		}

		err := e.monitor(ctx, execution, plugin, pluginLogger)
		if err != nil {
			return true, nil
		}

		if (e.isCancelling(ctx, execution, pluginLogger) && plugin.FinishedDate == nil) ||
			plugin.Status == models.PluginStatusFailed {
			return false, nil
		}
	}

	return false, nil
}

// submit starts the plugin's external task. It reports false when the sequence must stop.
func (e *Executor) submit(ctx context.Context, execution *models.Execution, index int, logger *slog.Logger) bool {
	plugin := execution.Plugins[index]

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "plugin.submit",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.PluginIDKey, plugin.ID),
		attribute.String(otelhelper.PluginTypeKey, string(plugin.Type)),
	)
	defer span.End()

	if plugin.Status == models.PluginStatusInQueue {
		started := e.now().UTC()
		if index == 0 && execution.StartedDate != nil {
			started = *execution.StartedDate
		}

		plugin.StartedDate = &started
	}

	target := plugins.Target{
		BaseURL:   e.settings.BaseURL,
		Provider:  e.settings.Provider,
		DatasetID: execution.EcloudDatasetID,
	}

	err := e.safeSubmit(ctx, plugin, target)
	if err != nil && ctx.Err() != nil {
		logger.WarnContext(ctx, "Submission interrupted", "error", err)

		return false
	}

	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to submit plugin", "error", err)

		now := e.now().UTC()
		plugin.FinishedDate = nil
		plugin.UpdatedDate = &now
		plugin.SetStatus(models.PluginStatusFailed)
		e.metrics.PluginCompleted(string(plugin.Type), string(plugin.Status))
	} else {
		span.SetAttributes(attribute.String(otelhelper.TaskIDKey, plugin.ExternalTaskID))
		logger.InfoContext(ctx, "Submitted plugin", "external_task_id", plugin.ExternalTaskID)
	}

	e.patchPlugins(ctx, execution, logger)

	return err == nil
}

func (e *Executor) safeSubmit(ctx context.Context, plugin *models.Plugin, target plugins.Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: submit: %v", ErrExecutorPanic, r)
		}
	}()

	return plugins.Submit(ctx, e.runner, plugin, target)
}

// finalize settles the execution status and writes the whole record once.
func (e *Executor) finalize(ctx context.Context, execution *models.Execution, logger *slog.Logger) error {
	var finishedDate *time.Time
	if last := execution.LastPlugin(); last != nil && last.Status == models.PluginStatusFinished {
		finishedDate = last.FinishedDate
	}

	now := e.now().UTC()
	cancelling := e.isCancelling(ctx, execution, logger)

	switch {
	case finishedDate == nil && cancelling:
		execution.SetAllRunningAndInqueuePluginsToCancelled(now)
	case finishedDate == nil:
		execution.CancelPluginsAfterFailure(now)
	default:
		finished := *finishedDate
		execution.FinishedDate = &finished
		execution.UpdatedDate = &now
		execution.Status = models.WorkflowStatusFinished
		cancelling = false
	}

	execution.Cancelling = cancelling

	err := e.store.Overwrite(context.WithoutCancel(ctx), execution)
	if err != nil {
		return fmt.Errorf("failed to persist execution %s: %w", execution.ID, err)
	}

	return nil
}

// suspend saves the plugin state of an interrupted run without touching status or cancelling.
func (e *Executor) suspend(execution *models.Execution, logger *slog.Logger) error {
	ctx := context.Background()

	err := e.store.PatchPlugins(ctx, execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to save interrupted execution", "error", err)

		return fmt.Errorf("failed to save interrupted execution %s: %w", execution.ID, err)
	}

	return nil
}

// isCancelling reads the cancelling flag from the store, where administrative requests land.
// The last known value is used when the store cannot be read.
func (e *Executor) isCancelling(ctx context.Context, execution *models.Execution, logger *slog.Logger) bool {
	cancelling, err := e.store.IsCancelling(context.WithoutCancel(ctx), execution.ID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read cancelling flag", "error", err)

		return execution.Cancelling
	}

	if cancelling {
		execution.Cancelling = true
	}

	return execution.Cancelling
}

func (e *Executor) patchPlugins(ctx context.Context, execution *models.Execution, logger *slog.Logger) {
	err := e.store.PatchPlugins(context.WithoutCancel(ctx), execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to save plugins", "error", err)
	}
}

func (e *Executor) patchMonitorInformation(ctx context.Context, execution *models.Execution, logger *slog.Logger) {
	err := e.store.PatchMonitorInformation(context.WithoutCancel(ctx), execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to save monitor information", "error", err)
	}
}
