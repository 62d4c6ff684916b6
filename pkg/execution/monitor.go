package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/otelhelper"
	"github.com/dukex/metis/pkg/plugins"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxMonitorFailures = 3

	simulatedIterations          = 2
	simulatedRecordsPerIteration = 100
)

// progressMonitor follows one plugin's external task until it ends.
type progressMonitor struct {
	executor  *Executor
	execution *models.Execution
	plugin    *models.Plugin
	logger    *slog.Logger

	failures          int
	previousProcessed int
	checkpoint        time.Time
	cancelSent        bool
	lastState         models.TaskState
}

// monitor blocks until the plugin's task reaches a terminal phase, monitoring gives up, or
// ctx is done. Only the last case returns an error, leaving the plugin as last observed.
func (e *Executor) monitor(ctx context.Context, execution *models.Execution, plugin *models.Plugin, logger *slog.Logger) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "plugin.monitor",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.PluginIDKey, plugin.ID),
		attribute.String(otelhelper.PluginTypeKey, string(plugin.Type)),
		attribute.String(otelhelper.TaskIDKey, plugin.ExternalTaskID),
	)
	defer span.End()

	var err error
	if plugin.IsMocked() {
		err = e.simulate(ctx, execution, plugin, logger)
	} else {
		m := &progressMonitor{
			executor:   e,
			execution:  execution,
			plugin:     plugin,
			logger:     logger,
			checkpoint: e.now(),
		}
		err = m.run(ctx)
	}

	if err != nil {
		return err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowStatusKey, string(plugin.Status)))
	e.metrics.PluginCompleted(string(plugin.Type), string(plugin.Status))

	return nil
}

func (m *progressMonitor) run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Monitoring plugin", "external_task_id", m.plugin.ExternalTaskID)

	for !m.lastState.IsTerminal() && m.failures < maxMonitorFailures {
		err := sleep(ctx, m.executor.settings.PollInterval)
		if err != nil {
			return err
		}

		err = m.poll(ctx)
		if err == nil {
			m.failures = 0

			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.failures++
		m.executor.metrics.MonitorFailure()
		m.logger.WarnContext(ctx, "Task runner call failed",
			"external_task_id", m.plugin.ExternalTaskID,
			"failures", m.failures,
			"error", err,
		)
	}

	m.finish(ctx)

	return nil
}

// poll sends a pending cancel, then reads the task progress into the plugin.
func (m *progressMonitor) poll(ctx context.Context) error {
	if !m.cancelSent && m.shouldCancel(ctx) {
		err := plugins.Cancel(ctx, m.executor.runner, m.plugin)
		if err != nil {
			return err
		}

		m.cancelSent = true
		m.logger.InfoContext(ctx, "Cancel sent to task runner", "external_task_id", m.plugin.ExternalTaskID)
	}

	progress, err := plugins.Monitor(ctx, m.executor.runner, m.plugin)
	if err != nil {
		return err
	}

	m.lastState = progress.Status

	if progress.Status == models.TaskStateRemovingFromStorage {
		m.plugin.SetStatus(models.PluginStatusCleaning)
	} else {
		m.plugin.SetStatus(models.PluginStatusRunning)
	}

	now := m.executor.now().UTC()
	m.plugin.UpdatedDate = &now
	m.execution.UpdatedDate = &now
	m.executor.patchMonitorInformation(ctx, m.execution, m.logger)

	return nil
}

func (m *progressMonitor) shouldCancel(ctx context.Context) bool {
	if m.plugin.Status != models.PluginStatusCleaning && m.executor.isCancelling(ctx, m.execution, m.logger) {
		return true
	}

	return m.stalled(ctx)
}

// stalled reports a task whose processed count has not moved for the no-progress window,
// and records the cancellation it triggers in the store.
func (m *progressMonitor) stalled(ctx context.Context) bool {
	now := m.executor.now()
	processed := m.plugin.Progress.ProcessedRecords

	if m.plugin.Status == models.PluginStatusCleaning || processed != m.previousProcessed {
		m.checkpoint = now
		m.previousProcessed = processed

		return false
	}

	if now.Sub(m.checkpoint) < m.executor.settings.NoProgressWindow {
		return false
	}

	m.logger.WarnContext(ctx, "No progress within window, cancelling",
		"external_task_id", m.plugin.ExternalTaskID,
		"processed_records", processed,
		"window", m.executor.settings.NoProgressWindow,
	)
	m.executor.metrics.StallDetected()

	err := m.executor.store.SetCancellingState(context.WithoutCancel(ctx), m.execution.ID)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to set cancelling state", "error", err)
	}

	m.execution.Cancelling = true

	return true
}

// finish settles the plugin status once monitoring stops.
// A task dropped while cancelling keeps its last polled status for the executor to wind down.
func (m *progressMonitor) finish(ctx context.Context) {
	switch {
	case m.lastState == models.TaskStateProcessed:
		if m.plugin.SetStatus(models.PluginStatusFinished) {
			now := m.executor.now().UTC()
			m.plugin.FinishedDate = &now
		}
	case m.lastState == models.TaskStateDropped && !m.executor.isCancelling(ctx, m.execution, m.logger),
		m.failures >= maxMonitorFailures:
		m.plugin.SetStatus(models.PluginStatusFailed)
	}

	m.executor.patchPlugins(ctx, m.execution, m.logger)
	m.logger.InfoContext(ctx, "Plugin monitoring ended",
		"status", m.plugin.Status,
		"task_state", m.lastState,
		"processed_records", m.plugin.Progress.ProcessedRecords,
		"error_records", m.plugin.Progress.ErrorRecords,
	)
}

// simulate produces synthetic progress for plugins that run without the task runner.
func (e *Executor) simulate(ctx context.Context, execution *models.Execution, plugin *models.Plugin, logger *slog.Logger) error {
	for i := 1; i <= simulatedIterations; i++ {
		if e.isCancelling(ctx, execution, logger) {
			return nil
		}

		err := sleep(ctx, e.settings.PollInterval)
		if err != nil {
			return err
		}

		plugin.Progress = models.ExecutionProgress{
			ExpectedRecords:  simulatedIterations * simulatedRecordsPerIteration,
			ProcessedRecords: i * simulatedRecordsPerIteration,
			Status:           models.TaskStateProcessing,
		}
		plugin.SetStatus(models.PluginStatusRunning)

		now := e.now().UTC()
		plugin.UpdatedDate = &now
		execution.UpdatedDate = &now
		e.patchMonitorInformation(ctx, execution, logger)
	}

	plugin.Progress.Status = models.TaskStateProcessed
	if plugin.SetStatus(models.PluginStatusFinished) {
		now := e.now().UTC()
		plugin.FinishedDate = &now
	}

	e.patchPlugins(ctx, execution, logger)

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
