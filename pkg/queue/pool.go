package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/metis/pkg/eventbus"
	"github.com/dukex/metis/pkg/events"
	"github.com/dukex/metis/pkg/metrics"
	"github.com/dukex/metis/pkg/models"
	"github.com/go-playground/validator/v10"
)

// Runner drives one execution. It returns nil when the execution could not be claimed.
type Runner interface {
	Run(ctx context.Context, executionID string) (*models.Execution, error)
}

type Config struct {
	Workers    int `validate:"min=1"`
	BufferSize int `validate:"min=1"`
}

func (c Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// Pool consumes queued executions and runs each on one of a fixed number of workers.
type Pool struct {
	id      string
	runner  Runner
	bus     eventbus.EventBus
	buffer  *priorityBuffer
	workers int
	logger  *slog.Logger
	metrics metrics.Sink
	wg      sync.WaitGroup
}

func NewPool(
	id string,
	runner Runner,
	bus eventbus.EventBus,
	config Config,
	logger *slog.Logger,
	sink metrics.Sink,
) *Pool {
	return &Pool{
		id:      id,
		runner:  runner,
		bus:     bus,
		buffer:  newPriorityBuffer(config.BufferSize),
		workers: config.Workers,
		logger:  logger.With("module", "dispatch-pool", "pool_id", id),
		metrics: sink,
	}
}

// Start subscribes to the queue and starts the workers. Workers stop when ctx is done;
// use Wait to block until the running executions have returned.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting dispatch pool", "workers", p.workers)

	err := p.bus.Handle(events.ExecutionQueuedEvent, p.handleExecutionQueued)
	if err != nil {
		return err
	}

	err = p.bus.Subscribe(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	for i := range p.workers {
		workerID := fmt.Sprintf("%s-%d", p.id, i)

		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			p.work(ctx, workerID)
		}()
	}

	return nil
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) handleExecutionQueued(ctx context.Context, event any) error {
	queued, ok := event.(*events.ExecutionQueued)
	if !ok {
		p.logger.ErrorContext(ctx, "Invalid event type for ExecutionQueued")

		return nil
	}

	added, err := p.buffer.push(ctx, queued.ExecutionID, queued.Priority)
	if err != nil {
		return err
	}

	if added {
		p.logger.DebugContext(ctx, "Execution queued",
			"execution_id", queued.ExecutionID,
			"priority", queued.Priority,
			"reason", queued.Reason,
		)
	}

	p.metrics.QueueDepthUpdate(p.buffer.size())

	return nil
}

func (p *Pool) work(ctx context.Context, workerID string) {
	logger := p.logger.With("worker_id", workerID)

	for {
		executionID, ok := p.buffer.next(ctx)
		if !ok {
			logger.DebugContext(ctx, "Worker stopped")

			return
		}

		p.metrics.QueueDepthUpdate(p.buffer.size())
		p.execute(ctx, workerID, executionID, logger.With("execution_id", executionID))
	}
}

func (p *Pool) execute(ctx context.Context, workerID, executionID string, logger *slog.Logger) {
	p.metrics.WorkersBusyIncr()
	defer p.metrics.WorkersBusyDecr()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Executor panicked", "panic", r)
		}
	}()

	execution, err := p.runner.Run(ctx, executionID)
	if err != nil {
		logger.ErrorContext(ctx, "Execution run failed", "error", err)
	}

	if execution == nil {
		return
	}

	p.publishOutcome(ctx, workerID, execution, err)
}

// publishOutcome announces executions that reached a terminal status.
func (p *Pool) publishOutcome(ctx context.Context, workerID string, execution *models.Execution, runErr error) {
	var event eventbus.Event

	switch execution.Status {
	case models.WorkflowStatusFinished:
		finished := events.ExecutionFinished{
			BaseEvent: events.NewBaseEvent(events.ExecutionFinishedEvent, execution.ID),
			DatasetID: execution.DatasetID,
		}
		if execution.StartedDate != nil && execution.FinishedDate != nil {
			finished.Duration = execution.FinishedDate.Sub(*execution.StartedDate)
		}

		finished.WorkerID = workerID
		event = finished
	case models.WorkflowStatusFailed:
		failed := events.ExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, execution.ID),
			DatasetID: execution.DatasetID,
		}

		for _, plugin := range execution.Plugins {
			if plugin.Status == models.PluginStatusFailed {
				failed.FailedPlugin = string(plugin.Type)

				break
			}
		}

		if runErr != nil {
			failed.Error = runErr.Error()
		}

		failed.WorkerID = workerID
		event = failed
	case models.WorkflowStatusCancelled:
		cancelled := events.ExecutionCancelled{
			BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, execution.ID),
			DatasetID: execution.DatasetID,
		}
		cancelled.WorkerID = workerID
		event = cancelled
	default:
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := p.bus.Publish(publishCtx, execution.ID, event)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish execution outcome",
			"execution_id", execution.ID,
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
