// Package queue dispatches queued executions to a bounded pool of executors.
package queue

import (
	"context"

	"github.com/dukex/metis/pkg/eventbus"
	"github.com/dukex/metis/pkg/events"
)

// Publisher puts executions on the dispatch queue.
type Publisher struct {
	bus eventbus.EventPublisher
}

func NewPublisher(bus eventbus.EventPublisher) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) Enqueue(ctx context.Context, executionID, datasetID string, priority int, reason events.QueueReason) error {
	return p.bus.Publish(ctx, executionID, events.ExecutionQueued{
		BaseEvent: events.NewBaseEvent(events.ExecutionQueuedEvent, executionID),
		DatasetID: datasetID,
		Priority:  priority,
		Reason:    reason,
	})
}
