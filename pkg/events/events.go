// Package events defines the messages exchanged about execution lifecycles.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every execution lifecycle event.
const Topic = "metis.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionQueuedEvent    EventType = "execution.queued"
	ExecutionFinishedEvent  EventType = "execution.finished"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
)

// QueueReason tells why an execution was put on the dispatch queue.
type QueueReason string

const (
	QueueReasonCreated  QueueReason = "created"
	QueueReasonFailsafe QueueReason = "failsafe"
)

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"execution_id"`
	WorkerID    string    `json:"worker_id,omitempty"`
}

func NewBaseEvent(eventType EventType, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
	}
}

// ExecutionQueued asks a worker to run the execution.
type ExecutionQueued struct {
	BaseEvent

	DatasetID string      `json:"dataset_id"`
	Priority  int         `json:"priority"`
	Reason    QueueReason `json:"reason"`
}

func (e ExecutionQueued) GetType() EventType {
	return ExecutionQueuedEvent
}

type ExecutionFinished struct {
	BaseEvent

	DatasetID string        `json:"dataset_id"`
	Duration  time.Duration `json:"duration"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

type ExecutionFailed struct {
	BaseEvent

	DatasetID    string `json:"dataset_id"`
	FailedPlugin string `json:"failed_plugin,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	DatasetID string `json:"dataset_id"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}
