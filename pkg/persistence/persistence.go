// Package persistence provides the execution record store abstraction.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/metis/pkg/models"
)

// Claim describes an attempt to take ownership of an execution.
type Claim struct {
	Owner string
	At    time.Time
	// StaleBefore marks RUNNING executions last updated before it as orphaned and claimable.
	StaleBefore time.Time
}

// ExecutionStore is the durable source of truth for execution state.
//
// Only Overwrite writes the cancelling flag from an in-memory execution. Every
// other write is partial and leaves cancelling untouched, so a cancellation
// request issued while an executor runs is never lost.
type ExecutionStore interface {
	Create(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)

	// ClaimExecution atomically moves an INQUEUE or orphaned RUNNING execution to RUNNING
	// owned by claim.Owner. It returns ErrExecutionNotClaimable otherwise.
	ClaimExecution(ctx context.Context, id string, claim Claim) (*models.Execution, error)

	IsCancelling(ctx context.Context, id string) (bool, error)
	SetCancellingState(ctx context.Context, id string) error

	// Overwrite replaces the whole record.
	Overwrite(ctx context.Context, execution *models.Execution) error
	// PatchPlugins writes the plugin list only.
	PatchPlugins(ctx context.Context, execution *models.Execution) error
	// PatchMonitorInformation writes the plugin list and the execution updated date.
	PatchMonitorInformation(ctx context.Context, execution *models.Execution) error

	// ExistsAndNotCompleted returns the id of an INQUEUE or RUNNING execution of the dataset, or "".
	ExistsAndNotCompleted(ctx context.Context, datasetID string) (string, error)
	// StaleExecutions lists INQUEUE or RUNNING executions last updated before olderThan.
	StaleExecutions(ctx context.Context, olderThan time.Time, limit int) ([]*models.Execution, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
