package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/metis/pkg/events"
	"github.com/dukex/metis/pkg/lock"
	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long a crashed request can keep a dataset locked.
const DefaultLockTTL = 30 * time.Second

// Enqueuer puts an execution on the dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, executionID, datasetID string, priority int, reason events.QueueReason) error
}

// AddExecutionRequest describes a new workflow run for a dataset.
type AddExecutionRequest struct {
	DatasetID       string           `json:"dataset_id"        validate:"required"`
	EcloudDatasetID string           `json:"ecloud_dataset_id" validate:"required"`
	Priority        int              `json:"priority"          validate:"min=0,max=10"`
	Plugins         []*models.Plugin `json:"plugins"           validate:"required,min=1"`
}

type Execution struct {
	store    persistence.ExecutionStore
	locker   lock.Locker
	enqueuer Enqueuer
	validate *validator.Validate
	logger   *slog.Logger
	lockTTL  time.Duration
	now      func() time.Time
}

// NewExecution creates a new execution service.
func NewExecution(
	store persistence.ExecutionStore,
	locker lock.Locker,
	enqueuer Enqueuer,
	logger *slog.Logger,
) *Execution {
	return &Execution{
		store:    store,
		locker:   locker,
		enqueuer: enqueuer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "execution_service"),
		lockTTL:  DefaultLockTTL,
		now:      time.Now,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Execution) HealthCheck(ctx context.Context) (string, bool) {
	if s.store == nil {
		return "Persistence layer not initialized", false
	}

	err := s.store.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// AddExecution creates an INQUEUE execution for the dataset and puts it on the dispatch queue.
// A dataset runs at most one non-completed execution at a time.
func (s *Execution) AddExecution(ctx context.Context, req AddExecutionRequest) (*models.Execution, error) {
	const op = "AddExecution"

	err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.TryLock(ctx, lock.DatasetKey(req.DatasetID), s.lockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, newConflictError(op, "dataset_locked", ErrDatasetLocked.Error(), ErrDatasetLocked)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to lock dataset %s: %w", req.DatasetID, err)
	}

	defer func() {
		err := release(context.WithoutCancel(ctx))
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to release dataset lock", "dataset_id", req.DatasetID, "error", err)
		}
	}()

	existingID, err := s.store.ExistsAndNotCompleted(ctx, req.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to check running executions: %w", err)
	}

	if existingID != "" {
		return nil, newConflictError(op, "dataset_busy",
			fmt.Sprintf("dataset %s already has execution %s in progress", req.DatasetID, existingID),
			ErrDatasetBusy,
		)
	}

	execution := s.newExecution(req)

	err = s.store.Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	logger := s.logger.With("execution_id", execution.ID, "dataset_id", execution.DatasetID)
	logger.InfoContext(ctx, "Execution created", "priority", execution.Priority, "plugins", len(execution.Plugins))

	err = s.enqueuer.Enqueue(ctx, execution.ID, execution.DatasetID, execution.Priority, events.QueueReasonCreated)
	if err != nil {
		// The record is INQUEUE; the failsafe sweep enqueues it once the liveness window passes.
		logger.WarnContext(ctx, "Failed to enqueue execution", "error", err)
	}

	return execution, nil
}

func (s *Execution) validateRequest(req AddExecutionRequest) error {
	const op = "AddExecution"

	if req.DatasetID == "" {
		return NewValidationError(op, "empty_dataset_id", ErrEmptyDatasetID.Error(), ErrEmptyDatasetID)
	}

	err := s.validate.Struct(req)
	if err != nil {
		return NewValidationError(op, "invalid_request", err.Error(), ErrInvalidRequest)
	}

	for i, plugin := range req.Plugins {
		if plugin == nil || plugin.Metadata == nil {
			return NewValidationError(op, "invalid_plugin", fmt.Sprintf("plugin %d has no metadata", i), ErrInvalidRequest)
		}

		err = s.validate.Struct(plugin.Metadata)
		if err != nil {
			return NewValidationError(op, "invalid_plugin",
				fmt.Sprintf("plugin %d (%s): %v", i, plugin.Type, err),
				ErrInvalidRequest,
			)
		}
	}

	return nil
}

func (s *Execution) newExecution(req AddExecutionRequest) *models.Execution {
	now := s.now().UTC()

	plugins := make([]*models.Plugin, 0, len(req.Plugins))
	for _, plugin := range req.Plugins {
		plugins = append(plugins, models.NewPlugin(uuid.New().String(), plugin.Metadata))
	}

	return &models.Execution{
		ID:              uuid.New().String(),
		DatasetID:       req.DatasetID,
		EcloudDatasetID: req.EcloudDatasetID,
		Status:          models.WorkflowStatusInQueue,
		Priority:        req.Priority,
		Plugins:         plugins,
		CreatedDate:     now,
	}
}

// GetExecution returns the stored execution.
func (s *Execution) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return execution, nil
}

// CancelExecution requests the cancellation of an INQUEUE or RUNNING execution.
// The executor owning it winds it down on its next check.
func (s *Execution) CancelExecution(ctx context.Context, id string) (*models.Execution, error) {
	const op = "CancelExecution"

	execution, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if execution.Status.IsTerminal() {
		return nil, newConflictError(op, "execution_completed",
			fmt.Sprintf("execution %s is %s", id, execution.Status),
			ErrExecutionCompleted,
		)
	}

	err = s.store.SetCancellingState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to request cancellation: %w", err)
	}

	s.logger.InfoContext(ctx, "Execution cancellation requested", "execution_id", id, "status", execution.Status)

	execution.Cancelling = true

	return execution, nil
}
