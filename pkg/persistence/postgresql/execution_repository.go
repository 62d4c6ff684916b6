package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const executionColumns = `id, dataset_id, ecloud_dataset_id, status, cancelling, priority, claimed_by,
	plugins, created_date, started_date, updated_date, finished_date`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a new execution. A second active execution for the same dataset is rejected
// by the partial unique index and reported as ErrExecutionAlreadyExists.
func (er *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	pluginsJSON, err := json.Marshal(execution.Plugins)
	if err != nil {
		return fmt.Errorf("failed to marshal plugins: %w", err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := er.db.ExecContext(ctx, query,
		execution.ID,
		execution.DatasetID,
		execution.EcloudDatasetID,
		execution.Status,
		execution.Cancelling,
		execution.Priority,
		execution.ClaimedBy,
		pluginsJSON,
		execution.CreatedDate,
		execution.StartedDate,
		execution.UpdatedDate,
		execution.FinishedDate,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return fmt.Errorf("failed to save execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return nil
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := er.scanExecution(er.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// ClaimExecution takes ownership with a single conditional UPDATE so that concurrent
// claimers race on the row lock and exactly one of them sees the row returned.
func (er *ExecutionRepository) ClaimExecution(ctx context.Context, id string, claim persistence.Claim) (*models.Execution, error) {
	query := `
		UPDATE executions
		SET status = 'RUNNING',
			started_date = COALESCE(started_date, $2),
			updated_date = $2,
			claimed_by = $3
		WHERE id = $1
			AND (status = 'INQUEUE'
				OR (status = 'RUNNING' AND (updated_date IS NULL OR updated_date < $4)))
		RETURNING ` + executionColumns

	execution, err := er.scanExecution(er.db.QueryRowContext(ctx, query, id, claim.At, claim.Owner, claim.StaleBefore))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ClaimExecution", id, persistence.ErrExecutionNotClaimable)
		}

		return nil, fmt.Errorf("failed to claim execution: %w", err)
	}

	return execution, nil
}

func (er *ExecutionRepository) IsCancelling(ctx context.Context, id string) (bool, error) {
	var cancelling bool

	err := er.db.QueryRowContext(ctx, `SELECT cancelling FROM executions WHERE id = $1`, id).Scan(&cancelling)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, persistence.NewExecutionError("IsCancelling", id, persistence.ErrExecutionNotFound)
		}

		return false, fmt.Errorf("failed to query cancelling state: %w", err)
	}

	return cancelling, nil
}

func (er *ExecutionRepository) SetCancellingState(ctx context.Context, id string) error {
	return er.exec(ctx, "SetCancellingState", id, `UPDATE executions SET cancelling = TRUE WHERE id = $1`, id)
}

func (er *ExecutionRepository) Overwrite(ctx context.Context, execution *models.Execution) error {
	pluginsJSON, err := json.Marshal(execution.Plugins)
	if err != nil {
		return fmt.Errorf("failed to marshal plugins: %w", err)
	}

	query := `
		UPDATE executions SET
			dataset_id = $2,
			ecloud_dataset_id = $3,
			status = $4,
			cancelling = $5,
			priority = $6,
			claimed_by = $7,
			plugins = $8,
			created_date = $9,
			started_date = $10,
			updated_date = $11,
			finished_date = $12
		WHERE id = $1
	`

	return er.exec(ctx, "Overwrite", execution.ID, query,
		execution.ID,
		execution.DatasetID,
		execution.EcloudDatasetID,
		execution.Status,
		execution.Cancelling,
		execution.Priority,
		execution.ClaimedBy,
		pluginsJSON,
		execution.CreatedDate,
		execution.StartedDate,
		execution.UpdatedDate,
		execution.FinishedDate,
	)
}

func (er *ExecutionRepository) PatchPlugins(ctx context.Context, execution *models.Execution) error {
	pluginsJSON, err := json.Marshal(execution.Plugins)
	if err != nil {
		return fmt.Errorf("failed to marshal plugins: %w", err)
	}

	return er.exec(ctx, "PatchPlugins", execution.ID,
		`UPDATE executions SET plugins = $2 WHERE id = $1`, execution.ID, pluginsJSON)
}

func (er *ExecutionRepository) PatchMonitorInformation(ctx context.Context, execution *models.Execution) error {
	pluginsJSON, err := json.Marshal(execution.Plugins)
	if err != nil {
		return fmt.Errorf("failed to marshal plugins: %w", err)
	}

	return er.exec(ctx, "PatchMonitorInformation", execution.ID,
		`UPDATE executions SET plugins = $2, updated_date = $3 WHERE id = $1`,
		execution.ID, pluginsJSON, execution.UpdatedDate)
}

func (er *ExecutionRepository) ExistsAndNotCompleted(ctx context.Context, datasetID string) (string, error) {
	query := `
		SELECT id FROM executions
		WHERE dataset_id = $1 AND status IN ('INQUEUE', 'RUNNING')
		ORDER BY created_date
		LIMIT 1
	`

	var id string

	err := er.db.QueryRowContext(ctx, query, datasetID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}

		return "", fmt.Errorf("failed to query active execution: %w", err)
	}

	return id, nil
}

func (er *ExecutionRepository) StaleExecutions(ctx context.Context, olderThan time.Time, limit int) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE status IN ('INQUEUE', 'RUNNING')
			AND COALESCE(updated_date, created_date) < $1
		ORDER BY priority DESC, created_date ASC
		LIMIT $2
	`

	rows, err := er.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var executions []*models.Execution

	for rows.Next() {
		execution, err := er.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (er *ExecutionRepository) exec(ctx context.Context, op, id, query string, args ...any) error {
	result, err := er.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	return nil
}

// scanExecution scans an execution from a database row.
func (er *ExecutionRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.Execution, error) {
	var (
		execution    models.Execution
		pluginsJSON  []byte
		createdDate  time.Time
		startedDate  sql.NullTime
		updatedDate  sql.NullTime
		finishedDate sql.NullTime
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.DatasetID,
		&execution.EcloudDatasetID,
		&execution.Status,
		&execution.Cancelling,
		&execution.Priority,
		&execution.ClaimedBy,
		&pluginsJSON,
		&createdDate,
		&startedDate,
		&updatedDate,
		&finishedDate,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(pluginsJSON, &execution.Plugins)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal plugins: %w", err)
	}

	execution.CreatedDate = createdDate.UTC()
	execution.StartedDate = nullTime(startedDate)
	execution.UpdatedDate = nullTime(updatedDate)
	execution.FinishedDate = nullTime(finishedDate)

	return &execution, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time.UTC()

	return &v
}
