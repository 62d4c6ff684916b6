package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	root string
	mu   *sync.Mutex
}

func newExecutionRepository(root string, mu *sync.Mutex) *ExecutionRepository {
	return &ExecutionRepository{root: root, mu: mu}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

// validateExecutionID validates that the execution ID is safe for file operations.
func validateExecutionID(executionID string) error {
	if executionID == "" {
		return errors.New("execution ID cannot be empty")
	}

	if strings.Contains(executionID, "..") || strings.Contains(executionID, "/") || strings.Contains(executionID, "\\") {
		return errors.New("execution ID contains invalid characters")
	}

	return nil
}

func (er *ExecutionRepository) read(executionID string) (*models.Execution, error) {
	err := validateExecutionID(executionID)
	if err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	filePath := filepath.Join(er.dir(), executionID+".json")

	data, err := os.ReadFile(filePath) // #nosec G304 -- filePath is validated and constructed safely
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", executionID, err)
	}

	var execution models.Execution

	err = json.Unmarshal(data, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) write(execution *models.Execution) error {
	err := validateExecutionID(execution.ID)
	if err != nil {
		return fmt.Errorf("invalid execution ID: %w", err)
	}

	err = os.MkdirAll(er.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	// rename keeps readers from ever seeing a half-written document
	tmp := filepath.Join(er.dir(), "."+execution.ID+".tmp")

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write execution %s: %w", execution.ID, err)
	}

	err = os.Rename(tmp, filepath.Join(er.dir(), execution.ID+".json"))
	if err != nil {
		return fmt.Errorf("failed to write execution %s: %w", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) all() ([]*models.Execution, error) {
	entries, err := os.ReadDir(er.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	executions := make([]*models.Execution, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		execution, err := er.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

// update applies fn to the stored execution under the store lock and writes the result back.
func (er *ExecutionRepository) update(op, executionID string, fn func(stored *models.Execution) error) (*models.Execution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	stored, err := er.read(executionID)
	if err != nil {
		return nil, persistence.NewExecutionError(op, executionID, err)
	}

	err = fn(stored)
	if err != nil {
		return nil, persistence.NewExecutionError(op, executionID, err)
	}

	err = er.write(stored)
	if err != nil {
		return nil, persistence.NewExecutionError(op, executionID, err)
	}

	return stored, nil
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	_, err := er.read(execution.ID)
	if err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if !persistence.IsExecutionNotFound(err) {
		return err
	}

	return er.write(execution)
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	execution, err := er.read(id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) ClaimExecution(_ context.Context, id string, claim persistence.Claim) (*models.Execution, error) {
	return er.update("ClaimExecution", id, func(stored *models.Execution) error {
		orphaned := stored.Status == models.WorkflowStatusRunning &&
			(stored.UpdatedDate == nil || stored.UpdatedDate.Before(claim.StaleBefore))

		if stored.Status != models.WorkflowStatusInQueue && !orphaned {
			return persistence.ErrExecutionNotClaimable
		}

		at := claim.At
		stored.Status = models.WorkflowStatusRunning
		stored.ClaimedBy = claim.Owner
		stored.UpdatedDate = &at

		if stored.StartedDate == nil {
			stored.StartedDate = &at
		}

		return nil
	})
}

func (er *ExecutionRepository) IsCancelling(ctx context.Context, id string) (bool, error) {
	execution, err := er.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	return execution.Cancelling, nil
}

func (er *ExecutionRepository) SetCancellingState(_ context.Context, id string) error {
	_, err := er.update("SetCancellingState", id, func(stored *models.Execution) error {
		stored.Cancelling = true

		return nil
	})

	return err
}

func (er *ExecutionRepository) Overwrite(_ context.Context, execution *models.Execution) error {
	_, err := er.update("Overwrite", execution.ID, func(stored *models.Execution) error {
		*stored = *execution.Clone()

		return nil
	})

	return err
}

func (er *ExecutionRepository) PatchPlugins(_ context.Context, execution *models.Execution) error {
	snapshot := execution.Clone()

	_, err := er.update("PatchPlugins", execution.ID, func(stored *models.Execution) error {
		stored.Plugins = snapshot.Plugins

		return nil
	})

	return err
}

func (er *ExecutionRepository) PatchMonitorInformation(_ context.Context, execution *models.Execution) error {
	snapshot := execution.Clone()

	_, err := er.update("PatchMonitorInformation", execution.ID, func(stored *models.Execution) error {
		stored.Plugins = snapshot.Plugins
		stored.UpdatedDate = snapshot.UpdatedDate

		return nil
	})

	return err
}

func (er *ExecutionRepository) ExistsAndNotCompleted(_ context.Context, datasetID string) (string, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	executions, err := er.all()
	if err != nil {
		return "", err
	}

	for _, execution := range executions {
		if execution.DatasetID == datasetID && !execution.Status.IsTerminal() {
			return execution.ID, nil
		}
	}

	return "", nil
}

func (er *ExecutionRepository) StaleExecutions(_ context.Context, olderThan time.Time, limit int) ([]*models.Execution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	var stale []*models.Execution

	for _, execution := range executions {
		if execution.Status.IsTerminal() {
			continue
		}

		if execution.LastActivity().Before(olderThan) {
			stale = append(stale, execution)
		}
	}

	sort.SliceStable(stale, func(i, j int) bool {
		if stale[i].Priority != stale[j].Priority {
			return stale[i].Priority > stale[j].Priority
		}

		return stale[i].CreatedDate.Before(stale[j].CreatedDate)
	})

	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	return stale, nil
}
