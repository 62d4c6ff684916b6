// Package taskrunner is the client of the external distributed task processing service.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/metis/pkg/models"
)

var (
	ErrTaskRunner   = errors.New("task runner request failed")
	ErrTaskNotFound = errors.New("task not found")
)

// Revision identifies the output of one plugin run.
type Revision struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskRequest asks the task runner to run a topology over a dataset.
type TaskRequest struct {
	Topology       string            `json:"-"`
	DatasetID      string            `json:"dataset_id"`
	Provider       string            `json:"provider"`
	DatasetURL     string            `json:"dataset_url"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	InputRevision  *Revision         `json:"input_revision,omitempty"`
	OutputRevision *Revision         `json:"output_revision,omitempty"`
}

// TaskProgress is the state of a submitted task.
type TaskProgress struct {
	State            models.TaskState `json:"state"`
	Info             string           `json:"info,omitempty"`
	ExpectedRecords  int              `json:"expected_records"`
	ProcessedRecords int              `json:"processed_records"`
	ErrorRecords     int              `json:"error_records"`
}

// Client submits, monitors and cancels external tasks.
type Client interface {
	Submit(ctx context.Context, request TaskRequest) (string, error)
	Progress(ctx context.Context, topology, taskID string) (*TaskProgress, error)
	Cancel(ctx context.Context, topology, taskID string) error
}

// TaskError wraps a failed task runner call with its context.
type TaskError struct {
	Op         string
	Topology   string
	TaskID     string
	StatusCode int
	Err        error
}

func (e *TaskError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s task %s: status %d: %v", e.Op, e.Topology, e.TaskID, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s %s task %s: %v", e.Op, e.Topology, e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
