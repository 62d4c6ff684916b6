// Package models defines the domain models for workflow executions and their plugins.
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of an execution.
type WorkflowStatus string

const (
	WorkflowStatusInQueue   WorkflowStatus = "INQUEUE"
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusFinished  WorkflowStatus = "FINISHED"
	WorkflowStatusFailed    WorkflowStatus = "FAILED"
	WorkflowStatusCancelled WorkflowStatus = "CANCELLED"
)

// IsTerminal reports whether no executor will drive the execution any further.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusFinished || s == WorkflowStatusFailed || s == WorkflowStatusCancelled
}

const (
	MinPriority = 0
	MaxPriority = 10
)

// Execution is one run of a workflow against a dataset.
type Execution struct {
	ID              string         `json:"id"`
	DatasetID       string         `json:"dataset_id"        validate:"required"`
	EcloudDatasetID string         `json:"ecloud_dataset_id" validate:"required"`
	Status          WorkflowStatus `json:"status"`
	Cancelling      bool           `json:"cancelling"`
	Priority        int            `json:"priority"          validate:"min=0,max=10"`
	ClaimedBy       string         `json:"claimed_by,omitempty"`
	Plugins         []*Plugin      `json:"plugins"           validate:"required,min=1,dive"`
	CreatedDate     time.Time      `json:"created_date"`
	StartedDate     *time.Time     `json:"started_date,omitempty"`
	UpdatedDate     *time.Time     `json:"updated_date,omitempty"`
	FinishedDate    *time.Time     `json:"finished_date,omitempty"`
}

// ResumeIndex returns the position of the first plugin that still has work to do.
// Plugins already FINISHED or FAILED before it are skipped on resume. It returns
// len(e.Plugins) when no plugin is pending, so a resumed run goes straight to finalization.
func (e *Execution) ResumeIndex() int {
	for i, plugin := range e.Plugins {
		switch plugin.Status {
		case PluginStatusInQueue, PluginStatusRunning, PluginStatusCleaning:
			return i
		}
	}

	return len(e.Plugins)
}

// LastActivity returns the last time the execution was written by its owner.
func (e *Execution) LastActivity() time.Time {
	if e.UpdatedDate != nil {
		return *e.UpdatedDate
	}

	return e.CreatedDate
}

// LastPlugin returns the final plugin of the sequence, or nil for an empty execution.
func (e *Execution) LastPlugin() *Plugin {
	if len(e.Plugins) == 0 {
		return nil
	}

	return e.Plugins[len(e.Plugins)-1]
}

// SetAllRunningAndInqueuePluginsToCancelled winds the execution down after a cancellation request.
func (e *Execution) SetAllRunningAndInqueuePluginsToCancelled(now time.Time) {
	e.Status = WorkflowStatusCancelled
	e.UpdatedDate = &now

	for _, plugin := range e.Plugins {
		if plugin.Status == PluginStatusRunning || plugin.Status == PluginStatusInQueue {
			plugin.SetStatus(PluginStatusCancelled)
			plugin.UpdatedDate = &now
		}
	}
}

// CancelPluginsAfterFailure marks every RUNNING or INQUEUE plugin after the first FAILED one
// as CANCELLED and sets the execution FAILED. It reports whether a failed plugin was found.
func (e *Execution) CancelPluginsAfterFailure(now time.Time) bool {
	failed := false

	for _, plugin := range e.Plugins {
		switch {
		case failed && (plugin.Status == PluginStatusRunning || plugin.Status == PluginStatusInQueue):
			plugin.SetStatus(PluginStatusCancelled)
			plugin.UpdatedDate = &now
		case plugin.Status == PluginStatusFailed:
			failed = true
		}
	}

	if failed {
		e.Status = WorkflowStatusFailed
		e.UpdatedDate = &now
	}

	return failed
}

// Clone returns a deep copy that shares no mutable state with e.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}

	c := *e
	c.StartedDate = cloneTime(e.StartedDate)
	c.UpdatedDate = cloneTime(e.UpdatedDate)
	c.FinishedDate = cloneTime(e.FinishedDate)

	if e.Plugins != nil {
		c.Plugins = make([]*Plugin, len(e.Plugins))
		for i, plugin := range e.Plugins {
			c.Plugins[i] = plugin.Clone()
		}
	}

	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}
