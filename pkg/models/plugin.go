package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PluginStatus represents the lifecycle state of a single plugin.
type PluginStatus string

const (
	PluginStatusInQueue   PluginStatus = "INQUEUE"
	PluginStatusRunning   PluginStatus = "RUNNING"
	PluginStatusCleaning  PluginStatus = "CLEANING"
	PluginStatusFinished  PluginStatus = "FINISHED"
	PluginStatusFailed    PluginStatus = "FAILED"
	PluginStatusCancelled PluginStatus = "CANCELLED"
)

func (s PluginStatus) IsTerminal() bool {
	return s == PluginStatusFinished || s == PluginStatusFailed || s == PluginStatusCancelled
}

// TaskState is the phase of a task as reported by the external task runner.
type TaskState string

const (
	TaskStatePending             TaskState = "PENDING"
	TaskStateSent                TaskState = "SENT"
	TaskStateProcessing          TaskState = "CURRENTLY_PROCESSING"
	TaskStateRemovingFromStorage TaskState = "REMOVING_FROM_SOLR_AND_MONGO"
	TaskStateProcessed           TaskState = "PROCESSED"
	TaskStateDropped             TaskState = "DROPPED"
)

func (s TaskState) IsTerminal() bool {
	return s == TaskStateProcessed || s == TaskStateDropped
}

// ExecutionProgress holds the record counters of a plugin's external task.
type ExecutionProgress struct {
	ExpectedRecords  int       `json:"expected_records"`
	ProcessedRecords int       `json:"processed_records"`
	ErrorRecords     int       `json:"error_records"`
	Status           TaskState `json:"status,omitempty"`
}

// Percentage returns the share of expected records already processed, in the range 0..100.
func (p ExecutionProgress) Percentage() int {
	if p.ExpectedRecords <= 0 {
		return 0
	}

	pct := p.ProcessedRecords * 100 / p.ExpectedRecords
	if pct > 100 {
		return 100
	}

	return pct
}

// Plugin is one step of an execution.
type Plugin struct {
	ID             string            `json:"id"`
	Type           PluginType        `json:"plugin_type"                validate:"required"`
	Status         PluginStatus      `json:"plugin_status"`
	ExternalTaskID string            `json:"external_task_id,omitempty"`
	Progress       ExecutionProgress `json:"execution_progress"`
	Metadata       PluginMetadata    `json:"-"`
	StartedDate    *time.Time        `json:"started_date,omitempty"`
	UpdatedDate    *time.Time        `json:"updated_date,omitempty"`
	FinishedDate   *time.Time        `json:"finished_date,omitempty"`
}

// NewPlugin creates an INQUEUE plugin for the given metadata.
func NewPlugin(id string, metadata PluginMetadata) *Plugin {
	return &Plugin{
		ID:       id,
		Type:     metadata.PluginType(),
		Status:   PluginStatusInQueue,
		Metadata: metadata,
	}
}

// SetStatus moves the plugin to status unless it already reached a different terminal status.
func (p *Plugin) SetStatus(status PluginStatus) bool {
	if p.Status.IsTerminal() && p.Status != status {
		return false
	}

	p.Status = status

	return true
}

// IsMocked reports whether the plugin runs without an external task.
func (p *Plugin) IsMocked() bool {
	return p.Metadata != nil && p.Metadata.IsMocked()
}

func (p *Plugin) Clone() *Plugin {
	if p == nil {
		return nil
	}

	c := *p
	c.StartedDate = cloneTime(p.StartedDate)
	c.UpdatedDate = cloneTime(p.UpdatedDate)
	c.FinishedDate = cloneTime(p.FinishedDate)

	if p.Metadata != nil {
		c.Metadata = p.Metadata.clone()
	}

	return &c
}

type pluginAlias Plugin

type pluginJSON struct {
	*pluginAlias

	Metadata json.RawMessage `json:"plugin_metadata,omitempty"`
}

func (p *Plugin) MarshalJSON() ([]byte, error) {
	out := pluginJSON{pluginAlias: (*pluginAlias)(p)}

	if p.Metadata != nil {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s metadata: %w", p.Type, err)
		}

		out.Metadata = raw
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes the metadata into the variant selected by the plugin type.
func (p *Plugin) UnmarshalJSON(data []byte) error {
	in := pluginJSON{pluginAlias: (*pluginAlias)(p)}

	err := json.Unmarshal(data, &in)
	if err != nil {
		return err
	}

	metadata, err := NewPluginMetadata(p.Type)
	if err != nil {
		return err
	}

	if len(in.Metadata) > 0 && string(in.Metadata) != "null" {
		err = json.Unmarshal(in.Metadata, metadata)
		if err != nil {
			return fmt.Errorf("failed to unmarshal %s metadata: %w", p.Type, err)
		}
	}

	p.Metadata = metadata

	return nil
}
