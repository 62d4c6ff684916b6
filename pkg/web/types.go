// Package web provides HTTP request and response types for the execution API.
package web

import (
	"time"

	"github.com/dukex/metis/pkg/models"
)

// CreateExecutionRequest represents the request body for creating a new execution.
// Each plugin is decoded into the metadata variant named by its plugin_type.
type CreateExecutionRequest struct {
	DatasetID       string           `json:"dataset_id"        validate:"required"`
	EcloudDatasetID string           `json:"ecloud_dataset_id" validate:"required"`
	Priority        int              `json:"priority"          validate:"min=0,max=10"`
	Plugins         []*models.Plugin `json:"plugins"           validate:"required,min=1"`
}

// PluginResponse represents a plugin with its computed progress.
type PluginResponse struct {
	ID                 string                   `json:"id"`
	Type               models.PluginType        `json:"plugin_type"`
	Status             models.PluginStatus      `json:"plugin_status"`
	ExternalTaskID     string                   `json:"external_task_id,omitempty"`
	Progress           models.ExecutionProgress `json:"execution_progress"`
	ProgressPercentage int                      `json:"progress_percentage"`
	StartedDate        *time.Time               `json:"started_date,omitempty"`
	UpdatedDate        *time.Time               `json:"updated_date,omitempty"`
	FinishedDate       *time.Time               `json:"finished_date,omitempty"`
}

// ExecutionResponse represents the filtered response for an execution.
type ExecutionResponse struct {
	ID              string                `json:"id"`
	DatasetID       string                `json:"dataset_id"`
	EcloudDatasetID string                `json:"ecloud_dataset_id"`
	Status          models.WorkflowStatus `json:"status"`
	Cancelling      bool                  `json:"cancelling"`
	Priority        int                   `json:"priority"`
	Plugins         []PluginResponse      `json:"plugins"`
	CreatedDate     time.Time             `json:"created_date"`
	StartedDate     *time.Time            `json:"started_date,omitempty"`
	UpdatedDate     *time.Time            `json:"updated_date,omitempty"`
	FinishedDate    *time.Time            `json:"finished_date,omitempty"`
}

func newExecutionResponse(execution *models.Execution) ExecutionResponse {
	plugins := make([]PluginResponse, 0, len(execution.Plugins))
	for _, plugin := range execution.Plugins {
		plugins = append(plugins, PluginResponse{
			ID:                 plugin.ID,
			Type:               plugin.Type,
			Status:             plugin.Status,
			ExternalTaskID:     plugin.ExternalTaskID,
			Progress:           plugin.Progress,
			ProgressPercentage: plugin.Progress.Percentage(),
			StartedDate:        plugin.StartedDate,
			UpdatedDate:        plugin.UpdatedDate,
			FinishedDate:       plugin.FinishedDate,
		})
	}

	return ExecutionResponse{
		ID:              execution.ID,
		DatasetID:       execution.DatasetID,
		EcloudDatasetID: execution.EcloudDatasetID,
		Status:          execution.Status,
		Cancelling:      execution.Cancelling,
		Priority:        execution.Priority,
		Plugins:         plugins,
		CreatedDate:     execution.CreatedDate,
		StartedDate:     execution.StartedDate,
		UpdatedDate:     execution.UpdatedDate,
		FinishedDate:    execution.FinishedDate,
	}
}
