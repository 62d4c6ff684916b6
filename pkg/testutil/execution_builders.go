// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/metis/pkg/models"
	"github.com/google/uuid"
)

// CreateTestExecution creates an INQUEUE execution with a mocked harvest and enrichment
// plugin. Overrides are applied in order.
func CreateTestExecution(overrides ...func(*models.Execution)) *models.Execution {
	execution := &models.Execution{
		ID:              uuid.New().String(),
		DatasetID:       "dataset-" + uuid.New().String()[:8],
		EcloudDatasetID: uuid.New().String(),
		Status:          models.WorkflowStatusInQueue,
		Priority:        5,
		CreatedDate:     time.Now().UTC().Truncate(time.Millisecond),
		Plugins: []*models.Plugin{
			models.NewPlugin(uuid.New().String(), &models.HTTPHarvestMetadata{URL: "http://example.org/records.zip"}),
			models.NewPlugin(uuid.New().String(), &models.EnrichmentMetadata{}),
		},
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}

// WithPlugins replaces the plugin sequence.
func WithPlugins(plugins ...*models.Plugin) func(*models.Execution) {
	return func(e *models.Execution) {
		e.Plugins = plugins
	}
}

// WithStatus sets the execution status.
func WithStatus(status models.WorkflowStatus) func(*models.Execution) {
	return func(e *models.Execution) {
		e.Status = status
	}
}

// WithDataset sets the dataset identifier.
func WithDataset(datasetID string) func(*models.Execution) {
	return func(e *models.Execution) {
		e.DatasetID = datasetID
	}
}

// WithUpdatedDate sets the last update timestamp.
func WithUpdatedDate(t time.Time) func(*models.Execution) {
	return func(e *models.Execution) {
		e.UpdatedDate = &t
	}
}

// WithPriority sets the execution priority.
func WithPriority(priority int) func(*models.Execution) {
	return func(e *models.Execution) {
		e.Priority = priority
	}
}

// CreateTestPlugin creates a plugin of the given status backed by the given metadata.
func CreateTestPlugin(status models.PluginStatus, metadata models.PluginMetadata) *models.Plugin {
	plugin := models.NewPlugin(uuid.New().String(), metadata)
	plugin.Status = status

	return plugin
}

// MockedMetadata returns enrichment metadata flagged to run without an external task.
func MockedMetadata() models.PluginMetadata {
	metadata := &models.EnrichmentMetadata{}
	metadata.Mocked = true

	return metadata
}
