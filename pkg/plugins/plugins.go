// Package plugins translates plugin metadata into task runner calls.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/taskrunner"
	"github.com/google/uuid"
)

const (
	TopologyOaipmhHarvest  = "oai_harvest"
	TopologyHTTPHarvest    = "http_harvest"
	TopologyValidation     = "validation"
	TopologyTransformation = "xslt_transform"
	TopologyNormalization  = "normalization"
	TopologyEnrichment     = "enrichment"
	TopologyMediaProcess   = "media_process"
	TopologyLinkChecking   = "link_checker"
	TopologyIndexer        = "indexer"
)

const mockedTaskPrefix = "mocked-"

var (
	ErrMissingMetadata = errors.New("plugin has no metadata")
	ErrNotSubmitted    = errors.New("plugin has no external task")
)

// Target identifies the dataset a plugin works on.
type Target struct {
	BaseURL   string
	Provider  string
	DatasetID string
}

// Topology returns the task runner topology that executes the plugin.
func Topology(metadata models.PluginMetadata) (string, error) {
	switch metadata.(type) {
	case *models.OaipmhHarvestMetadata:
		return TopologyOaipmhHarvest, nil
	case *models.HTTPHarvestMetadata:
		return TopologyHTTPHarvest, nil
	case *models.ValidationExternalMetadata, *models.ValidationInternalMetadata:
		return TopologyValidation, nil
	case *models.TransformationMetadata:
		return TopologyTransformation, nil
	case *models.NormalizationMetadata:
		return TopologyNormalization, nil
	case *models.EnrichmentMetadata:
		return TopologyEnrichment, nil
	case *models.MediaProcessMetadata:
		return TopologyMediaProcess, nil
	case *models.LinkCheckingMetadata:
		return TopologyLinkChecking, nil
	case *models.IndexPreviewMetadata, *models.IndexPublishMetadata:
		return TopologyIndexer, nil
	case nil:
		return "", ErrMissingMetadata
	default:
		return "", fmt.Errorf("%w: %T", models.ErrUnknownPluginType, metadata)
	}
}

func parameters(metadata models.PluginMetadata) map[string]string {
	params := map[string]string{}

	switch m := metadata.(type) {
	case *models.OaipmhHarvestMetadata:
		params["repository_url"] = m.URL
		params["metadata_prefix"] = m.MetadataFormat

		if m.SetSpec != "" {
			params["set_spec"] = m.SetSpec
		}

		if m.FromDate != nil {
			params["from"] = m.FromDate.UTC().Format(time.RFC3339)
		}

		if m.UntilDate != nil {
			params["until"] = m.UntilDate.UTC().Format(time.RFC3339)
		}
	case *models.HTTPHarvestMetadata:
		params["repository_url"] = m.URL
	case *models.ValidationExternalMetadata:
		validationParameters(params, "EXTERNAL", m.ValidationSchema)
	case *models.ValidationInternalMetadata:
		validationParameters(params, "INTERNAL", m.ValidationSchema)
	case *models.TransformationMetadata:
		params["xslt_url"] = m.XsltURL
		params["metis_dataset_name"] = m.DatasetName
		params["metis_dataset_country"] = m.Country
		params["metis_dataset_language"] = m.Language
	case *models.LinkCheckingMetadata:
		params["perform_sampling"] = strconv.FormatBool(m.PerformSampling)
	case *models.IndexPreviewMetadata:
		indexParameters(params, "PREVIEW", m.IndexSettings)
	case *models.IndexPublishMetadata:
		indexParameters(params, "PUBLISH", m.IndexSettings)
	}

	return params
}

func validationParameters(params map[string]string, kind string, schema models.ValidationSchema) {
	params["validation_kind"] = kind
	params["schemas_zip_url"] = schema.URLOfSchemasZip
	params["schema_root_location"] = schema.SchemaRootPath

	if schema.SchematronRootPath != "" {
		params["schematron_location"] = schema.SchematronRootPath
	}
}

func indexParameters(params map[string]string, database string, settings models.IndexSettings) {
	params["target_indexing_database"] = database
	params["use_alt_indexing_env"] = strconv.FormatBool(settings.UseAlternativeIndexingEnvironment)
	params["preserve_timestamps"] = strconv.FormatBool(settings.PreserveTimestamps)
}

// NewTaskRequest builds the task runner request for the plugin.
func NewTaskRequest(plugin *models.Plugin, target Target) (taskrunner.TaskRequest, error) {
	topology, err := Topology(plugin.Metadata)
	if err != nil {
		return taskrunner.TaskRequest{}, err
	}

	request := taskrunner.TaskRequest{
		Topology:   topology,
		DatasetID:  target.DatasetID,
		Provider:   target.Provider,
		DatasetURL: target.BaseURL,
		Parameters: parameters(plugin.Metadata),
	}

	if plugin.StartedDate != nil {
		request.OutputRevision = &taskrunner.Revision{Name: string(plugin.Type), Timestamp: *plugin.StartedDate}
	}

	base := plugin.Metadata.Base()
	if base.RevisionNamePreviousPlugin != "" && base.RevisionTimestampPreviousPlugin != nil {
		request.InputRevision = &taskrunner.Revision{
			Name:      base.RevisionNamePreviousPlugin,
			Timestamp: *base.RevisionTimestampPreviousPlugin,
		}
	}

	return request, nil
}

// Submit starts the plugin's external task and records its id on the plugin.
// Mocked plugins are given a synthetic id and never reach the task runner.
func Submit(ctx context.Context, client taskrunner.Client, plugin *models.Plugin, target Target) error {
	if plugin.Metadata == nil {
		return ErrMissingMetadata
	}

	if plugin.IsMocked() {
		plugin.ExternalTaskID = mockedTaskPrefix + uuid.NewString()

		return nil
	}

	request, err := NewTaskRequest(plugin, target)
	if err != nil {
		return err
	}

	taskID, err := client.Submit(ctx, request)
	if err != nil {
		return err
	}

	plugin.ExternalTaskID = taskID

	return nil
}

// Monitor fetches the progress of the plugin's external task and copies the counters onto the plugin.
func Monitor(ctx context.Context, client taskrunner.Client, plugin *models.Plugin) (*models.ExecutionProgress, error) {
	topology, err := taskTopology(plugin)
	if err != nil {
		return nil, err
	}

	progress, err := client.Progress(ctx, topology, plugin.ExternalTaskID)
	if err != nil {
		return nil, err
	}

	plugin.Progress = models.ExecutionProgress{
		ExpectedRecords:  progress.ExpectedRecords,
		ProcessedRecords: progress.ProcessedRecords,
		ErrorRecords:     progress.ErrorRecords,
		Status:           progress.State,
	}

	return &plugin.Progress, nil
}

// Cancel asks the task runner to kill the plugin's external task.
func Cancel(ctx context.Context, client taskrunner.Client, plugin *models.Plugin) error {
	topology, err := taskTopology(plugin)
	if err != nil {
		return err
	}

	return client.Cancel(ctx, topology, plugin.ExternalTaskID)
}

func taskTopology(plugin *models.Plugin) (string, error) {
	if plugin.ExternalTaskID == "" {
		return "", ErrNotSubmitted
	}

	return Topology(plugin.Metadata)
}
