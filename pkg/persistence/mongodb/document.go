package mongodb

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/metis/pkg/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type executionDocument struct {
	ID              string     `bson:"_id"`
	DatasetID       string     `bson:"dataset_id"`
	EcloudDatasetID string     `bson:"ecloud_dataset_id"`
	Status          string     `bson:"status"`
	Cancelling      bool       `bson:"cancelling"`
	Priority        int        `bson:"priority"`
	ClaimedBy       string     `bson:"claimed_by"`
	Plugins         any        `bson:"plugins"`
	CreatedDate     time.Time  `bson:"created_date"`
	StartedDate     *time.Time `bson:"started_date"`
	UpdatedDate     *time.Time `bson:"updated_date"`
	FinishedDate    *time.Time `bson:"finished_date"`
}

type pluginsEnvelope struct {
	Plugins []*models.Plugin `json:"plugins"`
}

// encodePlugins converts plugins to a native BSON array through their JSON form, which
// carries the type tag needed to decode the metadata variant.
func encodePlugins(plugins []*models.Plugin) (any, error) {
	if plugins == nil {
		plugins = []*models.Plugin{}
	}

	data, err := json.Marshal(pluginsEnvelope{Plugins: plugins})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plugins: %w", err)
	}

	var doc bson.D

	err = bson.UnmarshalExtJSON(data, false, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert plugins to BSON: %w", err)
	}

	return doc[0].Value, nil
}

func decodePlugins(value any) ([]*models.Plugin, error) {
	data, err := bson.MarshalExtJSON(bson.D{{Key: "plugins", Value: value}}, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert plugins from BSON: %w", err)
	}

	var envelope pluginsEnvelope

	err = json.Unmarshal(data, &envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal plugins: %w", err)
	}

	return envelope.Plugins, nil
}

func toDocument(execution *models.Execution) (*executionDocument, error) {
	plugins, err := encodePlugins(execution.Plugins)
	if err != nil {
		return nil, err
	}

	return &executionDocument{
		ID:              execution.ID,
		DatasetID:       execution.DatasetID,
		EcloudDatasetID: execution.EcloudDatasetID,
		Status:          string(execution.Status),
		Cancelling:      execution.Cancelling,
		Priority:        execution.Priority,
		ClaimedBy:       execution.ClaimedBy,
		Plugins:         plugins,
		CreatedDate:     execution.CreatedDate,
		StartedDate:     execution.StartedDate,
		UpdatedDate:     execution.UpdatedDate,
		FinishedDate:    execution.FinishedDate,
	}, nil
}

func fromDocument(doc *executionDocument) (*models.Execution, error) {
	plugins, err := decodePlugins(doc.Plugins)
	if err != nil {
		return nil, err
	}

	return &models.Execution{
		ID:              doc.ID,
		DatasetID:       doc.DatasetID,
		EcloudDatasetID: doc.EcloudDatasetID,
		Status:          models.WorkflowStatus(doc.Status),
		Cancelling:      doc.Cancelling,
		Priority:        doc.Priority,
		ClaimedBy:       doc.ClaimedBy,
		Plugins:         plugins,
		CreatedDate:     doc.CreatedDate.UTC(),
		StartedDate:     utc(doc.StartedDate),
		UpdatedDate:     utc(doc.UpdatedDate),
		FinishedDate:    utc(doc.FinishedDate),
	}, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := t.UTC()

	return &v
}

func databaseName(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return defaultDatabase
	}

	name := strings.Trim(parsed.Path, "/")
	if name == "" {
		return defaultDatabase
	}

	return name
}
