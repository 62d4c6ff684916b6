package models

import (
	"errors"
	"fmt"
	"time"
)

// PluginType discriminates the plugin variants of a workflow.
type PluginType string

const (
	PluginTypeOaipmhHarvest      PluginType = "OAIPMH_HARVEST"
	PluginTypeHTTPHarvest        PluginType = "HTTP_HARVEST"
	PluginTypeValidationExternal PluginType = "VALIDATION_EXTERNAL"
	PluginTypeTransformation     PluginType = "TRANSFORMATION"
	PluginTypeValidationInternal PluginType = "VALIDATION_INTERNAL"
	PluginTypeNormalization      PluginType = "NORMALIZATION"
	PluginTypeEnrichment         PluginType = "ENRICHMENT"
	PluginTypeMediaProcess       PluginType = "MEDIA_PROCESS"
	PluginTypeLinkChecking       PluginType = "LINK_CHECKING"
	PluginTypePreview            PluginType = "PREVIEW"
	PluginTypePublish            PluginType = "PUBLISH"
)

var ErrUnknownPluginType = errors.New("unknown plugin type")

// PluginMetadata is the per-variant configuration of a plugin.
// The set of implementations is closed to this package.
type PluginMetadata interface {
	PluginType() PluginType
	IsMocked() bool
	Base() *BaseMetadata

	clone() PluginMetadata
}

// BaseMetadata is shared by every metadata variant.
type BaseMetadata struct {
	Mocked                          bool       `json:"mocked"`
	RevisionNamePreviousPlugin      string     `json:"revision_name_previous_plugin,omitempty"`
	RevisionTimestampPreviousPlugin *time.Time `json:"revision_timestamp_previous_plugin,omitempty"`
}

func (b *BaseMetadata) IsMocked() bool {
	return b.Mocked
}

func (b *BaseMetadata) Base() *BaseMetadata {
	return b
}

// SetPreviousRevision links the output of the previous plugin as the input of this one.
func (b *BaseMetadata) SetPreviousRevision(previous *Plugin) {
	if previous == nil {
		return
	}

	b.RevisionNamePreviousPlugin = string(previous.Type)
	b.RevisionTimestampPreviousPlugin = cloneTime(previous.StartedDate)
}

type OaipmhHarvestMetadata struct {
	BaseMetadata

	URL            string     `json:"url"             validate:"required,url"`
	MetadataFormat string     `json:"metadata_format" validate:"required"`
	SetSpec        string     `json:"set_spec,omitempty"`
	FromDate       *time.Time `json:"from_date,omitempty"`
	UntilDate      *time.Time `json:"until_date,omitempty"`
}

type HTTPHarvestMetadata struct {
	BaseMetadata

	URL string `json:"url" validate:"required,url"`
}

// ValidationSchema locates the schemas a validation plugin checks records against.
type ValidationSchema struct {
	URLOfSchemasZip    string `json:"url_of_schemas_zip"`
	SchemaRootPath     string `json:"schema_root_path"`
	SchematronRootPath string `json:"schematron_root_path,omitempty"`
}

type ValidationExternalMetadata struct {
	BaseMetadata
	ValidationSchema
}

type ValidationInternalMetadata struct {
	BaseMetadata
	ValidationSchema
}

type TransformationMetadata struct {
	BaseMetadata

	XsltURL     string `json:"xslt_url"     validate:"required,url"`
	DatasetName string `json:"dataset_name"`
	Country     string `json:"country"`
	Language    string `json:"language"`
}

type NormalizationMetadata struct {
	BaseMetadata
}

type EnrichmentMetadata struct {
	BaseMetadata
}

type MediaProcessMetadata struct {
	BaseMetadata
}

type LinkCheckingMetadata struct {
	BaseMetadata

	PerformSampling bool `json:"perform_sampling"`
}

// IndexSettings is shared by the preview and publish indexing plugins.
type IndexSettings struct {
	UseAlternativeIndexingEnvironment bool `json:"use_alternative_indexing_environment"`
	PreserveTimestamps                bool `json:"preserve_timestamps"`
}

type IndexPreviewMetadata struct {
	BaseMetadata
	IndexSettings
}

type IndexPublishMetadata struct {
	BaseMetadata
	IndexSettings
}

func (*OaipmhHarvestMetadata) PluginType() PluginType      { return PluginTypeOaipmhHarvest }
func (*HTTPHarvestMetadata) PluginType() PluginType        { return PluginTypeHTTPHarvest }
func (*ValidationExternalMetadata) PluginType() PluginType { return PluginTypeValidationExternal }
func (*ValidationInternalMetadata) PluginType() PluginType { return PluginTypeValidationInternal }
func (*TransformationMetadata) PluginType() PluginType     { return PluginTypeTransformation }
func (*NormalizationMetadata) PluginType() PluginType      { return PluginTypeNormalization }
func (*EnrichmentMetadata) PluginType() PluginType         { return PluginTypeEnrichment }
func (*MediaProcessMetadata) PluginType() PluginType       { return PluginTypeMediaProcess }
func (*LinkCheckingMetadata) PluginType() PluginType       { return PluginTypeLinkChecking }
func (*IndexPreviewMetadata) PluginType() PluginType       { return PluginTypePreview }
func (*IndexPublishMetadata) PluginType() PluginType       { return PluginTypePublish }

func (m *OaipmhHarvestMetadata) clone() PluginMetadata {
	c := *m
	c.FromDate = cloneTime(m.FromDate)
	c.UntilDate = cloneTime(m.UntilDate)
	c.RevisionTimestampPreviousPlugin = cloneTime(m.RevisionTimestampPreviousPlugin)

	return &c
}

func (m *HTTPHarvestMetadata) clone() PluginMetadata        { return cloneMetadata(m) }
func (m *ValidationExternalMetadata) clone() PluginMetadata { return cloneMetadata(m) }
func (m *ValidationInternalMetadata) clone() PluginMetadata { return cloneMetadata(m) }
func (m *TransformationMetadata) clone() PluginMetadata     { return cloneMetadata(m) }
func (m *NormalizationMetadata) clone() PluginMetadata      { return cloneMetadata(m) }
func (m *EnrichmentMetadata) clone() PluginMetadata         { return cloneMetadata(m) }
func (m *MediaProcessMetadata) clone() PluginMetadata       { return cloneMetadata(m) }
func (m *LinkCheckingMetadata) clone() PluginMetadata       { return cloneMetadata(m) }
func (m *IndexPreviewMetadata) clone() PluginMetadata       { return cloneMetadata(m) }
func (m *IndexPublishMetadata) clone() PluginMetadata       { return cloneMetadata(m) }

func cloneMetadata[T any, PT interface {
	*T
	PluginMetadata
}](m PT) PluginMetadata {
	c := PT(new(T))
	*c = *m

	base := c.Base()
	base.RevisionTimestampPreviousPlugin = cloneTime(base.RevisionTimestampPreviousPlugin)

	return c
}

// NewPluginMetadata returns an empty metadata value of the variant for pluginType.
func NewPluginMetadata(pluginType PluginType) (PluginMetadata, error) {
	switch pluginType {
	case PluginTypeOaipmhHarvest:
		return &OaipmhHarvestMetadata{}, nil
	case PluginTypeHTTPHarvest:
		return &HTTPHarvestMetadata{}, nil
	case PluginTypeValidationExternal:
		return &ValidationExternalMetadata{}, nil
	case PluginTypeValidationInternal:
		return &ValidationInternalMetadata{}, nil
	case PluginTypeTransformation:
		return &TransformationMetadata{}, nil
	case PluginTypeNormalization:
		return &NormalizationMetadata{}, nil
	case PluginTypeEnrichment:
		return &EnrichmentMetadata{}, nil
	case PluginTypeMediaProcess:
		return &MediaProcessMetadata{}, nil
	case PluginTypeLinkChecking:
		return &LinkCheckingMetadata{}, nil
	case PluginTypePreview:
		return &IndexPreviewMetadata{}, nil
	case PluginTypePublish:
		return &IndexPublishMetadata{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPluginType, pluginType)
	}
}
