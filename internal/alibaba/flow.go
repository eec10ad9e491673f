// =============================================================================
// ICBU Broker - Product Flow
// =============================================================================
//
// This module chains the schema pipeline into complete product operations:
//
//   1. Fetch the category schema (schema.get)
//   2. Parse it into a field tree
//   3. Map input rows to FlatData and run the required and option validators
//   4. Complete the price block and clean the rich description
//   5. Build the payload, serialize it to XML and publish (schema.add)
//
// It also renders the Excel template of a category.
//
// =============================================================================

package alibaba

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gomarkdown/markdown"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/mapper"
	"github.com/billlvtech/icbu-broker/internal/schema"
	"github.com/billlvtech/icbu-broker/internal/spreadsheet"
	"github.com/billlvtech/icbu-broker/internal/types"
	"github.com/billlvtech/icbu-broker/internal/validation"
)

// DescriptionField holds the rich HTML product description.
const DescriptionField = "superText"

// Description formats accepted for DescriptionField.
const (
	DescriptionHTML     = "html"
	DescriptionMarkdown = "markdown"
)

// Shipping defaults of the minimal product.
const (
	MinimalShippingType     = "aliLogistics"
	MinimalShippingTemplate = "2061493154"
)

// ErrEmptyPhotobank is returned when a product needs a fallback image and
// the photobank has none.
var ErrEmptyPhotobank = errors.New("photobank has no images")

// ErrNoRows is returned when a batch contains no data rows.
var ErrNoRows = errors.New("no rows to publish")

// FlowOptions configures a Flow.
type FlowOptions struct {
	DefaultCategoryID string
	Language          string
	DescriptionFormat string
}

// Flow runs multi-step product operations against one gateway.
type Flow struct {
	service *Service
	opts    FlowOptions
	logger  *zap.Logger
}

// NewFlow creates a flow over service.
func NewFlow(service *Service, opts FlowOptions, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}
	if opts.DescriptionFormat == "" {
		opts.DescriptionFormat = DescriptionHTML
	}
	return &Flow{service: service, opts: opts, logger: logger}
}

func (f *Flow) category(catID string) string {
	return withDefault(catID, f.opts.DefaultCategoryID)
}

// LoadSchema fetches and parses the schema of a category.
func (f *Flow) LoadSchema(ctx context.Context, token, catID string) (string, []*types.Field, error) {
	schemaXML, err := f.service.GetSchema(ctx, token, SchemaRequest{
		CatID:    f.category(catID),
		Language: f.opts.Language,
	})
	if err != nil {
		return "", nil, err
	}
	tree, err := schema.Parse(schemaXML)
	if err != nil {
		return "", nil, err
	}
	return schemaXML, tree, nil
}

// =============================================================================
// MINIMAL PRODUCT
// =============================================================================

// PublishMinimal publishes a fixed test product: basic fields, the first
// photobank image, one ladder price tier and one lead time tier.
func (f *Flow) PublishMinimal(ctx context.Context, token, catID string) (Response, error) {
	catID = f.category(catID)
	_, tree, err := f.LoadSchema(ctx, token, catID)
	if err != nil {
		return nil, err
	}

	flat, err := mapper.New(tree).MapRow(map[string]any{
		"productTitle":     "API Minimal Test Product",
		"scPrice":          PriceLadder,
		"minOrderQuantity": 1,
		"productDescType":  "2",
		"saleType":         "normal",
		"priceUnit":        "4",
		DescriptionField:   "<p>This is a minimal product published by API.</p>",
	})
	if err != nil {
		return nil, err
	}

	resp, err := f.service.ListImages(ctx, token, ListImagesOptions{})
	if err != nil {
		return nil, err
	}
	images := PhotobankImages(resp)
	if len(images) == 0 {
		return nil, ErrEmptyPhotobank
	}
	flat["scImages.scImages_0"] = map[string]any{
		"fileId": images[0].ID,
		"url":    images[0].URL,
	}

	flat["ladderPrice.ladderPrice_0.quantity"] = 1
	flat["ladderPrice.ladderPrice_0.price"] = 100
	flat["ladderPeriod.ladderPeriod_0.quantity"] = 1
	flat["ladderPeriod.ladderPeriod_0.day"] = 7

	if err := EnsurePriceIntegrity(flat); err != nil {
		return nil, err
	}

	flat["shippingTemplate.templateType"] = MinimalShippingType
	flat["shippingTemplate.shippingTemplateId"] = MinimalShippingTemplate

	return f.publishFlat(ctx, token, catID, tree, flat)
}

func (f *Flow) publishFlat(ctx context.Context, token, catID string, tree []*types.Field, flat types.FlatData) (Response, error) {
	xml, err := schema.PayloadToXML(schema.BuildPayload(flat), tree)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	return f.service.Publish(ctx, token, PublishRequest{
		CatID:           catID,
		Language:        f.opts.Language,
		XML:             xml,
		SchemaXMLFields: schema.BuildSchemaXMLFields(flat),
	})
}

// =============================================================================
// BATCH PUBLISH
// =============================================================================

// RowOutcome is the publish result of one data row.
type RowOutcome struct {
	Row      int      `json:"row"`
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Response Response `json:"response,omitempty"`
}

// BatchResult is returned by PublishRows. When Validation is not OK nothing
// was published.
type BatchResult struct {
	Validation *types.ValidationResult `json:"validation"`
	Rows       []RowOutcome            `json:"rows"`
}

// Published counts the rows that went through.
func (b *BatchResult) Published() int {
	n := 0
	for _, r := range b.Rows {
		if r.OK {
			n++
		}
	}
	return n
}

// PublishRows maps and validates every row, then publishes them one by one.
// A validation failure in any row stops the batch before the first publish.
func (f *Flow) PublishRows(ctx context.Context, token, catID string, rows []map[string]any) (*BatchResult, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	catID = f.category(catID)
	_, tree, err := f.LoadSchema(ctx, token, catID)
	if err != nil {
		return nil, err
	}

	flats, err := mapper.New(tree).MapRows(rows)
	if err != nil {
		return nil, err
	}

	reports := make([]*types.ValidationResult, 0, len(flats))
	for _, flat := range flats {
		reports = append(reports, validation.Validate(tree, flat))
	}
	result := &BatchResult{Validation: types.Merge(reports...), Rows: make([]RowOutcome, 0, len(flats))}
	if !result.Validation.OK {
		f.logger.Warn("batch rejected by validation", zap.Int("errors", len(result.Validation.Errors)))
		return result, nil
	}

	for i, flat := range flats {
		outcome := RowOutcome{Row: i + 1}
		if err := f.prepare(flat); err != nil {
			outcome.Error = err.Error()
			result.Rows = append(result.Rows, outcome)
			continue
		}
		resp, err := f.publishFlat(ctx, token, catID, tree, flat)
		outcome.Response = resp
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.OK = true
		}
		result.Rows = append(result.Rows, outcome)
	}

	f.logger.Info("batch published",
		zap.String("cat_id", catID),
		zap.Int("rows", len(flats)),
		zap.Int("published", result.Published()),
	)
	return result, nil
}

func (f *Flow) prepare(flat types.FlatData) error {
	if err := EnsurePriceIntegrity(flat); err != nil {
		return err
	}
	for k, v := range flat {
		root, _, _ := strings.Cut(k, ".")
		if root != DescriptionField {
			continue
		}
		if s, ok := v.(string); ok {
			flat[k] = RenderDescription(s, f.opts.DescriptionFormat)
		}
	}
	return nil
}

var (
	descriptionPolicyOnce sync.Once
	descriptionPolicy     *bluemonday.Policy
)

func descriptionSanitizer() *bluemonday.Policy {
	descriptionPolicyOnce.Do(func() {
		descriptionPolicy = bluemonday.UGCPolicy()
	})
	return descriptionPolicy
}

// RenderDescription turns a description cell into publishable HTML.
// Markdown input is rendered first. The result is always sanitized.
func RenderDescription(raw, format string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if format == DescriptionMarkdown {
		text = string(markdown.ToHTML([]byte(text), nil, nil))
	}
	return strings.TrimSpace(descriptionSanitizer().Sanitize(text))
}

// =============================================================================
// TEMPLATE
// =============================================================================

// GenerateTemplate renders the Excel template of a category.
func (f *Flow) GenerateTemplate(ctx context.Context, token, catID string) ([]byte, error) {
	_, tree, err := f.LoadSchema(ctx, token, catID)
	if err != nil {
		return nil, err
	}
	return spreadsheet.NewGenerator(tree).Bytes()
}
