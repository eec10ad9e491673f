package alibaba

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// Schema API names and defaults.
const (
	APISchemaGet = "alibaba.icbu.product.schema.get"
	APISchemaAdd = "alibaba.icbu.product.schema.add"

	DefaultLanguage    = "en_US"
	DefaultPublishType = "default"
	DefaultVersion     = "trade.1.1"
)

// SchemaRequest selects the category schema to fetch.
type SchemaRequest struct {
	CatID       string
	Language    string
	PublishType string
	Version     string
}

// PublishRequest is a product submission built from a category schema.
type PublishRequest struct {
	CatID           string
	Language        string
	PublishType     string
	Version         string
	XML             string
	SchemaXMLFields string
}

// Service wraps the product, media and category APIs of one gateway.
type Service struct {
	caller Caller
	logger *zap.Logger
}

// NewService creates a service over caller.
func NewService(caller Caller, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{caller: caller, logger: logger}
}

func withDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// GetSchema fetches the schema XML of a category.
func (s *Service) GetSchema(ctx context.Context, token string, req SchemaRequest) (string, error) {
	resp, err := s.caller.Call(ctx, APISchemaGet, token, map[string]any{
		PublishRequestParam: map[string]any{
			"cat_id":       req.CatID,
			"language":     withDefault(req.Language, DefaultLanguage),
			"publish_type": withDefault(req.PublishType, DefaultPublishType),
			"version":      withDefault(req.Version, DefaultVersion),
		},
	}, "POST")
	if err != nil {
		return "", fmt.Errorf("schema.get: %w", err)
	}

	const key = "alibaba_icbu_product_schema_get_response"
	inner, ok := resp[key].(map[string]any)
	if !ok {
		return "", fmt.Errorf("schema.get: unexpected response shape: missing %s", key)
	}
	if types.Stringify(inner["biz_success"]) != "true" {
		return "", fmt.Errorf("schema.get: business failure: %s", describe(inner))
	}
	data := types.Stringify(inner["data"])
	if strings.TrimSpace(data) == "" {
		return "", fmt.Errorf("schema.get: empty schema data")
	}

	s.logger.Debug("schema fetched", zap.String("cat_id", req.CatID), zap.Int("bytes", len(data)))
	return data, nil
}

// Publish submits a filled product XML.
func (s *Service) Publish(ctx context.Context, token string, req PublishRequest) (Response, error) {
	resp, err := s.caller.Call(ctx, APISchemaAdd, token, map[string]any{
		PublishRequestParam: map[string]any{
			"cat_id":          req.CatID,
			"language":        withDefault(req.Language, DefaultLanguage),
			"publish_type":    withDefault(req.PublishType, DefaultPublishType),
			"version":         withDefault(req.Version, DefaultVersion),
			"xml":             req.XML,
			"schemaXmlFields": req.SchemaXMLFields,
		},
	}, "POST")
	if err != nil {
		return resp, fmt.Errorf("schema.add: %w", err)
	}
	s.logger.Info("product submitted", zap.String("cat_id", req.CatID), zap.String("fields", req.SchemaXMLFields))
	return resp, nil
}

func describe(m map[string]any) string {
	parts := make([]string, 0, 2)
	for _, k := range []string{"message_info", "msg_code", "message", "code"} {
		if v := types.Stringify(m[k]); v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	if len(parts) == 0 {
		return "biz_success is false"
	}
	return strings.Join(parts, " ")
}

// dig walks nested maps along keys.
func dig(m map[string]any, keys ...string) (any, bool) {
	var cur any = m
	for _, k := range keys {
		next, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = next[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}
