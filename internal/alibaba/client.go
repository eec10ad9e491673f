// =============================================================================
// ICBU Broker - Alibaba Open Platform Client
// =============================================================================
//
// This module talks to the Alibaba IOP gateway. Every request carries the
// system parameters (app_key, timestamp, sign_method, partner_id and, for
// seller calls, access_token) and is signed with HMAC-SHA256:
//
//   sign = HEX_UPPER(HMAC_SHA256(secret, [api] + k1v1 + k2v2 + ...))
//
// where the keys are sorted and the API name is only prefixed for REST style
// names such as "/auth/token/create". Dotted names such as
// "alibaba.icbu.product.schema.get" are sent as the "method" parameter.
//
// Binary parameters ([]byte) travel as multipart file parts and are not part
// of the signature.
//
// =============================================================================

package alibaba

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/config"
	"github.com/billlvtech/icbu-broker/internal/types"
)

// SignMethod is the only signing scheme the gateway is asked to verify.
const SignMethod = "sha256"

// PublishRequestParam must be sent as a JSON string, never as nested form
// fields.
const PublishRequestParam = "param_product_top_publish_request"

// Response is a decoded gateway body.
type Response map[string]any

// APIError is the error envelope returned by the gateway, e.g.
// {"type":"ISV","code":"IllegalAccessToken","message":"...","request_id":"..."}.
type APIError struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("alibaba api error %s", e.Code)
	if e.Type != "" {
		msg += fmt.Sprintf(" (%s)", e.Type)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" [request_id=%s]", e.RequestID)
	}
	return msg
}

// Caller is the surface the services need. *Client implements it and tests
// substitute a fake.
type Caller interface {
	Call(ctx context.Context, api, accessToken string, params map[string]any, method string) (Response, error)
}

// Client signs and sends gateway requests.
type Client struct {
	appKey      string
	appSecret   string
	partnerID   string
	apiURL      string
	tokenURL    string
	oauthURL    string
	redirectURI string

	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

var _ Caller = (*Client)(nil)

// NewClient builds a client from the alibaba config section.
func NewClient(cfg config.AlibabaConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		appKey:      cfg.AppKey,
		appSecret:   cfg.AppSecret,
		partnerID:   cfg.PartnerID,
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		tokenURL:    strings.TrimRight(cfg.TokenURL, "/"),
		oauthURL:    strings.TrimRight(cfg.OAuthBaseURL, "/"),
		redirectURI: cfg.RedirectURI,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
		now:         time.Now,
	}
}

// AuthorizeURL is where the seller is sent to grant access.
func (c *Client) AuthorizeURL() string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("force_auth", "true")
	q.Set("redirect_uri", c.redirectURI)
	q.Set("client_id", c.appKey)
	return c.oauthURL + "/oauth/authorize?" + q.Encode()
}

// ExchangeCode trades an authorization code for a token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Response, error) {
	return c.execute(ctx, c.tokenURL, "/auth/token/create", "", map[string]any{"code": code}, http.MethodPost)
}

// RefreshToken trades a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (Response, error) {
	return c.execute(ctx, c.tokenURL, "/auth/token/refresh", "", map[string]any{"refresh_token": refreshToken}, http.MethodPost)
}

// Call invokes a business API on behalf of the seller owning accessToken.
// Nil parameters are dropped. An empty method means POST.
func (c *Client) Call(ctx context.Context, api, accessToken string, params map[string]any, method string) (Response, error) {
	return c.execute(ctx, c.apiURL, api, accessToken, params, method)
}

// =============================================================================
// REQUEST BUILDING
// =============================================================================

type request struct {
	endpoint string
	fields   map[string]string
	files    map[string][]byte
}

func (c *Client) build(base, api, accessToken string, params map[string]any) (*request, error) {
	req := &request{
		endpoint: base,
		fields:   make(map[string]string),
		files:    make(map[string][]byte),
	}

	for k, v := range params {
		if v == nil {
			continue
		}
		if b, ok := v.([]byte); ok {
			req.files[k] = b
			continue
		}
		s, err := paramString(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", k, err)
		}
		req.fields[k] = s
	}

	req.fields["app_key"] = c.appKey
	req.fields["timestamp"] = strconv.FormatInt(c.now().UnixMilli(), 10)
	req.fields["sign_method"] = SignMethod
	if c.partnerID != "" {
		req.fields["partner_id"] = c.partnerID
	}
	if accessToken != "" {
		req.fields["access_token"] = accessToken
	}

	signAPI := ""
	if strings.Contains(api, "/") {
		req.endpoint = base + api
		signAPI = api
	} else {
		req.fields["method"] = api
	}
	req.fields["sign"] = Sign(c.appSecret, signAPI, req.fields)
	return req, nil
}

// Sign computes the gateway signature over fields. api is only non-empty
// for REST style API names.
func Sign(secret, api string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(api)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(fields[k])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

func paramString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case map[string]any, []any, []string, []map[string]any:
		return StableJSON(t)
	}
	return types.Stringify(v), nil
}

// StableJSON encodes v compactly with sorted keys and without HTML
// escaping. The gateway compares the signed string byte for byte.
func StableJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) execute(ctx context.Context, base, api, accessToken string, params map[string]any, method string) (Response, error) {
	if method == "" {
		method = http.MethodPost
	}
	method = strings.ToUpper(method)

	req, err := c.build(base, api, accessToken, params)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newHTTPRequest(ctx, method, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", api, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response of %s: %w", api, err)
	}

	c.logger.Debug("alibaba api call",
		zap.String("api", api),
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	return decodeResponse(api, resp.StatusCode, body)
}

func (c *Client) newHTTPRequest(ctx context.Context, method string, req *request) (*http.Request, error) {
	values := url.Values{}
	for k, v := range req.fields {
		values.Set(k, v)
	}

	if method == http.MethodGet {
		return http.NewRequestWithContext(ctx, method, req.endpoint+"?"+values.Encode(), nil)
	}

	if len(req.files) == 0 {
		httpReq, err := http.NewRequestWithContext(ctx, method, req.endpoint, strings.NewReader(values.Encode()))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
		return httpReq, nil
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range req.fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	for k, data := range req.files {
		part, err := w.CreateFormFile(k, k)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.endpoint, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	return httpReq, nil
}

func decodeResponse(api string, status int, body []byte) (Response, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var out Response
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid response from %s (status %d): %w", api, status, err)
	}

	if code := types.Stringify(out["code"]); code != "" && code != "0" {
		return out, &APIError{
			Type:      types.Stringify(out["type"]),
			Code:      code,
			Message:   types.Stringify(out["message"]),
			RequestID: types.Stringify(out["request_id"]),
		}
	}
	return out, nil
}
