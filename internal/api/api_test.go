package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/billlvtech/icbu-broker/internal/alibaba"
	"github.com/billlvtech/icbu-broker/internal/storage"
	"github.com/billlvtech/icbu-broker/internal/youtube"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSchema = `<itemSchema>
  <field id="productTitle" name="Product name" type="input">
    <rules><rule name="requiredRule" value="true"/></rules>
  </field>
  <field id="color" name="Color" type="singleCheck">
    <options>
      <option value="red" displayName="Red"/>
      <option value="blue" displayName="Blue"/>
    </options>
  </field>
</itemSchema>`

// =============================================================================
// FAKES
// =============================================================================

// fakeGateway stands in for the Alibaba client: OAuth, API calls and
// token refresh.
type fakeGateway struct {
	mu         sync.Mutex
	responses  map[string]alibaba.Response
	calls      []string
	tokens     []string
	methods    []string
	exchange   alibaba.Response
	refresh    alibaba.Response
	refreshErr error
}

func (g *fakeGateway) AuthorizeURL() string {
	return "https://auth.example.com/oauth/authorize?client_id=k"
}

func (g *fakeGateway) ExchangeCode(_ context.Context, code string) (alibaba.Response, error) {
	if code == "bad" {
		return nil, errors.New("invalid code")
	}
	return g.exchange, nil
}

func (g *fakeGateway) RefreshToken(_ context.Context, _ string) (alibaba.Response, error) {
	if g.refreshErr != nil {
		return nil, g.refreshErr
	}
	return g.refresh, nil
}

func (g *fakeGateway) Call(_ context.Context, api, token string, _ map[string]any, method string) (alibaba.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, api)
	g.tokens = append(g.tokens, token)
	g.methods = append(g.methods, method)
	resp, ok := g.responses[api]
	if !ok {
		return nil, fmt.Errorf("unexpected api %s", api)
	}
	return resp, nil
}

type staticDownloader struct {
	meta *youtube.VideoMeta
	err  error
}

func (d staticDownloader) Download(_ context.Context, _, _ string) (*youtube.VideoMeta, error) {
	return d.meta, d.err
}

type mapResolver map[string]string

func (m mapResolver) ResolveFile(videoID, kind string) (string, error) {
	if kind != youtube.KindVideo && kind != youtube.KindAudio {
		return "", youtube.ErrInvalidKind
	}
	path, ok := m[videoID+"/"+kind]
	if !ok {
		return "", youtube.ErrMetaNotFound
	}
	if path == "" {
		return "", &youtube.PathNotInMetaError{Key: "audio_path"}
	}
	return path, nil
}

type testEnv struct {
	router  *gin.Engine
	gateway *fakeGateway
	tokens  *alibaba.TokenService
	logs    *observer.ObservedLogs
}

func newTestEnv(t *testing.T, downloader youtube.Downloader, files FileResolver) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	gw := &fakeGateway{responses: map[string]alibaba.Response{}}
	store := storage.NewMemoryStore()
	tokens := alibaba.NewTokenService(store, gw, "", time.Hour, logger)
	flow := alibaba.NewFlow(alibaba.NewService(gw, logger), alibaba.FlowOptions{DefaultCategoryID: "100"}, logger)

	if downloader == nil {
		downloader = staticDownloader{err: errors.New("no downloader")}
	}
	tasks := youtube.NewManager(store, downloader, youtube.ManagerOptions{TTL: time.Hour}, logger)
	t.Cleanup(tasks.Wait)

	router := NewRouter(Deps{
		OAuth:           gw,
		Caller:          gw,
		Tokens:          tokens,
		Flow:            flow,
		Tasks:           tasks,
		Files:           files,
		DefaultSellerID: "s1",
		AllowedOrigins:  []string{"http://localhost:5173"},
		Logger:          logger,
	})
	return &testEnv{router: router, gateway: gw, tokens: tokens, logs: logs}
}

func (e *testEnv) saveToken(t *testing.T, token alibaba.Token) {
	t.Helper()
	require.NoError(t, e.tokens.SaveToken(context.Background(), token))
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, target string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	w := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ok"])
	assert.Equal(t, 1, env.logs.FilterMessage("HTTP request").Len())
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})

	req := httptest.NewRequest(http.MethodOptions, "/api/youtube/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := env.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Content-Disposition", w.Header().Get("Access-Control-Expose-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	assert.Empty(t, env.do(req).Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/youtube/download", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	assert.Empty(t, env.do(req).Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.router.GET("/api/boom", func(*gin.Context) { panic("boom") })

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["code"])
	assert.Equal(t, "Internal server error", body["msg"])
	assert.Equal(t, 1, env.logs.FilterMessage("unhandled panic").Len())
}

// =============================================================================
// OAUTH
// =============================================================================

func TestAuthorize(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/alibaba/auth", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, env.gateway.AuthorizeURL(), w.Header().Get("Location"))
}

func TestCallback(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.gateway.exchange = alibaba.Response{"seller_id": "s9", "access_token": "abc", "expires_in": 3600}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/alibaba/callback", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing code", decode(t, w)["msg"])

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/alibaba/callback?code=bad", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["msg"], "invalid code")

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/alibaba/callback?code=ok", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(0), body["code"])
	assert.Equal(t, "authorized", body["msg"])

	stored, err := env.tokens.LoadBySellerID(context.Background(), "s9")
	require.NoError(t, err)
	assert.Equal(t, "abc", stored.AccessToken())
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.saveToken(t, alibaba.Token{"seller_id": "s1", "access_token": "old", "refresh_token": "r1", "refresh_expires_in": 100})
	env.gateway.refresh = alibaba.Response{"seller_id": "s1", "access_token": "new"}

	w := env.do(jsonRequest(http.MethodPost, "/api/alibaba/refresh", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing seller_id", decode(t, w)["msg"])

	w = env.do(jsonRequest(http.MethodPost, "/api/alibaba/refresh", map[string]string{"seller_id": "s1"}))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "refresh ok", body["msg"])
	assert.Equal(t, "new", body["data"].(map[string]any)["access_token"])

	form := httptest.NewRequest(http.MethodPost, "/api/alibaba/refresh", strings.NewReader("seller_id=s1"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	env.gateway.refreshErr = errors.New("expired")
	w = env.do(form)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(1), body["code"])
	assert.Equal(t, "cannot refresh, need re-authorize", body["msg"])
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.gateway.responses[CurrentUserAPI] = alibaba.Response{"login_id": "seller"}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/alibaba/me", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/alibaba/me?seller_id=s1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "no token, please authorize first", decode(t, w)["msg"])

	env.saveToken(t, alibaba.Token{"seller_id": "s1", "access_token": "tok"})
	w = env.do(httptest.NewRequest(http.MethodGet, "/api/alibaba/me?seller_id=s1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "seller", decode(t, w)["data"].(map[string]any)["login_id"])
	assert.Equal(t, []string{"tok"}, env.gateway.tokens)
}

// =============================================================================
// DEBUG
// =============================================================================

func TestCallAPI(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.gateway.responses["alibaba.icbu.category.get.new"] = alibaba.Response{"ok": true}

	tests := []struct {
		name string
		body map[string]any
		code int
		msg  string
	}{
		{"missing api", map[string]any{"access_token": "t"}, http.StatusBadRequest, "api_name required"},
		{"missing credentials", map[string]any{"api_name": "alibaba.icbu.category.get.new"}, http.StatusBadRequest, "either access_token or seller_id is required"},
		{"unknown seller", map[string]any{"api_name": "alibaba.icbu.category.get.new", "seller_id": "nobody"}, http.StatusUnauthorized, "no token for seller, please authorize first"},
		{"gateway error", map[string]any{"api_name": "unknown.api", "access_token": "t"}, http.StatusInternalServerError, "call api failed: unexpected api unknown.api"},
		{"explicit token", map[string]any{"api_name": "alibaba.icbu.category.get.new", "access_token": "t"}, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(jsonRequest(http.MethodPost, "/api/alibaba_debug/call", tt.body))
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.msg, decode(t, w)["msg"])
		})
	}

	env.gateway.mu.Lock()
	defer env.gateway.mu.Unlock()
	assert.Equal(t, http.MethodPost, env.gateway.methods[len(env.gateway.methods)-1])
}

func TestPublishMinimal_NoToken(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	w := env.do(httptest.NewRequest(http.MethodPost, "/api/alibaba_debug/publish/minimal", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, env.gateway.calls)
}

func schemaGetResponse(xml string) alibaba.Response {
	return alibaba.Response{
		"alibaba_icbu_product_schema_get_response": map[string]any{"biz_success": true, "data": xml},
	}
}

func TestTemplateGenerator(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.saveToken(t, alibaba.Token{"seller_id": "s1", "access_token": "tok"})
	env.gateway.responses[alibaba.APISchemaGet] = schemaGetResponse(testSchema)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/alibaba_debug/publish/template_generator?cat_id=42", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, XLSXContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), TemplateFileName)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}

func TestPublishRows_ValidationFailure(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.saveToken(t, alibaba.Token{"seller_id": "s1", "access_token": "tok"})
	env.gateway.responses[alibaba.APISchemaGet] = schemaGetResponse(testSchema)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "rows.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("Color\nred\n"))
	require.NoError(t, mw.WriteField("cat_id", "42"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/alibaba_debug/publish/rows", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := env.do(req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, "validation failed", decode(t, w)["msg"])
	assert.NotContains(t, env.gateway.calls, alibaba.APISchemaAdd)
}

func rowsUpload(t *testing.T, csv string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "rows.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte(csv))
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/alibaba_debug/publish/rows", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPublishRows_SellerFromForm(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.saveToken(t, alibaba.Token{"seller_id": "s2", "access_token": "tok-s2"})
	env.gateway.responses[alibaba.APISchemaGet] = schemaGetResponse(testSchema)

	w := env.do(rowsUpload(t, "Color\nred\n", map[string]string{"cat_id": "42", "seller_id": "s2"}))

	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	env.gateway.mu.Lock()
	defer env.gateway.mu.Unlock()
	assert.Equal(t, []string{"tok-s2"}, env.gateway.tokens)
}

func TestPublishRows_UnsupportedValue(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.saveToken(t, alibaba.Token{"seller_id": "s1", "access_token": "tok"})
	env.gateway.responses[alibaba.APISchemaGet] = schemaGetResponse(testSchema)

	w := env.do(rowsUpload(t, "Product name,Color\nCup,green\n", map[string]string{"cat_id": "42"}))

	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(422), body["code"])
	assert.Contains(t, body["msg"], "color")
	assert.NotContains(t, env.gateway.calls, alibaba.APISchemaAdd)
}

func TestPublishRows_MissingFile(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	env.saveToken(t, alibaba.Token{"seller_id": "s1", "access_token": "tok"})
	w := env.do(httptest.NewRequest(http.MethodPost, "/api/alibaba_debug/publish/rows", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file required", decode(t, w)["msg"])
}

func TestSchemaEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})

	w := env.do(jsonRequest(http.MethodPost, "/api/alibaba_debug/schema/parse", map[string]any{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "schema_xml required", decode(t, w)["msg"])

	w = env.do(jsonRequest(http.MethodPost, "/api/alibaba_debug/schema/parse", map[string]any{"schema_xml": testSchema}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 2)

	w = env.do(jsonRequest(http.MethodPost, "/api/alibaba_debug/schema/validate", map[string]any{
		"schema_xml": testSchema,
		"rows":       []map[string]any{{"Color": "red"}},
	}))
	require.Equal(t, http.StatusOK, w.Code)
	report := decode(t, w)["data"].(map[string]any)["validation"].(map[string]any)
	assert.Equal(t, false, report["ok"])

	w = env.do(jsonRequest(http.MethodPost, "/api/alibaba_debug/schema/fill", map[string]any{
		"schema_xml": testSchema,
		"data":       map[string]any{"productTitle": "Cup", "color": "blue"},
	}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["data"].(map[string]any)["xml"], "Cup")
}

// =============================================================================
// YOUTUBE
// =============================================================================

func TestCreateTask_RequiresURL(t *testing.T) {
	env := newTestEnv(t, nil, mapResolver{})
	w := env.do(jsonRequest(http.MethodPost, "/api/youtube/tasks", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "url is required", decode(t, w)["error"])
}

func TestTaskLifecycle(t *testing.T) {
	size := int64(11)
	meta := &youtube.VideoMeta{VideoID: "abc", Title: "Clip", Duration: 3, VideoPath: "/tmp/abc/video.mp4", FileSize: &size}
	env := newTestEnv(t, staticDownloader{meta: meta}, mapResolver{})

	w := env.do(jsonRequest(http.MethodPost, "/api/youtube/tasks", map[string]string{"url": "https://youtu.be/abc"}))
	require.Equal(t, http.StatusOK, w.Code)
	id, _ := decode(t, w)["task_id"].(string)
	require.Len(t, id, 32)

	var body map[string]any
	require.Eventually(t, func() bool {
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/youtube/tasks/"+id, nil))
		body = decode(t, w)
		return body["status"] == youtube.StatusFinished
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(100), body["progress"])
	assert.Equal(t, "Clip", body["title"])
	assert.Equal(t, float64(11), body["filesize"])
	assert.Nil(t, body["audio_path"])
}

func TestTaskError(t *testing.T) {
	env := newTestEnv(t, staticDownloader{err: errors.New("yt-dlp failed")}, mapResolver{})

	w := env.do(jsonRequest(http.MethodPost, "/api/youtube/tasks", map[string]string{"url": "https://youtu.be/abc"}))
	id, _ := decode(t, w)["task_id"].(string)

	require.Eventually(t, func() bool {
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/youtube/tasks/"+id, nil))
		if w.Code != http.StatusInternalServerError {
			return false
		}
		assert.Contains(t, decode(t, w)["error"], "yt-dlp failed")
		return true
	}, 2*time.Second, 10*time.Millisecond)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/youtube/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "task not found", decode(t, w)["error"])
}

func TestDownload(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(video, []byte("mp4 content"), 0o644))
	env := newTestEnv(t, nil, mapResolver{"abc/video": video, "abc/audio": ""})

	tests := []struct {
		name   string
		target string
		code   int
		errMsg string
	}{
		{"missing id", "/api/youtube/download", http.StatusBadRequest, "id is required"},
		{"invalid type", "/api/youtube/download?id=abc&type=subs", http.StatusBadRequest, "invalid type"},
		{"unknown id", "/api/youtube/download?id=zzz", http.StatusNotFound, "not found"},
		{"no audio", "/api/youtube/download?id=abc&type=audio", http.StatusNotFound, "audio_path not in meta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.errMsg, decode(t, w)["error"])
		})
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/youtube/download?id=abc", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mp4 content", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "video.mp4")
}
