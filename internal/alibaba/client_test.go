package alibaba

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billlvtech/icbu-broker/internal/config"
)

func TestSign(t *testing.T) {
	fields := map[string]string{
		"app_key":     "12345",
		"timestamp":   "1700000000000",
		"sign_method": "sha256",
		"method":      "alibaba.icbu.product.schema.get",
		"sign":        "ignored",
	}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("app_key12345methodalibaba.icbu.product.schema.getsign_methodsha256timestamp1700000000000"))
	want := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	assert.Equal(t, want, Sign("secret", "", fields))

	restMac := hmac.New(sha256.New, []byte("secret"))
	restMac.Write([]byte("/auth/token/createcodeabc"))
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(restMac.Sum(nil))),
		Sign("secret", "/auth/token/create", map[string]string{"code": "abc"}))
}

func TestStableJSON(t *testing.T) {
	out, err := StableJSON(map[string]any{
		"version":  "trade.1.1",
		"cat_id":   "202220072",
		"xml":      "<itemSchema>&</itemSchema>",
		"language": "en_US",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"cat_id":"202220072","language":"en_US","version":"trade.1.1","xml":"<itemSchema>&</itemSchema>"}`, out)
}

type gateway struct {
	t      *testing.T
	secret string
	reply  string
	last   url.Values
	path   string
	method string
	files  map[string]string
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.path = r.URL.Path
	g.method = r.Method
	g.files = map[string]string{}

	switch {
	case r.Method == http.MethodGet:
		g.last = r.URL.Query()
	case strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/"):
		require.NoError(g.t, r.ParseMultipartForm(1<<20))
		g.last = url.Values(r.MultipartForm.Value)
		for name, headers := range r.MultipartForm.File {
			f, err := headers[0].Open()
			require.NoError(g.t, err)
			data, _ := io.ReadAll(f)
			f.Close()
			g.files[name] = string(data)
		}
	default:
		require.NoError(g.t, r.ParseForm())
		g.last = r.PostForm
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, g.reply)
}

func (g *gateway) fields() map[string]string {
	out := make(map[string]string, len(g.last))
	for k := range g.last {
		out[k] = g.last.Get(k)
	}
	return out
}

func newTestClient(t *testing.T, reply string) (*Client, *gateway) {
	t.Helper()
	gw := &gateway{t: t, secret: "s3cr3t", reply: reply}
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	c := NewClient(config.AlibabaConfig{
		AppKey:       "app-1",
		AppSecret:    gw.secret,
		PartnerID:    "iop-sdk-go",
		APIURL:       srv.URL + "/rest",
		TokenURL:     srv.URL + "/rest",
		OAuthBaseURL: "https://openapi-auth.alibaba.com/",
		RedirectURI:  "https://broker.example.com/api/alibaba/callback",
		Timeout:      5 * time.Second,
	}, nil)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c, gw
}

func TestClient_CallSignsBusinessAPI(t *testing.T) {
	c, gw := newTestClient(t, `{"alibaba_icbu_category_get_response":{"ok":true},"request_id":"r1"}`)

	resp, err := c.Call(context.Background(), "alibaba.icbu.category.get", "tok", map[string]any{
		"parentId": 0,
		"skip":     nil,
		PublishRequestParam: map[string]any{
			"language": "en_US",
			"cat_id":   "1",
		},
	}, "")
	require.NoError(t, err)
	assert.Contains(t, resp, "alibaba_icbu_category_get_response")

	assert.Equal(t, "/rest", gw.path)
	assert.Equal(t, http.MethodPost, gw.method)

	fields := gw.fields()
	assert.Equal(t, "alibaba.icbu.category.get", fields["method"])
	assert.Equal(t, "app-1", fields["app_key"])
	assert.Equal(t, "tok", fields["access_token"])
	assert.Equal(t, "1700000000000", fields["timestamp"])
	assert.Equal(t, "sha256", fields["sign_method"])
	assert.Equal(t, "iop-sdk-go", fields["partner_id"])
	assert.Equal(t, "0", fields["parentId"])
	assert.Equal(t, `{"cat_id":"1","language":"en_US"}`, fields[PublishRequestParam])
	assert.NotContains(t, fields, "skip")
	assert.Equal(t, Sign(gw.secret, "", fields), fields["sign"])
}

func TestClient_RestAPIAndGet(t *testing.T) {
	c, gw := newTestClient(t, `{"seller_id":"42"}`)

	_, err := c.Call(context.Background(), "/param2/1/system/currentUserInfo/", "tok", nil, "get")
	require.NoError(t, err)

	assert.Equal(t, "/rest/param2/1/system/currentUserInfo/", gw.path)
	assert.Equal(t, http.MethodGet, gw.method)
	fields := gw.fields()
	assert.NotContains(t, fields, "method")
	assert.Equal(t, Sign(gw.secret, "/param2/1/system/currentUserInfo/", fields), fields["sign"])
}

func TestClient_ExchangeAndRefresh(t *testing.T) {
	c, gw := newTestClient(t, `{"access_token":"a","seller_id":"42","expires_in":3600}`)

	resp, err := c.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "/rest/auth/token/create", gw.path)
	assert.Equal(t, "the-code", gw.fields()["code"])
	assert.Equal(t, "42", Token(resp).SellerID())
	assert.Equal(t, int64(3600), Token(resp).ExpiresIn())

	_, err = c.RefreshToken(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "/rest/auth/token/refresh", gw.path)
	assert.Equal(t, "r-1", gw.fields()["refresh_token"])
	assert.NotContains(t, gw.fields(), "access_token")
}

func TestClient_Multipart(t *testing.T) {
	c, gw := newTestClient(t, `{"upload_image_response":{"photobank_url":"https://img"}}`)

	_, err := c.Call(context.Background(), "alibaba.icbu.photobank.upload", "tok", map[string]any{
		"file_name":   "a.png",
		"image_bytes": []byte("PNGDATA"),
	}, "POST")
	require.NoError(t, err)

	assert.Equal(t, "PNGDATA", gw.files["image_bytes"])
	fields := gw.fields()
	assert.Equal(t, "a.png", fields["file_name"])
	assert.NotContains(t, fields, "image_bytes")
	assert.Equal(t, Sign(gw.secret, "", fields), fields["sign"])
}

func TestClient_ErrorEnvelope(t *testing.T) {
	c, _ := newTestClient(t, `{"type":"ISV","code":"IllegalAccessToken","message":"The specified access token is invalid","request_id":"abc"}`)

	_, err := c.Call(context.Background(), "alibaba.icbu.product.group.get", "bad", nil, "POST")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "IllegalAccessToken", apiErr.Code)
	assert.Equal(t, "ISV", apiErr.Type)
	assert.Equal(t, "abc", apiErr.RequestID)
	assert.Contains(t, err.Error(), "token is invalid")
}

func TestClient_ZeroCodeIsSuccess(t *testing.T) {
	c, _ := newTestClient(t, `{"code":"0","data":{}}`)
	_, err := c.Call(context.Background(), "alibaba.icbu.product.group.get", "tok", nil, "POST")
	assert.NoError(t, err)
}

func TestClient_InvalidJSON(t *testing.T) {
	c, _ := newTestClient(t, `<html>gateway down</html>`)
	_, err := c.Call(context.Background(), "alibaba.icbu.product.group.get", "tok", nil, "POST")
	assert.ErrorContains(t, err, "invalid response")
}

func TestClient_AuthorizeURL(t *testing.T) {
	c, _ := newTestClient(t, `{}`)

	u, err := url.Parse(c.AuthorizeURL())
	require.NoError(t, err)
	assert.Equal(t, "openapi-auth.alibaba.com", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "true", q.Get("force_auth"))
	assert.Equal(t, "app-1", q.Get("client_id"))
	assert.Equal(t, "https://broker.example.com/api/alibaba/callback", q.Get("redirect_uri"))
}
