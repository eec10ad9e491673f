package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/alibaba"
	"github.com/billlvtech/icbu-broker/internal/mapper"
	"github.com/billlvtech/icbu-broker/internal/spreadsheet"
)

// TemplateFileName is the attachment name of the generated template.
const TemplateFileName = "products_template.xlsx"

// XLSXContentType is the MIME type of .xlsx workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CurrentUserAPI is called by /me.
const CurrentUserAPI = "/param2/1/system/currentUserInfo/"

func reply(c *gin.Context, status, code int, msg string, data any) {
	body := gin.H{"code": code, "msg": msg}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// =============================================================================
// OAUTH
// =============================================================================

// Authorize redirects the seller to the Alibaba consent page.
func (h *Handler) Authorize(c *gin.Context) {
	c.Redirect(http.StatusFound, h.deps.OAuth.AuthorizeURL())
}

// Callback exchanges the authorization code and stores the token.
func (h *Handler) Callback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		reply(c, http.StatusBadRequest, 400, "missing code", nil)
		return
	}

	data, err := h.deps.OAuth.ExchangeCode(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("token exchange failed", zap.Error(err))
		reply(c, http.StatusInternalServerError, 500, fmt.Sprintf("token exchange failed: %v", err), nil)
		return
	}
	if err := h.deps.Tokens.SaveToken(c.Request.Context(), alibaba.Token(data)); err != nil {
		h.logger.Error("failed to save token", zap.Error(err))
		reply(c, http.StatusInternalServerError, 500, fmt.Sprintf("save token failed: %v", err), nil)
		return
	}
	reply(c, http.StatusOK, 0, "authorized", data)
}

// Refresh refreshes a seller token on demand. seller_id comes from a JSON
// body or a form field.
func (h *Handler) Refresh(c *gin.Context) {
	var sellerID string
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var body struct {
			SellerID string `json:"seller_id"`
		}
		_ = c.ShouldBindJSON(&body)
		sellerID = body.SellerID
	} else {
		sellerID = c.PostForm("seller_id")
	}
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		reply(c, http.StatusBadRequest, 400, "missing seller_id", nil)
		return
	}

	fresh, err := h.deps.Tokens.RefreshIfPossible(c.Request.Context(), sellerID)
	if err != nil || fresh == nil {
		reply(c, http.StatusOK, 1, "cannot refresh, need re-authorize", nil)
		return
	}
	reply(c, http.StatusOK, 0, "refresh ok", fresh)
}

// Me calls the current user API for a seller.
func (h *Handler) Me(c *gin.Context) {
	sellerID := c.Query("seller_id")
	if sellerID == "" {
		reply(c, http.StatusBadRequest, 400, "missing seller_id", nil)
		return
	}

	token, err := h.deps.Tokens.GetValidAccessToken(c.Request.Context(), sellerID)
	if err != nil {
		reply(c, http.StatusUnauthorized, 401, "no token, please authorize first", nil)
		return
	}

	data, err := h.deps.Caller.Call(c.Request.Context(), CurrentUserAPI, token, nil, http.MethodPost)
	if err != nil {
		reply(c, http.StatusInternalServerError, 500, fmt.Sprintf("call api failed: %v", err), nil)
		return
	}
	reply(c, http.StatusOK, 0, "ok", data)
}

// =============================================================================
// DEBUG
// =============================================================================

type callRequest struct {
	APIName     string         `json:"api_name"`
	HTTPMethod  string         `json:"http_method"`
	SellerID    string         `json:"seller_id"`
	AccessToken string         `json:"access_token"`
	Params      map[string]any `json:"params"`
}

// CallAPI invokes any gateway API with either an explicit access token or
// the stored token of a seller.
func (h *Handler) CallAPI(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, http.StatusBadRequest, 400, "invalid json", nil)
		return
	}
	if req.APIName == "" {
		reply(c, http.StatusBadRequest, 400, "api_name required", nil)
		return
	}
	method := strings.ToUpper(req.HTTPMethod)
	if method == "" {
		method = http.MethodPost
	}

	token := req.AccessToken
	if token == "" {
		if req.SellerID == "" {
			reply(c, http.StatusBadRequest, 400, "either access_token or seller_id is required", nil)
			return
		}
		var err error
		if token, err = h.deps.Tokens.GetValidAccessToken(c.Request.Context(), req.SellerID); err != nil {
			reply(c, http.StatusUnauthorized, 401, "no token for seller, please authorize first", nil)
			return
		}
	}

	data, err := h.deps.Caller.Call(c.Request.Context(), req.APIName, token, req.Params, method)
	if err != nil {
		reply(c, http.StatusInternalServerError, 500, fmt.Sprintf("call api failed: %v", err), nil)
		return
	}
	reply(c, http.StatusOK, 0, "ok", data)
}

// sellerToken resolves the token of the seller named by the seller_id form
// field or query parameter, or of the configured default seller. It writes
// the error reply itself and returns false on failure.
func (h *Handler) sellerToken(c *gin.Context) (string, bool) {
	sellerID := strings.TrimSpace(c.PostForm("seller_id"))
	if sellerID == "" {
		sellerID = strings.TrimSpace(c.Query("seller_id"))
	}
	if sellerID == "" {
		sellerID = h.deps.DefaultSellerID
	}
	if sellerID == "" {
		reply(c, http.StatusBadRequest, 400, "missing seller_id", nil)
		return "", false
	}
	token, err := h.deps.Tokens.GetValidAccessToken(c.Request.Context(), sellerID)
	if err != nil {
		reply(c, http.StatusUnauthorized, 401, "no token for seller, please authorize first", nil)
		return "", false
	}
	return token, true
}

// PublishMinimal publishes the fixed test product for the default seller.
func (h *Handler) PublishMinimal(c *gin.Context) {
	token, ok := h.sellerToken(c)
	if !ok {
		return
	}
	resp, err := h.deps.Flow.PublishMinimal(c.Request.Context(), token, c.Query("cat_id"))
	if err != nil {
		h.logger.Error("minimal publish failed", zap.Error(err))
		reply(c, http.StatusInternalServerError, 500, fmt.Sprintf("publish failed: %v", err), nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PublishRows publishes the rows of an uploaded template (.xlsx or .csv).
func (h *Handler) PublishRows(c *gin.Context) {
	token, ok := h.sellerToken(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		reply(c, http.StatusBadRequest, 400, "file required", nil)
		return
	}
	f, err := header.Open()
	if err != nil {
		reply(c, http.StatusBadRequest, 400, fmt.Sprintf("cannot open upload: %v", err), nil)
		return
	}
	defer f.Close()

	var rows []map[string]any
	if strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		rows, err = spreadsheet.ReadCSVRows(f)
	} else {
		rows, err = spreadsheet.ReadRows(f, c.PostForm("sheet"))
	}
	if err != nil {
		reply(c, http.StatusBadRequest, 400, fmt.Sprintf("cannot read rows: %v", err), nil)
		return
	}

	result, err := h.deps.Flow.PublishRows(c.Request.Context(), token, c.PostForm("cat_id"), rows)
	var unsupported *mapper.UnsupportedValueError
	switch {
	case errors.Is(err, alibaba.ErrNoRows):
		reply(c, http.StatusBadRequest, 400, err.Error(), nil)
		return
	case errors.As(err, &unsupported):
		reply(c, http.StatusUnprocessableEntity, 422, err.Error(), nil)
		return
	case err != nil:
		reply(c, http.StatusInternalServerError, 500, fmt.Sprintf("publish failed: %v", err), nil)
		return
	}
	if !result.Validation.OK {
		reply(c, http.StatusUnprocessableEntity, 422, "validation failed", result)
		return
	}
	reply(c, http.StatusOK, 0, "ok", result)
}

// TemplateGenerator streams the Excel template of a category.
func (h *Handler) TemplateGenerator(c *gin.Context) {
	token, ok := h.sellerToken(c)
	if !ok {
		return
	}
	data, err := h.deps.Flow.GenerateTemplate(c.Request.Context(), token, c.Query("cat_id"))
	if err != nil {
		h.logger.Error("template generation failed", zap.Error(err))
		reply(c, http.StatusInternalServerError, 500, fmt.Sprintf("template generation failed: %v", err), nil)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", TemplateFileName))
	c.Data(http.StatusOK, XLSXContentType, data)
}
