package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/billlvtech/icbu-broker/internal/mapper"
	"github.com/billlvtech/icbu-broker/internal/schema"
	"github.com/billlvtech/icbu-broker/internal/types"
	"github.com/billlvtech/icbu-broker/internal/validation"
)

type schemaRequest struct {
	SchemaXML string           `json:"schema_xml"`
	Rows      []map[string]any `json:"rows"`
	Data      map[string]any   `json:"data"`
}

func bindSchema(c *gin.Context) (*schemaRequest, []*types.Field, bool) {
	var req schemaRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SchemaXML == "" {
		reply(c, http.StatusBadRequest, 400, "schema_xml required", nil)
		return nil, nil, false
	}
	tree, err := schema.Parse(req.SchemaXML)
	if err != nil {
		reply(c, http.StatusBadRequest, 400, err.Error(), nil)
		return nil, nil, false
	}
	return &req, tree, true
}

// ParseSchema returns the field tree of a schema document.
func (h *Handler) ParseSchema(c *gin.Context) {
	_, tree, ok := bindSchema(c)
	if !ok {
		return
	}
	reply(c, http.StatusOK, 0, "ok", tree)
}

// ValidateSchema maps rows against a schema and runs both validators.
func (h *Handler) ValidateSchema(c *gin.Context) {
	req, tree, ok := bindSchema(c)
	if !ok {
		return
	}

	flats, err := mapper.New(tree).MapRows(req.Rows)
	if err != nil {
		var unsupported *mapper.UnsupportedValueError
		if errors.As(err, &unsupported) {
			reply(c, http.StatusUnprocessableEntity, 422, err.Error(), nil)
			return
		}
		reply(c, http.StatusBadRequest, 400, err.Error(), nil)
		return
	}

	reports := make([]*types.ValidationResult, 0, len(flats))
	for _, flat := range flats {
		reports = append(reports, validation.Validate(tree, flat))
	}
	reply(c, http.StatusOK, 0, "ok", gin.H{
		"data":       flats,
		"validation": types.Merge(reports...),
	})
}

// FillSchema fills the schema template with data.
func (h *Handler) FillSchema(c *gin.Context) {
	req, _, ok := bindSchema(c)
	if !ok {
		return
	}
	filler, err := schema.NewFiller(req.SchemaXML, h.logger)
	if err != nil {
		reply(c, http.StatusBadRequest, 400, err.Error(), nil)
		return
	}
	result, err := filler.Fill(req.Data)
	if err != nil {
		reply(c, http.StatusInternalServerError, 500, fmt.Sprintf("fill failed: %v", err), nil)
		return
	}
	reply(c, http.StatusOK, 0, "ok", result)
}
