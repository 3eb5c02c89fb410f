package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/torii-authz/torii/internal/services"
)

// SchemaHandler serves the schema management endpoints
type SchemaHandler struct {
	schemaService services.SchemaServiceInterface
}

// NewSchemaHandler creates a new SchemaHandler
func NewSchemaHandler(schemaService services.SchemaServiceInterface) *SchemaHandler {
	return &SchemaHandler{schemaService: schemaService}
}

type writeSchemaRequest struct {
	Schema string `json:"schema" binding:"required"`
}

// Write handles POST /v1/tenants/:tenant/schemas.
// The DSL is compiled before anything is stored; on failure the response
// lists every compilation error.
func (h *SchemaHandler) Write(c *gin.Context) {
	var req writeSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schema is required"})
		return
	}

	version, err := h.schemaService.WriteSchema(c.Request.Context(), c.Param("tenant"), req.Schema)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"schema_version": version})
}

// Read handles GET /v1/tenants/:tenant/schemas.
// The "version" query parameter pins a version; default is the latest.
func (h *SchemaHandler) Read(c *gin.Context) {
	schema, err := h.schemaService.ReadSchema(c.Request.Context(), c.Param("tenant"), c.Query("version"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"schema":         schema.DSL,
		"schema_version": schema.Version,
		"created_at":     schema.CreatedAt.Format(time.RFC3339),
	})
}

type validateSchemaRequest struct {
	Schema string `json:"schema" binding:"required"`
}

// Validate handles POST /v1/schemas/validate: compile without storing.
func (h *SchemaHandler) Validate(c *gin.Context) {
	var req validateSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schema is required"})
		return
	}

	if err := h.schemaService.ValidateSchema(c.Request.Context(), req.Schema); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// ListVersions handles GET /v1/tenants/:tenant/schemas/versions.
func (h *SchemaHandler) ListVersions(c *gin.Context) {
	versions, err := h.schemaService.ListSchemaVersions(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		respondError(c, err)
		return
	}

	type versionDTO struct {
		Version   string `json:"version"`
		CreatedAt string `json:"created_at"`
	}
	dtos := make([]versionDTO, len(versions))
	for i, v := range versions {
		dtos[i] = versionDTO{
			Version:   v.Version,
			CreatedAt: v.CreatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{"versions": dtos})
}

// Delete handles DELETE /v1/tenants/:tenant/schemas.
func (h *SchemaHandler) Delete(c *gin.Context) {
	if err := h.schemaService.DeleteSchema(c.Request.Context(), c.Param("tenant")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
