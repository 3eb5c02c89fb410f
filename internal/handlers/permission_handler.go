package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/torii-authz/torii/internal/infrastructure/metrics"
	"github.com/torii-authz/torii/internal/services/authorization"
)

// PermissionHandler serves the check, expand and lookup endpoints
type PermissionHandler struct {
	checker  authorization.CheckerInterface
	expander *authorization.Expander
	lookup   authorization.LookupInterface
	exporter *metrics.PrometheusExporter
}

// NewPermissionHandler creates a new PermissionHandler. exporter may be nil.
func NewPermissionHandler(
	checker authorization.CheckerInterface,
	expander *authorization.Expander,
	lookup authorization.LookupInterface,
	exporter *metrics.PrometheusExporter,
) *PermissionHandler {
	return &PermissionHandler{
		checker:  checker,
		expander: expander,
		lookup:   lookup,
		exporter: exporter,
	}
}

type checkRequest struct {
	SchemaVersion    string                 `json:"schema_version,omitempty"`
	EntityType       string                 `json:"entity_type" binding:"required"`
	EntityID         string                 `json:"entity_id" binding:"required"`
	Permission       string                 `json:"permission" binding:"required"`
	SubjectType      string                 `json:"subject_type" binding:"required"`
	SubjectID        string                 `json:"subject_id" binding:"required"`
	ContextualTuples []tupleDTO             `json:"contextual_tuples,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty"`
}

// Check handles POST /v1/tenants/:tenant/check.
// A denied decision is a 200 with allowed=false; only resolution failures
// produce error statuses.
func (h *PermissionHandler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.checker.Check(c.Request.Context(), &authorization.CheckRequest{
		TenantID:         c.Param("tenant"),
		SchemaVersion:    req.SchemaVersion,
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
		Permission:       req.Permission,
		SubjectType:      req.SubjectType,
		SubjectID:        req.SubjectID,
		ContextualTuples: tuplesFromDTOs(req.ContextualTuples),
		ContextData:      req.Context,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if h.exporter != nil {
		if resp.Allowed {
			h.exporter.RecordDecision("allowed")
		} else {
			h.exporter.RecordDecision("denied")
		}
	}

	c.JSON(http.StatusOK, gin.H{"allowed": resp.Allowed})
}

type expandRequest struct {
	SchemaVersion string `json:"schema_version,omitempty"`
	EntityType    string `json:"entity_type" binding:"required"`
	EntityID      string `json:"entity_id" binding:"required"`
	Permission    string `json:"permission" binding:"required"`
}

// Expand handles POST /v1/tenants/:tenant/expand.
func (h *PermissionHandler) Expand(c *gin.Context) {
	var req expandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.expander.Expand(c.Request.Context(), &authorization.ExpandRequest{
		TenantID:      c.Param("tenant"),
		SchemaVersion: req.SchemaVersion,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Permission:    req.Permission,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tree": resp.Tree})
}

type lookupEntityRequest struct {
	SchemaVersion    string                 `json:"schema_version,omitempty"`
	EntityType       string                 `json:"entity_type" binding:"required"`
	Permission       string                 `json:"permission" binding:"required"`
	SubjectType      string                 `json:"subject_type" binding:"required"`
	SubjectID        string                 `json:"subject_id" binding:"required"`
	ContextualTuples []tupleDTO             `json:"contextual_tuples,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty"`
	PageSize         int                    `json:"page_size,omitempty"`
	PageToken        string                 `json:"page_token,omitempty"`
}

// LookupEntity handles POST /v1/tenants/:tenant/lookup/entities.
func (h *PermissionHandler) LookupEntity(c *gin.Context) {
	var req lookupEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.lookup.LookupEntity(c.Request.Context(), &authorization.LookupEntityRequest{
		TenantID:         c.Param("tenant"),
		SchemaVersion:    req.SchemaVersion,
		EntityType:       req.EntityType,
		Permission:       req.Permission,
		SubjectType:      req.SubjectType,
		SubjectID:        req.SubjectID,
		ContextualTuples: tuplesFromDTOs(req.ContextualTuples),
		ContextData:      req.Context,
		PageSize:         req.PageSize,
		PageToken:        req.PageToken,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity_ids":      resp.EntityIDs,
		"next_page_token": resp.NextPageToken,
	})
}

type lookupSubjectRequest struct {
	SchemaVersion    string                 `json:"schema_version,omitempty"`
	EntityType       string                 `json:"entity_type" binding:"required"`
	EntityID         string                 `json:"entity_id" binding:"required"`
	Permission       string                 `json:"permission" binding:"required"`
	SubjectType      string                 `json:"subject_type" binding:"required"`
	ContextualTuples []tupleDTO             `json:"contextual_tuples,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty"`
	PageSize         int                    `json:"page_size,omitempty"`
	PageToken        string                 `json:"page_token,omitempty"`
}

// LookupSubject handles POST /v1/tenants/:tenant/lookup/subjects.
func (h *PermissionHandler) LookupSubject(c *gin.Context) {
	var req lookupSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.lookup.LookupSubject(c.Request.Context(), &authorization.LookupSubjectRequest{
		TenantID:         c.Param("tenant"),
		SchemaVersion:    req.SchemaVersion,
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
		Permission:       req.Permission,
		SubjectType:      req.SubjectType,
		ContextualTuples: tuplesFromDTOs(req.ContextualTuples),
		ContextData:      req.Context,
		PageSize:         req.PageSize,
		PageToken:        req.PageToken,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject_ids":     resp.SubjectIDs,
		"next_page_token": resp.NextPageToken,
	})
}
