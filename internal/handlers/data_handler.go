package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/internal/repositories"
)

// DataHandler serves the relationship and attribute data endpoints
type DataHandler struct {
	relationRepo  repositories.RelationRepository
	attributeRepo repositories.AttributeRepository
}

// NewDataHandler creates a new DataHandler
func NewDataHandler(relationRepo repositories.RelationRepository, attributeRepo repositories.AttributeRepository) *DataHandler {
	return &DataHandler{
		relationRepo:  relationRepo,
		attributeRepo: attributeRepo,
	}
}

type writeRelationshipsRequest struct {
	Tuples []tupleDTO `json:"tuples" binding:"required,min=1,dive"`
}

// WriteRelationships handles POST /v1/tenants/:tenant/relationships.
// All tuples are written in one transaction; duplicates are ignored.
func (h *DataHandler) WriteRelationships(c *gin.Context) {
	var req writeRelationshipsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tuples := tuplesFromDTOs(req.Tuples)
	if err := h.relationRepo.BatchWrite(c.Request.Context(), c.Param("tenant"), tuples); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"written": len(tuples)})
}

// DeleteRelationships handles POST /v1/tenants/:tenant/relationships/delete.
func (h *DataHandler) DeleteRelationships(c *gin.Context) {
	var req writeRelationshipsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tuples := tuplesFromDTOs(req.Tuples)
	if err := h.relationRepo.BatchDelete(c.Request.Context(), c.Param("tenant"), tuples); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": len(tuples)})
}

// ReadRelationships handles GET /v1/tenants/:tenant/relationships.
// Filter fields come from query parameters; all are optional.
func (h *DataHandler) ReadRelationships(c *gin.Context) {
	filter := &repositories.RelationFilter{
		EntityType:      c.Query("entity_type"),
		EntityID:        c.Query("entity_id"),
		Relation:        c.Query("relation"),
		SubjectType:     c.Query("subject_type"),
		SubjectID:       c.Query("subject_id"),
		SubjectRelation: c.Query("subject_relation"),
	}

	tuples, err := h.relationRepo.Read(c.Request.Context(), c.Param("tenant"), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	dtos := make([]tupleDTO, len(tuples))
	for i, t := range tuples {
		dtos[i] = tupleDTOFromEntity(t)
	}
	c.JSON(http.StatusOK, gin.H{"tuples": dtos})
}

type writeAttributesRequest struct {
	EntityType string                 `json:"entity_type" binding:"required"`
	EntityID   string                 `json:"entity_id" binding:"required"`
	Attributes map[string]interface{} `json:"attributes" binding:"required,min=1"`
}

// WriteAttributes handles POST /v1/tenants/:tenant/attributes.
func (h *DataHandler) WriteAttributes(c *gin.Context) {
	var req writeAttributesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenantID := c.Param("tenant")
	for name, value := range req.Attributes {
		attr := &entities.Attribute{
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			Name:       name,
			Value:      value,
		}
		if err := h.attributeRepo.Write(c.Request.Context(), tenantID, attr); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"written": len(req.Attributes)})
}

// ReadAttributes handles GET /v1/tenants/:tenant/attributes.
func (h *DataHandler) ReadAttributes(c *gin.Context) {
	entityType := c.Query("entity_type")
	entityID := c.Query("entity_id")
	if entityType == "" || entityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_type and entity_id are required"})
		return
	}

	attrs, err := h.attributeRepo.Read(c.Request.Context(), c.Param("tenant"), entityType, entityID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attributes": attrs})
}

type deleteAttributeRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   string `json:"entity_id" binding:"required"`
	Attribute  string `json:"attribute" binding:"required"`
}

// DeleteAttribute handles POST /v1/tenants/:tenant/attributes/delete.
func (h *DataHandler) DeleteAttribute(c *gin.Context) {
	var req deleteAttributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.attributeRepo.Delete(c.Request.Context(), c.Param("tenant"), req.EntityType, req.EntityID, req.Attribute)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
