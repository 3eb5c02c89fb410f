package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/torii-authz/torii/internal/entities"
)

// compileErrorDTO is one schema compilation failure in a response body.
type compileErrorDTO struct {
	Location string `json:"location,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// respondError maps service errors onto HTTP statuses.
//
// Compilation failures return 400 with the complete error list. Resolution
// failures map by kind; a denied decision never reaches this path because
// denied is a successful response.
func respondError(c *gin.Context, err error) {
	if compileErrs, ok := entities.AsCompileErrors(err); ok {
		dtos := make([]compileErrorDTO, len(compileErrs))
		for i, ce := range compileErrs {
			dtos[i] = compileErrorDTO{
				Location: ce.Location,
				Kind:     string(ce.Kind),
				Message:  ce.Message,
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "schema compilation failed",
			"errors": dtos,
		})
		return
	}

	if re, ok := entities.AsResolutionError(err); ok {
		c.JSON(statusForResolutionError(re.Kind), gin.H{
			"error": re.Message,
			"kind":  string(re.Kind),
		})
		return
	}

	if errors.Is(err, entities.ErrSchemaNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func statusForResolutionError(kind entities.ResolutionErrorKind) int {
	switch kind {
	case entities.ResolutionInvalidRequest:
		return http.StatusBadRequest
	case entities.ResolutionSchemaNotFound:
		return http.StatusNotFound
	case entities.ResolutionTimeout:
		return http.StatusGatewayTimeout
	case entities.ResolutionStoreUnavailable:
		return http.StatusServiceUnavailable
	case entities.ResolutionDepthExceeded,
		entities.ResolutionCycleDetected,
		entities.ResolutionMissingBinding,
		entities.ResolutionTypeMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// tupleDTO is the wire form of a relation tuple.
type tupleDTO struct {
	EntityType      string `json:"entity_type" binding:"required"`
	EntityID        string `json:"entity_id" binding:"required"`
	Relation        string `json:"relation" binding:"required"`
	SubjectType     string `json:"subject_type" binding:"required"`
	SubjectID       string `json:"subject_id" binding:"required"`
	SubjectRelation string `json:"subject_relation,omitempty"`
}

func (d *tupleDTO) toEntity() *entities.RelationTuple {
	return &entities.RelationTuple{
		EntityType:      d.EntityType,
		EntityID:        d.EntityID,
		Relation:        d.Relation,
		SubjectType:     d.SubjectType,
		SubjectID:       d.SubjectID,
		SubjectRelation: d.SubjectRelation,
	}
}

func tupleDTOFromEntity(t *entities.RelationTuple) tupleDTO {
	return tupleDTO{
		EntityType:      t.EntityType,
		EntityID:        t.EntityID,
		Relation:        t.Relation,
		SubjectType:     t.SubjectType,
		SubjectID:       t.SubjectID,
		SubjectRelation: t.SubjectRelation,
	}
}

func tuplesFromDTOs(dtos []tupleDTO) []*entities.RelationTuple {
	if len(dtos) == 0 {
		return nil
	}
	tuples := make([]*entities.RelationTuple, len(dtos))
	for i := range dtos {
		tuples[i] = dtos[i].toEntity()
	}
	return tuples
}
