package repositories

import (
	"context"

	"github.com/torii-authz/torii/internal/entities"
)

// RelationFilter defines filter criteria for querying relation tuples.
// Empty fields match anything.
type RelationFilter struct {
	EntityType      string
	EntityID        string
	Relation        string
	SubjectType     string
	SubjectID       string
	SubjectRelation string
}

// RelationRepository is the store interface for relationship tuples. The
// resolution engine issues reads through it and tolerates arbitrary latency
// and failure; it never retries internally.
type RelationRepository interface {
	// Write creates a relation tuple (idempotent on duplicates)
	Write(ctx context.Context, tenantID string, tuple *entities.RelationTuple) error

	// Delete removes a relation tuple
	Delete(ctx context.Context, tenantID string, tuple *entities.RelationTuple) error

	// Read retrieves relation tuples matching the filter
	Read(ctx context.Context, tenantID string, filter *RelationFilter) ([]*entities.RelationTuple, error)

	// BatchWrite creates multiple relation tuples in a single transaction
	BatchWrite(ctx context.Context, tenantID string, tuples []*entities.RelationTuple) error

	// BatchDelete removes multiple relation tuples in a single transaction
	BatchDelete(ctx context.Context, tenantID string, tuples []*entities.RelationTuple) error
}
