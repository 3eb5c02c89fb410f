package repositories

import (
	"context"

	"github.com/torii-authz/torii/internal/entities"
)

// AttributeRepository is the store interface for attribute values.
type AttributeRepository interface {
	// Write creates or updates an attribute value
	Write(ctx context.Context, tenantID string, attr *entities.Attribute) error

	// Read retrieves all attributes for an entity as a name -> value map
	Read(ctx context.Context, tenantID string, entityType string, entityID string) (map[string]interface{}, error)

	// GetValue retrieves a single attribute value. When the entity has no
	// value for the attribute it returns entities.ErrAttributeNotFound;
	// the engine surfaces that as a missing binding, never as a default.
	GetValue(ctx context.Context, tenantID string, entityType string, entityID string, attrName string) (interface{}, error)

	// Delete removes an attribute from an entity
	Delete(ctx context.Context, tenantID string, entityType string, entityID string, attrName string) error
}
