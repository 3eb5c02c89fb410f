package repositories

import (
	"context"

	"github.com/torii-authz/torii/internal/entities"
)

// SchemaRepository is the store interface for schema versions. Versions are
// immutable rows; writing a schema always creates a new version and never
// touches a published one.
type SchemaRepository interface {
	// Create stores a new schema version for a tenant and returns its
	// version token. Tokens sort lexicographically in creation order.
	Create(ctx context.Context, tenantID string, schemaDSL string) (string, error)

	// GetLatestVersion retrieves the newest schema version for a tenant.
	// Returns entities.ErrSchemaNotFound when the tenant has none.
	GetLatestVersion(ctx context.Context, tenantID string) (*entities.Schema, error)

	// GetByVersion retrieves a specific schema version.
	// Returns entities.ErrSchemaNotFound when it does not exist.
	GetByVersion(ctx context.Context, tenantID string, version string) (*entities.Schema, error)

	// ListVersions lists the tenant's schema versions, newest first.
	ListVersions(ctx context.Context, tenantID string) ([]*entities.SchemaVersion, error)

	// Delete deletes all schema versions for a tenant
	Delete(ctx context.Context, tenantID string) error
}
