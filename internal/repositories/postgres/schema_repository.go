package postgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/internal/repositories"
)

// PostgresSchemaRepository implements SchemaRepository using PostgreSQL.
// Every write creates a new immutable version row; version tokens are ULIDs,
// so they sort lexicographically in creation order.
type PostgresSchemaRepository struct {
	db *sql.DB
}

// NewPostgresSchemaRepository creates a new PostgreSQL schema repository
func NewPostgresSchemaRepository(db *sql.DB) repositories.SchemaRepository {
	return &PostgresSchemaRepository{db: db}
}

// Create stores a new schema version and returns its version token
func (r *PostgresSchemaRepository) Create(ctx context.Context, tenantID string, schemaDSL string) (string, error) {
	now := time.Now()
	version := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()

	query := `
		INSERT INTO schemas (tenant_id, version, schema_dsl, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, tenantID, version, schemaDSL, now)
	if err != nil {
		return "", fmt.Errorf("failed to create schema version: %w", err)
	}

	return version, nil
}

// GetLatestVersion retrieves the newest schema version for a tenant
func (r *PostgresSchemaRepository) GetLatestVersion(ctx context.Context, tenantID string) (*entities.Schema, error) {
	query := `
		SELECT version, schema_dsl, created_at
		FROM schemas
		WHERE tenant_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return r.scanSchema(r.db.QueryRowContext(ctx, query, tenantID), tenantID)
}

// GetByVersion retrieves a specific schema version for a tenant
func (r *PostgresSchemaRepository) GetByVersion(ctx context.Context, tenantID string, version string) (*entities.Schema, error) {
	query := `
		SELECT version, schema_dsl, created_at
		FROM schemas
		WHERE tenant_id = $1 AND version = $2
	`
	return r.scanSchema(r.db.QueryRowContext(ctx, query, tenantID, version), tenantID)
}

func (r *PostgresSchemaRepository) scanSchema(row *sql.Row, tenantID string) (*entities.Schema, error) {
	var version, schemaDSL string
	var createdAt time.Time

	err := row.Scan(&version, &schemaDSL, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, entities.ErrSchemaNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	// Entities are populated by the schema service, which parses the DSL.
	return &entities.Schema{
		TenantID:  tenantID,
		Version:   version,
		DSL:       schemaDSL,
		CreatedAt: createdAt,
	}, nil
}

// ListVersions lists the tenant's schema versions, newest first
func (r *PostgresSchemaRepository) ListVersions(ctx context.Context, tenantID string) ([]*entities.SchemaVersion, error) {
	query := `
		SELECT version, created_at
		FROM schemas
		WHERE tenant_id = $1
		ORDER BY version DESC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema versions: %w", err)
	}
	defer rows.Close()

	var versions []*entities.SchemaVersion
	for rows.Next() {
		var v entities.SchemaVersion
		if err := rows.Scan(&v.Version, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schema version: %w", err)
		}
		versions = append(versions, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema versions: %w", err)
	}

	return versions, nil
}

// Delete deletes all schema versions for a tenant
func (r *PostgresSchemaRepository) Delete(ctx context.Context, tenantID string) error {
	query := `DELETE FROM schemas WHERE tenant_id = $1`
	_, err := r.db.ExecContext(ctx, query, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete schemas: %w", err)
	}
	return nil
}
