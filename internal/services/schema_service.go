package services

import (
	"context"
	"fmt"
	"time"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/internal/repositories"
	"github.com/torii-authz/torii/internal/services/parser"
	"github.com/torii-authz/torii/pkg/cache"
)

// SchemaServiceInterface defines the interface for schema management operations
type SchemaServiceInterface interface {
	WriteSchema(ctx context.Context, tenantID string, schemaDSL string) (string, error)
	ReadSchema(ctx context.Context, tenantID string, version string) (*entities.Schema, error)
	ValidateSchema(ctx context.Context, schemaDSL string) error
	ListSchemaVersions(ctx context.Context, tenantID string) ([]*entities.SchemaVersion, error)
	DeleteSchema(ctx context.Context, tenantID string) error
	GetSchemaEntity(ctx context.Context, tenantID string, version string) (*entities.Schema, error)
}

// SchemaService handles schema management operations. Compiled schemas are
// cached per (tenant, version); versions are immutable so entries never go
// stale and only TTL or LRU pressure evicts them.
type SchemaService struct {
	schemaRepo repositories.SchemaRepository
	compiled   cache.Cache // Optional compiled-schema cache
	cacheTTL   time.Duration
}

// NewSchemaService creates a new SchemaService without caching
func NewSchemaService(schemaRepo repositories.SchemaRepository) *SchemaService {
	return &SchemaService{schemaRepo: schemaRepo}
}

// NewSchemaServiceWithCache creates a SchemaService with a compiled-schema cache
func NewSchemaServiceWithCache(schemaRepo repositories.SchemaRepository, c cache.Cache, ttl time.Duration) *SchemaService {
	return &SchemaService{
		schemaRepo: schemaRepo,
		compiled:   c,
		cacheTTL:   ttl,
	}
}

// WriteSchema compiles the DSL and publishes it as a new immutable version.
// Nothing is stored when compilation fails; the returned error carries every
// failure found (entities.CompileErrors).
func (s *SchemaService) WriteSchema(ctx context.Context, tenantID string, schemaDSL string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenant ID is required")
	}
	if schemaDSL == "" {
		return "", fmt.Errorf("schema DSL is required")
	}

	ast, err := s.compile(schemaDSL)
	if err != nil {
		return "", err
	}

	// Conversion failures mean a validator gap; fail before persisting.
	if _, err := parser.ASTToSchema(tenantID, ast); err != nil {
		return "", fmt.Errorf("failed to convert schema: %w", err)
	}

	version, err := s.schemaRepo.Create(ctx, tenantID, schemaDSL)
	if err != nil {
		return "", fmt.Errorf("failed to create schema version: %w", err)
	}

	return version, nil
}

// ReadSchema retrieves a schema version for a tenant. version="" selects the
// latest.
func (s *SchemaService) ReadSchema(ctx context.Context, tenantID string, version string) (*entities.Schema, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	if version == "" {
		return s.schemaRepo.GetLatestVersion(ctx, tenantID)
	}
	return s.schemaRepo.GetByVersion(ctx, tenantID, version)
}

// ValidateSchema compiles a DSL string without saving it. Deterministic: the
// same DSL always yields the same result.
func (s *SchemaService) ValidateSchema(ctx context.Context, schemaDSL string) error {
	if schemaDSL == "" {
		return fmt.Errorf("schema DSL is required")
	}
	_, err := s.compile(schemaDSL)
	return err
}

// ListSchemaVersions lists the tenant's schema versions, newest first.
func (s *SchemaService) ListSchemaVersions(ctx context.Context, tenantID string) ([]*entities.SchemaVersion, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	return s.schemaRepo.ListVersions(ctx, tenantID)
}

// DeleteSchema deletes all schema versions for a tenant
func (s *SchemaService) DeleteSchema(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if err := s.schemaRepo.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to delete schema: %w", err)
	}
	return nil
}

// GetSchemaEntity retrieves the compiled schema for internal use.
// version="" resolves the latest version first so the cache is always keyed
// by a concrete version token.
func (s *SchemaService) GetSchemaEntity(ctx context.Context, tenantID string, version string) (*entities.Schema, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	var dbSchema *entities.Schema
	var err error
	if version == "" {
		dbSchema, err = s.schemaRepo.GetLatestVersion(ctx, tenantID)
	} else {
		if s.compiled != nil {
			if cached, found := s.compiled.Get(ctx, compiledKey(tenantID, version)); found {
				if schema, ok := cached.(*entities.Schema); ok {
					return schema, nil
				}
			}
		}
		dbSchema, err = s.schemaRepo.GetByVersion(ctx, tenantID, version)
	}
	if err != nil {
		return nil, err
	}

	if s.compiled != nil && version == "" {
		if cached, found := s.compiled.Get(ctx, compiledKey(tenantID, dbSchema.Version)); found {
			if schema, ok := cached.(*entities.Schema); ok {
				return schema, nil
			}
		}
	}

	lexer := parser.NewLexer(dbSchema.DSL)
	p := parser.NewParser(lexer)
	ast, err := p.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema DSL: %w", err)
	}

	parsedSchema, err := parser.ASTToSchema(tenantID, ast)
	if err != nil {
		return nil, fmt.Errorf("failed to convert AST to schema: %w", err)
	}

	parsedSchema.Version = dbSchema.Version
	parsedSchema.DSL = dbSchema.DSL
	parsedSchema.CreatedAt = dbSchema.CreatedAt

	if s.compiled != nil {
		_ = s.compiled.Set(ctx, compiledKey(tenantID, parsedSchema.Version), parsedSchema, s.cacheTTL)
	}

	return parsedSchema, nil
}

// compile runs the full pipeline: lex, parse, validate.
func (s *SchemaService) compile(schemaDSL string) (*parser.SchemaAST, error) {
	lexer := parser.NewLexer(schemaDSL)
	p := parser.NewParser(lexer)
	ast, err := p.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSL: %w", err)
	}

	validator := parser.NewValidator(ast)
	if err := validator.Validate(); err != nil {
		return nil, err
	}

	return ast, nil
}

func compiledKey(tenantID, version string) string {
	return "schema:" + tenantID + ":" + version
}
