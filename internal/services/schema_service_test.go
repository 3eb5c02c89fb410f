package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/pkg/cache"
)

const validDSL = `
entity user {}

entity repository {
  relation owner @user
  permission edit = owner
}
`

// mockSchemaRepository stores DSL versions in memory with v1, v2, ... tokens.
type mockSchemaRepository struct {
	versions map[string][]*entities.Schema // tenantID -> versions in creation order
	gets     int
	err      error
}

func newMockSchemaRepository() *mockSchemaRepository {
	return &mockSchemaRepository{versions: make(map[string][]*entities.Schema)}
}

func (m *mockSchemaRepository) Create(ctx context.Context, tenantID string, schemaDSL string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	version := fmt.Sprintf("v%d", len(m.versions[tenantID])+1)
	m.versions[tenantID] = append(m.versions[tenantID], &entities.Schema{
		TenantID:  tenantID,
		Version:   version,
		DSL:       schemaDSL,
		CreatedAt: time.Now(),
	})
	return version, nil
}

func (m *mockSchemaRepository) GetLatestVersion(ctx context.Context, tenantID string) (*entities.Schema, error) {
	m.gets++
	versions := m.versions[tenantID]
	if len(versions) == 0 {
		return nil, entities.ErrSchemaNotFound
	}
	return versions[len(versions)-1], nil
}

func (m *mockSchemaRepository) GetByVersion(ctx context.Context, tenantID string, version string) (*entities.Schema, error) {
	m.gets++
	for _, schema := range m.versions[tenantID] {
		if schema.Version == version {
			return schema, nil
		}
	}
	return nil, entities.ErrSchemaNotFound
}

func (m *mockSchemaRepository) ListVersions(ctx context.Context, tenantID string) ([]*entities.SchemaVersion, error) {
	versions := m.versions[tenantID]
	result := make([]*entities.SchemaVersion, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		result = append(result, &entities.SchemaVersion{
			Version:   versions[i].Version,
			CreatedAt: versions[i].CreatedAt,
		})
	}
	return result, nil
}

func (m *mockSchemaRepository) Delete(ctx context.Context, tenantID string) error {
	delete(m.versions, tenantID)
	return nil
}

func TestSchemaService_WriteSchema(t *testing.T) {
	repo := newMockSchemaRepository()
	service := NewSchemaService(repo)

	version, err := service.WriteSchema(context.Background(), "tenant-1", validDSL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version == "" {
		t.Fatal("expected a version token")
	}

	// Each write publishes a new version; the old one stays readable.
	version2, err := service.WriteSchema(context.Background(), "tenant-1", validDSL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version2 == version {
		t.Errorf("expected a new version token, got %s twice", version)
	}
	if _, err := service.ReadSchema(context.Background(), "tenant-1", version); err != nil {
		t.Errorf("expected the old version to stay readable: %v", err)
	}
}

func TestSchemaService_WriteSchema_CompileErrors(t *testing.T) {
	repo := newMockSchemaRepository()
	service := NewSchemaService(repo)

	invalid := `
entity doc {
  relation owner @ghost
  permission p = nothing
}
`
	_, err := service.WriteSchema(context.Background(), "tenant-1", invalid)
	if err == nil {
		t.Fatal("expected compile errors")
	}
	ce, ok := entities.AsCompileErrors(err)
	if !ok {
		t.Fatalf("expected compile errors, got %v", err)
	}
	if len(ce) != 2 {
		t.Errorf("expected 2 accumulated errors, got %d", len(ce))
	}

	// Nothing was stored.
	if len(repo.versions["tenant-1"]) != 0 {
		t.Errorf("expected no version on failure, got %d", len(repo.versions["tenant-1"]))
	}
}

func TestSchemaService_ValidateSchema(t *testing.T) {
	service := NewSchemaService(newMockSchemaRepository())

	if err := service.ValidateSchema(context.Background(), validDSL); err != nil {
		t.Errorf("expected valid, got: %v", err)
	}

	// Deterministic: the same DSL always gives the same answer.
	for i := 0; i < 3; i++ {
		err := service.ValidateSchema(context.Background(), "entity doc { permission p = ghost }")
		if err == nil {
			t.Fatal("expected compile errors")
		}
		if _, ok := entities.AsCompileErrors(err); !ok {
			t.Fatalf("expected compile errors, got %v", err)
		}
	}
}

func TestSchemaService_GetSchemaEntity(t *testing.T) {
	repo := newMockSchemaRepository()
	service := NewSchemaService(repo)

	version, err := service.WriteSchema(context.Background(), "tenant-1", validDSL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	schema, err := service.GetSchemaEntity(context.Background(), "tenant-1", version)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema.Version != version {
		t.Errorf("expected version %s, got %s", version, schema.Version)
	}
	if schema.GetEntity("repository") == nil {
		t.Error("expected the compiled schema to contain entity repository")
	}
	if schema.GetPermission("repository", "edit") == nil {
		t.Error("expected the compiled schema to contain permission edit")
	}

	// An empty version resolves to the latest.
	latest, err := service.GetSchemaEntity(context.Background(), "tenant-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.Version != version {
		t.Errorf("expected latest version %s, got %s", version, latest.Version)
	}
}

func TestSchemaService_GetSchemaEntity_NotFound(t *testing.T) {
	service := NewSchemaService(newMockSchemaRepository())

	_, err := service.GetSchemaEntity(context.Background(), "tenant-1", "")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestSchemaService_GetSchemaEntity_Cached(t *testing.T) {
	repo := newMockSchemaRepository()
	schemaCache := newStubServiceCache()
	service := NewSchemaServiceWithCache(repo, schemaCache, time.Minute)

	version, err := service.WriteSchema(context.Background(), "tenant-1", validDSL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := service.GetSchemaEntity(context.Background(), "tenant-1", version)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	getsAfterFirst := repo.gets

	// A pinned version is immutable, so the second read comes from the cache.
	second, err := service.GetSchemaEntity(context.Background(), "tenant-1", version)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.gets != getsAfterFirst {
		t.Errorf("expected no new repository reads, got %d more", repo.gets-getsAfterFirst)
	}
	if first != second {
		t.Error("expected the cached schema instance")
	}
}

func TestSchemaService_ListSchemaVersions(t *testing.T) {
	repo := newMockSchemaRepository()
	service := NewSchemaService(repo)

	for i := 0; i < 3; i++ {
		if _, err := service.WriteSchema(context.Background(), "tenant-1", validDSL); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	versions, err := service.ListSchemaVersions(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if versions[0].Version != "v3" {
		t.Errorf("expected newest first, got %s", versions[0].Version)
	}
}

// stubServiceCache is a minimal cache.Cache for exercising the compiled
// schema cache path.
type stubServiceCache struct {
	entries map[string]interface{}
}

func newStubServiceCache() *stubServiceCache {
	return &stubServiceCache{entries: make(map[string]interface{})}
}

func (c *stubServiceCache) Get(ctx context.Context, key string) (interface{}, bool) {
	value, ok := c.entries[key]
	return value, ok
}

func (c *stubServiceCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.entries[key] = value
	return nil
}

func (c *stubServiceCache) Delete(ctx context.Context, key string) error {
	delete(c.entries, key)
	return nil
}

func (c *stubServiceCache) Clear(ctx context.Context) error {
	c.entries = make(map[string]interface{})
	return nil
}

func (c *stubServiceCache) Close() error { return nil }

func (c *stubServiceCache) Metrics() *cache.Metrics { return &cache.Metrics{} }
