package handlers

import (
	"context"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/internal/repositories"
	"github.com/torii-authz/torii/internal/services/authorization"
)

// Mock SchemaService

type mockSchemaService struct {
	writeSchemaFunc     func(ctx context.Context, tenantID string, schemaDSL string) (string, error)
	readSchemaFunc      func(ctx context.Context, tenantID string, version string) (*entities.Schema, error)
	validateSchemaFunc  func(ctx context.Context, schemaDSL string) error
	listVersionsFunc    func(ctx context.Context, tenantID string) ([]*entities.SchemaVersion, error)
	getSchemaEntityFunc func(ctx context.Context, tenantID string, version string) (*entities.Schema, error)
}

func (m *mockSchemaService) WriteSchema(ctx context.Context, tenantID string, schemaDSL string) (string, error) {
	if m.writeSchemaFunc != nil {
		return m.writeSchemaFunc(ctx, tenantID, schemaDSL)
	}
	return "v1", nil
}

func (m *mockSchemaService) ReadSchema(ctx context.Context, tenantID string, version string) (*entities.Schema, error) {
	if m.readSchemaFunc != nil {
		return m.readSchemaFunc(ctx, tenantID, version)
	}
	return &entities.Schema{}, nil
}

func (m *mockSchemaService) ValidateSchema(ctx context.Context, schemaDSL string) error {
	if m.validateSchemaFunc != nil {
		return m.validateSchemaFunc(ctx, schemaDSL)
	}
	return nil
}

func (m *mockSchemaService) ListSchemaVersions(ctx context.Context, tenantID string) ([]*entities.SchemaVersion, error) {
	if m.listVersionsFunc != nil {
		return m.listVersionsFunc(ctx, tenantID)
	}
	return nil, nil
}

func (m *mockSchemaService) DeleteSchema(ctx context.Context, tenantID string) error {
	return nil
}

func (m *mockSchemaService) GetSchemaEntity(ctx context.Context, tenantID string, version string) (*entities.Schema, error) {
	if m.getSchemaEntityFunc != nil {
		return m.getSchemaEntityFunc(ctx, tenantID, version)
	}
	return &entities.Schema{}, nil
}

// Mock Checker

type mockChecker struct {
	checkFunc func(ctx context.Context, req *authorization.CheckRequest) (*authorization.CheckResponse, error)
}

func (m *mockChecker) Check(ctx context.Context, req *authorization.CheckRequest) (*authorization.CheckResponse, error) {
	if m.checkFunc != nil {
		return m.checkFunc(ctx, req)
	}
	return &authorization.CheckResponse{Allowed: false}, nil
}

func (m *mockChecker) CheckMultiple(ctx context.Context, req *authorization.CheckRequest, permissions []string) (map[string]bool, error) {
	results := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		checkReq := *req
		checkReq.Permission = p
		resp, err := m.Check(ctx, &checkReq)
		if err != nil {
			return nil, err
		}
		results[p] = resp.Allowed
	}
	return results, nil
}

// Mock Lookup

type mockLookup struct {
	lookupEntityFunc  func(ctx context.Context, req *authorization.LookupEntityRequest) (*authorization.LookupEntityResponse, error)
	lookupSubjectFunc func(ctx context.Context, req *authorization.LookupSubjectRequest) (*authorization.LookupSubjectResponse, error)
}

func (m *mockLookup) LookupEntity(ctx context.Context, req *authorization.LookupEntityRequest) (*authorization.LookupEntityResponse, error) {
	if m.lookupEntityFunc != nil {
		return m.lookupEntityFunc(ctx, req)
	}
	return &authorization.LookupEntityResponse{}, nil
}

func (m *mockLookup) LookupSubject(ctx context.Context, req *authorization.LookupSubjectRequest) (*authorization.LookupSubjectResponse, error) {
	if m.lookupSubjectFunc != nil {
		return m.lookupSubjectFunc(ctx, req)
	}
	return &authorization.LookupSubjectResponse{}, nil
}

// Mock RelationRepository

type mockRelationRepository struct {
	readFunc        func(ctx context.Context, tenantID string, filter *repositories.RelationFilter) ([]*entities.RelationTuple, error)
	batchWriteFunc  func(ctx context.Context, tenantID string, tuples []*entities.RelationTuple) error
	batchDeleteFunc func(ctx context.Context, tenantID string, tuples []*entities.RelationTuple) error
}

func (m *mockRelationRepository) Write(ctx context.Context, tenantID string, tuple *entities.RelationTuple) error {
	return nil
}

func (m *mockRelationRepository) Delete(ctx context.Context, tenantID string, tuple *entities.RelationTuple) error {
	return nil
}

func (m *mockRelationRepository) Read(ctx context.Context, tenantID string, filter *repositories.RelationFilter) ([]*entities.RelationTuple, error) {
	if m.readFunc != nil {
		return m.readFunc(ctx, tenantID, filter)
	}
	return nil, nil
}

func (m *mockRelationRepository) BatchWrite(ctx context.Context, tenantID string, tuples []*entities.RelationTuple) error {
	if m.batchWriteFunc != nil {
		return m.batchWriteFunc(ctx, tenantID, tuples)
	}
	return nil
}

func (m *mockRelationRepository) BatchDelete(ctx context.Context, tenantID string, tuples []*entities.RelationTuple) error {
	if m.batchDeleteFunc != nil {
		return m.batchDeleteFunc(ctx, tenantID, tuples)
	}
	return nil
}

// Mock AttributeRepository

type mockAttributeRepository struct {
	writeFunc  func(ctx context.Context, tenantID string, attr *entities.Attribute) error
	readFunc   func(ctx context.Context, tenantID string, entityType string, entityID string) (map[string]interface{}, error)
	deleteFunc func(ctx context.Context, tenantID string, entityType string, entityID string, attrName string) error
}

func (m *mockAttributeRepository) Write(ctx context.Context, tenantID string, attr *entities.Attribute) error {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, tenantID, attr)
	}
	return nil
}

func (m *mockAttributeRepository) Read(ctx context.Context, tenantID string, entityType string, entityID string) (map[string]interface{}, error) {
	if m.readFunc != nil {
		return m.readFunc(ctx, tenantID, entityType, entityID)
	}
	return map[string]interface{}{}, nil
}

func (m *mockAttributeRepository) GetValue(ctx context.Context, tenantID string, entityType string, entityID string, attrName string) (interface{}, error) {
	return nil, entities.ErrAttributeNotFound
}

func (m *mockAttributeRepository) Delete(ctx context.Context, tenantID string, entityType string, entityID string, attrName string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, tenantID, entityType, entityID, attrName)
	}
	return nil
}
