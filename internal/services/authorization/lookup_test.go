package authorization

import (
	"context"
	"reflect"
	"testing"

	"github.com/torii-authz/torii/internal/entities"
)

func newTestLookup(schema *entities.Schema, relationRepo *mockRelationRepository, attributeRepo *mockAttributeRepository) *Lookup {
	resolver := &mockSchemaResolver{schema: schema}
	evaluator := newTestEvaluator(relationRepo, attributeRepo, false)
	checker := NewChecker(resolver, evaluator, 0)
	return NewLookup(checker, resolver, relationRepo)
}

func TestLookup_LookupEntity(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
			{EntityType: "repository", EntityID: "2", Relation: "owner", SubjectType: "user", SubjectID: "bob"},
			{EntityType: "repository", EntityID: "3", Relation: "maintainer", SubjectType: "user", SubjectID: "alice"},
		},
	}
	lookup := newTestLookup(schema, relationRepo, newMockAttributeRepository())

	resp, err := lookup.LookupEntity(context.Background(), &LookupEntityRequest{
		TenantID:    "test-tenant",
		EntityType:  "repository",
		Permission:  "view",
		SubjectType: "user",
		SubjectID:   "alice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"1", "3"}
	if !reflect.DeepEqual(resp.EntityIDs, expected) {
		t.Errorf("expected %v, got %v", expected, resp.EntityIDs)
	}
	if resp.NextPageToken != "" {
		t.Errorf("expected no page token, got %q", resp.NextPageToken)
	}
}

func TestLookup_LookupEntity_Paging(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
			{EntityType: "repository", EntityID: "2", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
			{EntityType: "repository", EntityID: "3", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
		},
	}
	lookup := newTestLookup(schema, relationRepo, newMockAttributeRepository())

	req := &LookupEntityRequest{
		TenantID:    "test-tenant",
		EntityType:  "repository",
		Permission:  "view",
		SubjectType: "user",
		SubjectID:   "alice",
		PageSize:    2,
	}

	resp, err := lookup.LookupEntity(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(resp.EntityIDs, []string{"1", "2"}) {
		t.Fatalf("expected first page [1 2], got %v", resp.EntityIDs)
	}
	if resp.NextPageToken == "" {
		t.Fatal("expected a page token for the next page")
	}

	req.PageToken = resp.NextPageToken
	resp, err = lookup.LookupEntity(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(resp.EntityIDs, []string{"3"}) {
		t.Fatalf("expected second page [3], got %v", resp.EntityIDs)
	}
	if resp.NextPageToken != "" {
		t.Errorf("expected no further pages, got token %q", resp.NextPageToken)
	}
}

func TestLookup_LookupEntity_SkipsDataErrors(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
			{EntityType: "repository", EntityID: "2", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
		},
	}
	// Only repository 2 has the ip_range attribute the connect rule needs;
	// repository 1 fails with a missing binding and is skipped.
	attributeRepo := newMockAttributeRepository()
	attributeRepo.set("repository", "2", "ip_range", []interface{}{"10.0.0.1"})
	lookup := newTestLookup(schema, relationRepo, attributeRepo)

	resp, err := lookup.LookupEntity(context.Background(), &LookupEntityRequest{
		TenantID:    "test-tenant",
		EntityType:  "repository",
		Permission:  "connect",
		SubjectType: "user",
		SubjectID:   "alice",
		ContextData: map[string]interface{}{"ip": "10.0.0.1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(resp.EntityIDs, []string{"2"}) {
		t.Errorf("expected [2], got %v", resp.EntityIDs)
	}
}

func TestLookup_LookupEntity_UnknownPermission(t *testing.T) {
	schema := createTestSchema()
	lookup := newTestLookup(schema, &mockRelationRepository{}, newMockAttributeRepository())

	_, err := lookup.LookupEntity(context.Background(), &LookupEntityRequest{
		TenantID:    "test-tenant",
		EntityType:  "repository",
		Permission:  "nonexistent",
		SubjectType: "user",
		SubjectID:   "alice",
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	re, ok := entities.AsResolutionError(err)
	if !ok {
		t.Fatalf("expected a resolution error, got %v", err)
	}
	if re.Kind != entities.ResolutionInvalidRequest {
		t.Errorf("expected kind %s, got %s", entities.ResolutionInvalidRequest, re.Kind)
	}
}

func TestLookup_LookupSubject(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
			{EntityType: "repository", EntityID: "1", Relation: "maintainer", SubjectType: "user", SubjectID: "bob"},
			{EntityType: "repository", EntityID: "2", Relation: "owner", SubjectType: "user", SubjectID: "carol"},
		},
	}
	lookup := newTestLookup(schema, relationRepo, newMockAttributeRepository())

	resp, err := lookup.LookupSubject(context.Background(), &LookupSubjectRequest{
		TenantID:    "test-tenant",
		EntityType:  "repository",
		EntityID:    "1",
		Permission:  "view",
		SubjectType: "user",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"alice", "bob"}
	if !reflect.DeepEqual(resp.SubjectIDs, expected) {
		t.Errorf("expected %v, got %v", expected, resp.SubjectIDs)
	}
}

func TestLookup_LookupSubject_ThroughTeam(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "maintainer", SubjectType: "team", SubjectID: "core", SubjectRelation: "member"},
			{EntityType: "team", EntityID: "core", Relation: "member", SubjectType: "user", SubjectID: "dana"},
		},
	}
	lookup := newTestLookup(schema, relationRepo, newMockAttributeRepository())

	resp, err := lookup.LookupSubject(context.Background(), &LookupSubjectRequest{
		TenantID:    "test-tenant",
		EntityType:  "repository",
		EntityID:    "1",
		Permission:  "view",
		SubjectType: "user",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(resp.SubjectIDs, []string{"dana"}) {
		t.Errorf("expected [dana], got %v", resp.SubjectIDs)
	}
}
