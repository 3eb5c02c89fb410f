package authorization

import (
	"context"
	"fmt"
	"testing"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/internal/repositories"
)

// Mock repositories shared by the tests in this package

type mockSchemaResolver struct {
	schema *entities.Schema
	err    error
}

func (m *mockSchemaResolver) GetSchemaEntity(ctx context.Context, tenantID string, version string) (*entities.Schema, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.schema, nil
}

type mockRelationRepository struct {
	tuples []*entities.RelationTuple
	err    error
}

func (m *mockRelationRepository) Write(ctx context.Context, tenantID string, tuple *entities.RelationTuple) error {
	m.tuples = append(m.tuples, tuple)
	return nil
}

func (m *mockRelationRepository) Delete(ctx context.Context, tenantID string, tuple *entities.RelationTuple) error {
	return nil
}

func (m *mockRelationRepository) Read(ctx context.Context, tenantID string, filter *repositories.RelationFilter) ([]*entities.RelationTuple, error) {
	if m.err != nil {
		return nil, m.err
	}
	var result []*entities.RelationTuple
	for _, tuple := range m.tuples {
		if filter.EntityType != "" && tuple.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && tuple.EntityID != filter.EntityID {
			continue
		}
		if filter.Relation != "" && tuple.Relation != filter.Relation {
			continue
		}
		if filter.SubjectType != "" && tuple.SubjectType != filter.SubjectType {
			continue
		}
		if filter.SubjectID != "" && tuple.SubjectID != filter.SubjectID {
			continue
		}
		if filter.SubjectRelation != "" && tuple.SubjectRelation != filter.SubjectRelation {
			continue
		}
		result = append(result, tuple)
	}
	return result, nil
}

func (m *mockRelationRepository) BatchWrite(ctx context.Context, tenantID string, tuples []*entities.RelationTuple) error {
	m.tuples = append(m.tuples, tuples...)
	return nil
}

func (m *mockRelationRepository) BatchDelete(ctx context.Context, tenantID string, tuples []*entities.RelationTuple) error {
	return nil
}

type mockAttributeRepository struct {
	attributes map[string]map[string]interface{} // entityType:entityID -> name -> value
}

func newMockAttributeRepository() *mockAttributeRepository {
	return &mockAttributeRepository{
		attributes: make(map[string]map[string]interface{}),
	}
}

func (m *mockAttributeRepository) set(entityType, entityID, name string, value interface{}) {
	key := entityType + ":" + entityID
	if m.attributes[key] == nil {
		m.attributes[key] = make(map[string]interface{})
	}
	m.attributes[key][name] = value
}

func (m *mockAttributeRepository) Write(ctx context.Context, tenantID string, attr *entities.Attribute) error {
	m.set(attr.EntityType, attr.EntityID, attr.Name, attr.Value)
	return nil
}

func (m *mockAttributeRepository) Read(ctx context.Context, tenantID string, entityType string, entityID string) (map[string]interface{}, error) {
	key := entityType + ":" + entityID
	if m.attributes[key] == nil {
		return make(map[string]interface{}), nil
	}
	return m.attributes[key], nil
}

func (m *mockAttributeRepository) GetValue(ctx context.Context, tenantID string, entityType string, entityID string, attrName string) (interface{}, error) {
	key := entityType + ":" + entityID
	if values, ok := m.attributes[key]; ok {
		if value, ok := values[attrName]; ok {
			return value, nil
		}
	}
	return nil, fmt.Errorf("%s on %s:%s: %w", attrName, entityType, entityID, entities.ErrAttributeNotFound)
}

func (m *mockAttributeRepository) Delete(ctx context.Context, tenantID string, entityType string, entityID string, attrName string) error {
	key := entityType + ":" + entityID
	if m.attributes[key] != nil {
		delete(m.attributes[key], attrName)
	}
	return nil
}

// createTestSchema builds the schema used across this package's tests:
// users, teams with members, orgs with admins, and repositories with
// direct, set-based and hierarchical grants plus an attribute rule.
func createTestSchema() *entities.Schema {
	return &entities.Schema{
		TenantID: "test-tenant",
		Version:  "v1",
		Rules: []*entities.RuleDefinition{
			{
				Name: "check_ip_range",
				Parameters: []*entities.RuleParameter{
					{Name: "allowed", Type: entities.AttrType{Base: entities.AttrString, Array: true}},
				},
				Body: "context.data.ip in allowed",
			},
			{
				Name: "is_public",
				Body: "this.public == true",
			},
		},
		Entities: []*entities.Entity{
			{Name: "user"},
			{
				Name: "team",
				Relations: []*entities.Relation{
					{Name: "member", Targets: []*entities.RelationTarget{{Type: "user"}, {Type: "team", Relation: "member"}}},
				},
			},
			{
				Name: "org",
				Relations: []*entities.Relation{
					{Name: "admin", Targets: []*entities.RelationTarget{{Type: "user"}}},
					{Name: "member", Targets: []*entities.RelationTarget{{Type: "user"}}},
				},
				Permissions: []*entities.Permission{
					{Name: "admin_access", Expr: &entities.RelationExpr{Relation: "admin"}},
				},
			},
			{
				Name: "repository",
				Relations: []*entities.Relation{
					{Name: "owner", Targets: []*entities.RelationTarget{{Type: "user"}}},
					{Name: "maintainer", Targets: []*entities.RelationTarget{{Type: "user"}, {Type: "team", Relation: "member"}}},
					{Name: "parent", Targets: []*entities.RelationTarget{{Type: "org"}}},
					{Name: "banned", Targets: []*entities.RelationTarget{{Type: "user"}}},
				},
				AttributeSchemas: []*entities.AttributeSchema{
					{Name: "public", Type: entities.AttrType{Base: entities.AttrBoolean}},
					{Name: "ip_range", Type: entities.AttrType{Base: entities.AttrString, Array: true}},
				},
				Permissions: []*entities.Permission{
					{Name: "view", Expr: &entities.OrExpr{
						Left:  &entities.RelationExpr{Relation: "owner"},
						Right: &entities.RelationExpr{Relation: "maintainer"},
					}},
					{Name: "edit", Expr: &entities.RelationExpr{Relation: "owner"}},
					{Name: "admin_view", Expr: &entities.HierarchicalExpr{Relation: "parent", Target: "admin_access"}},
					{Name: "comment", Expr: &entities.ExclusionExpr{
						Left:  &entities.PermissionRefExpr{Permission: "view"},
						Right: &entities.RelationExpr{Relation: "banned"},
					}},
					{Name: "connect", Expr: &entities.AndExpr{
						Left: &entities.RelationExpr{Relation: "owner"},
						Right: &entities.RuleCallExpr{Rule: "check_ip_range", Args: []*entities.RuleArg{
							{Attribute: "ip_range"},
						}},
					}},
					{Name: "audit", Expr: &entities.AndExpr{
						Left:  &entities.HierarchicalExpr{Relation: "parent", Target: "member"},
						Right: &entities.HierarchicalExpr{Relation: "parent", Target: "admin"},
					}},
					{Name: "read_public", Expr: &entities.RuleCallExpr{Rule: "is_public"}},
					{Name: "loop_a", Expr: &entities.PermissionRefExpr{Permission: "loop_b"}},
					{Name: "loop_b", Expr: &entities.PermissionRefExpr{Permission: "loop_a"}},
				},
			},
		},
	}
}

func newTestEvaluator(relationRepo repositories.RelationRepository, attributeRepo *mockAttributeRepository, strictCycles bool) *Evaluator {
	return NewEvaluator(relationRepo, attributeRepo, NewRuleEngine(), 0, strictCycles)
}

func evalRequest(schema *entities.Schema, entityType, entityID, subjectID string) *EvaluationRequest {
	return &EvaluationRequest{
		TenantID:    "test-tenant",
		Schema:      schema,
		EntityType:  entityType,
		EntityID:    entityID,
		SubjectType: "user",
		SubjectID:   subjectID,
	}
}

func TestEvaluator_RelationLeaf(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
		},
	}
	evaluator := newTestEvaluator(relationRepo, newMockAttributeRepository(), false)

	tests := []struct {
		name      string
		subjectID string
		member    string
		expected  bool
	}{
		{"direct tuple grants", "alice", "edit", true},
		{"no tuple denies", "bob", "edit", false},
		{"relation checked directly", "alice", "owner", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", tt.subjectID), tt.member)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestEvaluator_SubjectSetExpansion(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			// The members of team core maintain repository 1.
			{EntityType: "repository", EntityID: "1", Relation: "maintainer", SubjectType: "team", SubjectID: "core", SubjectRelation: "member"},
			{EntityType: "team", EntityID: "core", Relation: "member", SubjectType: "user", SubjectID: "bob"},
			// Nested set: team core contains every member of team infra.
			{EntityType: "team", EntityID: "core", Relation: "member", SubjectType: "team", SubjectID: "infra", SubjectRelation: "member"},
			{EntityType: "team", EntityID: "infra", Relation: "member", SubjectType: "user", SubjectID: "carol"},
		},
	}
	evaluator := newTestEvaluator(relationRepo, newMockAttributeRepository(), false)

	tests := []struct {
		name      string
		subjectID string
		expected  bool
	}{
		{"direct team member", "bob", true},
		{"nested team member", "carol", true},
		{"non-member", "mallory", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", tt.subjectID), "view")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestEvaluator_Hierarchical(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			// Repository 1 has two parents; only acme grants dana admin.
			{EntityType: "repository", EntityID: "1", Relation: "parent", SubjectType: "org", SubjectID: "globex"},
			{EntityType: "repository", EntityID: "1", Relation: "parent", SubjectType: "org", SubjectID: "acme"},
			{EntityType: "org", EntityID: "acme", Relation: "admin", SubjectType: "user", SubjectID: "dana"},
		},
	}
	evaluator := newTestEvaluator(relationRepo, newMockAttributeRepository(), false)

	result, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "dana"), "admin_view")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result {
		t.Error("expected one allowing parent to grant the permission")
	}

	result, err = evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "eve"), "admin_view")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result {
		t.Error("expected denial when no parent grants the permission")
	}
}

func TestEvaluator_HierarchicalConjunction(t *testing.T) {
	schema := createTestSchema()
	// erin is a member of the repository's parent but an admin only of an
	// unrelated org, so the conjunction must not mix grants across instances
	// the traversal never reached.
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "parent", SubjectType: "org", SubjectID: "acme"},
			{EntityType: "org", EntityID: "acme", Relation: "member", SubjectType: "user", SubjectID: "erin"},
			{EntityType: "org", EntityID: "globex", Relation: "admin", SubjectType: "user", SubjectID: "erin"},
		},
	}
	evaluator := newTestEvaluator(relationRepo, newMockAttributeRepository(), false)

	result, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "erin"), "audit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result {
		t.Error("expected denial when the admin grant is on an unreached org")
	}

	relationRepo.tuples = append(relationRepo.tuples,
		&entities.RelationTuple{EntityType: "org", EntityID: "acme", Relation: "admin", SubjectType: "user", SubjectID: "erin"})

	result, err = evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "erin"), "audit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result {
		t.Error("expected the parent granting both sides to allow")
	}
}

func TestEvaluator_Exclusion(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "frank"},
			{EntityType: "repository", EntityID: "1", Relation: "banned", SubjectType: "user", SubjectID: "frank"},
		},
	}
	evaluator := newTestEvaluator(relationRepo, newMockAttributeRepository(), false)

	tests := []struct {
		name      string
		subjectID string
		expected  bool
	}{
		{"base grant without exclusion", "alice", true},
		{"exclusion flips grant to denial", "frank", false},
		{"no base grant", "grace", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", tt.subjectID), "comment")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestEvaluator_RuleCall(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
		},
	}
	attributeRepo := newMockAttributeRepository()
	attributeRepo.set("repository", "1", "ip_range", []interface{}{"10.0.0.1", "10.0.0.2"})
	evaluator := newTestEvaluator(relationRepo, attributeRepo, false)

	req := evalRequest(schema, "repository", "1", "alice")
	req.ContextData = map[string]interface{}{"ip": "10.0.0.1"}

	result, err := evaluator.CheckMember(context.Background(), req, "connect")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result {
		t.Error("expected allowed for an IP inside the range")
	}

	req.ContextData = map[string]interface{}{"ip": "192.168.1.1"}
	result, err = evaluator.CheckMember(context.Background(), req, "connect")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result {
		t.Error("expected denied for an IP outside the range")
	}
}

func TestEvaluator_RuleCall_MissingAttribute(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
		},
	}
	// No ip_range attribute stored: the check must fail, not deny.
	evaluator := newTestEvaluator(relationRepo, newMockAttributeRepository(), false)

	req := evalRequest(schema, "repository", "1", "alice")
	req.ContextData = map[string]interface{}{"ip": "10.0.0.1"}

	_, err := evaluator.CheckMember(context.Background(), req, "connect")
	if err == nil {
		t.Fatal("expected an error for a missing attribute")
	}
	re, ok := entities.AsResolutionError(err)
	if !ok {
		t.Fatalf("expected a resolution error, got %v", err)
	}
	if re.Kind != entities.ResolutionMissingBinding {
		t.Errorf("expected kind %s, got %s", entities.ResolutionMissingBinding, re.Kind)
	}
}

func TestEvaluator_RuleCall_MissingContextData(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
		},
	}
	attributeRepo := newMockAttributeRepository()
	attributeRepo.set("repository", "1", "ip_range", []interface{}{"10.0.0.1"})
	evaluator := newTestEvaluator(relationRepo, attributeRepo, false)

	// context.data.ip is referenced by the rule body but not supplied.
	_, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "alice"), "connect")
	if err == nil {
		t.Fatal("expected an error for missing context data")
	}
	re, ok := entities.AsResolutionError(err)
	if !ok {
		t.Fatalf("expected a resolution error, got %v", err)
	}
	if re.Kind != entities.ResolutionMissingBinding {
		t.Errorf("expected kind %s, got %s", entities.ResolutionMissingBinding, re.Kind)
	}
}

func TestEvaluator_RuleCall_ThisAttributes(t *testing.T) {
	schema := createTestSchema()
	attributeRepo := newMockAttributeRepository()
	attributeRepo.set("repository", "1", "public", true)
	attributeRepo.set("repository", "2", "public", false)
	evaluator := newTestEvaluator(&mockRelationRepository{}, attributeRepo, false)

	result, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "anyone"), "read_public")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result {
		t.Error("expected allowed for a public repository")
	}

	result, err = evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "2", "anyone"), "read_public")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result {
		t.Error("expected denied for a private repository")
	}
}

func TestEvaluator_CycleDenies(t *testing.T) {
	schema := createTestSchema()
	evaluator := newTestEvaluator(&mockRelationRepository{}, newMockAttributeRepository(), false)

	// loop_a -> loop_b -> loop_a terminates and denies.
	result, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "alice"), "loop_a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result {
		t.Error("expected a cyclic permission to deny")
	}
}

func TestEvaluator_CycleStrict(t *testing.T) {
	schema := createTestSchema()
	evaluator := newTestEvaluator(&mockRelationRepository{}, newMockAttributeRepository(), true)

	_, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "alice"), "loop_a")
	if err == nil {
		t.Fatal("expected an error in strict cycle mode")
	}
	re, ok := entities.AsResolutionError(err)
	if !ok {
		t.Fatalf("expected a resolution error, got %v", err)
	}
	if re.Kind != entities.ResolutionCycleDetected {
		t.Errorf("expected kind %s, got %s", entities.ResolutionCycleDetected, re.Kind)
	}
}

func TestEvaluator_DepthExceeded(t *testing.T) {
	schema := createTestSchema()
	relationRepo := &mockRelationRepository{
		tuples: []*entities.RelationTuple{
			{EntityType: "repository", EntityID: "1", Relation: "maintainer", SubjectType: "team", SubjectID: "t1", SubjectRelation: "member"},
			{EntityType: "team", EntityID: "t1", Relation: "member", SubjectType: "team", SubjectID: "t2", SubjectRelation: "member"},
			{EntityType: "team", EntityID: "t2", Relation: "member", SubjectType: "user", SubjectID: "alice"},
		},
	}
	evaluator := NewEvaluator(relationRepo, newMockAttributeRepository(), NewRuleEngine(), 1, false)

	_, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "alice"), "view")
	if err == nil {
		t.Fatal("expected a depth error")
	}
	re, ok := entities.AsResolutionError(err)
	if !ok {
		t.Fatalf("expected a resolution error, got %v", err)
	}
	if re.Kind != entities.ResolutionDepthExceeded {
		t.Errorf("expected kind %s, got %s", entities.ResolutionDepthExceeded, re.Kind)
	}
}

func TestEvaluator_ContextualTuples(t *testing.T) {
	schema := createTestSchema()
	evaluator := newTestEvaluator(&mockRelationRepository{}, newMockAttributeRepository(), false)

	req := evalRequest(schema, "repository", "1", "alice")
	req.ContextualTuples = []*entities.RelationTuple{
		{EntityType: "repository", EntityID: "1", Relation: "owner", SubjectType: "user", SubjectID: "alice"},
	}

	result, err := evaluator.CheckMember(context.Background(), req, "edit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result {
		t.Error("expected a contextual tuple to grant the permission")
	}
}

func TestEvaluator_UnknownMember(t *testing.T) {
	schema := createTestSchema()
	evaluator := newTestEvaluator(&mockRelationRepository{}, newMockAttributeRepository(), false)

	_, err := evaluator.CheckMember(context.Background(), evalRequest(schema, "repository", "1", "alice"), "nonexistent")
	if err == nil {
		t.Fatal("expected an error for an unknown member")
	}
	re, ok := entities.AsResolutionError(err)
	if !ok {
		t.Fatalf("expected a resolution error, got %v", err)
	}
	if re.Kind != entities.ResolutionInvalidRequest {
		t.Errorf("expected kind %s, got %s", entities.ResolutionInvalidRequest, re.Kind)
	}
}
