package authorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/internal/repositories"
)

// Expand node types.
const (
	NodeUnion        = "union"
	NodeIntersection = "intersection"
	NodeExclusion    = "exclusion"
	NodeLeaf         = "leaf"
	NodeRule         = "rule"
)

// ExpandNode is one node of a subject set tree. Leaf nodes carry a concrete
// subject; rule nodes stand in for attribute conditions, which depend on
// runtime data and cannot be enumerated.
type ExpandNode struct {
	Type     string        `json:"type"`
	Entity   string        `json:"entity,omitempty"`   // Object reference (e.g., "repository:1")
	Relation string        `json:"relation,omitempty"` // Relation/permission/operator label
	Subject  string        `json:"subject,omitempty"`  // Subject reference, leaf nodes only
	Rule     string        `json:"rule,omitempty"`     // Rule name, rule nodes only
	Children []*ExpandNode `json:"children,omitempty"`
}

// Expander builds subject set trees showing every path that can grant a
// permission.
type Expander struct {
	schemas      SchemaResolver
	relationRepo repositories.RelationRepository
	maxDepth     int
}

// ExpandRequest contains the parameters for expanding a permission tree
type ExpandRequest struct {
	TenantID      string
	SchemaVersion string // Schema version token (empty = latest)
	EntityType    string
	EntityID      string
	Permission    string
}

// ExpandResponse contains the resulting subject set tree
type ExpandResponse struct {
	Tree *ExpandNode
}

// NewExpander creates a new Expander. maxDepth <= 0 selects DefaultMaxDepth.
func NewExpander(schemas SchemaResolver, relationRepo repositories.RelationRepository, maxDepth int) *Expander {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Expander{
		schemas:      schemas,
		relationRepo: relationRepo,
		maxDepth:     maxDepth,
	}
}

// Expand builds the subject set tree for the given object and permission.
func (e *Expander) Expand(ctx context.Context, req *ExpandRequest) (*ExpandResponse, error) {
	if err := e.validateRequest(req); err != nil {
		return nil, entities.WrapResolutionError(entities.ResolutionInvalidRequest, err, "invalid expand request")
	}

	schema, err := e.schemas.GetSchemaEntity(ctx, req.TenantID, req.SchemaVersion)
	if err != nil {
		if errors.Is(err, entities.ErrSchemaNotFound) {
			return nil, entities.WrapResolutionError(entities.ResolutionSchemaNotFound, err,
				"no schema for tenant %s", req.TenantID)
		}
		return nil, err
	}

	entity := schema.GetEntity(req.EntityType)
	if entity == nil {
		return nil, entities.NewResolutionError(entities.ResolutionInvalidRequest,
			"entity type %s is not defined in the schema", req.EntityType)
	}
	permission := entity.GetPermission(req.Permission)
	if permission == nil {
		return nil, entities.NewResolutionError(entities.ResolutionInvalidRequest,
			"entity %s has no permission named %s", req.EntityType, req.Permission)
	}

	entityRef := fmt.Sprintf("%s:%s", req.EntityType, req.EntityID)
	visited := make(map[string]bool)
	tree, err := e.expandExpr(ctx, req.TenantID, schema, req.EntityType, req.EntityID, entityRef, permission.Expr, visited, 0)
	if err != nil {
		return nil, err
	}

	return &ExpandResponse{Tree: tree}, nil
}

func (e *Expander) expandExpr(
	ctx context.Context,
	tenantID string,
	schema *entities.Schema,
	entityType, entityID, entityRef string,
	expr entities.PermissionExpr,
	visited map[string]bool,
	depth int,
) (*ExpandNode, error) {
	if depth > e.maxDepth {
		return nil, entities.NewResolutionError(entities.ResolutionDepthExceeded,
			"expansion depth exceeded %d at %s", e.maxDepth, entityRef)
	}

	switch ex := expr.(type) {
	case *entities.RelationExpr:
		return e.expandRelation(ctx, tenantID, schema, entityType, entityID, entityRef, ex.Relation, visited, depth)

	case *entities.PermissionRefExpr:
		permission := schema.GetPermission(entityType, ex.Permission)
		if permission == nil {
			return nil, entities.NewResolutionError(entities.ResolutionInvalidRequest,
				"entity %s has no permission named %s", entityType, ex.Permission)
		}
		return e.expandExpr(ctx, tenantID, schema, entityType, entityID, entityRef, permission.Expr, visited, depth+1)

	case *entities.HierarchicalExpr:
		return e.expandHierarchical(ctx, tenantID, schema, entityType, entityID, entityRef, ex, visited, depth)

	case *entities.RuleCallExpr:
		// Rule outcomes depend on stored attributes and request context, so
		// they stay opaque in the tree.
		return &ExpandNode{
			Type:   NodeRule,
			Entity: entityRef,
			Rule:   ex.Rule,
		}, nil

	case *entities.AndExpr:
		return e.expandPair(ctx, tenantID, schema, entityType, entityID, entityRef, NodeIntersection, "and", ex.Left, ex.Right, visited, depth)
	case *entities.OrExpr:
		return e.expandPair(ctx, tenantID, schema, entityType, entityID, entityRef, NodeUnion, "or", ex.Left, ex.Right, visited, depth)
	case *entities.ExclusionExpr:
		return e.expandPair(ctx, tenantID, schema, entityType, entityID, entityRef, NodeExclusion, "not", ex.Left, ex.Right, visited, depth)

	default:
		return nil, entities.NewResolutionError(entities.ResolutionInvalidRequest,
			"unknown expression node %T", expr)
	}
}

func (e *Expander) expandPair(
	ctx context.Context,
	tenantID string,
	schema *entities.Schema,
	entityType, entityID, entityRef string,
	nodeType, operator string,
	left, right entities.PermissionExpr,
	visited map[string]bool,
	depth int,
) (*ExpandNode, error) {
	node := &ExpandNode{
		Type:     nodeType,
		Entity:   entityRef,
		Relation: operator,
		Children: make([]*ExpandNode, 0, 2),
	}

	leftNode, err := e.expandExpr(ctx, tenantID, schema, entityType, entityID, entityRef, left, visited, depth+1)
	if err != nil {
		return nil, err
	}
	node.Children = append(node.Children, leftNode)

	rightNode, err := e.expandExpr(ctx, tenantID, schema, entityType, entityID, entityRef, right, visited, depth+1)
	if err != nil {
		return nil, err
	}
	node.Children = append(node.Children, rightNode)

	return node, nil
}

// expandRelation enumerates the relation's tuples. A plain tuple becomes a
// leaf; a subject-set tuple expands into the referenced set's subtree. A set
// already on the current path is returned as an empty node, since cyclic data
// adds no members the outer node does not already carry.
func (e *Expander) expandRelation(
	ctx context.Context,
	tenantID string,
	schema *entities.Schema,
	entityType, entityID, entityRef, relation string,
	visited map[string]bool,
	depth int,
) (*ExpandNode, error) {
	if depth > e.maxDepth {
		return nil, entities.NewResolutionError(entities.ResolutionDepthExceeded,
			"expansion depth exceeded %d at %s#%s", e.maxDepth, entityRef, relation)
	}

	frame := fmt.Sprintf("%s:%s#%s", entityType, entityID, relation)
	if visited[frame] {
		return &ExpandNode{
			Type:     NodeUnion,
			Entity:   entityRef,
			Relation: relation,
		}, nil
	}
	visited[frame] = true
	defer delete(visited, frame)

	filter := &repositories.RelationFilter{
		EntityType: entityType,
		EntityID:   entityID,
		Relation:   relation,
	}
	tuples, err := e.relationRepo.Read(ctx, tenantID, filter)
	if err != nil {
		return nil, entities.WrapResolutionError(entities.ResolutionStoreUnavailable, err,
			"failed to read tuples for %s#%s", entityRef, relation)
	}

	node := &ExpandNode{
		Type:     NodeUnion,
		Entity:   entityRef,
		Relation: relation,
		Children: make([]*ExpandNode, 0, len(tuples)),
	}

	for _, tuple := range tuples {
		if tuple.SubjectRelation == "" {
			node.Children = append(node.Children, &ExpandNode{
				Type:     NodeLeaf,
				Entity:   entityRef,
				Relation: relation,
				Subject:  fmt.Sprintf("%s:%s", tuple.SubjectType, tuple.SubjectID),
			})
			continue
		}

		setRef := fmt.Sprintf("%s:%s", tuple.SubjectType, tuple.SubjectID)
		child, err := e.expandRelation(ctx, tenantID, schema,
			tuple.SubjectType, tuple.SubjectID, setRef, tuple.SubjectRelation, visited, depth+1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}

// expandHierarchical expands a traversal like parent.view: one subtree per
// reached instance that defines the target member.
func (e *Expander) expandHierarchical(
	ctx context.Context,
	tenantID string,
	schema *entities.Schema,
	entityType, entityID, entityRef string,
	expr *entities.HierarchicalExpr,
	visited map[string]bool,
	depth int,
) (*ExpandNode, error) {
	if depth > e.maxDepth {
		return nil, entities.NewResolutionError(entities.ResolutionDepthExceeded,
			"expansion depth exceeded %d at %s#%s", e.maxDepth, entityRef, expr.Relation)
	}

	filter := &repositories.RelationFilter{
		EntityType: entityType,
		EntityID:   entityID,
		Relation:   expr.Relation,
	}
	tuples, err := e.relationRepo.Read(ctx, tenantID, filter)
	if err != nil {
		return nil, entities.WrapResolutionError(entities.ResolutionStoreUnavailable, err,
			"failed to read tuples for %s#%s", entityRef, expr.Relation)
	}

	node := &ExpandNode{
		Type:     NodeUnion,
		Entity:   entityRef,
		Relation: fmt.Sprintf("%s.%s", expr.Relation, expr.Target),
		Children: make([]*ExpandNode, 0, len(tuples)),
	}

	for _, tuple := range tuples {
		target := schema.GetEntity(tuple.SubjectType)
		if target == nil {
			continue
		}

		targetRef := fmt.Sprintf("%s:%s", tuple.SubjectType, tuple.SubjectID)
		if permission := target.GetPermission(expr.Target); permission != nil {
			child, err := e.expandExpr(ctx, tenantID, schema,
				tuple.SubjectType, tuple.SubjectID, targetRef, permission.Expr, visited, depth+1)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
			continue
		}
		if target.GetRelation(expr.Target) != nil {
			child, err := e.expandRelation(ctx, tenantID, schema,
				tuple.SubjectType, tuple.SubjectID, targetRef, expr.Target, visited, depth+1)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		// Instances of types that do not define the member are skipped.
	}

	return node, nil
}

func (e *Expander) validateRequest(req *ExpandRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if req.EntityType == "" {
		return fmt.Errorf("entity type is required")
	}
	if req.EntityID == "" {
		return fmt.Errorf("entity ID is required")
	}
	if req.Permission == "" {
		return fmt.Errorf("permission is required")
	}
	return nil
}
