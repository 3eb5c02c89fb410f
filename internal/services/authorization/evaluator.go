package authorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/internal/repositories"
)

const (
	// DefaultMaxDepth bounds the recursion of permission resolution.
	DefaultMaxDepth = 100
)

// Evaluator resolves permission expression trees against the relationship
// and attribute stores.
type Evaluator struct {
	relationRepo  repositories.RelationRepository
	attributeRepo repositories.AttributeRepository
	ruleEngine    *RuleEngine
	maxDepth      int
	strictCycles  bool
}

// EvaluationRequest carries the state of one resolution call. The schema is
// resolved once by the caller and pinned for the whole traversal, so a
// concurrent schema write never mixes versions mid-evaluation.
type EvaluationRequest struct {
	TenantID         string
	Schema           *entities.Schema
	EntityType       string // Object entity type
	EntityID         string // Object instance ID
	SubjectType      string // Subject type
	SubjectID        string // Subject ID
	ContextualTuples []*entities.RelationTuple // Request-scoped tuples, not persisted
	ContextData      map[string]interface{}    // Request-scoped rule context
	Depth            int
	visited          map[string]bool // Frames on the current path, for cycle detection
}

// NewEvaluator creates a new Evaluator. maxDepth <= 0 selects DefaultMaxDepth.
// With strictCycles, a cyclic reference fails the whole check instead of
// denying the cycling node.
func NewEvaluator(
	relationRepo repositories.RelationRepository,
	attributeRepo repositories.AttributeRepository,
	ruleEngine *RuleEngine,
	maxDepth int,
	strictCycles bool,
) *Evaluator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Evaluator{
		relationRepo:  relationRepo,
		attributeRepo: attributeRepo,
		ruleEngine:    ruleEngine,
		maxDepth:      maxDepth,
		strictCycles:  strictCycles,
	}
}

// CheckMember resolves whether the subject holds the named member (permission
// or relation) on the request's object. This is the engine's entry point and
// also the recursion point for subject-set and hierarchical hops.
func (e *Evaluator) CheckMember(ctx context.Context, req *EvaluationRequest, member string) (bool, error) {
	if req.Depth > e.maxDepth {
		return false, entities.NewResolutionError(entities.ResolutionDepthExceeded,
			"resolution depth exceeded %d at %s:%s#%s", e.maxDepth, req.EntityType, req.EntityID, member)
	}

	if req.visited == nil {
		req.visited = make(map[string]bool)
	}
	frame := fmt.Sprintf("%s:%s#%s", req.EntityType, req.EntityID, member)
	if req.visited[frame] {
		if e.strictCycles {
			return false, entities.NewResolutionError(entities.ResolutionCycleDetected,
				"cyclic reference through %s", frame)
		}
		// A cycle can never add a grant; the cycling node denies.
		return false, nil
	}
	req.visited[frame] = true
	defer delete(req.visited, frame)

	entity := req.Schema.GetEntity(req.EntityType)
	if entity == nil {
		return false, entities.NewResolutionError(entities.ResolutionInvalidRequest,
			"entity type %s is not defined in the schema", req.EntityType)
	}

	if permission := entity.GetPermission(member); permission != nil {
		return e.evaluateExpr(ctx, req, permission.Expr)
	}
	if entity.GetRelation(member) != nil {
		return e.evaluateRelationLeaf(ctx, req, member)
	}

	return false, entities.NewResolutionError(entities.ResolutionInvalidRequest,
		"entity %s has no permission or relation named %s", req.EntityType, member)
}

func (e *Evaluator) evaluateExpr(ctx context.Context, req *EvaluationRequest, expr entities.PermissionExpr) (bool, error) {
	switch ex := expr.(type) {
	case *entities.RelationExpr:
		return e.evaluateRelationLeaf(ctx, req, ex.Relation)

	case *entities.PermissionRefExpr:
		return e.CheckMember(ctx, e.descend(req, req.EntityType, req.EntityID), ex.Permission)

	case *entities.HierarchicalExpr:
		return e.evaluateHierarchical(ctx, req, ex)

	case *entities.RuleCallExpr:
		return e.evaluateRuleCall(ctx, req, ex)

	case *entities.AndExpr:
		left, err := e.evaluateExpr(ctx, req, ex.Left)
		if err != nil {
			return false, err
		}
		if !left {
			return false, nil
		}
		return e.evaluateExpr(ctx, req, ex.Right)

	case *entities.OrExpr:
		left, err := e.evaluateExpr(ctx, req, ex.Left)
		if err != nil {
			return false, err
		}
		if left {
			return true, nil
		}
		return e.evaluateExpr(ctx, req, ex.Right)

	case *entities.ExclusionExpr:
		left, err := e.evaluateExpr(ctx, req, ex.Left)
		if err != nil {
			return false, err
		}
		if !left {
			return false, nil
		}
		right, err := e.evaluateExpr(ctx, req, ex.Right)
		if err != nil {
			return false, err
		}
		return !right, nil

	default:
		return false, entities.NewResolutionError(entities.ResolutionInvalidRequest,
			"unknown expression node %T", expr)
	}
}

// evaluateRelationLeaf reports whether the subject is related to the object
// through the named relation, either by a direct tuple or through a
// subject-set tuple (e.g. @team:core#member) whose set contains the subject.
func (e *Evaluator) evaluateRelationLeaf(ctx context.Context, req *EvaluationRequest, relation string) (bool, error) {
	tuples, err := e.readRelation(ctx, req, req.EntityType, req.EntityID, relation)
	if err != nil {
		return false, err
	}

	// Direct matches first: they need no further store reads.
	for _, tuple := range tuples {
		if tuple.SubjectRelation == "" &&
			tuple.SubjectType == req.SubjectType &&
			tuple.SubjectID == req.SubjectID {
			return true, nil
		}
	}

	for _, tuple := range tuples {
		if tuple.SubjectRelation == "" {
			continue
		}
		// Subject-set tuple: the subject qualifies when it holds
		// subject_relation on the referenced instance.
		member := e.descend(req, tuple.SubjectType, tuple.SubjectID)
		ok, err := e.CheckMember(ctx, member, tuple.SubjectRelation)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

// evaluateHierarchical follows the relation one hop and evaluates the target
// member on every reached instance. The hop is a disjunction: one allowing
// instance is enough.
func (e *Evaluator) evaluateHierarchical(ctx context.Context, req *EvaluationRequest, expr *entities.HierarchicalExpr) (bool, error) {
	tuples, err := e.readRelation(ctx, req, req.EntityType, req.EntityID, expr.Relation)
	if err != nil {
		return false, err
	}

	for _, tuple := range tuples {
		reached, err := e.expandReached(ctx, req, tuple)
		if err != nil {
			return false, err
		}
		for _, instance := range reached {
			target := req.Schema.GetEntity(instance.entityType)
			if target == nil {
				continue
			}
			// Instances whose type does not define the member are skipped;
			// the compiler guarantees at least one target type resolves.
			if target.GetPermission(expr.Target) == nil && target.GetRelation(expr.Target) == nil {
				continue
			}
			ok, err := e.CheckMember(ctx, e.descend(req, instance.entityType, instance.entityID), expr.Target)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}

	return false, nil
}

type instanceRef struct {
	entityType string
	entityID   string
}

// expandReached resolves the instances a traversal tuple reaches. A plain
// tuple reaches its subject; a subject-set tuple (@team:core#member) reaches
// every member of the referenced set, expanded recursively.
func (e *Evaluator) expandReached(ctx context.Context, req *EvaluationRequest, tuple *entities.RelationTuple) ([]instanceRef, error) {
	if tuple.SubjectRelation == "" {
		return []instanceRef{{entityType: tuple.SubjectType, entityID: tuple.SubjectID}}, nil
	}

	if req.Depth+1 > e.maxDepth {
		return nil, entities.NewResolutionError(entities.ResolutionDepthExceeded,
			"resolution depth exceeded %d expanding %s", e.maxDepth, tuple.String())
	}

	frame := fmt.Sprintf("%s:%s#%s", tuple.SubjectType, tuple.SubjectID, tuple.SubjectRelation)
	if req.visited[frame] {
		if e.strictCycles {
			return nil, entities.NewResolutionError(entities.ResolutionCycleDetected,
				"cyclic reference through %s", frame)
		}
		return nil, nil
	}
	req.visited[frame] = true
	defer delete(req.visited, frame)

	inner := e.descend(req, tuple.SubjectType, tuple.SubjectID)
	members, err := e.readRelation(ctx, inner, tuple.SubjectType, tuple.SubjectID, tuple.SubjectRelation)
	if err != nil {
		return nil, err
	}

	var reached []instanceRef
	for _, member := range members {
		expanded, err := e.expandReached(ctx, inner, member)
		if err != nil {
			return nil, err
		}
		reached = append(reached, expanded...)
	}
	return reached, nil
}

// evaluateRuleCall binds the call's arguments and evaluates the rule body.
// Attribute arguments are read from the object's stored attributes; a missing
// attribute is a MissingBinding failure, never an implicit false.
func (e *Evaluator) evaluateRuleCall(ctx context.Context, req *EvaluationRequest, expr *entities.RuleCallExpr) (bool, error) {
	rule := req.Schema.GetRule(req.EntityType, expr.Rule)
	if rule == nil {
		return false, entities.NewResolutionError(entities.ResolutionInvalidRequest,
			"rule %s is not defined for entity %s", expr.Rule, req.EntityType)
	}
	if len(expr.Args) != len(rule.Parameters) {
		return false, entities.NewResolutionError(entities.ResolutionInvalidRequest,
			"rule %s expects %d argument(s), got %d", rule.Name, len(rule.Parameters), len(expr.Args))
	}

	args := make(map[string]interface{}, len(rule.Parameters))
	for i, arg := range expr.Args {
		param := rule.Parameters[i]
		if arg.IsLiteral() {
			args[param.Name] = arg.Literal
			continue
		}
		value, err := e.attributeRepo.GetValue(ctx, req.TenantID, req.EntityType, req.EntityID, arg.Attribute)
		if err != nil {
			if errors.Is(err, entities.ErrAttributeNotFound) {
				return false, entities.WrapResolutionError(entities.ResolutionMissingBinding, err,
					"rule %s: attribute %s has no value on %s:%s",
					rule.Name, arg.Attribute, req.EntityType, req.EntityID)
			}
			return false, entities.WrapResolutionError(entities.ResolutionStoreUnavailable, err,
				"failed to read attribute %s", arg.Attribute)
		}
		args[param.Name] = value
	}

	this, err := e.attributeRepo.Read(ctx, req.TenantID, req.EntityType, req.EntityID)
	if err != nil {
		return false, entities.WrapResolutionError(entities.ResolutionStoreUnavailable, err,
			"failed to read attributes of %s:%s", req.EntityType, req.EntityID)
	}

	contextData := map[string]interface{}{}
	if req.ContextData != nil {
		contextData["data"] = req.ContextData
	} else {
		contextData["data"] = map[string]interface{}{}
	}

	result, err := e.ruleEngine.Evaluate(rule, args, this, contextData)
	if err != nil {
		if evalErr, ok := entities.AsEvalError(err); ok {
			return false, entities.WrapResolutionError(entities.ResolutionKindForEvalError(evalErr), err,
				"rule %s failed on %s:%s", rule.Name, req.EntityType, req.EntityID)
		}
		return false, err
	}
	return result, nil
}

// readRelation reads the store tuples for (entityType, entityID, relation)
// and merges in the request's matching contextual tuples.
func (e *Evaluator) readRelation(ctx context.Context, req *EvaluationRequest, entityType, entityID, relation string) ([]*entities.RelationTuple, error) {
	filter := &repositories.RelationFilter{
		EntityType: entityType,
		EntityID:   entityID,
		Relation:   relation,
	}
	tuples, err := e.relationRepo.Read(ctx, req.TenantID, filter)
	if err != nil {
		return nil, entities.WrapResolutionError(entities.ResolutionStoreUnavailable, err,
			"failed to read tuples for %s:%s#%s", entityType, entityID, relation)
	}

	for _, tuple := range req.ContextualTuples {
		if tuple.EntityType == entityType &&
			tuple.EntityID == entityID &&
			tuple.Relation == relation {
			tuples = append(tuples, tuple)
		}
	}
	return tuples, nil
}

// descend produces the request for a recursion step onto another object.
// The visited set and contextual state are shared; only the object and the
// depth change.
func (e *Evaluator) descend(req *EvaluationRequest, entityType, entityID string) *EvaluationRequest {
	return &EvaluationRequest{
		TenantID:         req.TenantID,
		Schema:           req.Schema,
		EntityType:       entityType,
		EntityID:         entityID,
		SubjectType:      req.SubjectType,
		SubjectID:        req.SubjectID,
		ContextualTuples: req.ContextualTuples,
		ContextData:      req.ContextData,
		Depth:            req.Depth + 1,
		visited:          req.visited,
	}
}
