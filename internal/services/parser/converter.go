package parser

import (
	"fmt"

	"github.com/torii-authz/torii/internal/entities"
)

// ASTToSchema converts a validated SchemaAST into an entities.Schema.
// Bare references are resolved into relation or permission leaves here, so
// the evaluator never has to guess what a name means.
func ASTToSchema(tenantID string, ast *SchemaAST) (*entities.Schema, error) {
	schema := &entities.Schema{
		TenantID: tenantID,
		Rules:    make([]*entities.RuleDefinition, 0, len(ast.Rules)),
		Entities: make([]*entities.Entity, 0, len(ast.Entities)),
	}

	for _, ruleAST := range ast.Rules {
		rule, err := convertRule(ruleAST)
		if err != nil {
			return nil, fmt.Errorf("failed to convert rule %s: %w", ruleAST.Name, err)
		}
		schema.Rules = append(schema.Rules, rule)
	}

	for _, entityAST := range ast.Entities {
		entity, err := convertEntity(entityAST)
		if err != nil {
			return nil, fmt.Errorf("failed to convert entity %s: %w", entityAST.Name, err)
		}
		schema.Entities = append(schema.Entities, entity)
	}

	return schema, nil
}

func convertRule(ast *RuleDefinitionAST) (*entities.RuleDefinition, error) {
	rule := &entities.RuleDefinition{
		Name:       ast.Name,
		Parameters: make([]*entities.RuleParameter, 0, len(ast.Parameters)),
		Body:       ast.Body,
	}
	for _, paramAST := range ast.Parameters {
		paramType, err := entities.ParseAttrType(paramAST.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", paramAST.Name, err)
		}
		rule.Parameters = append(rule.Parameters, &entities.RuleParameter{
			Name: paramAST.Name,
			Type: paramType,
		})
	}
	return rule, nil
}

func convertEntity(ast *EntityAST) (*entities.Entity, error) {
	entity := &entities.Entity{
		Name:             ast.Name,
		Relations:        make([]*entities.Relation, 0, len(ast.Relations)),
		AttributeSchemas: make([]*entities.AttributeSchema, 0, len(ast.Attributes)),
		Permissions:      make([]*entities.Permission, 0, len(ast.Permissions)),
		Rules:            make([]*entities.RuleDefinition, 0, len(ast.Rules)),
	}

	for _, relAST := range ast.Relations {
		relation := &entities.Relation{
			Name:    relAST.Name,
			Targets: make([]*entities.RelationTarget, 0, len(relAST.Targets)),
		}
		for _, targetAST := range relAST.Targets {
			relation.Targets = append(relation.Targets, &entities.RelationTarget{
				Type:     targetAST.Type,
				Relation: targetAST.Relation,
			})
		}
		entity.Relations = append(entity.Relations, relation)
	}

	for _, attrAST := range ast.Attributes {
		attrType, err := entities.ParseAttrType(attrAST.Type)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", attrAST.Name, err)
		}
		entity.AttributeSchemas = append(entity.AttributeSchemas, &entities.AttributeSchema{
			Name: attrAST.Name,
			Type: attrType,
		})
	}

	for _, ruleAST := range ast.Rules {
		rule, err := convertRule(ruleAST)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", ruleAST.Name, err)
		}
		entity.Rules = append(entity.Rules, rule)
	}

	for _, permAST := range ast.Permissions {
		expr, err := convertExpr(ast, permAST.Expr)
		if err != nil {
			return nil, fmt.Errorf("permission %s: %w", permAST.Name, err)
		}
		entity.Permissions = append(entity.Permissions, &entities.Permission{
			Name: permAST.Name,
			Expr: expr,
		})
	}

	return entity, nil
}

func convertExpr(entity *EntityAST, ast PermissionExprAST) (entities.PermissionExpr, error) {
	switch e := ast.(type) {
	case *ReferenceExprAST:
		for _, r := range entity.Relations {
			if r.Name == e.Name {
				return &entities.RelationExpr{Relation: e.Name}, nil
			}
		}
		for _, p := range entity.Permissions {
			if p.Name == e.Name {
				return &entities.PermissionRefExpr{Permission: e.Name}, nil
			}
		}
		return nil, fmt.Errorf("unresolved reference: %s", e.Name)

	case *HierarchicalExprAST:
		return &entities.HierarchicalExpr{
			Relation: e.Relation,
			Target:   e.Target,
		}, nil

	case *AndExprAST:
		left, right, err := convertPair(entity, e.Left, e.Right)
		if err != nil {
			return nil, err
		}
		return &entities.AndExpr{Left: left, Right: right}, nil

	case *OrExprAST:
		left, right, err := convertPair(entity, e.Left, e.Right)
		if err != nil {
			return nil, err
		}
		return &entities.OrExpr{Left: left, Right: right}, nil

	case *ExclusionExprAST:
		left, right, err := convertPair(entity, e.Left, e.Right)
		if err != nil {
			return nil, err
		}
		return &entities.ExclusionExpr{Left: left, Right: right}, nil

	case *RuleCallExprAST:
		call := &entities.RuleCallExpr{
			Rule: e.Rule,
			Args: make([]*entities.RuleArg, 0, len(e.Args)),
		}
		for _, argAST := range e.Args {
			if argAST.IsLiteral {
				call.Args = append(call.Args, &entities.RuleArg{Literal: argAST.Literal})
			} else {
				call.Args = append(call.Args, &entities.RuleArg{Attribute: argAST.Attribute})
			}
		}
		return call, nil

	default:
		return nil, fmt.Errorf("unknown expression type: %T", ast)
	}
}

func convertPair(entity *EntityAST, left, right PermissionExprAST) (entities.PermissionExpr, entities.PermissionExpr, error) {
	l, err := convertExpr(entity, left)
	if err != nil {
		return nil, nil, err
	}
	r, err := convertExpr(entity, right)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}
