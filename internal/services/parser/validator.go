package parser

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/torii-authz/torii/internal/entities"
)

// Validator runs every validation pass over a parsed schema and accumulates
// all failures so tooling can report them together.
type Validator struct {
	schema   *SchemaAST
	errors   entities.CompileErrors
	entities map[string]*EntityAST
}

// NewValidator creates a new Validator
func NewValidator(schema *SchemaAST) *Validator {
	ents := make(map[string]*EntityAST)
	for _, entity := range schema.Entities {
		ents[entity.Name] = entity
	}
	return &Validator{
		schema:   schema,
		errors:   entities.CompileErrors{},
		entities: ents,
	}
}

// Validate runs all passes. It returns entities.CompileErrors when any pass
// failed, nil otherwise.
func (v *Validator) Validate() error {
	v.validateUniqueNames()
	v.validateAttributeTypes()
	v.validateRelationTargets()
	v.validatePermissionExpressions()
	v.validateRuleBodies()

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(location string, kind entities.CompileErrorKind, format string, args ...interface{}) {
	v.errors = append(v.errors, &entities.CompileError{
		Location: location,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
	})
}

// validateUniqueNames checks entity names schema-wide and relation,
// attribute, permission and rule names within each entity.
func (v *Validator) validateUniqueNames() {
	seenEntities := make(map[string]bool)
	for _, entity := range v.schema.Entities {
		if seenEntities[entity.Name] {
			v.addError("", entities.CompileDuplicateName, "duplicate entity name: %s", entity.Name)
		}
		seenEntities[entity.Name] = true
	}

	seenRules := make(map[string]bool)
	for _, rule := range v.schema.Rules {
		if seenRules[rule.Name] {
			v.addError("", entities.CompileDuplicateName, "duplicate rule name: %s", rule.Name)
		}
		seenRules[rule.Name] = true
	}

	for _, entity := range v.schema.Entities {
		loc := "entity " + entity.Name

		relations := make(map[string]bool)
		for _, relation := range entity.Relations {
			if relations[relation.Name] {
				v.addError(loc, entities.CompileDuplicateName, "duplicate relation name: %s", relation.Name)
			}
			relations[relation.Name] = true
		}

		attributes := make(map[string]bool)
		for _, attribute := range entity.Attributes {
			if attributes[attribute.Name] {
				v.addError(loc, entities.CompileDuplicateName, "duplicate attribute name: %s", attribute.Name)
			}
			attributes[attribute.Name] = true
		}

		permissions := make(map[string]bool)
		for _, permission := range entity.Permissions {
			if permissions[permission.Name] {
				v.addError(loc, entities.CompileDuplicateName, "duplicate permission name: %s", permission.Name)
			}
			permissions[permission.Name] = true
		}

		rules := make(map[string]bool)
		for _, rule := range entity.Rules {
			if rules[rule.Name] {
				v.addError(loc, entities.CompileDuplicateName, "duplicate rule name: %s", rule.Name)
			}
			rules[rule.Name] = true
		}

		// Relations, attributes and permissions share one namespace within
		// an entity because a permission expression references all three.
		for name := range attributes {
			if relations[name] {
				v.addError(loc, entities.CompileDuplicateName, "name conflict between relation and attribute: %s", name)
			}
			if permissions[name] {
				v.addError(loc, entities.CompileDuplicateName, "name conflict between attribute and permission: %s", name)
			}
		}
		for name := range relations {
			if permissions[name] {
				v.addError(loc, entities.CompileDuplicateName, "name conflict between relation and permission: %s", name)
			}
		}
	}
}

// validateAttributeTypes checks attribute and rule parameter type spellings.
func (v *Validator) validateAttributeTypes() {
	for _, entity := range v.schema.Entities {
		for _, attribute := range entity.Attributes {
			if _, err := entities.ParseAttrType(attribute.Type); err != nil {
				v.addError(
					fmt.Sprintf("entity %s / attribute %s", entity.Name, attribute.Name),
					entities.CompileTypeMismatch,
					"invalid attribute type: %s", attribute.Type,
				)
			}
		}
	}

	for _, rule := range v.allRules() {
		for _, param := range rule.def.Parameters {
			if _, err := entities.ParseAttrType(param.Type); err != nil {
				v.addError(rule.location, entities.CompileTypeMismatch,
					"invalid parameter type for %s: %s", param.Name, param.Type)
			}
		}
	}
}

// validateRelationTargets checks that every relation target names a declared
// entity and that locked targets name an existing relation on that entity.
// Cycles between entities through relations are legal.
func (v *Validator) validateRelationTargets() {
	for _, entity := range v.schema.Entities {
		for _, relation := range entity.Relations {
			loc := fmt.Sprintf("entity %s / relation %s", entity.Name, relation.Name)
			for _, target := range relation.Targets {
				targetEntity, exists := v.entities[target.Type]
				if !exists {
					v.addError(loc, entities.CompileUnresolvedTarget,
						"target references undefined entity: %s", target.Type)
					continue
				}
				if target.Relation == "" {
					continue
				}
				found := false
				for _, rel := range targetEntity.Relations {
					if rel.Name == target.Relation {
						found = true
						break
					}
				}
				if !found {
					v.addError(loc, entities.CompileUnresolvedTarget,
						"locked target %s#%s references undefined relation", target.Type, target.Relation)
				}
			}
		}
	}
}

// validatePermissionExpressions checks every leaf reference of every
// permission expression tree.
func (v *Validator) validatePermissionExpressions() {
	for _, entity := range v.schema.Entities {
		for _, permission := range entity.Permissions {
			loc := fmt.Sprintf("entity %s / permission %s", entity.Name, permission.Name)
			v.validateExpr(entity, loc, permission.Expr)
		}
	}
}

func (v *Validator) validateExpr(entity *EntityAST, loc string, expr PermissionExprAST) {
	switch e := expr.(type) {
	case *ReferenceExprAST:
		if v.findRelation(entity, e.Name) == nil && v.findPermission(entity, e.Name) == nil {
			v.addError(loc, entities.CompileUnresolvedReference,
				"references undefined relation or permission: %s", e.Name)
		}

	case *HierarchicalExprAST:
		relation := v.findRelation(entity, e.Relation)
		if relation == nil {
			v.addError(loc, entities.CompileUnresolvedReference,
				"hierarchical reference traverses undefined relation: %s", e.Relation)
			return
		}
		// The target member must resolve on at least one target type;
		// instances of other target types are skipped at evaluation time.
		found := false
		for _, target := range relation.Targets {
			targetEntity, exists := v.entities[target.Type]
			if !exists {
				continue // reported by the target resolution pass
			}
			if v.findRelation(targetEntity, e.Target) != nil || v.findPermission(targetEntity, e.Target) != nil {
				found = true
				break
			}
		}
		if !found {
			v.addError(loc, entities.CompileUnresolvedReference,
				"%s.%s does not resolve on any target type of relation %s", e.Relation, e.Target, e.Relation)
		}

	case *AndExprAST:
		v.validateExpr(entity, loc, e.Left)
		v.validateExpr(entity, loc, e.Right)
	case *OrExprAST:
		v.validateExpr(entity, loc, e.Left)
		v.validateExpr(entity, loc, e.Right)
	case *ExclusionExprAST:
		v.validateExpr(entity, loc, e.Left)
		v.validateExpr(entity, loc, e.Right)

	case *RuleCallExprAST:
		v.validateRuleCall(entity, loc, e)
	}
}

func (v *Validator) validateRuleCall(entity *EntityAST, loc string, call *RuleCallExprAST) {
	rule := v.findRule(entity, call.Rule)
	if rule == nil {
		v.addError(loc, entities.CompileUnresolvedReference, "references undefined rule: %s", call.Rule)
		return
	}

	if len(call.Args) != len(rule.Parameters) {
		v.addError(loc, entities.CompileTypeMismatch,
			"rule %s expects %d argument(s), got %d", call.Rule, len(rule.Parameters), len(call.Args))
		return
	}

	for i, arg := range call.Args {
		paramType, err := entities.ParseAttrType(rule.Parameters[i].Type)
		if err != nil {
			continue // reported by the type pass
		}

		if arg.IsLiteral {
			if !literalMatchesType(arg.Literal, paramType) {
				v.addError(loc, entities.CompileTypeMismatch,
					"argument %d of rule %s: literal %v does not match parameter type %s",
					i+1, call.Rule, arg.Literal, paramType)
			}
			continue
		}

		attr := v.findAttribute(entity, arg.Attribute)
		if attr == nil {
			v.addError(loc, entities.CompileUnresolvedReference,
				"argument %d of rule %s references undeclared attribute: %s", i+1, call.Rule, arg.Attribute)
			continue
		}
		attrType, err := entities.ParseAttrType(attr.Type)
		if err != nil {
			continue
		}
		if attrType != paramType {
			v.addError(loc, entities.CompileTypeMismatch,
				"argument %d of rule %s: attribute %s has type %s, parameter expects %s",
				i+1, call.Rule, arg.Attribute, attrType, paramType)
		}
	}
}

// validateRuleBodies type-checks every rule body against its declared
// parameters plus the reserved "this" and "context" records.
func (v *Validator) validateRuleBodies() {
	for _, rule := range v.allRules() {
		if rule.def.Body == "" {
			v.addError(rule.location, entities.CompileMalformedRuleBody, "rule body is empty")
			continue
		}

		opts := []cel.EnvOption{
			cel.Variable("this", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		}
		skip := false
		for _, param := range rule.def.Parameters {
			attrType, err := entities.ParseAttrType(param.Type)
			if err != nil {
				skip = true // reported by the type pass
				break
			}
			opts = append(opts, cel.Variable(param.Name, celType(attrType)))
		}
		if skip {
			continue
		}

		env, err := cel.NewEnv(opts...)
		if err != nil {
			v.addError(rule.location, entities.CompileMalformedRuleBody, "failed to build evaluation environment: %v", err)
			continue
		}

		ast, issues := env.Compile(rule.def.Body)
		if issues != nil && issues.Err() != nil {
			v.addError(rule.location, entities.CompileMalformedRuleBody, "invalid expression: %v", issues.Err())
			continue
		}
		if ast.OutputType() != cel.BoolType {
			v.addError(rule.location, entities.CompileMalformedRuleBody,
				"rule body must evaluate to a boolean, got %s", ast.OutputType())
		}
	}
}

type locatedRule struct {
	def      *RuleDefinitionAST
	location string
}

func (v *Validator) allRules() []locatedRule {
	rules := make([]locatedRule, 0, len(v.schema.Rules))
	for _, rule := range v.schema.Rules {
		rules = append(rules, locatedRule{def: rule, location: "rule " + rule.Name})
	}
	for _, entity := range v.schema.Entities {
		for _, rule := range entity.Rules {
			rules = append(rules, locatedRule{
				def:      rule,
				location: fmt.Sprintf("entity %s / rule %s", entity.Name, rule.Name),
			})
		}
	}
	return rules
}

func (v *Validator) findRelation(entity *EntityAST, name string) *RelationAST {
	for _, r := range entity.Relations {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (v *Validator) findPermission(entity *EntityAST, name string) *PermissionAST {
	for _, p := range entity.Permissions {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (v *Validator) findAttribute(entity *EntityAST, name string) *AttributeAST {
	for _, a := range entity.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// findRule resolves a rule name: entity-scoped rules shadow top-level ones.
func (v *Validator) findRule(entity *EntityAST, name string) *RuleDefinitionAST {
	for _, r := range entity.Rules {
		if r.Name == name {
			return r
		}
	}
	for _, r := range v.schema.Rules {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// literalMatchesType reports whether a literal argument value is assignable
// to the declared parameter type. Array parameters cannot take literals.
func literalMatchesType(value interface{}, t entities.AttrType) bool {
	if t.Array {
		return false
	}
	switch value.(type) {
	case bool:
		return t.Base == entities.AttrBoolean
	case string:
		return t.Base == entities.AttrString
	case int64:
		return t.Base == entities.AttrInteger
	case float64:
		return t.Base == entities.AttrDouble
	default:
		return false
	}
}

// celType maps a declared attribute type onto its CEL counterpart.
func celType(t entities.AttrType) *cel.Type {
	var base *cel.Type
	switch t.Base {
	case entities.AttrBoolean:
		base = cel.BoolType
	case entities.AttrInteger:
		base = cel.IntType
	case entities.AttrDouble:
		base = cel.DoubleType
	default:
		base = cel.StringType
	}
	if t.Array {
		return cel.ListType(base)
	}
	return base
}
