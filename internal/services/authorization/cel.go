package authorization

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"

	"github.com/torii-authz/torii/internal/entities"
)

// RuleEngine compiles and evaluates attribute rule bodies. Programs are
// compiled once per distinct rule signature and reused across requests.
type RuleEngine struct {
	mu       sync.RWMutex
	programs map[string]*ruleProgram
}

// ruleProgram pairs a compiled body with the map keys it selects on "this"
// and "context.data", taken from the checked AST. The keys are verified
// against the bound maps before evaluation so a missing binding is reported
// as such instead of surfacing as an opaque evaluation error.
type ruleProgram struct {
	prg      cel.Program
	thisKeys []string
	dataKeys []string
}

// NewRuleEngine creates a new RuleEngine
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{
		programs: make(map[string]*ruleProgram),
	}
}

// ruleKey identifies a compiled program. Body plus the typed parameter list
// fully determines the compilation result.
func ruleKey(rule *entities.RuleDefinition) string {
	var sb strings.Builder
	for _, p := range rule.Parameters {
		sb.WriteString(p.Name)
		sb.WriteByte(':')
		sb.WriteString(p.Type.String())
		sb.WriteByte(';')
	}
	sb.WriteByte('|')
	sb.WriteString(rule.Body)
	return sb.String()
}

func (e *RuleEngine) program(rule *entities.RuleDefinition) (*ruleProgram, error) {
	key := ruleKey(rule)

	e.mu.RLock()
	rp, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return rp, nil
	}

	opts := []cel.EnvOption{
		cel.Variable("this", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	}
	for _, param := range rule.Parameters {
		opts = append(opts, cel.Variable(param.Name, celType(param.Type)))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation environment: %w", err)
	}

	ast, issues := env.Compile(rule.Body)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.Name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s must evaluate to a boolean, got %s", rule.Name, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for rule %s: %w", rule.Name, err)
	}

	thisKeys, dataKeys := referencedKeys(ast.NativeRep().Expr())
	rp = &ruleProgram{prg: prg, thisKeys: thisKeys, dataKeys: dataKeys}

	e.mu.Lock()
	e.programs[key] = rp
	e.mu.Unlock()

	return rp, nil
}

// referencedKeys collects the field names the expression selects on the
// "this" map and on "context.data". has() tests are skipped: they probe for
// absence and must not require the key.
func referencedKeys(expr celast.Expr) (thisKeys, dataKeys []string) {
	seenThis := make(map[string]bool)
	seenData := make(map[string]bool)

	celast.PostOrderVisit(expr, celast.NewExprVisitor(func(e celast.Expr) {
		if e.Kind() != celast.SelectKind {
			return
		}
		sel := e.AsSelect()
		if sel.IsTestOnly() {
			return
		}
		operand := sel.Operand()
		if operand.Kind() == celast.IdentKind && operand.AsIdent() == "this" {
			if !seenThis[sel.FieldName()] {
				seenThis[sel.FieldName()] = true
				thisKeys = append(thisKeys, sel.FieldName())
			}
			return
		}
		if operand.Kind() == celast.SelectKind {
			inner := operand.AsSelect()
			if inner.FieldName() == "data" &&
				inner.Operand().Kind() == celast.IdentKind &&
				inner.Operand().AsIdent() == "context" {
				if !seenData[sel.FieldName()] {
					seenData[sel.FieldName()] = true
					dataKeys = append(dataKeys, sel.FieldName())
				}
			}
		}
	}))

	return thisKeys, dataKeys
}

// Evaluate runs a rule body against the bound arguments. The entity's stored
// attributes are exposed as "this" and the caller-supplied request data as
// "context". Missing bindings and type mismatches come back as *EvalError so
// the caller can map them onto the resolution taxonomy instead of a silent
// false.
func (e *RuleEngine) Evaluate(
	rule *entities.RuleDefinition,
	args map[string]interface{},
	this map[string]interface{},
	contextData map[string]interface{},
) (bool, error) {
	rp, err := e.program(rule)
	if err != nil {
		return false, err
	}

	vars := make(map[string]interface{}, len(rule.Parameters)+2)
	for _, param := range rule.Parameters {
		value, ok := args[param.Name]
		if !ok {
			return false, &entities.EvalError{
				Kind:    entities.EvalMissingBinding,
				Message: fmt.Sprintf("rule %s: no value bound for parameter %s", rule.Name, param.Name),
			}
		}
		coerced, err := coerceValue(value, param.Type)
		if err != nil {
			return false, &entities.EvalError{
				Kind:    entities.EvalTypeMismatch,
				Message: fmt.Sprintf("rule %s, parameter %s: %v", rule.Name, param.Name, err),
			}
		}
		vars[param.Name] = coerced
	}

	if this == nil {
		this = map[string]interface{}{}
	}
	if contextData == nil {
		contextData = map[string]interface{}{}
	}
	vars["this"] = this
	vars["context"] = contextData

	for _, key := range rp.thisKeys {
		if _, ok := this[key]; !ok {
			return false, &entities.EvalError{
				Kind:    entities.EvalMissingBinding,
				Message: fmt.Sprintf("rule %s: this.%s is not set", rule.Name, key),
			}
		}
	}
	if len(rp.dataKeys) > 0 {
		data, _ := contextData["data"].(map[string]interface{})
		for _, key := range rp.dataKeys {
			if _, ok := data[key]; !ok {
				return false, &entities.EvalError{
					Kind:    entities.EvalMissingBinding,
					Message: fmt.Sprintf("rule %s: context.data.%s is not set", rule.Name, key),
				}
			}
		}
	}

	result, _, err := rp.prg.Eval(vars)
	if err != nil {
		// Referenced keys were verified above, so what remains is a value
		// the body cannot work with.
		return false, &entities.EvalError{
			Kind:    entities.EvalTypeMismatch,
			Message: fmt.Sprintf("rule %s: %v", rule.Name, err),
		}
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, &entities.EvalError{
			Kind:    entities.EvalTypeMismatch,
			Message: fmt.Sprintf("rule %s evaluated to %T, expected bool", rule.Name, result.Value()),
		}
	}

	return boolResult, nil
}

// coerceValue converts a stored attribute value (JSON decoding yields float64
// for every number) onto the declared parameter type.
func coerceValue(value interface{}, t entities.AttrType) (interface{}, error) {
	if t.Array {
		items, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected %s, got %T", t, value)
		}
		elemType := entities.AttrType{Base: t.Base}
		coerced := make([]interface{}, len(items))
		for i, item := range items {
			c, err := coerceValue(item, elemType)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			coerced[i] = c
		}
		return coerced, nil
	}

	switch t.Base {
	case entities.AttrBoolean:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case entities.AttrString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case entities.AttrInteger:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			if v == math.Trunc(v) {
				return int64(v), nil
			}
			return nil, fmt.Errorf("expected integer, got fractional value %v", v)
		}
	case entities.AttrDouble:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", t, value)
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
