package authorization

import (
	"reflect"
	"testing"

	"github.com/torii-authz/torii/internal/entities"
)

func TestRuleEngine_Evaluate(t *testing.T) {
	engine := NewRuleEngine()

	rule := &entities.RuleDefinition{
		Name: "check_balance",
		Parameters: []*entities.RuleParameter{
			{Name: "balance", Type: entities.AttrType{Base: entities.AttrInteger}},
		},
		Body: "balance >= 100",
	}

	tests := []struct {
		name     string
		args     map[string]interface{}
		expected bool
	}{
		{"above threshold", map[string]interface{}{"balance": int64(150)}, true},
		{"at threshold", map[string]interface{}{"balance": int64(100)}, true},
		{"below threshold", map[string]interface{}{"balance": int64(42)}, false},
		// JSON decoding stores numbers as float64.
		{"whole float coerces", map[string]interface{}{"balance": float64(200)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Evaluate(rule, tt.args, nil, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestRuleEngine_Evaluate_MissingParameter(t *testing.T) {
	engine := NewRuleEngine()

	rule := &entities.RuleDefinition{
		Name: "check_balance",
		Parameters: []*entities.RuleParameter{
			{Name: "balance", Type: entities.AttrType{Base: entities.AttrInteger}},
		},
		Body: "balance >= 100",
	}

	_, err := engine.Evaluate(rule, map[string]interface{}{}, nil, nil)
	if err == nil {
		t.Fatal("expected an error for an unbound parameter")
	}
	ee, ok := entities.AsEvalError(err)
	if !ok {
		t.Fatalf("expected an eval error, got %v", err)
	}
	if ee.Kind != entities.EvalMissingBinding {
		t.Errorf("expected kind %s, got %s", entities.EvalMissingBinding, ee.Kind)
	}
}

func TestRuleEngine_Evaluate_TypeMismatch(t *testing.T) {
	engine := NewRuleEngine()

	rule := &entities.RuleDefinition{
		Name: "check_balance",
		Parameters: []*entities.RuleParameter{
			{Name: "balance", Type: entities.AttrType{Base: entities.AttrInteger}},
		},
		Body: "balance >= 100",
	}

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"string for integer", map[string]interface{}{"balance": "lots"}},
		{"fractional for integer", map[string]interface{}{"balance": 99.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Evaluate(rule, tt.args, nil, nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			ee, ok := entities.AsEvalError(err)
			if !ok {
				t.Fatalf("expected an eval error, got %v", err)
			}
			if ee.Kind != entities.EvalTypeMismatch {
				t.Errorf("expected kind %s, got %s", entities.EvalTypeMismatch, ee.Kind)
			}
		})
	}
}

func TestRuleEngine_Evaluate_ContextAndThis(t *testing.T) {
	engine := NewRuleEngine()

	rule := &entities.RuleDefinition{
		Name: "office_access",
		Body: "this.public == true || context.data.badge == 'gold'",
	}

	tests := []struct {
		name        string
		this        map[string]interface{}
		contextData map[string]interface{}
		expected    bool
	}{
		{
			"public entity",
			map[string]interface{}{"public": true},
			map[string]interface{}{"data": map[string]interface{}{"badge": "none"}},
			true,
		},
		{
			"gold badge",
			map[string]interface{}{"public": false},
			map[string]interface{}{"data": map[string]interface{}{"badge": "gold"}},
			true,
		},
		{
			"neither",
			map[string]interface{}{"public": false},
			map[string]interface{}{"data": map[string]interface{}{"badge": "none"}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Evaluate(rule, nil, tt.this, tt.contextData)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestRuleEngine_Evaluate_MissingKey(t *testing.T) {
	engine := NewRuleEngine()

	rule := &entities.RuleDefinition{
		Name: "needs_ip",
		Body: "context.data.ip == '10.0.0.1'",
	}

	_, err := engine.Evaluate(rule, nil, nil, map[string]interface{}{
		"data": map[string]interface{}{},
	})
	if err == nil {
		t.Fatal("expected an error for a missing context key")
	}
	ee, ok := entities.AsEvalError(err)
	if !ok {
		t.Fatalf("expected an eval error, got %v", err)
	}
	if ee.Kind != entities.EvalMissingBinding {
		t.Errorf("expected kind %s, got %s", entities.EvalMissingBinding, ee.Kind)
	}
}

func TestRuleEngine_Evaluate_MissingThisAttribute(t *testing.T) {
	engine := NewRuleEngine()

	rule := &entities.RuleDefinition{
		Name: "is_public",
		Body: "this.public == true",
	}

	_, err := engine.Evaluate(rule, nil, map[string]interface{}{"other": 1}, nil)
	if err == nil {
		t.Fatal("expected an error for an unset attribute")
	}
	ee, ok := entities.AsEvalError(err)
	if !ok {
		t.Fatalf("expected an eval error, got %v", err)
	}
	if ee.Kind != entities.EvalMissingBinding {
		t.Errorf("expected kind %s, got %s", entities.EvalMissingBinding, ee.Kind)
	}
}

func TestRuleEngine_Evaluate_NonBooleanBody(t *testing.T) {
	engine := NewRuleEngine()

	rule := &entities.RuleDefinition{
		Name: "not_boolean",
		Body: "1 + 1",
	}

	_, err := engine.Evaluate(rule, nil, nil, nil)
	if err == nil {
		t.Fatal("expected a compile error for a non-boolean body")
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		attrType entities.AttrType
		expected interface{}
		wantErr  bool
	}{
		{"bool", true, entities.AttrType{Base: entities.AttrBoolean}, true, false},
		{"string", "x", entities.AttrType{Base: entities.AttrString}, "x", false},
		{"int64", int64(7), entities.AttrType{Base: entities.AttrInteger}, int64(7), false},
		{"whole float to int", float64(7), entities.AttrType{Base: entities.AttrInteger}, int64(7), false},
		{"fractional float to int", 7.5, entities.AttrType{Base: entities.AttrInteger}, nil, true},
		{"int to double", int64(7), entities.AttrType{Base: entities.AttrDouble}, float64(7), false},
		{"string for bool", "yes", entities.AttrType{Base: entities.AttrBoolean}, nil, true},
		{
			"string array",
			[]interface{}{"a", "b"},
			entities.AttrType{Base: entities.AttrString, Array: true},
			[]interface{}{"a", "b"},
			false,
		},
		{
			"array with bad element",
			[]interface{}{"a", 1},
			entities.AttrType{Base: entities.AttrString, Array: true},
			nil,
			true,
		},
		{"scalar for array", "a", entities.AttrType{Base: entities.AttrString, Array: true}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceValue(tt.value, tt.attrType)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
