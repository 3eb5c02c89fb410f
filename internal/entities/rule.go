package entities

// RuleParameter is one declared parameter of a rule definition.
type RuleParameter struct {
	Name string
	Type AttrType
}

// RuleDefinition represents a named, parameterized boolean expression used
// for attribute-conditioned checks.
// Example: rule check_ip_range(ip_range string[]) { context.data.ip in ip_range }
//
// The body is a restricted boolean expression over the parameters, the
// reserved "this" record (the invoking entity instance's attributes) and the
// reserved "context" record supplied by the caller of Check.
type RuleDefinition struct {
	Name       string
	Parameters []*RuleParameter
	Body       string
}

// GetParameter returns the parameter with the given name, or nil.
func (r *RuleDefinition) GetParameter(name string) *RuleParameter {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p
		}
	}
	return nil
}
