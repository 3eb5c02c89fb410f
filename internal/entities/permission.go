package entities

// Permission represents a permission (or action, the keywords are aliases)
// definition in the schema.
// Example: "permission edit = owner or maintainer not banned"
type Permission struct {
	Name string         // Permission name (e.g., "edit", "view")
	Expr PermissionExpr // Expression tree that defines this permission
}

// PermissionExpr is a node of a permission expression tree.
// The set of implementations is closed so evaluators can match exhaustively.
type PermissionExpr interface {
	isPermissionExpr()
}

// RelationExpr references a relation on the same entity.
// Example: "owner" in "permission edit = owner"
type RelationExpr struct {
	Relation string
}

func (e *RelationExpr) isPermissionExpr() {}

// PermissionRefExpr references another permission on the same entity.
// Example: "view" in "permission share = view and owner"
type PermissionRefExpr struct {
	Permission string
}

func (e *PermissionRefExpr) isPermissionExpr() {}

// HierarchicalExpr traverses a relation one hop and evaluates a relation or
// permission on each reached instance. The hop is a disjunction over instances.
// Example: "parent.member" means check "member" on every parent of the object.
type HierarchicalExpr struct {
	Relation string // Relation to traverse (e.g., "parent")
	Target   string // Relation or permission name on the reached entity type
}

func (e *HierarchicalExpr) isPermissionExpr() {}

// AndExpr is satisfied when both operands are satisfied.
type AndExpr struct {
	Left  PermissionExpr
	Right PermissionExpr
}

func (e *AndExpr) isPermissionExpr() {}

// OrExpr is satisfied when either operand is satisfied.
type OrExpr struct {
	Left  PermissionExpr
	Right PermissionExpr
}

func (e *OrExpr) isPermissionExpr() {}

// ExclusionExpr is satisfied when Left is satisfied and Right is not.
// Example: "permission comment = account.following not restricted"
type ExclusionExpr struct {
	Left  PermissionExpr
	Right PermissionExpr
}

func (e *ExclusionExpr) isPermissionExpr() {}

// RuleCallExpr invokes a rule definition with the given arguments.
// Example: "check_ip_range(ip_range)" in
// "permission connect = member and check_ip_range(ip_range)"
type RuleCallExpr struct {
	Rule string     // Rule name, resolved against the entity then the schema
	Args []*RuleArg // Arguments, positionally matched to the rule's parameters
}

func (e *RuleCallExpr) isPermissionExpr() {}

// RuleArg is one argument of a rule call: either the name of an attribute
// declared on the calling entity, or a literal value.
type RuleArg struct {
	Attribute string      // Attribute name; empty when the argument is a literal
	Literal   interface{} // Literal value (string, int64, float64 or bool)
}

// IsLiteral reports whether the argument carries a literal value.
func (a *RuleArg) IsLiteral() bool {
	return a.Attribute == ""
}
