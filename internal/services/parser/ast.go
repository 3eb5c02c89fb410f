package parser

// SchemaAST represents the parsed schema before validation and conversion.
type SchemaAST struct {
	Rules    []*RuleDefinitionAST // Top-level rule definitions
	Entities []*EntityAST
}

// RuleDefinitionAST represents a rule definition.
// Syntax: rule check_ip_range(ip_range string[]) { context.data.ip in ip_range }
type RuleDefinitionAST struct {
	Name       string
	Parameters []*RuleParameterAST
	Body       string // Raw expression body
	Line       int
}

// RuleParameterAST is one declared rule parameter.
type RuleParameterAST struct {
	Name string
	Type string // Type spelling (e.g., "string", "string[]")
}

// EntityAST represents an entity definition in the AST.
type EntityAST struct {
	Name        string
	Relations   []*RelationAST
	Attributes  []*AttributeAST
	Permissions []*PermissionAST
	Rules       []*RuleDefinitionAST // Entity-scoped rules
	Line        int
}

// RelationAST represents a relation definition.
// Syntax: relation maintainer @user @team#member
type RelationAST struct {
	Name    string
	Targets []*RelationTargetAST
	Line    int
}

// RelationTargetAST is one relation target; Relation is empty for bare
// targets and set for locked targets (@team#member).
type RelationTargetAST struct {
	Type     string
	Relation string
}

// AttributeAST represents an attribute type declaration.
type AttributeAST struct {
	Name string
	Type string // Type spelling (e.g., "boolean", "string[]")
	Line int
}

// PermissionAST represents a permission (or action) definition.
type PermissionAST struct {
	Name string
	Expr PermissionExprAST
	Line int
}

// PermissionExprAST is the interface for permission expression nodes.
type PermissionExprAST interface {
	isPermissionExpr()
}

// ReferenceExprAST is a bare name: a relation or another permission on the
// same entity. Which one it is gets resolved during conversion.
type ReferenceExprAST struct {
	Name string
}

func (e *ReferenceExprAST) isPermissionExpr() {}

// HierarchicalExprAST is a one-hop traversal, e.g. "parent.member".
type HierarchicalExprAST struct {
	Relation string
	Target   string
}

func (e *HierarchicalExprAST) isPermissionExpr() {}

// AndExprAST is "left and right".
type AndExprAST struct {
	Left  PermissionExprAST
	Right PermissionExprAST
}

func (e *AndExprAST) isPermissionExpr() {}

// OrExprAST is "left or right".
type OrExprAST struct {
	Left  PermissionExprAST
	Right PermissionExprAST
}

func (e *OrExprAST) isPermissionExpr() {}

// ExclusionExprAST is "left not right": satisfied when left is satisfied and
// right is not.
type ExclusionExprAST struct {
	Left  PermissionExprAST
	Right PermissionExprAST
}

func (e *ExclusionExprAST) isPermissionExpr() {}

// RuleCallExprAST invokes a rule, e.g. "check_ip_range(ip_range)".
type RuleCallExprAST struct {
	Rule string
	Args []*RuleArgAST
}

func (e *RuleCallExprAST) isPermissionExpr() {}

// RuleArgAST is one rule call argument: an attribute name or a literal.
type RuleArgAST struct {
	Attribute string
	Literal   interface{}
	IsLiteral bool
}
