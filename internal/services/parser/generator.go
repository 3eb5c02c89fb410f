package parser

import (
	"fmt"
	"strings"

	"github.com/torii-authz/torii/internal/entities"
)

// SchemaToDSL renders a compiled schema back into DSL text. Used by the
// schema read API and by round-trip tests.
func SchemaToDSL(schema *entities.Schema) string {
	var b strings.Builder

	for i, rule := range schema.Rules {
		if i > 0 {
			b.WriteString("\n")
		}
		writeRule(&b, "", rule)
	}

	for i, entity := range schema.Entities {
		if i > 0 || len(schema.Rules) > 0 {
			b.WriteString("\n")
		}
		writeEntity(&b, entity)
	}

	return b.String()
}

func writeEntity(b *strings.Builder, entity *entities.Entity) {
	fmt.Fprintf(b, "entity %s {\n", entity.Name)

	for _, relation := range entity.Relations {
		fmt.Fprintf(b, "  relation %s", relation.Name)
		for _, target := range relation.Targets {
			if target.Locked() {
				fmt.Fprintf(b, " @%s#%s", target.Type, target.Relation)
			} else {
				fmt.Fprintf(b, " @%s", target.Type)
			}
		}
		b.WriteString("\n")
	}

	for _, attr := range entity.AttributeSchemas {
		fmt.Fprintf(b, "  attribute %s %s\n", attr.Name, attr.Type)
	}

	for _, rule := range entity.Rules {
		writeRule(b, "  ", rule)
	}

	for _, permission := range entity.Permissions {
		fmt.Fprintf(b, "  permission %s = %s\n", permission.Name, exprToDSL(permission.Expr, false))
	}

	b.WriteString("}\n")
}

func writeRule(b *strings.Builder, indent string, rule *entities.RuleDefinition) {
	params := make([]string, len(rule.Parameters))
	for i, p := range rule.Parameters {
		params[i] = fmt.Sprintf("%s %s", p.Name, p.Type)
	}
	fmt.Fprintf(b, "%srule %s(%s) {\n", indent, rule.Name, strings.Join(params, ", "))
	fmt.Fprintf(b, "%s  %s\n", indent, rule.Body)
	fmt.Fprintf(b, "%s}\n", indent)
}

// exprToDSL renders a permission expression. Nested boolean nodes are
// parenthesized so the output re-parses with identical structure.
func exprToDSL(expr entities.PermissionExpr, nested bool) string {
	switch e := expr.(type) {
	case *entities.RelationExpr:
		return e.Relation
	case *entities.PermissionRefExpr:
		return e.Permission
	case *entities.HierarchicalExpr:
		return fmt.Sprintf("%s.%s", e.Relation, e.Target)
	case *entities.AndExpr:
		return wrapNested(fmt.Sprintf("%s and %s", exprToDSL(e.Left, true), exprToDSL(e.Right, true)), nested)
	case *entities.OrExpr:
		return wrapNested(fmt.Sprintf("%s or %s", exprToDSL(e.Left, true), exprToDSL(e.Right, true)), nested)
	case *entities.ExclusionExpr:
		return wrapNested(fmt.Sprintf("%s not %s", exprToDSL(e.Left, true), exprToDSL(e.Right, true)), nested)
	case *entities.RuleCallExpr:
		args := make([]string, len(e.Args))
		for i, arg := range e.Args {
			args[i] = argToDSL(arg)
		}
		return fmt.Sprintf("%s(%s)", e.Rule, strings.Join(args, ", "))
	default:
		return ""
	}
}

func wrapNested(s string, nested bool) string {
	if nested {
		return "(" + s + ")"
	}
	return s
}

func argToDSL(arg *entities.RuleArg) string {
	if !arg.IsLiteral() {
		return arg.Attribute
	}
	switch v := arg.Literal.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
