package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser parses the schema DSL into an AST
type Parser struct {
	lexer   *Lexer
	current *Token
	peek    *Token
	errors  []string
}

// NewParser creates a new Parser
func NewParser(lexer *Lexer) *Parser {
	p := &Parser{
		lexer:  lexer,
		errors: []string{},
	}

	// Read two tokens to initialize current and peek
	p.nextToken()
	p.nextToken()

	return p
}

// nextToken advances to the next token
func (p *Parser) nextToken() {
	p.current = p.peek
	tok, err := p.lexer.NextToken()
	if err != nil {
		p.errors = append(p.errors, err.Error())
		p.peek = &Token{Type: TOKEN_EOF}
	} else {
		p.peek = tok
	}
}

// currentTokenIs checks if the current token is of the given type
func (p *Parser) currentTokenIs(t TokenType) bool {
	return p.current != nil && p.current.Type == t
}

// peekTokenIs checks if the peek token is of the given type
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peek != nil && p.peek.Type == t
}

// expectPeek checks if the next token is of the expected type and advances
func (p *Parser) expectPeek(t TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

// peekError adds an error for unexpected peek token
func (p *Parser) peekError(t TokenType) {
	msg := fmt.Sprintf("expected next token to be %s, got %s instead at %d:%d",
		tokenNames[t], tokenNames[p.peek.Type], p.peek.Line, p.peek.Column)
	p.errors = append(p.errors, msg)
}

// Parse parses the entire schema
func (p *Parser) Parse() (*SchemaAST, error) {
	schema := &SchemaAST{
		Rules:    []*RuleDefinitionAST{},
		Entities: []*EntityAST{},
	}

	for !p.currentTokenIs(TOKEN_EOF) {
		switch {
		case p.currentTokenIs(TOKEN_ENTITY):
			entity := p.parseEntity()
			if entity != nil {
				schema.Entities = append(schema.Entities, entity)
			} else {
				// If parseEntity failed, skip to next token to avoid infinite loop
				p.nextToken()
			}
		case p.currentTokenIs(TOKEN_RULE):
			rule := p.parseRuleDefinition()
			if rule != nil {
				schema.Rules = append(schema.Rules, rule)
			} else {
				p.nextToken()
			}
		default:
			p.errors = append(p.errors, fmt.Sprintf("unexpected token %s at %d:%d, expected 'entity' or 'rule'",
				tokenNames[p.current.Type], p.current.Line, p.current.Column))
			p.nextToken()
		}
	}

	if len(p.errors) > 0 {
		return nil, fmt.Errorf("parse errors:\n%s", strings.Join(p.errors, "\n"))
	}

	return schema, nil
}

// parseEntity parses an entity definition
func (p *Parser) parseEntity() *EntityAST {
	entity := &EntityAST{
		Relations:   []*RelationAST{},
		Attributes:  []*AttributeAST{},
		Permissions: []*PermissionAST{},
		Rules:       []*RuleDefinitionAST{},
		Line:        p.current.Line,
	}

	if !p.expectPeek(TOKEN_IDENTIFIER) {
		return nil
	}
	entity.Name = p.current.Value

	if !p.expectPeek(TOKEN_LBRACE) {
		return nil
	}

	p.nextToken()
	for !p.currentTokenIs(TOKEN_RBRACE) && !p.currentTokenIs(TOKEN_EOF) {
		switch {
		case p.currentTokenIs(TOKEN_RELATION):
			relation := p.parseRelation()
			if relation != nil {
				entity.Relations = append(entity.Relations, relation)
			}
		case p.currentTokenIs(TOKEN_ATTRIBUTE):
			attribute := p.parseAttribute()
			if attribute != nil {
				entity.Attributes = append(entity.Attributes, attribute)
			}
		case p.currentTokenIs(TOKEN_PERMISSION) || p.currentTokenIs(TOKEN_ACTION):
			// action is an alias of permission
			permission := p.parsePermission()
			if permission != nil {
				entity.Permissions = append(entity.Permissions, permission)
			}
		case p.currentTokenIs(TOKEN_RULE):
			rule := p.parseRuleDefinition()
			if rule != nil {
				entity.Rules = append(entity.Rules, rule)
			}
		default:
			p.errors = append(p.errors, fmt.Sprintf("unexpected token %s in entity at %d:%d",
				tokenNames[p.current.Type], p.current.Line, p.current.Column))
			p.nextToken()
		}
	}

	if !p.currentTokenIs(TOKEN_RBRACE) {
		p.errors = append(p.errors, fmt.Sprintf("expected '}' at end of entity, got %s at %d:%d",
			tokenNames[p.current.Type], p.current.Line, p.current.Column))
		return nil
	}

	p.nextToken()
	return entity
}

// parseRelation parses a relation definition
// Syntax: "relation owner @user" or "relation maintainer @user @team#member"
func (p *Parser) parseRelation() *RelationAST {
	relation := &RelationAST{Line: p.current.Line}

	if !p.expectPeek(TOKEN_IDENTIFIER) {
		return nil
	}
	relation.Name = p.current.Value

	if !p.peekTokenIs(TOKEN_AT) {
		p.peekError(TOKEN_AT)
		return nil
	}

	for p.peekTokenIs(TOKEN_AT) {
		p.nextToken() // consume @
		if !p.expectPeek(TOKEN_IDENTIFIER) {
			return nil
		}
		target := &RelationTargetAST{Type: p.current.Value}

		// Locked target: @team#member
		if p.peekTokenIs(TOKEN_HASH) {
			p.nextToken() // consume #
			if !p.expectPeek(TOKEN_IDENTIFIER) {
				return nil
			}
			target.Relation = p.current.Value
		}

		relation.Targets = append(relation.Targets, target)
	}

	p.nextToken()
	return relation
}

// parseAttribute parses an attribute declaration
// Syntax: "attribute public boolean" (a colon before the type is accepted)
func (p *Parser) parseAttribute() *AttributeAST {
	attribute := &AttributeAST{Line: p.current.Line}

	if !p.expectPeek(TOKEN_IDENTIFIER) {
		return nil
	}
	attribute.Name = p.current.Value

	if p.peekTokenIs(TOKEN_COLON) {
		p.nextToken()
	}

	if !p.expectPeek(TOKEN_IDENTIFIER) {
		return nil
	}
	attributeType := p.current.Value

	// Array type, e.g. string[]
	if p.peekTokenIs(TOKEN_LBRACKET) {
		p.nextToken() // consume [
		if !p.expectPeek(TOKEN_RBRACKET) {
			return nil
		}
		attributeType += "[]"
	}

	attribute.Type = attributeType

	p.nextToken()
	return attribute
}

// parsePermission parses a permission (or action) definition
func (p *Parser) parsePermission() *PermissionAST {
	permission := &PermissionAST{Line: p.current.Line}

	if !p.expectPeek(TOKEN_IDENTIFIER) {
		return nil
	}
	permission.Name = p.current.Value

	if !p.expectPeek(TOKEN_EQUALS) {
		return nil
	}

	p.nextToken()
	expr := p.parsePermissionExpr()
	if expr == nil {
		return nil
	}
	permission.Expr = expr

	return permission
}

// parsePermissionExpr parses a permission expression.
// Precedence, loosest first: or, and, not (binary exclusion), primary.
func (p *Parser) parsePermissionExpr() PermissionExprAST {
	return p.parseOrExpression()
}

func (p *Parser) parseOrExpression() PermissionExprAST {
	left := p.parseAndExpression()
	if left == nil {
		return nil
	}

	for p.currentTokenIs(TOKEN_OR) {
		p.nextToken()
		right := p.parseAndExpression()
		if right == nil {
			return nil
		}
		left = &OrExprAST{Left: left, Right: right}
	}

	return left
}

func (p *Parser) parseAndExpression() PermissionExprAST {
	left := p.parseExclusionExpression()
	if left == nil {
		return nil
	}

	for p.currentTokenIs(TOKEN_AND) {
		p.nextToken()
		right := p.parseExclusionExpression()
		if right == nil {
			return nil
		}
		left = &AndExprAST{Left: left, Right: right}
	}

	return left
}

// parseExclusionExpression parses "a not b": a must hold and b must not.
func (p *Parser) parseExclusionExpression() PermissionExprAST {
	left := p.parsePrimaryExpression()
	if left == nil {
		return nil
	}

	for p.currentTokenIs(TOKEN_NOT) {
		p.nextToken()
		right := p.parsePrimaryExpression()
		if right == nil {
			return nil
		}
		left = &ExclusionExprAST{Left: left, Right: right}
	}

	return left
}

func (p *Parser) parsePrimaryExpression() PermissionExprAST {
	switch {
	case p.currentTokenIs(TOKEN_LPAREN):
		p.nextToken()
		expr := p.parsePermissionExpr()
		if expr == nil {
			return nil
		}
		if !p.currentTokenIs(TOKEN_RPAREN) {
			p.errors = append(p.errors, fmt.Sprintf("expected ')' at %d:%d", p.current.Line, p.current.Column))
			return nil
		}
		p.nextToken()
		return expr

	case p.currentTokenIs(TOKEN_IDENTIFIER):
		name := p.current.Value

		// Hierarchical traversal: relation.target
		if p.peekTokenIs(TOKEN_DOT) {
			p.nextToken() // consume .
			if !p.expectPeek(TOKEN_IDENTIFIER) {
				return nil
			}
			target := p.current.Value
			p.nextToken()
			return &HierarchicalExprAST{
				Relation: name,
				Target:   target,
			}
		}

		// Rule call: name(arg, ...)
		if p.peekTokenIs(TOKEN_LPAREN) {
			p.nextToken() // consume (
			return p.parseRuleCall(name)
		}

		// Bare reference to a relation or permission
		p.nextToken()
		return &ReferenceExprAST{Name: name}

	default:
		p.errors = append(p.errors, fmt.Sprintf("unexpected token %s in permission expression at %d:%d",
			tokenNames[p.current.Type], p.current.Line, p.current.Column))
		return nil
	}
}

// parseRuleCall parses the argument list of a rule invocation. The current
// token is the opening parenthesis.
func (p *Parser) parseRuleCall(ruleName string) PermissionExprAST {
	call := &RuleCallExprAST{Rule: ruleName}

	if p.peekTokenIs(TOKEN_RPAREN) {
		p.nextToken() // consume )
		p.nextToken()
		return call
	}

	for {
		p.nextToken()
		arg := p.parseRuleArg()
		if arg == nil {
			return nil
		}
		call.Args = append(call.Args, arg)

		if p.peekTokenIs(TOKEN_COMMA) {
			p.nextToken()
			continue
		}
		break
	}

	if !p.expectPeek(TOKEN_RPAREN) {
		return nil
	}
	p.nextToken()
	return call
}

// parseRuleArg parses one rule argument: an attribute name or a literal.
func (p *Parser) parseRuleArg() *RuleArgAST {
	switch p.current.Type {
	case TOKEN_IDENTIFIER:
		switch p.current.Value {
		case "true":
			return &RuleArgAST{IsLiteral: true, Literal: true}
		case "false":
			return &RuleArgAST{IsLiteral: true, Literal: false}
		}
		return &RuleArgAST{Attribute: p.current.Value}
	case TOKEN_STRING:
		return &RuleArgAST{IsLiteral: true, Literal: p.current.Value}
	case TOKEN_NUMBER:
		if strings.Contains(p.current.Value, ".") {
			f, err := strconv.ParseFloat(p.current.Value, 64)
			if err != nil {
				p.errors = append(p.errors, fmt.Sprintf("invalid number literal %q at %d:%d",
					p.current.Value, p.current.Line, p.current.Column))
				return nil
			}
			return &RuleArgAST{IsLiteral: true, Literal: f}
		}
		i, err := strconv.ParseInt(p.current.Value, 10, 64)
		if err != nil {
			p.errors = append(p.errors, fmt.Sprintf("invalid number literal %q at %d:%d",
				p.current.Value, p.current.Line, p.current.Column))
			return nil
		}
		return &RuleArgAST{IsLiteral: true, Literal: i}
	default:
		p.errors = append(p.errors, fmt.Sprintf("unexpected token %s in rule arguments at %d:%d",
			tokenNames[p.current.Type], p.current.Line, p.current.Column))
		return nil
	}
}

// parseRuleDefinition parses a rule definition
// Syntax: rule check_ip_range(ip_range string[]) { context.data.ip in ip_range }
func (p *Parser) parseRuleDefinition() *RuleDefinitionAST {
	rule := &RuleDefinitionAST{Line: p.current.Line}

	if !p.expectPeek(TOKEN_IDENTIFIER) {
		return nil
	}
	rule.Name = p.current.Value

	if !p.expectPeek(TOKEN_LPAREN) {
		return nil
	}

	// Parameter list: name type (, name type)*
	for !p.peekTokenIs(TOKEN_RPAREN) {
		if !p.expectPeek(TOKEN_IDENTIFIER) {
			return nil
		}
		param := &RuleParameterAST{Name: p.current.Value}

		if !p.expectPeek(TOKEN_IDENTIFIER) {
			return nil
		}
		paramType := p.current.Value
		if p.peekTokenIs(TOKEN_LBRACKET) {
			p.nextToken()
			if !p.expectPeek(TOKEN_RBRACKET) {
				return nil
			}
			paramType += "[]"
		}
		param.Type = paramType
		rule.Parameters = append(rule.Parameters, param)

		if p.peekTokenIs(TOKEN_COMMA) {
			p.nextToken()
		}
	}
	p.nextToken() // consume )

	if !p.expectPeek(TOKEN_LBRACE) {
		return nil
	}

	// Reassemble the body tokens up to the matching closing brace.
	p.nextToken()
	var bodyParts []string
	braceCount := 1
	prevToken := &Token{Type: TOKEN_LBRACE}

	for braceCount > 0 && !p.currentTokenIs(TOKEN_EOF) {
		if p.currentTokenIs(TOKEN_LBRACE) {
			braceCount++
		} else if p.currentTokenIs(TOKEN_RBRACE) {
			braceCount--
			if braceCount == 0 {
				break
			}
		}

		tokenValue := p.current.Value
		if p.current.Type == TOKEN_STRING {
			tokenValue = `"` + tokenValue + `"`
		}

		if len(bodyParts) > 0 && needsSpaceBefore(prevToken, p.current) {
			bodyParts = append(bodyParts, " ")
		}

		bodyParts = append(bodyParts, tokenValue)
		prevToken = p.current
		p.nextToken()
	}

	if !p.currentTokenIs(TOKEN_RBRACE) {
		p.errors = append(p.errors, "expected '}' at end of rule body")
		return nil
	}

	rule.Body = strings.Join(bodyParts, "")

	p.nextToken()
	return rule
}

// needsSpaceBefore determines if a space is needed between two tokens when
// reassembling a rule body.
func needsSpaceBefore(prev, current *Token) bool {
	if prev.Type == TOKEN_LPAREN || current.Type == TOKEN_RPAREN {
		return false
	}
	if prev.Type == TOKEN_DOT || current.Type == TOKEN_DOT {
		return false
	}
	if current.Type == TOKEN_COMMA {
		return false
	}
	if current.Type == TOKEN_LBRACKET || prev.Type == TOKEN_RBRACKET {
		return false
	}
	if prev.Type == TOKEN_LBRACKET || current.Type == TOKEN_RBRACKET {
		return false
	}
	if prev.Type == TOKEN_EXCLAMATION {
		return false
	}
	return true
}
