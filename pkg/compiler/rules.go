package compiler

import "github.com/kristofer/loxvm/pkg/lexer"

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precTernary               // ?:
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix, infix parseFn
	prec          precedence
}

var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:    {(*Compiler).grouping, (*Compiler).call, precCall},
		lexer.TokenDot:          {nil, (*Compiler).dot, precCall},
		lexer.TokenMinus:        {(*Compiler).unary, (*Compiler).binary, precTerm},
		lexer.TokenPlus:         {nil, (*Compiler).binary, precTerm},
		lexer.TokenSlash:        {nil, (*Compiler).binary, precFactor},
		lexer.TokenStar:         {nil, (*Compiler).binary, precFactor},
		lexer.TokenBang:         {(*Compiler).unary, nil, precNone},
		lexer.TokenBangEqual:    {nil, (*Compiler).binary, precEquality},
		lexer.TokenEqualEqual:   {nil, (*Compiler).binary, precEquality},
		lexer.TokenGreater:      {nil, (*Compiler).binary, precComparison},
		lexer.TokenGreaterEqual: {nil, (*Compiler).binary, precComparison},
		lexer.TokenLess:         {nil, (*Compiler).binary, precComparison},
		lexer.TokenLessEqual:    {nil, (*Compiler).binary, precComparison},
		lexer.TokenIdentifier:   {(*Compiler).variable, nil, precNone},
		lexer.TokenString:       {(*Compiler).string, nil, precNone},
		lexer.TokenNumber:       {(*Compiler).number, nil, precNone},
		lexer.TokenAnd:          {nil, (*Compiler).and, precAnd},
		lexer.TokenOr:           {nil, (*Compiler).or, precOr},
		lexer.TokenQuestion:     {nil, (*Compiler).ternary, precTernary},
		lexer.TokenFalse:        {(*Compiler).literal, nil, precNone},
		lexer.TokenTrue:         {(*Compiler).literal, nil, precNone},
		lexer.TokenNil:          {(*Compiler).literal, nil, precNone},
		lexer.TokenThis:         {(*Compiler).this, nil, precNone},
		lexer.TokenSuper:        {(*Compiler).super, nil, precNone},
	}
}

func (c *Compiler) ruleFor(tt lexer.TokenType) parseRule {
	return rules[tt] // zero value {nil,nil,precNone} for tokens with no rule
}

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := c.ruleFor(c.prev.Type).prefix
	if prefix == nil {
		c.error("expect expression")
		return
	}
	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= c.ruleFor(c.curr.Type).prec {
		c.advance()
		infix := c.ruleFor(c.prev.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.error("invalid assignment target")
	}
}

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}
