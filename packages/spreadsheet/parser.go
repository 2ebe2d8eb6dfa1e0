package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

var binaryOpSymbols = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

// Node is a formula AST node. the tree enables dependency extraction
// and reference rebasing through traversal rather than string
// manipulation; String renders the node back to canonical formula text.
type Node interface {
	eval(ctx *evalContext) Primitive
	String() string
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value float64
}

func (n *NumberNode) eval(ctx *evalContext) Primitive {
	return n.Value
}

func (n *NumberNode) String() string {
	if n.Value == float64(int64(n.Value)) {
		return fmt.Sprintf("%d", int64(n.Value))
	}
	return fmt.Sprintf("%g", n.Value)
}

// StringNode represents a string literal
type StringNode struct {
	Value string
}

func (n *StringNode) eval(ctx *evalContext) Primitive {
	return n.Value
}

func (n *StringNode) String() string {
	return `"` + strings.ReplaceAll(n.Value, `"`, `""`) + `"`
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value bool
}

func (n *BooleanNode) eval(ctx *evalContext) Primitive {
	return n.Value
}

func (n *BooleanNode) String() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ErrorNode represents an error literal. structural deletion rewrites
// dangling references into #REF! nodes, which keeps the error permanent
// across later edits and round-trips through formula text.
type ErrorNode struct {
	Code ErrorCode
}

func (n *ErrorNode) eval(ctx *evalContext) Primitive {
	return NewCellError(n.Code, "")
}

func (n *ErrorNode) String() string {
	return ErrorMapper[n.Code]
}

// CellRefNode represents a reference to a single cell
type CellRefNode struct {
	Addr Address
}

func (n *CellRefNode) eval(ctx *evalContext) Primitive {
	return ctx.cellValue(n.Addr)
}

func (n *CellRefNode) String() string {
	return n.Addr.String()
}

// RangeRefNode represents a rectangular range reference
type RangeRefNode struct {
	Bounds Range
}

func (n *RangeRefNode) eval(ctx *evalContext) Primitive {
	return &RangeValue{Bounds: n.Bounds, sheet: ctx.sheet}
}

func (n *RangeRefNode) String() string {
	return n.Bounds.String()
}

// NamedRefNode represents a named range reference, resolved against the
// workbook at evaluation time
type NamedRefNode struct {
	Name string
}

func (n *NamedRefNode) eval(ctx *evalContext) Primitive {
	r, ok := ctx.resolveName(n.Name)
	if !ok {
		return NewCellError(ErrorCodeGeneric, fmt.Sprintf("unknown name %s", n.Name))
	}
	if r.SingleCell() {
		return ctx.cellValue(Address{Row: r.StartRow, Col: r.StartCol})
	}
	return &RangeValue{Bounds: r, sheet: ctx.sheet}
}

func (n *NamedRefNode) String() string {
	return n.Name
}

// UnaryNode represents unary minus
type UnaryNode struct {
	Operand Node
}

func (n *UnaryNode) eval(ctx *evalContext) Primitive {
	v := n.Operand.eval(ctx)
	if cellErr, ok := v.(*CellError); ok {
		return cellErr
	}
	return -coerceNumber(v)
}

func (n *UnaryNode) String() string {
	return "-" + n.Operand.String()
}

// BinaryNode represents a binary operation
type BinaryNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

func (n *BinaryNode) eval(ctx *evalContext) Primitive {
	left := n.Left.eval(ctx)
	if cellErr, ok := left.(*CellError); ok {
		return cellErr
	}
	right := n.Right.eval(ctx)
	if cellErr, ok := right.(*CellError); ok {
		return cellErr
	}
	return evalBinary(n.Op, left, right)
}

func (n *BinaryNode) String() string {
	return fmt.Sprintf("%s%s%s", wrapOperand(n.Left), binaryOpSymbols[n.Op], wrapOperand(n.Right))
}

// wrapOperand parenthesizes nested binary operands so the rendered text
// re-parses to the same tree regardless of precedence.
func wrapOperand(n Node) string {
	if _, ok := n.(*BinaryNode); ok {
		return "(" + n.String() + ")"
	}
	return n.String()
}

// FunctionCallNode represents a function invocation
type FunctionCallNode struct {
	Name string
	Args []Node
}

func (n *FunctionCallNode) eval(ctx *evalContext) Primitive {
	return ctx.call(n.Name, n.Args)
}

func (n *FunctionCallNode) String() string {
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.String()
	}
	return n.Name + "(" + strings.Join(parts, ",") + ")"
}

// GroupNode preserves explicit parentheses through text round-trips
type GroupNode struct {
	Inner Node
}

func (n *GroupNode) eval(ctx *evalContext) Primitive {
	return n.Inner.eval(ctx)
}

func (n *GroupNode) String() string {
	return "(" + n.Inner.String() + ")"
}

// Parser parses a token stream into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// ParseFormula tokenizes and parses formula text (leading "=" already
// stripped). failures are SyntaxError values.
func ParseFormula(text string) (Node, error) {
	tokens, err := NewLexer(text).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokenEOF {
		return nil, newSyntaxError(p.peek().Position, fmt.Sprintf("unexpected token %q", p.peek().Value))
	}
	return node, nil
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

// parseExpression is the entry point; comparisons bind loosest.
func (p *Parser) parseExpression() (Node, error) {
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenBinaryOp {
		var op BinaryOp
		switch p.peek().Value {
		case "=":
			op = BinOpEqual
		case "<>":
			op = BinOpNotEqual
		case "<":
			op = BinOpLess
		case "<=":
			op = BinOpLessEqual
		case ">":
			op = BinOpGreater
		case ">=":
			op = BinOpGreaterEqual
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenBinaryOp {
		var op BinaryOp
		switch p.peek().Value {
		case "+":
			op = BinOpAdd
		case "-":
			op = BinOpSubtract
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenBinaryOp {
		var op BinaryOp
		switch p.peek().Value {
		case "*":
			op = BinOpMultiply
		case "/":
			op = BinOpDivide
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// parseUnary handles unary minus, which binds tighter than * and /
// (-A1*B1 negates A1 only before multiplying).
func (p *Parser) parseUnary() (Node, error) {
	if p.peek().Type == TokenBinaryOp && p.peek().Value == "-" {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		// fold negation into numeric literals
		if num, ok := operand.(*NumberNode); ok {
			return &NumberNode{Value: -num.Value}, nil
		}
		return &UnaryNode{Operand: operand}, nil
	}
	if p.peek().Type == TokenBinaryOp && p.peek().Value == "+" {
		p.advance()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenNumber:
		p.advance()
		value, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, newSyntaxError(tok.Position, fmt.Sprintf("malformed number %q", tok.Value))
		}
		return &NumberNode{Value: value}, nil

	case TokenString:
		p.advance()
		return &StringNode{Value: tok.Value}, nil

	case TokenBoolean:
		p.advance()
		return &BooleanNode{Value: tok.Value == "TRUE"}, nil

	case TokenErrorLiteral:
		p.advance()
		return &ErrorNode{Code: errorLabels[tok.Value]}, nil

	case TokenCell:
		p.advance()
		start, err := DecodeAddress(tok.Value)
		if err != nil {
			return nil, newSyntaxError(tok.Position, fmt.Sprintf("invalid reference %q", tok.Value))
		}
		if p.peek().Type == TokenColon {
			p.advance()
			endTok := p.advance()
			if endTok.Type != TokenCell {
				return nil, newSyntaxError(endTok.Position, "expected cell reference after ':'")
			}
			end, err := DecodeAddress(endTok.Value)
			if err != nil {
				return nil, newSyntaxError(endTok.Position, fmt.Sprintf("invalid reference %q", endTok.Value))
			}
			return &RangeRefNode{Bounds: NewRange(start, end)}, nil
		}
		return &CellRefNode{Addr: start}, nil

	case TokenIdentifier:
		p.advance()
		if p.peek().Type == TokenLeftParen {
			return p.parseCall(tok)
		}
		return &NamedRefNode{Name: tok.Value}, nil

	case TokenLeftParen:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenRightParen {
			return nil, newSyntaxError(p.peek().Position, "expected ')'")
		}
		p.advance()
		return &GroupNode{Inner: inner}, nil
	}
	return nil, newSyntaxError(tok.Position, fmt.Sprintf("unexpected token %q", tok.Value))
}

// parseCall parses a function invocation; arguments are full
// sub-expressions and nesting is legal.
func (p *Parser) parseCall(name Token) (Node, error) {
	p.advance() // consume '('
	args := make([]Node, 0, 4)
	if p.peek().Type == TokenRightParen {
		p.advance()
		return &FunctionCallNode{Name: name.Value, Args: args}, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch p.peek().Type {
		case TokenComma:
			p.advance()
		case TokenRightParen:
			p.advance()
			return &FunctionCallNode{Name: name.Value, Args: args}, nil
		default:
			return nil, newSyntaxError(p.peek().Position, "expected ',' or ')' in argument list")
		}
	}
}

// collectRefs walks the AST gathering cell references, range references,
// and named range references for dependency tracking.
func collectRefs(n Node, cells *[]Address, ranges *[]Range, names *[]string) {
	switch node := n.(type) {
	case *CellRefNode:
		*cells = append(*cells, node.Addr)
	case *RangeRefNode:
		*ranges = append(*ranges, node.Bounds)
	case *NamedRefNode:
		*names = append(*names, node.Name)
	case *UnaryNode:
		collectRefs(node.Operand, cells, ranges, names)
	case *GroupNode:
		collectRefs(node.Inner, cells, ranges, names)
	case *BinaryNode:
		collectRefs(node.Left, cells, ranges, names)
		collectRefs(node.Right, cells, ranges, names)
	case *FunctionCallNode:
		for _, arg := range node.Args {
			collectRefs(arg, cells, ranges, names)
		}
	}
}

// isVolatile reports whether the AST contains a volatile function call
// (NOW, TODAY, ...), which must recompute on every pass.
func isVolatile(n Node, reg *Registry) bool {
	switch node := n.(type) {
	case *UnaryNode:
		return isVolatile(node.Operand, reg)
	case *GroupNode:
		return isVolatile(node.Inner, reg)
	case *BinaryNode:
		return isVolatile(node.Left, reg) || isVolatile(node.Right, reg)
	case *FunctionCallNode:
		if fn, ok := reg.Lookup(node.Name); ok && fn.Volatile {
			return true
		}
		for _, arg := range node.Args {
			if isVolatile(arg, reg) {
				return true
			}
		}
	}
	return false
}
