package spreadsheet

import (
	"fmt"
	"strings"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenBoolean
	TokenErrorLiteral // #REF!, #N/A, ... may appear in rebased formula text
	TokenCell
	TokenIdentifier // function names and named ranges
	TokenBinaryOp
	TokenComma
	TokenColon
	TokenLeftParen
	TokenRightParen
)

// Token represents a single lexical unit of formula text
type Token struct {
	Type     TokenType
	Value    string
	Position int
}

// Lexer tokenizes formula text. input arrives with the leading "="
// already stripped by the caller.
type Lexer struct {
	input []rune
	pos   int
}

// NewLexer creates a lexer over the given formula text
func NewLexer(input string) *Lexer {
	return &Lexer{input: []rune(input)}
}

// Tokenize scans the whole input and returns the token stream with a
// trailing EOF token. scanning failures are SyntaxError values.
func (l *Lexer) Tokenize() ([]Token, error) {
	tokens := make([]Token, 0, len(l.input)/2+1)
	for {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			break
		}
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	tokens = append(tokens, Token{Type: TokenEOF, Position: l.pos})
	return tokens, nil
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *Lexer) next() (Token, error) {
	start := l.pos
	ch := l.input[l.pos]
	switch {
	case ch >= '0' && ch <= '9' || ch == '.':
		return l.scanNumber()
	case ch == '"':
		return l.scanString()
	case ch == '#':
		return l.scanErrorLiteral()
	case isLetter(ch):
		return l.scanWord()
	}

	l.pos++
	switch ch {
	case '(':
		return Token{Type: TokenLeftParen, Value: "(", Position: start}, nil
	case ')':
		return Token{Type: TokenRightParen, Value: ")", Position: start}, nil
	case ',':
		return Token{Type: TokenComma, Value: ",", Position: start}, nil
	case ':':
		return Token{Type: TokenColon, Value: ":", Position: start}, nil
	case '+', '-', '*', '/', '=':
		return Token{Type: TokenBinaryOp, Value: string(ch), Position: start}, nil
	case '<':
		// <=, <> or bare <
		if l.pos < len(l.input) && (l.input[l.pos] == '=' || l.input[l.pos] == '>') {
			op := "<" + string(l.input[l.pos])
			l.pos++
			return Token{Type: TokenBinaryOp, Value: op, Position: start}, nil
		}
		return Token{Type: TokenBinaryOp, Value: "<", Position: start}, nil
	case '>':
		if l.pos < len(l.input) && l.input[l.pos] == '=' {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: ">=", Position: start}, nil
		}
		return Token{Type: TokenBinaryOp, Value: ">", Position: start}, nil
	}
	return Token{}, newSyntaxError(start, fmt.Sprintf("unexpected character %q", string(ch)))
}

// scanNumber scans integer, decimal, and scientific forms
func (l *Lexer) scanNumber() (Token, error) {
	start := l.pos
	seenDot := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch >= '0' && ch <= '9' {
			l.pos++
			continue
		}
		if ch == '.' && !seenDot {
			seenDot = true
			l.pos++
			continue
		}
		if ch == 'e' || ch == 'E' {
			// exponent needs at least one digit; sign optional
			save := l.pos
			l.pos++
			if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
				l.pos++
			}
			if l.pos >= len(l.input) || l.input[l.pos] < '0' || l.input[l.pos] > '9' {
				l.pos = save
				break
			}
			for l.pos < len(l.input) && l.input[l.pos] >= '0' && l.input[l.pos] <= '9' {
				l.pos++
			}
		}
		break
	}
	text := string(l.input[start:l.pos])
	if text == "." {
		return Token{}, newSyntaxError(start, "malformed number")
	}
	return Token{Type: TokenNumber, Value: text, Position: start}, nil
}

// scanString scans a double-quoted string; "" inside is an escaped quote
func (l *Lexer) scanString() (Token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '"' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '"' {
				b.WriteRune('"')
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: TokenString, Value: b.String(), Position: start}, nil
		}
		b.WriteRune(ch)
		l.pos++
	}
	return Token{}, newSyntaxError(start, "unterminated string literal")
}

// scanErrorLiteral scans #REF! style error labels
func (l *Lexer) scanErrorLiteral() (Token, error) {
	start := l.pos
	rest := strings.ToUpper(string(l.input[l.pos:]))
	for label := range errorLabels {
		if strings.HasPrefix(rest, label) {
			l.pos += len(label)
			return Token{Type: TokenErrorLiteral, Value: label, Position: start}, nil
		}
	}
	return Token{}, newSyntaxError(start, "unknown error literal")
}

// scanWord scans a run of letters, digits, underscores and dots, then
// classifies it as a boolean, cell reference, or identifier
func (l *Lexer) scanWord() (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && isWordRune(l.input[l.pos]) {
		l.pos++
	}
	text := string(l.input[start:l.pos])
	upper := strings.ToUpper(text)
	switch {
	case upper == "TRUE" || upper == "FALSE":
		return Token{Type: TokenBoolean, Value: upper, Position: start}, nil
	case isCellRef(text):
		return Token{Type: TokenCell, Value: upper, Position: start}, nil
	default:
		return Token{Type: TokenIdentifier, Value: upper, Position: start}, nil
	}
}

func isLetter(ch rune) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isWordRune(ch rune) bool {
	return isLetter(ch) || ch >= '0' && ch <= '9' || ch == '.'
}
