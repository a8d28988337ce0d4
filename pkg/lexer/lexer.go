package lexer

import (
	"strings"
	"unicode"

	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

// Lexer scans BASIC source. Newlines are statement separators and are
// emitted as tokens; comments are emitted too, since compiled output must
// carry them through verbatim.
type Lexer struct {
	source []rune
	pos    int
	line   int
	column int
	cfg    *config.Config
}

func NewLexer(source []rune, cfg *config.Config) *Lexer {
	return &Lexer{source: source, line: 1, column: 1, cfg: cfg}
}

// ScanAll tokenizes the whole input, ending with an EOF token.
func (l *Lexer) ScanAll() []token.Token {
	var toks []token.Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			return toks
		}
	}
}

func (l *Lexer) Next() token.Token {
	l.skipBlanks()
	startPos, startCol, startLine := l.pos, l.column, l.line

	if l.isAtEnd() {
		return l.makeToken(token.EOF, "", startPos, startCol, startLine)
	}

	ch := l.peek()

	if ch == '\n' {
		l.advance()
		return l.makeToken(token.Newline, "", startPos, startCol, startLine)
	}

	if ch == '#' || ch == '\'' {
		return l.lineComment(startPos, startCol, startLine)
	}

	if unicode.IsLetter(ch) || ch == '_' {
		l.advance()
		return l.identifierOrKeyword(startPos, startCol, startLine)
	}
	if unicode.IsDigit(ch) || (ch == '.' && unicode.IsDigit(l.peekNext())) {
		return l.numberLiteral(startPos, startCol, startLine)
	}

	l.advance()
	switch ch {
	case '(':
		return l.makeToken(token.LParen, "", startPos, startCol, startLine)
	case ')':
		return l.makeToken(token.RParen, "", startPos, startCol, startLine)
	case ',':
		return l.makeToken(token.Comma, "", startPos, startCol, startLine)
	case ':':
		return l.makeToken(token.Colon, "", startPos, startCol, startLine)
	case '.':
		return l.makeToken(token.Dot, "", startPos, startCol, startLine)
	case '+':
		if l.match('+') {
			return l.makeToken(token.PlusPlus, "", startPos, startCol, startLine)
		}
		return l.matchThen('=', token.PlusEq, token.Plus, startPos, startCol, startLine)
	case '-':
		if l.match('-') {
			return l.makeToken(token.MinusMinus, "", startPos, startCol, startLine)
		}
		return l.matchThen('=', token.MinusEq, token.Minus, startPos, startCol, startLine)
	case '*':
		return l.matchThen('=', token.StarEq, token.Star, startPos, startCol, startLine)
	case '/':
		return l.matchThen('=', token.SlashEq, token.Slash, startPos, startCol, startLine)
	case '%':
		return l.makeToken(token.Percent, "", startPos, startCol, startLine)
	case '^':
		return l.makeToken(token.Caret, "", startPos, startCol, startLine)
	case '=':
		return l.matchThen('=', token.EqEq, token.Eq, startPos, startCol, startLine)
	case '!':
		if l.match('=') {
			return l.makeToken(token.Neq, "", startPos, startCol, startLine)
		}
	case '<':
		if l.match('>') {
			return l.makeToken(token.Neq, "", startPos, startCol, startLine)
		}
		if l.match('<') {
			return l.makeToken(token.Shl, "", startPos, startCol, startLine)
		}
		return l.matchThen('=', token.Lte, token.Lt, startPos, startCol, startLine)
	case '>':
		if l.match('>') {
			return l.makeToken(token.Shr, "", startPos, startCol, startLine)
		}
		return l.matchThen('=', token.Gte, token.Gt, startPos, startCol, startLine)
	case '"':
		return l.stringLiteral(startPos, startCol, startLine)
	}

	tok := l.makeToken(token.EOF, "", startPos, startCol, startLine)
	util.Bail(tok, "Unexpected character: '%c'", ch)
	return tok
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) peekNext() rune {
	if l.pos+1 >= len(l.source) {
		return 0
	}
	return l.source[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) match(expected rune) bool {
	if l.isAtEnd() || l.source[l.pos] != expected {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, value string, startPos, startCol, startLine int) token.Token {
	return token.Token{
		Type: tokType, Value: value,
		Line: startLine, Column: startCol, Len: l.pos - startPos,
	}
}

func (l *Lexer) skipBlanks() {
	for {
		switch l.peek() {
		case ' ', '\t', '\r':
			l.advance()
		default:
			return
		}
	}
}

func (l *Lexer) lineComment(startPos, startCol, startLine int) token.Token {
	l.advance() // comment marker
	textStart := l.pos
	for !l.isAtEnd() && l.peek() != '\n' {
		l.advance()
	}
	text := strings.TrimRight(string(l.source[textStart:l.pos]), " \t")
	return l.makeToken(token.Comment, text, startPos, startCol, startLine)
}

func (l *Lexer) identifierOrKeyword(startPos, startCol, startLine int) token.Token {
	for unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_' {
		if l.peek() == '_' && !l.cfg.IsFeatureEnabled(config.FeatUnderscoreIdents) {
			break
		}
		l.advance()
	}
	value := string(l.source[startPos:l.pos])
	tok := l.makeToken(token.Ident, value, startPos, startCol, startLine)

	upper := strings.ToUpper(value)
	if upper == "END" {
		// END SELECT is one token; END alone stops the program.
		if l.nextWordIs("SELECT") {
			tok = l.makeToken(token.EndSelect, "", startPos, startCol, startLine)
			return tok
		}
		tok.Type = token.Halt
		tok.Value = ""
		return tok
	}
	if tokType, isKeyword := token.KeywordMap[upper]; isKeyword {
		tok.Type = tokType
		tok.Value = ""
	}
	return tok
}

// nextWordIs consumes the following word when it matches, ignoring case
// and intervening spaces.
func (l *Lexer) nextWordIs(want string) bool {
	savePos, saveLine, saveCol := l.pos, l.line, l.column
	l.skipBlanks()
	start := l.pos
	for unicode.IsLetter(l.peek()) {
		l.advance()
	}
	if strings.EqualFold(string(l.source[start:l.pos]), want) && l.pos > start {
		return true
	}
	l.pos, l.line, l.column = savePos, saveLine, saveCol
	return false
}

func (l *Lexer) numberLiteral(startPos, startCol, startLine int) token.Token {
	if l.peek() == '0' && (l.peekNext() == 'x' || l.peekNext() == 'X') {
		if !l.cfg.IsFeatureEnabled(config.FeatHexLiterals) {
			util.Bail(l.makeToken(token.Number, "", startPos, startCol, startLine),
				"Hex literals are not enabled (use -Fhex-literals)")
		}
		l.advance()
		l.advance()
		for isHexDigit(l.peek()) {
			l.advance()
		}
		return l.makeToken(token.Number, string(l.source[startPos:l.pos]), startPos, startCol, startLine)
	}

	for unicode.IsDigit(l.peek()) {
		l.advance()
	}
	if l.peek() == '.' && unicode.IsDigit(l.peekNext()) {
		l.advance()
		for unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	if l.peek() == 'e' || l.peek() == 'E' {
		next := l.peekNext()
		if unicode.IsDigit(next) || next == '+' || next == '-' {
			l.advance()
			if l.peek() == '+' || l.peek() == '-' {
				l.advance()
			}
			if !unicode.IsDigit(l.peek()) {
				util.Bail(l.makeToken(token.Number, "", startPos, startCol, startLine),
					"Malformed number literal: exponent has no digits")
			}
			for unicode.IsDigit(l.peek()) {
				l.advance()
			}
		}
	}

	return l.makeToken(token.Number, string(l.source[startPos:l.pos]), startPos, startCol, startLine)
}

func (l *Lexer) stringLiteral(startPos, startCol, startLine int) token.Token {
	var sb strings.Builder
	for !l.isAtEnd() {
		c := l.peek()
		if c == '"' {
			l.advance()
			return l.makeToken(token.String, sb.String(), startPos, startCol, startLine)
		}
		if c == '\n' {
			break
		}
		l.advance()
		sb.WriteRune(c)
	}
	util.Bail(l.makeToken(token.String, "", startPos, startCol, startLine), "Unterminated string literal")
	return token.Token{}
}

func (l *Lexer) matchThen(expected rune, thenType, elseType token.Type, sPos, sCol, sLine int) token.Token {
	if l.match(expected) {
		return l.makeToken(thenType, "", sPos, sCol, sLine)
	}
	return l.makeToken(elseType, "", sPos, sCol, sLine)
}

func isHexDigit(c rune) bool {
	return unicode.IsDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
