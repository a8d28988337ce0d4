// Package parser turns a token stream into the statement tree the backend
// lowers. The grammar is line-oriented: newlines terminate statements and
// block constructs close with their matching keyword (ENDIF, WEND, NEXT...).
package parser

import (
	"strconv"
	"strings"

	"github.com/basc-lang/basc/pkg/ast"
	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

type Parser struct {
	tokens   []token.Token
	pos      int
	current  token.Token
	previous token.Token
	cfg      *config.Config
}

func NewParser(tokens []token.Token, cfg *config.Config) *Parser {
	p := &Parser{tokens: tokens, cfg: cfg}
	if len(tokens) > 0 {
		p.current = p.tokens[0]
	}
	return p
}

func (p *Parser) advance() {
	if p.pos < len(p.tokens) {
		p.previous = p.current
		p.pos++
		if p.pos < len(p.tokens) {
			p.current = p.tokens[p.pos]
		}
	}
}

func (p *Parser) peek() token.Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) check(tokType token.Type) bool { return p.current.Type == tokType }

func (p *Parser) match(tokType token.Type) bool {
	if !p.check(tokType) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(tokType token.Type, message string) {
	if p.check(tokType) {
		p.advance()
		return
	}
	util.Bail(p.current, message)
}

// endOfStmt consumes the trailing newline (and a trailing comment, which
// becomes its own statement upstream) after a statement.
func (p *Parser) endOfStmt() {
	if p.check(token.EOF) || p.check(token.Comment) {
		return
	}
	p.expect(token.Newline, "Expected end of line after statement.")
}

func (p *Parser) skipNewlines() {
	for p.match(token.Newline) {
	}
}

// Parse consumes the whole token stream and returns the program block.
func (p *Parser) Parse() *ast.Node {
	tok := p.current
	stmts := p.parseBody(token.EOF)
	return ast.NewBlock(tok, stmts)
}

// parseBody collects statements until one of the terminator tokens appears
// at the start of a line. The terminator is not consumed.
func (p *Parser) parseBody(terminators ...token.Type) []*ast.Node {
	var stmts []*ast.Node
	for {
		p.skipNewlines()
		for _, t := range terminators {
			if p.check(t) {
				return stmts
			}
		}
		if p.check(token.EOF) {
			util.Bail(p.current, "Unexpected end of input inside a block.")
		}
		stmts = append(stmts, p.parseStmt())
	}
}

func (p *Parser) parseStmt() *ast.Node {
	tok := p.current

	if p.match(token.Comment) {
		return ast.NewComment(tok, p.previous.Value)
	}

	// label declaration: ident ':' at start of statement
	if p.check(token.Ident) && p.peek().Type == token.Colon {
		name := p.current.Value
		p.advance()
		p.advance()
		p.endOfStmt()
		return ast.NewLabel(tok, name)
	}

	switch {
	case p.match(token.Var):
		return p.parseVarDecl(tok)
	case p.match(token.Const):
		return p.parseConstDecl(tok)
	case p.match(token.Alias):
		return p.parseAliasDecl(tok)
	case p.match(token.Device):
		return p.parseDeviceDecl(tok)
	case p.match(token.If):
		return p.parseIf(tok)
	case p.match(token.While):
		return p.parseWhile(tok)
	case p.match(token.Do):
		return p.parseDoLoop(tok)
	case p.match(token.For):
		return p.parseFor(tok)
	case p.match(token.Select):
		return p.parseSelect(tok)
	case p.match(token.Goto):
		p.expect(token.Ident, "Expected label name after GOTO.")
		node := ast.NewGoto(tok, p.previous.Value)
		p.endOfStmt()
		return node
	case p.match(token.Gosub):
		p.expect(token.Ident, "Expected label name after GOSUB.")
		node := ast.NewGosub(tok, p.previous.Value)
		p.endOfStmt()
		return node
	case p.match(token.Return):
		p.endOfStmt()
		return ast.NewReturn(tok)
	case p.match(token.Break):
		p.endOfStmt()
		return ast.NewBreak(tok)
	case p.match(token.Continue):
		p.endOfStmt()
		return ast.NewContinue(tok)
	case p.match(token.Yield):
		p.endOfStmt()
		return ast.NewYield(tok)
	case p.match(token.Sleep):
		d := p.parseExpr()
		p.endOfStmt()
		return ast.NewSleep(tok, d)
	case p.match(token.Halt):
		p.endOfStmt()
		return ast.NewHalt(tok)
	case p.match(token.Push):
		e := p.parseExpr()
		p.endOfStmt()
		return ast.NewPush(tok, e)
	case p.match(token.Pop):
		p.expect(token.Ident, "Expected variable name after POP.")
		node := ast.NewPop(tok, p.previous.Value)
		p.endOfStmt()
		return node
	case p.match(token.Peek):
		p.expect(token.Ident, "Expected variable name after PEEK.")
		node := ast.NewPeek(tok, p.previous.Value)
		p.endOfStmt()
		return node
	case p.match(token.PlusPlus):
		return p.parsePrefixIncDec(tok, token.Plus)
	case p.match(token.MinusMinus):
		return p.parsePrefixIncDec(tok, token.Minus)
	case p.match(token.BatchWrite):
		return p.parseBatchWrite(tok)
	case p.check(token.Ident):
		return p.parseAssignment(tok)
	}

	util.Bail(tok, "Expected a statement.")
	return nil
}

func (p *Parser) parseVarDecl(tok token.Token) *ast.Node {
	p.expect(token.Ident, "Expected variable name after VAR.")
	name := p.previous.Value
	var init *ast.Node
	if p.match(token.Eq) {
		init = p.parseExpr()
	}
	p.endOfStmt()
	return ast.NewVarDecl(tok, name, init)
}

func (p *Parser) parseConstDecl(tok token.Token) *ast.Node {
	p.expect(token.Ident, "Expected constant name after CONST.")
	name := p.previous.Value
	p.expect(token.Eq, "Expected '=' in CONST declaration.")
	value := p.parseExpr()
	p.endOfStmt()
	return ast.NewConstDecl(tok, name, value)
}

func (p *Parser) parseAliasDecl(tok token.Token) *ast.Node {
	p.expect(token.Ident, "Expected alias name after ALIAS.")
	name := p.previous.Value
	p.expect(token.Eq, "Expected '=' in ALIAS declaration.")
	p.expect(token.Ident, "Expected a device pin (d0..d5) or 'db' after '='.")
	pin, ok := parsePin(p.previous.Value, p.cfg.Pins)
	if !ok {
		util.Bail(p.previous, "Invalid device pin '%s': expected d0..d%d or db.",
			p.previous.Value, p.cfg.Pins-1)
	}
	p.endOfStmt()
	return ast.NewAliasDecl(tok, name, pin)
}

func (p *Parser) parseDeviceDecl(tok token.Token) *ast.Node {
	if !p.cfg.IsFeatureEnabled(config.FeatNamedDevices) {
		util.Bail(tok, "DEVICE declarations are not enabled (use -Fnamed-devices).")
	}
	p.expect(token.Ident, "Expected device name after DEVICE.")
	name := p.previous.Value
	p.expect(token.Eq, "Expected '=' in DEVICE declaration.")
	p.expect(token.String, "Expected prefab name string in DEVICE declaration.")
	prefab := p.previous.Value
	label := ""
	if p.match(token.Comma) {
		p.expect(token.String, "Expected label string after ',' in DEVICE declaration.")
		label = p.previous.Value
	}
	p.endOfStmt()
	return ast.NewDeviceDecl(tok, name, prefab, label)
}

func (p *Parser) parseIf(tok token.Token) *ast.Node {
	cond := p.parseExpr()
	p.expect(token.Then, "Expected THEN after IF condition.")

	// single-line form: IF cond THEN stmt
	if !p.check(token.Newline) && !p.check(token.Comment) && !p.check(token.EOF) {
		if !p.cfg.IsFeatureEnabled(config.FeatSingleLineIf) {
			util.Bail(p.current, "Single-line IF is not enabled (use -Fsingle-line-if).")
		}
		body := []*ast.Node{p.parseStmt()}
		return ast.NewIf(tok, []ast.IfBranch{{Cond: cond, Body: body}}, nil)
	}

	branches := []ast.IfBranch{{Cond: cond, Body: p.parseBody(token.ElseIf, token.Else, token.EndIf)}}
	for p.match(token.ElseIf) {
		c := p.parseExpr()
		p.expect(token.Then, "Expected THEN after ELSEIF condition.")
		branches = append(branches, ast.IfBranch{Cond: c, Body: p.parseBody(token.ElseIf, token.Else, token.EndIf)})
	}
	var elseBody []*ast.Node
	if p.match(token.Else) {
		elseBody = p.parseBody(token.EndIf)
	}
	p.expect(token.EndIf, "Expected ENDIF to close IF block.")
	p.endOfStmt()
	return ast.NewIf(tok, branches, elseBody)
}

func (p *Parser) parseWhile(tok token.Token) *ast.Node {
	cond := p.parseExpr()
	body := p.parseBody(token.Wend)
	p.expect(token.Wend, "Expected WEND to close WHILE loop.")
	p.endOfStmt()
	return ast.NewWhile(tok, cond, body)
}

func (p *Parser) parseDoLoop(tok token.Token) *ast.Node {
	body := p.parseBody(token.Loop)
	p.expect(token.Loop, "Expected LOOP to close DO block.")
	p.expect(token.Until, "Expected UNTIL after LOOP.")
	cond := p.parseExpr()
	p.endOfStmt()
	return ast.NewDoLoop(tok, body, cond)
}

func (p *Parser) parseFor(tok token.Token) *ast.Node {
	p.expect(token.Ident, "Expected loop variable after FOR.")
	name := p.previous.Value
	p.expect(token.Eq, "Expected '=' after FOR loop variable.")
	from := p.parseExpr()
	p.expect(token.To, "Expected TO in FOR statement.")
	to := p.parseExpr()
	var step *ast.Node
	if p.match(token.StepKw) {
		step = p.parseExpr()
	}
	body := p.parseBody(token.Next)
	p.expect(token.Next, "Expected NEXT to close FOR loop.")
	if p.check(token.Ident) {
		if !strings.EqualFold(p.current.Value, name) {
			util.Bail(p.current, "NEXT variable '%s' does not match FOR variable '%s'.", p.current.Value, name)
		}
		p.advance()
	}
	p.endOfStmt()
	return ast.NewFor(tok, name, from, to, step, body)
}

func (p *Parser) parseSelect(tok token.Token) *ast.Node {
	p.match(token.Case) // SELECT CASE x and SELECT x are both accepted
	expr := p.parseExpr()
	p.skipNewlines()

	var cases []ast.SelectCase
	var elseBody []*ast.Node
	var pending []*ast.Node // comments before the first arm
	for {
		p.skipNewlines()
		if p.match(token.EndSelect) {
			break
		}
		if p.match(token.Comment) {
			pending = append(pending, ast.NewComment(p.previous, p.previous.Value))
			continue
		}
		p.expect(token.Case, "Expected CASE or END SELECT inside SELECT block.")
		if p.match(token.Else) {
			if elseBody != nil {
				util.Bail(p.previous, "Multiple CASE ELSE arms in one SELECT block.")
			}
			elseBody = append(pending, p.parseBody(token.Case, token.EndSelect)...)
			pending = nil
			continue
		}
		value := p.parseExpr()
		body := p.parseBody(token.Case, token.EndSelect)
		cases = append(cases, ast.SelectCase{Value: value, Body: append(pending, body...)})
		pending = nil
	}
	if len(pending) > 0 {
		// a SELECT with nothing but comments still carries them through
		elseBody = append(elseBody, pending...)
	}
	p.endOfStmt()
	return ast.NewSelect(tok, expr, cases, elseBody)
}

func (p *Parser) parsePrefixIncDec(tok token.Token, op token.Type) *ast.Node {
	p.expect(token.Ident, "Expected variable name after increment operator.")
	name := p.previous.Value
	p.endOfStmt()
	return incDecAssign(tok, name, op)
}

// incDecAssign desugars `x++` and `--x` forms into `x = x + 1` or
// `x = x - 1`.
func incDecAssign(tok token.Token, name string, op token.Type) *ast.Node {
	step := ast.NewBinaryOp(tok, op, ast.NewIdent(tok, name), ast.NewNumber(tok, 1))
	return ast.NewAssign(tok, name, step)
}

func (p *Parser) parseBatchWrite(tok token.Token) *ast.Node {
	p.expect(token.LParen, "Expected '(' after BATCHWRITE.")
	target := p.parseExpr()
	p.expect(token.Comma, "Expected ',' after BATCHWRITE target.")
	p.expect(token.Ident, "Expected property name in BATCHWRITE.")
	prop := p.previous.Value
	p.expect(token.Comma, "Expected ',' after BATCHWRITE property.")
	expr := p.parseExpr()
	p.expect(token.RParen, "Expected ')' to close BATCHWRITE.")
	p.endOfStmt()
	return ast.NewBatchWrite(tok, target, prop, expr)
}

// parseAssignment handles `x = e` and its compound forms, `dev.Prop = e`
// and `dev.Slot(i).Prop = e`.
func (p *Parser) parseAssignment(tok token.Token) *ast.Node {
	p.expect(token.Ident, "Expected identifier.")
	name := p.previous.Value

	if p.match(token.Dot) {
		p.expect(token.Ident, "Expected property or Slot after '.'.")
		member := p.previous.Value
		if strings.EqualFold(member, "Slot") {
			p.expect(token.LParen, "Expected '(' after Slot.")
			index := p.parseExpr()
			p.expect(token.RParen, "Expected ')' after slot index.")
			p.expect(token.Dot, "Expected '.' after Slot(...).")
			p.expect(token.Ident, "Expected property name after Slot(...).")
			prop := p.previous.Value
			p.expect(token.Eq, "Expected '=' in slot property assignment.")
			expr := p.parseExpr()
			p.endOfStmt()
			return ast.NewSlotAssign(tok, name, index, prop, expr)
		}
		p.expect(token.Eq, "Expected '=' in device property assignment.")
		expr := p.parseExpr()
		p.endOfStmt()
		return ast.NewDeviceAssign(tok, name, member, expr)
	}

	switch {
	case p.match(token.PlusEq):
		return p.finishCompound(tok, name, token.Plus)
	case p.match(token.MinusEq):
		return p.finishCompound(tok, name, token.Minus)
	case p.match(token.StarEq):
		return p.finishCompound(tok, name, token.Star)
	case p.match(token.SlashEq):
		return p.finishCompound(tok, name, token.Slash)
	case p.match(token.PlusPlus):
		p.endOfStmt()
		return incDecAssign(tok, name, token.Plus)
	case p.match(token.MinusMinus):
		p.endOfStmt()
		return incDecAssign(tok, name, token.Minus)
	}

	p.expect(token.Eq, "Expected '=' in assignment.")
	expr := p.parseExpr()
	p.endOfStmt()
	return ast.NewAssign(tok, name, expr)
}

// finishCompound desugars `x op= e` into `x = x op e`.
func (p *Parser) finishCompound(tok token.Token, name string, op token.Type) *ast.Node {
	expr := p.parseExpr()
	p.endOfStmt()
	return ast.NewAssign(tok, name, ast.NewBinaryOp(tok, op, ast.NewIdent(tok, name), expr))
}

// Expression parsing, precedence climbing as in any small compiler.

func binaryPrecedence(op token.Type) int {
	switch op {
	case token.Caret:
		return 7
	case token.Star, token.Slash, token.Percent, token.Mod:
		return 6
	case token.Plus, token.Minus:
		return 5
	case token.Shl, token.Shr:
		return 4
	case token.Lt, token.Gt, token.Lte, token.Gte, token.EqEq, token.Neq:
		return 3
	case token.And:
		return 2
	case token.Or:
		return 1
	default:
		return -1
	}
}

func (p *Parser) parseExpr() *ast.Node { return p.parseBinaryExpr(1) }

func (p *Parser) parseBinaryExpr(minPrec int) *ast.Node {
	left := p.parseUnaryExpr()
	for {
		op := p.current.Type
		prec := binaryPrecedence(op)
		if prec < minPrec {
			break
		}
		opTok := p.current
		p.advance()
		next := prec + 1
		if op == token.Caret { // right-associative
			next = prec
		}
		right := p.parseBinaryExpr(next)
		left = ast.NewBinaryOp(opTok, op, left, right)
	}
	return left
}

func (p *Parser) parseUnaryExpr() *ast.Node {
	tok := p.current
	if p.match(token.Minus) || p.match(token.Not) {
		op := p.previous.Type
		operand := p.parseUnaryExpr()
		return ast.NewUnaryOp(tok, op, operand)
	}
	return p.parsePrimaryExpr()
}

func (p *Parser) parsePrimaryExpr() *ast.Node {
	tok := p.current

	if p.match(token.Number) {
		return ast.NewNumber(tok, parseNumber(p.previous))
	}
	if p.match(token.String) {
		return ast.NewString(tok, p.previous.Value)
	}
	if p.match(token.Hash) {
		p.expect(token.LParen, "Expected '(' after HASH.")
		p.expect(token.String, "Expected string literal inside HASH(...).")
		name := p.previous.Value
		p.expect(token.RParen, "Expected ')' to close HASH(...).")
		return ast.NewHash(tok, name)
	}
	if p.match(token.BatchRead) {
		p.expect(token.LParen, "Expected '(' after BATCHREAD.")
		target := p.parseExpr()
		p.expect(token.Comma, "Expected ',' after BATCHREAD target.")
		p.expect(token.Ident, "Expected property name in BATCHREAD.")
		prop := p.previous.Value
		p.expect(token.Comma, "Expected ',' after BATCHREAD property.")
		mode := p.parseExpr()
		p.expect(token.RParen, "Expected ')' to close BATCHREAD.")
		return ast.NewBatchRead(tok, target, prop, mode)
	}
	if p.match(token.Ident) {
		name := p.previous.Value
		if p.check(token.LParen) {
			return p.parseCall(tok, name)
		}
		if p.match(token.Dot) {
			p.expect(token.Ident, "Expected property or Slot after '.'.")
			member := p.previous.Value
			if strings.EqualFold(member, "Slot") {
				p.expect(token.LParen, "Expected '(' after Slot.")
				index := p.parseExpr()
				p.expect(token.RParen, "Expected ')' after slot index.")
				p.expect(token.Dot, "Expected '.' after Slot(...).")
				p.expect(token.Ident, "Expected property name after Slot(...).")
				return ast.NewDeviceSlot(tok, name, index, p.previous.Value)
			}
			return ast.NewDeviceProp(tok, name, member)
		}
		return ast.NewIdent(tok, name)
	}
	if p.match(token.LParen) {
		expr := p.parseExpr()
		p.expect(token.RParen, "Expected ')' after expression.")
		return expr
	}

	util.Bail(tok, "Expected an expression.")
	return nil
}

// parseCall collects a built-in function call's argument list. Names and
// arities are checked during lowering.
func (p *Parser) parseCall(tok token.Token, name string) *ast.Node {
	p.expect(token.LParen, "Expected '(' in call.")
	var args []*ast.Node
	if !p.check(token.RParen) {
		args = append(args, p.parseExpr())
		for p.match(token.Comma) {
			args = append(args, p.parseExpr())
		}
	}
	p.expect(token.RParen, "Expected ')' to close call.")
	return ast.NewCall(tok, name, args)
}

func parseNumber(tok token.Token) float64 {
	s := tok.Value
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			util.Bail(tok, "Invalid hex literal: %s", s)
		}
		return float64(v)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		util.Bail(tok, "Invalid number literal: %s", s)
	}
	return v
}

// parsePin decodes d0..d{pins-1} and db (the housing).
func parsePin(s string, pins int) (int, bool) {
	low := strings.ToLower(s)
	if low == "db" {
		return -1, true
	}
	if len(low) >= 2 && low[0] == 'd' {
		n, err := strconv.Atoi(low[1:])
		if err == nil && n >= 0 && n < pins {
			return n, true
		}
	}
	return 0, false
}
