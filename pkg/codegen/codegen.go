// Package codegen lowers the statement tree into an abstract operation
// stream with symbolic branch targets. It owns the symbol and device
// tables and the register allocator; it never computes jump offsets —
// that is the linker's job.
package codegen

import (
	"fmt"

	"github.com/basc-lang/basc/pkg/ast"
	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/ir"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

type symbolKind int

const (
	symVar symbolKind = iota
	symConst
	symAlias
	symDevice
	symLabel
)

type symbol struct {
	Name   string
	Kind   symbolKind
	Reg    int     // home register, -1 when the variable lives on the stack
	Slot   int     // stack slot home, valid when Reg < 0
	Value  float64         // symConst
	Pin    int             // symAlias
	Hashes ir.DeviceHashes // symDevice
	Next   *symbol
}

// regState tracks one general register.
type regState struct {
	sym  *symbol // variable homed here, nil when free or holding a temp
	temp bool
}

type loopFrame struct {
	topLabel  string // CONTINUE target
	exitLabel string // BREAK target
}

// Unit is the lowered, not-yet-resolved output of one compilation.
type Unit struct {
	Ops     []*ir.Operation
	Aliases map[string]int
	Devices map[string]ir.DeviceHashes
	Consts  map[string]float64
}

type Context struct {
	cfg        *config.Config
	ops        []*ir.Operation
	symbols    *symbol
	regs       []regState
	nextSpill  int
	labelCount int
	loops      []loopFrame
	userLabels map[string]bool
	pinsBound  map[int]bool
}

func NewContext(cfg *config.Config) *Context {
	return &Context{
		cfg:        cfg,
		regs:       make([]regState, cfg.Registers),
		nextSpill:  cfg.StackSlots - 1,
		userLabels: make(map[string]bool),
		pinsBound:  make(map[int]bool),
	}
}

// Generate lowers the program block and returns the operation stream plus
// the symbol tables the final Program carries.
func (ctx *Context) Generate(root *ast.Node) *Unit {
	ctx.genStmts(root.Data.(ast.BlockNode).Stmts)

	unit := &Unit{
		Ops:     ctx.ops,
		Aliases: make(map[string]int),
		Devices: make(map[string]ir.DeviceHashes),
		Consts:  make(map[string]float64),
	}
	for sym := ctx.symbols; sym != nil; sym = sym.Next {
		switch sym.Kind {
		case symAlias:
			unit.Aliases[sym.Name] = sym.Pin
		case symDevice:
			unit.Devices[sym.Name] = sym.Hashes
		case symConst:
			unit.Consts[sym.Name] = sym.Value
		}
	}
	return unit
}

func (ctx *Context) emit(op *ir.Operation) { ctx.ops = append(ctx.ops, op) }

func (ctx *Context) findSymbol(name string) *symbol {
	for sym := ctx.symbols; sym != nil; sym = sym.Next {
		if sym.Name == name {
			return sym
		}
	}
	return nil
}

func (ctx *Context) addSymbol(name string, kind symbolKind) *symbol {
	sym := &symbol{Name: name, Kind: kind, Reg: -1, Next: ctx.symbols}
	ctx.symbols = sym
	return sym
}

func (ctx *Context) newLabel(stem string) string {
	ctx.labelCount++
	return fmt.Sprintf("__%s_%d", stem, ctx.labelCount)
}

func internalRef(name string) *ir.LabelRef { return &ir.LabelRef{Name: name} }
func userRef(name string) *ir.LabelRef     { return &ir.LabelRef{Name: name, User: true} }

// --- Register allocation ---
//
// A variable gets a permanent home when it is declared: a dedicated
// register while enough registers remain for expression temporaries, a
// stack slot on the housing otherwise. Homes never move, so a variable
// lives at the same location on every path through the program.

// tempReserve is the number of registers kept free of variable homes so
// expression temporaries always have room.
const tempReserve = 4

func (ctx *Context) bindVar(sym *symbol, tok token.Token) {
	if r := ctx.freeReg(); r >= 0 && ctx.freeCount() > tempReserve {
		ctx.regs[r] = regState{sym: sym}
		sym.Reg = r
		return
	}
	if ctx.nextSpill < 0 {
		util.Bail(tok, "Too many variables: all %d stack slots are in use.", ctx.cfg.StackSlots)
	}
	sym.Reg = -1
	sym.Slot = ctx.nextSpill
	ctx.nextSpill--
	util.Warn(ctx.cfg, config.WarnSpill, tok, "Variable '%s' spilled to stack slot %d.", sym.Name, sym.Slot)
}

func (ctx *Context) freeReg() int {
	for i := range ctx.regs {
		if ctx.regs[i].sym == nil && !ctx.regs[i].temp {
			return i
		}
	}
	return -1
}

func (ctx *Context) freeCount() int {
	n := 0
	for i := range ctx.regs {
		if ctx.regs[i].sym == nil && !ctx.regs[i].temp {
			n++
		}
	}
	return n
}

// varValue returns the variable's home register, staging stack-homed
// variables through a temporary the caller releases with releaseValue.
func (ctx *Context) varValue(sym *symbol, tok token.Token) *ir.Reg {
	if sym.Reg >= 0 {
		return &ir.Reg{N: sym.Reg}
	}
	r := ctx.allocTemp(tok)
	ctx.emit(ir.NewOp(ir.OpGet, tok.Line,
		&ir.Reg{N: r}, &ir.DevRef{Pin: ir.HousingPin}, &ir.Num{V: float64(sym.Slot)}))
	return &ir.Reg{N: r}
}

func (ctx *Context) allocTemp(tok token.Token) int {
	r := ctx.freeReg()
	if r < 0 {
		util.Bail(tok, "Expression too complex: all %d registers are in use.", ctx.cfg.Registers)
	}
	ctx.regs[r] = regState{temp: true}
	return r
}

func (ctx *Context) freeTemp(r int) {
	if r >= 0 && r < len(ctx.regs) && ctx.regs[r].temp {
		ctx.regs[r] = regState{}
	}
}

// releaseValue frees the register behind an operand if it was a temp.
// Variable home registers pass through untouched.
func (ctx *Context) releaseValue(v ir.Value) {
	if r, ok := v.(*ir.Reg); ok && r.N < len(ctx.regs) {
		ctx.freeTemp(r.N)
	}
}

// --- Statement lowering ---

func (ctx *Context) genStmts(stmts []*ast.Node) {
	for _, s := range stmts {
		ctx.genStmt(s)
	}
}

func (ctx *Context) genStmt(node *ast.Node) {
	switch node.Type {
	case ast.Comment:
		op := ir.NewOp(ir.OpComment, node.Tok.Line)
		op.Text = node.Data.(ast.CommentNode).Text
		ctx.emit(op)
	case ast.Label:
		ctx.genLabelDecl(node)
	case ast.VarDecl:
		ctx.genVarDecl(node)
	case ast.ConstDecl:
		ctx.genConstDecl(node)
	case ast.AliasDecl:
		ctx.genAliasDecl(node)
	case ast.DeviceDecl:
		ctx.genDeviceDecl(node)
	case ast.Assign:
		ctx.genAssign(node)
	case ast.DeviceAssign:
		ctx.genDeviceAssign(node)
	case ast.SlotAssign:
		ctx.genSlotAssign(node)
	case ast.BatchWriteStmt:
		ctx.genBatchWrite(node)
	case ast.If:
		ctx.genIf(node)
	case ast.While:
		ctx.genWhile(node)
	case ast.DoLoop:
		ctx.genDoLoop(node)
	case ast.For:
		ctx.genFor(node)
	case ast.Select:
		ctx.genSelect(node)
	case ast.Goto:
		ctx.emit(ir.NewOp(ir.OpJ, node.Tok.Line, userRef(node.Data.(ast.GotoNode).Target)))
	case ast.Gosub:
		ctx.emit(ir.NewOp(ir.OpJal, node.Tok.Line, userRef(node.Data.(ast.GosubNode).Target)))
	case ast.Return:
		ctx.emit(ir.NewOp(ir.OpJr, node.Tok.Line, &ir.Reg{N: ir.RA}))
	case ast.Break:
		if len(ctx.loops) == 0 {
			util.Bail(node.Tok, "BREAK outside of any loop.")
		}
		ctx.emit(ir.NewOp(ir.OpJ, node.Tok.Line, internalRef(ctx.loops[len(ctx.loops)-1].exitLabel)))
	case ast.Continue:
		if len(ctx.loops) == 0 {
			util.Bail(node.Tok, "CONTINUE outside of any loop.")
		}
		ctx.emit(ir.NewOp(ir.OpJ, node.Tok.Line, internalRef(ctx.loops[len(ctx.loops)-1].topLabel)))
	case ast.Yield:
		ctx.emit(ir.NewOp(ir.OpYield, node.Tok.Line))
	case ast.Sleep:
		d := ctx.genExpr(node.Data.(ast.SleepNode).Duration)
		ctx.emit(ir.NewOp(ir.OpSleep, node.Tok.Line, d))
		ctx.releaseValue(d)
	case ast.Halt:
		ctx.emit(ir.NewOp(ir.OpHalt, node.Tok.Line))
	case ast.Push:
		v := ctx.genExpr(node.Data.(ast.PushNode).Expr)
		ctx.emit(ir.NewOp(ir.OpPush, node.Tok.Line, v))
		ctx.releaseValue(v)
	case ast.Pop:
		ctx.genStackRead(node, ir.OpPop, node.Data.(ast.PopNode).Name)
	case ast.Peek:
		ctx.genStackRead(node, ir.OpPeek, node.Data.(ast.PeekNode).Name)
	default:
		util.Bail(node.Tok, "Statement kind cannot be lowered.")
	}
}

func (ctx *Context) genLabelDecl(node *ast.Node) {
	name := node.Data.(ast.LabelNode).Name
	if ctx.userLabels[name] {
		util.Bail(node.Tok, "Duplicate label '%s'.", name)
	}
	if ctx.findSymbol(name) != nil {
		util.Bail(node.Tok, "Label '%s' collides with an existing declaration.", name)
	}
	ctx.userLabels[name] = true
	ctx.addSymbol(name, symLabel)
	ctx.emitLabel(name, true, node.Tok.Line)
}

func (ctx *Context) emitLabel(name string, user bool, line int) {
	op := ir.NewOp(ir.OpLabel, line)
	op.Text = name
	if user {
		op.Args = []ir.Value{&ir.LabelRef{Name: name, User: true}}
	}
	ctx.emit(op)
}

func (ctx *Context) genVarDecl(node *ast.Node) {
	d := node.Data.(ast.VarDeclNode)
	if existing := ctx.findSymbol(d.Name); existing != nil {
		if existing.Kind != symVar {
			util.Bail(node.Tok, "'%s' is already declared and is not a variable.", d.Name)
		}
		util.Warn(ctx.cfg, config.WarnShadow, node.Tok, "VAR redeclares '%s'; treating as assignment.", d.Name)
		ctx.assignTo(existing, d.Init, node.Tok)
		return
	}
	sym := ctx.addSymbol(d.Name, symVar)
	ctx.bindVar(sym, node.Tok)
	ctx.assignTo(sym, d.Init, node.Tok)
}

func (ctx *Context) genConstDecl(node *ast.Node) {
	d := node.Data.(ast.ConstDeclNode)
	if ctx.findSymbol(d.Name) != nil {
		util.Bail(node.Tok, "'%s' is already declared.", d.Name)
	}
	folded := ast.FoldConstants(ctx.substConsts(d.Value))
	if folded.Type != ast.Number {
		util.Bail(node.Tok, "CONST initializer must be a constant expression.")
	}
	sym := ctx.addSymbol(d.Name, symConst)
	sym.Value = folded.Data.(ast.NumberNode).Value
}

func (ctx *Context) genAliasDecl(node *ast.Node) {
	d := node.Data.(ast.AliasDeclNode)
	if ctx.findSymbol(d.Name) != nil {
		util.Bail(node.Tok, "'%s' is already declared.", d.Name)
	}
	if d.Pin != ir.HousingPin {
		ctx.pinsBound[d.Pin] = true
		if len(ctx.pinsBound) > ctx.cfg.Pins {
			util.Bail(node.Tok, "Too many device pin aliases: at most %d pins exist.", ctx.cfg.Pins)
		}
	}
	sym := ctx.addSymbol(d.Name, symAlias)
	sym.Pin = d.Pin
}

func (ctx *Context) genAssign(node *ast.Node) {
	d := node.Data.(ast.AssignNode)
	sym := ctx.findSymbol(d.Name)
	if sym == nil {
		util.Bail(node.Tok, "Undefined variable '%s' (declare it with VAR).", d.Name)
	}
	if sym.Kind != symVar {
		util.Bail(node.Tok, "'%s' is not assignable.", d.Name)
	}
	ctx.assignTo(sym, d.Expr, node.Tok)
}

// assignTo evaluates init into the symbol's home. A nil initializer
// zeroes the variable. Stack-homed variables are written back through a
// temporary.
func (ctx *Context) assignTo(sym *symbol, init *ast.Node, tok token.Token) {
	r := sym.Reg
	if r < 0 {
		r = ctx.allocTemp(tok)
	}
	if init == nil {
		ctx.emit(ir.NewOp(ir.OpMove, tok.Line, &ir.Reg{N: r}, &ir.Num{V: 0}))
	} else {
		ctx.genExprInto(init, r)
	}
	if sym.Reg < 0 {
		ctx.emit(ir.NewOp(ir.OpPut, tok.Line,
			&ir.DevRef{Pin: ir.HousingPin}, &ir.Num{V: float64(sym.Slot)}, &ir.Reg{N: r}))
		ctx.freeTemp(r)
	}
}

// genStackRead lowers POP and PEEK, which read the value stack into a
// variable's home.
func (ctx *Context) genStackRead(node *ast.Node, op ir.Op, name string) {
	sym := ctx.findSymbol(name)
	if sym == nil {
		util.Bail(node.Tok, "Undefined variable '%s' (declare it with VAR).", name)
	}
	if sym.Kind != symVar {
		util.Bail(node.Tok, "'%s' is not assignable.", name)
	}
	r := sym.Reg
	if r < 0 {
		r = ctx.allocTemp(node.Tok)
	}
	ctx.emit(ir.NewOp(op, node.Tok.Line, &ir.Reg{N: r}))
	if sym.Reg < 0 {
		ctx.emit(ir.NewOp(ir.OpPut, node.Tok.Line,
			&ir.DevRef{Pin: ir.HousingPin}, &ir.Num{V: float64(sym.Slot)}, &ir.Reg{N: r}))
		ctx.freeTemp(r)
	}
}

func (ctx *Context) genIf(node *ast.Node) {
	d := node.Data.(ast.IfNode)
	endLabel := ctx.newLabel("endif")

	for i, branch := range d.Branches {
		last := i == len(d.Branches)-1 && d.ElseBody == nil
		var failLabel string
		if last {
			failLabel = endLabel
		} else if i == len(d.Branches)-1 {
			failLabel = ctx.newLabel("else")
		} else {
			failLabel = ctx.newLabel("elseif")
		}

		ctx.genBranchIfFalse(branch.Cond, failLabel)
		ctx.genStmts(branch.Body)
		if !last || d.ElseBody != nil {
			ctx.emit(ir.NewOp(ir.OpJ, branch.Cond.Tok.Line, internalRef(endLabel)))
		}
		if failLabel != endLabel {
			ctx.emitLabel(failLabel, false, branch.Cond.Tok.Line)
		}

		if i == len(d.Branches)-1 && d.ElseBody != nil {
			ctx.genStmts(d.ElseBody)
		}
	}
	ctx.emitLabel(endLabel, false, node.Tok.Line)
}

func (ctx *Context) genWhile(node *ast.Node) {
	d := node.Data.(ast.WhileNode)
	topLabel := ctx.newLabel("while")
	exitLabel := ctx.newLabel("wend")

	ctx.emitLabel(topLabel, false, node.Tok.Line)
	ctx.genBranchIfFalse(d.Cond, exitLabel)

	ctx.loops = append(ctx.loops, loopFrame{topLabel: topLabel, exitLabel: exitLabel})
	ctx.genStmts(d.Body)
	ctx.loops = ctx.loops[:len(ctx.loops)-1]

	ctx.emit(ir.NewOp(ir.OpJ, node.Tok.Line, internalRef(topLabel)))
	ctx.emitLabel(exitLabel, false, node.Tok.Line)
}

func (ctx *Context) genDoLoop(node *ast.Node) {
	d := node.Data.(ast.DoLoopNode)
	topLabel := ctx.newLabel("do")
	checkLabel := ctx.newLabel("until")
	exitLabel := ctx.newLabel("done")

	ctx.emitLabel(topLabel, false, node.Tok.Line)

	// CONTINUE re-tests the UNTIL condition rather than re-entering the body.
	ctx.loops = append(ctx.loops, loopFrame{topLabel: checkLabel, exitLabel: exitLabel})
	ctx.genStmts(d.Body)
	ctx.loops = ctx.loops[:len(ctx.loops)-1]

	ctx.emitLabel(checkLabel, false, node.Tok.Line)
	ctx.genBranchIfFalse(d.Cond, topLabel)
	ctx.emitLabel(exitLabel, false, node.Tok.Line)
}

func (ctx *Context) genFor(node *ast.Node) {
	d := node.Data.(ast.ForNode)

	step := 1.0
	if d.Step != nil {
		folded := ast.FoldConstants(ctx.substConsts(d.Step))
		if folded.Type != ast.Number {
			util.Bail(d.Step.Tok, "FOR step must be a constant expression.")
		}
		step = folded.Data.(ast.NumberNode).Value
		if step == 0 {
			util.Bail(d.Step.Tok, "FOR step must not be zero.")
		}
	}

	sym := ctx.findSymbol(d.Var)
	if sym == nil {
		sym = ctx.addSymbol(d.Var, symVar)
		ctx.bindVar(sym, node.Tok)
	} else if sym.Kind != symVar {
		util.Bail(node.Tok, "FOR variable '%s' is not assignable.", d.Var)
	}
	ctx.assignTo(sym, d.From, node.Tok)

	topLabel := ctx.newLabel("for")
	stepLabel := ctx.newLabel("next")
	exitLabel := ctx.newLabel("endfor")

	ctx.emitLabel(topLabel, false, node.Tok.Line)

	// Bound check: exit once the counter passes the limit in the step's
	// direction.
	limit := ctx.genExpr(d.To)
	iter := ctx.varValue(sym, node.Tok)
	cmp := ctx.allocTemp(node.Tok)
	cmpOp := ir.OpSgt
	if step < 0 {
		cmpOp = ir.OpSlt
	}
	ctx.emit(ir.NewOp(cmpOp, node.Tok.Line, &ir.Reg{N: cmp}, iter, limit))
	ctx.emit(ir.NewOp(ir.OpBnez, node.Tok.Line, &ir.Reg{N: cmp}, internalRef(exitLabel)))
	ctx.freeTemp(cmp)
	ctx.releaseValue(iter)
	ctx.releaseValue(limit)

	ctx.loops = append(ctx.loops, loopFrame{topLabel: stepLabel, exitLabel: exitLabel})
	ctx.genStmts(d.Body)
	ctx.loops = ctx.loops[:len(ctx.loops)-1]

	ctx.emitLabel(stepLabel, false, node.Tok.Line)
	next := ctx.varValue(sym, node.Tok)
	ctx.emit(ir.NewOp(ir.OpAdd, node.Tok.Line, &ir.Reg{N: next.N}, &ir.Reg{N: next.N}, &ir.Num{V: step}))
	if sym.Reg < 0 {
		ctx.emit(ir.NewOp(ir.OpPut, node.Tok.Line,
			&ir.DevRef{Pin: ir.HousingPin}, &ir.Num{V: float64(sym.Slot)}, &ir.Reg{N: next.N}))
	}
	ctx.releaseValue(next)
	ctx.emit(ir.NewOp(ir.OpJ, node.Tok.Line, internalRef(topLabel)))
	ctx.emitLabel(exitLabel, false, node.Tok.Line)
}

func (ctx *Context) genSelect(node *ast.Node) {
	d := node.Data.(ast.SelectNode)
	endLabel := ctx.newLabel("endsel")

	testVal := ctx.genExpr(d.Expr)
	testReg, isReg := testVal.(*ir.Reg)
	if !isReg {
		r := ctx.allocTemp(node.Tok)
		ctx.emit(ir.NewOp(ir.OpMove, node.Tok.Line, &ir.Reg{N: r}, testVal))
		testReg = &ir.Reg{N: r}
	}

	// Dispatch chain: one equality test per arm.
	caseLabels := make([]string, len(d.Cases))
	for i, c := range d.Cases {
		caseLabels[i] = ctx.newLabel("case")
		val := ctx.genExpr(c.Value)
		cmp := ctx.allocTemp(node.Tok)
		ctx.emit(ir.NewOp(ir.OpSeq, c.Value.Tok.Line, &ir.Reg{N: cmp}, testReg, val))
		ctx.emit(ir.NewOp(ir.OpBnez, c.Value.Tok.Line, &ir.Reg{N: cmp}, internalRef(caseLabels[i])))
		ctx.freeTemp(cmp)
		ctx.releaseValue(val)
	}
	ctx.freeTemp(testReg.N)

	// Fallthrough: CASE ELSE body, or straight to the end.
	if d.ElseBody != nil {
		ctx.genStmts(d.ElseBody)
	}
	ctx.emit(ir.NewOp(ir.OpJ, node.Tok.Line, internalRef(endLabel)))

	for i, c := range d.Cases {
		ctx.emitLabel(caseLabels[i], false, node.Tok.Line)
		ctx.genStmts(c.Body)
		if i != len(d.Cases)-1 {
			ctx.emit(ir.NewOp(ir.OpJ, node.Tok.Line, internalRef(endLabel)))
		}
	}
	ctx.emitLabel(endLabel, false, node.Tok.Line)
}

// genBranchIfFalse evaluates cond and emits a branch to failLabel taken
// when the condition is zero.
func (ctx *Context) genBranchIfFalse(cond *ast.Node, failLabel string) {
	v := ctx.genExpr(cond)
	ctx.emit(ir.NewOp(ir.OpBeqz, cond.Tok.Line, v, internalRef(failLabel)))
	ctx.releaseValue(v)
}
