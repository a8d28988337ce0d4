package codegen

import (
	"strings"

	"github.com/basc-lang/basc/pkg/ast"
	"github.com/basc-lang/basc/pkg/ir"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

var binaryOps = map[token.Type]ir.Op{
	token.Plus:    ir.OpAdd,
	token.Minus:   ir.OpSub,
	token.Star:    ir.OpMul,
	token.Slash:   ir.OpDiv,
	token.Percent: ir.OpMod,
	token.Mod:     ir.OpMod,
	token.And:     ir.OpAnd,
	token.Or:      ir.OpOr,
	token.Lt:      ir.OpSlt,
	token.Lte:     ir.OpSle,
	token.Gt:      ir.OpSgt,
	token.Gte:     ir.OpSge,
	token.EqEq:    ir.OpSeq,
	token.Neq:     ir.OpSne,
	token.Shl:     ir.OpSll,
	token.Shr:     ir.OpSrl,
}

// builtins maps function spellings to engine opcodes. BNOT and the power
// operator have no direct opcode and expand during lowering.
var builtins = map[string]struct {
	op    ir.Op
	arity int
}{
	"ABS":   {ir.OpAbs, 1},
	"SQRT":  {ir.OpSqrt, 1},
	"CEIL":  {ir.OpCeil, 1},
	"FLOOR": {ir.OpFloor, 1},
	"ROUND": {ir.OpRound, 1},
	"TRUNC": {ir.OpTrunc, 1},
	"SGN":   {ir.OpSgn, 1},
	"SIN":   {ir.OpSin, 1},
	"COS":   {ir.OpCos, 1},
	"TAN":   {ir.OpTan, 1},
	"ASIN":  {ir.OpAsin, 1},
	"ACOS":  {ir.OpAcos, 1},
	"ATAN":  {ir.OpAtan, 1},
	"EXP":   {ir.OpExp, 1},
	"LOG":   {ir.OpLog, 1},
	"MIN":   {ir.OpMin, 2},
	"MAX":   {ir.OpMax, 2},
	"ATAN2": {ir.OpAtan2, 2},
	"BXOR":  {ir.OpXor, 2},
	"SHL":   {ir.OpSll, 2},
	"SHR":   {ir.OpSrl, 2},
}

// genExpr evaluates an expression and returns its value: a literal for
// constants, a register otherwise. Callers release register results with
// releaseValue once consumed.
func (ctx *Context) genExpr(node *ast.Node) ir.Value {
	switch node.Type {
	case ast.Number:
		return &ir.Num{V: node.Data.(ast.NumberNode).Value}
	case ast.HashExpr:
		return &ir.HashRef{V: HashName(node.Data.(ast.HashNode).Name)}
	case ast.String:
		util.Bail(node.Tok, "String values only appear inside HASH() and DEVICE declarations.")
	case ast.Ident:
		name := node.Data.(ast.IdentNode).Name
		sym := ctx.findSymbol(name)
		if sym == nil {
			util.Bail(node.Tok, "Undefined identifier '%s'.", name)
		}
		switch sym.Kind {
		case symConst:
			return &ir.Num{V: sym.Value}
		case symVar:
			return ctx.varValue(sym, node.Tok)
		default:
			util.Bail(node.Tok, "'%s' cannot be used as a value; read a property from it.", name)
		}
	}

	r := ctx.allocTemp(node.Tok)
	ctx.genExprInto(node, r)
	return &ir.Reg{N: r}
}

// genExprInto evaluates an expression into the given register.
func (ctx *Context) genExprInto(node *ast.Node, dest int) {
	switch node.Type {
	case ast.Number, ast.HashExpr, ast.String:
		ctx.emit(ir.NewOp(ir.OpMove, node.Tok.Line, &ir.Reg{N: dest}, ctx.genExpr(node)))
	case ast.Ident:
		v := ctx.genExpr(node)
		if r, ok := v.(*ir.Reg); ok && r.N == dest {
			return
		}
		ctx.emit(ir.NewOp(ir.OpMove, node.Tok.Line, &ir.Reg{N: dest}, v))
	case ast.BinaryOp:
		ctx.genBinaryInto(node, dest)
	case ast.UnaryOp:
		ctx.genUnaryInto(node, dest)
	case ast.DeviceProp:
		d := node.Data.(ast.DevicePropNode)
		ctx.genDeviceRead(node.Tok, d.Device, d.Prop, dest)
	case ast.DeviceSlot:
		d := node.Data.(ast.DeviceSlotNode)
		ctx.genSlotRead(node.Tok, d.Device, d.Index, d.Prop, dest)
	case ast.BatchReadExpr:
		ctx.genBatchRead(node, dest)
	case ast.Call:
		ctx.genCallInto(node, dest)
	default:
		util.Bail(node.Tok, "Expression kind cannot be lowered.")
	}
}

func (ctx *Context) genBinaryInto(node *ast.Node, dest int) {
	d := node.Data.(ast.BinaryOpNode)
	if d.Op == token.Caret {
		ctx.genPowerInto(node, dest)
		return
	}
	op, ok := binaryOps[d.Op]
	if !ok {
		util.Bail(node.Tok, "Operator cannot be lowered.")
	}

	left := ctx.genExpr(d.Left)
	right := ctx.genExpr(d.Right)

	ctx.emit(ir.NewOp(op, node.Tok.Line, &ir.Reg{N: dest}, left, right))
	ctx.releaseValue(left)
	ctx.releaseValue(right)
}

// genPowerInto lowers `a ^ b` as exp(log(a) * b); the engine has no
// power instruction.
func (ctx *Context) genPowerInto(node *ast.Node, dest int) {
	d := node.Data.(ast.BinaryOpNode)
	base := ctx.genExpr(d.Left)
	t := ctx.allocTemp(node.Tok)
	ctx.emit(ir.NewOp(ir.OpLog, node.Tok.Line, &ir.Reg{N: t}, base))
	ctx.releaseValue(base)
	exponent := ctx.genExpr(d.Right)
	ctx.emit(ir.NewOp(ir.OpMul, node.Tok.Line, &ir.Reg{N: t}, &ir.Reg{N: t}, exponent))
	ctx.releaseValue(exponent)
	ctx.emit(ir.NewOp(ir.OpExp, node.Tok.Line, &ir.Reg{N: dest}, &ir.Reg{N: t}))
	ctx.freeTemp(t)
}

func (ctx *Context) genCallInto(node *ast.Node, dest int) {
	d := node.Data.(ast.CallNode)
	name := strings.ToUpper(d.Name)
	if name == "BNOT" {
		if len(d.Args) != 1 {
			util.Bail(node.Tok, "BNOT expects 1 argument, got %d.", len(d.Args))
		}
		v := ctx.genExpr(d.Args[0])
		w := v
		if r, ok := v.(*ir.Reg); ok {
			w = &ir.Reg{N: r.N}
		}
		ctx.emit(ir.NewOp(ir.OpNor, node.Tok.Line, &ir.Reg{N: dest}, v, w))
		ctx.releaseValue(v)
		return
	}
	b, ok := builtins[name]
	if !ok {
		util.Bail(node.Tok, "Unknown function '%s'.", d.Name)
	}
	if len(d.Args) != b.arity {
		util.Bail(node.Tok, "%s expects %d argument(s), got %d.", name, b.arity, len(d.Args))
	}
	args := []ir.Value{&ir.Reg{N: dest}}
	for _, a := range d.Args {
		args = append(args, ctx.genExpr(a))
	}
	ctx.emit(ir.NewOp(b.op, node.Tok.Line, args...))
	for _, v := range args[1:] {
		ctx.releaseValue(v)
	}
}

func (ctx *Context) genUnaryInto(node *ast.Node, dest int) {
	d := node.Data.(ast.UnaryOpNode)
	v := ctx.genExpr(d.Expr)
	switch d.Op {
	case token.Minus:
		ctx.emit(ir.NewOp(ir.OpSub, node.Tok.Line, &ir.Reg{N: dest}, &ir.Num{V: 0}, v))
	case token.Not:
		ctx.emit(ir.NewOp(ir.OpSeq, node.Tok.Line, &ir.Reg{N: dest}, v, &ir.Num{V: 0}))
	default:
		util.Bail(node.Tok, "Operator cannot be lowered.")
	}
	ctx.releaseValue(v)
}

// substConsts replaces named constant references with their numeric values
// so FoldConstants can evaluate expressions that must be compile-time
// constant.
func (ctx *Context) substConsts(node *ast.Node) *ast.Node {
	if node == nil {
		return nil
	}
	switch node.Type {
	case ast.Ident:
		if sym := ctx.findSymbol(node.Data.(ast.IdentNode).Name); sym != nil && sym.Kind == symConst {
			return ast.NewNumber(node.Tok, sym.Value)
		}
	case ast.BinaryOp:
		d := node.Data.(ast.BinaryOpNode)
		d.Left = ctx.substConsts(d.Left)
		d.Right = ctx.substConsts(d.Right)
		node.Data = d
	case ast.UnaryOp:
		d := node.Data.(ast.UnaryOpNode)
		d.Expr = ctx.substConsts(d.Expr)
		node.Data = d
	case ast.Call:
		d := node.Data.(ast.CallNode)
		for i, a := range d.Args {
			d.Args[i] = ctx.substConsts(a)
		}
		node.Data = d
	}
	return node
}
