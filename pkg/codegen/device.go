package codegen

import (
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/basc-lang/basc/pkg/ast"
	"github.com/basc-lang/basc/pkg/ir"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

// HashName computes the 32-bit identifier the hardware derives from a
// prefab or label string. Device types and names share one hash space.
func HashName(s string) int32 {
	return int32(xxhash.Sum64String(s))
}

var batchModes = map[string]ir.Mode{
	"AVERAGE": ir.ModeAverage,
	"SUM":     ir.ModeSum,
	"MINIMUM": ir.ModeMinimum,
	"MAXIMUM": ir.ModeMaximum,
}

func (ctx *Context) genDeviceDecl(node *ast.Node) {
	d := node.Data.(ast.DeviceDeclNode)
	if ctx.findSymbol(d.Name) != nil {
		util.Bail(node.Tok, "'%s' is already declared.", d.Name)
	}
	sym := ctx.addSymbol(d.Name, symDevice)
	sym.Hashes.Type = HashName(d.Prefab)
	if d.Label != "" {
		sym.Hashes.Name = HashName(d.Label)
		sym.Hashes.Named = true
	}
}

// deviceSym resolves an identifier used in device position: an alias, a
// hash-addressed device, or the bare pin spellings d0..d5 and db.
func (ctx *Context) deviceSym(tok token.Token, name string) *symbol {
	sym := ctx.findSymbol(name)
	if sym == nil {
		if pin, ok := builtinPin(name, ctx.cfg.Pins); ok {
			return &symbol{Name: name, Kind: symAlias, Pin: pin}
		}
		util.Bail(tok, "Undefined device '%s' (declare it with ALIAS or DEVICE).", name)
	}
	if sym.Kind != symAlias && sym.Kind != symDevice {
		util.Bail(tok, "'%s' is not a device.", name)
	}
	return sym
}

func builtinPin(name string, pins int) (int, bool) {
	low := strings.ToLower(name)
	if low == "db" {
		return ir.HousingPin, true
	}
	if len(low) == 2 && low[0] == 'd' && low[1] >= '0' && low[1] <= '9' {
		if n := int(low[1] - '0'); n < pins {
			return n, true
		}
	}
	return 0, false
}

func (ctx *Context) genDeviceRead(tok token.Token, device, prop string, dest int) {
	sym := ctx.deviceSym(tok, device)
	switch sym.Kind {
	case symAlias:
		ctx.emit(ir.NewOp(ir.OpL, tok.Line,
			&ir.Reg{N: dest}, &ir.DevRef{Pin: sym.Pin}, &ir.Prop{Name: prop}))
	case symDevice:
		// A named device read is a batch read narrowed by name; Maximum
		// over one device is the device's value.
		if sym.Hashes.Named {
			ctx.emit(ir.NewOp(ir.OpLbn, tok.Line,
				&ir.Reg{N: dest}, &ir.HashRef{V: sym.Hashes.Type}, &ir.HashRef{V: sym.Hashes.Name},
				&ir.Prop{Name: prop}, ir.ModeMaximum))
		} else {
			ctx.emit(ir.NewOp(ir.OpLb, tok.Line,
				&ir.Reg{N: dest}, &ir.HashRef{V: sym.Hashes.Type},
				&ir.Prop{Name: prop}, ir.ModeMaximum))
		}
	}
}

func (ctx *Context) genDeviceAssign(node *ast.Node) {
	d := node.Data.(ast.DeviceAssignNode)
	sym := ctx.deviceSym(node.Tok, d.Device)
	v := ctx.genExpr(d.Expr)
	switch sym.Kind {
	case symAlias:
		ctx.emit(ir.NewOp(ir.OpS, node.Tok.Line,
			&ir.DevRef{Pin: sym.Pin}, &ir.Prop{Name: d.Prop}, v))
	case symDevice:
		if sym.Hashes.Named {
			ctx.emit(ir.NewOp(ir.OpSbn, node.Tok.Line,
				&ir.HashRef{V: sym.Hashes.Type}, &ir.HashRef{V: sym.Hashes.Name},
				&ir.Prop{Name: d.Prop}, v))
		} else {
			ctx.emit(ir.NewOp(ir.OpSb, node.Tok.Line,
				&ir.HashRef{V: sym.Hashes.Type}, &ir.Prop{Name: d.Prop}, v))
		}
	}
	ctx.releaseValue(v)
}

func (ctx *Context) genSlotRead(tok token.Token, device string, index *ast.Node, prop string, dest int) {
	sym := ctx.deviceSym(tok, device)
	if sym.Kind != symAlias {
		util.Bail(tok, "Slot access requires a pin-aliased device.")
	}
	idx := ctx.slotIndex(index)
	ctx.emit(ir.NewOp(ir.OpLs, tok.Line,
		&ir.Reg{N: dest}, &ir.DevRef{Pin: sym.Pin}, idx, &ir.Prop{Name: prop}))
	ctx.releaseValue(idx)
}

func (ctx *Context) genSlotAssign(node *ast.Node) {
	d := node.Data.(ast.SlotAssignNode)
	sym := ctx.deviceSym(node.Tok, d.Device)
	if sym.Kind != symAlias {
		util.Bail(node.Tok, "Slot access requires a pin-aliased device.")
	}
	idx := ctx.slotIndex(d.Index)
	v := ctx.genExpr(d.Expr)
	ctx.emit(ir.NewOp(ir.OpSs, node.Tok.Line,
		&ir.DevRef{Pin: sym.Pin}, idx, &ir.Prop{Name: d.Prop}, v))
	ctx.releaseValue(idx)
	ctx.releaseValue(v)
}

// slotIndex lowers a slot index expression. Constant indexes are range
// checked at compile time; anything else is checked when executed.
func (ctx *Context) slotIndex(node *ast.Node) ir.Value {
	folded := ast.FoldConstants(ctx.substConsts(node))
	if folded.Type == ast.Number {
		v := folded.Data.(ast.NumberNode).Value
		if v < 0 {
			util.Bail(node.Tok, "Slot index must not be negative.")
		}
		if v != math.Trunc(v) {
			util.Bail(node.Tok, "Slot index must be a whole number.")
		}
		return &ir.Num{V: v}
	}
	return ctx.genExpr(folded)
}

func (ctx *Context) genBatchRead(node *ast.Node, dest int) {
	d := node.Data.(ast.BatchReadNode)
	mode := ctx.batchMode(d.Mode)
	typ, name, named := ctx.batchTarget(d.Target)
	if named {
		ctx.emit(ir.NewOp(ir.OpLbn, node.Tok.Line,
			&ir.Reg{N: dest}, typ, name, &ir.Prop{Name: d.Prop}, mode))
	} else {
		ctx.emit(ir.NewOp(ir.OpLb, node.Tok.Line,
			&ir.Reg{N: dest}, typ, &ir.Prop{Name: d.Prop}, mode))
	}
}

func (ctx *Context) genBatchWrite(node *ast.Node) {
	d := node.Data.(ast.BatchWriteNode)
	typ, name, named := ctx.batchTarget(d.Target)
	v := ctx.genExpr(d.Expr)
	if named {
		ctx.emit(ir.NewOp(ir.OpSbn, node.Tok.Line, typ, name, &ir.Prop{Name: d.Prop}, v))
	} else {
		ctx.emit(ir.NewOp(ir.OpSb, node.Tok.Line, typ, &ir.Prop{Name: d.Prop}, v))
	}
	ctx.releaseValue(v)
}

// batchTarget resolves the first argument of BATCHREAD/BATCHWRITE: a
// DEVICE name, a HASH() expression, or a constant type hash.
func (ctx *Context) batchTarget(node *ast.Node) (typ, name ir.Value, named bool) {
	if node.Type == ast.Ident {
		if sym := ctx.findSymbol(node.Data.(ast.IdentNode).Name); sym != nil && sym.Kind == symDevice {
			typ = &ir.HashRef{V: sym.Hashes.Type}
			if sym.Hashes.Named {
				return typ, &ir.HashRef{V: sym.Hashes.Name}, true
			}
			return typ, nil, false
		}
	}
	if node.Type == ast.HashExpr {
		return &ir.HashRef{V: HashName(node.Data.(ast.HashNode).Name)}, nil, false
	}
	folded := ast.FoldConstants(ctx.substConsts(node))
	if folded.Type != ast.Number {
		util.Bail(node.Tok, "Batch target must be a DEVICE, HASH(), or constant type hash.")
	}
	return &ir.Num{V: folded.Data.(ast.NumberNode).Value}, nil, false
}

// batchMode accepts the numeric modes 0-3 or the named spellings.
func (ctx *Context) batchMode(node *ast.Node) ir.Mode {
	if node.Type == ast.Ident {
		if m, ok := batchModes[strings.ToUpper(node.Data.(ast.IdentNode).Name)]; ok {
			return m
		}
	}
	folded := ast.FoldConstants(ctx.substConsts(node))
	if folded.Type != ast.Number {
		util.Bail(node.Tok, "Batch mode must be a constant.")
	}
	v := folded.Data.(ast.NumberNode).Value
	if v != math.Trunc(v) || v < float64(ir.ModeAverage) || v > float64(ir.ModeMaximum) {
		util.Bail(node.Tok, "Batch mode must be 0 (Average), 1 (Sum), 2 (Minimum), or 3 (Maximum).")
	}
	return ir.Mode(v)
}
