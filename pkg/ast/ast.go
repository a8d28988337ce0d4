// Package ast defines the statement and expression nodes produced by the
// parser and consumed by the lowering backend.
package ast

import (
	"math"

	"github.com/basc-lang/basc/pkg/token"
)

// NodeType defines the kind of a node in the AST.
type NodeType int

const (
	// Expressions
	Number NodeType = iota
	String
	Ident
	BinaryOp
	UnaryOp
	DeviceProp
	DeviceSlot
	BatchReadExpr
	HashExpr
	Call

	// Statements
	VarDecl
	ConstDecl
	AliasDecl
	DeviceDecl
	Assign
	DeviceAssign
	SlotAssign
	BatchWriteStmt
	If
	While
	DoLoop
	For
	Select
	Goto
	Gosub
	Return
	Break
	Continue
	Yield
	Sleep
	Halt
	Push
	Pop
	Peek
	Label
	Comment
	Block
)

// Node represents a node in the AST.
type Node struct {
	Type   NodeType
	Tok    token.Token
	Parent *Node
	Data   interface{}
}

// --- Node data structs ---

type NumberNode struct{ Value float64 }
type StringNode struct{ Value string }
type IdentNode struct{ Name string }
type BinaryOpNode struct {
	Op          token.Type
	Left, Right *Node
}
type UnaryOpNode struct {
	Op   token.Type
	Expr *Node
}

// DevicePropNode is `alias.Property` in read or write position.
type DevicePropNode struct {
	Device string
	Prop   string
}

// DeviceSlotNode is `alias.Slot(index).Property`.
type DeviceSlotNode struct {
	Device string
	Index  *Node
	Prop   string
}

// BatchReadNode is `BATCHREAD(target, Prop, mode)`; Target is either a
// numeric hash expression or a named DEVICE identifier.
type BatchReadNode struct {
	Target *Node
	Prop   string
	Mode   *Node
}

// HashNode is the `HASH("name")` builtin.
type HashNode struct{ Name string }

// CallNode is a built-in function call such as `MIN(a, b)`.
type CallNode struct {
	Name string
	Args []*Node
}

type VarDeclNode struct {
	Name string
	Init *Node
}
type ConstDeclNode struct {
	Name  string
	Value *Node
}

// AliasDeclNode binds a name to a physical pin (0-5) or the housing (-1).
type AliasDeclNode struct {
	Name string
	Pin  int
}

// DeviceDeclNode binds a name to a hash-addressed device reference.
type DeviceDeclNode struct {
	Name   string
	Prefab string
	Label  string // optional in-game label filter
}

type AssignNode struct {
	Name string
	Expr *Node
}
type DeviceAssignNode struct {
	Device string
	Prop   string
	Expr   *Node
}
type SlotAssignNode struct {
	Device string
	Index  *Node
	Prop   string
	Expr   *Node
}
type BatchWriteNode struct {
	Target *Node
	Prop   string
	Expr   *Node
}

// IfBranch is one `IF cond THEN body` or `ELSEIF cond THEN body` arm.
type IfBranch struct {
	Cond *Node
	Body []*Node
}
type IfNode struct {
	Branches []IfBranch
	ElseBody []*Node
}

type WhileNode struct {
	Cond *Node
	Body []*Node
}

// DoLoopNode is `DO body LOOP UNTIL cond`.
type DoLoopNode struct {
	Body []*Node
	Cond *Node
}

type ForNode struct {
	Var   string
	From  *Node
	To    *Node
	Step  *Node // nil means step 1
	Body  []*Node
}

type SelectCase struct {
	Value *Node
	Body  []*Node
}
type SelectNode struct {
	Expr     *Node
	Cases    []SelectCase
	ElseBody []*Node
}

type GotoNode struct{ Target string }
type GosubNode struct{ Target string }
type ReturnNode struct{}
type BreakNode struct{}
type ContinueNode struct{}
type YieldNode struct{}
type SleepNode struct{ Duration *Node }
type HaltNode struct{}

// PushNode is `PUSH expr`; PopNode and PeekNode name the destination
// variable of `POP x` and `PEEK x`.
type PushNode struct{ Expr *Node }
type PopNode struct{ Name string }
type PeekNode struct{ Name string }
type LabelNode struct{ Name string }
type CommentNode struct{ Text string }
type BlockNode struct{ Stmts []*Node }

// --- Constructors ---

func newNode(tok token.Token, nodeType NodeType, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, Tok: tok, Data: data}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func NewNumber(tok token.Token, value float64) *Node {
	return newNode(tok, Number, NumberNode{Value: value})
}
func NewString(tok token.Token, value string) *Node {
	return newNode(tok, String, StringNode{Value: value})
}
func NewIdent(tok token.Token, name string) *Node {
	return newNode(tok, Ident, IdentNode{Name: name})
}
func NewBinaryOp(tok token.Token, op token.Type, left, right *Node) *Node {
	return newNode(tok, BinaryOp, BinaryOpNode{Op: op, Left: left, Right: right}, left, right)
}
func NewUnaryOp(tok token.Token, op token.Type, expr *Node) *Node {
	return newNode(tok, UnaryOp, UnaryOpNode{Op: op, Expr: expr}, expr)
}
func NewDeviceProp(tok token.Token, device, prop string) *Node {
	return newNode(tok, DeviceProp, DevicePropNode{Device: device, Prop: prop})
}
func NewDeviceSlot(tok token.Token, device string, index *Node, prop string) *Node {
	return newNode(tok, DeviceSlot, DeviceSlotNode{Device: device, Index: index, Prop: prop}, index)
}
func NewBatchRead(tok token.Token, target *Node, prop string, mode *Node) *Node {
	return newNode(tok, BatchReadExpr, BatchReadNode{Target: target, Prop: prop, Mode: mode}, target, mode)
}
func NewCall(tok token.Token, name string, args []*Node) *Node {
	return newNode(tok, Call, CallNode{Name: name, Args: args}, args...)
}
func NewHash(tok token.Token, name string) *Node {
	return newNode(tok, HashExpr, HashNode{Name: name})
}
func NewVarDecl(tok token.Token, name string, init *Node) *Node {
	return newNode(tok, VarDecl, VarDeclNode{Name: name, Init: init}, init)
}
func NewConstDecl(tok token.Token, name string, value *Node) *Node {
	return newNode(tok, ConstDecl, ConstDeclNode{Name: name, Value: value}, value)
}
func NewAliasDecl(tok token.Token, name string, pin int) *Node {
	return newNode(tok, AliasDecl, AliasDeclNode{Name: name, Pin: pin})
}
func NewDeviceDecl(tok token.Token, name, prefab, label string) *Node {
	return newNode(tok, DeviceDecl, DeviceDeclNode{Name: name, Prefab: prefab, Label: label})
}
func NewAssign(tok token.Token, name string, expr *Node) *Node {
	return newNode(tok, Assign, AssignNode{Name: name, Expr: expr}, expr)
}
func NewDeviceAssign(tok token.Token, device, prop string, expr *Node) *Node {
	return newNode(tok, DeviceAssign, DeviceAssignNode{Device: device, Prop: prop, Expr: expr}, expr)
}
func NewSlotAssign(tok token.Token, device string, index *Node, prop string, expr *Node) *Node {
	return newNode(tok, SlotAssign, SlotAssignNode{Device: device, Index: index, Prop: prop, Expr: expr}, index, expr)
}
func NewBatchWrite(tok token.Token, target *Node, prop string, expr *Node) *Node {
	return newNode(tok, BatchWriteStmt, BatchWriteNode{Target: target, Prop: prop, Expr: expr}, target, expr)
}
func NewIf(tok token.Token, branches []IfBranch, elseBody []*Node) *Node {
	node := newNode(tok, If, IfNode{Branches: branches, ElseBody: elseBody})
	for _, b := range branches {
		if b.Cond != nil {
			b.Cond.Parent = node
		}
		for _, s := range b.Body {
			s.Parent = node
		}
	}
	for _, s := range elseBody {
		s.Parent = node
	}
	return node
}
func NewWhile(tok token.Token, cond *Node, body []*Node) *Node {
	node := newNode(tok, While, WhileNode{Cond: cond, Body: body}, cond)
	for _, s := range body {
		s.Parent = node
	}
	return node
}
func NewDoLoop(tok token.Token, body []*Node, cond *Node) *Node {
	node := newNode(tok, DoLoop, DoLoopNode{Body: body, Cond: cond}, cond)
	for _, s := range body {
		s.Parent = node
	}
	return node
}
func NewFor(tok token.Token, name string, from, to, step *Node, body []*Node) *Node {
	node := newNode(tok, For, ForNode{Var: name, From: from, To: to, Step: step, Body: body}, from, to, step)
	for _, s := range body {
		s.Parent = node
	}
	return node
}
func NewSelect(tok token.Token, expr *Node, cases []SelectCase, elseBody []*Node) *Node {
	node := newNode(tok, Select, SelectNode{Expr: expr, Cases: cases, ElseBody: elseBody}, expr)
	for _, c := range cases {
		if c.Value != nil {
			c.Value.Parent = node
		}
		for _, s := range c.Body {
			s.Parent = node
		}
	}
	for _, s := range elseBody {
		s.Parent = node
	}
	return node
}
func NewGoto(tok token.Token, target string) *Node {
	return newNode(tok, Goto, GotoNode{Target: target})
}
func NewGosub(tok token.Token, target string) *Node {
	return newNode(tok, Gosub, GosubNode{Target: target})
}
func NewReturn(tok token.Token) *Node    { return newNode(tok, Return, ReturnNode{}) }
func NewBreak(tok token.Token) *Node     { return newNode(tok, Break, BreakNode{}) }
func NewContinue(tok token.Token) *Node  { return newNode(tok, Continue, ContinueNode{}) }
func NewYield(tok token.Token) *Node     { return newNode(tok, Yield, YieldNode{}) }
func NewSleep(tok token.Token, d *Node) *Node {
	return newNode(tok, Sleep, SleepNode{Duration: d}, d)
}
func NewHalt(tok token.Token) *Node { return newNode(tok, Halt, HaltNode{}) }
func NewPush(tok token.Token, expr *Node) *Node {
	return newNode(tok, Push, PushNode{Expr: expr}, expr)
}
func NewPop(tok token.Token, name string) *Node {
	return newNode(tok, Pop, PopNode{Name: name})
}
func NewPeek(tok token.Token, name string) *Node {
	return newNode(tok, Peek, PeekNode{Name: name})
}
func NewLabel(tok token.Token, name string) *Node {
	return newNode(tok, Label, LabelNode{Name: name})
}
func NewComment(tok token.Token, text string) *Node {
	return newNode(tok, Comment, CommentNode{Text: text})
}
func NewBlock(tok token.Token, stmts []*Node) *Node {
	node := newNode(tok, Block, BlockNode{Stmts: stmts})
	for _, s := range stmts {
		if s != nil {
			s.Parent = node
		}
	}
	return node
}

// FoldConstants performs compile-time constant evaluation on an expression
// tree. Division by zero folds to the IEEE result the target machine would
// produce, not an error.
func FoldConstants(node *Node) *Node {
	if node == nil {
		return nil
	}

	switch d := node.Data.(type) {
	case BinaryOpNode:
		d.Left = FoldConstants(d.Left)
		d.Right = FoldConstants(d.Right)
		node.Data = d
	case UnaryOpNode:
		d.Expr = FoldConstants(d.Expr)
		node.Data = d
	case CallNode:
		for i, a := range d.Args {
			d.Args[i] = FoldConstants(a)
		}
		node.Data = d
	}

	switch node.Type {
	case BinaryOp:
		d := node.Data.(BinaryOpNode)
		if d.Left.Type == Number && d.Right.Type == Number {
			l := d.Left.Data.(NumberNode).Value
			r := d.Right.Data.(NumberNode).Value
			var res float64
			folded := true
			switch d.Op {
			case token.Plus:
				res = l + r
			case token.Minus:
				res = l - r
			case token.Star:
				res = l * r
			case token.Slash:
				res = l / r
			case token.Percent, token.Mod:
				res = math.Mod(l, r)
			case token.EqEq:
				res = boolToNum(l == r)
			case token.Neq:
				res = boolToNum(l != r)
			case token.Lt:
				res = boolToNum(l < r)
			case token.Gt:
				res = boolToNum(l > r)
			case token.Lte:
				res = boolToNum(l <= r)
			case token.Gte:
				res = boolToNum(l >= r)
			case token.And:
				res = boolToNum(l != 0 && r != 0)
			case token.Or:
				res = boolToNum(l != 0 || r != 0)
			case token.Caret:
				res = math.Pow(l, r)
			case token.Shl:
				res = shiftConst(l, r, false)
			case token.Shr:
				res = shiftConst(l, r, true)
			default:
				folded = false
			}
			if folded {
				return NewNumber(node.Tok, res)
			}
		}
	case UnaryOp:
		d := node.Data.(UnaryOpNode)
		if d.Expr.Type == Number {
			val := d.Expr.Data.(NumberNode).Value
			switch d.Op {
			case token.Minus:
				return NewNumber(node.Tok, -val)
			case token.Not:
				return NewNumber(node.Tok, boolToNum(val == 0))
			}
		}
	}

	return node
}

func shiftConst(a, b float64, right bool) float64 {
	n := int64(b)
	if n < 0 || n > 63 {
		return 0
	}
	if right {
		return float64(int64(uint64(int64(a)) >> uint(n)))
	}
	return float64(int64(a) << uint(n))
}

func boolToNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
