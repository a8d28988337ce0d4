// Package ir models the abstract operation stream the backend emits:
// opcodes, operand variants, and the resolved Program.
package ir

import (
	"math"
	"strconv"
	"strings"
)

type Op int

const (
	OpMove Op = iota

	// Arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr

	// Math (dest plus one operand unless noted)
	OpAbs
	OpSqrt
	OpCeil
	OpFloor
	OpRound
	OpTrunc
	OpSgn
	OpSin
	OpCos
	OpTan
	OpAsin
	OpAcos
	OpAtan
	OpAtan2 // two operands
	OpExp
	OpLog
	OpMin // two operands
	OpMax // two operands

	// Bitwise (operands truncate to integers)
	OpXor
	OpNor
	OpSll
	OpSrl

	// Compare (result register receives 0 or 1)
	OpSlt
	OpSle
	OpSgt
	OpSge
	OpSeq
	OpSne

	// Branch on register
	OpBeqz
	OpBnez

	// Fused compare-and-branch
	OpBeq
	OpBne
	OpBlt
	OpBle
	OpBgt
	OpBge

	// Jump, call, return
	OpJ
	OpJal
	OpJr

	// Device access
	OpL   // l r? device prop
	OpS   // s device prop value
	OpLs  // ls r? device slot prop
	OpSs  // ss device slot prop value
	OpLb  // lb r? typeHash prop mode
	OpLbn // lbn r? typeHash nameHash prop mode
	OpSb  // sb typeHash prop value
	OpSbn // sbn typeHash nameHash prop value

	// Value stack
	OpPush
	OpPop
	OpPeek

	// Spill slots on the housing stack
	OpGet // get r? device slot
	OpPut // put device slot value

	// Control
	OpYield
	OpSleep
	OpHalt

	// Zero-width lines
	OpLabel
	OpComment
)

// Kind buckets opcodes for dispatch during optimization and execution.
type Kind int

const (
	KindMove Kind = iota
	KindArith
	KindCompare
	KindBranch
	KindJump
	KindDeviceRead
	KindDeviceWrite
	KindStack
	KindControl
	KindMarker
)

func (o Op) Kind() Kind {
	switch o {
	case OpMove:
		return KindMove
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpAnd, OpOr,
		OpAbs, OpSqrt, OpCeil, OpFloor, OpRound, OpTrunc, OpSgn,
		OpSin, OpCos, OpTan, OpAsin, OpAcos, OpAtan, OpAtan2,
		OpExp, OpLog, OpMin, OpMax,
		OpXor, OpNor, OpSll, OpSrl:
		return KindArith
	case OpSlt, OpSle, OpSgt, OpSge, OpSeq, OpSne:
		return KindCompare
	case OpBeqz, OpBnez, OpBeq, OpBne, OpBlt, OpBle, OpBgt, OpBge:
		return KindBranch
	case OpJ, OpJal, OpJr:
		return KindJump
	case OpL, OpLs, OpLb, OpLbn, OpGet:
		return KindDeviceRead
	case OpS, OpSs, OpSb, OpSbn, OpPut:
		return KindDeviceWrite
	case OpPush, OpPop, OpPeek:
		return KindStack
	case OpYield, OpSleep, OpHalt:
		return KindControl
	case OpLabel, OpComment:
		return KindMarker
	}
	return KindMarker
}

// IsUnary reports whether an arithmetic opcode takes a single source
// operand.
func (o Op) IsUnary() bool {
	switch o {
	case OpAbs, OpSqrt, OpCeil, OpFloor, OpRound, OpTrunc, OpSgn,
		OpSin, OpCos, OpTan, OpAsin, OpAcos, OpAtan, OpExp, OpLog:
		return true
	}
	return false
}

// EvalUnary computes a single-operand arithmetic opcode. ok is false for
// opcodes with no unary semantics.
func EvalUnary(o Op, a float64) (v float64, ok bool) {
	switch o {
	case OpAbs:
		return math.Abs(a), true
	case OpSqrt:
		return math.Sqrt(a), true
	case OpCeil:
		return math.Ceil(a), true
	case OpFloor:
		return math.Floor(a), true
	case OpRound:
		return math.Round(a), true
	case OpTrunc:
		return math.Trunc(a), true
	case OpSgn:
		if a > 0 {
			return 1, true
		}
		if a < 0 {
			return -1, true
		}
		return 0, true
	case OpSin:
		return math.Sin(a), true
	case OpCos:
		return math.Cos(a), true
	case OpTan:
		return math.Tan(a), true
	case OpAsin:
		return math.Asin(a), true
	case OpAcos:
		return math.Acos(a), true
	case OpAtan:
		return math.Atan(a), true
	case OpExp:
		return math.Exp(a), true
	case OpLog:
		return math.Log(a), true
	}
	return 0, false
}

// EvalBinary computes a two-operand arithmetic or compare opcode.
// Bitwise opcodes truncate their operands to 64-bit integers; shift
// counts outside 0..63 yield 0.
func EvalBinary(o Op, a, b float64) (v float64, ok bool) {
	switch o {
	case OpAdd:
		return a + b, true
	case OpSub:
		return a - b, true
	case OpMul:
		return a * b, true
	case OpDiv:
		return a / b, true
	case OpMod:
		return math.Mod(a, b), true
	case OpAnd:
		return boolNum(a != 0 && b != 0), true
	case OpOr:
		return boolNum(a != 0 || b != 0), true
	case OpMin:
		return math.Min(a, b), true
	case OpMax:
		return math.Max(a, b), true
	case OpAtan2:
		return math.Atan2(a, b), true
	case OpXor:
		return float64(int64(a) ^ int64(b)), true
	case OpNor:
		return float64(^(int64(a) | int64(b))), true
	case OpSll:
		n := int64(b)
		if n < 0 || n > 63 {
			return 0, true
		}
		return float64(int64(a) << uint(n)), true
	case OpSrl:
		n := int64(b)
		if n < 0 || n > 63 {
			return 0, true
		}
		return float64(int64(uint64(int64(a)) >> uint(n))), true
	case OpSlt:
		return boolNum(a < b), true
	case OpSle:
		return boolNum(a <= b), true
	case OpSgt:
		return boolNum(a > b), true
	case OpSge:
		return boolNum(a >= b), true
	case OpSeq:
		return boolNum(a == b), true
	case OpSne:
		return boolNum(a != b), true
	}
	return 0, false
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var mnemonics = map[Op]string{
	OpMove: "move",
	OpAdd:  "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod", OpAnd: "and", OpOr: "or",
	OpAbs: "abs", OpSqrt: "sqrt", OpCeil: "ceil", OpFloor: "floor", OpRound: "round", OpTrunc: "trunc",
	OpSgn: "sgn", OpSin: "sin", OpCos: "cos", OpTan: "tan", OpAsin: "asin", OpAcos: "acos",
	OpAtan: "atan", OpAtan2: "atan2", OpExp: "exp", OpLog: "log", OpMin: "min", OpMax: "max",
	OpXor: "xor", OpNor: "nor", OpSll: "sll", OpSrl: "srl",
	OpSlt: "slt", OpSle: "sle", OpSgt: "sgt", OpSge: "sge", OpSeq: "seq", OpSne: "sne",
	OpBeqz: "beqz", OpBnez: "bnez",
	OpBeq: "beq", OpBne: "bne", OpBlt: "blt", OpBle: "ble", OpBgt: "bgt", OpBge: "bge",
	OpJ: "j", OpJal: "jal", OpJr: "jr",
	OpL: "l", OpS: "s", OpLs: "ls", OpSs: "ss",
	OpLb: "lb", OpLbn: "lbn", OpSb: "sb", OpSbn: "sbn",
	OpPush: "push", OpPop: "pop", OpPeek: "peek",
	OpGet: "get", OpPut: "put",
	OpYield: "yield", OpSleep: "sleep", OpHalt: "halt",
}

// Mnemonic returns the assembly spelling of an opcode. Label and comment
// operations have no mnemonic; they format as whole lines.
func (o Op) Mnemonic() string { return mnemonics[o] }

// OpByMnemonic is the reverse lookup used by the assembly re-parser.
var OpByMnemonic = make(map[string]Op)

func init() {
	for op, name := range mnemonics {
		OpByMnemonic[name] = op
	}
}

// Value is one operand of an Operation.
type Value interface {
	isValue()
	String() string
}

// Register indices 0..15 are general registers; SP and RA address the
// stack-pointer and return-address pseudo-registers.
const (
	SP = 16
	RA = 17
)

type Reg struct{ N int }

// Num is a numeric literal operand.
type Num struct{ V float64 }

// LabelRef names a jump or branch target. Before resolution only Name is
// meaningful; the resolver fills Index. User-declared targets keep their
// symbolic spelling in emitted text, internal ones print as indices.
type LabelRef struct {
	Name     string
	Index    int
	User     bool
	Resolved bool
}

// DevRef is a physical device operand: pin 0..5, or the housing (-1).
type DevRef struct{ Pin int }

// HousingPin marks a DevRef as the housing device rather than a cable pin.
const HousingPin = -1

// HashRef is a device-type or name hash operand for batch instructions.
type HashRef struct{ V int32 }

// Prop names a device property.
type Prop struct{ Name string }

// Mode is a batch aggregation mode.
type Mode int

const (
	ModeAverage Mode = 0
	ModeSum     Mode = 1
	ModeMinimum Mode = 2
	ModeMaximum Mode = 3
)

func (*Reg) isValue()      {}
func (*Num) isValue()      {}
func (*LabelRef) isValue() {}
func (*DevRef) isValue()   {}
func (*HashRef) isValue()  {}
func (*Prop) isValue()     {}
func (Mode) isValue()      {}

func (r *Reg) String() string {
	switch r.N {
	case SP:
		return "sp"
	case RA:
		return "ra"
	}
	return "r" + strconv.Itoa(r.N)
}

func (n *Num) String() string { return FormatNum(n.V) }

func (l *LabelRef) String() string {
	if l.User {
		return l.Name
	}
	if l.Resolved {
		return strconv.Itoa(l.Index)
	}
	return l.Name
}

func (d *DevRef) String() string {
	if d.Pin == HousingPin {
		return "db"
	}
	return "d" + strconv.Itoa(d.Pin)
}

func (h *HashRef) String() string { return strconv.FormatInt(int64(h.V), 10) }
func (p *Prop) String() string    { return p.Name }
func (m Mode) String() string     { return strconv.Itoa(int(m)) }

// FormatNum renders a value the way the target accepts literals: integers
// without a fraction, everything else in shortest form.
func FormatNum(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Operation is one emitted unit. Label and comment operations occupy zero
// positions in the executable line count but still appear in output text.
type Operation struct {
	Op   Op
	Args []Value
	Line int    // originating source line, for diagnostics
	Text string // label name for OpLabel, comment text for OpComment
}

// NewOp builds an operation; variadic args keep lowering call sites short.
func NewOp(op Op, line int, args ...Value) *Operation {
	return &Operation{Op: op, Args: args, Line: line}
}

// Executable reports whether the operation occupies a position in the
// final instruction numbering. This is the single counting rule every
// label, user-declared or compiler-internal, resolves through.
func (o *Operation) Executable() bool {
	return o.Op != OpLabel && o.Op != OpComment
}

// Target returns the operation's LabelRef operand, if it has one.
func (o *Operation) Target() *LabelRef {
	for _, a := range o.Args {
		if l, ok := a.(*LabelRef); ok {
			return l
		}
	}
	return nil
}

func (o *Operation) String() string {
	switch o.Op {
	case OpComment:
		return "# " + o.Text
	case OpLabel:
		return o.Text + ":"
	}
	parts := make([]string, 0, len(o.Args)+1)
	parts = append(parts, o.Op.Mnemonic())
	for _, a := range o.Args {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}

// DeviceHashes records a named device's addressing pair.
type DeviceHashes struct {
	Type  int32
	Name  int32
	Named bool // a label filter was declared
}

// Program is a fully lowered, optimized, resolved operation list plus its
// symbol tables. It is immutable once built.
type Program struct {
	Ops     []*Operation
	Labels  map[string]int          // label name -> executable index
	Aliases map[string]int          // alias name -> pin (HousingPin for db)
	Devices map[string]DeviceHashes // named devices
	Consts  map[string]float64
}

// ExecutableCount returns the number of budget-occupying operations.
func (p *Program) ExecutableCount() int {
	n := 0
	for _, op := range p.Ops {
		if op.Executable() {
			n++
		}
	}
	return n
}

// Text renders the program as newline-separated assembly.
func (p *Program) Text() string {
	var sb strings.Builder
	for _, op := range p.Ops {
		sb.WriteString(op.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
