// Package asm parses emitted assembly text back into instructions a
// machine can execute. Labels and comments occupy no instruction slots;
// symbolic branch targets resolve against the same numbering the compiler
// used when it emitted them.
package asm

import (
	"strconv"
	"strings"

	"github.com/basc-lang/basc/pkg/ir"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

type OperandKind int

const (
	OpdReg OperandKind = iota
	OpdDev
	OpdNum
	OpdSym
)

type Operand struct {
	Kind OperandKind
	Reg  int
	Pin  int
	Num  float64
	Sym  string
}

// Instr is one executable machine instruction.
type Instr struct {
	Op   ir.Op
	Args []Operand
	Raw  string
	Line int // 1-based line in the source text
}

// Listing is a parsed program.
type Listing struct {
	Instrs []Instr
	Labels map[string]int
}

// Parse assembles program text. It is the inverse of Program.Text: the
// compiler's output round-trips through it unchanged in meaning.
func Parse(text string) (*Listing, error) {
	lines := strings.Split(text, "\n")

	// First pass: bind each label to the index of the next instruction.
	labels := make(map[string]int)
	n := 0
	for lineNo, raw := range lines {
		line := stripComment(raw)
		if line == "" {
			continue
		}
		if name, ok := strings.CutSuffix(line, ":"); ok {
			name = strings.TrimSpace(name)
			if name == "" || strings.ContainsAny(name, " \t") {
				return nil, util.Errf(token.Token{Line: lineNo + 1}, "Malformed label line '%s'.", line)
			}
			if _, dup := labels[name]; dup {
				return nil, util.Errf(token.Token{Line: lineNo + 1}, "Duplicate label '%s'.", name)
			}
			labels[name] = n
			continue
		}
		n++
	}

	listing := &Listing{Labels: labels, Instrs: make([]Instr, 0, n)}
	for lineNo, raw := range lines {
		line := stripComment(raw)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		instr, err := parseInstr(line, lineNo+1, labels)
		if err != nil {
			return nil, err
		}
		listing.Instrs = append(listing.Instrs, instr)
	}
	return listing, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func parseInstr(line string, lineNo int, labels map[string]int) (Instr, error) {
	fields := strings.Fields(line)
	op, ok := ir.OpByMnemonic[fields[0]]
	if !ok {
		return Instr{}, util.Errf(token.Token{Line: lineNo}, "Unknown instruction '%s'.", fields[0])
	}

	instr := Instr{Op: op, Raw: line, Line: lineNo}
	for _, f := range fields[1:] {
		instr.Args = append(instr.Args, parseOperand(f))
	}

	// Branch targets may be spelled symbolically; fix them to indices now.
	if ti := targetIndex(op); ti >= 0 {
		if ti >= len(instr.Args) {
			return Instr{}, util.Errf(token.Token{Line: lineNo}, "Instruction '%s' is missing its target.", fields[0])
		}
		t := &instr.Args[ti]
		if t.Kind == OpdSym {
			idx, found := labels[t.Sym]
			if !found {
				return Instr{}, util.Errf(token.Token{Line: lineNo}, "Undefined label '%s'.", t.Sym)
			}
			*t = Operand{Kind: OpdNum, Num: float64(idx)}
		}
	}
	return instr, nil
}

// targetIndex returns which operand of an opcode is a jump target, or -1.
func targetIndex(op ir.Op) int {
	switch op {
	case ir.OpJ, ir.OpJal:
		return 0
	case ir.OpBeqz, ir.OpBnez:
		return 1
	case ir.OpBeq, ir.OpBne, ir.OpBlt, ir.OpBle, ir.OpBgt, ir.OpBge:
		return 2
	}
	return -1
}

func parseOperand(f string) Operand {
	switch f {
	case "sp":
		return Operand{Kind: OpdReg, Reg: ir.SP}
	case "ra":
		return Operand{Kind: OpdReg, Reg: ir.RA}
	case "db":
		return Operand{Kind: OpdDev, Pin: ir.HousingPin}
	}
	if len(f) >= 2 && (f[0] == 'r' || f[0] == 'd') {
		if n, err := strconv.Atoi(f[1:]); err == nil && n >= 0 {
			if f[0] == 'r' {
				return Operand{Kind: OpdReg, Reg: n}
			}
			return Operand{Kind: OpdDev, Pin: n}
		}
	}
	if v, err := strconv.ParseFloat(f, 64); err == nil {
		return Operand{Kind: OpdNum, Num: v}
	}
	return Operand{Kind: OpdSym, Sym: f}
}
