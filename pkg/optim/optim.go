// Package optim rewrites the operation stream before resolution. Every
// rewrite preserves observable machine state; the levels only control how
// hard it tries.
package optim

import (
	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/ir"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

// Optimize applies the passes enabled by cfg.Opt until none of them makes
// a change.
func Optimize(ops []*ir.Operation, cfg *config.Config) []*ir.Operation {
	if cfg.Opt == config.OptNone {
		return ops
	}
	for {
		changed := false
		ops, changed = foldConstOps(ops, changed)
		ops, changed = foldConstBranches(ops, changed)
		ops, changed = removeDeadStores(ops, changed)
		ops, changed = mergeAdjacentLabels(ops, changed)
		ops, changed = dropUnusedLabels(ops, changed)
		if cfg.Opt >= config.OptAggressive {
			ops, changed = fuseCompareBranches(ops, changed)
			ops, changed = removeUnreachable(ops, cfg, changed)
		}
		if !changed {
			return ops
		}
	}
}

// foldConstOps replaces pure register computations with all-constant
// operands by a single move of the result.
func foldConstOps(ops []*ir.Operation, changed bool) ([]*ir.Operation, bool) {
	for _, op := range ops {
		switch op.Op.Kind() {
		case ir.KindArith, ir.KindCompare:
		default:
			continue
		}
		a, aok := op.Args[1].(*ir.Num)
		if !aok {
			continue
		}
		var v float64
		var ok bool
		if op.Op.IsUnary() {
			v, ok = ir.EvalUnary(op.Op, a.V)
		} else {
			b, bok := op.Args[2].(*ir.Num)
			if !bok {
				continue
			}
			v, ok = ir.EvalBinary(op.Op, a.V, b.V)
		}
		if !ok {
			continue
		}
		op.Args = []ir.Value{op.Args[0], &ir.Num{V: v}}
		op.Op = ir.OpMove
		changed = true
	}
	return ops, changed
}

// foldConstBranches turns branches whose condition is a literal into an
// unconditional jump or nothing at all.
func foldConstBranches(ops []*ir.Operation, changed bool) ([]*ir.Operation, bool) {
	out := ops[:0]
	for _, op := range ops {
		if op.Op == ir.OpBeqz || op.Op == ir.OpBnez {
			if n, ok := op.Args[0].(*ir.Num); ok {
				taken := (n.V == 0) == (op.Op == ir.OpBeqz)
				changed = true
				if taken {
					op.Op = ir.OpJ
					op.Args = op.Args[1:]
					out = append(out, op)
				}
				continue
			}
		}
		out = append(out, op)
	}
	return out, changed
}

// removeDeadStores deletes pure computations into registers no operation
// in the program ever reads.
func removeDeadStores(ops []*ir.Operation, changed bool) ([]*ir.Operation, bool) {
	read := make(map[int]bool)
	for _, op := range ops {
		for _, a := range readArgs(op) {
			if r, ok := a.(*ir.Reg); ok {
				read[r.N] = true
			}
		}
	}
	out := ops[:0]
	for _, op := range ops {
		if isPure(op.Op) {
			if dest, ok := op.Args[0].(*ir.Reg); ok && !read[dest.N] && dest.N < ir.SP {
				changed = true
				continue
			}
		}
		out = append(out, op)
	}
	return out, changed
}

// isPure reports operations whose only effect is writing their first
// register operand.
func isPure(op ir.Op) bool {
	switch op.Kind() {
	case ir.KindMove, ir.KindArith, ir.KindCompare:
		return true
	}
	return false
}

// readArgs returns the operands an operation reads. The first operand of
// destination-writing operations is excluded.
func readArgs(op *ir.Operation) []ir.Value {
	switch op.Op {
	case ir.OpMove, ir.OpPop, ir.OpPeek:
		return op.Args[1:]
	case ir.OpLabel, ir.OpComment:
		return nil
	}
	switch op.Op.Kind() {
	case ir.KindArith, ir.KindCompare, ir.KindDeviceRead:
		return op.Args[1:]
	}
	return op.Args
}

// mergeAdjacentLabels collapses runs of internal labels onto the first of
// the run and redirects every reference.
func mergeAdjacentLabels(ops []*ir.Operation, changed bool) ([]*ir.Operation, bool) {
	rename := make(map[string]string)
	var prev *ir.Operation
	for _, op := range ops {
		if op.Op != ir.OpLabel {
			if op.Op != ir.OpComment {
				prev = nil
			}
			continue
		}
		if len(op.Args) > 0 {
			prev = nil // user label, keep its own line
			continue
		}
		if prev != nil {
			rename[op.Text] = prev.Text
		} else {
			prev = op
		}
	}
	if len(rename) == 0 {
		return ops, changed
	}

	out := ops[:0]
	for _, op := range ops {
		if op.Op == ir.OpLabel {
			if _, merged := rename[op.Text]; merged {
				continue
			}
		}
		if t := op.Target(); t != nil && !t.User {
			if to, ok := rename[t.Name]; ok {
				// chase chains from earlier merges in the same run
				for {
					next, more := rename[to]
					if !more {
						break
					}
					to = next
				}
				t.Name = to
			}
		}
		out = append(out, op)
	}
	return out, true
}

// dropUnusedLabels deletes internal labels nothing branches to.
func dropUnusedLabels(ops []*ir.Operation, changed bool) ([]*ir.Operation, bool) {
	used := make(map[string]bool)
	for _, op := range ops {
		if t := op.Target(); t != nil {
			used[t.Name] = true
		}
	}
	out := ops[:0]
	for _, op := range ops {
		if op.Op == ir.OpLabel && len(op.Args) == 0 && !used[op.Text] {
			changed = true
			continue
		}
		out = append(out, op)
	}
	return out, changed
}

var fusions = map[[2]ir.Op]ir.Op{
	{ir.OpSlt, ir.OpBnez}: ir.OpBlt,
	{ir.OpSlt, ir.OpBeqz}: ir.OpBge,
	{ir.OpSle, ir.OpBnez}: ir.OpBle,
	{ir.OpSle, ir.OpBeqz}: ir.OpBgt,
	{ir.OpSgt, ir.OpBnez}: ir.OpBgt,
	{ir.OpSgt, ir.OpBeqz}: ir.OpBle,
	{ir.OpSge, ir.OpBnez}: ir.OpBge,
	{ir.OpSge, ir.OpBeqz}: ir.OpBlt,
	{ir.OpSeq, ir.OpBnez}: ir.OpBeq,
	{ir.OpSeq, ir.OpBeqz}: ir.OpBne,
	{ir.OpSne, ir.OpBnez}: ir.OpBne,
	{ir.OpSne, ir.OpBeqz}: ir.OpBeq,
}

// fuseCompareBranches rewrites a compare feeding an immediately following
// zero-test branch into one fused compare-and-branch, when the compare
// result has no other reader.
func fuseCompareBranches(ops []*ir.Operation, changed bool) ([]*ir.Operation, bool) {
	out := ops[:0]
	for i := 0; i < len(ops); i++ {
		op := ops[i]
		if op.Op.Kind() == ir.KindCompare && i+1 < len(ops) {
			next := ops[i+1]
			fused, ok := fusions[[2]ir.Op{op.Op, next.Op}]
			if ok && sameReg(op.Args[0], next.Args[0]) && readCount(ops, op.Args[0].(*ir.Reg).N) == 1 {
				out = append(out, &ir.Operation{
					Op:   fused,
					Args: []ir.Value{op.Args[1], op.Args[2], next.Args[1]},
					Line: op.Line,
				})
				i++
				changed = true
				continue
			}
		}
		out = append(out, op)
	}
	return out, changed
}

func sameReg(a, b ir.Value) bool {
	ra, ok1 := a.(*ir.Reg)
	rb, ok2 := b.(*ir.Reg)
	return ok1 && ok2 && ra.N == rb.N
}

func readCount(ops []*ir.Operation, reg int) int {
	n := 0
	for _, op := range ops {
		for _, a := range readArgs(op) {
			if r, ok := a.(*ir.Reg); ok && r.N == reg {
				n++
			}
		}
	}
	return n
}

// removeUnreachable walks the control-flow graph from the entry and drops
// executable operations no path reaches. Labels and comments survive.
func removeUnreachable(ops []*ir.Operation, cfg *config.Config, changed bool) ([]*ir.Operation, bool) {
	labelPos := make(map[string]int)
	for i, op := range ops {
		if op.Op == ir.OpLabel {
			labelPos[op.Text] = i
		}
	}

	reached := make([]bool, len(ops))
	var walk func(int)
	walk = func(i int) {
		for ; i < len(ops); i++ {
			if reached[i] {
				return
			}
			reached[i] = true
			op := ops[i]
			if t := op.Target(); t != nil {
				if pos, ok := labelPos[t.Name]; ok {
					walk(pos)
				}
			}
			switch op.Op {
			case ir.OpJ, ir.OpJr, ir.OpHalt:
				return
			}
		}
	}
	walk(0)

	out := ops[:0]
	for i, op := range ops {
		if !reached[i] && op.Executable() {
			util.Warn(cfg, config.WarnUnreachableCode, token.Token{Line: op.Line},
				"Unreachable code removed.")
			changed = true
			continue
		}
		out = append(out, op)
	}
	return out, changed
}
