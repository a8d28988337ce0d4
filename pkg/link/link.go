// Package link turns symbolic branch targets into executable line indices
// and enforces the machine's instruction budget.
package link

import (
	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/ir"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

// Resolve numbers the executable operations, points every label reference
// at the index its label precedes, strips the internal label lines, and
// checks the budget. User label lines stay in the stream; their references
// keep the symbolic spelling and the hardware counts them through the same
// numbering as everything else. Resolving an already-resolved stream is a
// no-op.
func Resolve(ops []*ir.Operation, cfg *config.Config) ([]*ir.Operation, map[string]int) {
	// Pass 1: a label binds to the index of the next executable operation.
	targets := make(map[string]int)
	userLabels := make(map[string]int)
	n := 0
	for _, op := range ops {
		if op.Op == ir.OpLabel {
			targets[op.Text] = n
			if len(op.Args) > 0 {
				userLabels[op.Text] = n
			}
			continue
		}
		if op.Executable() {
			n++
		}
	}

	// Pass 2: rewrite references.
	referenced := make(map[string]bool)
	for _, op := range ops {
		t := op.Target()
		if t == nil {
			continue
		}
		referenced[t.Name] = true
		idx, ok := targets[t.Name]
		if !ok {
			if t.Resolved {
				continue
			}
			util.Bail(token.Token{Line: op.Line}, "Undefined label '%s'.", t.Name)
		}
		t.Index = idx
		t.Resolved = true
	}

	for name := range userLabels {
		if !referenced[name] {
			util.Warn(cfg, config.WarnUnreferencedLabel, token.Token{Line: lineOfLabel(ops, name)},
				"Label '%s' is never referenced.", name)
		}
	}

	// Internal labels carry no information once their references are
	// numeric.
	out := make([]*ir.Operation, 0, len(ops))
	for _, op := range ops {
		if op.Op == ir.OpLabel && len(op.Args) == 0 {
			continue
		}
		out = append(out, op)
	}

	if n > cfg.MaxInstructions {
		util.Bail(token.Token{}, "Program needs %d instructions; the machine holds %d.", n, cfg.MaxInstructions)
	}
	if n >= cfg.BudgetWarnAt {
		util.Warn(cfg, config.WarnBudget, token.Token{},
			"Program uses %d of %d instructions.", n, cfg.MaxInstructions)
	}

	return out, userLabels
}

func lineOfLabel(ops []*ir.Operation, name string) int {
	for _, op := range ops {
		if op.Op == ir.OpLabel && op.Text == name {
			return op.Line
		}
	}
	return 0
}
