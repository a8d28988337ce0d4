// Package compiler strings the phases together: source text in, emitted
// program out. Each call is independent; nothing is shared between
// compilations.
package compiler

import (
	"github.com/basc-lang/basc/pkg/codegen"
	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/ir"
	"github.com/basc-lang/basc/pkg/lexer"
	"github.com/basc-lang/basc/pkg/link"
	"github.com/basc-lang/basc/pkg/optim"
	"github.com/basc-lang/basc/pkg/parser"
	"github.com/basc-lang/basc/pkg/util"
)

// Result is the outcome of one compilation. On failure only Err and Line
// are meaningful.
type Result struct {
	OK           bool
	Asm          string
	Instructions int
	Program      *ir.Program
	Err          error
	Line         int
}

// Compile runs the full pipeline on one source text.
func Compile(source string, cfg *config.Config) *Result {
	prog, err := build(source, cfg)
	if err != nil {
		res := &Result{Err: err}
		if d, ok := err.(*util.Diag); ok {
			res.Line = d.Line
		}
		return res
	}
	return &Result{
		OK:           true,
		Asm:          prog.Text(),
		Instructions: prog.ExecutableCount(),
		Program:      prog,
	}
}

func build(source string, cfg *config.Config) (prog *ir.Program, err error) {
	defer util.Catch(&err)

	toks := lexer.NewLexer([]rune(source), cfg).ScanAll()
	root := parser.NewParser(toks, cfg).Parse()
	unit := codegen.NewContext(cfg).Generate(root)
	ops := optim.Optimize(unit.Ops, cfg)
	ops, labels := link.Resolve(ops, cfg)

	return &ir.Program{
		Ops:     ops,
		Labels:  labels,
		Aliases: unit.Aliases,
		Devices: unit.Devices,
		Consts:  unit.Consts,
	}, nil
}
