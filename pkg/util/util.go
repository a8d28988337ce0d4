// Package util carries the diagnostic plumbing shared by every compiler
// stage: source positions, recoverable compile errors, and warning output.
package util

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/token"
)

// Diag is a positioned compile-time diagnostic. Stages raise one with Bail
// and the pipeline entry point recovers it into an ordinary error, so a
// failed compilation produces no partial output.
type Diag struct {
	Line   int
	Column int
	Msg    string
}

func (d *Diag) Error() string {
	if d.Line > 0 {
		return fmt.Sprintf("line %d: %s", d.Line, d.Msg)
	}
	return d.Msg
}

// Errf builds a Diag at the given token without raising it.
func Errf(tok token.Token, format string, args ...interface{}) *Diag {
	return &Diag{Line: tok.Line, Column: tok.Column, Msg: fmt.Sprintf(format, args...)}
}

// Bail aborts the current compilation stage with a positioned error.
func Bail(tok token.Token, format string, args ...interface{}) {
	panic(Errf(tok, format, args...))
}

// Catch converts a Bail panic into the named error return. Deferred by
// stage entry points:
//
//	func Compile(...) (res Result, err error) {
//		defer util.Catch(&err)
//		...
//	}
func Catch(err *error) {
	if r := recover(); r != nil {
		d, ok := r.(*Diag)
		if !ok {
			panic(r)
		}
		*err = d
	}
}

// Source holds one input's name and text for rich diagnostics.
type Source struct {
	Name    string
	Content []rune
}

var stderrIsTerm = term.IsTerminal(int(os.Stderr.Fd()))

func paint(code, s string) string {
	if !stderrIsTerm {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Warn prints a warning to stderr if it is enabled in cfg.
func Warn(cfg *config.Config, wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if cfg == nil || !cfg.IsWarningEnabled(wt) {
		return
	}
	name := cfg.Warnings[wt].Name
	fmt.Fprintf(os.Stderr, "%d:%d: %s ", tok.Line, tok.Column, paint("33", "warning:"))
	fmt.Fprintf(os.Stderr, format, args...)
	fmt.Fprintf(os.Stderr, " [-W%s]\n", name)
}

// PrintDiag prints a compile error with the offending source line and a
// caret, for CLI consumption.
func (s *Source) PrintDiag(w *os.File, d *Diag) {
	fmt.Fprintf(w, "%s:%d:%d: %s %s\n", s.Name, d.Line, d.Column, paint("31", "error:"), d.Msg)
	if s.Content == nil || d.Line <= 0 {
		return
	}

	lineNum := d.Line
	lineStart := 0
	for i, r := range s.Content {
		if lineNum <= 1 {
			break
		}
		if r == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}
	lineEnd := len(s.Content)
	for i := lineStart; i < len(s.Content); i++ {
		if s.Content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(w, "  %s\n", string(s.Content[lineStart:lineEnd]))
	if d.Column > 0 {
		fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", d.Column-1), paint("32", "^"))
	}
}
