package link

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/ir"
	"github.com/basc-lang/basc/pkg/util"
)

func resolve(ops []*ir.Operation, cfg *config.Config) (out []*ir.Operation, labels map[string]int, err error) {
	defer util.Catch(&err)
	if cfg == nil {
		cfg = config.NewConfig()
	}
	out, labels = Resolve(ops, cfg)
	return out, labels, nil
}

func label(name string, user bool) *ir.Operation {
	op := ir.NewOp(ir.OpLabel, 0)
	op.Text = name
	if user {
		op.Args = []ir.Value{&ir.LabelRef{Name: name, User: true}}
	}
	return op
}

func comment(text string) *ir.Operation {
	op := ir.NewOp(ir.OpComment, 0)
	op.Text = text
	return op
}

func TestLabelsBindToNextExecutableIndex(t *testing.T) {
	ops := []*ir.Operation{
		ir.NewOp(ir.OpMove, 1, &ir.Reg{N: 0}, &ir.Num{V: 1}),
		label("main", true),
		ir.NewOp(ir.OpAdd, 2, &ir.Reg{N: 0}, &ir.Reg{N: 0}, &ir.Num{V: 1}),
		ir.NewOp(ir.OpJ, 3, &ir.LabelRef{Name: "main", User: true}),
	}
	_, labels, err := resolve(ops, nil)
	if err != nil {
		t.Fatal(err)
	}
	if labels["main"] != 1 {
		t.Errorf("main = %d, want 1", labels["main"])
	}
}

// Comments and label lines occupy no executable positions, so sprinkling
// them through a program must not move any branch target.
func TestZeroWidthLinesDoNotShiftTargets(t *testing.T) {
	build := func(withNoise bool) []*ir.Operation {
		var ops []*ir.Operation
		add := func(op *ir.Operation) { ops = append(ops, op) }
		noise := func(text string) {
			if withNoise {
				add(comment(text))
			}
		}

		noise("header")
		add(ir.NewOp(ir.OpMove, 1, &ir.Reg{N: 0}, &ir.Num{V: 3}))
		noise("between")
		add(label("loop", true))
		noise("inside")
		add(ir.NewOp(ir.OpSub, 2, &ir.Reg{N: 0}, &ir.Reg{N: 0}, &ir.Num{V: 1}))
		add(ir.NewOp(ir.OpBnez, 3, &ir.Reg{N: 0}, &ir.LabelRef{Name: "loop", User: true}))
		noise("footer")
		return ops
	}

	_, plain, err := resolve(build(false), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, noisy, err := resolve(build(true), nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(plain, noisy); diff != "" {
		t.Errorf("label indices changed under comment interleaving (-plain +noisy):\n%s", diff)
	}
}

func TestInternalLabelsAreStripped(t *testing.T) {
	ops := []*ir.Operation{
		ir.NewOp(ir.OpBeqz, 1, &ir.Reg{N: 0}, &ir.LabelRef{Name: "__endif_1"}),
		ir.NewOp(ir.OpMove, 2, &ir.Reg{N: 1}, &ir.Num{V: 1}),
		label("__endif_1", false),
		ir.NewOp(ir.OpMove, 3, &ir.Reg{N: 2}, &ir.Num{V: 2}),
	}
	out, _, err := resolve(ops, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range out {
		if op.Op == ir.OpLabel {
			t.Fatalf("internal label survived resolution: %s", op.String())
		}
	}
	target := out[0].Target()
	if !target.Resolved || target.Index != 2 {
		t.Errorf("target = %+v, want resolved index 2", target)
	}
	if target.String() != "2" {
		t.Errorf("internal target prints %q, want \"2\"", target.String())
	}
}

func TestUserLabelsKeepSymbolicSpelling(t *testing.T) {
	ops := []*ir.Operation{
		label("main", true),
		ir.NewOp(ir.OpJ, 1, &ir.LabelRef{Name: "main", User: true}),
	}
	out, _, err := resolve(ops, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Op != ir.OpLabel {
		t.Fatal("user label line was stripped")
	}
	if got := out[1].String(); got != "j main" {
		t.Errorf("jump prints %q, want \"j main\"", got)
	}
}

func TestUndefinedLabel(t *testing.T) {
	ops := []*ir.Operation{
		ir.NewOp(ir.OpJ, 1, &ir.LabelRef{Name: "nowhere", User: true}),
	}
	if _, _, err := resolve(ops, nil); err == nil {
		t.Fatal("undefined label resolved, want error")
	}
}

func TestResolutionIsIdempotent(t *testing.T) {
	ops := []*ir.Operation{
		ir.NewOp(ir.OpMove, 1, &ir.Reg{N: 0}, &ir.Num{V: 1}),
		label("top", true),
		ir.NewOp(ir.OpBeqz, 2, &ir.Reg{N: 0}, &ir.LabelRef{Name: "__done_1"}),
		ir.NewOp(ir.OpJ, 3, &ir.LabelRef{Name: "top", User: true}),
		label("__done_1", false),
	}
	once, _, err := resolve(ops, nil)
	if err != nil {
		t.Fatal(err)
	}
	first := render(once)

	twice, _, err := resolve(once, nil)
	if err != nil {
		t.Fatalf("second resolution failed: %v", err)
	}
	if diff := cmp.Diff(first, render(twice)); diff != "" {
		t.Errorf("re-resolution changed output (-first +second):\n%s", diff)
	}
}

func render(ops []*ir.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

func TestBudgetEnforced(t *testing.T) {
	cfg := config.NewConfig()
	var ops []*ir.Operation
	for i := 0; i <= cfg.MaxInstructions; i++ {
		ops = append(ops, ir.NewOp(ir.OpMove, i+1, &ir.Reg{N: 0}, &ir.Num{V: float64(i)}))
	}
	if _, _, err := resolve(ops, cfg); err == nil {
		t.Fatalf("%d instructions resolved under a %d budget, want error", len(ops), cfg.MaxInstructions)
	}

	// exactly at the budget is fine
	if _, _, err := resolve(ops[:cfg.MaxInstructions], cfg); err != nil {
		t.Fatalf("program at the budget failed: %v", err)
	}
}
