package compiler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/vm"
)

func quietConfig() *config.Config {
	cfg := config.NewConfig()
	for w := config.Warning(0); w < config.WarnCount; w++ {
		cfg.SetWarning(w, false)
	}
	return cfg
}

func mustCompile(t *testing.T, src string, opt config.OptLevel) *Result {
	t.Helper()
	cfg := quietConfig()
	cfg.Opt = opt
	res := Compile(src, cfg)
	if !res.OK {
		t.Fatalf("compile failed: %v", res.Err)
	}
	return res
}

// execute compiles at the given level, runs the emitted text on a fresh
// machine, and returns the machine for inspection.
func execute(t *testing.T, src string, opt config.OptLevel) *vm.Machine {
	t.Helper()
	res := mustCompile(t, src, opt)
	m := vm.NewMachine(quietConfig())
	if err := m.LoadProgram(res.Asm); err != nil {
		t.Fatalf("emitted text failed to load: %v\n%s", err, res.Asm)
	}
	if err := m.Run(10000); err != nil {
		t.Fatalf("emitted program faulted: %v\n%s", err, res.Asm)
	}
	return m
}

func TestThresholdProgram(t *testing.T) {
	src := `
VAR x = %d
IF x > 5 THEN
  db.Setting = 1
ELSE
  db.Setting = 0
ENDIF
`
	for _, tc := range []struct {
		x    int
		want float64
	}{
		{10, 1},
		{3, 0},
	} {
		m := execute(t, fmt.Sprintf(src, tc.x), config.OptBasic)
		if got := m.Housing().Props["Setting"]; got != tc.want {
			t.Errorf("x=%d: db.Setting = %g, want %g", tc.x, got, tc.want)
		}
	}
}

// Interleaving comments through a program, including between a label and
// its target and inside loop bodies, must not change what the emitted
// code does.
func TestCommentInterleavingPreservesBehavior(t *testing.T) {
	plain := `
VAR n = 5
VAR total = 0
loop:
total = total + n
n = n - 1
IF n > 0 THEN
  GOTO loop
ENDIF
db.Setting = total
`
	noisy := `
# accumulate a countdown
VAR n = 5
VAR total = 0
# the target label sits after this comment
loop:
' body begins here
total = total + n
n = n - 1
# branch back while anything remains
IF n > 0 THEN
  GOTO loop
ENDIF
# publish
db.Setting = total
`
	for _, opt := range []config.OptLevel{config.OptNone, config.OptBasic, config.OptAggressive} {
		a := execute(t, plain, opt)
		b := execute(t, noisy, opt)
		if diff := cmp.Diff(a.Housing().Props, b.Housing().Props); diff != "" {
			t.Errorf("opt %v: comment interleaving changed behavior (-plain +noisy):\n%s", opt, diff)
		}
		if a.Housing().Props["Setting"] != 15 {
			t.Errorf("opt %v: total = %g, want 15", opt, a.Housing().Props["Setting"])
		}
	}
}

func TestUserLabelsStaySymbolic(t *testing.T) {
	res := mustCompile(t, `
main:
db.Setting = 1
GOTO main
`, config.OptBasic)
	if !strings.Contains(res.Asm, "main:") {
		t.Errorf("user label line missing from output:\n%s", res.Asm)
	}
	if !strings.Contains(res.Asm, "j main") {
		t.Errorf("user jump not symbolic:\n%s", res.Asm)
	}
}

func TestInternalLabelsNeverLeak(t *testing.T) {
	res := mustCompile(t, `
VAR x = 1
IF x > 0 THEN
  db.Setting = 1
ELSEIF x > 1 THEN
  db.Setting = 2
ELSE
  db.Setting = 3
ENDIF
WHILE x < 3
  x = x + 1
WEND
`, config.OptNone)
	if strings.Contains(res.Asm, "__") {
		t.Errorf("internal label leaked into output:\n%s", res.Asm)
	}
}

func TestCommentsSurviveToOutput(t *testing.T) {
	res := mustCompile(t, "# adjust the pump\ndb.Setting = 1\n", config.OptNone)
	if !strings.Contains(res.Asm, "# adjust the pump") {
		t.Errorf("source comment missing from output:\n%s", res.Asm)
	}
}

func TestBudgetRejectsOversizedPrograms(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "db.Setting = %d\n", i)
	}
	cfg := quietConfig()
	cfg.Opt = config.OptNone
	res := Compile(sb.String(), cfg)
	if res.OK {
		t.Fatalf("200-instruction program compiled under a %d budget", cfg.MaxInstructions)
	}
	if !strings.Contains(res.Err.Error(), "instructions") {
		t.Errorf("err = %v", res.Err)
	}
}

func TestInstructionCountReported(t *testing.T) {
	res := mustCompile(t, "db.Setting = 1\ndb.On = 1\n", config.OptNone)
	if res.Instructions != 2 {
		t.Errorf("Instructions = %d, want 2", res.Instructions)
	}
}

// More live variables than registers forces spills; the program must
// still compute the right answer.
func TestRegisterSpill(t *testing.T) {
	var sb strings.Builder
	n := 20
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "VAR v%d = %d\n", i, i)
	}
	sb.WriteString("VAR total = 0\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "total = total + v%d\n", i)
	}
	sb.WriteString("db.Setting = total\n")

	m := execute(t, sb.String(), config.OptNone)
	want := float64(n*(n+1)) / 2
	if got := m.Housing().Props["Setting"]; got != want {
		t.Errorf("sum = %g, want %g", got, want)
	}
}

// A loop counter that lives on the stack still counts correctly.
func TestStackHomedLoopCounter(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 16; i++ {
		fmt.Fprintf(&sb, "VAR v%d = 0\n", i)
	}
	sb.WriteString("VAR total = 0\n")
	sb.WriteString("FOR k = 1 TO 5\n")
	sb.WriteString("total = total + k\n")
	sb.WriteString("NEXT k\n")
	sb.WriteString("db.Setting = total\n")

	m := execute(t, sb.String(), config.OptNone)
	if got := m.Housing().Props["Setting"]; got != 15 {
		t.Errorf("sum = %g, want 15", got)
	}
}

// The power operator goes through exp and log at runtime, so the result
// is close to, not exactly, the mathematical value.
func TestPowerOperator(t *testing.T) {
	m := execute(t, "VAR b = 2\nVAR e = 10\ndb.Setting = b ^ e\n", config.OptNone)
	got := m.Housing().Props["Setting"]
	if got < 1024-1e-9 || got > 1024+1e-9 {
		t.Errorf("2 ^ 10 = %g, want about 1024", got)
	}
}

// Variables declared inside a branch must not disturb the values of
// variables homed before it when the branch is skipped.
func TestBranchLocalVarsKeepOuterValues(t *testing.T) {
	var sb strings.Builder
	n := 16
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "VAR a%d = %d\n", i, i)
	}
	sb.WriteString("VAR c = 0\n")
	sb.WriteString("IF c THEN\n")
	sb.WriteString("VAR y = 7\n")
	sb.WriteString("y = y + 1\n")
	sb.WriteString("ENDIF\n")
	sb.WriteString("db.Setting = a1\n")
	fmt.Fprintf(&sb, "db.On = a%d\n", n)

	m := execute(t, sb.String(), config.OptNone)
	if got := m.Housing().Props["Setting"]; got != 1 {
		t.Errorf("db.Setting = %g, want 1", got)
	}
	if got := m.Housing().Props["On"]; got != float64(n) {
		t.Errorf("db.On = %g, want %d", got, n)
	}
}

// The branch-taken path must agree with the fall-through path on where
// every variable lives.
func TestBranchTakenAgreesOnVariableHomes(t *testing.T) {
	var sb strings.Builder
	n := 16
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "VAR a%d = %d\n", i, i)
	}
	sb.WriteString("VAR c = 1\n")
	sb.WriteString("IF c THEN\n")
	fmt.Fprintf(&sb, "VAR y = 7\na%d = y\n", n)
	sb.WriteString("ENDIF\n")
	fmt.Fprintf(&sb, "db.Setting = a%d\n", n)

	m := execute(t, sb.String(), config.OptNone)
	if got := m.Housing().Props["Setting"]; got != 7 {
		t.Errorf("db.Setting = %g, want 7", got)
	}
}

func TestGosubReturnFlow(t *testing.T) {
	m := execute(t, `
VAR x = 0
GOSUB double
GOSUB double
db.Setting = x
HALT
double:
x = x * 2 + 1
RETURN
`, config.OptBasic)
	if got := m.Housing().Props["Setting"]; got != 3 {
		t.Errorf("db.Setting = %g, want 3", got)
	}
}

func TestReturnWithoutGosubFaults(t *testing.T) {
	res := mustCompile(t, "RETURN\n", config.OptNone)
	m := vm.NewMachine(quietConfig())
	if err := m.LoadProgram(res.Asm); err != nil {
		t.Fatal(err)
	}
	m.Run(10)
	if m.Status() != vm.StatusErrored {
		t.Fatalf("status = %v, want errored", m.Status())
	}
	if !strings.Contains(m.Err().Error(), "RETURN without GOSUB") {
		t.Errorf("err = %v", m.Err())
	}
}

// Every optimization level must agree on observable device state.
func TestOptimizationLevelsAgree(t *testing.T) {
	src := `
VAR hot = 0
VAR i = 0
FOR i = 1 TO 6
  IF i > 3 AND i <> 5 THEN
    hot = hot + i
  ENDIF
NEXT i
SELECT hot
CASE 10
  db.Setting = 100
CASE ELSE
  db.Setting = hot
ENDSELECT
db.On = NOT (hot == 0)
`
	base := execute(t, src, config.OptNone)
	for _, opt := range []config.OptLevel{config.OptBasic, config.OptAggressive} {
		m := execute(t, src, opt)
		if diff := cmp.Diff(base.Housing().Props, m.Housing().Props); diff != "" {
			t.Errorf("opt %v diverges from unoptimized (-none +opt):\n%s", opt, diff)
		}
	}
	if got := base.Housing().Props["Setting"]; got != 100 {
		t.Errorf("db.Setting = %g, want 100", got)
	}
}

func TestAggressiveNeverEmitsMore(t *testing.T) {
	src := `
VAR x = 4
IF x < 10 THEN
  db.Setting = 1
ENDIF
WHILE x > 0
  x = x - 1
WEND
`
	plain := mustCompile(t, src, config.OptNone)
	tight := mustCompile(t, src, config.OptAggressive)
	if tight.Instructions > plain.Instructions {
		t.Errorf("aggressive emitted %d instructions, unoptimized %d", tight.Instructions, plain.Instructions)
	}
}

func TestCompilationsAreIndependent(t *testing.T) {
	src := "VAR x = 1\nmain:\nx = x + 1\nIF x < 5 THEN\n  GOTO main\nENDIF\ndb.Setting = x\n"
	cfg := quietConfig()
	first := Compile(src, cfg)
	second := Compile(src, cfg)
	if !first.OK || !second.OK {
		t.Fatalf("compile failed: %v %v", first.Err, second.Err)
	}
	if diff := cmp.Diff(first.Asm, second.Asm); diff != "" {
		t.Errorf("same input produced different output:\n%s", diff)
	}
}

func TestErrorsCarryLineNumbers(t *testing.T) {
	res := Compile("VAR x = 1\ny = 2\n", quietConfig())
	if res.OK {
		t.Fatal("assignment to undeclared variable compiled")
	}
	if res.Line != 2 {
		t.Errorf("error line = %d, want 2", res.Line)
	}
}

func TestEmittedTextRoundTrips(t *testing.T) {
	res := mustCompile(t, `
VAR x = 2
top:
x = x - 1
IF x > 0 THEN
  GOTO top
ENDIF
db.Setting = 9
`, config.OptBasic)

	m := vm.NewMachine(quietConfig())
	if err := m.LoadProgram(res.Asm); err != nil {
		t.Fatalf("round trip failed: %v\n%s", err, res.Asm)
	}
	if err := m.Run(1000); err != nil {
		t.Fatal(err)
	}
	if got := m.Housing().Props["Setting"]; got != 9 {
		t.Errorf("db.Setting = %g, want 9", got)
	}
}
