package parser

import (
	"testing"

	"github.com/basc-lang/basc/pkg/ast"
	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/lexer"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

func parse(src string, cfg *config.Config) (root *ast.Node, err error) {
	defer util.Catch(&err)
	if cfg == nil {
		cfg = config.NewConfig()
	}
	toks := lexer.NewLexer([]rune(src), cfg).ScanAll()
	return NewParser(toks, cfg).Parse(), nil
}

func mustParse(t *testing.T, src string) []*ast.Node {
	t.Helper()
	root, err := parse(src, nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return root.Data.(ast.BlockNode).Stmts
}

func TestParseDeclarations(t *testing.T) {
	stmts := mustParse(t, `
VAR x = 1
CONST limit = 100
ALIAS pump = d0
DEVICE sensors = "StructureGasSensor", "greenhouse"
`)
	wantTypes := []ast.NodeType{ast.VarDecl, ast.ConstDecl, ast.AliasDecl, ast.DeviceDecl}
	if len(stmts) != len(wantTypes) {
		t.Fatalf("got %d statements, want %d", len(stmts), len(wantTypes))
	}
	for i, want := range wantTypes {
		if stmts[i].Type != want {
			t.Errorf("stmts[%d].Type = %v, want %v", i, stmts[i].Type, want)
		}
	}

	alias := stmts[2].Data.(ast.AliasDeclNode)
	if alias.Name != "pump" || alias.Pin != 0 {
		t.Errorf("alias = %+v, want pump on pin 0", alias)
	}
	dev := stmts[3].Data.(ast.DeviceDeclNode)
	if dev.Prefab != "StructureGasSensor" || dev.Label != "greenhouse" {
		t.Errorf("device = %+v", dev)
	}
}

func TestParseHousingAlias(t *testing.T) {
	stmts := mustParse(t, "ALIAS self = db\n")
	if pin := stmts[0].Data.(ast.AliasDeclNode).Pin; pin != -1 {
		t.Errorf("db alias pin = %d, want -1", pin)
	}
}

func TestParseIfElseifChain(t *testing.T) {
	stmts := mustParse(t, `
IF x > 10 THEN
  y = 1
ELSEIF x > 5 THEN
  y = 2
ELSE
  y = 3
ENDIF
`)
	d := stmts[0].Data.(ast.IfNode)
	if len(d.Branches) != 2 {
		t.Fatalf("got %d branches, want 2", len(d.Branches))
	}
	if d.ElseBody == nil {
		t.Fatal("missing ELSE body")
	}
}

func TestParseSingleLineIf(t *testing.T) {
	stmts := mustParse(t, "IF x > 0 THEN y = 1\n")
	d := stmts[0].Data.(ast.IfNode)
	if len(d.Branches) != 1 || len(d.Branches[0].Body) != 1 {
		t.Fatalf("single-line IF shape: %+v", d)
	}

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatSingleLineIf, false)
	if _, err := parse("IF x > 0 THEN y = 1\n", cfg); err == nil {
		t.Fatal("single-line IF parsed with the feature disabled, want error")
	}
}

func TestParseLoops(t *testing.T) {
	stmts := mustParse(t, `
WHILE x < 3
  x = x + 1
WEND
DO
  x = x - 1
LOOP UNTIL x == 0
FOR i = 1 TO 10 STEP 2
  x = x + i
NEXT i
`)
	if stmts[0].Type != ast.While || stmts[1].Type != ast.DoLoop || stmts[2].Type != ast.For {
		t.Fatalf("loop statement types: %v %v %v", stmts[0].Type, stmts[1].Type, stmts[2].Type)
	}
	f := stmts[2].Data.(ast.ForNode)
	if f.Var != "i" || f.Step == nil {
		t.Errorf("for = %+v", f)
	}
}

func TestParseNextVariableMismatch(t *testing.T) {
	_, err := parse("FOR i = 1 TO 3\nNEXT j\n", nil)
	if err == nil {
		t.Fatal("NEXT with wrong variable parsed, want error")
	}
}

func TestParseSelectCase(t *testing.T) {
	stmts := mustParse(t, `
SELECT CASE mode
CASE 0
  x = 1
CASE 1
  x = 2
CASE ELSE
  x = 3
ENDSELECT
`)
	d := stmts[0].Data.(ast.SelectNode)
	if len(d.Cases) != 2 || d.ElseBody == nil {
		t.Fatalf("select shape: %d cases, else=%v", len(d.Cases), d.ElseBody != nil)
	}
}

func TestParseCommentsInsideSelect(t *testing.T) {
	stmts := mustParse(t, `
SELECT x
# leading comment
CASE 0
  y = 1
# comment after an arm
CASE 1
  y = 2
END SELECT
`)
	d := stmts[0].Data.(ast.SelectNode)
	if len(d.Cases) != 2 {
		t.Fatalf("got %d cases, want 2", len(d.Cases))
	}
	if first := d.Cases[0].Body[0]; first.Type != ast.Comment {
		t.Errorf("leading comment not attached to first arm: %v", first.Type)
	}
	last := d.Cases[0].Body[len(d.Cases[0].Body)-1]
	if last.Type != ast.Comment {
		t.Errorf("trailing comment not kept in arm body: %v", last.Type)
	}
}

func TestParseEndSelectSpellings(t *testing.T) {
	for _, closer := range []string{"ENDSELECT", "END SELECT", "end select"} {
		src := "SELECT x\nCASE 0\ny = 1\n" + closer + "\n"
		stmts := mustParse(t, src)
		if stmts[0].Type != ast.Select {
			t.Errorf("%q: parsed as %v, want Select", closer, stmts[0].Type)
		}
	}
}

func TestParseBuiltinCalls(t *testing.T) {
	stmts := mustParse(t, "x = MIN(a, b) + ABS(-2)\n")
	expr := stmts[0].Data.(ast.AssignNode).Expr
	d := expr.Data.(ast.BinaryOpNode)
	call := d.Left.Data.(ast.CallNode)
	if call.Name != "MIN" || len(call.Args) != 2 {
		t.Fatalf("call = %+v", call)
	}
}

func TestParseCompoundAssignment(t *testing.T) {
	for _, tc := range []struct {
		src string
		op  token.Type
	}{
		{"x += 2\n", token.Plus},
		{"x -= 2\n", token.Minus},
		{"x *= 2\n", token.Star},
		{"x /= 2\n", token.Slash},
		{"x++\n", token.Plus},
		{"x--\n", token.Minus},
		{"++x\n", token.Plus},
		{"--x\n", token.Minus},
	} {
		stmts := mustParse(t, tc.src)
		a := stmts[0].Data.(ast.AssignNode)
		if a.Name != "x" {
			t.Fatalf("%q: assign target = %q", tc.src, a.Name)
		}
		b := a.Expr.Data.(ast.BinaryOpNode)
		if b.Op != tc.op || b.Left.Data.(ast.IdentNode).Name != "x" {
			t.Errorf("%q: desugared to op %v on %+v", tc.src, b.Op, b.Left.Data)
		}
	}
}

func TestParseStackStatements(t *testing.T) {
	stmts := mustParse(t, "PUSH x + 1\nPOP y\nPEEK z\n")
	if stmts[0].Type != ast.Push || stmts[1].Type != ast.Pop || stmts[2].Type != ast.Peek {
		t.Fatalf("stack statement types: %v %v %v", stmts[0].Type, stmts[1].Type, stmts[2].Type)
	}
	if stmts[1].Data.(ast.PopNode).Name != "y" {
		t.Errorf("POP target = %q", stmts[1].Data.(ast.PopNode).Name)
	}
}

func TestParsePowerRightAssociative(t *testing.T) {
	stmts := mustParse(t, "x = 2 ^ 3 ^ 2\n")
	expr := stmts[0].Data.(ast.AssignNode).Expr
	folded := ast.FoldConstants(expr)
	if folded.Type != ast.Number || folded.Data.(ast.NumberNode).Value != 512 {
		t.Fatalf("2 ^ 3 ^ 2 folded to %+v, want 512", folded.Data)
	}
}

func TestParseShiftPrecedence(t *testing.T) {
	// shifts bind looser than addition: 1 << 2 + 1 is 1 << 3
	stmts := mustParse(t, "x = 1 << 2 + 1\n")
	folded := ast.FoldConstants(stmts[0].Data.(ast.AssignNode).Expr)
	if folded.Type != ast.Number || folded.Data.(ast.NumberNode).Value != 8 {
		t.Fatalf("1 << 2 + 1 folded to %+v, want 8", folded.Data)
	}
}

func TestParseLabelAndJumps(t *testing.T) {
	stmts := mustParse(t, `
main:
GOTO main
GOSUB sub
RETURN
`)
	if stmts[0].Type != ast.Label || stmts[0].Data.(ast.LabelNode).Name != "main" {
		t.Fatalf("label stmt: %+v", stmts[0])
	}
	if stmts[1].Data.(ast.GotoNode).Target != "main" {
		t.Errorf("goto target = %q", stmts[1].Data.(ast.GotoNode).Target)
	}
	if stmts[2].Data.(ast.GosubNode).Target != "sub" {
		t.Errorf("gosub target = %q", stmts[2].Data.(ast.GosubNode).Target)
	}
}

func TestParseDeviceAccess(t *testing.T) {
	stmts := mustParse(t, `
pump.On = 1
x = sensor.Temperature
y = rack.Slot(2).Occupied
rack.Slot(0).Open = 1
BATCHWRITE(HASH("StructureWallLight"), On, 1)
z = BATCHREAD(HASH("StructureGasSensor"), Temperature, Maximum)
`)
	if stmts[0].Type != ast.DeviceAssign || stmts[2].Type != ast.Assign || stmts[3].Type != ast.SlotAssign {
		t.Fatalf("device statement types: %v %v %v %v", stmts[0].Type, stmts[1].Type, stmts[2].Type, stmts[3].Type)
	}
	if stmts[4].Type != ast.BatchWriteStmt {
		t.Errorf("stmts[4].Type = %v, want BatchWriteStmt", stmts[4].Type)
	}
	read := stmts[5].Data.(ast.AssignNode).Expr
	if read.Type != ast.BatchReadExpr {
		t.Errorf("BATCHREAD parsed as %v", read.Type)
	}
}

func TestParsePrecedence(t *testing.T) {
	stmts := mustParse(t, "x = 1 + 2 * 3\n")
	expr := stmts[0].Data.(ast.AssignNode).Expr
	folded := ast.FoldConstants(expr)
	if folded.Type != ast.Number || folded.Data.(ast.NumberNode).Value != 7 {
		t.Fatalf("1 + 2 * 3 folded to %+v, want 7", folded.Data)
	}
}

func TestParseUnclosedBlock(t *testing.T) {
	if _, err := parse("WHILE x < 3\nx = x + 1\n", nil); err == nil {
		t.Fatal("unclosed WHILE parsed, want error")
	}
}
