package asm

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/basc-lang/basc/pkg/ir"
)

func TestParseCountsOnlyInstructions(t *testing.T) {
	listing, err := Parse(`
# setup
move r0 5
loop:
sub r0 r0 1
bnez r0 loop
`)
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Instrs) != 3 {
		t.Fatalf("got %d instructions, want 3", len(listing.Instrs))
	}
	if listing.Labels["loop"] != 1 {
		t.Errorf("loop = %d, want 1", listing.Labels["loop"])
	}
}

func TestSymbolicTargetsResolve(t *testing.T) {
	listing, err := Parse("j end\nmove r0 1\nend:\nhalt\n")
	if err != nil {
		t.Fatal(err)
	}
	j := listing.Instrs[0]
	if j.Args[0].Kind != OpdNum || j.Args[0].Num != 2 {
		t.Errorf("j target = %+v, want numeric 2", j.Args[0])
	}
}

func TestOperandKinds(t *testing.T) {
	listing, err := Parse("l r14 d3 Temperature\nput db 511 sp\nmove r0 -1.5\n")
	if err != nil {
		t.Fatal(err)
	}
	want := [][]Operand{
		{{Kind: OpdReg, Reg: 14}, {Kind: OpdDev, Pin: 3}, {Kind: OpdSym, Sym: "Temperature"}},
		{{Kind: OpdDev, Pin: ir.HousingPin}, {Kind: OpdNum, Num: 511}, {Kind: OpdReg, Reg: ir.SP}},
		{{Kind: OpdReg, Reg: 0}, {Kind: OpdNum, Num: -1.5}},
	}
	for i, instr := range listing.Instrs {
		if diff := cmp.Diff(want[i], instr.Args); diff != "" {
			t.Errorf("instr %d operands (-want +got):\n%s", i, diff)
		}
	}
}

func TestUnknownMnemonic(t *testing.T) {
	if _, err := Parse("frobnicate r0\n"); err == nil {
		t.Fatal("unknown mnemonic parsed, want error")
	}
}

func TestUndefinedSymbolicTarget(t *testing.T) {
	if _, err := Parse("j nowhere\n"); err == nil {
		t.Fatal("jump to undefined label parsed, want error")
	}
}

func TestDuplicateLabel(t *testing.T) {
	if _, err := Parse("a:\nmove r0 1\na:\n"); err == nil {
		t.Fatal("duplicate label parsed, want error")
	}
}

func TestTrailingCommentsIgnored(t *testing.T) {
	listing, err := Parse("move r0 1 # initial value\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Instrs) != 1 || len(listing.Instrs[0].Args) != 2 {
		t.Fatalf("comment text leaked into operands: %+v", listing.Instrs)
	}
}
