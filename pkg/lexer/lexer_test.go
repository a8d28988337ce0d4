package lexer

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/token"
	"github.com/basc-lang/basc/pkg/util"
)

func scan(src string, cfg *config.Config) (toks []token.Token, err error) {
	defer util.Catch(&err)
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return NewLexer([]rune(src), cfg).ScanAll(), nil
}

func types(toks []token.Token) []token.Type {
	out := make([]token.Type, len(toks))
	for i, tok := range toks {
		out[i] = tok.Type
	}
	return out
}

func TestScanStatement(t *testing.T) {
	toks, err := scan("VAR x = 10\n", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []token.Type{token.Var, token.Ident, token.Eq, token.Number, token.Newline, token.EOF}
	if diff := cmp.Diff(want, types(toks)); diff != "" {
		t.Errorf("token types mismatch (-want +got):\n%s", diff)
	}
}

func TestKeywordsAreCaseInsensitive(t *testing.T) {
	for _, src := range []string{"while", "WHILE", "While", "wHiLe"} {
		toks, err := scan(src, nil)
		if err != nil {
			t.Fatal(err)
		}
		if toks[0].Type != token.While {
			t.Errorf("scan(%q)[0] = %v, want While", src, toks[0].Type)
		}
	}
}

func TestCommentMarkers(t *testing.T) {
	for _, src := range []string{"# main loop", "' main loop"} {
		toks, err := scan(src, nil)
		if err != nil {
			t.Fatal(err)
		}
		if toks[0].Type != token.Comment {
			t.Fatalf("scan(%q)[0] = %v, want Comment", src, toks[0].Type)
		}
		if toks[0].Value != "main loop" {
			t.Errorf("comment text = %q, want %q", toks[0].Value, "main loop")
		}
	}
}

func TestNumberLiterals(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"42", "42"},
		{"3.25", "3.25"},
		{"1e3", "1e3"},
		{"0xFF", "0xFF"},
	}
	for _, tc := range cases {
		toks, err := scan(tc.src, nil)
		if err != nil {
			t.Fatal(err)
		}
		if toks[0].Type != token.Number || toks[0].Value != tc.want {
			t.Errorf("scan(%q)[0] = %v %q, want Number %q", tc.src, toks[0].Type, toks[0].Value, tc.want)
		}
	}
}

func TestHexLiteralsCanBeDisabled(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatHexLiterals, false)
	if _, err := scan("0xFF", cfg); err == nil {
		t.Fatal("scan(0xFF) succeeded with hex literals disabled, want error")
	}
}

func TestNotEqualSpellings(t *testing.T) {
	for _, src := range []string{"a != b", "a <> b"} {
		toks, err := scan(src, nil)
		if err != nil {
			t.Fatal(err)
		}
		if toks[1].Type != token.Neq {
			t.Errorf("scan(%q)[1] = %v, want Neq", src, toks[1].Type)
		}
	}
}

func TestOperatorSpellings(t *testing.T) {
	cases := []struct {
		src  string
		want token.Type
	}{
		{"a ^ b", token.Caret},
		{"a << b", token.Shl},
		{"a >> b", token.Shr},
		{"a += b", token.PlusEq},
		{"a -= b", token.MinusEq},
		{"a *= b", token.StarEq},
		{"a /= b", token.SlashEq},
	}
	for _, tc := range cases {
		toks, err := scan(tc.src, nil)
		if err != nil {
			t.Fatal(err)
		}
		if toks[1].Type != tc.want {
			t.Errorf("scan(%q)[1] = %v, want %v", tc.src, toks[1].Type, tc.want)
		}
	}
}

func TestIncrementDecrementTokens(t *testing.T) {
	toks, err := scan("a++\nb--\n", nil)
	if err != nil {
		t.Fatal(err)
	}
	if toks[1].Type != token.PlusPlus {
		t.Errorf("a++ second token = %v, want PlusPlus", toks[1].Type)
	}
	if toks[4].Type != token.MinusMinus {
		t.Errorf("b-- second token = %v, want MinusMinus", toks[4].Type)
	}
}

func TestEndKeywordForms(t *testing.T) {
	toks, err := scan("END SELECT\n", nil)
	if err != nil {
		t.Fatal(err)
	}
	if toks[0].Type != token.EndSelect {
		t.Fatalf("END SELECT scanned as %v, want EndSelect", toks[0].Type)
	}
	if toks[1].Type != token.Newline {
		t.Errorf("token after END SELECT = %v, want Newline", toks[1].Type)
	}

	toks, err = scan("END\n", nil)
	if err != nil {
		t.Fatal(err)
	}
	if toks[0].Type != token.Halt {
		t.Errorf("bare END scanned as %v, want Halt", toks[0].Type)
	}
}

func TestUnterminatedString(t *testing.T) {
	if _, err := scan(`DEVICE d = "Sensor`, nil); err == nil {
		t.Fatal("scan of unterminated string succeeded, want error")
	}
}

func TestLineAndColumnTracking(t *testing.T) {
	toks, err := scan("VAR a\nVAR b\n", nil)
	if err != nil {
		t.Fatal(err)
	}
	// second VAR sits at line 2 column 1
	var second token.Token
	seen := 0
	for _, tok := range toks {
		if tok.Type == token.Var {
			seen++
			if seen == 2 {
				second = tok
			}
		}
	}
	if second.Line != 2 || second.Column != 1 {
		t.Errorf("second VAR at %d:%d, want 2:1", second.Line, second.Column)
	}
}
