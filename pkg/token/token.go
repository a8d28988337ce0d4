package token

type Type int

const (
	EOF Type = iota
	Newline
	Comment
	Ident
	Number
	String

	// Keywords
	Var
	Const
	Alias
	Device
	If
	Then
	ElseIf
	Else
	EndIf
	While
	Wend
	Do
	Loop
	Until
	For
	To
	StepKw
	Next
	Select
	Case
	EndSelect
	Goto
	Gosub
	Return
	Break
	Continue
	Yield
	Sleep
	Halt
	BatchRead
	BatchWrite
	Hash
	And
	Or
	Not
	Mod
	Push
	Pop
	Peek

	// Punctuation and operators
	LParen
	RParen
	Comma
	Colon
	Dot
	Eq
	EqEq
	Neq
	Lt
	Gt
	Lte
	Gte
	Plus
	Minus
	Star
	Slash
	Percent
	Caret
	Shl
	Shr
	PlusEq
	MinusEq
	StarEq
	SlashEq
	PlusPlus
	MinusMinus
)

// KeywordMap maps upper-cased keyword spellings to token types. The
// language is case-insensitive; the lexer upper-cases before lookup.
var KeywordMap = map[string]Type{
	"VAR":        Var,
	"CONST":      Const,
	"ALIAS":      Alias,
	"DEVICE":     Device,
	"IF":         If,
	"THEN":       Then,
	"ELSEIF":     ElseIf,
	"ELSE":       Else,
	"ENDIF":      EndIf,
	"WHILE":      While,
	"WEND":       Wend,
	"DO":         Do,
	"LOOP":       Loop,
	"UNTIL":      Until,
	"FOR":        For,
	"TO":         To,
	"STEP":       StepKw,
	"NEXT":       Next,
	"SELECT":     Select,
	"CASE":       Case,
	"ENDSELECT":  EndSelect,
	"GOTO":       Goto,
	"GOSUB":      Gosub,
	"RETURN":     Return,
	"BREAK":      Break,
	"CONTINUE":   Continue,
	"YIELD":      Yield,
	"SLEEP":      Sleep,
	"HALT":       Halt,
	"BATCHREAD":  BatchRead,
	"BATCHWRITE": BatchWrite,
	"HASH":       Hash,
	"AND":        And,
	"OR":         Or,
	"NOT":        Not,
	"MOD":        Mod,
	"PUSH":       Push,
	"POP":        Pop,
	"PEEK":       Peek,
}

// TypeStrings is the reverse of KeywordMap, for diagnostics.
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = str
	}
}

type Token struct {
	Type   Type
	Value  string
	Line   int
	Column int
	Len    int
}
