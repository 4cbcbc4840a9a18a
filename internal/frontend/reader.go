package frontend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fasterbasic/fbc/internal/types"
)

// lineLexer splits one logical BASIC line into whitespace-delimited
// tokens, keeping string literals intact. Full BASIC tokenization
// (multi-statement lines via ':', nested expressions) is out of scope for
// this stand-in; the reader below covers straight-line LET/PRINT/IF/GOTO
// programs, enough to drive internal/cfg and internal/ast end-to-end.
type lineLexer struct {
	toks []string
	pos  int
}

func tokenizeLine(line string) []string {
	var toks []string
	var cur strings.Builder
	inStr := false
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			cur.WriteByte(ch)
			inStr = !inStr
		case inStr:
			cur.WriteByte(ch)
		case ch == ' ' || ch == '\t':
			flush()
		case strings.ContainsRune("()=,+-*/<>", rune(ch)):
			flush()
			toks = append(toks, string(ch))
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return toks
}

func newLineLexer(line string) *lineLexer {
	return &lineLexer{toks: tokenizeLine(line)}
}

func (l *lineLexer) peek() string {
	if l.pos >= len(l.toks) {
		return ""
	}
	return l.toks[l.pos]
}

func (l *lineLexer) next() string {
	t := l.peek()
	l.pos++
	return t
}

func (l *lineLexer) atEnd() bool { return l.pos >= len(l.toks) }

// Reader parses a flat sequence of BASIC source lines into a Program. It
// recognizes LET (implicit or explicit), PRINT, IF...THEN...ELSE single-
// line form, GOTO, GOSUB, RETURN, labels ("label:"), and END.
type Reader struct {
	lines  []string
	errors []string
}

// NewReader constructs a Reader over raw source text.
func NewReader(source string) *Reader {
	raw := strings.Split(source, "\n")
	var lines []string
	for _, l := range raw {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, "'") {
			continue
		}
		lines = append(lines, t)
	}
	return &Reader{lines: lines}
}

// Errors returns parse diagnostics accumulated during Read.
func (r *Reader) Errors() []string { return r.errors }

func (r *Reader) errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

// Read parses the whole source into a Program. Unrecognized lines are
// recorded as errors and skipped, rather than aborting the whole read —
// mirroring internal/il's warn-don't-panic posture for malformed input.
func (r *Reader) Read() *Program {
	prog := &Program{Labels: make(map[string]int)}
	for _, line := range r.lines {
		if strings.HasSuffix(line, ":") && !strings.ContainsAny(line, " \t") {
			label := strings.TrimSuffix(line, ":")
			prog.Labels[label] = len(prog.Main)
			prog.Main = append(prog.Main, &LabelStmt{Name: label})
			continue
		}
		stmt := r.readStatement(line)
		if stmt != nil {
			prog.Main = append(prog.Main, stmt)
		}
	}
	return prog
}

func (r *Reader) readStatement(line string) Stmt {
	lex := newLineLexer(line)
	kw := strings.ToUpper(lex.peek())

	switch kw {
	case "LET":
		lex.next()
		return r.readLet(lex)
	case "PRINT":
		lex.next()
		return r.readPrint(lex)
	case "GOTO":
		lex.next()
		return &GotoStmt{Label: lex.next()}
	case "GOSUB":
		lex.next()
		return &GosubStmt{Label: lex.next()}
	case "RETURN":
		return &ReturnStmt{Kind: ReturnFromGosub}
	case "END":
		return &EndStmt{}
	case "IF":
		return r.readIf(lex)
	default:
		if !lex.atEnd() {
			second := ""
			if len(lex.toks) > 1 {
				second = lex.toks[1]
			}
			if second == "=" {
				return r.readLet(lex)
			}
		}
		r.errorf("unrecognized statement: %q", line)
		return nil
	}
}

func (r *Reader) readLet(lex *lineLexer) Stmt {
	name := lex.next()
	eq := lex.next()
	if eq != "=" {
		r.errorf("expected '=' in LET, got %q", eq)
		return nil
	}
	value := r.readExpr(lex)
	return &LetStmt{Target: &VarRef{Name: name, Global: true}, Value: value}
}

func (r *Reader) readPrint(lex *lineLexer) Stmt {
	var args []Expr
	for !lex.atEnd() {
		args = append(args, r.readExpr(lex))
		if lex.peek() == "," {
			lex.next()
			continue
		}
		break
	}
	return &PrintStmt{Args: args, Newline: true}
}

func (r *Reader) readIf(lex *lineLexer) Stmt {
	lex.next() // IF
	cond := r.readExpr(lex)
	if strings.ToUpper(lex.peek()) == "THEN" {
		lex.next()
	}
	// Single-line IF: remaining tokens up to an optional ELSE form the
	// THEN branch as one statement, and the tokens after ELSE form the
	// ELSE branch; this stand-in does not support multi-statement
	// single-line IF bodies.
	rest := lex.toks[lex.pos:]
	var elseToks []string
	for i, tok := range rest {
		if strings.ToUpper(tok) == "ELSE" {
			rest, elseToks = rest[:i], rest[i+1:]
			break
		}
	}
	thenStmt := r.readStatement(strings.Join(rest, " "))
	stmt := &IfStmt{Cond: cond}
	if thenStmt != nil {
		stmt.Then = []Stmt{thenStmt}
	}
	if len(elseToks) > 0 {
		if elseStmt := r.readStatement(strings.Join(elseToks, " ")); elseStmt != nil {
			stmt.Else = []Stmt{elseStmt}
		}
	}
	return stmt
}

// readExpr parses a left-associative chain of binary operators with no
// precedence climbing — adequate for the straight-line arithmetic this
// stand-in targets; a full expression grammar belongs to the external
// frontend this package only stands in for.
func (r *Reader) readExpr(lex *lineLexer) Expr {
	left := r.readPrimary(lex)
	for {
		op := lex.peek()
		if op == "+" || op == "-" || op == "*" || op == "/" || op == "=" || op == "<" || op == ">" {
			lex.next()
			right := r.readPrimary(lex)
			left = &BinaryExpr{Op: op, Left: left, Right: right}
			continue
		}
		break
	}
	return left
}

func (r *Reader) readPrimary(lex *lineLexer) Expr {
	tok := lex.next()
	if tok == "" {
		return &IntLit{Value: 0}
	}
	if strings.HasPrefix(tok, `"`) && strings.HasSuffix(tok, `"`) {
		return &StringLit{Value: strings.Trim(tok, `"`)}
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return &IntLit{Value: n}
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return &FloatLit{Value: f}
	}
	global := tok == strings.ToUpper(tok)
	kind := types.KindInt
	if strings.HasSuffix(tok, "$") {
		kind = types.KindString
	}
	return &VarRef{base: base{Info: SemInfo{Type: types.Type{Kind: kind}}}, Name: tok, Global: global}
}
