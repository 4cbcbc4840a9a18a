package codegen

import (
	"strings"
	"testing"

	"github.com/fasterbasic/fbc/internal/ast"
	"github.com/fasterbasic/fbc/internal/cfg"
	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/il"
	"github.com/fasterbasic/fbc/internal/rtlib"
	"github.com/fasterbasic/fbc/internal/symbols"
	"github.com/fasterbasic/fbc/internal/types"
	"github.com/stretchr/testify/assert"
)

func newEmitterPair(sammEnabled bool) (*Emitter, *il.Builder, *symbols.Mapper) {
	b := il.NewBuilder()
	sym := symbols.NewMapper()
	rt := rtlib.New(b)
	a := ast.New(b, sym, rt, sammEnabled)
	return NewEmitter(b, sym, rt, a), b, sym
}

func sem(t types.Type) frontend.SemInfo { return frontend.SemInfo{Type: t} }

func intType() types.Type { return types.Type{Kind: types.KindInt} }

func intLit(v int64) *frontend.IntLit {
	l := &frontend.IntLit{Value: v}
	l.Info = sem(intType())
	return l
}

func TestStraightLineBlockFallsOffIntoRet0ForMain(t *testing.T) {
	stmts := []frontend.Stmt{&frontend.PrintStmt{Args: []frontend.Expr{intLit(1)}}}
	g := cfg.NewBuilder().BuildProgram(&frontend.Program{Main: stmts, Labels: map[string]int{}}).Main

	ce, b, _ := newEmitterPair(false)
	b.EmitFunctionStart("main", "w", nil)
	ce.EmitGraph(g, EntryMain, nil, false)
	b.EmitFunctionEnd()

	out := b.String()
	assert.Contains(t, out, "ret 0")
}

func TestIfTerminatorSynthesizesBranch(t *testing.T) {
	cond := intLit(1)
	stmts := []frontend.Stmt{
		&frontend.IfStmt{
			Cond: cond,
			Then: []frontend.Stmt{&frontend.PrintStmt{Args: []frontend.Expr{intLit(1)}}},
			Else: []frontend.Stmt{&frontend.PrintStmt{Args: []frontend.Expr{intLit(2)}}},
		},
	}
	g := cfg.NewBuilder().BuildProgram(&frontend.Program{Main: stmts, Labels: map[string]int{}}).Main

	ce, b, _ := newEmitterPair(false)
	b.EmitFunctionStart("main", "w", nil)
	ce.EmitGraph(g, EntryMain, nil, false)
	b.EmitFunctionEnd()

	assert.Contains(t, b.String(), "jnz")
}

func TestForLoopEmitsInitContinueAndIncrement(t *testing.T) {
	v := &frontend.VarRef{Name: "I", Global: true}
	v.Info = sem(intType())
	stmts := []frontend.Stmt{
		&frontend.ForStmt{
			Var:  v,
			From: intLit(1),
			To:   intLit(10),
			Body: []frontend.Stmt{&frontend.PrintStmt{Args: []frontend.Expr{v}}},
		},
	}
	g := cfg.NewBuilder().BuildProgram(&frontend.Program{Main: stmts, Labels: map[string]int{}}).Main

	ce, b, _ := newEmitterPair(false)
	b.EmitFunctionStart("main", "w", nil)
	ce.EmitGraph(g, EntryMain, nil, false)
	b.EmitFunctionEnd()

	out := b.String()
	assert.Contains(t, out, "alloc")
	assert.Contains(t, out, "jnz")
}

func TestGosubPushDispatchRoundTrip(t *testing.T) {
	stmts := []frontend.Stmt{
		&frontend.LabelStmt{Name: "L1"},
		&frontend.GosubStmt{Label: "SUB1"},
		&frontend.PrintStmt{Args: []frontend.Expr{intLit(1)}},
		&frontend.LabelStmt{Name: "SUB1"},
		&frontend.ReturnStmt{Kind: frontend.ReturnFromGosub},
	}
	g := cfg.NewBuilder().BuildProgram(&frontend.Program{
		Main:   stmts,
		Labels: map[string]int{"L1": 0, "SUB1": 3},
	}).Main

	ce, b, _ := newEmitterPair(false)
	b.EmitFunctionStart("main", "w", nil)
	ce.EmitGraph(g, EntryMain, nil, false)
	b.EmitFunctionEnd()

	out := b.String()
	assert.Contains(t, out, "$gosub_sp")
	assert.Contains(t, out, "$gosub_stack")
	assert.Contains(t, out, "gosub_stack_corrupt")
}

func TestOnGotoMultiwayFallsThroughToDefault(t *testing.T) {
	sel := intLit(1)
	stmts := []frontend.Stmt{
		&frontend.OnGotoStmt{Selector: sel, Targets: []string{"A", "B"}},
		&frontend.LabelStmt{Name: "AFTER"},
		&frontend.PrintStmt{Args: []frontend.Expr{intLit(9)}},
		&frontend.LabelStmt{Name: "A"},
		&frontend.PrintStmt{Args: []frontend.Expr{intLit(1)}},
		&frontend.LabelStmt{Name: "B"},
		&frontend.PrintStmt{Args: []frontend.Expr{intLit(2)}},
	}
	g := cfg.NewBuilder().BuildProgram(&frontend.Program{
		Main:   stmts,
		Labels: map[string]int{"AFTER": 1, "A": 3, "B": 5},
	}).Main

	ce, b, _ := newEmitterPair(false)
	b.EmitFunctionStart("main", "w", nil)
	ce.EmitGraph(g, EntryMain, nil, false)
	b.EmitFunctionEnd()

	out := b.String()
	assert.Contains(t, out, "on_goto_match")
	assert.Contains(t, out, "on_goto_next")
}

func TestTryRegistersExceptionGuard(t *testing.T) {
	stmts := []frontend.Stmt{
		&frontend.TryStmt{
			Body:    []frontend.Stmt{&frontend.PrintStmt{Args: []frontend.Expr{intLit(1)}}},
			Catch:   []frontend.Stmt{&frontend.PrintStmt{Args: []frontend.Expr{intLit(2)}}},
			Finally: nil,
		},
	}
	g := cfg.NewBuilder().BuildProgram(&frontend.Program{Main: stmts, Labels: map[string]int{}}).Main

	ce, b, _ := newEmitterPair(false)
	b.EmitFunctionStart("main", "w", nil)
	ce.EmitGraph(g, EntryMain, nil, false)
	b.EmitFunctionEnd()

	assert.Contains(t, b.String(), "rt_try_enter")
}

// TestEarlyReturnInsideFunctionTerminatesItsBlock guards against an early
// RETURN inside an IF (i.e. not the function's last statement) emitting a
// block with statements but no terminator — malformed IL that cannot
// assemble.
func TestEarlyReturnInsideFunctionTerminatesItsBlock(t *testing.T) {
	fn := &frontend.FuncDecl{
		Name: "Pick",
		Kind: frontend.KindFunction,
		Body: []frontend.Stmt{
			&frontend.IfStmt{
				Cond: intLit(1),
				Then: []frontend.Stmt{
					&frontend.ReturnStmt{Kind: frontend.ReturnFromFunc, Value: intLit(1)},
				},
			},
			&frontend.ReturnStmt{Kind: frontend.ReturnFromFunc, Value: intLit(2)},
		},
	}
	g := cfg.NewBuilder().BuildFunction(fn)

	ce, b, _ := newEmitterPair(false)
	ce.RetValAddr = "$retval_pick"
	b.EmitFunctionStart("fb_func_pick", "l", nil)
	ce.EmitGraph(g, EntryFunction, nil, false)
	b.EmitFunctionEnd()

	out := b.String()
	// The THEN branch's early RETURN stores into the implicit return slot
	// and then terminates its own block with a load-and-ret, the same
	// sequence the fall-off-the-end case uses.
	assert.Contains(t, out, "storel 1, $retval_pick")
	assert.GreaterOrEqual(t, strings.Count(out, "ret %t."), 2)
}

func TestUnitCompileProducesNonEmptyIL(t *testing.T) {
	v := &frontend.VarRef{Name: "X", Global: true}
	v.Info = sem(intType())
	lit := intLit(7)

	prog := &frontend.Program{
		Main: []frontend.Stmt{
			&frontend.DimStmt{Name: "X", Type: intType()},
			&frontend.LetStmt{Target: v, Value: lit},
			&frontend.PrintStmt{Args: []frontend.Expr{v}, Newline: true},
		},
		Labels: map[string]int{},
	}

	u := NewUnit(false, 0)
	out := u.Compile(prog)

	assert.Contains(t, out, "function w $main()")
	assert.Contains(t, out, "data $gosub_sp")
	assert.Contains(t, out, "data $gosub_stack")
}
