// Package codegen implements the CFG Emitter (component I) and the
// top-level orchestrator (component J): walking a built cfg.Graph in
// ascending block-ID order, hoisting the per-function preamble into block
// 0, lowering each block's statements via internal/ast's Emitter, and
// synthesizing a terminator instruction from the block's typed out-edges
// (spec.md §4.I).
package codegen

import (
	"fmt"
	"sort"

	"github.com/fasterbasic/fbc/internal/ast"
	"github.com/fasterbasic/fbc/internal/cfg"
	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/il"
	"github.com/fasterbasic/fbc/internal/rtlib"
	"github.com/fasterbasic/fbc/internal/symbols"
	"github.com/fasterbasic/fbc/internal/types"
)

// EntryKind distinguishes the three emittable bodies: the top-level
// program, a FUNCTION, and a SUB (DEF FN reuses the FUNCTION shape).
type EntryKind int

const (
	EntryMain EntryKind = iota
	EntryFunction
	EntrySub
)

// DefaultGosubStackDepth bounds the GOSUB return stack, per spec.md's
// "bounded depth, configured at codegen time".
const DefaultGosubStackDepth = 256

// Emitter drives one function's (or the main program's) CFG traversal. A
// fresh Emitter wraps a fresh internal/ast.Emitter per function, since
// both carry function-scoped state.
type Emitter struct {
	B   *il.Builder
	Sym *symbols.Mapper
	RT  *rtlib.Library
	AST *ast.Emitter

	// RetValAddr mirrors internal/ast.Emitter.RetValAddr — the CFG
	// Emitter needs its own copy to lower the fall-off-the-end-of-
	// function exit for EntryFunction, since that codepath never goes
	// through internal/ast's statement lowering.
	RetValAddr string

	gosubStackDepth int

	// Diagnostics accumulates one Diagnostic per malformed-CFG case this
	// Emitter recovers from by emitting an inline "; ERROR: ..." comment
	// instead of aborting — codegen diagnostics stay data, never a Go
	// error, so a caller can report every one found in a single pass.
	Diagnostics []Diagnostic
}

// Diagnostic records one non-fatal codegen-time defect: the block it was
// found in and a human-readable message. The same text is also emitted
// inline as an IL comment at Block's terminator.
type Diagnostic struct {
	Block   int
	Message string
}

func (e *Emitter) diag(block int, format string, args ...any) {
	e.Diagnostics = append(e.Diagnostics, Diagnostic{Block: block, Message: fmt.Sprintf(format, args...)})
}

// NewEmitter constructs a CFG Emitter bound to the given collaborators.
func NewEmitter(b *il.Builder, sym *symbols.Mapper, rt *rtlib.Library, a *ast.Emitter) *Emitter {
	return &Emitter{B: b, Sym: sym, RT: rt, AST: a, gosubStackDepth: DefaultGosubStackDepth}
}

// EmitGraph lowers one CFG to IL: the function/main bracketing is the
// caller's responsibility (internal/codegen's toplevel.go calls
// EmitFunctionStart/EmitFunctionEnd around this), but block traversal,
// entry-block hoisting, and terminator synthesis happen here.
//
// params is nil for EntryMain. sammEnabled selects whether block 0 of a
// FUNCTION or SUB body enters a SAMM scope.
func (e *Emitter) EmitGraph(g *cfg.Graph, kind EntryKind, params []frontend.Param, sammEnabled bool) {
	for i, blk := range g.Blocks {
		e.B.EmitLabel(e.Sym.BlockLabel(blk.ID))
		if i == 0 {
			e.hoistPreamble(kind, params, sammEnabled)
		}
		e.emitBlockBody(blk)
		e.emitTerminator(g, blk, kind)
	}
}

// hoistPreamble emits, in block 0 only: the SAMM scope-entry call, and
// parameter stack slots (each parameter gets an alloc'd slot so it reads
// as an ordinary modifiable local — spec.md §4.I step 2).
func (e *Emitter) hoistPreamble(kind EntryKind, params []frontend.Param, sammEnabled bool) {
	if kind != EntryMain && sammEnabled {
		e.RT.SammEnterScope()
	}
	for _, p := range params {
		slot := e.B.NewTemp()
		e.B.EmitAlloc(slot, types.AlignOf(p.Type), types.SizeOf(p.Type))
		e.B.EmitStore(types.ILCode(p.Type), "%"+p.Name, slot)
		e.AST.BindParamSlot(p.Name, slot, p.Type)
	}
}

// emitBlockBody lowers every non-terminator statement in the block via
// the AST Emitter. Pure control-flow statements (GOTO/LABEL/GOSUB/
// ON-GOTO) are no-ops in internal/ast.Emitter.EmitStmt — their edges are
// what drive emitTerminator below, not their own statement text.
func (e *Emitter) emitBlockBody(blk *cfg.Block) {
	for _, s := range blk.Stmts {
		e.AST.EmitStmt(s)
	}
}

func outEdgesFrom(g *cfg.Graph, blockID int) []cfg.Edge {
	var out []cfg.Edge
	for _, ed := range g.Edges {
		if ed.From == blockID {
			out = append(out, ed)
		}
	}
	return out
}

func hasKind(edges []cfg.Edge, k cfg.EdgeKind) bool {
	for _, e := range edges {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func edgeOfKind(edges []cfg.Edge, k cfg.EdgeKind) (cfg.Edge, bool) {
	for _, e := range edges {
		if e.Kind == k {
			return e, true
		}
	}
	return cfg.Edge{}, false
}

// lastReturnStmt reports the block's trailing RETURN statement, if any.
func lastReturnStmt(blk *cfg.Block) (*frontend.ReturnStmt, bool) {
	for i := len(blk.Stmts) - 1; i >= 0; i-- {
		if r, ok := blk.Stmts[i].(*frontend.ReturnStmt); ok {
			return r, true
		}
	}
	return nil, false
}

// emitTerminator synthesizes this block's exit instruction(s) from its
// out-edges, per spec.md §4.I's seven shapes.
func (e *Emitter) emitTerminator(g *cfg.Graph, blk *cfg.Block, kind EntryKind) {
	outs := outEdgesFrom(g, blk.ID)

	switch {
	case len(outs) == 0:
		e.emitExit(kind)

	case hasKind(outs, cfg.CALL):
		e.emitGosubCall(g, blk, outs)

	case hasKind(outs, cfg.RETURN):
		e.emitReturnEdge(g, blk, kind)

	case len(outs) == 1:
		e.emitSingleSuccessor(blk, outs[0])

	case len(outs) == 2 && hasKind(outs, cfg.CONDITIONAL_TRUE) && hasKind(outs, cfg.CONDITIONAL_FALSE):
		e.emitConditional(blk, outs)

	case hasKind(outs, cfg.EXCEPTION):
		// TRY block: register the catch target with the runtime's
		// exception guard, then fall through/jump as normal — BASIC TRY
		// bodies are swallowed-by-default (spec.md's "nothing uses
		// exceptions for flow control" posture) so the compiled structure
		// only needs the guard registered, not an explicit branch.
		exc, _ := edgeOfKind(outs, cfg.EXCEPTION)
		e.RT.TryEnter(e.Sym.BlockLabel(exc.To))
		if fall, ok := edgeOfKind(outs, cfg.FALLTHROUGH); ok {
			e.B.EmitJump(e.Sym.BlockLabel(fall.To))
		} else if jmp, ok := edgeOfKind(outs, cfg.JUMP); ok {
			e.B.EmitJump(e.Sym.BlockLabel(jmp.To))
		}

	default:
		e.emitMultiway(blk, outs)
	}
}

// emitExit lowers the fall-off-the-end-of-the-function case: `ret 0` for
// main, load-and-return the implicit return variable for FUNCTIONs, bare
// `ret` for SUBs. emitReturnEdge also calls this directly for an explicit
// early RETURN inside a FUNCTION, since both need the identical
// load-and-return sequence. For FUNCTIONs and SUBs with SAMM enabled, the
// scope hoistPreamble entered is exited first.
func (e *Emitter) emitExit(kind EntryKind) {
	if kind != EntryMain && e.AST.SammEnabled {
		e.RT.SammExitScope()
	}
	switch kind {
	case EntryMain:
		e.B.EmitReturn("0")
	case EntryFunction:
		addr := e.RetValAddr
		if addr == "" {
			addr = "$__retval"
		}
		v := e.B.NewTemp()
		e.B.EmitLoad(v, "l", addr)
		e.B.EmitReturn(v)
	case EntrySub:
		e.B.EmitReturn("")
	}
}

// emitGosubCall lowers a GOSUB site: push the return-point block's ID
// onto the global GOSUB stack, then jump to the subroutine entry.
func (e *Emitter) emitGosubCall(g *cfg.Graph, blk *cfg.Block, outs []cfg.Edge) {
	callEdge, _ := edgeOfKind(outs, cfg.CALL)
	fallEdge, hasFall := edgeOfKind(outs, cfg.FALLTHROUGH)
	if !hasFall {
		fallEdge, _ = edgeOfKind(outs, cfg.JUMP)
	}
	e.emitGosubPush(fallEdge.To)
	e.B.EmitJump(e.Sym.BlockLabel(callEdge.To))
}

// emitReturnEdge lowers a block ending in a RETURN statement. A
// ReturnFromGosub statement carries no IL of its own (internal/ast's
// Emitter is a no-op for it) — here it becomes the sparse return-stack
// dispatch. ReturnFromSub already emitted its own bare `ret` while
// internal/ast.Emitter lowered the statement body, so there is nothing
// further to synthesize for it. ReturnFromFunc only stored the return
// expression into the implicit return variable (internal/ast.Emitter
// never terminates the block itself) — this synthesizes the same
// load-and-return emitExit uses for the fall-off-the-end case, so an
// early RETURN inside a FUNCTION gets a real terminator instead of a
// block with no exit instruction.
func (e *Emitter) emitReturnEdge(g *cfg.Graph, blk *cfg.Block, kind EntryKind) {
	ret, ok := lastReturnStmt(blk)
	if !ok {
		return
	}
	switch ret.Kind {
	case frontend.ReturnFromGosub:
		e.emitGosubDispatch(g)
	case frontend.ReturnFromFunc:
		e.emitExit(EntryFunction)
	}
}

// emitGosubPush stores targetBlockID into the GOSUB return stack at the
// current stack pointer and increments it.
func (e *Emitter) emitGosubPush(targetBlockID int) {
	sp := e.B.NewTemp()
	e.B.EmitLoad(sp, "w", "$gosub_sp")
	offset := e.B.NewTemp()
	e.B.EmitBinary(offset, "l", "extsw", sp, "")
	scaled := e.B.NewTemp()
	e.B.EmitBinary(scaled, "l", "mul", offset, "4")
	addr := e.B.NewTemp()
	e.B.EmitBinary(addr, "l", "add", "$gosub_stack", scaled)
	e.B.EmitStore("w", fmt.Sprintf("%d", targetBlockID), addr)

	sp2 := e.B.NewTemp()
	e.B.EmitBinary(sp2, "w", "add", sp, "1")
	e.B.EmitStore("w", sp2, "$gosub_sp")
}

// emitGosubPop decrements the stack pointer and loads the popped block
// ID into a fresh temporary.
func (e *Emitter) emitGosubPop() string {
	sp := e.B.NewTemp()
	e.B.EmitLoad(sp, "w", "$gosub_sp")
	sp2 := e.B.NewTemp()
	e.B.EmitBinary(sp2, "w", "sub", sp, "1")
	e.B.EmitStore("w", sp2, "$gosub_sp")

	offset := e.B.NewTemp()
	e.B.EmitBinary(offset, "l", "extsw", sp2, "")
	scaled := e.B.NewTemp()
	e.B.EmitBinary(scaled, "l", "mul", offset, "4")
	addr := e.B.NewTemp()
	e.B.EmitBinary(addr, "l", "add", "$gosub_stack", scaled)

	id := e.B.NewTemp()
	e.B.EmitLoad(id, "w", addr)
	return id
}

// emitGosubDispatch pops the return-block ID and branches to the matching
// block among g.GosubReturnBlocks, falling through to a diagnostic +
// `ret 0` if the popped ID matches none of them.
func (e *Emitter) emitGosubDispatch(g *cfg.Graph) {
	id := e.emitGosubPop()

	var targets []int
	for blockID := range g.GosubReturnBlocks {
		targets = append(targets, blockID)
	}
	sort.Ints(targets)

	for _, tgt := range targets {
		matchLbl := e.Sym.NewLabel("gosub_dispatch_match")
		nextLbl := e.Sym.NewLabel("gosub_dispatch_next")
		cmp := e.B.NewTemp()
		e.B.EmitCompare(cmp, "w", "eq", id, fmt.Sprintf("%d", tgt))
		e.B.EmitBranch(cmp, matchLbl, nextLbl)
		e.B.EmitLabel(matchLbl)
		e.B.EmitJump(e.Sym.BlockLabel(tgt))
		e.B.EmitLabel(nextLbl)
	}
	e.RT.RuntimeError(1, "gosub_stack_corrupt")
	e.B.EmitReturn("0")
}

// emitSingleSuccessor handles every block with exactly one out-edge. Two
// loop-control terminator shapes carry a side effect that must execute
// before the jump: ForInitTerminator (evaluate bounds once, store into the
// loop variable and its limit/step slots) and ForIncrTerminator (advance
// the loop variable by the stored step). A lone EXCEPTION edge (a catch
// target never reached structurally) falls through the same as a plain
// FALLTHROUGH/JUMP.
func (e *Emitter) emitSingleSuccessor(blk *cfg.Block, out cfg.Edge) {
	switch term := blk.Terminator.(type) {
	case *cfg.ForInitTerminator:
		e.AST.EmitForInit(term.Var, term.From, term.To, term.Step)
	case *cfg.ForIncrTerminator:
		e.AST.EmitForIncrement(term.Var, term.Step)
	}
	e.B.EmitJump(e.Sym.BlockLabel(out.To))
}

// emitConditional evaluates the block's stored condition (an IfTerminator
// for IF, WhileTerminator for a WHILE header, or ForHeaderTerminator for a
// FOR header — condition evaluation is deferred to this point precisely
// so it lands in the header block rather than the preceding init block)
// and branches to the true/false targets.
func (e *Emitter) emitConditional(blk *cfg.Block, outs []cfg.Edge) {
	trueEdge, _ := edgeOfKind(outs, cfg.CONDITIONAL_TRUE)
	falseEdge, _ := edgeOfKind(outs, cfg.CONDITIONAL_FALSE)

	var cond string
	switch term := blk.Terminator.(type) {
	case *cfg.IfTerminator:
		cond = e.AST.EmitExpr(term.Cond)
	case *cfg.WhileTerminator:
		cond = e.AST.EmitExpr(term.Cond)
	case *cfg.ForHeaderTerminator:
		cond = e.AST.EmitForContinue(term.Var, term.To)
	default:
		e.B.EmitComment("ERROR: conditional block %d has no terminator condition", blk.ID)
		e.diag(blk.ID, "conditional block %d has no terminator condition", blk.ID)
		cond = "0"
	}
	e.B.EmitBranch(cond, e.Sym.BlockLabel(trueEdge.To), e.Sym.BlockLabel(falseEdge.To))
}

// emitMultiway lowers an ON-GOTO/ON-GOSUB block: a value-indexed compare
// chain against 1..N against the selector, falling through to the block
// internal/cfg wires immediately after the ON-GOTO statement (the
// FALLTHROUGH edge) if the selector matches none of the targets.
func (e *Emitter) emitMultiway(blk *cfg.Block, outs []cfg.Edge) {
	if blk.OnGotoSelector == nil {
		e.B.EmitComment("ERROR: multiway block %d has no ON-GOTO selector", blk.ID)
		e.diag(blk.ID, "multiway block %d has no ON-GOTO selector", blk.ID)
		return
	}
	selector := e.AST.EmitExpr(blk.OnGotoSelector)

	var jumpEdges []cfg.Edge
	for _, ed := range outs {
		if ed.Kind == cfg.JUMP || ed.Kind == cfg.CALL {
			jumpEdges = append(jumpEdges, ed)
		}
	}
	fallEdge, hasFall := edgeOfKind(outs, cfg.FALLTHROUGH)

	for i, ed := range jumpEdges {
		caseVal := i + 1
		cmp := e.B.NewTemp()
		e.B.EmitCompare(cmp, "w", "eq", selector, fmt.Sprintf("%d", caseVal))
		matchLbl := e.Sym.NewLabel("on_goto_match")
		nextLbl := e.Sym.NewLabel("on_goto_next")
		e.B.EmitBranch(cmp, matchLbl, nextLbl)
		e.B.EmitLabel(matchLbl)
		if blk.OnGotoIsGosub && hasFall {
			e.emitGosubPush(fallEdge.To)
		}
		e.B.EmitJump(e.Sym.BlockLabel(ed.To))
		e.B.EmitLabel(nextLbl)
	}
	if hasFall {
		e.B.EmitJump(e.Sym.BlockLabel(fallEdge.To))
	}
}
