package ast

import (
	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/types"
)

// varSlotAddr resolves a FOR loop variable's storage address: a
// method-local slot if one was DIM'd or bound as a parameter, otherwise
// its mangled global/local name.
func (e *Emitter) varSlotAddr(v frontend.Expr) (string, types.Type) {
	ref, ok := v.(*frontend.VarRef)
	if !ok {
		e.B.EmitComment("ERROR: FOR loop variable is not a simple reference")
		return "0", types.Type{Kind: types.KindInt}
	}
	if local, ok := e.methodLocals[ref.Name]; ok {
		return local.slotAddr, local.baseType
	}
	return e.Sym.Mangle(ref.Name, ref.Global), exprType(ref)
}

func (e *Emitter) forSlotsFor(ref *frontend.VarRef) forSlotPair {
	return e.forLoopSlots(e.Sym.Mangle(ref.Name, ref.Global))
}

// EmitForInit evaluates FROM/TO/STEP exactly once — storing the initial
// value into the loop variable and the limit/step into the slots
// Emitter.forLoopSlots allocates on first use — so later
// iterations re-read the slots instead of re-evaluating potentially
// side-effecting TO/STEP expressions.
func (e *Emitter) EmitForInit(varExpr, from, to, step frontend.Expr) {
	ref, ok := varExpr.(*frontend.VarRef)
	if !ok {
		e.B.EmitComment("ERROR: FOR loop variable is not a simple reference")
		return
	}
	addr, t := e.varSlotAddr(varExpr)
	slots := e.forSlotsFor(ref)
	ilType := types.ILCode(t)

	initV := e.EmitExpr(from)
	e.B.EmitStore(ilType, initV, addr)

	limitV := e.EmitExpr(to)
	e.B.EmitStore(ilType, limitV, slots.limitAddr)

	stepV := "1"
	if step != nil {
		stepV = e.EmitExpr(step)
	}
	e.B.EmitStore(ilType, stepV, slots.stepAddr)
}

// EmitForContinue re-reads the loop variable and the loop's limit
// slot and returns a boolean temporary testing the loop's continuation
// condition. STEP's sign decides the comparison direction (<= ascending,
// >= descending); since STEP may be a non-constant expression, the sign
// test and both comparisons are computed unconditionally and combined
// arithmetically rather than via a nested branch inside the already-
// branching header block.
func (e *Emitter) EmitForContinue(varExpr, to frontend.Expr) string {
	ref, ok := varExpr.(*frontend.VarRef)
	if !ok {
		e.B.EmitComment("ERROR: FOR loop variable is not a simple reference")
		return "0"
	}
	addr, t := e.varSlotAddr(varExpr)
	slots := e.forSlotsFor(ref)
	ilType := types.ILCode(t)

	cur := e.B.NewTemp()
	e.B.EmitLoad(cur, ilType, addr)
	limit := e.B.NewTemp()
	e.B.EmitLoad(limit, ilType, slots.limitAddr)
	stepV := e.B.NewTemp()
	e.B.EmitLoad(stepV, ilType, slots.stepAddr)

	stepNonNeg := e.B.NewTemp()
	e.B.EmitCompare(stepNonNeg, ilType, "ge", stepV, "0")
	ascCond := e.B.NewTemp()
	e.B.EmitCompare(ascCond, ilType, "le", cur, limit)
	descCond := e.B.NewTemp()
	e.B.EmitCompare(descCond, ilType, "ge", cur, limit)

	// dst = descCond + stepNonNeg*(ascCond - descCond)
	diff := e.B.NewTemp()
	e.B.EmitBinary(diff, "w", "sub", ascCond, descCond)
	scaled := e.B.NewTemp()
	e.B.EmitBinary(scaled, "w", "mul", diff, stepNonNeg)
	dst := e.B.NewTemp()
	e.B.EmitBinary(dst, "w", "add", descCond, scaled)
	return dst
}

// EmitForIncrement advances the loop variable by the loop's step slot's
// value.
func (e *Emitter) EmitForIncrement(varExpr, step frontend.Expr) {
	ref, ok := varExpr.(*frontend.VarRef)
	if !ok {
		e.B.EmitComment("ERROR: FOR loop variable is not a simple reference")
		return
	}
	addr, t := e.varSlotAddr(varExpr)
	slots := e.forSlotsFor(ref)
	ilType := types.ILCode(t)

	cur := e.B.NewTemp()
	e.B.EmitLoad(cur, ilType, addr)
	stepV := e.B.NewTemp()
	e.B.EmitLoad(stepV, ilType, slots.stepAddr)
	next := e.B.NewTemp()
	e.B.EmitBinary(next, ilType, "add", cur, stepV)
	e.B.EmitStore(ilType, next, addr)
}
