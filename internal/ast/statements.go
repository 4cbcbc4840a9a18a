package ast

import (
	"fmt"

	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/types"
)

// EmitStmt lowers one statement to IL.
func (e *Emitter) EmitStmt(s frontend.Stmt) {
	switch st := s.(type) {
	case *frontend.LetStmt:
		e.emitLet(st)
	case *frontend.PrintStmt:
		e.emitPrint(st)
	case *frontend.InputStmt:
		e.emitInput(st)
	case *frontend.EndStmt:
		e.emitEnd()
	case *frontend.DimStmt:
		e.emitDim(st)
	case *frontend.RedimStmt:
		e.RT.ArrayRedim(e.Sym.MangleArrayName(st.Name, true), e.evalAll(st.Dims), st.Preserve)
		e.invalidateArrayCache(st.Name)
	case *frontend.EraseStmt:
		e.RT.ArrayErase(e.Sym.ArrayDescriptorName(st.Name))
		e.invalidateArrayCache(st.Name)
	case *frontend.ReturnStmt:
		e.emitReturn(st)
	case *frontend.CallStmt:
		e.emitCallStmt(st)
	case *frontend.GotoStmt, *frontend.LabelStmt, *frontend.GosubStmt, *frontend.OnGotoStmt:
		// Pure control-flow statements carry no lowering of their own —
		// internal/codegen's CFG Emitter synthesizes their terminators
		// directly from the block's out-edges.
	case *frontend.ExprStmt:
		e.EmitExpr(st.Expr)
	default:
		e.B.EmitComment("ERROR: unhandled statement type %T", s)
	}
}

func (e *Emitter) evalAll(exprs []frontend.Expr) []string {
	out := make([]string, len(exprs))
	for i, ex := range exprs {
		out[i] = e.EmitExpr(ex)
	}
	return out
}

// emitLet is the trickiest statement; cases are tried in the order
// spec.md §4.H documents.
func (e *Emitter) emitLet(st *frontend.LetStmt) {
	switch target := st.Target.(type) {
	case *frontend.FieldAccessExpr:
		e.emitFieldAssign(target, st.Value)
		return
	case *frontend.ArrayAccessExpr:
		e.emitArrayElementAssign(target, st.Value)
		return
	case *frontend.VarRef:
		e.emitScalarAssign(target, st.Value)
		return
	default:
		e.B.EmitComment("ERROR: unsupported LET target %T", st.Target)
	}
}

// emitFieldAssign covers cases 1-3: ME.Field, class-instance member
// chains, and UDT member chains, all via static/vtable offset resolution.
func (e *Emitter) emitFieldAssign(target *frontend.FieldAccessExpr, value frontend.Expr) {
	baseType := exprType(target.Object)
	baseAddr := e.EmitExpr(target.Object)

	if baseType.Kind == types.KindClassInstance && !isMe(target.Object) {
		e.emitNullCheck(baseAddr)
	}

	offset := resolveUDTFieldOffset(baseType, target.Field)
	addr := e.B.NewTemp()
	e.B.EmitBinary(addr, "l", "add", baseAddr, fmt.Sprintf("%d", offset))

	fieldType := exprType(target)
	e.storeTyped(addr, fieldType, value)
}

// emitArrayElementAssign covers cases 4 and 7: scalar or UDT array
// elements.
func (e *Emitter) emitArrayElementAssign(target *frontend.ArrayAccessExpr, value frontend.Expr) {
	addr := e.emitArrayElementAddress(target)
	t := exprType(target)
	if t.Kind == types.KindUDT {
		e.copyUDT(addr, e.EmitExpr(value), t)
		return
	}
	e.storeTyped(addr, t, value)
	if ref, ok := target.Array.(*frontend.VarRef); ok {
		e.invalidateArrayCache(ref.Name)
	}
}

// emitArrayElementAddress computes (and caches) an array element's
// address without loading it, for use as an assignment destination.
func (e *Emitter) emitArrayElementAddress(v *frontend.ArrayAccessExpr) string {
	ref, isVar := v.Array.(*frontend.VarRef)
	arrayName := ""
	if isVar {
		arrayName = ref.Name
	}
	key := cacheKey{arrayName: arrayName, indices: flattenIndices(v.Indices)}
	if addr, ok := e.addrCache[key]; ok {
		return addr
	}
	descriptor := e.EmitExpr(v.Array)
	var indexTemps []string
	for _, idx := range v.Indices {
		indexTemps = append(indexTemps, e.EmitExpr(idx))
	}
	addr := e.RT.ArrayGetAddress(descriptor, indexTemps)
	e.addrCache[key] = addr
	return addr
}

// emitScalarAssign covers cases 6 and 8: UDT-to-UDT copy and normal
// scalar assignment, the latter with refcounting-aware string handling.
func (e *Emitter) emitScalarAssign(target *frontend.VarRef, value frontend.Expr) {
	t := exprType(target)

	var addr string
	if local, ok := e.methodLocals[target.Name]; ok {
		addr = local.slotAddr
	} else {
		addr = e.Sym.Mangle(target.Name, target.Global)
	}

	if t.Kind == types.KindUDT {
		e.copyUDT(addr, e.EmitExpr(value), t)
		return
	}
	e.storeTyped(addr, t, value)
}

// storeTyped stores value into addr, applying the refcounting-aware
// retain-then-release ordering for string destinations so self-assignment
// is safe: load old pointer, retain new, store new, release old.
func (e *Emitter) storeTyped(addr string, t types.Type, value frontend.Expr) {
	if t.Kind == types.KindString {
		newPtr := e.EmitExpr(value)
		oldPtr := e.B.NewTemp()
		e.B.EmitLoad(oldPtr, "l", addr)
		retained := e.RT.StringRetain(newPtr)
		e.B.EmitStore("l", retained, addr)
		e.RT.StringRelease(oldPtr)
		return
	}
	v := e.EmitExpr(value)
	e.B.EmitStore(types.ILCode(t), v, addr)
}

// copyUDT copies srcAddr's fields into dstAddr field-by-field, honoring
// string refcounting at every nesting depth.
func (e *Emitter) copyUDT(dstAddr, srcAddr string, t types.Type) {
	for _, f := range t.Fields {
		srcFieldAddr := e.B.NewTemp()
		e.B.EmitBinary(srcFieldAddr, "l", "add", srcAddr, fmt.Sprintf("%d", f.Offset))
		dstFieldAddr := e.B.NewTemp()
		e.B.EmitBinary(dstFieldAddr, "l", "add", dstAddr, fmt.Sprintf("%d", f.Offset))

		if f.Type.Kind == types.KindUDT {
			e.copyUDT(dstFieldAddr, srcFieldAddr, f.Type)
			continue
		}
		if f.Type.Kind == types.KindString {
			newPtr := e.B.NewTemp()
			e.B.EmitLoad(newPtr, "l", srcFieldAddr)
			oldPtr := e.B.NewTemp()
			e.B.EmitLoad(oldPtr, "l", dstFieldAddr)
			retained := e.RT.StringRetain(newPtr)
			e.B.EmitStore("l", retained, dstFieldAddr)
			e.RT.StringRelease(oldPtr)
			continue
		}
		v := e.B.NewTemp()
		e.B.EmitLoad(v, types.ILCode(f.Type), srcFieldAddr)
		e.B.EmitStore(types.ILCode(f.Type), v, dstFieldAddr)
	}
}

// emitPrint dispatches per-item to the corresponding runtime print
// function; comma args insert a tab.
func (e *Emitter) emitPrint(st *frontend.PrintStmt) {
	for i, arg := range st.Args {
		if i > 0 {
			e.RT.PrintTab()
		}
		t := exprType(arg)
		v := e.EmitExpr(arg)
		switch t.Kind {
		case types.KindString:
			e.RT.PrintString(v)
		case types.KindSingle:
			e.RT.PrintFloat(v)
		case types.KindDouble:
			e.RT.PrintDouble(v)
		default:
			e.RT.PrintInt(v)
		}
	}
	if st.Newline {
		e.RT.PrintNewline()
	}
}

// emitInput dispatches per-variable to a typed input runtime.
func (e *Emitter) emitInput(st *frontend.InputStmt) {
	t := exprType(st.Target)
	ref, ok := st.Target.(*frontend.VarRef)
	var addr string
	if ok {
		if local, isLocal := e.methodLocals[ref.Name]; isLocal {
			addr = local.slotAddr
		} else {
			addr = e.Sym.Mangle(ref.Name, ref.Global)
		}
	}
	switch t.Kind {
	case types.KindString:
		e.RT.InputString(addr)
	case types.KindSingle:
		e.RT.InputFloat(addr)
	case types.KindDouble:
		e.RT.InputDouble(addr)
	default:
		e.RT.InputInt(addr)
	}
}

// emitEnd: if SAMM is enabled, emit samm_shutdown first, then return 0.
func (e *Emitter) emitEnd() {
	if e.SammEnabled {
		e.RT.SammShutdown()
	}
	e.B.EmitReturn("0")
}

// emitDim handles arrays, class-instance scalars, and method-local
// scalars per spec.md §4.H's three DIM cases.
func (e *Emitter) emitDim(st *frontend.DimStmt) {
	if len(st.Dims) > 0 {
		e.emitDimArray(st)
		return
	}
	if st.Type.Kind == types.KindClassInstance {
		addr := e.Sym.Mangle(st.Name, true)
		e.B.EmitStore("l", "0", addr)
		return
	}
	// Method-local scalar: allocate a stack slot and register it because
	// the semantic symbol table does not contain it.
	slot := e.B.NewTemp()
	e.B.EmitAlloc(slot, types.AlignOf(st.Type), types.SizeOf(st.Type))
	e.methodLocals[st.Name] = localVar{slotAddr: slot, baseType: st.Type}
}

func (e *Emitter) emitDimArray(st *frontend.DimStmt) {
	boundsAddr := e.sharedSlot("dim_bounds", 8*len(st.Dims))
	for i, d := range st.Dims {
		v := e.EmitExpr(d)
		slotAddr := e.B.NewTemp()
		e.B.EmitBinary(slotAddr, "l", "add", boundsAddr, fmt.Sprintf("%d", i*8))
		e.B.EmitStore("l", v, slotAddr)
	}

	var descriptor string
	if st.Type.Kind == types.KindUDT {
		dims := e.evalAll(st.Dims)
		descriptor = e.RT.ArrayNewCustom(st.Type, len(st.Dims), dims)
	} else {
		total := e.B.NewTemp()
		e.B.EmitBinary(total, "l", "mul", e.EmitExpr(st.Dims[0]), fmt.Sprintf("%d", len(st.Dims)))
		descriptor = e.RT.ArrayNew(st.Type, total)
	}
	e.B.EmitStore("l", descriptor, e.Sym.MangleArrayName(st.Name, true))
}

// emitReturn covers RETURN from GOSUB (lowered entirely by
// internal/codegen from the block's RETURN out-edge — nothing to emit
// here), RETURN from FUNCTION (stores the value into the return slot;
// internal/codegen emits the exit), and RETURN from SUB/METHOD (retains a
// string or object value into the parent scope, exits the SAMM scope,
// and returns).
func (e *Emitter) emitReturn(st *frontend.ReturnStmt) {
	switch st.Kind {
	case frontend.ReturnFromGosub:
		// No IL of its own; the CFG Emitter lowers the RETURN edge.
	case frontend.ReturnFromFunc:
		if st.Value != nil {
			v := e.EmitExpr(st.Value)
			addr := e.RetValAddr
			if addr == "" {
				addr = "$__retval"
			}
			e.B.EmitStore("l", v, addr)
		}
	case frontend.ReturnFromSub:
		if e.SammEnabled {
			if st.Value != nil {
				t := exprType(st.Value)
				if t.Kind == types.KindString || t.Kind == types.KindClassInstance {
					v := e.EmitExpr(st.Value)
					e.RT.SammRetainParent(v)
				}
			}
			e.RT.SammExitScope()
		}
		e.B.EmitReturn("")
	}
}

// emitCallStmt resolves against the plugin registry first; otherwise
// emits a call to the mangled sub name.
func (e *Emitter) emitCallStmt(st *frontend.CallStmt) {
	if e.isPluginFunction(st.Callee) {
		e.emitPluginCall(&frontend.CallExpr{Callee: st.Callee, Args: st.Args})
		return
	}
	args := e.evalAll(st.Args)
	e.B.EmitCall("", "", e.Sym.MangleSubName(st.Callee), args)
}
