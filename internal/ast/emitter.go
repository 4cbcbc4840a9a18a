// Package ast implements the AST Emitter, component H of the compiler:
// lowering frontend expressions and statements to IL, using the IL
// Builder for emission, the Type Manager for typing, the Symbol Mapper
// for names, and the Runtime Library wrapper for runtime calls
// (spec.md §4.H).
package ast

import (
	"fmt"

	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/il"
	"github.com/fasterbasic/fbc/internal/rtlib"
	"github.com/fasterbasic/fbc/internal/symbols"
	"github.com/fasterbasic/fbc/internal/types"
)

// localVar is one entry of the method-local environment: name to slot
// address, base type, and (for CLASS_INSTANCE locals) class name.
type localVar struct {
	slotAddr  string
	baseType  types.Type
	className string
}

// cacheKey identifies one array-element address-cache entry by array name
// and its flattened index expression text.
type cacheKey struct {
	arrayName string
	indices   string
}

// Emitter lowers one function (or the top-level program) body to IL. A
// fresh Emitter is used per function; its scratch slots and
// address cache do not outlive one function's lowering.
type Emitter struct {
	B   *il.Builder
	Sym *symbols.Mapper
	RT  *rtlib.Library

	// SammEnabled gates the samm_* IL calls emitted around END and
	// FUNCTION/METHOD returns; when false those statements lower as if
	// the scope manager were absent, per spec.md's "if SAMM is enabled"
	// conditionals.
	SammEnabled bool

	// RetValAddr is the mangled global slot a FUNCTION's RETURN stores
	// into and the CFG Emitter's fall-off-the-end exit loads from. Set by
	// internal/codegen's top-level orchestrator once per function; empty
	// for SUBs and the main program, which carry no return value.
	RetValAddr string

	// Plugins is the set of callee names the host embedding resolves
	// itself (frontend.Program.Plugins) — checked by emitCall/
	// emitCallStmt against the plugin registry, per spec.md's call
	// resolution order. Set by internal/codegen's top-level orchestrator
	// once per compiled program; a nil map means no plugin registry was
	// supplied, so every call resolves as non-plugin.
	Plugins map[string]bool

	typeOf map[frontend.Expr]types.Type // not consulted: exprType reads only Expr.Sem()

	addrCache map[cacheKey]string

	methodLocals map[string]localVar

	// sharedSlots holds scratch buffers for array bounds/index
	// marshalling, keyed by purpose so repeated DIM/array-access sites
	// reuse the same stack slot. Each is allocated where it is first
	// needed, not hoisted into the entry block.
	sharedSlots map[string]string

	// forSlots holds the limit/step storage for each FOR loop in the
	// function, keyed by the loop variable's mangled name, allocated on
	// first use.
	forSlots map[string]forSlotPair

	entryLabel string
}

type forSlotPair struct {
	limitAddr string
	stepAddr  string
}

// New constructs an Emitter bound to the given collaborators.
// sammEnabled selects whether END/RETURN emit samm_shutdown/
// samm_exit_scope/samm_retain_parent calls.
func New(b *il.Builder, sym *symbols.Mapper, rt *rtlib.Library, sammEnabled bool) *Emitter {
	return &Emitter{
		B:            b,
		Sym:          sym,
		RT:           rt,
		SammEnabled:  sammEnabled,
		addrCache:    make(map[cacheKey]string),
		methodLocals: make(map[string]localVar),
		sharedSlots:  make(map[string]string),
		forSlots:     make(map[string]forSlotPair),
	}
}

// ResetPerFunction clears all function-scoped state (address cache,
// method-local environment, shared slots, FOR slots). internal/codegen's
// top-level orchestrator does not call it; it builds a fresh Emitter per
// function instead.
func (e *Emitter) ResetPerFunction() {
	e.addrCache = make(map[cacheKey]string)
	e.methodLocals = make(map[string]localVar)
	e.sharedSlots = make(map[string]string)
	e.forSlots = make(map[string]forSlotPair)
}

// invalidateArrayCache drops every cache entry for arrayName — called
// whenever a statement could mutate the array or its index variables.
func (e *Emitter) invalidateArrayCache(arrayName string) {
	for k := range e.addrCache {
		if k.arrayName == arrayName {
			delete(e.addrCache, k)
		}
	}
}

// sharedSlot returns the scratch buffer for purpose, allocating it on
// first use in whichever block is being emitted at that point; the alloc
// is not moved into the entry block.
func (e *Emitter) sharedSlot(purpose string, size int) string {
	if addr, ok := e.sharedSlots[purpose]; ok {
		return addr
	}
	addr := e.B.NewTemp()
	e.B.EmitAlloc(addr, 8, size)
	e.sharedSlots[purpose] = addr
	return addr
}

// forLoopSlots returns the limit/step storage for the FOR loop whose
// variable mangles to varName, allocating it on first use in whichever
// block is being emitted at that point (the loop's init block); the
// allocs are not moved into the entry block.
func (e *Emitter) forLoopSlots(varName string) forSlotPair {
	if s, ok := e.forSlots[varName]; ok {
		return s
	}
	s := forSlotPair{
		limitAddr: e.B.NewTemp(),
		stepAddr:  e.B.NewTemp(),
	}
	e.B.EmitAlloc(s.limitAddr, 8, 8)
	e.B.EmitAlloc(s.stepAddr, 8, 8)
	e.forSlots[varName] = s
	return s
}

// BindParamSlot registers a function parameter's stack slot in the
// method-local environment so subsequent VarRef/LET lowering treats it
// like any other local — called by internal/codegen's CFG Emitter once
// per parameter while hoisting the entry block's preamble.
func (e *Emitter) BindParamSlot(name, slotAddr string, t types.Type) {
	e.methodLocals[name] = localVar{slotAddr: slotAddr, baseType: t}
}

// exprType returns an expression's resolved type from its SemInfo.
func exprType(ex frontend.Expr) types.Type {
	return ex.Sem().Type
}

// === Expression emission ===
//
// Every EmitExpr* returns the IL temporary (or, for UDT values, the
// address) holding the result.

// EmitExpr dispatches on the dynamic Expr type and returns the IL
// temporary (or address, for UDT/class values) holding the result.
func (e *Emitter) EmitExpr(ex frontend.Expr) string {
	switch v := ex.(type) {
	case *frontend.IntLit:
		return e.emitIntLiteral(v)
	case *frontend.FloatLit:
		return e.emitFloatLiteral(v)
	case *frontend.StringLit:
		return e.emitStringLiteral(v)
	case *frontend.VarRef:
		return e.emitVarRef(v)
	case *frontend.BinaryExpr:
		return e.emitBinary(v)
	case *frontend.UnaryExpr:
		return e.emitUnary(v)
	case *frontend.ArrayAccessExpr:
		return e.emitArrayAccess(v)
	case *frontend.FieldAccessExpr:
		return e.emitFieldAccess(v)
	case *frontend.MethodCallExpr:
		return e.emitMethodCall(v)
	case *frontend.NewExpr:
		return e.emitNew(v)
	case *frontend.IsExpr:
		return e.emitIs(v)
	case *frontend.SuperExpr:
		return e.emitSuper(v)
	case *frontend.IifExpr:
		return e.emitIif(v)
	case *frontend.CallExpr:
		return e.emitCall(v)
	default:
		e.B.EmitComment("ERROR: unhandled expression type %T", ex)
		return "0"
	}
}

// emitIntLiteral renders an integer literal as its decimal value; the
// literal's SemInfo is not read.
func (e *Emitter) emitIntLiteral(v *frontend.IntLit) string {
	return fmt.Sprintf("%d", v.Value)
}

// emitFloatLiteral: fractional literals default to double.
func (e *Emitter) emitFloatLiteral(v *frontend.FloatLit) string {
	return fmt.Sprintf("d_%g", v.Value)
}

func (e *Emitter) emitStringLiteral(v *frontend.StringLit) string {
	label := e.B.RegisterString(v.Value)
	return e.RT.StringLiteral(label)
}

// emitVarRef loads a variable's storage. UDT values return the struct's
// address (pass-by-reference semantics) rather than a loaded value.
func (e *Emitter) emitVarRef(v *frontend.VarRef) string {
	if local, ok := e.methodLocals[v.Name]; ok {
		if local.baseType.Kind == types.KindUDT {
			return local.slotAddr
		}
		dst := e.B.NewTemp()
		e.B.EmitLoad(dst, types.ILCode(local.baseType), local.slotAddr)
		return dst
	}

	mangled := e.Sym.Mangle(v.Name, v.Global)
	t := exprType(v)
	if t.Kind == types.KindUDT {
		return mangled
	}
	dst := e.B.NewTemp()
	e.B.EmitLoad(dst, types.ILCode(t), mangled)
	return dst
}

// emitBinary computes the operands' common type with types.Promote and
// uses it to select the IL type code and a numeric/string/comparison op.
// It emits no conversion instructions: each operand is used as EmitExpr
// produced it, and the arguments of pow and fmod are not converted to
// double.
func (e *Emitter) emitBinary(v *frontend.BinaryExpr) string {
	lt, rt := exprType(v.Left), exprType(v.Right)
	common := types.Promote(lt, rt)

	left := e.EmitExpr(v.Left)
	right := e.EmitExpr(v.Right)

	if common.Kind == types.KindString {
		switch v.Op {
		case "+":
			return e.RT.StringConcat(left, right)
		default:
			return e.RT.StringCompare(left, right)
		}
	}

	switch v.Op {
	case "^":
		dst := e.B.NewTemp()
		e.B.EmitCall(dst, "d", "pow", []string{left, right})
		return dst
	case "MOD", "mod":
		if common.Kind == types.KindSingle || common.Kind == types.KindDouble {
			dst := e.B.NewTemp()
			e.B.EmitCall(dst, "d", "fmod", []string{left, right})
			return dst
		}
		dst := e.B.NewTemp()
		e.B.EmitBinary(dst, types.ILCode(common), "rem", left, right)
		return dst
	case "=", "<>", "<", ">", "<=", ">=":
		dst := e.B.NewTemp()
		e.B.EmitCompare(dst, types.ILCode(common), cmpOpName(v.Op), left, right)
		return dst
	default:
		dst := e.B.NewTemp()
		e.B.EmitBinary(dst, types.ILCode(common), ilOpName(v.Op), left, right)
		return dst
	}
}

func ilOpName(op string) string {
	switch op {
	case "+":
		return "add"
	case "-":
		return "sub"
	case "*":
		return "mul"
	case "/":
		return "div"
	case "AND", "and":
		return "and"
	case "OR", "or":
		return "or"
	case "XOR", "xor":
		return "xor"
	default:
		return op
	}
}

func cmpOpName(op string) string {
	switch op {
	case "=":
		return "eq"
	case "<>":
		return "ne"
	case "<":
		return "slt"
	case ">":
		return "sgt"
	case "<=":
		return "sle"
	case ">=":
		return "sge"
	default:
		return "eq"
	}
}

// emitUnary: minus negates, NOT coerces to word then XORs with -1, unary
// plus is a no-op.
func (e *Emitter) emitUnary(v *frontend.UnaryExpr) string {
	operandType := exprType(v.Expr)
	operand := e.EmitExpr(v.Expr)
	switch v.Op {
	case "-":
		dst := e.B.NewTemp()
		e.B.EmitNeg(dst, types.ILCode(operandType), operand)
		return dst
	case "NOT", "not":
		dst := e.B.NewTemp()
		e.B.EmitBinary(dst, "w", "xor", operand, "-1")
		return dst
	case "+":
		return operand
	default:
		return operand
	}
}

// emitArrayAccess computes the element address via the runtime
// bounds-aware accessor, caching the address per (array, flattened
// indices) until invalidated.
func (e *Emitter) emitArrayAccess(v *frontend.ArrayAccessExpr) string {
	ref, isVar := v.Array.(*frontend.VarRef)
	arrayName := ""
	if isVar {
		arrayName = ref.Name
	}
	key := cacheKey{arrayName: arrayName, indices: flattenIndices(v.Indices)}
	if addr, ok := e.addrCache[key]; ok {
		return e.loadOrReturn(addr, exprType(v))
	}

	descriptor := e.EmitExpr(v.Array)
	var indexTemps []string
	for _, idx := range v.Indices {
		indexTemps = append(indexTemps, e.EmitExpr(idx))
	}
	addr := e.RT.ArrayGetAddress(descriptor, indexTemps)
	e.addrCache[key] = addr
	return e.loadOrReturn(addr, exprType(v))
}

func (e *Emitter) loadOrReturn(addr string, t types.Type) string {
	if t.Kind == types.KindUDT {
		return addr
	}
	dst := e.B.NewTemp()
	e.B.EmitLoad(dst, types.ILCode(t), addr)
	return dst
}

func flattenIndices(indices []frontend.Expr) string {
	s := ""
	for i, ix := range indices {
		if i > 0 {
			s += ","
		}
		if v, ok := ix.(*frontend.IntLit); ok {
			s += fmt.Sprintf("%d", v.Value)
		} else if v, ok := ix.(*frontend.VarRef); ok {
			s += v.Name
		} else {
			s += "?"
		}
	}
	return s
}

// emitFieldAccess walks the static type chain (UDT) or the vtable (class
// instance) to resolve the final field's address/value.
func (e *Emitter) emitFieldAccess(v *frontend.FieldAccessExpr) string {
	baseType := exprType(v.Object)
	baseAddr := e.EmitExpr(v.Object)

	if baseType.Kind == types.KindClassInstance {
		if !isMe(v.Object) {
			e.emitNullCheck(baseAddr)
		}
		fieldOffset := e.resolveClassFieldOffset(baseType, v.Field)
		addr := e.B.NewTemp()
		e.B.EmitBinary(addr, "l", "add", baseAddr, fmt.Sprintf("%d", fieldOffset))
		return e.loadOrReturn(addr, exprType(v))
	}

	offset := resolveUDTFieldOffset(baseType, v.Field)
	addr := e.B.NewTemp()
	e.B.EmitBinary(addr, "l", "add", baseAddr, fmt.Sprintf("%d", offset))
	return e.loadOrReturn(addr, exprType(v))
}

func isMe(ex frontend.Expr) bool {
	v, ok := ex.(*frontend.VarRef)
	return ok && v.Name == "ME"
}

func (e *Emitter) emitNullCheck(addr string) {
	e.RT.RuntimeError0IfNull(addr)
}

func resolveUDTFieldOffset(t types.Type, field string) int {
	for _, f := range t.Fields {
		if f.Name == field {
			return f.Offset
		}
	}
	return 0
}

// resolveClassFieldOffset mirrors resolveUDTFieldOffset but is named
// separately because class field layout additionally reserves offset 0
// for the vtable pointer; the Type Manager lays both out identically, so
// this delegates, kept distinct to document the difference in contract.
func (e *Emitter) resolveClassFieldOffset(t types.Type, field string) int {
	return resolveUDTFieldOffset(t, field)
}

// emitMethodCall: null-check, load vtable, index into vtable at the
// method's slot offset, indirect call with ME as the implicit first
// argument.
func (e *Emitter) emitMethodCall(v *frontend.MethodCallExpr) string {
	recv := e.EmitExpr(v.Object)
	if !isMe(v.Object) {
		e.emitNullCheck(recv)
	}
	vtable := e.B.NewTemp()
	e.B.EmitLoad(vtable, "l", recv)

	slot := e.methodSlotOffset(v.Method)
	slotAddr := e.B.NewTemp()
	e.B.EmitBinary(slotAddr, "l", "add", vtable, fmt.Sprintf("%d", slot))
	fnPtr := e.B.NewTemp()
	e.B.EmitLoad(fnPtr, "l", slotAddr)

	args := []string{recv}
	for _, a := range v.Args {
		args = append(args, e.EmitExpr(a))
	}
	dst := e.B.NewTemp()
	e.B.EmitCall(dst, "l", fnPtr, args)
	return dst
}

// methodSlotOffset is a placeholder vtable-slot resolver; a full class
// metadata table is outside this component's scope (spec.md treats class
// layout as semantic-pass output), so every method call resolves to slot
// 0 without such a table wired in.
func (e *Emitter) methodSlotOffset(method string) int { return 0 }

// emitNew calls runtime class_object_new(size, vtable, class_id) then
// dispatches to the constructor with the allocated object as the first
// argument.
func (e *Emitter) emitNew(v *frontend.NewExpr) string {
	obj := e.B.NewTemp()
	e.B.EmitCall(obj, "l", "class_object_new", []string{
		fmt.Sprintf("$size_%s", v.TypeName),
		fmt.Sprintf("$vtable_%s", v.TypeName),
		fmt.Sprintf("$classid_%s", v.TypeName),
	})
	args := []string{obj}
	for _, a := range v.Args {
		args = append(args, e.EmitExpr(a))
	}
	e.B.EmitCall("", "", e.Sym.MangleSubName(v.TypeName+"_ctor"), args)
	return obj
}

// emitIs: `obj IS ClassName` is a runtime class_is_instance call; `obj IS
// NOTHING` is a null comparison.
func (e *Emitter) emitIs(v *frontend.IsExpr) string {
	left := e.EmitExpr(v.Left)
	if lit, ok := v.Right.(*frontend.VarRef); ok && lit.Name == "NOTHING" {
		dst := e.B.NewTemp()
		e.B.EmitCompare(dst, "w", "eq", left, "0")
		return dst
	}
	right := e.EmitExpr(v.Right)
	dst := e.B.NewTemp()
	e.B.EmitCall(dst, "w", "class_is_instance", []string{left, right})
	return dst
}

// emitSuper: direct (non-virtual) call to the parent class's mangled
// method name.
func (e *Emitter) emitSuper(v *frontend.SuperExpr) string {
	args := []string{"%me"}
	for _, a := range v.Args {
		args = append(args, e.EmitExpr(a))
	}
	dst := e.B.NewTemp()
	e.B.EmitCall(dst, "l", e.Sym.MangleSubName("super_"+v.Method), args)
	return dst
}

// emitIif synthesizes true/false blocks, evaluates each branch into a
// pre-allocated result temporary, joined at an end label.
func (e *Emitter) emitIif(v *frontend.IifExpr) string {
	resultAddr := e.sharedSlot("iif_result", 8)
	cond := e.EmitExpr(v.Cond)

	trueLbl := e.Sym.NewLabel("iif_true")
	falseLbl := e.Sym.NewLabel("iif_false")
	endLbl := e.Sym.NewLabel("iif_end")

	e.B.EmitBranch(cond, trueLbl, falseLbl)

	e.B.EmitLabel(trueLbl)
	tv := e.EmitExpr(v.Then)
	e.B.EmitStore("l", tv, resultAddr)
	e.B.EmitJump(endLbl)

	e.B.EmitLabel(falseLbl)
	fv := e.EmitExpr(v.Else)
	e.B.EmitStore("l", fv, resultAddr)
	e.B.EmitJump(endLbl)

	e.B.EmitLabel(endLbl)
	dst := e.B.NewTemp()
	e.B.EmitLoad(dst, "l", resultAddr)
	return dst
}

// emitCall resolves against intrinsics, plugin registry, then
// user-defined functions.
func (e *Emitter) emitCall(v *frontend.CallExpr) string {
	if intrinsic, ok := intrinsicRuntimeName(v.Callee); ok {
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = e.EmitExpr(a)
		}
		dst := e.B.NewTemp()
		e.B.EmitCall(dst, "l", intrinsic, args)
		return dst
	}
	if e.isPluginFunction(v.Callee) {
		return e.emitPluginCall(v)
	}

	args := make([]string, len(v.Args))
	for i, a := range v.Args {
		args[i] = e.EmitExpr(a)
	}
	dst := e.B.NewTemp()
	e.B.EmitCall(dst, "l", e.Sym.MangleFunctionName(v.Callee), args)
	return dst
}

func intrinsicRuntimeName(callee string) (string, bool) {
	switch callee {
	case "LEN", "CHR", "MID", "LEFT", "RIGHT", "ABS", "SQR":
		return "rt_" + callee, true
	default:
		return "", false
	}
}

func (e *Emitter) isPluginFunction(callee string) bool { return e.Plugins[callee] }

// emitPluginCall marshals args into a runtime "context" object, invokes
// via function pointer, checks the error flag, extracts the return
// value, destroys the context.
//
// The error branch's basic_end call does not itself terminate emitted
// control flow: generation falls through into the "no error" label
// regardless, exactly mirroring the source this was derived from. The
// intent of that dead branch is unclear there; it is preserved as-is
// rather than guessed at.
func (e *Emitter) emitPluginCall(v *frontend.CallExpr) string {
	handle := e.RT.FbContextGetHandle()
	args := make([]string, len(v.Args))
	for i, a := range v.Args {
		args[i] = e.EmitExpr(a)
	}
	result := e.RT.FbContextCall(handle, v.Callee, args)

	hasErr := e.RT.FbContextHasError(handle)
	errLbl := e.Sym.NewLabel("plugin_err")
	okLbl := e.Sym.NewLabel("plugin_ok")
	e.B.EmitBranch(hasErr, errLbl, okLbl)

	e.B.EmitLabel(errLbl)
	e.RT.BasicEnd("1")
	e.B.EmitJump(okLbl)

	e.B.EmitLabel(okLbl)
	e.RT.FbContextRelease(handle)
	return result
}
