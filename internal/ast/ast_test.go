package ast

import (
	"strings"
	"testing"

	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/il"
	"github.com/fasterbasic/fbc/internal/rtlib"
	"github.com/fasterbasic/fbc/internal/symbols"
	"github.com/fasterbasic/fbc/internal/types"
	"github.com/stretchr/testify/assert"
)

// newEmitter opens a function/label on a fresh Builder so emission has a
// valid context, mirroring internal/rtlib's test helper.
func newEmitter(sammEnabled bool) (*Emitter, *il.Builder) {
	b := il.NewBuilder()
	b.EmitFunctionStart("test", "l", nil)
	b.EmitLabel("start")
	sym := symbols.NewMapper()
	rt := rtlib.New(b)
	return New(b, sym, rt, sammEnabled), b
}

func sem(t types.Type) frontend.SemInfo { return frontend.SemInfo{Type: t} }

func intType() types.Type    { return types.Type{Kind: types.KindInt} }
func stringType() types.Type { return types.Type{Kind: types.KindString} }
func doubleType() types.Type { return types.Type{Kind: types.KindDouble} }

func TestEmitIntLiteral(t *testing.T) {
	e, _ := newEmitter(false)
	v := e.EmitExpr(&frontend.IntLit{Value: 42})
	assert.Equal(t, "42", v)
}

func TestEmitVarRefLoadsGlobal(t *testing.T) {
	e, b := newEmitter(false)
	ref := &frontend.VarRef{Name: "X", Global: true}
	ref.Info = sem(intType())
	v := e.EmitExpr(ref)
	assert.Contains(t, v, "%t.")
	assert.Contains(t, b.String(), "loadw")
}

func TestEmitBinaryAddPromotesAndEmitsAdd(t *testing.T) {
	e, b := newEmitter(false)
	left := &frontend.IntLit{Value: 1}
	left.Info = sem(intType())
	right := &frontend.IntLit{Value: 2}
	right.Info = sem(intType())
	bin := &frontend.BinaryExpr{Op: "+", Left: left, Right: right}
	bin.Info = sem(intType())

	e.EmitExpr(bin)
	assert.Contains(t, b.String(), "add 1, 2")
}

func TestEmitBinaryStringConcatCallsRuntime(t *testing.T) {
	e, b := newEmitter(false)
	left := &frontend.StringLit{Value: "a"}
	left.Info = sem(stringType())
	right := &frontend.StringLit{Value: "b"}
	right.Info = sem(stringType())
	bin := &frontend.BinaryExpr{Op: "+", Left: left, Right: right}
	bin.Info = sem(stringType())

	e.EmitExpr(bin)
	assert.Contains(t, b.String(), "$rt_string_concat")
}

func TestEmitUnaryNotXorsWithMinusOne(t *testing.T) {
	e, b := newEmitter(false)
	operand := &frontend.IntLit{Value: 1}
	operand.Info = sem(intType())
	u := &frontend.UnaryExpr{Op: "NOT", Expr: operand}
	u.Info = sem(intType())

	e.EmitExpr(u)
	assert.Contains(t, b.String(), "xor 1, -1")
}

func TestArrayAccessAddressIsCachedUntilInvalidated(t *testing.T) {
	e, b := newEmitter(false)
	arrRef := &frontend.VarRef{Name: "ARR", Global: true}
	arrRef.Info = sem(types.Type{Kind: types.KindLong})
	idx := &frontend.IntLit{Value: 0}
	idx.Info = sem(intType())
	access := &frontend.ArrayAccessExpr{Array: arrRef, Indices: []frontend.Expr{idx}}
	access.Info = sem(intType())

	e.EmitExpr(access)
	e.EmitExpr(access)
	assert.Equal(t, 1, strings.Count(b.String(), "rt_array_get_address"), "second access should reuse the cached address, not recompute it")

	e.invalidateArrayCache("ARR")
	assert.Empty(t, e.addrCache)
}

func TestEmitLetScalarAssignStoresRefcountedString(t *testing.T) {
	e, b := newEmitter(false)
	target := &frontend.VarRef{Name: "S", Global: true}
	target.Info = sem(stringType())
	value := &frontend.StringLit{Value: "hi"}
	value.Info = sem(stringType())

	e.EmitStmt(&frontend.LetStmt{Target: target, Value: value})

	out := b.String()
	assert.Contains(t, out, "rt_string_retain")
	assert.Contains(t, out, "rt_string_release")
}

func TestEmitPrintInsertsTabBetweenCommaArgs(t *testing.T) {
	e, b := newEmitter(false)
	a := &frontend.IntLit{Value: 1}
	a.Info = sem(intType())
	c := &frontend.IntLit{Value: 2}
	c.Info = sem(intType())

	e.EmitStmt(&frontend.PrintStmt{Args: []frontend.Expr{a, c}, Newline: true})

	out := b.String()
	assert.Contains(t, out, "rt_print_tab")
	assert.Contains(t, out, "rt_print_newline")
}

func TestEmitEndShutsDownSammOnlyWhenEnabled(t *testing.T) {
	disabled, disabledBuilder := newEmitter(false)
	disabled.EmitStmt(&frontend.EndStmt{})
	assert.NotContains(t, disabledBuilder.String(), "samm_shutdown")

	enabled, enabledBuilder := newEmitter(true)
	enabled.EmitStmt(&frontend.EndStmt{})
	assert.Contains(t, enabledBuilder.String(), "samm_shutdown")
}

func TestEmitReturnFromSubRetainsStringAndExitsScope(t *testing.T) {
	e, b := newEmitter(true)
	val := &frontend.StringLit{Value: "x"}
	val.Info = sem(stringType())

	e.EmitStmt(&frontend.ReturnStmt{Kind: frontend.ReturnFromSub, Value: val})

	out := b.String()
	assert.Contains(t, out, "samm_retain_parent")
	assert.Contains(t, out, "samm_exit_scope")
	assert.Contains(t, out, "ret\n")
}

func TestEmitReturnFromSubSkipsSammWhenDisabled(t *testing.T) {
	e, b := newEmitter(false)
	e.EmitStmt(&frontend.ReturnStmt{Kind: frontend.ReturnFromSub})

	out := b.String()
	assert.NotContains(t, out, "samm_retain_parent")
	assert.NotContains(t, out, "samm_exit_scope")
}

func TestEmitDimClassInstanceStoresNullPointer(t *testing.T) {
	e, b := newEmitter(false)
	e.EmitStmt(&frontend.DimStmt{Name: "OBJ", Type: types.Type{Kind: types.KindClassInstance, Name: "Widget"}})

	assert.Contains(t, b.String(), "storel 0,")
}

func TestEmitDimMethodLocalScalarAllocatesStackSlot(t *testing.T) {
	e, b := newEmitter(false)
	e.EmitStmt(&frontend.DimStmt{Name: "N", Type: intType()})

	_, ok := e.methodLocals["N"]
	assert.True(t, ok)
	assert.Contains(t, b.String(), "alloc")
}

func TestEmitCallStmtMangledSubName(t *testing.T) {
	e, b := newEmitter(false)
	e.EmitStmt(&frontend.CallStmt{Callee: "DoThing"})
	assert.Contains(t, b.String(), "$sub_DoThing")
}

func TestEmitCallStmtResolvesPluginBeforeSubName(t *testing.T) {
	e, b := newEmitter(false)
	e.Plugins = map[string]bool{"DoThing": true}
	e.EmitStmt(&frontend.CallStmt{Callee: "DoThing"})

	out := b.String()
	assert.Contains(t, out, "FbContext_GetHandle")
	assert.Contains(t, out, "FbContext_Call")
	assert.Contains(t, out, "FbContext_HasError")
	assert.Contains(t, out, "basic_end")
	assert.Contains(t, out, "FbContext_Release")
	assert.NotContains(t, out, "$sub_DoThing")
}

func TestEmitCallFallsThroughFromErrorLabelToOkLabel(t *testing.T) {
	e, b := newEmitter(false)
	e.Plugins = map[string]bool{"Widget": true}
	call := &frontend.CallExpr{Callee: "Widget"}
	call.Info = sem(intType())

	e.EmitExpr(call)

	out := b.String()
	errIdx := strings.Index(out, "\n@plugin_err")
	endIdx := strings.Index(out, "basic_end")
	jmpIdx := strings.Index(out, "jmp @plugin_ok")
	okIdx := strings.Index(out, "\n@plugin_ok")
	if errIdx == -1 || endIdx == -1 || jmpIdx == -1 || okIdx == -1 {
		t.Fatalf("expected err label, basic_end call, fallthrough jmp, and ok label all present, got:\n%s", out)
	}
	assert.True(t, errIdx < endIdx && endIdx < jmpIdx && jmpIdx < okIdx)
}

func TestNonPluginCallDoesNotTouchFbContext(t *testing.T) {
	e, b := newEmitter(false)
	call := &frontend.CallExpr{Callee: "Widget"}
	call.Info = sem(intType())

	e.EmitExpr(call)

	assert.NotContains(t, b.String(), "FbContext")
}

func TestMethodCallEmitsIndirectCallThroughRegister(t *testing.T) {
	e, b := newEmitter(false)
	obj := &frontend.VarRef{Name: "OBJ", Global: true}
	obj.Info = sem(types.Type{Kind: types.KindClassInstance, Name: "Widget"})
	call := &frontend.MethodCallExpr{Object: obj, Method: "Go"}
	call.Info = sem(intType())

	e.EmitExpr(call)

	out := b.String()
	lines := strings.Split(out, "\n")
	var callLine string
	for _, l := range lines {
		if strings.Contains(l, "call %t.") {
			callLine = l
		}
	}
	assert.NotEmpty(t, callLine, "expected an indirect call through a bare register temp, got: %s", out)
}

func TestNoWarningsForWellFormedEmission(t *testing.T) {
	e, b := newEmitter(false)
	lit := &frontend.IntLit{Value: 7}
	lit.Info = sem(intType())
	e.EmitExpr(lit)
	assert.Empty(t, b.Warnings())
}
