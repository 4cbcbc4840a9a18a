// Package rtlib is a thin façade over internal/il that knows the calling
// convention of each FasterBASIC runtime intrinsic (PRINT, string ops,
// array ops, math, INPUT) so internal/ast never hand-assembles a raw
// emit_call with a runtime function name string (spec.md §4.F).
package rtlib

import (
	"fmt"

	"github.com/fasterbasic/fbc/internal/il"
	"github.com/fasterbasic/fbc/internal/types"
)

// Library wraps an internal/il.Builder with one Go method per canonical
// runtime call.
type Library struct {
	b *il.Builder
}

// New constructs a Library bound to an IL Builder.
func New(b *il.Builder) *Library {
	return &Library{b: b}
}

func (l *Library) call(name, retType string, args ...string) string {
	if retType == "" {
		l.b.EmitCall("", "", name, args)
		return ""
	}
	dst := l.b.NewTemp()
	l.b.EmitCall(dst, retType, name, args)
	return dst
}

// === Print/Output ===

// PrintInt emits a call to rt_print_int, passing value unchanged (no
// widening is emitted).
func (l *Library) PrintInt(value string) {
	l.call("rt_print_int", "", value)
}

func (l *Library) PrintFloat(value string) {
	l.call("rt_print_float", "", value)
}

func (l *Library) PrintDouble(value string) {
	l.call("rt_print_double", "", value)
}

func (l *Library) PrintString(strPtr string) {
	l.call("rt_print_string", "", strPtr)
}

func (l *Library) PrintNewline() {
	l.call("rt_print_newline", "")
}

func (l *Library) PrintTab() {
	l.call("rt_print_tab", "")
}

// === String operations ===

func (l *Library) StringConcat(left, right string) string {
	return l.call("rt_string_concat", "l", left, right)
}

func (l *Library) StringLen(strPtr string) string {
	return l.call("rt_string_len", "w", strPtr)
}

func (l *Library) Chr(charCode string) string {
	return l.call("rt_chr", "l", charCode)
}

func (l *Library) Asc(strPtr string) string {
	return l.call("rt_asc", "w", strPtr)
}

// Mid emits MID$; length == "" requests "to end of string".
func (l *Library) Mid(strPtr, start, length string) string {
	if length == "" {
		return l.call("rt_mid_to_end", "l", strPtr, start)
	}
	return l.call("rt_mid", "l", strPtr, start, length)
}

func (l *Library) Left(strPtr, count string) string {
	return l.call("rt_left", "l", strPtr, count)
}

func (l *Library) Right(strPtr, count string) string {
	return l.call("rt_right", "l", strPtr, count)
}

func (l *Library) UCase(strPtr string) string {
	return l.call("rt_ucase", "l", strPtr)
}

func (l *Library) LCase(strPtr string) string {
	return l.call("rt_lcase", "l", strPtr)
}

func (l *Library) StringCompare(left, right string) string {
	return l.call("rt_string_compare", "w", left, right)
}

func (l *Library) StringAssign(dest, src string) {
	l.call("rt_string_assign", "", dest, src)
}

// StringLiteral loads a runtime descriptor for an interned string
// constant produced by internal/il.Builder.RegisterString.
func (l *Library) StringLiteral(constName string) string {
	return l.call("rt_string_literal", "l", "$"+constName)
}

// === String lifecycle (SAMM-adjacent; see internal/samm) ===

func (l *Library) StringClone(strPtr string) string {
	return l.call("rt_string_clone", "l", strPtr)
}

func (l *Library) StringRetain(strPtr string) string {
	return l.call("rt_string_retain", "l", strPtr)
}

func (l *Library) StringRelease(strPtr string) {
	l.call("rt_string_release", "", strPtr)
}

// StringToUTF8 returns a temporary holding a raw UTF-8 byte pointer
// suitable for passing to host/OS calls outside the BASIC string
// descriptor convention.
func (l *Library) StringToUTF8(strPtr string) string {
	return l.call("rt_string_to_utf8", "l", strPtr)
}

// === Array operations ===

// ArrayAccess computes the address of arrayBase[index] for an element of
// elementType, scaling index by the element's size.
func (l *Library) ArrayAccess(arrayBase, index string, elementType types.Type) string {
	elemSize := types.SizeOf(elementType)
	sizeTemp := l.b.NewTemp()
	l.b.EmitBinary(sizeTemp, "l", "mul", index, fmt.Sprintf("%d", elemSize))
	addr := l.b.NewTemp()
	l.b.EmitBinary(addr, "l", "add", arrayBase, sizeTemp)
	return addr
}

func (l *Library) ArrayBoundsCheck(index, lowerBound, upperBound string) {
	l.call("rt_array_bounds_check", "", index, lowerBound, upperBound)
}

// ArrayNew allocates a single-dimension array of totalSize elements of
// elementType via the generic runtime allocator.
func (l *Library) ArrayNew(elementType types.Type, totalSize string) string {
	elemSize := fmt.Sprintf("%d", types.SizeOf(elementType))
	return l.call("rt_array_alloc", "l", elemSize, totalSize)
}

// ArrayNewCustom allocates a multi-dimensional or UDT-element array,
// passing the dimension count and element size separately so the runtime
// can build a full descriptor (as opposed to ArrayNew's flat buffer).
func (l *Library) ArrayNewCustom(elementType types.Type, dimCount int, dims []string) string {
	args := append([]string{fmt.Sprintf("%d", types.SizeOf(elementType)), fmt.Sprintf("%d", dimCount)}, dims...)
	dst := l.b.NewTemp()
	l.b.EmitCall(dst, "l", "rt_array_alloc_custom", args)
	return dst
}

func (l *Library) ArrayGetAddress(descriptor string, indices []string) string {
	args := append([]string{descriptor}, indices...)
	dst := l.b.NewTemp()
	l.b.EmitCall(dst, "l", "rt_array_get_address", args)
	return dst
}

func (l *Library) ArrayRedim(descriptor string, dims []string, preserve bool) {
	preserveFlag := "0"
	if preserve {
		preserveFlag = "1"
	}
	args := append([]string{descriptor, preserveFlag}, dims...)
	l.b.EmitCall("", "", "rt_array_redim", args)
}

func (l *Library) ArrayErase(descriptor string) {
	l.call("rt_array_erase", "", descriptor)
}

// === Math functions ===

func (l *Library) Abs(value string, valueType types.Type) string {
	return l.call("rt_abs_"+numericSuffix(valueType), types.ILCode(valueType), value)
}

func (l *Library) Sqrt(value string, valueType types.Type) string {
	return l.call("rt_sqrt_"+numericSuffix(valueType), types.ILCode(valueType), value)
}

func (l *Library) Sin(value string, valueType types.Type) string {
	return l.call("rt_sin_"+numericSuffix(valueType), types.ILCode(valueType), value)
}

func (l *Library) Cos(value string, valueType types.Type) string {
	return l.call("rt_cos_"+numericSuffix(valueType), types.ILCode(valueType), value)
}

func (l *Library) Tan(value string, valueType types.Type) string {
	return l.call("rt_tan_"+numericSuffix(valueType), types.ILCode(valueType), value)
}

func (l *Library) Int(value string, valueType types.Type) string {
	return l.call("rt_int_"+numericSuffix(valueType), "w", value)
}

func (l *Library) Rnd() string {
	return l.call("rt_rnd", "d")
}

func (l *Library) Timer() string {
	return l.call("rt_timer", "d")
}

func numericSuffix(t types.Type) string {
	switch t.Kind {
	case types.KindSingle:
		return "sng"
	case types.KindDouble:
		return "dbl"
	default:
		return "int"
	}
}

// === Input ===

func (l *Library) InputInt(dest string) {
	l.call("rt_input_int", "", dest)
}

func (l *Library) InputFloat(dest string) {
	l.call("rt_input_float", "", dest)
}

func (l *Library) InputDouble(dest string) {
	l.call("rt_input_double", "", dest)
}

func (l *Library) InputString(dest string) {
	l.call("rt_input_string", "", dest)
}

// === Conversion ===

func (l *Library) Str(value string, valueType types.Type) string {
	return l.call("rt_str_"+numericSuffix(valueType), "l", value)
}

func (l *Library) Val(strPtr string) string {
	return l.call("rt_val", "d", strPtr)
}

// === Control flow helpers ===

func (l *Library) End() {
	l.call("rt_end", "")
}

// RuntimeError emits a call aborting the program with errorCode and the
// string-constant name of a human-readable message, mirroring how the
// original BASIC runtime surfaces ON ERROR-unhandled faults.
func (l *Library) RuntimeError(errorCode int, errorMsgConst string) {
	l.b.EmitCall("", "", "rt_runtime_error", []string{fmt.Sprintf("%d", errorCode), "$" + errorMsgConst})
}

// RuntimeError0IfNull emits a null-receiver check on addr; the runtime
// call is a no-op when addr is non-null and halts with a diagnostic
// otherwise, matching the class-member-access null-check contract.
func (l *Library) RuntimeError0IfNull(addr string) {
	l.call("rt_null_check", "", addr)
}

// TryEnter registers catchBlockLabel as the active exception handler for
// the enclosing TRY span. BASIC's TRY/CATCH/FINALLY swallows by default —
// nothing in the compiled control flow branches to the handler directly —
// so this is the only IL a TRY block emits; the runtime jumps to the
// registered label itself if a fault occurs.
func (l *Library) TryEnter(catchBlockLabel string) {
	l.b.EmitCall("", "", "rt_try_enter", []string{"$" + catchBlockLabel})
}

// TryExit unregisters the current handler, emitted by FINALLY blocks.
func (l *Library) TryExit() {
	l.call("rt_try_exit", "")
}

// === SAMM scope lifecycle ===
//
// These emit calls to the SAMM runtime entry points (internal/samm's
// Go package is that service's implementation for an embedding host, not
// something the compiler calls directly — the compiler only ever emits
// IL naming these functions, the same as every other rt_* intrinsic).

func (l *Library) SammEnterScope() {
	l.call("samm_enter_scope", "")
}

func (l *Library) SammExitScope() {
	l.call("samm_exit_scope", "")
}

func (l *Library) SammRetainParent(ptr string) {
	l.call("samm_retain_parent", "", ptr)
}

func (l *Library) SammShutdown() {
	l.call("samm_shutdown", "")
}

// === FbContext plugin calls ===
//
// FbContext* calls are the BASIC program's hook into the host embedding
// (spec.md's "plugin" boundary) — distinct from the rt_* intrinsics above
// because they cross into caller-supplied native code rather than the
// bundled runtime_c library.

func (l *Library) FbContextGetHandle() string {
	return l.call("FbContext_GetHandle", "l")
}

func (l *Library) FbContextCall(handle string, selector string, args []string) string {
	callArgs := append([]string{handle, "$" + selector}, args...)
	dst := l.b.NewTemp()
	l.b.EmitCall(dst, "l", "FbContext_Call", callArgs)
	return dst
}

// FbContextHasError loads the error flag the preceding FbContextCall left
// on handle.
func (l *Library) FbContextHasError(handle string) string {
	return l.call("FbContext_HasError", "w", handle)
}

func (l *Library) FbContextRelease(handle string) {
	l.call("FbContext_Release", "", handle)
}

// BasicEnd halts the running program with the given exit code.
func (l *Library) BasicEnd(code string) {
	l.call("basic_end", "", code)
}
