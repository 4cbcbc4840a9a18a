// Package il implements the IL Builder: low-level textual emission
// primitives for the QBE-style IL spec.md §6 defines (temporaries,
// labels, binary ops, loads/stores, branches, calls, global data).
package il

import (
	"fmt"
	"strings"
)

// Builder is a buffered writer with function/block structure. It
// distinguishes labeled blocks (which contain instructions) from
// free-form global data, per spec.md §4.C.
type Builder struct {
	body    strings.Builder
	data    strings.Builder
	strPool strings.Builder

	tempSeq  int
	labelSeq int

	inFunction bool
	firstBlock bool // true until the first emit_label of the current function

	stringLabels map[string]string // literal → label
	stringSeq    int

	warnings []string
}

// NewBuilder constructs an empty IL Builder.
func NewBuilder() *Builder {
	b := &Builder{stringLabels: make(map[string]string)}
	return b
}

// Reset clears all state, including the string pool, per spec.md §4.C.
func (b *Builder) Reset() {
	b.body.Reset()
	b.data.Reset()
	b.strPool.Reset()
	b.tempSeq = 0
	b.labelSeq = 0
	b.inFunction = false
	b.firstBlock = false
	b.stringLabels = make(map[string]string)
	b.stringSeq = 0
	b.warnings = nil
}

// Warnings returns accumulated soft-violation warnings (e.g. "instruction
// outside a function") — spec.md requires these never hard-fault.
func (b *Builder) Warnings() []string { return b.warnings }

func (b *Builder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// NewTemp returns the next monotonic %t.N temporary name, unique within
// the current function. Reset at EmitFunctionStart.
func (b *Builder) NewTemp() string {
	b.tempSeq++
	return fmt.Sprintf("%%t.%d", b.tempSeq)
}

// NewLabel returns a fresh synthesized block label, unique within the
// current function.
func (b *Builder) NewLabel(prefix string) string {
	b.labelSeq++
	return fmt.Sprintf("%s.%d", prefix, b.labelSeq)
}

// EmitFunctionStart brackets a function body. A function begun must be
// ended before the next one starts; violating this emits a warning rather
// than hard-faulting.
func (b *Builder) EmitFunctionStart(name, retType string, params []Param) {
	if b.inFunction {
		b.warn("emit_function_start(%s) called while function still open", name)
	}
	b.inFunction = true
	b.firstBlock = true
	b.tempSeq = 0
	b.labelSeq = 0

	paramStrs := make([]string, len(params))
	for i, p := range params {
		paramStrs[i] = fmt.Sprintf("%s %%%s", p.Type, p.Name)
	}
	rt := retType
	if rt != "" {
		rt += " "
	}
	fmt.Fprintf(&b.body, "export function %s$%s(%s) {\n", rt, name, strings.Join(paramStrs, ", "))
}

// Param describes one function parameter for EmitFunctionStart.
type Param struct {
	Name string
	Type string
}

// EmitFunctionEnd closes the current function.
func (b *Builder) EmitFunctionEnd() {
	if !b.inFunction {
		b.warn("emit_function_end called with no function open")
		return
	}
	b.body.WriteString("}\n")
	b.inFunction = false
}

// EmitLabel begins a block and clears the first-block flag InFirstBlock
// reports. Nothing checks where allocation-like instructions land.
func (b *Builder) EmitLabel(name string) {
	if !b.inFunction {
		b.warn("emit_label(%s) outside a function", name)
	}
	fmt.Fprintf(&b.body, "@%s\n", name)
	b.firstBlock = false
}

// InFirstBlock reports whether the builder is still within the function's
// first labeled block (no EmitLabel call has happened since
// EmitFunctionStart). internal/codegen and internal/ast do not call it.
func (b *Builder) InFirstBlock() bool { return b.firstBlock }

func (b *Builder) checkInFunction(op string) {
	if !b.inFunction {
		b.warn("%s emitted outside a function", op)
	}
}

// EmitBinary emits `dst =type op a, b`.
func (b *Builder) EmitBinary(dst, typ, op, a, c string) {
	b.checkInFunction(op)
	fmt.Fprintf(&b.body, "    %s =%s %s %s, %s\n", dst, typ, op, a, c)
}

// EmitCompare emits a typed comparison instruction.
func (b *Builder) EmitCompare(dst, typ, cmpOp, a, c string) {
	b.checkInFunction(cmpOp)
	fmt.Fprintf(&b.body, "    %s =%s c%s %s, %s\n", dst, typ, cmpOp, a, c)
}

// EmitNeg emits unary negation.
func (b *Builder) EmitNeg(dst, typ, a string) {
	b.checkInFunction("neg")
	fmt.Fprintf(&b.body, "    %s =%s neg %s\n", dst, typ, a)
}

// EmitLoad emits a typed load from an address.
func (b *Builder) EmitLoad(dst, typ, addr string) {
	b.checkInFunction("load")
	fmt.Fprintf(&b.body, "    %s =%s load%s %s\n", dst, typ, typ, addr)
}

// EmitStore emits a typed store to an address.
func (b *Builder) EmitStore(typ, value, addr string) {
	b.checkInFunction("store")
	fmt.Fprintf(&b.body, "    store%s %s, %s\n", typ, value, addr)
}

// EmitAlloc emits a stack-slot reservation into whichever block is
// current; it does not check InFirstBlock(), so unit tests of individual
// instructions don't need to fabricate a full function.
func (b *Builder) EmitAlloc(dst string, align, size int) {
	b.checkInFunction("alloc")
	fmt.Fprintf(&b.body, "    %s =l alloc%d %d\n", dst, align, size)
}

// EmitJump emits an unconditional jump.
func (b *Builder) EmitJump(label string) {
	b.checkInFunction("jmp")
	fmt.Fprintf(&b.body, "    jmp @%s\n", label)
}

// EmitBranch emits a conditional branch: jnz cond, @true, @false.
func (b *Builder) EmitBranch(cond, trueLabel, falseLabel string) {
	b.checkInFunction("jnz")
	fmt.Fprintf(&b.body, "    jnz %s, @%s, @%s\n", cond, trueLabel, falseLabel)
}

// EmitReturn emits a return, with or without a value.
func (b *Builder) EmitReturn(value string) {
	b.checkInFunction("ret")
	if value == "" {
		b.body.WriteString("    ret\n")
	} else {
		fmt.Fprintf(&b.body, "    ret %s\n", value)
	}
}

// EmitCall emits `dst =type call $name(args...)`. dst/type may be empty
// for void calls. name may be given bare (the common case — rtlib's
// canonical runtime-function names) or pre-sigiled: a name already
// starting with "%" is an indirect call through a temporary holding a
// function pointer (e.g. a vtable slot); a name already starting with
// "$" (as internal/symbols.Mapper's Mangle*Name helpers return) is used
// as-is rather than double-prefixed.
func (b *Builder) EmitCall(dst, typ, name string, args []string) {
	b.checkInFunction("call")
	argList := strings.Join(args, ", ")
	callee := name
	if !strings.HasPrefix(name, "%") && !strings.HasPrefix(name, "$") {
		callee = "$" + name
	}
	if dst == "" {
		fmt.Fprintf(&b.body, "    call %s(%s)\n", callee, argList)
	} else {
		fmt.Fprintf(&b.body, "    %s =%s call %s(%s)\n", dst, typ, callee, argList)
	}
}

// EmitExtend emits a width-extension op (e.g. sign/zero extend).
func (b *Builder) EmitExtend(dst, op, src string) {
	b.checkInFunction(op)
	fmt.Fprintf(&b.body, "    %s =l %s %s\n", dst, op, src)
}

// EmitConvert emits a conversion op by name (the op name or one leg of a
// two-step sequence resolved by internal/types.ConversionOp).
func (b *Builder) EmitConvert(dst, typ, op, src string) {
	b.checkInFunction(op)
	fmt.Fprintf(&b.body, "    %s =%s %s %s\n", dst, typ, op, src)
}

// EmitTrunc emits a width-truncation op.
func (b *Builder) EmitTrunc(dst, typ, op, src string) {
	b.checkInFunction(op)
	fmt.Fprintf(&b.body, "    %s =%s %s %s\n", dst, typ, op, src)
}

// EmitComment appends a raw `# comment` to the body — used for the
// "ERROR: ..." diagnostic comments spec.md §7 requires internal
// inconsistencies to surface as, without aborting generation.
func (b *Builder) EmitComment(format string, args ...any) {
	fmt.Fprintf(&b.body, "    # %s\n", fmt.Sprintf(format, args...))
}

// RegisterString interns a string literal and returns its stable global
// label. Re-registering the same literal returns the same label.
func (b *Builder) RegisterString(value string) string {
	if label, ok := b.stringLabels[value]; ok {
		return label
	}
	label := fmt.Sprintf("str.%d", b.stringSeq)
	b.stringSeq++
	b.stringLabels[value] = label
	return label
}

// EmitStringPool emits all interned strings as global byte-string data,
// in a stable (registration) order.
func (b *Builder) EmitStringPool() {
	ordered := make([]string, len(b.stringLabels))
	for value, label := range b.stringLabels {
		var idx int
		fmt.Sscanf(label, "str.%d", &idx)
		ordered[idx] = value
	}
	for i, value := range ordered {
		fmt.Fprintf(&b.strPool, "export data $str.%d = { b \"%s\", b 0 }\n", i, escapeIL(value))
	}
}

func escapeIL(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return r.Replace(s)
}

// EmitGlobalData emits a raw `export data $name = { ... }` line; callers
// assemble the typed-value list (used for the GOSUB return stack, program
// globals including UDT blobs, and FUNCTION return slots).
func (b *Builder) EmitGlobalData(name, contents string) {
	fmt.Fprintf(&b.data, "export data $%s = { %s }\n", name, contents)
}

// String renders the accumulated IL: data section first, then string
// pool, then function bodies — matching spec.md §6's emission order
// (header/runtime decls/string pool/data precede function bodies).
func (b *Builder) String() string {
	var out strings.Builder
	out.WriteString(b.data.String())
	out.WriteString(b.strPool.String())
	out.WriteString(b.body.String())
	return out.String()
}
