package il

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFunctionBracketingAndTemps(t *testing.T) {
	b := NewBuilder()
	b.EmitFunctionStart("main", "w", nil)
	t1 := b.NewTemp()
	t2 := b.NewTemp()
	b.EmitBinary(t1, "w", "add", "1", "2")
	b.EmitReturn(t2)
	b.EmitFunctionEnd()

	out := b.String()
	assert.Equal(t, "%t.1", t1)
	assert.Equal(t, "%t.2", t2)
	assert.Contains(t, out, "export function w $main() {")
	assert.Contains(t, out, "%t.1 =w add 1, 2")
	assert.Contains(t, out, "ret %t.2")
	assert.True(t, strings.HasSuffix(strings.TrimRight(out, "\n"), "}"))
	assert.Empty(t, b.Warnings())
}

func TestTempAndLabelSequencesResetPerFunction(t *testing.T) {
	b := NewBuilder()
	b.EmitFunctionStart("f", "", nil)
	_ = b.NewTemp()
	_ = b.NewLabel("loop")
	b.EmitFunctionEnd()

	b.EmitFunctionStart("g", "", nil)
	assert.Equal(t, "%t.1", b.NewTemp())
	assert.Equal(t, "loop.1", b.NewLabel("loop"))
	b.EmitFunctionEnd()
}

func TestInFirstBlockTracksLabelEmission(t *testing.T) {
	b := NewBuilder()
	b.EmitFunctionStart("f", "", nil)
	assert.True(t, b.InFirstBlock())
	b.EmitLabel("entry")
	assert.False(t, b.InFirstBlock())
	b.EmitLabel("next")
	assert.False(t, b.InFirstBlock())
	b.EmitFunctionEnd()
}

func TestEmitOutsideFunctionWarnsInsteadOfPanicking(t *testing.T) {
	b := NewBuilder()
	b.EmitReturn("")
	assert.Len(t, b.Warnings(), 1)
	assert.Contains(t, b.Warnings()[0], "ret")
}

func TestDoubleFunctionStartWarns(t *testing.T) {
	b := NewBuilder()
	b.EmitFunctionStart("f", "", nil)
	b.EmitFunctionStart("g", "", nil)
	assert.Len(t, b.Warnings(), 1)
	b.EmitFunctionEnd()
}

func TestEmitCallNamePrefixing(t *testing.T) {
	b := NewBuilder()
	b.EmitFunctionStart("f", "w", nil)
	b.EmitCall("%t.1", "w", "rt_print_string", []string{"%t.0"})
	b.EmitCall("", "", "$already_mangled", nil)
	b.EmitCall("", "", "%indirect_temp", nil)
	b.EmitFunctionEnd()

	out := b.String()
	assert.Contains(t, out, "call $rt_print_string(%t.0)")
	assert.Contains(t, out, "call $already_mangled()")
	assert.Contains(t, out, "call %indirect_temp()")
}

func TestStringPoolDedupsAndOrdersByFirstRegistration(t *testing.T) {
	b := NewBuilder()
	l1 := b.RegisterString("hello")
	l2 := b.RegisterString("world")
	l1Again := b.RegisterString("hello")
	assert.Equal(t, l1, l1Again)
	assert.NotEqual(t, l1, l2)

	b.EmitStringPool()
	out := b.String()
	helloIdx := strings.Index(out, `"hello"`)
	worldIdx := strings.Index(out, `"world"`)
	assert.Greater(t, helloIdx, -1)
	assert.Greater(t, worldIdx, -1)
	assert.Less(t, helloIdx, worldIdx)
}

func TestStringPoolEscapesSpecialCharacters(t *testing.T) {
	b := NewBuilder()
	b.RegisterString("line1\nline2\t\"quoted\"\\")
	b.EmitStringPool()
	out := b.String()
	assert.Contains(t, out, `\n`)
	assert.Contains(t, out, `\t`)
	assert.Contains(t, out, `\"quoted\"`)
	assert.Contains(t, out, `\\`)
}

func TestGlobalDataAndBodyOrdering(t *testing.T) {
	b := NewBuilder()
	b.RegisterString("x")
	b.EmitStringPool()
	b.EmitGlobalData("gosub_sp", "w 0")
	b.EmitFunctionStart("main", "w", nil)
	b.EmitReturn("0")
	b.EmitFunctionEnd()

	out := b.String()
	dataIdx := strings.Index(out, "$gosub_sp")
	strIdx := strings.Index(out, "$str.0")
	funcIdx := strings.Index(out, "export function")
	assert.Less(t, dataIdx, strIdx)
	assert.Less(t, strIdx, funcIdx)
}

func TestResetClearsAllState(t *testing.T) {
	b := NewBuilder()
	b.RegisterString("x")
	b.EmitFunctionStart("f", "", nil)
	_ = b.NewTemp()
	b.EmitReturn("")
	b.EmitFunctionEnd()

	b.Reset()
	assert.Equal(t, "", b.String())
	assert.Empty(t, b.Warnings())
	assert.Equal(t, "%t.1", b.NewTemp())
	assert.Equal(t, "str.0", b.RegisterString("x"))
}

func TestEmitAllocAndLoadStoreFormatting(t *testing.T) {
	b := NewBuilder()
	b.EmitFunctionStart("f", "", nil)
	b.EmitLabel("entry")
	b.EmitAlloc("%slot", 8, 16)
	b.EmitStore("l", "42", "%slot")
	b.EmitLoad("%t.1", "l", "%slot")
	b.EmitFunctionEnd()

	out := b.String()
	assert.Contains(t, out, "%slot =l alloc8 16")
	assert.Contains(t, out, "storel 42, %slot")
	assert.Contains(t, out, "%t.1 =l loadl %slot")
}

func TestEmitBranchAndJump(t *testing.T) {
	b := NewBuilder()
	b.EmitFunctionStart("f", "", nil)
	b.EmitBranch("%cond", "true_blk", "false_blk")
	b.EmitJump("done")
	b.EmitFunctionEnd()

	out := b.String()
	assert.Contains(t, out, "jnz %cond, @true_blk, @false_blk")
	assert.Contains(t, out, "jmp @done")
}
