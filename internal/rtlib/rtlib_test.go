package rtlib

import (
	"strings"
	"testing"

	"github.com/fasterbasic/fbc/internal/il"
	"github.com/fasterbasic/fbc/internal/types"
	"github.com/stretchr/testify/assert"
)

func newLib() (*il.Builder, *Library) {
	b := il.NewBuilder()
	b.EmitFunctionStart("main", "w", nil)
	b.EmitLabel("start")
	return b, New(b)
}

func TestPrintIntEmitsRuntimeCall(t *testing.T) {
	b, lib := newLib()
	lib.PrintInt("%t.1")
	out := b.String()
	assert.Contains(t, out, "call $rt_print_int(%t.1)")
}

func TestStringConcatReturnsTemp(t *testing.T) {
	b, lib := newLib()
	dst := lib.StringConcat("%t.1", "%t.2")
	out := b.String()
	assert.Equal(t, "%t.1", dst) // first temp minted inside the function
	assert.Contains(t, out, "=l call $rt_string_concat(%t.1, %t.2)")
}

func TestArrayAccessComputesScaledAddress(t *testing.T) {
	b, lib := newLib()
	addr := lib.ArrayAccess("%base", "%idx", types.Type{Kind: types.KindLong})
	out := b.String()
	assert.NotEmpty(t, addr)
	assert.True(t, strings.Contains(out, "mul") && strings.Contains(out, "add"))
}

func TestAbsPicksNumericSuffix(t *testing.T) {
	b, lib := newLib()
	lib.Abs("%t.1", types.Type{Kind: types.KindDouble})
	assert.Contains(t, b.String(), "rt_abs_dbl")
}

func TestRuntimeErrorEmbedsCodeAndConstant(t *testing.T) {
	b, lib := newLib()
	lib.RuntimeError(11, "str_0")
	assert.Contains(t, b.String(), "rt_runtime_error(11, $str_0)")
}

func TestFbContextCallPrefixesSelectorWithSigil(t *testing.T) {
	b, lib := newLib()
	h := lib.FbContextGetHandle()
	lib.FbContextCall(h, "draw", []string{"%t.3"})
	assert.Contains(t, b.String(), "FbContext_Call(%t.1, $draw, %t.3)")
}
