package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadLetAndPrint(t *testing.T) {
	r := NewReader(`
LET X = 5
PRINT X
`)
	prog := r.Read()
	assert.Empty(t, r.Errors())
	assert.Len(t, prog.Main, 2)

	let, ok := prog.Main[0].(*LetStmt)
	assert.True(t, ok)
	assert.Equal(t, "X", let.Target.(*VarRef).Name)
	lit, ok := let.Value.(*IntLit)
	assert.True(t, ok)
	assert.Equal(t, int64(5), lit.Value)

	print, ok := prog.Main[1].(*PrintStmt)
	assert.True(t, ok)
	assert.Len(t, print.Args, 1)
}

func TestReadLabelsAndGoto(t *testing.T) {
	prog := NewReader(`
top:
PRINT "hi"
GOTO top
`).Read()
	assert.Equal(t, 0, prog.Labels["top"])
	assert.IsType(t, &LabelStmt{}, prog.Main[0])
	assert.IsType(t, &GotoStmt{}, prog.Main[2])
}

func TestReadGosubReturn(t *testing.T) {
	prog := NewReader(`
GOSUB sub1
END
sub1:
RETURN
`).Read()
	gosub, ok := prog.Main[0].(*GosubStmt)
	assert.True(t, ok)
	assert.Equal(t, "sub1", gosub.Label)
	ret, ok := prog.Main[3].(*ReturnStmt)
	assert.True(t, ok)
	assert.Equal(t, ReturnFromGosub, ret.Kind)
}

func TestReadIfThen(t *testing.T) {
	prog := NewReader(`IF X = 1 THEN PRINT "one"`).Read()
	ifStmt, ok := prog.Main[0].(*IfStmt)
	assert.True(t, ok)
	assert.NotNil(t, ifStmt.Cond)
	assert.Len(t, ifStmt.Then, 1)
	assert.IsType(t, &PrintStmt{}, ifStmt.Then[0])
}

func TestUnrecognizedLineRecordsError(t *testing.T) {
	r := NewReader(`GARBLE &&&`)
	r.Read()
	assert.NotEmpty(t, r.Errors())
}
