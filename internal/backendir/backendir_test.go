package backendir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegStringSentinels(t *testing.T) {
	assert.Equal(t, "none", RegNone.String())
	assert.Equal(t, "sp", RegSP.String())
	assert.Equal(t, "fp", RegFP.String())
	assert.Equal(t, "lr", RegLR.String())
	assert.Equal(t, "x3", Reg(3).String())
}

func TestVRegIsVector(t *testing.T) {
	v0 := VReg(0)
	assert.True(t, v0.IsVector())
	assert.False(t, RegNone.IsVector())
	assert.False(t, Reg(5).IsVector())
	assert.Equal(t, "v0", v0.String())
	assert.Equal(t, "v4", VReg(4).String())
}

func TestFuncIRHoldsBlocksInOrder(t *testing.T) {
	fn := &FuncIR{
		Name:      "add_two",
		FrameSize: 16,
		Params:    2,
		Blocks: []*Block{
			{ID: 0, Label: "entry", Instrs: []Instr{
				{Op: OpAdd, Cls: ClsL, Rd: Reg(0), Rn: Reg(0), Rm: Reg(1)},
				{Op: OpRet, Rn: RegLR},
			}},
		},
	}
	assert.Equal(t, "add_two", fn.Name)
	assert.Len(t, fn.Blocks, 1)
	assert.Equal(t, OpAdd, fn.Blocks[0].Instrs[0].Op)
	assert.Equal(t, OpRet, fn.Blocks[0].Instrs[1].Op)
}

func TestMulSrcDefaultsFalse(t *testing.T) {
	in := Instr{Op: OpMul, Rd: Reg(2), Rn: Reg(0), Rm: Reg(1)}
	assert.False(t, in.MulSrc)
}
