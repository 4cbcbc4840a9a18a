package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromotionDominance(t *testing.T) {
	assert.Equal(t, KindString, Promote(Type{Kind: KindString}, Type{Kind: KindDouble}).Kind)
	assert.Equal(t, KindDouble, Promote(Type{Kind: KindDouble}, Type{Kind: KindSingle}).Kind)
	assert.Equal(t, KindSingle, Promote(Type{Kind: KindSingle}, Type{Kind: KindLong}).Kind)
	assert.Equal(t, KindLong, Promote(Type{Kind: KindLong}, Type{Kind: KindInt}).Kind)
	assert.Equal(t, KindInt, Promote(Type{Kind: KindByte}, Type{Kind: KindShort}).Kind)
}

func TestUDTLayoutNaturalAlignmentAndPadding(t *testing.T) {
	udt := Type{
		Kind: KindUDT,
		Name: "Point",
		Fields: []Field{
			{Name: "X", Type: Type{Kind: KindByte}},
			{Name: "Y", Type: Type{Kind: KindLong}},
			{Name: "Z", Type: Type{Kind: KindInt}},
		},
	}
	size := LayoutUDT(&udt)
	assert.Equal(t, 0, udt.Fields[0].Offset)
	assert.Equal(t, 8, udt.Fields[1].Offset) // padded up to long's 8-byte alignment
	assert.Equal(t, 16, udt.Fields[2].Offset)
	assert.Equal(t, 24, size) // tail-padded to max field alignment (8)
}

func TestNestedUDTLayout(t *testing.T) {
	inner := Type{
		Kind: KindUDT,
		Fields: []Field{
			{Name: "A", Type: Type{Kind: KindInt}},
			{Name: "B", Type: Type{Kind: KindInt}},
		},
	}
	outer := Type{
		Kind: KindUDT,
		Fields: []Field{
			{Name: "First", Type: Type{Kind: KindByte}},
			{Name: "Inner", Type: inner},
		},
	}
	size := LayoutUDT(&outer)
	assert.Equal(t, 8, SizeOf(inner))
	assert.Equal(t, 4, AlignOf(inner))
	assert.Equal(t, 0, outer.Fields[0].Offset)
	assert.Equal(t, 4, outer.Fields[1].Offset)
	assert.Equal(t, 12, size)
}

func TestConversionOpTwoStepSentinels(t *testing.T) {
	assert.Equal(t, TwoStepIntToDouble, ConversionOp(Type{Kind: KindInt}, Type{Kind: KindDouble}))
	assert.Equal(t, TwoStepFloatToLong, ConversionOp(Type{Kind: KindSingle}, Type{Kind: KindLong}))
	assert.Equal(t, TwoStepDoubleToLong, ConversionOp(Type{Kind: KindDouble}, Type{Kind: KindLong}))
}

func TestILCode(t *testing.T) {
	assert.Equal(t, "w", ILCode(Type{Kind: KindInt}))
	assert.Equal(t, "l", ILCode(Type{Kind: KindLong}))
	assert.Equal(t, "s", ILCode(Type{Kind: KindSingle}))
	assert.Equal(t, "d", ILCode(Type{Kind: KindDouble}))
	assert.Equal(t, "", ILCode(Type{Kind: KindVoid}))
}
