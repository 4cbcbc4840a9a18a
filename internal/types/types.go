// Package types implements the Type Manager: mapping from source base
// types to IL type codes, size/alignment, promotion, and conversion-op
// selection (spec.md §4.D).
package types

import "fmt"

// BaseKind enumerates the base-type variants spec.md §3 lists.
type BaseKind int

const (
	KindByte BaseKind = iota
	KindShort
	KindInt
	KindLong
	KindSingle
	KindDouble
	KindString
	KindUnicode
	KindVoid
	KindObject
	KindUDT
	KindClassInstance
	KindUnknown
)

func (k BaseKind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindShort:
		return "short"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindSingle:
		return "single"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindUnicode:
		return "unicode"
	case KindVoid:
		return "void"
	case KindObject:
		return "object"
	case KindUDT:
		return "udt"
	case KindClassInstance:
		return "class_instance"
	default:
		return "unknown"
	}
}

// Field describes one named, typed, offset-positioned member of a UDT.
type Field struct {
	Name   string
	Type   Type
	Offset int
}

// Type is a resolved type descriptor: a sum over BaseKind with the extra
// fields only some variants use.
type Type struct {
	Kind     BaseKind
	Unsigned bool
	Name     string // set for KindUDT / KindClassInstance
	Fields   []Field
}

// baseSizeAlign returns (size, align) in bytes for scalar kinds. UDT and
// class-instance sizes are computed by SizeOf/AlignOf below.
func baseSizeAlign(k BaseKind) (int, int) {
	switch k {
	case KindByte:
		return 1, 1
	case KindShort:
		return 2, 2
	case KindInt:
		return 4, 4
	case KindLong:
		return 8, 8
	case KindSingle:
		return 4, 4
	case KindDouble:
		return 8, 8
	case KindString, KindObject, KindClassInstance:
		return 8, 8 // pointer-sized
	case KindUnicode:
		return 2, 2
	case KindVoid:
		return 0, 1
	default:
		return 8, 8
	}
}

// SizeOf returns a type's size in bytes, recursing through UDT fields and
// applying tail padding to the largest field alignment.
func SizeOf(t Type) int {
	if t.Kind != KindUDT {
		sz, _ := baseSizeAlign(t.Kind)
		return sz
	}
	return layoutUDT(t.Fields).size
}

// AlignOf returns a type's natural alignment.
func AlignOf(t Type) int {
	if t.Kind != KindUDT {
		_, al := baseSizeAlign(t.Kind)
		return al
	}
	return layoutUDT(t.Fields).align
}

type udtLayout struct {
	size  int
	align int
}

// layoutUDT computes field offsets (writing them back into fields) using
// natural alignment with tail padding to the largest field alignment, per
// spec.md §4.D. Recurses through nested UDT fields.
func layoutUDT(fields []Field) udtLayout {
	offset := 0
	maxAlign := 1
	for i := range fields {
		fAlign := AlignOf(fields[i].Type)
		if fAlign > maxAlign {
			maxAlign = fAlign
		}
		if fAlign > 0 {
			offset = alignUp(offset, fAlign)
		}
		fields[i].Offset = offset
		offset += SizeOf(fields[i].Type)
	}
	total := alignUp(offset, maxAlign)
	return udtLayout{size: total, align: maxAlign}
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// LayoutUDT is the exported entry point used by codegen to obtain field
// offsets for a UDT type; it mutates t.Fields in place and returns size.
func LayoutUDT(t *Type) int {
	l := layoutUDT(t.Fields)
	return l.size
}

// ILCode returns the IL type code string for a base type: "w" (32-bit
// int), "l" (64-bit int/pointer), "s" (float), "d" (double), or "" for
// void, per spec.md §6.
func ILCode(t Type) string {
	switch t.Kind {
	case KindByte, KindShort, KindInt, KindUnicode:
		return "w"
	case KindLong, KindString, KindObject, KindUDT, KindClassInstance:
		return "l"
	case KindSingle:
		return "s"
	case KindDouble:
		return "d"
	case KindVoid:
		return ""
	default:
		return "l"
	}
}

// rank orders kinds for promotion: string dominates, then double, single,
// long, int; everything smaller than int widens to int.
func rank(k BaseKind) int {
	switch k {
	case KindString:
		return 100
	case KindDouble:
		return 90
	case KindSingle:
		return 80
	case KindLong:
		return 70
	case KindInt:
		return 60
	case KindByte, KindShort, KindUnicode:
		return 10 // widens to int
	default:
		return 0
	}
}

// Promote implements spec.md §3's dominance chain: string > double >
// single > long > int, with smaller integers widening to int.
func Promote(a, b Type) Type {
	ra, rb := rank(a.Kind), rank(b.Kind)
	winner := a
	if rb > ra {
		winner = b
	}
	if winner.Kind == KindByte || winner.Kind == KindShort || winner.Kind == KindUnicode {
		return Type{Kind: KindInt}
	}
	return Type{Kind: winner.Kind}
}

// ConvOp names a single conversion IL op, or one of the two-step sentinel
// tokens spec.md §4.D describes for sequences the IL has no single op for.
type ConvOp string

const (
	TwoStepIntToDouble  ConvOp = "int_to_double_2step"
	TwoStepFloatToLong  ConvOp = "float_to_long_2step"
	TwoStepDoubleToLong ConvOp = "double_to_long_2step"
)

// ConversionOp selects the IL op(s) needed to convert from one base type
// to another. Returns an op name understood by internal/il's EmitConvert,
// or one of the two-step sentinels above when a single IL op does not
// exist for the pair.
func ConversionOp(from, to Type) ConvOp {
	switch {
	case from.Kind == KindInt && to.Kind == KindLong:
		return "extsw"
	case from.Kind == KindLong && to.Kind == KindInt:
		return "truncl"
	case from.Kind == KindInt && to.Kind == KindDouble:
		return TwoStepIntToDouble
	case from.Kind == KindSingle && to.Kind == KindLong:
		return TwoStepFloatToLong
	case from.Kind == KindDouble && to.Kind == KindLong:
		return TwoStepDoubleToLong
	case from.Kind == KindInt && to.Kind == KindSingle:
		return "swtof"
	case from.Kind == KindSingle && to.Kind == KindDouble:
		return "exts"
	case from.Kind == KindDouble && to.Kind == KindSingle:
		return "truncd"
	case from.Kind == KindDouble && to.Kind == KindInt:
		return "dtosi"
	case from.Kind == KindSingle && to.Kind == KindInt:
		return "stosi"
	default:
		return ConvOp(fmt.Sprintf("noop_%s_to_%s", from.Kind, to.Kind))
	}
}

// Manager is a stateless façade kept for symmetry with the other
// components (IL Builder, Symbol Mapper) that do carry state; the Type
// Manager's operations are pure functions of their inputs, so Manager
// only exists to give callers one consistent entry point to import.
type Manager struct{}

func NewManager() *Manager { return &Manager{} }

func (m *Manager) Promote(a, b Type) Type           { return Promote(a, b) }
func (m *Manager) ConversionOp(from, to Type) ConvOp { return ConversionOp(from, to) }
func (m *Manager) SizeOf(t Type) int                 { return SizeOf(t) }
func (m *Manager) AlignOf(t Type) int                { return AlignOf(t) }
func (m *Manager) ILCode(t Type) string              { return ILCode(t) }
