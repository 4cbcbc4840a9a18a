// Package jit implements the JIT instruction collector (component K): a
// walk over a register-allocated function body (internal/backendir)
// producing a flat, bit-exact JitInst stream for a separate machine-code
// encoder, applying four peephole fusions along the way.
package jit

import "fmt"

// Kind tags a JitInst's instruction family. The numeric values are part
// of the wire contract an external encoder reads — do not renumber an
// existing constant, only append.
type Kind uint16

const (
	// Pseudo kinds: bracket a function body and carry free-form text.
	KindFuncBegin Kind = iota
	KindFuncEnd
	KindLabel
	KindComment
	KindNop

	// Integer ALU, register-register and register-immediate.
	KindAdd
	KindAddImm
	KindSub
	KindSubImm
	KindMul
	KindMadd
	KindMsub
	KindSDiv
	KindUDiv
	KindAnd
	KindOrr
	KindEor
	KindNeg
	KindMvn

	// Immediate loads and register shifts.
	KindMovZ
	KindMovN
	KindMovK
	KindMovReg
	KindLsl
	KindLsr
	KindAsr

	// FP ALU.
	KindFAdd
	KindFSub
	KindFMul
	KindFDiv
	KindFNeg
	KindFAbs

	// Conversions: int<->float and width extension.
	KindSCVTF
	KindUCVTF
	KindFCVTZS
	KindFCVTZU
	KindFCVT
	KindSxtw
	KindUxtw
	KindSxth
	KindUxth
	KindSxtb
	KindUxtb

	// Compare and conditional select.
	KindCmp
	KindCmpImm
	KindFCmp
	KindTst
	KindCSet
	KindCSel
	KindCSInc
	KindCSNeg

	// Memory.
	KindLoad
	KindStore
	KindLoadPair
	KindStorePair
	KindLdrb
	KindStrb
	KindLdrh
	KindStrh
	KindLdrsw

	// Branches and calls.
	KindB
	KindBCond
	KindBR
	KindBL
	KindBLR
	KindCBZ
	KindCBNZ
	KindRet
	KindCallExt
	KindCallIndirect

	// Stack/frame management.
	KindStpPreIndex
	KindLdpPostIndex
	KindSubSP
	KindAddSP
	KindBTI
	KindMovSP

	// Fused shifted-operand ALU (the shift+ALU peephole's output kinds —
	// distinct from the plain register-register forms above so a
	// histogram or disassembly listing can tell a folded instruction
	// apart from one the source IR already expressed unshifted).
	KindAddShift
	KindSubShift
	KindAndShift
	KindOrrShift
	KindEorShift

	// NEON.
	KindVLoad
	KindVStore
	KindVAdd
	KindVSub
	KindVMov
	KindVDup

	// Data directives (assembled alongside the function bodies).
	KindDataWord
	KindDataDWord
	KindDataFloat
	KindDataDouble
	KindDataString
	KindDataZero

	kindCount
)

var kindNames = [...]string{
	"func_begin", "func_end", "label", "comment", "nop",
	"add", "add_imm", "sub", "sub_imm", "mul", "madd", "msub", "sdiv", "udiv",
	"and", "orr", "eor", "neg", "mvn",
	"movz", "movn", "movk", "mov_reg", "lsl", "lsr", "asr",
	"fadd", "fsub", "fmul", "fdiv", "fneg", "fabs",
	"scvtf", "ucvtf", "fcvtzs", "fcvtzu", "fcvt",
	"sxtw", "uxtw", "sxth", "uxth", "sxtb", "uxtb",
	"cmp", "cmp_imm", "fcmp", "tst", "cset", "csel", "csinc", "csneg",
	"load", "store", "ldp", "stp", "ldrb", "strb", "ldrh", "strh", "ldrsw",
	"b", "b_cond", "br", "bl", "blr", "cbz", "cbnz", "ret", "call_ext", "call_indirect",
	"stp_pre", "ldp_post", "sub_sp", "add_sp", "bti", "mov_sp",
	"add_shift", "sub_shift", "and_shift", "orr_shift", "eor_shift",
	"vld", "vst", "vadd", "vsub", "vmov", "vdup",
	"data_word", "data_dword", "data_float", "data_double", "data_string", "data_zero",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind_%d", uint16(k))
}

// OperandClass is the operand width: 0=W(32-bit), 1=L(64-bit), 2=S(float),
// 3=D(double) — matches spec.md's JitInst.cls encoding exactly.
type OperandClass uint8

const (
	ClsW OperandClass = iota
	ClsL
	ClsS
	ClsD
)

// Register-ID sentinels, shared verbatim with internal/backendir.Reg so a
// backendir register value can be cast directly into an Inst field.
const (
	RegNone int32 = -1
	RegSP   int32 = -2
	RegFP   int32 = -3
	RegLR   int32 = -4
	RegIP0  int32 = -5
	RegIP1  int32 = -6
)

// VReg returns the sentinel for NEON vector register v<i>.
func VReg(i int) int32 { return int32(-100 - i) }

// symNameLen is sym_name's fixed width — 80 bytes, NUL-terminated,
// truncated (never panics) if a caller hands in something longer.
const symNameLen = 80

// Inst is the 128-byte flat record spec.md's JitInst layout names,
// reproduced field-for-field:
//
//	u16 kind; u8 cls; u8 cond; u8 shift_type; u8 sym_type; u8 is_float; u8 pad1;
//	i32 rd, rn, rm, ra; i64 imm, imm2; i32 target_id; i32 pad2;
//	char sym_name[80];
//
// Go's struct layout rules place each field at the same offset the C
// struct does (uint16 at 0, six single bytes at 2..7, four int32s at
// 8..23, two int64s at 24..39, two int32s at 40..47, the byte array at
// 48..127) — 128 bytes total, no explicit padding tags required.
type Inst struct {
	Kind      Kind
	Cls       OperandClass
	Cond      uint8 // ARM64 4-bit condition code, 0 if unused
	ShiftType uint8 // 0=LSL,1=LSR,2=ASR,3=ROR
	SymType   uint8 // 0=none,1=global,2=TLS,3=data,4=func
	IsFloat   uint8 // 0/1 hint for the encoder's FP/GP variant choice
	pad1      uint8

	Rd, Rn, Rm, Ra int32

	Imm, Imm2 int64

	TargetID int32 // branch target block ID, -1 = use SymName
	pad2     int32

	SymName [symNameLen]byte
}

// SetSymName copies s into SymName, truncating rather than overflowing.
func (in *Inst) SetSymName(s string) {
	in.SymName = [symNameLen]byte{}
	n := len(s)
	if n > symNameLen-1 {
		n = symNameLen - 1
	}
	copy(in.SymName[:], s[:n])
}

// SymNameString returns the NUL-terminated sym_name field as a Go string.
func (in *Inst) SymNameString() string {
	n := 0
	for n < len(in.SymName) && in.SymName[n] != 0 {
		n++
	}
	return string(in.SymName[:n])
}

// ShiftType constants, mirroring spec.md's JitInst.shift_type encoding.
const (
	ShiftLSL uint8 = iota
	ShiftLSR
	ShiftASR
	ShiftROR
)

// SymType constants, mirroring spec.md's JitInst.sym_type encoding.
const (
	SymNone uint8 = iota
	SymGlobal
	SymTLS
	SymData
	SymFunc
)
