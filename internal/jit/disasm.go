package jit

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/arch/arm64/arm64asm"
)

// encodeWord renders in as one 32-bit ARM64 machine word, supporting only
// the handful of forms needed to prove the Inst stream round-trips
// through a real decoder: immediate ADD/SUB, MOVZ, RET, and unconditional
// B. This is deliberately not a full encoder — the actual machine-code
// encoder spec.md places out of scope owns every other form.
func encodeWord(in Inst) (uint32, error) {
	switch in.Kind {
	case KindAddImm, KindSubImm:
		return encodeAddSubImm(in)
	case KindMovZ:
		return encodeMovZ(in)
	case KindRet:
		return encodeRet(in)
	case KindB:
		return encodeB(in)
	default:
		return 0, errors.Errorf("disasm: %s has no placeholder encoding", in.Kind)
	}
}

func sf(cls OperandClass) uint32 {
	if cls == ClsL {
		return 1
	}
	return 0
}

func regField(r int32) uint32 {
	if r < 0 || r > 30 {
		// SP and other sentinels encode to register 31 in every ARM64
		// instruction form that accepts it; placeholder-only, the real
		// encoder resolves the sentinel properly per operand position.
		return 31
	}
	return uint32(r)
}

func encodeAddSubImm(in Inst) (uint32, error) {
	if in.Imm < 0 || in.Imm > 0xFFF {
		return 0, errors.Errorf("disasm: immediate %d out of 12-bit range", in.Imm)
	}
	op := uint32(0)
	if in.Kind == KindSubImm {
		op = 1
	}
	word := (sf(in.Cls) << 31) | (op << 30) | (0b10001 << 24) | (uint32(in.Imm) << 10) |
		(regField(in.Rn) << 5) | regField(in.Rd)
	return word, nil
}

func encodeMovZ(in Inst) (uint32, error) {
	if in.Imm < 0 || in.Imm > 0xFFFF {
		return 0, errors.Errorf("disasm: movz immediate %d out of 16-bit range", in.Imm)
	}
	hw := uint32(in.Imm2) & 0x3
	word := (sf(in.Cls) << 31) | (0b10 << 29) | (0b100101 << 23) | (hw << 21) |
		(uint32(in.Imm) << 5) | regField(in.Rd)
	return word, nil
}

func encodeRet(in Inst) (uint32, error) {
	rn := uint32(30) // x30/lr is RET's implicit register absent an explicit one
	if in.Rn >= 0 && in.Rn <= 30 {
		rn = uint32(in.Rn)
	}
	return 0xD65F0000 | (rn << 5), nil
}

func encodeB(in Inst) (uint32, error) {
	// Placeholder encoder: every branch target resolves to offset 0 since
	// this is a debug-only round-trip check, not the real relocatable
	// encoder (which resolves target_id against the function's actual
	// block layout).
	return 0b000101 << 26, nil
}

// Disassemble encodes each Inst it can and decodes it back through
// golang.org/x/arch/arm64/arm64asm, returning one line per instruction:
// the decoded mnemonic for encodable kinds, or a "; <kind>" comment line
// for anything this package's placeholder encoder doesn't cover.
func Disassemble(insts []Inst) ([]string, error) {
	lines := make([]string, 0, len(insts))
	for _, in := range insts {
		word, err := encodeWord(in)
		if err != nil {
			lines = append(lines, fmt.Sprintf("; %s (not encodable for disassembly)", in.Kind))
			continue
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, word)
		decoded, err := arm64asm.Decode(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "disasm: decoding %s", in.Kind)
		}
		lines = append(lines, decoded.String())
	}
	return lines, nil
}
