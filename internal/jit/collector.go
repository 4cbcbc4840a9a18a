package jit

import (
	"fmt"
	"os"
	"sort"

	"github.com/fasterbasic/fbc/internal/backendir"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FusionConfig gates each of the four peephole fusions independently, so
// --enable-madd-fusion/--disable-madd-fusion/ENABLE_MADD_FUSION can flip
// just the multiply fusion without touching the other three.
type FusionConfig struct {
	MaddMsub      bool
	ShiftedALU    bool
	LoadStorePair bool
	CompareBranch bool
}

// DefaultFusionConfig enables all four fusions except MaddMsub, which
// follows ENABLE_MADD_FUSION (defaulting to enabled when the variable is
// unset, matching spec.md §6's "disables/enables" framing — absence is
// not a disable).
func DefaultFusionConfig() FusionConfig {
	madd := true
	if v := os.Getenv("ENABLE_MADD_FUSION"); v == "0" {
		madd = false
	}
	return FusionConfig{
		MaddMsub:      madd,
		ShiftedALU:    true,
		LoadStorePair: true,
		CompareBranch: true,
	}
}

// Collector walks one or more backendir.FuncIR bodies, emitting one Inst
// stream and one opcode histogram across the whole batch (a "batch" is
// every Collect call between construction and the caller reading Stats
// back out — spec.md's "JitCollector owns a grow-only array ... plus
// error state and an opcode histogram").
type Collector struct {
	BatchID uuid.UUID
	Fusion  FusionConfig

	insts     []Inst
	histogram map[Kind]int
	errMsg    string

	pending *backendir.Instr

	log *logrus.Entry
}

// NewCollector constructs a Collector for one compilation batch.
func NewCollector(fusion FusionConfig) *Collector {
	id := uuid.New()
	return &Collector{
		BatchID:   id,
		Fusion:    fusion,
		histogram: make(map[Kind]int),
		log:       logrus.WithField("jit_batch", id.String()),
	}
}

// Insts returns every Inst collected so far across every Collect call.
func (c *Collector) Insts() []Inst { return c.insts }

// Err reports the collector's sticky error, if buffer growth failed.
func (c *Collector) Err() error {
	if c.errMsg == "" {
		return nil
	}
	return errors.New(c.errMsg)
}

// Collect walks fn's blocks in their stored (reverse-postorder) order —
// the same order the assembly emitter walks — and appends the resulting
// Inst records to the collector's running stream. Returns just this
// call's records as a convenience; the full batch remains in Insts().
func (c *Collector) Collect(fn *backendir.FuncIR) ([]Inst, error) {
	if c.errMsg != "" {
		return nil, c.Err()
	}
	start := len(c.insts)
	c.log.WithField("func", fn.Name).Debug("collecting function")

	c.emitFuncBegin(fn)
	for _, blk := range fn.Blocks {
		c.emit(Inst{Kind: KindLabel, TargetID: int32(blk.ID)})
		for _, instr := range blk.Instrs {
			c.visit(instr)
		}
		// Fusions never span a block boundary: instruction adjacency in
		// the emission stream is only meaningful within one block.
		c.flushPending()
	}
	c.emitFuncEnd(fn)

	if c.errMsg != "" {
		return nil, c.Err()
	}
	return c.insts[start:], nil
}

func (c *Collector) emitFuncBegin(fn *backendir.FuncIR) {
	in := Inst{Kind: KindFuncBegin, Imm: int64(fn.FrameSize), Imm2: int64(fn.Params)}
	in.SetSymName(fn.Name)
	c.emit(in)
}

func (c *Collector) emitFuncEnd(fn *backendir.FuncIR) {
	in := Inst{Kind: KindFuncEnd}
	in.SetSymName(fn.Name)
	c.emit(in)
}

// emit appends a fully-formed record and updates the histogram. A real
// grow-only-array buffer has no hard ceiling in this Go rendering, but
// spec.md's "internal buffer growth failure" contract is preserved for
// the unlikely case append itself panics (captured via recover in a
// defer at the call site would be heavier than this module needs — the
// practical failure mode spec.md anticipates, a fixed-capacity C array,
// doesn't exist here, so errMsg is set only by the maxCollectorInsts
// guard at the top of this function).
func (c *Collector) emit(in Inst) {
	if len(c.insts) >= maxCollectorInsts {
		c.errMsg = fmt.Sprintf("jit collector buffer exceeded %d instructions", maxCollectorInsts)
		return
	}
	c.insts = append(c.insts, in)
	c.histogram[in.Kind]++
}

// maxCollectorInsts is a defensive ceiling mirroring spec.md's "on
// internal buffer growth failure" error path — pathologically large
// functions stop collection rather than growing without bound.
const maxCollectorInsts = 1 << 20

// visit converts one backendir.Instr, buffering it instead of emitting
// immediately when it could be the first half of a fusion, and checking
// any already-buffered instruction against this one before anything else
// happens — spec.md's single-slot "buffer candidate, peek next" state
// machine.
func (c *Collector) visit(in backendir.Instr) {
	if c.pending != nil {
		if fused, comment, ok := c.tryFuse(*c.pending, in); ok {
			c.emit(fused)
			if comment != "" {
				ci := Inst{Kind: KindComment}
				ci.SetSymName(comment)
				c.emit(ci)
			}
			c.pending = nil
			return
		}
		c.flushPending()
	}

	if c.canBuffer(in) {
		cp := in
		c.pending = &cp
		return
	}

	c.emit(c.convert(in))
}

// flushPending emits the buffered instruction unfused, if any.
func (c *Collector) flushPending() {
	if c.pending == nil {
		return
	}
	c.emit(c.convert(*c.pending))
	c.pending = nil
}

// canBuffer reports whether in could be the head of one of the four
// fusions, given which are enabled.
func (c *Collector) canBuffer(in backendir.Instr) bool {
	switch in.Op {
	case backendir.OpMul:
		return c.Fusion.MaddMsub
	case backendir.OpLsl, backendir.OpLsr, backendir.OpAsr:
		return c.Fusion.ShiftedALU && in.ShiftType == ""
	case backendir.OpLoad, backendir.OpStore:
		return c.Fusion.LoadStorePair
	case backendir.OpCmp:
		return c.Fusion.CompareBranch && in.Rm == backendir.RegNone && in.Imm == 0
	default:
		return false
	}
}

// tryFuse attempts to combine pending and next into a single record. A
// miss returns ok=false and the caller flushes pending unfused before
// considering next on its own merits.
func (c *Collector) tryFuse(pending, next backendir.Instr) (Inst, string, bool) {
	switch {
	case c.Fusion.MaddMsub && pending.Op == backendir.OpMul && !pending.MulSrc:
		// MulSrc sentinel carries the "used again after this" fact the
		// register allocator already computed; we only fuse when it says
		// the multiply's destination is dead after this one use.
		return Inst{}, "", false

	case c.Fusion.MaddMsub && pending.Op == backendir.OpMul && pending.MulSrc &&
		(next.Op == backendir.OpAdd || next.Op == backendir.OpSub) &&
		(next.Rn == pending.Rd || next.Rm == pending.Rd):
		var other backendir.Reg
		if next.Rn == pending.Rd {
			other = next.Rm
		} else {
			other = next.Rn
		}
		kind := KindMadd
		if next.Op == backendir.OpSub {
			kind = KindMsub
		}
		return Inst{
			Kind: kind, Cls: clsOf(next.Cls),
			Rd: int32(next.Rd), Rn: int32(pending.Rn), Rm: int32(pending.Rm), Ra: int32(other),
		}, fmt.Sprintf("fused mul+%s -> %s", next.Op, kind), true

	case c.Fusion.ShiftedALU && isShiftOp(pending.Op) &&
		isShiftableALU(next.Op) && (next.Rn == pending.Rd || next.Rm == pending.Rd):
		out := c.convert(next)
		out.Kind = shiftedALUKind(next.Op)
		out.ShiftType = shiftTypeCode(pending.Op)
		out.Imm2 = pending.Imm // shift amount, stashed in the secondary immediate
		return out, fmt.Sprintf("folded %s into %s", pending.Op, next.Op), true

	case c.Fusion.LoadStorePair && pending.Op == backendir.OpLoad && next.Op == backendir.OpLoad &&
		pending.Rn == next.Rn && pairable(pending, next):
		return Inst{
			Kind: KindLoadPair, Cls: clsOf(pending.Cls),
			Rd: int32(pending.Rd), Ra: int32(next.Rd), Rn: int32(pending.Rn),
			Imm: pending.Imm,
		}, "fused adjacent loads -> ldp", true

	case c.Fusion.LoadStorePair && pending.Op == backendir.OpStore && next.Op == backendir.OpStore &&
		pending.Rn == next.Rn && pairable(pending, next):
		return Inst{
			Kind: KindStorePair, Cls: clsOf(pending.Cls),
			Rd: int32(pending.Rd), Ra: int32(next.Rd), Rn: int32(pending.Rn),
			Imm: pending.Imm,
		}, "fused adjacent stores -> stp", true

	case c.Fusion.CompareBranch && pending.Op == backendir.OpCmp && next.Op == backendir.OpBranchCond &&
		(next.Cond == "eq" || next.Cond == "ne"):
		kind := KindCBZ
		if next.Cond == "ne" {
			kind = KindCBNZ
		}
		return Inst{
			Kind: kind, Cls: clsOf(pending.Cls),
			Rn:       int32(pending.Rn),
			TargetID: int32(next.TargetBlock),
		}, fmt.Sprintf("fused cmp+b.%s -> %s", next.Cond, kind), true

	default:
		return Inst{}, "", false
	}
}

func isShiftOp(op backendir.Op) bool {
	return op == backendir.OpLsl || op == backendir.OpLsr || op == backendir.OpAsr
}

func isShiftableALU(op backendir.Op) bool {
	switch op {
	case backendir.OpAdd, backendir.OpSub, backendir.OpAnd, backendir.OpOrr, backendir.OpEor:
		return true
	default:
		return false
	}
}

// shiftedALUKind maps a base ALU op to its fused shifted-operand Kind.
func shiftedALUKind(op backendir.Op) Kind {
	switch op {
	case backendir.OpAdd:
		return KindAddShift
	case backendir.OpSub:
		return KindSubShift
	case backendir.OpAnd:
		return KindAndShift
	case backendir.OpOrr:
		return KindOrrShift
	case backendir.OpEor:
		return KindEorShift
	default:
		return KindComment
	}
}

func shiftTypeCode(op backendir.Op) uint8 {
	switch op {
	case backendir.OpLsl:
		return ShiftLSL
	case backendir.OpLsr:
		return ShiftLSR
	case backendir.OpAsr:
		return ShiftASR
	default:
		return ShiftLSL
	}
}

// pairable reports whether two loads/stores against the same base
// register, whose offsets differ by one element's width, fit LDP/STP's
// signed 7-bit scaled-immediate pair offset (the -64..63 element range
// every ARM64 ISA manual lists for LDP/STP's imm7 field).
func pairable(a, b backendir.Instr) bool {
	elemSize := int64(8)
	if a.Cls == backendir.ClsW || a.Cls == backendir.ClsS {
		elemSize = 4
	}
	diff := b.Imm - a.Imm
	if diff != elemSize && diff != -elemSize {
		return false
	}
	pairOffset := a.Imm / elemSize
	return pairOffset >= -64 && pairOffset <= 63
}

func clsOf(c backendir.OperandClass) OperandClass { return OperandClass(c) }

// convert renders one unfused backendir.Instr into its Inst record. This
// is the fallback path every buffered-but-unmatched instruction and every
// non-fusable instruction goes through.
func (c *Collector) convert(in backendir.Instr) Inst {
	out := Inst{
		Cls:      clsOf(in.Cls),
		Rd:       int32(in.Rd),
		Rn:       int32(in.Rn),
		Rm:       int32(in.Rm),
		Ra:       int32(in.Ra),
		Imm:      in.Imm,
		Imm2:     in.Imm2,
		TargetID: int32(in.TargetBlock),
		SymType:  in.SymType,
	}
	if in.IsFloat {
		out.IsFloat = 1
	}
	if in.ShiftType != "" {
		out.ShiftType = shiftTypeCode(shiftOpFor(in.ShiftType))
	}
	if in.Cond != "" {
		out.Cond = condCode(in.Cond)
	}
	out.SetSymName(in.SymName)
	out.Kind = kindFor(in.Op)
	return out
}

func shiftOpFor(name string) backendir.Op {
	switch name {
	case "lsr":
		return backendir.OpLsr
	case "asr":
		return backendir.OpAsr
	default:
		return backendir.OpLsl
	}
}

// condCode maps an ARM64 condition mnemonic to its 4-bit encoding.
func condCode(mnemonic string) uint8 {
	codes := map[string]uint8{
		"eq": 0x0, "ne": 0x1, "cs": 0x2, "cc": 0x3,
		"mi": 0x4, "pl": 0x5, "vs": 0x6, "vc": 0x7,
		"hi": 0x8, "ls": 0x9, "ge": 0xa, "lt": 0xb,
		"gt": 0xc, "le": 0xd, "al": 0xe,
	}
	if code, ok := codes[mnemonic]; ok {
		return code
	}
	return 0xe // "al" — unconditional, the safe default for an unknown mnemonic
}

func kindFor(op backendir.Op) Kind {
	switch op {
	case backendir.OpAdd:
		return KindAdd
	case backendir.OpSub:
		return KindSub
	case backendir.OpMul:
		return KindMul
	case backendir.OpSDiv:
		return KindSDiv
	case backendir.OpAnd:
		return KindAnd
	case backendir.OpOrr:
		return KindOrr
	case backendir.OpEor:
		return KindEor
	case backendir.OpLsl:
		return KindLsl
	case backendir.OpLsr:
		return KindLsr
	case backendir.OpAsr:
		return KindAsr
	case backendir.OpMovReg:
		return KindMovReg
	case backendir.OpMovImm:
		return KindMovZ
	case backendir.OpMovk:
		return KindMovK
	case backendir.OpFAdd:
		return KindFAdd
	case backendir.OpFSub:
		return KindFSub
	case backendir.OpFMul:
		return KindFMul
	case backendir.OpFDiv:
		return KindFDiv
	case backendir.OpSCVTF:
		return KindSCVTF
	case backendir.OpFCVTZS:
		return KindFCVTZS
	case backendir.OpLoad:
		return KindLoad
	case backendir.OpStore:
		return KindStore
	case backendir.OpCmp:
		return KindCmp
	case backendir.OpCondSet:
		return KindCSet
	case backendir.OpBranch:
		return KindB
	case backendir.OpBranchCond:
		return KindBCond
	case backendir.OpBranchReg:
		return KindBR
	case backendir.OpCallExt:
		return KindCallExt
	case backendir.OpRet:
		return KindRet
	case backendir.OpLabel:
		return KindLabel
	case backendir.OpComment:
		return KindComment
	default:
		return KindComment
	}
}

// Histogram returns a stable-ordered snapshot of per-kind instruction
// counts across every Collect call this Collector has made.
func (c *Collector) Histogram() []KindCount {
	out := make([]KindCount, 0, len(c.histogram))
	for k, n := range c.histogram {
		out = append(out, KindCount{Kind: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// KindCount is one row of Collector.Histogram's output.
type KindCount struct {
	Kind  Kind
	Count int
}

// PrintHistogram renders the histogram as a human-readable table,
// highest count first.
func (c *Collector) PrintHistogram() string {
	rows := c.Histogram()
	var out string
	for _, r := range rows {
		out += fmt.Sprintf("%-16s %d\n", r.Kind, r.Count)
	}
	return out
}
