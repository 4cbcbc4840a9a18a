package codegen

import (
	"fmt"

	"github.com/fasterbasic/fbc/internal/ast"
	"github.com/fasterbasic/fbc/internal/cfg"
	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/il"
	"github.com/fasterbasic/fbc/internal/rtlib"
	"github.com/fasterbasic/fbc/internal/symbols"
	"github.com/fasterbasic/fbc/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Unit drives the whole emission pipeline for one compiled program —
// spec.md §4.J's five-step orchestration (reset, string collection,
// header and globals, main, per-function with a scope guard). No DATA
// segment is emitted.
type Unit struct {
	ID  uuid.UUID
	Log *logrus.Entry

	B   *il.Builder
	Sym *symbols.Mapper
	RT  *rtlib.Library

	SammEnabled     bool
	GosubStackDepth int

	// Plugins is the compiled program's plugin registry, built once from
	// frontend.Program.Plugins at the start of Compile and handed to
	// every function's internal/ast.Emitter.
	Plugins map[string]bool

	// Trace enables --trace-cfg-style phase logging.
	Trace bool

	// Diagnostics collects every non-fatal codegen defect found across
	// main and every function, in emission order.
	Diagnostics []Diagnostic
}

// NewUnit constructs a fresh orchestrator, one per compiled program. Its
// UUID tags every log line this run emits so concurrent compiles (e.g. a
// build server handling several files) don't interleave indistinguishably.
func NewUnit(sammEnabled bool, gosubStackDepth int) *Unit {
	if gosubStackDepth <= 0 {
		gosubStackDepth = DefaultGosubStackDepth
	}
	id := uuid.New()
	b := il.NewBuilder()
	return &Unit{
		ID:              id,
		Log:             logrus.WithField("unit", id.String()),
		B:               b,
		Sym:             symbols.NewMapper(),
		RT:              rtlib.New(b),
		SammEnabled:     sammEnabled,
		GosubStackDepth: gosubStackDepth,
	}
}

// Compile runs the five-step pipeline against prog and returns the
// rendered IL text.
func (u *Unit) Compile(prog *frontend.Program) string {
	// Step 1: reset.
	u.B.Reset()
	u.Sym.Reset()
	u.traceLog("reset IL builder and symbol mapper")

	u.Plugins = make(map[string]bool, len(prog.Plugins))
	for _, p := range prog.Plugins {
		u.Plugins[p] = true
	}

	cfgBuilder := cfg.NewBuilder()
	pc := cfgBuilder.BuildProgram(prog)

	// Step 2: string collection across the main CFG and every function's.
	collectStringsGraph(u.B, pc.Main)
	for _, fn := range prog.Funcs {
		collectStringsGraph(u.B, pc.Functions[fn.Name])
	}
	u.traceLog("collected string literals")

	// Step 3: header, GOSUB return stack, globals, string pool (no DATA
	// segment is emitted).
	globals := collectGlobals(prog, u.Sym)
	u.emitHeader()
	emitGlobals(u.B, globals)
	u.B.EmitStringPool()
	u.traceLog(fmt.Sprintf("emitted header and %d globals", len(globals)))

	// Step 4: main.
	u.emitMain(pc.Main)
	u.traceLog("emitted main")

	// Step 5: every function/sub/def fn.
	for _, fn := range prog.Funcs {
		u.emitFunction(fn, pc.Functions[fn.Name])
		u.traceLog("emitted function " + fn.Name)
	}

	return u.B.String()
}

func (u *Unit) traceLog(msg string) {
	if u.Trace {
		u.Log.Debug(msg)
	}
}

// emitHeader reserves the GOSUB return stack's backing storage. The IL
// this package emits has no import/include mechanism of its own — rt_*
// and samm_* names are resolved against whatever links the runtime
// library at assembly time, so there is no separate "runtime
// declarations" section to emit here.
func (u *Unit) emitHeader() {
	u.B.EmitGlobalData("gosub_sp", "w 0")
	u.B.EmitGlobalData("gosub_stack", fmt.Sprintf("z %d", u.GosubStackDepth*4))
}

func (u *Unit) emitMain(g *cfg.Graph) {
	u.Sym.ClearSharedVariables()
	a := ast.New(u.B, u.Sym, u.RT, u.SammEnabled)
	a.Plugins = u.Plugins
	ce := NewEmitter(u.B, u.Sym, u.RT, a)
	ce.gosubStackDepth = u.GosubStackDepth

	u.B.EmitFunctionStart("main", "w", nil)
	ce.EmitGraph(g, EntryMain, nil, u.SammEnabled)
	u.B.EmitFunctionEnd()
	u.Diagnostics = append(u.Diagnostics, ce.Diagnostics...)
}

// emitFunction emits one FUNCTION/SUB/DEF FN. A deferred ExitFunctionScope
// guarantees the Symbol Mapper's function-scope stack unwinds even if a
// later step in this function's build aborts partway through — spec.md
// §4.J step 5's "scope guard" requirement.
func (u *Unit) emitFunction(fn *frontend.FuncDecl, g *cfg.Graph) {
	paramNames := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		paramNames[i] = p.Name
	}
	u.Sym.EnterFunctionScope(fn.Name, paramNames)
	defer u.Sym.ExitFunctionScope()

	for _, sv := range fn.SharedVars {
		u.Sym.AddSharedVariable(sv)
	}

	kind := EntryFunction
	retType := "l"
	var mangled string
	var retValAddr string
	switch fn.Kind {
	case frontend.KindSub:
		kind = EntrySub
		retType = ""
		mangled = u.Sym.MangleSubName(fn.Name)
	case frontend.KindDefFn:
		mangled = u.Sym.MangleDefFnName(fn.Name)
		retValAddr = "$retval_" + sanitizeForLabel(fn.Name)
	default:
		mangled = u.Sym.MangleFunctionName(fn.Name)
		retValAddr = "$retval_" + sanitizeForLabel(fn.Name)
	}

	params := make([]il.Param, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = il.Param{Name: p.Name, Type: types.ILCode(p.Type)}
	}

	if kind == EntryFunction {
		u.B.EmitGlobalData(retValAddr[1:], "l 0")
	}

	a := ast.New(u.B, u.Sym, u.RT, u.SammEnabled)
	a.RetValAddr = retValAddr
	a.Plugins = u.Plugins
	ce := NewEmitter(u.B, u.Sym, u.RT, a)
	ce.gosubStackDepth = u.GosubStackDepth
	ce.RetValAddr = retValAddr

	u.B.EmitFunctionStart(mangled[1:], retType, params)
	ce.EmitGraph(g, kind, fn.Params, u.SammEnabled)
	u.B.EmitFunctionEnd()
	u.Diagnostics = append(u.Diagnostics, ce.Diagnostics...)
}

func sanitizeForLabel(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
