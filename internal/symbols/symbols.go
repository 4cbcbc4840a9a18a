// Package symbols implements the Symbol Mapper: mangling BASIC source
// names (which allow characters QBE identifiers cannot) into stable IL
// names, plus label minting and function-scope SHARED/parameter tracking
// (spec.md §4.E).
package symbols

import (
	"fmt"
	"strings"
)

// manglerKey memoizes Mangle results per (isGlobal, basicName) pair, since
// the same source name can mean different things at global vs. local
// scope (a global "$var_x_int" vs. a local "%x_int").
type manglerKey struct {
	global bool
	name   string
}

// funcScope is one entry of the LIFO function-scope stack.
type funcScope struct {
	name       string
	shared     map[string]struct{}
	parameters map[string]struct{}
}

// qbeReserved is the set of QBE instruction/type keywords a mangled name
// must never collide with.
var qbeReserved = map[string]struct{}{
	"add": {}, "sub": {}, "mul": {}, "div": {}, "rem": {}, "neg": {},
	"udiv": {}, "urem": {}, "or": {}, "xor": {}, "and": {}, "sar": {},
	"shr": {}, "shl": {}, "loadw": {}, "loadl": {}, "loads": {}, "loadd": {},
	"storew": {}, "storel": {}, "stores": {}, "stored": {}, "storeb": {},
	"storeh": {}, "alloc4": {}, "alloc8": {}, "alloc16": {}, "call": {},
	"jmp": {}, "jnz": {}, "ret": {}, "phi": {}, "ceqw": {}, "cnel": {},
	"csltw": {}, "cslew": {}, "csgtw": {}, "csgew": {}, "w": {}, "l": {},
	"s": {}, "d": {}, "b": {}, "h": {}, "env": {}, "function": {}, "data": {},
	"type": {}, "export": {},
}

// Mapper is the Symbol Mapper: a memoized name mangler plus label minter
// and function-scope stack. Not goroutine-safe — a Mapper belongs to one
// compilation, driven from a single goroutine, mirroring internal/il's
// Builder.
type Mapper struct {
	cache map[manglerKey]string

	labelCounters  map[string]int
	stringCounter  int

	scopes []*funcScope
}

// NewMapper constructs an empty Symbol Mapper.
func NewMapper() *Mapper {
	return &Mapper{
		cache:         make(map[manglerKey]string),
		labelCounters: make(map[string]int),
	}
}

// Reset clears all caches, counters, and scope state.
func (m *Mapper) Reset() {
	m.cache = make(map[manglerKey]string)
	m.labelCounters = make(map[string]int)
	m.stringCounter = 0
	m.scopes = nil
}

// typeSuffix maps a BASIC type-sigil character to its mangled suffix.
func typeSuffix(c byte) (string, bool) {
	switch c {
	case '%':
		return "_int", true
	case '$':
		return "_str", true
	case '#':
		return "_dbl", true
	case '!':
		return "_sng", true
	case '&':
		return "_lng", true
	default:
		return "", false
	}
}

// stripTypeSuffix separates a trailing BASIC type sigil (if any) from the
// base name, returning the base name and the mangled suffix to append.
func stripTypeSuffix(name string) (string, string) {
	if name == "" {
		return name, ""
	}
	last := name[len(name)-1]
	if suf, ok := typeSuffix(last); ok {
		return name[:len(name)-1], suf
	}
	return name, ""
}

// sanitize replaces any character invalid in a QBE identifier with an
// underscore.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// IsQBEReserved reports whether name collides with a QBE keyword.
func IsQBEReserved(name string) bool {
	_, ok := qbeReserved[strings.ToLower(name)]
	return ok
}

// EscapeReserved prefixes name with an underscore if it collides with a
// QBE reserved word; otherwise returns it unchanged.
func EscapeReserved(name string) string {
	if IsQBEReserved(name) {
		return "_" + name
	}
	return name
}

// Mangle converts a BASIC variable name into a stable IL identifier.
// Global variables are prefixed "$var_", locals "%", both followed by the
// sanitized base name and a type-suffix mangling of any trailing BASIC
// type sigil. Results are memoized per (isGlobal, basicName).
func (m *Mapper) Mangle(basicName string, isGlobal bool) string {
	key := manglerKey{global: isGlobal, name: basicName}
	if cached, ok := m.cache[key]; ok {
		return cached
	}

	base, suffix := stripTypeSuffix(basicName)
	base = sanitize(base)
	base = EscapeReserved(base)

	var mangled string
	if isGlobal {
		mangled = fmt.Sprintf("$var_%s%s", base, suffix)
	} else {
		mangled = fmt.Sprintf("%%%s%s", base, suffix)
	}
	m.cache[key] = mangled
	return mangled
}

// MangleArrayName mangles a BASIC array name, distinct from a scalar
// variable of the same base name.
func (m *Mapper) MangleArrayName(basicName string, isGlobal bool) string {
	key := manglerKey{global: isGlobal, name: "arr:" + basicName}
	if cached, ok := m.cache[key]; ok {
		return cached
	}
	base, suffix := stripTypeSuffix(basicName)
	base = EscapeReserved(sanitize(base))
	var mangled string
	if isGlobal {
		mangled = fmt.Sprintf("$arr_%s%s", base, suffix)
	} else {
		mangled = fmt.Sprintf("%%arr_%s%s", base, suffix)
	}
	m.cache[key] = mangled
	return mangled
}

// ArrayDescriptorName returns the mangled name of an array's descriptor
// (dimension/bound metadata), always global regardless of the array's own
// scope, since descriptors live in static data.
func (m *Mapper) ArrayDescriptorName(basicName string) string {
	base, _ := stripTypeSuffix(basicName)
	base = EscapeReserved(sanitize(base))
	return fmt.Sprintf("$arr_desc_%s", base)
}

// MangleSubName mangles a SUB name. SUBs are always process-global.
func (m *Mapper) MangleSubName(name string) string {
	return fmt.Sprintf("$sub_%s", EscapeReserved(sanitize(name)))
}

// MangleFunctionName mangles a FUNCTION name.
func (m *Mapper) MangleFunctionName(name string) string {
	return fmt.Sprintf("$func_%s", EscapeReserved(sanitize(name)))
}

// MangleDefFnName mangles a DEF FN name.
func (m *Mapper) MangleDefFnName(name string) string {
	return fmt.Sprintf("$deffn_%s", EscapeReserved(sanitize(name)))
}

// MangleLabelName mangles a BASIC line-number or named label. Purely
// numeric labels become "line_N"; named labels become "label_NAME".
func (m *Mapper) MangleLabelName(label string) string {
	isNumeric := label != ""
	for _, r := range label {
		if r < '0' || r > '9' {
			isNumeric = false
			break
		}
	}
	if isNumeric {
		return fmt.Sprintf("line_%s", label)
	}
	return fmt.Sprintf("label_%s", sanitize(label))
}

// BlockLabel returns the label name for a CFG block by numeric ID.
func (m *Mapper) BlockLabel(blockID int) string {
	return fmt.Sprintf("block_%d", blockID)
}

// NewLabel mints a fresh, unique label for the given prefix, e.g.
// "if_then_0", "if_then_1". Counters are kept per-prefix so unrelated
// control-flow shapes don't compete for the same numbering.
func (m *Mapper) NewLabel(prefix string) string {
	n := m.labelCounters[prefix]
	m.labelCounters[prefix] = n + 1
	return fmt.Sprintf("%s_%d", prefix, n)
}

// NewStringConstantName mints the next unique string-pool constant name.
func (m *Mapper) NewStringConstantName() string {
	name := fmt.Sprintf("$str_%d", m.stringCounter)
	m.stringCounter++
	return name
}

// EnterFunctionScope pushes a new function scope onto the LIFO stack,
// recording its parameters for IsParameter lookups.
func (m *Mapper) EnterFunctionScope(functionName string, parameters []string) {
	fs := &funcScope{
		name:       functionName,
		shared:     make(map[string]struct{}),
		parameters: make(map[string]struct{}, len(parameters)),
	}
	for _, p := range parameters {
		fs.parameters[p] = struct{}{}
	}
	m.scopes = append(m.scopes, fs)
}

// ExitFunctionScope pops the current function scope.
func (m *Mapper) ExitFunctionScope() {
	if len(m.scopes) == 0 {
		return
	}
	m.scopes = m.scopes[:len(m.scopes)-1]
}

// AddSharedVariable marks varName SHARED within the current function
// scope. A no-op at global scope.
func (m *Mapper) AddSharedVariable(varName string) {
	fs := m.currentScope()
	if fs == nil {
		return
	}
	fs.shared[varName] = struct{}{}
}

// IsSharedVariable reports whether varName is SHARED in the current
// function scope.
func (m *Mapper) IsSharedVariable(varName string) bool {
	fs := m.currentScope()
	if fs == nil {
		return false
	}
	_, ok := fs.shared[varName]
	return ok
}

// IsParameter reports whether varName is a parameter of the current
// function.
func (m *Mapper) IsParameter(varName string) bool {
	fs := m.currentScope()
	if fs == nil {
		return false
	}
	_, ok := fs.parameters[varName]
	return ok
}

// ClearSharedVariables clears the SHARED set of the current function
// scope (called by callers when re-entering a scope for a second pass).
func (m *Mapper) ClearSharedVariables() {
	fs := m.currentScope()
	if fs == nil {
		return
	}
	fs.shared = make(map[string]struct{})
}

// InFunctionScope reports whether a function scope is currently active.
func (m *Mapper) InFunctionScope() bool { return len(m.scopes) > 0 }

// CurrentFunction returns the name of the active function scope, or ""
// at global scope.
func (m *Mapper) CurrentFunction() string {
	fs := m.currentScope()
	if fs == nil {
		return ""
	}
	return fs.name
}

func (m *Mapper) currentScope() *funcScope {
	if len(m.scopes) == 0 {
		return nil
	}
	return m.scopes[len(m.scopes)-1]
}
