// Package cfg implements the CFG Builder: single-pass construction of
// basic blocks and typed edges from a frontend.Program, with immediate
// back-edge wiring — no deferred second pass (spec.md §4.G).
package cfg

import "github.com/fasterbasic/fbc/internal/frontend"

// EdgeKind tags the reason a successor follows a block.
type EdgeKind int

const (
	FALLTHROUGH EdgeKind = iota
	CONDITIONAL_TRUE
	CONDITIONAL_FALSE
	JUMP
	CALL
	RETURN
	EXCEPTION
)

func (k EdgeKind) String() string {
	switch k {
	case FALLTHROUGH:
		return "FALLTHROUGH"
	case CONDITIONAL_TRUE:
		return "CONDITIONAL_TRUE"
	case CONDITIONAL_FALSE:
		return "CONDITIONAL_FALSE"
	case JUMP:
		return "JUMP"
	case CALL:
		return "CALL"
	case RETURN:
		return "RETURN"
	case EXCEPTION:
		return "EXCEPTION"
	default:
		return "UNKNOWN"
	}
}

// Edge is a directed, typed connection between two blocks by ID.
type Edge struct {
	From, To int
	Kind     EdgeKind
}

// Block is a basic block: an ordered list of statements borrowed from the
// AST, plus structural metadata derived from its edges.
type Block struct {
	ID            int
	Label         string
	Stmts         []frontend.Stmt
	IsLoopHeader  bool
	IsUnreachable bool
	Predecessors  []int
	Successors    []int

	// ON GOTO/ON GOSUB fields: buildOnGoto sets OnGotoSelector and
	// OnGotoIsGosub; the targets are carried by the block's JUMP/CALL
	// edges, and OnGotoTargets is left nil.
	OnGotoSelector frontend.Expr
	OnGotoTargets  []int
	OnGotoIsGosub  bool

	// Terminator carries the condition/loop-control expressions
	// internal/codegen's CFG Emitter needs to synthesize this block's
	// terminator instruction(s): one of *IfTerminator, *WhileTerminator,
	// *ForInitTerminator, *ForHeaderTerminator, *ForIncrTerminator, or nil
	// for a block with no evaluated condition. These are not AST
	// statements (frontend.Stmt is closed to the frontend package), so
	// they live in this dedicated field rather than in Stmts.
	Terminator any
}

// IfTerminator carries an IF block's branch condition.
type IfTerminator struct{ Cond frontend.Expr }

// WhileTerminator carries a WHILE header's continuation condition.
type WhileTerminator struct{ Cond frontend.Expr }

// ForInitTerminator carries a FOR loop's one-time bound/step evaluation.
type ForInitTerminator struct{ Var, From, To, Step frontend.Expr }

// ForHeaderTerminator carries a FOR loop's per-iteration continuation test.
type ForHeaderTerminator struct{ Var, To frontend.Expr }

// ForIncrTerminator carries a FOR loop's per-iteration advance.
type ForIncrTerminator struct{ Var, Step frontend.Expr }

// Graph is one function's (or the top-level program's) control flow
// graph.
type Graph struct {
	Blocks   []*Block
	Edges    []Edge
	EntryID  int

	// GosubReturnBlocks holds the IDs of synthesized "return point" blocks
	// a GOSUB's FALLTHROUGH edge lands on — spec.md §4.G's
	// gosub_return_blocks set.
	GosubReturnBlocks map[int]struct{}
}

func newGraph() *Graph {
	return &Graph{GosubReturnBlocks: make(map[int]struct{})}
}

func (g *Graph) newBlock(label string) *Block {
	b := &Block{ID: len(g.Blocks), Label: label}
	g.Blocks = append(g.Blocks, b)
	return b
}

func (g *Graph) block(id int) *Block { return g.Blocks[id] }

// wire adds a typed edge and updates both endpoints' adjacency lists.
func (g *Graph) wire(from, to int, kind EdgeKind) {
	g.Edges = append(g.Edges, Edge{From: from, To: to, Kind: kind})
	g.block(from).Successors = append(g.block(from).Successors, to)
	g.block(to).Predecessors = append(g.block(to).Predecessors, from)
}

// ProgramCFG holds the main program's CFG plus a function-name → CFG map,
// per spec.md §3's ProgramCFG contract.
type ProgramCFG struct {
	Main      *Graph
	Functions map[string]*Graph
}

// Builder walks frontend AST shapes and produces Graphs with immediate
// edge wiring. Label targets (for GOTO/GOSUB/ON GOTO) are resolved via a
// label → block-ID map populated as LabelStmts are encountered; forward
// references are resolved with a deferred-target patch list scoped to a
// single Graph build (not a second pass over the whole CFG — only over
// unresolved jump targets within the one function/program being built).
type Builder struct {
	g            *Graph
	labelBlocks  map[string]int
	pendingGotos []pendingGoto
	nextLoopTag  int
}

type pendingGoto struct {
	blockID int
	label   string
	kind    EdgeKind
}

// NewBuilder constructs an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildProgram builds the main CFG and every function/sub/deffn CFG.
func (b *Builder) BuildProgram(prog *frontend.Program) *ProgramCFG {
	pc := &ProgramCFG{Functions: make(map[string]*Graph)}
	pc.Main = b.buildGraph(prog.Main)
	for _, fn := range prog.Funcs {
		pc.Functions[fn.Name] = b.BuildFunction(fn)
	}
	return pc
}

// BuildFunction builds a standalone CFG for one FUNCTION/SUB/DEF FN body.
func (b *Builder) BuildFunction(fn *frontend.FuncDecl) *Graph {
	return b.buildGraph(fn.Body)
}

func (b *Builder) buildGraph(stmts []frontend.Stmt) *Graph {
	b.g = newGraph()
	b.labelBlocks = make(map[string]int)
	b.pendingGotos = nil

	entry := b.g.newBlock("entry")
	b.g.EntryID = entry.ID

	exit := b.buildStatements(entry.ID, stmts)
	_ = exit

	b.resolvePendingGotos()
	b.markUnreachable()
	return b.g
}

// buildStatements appends stmts to the block starting at curID, creating
// new blocks as control-flow shapes demand, and returns the ID of the
// block control falls through to after the last statement.
func (b *Builder) buildStatements(curID int, stmts []frontend.Stmt) int {
	for _, s := range stmts {
		curID = b.buildStatement(curID, s)
	}
	return curID
}

func (b *Builder) buildStatement(curID int, s frontend.Stmt) int {
	switch st := s.(type) {
	case *frontend.LabelStmt:
		next := b.g.newBlock("block_" + itoa(len(b.g.Blocks)))
		b.g.wire(curID, next.ID, FALLTHROUGH)
		b.labelBlocks[st.Name] = next.ID
		return next.ID

	case *frontend.IfStmt:
		return b.buildIf(curID, st)

	case *frontend.WhileStmt:
		return b.buildWhile(curID, st)

	case *frontend.ForStmt:
		return b.buildFor(curID, st)

	case *frontend.GosubStmt:
		return b.buildGosub(curID, st)

	case *frontend.ReturnStmt:
		b.g.block(curID).Stmts = append(b.g.block(curID).Stmts, st)
		next := b.g.newBlock("block_" + itoa(len(b.g.Blocks)))
		b.g.wire(curID, next.ID, RETURN)
		return next.ID

	case *frontend.OnGotoStmt:
		return b.buildOnGoto(curID, st)

	case *frontend.TryStmt:
		return b.buildTry(curID, st)

	case *frontend.GotoStmt:
		b.g.block(curID).Stmts = append(b.g.block(curID).Stmts, st)
		b.pendingGotos = append(b.pendingGotos, pendingGoto{blockID: curID, label: st.Label, kind: JUMP})
		next := b.g.newBlock("block_" + itoa(len(b.g.Blocks)))
		return next.ID

	default:
		// Straight-line statement: append to the current block.
		b.g.block(curID).Stmts = append(b.g.block(curID).Stmts, s)
		return curID
	}
}

func (b *Builder) buildIf(curID int, st *frontend.IfStmt) int {
	b.g.block(curID).Terminator = &IfTerminator{Cond: st.Cond}

	thenBlk := b.g.newBlock("if_then_" + itoa(curID))
	joinBlk := b.g.newBlock("if_join_" + itoa(curID))

	b.g.wire(curID, thenBlk.ID, CONDITIONAL_TRUE)

	if len(st.Else) > 0 {
		elseBlk := b.g.newBlock("if_else_" + itoa(curID))
		b.g.wire(curID, elseBlk.ID, CONDITIONAL_FALSE)
		elseExit := b.buildStatements(elseBlk.ID, st.Else)
		b.g.wire(elseExit, joinBlk.ID, FALLTHROUGH)
	} else {
		b.g.wire(curID, joinBlk.ID, CONDITIONAL_FALSE)
	}

	thenExit := b.buildStatements(thenBlk.ID, st.Then)
	b.g.wire(thenExit, joinBlk.ID, FALLTHROUGH)

	return joinBlk.ID
}

func (b *Builder) buildWhile(incomingID int, st *frontend.WhileStmt) int {
	header := b.g.newBlock("while_header_" + itoa(incomingID))
	header.IsLoopHeader = true
	body := b.g.newBlock("while_body_" + itoa(incomingID))
	exit := b.g.newBlock("while_exit_" + itoa(incomingID))

	b.g.wire(incomingID, header.ID, FALLTHROUGH)
	header.Terminator = &WhileTerminator{Cond: st.Cond}
	b.g.wire(header.ID, body.ID, CONDITIONAL_TRUE)
	b.g.wire(header.ID, exit.ID, CONDITIONAL_FALSE)

	bodyExit := b.buildStatements(body.ID, st.Body)
	// Back-edge wired immediately, not deferred.
	b.g.wire(bodyExit, header.ID, FALLTHROUGH)

	return exit.ID
}

func (b *Builder) buildFor(incomingID int, st *frontend.ForStmt) int {
	init := b.g.newBlock("for_init_" + itoa(incomingID))
	header := b.g.newBlock("for_header_" + itoa(incomingID))
	header.IsLoopHeader = true
	body := b.g.newBlock("for_body_" + itoa(incomingID))
	incr := b.g.newBlock("for_incr_" + itoa(incomingID))
	exit := b.g.newBlock("for_exit_" + itoa(incomingID))

	b.g.wire(incomingID, init.ID, FALLTHROUGH)
	init.Terminator = &ForInitTerminator{Var: st.Var, From: st.From, To: st.To, Step: st.Step}
	b.g.wire(init.ID, header.ID, FALLTHROUGH)

	header.Terminator = &ForHeaderTerminator{Var: st.Var, To: st.To}
	b.g.wire(header.ID, body.ID, CONDITIONAL_TRUE)
	b.g.wire(header.ID, exit.ID, CONDITIONAL_FALSE)

	bodyExit := b.buildStatements(body.ID, st.Body)
	b.g.wire(bodyExit, incr.ID, FALLTHROUGH)

	incr.Terminator = &ForIncrTerminator{Var: st.Var, Step: st.Step}
	// Back-edge wired immediately.
	b.g.wire(incr.ID, header.ID, FALLTHROUGH)

	return exit.ID
}

func (b *Builder) buildGosub(curID int, st *frontend.GosubStmt) int {
	b.g.block(curID).Stmts = append(b.g.block(curID).Stmts, st)

	returnPoint := b.g.newBlock("gosub_return_" + itoa(curID))
	b.g.GosubReturnBlocks[returnPoint.ID] = struct{}{}

	b.pendingGotos = append(b.pendingGotos, pendingGoto{blockID: curID, label: st.Label, kind: CALL})
	b.g.wire(curID, returnPoint.ID, FALLTHROUGH)

	return returnPoint.ID
}

func (b *Builder) buildOnGoto(curID int, st *frontend.OnGotoStmt) int {
	blk := b.g.block(curID)
	blk.OnGotoSelector = st.Selector
	blk.OnGotoIsGosub = st.IsGosub
	blk.Stmts = append(blk.Stmts, st)

	kind := JUMP
	if st.IsGosub {
		kind = CALL
	}
	for _, target := range st.Targets {
		b.pendingGotos = append(b.pendingGotos, pendingGoto{blockID: curID, label: target, kind: kind})
	}

	next := b.g.newBlock("block_" + itoa(len(b.g.Blocks)))
	b.g.wire(curID, next.ID, FALLTHROUGH)
	return next.ID
}

func (b *Builder) buildTry(curID int, st *frontend.TryStmt) int {
	tryBlk := b.g.newBlock("try_" + itoa(curID))
	b.g.wire(curID, tryBlk.ID, FALLTHROUGH)
	tryExit := b.buildStatements(tryBlk.ID, st.Body)

	join := b.g.newBlock("try_join_" + itoa(curID))
	b.g.wire(tryExit, join.ID, FALLTHROUGH)

	if len(st.Catch) > 0 {
		catchBlk := b.g.newBlock("catch_" + itoa(curID))
		b.g.wire(tryBlk.ID, catchBlk.ID, EXCEPTION)
		catchExit := b.buildStatements(catchBlk.ID, st.Catch)
		b.g.wire(catchExit, join.ID, FALLTHROUGH)
	}

	if len(st.Finally) > 0 {
		finallyBlk := b.g.newBlock("finally_" + itoa(curID))
		b.g.wire(join.ID, finallyBlk.ID, FALLTHROUGH)
		return b.buildStatements(finallyBlk.ID, st.Finally)
	}

	return join.ID
}

// resolvePendingGotos patches forward-referenced GOTO/GOSUB/ON-GOTO edges
// once every LabelStmt in this graph has produced a block ID. This is
// scoped entirely to the single Graph under construction, not a
// whole-program second pass: within-function control flow is still wired
// immediately at each statement, as spec.md §4.G requires; only the
// *target* of a forward jump needs this one resolution step because BASIC
// allows GOTO to a label lexically defined later in the same body.
func (b *Builder) resolvePendingGotos() {
	for _, pg := range b.pendingGotos {
		target, ok := b.labelBlocks[pg.label]
		if !ok {
			continue
		}
		b.g.wire(pg.blockID, target, pg.kind)
	}
}

// markUnreachable flags every block other than the entry block that has
// no predecessor as unreachable — e.g. the block after a GOTO that no
// label or jump leads into. A block whose only inbound edges come from
// unreachable blocks is not flagged.
func (b *Builder) markUnreachable() {
	for _, blk := range b.g.Blocks {
		if blk.ID == b.g.EntryID {
			continue
		}
		if len(blk.Predecessors) == 0 {
			blk.IsUnreachable = true
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

