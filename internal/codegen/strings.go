package codegen

import (
	"github.com/fasterbasic/fbc/internal/cfg"
	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/il"
)

// collectStringsGraph walks every block's statements (and any condition
// carried in a block's Terminator or ON-GOTO selector) and registers
// every string literal it finds with the IL Builder's string pool —
// spec.md §4.J step 2's "including those in CASE values, slice-assign
// bounds, plugin args, etc." parenthetical.
func collectStringsGraph(b *il.Builder, g *cfg.Graph) {
	for _, blk := range g.Blocks {
		for _, s := range blk.Stmts {
			collectStringsStmt(b, s)
		}
		switch term := blk.Terminator.(type) {
		case *cfg.IfTerminator:
			collectStringsExpr(b, term.Cond)
		case *cfg.WhileTerminator:
			collectStringsExpr(b, term.Cond)
		case *cfg.ForInitTerminator:
			collectStringsExpr(b, term.From)
			collectStringsExpr(b, term.To)
			collectStringsExpr(b, term.Step)
		case *cfg.ForHeaderTerminator:
			collectStringsExpr(b, term.To)
		case *cfg.ForIncrTerminator:
			collectStringsExpr(b, term.Step)
		}
		if blk.OnGotoSelector != nil {
			collectStringsExpr(b, blk.OnGotoSelector)
		}
	}
}

func collectStringsStmt(b *il.Builder, s frontend.Stmt) {
	switch st := s.(type) {
	case *frontend.LetStmt:
		collectStringsExpr(b, st.Target)
		collectStringsExpr(b, st.Value)
	case *frontend.PrintStmt:
		for _, a := range st.Args {
			collectStringsExpr(b, a)
		}
	case *frontend.InputStmt:
		if st.Prompt != "" {
			b.RegisterString(st.Prompt)
		}
		collectStringsExpr(b, st.Target)
	case *frontend.ReturnStmt:
		collectStringsExpr(b, st.Value)
	case *frontend.DimStmt:
		for _, d := range st.Dims {
			collectStringsExpr(b, d)
		}
	case *frontend.RedimStmt:
		for _, d := range st.Dims {
			collectStringsExpr(b, d)
		}
	case *frontend.CallStmt:
		for _, a := range st.Args {
			collectStringsExpr(b, a)
		}
	case *frontend.OnGotoStmt:
		collectStringsExpr(b, st.Selector)
	case *frontend.ExprStmt:
		collectStringsExpr(b, st.Expr)
	}
}

func collectStringsExpr(b *il.Builder, e frontend.Expr) {
	if e == nil {
		return
	}
	switch v := e.(type) {
	case *frontend.StringLit:
		b.RegisterString(v.Value)
	case *frontend.BinaryExpr:
		collectStringsExpr(b, v.Left)
		collectStringsExpr(b, v.Right)
	case *frontend.UnaryExpr:
		collectStringsExpr(b, v.Expr)
	case *frontend.ArrayAccessExpr:
		collectStringsExpr(b, v.Array)
		for _, ix := range v.Indices {
			collectStringsExpr(b, ix)
		}
	case *frontend.FieldAccessExpr:
		collectStringsExpr(b, v.Object)
	case *frontend.MethodCallExpr:
		collectStringsExpr(b, v.Object)
		for _, a := range v.Args {
			collectStringsExpr(b, a)
		}
	case *frontend.NewExpr:
		for _, a := range v.Args {
			collectStringsExpr(b, a)
		}
	case *frontend.IsExpr:
		collectStringsExpr(b, v.Left)
		collectStringsExpr(b, v.Right)
	case *frontend.SuperExpr:
		for _, a := range v.Args {
			collectStringsExpr(b, a)
		}
	case *frontend.IifExpr:
		collectStringsExpr(b, v.Cond)
		collectStringsExpr(b, v.Then)
		collectStringsExpr(b, v.Else)
	case *frontend.CallExpr:
		for _, a := range v.Args {
			collectStringsExpr(b, a)
		}
	}
}
