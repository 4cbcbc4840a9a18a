package codegen

import (
	"fmt"

	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/symbols"
	"github.com/fasterbasic/fbc/internal/types"
)

// GlobalDecl is one global variable or global array descriptor slot
// discovered while walking the program, emitted as zeroed data by
// emitGlobals (spec.md §4.J step 3).
type GlobalDecl struct {
	Mangled string
	Type    types.Type
	IsArray bool
}

// collectGlobals walks every top-level DIM (BASIC's global declaration
// form) plus every bare global VarRef the program and its functions
// reference, producing one GlobalDecl per distinct mangled name. Order is
// stable (first-seen) so repeated codegen runs emit byte-identical data
// sections.
func collectGlobals(prog *frontend.Program, sym *symbols.Mapper) []GlobalDecl {
	seen := make(map[string]bool)
	var out []GlobalDecl

	add := func(basicName string, t types.Type, isArray bool) {
		mangled := sym.Mangle(basicName, true)
		if isArray {
			mangled = sym.MangleArrayName(basicName, true)
		}
		if seen[mangled] {
			return
		}
		seen[mangled] = true
		out = append(out, GlobalDecl{Mangled: mangled, Type: t, IsArray: isArray})
	}

	var walkStmts func([]frontend.Stmt)
	var walkExpr func(frontend.Expr)

	walkExpr = func(e frontend.Expr) {
		if e == nil {
			return
		}
		switch v := e.(type) {
		case *frontend.VarRef:
			if v.Global {
				add(v.Name, v.Sem().Type, false)
			}
		case *frontend.BinaryExpr:
			walkExpr(v.Left)
			walkExpr(v.Right)
		case *frontend.UnaryExpr:
			walkExpr(v.Expr)
		case *frontend.ArrayAccessExpr:
			walkExpr(v.Array)
			for _, ix := range v.Indices {
				walkExpr(ix)
			}
		case *frontend.FieldAccessExpr:
			walkExpr(v.Object)
		case *frontend.MethodCallExpr:
			walkExpr(v.Object)
			for _, a := range v.Args {
				walkExpr(a)
			}
		case *frontend.NewExpr:
			for _, a := range v.Args {
				walkExpr(a)
			}
		case *frontend.IsExpr:
			walkExpr(v.Left)
			walkExpr(v.Right)
		case *frontend.SuperExpr:
			for _, a := range v.Args {
				walkExpr(a)
			}
		case *frontend.IifExpr:
			walkExpr(v.Cond)
			walkExpr(v.Then)
			walkExpr(v.Else)
		case *frontend.CallExpr:
			for _, a := range v.Args {
				walkExpr(a)
			}
		}
	}

	walkStmts = func(stmts []frontend.Stmt) {
		for _, s := range stmts {
			switch st := s.(type) {
			case *frontend.DimStmt:
				add(st.Name, st.Type, len(st.Dims) > 0)
				for _, d := range st.Dims {
					walkExpr(d)
				}
			case *frontend.LetStmt:
				walkExpr(st.Target)
				walkExpr(st.Value)
			case *frontend.PrintStmt:
				for _, a := range st.Args {
					walkExpr(a)
				}
			case *frontend.InputStmt:
				walkExpr(st.Target)
			case *frontend.IfStmt:
				walkExpr(st.Cond)
				walkStmts(st.Then)
				walkStmts(st.Else)
			case *frontend.WhileStmt:
				walkExpr(st.Cond)
				walkStmts(st.Body)
			case *frontend.ForStmt:
				walkExpr(st.From)
				walkExpr(st.To)
				walkExpr(st.Step)
				walkStmts(st.Body)
			case *frontend.ReturnStmt:
				walkExpr(st.Value)
			case *frontend.OnGotoStmt:
				walkExpr(st.Selector)
			case *frontend.TryStmt:
				walkStmts(st.Body)
				walkStmts(st.Catch)
				walkStmts(st.Finally)
			case *frontend.CallStmt:
				for _, a := range st.Args {
					walkExpr(a)
				}
			case *frontend.ExprStmt:
				walkExpr(st.Expr)
			}
		}
	}

	walkStmts(prog.Main)
	for _, fn := range prog.Funcs {
		walkStmts(fn.Body)
	}
	return out
}

// emitGlobals writes the zeroed data section for every discovered global:
// array globals get a null descriptor slot (the buffer itself is
// allocated by DIM at runtime); UDT/class-instance globals get a
// recursively-sized zero blob; scalars get one zeroed word of their type.
func emitGlobals(b interface{ EmitGlobalData(name, contents string) }, decls []GlobalDecl) {
	for _, d := range decls {
		name := d.Mangled[1:] // strip the leading '$' EmitGlobalData re-adds
		switch {
		case d.IsArray:
			b.EmitGlobalData(name, "l 0")
		case d.Type.Kind == types.KindClassInstance:
			b.EmitGlobalData(name, "l 0")
		case d.Type.Kind == types.KindUDT:
			size := types.SizeOf(d.Type)
			b.EmitGlobalData(name, fmt.Sprintf("z %d", size))
		default:
			b.EmitGlobalData(name, zeroFor(d.Type))
		}
	}
}

func zeroFor(t types.Type) string {
	switch types.ILCode(t) {
	case "w":
		return "w 0"
	case "s":
		return "s 0"
	case "d":
		return "d 0"
	default:
		return "l 0"
	}
}
