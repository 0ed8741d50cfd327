package script

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
)

// unmanagedGoroutines reports goroutines user code would start outside the
// host's recovery: go statements and time.AfterFunc callbacks. A panic on
// such a goroutine cannot be recovered by the entry point wrappers and
// would stop the whole process, so these are compile errors. Hosts that
// want background work expose a recovering launcher as a host package.
//
// Text that does not parse is left to the interpreter to report.
func unmanagedGoroutines(u *Unit) []Diagnostic {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, unitFilename, u.Text, parser.SkipObjectResolution)
	if err != nil {
		return nil
	}
	timePkg := importName(f, "time")

	var out []Diagnostic
	report := func(pos token.Pos, msg string) {
		p := fset.Position(pos)
		section, line := u.locate(p.Line)
		out = append(out, Diagnostic{
			Severity: SeverityError,
			Section:  section,
			Line:     line,
			Column:   p.Column,
			Message:  msg,
		})
	}

	ast.Inspect(f, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.GoStmt:
			report(n.Pos(), "go statement not allowed: a panic on the goroutine would stop the host; use the host's Go function")
		case *ast.SelectorExpr:
			if x, ok := n.X.(*ast.Ident); ok && timePkg != "" && x.Name == timePkg && n.Sel.Name == "AfterFunc" {
				report(n.Pos(), "time.AfterFunc not allowed: the callback runs on an unrecovered goroutine; use the host's Go function")
			}
		}
		return true
	})
	return out
}

// importName returns the name path is imported under in f, or "".
func importName(f *ast.File, path string) string {
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil || p != path {
			continue
		}
		if imp.Name != nil {
			if imp.Name.Name == "_" || imp.Name.Name == "." {
				return ""
			}
			return imp.Name.Name
		}
		return packageName(p)
	}
	return ""
}
