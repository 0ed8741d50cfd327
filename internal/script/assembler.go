package script

import (
	"encoding/hex"
	"go/parser"
	"go/token"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// ScaffoldPackage is the package name of scaffolded units.
const ScaffoldPackage = "program"

// Unit is an assembled compilation unit.
type Unit struct {
	// Text is the complete Go source handed to the compiler.
	Text string

	// Package is the unit's package name; Setup and Run are resolved in it.
	Package string

	// Imports are the import paths written into a scaffolded unit.
	Imports []string

	// References are the user-declared reference roots, in declaration
	// order without duplicates. They are passed to the compiler, never
	// embedded in Text.
	References []string

	// Raw is true when the run text was used verbatim.
	Raw bool

	setup region
	run   region
}

// region is the span of a user section within Text.
type region struct {
	start int // 1-based line of the section's first line, 0 when absent
	lines int
}

func (r region) contains(line int) bool {
	return r.start > 0 && line >= r.start && line < r.start+r.lines
}

// locate maps a line of Text to a section and a line within it.
func (u *Unit) locate(line int) (Section, int) {
	switch {
	case u.setup.contains(line):
		return SectionSetup, line - u.setup.start + 1
	case u.run.contains(line):
		return SectionRun, line - u.run.start + 1
	default:
		return SectionScaffold, line
	}
}

// Digest is a content hash of everything that affects compilation of the
// unit: its text and its reference roots.
func (u *Unit) Digest() string {
	h := blake3.New()
	_, _ = h.Write([]byte(u.Text))
	for _, ref := range u.References {
		_, _ = h.Write([]byte("\x00" + ref))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Assembler builds compilation units from user source.
type Assembler struct {
	env *Environment
}

// NewAssembler creates an assembler using env's default includes. A nil
// env means DefaultEnvironment.
func NewAssembler(env *Environment) *Assembler {
	if env == nil {
		env = DefaultEnvironment()
	}
	return &Assembler{env: env}
}

// Assemble extracts directives from src.Setup and produces a unit.
//
// In scaffold mode the setup and run bodies are wrapped in the program
// package with Setup and Run entry points. Default includes the bodies
// never reference are left out, since Go rejects unused imports; declared
// includes are always kept. In raw mode the run text is the unit.
func (a *Assembler) Assemble(src Source) *Unit {
	setup := normalizeNewlines(src.Setup)
	run := normalizeNewlines(src.Run)
	directives := ExtractDirectives(setup)

	u := &Unit{References: referencesOf(directives)}

	if IsRaw(setup) {
		u.Raw = true
		u.Text = run
		u.Package = packageClause(run)
		u.run = region{start: 1, lines: countLines(run)}
		return u
	}

	u.Package = ScaffoldPackage
	u.Imports = a.imports(directives, setup+"\n"+run)

	var b unitBuilder
	b.line("package " + ScaffoldPackage)
	b.line("")
	b.line("import (")
	for _, imp := range u.Imports {
		b.line("\t" + strconv.Quote(imp))
	}
	b.line(")")
	b.line("")
	b.lines(scaffoldEntryPoints)
	b.line("")
	b.line("func setupCode() bool {")
	u.setup = b.section(setup)
	b.line("\treturn false")
	b.line("}")
	b.line("")
	b.line("func runCode(options string) error {")
	u.run = b.section(run)
	b.line("\treturn nil")
	b.line("}")

	u.Text = b.String()
	return u
}

// scaffoldEntryPoints convert a panic in user code into a returned error
// prefixed "panic: ", which the host reports as FailurePanic.
const scaffoldEntryPoints = `func Setup() (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return setupCode(), nil
}

func Run(options string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return runCode(options)
}`

// imports returns "fmt", the referenced defaults and every declared
// include, de-duplicated, defaults first.
func (a *Assembler) imports(directives []Directive, body string) []string {
	out := []string{"fmt"}
	for _, inc := range a.env.includes {
		if !slices.Contains(out, inc) && referencesPackage(body, packageName(inc)) {
			out = append(out, inc)
		}
	}
	for _, d := range directives {
		if d.Kind == Include && !slices.Contains(out, d.Value) {
			out = append(out, d.Value)
		}
	}
	return out
}

func referencesOf(directives []Directive) []string {
	var out []string
	for _, d := range directives {
		if d.Kind == Reference && !slices.Contains(out, d.Value) {
			out = append(out, d.Value)
		}
	}
	return out
}

var majorVersion = regexp.MustCompile(`^v[0-9]+$`)

// packageName guesses the package name of an import path: its last
// element, skipping a major version suffix and trimming ".vN".
func packageName(importPath string) string {
	name := path.Base(importPath)
	if majorVersion.MatchString(name) {
		name = path.Base(path.Dir(importPath))
	}
	if i := strings.Index(name, ".v"); i > 0 {
		name = name[:i]
	}
	return strings.ReplaceAll(name, "-", "_")
}

func referencesPackage(body, name string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\.`)
	if err != nil {
		return true
	}
	return re.MatchString(body)
}

// packageClause returns the package name declared by a raw unit, or "".
func packageClause(text string) string {
	f, err := parser.ParseFile(token.NewFileSet(), "", text, parser.PackageClauseOnly)
	if err != nil || f.Name == nil {
		return ""
	}
	return f.Name.Name
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}

// unitBuilder writes lines and tracks the current line number.
type unitBuilder struct {
	strings.Builder
	n int
}

func (b *unitBuilder) line(s string) {
	b.WriteString(s)
	b.WriteByte('\n')
	b.n++
}

func (b *unitBuilder) lines(s string) {
	for _, l := range strings.Split(s, "\n") {
		b.line(l)
	}
}

// section writes user text and returns where it landed.
func (b *unitBuilder) section(text string) region {
	r := region{start: b.n + 1, lines: countLines(text)}
	if r.lines == 0 {
		return region{}
	}
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteByte('\n')
	}
	b.n += r.lines
	return r
}
