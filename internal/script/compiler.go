package script

import (
	"errors"
	"fmt"
	"go/scanner"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Artifact is the result of a compilation. It holds a loadable program
// only when compilation succeeded.
//
// Thread Safety: an Artifact may be invoked from several goroutines; the
// program is loaded once. User code itself is not serialised, callers that
// need that (the automation engine does) must lock around invocations.
type Artifact struct {
	// Diagnostics holds errors and warnings in the order reported.
	Diagnostics []Diagnostic

	// Digest identifies the compiled unit (see Unit.Digest).
	Digest string

	// Package is the package Setup and Run are resolved in.
	Package string

	// Duration is how long compilation took.
	Duration time.Duration

	interp  *interp.Interpreter
	program *interp.Program

	once    sync.Once
	loadErr error
	setup   func() (bool, error)
	run     func(string) error
	// entry point resolution errors, reported on use
	setupErr error
	runErr   error
}

// Succeeded reports whether the artifact holds a compiled program.
func (a *Artifact) Succeeded() bool {
	return a != nil && a.program != nil
}

// Errors returns the error-severity diagnostics.
func (a *Artifact) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range a.Diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Summary joins the error diagnostics into one line, "" when there are none.
func (a *Artifact) Summary() string {
	errs := a.Errors()
	parts := make([]string, len(errs))
	for i, d := range errs {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}

// Compiler turns units into artifacts using a private interpreter per
// compilation. It holds no state that compilations share.
type Compiler struct {
	env    *Environment
	stdout io.Writer
	stderr io.Writer
	logger Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithOutput sets where a program's standard output and error go.
// The default discards both.
func WithOutput(stdout, stderr io.Writer) CompilerOption {
	return func(c *Compiler) {
		c.stdout, c.stderr = stdout, stderr
	}
}

// WithCompilerLogger sets the compiler's logger.
func WithCompilerLogger(l Logger) CompilerOption {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCompiler creates a compiler for env. A nil env means DefaultEnvironment.
func NewCompiler(env *Environment, opts ...CompilerOption) *Compiler {
	if env == nil {
		env = DefaultEnvironment()
	}
	c := &Compiler{
		env:    env,
		stdout: io.Discard,
		stderr: io.Discard,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile type-checks u and returns an artifact. Nothing in u is executed.
//
// A missing or unusable user reference fails the compilation. A missing
// default reference is a warning.
func (c *Compiler) Compile(u *Unit) *Artifact {
	start := time.Now()
	a := &Artifact{Digest: u.Digest(), Package: u.Package}
	defer func() { a.Duration = time.Since(start) }()

	roots, diags, ok := c.sourceRoots(u.References)
	a.Diagnostics = diags
	if !ok {
		c.logger.Warn("script compile rejected", "digest", a.Digest, "reason", "reference")
		return a
	}

	if diags := unmanagedGoroutines(u); len(diags) > 0 {
		a.Diagnostics = append(a.Diagnostics, diags...)
		c.logger.Debug("script compile failed", "digest", a.Digest, "errors", len(a.Errors()))
		return a
	}

	i := interp.New(interp.Options{
		GoPath:               ".",
		SourcecodeFilesystem: roots,
		Stdout:               c.stdout,
		Stderr:               c.stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		a.Diagnostics = append(a.Diagnostics, scaffoldError(fmt.Sprintf("loading standard library: %v", err)))
		return a
	}
	if err := i.Use(c.env.symbols); err != nil {
		a.Diagnostics = append(a.Diagnostics, scaffoldError(fmt.Sprintf("loading host packages: %v", err)))
		return a
	}

	prog, err := compileText(i, u.Text)
	if err != nil {
		a.Diagnostics = append(a.Diagnostics, diagnose(u, err)...)
		c.logger.Debug("script compile failed", "digest", a.Digest, "errors", len(a.Errors()))
		return a
	}

	a.interp, a.program = i, prog
	c.logger.Debug("script compiled", "digest", a.Digest, "package", a.Package, "duration", time.Since(start))
	return a
}

func compileText(i *interp.Interpreter, text string) (prog *interp.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter panic: %v", r)
		}
	}()
	return i.Compile(text)
}

// sourceRoots resolves default and user references into filesystem
// layers. ok is false when a user reference is unusable.
func (c *Compiler) sourceRoots(userRefs []string) (layeredFS, []Diagnostic, bool) {
	var (
		roots layeredFS
		diags []Diagnostic
		ok    = true
	)

	for _, dir := range c.env.references {
		if err := checkReference(dir); err != nil {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Section:  SectionReference,
				Message:  fmt.Sprintf("default reference %q skipped: %v", dir, err),
			})
			continue
		}
		roots = append(roots, os.DirFS(dir))
	}

	for _, dir := range userRefs {
		if err := checkReference(dir); err != nil {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Section:  SectionReference,
				Message:  fmt.Sprintf("reference %q: %v", dir, err),
			})
			ok = false
			continue
		}
		roots = append(roots, os.DirFS(dir))
	}

	if roots == nil {
		roots = layeredFS{}
	}
	return roots, diags, ok
}

func checkReference(dir string) error {
	if dir == "" || strings.ContainsRune(dir, 0) {
		return fmt.Errorf("%w: malformed path", ErrReference)
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: no such directory", ErrReference)
		}
		return fmt.Errorf("%w: %w", ErrReference, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: not a directory", ErrReference)
	}
	return nil
}

// positioned matches "file:line:col: message" and "line:col: message".
var positioned = regexp.MustCompile(`^(?:([^:\s]*):)?(\d+):(\d+): (.*)$`)

// diagnose converts an interpreter error into diagnostics positioned in the
// user's text.
func diagnose(u *Unit, err error) []Diagnostic {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		out := make([]Diagnostic, 0, len(list))
		for _, e := range list {
			out = append(out, positionedDiagnostic(u, e.Pos.Filename, e.Pos.Line, e.Pos.Column, e.Msg))
		}
		return out
	}

	var out []Diagnostic
	for _, line := range strings.Split(strings.TrimSpace(err.Error()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := positioned.FindStringSubmatch(line)
		if m == nil {
			out = append(out, scaffoldError(line))
			continue
		}
		ln, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		out = append(out, positionedDiagnostic(u, m[1], ln, col, m[4]))
	}
	if len(out) == 0 {
		out = append(out, scaffoldError(err.Error()))
	}
	return out
}

// unitFilename is the name the interpreter gives source passed as a string.
const unitFilename = "_.go"

func positionedDiagnostic(u *Unit, file string, line, col int, msg string) Diagnostic {
	if file != "" && file != unitFilename {
		return Diagnostic{
			Severity: SeverityError,
			Section:  SectionReference,
			Line:     line,
			Column:   col,
			Message:  file + ": " + msg,
		}
	}
	section, local := u.locate(line)
	return Diagnostic{
		Severity: SeverityError,
		Section:  section,
		Line:     local,
		Column:   col,
		Message:  msg,
	}
}

func scaffoldError(msg string) Diagnostic {
	return Diagnostic{Severity: SeverityError, Section: SectionScaffold, Message: msg}
}
