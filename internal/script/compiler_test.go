package script

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, env *Environment, setup, run string) *Artifact {
	t.Helper()
	if env == nil {
		env = DefaultEnvironment()
	}
	return NewCompiler(env).Compile(NewAssembler(env).Assemble(Source{Setup: setup, Run: run}))
}

// writeLibrary lays out a GOPATH-style source root with one package.
func writeLibrary(t *testing.T, importPath, src string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "src", filepath.FromSlash(importPath))
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.go"), []byte(src), 0o600))
	return root
}

func TestCompile_DefaultsOnly(t *testing.T) {
	a := compile(t, nil, "return true", `n, err := strconv.Atoi(options)
if err != nil {
	return err
}
_ = time.Duration(n) * time.Second
return nil`)

	require.True(t, a.Succeeded(), "diagnostics: %v", a.Diagnostics)
	assert.Empty(t, a.Errors())
	assert.Equal(t, ScaffoldPackage, a.Package)
	assert.NotEmpty(t, a.Digest)
}

func TestCompile_SyntaxErrorInRun(t *testing.T) {
	a := compile(t, nil, "return true", "x := 1\ny := )\nreturn nil")

	require.False(t, a.Succeeded())
	errs := a.Errors()
	require.NotEmpty(t, errs)
	assert.Equal(t, SectionRun, errs[0].Section)
	assert.Equal(t, 2, errs[0].Line)
	assert.NotEmpty(t, a.Summary())
}

func TestCompile_TypeErrorInSetup(t *testing.T) {
	a := compile(t, nil, "return notDefinedAnywhere()", "return nil")

	require.False(t, a.Succeeded())
	errs := a.Errors()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "notDefinedAnywhere")
}

func TestCompile_UndeclaredImportFails(t *testing.T) {
	// encoding/xml is not a default include, so xml is unknown.
	a := compile(t, nil, "return true", "_ = xml.Header\nreturn nil")
	assert.False(t, a.Succeeded())

	a = compile(t, nil, "//@using encoding/xml;\nreturn true", "_ = xml.Header\nreturn nil")
	assert.True(t, a.Succeeded(), "diagnostics: %v", a.Diagnostics)
}

func TestCompile_UserReference(t *testing.T) {
	root := writeLibrary(t, "example.com/greet", `package greet

func Hello(name string) string { return "hello " + name }
`)
	setup := "//@using example.com/greet;\n//@reference " + root + "\nreturn greet.Hello(\"hall\") == \"hello hall\""

	a := compile(t, nil, setup, "return nil")
	require.True(t, a.Succeeded(), "diagnostics: %v", a.Diagnostics)

	res := NewHost().Setup(context.Background(), a)
	require.True(t, res.OK(), res.FailureText())
	assert.Equal(t, true, res.Value)
}

func TestCompile_MissingUserReference(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	a := compile(t, nil, "//@reference "+missing+"\nreturn true", "return nil")

	require.False(t, a.Succeeded())
	errs := a.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, SectionReference, errs[0].Section)
	assert.Contains(t, errs[0].Message, missing)
}

func TestCompile_ReferenceIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "lib.go")
	require.NoError(t, os.WriteFile(file, []byte("package lib"), 0o600))

	a := compile(t, nil, "//@reference "+file+"\nreturn true", "return nil")
	require.False(t, a.Succeeded())
	assert.Contains(t, a.Errors()[0].Message, "not a directory")
}

func TestCompile_MissingDefaultReferenceWarns(t *testing.T) {
	env := DefaultEnvironment().WithReferences(filepath.Join(t.TempDir(), "absent"))
	a := compile(t, env, "return true", "return nil")

	require.True(t, a.Succeeded(), "diagnostics: %v", a.Diagnostics)
	require.Len(t, a.Diagnostics, 1)
	assert.Equal(t, SeverityWarning, a.Diagnostics[0].Severity)
	assert.Equal(t, SectionReference, a.Diagnostics[0].Section)
}

func TestCompile_DoesNotExecute(t *testing.T) {
	var out bytes.Buffer
	env := DefaultEnvironment()
	c := NewCompiler(env, WithOutput(&out, &out))
	u := NewAssembler(env).Assemble(Source{
		Setup: RawMarker,
		Run: `package noisy

import "fmt"

var greeting = announce()

func announce() string {
	fmt.Println("loaded")
	return "hi"
}

func Run(options string) error { return nil }
`,
	})

	a := c.Compile(u)
	require.True(t, a.Succeeded(), "diagnostics: %v", a.Diagnostics)
	assert.Empty(t, out.String())

	res := NewHost().Run(context.Background(), a, "")
	require.True(t, res.OK(), res.FailureText())
	assert.Equal(t, "loaded\n", out.String())
}

func TestCompile_HostPackage(t *testing.T) {
	var got []string
	env := DefaultEnvironment().WithPackage("graylogic/hub", map[string]reflect.Value{
		"Log": reflect.ValueOf(func(msg string) { got = append(got, msg) }),
	})

	a := compile(t, env, "return true", `hub.Log("run " + options)
return nil`)
	require.True(t, a.Succeeded(), "diagnostics: %v", a.Diagnostics)

	res := NewHost().Run(context.Background(), a, "now")
	require.True(t, res.OK(), res.FailureText())
	assert.Equal(t, []string{"run now"}, got)
}

func TestCompile_IsolatedArtifacts(t *testing.T) {
	run := `package counter

import "fmt"

var calls int

func Run(options string) error {
	calls++
	if calls > 1 {
		return fmt.Errorf("calls=%d", calls)
	}
	return nil
}
`
	env := DefaultEnvironment()
	first := compile(t, env, RawMarker, run)
	second := compile(t, env, RawMarker, run)
	host := NewHost()
	ctx := context.Background()

	require.True(t, host.Run(ctx, first, "").OK())
	require.True(t, host.Run(ctx, second, "").OK(), "globals leaked between artifacts")

	res := host.Run(ctx, first, "")
	require.False(t, res.OK())
	assert.Equal(t, FailureError, res.Failure.Kind)
	assert.Equal(t, "calls=2", res.Failure.Message)
}

func TestCompile_UnmanagedGoroutines(t *testing.T) {
	tests := []struct {
		name    string
		setup   string
		run     string
		section Section
		line    int
		message string
	}{
		{
			name:    "go statement in setup",
			setup:   "go func() { panic(\"boom\") }()\nreturn true",
			run:     "return nil",
			section: SectionSetup,
			line:    1,
			message: "go statement",
		},
		{
			name:    "go statement in run",
			setup:   "return true",
			run:     "work := func(n int) {}\nfor i := 0; i < 3; i++ {\n\tgo work(i)\n}\nreturn nil",
			section: SectionRun,
			line:    3,
			message: "go statement",
		},
		{
			name:    "time.AfterFunc",
			setup:   "return true",
			run:     "time.AfterFunc(time.Millisecond, func() { panic(\"late\") })\nreturn nil",
			section: SectionRun,
			line:    1,
			message: "time.AfterFunc",
		},
		{
			name:    "raw unit",
			setup:   RawMarker,
			run:     "package custom\n\nfunc Setup() bool {\n\tgo func() {}()\n\treturn true\n}\n",
			section: SectionRun,
			line:    4,
			message: "go statement",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := compile(t, nil, tt.setup, tt.run)

			require.False(t, a.Succeeded())
			errs := a.Errors()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.section, errs[0].Section)
			assert.Equal(t, tt.line, errs[0].Line)
			assert.Contains(t, errs[0].Message, tt.message)
		})
	}
}

func TestCompile_GoWordsAllowed(t *testing.T) {
	// "go" in strings and comments, and AfterFunc on something other than
	// the time package, are not goroutines.
	a := compile(t, nil, "// go do it\nreturn true", `c := struct{ AfterFunc func() }{AfterFunc: func() {}}
c.AfterFunc()
if options == "go" {
	return nil
}
return nil`)
	assert.True(t, a.Succeeded(), "diagnostics: %v", a.Diagnostics)
}

func TestDiagnose_Fallbacks(t *testing.T) {
	u := NewAssembler(nil).Assemble(Source{Run: "a\nb"})
	runLine := lineOf(t, u.Text, "b")

	diags := diagnose(u, errorString(strings.Join([]string{
		"_.go:" + strconv.Itoa(runLine) + ":3: undefined: b",
		"src/example.com/x/x.go:4:1: missing return",
		"something odd happened",
	}, "\n")))

	require.Len(t, diags, 3)
	assert.Equal(t, Diagnostic{Severity: SeverityError, Section: SectionRun, Line: 2, Column: 3, Message: "undefined: b"}, diags[0])
	assert.Equal(t, SectionReference, diags[1].Section)
	assert.Contains(t, diags[1].Message, "src/example.com/x/x.go")
	assert.Equal(t, SectionScaffold, diags[2].Section)
	assert.Equal(t, "something odd happened", diags[2].Message)
}

func TestDiagnostic_String(t *testing.T) {
	d := Diagnostic{Severity: SeverityError, Section: SectionRun, Line: 4, Column: 2, Message: "boom"}
	assert.Equal(t, "run:4:2: error: boom", d.String())

	d = Diagnostic{Severity: SeverityWarning, Section: SectionReference, Message: "skipped"}
	assert.Equal(t, "reference: warning: skipped", d.String())
}

type errorString string

func (e errorString) Error() string { return string(e) }
