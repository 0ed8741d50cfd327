package script

import (
	"fmt"
	"time"
)

// DirectiveKind identifies a directive line in a setup body.
type DirectiveKind int

// Directive kinds.
const (
	// Include adds an import path to the unit.
	Include DirectiveKind = iota

	// Reference adds a source root that imports can resolve against.
	Reference
)

// String returns "include" or "reference".
func (k DirectiveKind) String() string {
	if k == Reference {
		return "reference"
	}
	return "include"
}

// Directive is one //@using or //@reference line.
type Directive struct {
	Kind  DirectiveKind
	Value string
	Line  int // 1-based line in the setup text
}

// Source is the user-supplied text of a program.
type Source struct {
	Setup string
	Run   string
}

// Section identifies where a diagnostic points.
type Section string

// Diagnostic sections.
const (
	SectionSetup     Section = "setup"
	SectionRun       Section = "run"
	SectionScaffold  Section = "scaffold"
	SectionReference Section = "reference"
)

// Severity of a diagnostic.
type Severity string

// Severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a compiler message, positioned in the user's own text
// where possible.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Section  Section  `json:"section"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Message  string   `json:"message"`
}

// String formats the diagnostic as "section:line:col: severity: message".
func (d Diagnostic) String() string {
	pos := string(d.Section)
	if d.Line > 0 {
		pos = fmt.Sprintf("%s:%d:%d", d.Section, d.Line, d.Column)
	}
	return fmt.Sprintf("%s: %s: %s", pos, d.Severity, d.Message)
}

// Outcome of an invocation.
type Outcome string

// Outcomes.
const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

// FailureKind classifies why an invocation failed.
type FailureKind string

// Failure kinds.
const (
	// FailureLoad means the artifact did not compile or its package
	// initialisation failed.
	FailureLoad FailureKind = "load"

	// FailureEntryPoint means Setup or Run could not be resolved.
	FailureEntryPoint FailureKind = "entry_point"

	// FailurePanic means user code panicked.
	FailurePanic FailureKind = "panic"

	// FailureError means user code returned a non-nil error.
	FailureError FailureKind = "error"

	// FailureCancelled means the caller's context ended first.
	FailureCancelled FailureKind = "cancelled"
)

// Failure describes a failed invocation.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Result is the outcome of Setup or Run.
//
// Value holds Setup's boolean on success and is nil for Run.
type Result struct {
	Outcome  Outcome       `json:"outcome"`
	Value    any           `json:"value,omitempty"`
	Failure  *Failure      `json:"failure,omitempty"`
	Duration time.Duration `json:"duration"`

	// Abandoned is set when a cancelled invocation left user code
	// running; it is closed once that code returns.
	Abandoned <-chan struct{} `json:"-"`
}

// Ok returns a successful result carrying v.
func Ok(v any) Result {
	return Result{Outcome: OutcomeOK, Value: v}
}

// Failed returns a failed result.
func Failed(kind FailureKind, message string) Result {
	return Result{Outcome: OutcomeFailed, Failure: &Failure{Kind: kind, Message: message}}
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Outcome == OutcomeOK
}

// Bool returns Setup's return value, false for anything else.
func (r Result) Bool() bool {
	b, _ := r.Value.(bool)
	return r.OK() && b
}

// FailureText returns "kind: message" for a failed result, or "".
func (r Result) FailureText() string {
	if r.Failure == nil {
		return ""
	}
	return string(r.Failure.Kind) + ": " + r.Failure.Message
}

// Logger is the logging interface used by the runtime.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
