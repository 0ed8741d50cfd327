package automation

import (
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/script"
)

// Program is a user automation script: a setup body run when the program
// starts and a run body invoked on demand or on an interval.
type Program struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Description (optional)
	Description *string `json:"description,omitempty"`

	// Source
	SetupText string `json:"setup_text"`
	RunText   string `json:"run_text"`

	// Scheduling
	Enabled     bool `json:"enabled"`
	RunInterval int  `json:"run_interval"` // seconds; 0 = run only on demand or when setup returns true

	// Last compile or load error, nil when the program is healthy
	LastError *string `json:"last_error,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source returns the program text in the form the script runtime takes.
func (p *Program) Source() script.Source {
	return script.Source{Setup: p.SetupText, Run: p.RunText}
}

// Interval returns RunInterval as a duration.
func (p *Program) Interval() time.Duration {
	return time.Duration(p.RunInterval) * time.Second
}

// DeepCopy creates an independent copy of the Program.
// The registry hands out copies so callers cannot corrupt its cache.
func (p *Program) DeepCopy() *Program {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.Description = cloneStringPtr(p.Description)
	cpy.LastError = cloneStringPtr(p.LastError)
	return &cpy
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Entry names a program entry point.
type Entry string

// Entry points.
const (
	EntrySetup Entry = "setup"
	EntryRun   Entry = "run"
)

// Trigger describes what caused an invocation.
type Trigger string

// Triggers.
const (
	TriggerStartup  Trigger = "startup"  // engine start or program reload
	TriggerSetup    Trigger = "setup"    // setup returned true
	TriggerInterval Trigger = "interval" // run interval elapsed
	TriggerManual   Trigger = "manual"   // API or CLI
	TriggerMQTT     Trigger = "mqtt"     // message on graylogic/program/{id}/run
)

// ProgramRun is one logged invocation of a program entry point.
type ProgramRun struct {
	ID         string             `json:"id"`
	ProgramID  string             `json:"program_id"`
	Trigger    Trigger            `json:"trigger"`
	Entry      Entry              `json:"entry"`
	Outcome    script.Outcome     `json:"outcome"`
	Failure    script.FailureKind `json:"failure,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMS int64              `json:"duration_ms"`

	// Value is Setup's return value. Not persisted.
	Value any `json:"value,omitempty"`
}

// CompileReport describes the artifact currently held for a program.
type CompileReport struct {
	ProgramID   string              `json:"program_id"`
	Digest      string              `json:"digest"`
	Succeeded   bool                `json:"succeeded"`
	Cached      bool                `json:"cached"`
	Diagnostics []script.Diagnostic `json:"diagnostics"`
	DurationMS  int64               `json:"duration_ms"`
}
