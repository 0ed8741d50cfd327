package automation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/script"
	_ "github.com/nerrad567/gray-logic-hub/migrations" // registers the embedded schema
)

// setupTestDB opens an in-memory SQLite database with the hub schema applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// testProgram creates a test program with the given ID and name.
func testProgram(id, name string) *Program {
	return &Program{
		ID:        id,
		Name:      name,
		Enabled:   true,
		SetupText: "return true",
		RunText:   `fmt.Println("run", options)`,
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("create success", func(t *testing.T) {
		p := testProgram("prog-01", "hall-lights")
		desc := "Turns the hall lights on at dusk"
		p.Description = &desc

		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if p.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
		if p.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not set")
		}
	})

	t.Run("duplicate ID", func(t *testing.T) {
		err := repo.Create(ctx, testProgram("prog-01", "other"))
		if !errors.Is(err, ErrProgramExists) {
			t.Errorf("expected ErrProgramExists, got: %v", err)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		err := repo.Create(ctx, testProgram("prog-99", "hall-lights"))
		if !errors.Is(err, ErrProgramExists) {
			t.Errorf("expected ErrProgramExists, got: %v", err)
		}
	})
}

func TestSQLiteRepository_GetByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	p := testProgram("prog-get", "garden")
	desc := "Sprinklers"
	p.Description = &desc
	p.RunInterval = 300
	p.Enabled = false
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("found", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "prog-get")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Name != "garden" {
			t.Errorf("Name = %q, want garden", got.Name)
		}
		if got.Description == nil || *got.Description != "Sprinklers" {
			t.Errorf("Description = %v, want Sprinklers", got.Description)
		}
		if got.SetupText != p.SetupText || got.RunText != p.RunText {
			t.Errorf("source = %q / %q, want round trip", got.SetupText, got.RunText)
		}
		if got.RunInterval != 300 {
			t.Errorf("RunInterval = %d, want 300", got.RunInterval)
		}
		if got.Enabled {
			t.Error("Enabled = true, want false")
		}
		if got.LastError != nil {
			t.Errorf("LastError = %q, want nil", *got.LastError)
		}
		if !got.CreatedAt.Equal(p.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, p.CreatedAt)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "missing")
		if !errors.Is(err, ErrProgramNotFound) {
			t.Errorf("expected ErrProgramNotFound, got: %v", err)
		}
	})
}

func TestSQLiteRepository_GetByName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testProgram("prog-1", "porch")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByName(ctx, "porch")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.ID != "prog-1" {
		t.Errorf("ID = %q, want prog-1", got.ID)
	}
	if _, err := repo.GetByName(ctx, "nope"); !errors.Is(err, ErrProgramNotFound) {
		t.Errorf("expected ErrProgramNotFound, got: %v", err)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, p := range []*Program{testProgram("c", "zeta"), testProgram("a", "alpha"), testProgram("b", "mu")} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	programs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(programs) != 3 {
		t.Fatalf("List returned %d programs, want 3", len(programs))
	}
	if programs[0].Name != "alpha" || programs[2].Name != "zeta" {
		t.Errorf("order = %s, %s, %s; want by name", programs[0].Name, programs[1].Name, programs[2].Name)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	p := testProgram("prog-up", "before")
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := "run:1:1: error: x"
	if err := repo.SetLastError(ctx, p.ID, &msg); err != nil {
		t.Fatalf("SetLastError: %v", err)
	}

	t.Run("update success", func(t *testing.T) {
		p.Name = "after"
		p.RunText = "return nil"
		p.RunInterval = 10
		if err := repo.Update(ctx, p); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repo.GetByID(ctx, p.ID)
		if got.Name != "after" || got.RunText != "return nil" || got.RunInterval != 10 {
			t.Errorf("got %+v, want updated fields", got)
		}
		if got.LastError == nil || *got.LastError != msg {
			t.Errorf("LastError = %v, want untouched by Update", got.LastError)
		}
	})

	t.Run("not found", func(t *testing.T) {
		err := repo.Update(ctx, testProgram("ghost", "ghost"))
		if !errors.Is(err, ErrProgramNotFound) {
			t.Errorf("expected ErrProgramNotFound, got: %v", err)
		}
	})

	t.Run("name taken", func(t *testing.T) {
		if err := repo.Create(ctx, testProgram("prog-2", "taken")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		p.Name = "taken"
		if err := repo.Update(ctx, p); !errors.Is(err, ErrProgramExists) {
			t.Errorf("expected ErrProgramExists, got: %v", err)
		}
	})
}

func TestSQLiteRepository_SetLastError(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testProgram("p", "p")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg := "load: boom"
	if err := repo.SetLastError(ctx, "p", &msg); err != nil {
		t.Fatalf("SetLastError: %v", err)
	}
	got, _ := repo.GetByID(ctx, "p")
	if got.LastError == nil || *got.LastError != msg {
		t.Errorf("LastError = %v, want %q", got.LastError, msg)
	}

	if err := repo.SetLastError(ctx, "p", nil); err != nil {
		t.Fatalf("SetLastError(nil): %v", err)
	}
	got, _ = repo.GetByID(ctx, "p")
	if got.LastError != nil {
		t.Errorf("LastError = %q, want nil", *got.LastError)
	}

	if err := repo.SetLastError(ctx, "missing", &msg); !errors.Is(err, ErrProgramNotFound) {
		t.Errorf("expected ErrProgramNotFound, got: %v", err)
	}
}

func TestSQLiteRepository_Delete_CascadesRuns(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testProgram("p", "p")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	run := &ProgramRun{ID: "r1", ProgramID: "p", Trigger: TriggerManual, Entry: EntryRun, Outcome: script.OutcomeOK, StartedAt: time.Now()}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := repo.Delete(ctx, "p"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "p"); !errors.Is(err, ErrProgramNotFound) {
		t.Errorf("second Delete: expected ErrProgramNotFound, got: %v", err)
	}

	runs, err := repo.ListRuns(ctx, "p", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("ListRuns after delete = %d runs, want 0", len(runs))
	}
}

func TestSQLiteRepository_CreateRun(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testProgram("p", "p")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("failed run round trip", func(t *testing.T) {
		started := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
		run := &ProgramRun{
			ID: "r-fail", ProgramID: "p", Trigger: TriggerInterval, Entry: EntryRun,
			Outcome: script.OutcomeFailed, Failure: script.FailurePanic, Error: "index out of range",
			StartedAt: started, DurationMS: 12,
		}
		if err := repo.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}

		runs, err := repo.ListRuns(ctx, "p", 1)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		got := runs[0]
		if got.Trigger != TriggerInterval || got.Entry != EntryRun {
			t.Errorf("trigger/entry = %s/%s", got.Trigger, got.Entry)
		}
		if got.Outcome != script.OutcomeFailed || got.Failure != script.FailurePanic || got.Error != "index out of range" {
			t.Errorf("outcome = %s %s %q", got.Outcome, got.Failure, got.Error)
		}
		if !got.StartedAt.Equal(started) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
		}
		if got.DurationMS != 12 {
			t.Errorf("DurationMS = %d, want 12", got.DurationMS)
		}
	})

	t.Run("unknown program", func(t *testing.T) {
		run := &ProgramRun{ID: "r-orphan", ProgramID: "ghost", Trigger: TriggerManual, Entry: EntryRun, Outcome: script.OutcomeOK, StartedAt: time.Now()}
		if err := repo.CreateRun(ctx, run); err == nil {
			t.Error("CreateRun for unknown program succeeded, want foreign key error")
		}
	})
}

func TestSQLiteRepository_ListRuns(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := repo.Create(ctx, testProgram(id, id)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		run := &ProgramRun{
			ID: GenerateID(), ProgramID: "a", Trigger: TriggerInterval, Entry: EntryRun,
			Outcome: script.OutcomeOK, StartedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	other := &ProgramRun{ID: "other", ProgramID: "b", Trigger: TriggerManual, Entry: EntrySetup, Outcome: script.OutcomeOK, StartedAt: base}
	if err := repo.CreateRun(ctx, other); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default limit", 0, 10},
		{"explicit limit", 3, 3},
		{"capped", 500, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := repo.ListRuns(ctx, "a", tt.limit)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != tt.want {
				t.Fatalf("len = %d, want %d", len(runs), tt.want)
			}
			for i := 1; i < len(runs); i++ {
				if runs[i].StartedAt.After(runs[i-1].StartedAt) {
					t.Fatalf("runs not newest first at %d", i)
				}
			}
			if !runs[0].StartedAt.Equal(base.Add(14 * time.Second)) {
				t.Errorf("newest = %v", runs[0].StartedAt)
			}
		})
	}
}
