package automation

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// setupBenchProgramRegistry creates a registry pre-populated with n programs.
func setupBenchProgramRegistry(b *testing.B, n int) *Registry {
	b.Helper()
	repo := newMockRepository()
	ctx := context.Background()

	for i := 0; i < n; i++ {
		p := &Program{
			ID:          fmt.Sprintf("program-%04d", i),
			Name:        fmt.Sprintf("Program %d", i),
			Enabled:     i%2 == 0,
			RunInterval: 60,
			RunText:     `fmt.Println("tick")`,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if err := repo.Create(ctx, p); err != nil {
			b.Fatalf("creating program %d: %v", i, err)
		}
	}

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(ctx); err != nil {
		b.Fatalf("refreshing cache: %v", err)
	}
	return reg
}

func BenchmarkProgramRegistryGetProgram(b *testing.B) {
	reg := setupBenchProgramRegistry(b, 200)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := reg.GetProgram(ctx, "program-0100"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProgramRegistryListEnabled(b *testing.B) {
	reg := setupBenchProgramRegistry(b, 200)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := reg.ListEnabled(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProgramRegistryParallelGet(b *testing.B) {
	reg := setupBenchProgramRegistry(b, 200)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := reg.GetProgram(ctx, "program-0042"); err != nil {
				b.Fatal(err)
			}
		}
	})
}
