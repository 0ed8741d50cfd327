package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry and Engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides program management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Program // Cached programs by ID
	cacheMu sync.RWMutex        // Protects cache
	logger  Logger
}

// NewRegistry creates a new program registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Program),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Repository returns the underlying repository (run log access).
func (r *Registry) Repository() Repository {
	return r.repo
}

// RefreshCache reloads all programs from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	programs, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading programs: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Program, len(programs))
	for i := range programs {
		r.cache[programs[i].ID] = programs[i].DeepCopy()
	}

	r.logger.Info("program cache refreshed", "count", len(programs))
	return nil
}

// GetProgram retrieves a program by ID.
// The returned program is a deep copy; callers can safely modify it.
func (r *Registry) GetProgram(_ context.Context, id string) (*Program, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrProgramNotFound
}

// GetProgramByName retrieves a program by its name.
func (r *Registry) GetProgramByName(_ context.Context, name string) (*Program, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, p := range r.cache {
		if p.Name == name {
			return p.DeepCopy(), nil
		}
	}
	return nil, ErrProgramNotFound
}

// ListPrograms retrieves all programs from the cache, sorted by name.
func (r *Registry) ListPrograms(_ context.Context) ([]Program, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	programs := make([]Program, 0, len(r.cache))
	for _, p := range r.cache {
		programs = append(programs, *p.DeepCopy())
	}
	sortPrograms(programs)
	return programs, nil
}

// ListEnabled retrieves enabled programs, sorted by name.
func (r *Registry) ListEnabled(ctx context.Context) ([]Program, error) {
	all, err := r.ListPrograms(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, p := range all {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}

func sortPrograms(programs []Program) {
	sort.Slice(programs, func(i, j int) bool {
		return programs[i].Name < programs[j].Name
	})
}

// CreateProgram validates, persists, and caches a new program.
func (r *Registry) CreateProgram(ctx context.Context, p *Program) error {
	if p.ID == "" {
		p.ID = GenerateID()
	}

	if err := ValidateProgram(p); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, p); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[p.ID] = p.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("program created", "id", p.ID, "name", p.Name)
	return nil
}

// UpdateProgram validates, persists, and updates the cached program.
// The cached LastError is kept.
func (r *Registry) UpdateProgram(ctx context.Context, p *Program) error {
	if err := ValidateProgram(p); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, p); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if old, ok := r.cache[p.ID]; ok {
		p.LastError = cloneStringPtr(old.LastError)
		p.CreatedAt = old.CreatedAt
	}
	r.cache[p.ID] = p.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("program updated", "id", p.ID, "name", p.Name)
	return nil
}

// DeleteProgram removes a program from persistence and cache.
func (r *Registry) DeleteProgram(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("program deleted", "id", id)
	return nil
}

// SetLastError persists and caches a program's last error; nil clears it.
func (r *Registry) SetLastError(ctx context.Context, id string, lastError *string) error {
	if err := r.repo.SetLastError(ctx, id, lastError); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if p, ok := r.cache[id]; ok {
		p.LastError = cloneStringPtr(lastError)
	}
	r.cacheMu.Unlock()
	return nil
}

// GetProgramCount returns the number of cached programs.
func (r *Registry) GetProgramCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
