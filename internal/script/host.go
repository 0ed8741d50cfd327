package script

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"
)

const panicPrefix = "panic: "

// Host invokes the entry points of compiled artifacts.
//
// The host keeps no per-invocation state: every call returns its own
// Result and a failure in one call has no effect on the next.
type Host struct {
	timeout time.Duration
	logger  Logger
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithTimeout bounds each invocation. Zero means only the caller's context
// applies.
func WithTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.timeout = d }
}

// WithHostLogger sets the host's logger.
func WithHostLogger(l Logger) HostOption {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHost creates a host.
func NewHost(opts ...HostOption) *Host {
	h := &Host{logger: noopLogger{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Setup calls the artifact's Setup entry point. On success Value holds the
// boolean it returned.
func (h *Host) Setup(ctx context.Context, a *Artifact) Result {
	if r, ok := h.prepare(a); !ok {
		return r
	}
	if a.setupErr != nil {
		return Failed(FailureEntryPoint, a.setupErr.Error())
	}
	return h.invoke(ctx, "setup", func() (any, error) {
		return a.setup()
	})
}

// Run calls the artifact's Run entry point with options.
func (h *Host) Run(ctx context.Context, a *Artifact, options string) Result {
	if r, ok := h.prepare(a); !ok {
		return r
	}
	if a.runErr != nil {
		return Failed(FailureEntryPoint, a.runErr.Error())
	}
	return h.invoke(ctx, "run", func() (any, error) {
		return nil, a.run(options)
	})
}

// prepare loads the artifact on first use.
func (h *Host) prepare(a *Artifact) (Result, bool) {
	if !a.Succeeded() {
		msg := ErrNotCompiled.Error()
		if a != nil {
			if s := a.Summary(); s != "" {
				msg += ": " + s
			}
		}
		return Failed(FailureLoad, msg), false
	}
	a.once.Do(func() { h.load(a) })
	if a.loadErr != nil {
		return Failed(FailureLoad, a.loadErr.Error()), false
	}
	return Result{}, true
}

// load runs package initialisation and resolves both entry points.
func (h *Host) load(a *Artifact) {
	err := guard(func() error {
		_, err := a.interp.Execute(a.program)
		return err
	})
	if err != nil {
		a.loadErr = fmt.Errorf("%w: %w", ErrLoad, err)
		h.logger.Warn("script load failed", "digest", a.Digest, "error", err)
		return
	}

	a.setup, a.setupErr = resolveSetup(a.lookup("Setup"))
	a.run, a.runErr = resolveRun(a.lookup("Run"))
}

// lookup evaluates pkg.name in the artifact's interpreter.
func (a *Artifact) lookup(name string) (reflect.Value, error) {
	if a.Package == "" {
		return reflect.Value{}, fmt.Errorf("%w: unit has no package", ErrEntryPoint)
	}
	var v reflect.Value
	err := guard(func() error {
		var err error
		v, err = a.interp.Eval(a.Package + "." + name)
		return err
	})
	if err != nil || !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: %s.%s", ErrEntryPoint, a.Package, name)
	}
	return v, nil
}

func resolveSetup(v reflect.Value, err error) (func() (bool, error), error) {
	if err != nil {
		return nil, err
	}
	switch fn := v.Interface().(type) {
	case func() (bool, error):
		return fn, nil
	case func() bool:
		return func() (bool, error) { return fn(), nil }, nil
	case func() error:
		return func() (bool, error) { return false, fn() }, nil
	case func():
		return func() (bool, error) { fn(); return false, nil }, nil
	default:
		return nil, fmt.Errorf("%w: Setup has unsupported signature %s", ErrEntryPoint, v.Type())
	}
}

func resolveRun(v reflect.Value, err error) (func(string) error, error) {
	if err != nil {
		return nil, err
	}
	switch fn := v.Interface().(type) {
	case func(string) error:
		return fn, nil
	case func(string):
		return func(o string) error { fn(o); return nil }, nil
	case func() error:
		return func(string) error { return fn() }, nil
	case func():
		return func(string) error { fn(); return nil }, nil
	default:
		return nil, fmt.Errorf("%w: Run has unsupported signature %s", ErrEntryPoint, v.Type())
	}
}

type invocation struct {
	value any
	err   error
	panic any
}

// invoke runs fn on its own goroutine so a cancelled context can return
// without waiting. A call abandoned that way keeps running until user code
// returns; Result.Abandoned is closed at that point.
func (h *Host) invoke(ctx context.Context, entry string, fn func() (any, error)) Result {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return Failed(FailureCancelled, err.Error())
	}

	start := time.Now()
	done := make(chan invocation, 1)
	finished := make(chan struct{})
	go func() {
		var out invocation
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				out.panic = r
			}
			done <- out
		}()
		out.value, out.err = fn()
	}()

	var r Result
	select {
	case <-ctx.Done():
		h.logger.Warn("script invocation abandoned", "entry", entry, "error", ctx.Err())
		r = Failed(FailureCancelled, ctx.Err().Error())
		r.Abandoned = finished
	case out := <-done:
		r = classify(out)
	}
	r.Duration = time.Since(start)
	return r
}

func classify(out invocation) Result {
	switch {
	case out.panic != nil:
		return Failed(FailurePanic, fmt.Sprint(out.panic))
	case out.err != nil:
		msg := out.err.Error()
		if rest, ok := strings.CutPrefix(msg, panicPrefix); ok {
			return Failed(FailurePanic, rest)
		}
		return Failed(FailureError, msg)
	default:
		return Ok(out.value)
	}
}

// guard runs fn, converting a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s%v", panicPrefix, r)
		}
	}()
	return fn()
}
