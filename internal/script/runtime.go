package script

import (
	"context"
)

// Runtime ties the stages together for callers that hold program text.
//
//	rt := script.NewRuntime(script.DefaultEnvironment())
//	art := rt.Compile(setup, run)
//	if !art.Succeeded() {
//	    for _, d := range art.Errors() { ... }
//	}
//	res := rt.Run(ctx, art, "")
type Runtime struct {
	assembler *Assembler
	compiler  *Compiler
	host      *Host
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	compiler []CompilerOption
	host     []HostOption
}

// WithCompilerOptions passes options to the runtime's compiler.
func WithCompilerOptions(opts ...CompilerOption) RuntimeOption {
	return func(o *runtimeOptions) { o.compiler = append(o.compiler, opts...) }
}

// WithHostOptions passes options to the runtime's host.
func WithHostOptions(opts ...HostOption) RuntimeOption {
	return func(o *runtimeOptions) { o.host = append(o.host, opts...) }
}

// NewRuntime creates a runtime over env. A nil env means DefaultEnvironment.
func NewRuntime(env *Environment, opts ...RuntimeOption) *Runtime {
	if env == nil {
		env = DefaultEnvironment()
	}
	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Runtime{
		assembler: NewAssembler(env),
		compiler:  NewCompiler(env, o.compiler...),
		host:      NewHost(o.host...),
	}
}

// Assemble builds the unit for setup and run without compiling it.
func (r *Runtime) Assemble(setup, run string) *Unit {
	return r.assembler.Assemble(Source{Setup: setup, Run: run})
}

// Compile assembles and compiles setup and run.
func (r *Runtime) Compile(setup, run string) *Artifact {
	return r.compiler.Compile(r.Assemble(setup, run))
}

// Setup invokes the artifact's Setup entry point.
func (r *Runtime) Setup(ctx context.Context, a *Artifact) Result {
	return r.host.Setup(ctx, a)
}

// Run invokes the artifact's Run entry point.
func (r *Runtime) Run(ctx context.Context, a *Artifact, options string) Result {
	return r.host.Run(ctx, a, options)
}
