package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-hub/internal/events"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/script"
)

// Publisher is the core broker connection. Run results and hub.Publish go
// through it.
type Publisher interface {
	Publish(topic string, payload []byte, qos mqtt.QoS, retain bool)
}

// RunRecorder stores invocation telemetry.
type RunRecorder interface {
	WriteProgramRun(p influxdb.ProgramRunPoint)
}

// RunObserver counts compilations and invocations.
type RunObserver interface {
	ObserveRun(entry, outcome, failure string, d time.Duration)
	ObserveCompile(succeeded bool, d time.Duration)
	SetBrokerState(clientID, state string)
}

// EventPublisher fans out program events.
type EventPublisher interface {
	Publish(e events.Event)
}

// Config holds the engine settings.
type Config struct {
	// Includes and References extend the default script environment.
	Includes   []string
	References []string

	// RunTimeout bounds each Setup or Run call. Zero disables the bound.
	RunTimeout time.Duration

	// Broker preconfigures the per-program clients scripts get from
	// hub.MQTT(). An empty Address leaves them unconfigured.
	Broker mqtt.Endpoint

	// ReconnectDelay for per-program clients; zero keeps the client default.
	ReconnectDelay time.Duration

	// StartConcurrency bounds how many programs Start prepares at once.
	StartConcurrency int
}

const defaultStartConcurrency = 4

// Deps are the engine's collaborators. Everything but Registry may be nil.
type Deps struct {
	Registry  *Registry
	Publisher Publisher
	Recorder  RunRecorder
	Observer  RunObserver
	Events    EventPublisher
	Logger    Logger

	// Output returns the writer a program's stdout and stderr go to.
	Output func(programID string) io.Writer

	// Dialer replaces the paho transport of per-program clients.
	Dialer mqtt.Dialer
}

// Engine compiles programs and invokes their entry points.
//
// Artifacts are cached per program and keyed by the digest of the
// assembled unit, so an unchanged program is compiled once. Concurrent
// compilations of the same unit are collapsed into one.
//
// Thread Safety: all methods are safe for concurrent use. Invocations of
// the same program are serialised; different programs run in parallel.
// An invocation cut off by RunTimeout or its context is reported as
// cancelled at once, but its code keeps running in the background; until
// it returns, further invocations of that program fail with ErrProgramBusy.
type Engine struct {
	cfg Config

	registry  *Registry
	publisher Publisher
	recorder  RunRecorder
	observer  RunObserver
	events    EventPublisher
	logger    Logger
	output    func(programID string) io.Writer
	dialer    mqtt.Dialer

	env   *script.Environment
	host  *script.Host
	group singleflight.Group

	mu       sync.Mutex
	programs map[string]*programState
	ctx      context.Context //nolint:containedctx // parent of interval loops, set by Start
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	running  bool
	stopped  bool
}

// programState is what the engine holds for one program.
type programState struct {
	id string

	// invoke serialises Setup and Run.
	invoke sync.Mutex

	mu        sync.Mutex
	abandoned <-chan struct{} // closed when a timed-out call returns
	artifact  *script.Artifact
	digest    string
	client    *mqtt.PersistentClient
	stopLoop  context.CancelFunc
}

// NewEngine creates a program engine.
func NewEngine(cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if cfg.StartConcurrency <= 0 {
		cfg.StartConcurrency = defaultStartConcurrency
	}

	env := script.DefaultEnvironment()
	if len(cfg.Includes) > 0 {
		env = env.WithIncludes(cfg.Includes...)
	}
	if len(cfg.References) > 0 {
		env = env.WithReferences(cfg.References...)
	}

	return &Engine{
		cfg:       cfg,
		registry:  deps.Registry,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		observer:  deps.Observer,
		events:    deps.Events,
		logger:    deps.Logger,
		output:    deps.Output,
		dialer:    deps.Dialer,
		env:       env,
		host:      script.NewHost(script.WithTimeout(cfg.RunTimeout), script.WithHostLogger(deps.Logger)),
		programs:  make(map[string]*programState),
	}
}

func (e *Engine) state(id string) *programState {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.programs[id]
	if !ok {
		ps = &programState{id: id}
		e.programs[id] = ps
	}
	return ps
}

// Compile compiles a program, or reports the cached artifact when the
// assembled unit has not changed. Diagnostics are stored as the program's
// LastError; a clean compile clears it.
//
// Returns:
//   - *CompileReport: the artifact's digest and diagnostics
//   - error: ErrProgramNotFound, or a persistence error
func (e *Engine) Compile(ctx context.Context, id string) (*CompileReport, error) {
	p, err := e.registry.GetProgram(ctx, id)
	if err != nil {
		return nil, err
	}
	art, cached, err := e.compile(ctx, p)
	if err != nil {
		return nil, err
	}
	return &CompileReport{
		ProgramID:   p.ID,
		Digest:      art.Digest,
		Succeeded:   art.Succeeded(),
		Cached:      cached,
		Diagnostics: art.Diagnostics,
		DurationMS:  art.Duration.Milliseconds(),
	}, nil
}

// Check compiles source against the engine's environment, host package
// included, without storing the artifact or touching the registry.
func (e *Engine) Check(src script.Source) *CompileReport {
	ps := &programState{id: "check"}
	rt := script.NewRuntime(e.env.WithPackage(HostPackage, e.hostSymbols(ps)),
		script.WithCompilerOptions(script.WithCompilerLogger(e.logger)),
	)
	art := rt.Compile(src.Setup, src.Run)
	return &CompileReport{
		ProgramID:   ps.id,
		Digest:      art.Digest,
		Succeeded:   art.Succeeded(),
		Diagnostics: art.Diagnostics,
		DurationMS:  art.Duration.Milliseconds(),
	}
}

func (e *Engine) compile(ctx context.Context, p *Program) (*script.Artifact, bool, error) {
	ps := e.state(p.ID)
	env := e.env.WithPackage(HostPackage, e.hostSymbols(ps))
	unit := script.NewAssembler(env).Assemble(p.Source())
	digest := unit.Digest()

	if art := ps.cached(digest); art != nil {
		return art, true, nil
	}

	v, err, _ := e.group.Do(p.ID+"/"+digest, func() (any, error) {
		if art := ps.cached(digest); art != nil {
			return art, nil
		}

		out := io.Discard
		if e.output != nil {
			out = e.output(p.ID)
		}
		art := script.NewCompiler(env,
			script.WithOutput(out, out),
			script.WithCompilerLogger(e.logger),
		).Compile(unit)

		if e.observer != nil {
			e.observer.ObserveCompile(art.Succeeded(), art.Duration)
		}
		if old := ps.install(digest, art); old != nil {
			old.Disconnect()
		}

		var lastError *string
		if !art.Succeeded() {
			summary := art.Summary()
			lastError = &summary
			e.logger.Warn("program compile failed", "program_id", p.ID, "name", p.Name, "diagnostics", summary)
		} else {
			e.logger.Info("program compiled", "program_id", p.ID, "name", p.Name, "digest", digest, "duration", art.Duration)
		}
		if err := e.registry.SetLastError(context.WithoutCancel(ctx), p.ID, lastError); err != nil {
			return nil, fmt.Errorf("storing compile result: %w", err)
		}
		e.emit(p.ID, "compiled", map[string]any{
			"digest":      digest,
			"succeeded":   art.Succeeded(),
			"diagnostics": art.Diagnostics,
		})
		return art, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*script.Artifact), false, nil //nolint:forcetypeassert // only *script.Artifact is returned above
}

func (ps *programState) cached(digest string) *script.Artifact {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.artifact != nil && ps.digest == digest {
		return ps.artifact
	}
	return nil
}

// install replaces the program's artifact. The program's broker client
// belongs to the old artifact and is handed back for disconnection.
func (ps *programState) install(digest string, art *script.Artifact) *mqtt.PersistentClient {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	var old *mqtt.PersistentClient
	if ps.artifact != nil {
		old = ps.client
		ps.client = nil
	}
	ps.artifact = art
	ps.digest = digest
	return old
}

// Setup invokes a program's Setup entry point.
//
// Returns:
//   - *ProgramRun: the logged invocation; Value holds what Setup returned
//   - error: ErrProgramNotFound, ErrProgramDisabled, or a compile error
func (e *Engine) Setup(ctx context.Context, id string) (*ProgramRun, error) {
	return e.invoke(ctx, id, EntrySetup, "", TriggerManual)
}

// Run invokes a program's Run entry point with options.
func (e *Engine) Run(ctx context.Context, id, options string, trigger Trigger) (*ProgramRun, error) {
	return e.invoke(ctx, id, EntryRun, options, trigger)
}

func (e *Engine) invoke(ctx context.Context, id string, entry Entry, options string, trigger Trigger) (*ProgramRun, error) {
	p, err := e.registry.GetProgram(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Enabled {
		return nil, ErrProgramDisabled
	}
	return e.call(ctx, p, entry, options, trigger)
}

func (e *Engine) call(ctx context.Context, p *Program, entry Entry, options string, trigger Trigger) (*ProgramRun, error) {
	art, _, err := e.compile(ctx, p)
	if err != nil {
		return nil, err
	}

	ps := e.state(p.ID)
	if ps.busy() {
		return nil, ErrProgramBusy
	}
	ps.invoke.Lock()
	defer ps.invoke.Unlock()
	if ps.busy() {
		return nil, ErrProgramBusy
	}

	started := time.Now()
	var res script.Result
	if entry == EntrySetup {
		res = e.host.Setup(ctx, art)
	} else {
		res = e.host.Run(ctx, art, options)
	}
	if res.Abandoned != nil {
		ps.markAbandoned(res.Abandoned)
		e.logger.Warn("program still running after cancellation", "program_id", p.ID, "entry", entry)
	}
	return e.record(ctx, p, entry, trigger, started, res), nil
}

// busy reports whether an abandoned invocation is still running.
func (ps *programState) busy() bool {
	ps.mu.Lock()
	ch := ps.abandoned
	ps.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return false
	default:
		return true
	}
}

func (ps *programState) markAbandoned(ch <-chan struct{}) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.abandoned = ch
}

// record logs an invocation to the run log, InfluxDB, Prometheus, the event
// bus and the program's result topic.
func (e *Engine) record(ctx context.Context, p *Program, entry Entry, trigger Trigger, started time.Time, res script.Result) *ProgramRun {
	run := &ProgramRun{
		ID:         GenerateID(),
		ProgramID:  p.ID,
		Trigger:    trigger,
		Entry:      entry,
		Outcome:    res.Outcome,
		StartedAt:  started.UTC(),
		DurationMS: res.Duration.Milliseconds(),
		Value:      res.Value,
	}
	if res.Failure != nil {
		run.Failure = res.Failure.Kind
		run.Error = res.Failure.Message
	}

	// The caller's context may be the reason the run failed.
	ctx = context.WithoutCancel(ctx)

	if run.Outcome == script.OutcomeOK {
		e.logger.Debug("program invoked", "program_id", p.ID, "entry", entry, "trigger", trigger, "duration", res.Duration)
	} else {
		e.logger.Warn("program invocation failed", "program_id", p.ID, "entry", entry, "trigger", trigger,
			"failure", run.Failure, "error", run.Error)
	}

	if err := e.registry.Repository().CreateRun(ctx, run); err != nil {
		e.logger.Error("failed to log program run", "program_id", p.ID, "error", err)
	}
	if run.Failure == script.FailureLoad {
		msg := run.Error
		if err := e.registry.SetLastError(ctx, p.ID, &msg); err != nil {
			e.logger.Error("failed to store load error", "program_id", p.ID, "error", err)
		}
	}

	if e.recorder != nil {
		e.recorder.WriteProgramRun(influxdb.ProgramRunPoint{
			ProgramID: p.ID,
			Program:   p.Name,
			Entry:     string(entry),
			Trigger:   string(trigger),
			Outcome:   string(run.Outcome),
			Failure:   string(run.Failure),
			Duration:  res.Duration,
			StartedAt: run.StartedAt,
		})
	}
	if e.observer != nil {
		e.observer.ObserveRun(string(entry), string(run.Outcome), string(run.Failure), res.Duration)
	}

	summary := map[string]any{
		"run_id":      run.ID,
		"trigger":     run.Trigger,
		"outcome":     run.Outcome,
		"duration_ms": run.DurationMS,
	}
	if run.Failure != "" {
		summary["failure"] = run.Failure
		summary["error"] = run.Error
	}
	e.emit(p.ID, string(entry), summary)

	if e.publisher != nil {
		payload, err := json.Marshal(run)
		if err != nil {
			e.logger.Error("failed to encode program result", "program_id", p.ID, "error", err)
		} else {
			e.publisher.Publish(mqtt.Topics{}.ProgramResult(p.ID), payload, mqtt.AtLeastOnce, false)
		}
	}
	return run
}

func (e *Engine) emit(programID, property string, value any) {
	if e.events == nil {
		return
	}
	e.events.Publish(events.New(events.DomainProgram, programID, property, value))
}

// Start compiles and sets up every enabled program. A program whose Setup
// returns true is run once; a program with a run interval gets a loop that
// lives until Stop. A program that fails to compile or set up is logged and
// skipped.
//
// Returns:
//   - error: ErrEngineStopped after Stop, or a registry error
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.running = true
	e.mu.Unlock()

	programs, err := e.registry.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing programs: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.StartConcurrency)
	for i := range programs {
		p := &programs[i]
		g.Go(func() error {
			e.start(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.logger.Info("program engine started", "programs", len(programs))
	return nil
}

func (e *Engine) start(ctx context.Context, p *Program) {
	run, err := e.call(ctx, p, EntrySetup, "", TriggerStartup)
	if err != nil {
		e.logger.Error("program setup failed", "program_id", p.ID, "error", err)
		return
	}
	if run.Outcome != script.OutcomeOK {
		return
	}
	if ok, _ := run.Value.(bool); ok {
		if _, err := e.call(ctx, p, EntryRun, "", TriggerSetup); err != nil {
			e.logger.Error("program run failed", "program_id", p.ID, "error", err)
		}
	}
	if p.RunInterval > 0 {
		e.startLoop(p.ID, p.Interval())
	}
}

// startLoop runs a program every interval until Stop, Restart or Remove.
func (e *Engine) startLoop(id string, interval time.Duration) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.loops.Add(1)
	e.mu.Unlock()

	ps := e.state(id)
	ps.mu.Lock()
	if ps.stopLoop != nil {
		ps.stopLoop()
	}
	ps.stopLoop = cancel
	ps.mu.Unlock()

	go func() {
		defer e.loops.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.Run(ctx, id, "", TriggerInterval); err != nil {
					e.logger.Warn("interval run skipped", "program_id", id, "error", err)
				}
			}
		}
	}()
}

// Restart drops a program's artifact, loop and broker client, then starts
// it again when it is enabled and the engine is running. Used after edits.
func (e *Engine) Restart(ctx context.Context, id string) error {
	e.release(id)

	p, err := e.registry.GetProgram(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	if running && p.Enabled {
		e.start(ctx, p)
	}
	return nil
}

// Remove forgets a program: its loop stops and its broker client disconnects.
func (e *Engine) Remove(id string) {
	e.release(id)
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	ps, ok := e.programs[id]
	delete(e.programs, id)
	e.mu.Unlock()
	if ok {
		ps.release()
	}
}

func (ps *programState) release() {
	ps.mu.Lock()
	stop, client := ps.stopLoop, ps.client
	ps.stopLoop, ps.client, ps.artifact, ps.digest = nil, nil, nil, ""
	ps.mu.Unlock()

	if stop != nil {
		stop()
	}
	if client != nil {
		client.Disconnect()
	}
}

// Stop ends every interval loop and disconnects every program client.
// Invocations in progress are not interrupted.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.running = false
	if e.cancel != nil {
		e.cancel()
	}
	programs := e.programs
	e.programs = make(map[string]*programState)
	e.mu.Unlock()

	for _, ps := range programs {
		ps.release()
	}
	e.loops.Wait()
	e.logger.Info("program engine stopped")
}

// HandleMessage runs the program addressed by a graylogic/program/{id}/run
// message, passing the payload as options. It reports whether the topic
// was a program run topic. The run happens on its own goroutine.
func (e *Engine) HandleMessage(topic, payload string) bool {
	id, ok := mqtt.Topics{}.ParseProgramRun(topic)
	if !ok {
		return false
	}

	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		if _, err := e.Run(ctx, id, payload, TriggerMQTT); err != nil {
			e.logger.Warn("mqtt program run rejected", "program_id", id, "error", err)
		}
	}()
	return true
}

// Artifact returns the compiled artifact held for a program, nil if none.
func (e *Engine) Artifact(id string) *script.Artifact {
	e.mu.Lock()
	ps, ok := e.programs[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.artifact
}
