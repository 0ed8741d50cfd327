// Package automation runs user automation programs on the hub.
//
// A program is a pair of script bodies: setup, run once when the program
// starts, and run, invoked on demand, on an interval, on an MQTT message
// or once after a setup that returned true.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                  Engine (engine.go)                    │
//	│  ┌──────────────┐    ┌───────────────┐                │
//	│  │   Registry   │───▶│  Repository   │                │
//	│  │(registry.go) │    │(repository.go)│                │
//	│  └──────────────┘    └───────────────┘                │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐    │
//	│  │  Invocation Pipeline                          │    │
//	│  │  1. Load program (cached)                     │    │
//	│  │  2. Assemble and hash the unit                │    │
//	│  │  3. Compile on digest change (singleflight)   │    │
//	│  │  4. Invoke Setup or Run under the program lock│    │
//	│  │  5. Log run, write InfluxDB, count metrics    │    │
//	│  │  6. Publish event and MQTT result             │    │
//	│  └──────────────────────────────────────────────┘    │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Program: setup and run text with scheduling metadata
//   - ProgramRun: audit record of one Setup or Run invocation
//   - CompileReport: digest and diagnostics of the held artifact
//   - Engine: compiles programs and invokes entry points
//   - Registry: thread-safe in-memory cache wrapping Repository
//
// # Host Package
//
// Programs reach the hub through the graylogic/hub package (see hub.go):
// Log, Emit, Publish, MQTT, ProgramID and the QoS constants. MQTT returns a
// broker client owned by the program; it is disconnected when the program
// is recompiled, removed or the engine stops.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	registry := automation.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	engine := automation.NewEngine(automation.Config{RunTimeout: time.Minute}, automation.Deps{
//	    Registry:  registry,
//	    Publisher: mqttClient,
//	    Events:    bus,
//	    Logger:    log,
//	})
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//	defer engine.Stop()
//
//	run, err := engine.Run(ctx, id, `{"scene":"evening"}`, automation.TriggerManual)
package automation
