// Package influxdb records hub telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with a non-blocking,
// batched write API. The hub writes two measurements:
//
//   - program_runs: one point per Setup/Run invocation (duration, outcome)
//   - broker_state: connection state transitions of the hub's MQTT client
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteProgramRun(influxdb.ProgramRunPoint{ProgramID: id, Entry: "run", Outcome: "ok", Duration: d})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes on a nil or closed client
// are dropped, so callers need not check whether telemetry is enabled.
package influxdb
