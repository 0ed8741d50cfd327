package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementProgramRuns = "program_runs"
	MeasurementBrokerState = "broker_state"
)

// ProgramRunPoint is one automation program invocation.
type ProgramRunPoint struct {
	ProgramID string
	Program   string
	Entry     string // "setup" or "run"
	Trigger   string
	Outcome   string // "ok" or "failed"
	Failure   string // failure kind, empty when ok
	Duration  time.Duration
	StartedAt time.Time
}

// WriteProgramRun records a program invocation. Non-blocking.
//
// Tags are low cardinality (program, entry, outcome, failure kind); the
// duration and trigger are fields.
func (c *Client) WriteProgramRun(p ProgramRunPoint) {
	tags := map[string]string{
		"program_id": p.ProgramID,
		"entry":      p.Entry,
		"outcome":    p.Outcome,
	}
	if p.Program != "" {
		tags["program"] = p.Program
	}
	if p.Failure != "" {
		tags["failure"] = p.Failure
	}

	ts := p.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	c.WritePointWithTime(MeasurementProgramRuns, tags, map[string]any{
		"duration_ms": float64(p.Duration) / float64(time.Millisecond),
		"trigger":     p.Trigger,
	}, ts)
}

// WriteBrokerState records a connection state of an MQTT client.
func (c *Client) WriteBrokerState(clientID, state string) {
	c.WritePoint(MeasurementBrokerState,
		map[string]string{"client_id": clientID},
		map[string]any{"state": state},
	)
}

// WritePoint writes a custom point stamped now.
//
// Example:
//
//	client.WritePoint("hub_stats",
//	    map[string]string{"host": "hub-01"},
//	    map[string]any{"programs": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
