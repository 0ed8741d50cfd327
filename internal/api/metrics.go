package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Programs      ProgramMetrics  `json:"programs"`
	Database      DatabaseMetrics `json:"database"`
	InfluxDB      InfluxMetrics   `json:"influxdb"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains core MQTT client statistics.
type MQTTMetrics struct {
	Configured    bool   `json:"configured"`
	Connected     bool   `json:"connected"`
	State         string `json:"state"`
	Subscriptions int    `json:"subscriptions"`
}

// ProgramMetrics contains program registry statistics.
type ProgramMetrics struct {
	Total    int `json:"total"`
	Enabled  int `json:"enabled"`
	Failing  int `json:"failing"`
	Compiled int `json:"compiled"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// InfluxMetrics reports whether run telemetry is being written.
type InfluxMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// handlePrometheus serves the Prometheus registry.
func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	s.metrics.Handler().ServeHTTP(w, r)
}

// handleSystem returns a JSON snapshot of the hub.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		MQTT: MQTTMetrics{State: "unconfigured"},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Configured:    true,
			Connected:     s.mqtt.IsConnected(),
			State:         s.mqtt.State().String(),
			Subscriptions: s.mqtt.SubscriptionCount(),
		}
	}

	// Program registry stats
	programs, err := s.registry.ListPrograms(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list programs")
		return
	}
	metrics.Programs.Total = len(programs)
	for i := range programs {
		p := &programs[i]
		if p.Enabled {
			metrics.Programs.Enabled++
		}
		if p.LastError != nil {
			metrics.Programs.Failing++
		}
		if s.engine.Artifact(p.ID) != nil {
			metrics.Programs.Compiled++
		}
	}

	// Database stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	if s.influx != nil {
		metrics.InfluxDB = InfluxMetrics{Enabled: true, Connected: s.influx.IsConnected()}
	}

	writeJSON(w, http.StatusOK, metrics)
}
