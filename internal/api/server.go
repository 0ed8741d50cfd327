package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/events"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *automation.Registry
	Engine   *automation.Engine
	MQTT     *mqtt.PersistentClient // core broker connection, optional
	Bus      *events.Bus            // optional; without it the WebSocket hub is idle
	Metrics  *metrics.Metrics       // optional
	DB       *database.DB           // optional, for health and pool stats
	Influx   *influxdb.Client       // optional
	Version  string
}

// Server is the HTTP API server for the Gray Logic hub.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	registry  *automation.Registry
	engine    *automation.Engine
	mqtt      *mqtt.PersistentClient
	bus       *events.Bus
	metrics   *metrics.Metrics
	db        *database.DB
	influx    *influxdb.Client
	version   string
	startTime time.Time

	server      *http.Server
	hub         *Hub
	tickets     *ticketStore
	unsubscribe func()
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("program registry is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("program engine is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		registry:  deps.Registry,
		engine:    deps.Engine,
		mqtt:      deps.MQTT,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		db:        deps.DB,
		influx:    deps.Influx,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.SetOnClientCount(s.metrics.SetWebSocketClients)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays bus events to it, and launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
//
// Returns:
//   - error: If the listener cannot be created (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)
	s.relayEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// relayEvents forwards every bus event to the WebSocket hub on the "events"
// channel and on the event's domain channel.
func (s *Server) relayEvents() {
	if s.bus == nil || s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.bus.Subscribe(func(e events.Event) {
		s.hub.Broadcast(events.ChannelAll, e)
		s.hub.Broadcast(e.Channel(), e)
	})
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
