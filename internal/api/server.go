// Package api provides the HTTP REST API and WebSocket server for the CMV
// bridge.
//
// It exposes device snapshots, entity states and control actions to local
// dashboards and scripts:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-cmv/internal/audit"
	"github.com/nerrad567/gray-logic-cmv/internal/entity"
	"github.com/nerrad567/gray-logic-cmv/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cmv/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cmv/internal/polling"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Poller is the subset of *polling.Coordinator the API uses.
type Poller interface {
	Latest() (polling.Snapshot, bool)
	Available() bool
	RequestRefresh()
	Refresh(ctx context.Context) error
	Status() polling.Status
	Interval() time.Duration
	Subscribe(fn func(polling.Snapshot)) (unsubscribe func())
}

// ConnectionChecker reports whether a transport is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

// Device pairs a unit's entities with its coordinator.
type Device struct {
	Unit   *entity.Unit
	Poller Poller
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger
	Devices []Device

	// Audit serves GET /audit. Optional.
	Audit audit.Repository

	// Gatherer serves the Prometheus endpoint. Optional.
	Gatherer prometheus.Gatherer

	// MQTT reports broker connectivity in system metrics. Optional.
	MQTT ConnectionChecker

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	metrics  config.MetricsConfig
	logger   *logging.Logger
	devices  map[string]Device
	order    []string
	audit    audit.Repository
	gatherer prometheus.Gatherer
	mqtt     ConnectionChecker
	version  string
	started  time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
	unsubs []func()
}

// New creates a server. It does not listen until Start is called.
//
// Parameters:
//   - deps: Configuration, logger, devices and optional audit, MQTT and metrics sources
//
// Returns:
//   - *Server: Server ready to Start
//   - error: If the logger is missing, no devices are given or a device ID repeats
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if len(deps.Devices) == 0 {
		return nil, fmt.Errorf("at least one device is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		devices:  make(map[string]Device, len(deps.Devices)),
		audit:    deps.Audit,
		gatherer: deps.Gatherer,
		mqtt:     deps.MQTT,
		version:  deps.Version,
		started:  time.Now(),
		hub:      NewHub(deps.WS, deps.Logger),
	}
	for _, d := range deps.Devices {
		id := d.Unit.ID()
		if _, dup := s.devices[id]; dup {
			return nil, fmt.Errorf("duplicate device %s", id)
		}
		s.devices[id] = d
		s.order = append(s.order, id)
	}
	return s, nil
}

// Start runs the WebSocket hub, forwards snapshots to it and starts the
// HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.forwardSnapshots()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

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

// HealthCheck returns nil once the server is listening.
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

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// forwardSnapshots broadcasts every published snapshot to WebSocket clients.
func (s *Server) forwardSnapshots() {
	for _, id := range s.order {
		dev := s.devices[id]
		s.unsubs = append(s.unsubs, dev.Poller.Subscribe(func(snap polling.Snapshot) {
			s.hub.Broadcast(ChannelSnapshotUpdated, snapshotEvent{
				DeviceID:  snap.DeviceID(),
				Available: dev.Poller.Available(),
				Snapshot:  snap,
			})
		}))
	}
}

func (s *Server) device(id string) (Device, bool) {
	d, ok := s.devices[id]
	return d, ok
}
