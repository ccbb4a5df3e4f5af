package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ReceiverService is what the API needs from the bridge.
// *pioneer.Bridge implements it.
type ReceiverService interface {
	Receivers() []pioneer.ReceiverStatus
	Receiver(id string) (pioneer.ReceiverStatus, error)
	Sources(id string) ([]string, error)
	Refresh(ctx context.Context, id string) (pioneer.ReceiverStatus, error)
	Execute(ctx context.Context, cmd pioneer.CommandMessage) pioneer.AckMessage
	History(ctx context.Context, id string, limit int) ([]pioneer.HistoryEntry, error)
}

// StateNotifier delivers receiver state changes. Optional.
type StateNotifier interface {
	OnStateChange(fn func(pioneer.StateMessage))
}

// HealthSource reports bridge health for /api/v1/health. Optional.
type HealthSource interface {
	HealthStatus() (pioneer.HealthStatus, string)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Service  ReceiverService
	Events   StateNotifier
	Health   HealthSource

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	service ReceiverService
	events  StateNotifier
	health  HealthSource
	metrics http.Handler
	version string

	hub     *Hub
	tickets *ticketStore

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Service == nil {
		return nil, errors.New("receiver service is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		service: deps.Service,
		events:  deps.Events,
		health:  deps.Health,
		metrics: deps.Metrics,
		version: deps.Version,
		tickets: newTicketStore(),
	}
	s.hub = NewHub(deps.Logger.With("component", "websocket"))

	if s.events != nil {
		s.events.OnStateChange(func(msg pioneer.StateMessage) {
			s.hub.Publish(EventReceiverStateChanged, msg.DeviceID, msg)
		})
	}

	return s, nil
}

// Start binds the listener and serves in the background.
//
// Parameters:
//   - ctx: Parent for the hub and ticket cleanup goroutines
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2) //nolint:mnd // hub and ticket cleanup
	go func() {
		defer s.wg.Done()
		s.hub.Run(srvCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.tickets.cleanLoop(srvCtx)
	}()

	s.server = &http.Server{
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
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops background goroutines and shuts the listener down, waiting
// up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

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
		return errors.New("api server not started")
	}
	return nil
}

// Hub returns the server's websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
