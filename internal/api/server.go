package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hyperion-bridge/internal/bridges/hyperion"
	"github.com/nerrad567/hyperion-bridge/internal/infrastructure/config"
	"github.com/nerrad567/hyperion-bridge/internal/infrastructure/logging"
)

const (
	// gracefulShutdownTimeout bounds in-flight requests during Close.
	gracefulShutdownTimeout = 10 * time.Second

	defaultRequestTimeout = 10 * time.Second
)

// StatusReporter reports whether an optional collaborator is connected.
// The MQTT client implements it.
type StatusReporter interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Hyperion is the protocol client every route drives. Required.
	Hyperion hyperion.Controller

	// Address and Port are used by POST /api/v1/connect when the
	// request body names no server.
	Address string
	Port    int

	// RequestTimeout bounds one exchange. Default: 10 seconds.
	RequestTimeout time.Duration

	// Hub is shared with the state-change fan-out in main. When nil the
	// server creates its own.
	Hub *Hub

	// MQTT is optional and only reported in metrics.
	MQTT StatusReporter

	Version string
}

// Server is the HTTP front end of the bridge.
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	secCfg         config.SecurityConfig
	logger         *logging.Logger
	hyperion       hyperion.Controller
	address        string
	port           int
	requestTimeout time.Duration
	mqtt           StatusReporter
	version        string
	startTime      time.Time

	// active is the on/off flag driven by the short routes.
	active atomic.Bool

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a server. It does not listen until Start is called.
//
// Returns:
//   - *Server: configured server
//   - error: if the logger or Hyperion controller is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Hyperion == nil {
		return nil, fmt.Errorf("hyperion controller is required")
	}

	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		secCfg:         deps.Security,
		logger:         deps.Logger,
		hyperion:       deps.Hyperion,
		address:        deps.Address,
		port:           deps.Port,
		requestTimeout: timeout,
		mqtt:           deps.MQTT,
		version:        deps.Version,
		startTime:      time.Now(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub the server broadcasts through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start builds the router and listens in a background goroutine.
//
// Parameters:
//   - ctx: parent context for the hub; the listener lives until Close
//
// Returns:
//   - error: currently always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

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
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
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

// Close shuts the listener down, waiting up to 10 seconds for in-flight
// requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
