package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/schooldocs-core/internal/audit"
	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/config"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/logging"
	"github.com/nerrad567/schooldocs-core/internal/rolestore"
	"github.com/nerrad567/schooldocs-core/internal/roles"
	"github.com/nerrad567/schooldocs-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// RoleDirectory is the role store as seen by the admin endpoints.
// *rolestore.RealtimeStore and *rolestore.SQLiteStore implement it.
type RoleDirectory interface {
	rolestore.Store
	List(ctx context.Context) ([]rolestore.Entry, error)
}

// HealthChecker is a dependency reported by GET /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Provider identity.Authenticator
	Sessions *session.Manager
	Roles    RoleDirectory
	Policy   *roles.Policy
	Audit    audit.Repository         // optional
	Checks   map[string]HealthChecker // optional, keyed by component name
	Version  string
}

// Server is the HTTP API server for School Docs Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	provider identity.Authenticator
	sessions *session.Manager
	roles    RoleDirectory
	policy   *roles.Policy
	audit    audit.Repository
	checks   map[string]HealthChecker
	version  string

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	limiter *ipLimiter         // nil when rate limiting is disabled
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger, Provider, Sessions, Roles and Policy are required;
//     Audit and Checks are optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Roles == nil {
		return nil, fmt.Errorf("role store is required")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("role policy is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger.With("component", "api"),
		provider: deps.Provider,
		sessions: deps.Sessions,
		roles:    deps.Roles,
		policy:   deps.Policy,
		audit:    deps.Audit,
		checks:   deps.Checks,
		version:  deps.Version,
		tickets:  newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)

	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		s.limiter = newIPLimiter(float64(rl.RequestsPerMinute)/60, rl.Burst)
	}

	return s, nil
}

// Handler returns the HTTP handler with every route and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the cleanup loop for expired sessions and
// tickets, then launches the HTTP listener in a background goroutine. The
// server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub and cleanup loop
//
// Returns:
//   - error: Currently always nil; listener failures are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanupLoop(srvCtx)

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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections. Sessions are owned by the
// session manager and are not closed here.
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

// HealthCheck verifies the API server is running and responsive.
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

// cleanupInterval is how often expired sessions, tickets and idle limiters
// are dropped.
const cleanupInterval = time.Minute

// maxTrackedClients bounds the limiter cache between cleanups.
const maxTrackedClients = 10000

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireSessions(ctx, time.Now())
			s.tickets.cleanExpired()
			if s.limiter != nil && s.limiter.clearIfExceeds(maxTrackedClients) {
				s.logger.Debug("rate limiter cache cleared")
			}
		}
	}
}

// expireSessions closes sessions whose access token has expired, along with
// their tickets and WebSocket clients.
func (s *Server) expireSessions(ctx context.Context, now time.Time) {
	for _, id := range s.sessions.CloseExpired(ctx, now) {
		s.hub.DisconnectSession(id)
		s.tickets.revokeSession(id)
		s.logger.Info("session expired", "session_id", id)
	}
}
