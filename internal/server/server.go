package server

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentd/internal/agent"
	"github.com/opencode-ai/agentd/internal/config"
	"github.com/opencode-ai/agentd/internal/event"
	"github.com/opencode-ai/agentd/internal/logging"
	"github.com/opencode-ai/agentd/internal/mcp"
	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/internal/session"
)

// SecretKeyHeader carries the shared secret on every request but /status.
const SecretKeyHeader = "X-Secret-Key"

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	SecretKey   string
	EnableCORS  bool
	ReadTimeout time.Duration
	Heartbeat   time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:        config.DefaultHost,
		Port:        config.DefaultPort,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
		Heartbeat:   SSEHeartbeatInterval,
	}
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Agent      *agent.Agent
	Transport  *session.Transport
	Sessions   session.Store
	Extensions *mcp.Client
	Config     config.Store
	Providers  *provider.Registry
	Bus        *event.Bus
}

// Server is the HTTP server.
type Server struct {
	config     *Config
	router     *chi.Mux
	httpSrv    *http.Server
	agent      *agent.Agent
	transport  *session.Transport
	sessions   session.Store
	extensions *mcp.Client
	store      config.Store
	providers  *provider.Registry
	bus        *event.Bus
	heartbeat  time.Duration
	log        zerolog.Logger
}

// New creates a new Server instance.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:     cfg,
		router:     chi.NewRouter(),
		agent:      deps.Agent,
		transport:  deps.Transport,
		sessions:   deps.Sessions,
		extensions: deps.Extensions,
		store:      deps.Config,
		providers:  deps.Providers,
		bus:        deps.Bus,
		heartbeat:  cfg.Heartbeat,
		log:        logging.Component("server"),
	}
	if s.bus == nil {
		s.bus = event.NewBus()
	}
	if s.providers == nil {
		s.providers = provider.DefaultRegistry()
	}
	if s.heartbeat <= 0 {
		s.heartbeat = SSEHeartbeatInterval
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", SecretKeyHeader},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.requireSecret)
}

// requestLogger logs each request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// requireSecret rejects requests without the configured secret key.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.SecretKey == "" || r.URL.Path == "/status" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(SecretKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.config.SecretKey)) != 1 {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid "+SecretKeyHeader)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        s.Addr(),
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server and waits for replies to
// finish persisting.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	if s.transport != nil {
		done := make(chan struct{})
		go func() {
			s.transport.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.log.Warn().Msg("shutdown timed out waiting for sessions to persist")
		}
	}
	return err
}
