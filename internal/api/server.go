package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiplog/shiplog/internal/config"
)

// ServerConfig contains everything needed to assemble the HTTP server.
type ServerConfig struct {
	Logger        *slog.Logger
	Store         ConversationStore // Required
	Runner        Runner            // Required
	Pool          *pgxpool.Pool     // Optional: nil disables pool stats in /ready
	HMACSecret    []byte            // Required: 32+ bytes, signs the uid cookie
	AdminToken    string            // Optional: empty disables the admin tier
	CORSOrigins   []string          // Allowed origins for CORS
	IsDev         bool              // Enables HTTP cookies (no Secure flag)
	TrustProxy    bool              // Trust X-Real-IP/X-Forwarded-For headers
	RateLimitRPS  float64           // Token refill rate per IP (0 = default 1/sec)
	RateBurst     int               // Rate limiter burst size per IP (0 = default 60)
	MaxContextMsg int               // Context window cap (0 = default)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if len(cfg.HMACSecret) < 32 {
		return nil, errors.New("hmac secret must be at least 32 bytes")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	im := &identityManager{
		hmacSecret: cfg.HMACSecret,
		adminToken: cfg.AdminToken,
		isDev:      cfg.IsDev,
		logger:     logger,
	}

	convs := &conversationHandler{store: cfg.Store, logger: logger}

	chat := &chatHandler{
		store:          cfg.Store,
		runner:         cfg.Runner,
		logger:         logger,
		maxContextMsgs: int32(config.NormalizeContextMessages(cfg.MaxContextMsg)),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/conversations", convs.list)
	mux.HandleFunc("POST /api/v1/conversations", convs.create)
	mux.HandleFunc("GET /api/v1/conversations/{id}", convs.get)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", convs.messages)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", convs.delete)

	mux.HandleFunc("POST /api/v1/chat/stream", chat.stream)

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack, outermost first:
	//   Recovery -> Logging -> Tracing -> CORS -> RateLimit -> Identity -> Routes
	// CORS sits before RateLimit so preflight OPTIONS gets its headers.
	var handler http.Handler = mux
	handler = identityMiddleware(im)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = tracingMiddleware()(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
