// Package relay exposes the price relay over HTTP: validated subscriptions
// streamed as server-sent events or WebSocket messages, one-shot price
// lookups and service health.
package relay

import (
    "context"
    "net/http"
    "time"

    "github.com/gorilla/websocket"
    "go.uber.org/zap"

    "pricerelay/internal/provider"
    "pricerelay/internal/session"
    "pricerelay/internal/symbols"
)

// Sessions runs streaming sessions.
type Sessions interface {
    Serve(ctx context.Context, set symbols.Set, t session.Transport) error
    Active() int
    Accepting() bool
}

// CacheStats reports cache occupancy for /health.
type CacheStats interface {
    Len() int
    MaxSize() int
    TTL() time.Duration
}

// Settings are the limits and intervals the service enforces and reports.
type Settings struct {
    MaxSymbols        int
    UpdateInterval    time.Duration
    HeartbeatInterval time.Duration
    WriteTimeout      time.Duration
    RequestTimeout    time.Duration
    MaxRetries        int
    RetryDelay        time.Duration
    UpstreamMode      string
}

// Service holds the handlers' dependencies.
type Service struct {
    fetch    provider.FetchFunc
    cache    CacheStats
    sessions Sessions
    settings Settings
    logger   *zap.Logger

    started  time.Time
    now      func() time.Time
    upgrader websocket.Upgrader
}

// New builds the service. fetch is the cached fetch path shared with the
// session manager.
func New(fetch provider.FetchFunc, cache CacheStats, sessions Sessions, settings Settings, logger *zap.Logger) *Service {
    if logger == nil {
        logger = zap.NewNop()
    }
    return &Service{
        fetch:    fetch,
        cache:    cache,
        sessions: sessions,
        settings: settings,
        logger:   logger,
        started:  time.Now(),
        now:      time.Now,
        upgrader: websocket.Upgrader{
            ReadBufferSize:  1024,
            WriteBufferSize: 4096,
            // Any origin may subscribe, matching the CORS policy.
            CheckOrigin: func(*http.Request) bool { return true },
        },
    }
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Service) Handler() http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("GET /stream", s.handleStream)
    mux.HandleFunc("GET /stream-prices", s.handleStream)
    mux.HandleFunc("GET /ws", s.handleWebSocket)
    mux.HandleFunc("GET /prices", s.handleGetPrices)
    mux.HandleFunc("POST /prices", s.handlePostPrices)
    mux.HandleFunc("GET /health", s.handleHealth)
    mux.HandleFunc("GET /{$}", s.handleIndex)

    return withJSONHeaders(logRequests(s.logger, recoverPanic(s.logger, limitBody(withGzip(mux)))))
}
