package relay

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/dustin/go-humanize"
    "go.uber.org/zap"

    "pricerelay/internal/session"
    "pricerelay/internal/symbols"
)

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
    set, ok := s.parseQuery(w, r)
    if !ok {
        return
    }
    if !s.sessions.Accepting() {
        writeError(w, http.StatusServiceUnavailable, "server shutting down")
        return
    }
    tr, err := session.NewSSE(w, r, s.settings.WriteTimeout)
    if err != nil {
        s.logger.Error("stream not supported", zap.Error(err))
        writeError(w, http.StatusInternalServerError, "streaming unsupported")
        return
    }
    if err := s.sessions.Serve(r.Context(), set, tr); err != nil {
        s.logger.Debug("stream ended", zap.String("symbols", set.Key()), zap.Error(err))
    }
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
    set, ok := s.parseQuery(w, r)
    if !ok {
        return
    }
    if !s.sessions.Accepting() {
        writeError(w, http.StatusServiceUnavailable, "server shutting down")
        return
    }
    conn, err := s.upgrader.Upgrade(w, r, nil)
    if err != nil {
        // Upgrade has already replied.
        s.logger.Debug("websocket upgrade failed", zap.Error(err))
        return
    }
    tr := session.NewWebSocket(conn, s.settings.HeartbeatInterval)
    if err := s.sessions.Serve(r.Context(), set, tr); err != nil {
        s.logger.Debug("websocket ended", zap.String("symbols", set.Key()), zap.Error(err))
    }
}

func (s *Service) handleGetPrices(w http.ResponseWriter, r *http.Request) {
    set, ok := s.parseQuery(w, r)
    if !ok {
        return
    }
    writeJSON(w, http.StatusOK, s.fetch(r.Context(), set))
}

type pricesBody struct {
    Symbols []string `json:"symbols"`
}

func (s *Service) handlePostPrices(w http.ResponseWriter, r *http.Request) {
    var b pricesBody
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(&b); err != nil {
        writeError(w, http.StatusBadRequest, "invalid JSON body")
        return
    }
    set, err := symbols.Validate(symbols.New(b.Symbols...), s.settings.MaxSymbols)
    if err != nil {
        writeError(w, http.StatusBadRequest, err.Error())
        return
    }
    writeJSON(w, http.StatusOK, s.fetch(r.Context(), set))
}

// parseQuery validates ?symbols= and replies 400 itself when it is invalid.
func (s *Service) parseQuery(w http.ResponseWriter, r *http.Request) (symbols.Set, bool) {
    set, err := symbols.Parse(r.URL.Query().Get("symbols"), s.settings.MaxSymbols)
    if err != nil {
        var verr *symbols.ValidationError
        if errors.As(err, &verr) {
            writeError(w, http.StatusBadRequest, verr.Reason)
        } else {
            writeError(w, http.StatusBadRequest, err.Error())
        }
        return symbols.Set{}, false
    }
    return set, true
}

type cacheHealth struct {
    Size    int   `json:"size"`
    MaxSize int   `json:"maxSize"`
    TTLMS   int64 `json:"ttl_ms"`
}

type configHealth struct {
    MaxSymbols          int    `json:"maxSymbols"`
    UpdateIntervalMS    int64  `json:"updateInterval_ms"`
    HeartbeatIntervalMS int64  `json:"heartbeatInterval_ms"`
    RequestTimeoutMS    int64  `json:"requestTimeout_ms"`
    MaxRetries          int    `json:"maxRetries"`
    RetryDelayMS        int64  `json:"retryDelay_ms"`
    UpstreamMode        string `json:"upstreamMode"`
}

type healthResponse struct {
    Status      string       `json:"status"`
    Uptime      float64      `json:"uptime"`
    UptimeHuman string       `json:"uptime_human"`
    Sessions    int          `json:"sessions"`
    Cache       cacheHealth  `json:"cache"`
    Config      configHealth `json:"config"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
    now := s.now()
    st := s.settings
    writeJSON(w, http.StatusOK, healthResponse{
        Status:      "ok",
        Uptime:      now.Sub(s.started).Seconds(),
        UptimeHuman: strings.TrimSpace(humanize.RelTime(s.started, now, "", "")),
        Sessions:    s.sessions.Active(),
        Cache: cacheHealth{
            Size:    s.cache.Len(),
            MaxSize: s.cache.MaxSize(),
            TTLMS:   s.cache.TTL().Milliseconds(),
        },
        Config: configHealth{
            MaxSymbols:          st.MaxSymbols,
            UpdateIntervalMS:    st.UpdateInterval.Milliseconds(),
            HeartbeatIntervalMS: st.HeartbeatInterval.Milliseconds(),
            RequestTimeoutMS:    st.RequestTimeout.Milliseconds(),
            MaxRetries:          st.MaxRetries,
            RetryDelayMS:        st.RetryDelay.Milliseconds(),
            UpstreamMode:        st.UpstreamMode,
        },
    })
}

type indexResponse struct {
    Service   string            `json:"service"`
    Endpoints map[string]string `json:"endpoints"`
    Limits    map[string]any    `json:"limits"`
    Time      time.Time         `json:"time"`
}

func (s *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, indexResponse{
        Service: "price-relay",
        Endpoints: map[string]string{
            "GET /stream?symbols=A,B":        "server-sent events stream of price updates",
            "GET /stream-prices?symbols=A,B": "alias of /stream",
            "GET /ws?symbols=A,B":            "WebSocket stream of price updates",
            "GET /prices?symbols=A,B":        "one-shot price lookup",
            "POST /prices":                   `one-shot price lookup, body {"symbols":["A","B"]}`,
            "GET /health":                    "service health",
        },
        Limits: map[string]any{
            "maxSymbols":           s.settings.MaxSymbols,
            "updateInterval_ms":    s.settings.UpdateInterval.Milliseconds(),
            "heartbeatInterval_ms": s.settings.HeartbeatInterval.Milliseconds(),
        },
        Time: s.now().UTC(),
    })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json; charset=utf-8")
    w.WriteHeader(status)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
    writeJSON(w, status, map[string]string{"error": msg})
}
