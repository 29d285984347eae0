package relay

import (
    "bufio"
    "compress/gzip"
    "io"
    "net"
    "net/http"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"
)

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        w.Header().Set("Access-Control-Allow-Origin", "*")
        w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// streaming reports routes whose responses must reach the client frame by
// frame.
func streaming(r *http.Request) bool {
    switch r.URL.Path {
    case "/stream", "/stream-prices", "/ws":
        return true
    }
    return false
}

// withGzip compresses responses when the client supports gzip. Streaming
// routes are passed through untouched.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if streaming(r) || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// limitBody caps request body size.
func limitBody(next http.Handler) http.Handler {
    const maxBody = 64 << 10
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodPost && r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBody)
        }
        next.ServeHTTP(w, r)
    })
}

func recoverPanic(logger *zap.Logger, next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                if rec == http.ErrAbortHandler {
                    panic(rec)
                }
                logger.Error("handler panicked", zap.Any("panic", rec), zap.String("path", r.URL.Path))
                if rw, ok := w.(interface{ Written() bool }); ok && rw.Written() {
                    // Headers are gone; an error body would corrupt the stream.
                    return
                }
                writeError(w, http.StatusInternalServerError, "internal server error")
            }
        }()
        next.ServeHTTP(w, r)
    })
}

func logRequests(logger *zap.Logger, next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        logger.Info("request",
            zap.String("method", r.Method),
            zap.String("path", r.URL.Path),
            zap.String("query", r.URL.RawQuery),
            zap.Int("status", rec.status),
            zap.Int("bytes", rec.bytes),
            zap.Duration("duration", time.Since(start)),
            zap.String("remote", r.RemoteAddr),
        )
    })
}

// statusRecorder captures the response status. It keeps the underlying
// writer's flushing and hijacking reachable for the streaming routes.
type statusRecorder struct {
    http.ResponseWriter
    status int
    bytes  int
    wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
    s.status = code
    s.wrote = true
    s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
    s.wrote = true
    n, err := s.ResponseWriter.Write(b)
    s.bytes += n
    return n, err
}

// Written reports whether the response has been committed.
func (s *statusRecorder) Written() bool { return s.wrote }

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) Flush() {
    s.wrote = true
    _ = http.NewResponseController(s.ResponseWriter).Flush()
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    s.status = http.StatusSwitchingProtocols
    s.wrote = true
    return http.NewResponseController(s.ResponseWriter).Hijack()
}
