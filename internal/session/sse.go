package session

import (
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strconv"
    "sync/atomic"
    "time"

    "github.com/gin-contrib/sse"

    "pricerelay/internal/provider"
)

const DefaultWriteTimeout = 10 * time.Second

// SSE writes frames as server-sent events on an HTTP response: one
// "data:<json>" event per result and a comment line as heartbeat.
type SSE struct {
    w            http.ResponseWriter
    rc           *http.ResponseController
    done         <-chan struct{}
    writeTimeout time.Duration

    lastID int
    closed atomic.Bool
}

// NewSSE writes the event-stream headers and flushes them. The stream ends
// when the request's context does.
func NewSSE(w http.ResponseWriter, r *http.Request, writeTimeout time.Duration) (*SSE, error) {
    if writeTimeout <= 0 {
        writeTimeout = DefaultWriteTimeout
    }
    s := &SSE{
        w:            w,
        rc:           http.NewResponseController(w),
        done:         r.Context().Done(),
        writeTimeout: writeTimeout,
    }

    h := w.Header()
    h.Set("Content-Type", "text/event-stream")
    h.Set("Cache-Control", "no-cache")
    h.Set("Connection", "keep-alive")
    h.Set("X-Accel-Buffering", "no")
    w.WriteHeader(http.StatusOK)
    if err := s.rc.Flush(); err != nil {
        return nil, fmt.Errorf("sse: response cannot stream: %w", err)
    }
    return s, nil
}

func (s *SSE) Send(res *provider.FetchResult) error {
    b, err := json.Marshal(res)
    if err != nil {
        return err
    }
    return s.frame(func(w io.Writer) error {
        s.lastID++
        return sse.Encode(w, sse.Event{Id: strconv.Itoa(s.lastID), Data: string(b)})
    })
}

func (s *SSE) Heartbeat() error {
    return s.frame(func(w io.Writer) error {
        _, err := io.WriteString(w, ": keep-alive\n\n")
        return err
    })
}

func (s *SSE) frame(write func(io.Writer) error) error {
    if s.closed.Load() {
        return ErrClosed
    }
    if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
        return err
    }
    if err := write(s.w); err != nil {
        return err
    }
    return s.rc.Flush()
}

func (s *SSE) Done() <-chan struct{} { return s.done }

// Close marks the stream finished; the handler returning ends the response.
func (s *SSE) Close() error {
    s.closed.Store(true)
    return nil
}
