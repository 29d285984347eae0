// Package session runs one streaming subscription per client connection: an
// immediate push, then periodic data pushes and heartbeats until the client
// goes away, a write fails, or the manager shuts down.
package session

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "pricerelay/internal/provider"
    "pricerelay/internal/symbols"
)

const (
    DefaultUpdateInterval    = 10 * time.Second
    DefaultHeartbeatInterval = 30 * time.Second
)

var (
    // ErrClosed is returned when writing to a closed transport or serving on
    // a manager that is shutting down.
    ErrClosed = errors.New("session closed")

    errDisconnected = errors.New("client disconnected")
)

// Transport is one client connection able to carry frames.
// Send and Heartbeat are never called concurrently for one transport.
type Transport interface {
    Send(res *provider.FetchResult) error
    Heartbeat() error
    // Done is closed once the client is gone.
    Done() <-chan struct{}
    Close() error
}

type State int32

const (
    Connecting State = iota
    Streaming
    Closed
)

func (s State) String() string {
    switch s {
    case Connecting:
        return "connecting"
    case Streaming:
        return "streaming"
    case Closed:
        return "closed"
    }
    return fmt.Sprintf("State(%d)", int32(s))
}

// Session streams FetchResults for one symbol set over one transport.
type Session struct {
    id        string
    set       symbols.Set
    transport Transport
    fetch     provider.FetchFunc
    update    time.Duration
    heartbeat time.Duration
    logger    *zap.Logger

    ctx    context.Context
    cancel context.CancelFunc

    state     atomic.Int32
    writeMu   sync.Mutex
    closeOnce sync.Once
    closeErr  error
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Symbols() symbols.Set { return s.set }
func (s *Session) State() State         { return State(s.state.Load()) }

// Close stops both scheduled tasks and closes the transport. Safe to call
// any number of times from any goroutine; no frame is written after it
// returns.
func (s *Session) Close() error {
    s.closeOnce.Do(func() {
        s.state.Store(int32(Closed))
        s.cancel()
        s.writeMu.Lock()
        s.closeErr = s.transport.Close()
        s.writeMu.Unlock()
        s.logger.Debug("session closed")
    })
    return s.closeErr
}

// run pushes once, then streams until the session ends. It returns nil when
// the client went away or the session was closed, and the write error when a
// frame could not be delivered.
func (s *Session) run() error {
    defer s.Close()

    if err := s.push(s.ctx); err != nil {
        return ignoreDisconnect(err)
    }
    if !s.state.CompareAndSwap(int32(Connecting), int32(Streaming)) {
        return nil
    }

    g, ctx := errgroup.WithContext(s.ctx)
    g.Go(func() error { return every(ctx, s.update, s.push) })
    g.Go(func() error { return every(ctx, s.heartbeat, s.beat) })
    g.Go(func() error {
        select {
        case <-ctx.Done():
            return nil
        case <-s.transport.Done():
            return errDisconnected
        }
    })
    return ignoreDisconnect(g.Wait())
}

// push fetches the current result and writes it as one frame. A transport
// that has already ended is neither fetched for nor written to.
func (s *Session) push(ctx context.Context) error {
    if s.ended(ctx) {
        return errDisconnected
    }
    res := s.fetchSafe(ctx)
    return s.write(ctx, func() error { return s.transport.Send(res) })
}

func (s *Session) beat(ctx context.Context) error {
    return s.write(ctx, s.transport.Heartbeat)
}

func (s *Session) write(ctx context.Context, fn func() error) error {
    s.writeMu.Lock()
    defer s.writeMu.Unlock()
    if s.ended(ctx) {
        return errDisconnected
    }
    if err := fn(); err != nil {
        s.logger.Debug("write failed", zap.Error(err))
        return fmt.Errorf("write: %w", err)
    }
    return nil
}

// fetchSafe turns a panic anywhere in the fetch path into a failed result so
// that only transport failures end a session.
func (s *Session) fetchSafe(ctx context.Context) (res *provider.FetchResult) {
    defer func() {
        if r := recover(); r != nil {
            s.logger.Error("fetch panicked", zap.Any("panic", r))
            res = provider.Failed(s.set, fmt.Errorf("internal error: %v", r))
        }
    }()
    res = s.fetch(ctx, s.set)
    if res == nil {
        res = provider.Failed(s.set, nil)
    }
    return res
}

func (s *Session) ended(ctx context.Context) bool {
    select {
    case <-ctx.Done():
        return true
    case <-s.transport.Done():
        return true
    default:
        return false
    }
}

// every runs fn each interval until ctx ends or fn fails. Ticks missed while
// fn runs are dropped, so runs never overlap.
func every(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
    t := time.NewTicker(interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return nil
        case <-t.C:
            if err := fn(ctx); err != nil {
                return err
            }
        }
    }
}

func ignoreDisconnect(err error) error {
    if errors.Is(err, errDisconnected) {
        return nil
    }
    return err
}

// Manager owns the live sessions.
type Manager struct {
    fetch     provider.FetchFunc
    update    time.Duration
    heartbeat time.Duration
    logger    *zap.Logger

    mu       sync.Mutex
    sessions map[string]*Session
    closing  bool
    wg       sync.WaitGroup
}

type Option func(*Manager)

func WithUpdateInterval(d time.Duration) Option {
    return func(m *Manager) {
        if d > 0 {
            m.update = d
        }
    }
}

func WithHeartbeatInterval(d time.Duration) Option {
    return func(m *Manager) {
        if d > 0 {
            m.heartbeat = d
        }
    }
}

func WithLogger(l *zap.Logger) Option {
    return func(m *Manager) {
        if l != nil {
            m.logger = l
        }
    }
}

// NewManager builds a manager whose sessions obtain results from fetch,
// normally the shared cache in front of the upstream client.
func NewManager(fetch provider.FetchFunc, opts ...Option) *Manager {
    m := &Manager{
        fetch:     fetch,
        update:    DefaultUpdateInterval,
        heartbeat: DefaultHeartbeatInterval,
        logger:    zap.NewNop(),
        sessions:  make(map[string]*Session),
    }
    for _, o := range opts {
        o(m)
    }
    return m
}

// Serve runs a session for set on t and blocks until it closes. The
// transport is closed on return.
func (m *Manager) Serve(ctx context.Context, set symbols.Set, t Transport) error {
    s, err := m.open(ctx, set, t)
    if err != nil {
        _ = t.Close()
        return err
    }
    defer m.release(s)

    s.logger.Info("session opened", zap.Int("active", m.Active()))
    err = s.run()
    s.logger.Info("session ended", zap.Error(err))
    return err
}

func (m *Manager) open(ctx context.Context, set symbols.Set, t Transport) (*Session, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closing {
        return nil, ErrClosed
    }
    id := uuid.NewString()
    sctx, cancel := context.WithCancel(ctx)
    s := &Session{
        id:        id,
        set:       set,
        transport: t,
        fetch:     m.fetch,
        update:    m.update,
        heartbeat: m.heartbeat,
        logger:    m.logger.With(zap.String("session", id), zap.String("symbols", set.Key())),
        ctx:       sctx,
        cancel:    cancel,
    }
    m.sessions[id] = s
    m.wg.Add(1)
    return s, nil
}

func (m *Manager) release(s *Session) {
    m.mu.Lock()
    delete(m.sessions, s.id)
    m.mu.Unlock()
    m.wg.Done()
}

// Active reports the number of open sessions.
func (m *Manager) Active() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.sessions)
}

// Accepting reports whether new sessions may still be opened.
func (m *Manager) Accepting() bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    return !m.closing
}

// Shutdown refuses new sessions, closes every open one and waits for their
// Serve calls to return or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
    m.mu.Lock()
    m.closing = true
    open := make([]*Session, 0, len(m.sessions))
    for _, s := range m.sessions {
        open = append(open, s)
    }
    m.mu.Unlock()

    for _, s := range open {
        _ = s.Close()
    }

    done := make(chan struct{})
    go func() {
        m.wg.Wait()
        close(done)
    }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}
