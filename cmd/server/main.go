package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "pricerelay/internal/config"
    "pricerelay/internal/httpx"
    "pricerelay/internal/logger"
    "pricerelay/internal/provider"
    "pricerelay/internal/provider/cache"
    "pricerelay/internal/provider/ratelimit"
    "pricerelay/internal/provider/upstream"
    "pricerelay/internal/relay"
    "pricerelay/internal/session"
    "pricerelay/internal/symbols"
    "pricerelay/internal/telemetry"
)

const version = "1.0.0"

func main() {
    if err := run(); err != nil {
        fmt.Fprintln(os.Stderr, "price-relay:", err)
        os.Exit(1)
    }
}

func run() error {
    cfg, err := config.Load("")
    if err != nil {
        return err
    }
    log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
    if err != nil {
        return err
    }
    defer func() { _ = log.Sync() }()

    shutdownTracing, err := telemetry.Init(cfg.Tracing.Enabled, "price-relay", version, os.Stdout)
    if err != nil {
        return fmt.Errorf("tracing: %w", err)
    }

    app, err := build(cfg, log)
    if err != nil {
        return err
    }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        log.Info("server listening",
            zap.String("addr", app.server.Addr),
            zap.String("upstream", cfg.Upstream.BaseURL),
            zap.String("mode", cfg.Upstream.Mode),
        )
        if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return fmt.Errorf("server: %w", err)
        }
        return nil
    })
    g.Go(func() error {
        <-gctx.Done()
        log.Info("shutting down", zap.Int("sessions", app.sessions.Active()))
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        // Streams never finish on their own, so they are closed before the
        // server waits for in-flight requests.
        if err := app.sessions.Shutdown(shutdownCtx); err != nil {
            log.Warn("session shutdown", zap.Error(err))
        }
        if err := app.server.Shutdown(shutdownCtx); err != nil {
            log.Warn("server shutdown", zap.Error(err))
        }
        if err := shutdownTracing(shutdownCtx); err != nil {
            log.Warn("tracing shutdown", zap.Error(err))
        }
        return nil
    })
    return g.Wait()
}

type app struct {
    server   *http.Server
    sessions *session.Manager
    cache    *cache.Cache
}

// build wires the relay from cfg: upstream client, optional rate limit,
// shared cache, session manager and HTTP service.
func build(cfg config.Config, log *zap.Logger) (*app, error) {
    mode, err := upstream.ParseMode(cfg.Upstream.Mode)
    if err != nil {
        return nil, err
    }
    client, err := upstream.NewClient(
        upstream.WithBaseURL(cfg.Upstream.BaseURL),
        upstream.WithHTTPClient(httpx.New(cfg.Upstream.RequestTimeout()+time.Second)),
        upstream.WithMode(mode),
        upstream.WithTimeout(cfg.Upstream.RequestTimeout()),
        upstream.WithRetry(cfg.Upstream.MaxRetries, cfg.Upstream.RetryDelay()),
        upstream.WithLogger(log.Named("upstream")),
    )
    if err != nil {
        return nil, fmt.Errorf("upstream: %w", err)
    }
    fetcher := ratelimit.Wrap(client, cfg.Upstream.MaxRequestsPerMinute, cfg.Upstream.Burst, cfg.Upstream.MinInterval())

    c := cache.New(cfg.Cache.TTL(), cfg.Cache.MaxSize)
    fetch := func(ctx context.Context, set symbols.Set) *provider.FetchResult {
        return c.GetOrFetch(ctx, set, fetcher.Fetch)
    }

    sessions := session.NewManager(fetch,
        session.WithUpdateInterval(cfg.Stream.UpdateInterval()),
        session.WithHeartbeatInterval(cfg.Stream.HeartbeatInterval()),
        session.WithLogger(log.Named("session")),
    )
    svc := relay.New(fetch, c, sessions, relay.Settings{
        MaxSymbols:        cfg.Stream.MaxSymbols,
        UpdateInterval:    cfg.Stream.UpdateInterval(),
        HeartbeatInterval: cfg.Stream.HeartbeatInterval(),
        WriteTimeout:      session.DefaultWriteTimeout,
        RequestTimeout:    cfg.Upstream.RequestTimeout(),
        MaxRetries:        cfg.Upstream.MaxRetries,
        RetryDelay:        cfg.Upstream.RetryDelay(),
        UpstreamMode:      string(client.Mode()),
    }, log.Named("http"))

    // No WriteTimeout: streams stay open indefinitely and bound each write
    // themselves.
    srv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           svc.Handler(),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        IdleTimeout:       60 * time.Second,
    }
    return &app{server: srv, sessions: sessions, cache: c}, nil
}
