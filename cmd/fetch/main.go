// Command fetch performs one upstream fetch and prints the result, for
// checking connectivity and response shapes without running the server.
package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "io"
    "os"
    "time"

    "go.uber.org/zap"

    "pricerelay/internal/config"
    "pricerelay/internal/httpx"
    "pricerelay/internal/logger"
    "pricerelay/internal/provider/ratelimit"
    "pricerelay/internal/provider/upstream"
    "pricerelay/internal/symbols"
)

func main() {
    os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code: 0 on a successful fetch, 1 when the
// result is a failure, 2 on bad usage.
func run(args []string, stdout, stderr io.Writer) int {
    fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
    fs.SetOutput(stderr)
    symbolsCSV := fs.String("symbols", getenv("SYMBOLS", "ACB,FPT"), "comma-separated ticker symbols")
    mode := fs.String("mode", "", "upstream mode: batch or per_symbol (default from config)")
    timeout := fs.Duration("timeout", 0, "per-attempt timeout (default from config)")
    retries := fs.Int("retries", -1, "retries after the first attempt (default from config)")
    configPath := fs.String("config", getenv("CONFIG_FILE", ""), "optional config file")
    if err := fs.Parse(args); err != nil {
        return 2
    }

    cfg, err := config.Load(*configPath)
    if err != nil {
        fmt.Fprintln(stderr, "config:", err)
        return 2
    }
    if *mode != "" {
        cfg.Upstream.Mode = *mode
    }
    if *timeout > 0 {
        cfg.Upstream.RequestTimeoutMS = int(timeout.Milliseconds())
    }
    if *retries >= 0 {
        cfg.Upstream.MaxRetries = *retries
    }

    set, err := symbols.Parse(*symbolsCSV, cfg.Stream.MaxSymbols)
    if err != nil {
        fmt.Fprintln(stderr, err)
        return 2
    }

    log, err := logger.New(cfg.Log.Level, "console")
    if err != nil {
        fmt.Fprintln(stderr, err)
        return 2
    }
    defer func() { _ = log.Sync() }()

    m, err := upstream.ParseMode(cfg.Upstream.Mode)
    if err != nil {
        fmt.Fprintln(stderr, err)
        return 2
    }
    client, err := upstream.NewClient(
        upstream.WithBaseURL(cfg.Upstream.BaseURL),
        upstream.WithHTTPClient(httpx.New(cfg.Upstream.RequestTimeout()+time.Second)),
        upstream.WithMode(m),
        upstream.WithTimeout(cfg.Upstream.RequestTimeout()),
        upstream.WithRetry(cfg.Upstream.MaxRetries, cfg.Upstream.RetryDelay()),
        upstream.WithLogger(log),
    )
    if err != nil {
        fmt.Fprintln(stderr, "upstream:", err)
        return 2
    }
    fetcher := ratelimit.Wrap(client, cfg.Upstream.MaxRequestsPerMinute, cfg.Upstream.Burst, cfg.Upstream.MinInterval())

    start := time.Now()
    res := fetcher.Fetch(context.Background(), set)
    log.Info("fetched",
        zap.String("symbols", set.Key()),
        zap.Bool("success", res.Success),
        zap.Duration("took", time.Since(start)),
    )

    b, _ := json.MarshalIndent(res, "", "  ")
    fmt.Fprintln(stdout, string(b))
    if !res.Success {
        return 1
    }
    return 0
}

func getenv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}
