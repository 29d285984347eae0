package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
    t.Chdir(t.TempDir())
    t.Setenv("CONFIG_FILE", "")

    cfg, err := Load("")

    require.NoError(t, err)
    require.Equal(t, Default(), cfg)
    require.Equal(t, 25*time.Second, cfg.Upstream.RequestTimeout())
    require.Equal(t, 2*time.Second, cfg.Upstream.RetryDelay())
    require.Equal(t, 10*time.Second, cfg.Stream.UpdateInterval())
    require.Equal(t, 30*time.Second, cfg.Stream.HeartbeatInterval())
    require.Equal(t, 8*time.Second, cfg.Cache.TTL())
}

func TestLoad_EnvOverrides(t *testing.T) {
    t.Chdir(t.TempDir())
    t.Setenv("PORT", "9000")
    t.Setenv("UPSTREAM_MODE", "PER_SYMBOL")
    t.Setenv("MAX_RETRIES", "0")
    t.Setenv("UPDATE_INTERVAL_MS", "500")
    t.Setenv("CACHE_MAX_SIZE", "7")
    t.Setenv("TRACING_ENABLED", "true")

    cfg, err := Load("")

    require.NoError(t, err)
    require.Equal(t, "9000", cfg.Server.Port)
    require.Equal(t, "per_symbol", cfg.Upstream.Mode)
    require.Equal(t, 0, cfg.Upstream.MaxRetries)
    require.Equal(t, 500*time.Millisecond, cfg.Stream.UpdateInterval())
    require.Equal(t, 7, cfg.Cache.MaxSize)
    require.True(t, cfg.Tracing.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
    dir := t.TempDir()
    t.Chdir(dir)
    path := filepath.Join(dir, "relay.yaml")
    require.NoError(t, os.WriteFile(path, []byte("upstream:\n  base_url: http://file.example/api\n  max_retries: 4\nstream:\n  max_symbols: 3\n"), 0o600))
    t.Setenv("MAX_SYMBOLS", "5")

    cfg, err := Load(path)

    require.NoError(t, err)
    require.Equal(t, "http://file.example/api", cfg.Upstream.BaseURL)
    require.Equal(t, 4, cfg.Upstream.MaxRetries)
    require.Equal(t, 5, cfg.Stream.MaxSymbols, "environment wins over the file")
}

func TestLoad_DotEnv(t *testing.T) {
    dir := t.TempDir()
    t.Chdir(dir)
    require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CACHE_TTL_MS=1234\n"), 0o600))
    t.Cleanup(func() { os.Unsetenv("CACHE_TTL_MS") })

    cfg, err := Load("")

    require.NoError(t, err)
    require.Equal(t, 1234, cfg.Cache.TTLMS)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
    t.Chdir(t.TempDir())

    cfg, err := Load("does-not-exist.json")

    require.NoError(t, err)
    require.Equal(t, "5001", cfg.Server.Port)
}

func TestLoad_Invalid(t *testing.T) {
    tests := []struct {
        env, value string
    }{
        {"UPSTREAM_MODE", "stream"},
        {"REQUEST_TIMEOUT_MS", "0"},
        {"MAX_RETRIES", "-1"},
        {"UPDATE_INTERVAL_MS", "-5"},
        {"HEARTBEAT_INTERVAL_MS", "0"},
        {"MAX_SYMBOLS", "0"},
        {"CACHE_TTL_MS", "0"},
        {"CACHE_MAX_SIZE", "0"},
    }
    for _, tt := range tests {
        t.Run(tt.env, func(t *testing.T) {
            t.Chdir(t.TempDir())
            t.Setenv(tt.env, tt.value)

            _, err := Load("")

            require.Error(t, err)
            require.Contains(t, err.Error(), tt.env)
        })
    }
}
