package config

import (
    "errors"
    "fmt"
    "io/fs"
    "os"
    "strings"
    "time"

    "github.com/joho/godotenv"
    "github.com/spf13/viper"
)

type Server struct {
    Port string `mapstructure:"port" json:"port"`
}

type Upstream struct {
    BaseURL              string `mapstructure:"base_url" json:"baseUrl"`
    Mode                 string `mapstructure:"mode" json:"mode"`
    RequestTimeoutMS     int    `mapstructure:"request_timeout_ms" json:"requestTimeoutMs"`
    MaxRetries           int    `mapstructure:"max_retries" json:"maxRetries"`
    RetryDelayMS         int    `mapstructure:"retry_delay_ms" json:"retryDelayMs"`
    MaxRequestsPerMinute int    `mapstructure:"max_rpm" json:"maxRequestsPerMinute"`
    Burst                int    `mapstructure:"burst" json:"burst"`
    MinIntervalMS        int    `mapstructure:"min_interval_ms" json:"minIntervalMs"`
}

func (u Upstream) RequestTimeout() time.Duration { return ms(u.RequestTimeoutMS) }
func (u Upstream) RetryDelay() time.Duration     { return ms(u.RetryDelayMS) }
func (u Upstream) MinInterval() time.Duration    { return ms(u.MinIntervalMS) }

type Stream struct {
    UpdateIntervalMS    int `mapstructure:"update_interval_ms" json:"updateIntervalMs"`
    HeartbeatIntervalMS int `mapstructure:"heartbeat_interval_ms" json:"heartbeatIntervalMs"`
    MaxSymbols          int `mapstructure:"max_symbols" json:"maxSymbols"`
}

func (s Stream) UpdateInterval() time.Duration    { return ms(s.UpdateIntervalMS) }
func (s Stream) HeartbeatInterval() time.Duration { return ms(s.HeartbeatIntervalMS) }

type Cache struct {
    TTLMS   int `mapstructure:"ttl_ms" json:"ttlMs"`
    MaxSize int `mapstructure:"max_size" json:"maxSize"`
}

func (c Cache) TTL() time.Duration { return ms(c.TTLMS) }

type Log struct {
    Level  string `mapstructure:"level" json:"level"`
    Format string `mapstructure:"format" json:"format"`
}

type Tracing struct {
    Enabled bool `mapstructure:"enabled" json:"enabled"`
}

type Config struct {
    Server   Server   `mapstructure:"server" json:"server"`
    Upstream Upstream `mapstructure:"upstream" json:"upstream"`
    Stream   Stream   `mapstructure:"stream" json:"stream"`
    Cache    Cache    `mapstructure:"cache" json:"cache"`
    Log      Log      `mapstructure:"log" json:"log"`
    Tracing  Tracing  `mapstructure:"tracing" json:"tracing"`
}

func Default() Config {
    return Config{
        Server: Server{Port: "5001"},
        Upstream: Upstream{
            BaseURL:          "https://vn-stock-api-bsjj.onrender.com/api/stocks",
            Mode:             "batch",
            RequestTimeoutMS: 25000,
            MaxRetries:       2,
            RetryDelayMS:     2000,
            Burst:            1,
        },
        Stream: Stream{
            UpdateIntervalMS:    10000,
            HeartbeatIntervalMS: 30000,
            MaxSymbols:          10,
        },
        Cache: Cache{TTLMS: 8000, MaxSize: 50},
        Log:   Log{Level: "info", Format: "json"},
    }
}

// envKeys maps config keys to the flat environment names the service has
// always been deployed with.
var envKeys = map[string]string{
    "server.port":                  "PORT",
    "upstream.base_url":            "UPSTREAM_BASE_URL",
    "upstream.mode":                "UPSTREAM_MODE",
    "upstream.request_timeout_ms":  "REQUEST_TIMEOUT_MS",
    "upstream.max_retries":         "MAX_RETRIES",
    "upstream.retry_delay_ms":      "RETRY_DELAY_MS",
    "upstream.max_rpm":             "UPSTREAM_MAX_RPM",
    "upstream.burst":               "UPSTREAM_BURST",
    "upstream.min_interval_ms":     "UPSTREAM_MIN_INTERVAL_MS",
    "stream.update_interval_ms":    "UPDATE_INTERVAL_MS",
    "stream.heartbeat_interval_ms": "HEARTBEAT_INTERVAL_MS",
    "stream.max_symbols":           "MAX_SYMBOLS",
    "cache.ttl_ms":                 "CACHE_TTL_MS",
    "cache.max_size":               "CACHE_MAX_SIZE",
    "log.level":                    "LOG_LEVEL",
    "log.format":                   "LOG_FORMAT",
    "tracing.enabled":              "TRACING_ENABLED",
}

// Load builds the configuration from defaults, an optional config file
// (JSON, YAML or TOML by extension) and the environment, in increasing
// precedence. A .env file in the working directory is loaded into the
// environment first. If path is empty, CONFIG_FILE is consulted, then
// config.json if it exists. A missing file is not an error.
func Load(path string) (Config, error) {
    if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
        return Config{}, fmt.Errorf("load .env: %w", err)
    }

    v := viper.New()
    setDefaults(v, Default())
    for key, env := range envKeys {
        if err := v.BindEnv(key, env); err != nil {
            return Config{}, fmt.Errorf("bind %s: %w", env, err)
        }
    }

    if path == "" {
        path = os.Getenv("CONFIG_FILE")
    }
    if path == "" {
        if _, err := os.Stat("config.json"); err == nil {
            path = "config.json"
        }
    }
    if path != "" {
        v.SetConfigFile(path)
        if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
            return Config{}, fmt.Errorf("read config: %w", err)
        }
    }

    var cfg Config
    if err := v.Unmarshal(&cfg); err != nil {
        return Config{}, fmt.Errorf("parse config: %w", err)
    }
    cfg.Upstream.Mode = strings.ToLower(strings.TrimSpace(cfg.Upstream.Mode))
    if err := cfg.Validate(); err != nil {
        return Config{}, err
    }
    return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
    v.SetDefault("server.port", d.Server.Port)
    v.SetDefault("upstream.base_url", d.Upstream.BaseURL)
    v.SetDefault("upstream.mode", d.Upstream.Mode)
    v.SetDefault("upstream.request_timeout_ms", d.Upstream.RequestTimeoutMS)
    v.SetDefault("upstream.max_retries", d.Upstream.MaxRetries)
    v.SetDefault("upstream.retry_delay_ms", d.Upstream.RetryDelayMS)
    v.SetDefault("upstream.max_rpm", d.Upstream.MaxRequestsPerMinute)
    v.SetDefault("upstream.burst", d.Upstream.Burst)
    v.SetDefault("upstream.min_interval_ms", d.Upstream.MinIntervalMS)
    v.SetDefault("stream.update_interval_ms", d.Stream.UpdateIntervalMS)
    v.SetDefault("stream.heartbeat_interval_ms", d.Stream.HeartbeatIntervalMS)
    v.SetDefault("stream.max_symbols", d.Stream.MaxSymbols)
    v.SetDefault("cache.ttl_ms", d.Cache.TTLMS)
    v.SetDefault("cache.max_size", d.Cache.MaxSize)
    v.SetDefault("log.level", d.Log.Level)
    v.SetDefault("log.format", d.Log.Format)
    v.SetDefault("tracing.enabled", d.Tracing.Enabled)
}

// Validate reports the first setting that would leave the relay unable to
// run.
func (c Config) Validate() error {
    switch {
    case c.Server.Port == "":
        return errors.New("config: PORT must not be empty")
    case c.Upstream.BaseURL == "":
        return errors.New("config: UPSTREAM_BASE_URL must not be empty")
    case c.Upstream.Mode != "batch" && c.Upstream.Mode != "per_symbol":
        return fmt.Errorf("config: UPSTREAM_MODE %q: want batch or per_symbol", c.Upstream.Mode)
    case c.Upstream.RequestTimeoutMS <= 0:
        return fmt.Errorf("config: REQUEST_TIMEOUT_MS must be positive, got %d", c.Upstream.RequestTimeoutMS)
    case c.Upstream.MaxRetries < 0:
        return fmt.Errorf("config: MAX_RETRIES must not be negative, got %d", c.Upstream.MaxRetries)
    case c.Upstream.RetryDelayMS < 0:
        return fmt.Errorf("config: RETRY_DELAY_MS must not be negative, got %d", c.Upstream.RetryDelayMS)
    case c.Upstream.MaxRequestsPerMinute < 0 || c.Upstream.MinIntervalMS < 0:
        return errors.New("config: upstream rate limits must not be negative")
    case c.Stream.UpdateIntervalMS <= 0:
        return fmt.Errorf("config: UPDATE_INTERVAL_MS must be positive, got %d", c.Stream.UpdateIntervalMS)
    case c.Stream.HeartbeatIntervalMS <= 0:
        return fmt.Errorf("config: HEARTBEAT_INTERVAL_MS must be positive, got %d", c.Stream.HeartbeatIntervalMS)
    case c.Stream.MaxSymbols <= 0:
        return fmt.Errorf("config: MAX_SYMBOLS must be positive, got %d", c.Stream.MaxSymbols)
    case c.Cache.TTLMS <= 0:
        return fmt.Errorf("config: CACHE_TTL_MS must be positive, got %d", c.Cache.TTLMS)
    case c.Cache.MaxSize <= 0:
        return fmt.Errorf("config: CACHE_MAX_SIZE must be positive, got %d", c.Cache.MaxSize)
    }
    return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
