package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pricerelay/internal/provider"
	"pricerelay/internal/symbols"
)

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 4 << 20

var (
	// ErrAllSymbolsFailed reports a per-symbol round in which no call succeeded.
	ErrAllSymbolsFailed = errors.New("all per-symbol calls failed")
	// ErrMalformedResponse reports a body that could not be adapted to a FetchResult.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// StatusError is a non-2xx reply from the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// Fetch retrieves prices for set. Whole-set failures (timeouts, transport
// errors, non-2xx replies, malformed bodies) are retried up to maxRetries
// times with a fixed delay; once exhausted the last failure is returned as a
// success=false result. Fetch never returns an error.
func (c *Client) Fetch(ctx context.Context, set symbols.Set) *provider.FetchResult {
	ctx, span := c.tracer.Start(ctx, "upstream.Fetch", trace.WithAttributes(
		attribute.String("symbols", set.Key()),
		attribute.String("mode", string(c.mode)),
	))
	defer span.End()

	if set.Len() == 0 {
		return provider.Failed(set, errors.New("empty symbol set"))
	}

	attempts := c.maxRetries + 1
	made := 0
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		res, err := c.fetchOnce(ctx, set)
		if err == nil {
			span.SetAttributes(
				attribute.Int("attempts", attempt),
				attribute.Bool("success", res.Success),
				attribute.Int("succeeded", res.Stats.Succeeded),
			)
			return res
		}
		lastErr = err
		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		))
		c.logger.Warn("upstream attempt failed",
			zap.String("symbols", set.Key()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		if err := wait(ctx, c.retryDelay); err != nil {
			// Caller gave up; keep the upstream failure as the reported cause.
			break
		}
	}

	span.SetAttributes(attribute.Int("attempts", made), attribute.Bool("success", false))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	c.logger.Error("upstream fetch failed", zap.String("symbols", set.Key()), zap.Error(lastErr))
	return provider.Failed(set, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, set symbols.Set) (*provider.FetchResult, error) {
	if c.mode == ModePerSymbol {
		return c.fetchEach(ctx, set)
	}
	prices, errs, err := c.call(ctx, set.Symbols())
	if err != nil {
		return nil, err
	}
	return provider.Partial(set, prices, errs), nil
}

// fetchEach calls the provider once per symbol, in order. A failing symbol
// is recorded and the rest continue; only a round where every call failed is
// a whole-set failure.
func (c *Client) fetchEach(ctx context.Context, set symbols.Set) (*provider.FetchResult, error) {
	prices := make(map[string]provider.PriceRecord, set.Len())
	errs := make(map[string]string)
	var failed int
	var lastErr error
	for _, sym := range set.Symbols() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, e, err := c.call(ctx, []string{sym})
		if err != nil {
			failed++
			lastErr = err
			errs[sym] = err.Error()
			continue
		}
		if rec, ok := p[sym]; ok {
			prices[sym] = rec
		} else if msg, ok := e[sym]; ok {
			errs[sym] = msg
		}
	}
	if failed == set.Len() {
		return nil, fmt.Errorf("%w: %w", ErrAllSymbolsFailed, lastErr)
	}
	return provider.Partial(set, prices, errs), nil
}

// call performs one timeout-bounded GET <base>/price?symbols=<csv>.
func (c *Client) call(ctx context.Context, syms []string) (map[string]provider.PriceRecord, map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	escaped := make([]string, len(syms))
	for i, s := range syms {
		escaped[i] = url.QueryEscape(s)
	}
	reqURL := fmt.Sprintf("%s/price?symbols=%s", c.baseURL, strings.Join(escaped, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, nil, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	return decode(body)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
