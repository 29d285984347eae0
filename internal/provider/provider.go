package provider

import (
    "context"
    "encoding/json"
    "time"

    "pricerelay/internal/symbols"
)

// PriceRecord is one symbol's record as the upstream provider returned it.
// The relay passes it through verbatim; it is not a source of truth.
type PriceRecord = json.RawMessage

// Stats counts the outcome per requested symbol.
type Stats struct {
    Requested int `json:"requested"`
    Succeeded int `json:"succeeded"`
    Failed    int `json:"failed"`
}

// FetchResult is the uniform envelope for one upstream fetch of a symbol set.
// Success == false implies Prices is empty and Error is set.
type FetchResult struct {
    Success   bool                   `json:"success"`
    Prices    map[string]PriceRecord `json:"prices"`
    Errors    map[string]string      `json:"errors"`
    Timestamp time.Time              `json:"timestamp"`
    Stats     Stats                  `json:"stats"`
    Error     string                 `json:"error,omitempty"`
}

// Fetcher produces a FetchResult for a symbol set. Implementations never
// return an error: failures are described inside the result.
type Fetcher interface {
    Name() string
    Fetch(ctx context.Context, set symbols.Set) *FetchResult
}

// FetchFunc adapts a plain function to the fetch step used by the cache.
type FetchFunc func(ctx context.Context, set symbols.Set) *FetchResult

// Failed builds a whole-set failure: no prices, every symbol counted as failed.
func Failed(set symbols.Set, err error) *FetchResult {
    msg := "unknown error"
    if err != nil {
        msg = err.Error()
    }
    return &FetchResult{
        Success:   false,
        Prices:    map[string]PriceRecord{},
        Errors:    map[string]string{},
        Timestamp: time.Now().UTC(),
        Stats:     Stats{Requested: set.Len(), Failed: set.Len()},
        Error:     msg,
    }
}

// Partial assembles a result from per-symbol outcomes. Symbols of set that
// appear in neither map are recorded as errors; symbols outside set are
// dropped. If nothing was priced the result is a failure carrying the
// per-symbol errors.
func Partial(set symbols.Set, prices map[string]PriceRecord, errs map[string]string) *FetchResult {
    res := &FetchResult{
        Prices:    make(map[string]PriceRecord, set.Len()),
        Errors:    make(map[string]string),
        Timestamp: time.Now().UTC(),
    }
    for _, sym := range set.Symbols() {
        if rec, ok := prices[sym]; ok && len(rec) > 0 && string(rec) != "null" {
            res.Prices[sym] = rec
            continue
        }
        if msg, ok := errs[sym]; ok && msg != "" {
            res.Errors[sym] = msg
        } else {
            res.Errors[sym] = "no data returned"
        }
    }
    res.Stats = Stats{Requested: set.Len(), Succeeded: len(res.Prices), Failed: len(res.Errors)}
    res.Success = len(res.Prices) > 0
    if !res.Success {
        res.Error = "no symbols could be priced"
    }
    return res
}
