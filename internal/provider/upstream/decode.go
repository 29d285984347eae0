package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"pricerelay/internal/provider"
)

// envelope is the provider's documented reply:
//
//	{"success": true, "data": {...}, "errors": {...},
//	 "total_requested": 2, "successful": 1, "failed": 1}
//
// Older deployments reply with a bare {"SYM": {...}} map instead.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Errors  json.RawMessage `json:"errors"`
	Error   json.RawMessage `json:"error"`
	Message json.RawMessage `json:"message"`
}

// decode adapts every observed reply shape to per-symbol prices and errors.
// Keys are normalized the same way symbol sets are.
func decode(body []byte) (map[string]provider.PriceRecord, map[string]string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if top == nil {
		return nil, nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	_, hasData := top["data"]
	_, hasSuccess := top["success"]
	if !hasData && !hasSuccess {
		return decodeBare(top), map[string]string{}, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	prices, err := decodeData(env.Data)
	if err != nil {
		return nil, nil, err
	}
	errs, err := decodeErrors(env.Errors)
	if err != nil {
		return nil, nil, err
	}
	// A refusal that names the failing symbols is an answer, not a fault.
	if env.Success != nil && !*env.Success && len(prices) == 0 && len(errs) == 0 {
		msg := firstNonEmpty(messageOf(env.Error), messageOf(env.Message), "no detail")
		return nil, nil, fmt.Errorf("provider reported failure: %s", msg)
	}
	return prices, errs, nil
}

func decodeBare(top map[string]json.RawMessage) map[string]provider.PriceRecord {
	out := make(map[string]provider.PriceRecord, len(top))
	for k, v := range top {
		if isNull(v) {
			continue
		}
		out[normalize(k)] = v
	}
	return out
}

func decodeData(raw json.RawMessage) (map[string]provider.PriceRecord, error) {
	out := map[string]provider.PriceRecord{}
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return out, nil
	}
	switch raw[0] {
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: data: %w", ErrMalformedResponse, err)
		}
		return decodeBare(m), nil
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: data: %w", ErrMalformedResponse, err)
		}
		for _, item := range list {
			var rec struct {
				Symbol string `json:"symbol"`
			}
			if err := json.Unmarshal(item, &rec); err != nil || strings.TrimSpace(rec.Symbol) == "" {
				continue
			}
			out[normalize(rec.Symbol)] = item
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: data is neither object nor array", ErrMalformedResponse)
}

func decodeErrors(raw json.RawMessage) (map[string]string, error) {
	out := map[string]string{}
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return out, nil
	}
	switch raw[0] {
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: errors: %w", ErrMalformedResponse, err)
		}
		for k, v := range m {
			out[normalize(k)] = firstNonEmpty(messageOf(v), "unavailable")
		}
	case '[':
		var list []struct {
			Symbol  string          `json:"symbol"`
			Error   json.RawMessage `json:"error"`
			Message json.RawMessage `json:"message"`
		}
		// Lists of bare strings carry no symbol and are ignored.
		if err := json.Unmarshal(raw, &list); err != nil {
			return out, nil
		}
		for _, e := range list {
			if strings.TrimSpace(e.Symbol) == "" {
				continue
			}
			out[normalize(e.Symbol)] = firstNonEmpty(messageOf(e.Error), messageOf(e.Message), "unavailable")
		}
	}
	return out, nil
}

// messageOf renders a JSON string as its value and anything else as raw JSON.
func messageOf(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func normalize(sym string) string { return strings.ToUpper(strings.TrimSpace(sym)) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
