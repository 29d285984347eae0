package upstream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode_Shapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantPrices []string
		wantErrs   map[string]string
	}{
		{
			name:       "envelope with data map and errors map",
			body:       `{"success":true,"data":{"acb":{"price":25.1},"FPT":{"price":120}},"errors":{"XYZ":"not found"},"total_requested":3,"successful":2,"failed":1}`,
			wantPrices: []string{"ACB", "FPT"},
			wantErrs:   map[string]string{"XYZ": "not found"},
		},
		{
			name:       "envelope with data list and errors list",
			body:       `{"success":true,"data":[{"symbol":"ACB","price":25.1},{"price":1}],"errors":[{"symbol":"b","error":"timeout"},{"symbol":"C","message":"halted"}]}`,
			wantPrices: []string{"ACB"},
			wantErrs:   map[string]string{"B": "timeout", "C": "halted"},
		},
		{
			name:       "envelope with null data",
			body:       `{"success":true,"data":null,"errors":{"A":{"code":404}}}`,
			wantPrices: nil,
			wantErrs:   map[string]string{"A": `{"code":404}`},
		},
		{
			name:       "bare per-symbol map",
			body:       `{"ACB":{"price":25.1}," vcb ":{"price":90},"NUL":null}`,
			wantPrices: []string{"ACB", "VCB"},
			wantErrs:   map[string]string{},
		},
		{
			name:       "refusal naming failing symbols",
			body:       `{"success":false,"data":{},"errors":{"FOO":"symbol not found","bar":"symbol not found"}}`,
			wantPrices: nil,
			wantErrs:   map[string]string{"FOO": "symbol not found", "BAR": "symbol not found"},
		},
		{
			name:       "string error list is ignored",
			body:       `{"success":true,"data":{"A":{"price":1}},"errors":["something went wrong"]}`,
			wantPrices: []string{"A"},
			wantErrs:   map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices, errs, err := decode([]byte(tt.body))
			require.NoError(t, err)
			require.Len(t, prices, len(tt.wantPrices))
			for _, sym := range tt.wantPrices {
				require.Contains(t, prices, sym)
			}
			require.Equal(t, tt.wantErrs, errs)
		})
	}
}

func TestDecode_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		malformed bool
	}{
		{name: "not json", body: `<html>bad gateway</html>`, malformed: true},
		{name: "json null", body: `null`, malformed: true},
		{name: "json array top level", body: `[1,2]`, malformed: true},
		{name: "data is a string", body: `{"success":true,"data":"nope"}`, malformed: true},
		{name: "provider reported failure", body: `{"success":false,"data":{},"error":"upstream exchange closed"}`},
		{name: "provider reported failure without data", body: `{"success":false,"message":"maintenance"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decode([]byte(tt.body))
			require.Error(t, err)
			require.Equal(t, tt.malformed, errors.Is(err, ErrMalformedResponse), "err=%v", err)
		})
	}
}

func TestDecode_FailureMessage(t *testing.T) {
	t.Parallel()

	_, _, err := decode([]byte(`{"success":false,"message":"maintenance"}`))
	require.ErrorContains(t, err, "maintenance")
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"": ModeBatch, "BATCH": ModeBatch, "per_symbol": ModePerSymbol, "per-symbol": ModePerSymbol} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseMode("stream")
	require.Error(t, err)
}
