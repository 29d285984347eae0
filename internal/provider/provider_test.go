package provider

import (
    "encoding/json"
    "errors"
    "testing"

    "github.com/stretchr/testify/require"

    "pricerelay/internal/symbols"
)

func TestFailed_HoldsInvariants(t *testing.T) {
    set := symbols.New("A", "B", "C")
    res := Failed(set, errors.New("boom"))

    require.False(t, res.Success)
    require.Empty(t, res.Prices)
    require.Equal(t, "boom", res.Error)
    require.Equal(t, Stats{Requested: 3, Succeeded: 0, Failed: 3}, res.Stats)
    require.False(t, res.Timestamp.IsZero())
}

func TestFailed_NilError(t *testing.T) {
    res := Failed(symbols.New("A"), nil)
    require.NotEmpty(t, res.Error)
}

func TestPartial_SplitsPricesAndErrors(t *testing.T) {
    set := symbols.New("A", "B", "C")
    prices := map[string]PriceRecord{
        "A": json.RawMessage(`{"price":1}`),
        "C": json.RawMessage(`null`),
        "X": json.RawMessage(`{"price":9}`),
    }
    errs := map[string]string{"B": "unknown symbol"}

    res := Partial(set, prices, errs)

    require.True(t, res.Success)
    require.Len(t, res.Prices, 1)
    require.JSONEq(t, `{"price":1}`, string(res.Prices["A"]))
    require.Equal(t, map[string]string{"B": "unknown symbol", "C": "no data returned"}, res.Errors)
    require.Equal(t, Stats{Requested: 3, Succeeded: 1, Failed: 2}, res.Stats)
    require.Empty(t, res.Error)
}

func TestPartial_NothingPricedIsFailure(t *testing.T) {
    res := Partial(symbols.New("A"), nil, map[string]string{"A": "delisted"})

    require.False(t, res.Success)
    require.Empty(t, res.Prices)
    require.NotEmpty(t, res.Error)
    require.Equal(t, "delisted", res.Errors["A"])
    require.Equal(t, res.Stats.Requested, res.Stats.Succeeded+res.Stats.Failed)
}

func TestFetchResult_JSONShape(t *testing.T) {
    res := Partial(symbols.New("A"), map[string]PriceRecord{"A": json.RawMessage(`{"price":1}`)}, nil)
    b, err := json.Marshal(res)
    require.NoError(t, err)

    var m map[string]any
    require.NoError(t, json.Unmarshal(b, &m))
    for _, k := range []string{"success", "prices", "errors", "timestamp", "stats"} {
        require.Contains(t, m, k)
    }
    require.NotContains(t, m, "error")
}
