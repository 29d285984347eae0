package symbols

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_CanonicalKeyIgnoresOrderCaseWhitespaceAndDuplicates(t *testing.T) {
	t.Parallel()

	inputs := [][]string{
		{"ACB", "FPT", "VCB"},
		{"vcb", "acb", "fpt"},
		{" fpt ", "ACB", "Vcb", "acb"},
		{"VCB", "", "FPT", " ", "ACB", "FPT"},
	}
	want := "ACB,FPT,VCB"
	for _, in := range inputs {
		require.Equal(t, want, New(in...).Key(), "input %q", in)
	}
}

func TestFromCSV(t *testing.T) {
	t.Parallel()

	set := FromCSV("fpt, acb,,VCB ,acb")
	require.Equal(t, 3, set.Len())
	require.Equal(t, []string{"ACB", "FPT", "VCB"}, set.Symbols())
	require.Equal(t, FromCSV("VCB,FPT,ACB").Key(), set.Key())
}

func TestSymbols_ReturnsCopy(t *testing.T) {
	t.Parallel()

	set := New("B", "A")
	got := set.Symbols()
	got[0] = "Z"
	require.Equal(t, "A,B", set.Key())
}

func TestParse(t *testing.T) {
	t.Parallel()

	eleven := make([]string, 11)
	for i := range eleven {
		eleven[i] = string(rune('A' + i))
	}
	ten := eleven[:10]

	tests := []struct {
		name    string
		csv     string
		max     int
		wantErr bool
		wantKey string
	}{
		{name: "empty", csv: "", max: 10, wantErr: true},
		{name: "only separators", csv: " , ,", max: 10, wantErr: true},
		{name: "eleven over max ten", csv: strings.Join(eleven, ","), max: 10, wantErr: true},
		{name: "ten at max", csv: strings.Join(ten, ","), max: 10, wantKey: strings.Join(ten, ",")},
		{name: "duplicates collapse under max", csv: "a,A,a,b", max: 2, wantKey: "A,B"},
		{name: "no upper bound", csv: strings.Join(eleven, ","), max: 0, wantKey: strings.Join(eleven, ",")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Parse(tt.csv, tt.max)
			if tt.wantErr {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
				require.Zero(t, set.Len())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantKey, set.Key())
		})
	}
}
