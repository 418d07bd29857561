package shape

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/taskmem/internal/apperr"
)

func f(v float64) *float64 { return &v }

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ModeDetails, false},
		{"summary", ModeSummary, false},
		{"DETAILS", ModeDetails, false},
		{" Summary ", ModeSummary, false},
		{"full", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input, ModeDetails)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperr.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaginatorParse(t *testing.T) {
	p := Paginator{DefaultLimit: 50, MaxLimit: 1000}

	w, err := p.Parse(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Window{Limit: 50, Offset: 0}, w)

	w, err = p.Parse(f(1000), f(20))
	require.NoError(t, err)
	assert.Equal(t, Window{Limit: 1000, Offset: 20}, w)

	for _, bad := range []struct {
		limit, offset *float64
		field         string
	}{
		{f(0), nil, "limit"},
		{f(1001), nil, "limit"},
		{f(2.5), nil, "limit"},
		{nil, f(-1), "offset"},
		{nil, f(0.5), "offset"},
	} {
		_, err := p.Parse(bad.limit, bad.offset)
		require.Error(t, err)
		var ae *apperr.Error
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, apperr.CodePagination, ae.Code)
		assert.Equal(t, bad.field, ae.Details["field"])
	}
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope([]any{1, 2}, 5, Window{Limit: 2, Offset: 0}, ModeSummary)
	assert.Equal(t, 5, env.TotalCount)
	assert.Equal(t, 2, env.ReturnedCount)
	assert.True(t, env.HasMore)

	env = NewEnvelope(nil, 5, Window{Limit: 2, Offset: 4}, ModeSummary)
	assert.Equal(t, 0, env.ReturnedCount)
	assert.NotNil(t, env.Items)
	assert.False(t, env.HasMore)
}

func TestProject(t *testing.T) {
	type row struct{ ID, Body string }
	items := []row{{"1", "long"}, {"2", "longer"}}

	sum := Project(items, ModeSummary, func(r row) string { return r.ID })
	assert.Equal(t, []any{"1", "2"}, sum)

	full := Project(items, ModeDetails, func(r row) string { return r.ID })
	assert.Equal(t, items[0], full[0])
}

func TestHeuristicEstimator(t *testing.T) {
	h := HeuristicEstimator{CharsPerToken: 4}
	assert.Equal(t, 0, h.EstimateText(""))
	assert.Equal(t, 1, h.EstimateText("abc"))
	assert.Equal(t, 1, h.EstimateText("abcd"))
	assert.Equal(t, 2, h.EstimateText("abcde"))

	assert.Equal(t, 3, HeuristicEstimator{}.EstimateText("abcdefghij"))
}

func TestEstimatePayload_CountsStringValuesOnly(t *testing.T) {
	h := HeuristicEstimator{CharsPerToken: 4}
	payload := map[string]any{
		"a_very_long_key_that_is_not_counted": 123456789,
		"title":                               "abcdefgh",
		"nested":                              []any{"abcd", map[string]any{"x": "abcd", "n": true}},
	}
	n, err := EstimatePayload(h, payload)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	type tagged struct {
		Shown  string `json:"shown"`
		Hidden string `json:"-"`
	}
	n, err = EstimatePayload(h, tagged{Shown: "abcd", Hidden: strings.Repeat("x", 400)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewEstimator(t *testing.T) {
	e, err := NewEstimator("", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, e.EstimateText("abcd"))

	e, err = NewEstimator("tiktoken", 4)
	require.NoError(t, err)
	tk, ok := e.(*TiktokenEstimator)
	require.True(t, ok)
	assert.Equal(t, 4, tk.Fallback.CharsPerToken)

	_, err = NewEstimator("magic", 4)
	assert.Error(t, err)
}

func TestBudgetCheck(t *testing.T) {
	b := Budget{Estimator: HeuristicEstimator{CharsPerToken: 4}, WarnThreshold: 10, MaxTokens: 20}

	r, err := b.Check(map[string]string{"s": strings.Repeat("x", 40)})
	require.NoError(t, err)
	assert.Equal(t, 10, r.EstimatedTokens)
	assert.Empty(t, r.Warning)

	r, err = b.Check(map[string]string{"s": strings.Repeat("x", 44)})
	require.NoError(t, err)
	assert.Equal(t, 11, r.EstimatedTokens)
	assert.Contains(t, r.Warning, "large response")

	_, err = b.Check(map[string]string{"s": strings.Repeat("x", 84)})
	require.Error(t, err)
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, apperr.CodeResponseTooLarge, ae.Code)
	assert.Equal(t, 21, ae.Details["estimated_tokens"])
	assert.Equal(t, 20, ae.Details["max_tokens"])
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "25,000", formatNumber(25000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
}
