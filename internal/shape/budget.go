package shape

import (
	"fmt"

	"github.com/HendryAvila/taskmem/internal/apperr"
)

// Budget defaults, in estimated tokens.
const (
	DefaultWarnThreshold = 10000
	DefaultMaxTokens     = 25000
)

// Budget bounds the estimated size of a response.
type Budget struct {
	Estimator     Estimator
	WarnThreshold int
	MaxTokens     int
}

// DefaultBudget uses the heuristic estimator and default thresholds.
func DefaultBudget() Budget {
	return Budget{
		Estimator:     HeuristicEstimator{CharsPerToken: DefaultCharsPerToken},
		WarnThreshold: DefaultWarnThreshold,
		MaxTokens:     DefaultMaxTokens,
	}
}

// Report is the outcome of a budget check that passed.
type Report struct {
	EstimatedTokens int
	Warning         string
}

// Check estimates v and fails with RESPONSE_SIZE_EXCEEDED above MaxTokens.
// Above WarnThreshold it passes with a warning.
func (b Budget) Check(v any) (Report, error) {
	est := b.Estimator
	if est == nil {
		est = HeuristicEstimator{CharsPerToken: DefaultCharsPerToken}
	}
	n, err := EstimatePayload(est, v)
	if err != nil {
		return Report{}, apperr.Internal(err)
	}
	r := Report{EstimatedTokens: n}
	if b.MaxTokens > 0 && n > b.MaxTokens {
		return r, apperr.ResponseTooLarge(n, b.MaxTokens)
	}
	if b.WarnThreshold > 0 && n > b.WarnThreshold {
		r.Warning = fmt.Sprintf("large response: ~%s tokens (warning threshold %s); consider mode=summary or a smaller limit",
			formatNumber(n), formatNumber(b.WarnThreshold))
	}
	return r, nil
}

// formatNumber formats an integer with comma separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

// Annotate records a passing check on the envelope.
func (e *Envelope) Annotate(r Report) {
	e.EstimatedTokens = r.EstimatedTokens
	e.Warning = r.Warning
}
