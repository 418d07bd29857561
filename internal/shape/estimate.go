package shape

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator approximates the token cost of a piece of text.
type Estimator interface {
	EstimateText(s string) int
}

// DefaultCharsPerToken approximates sub-word tokenization for English and
// code.
const DefaultCharsPerToken = 4

// HeuristicEstimator divides string length by a constant, rounding up.
type HeuristicEstimator struct {
	CharsPerToken int
}

func (h HeuristicEstimator) EstimateText(s string) int {
	k := h.CharsPerToken
	if k <= 0 {
		k = DefaultCharsPerToken
	}
	n := len(s)
	return (n + k - 1) / k
}

// TiktokenEstimator counts tokens with the cl100k_base encoding, falling
// back to the heuristic when the encoding cannot be loaded.
type TiktokenEstimator struct {
	Fallback HeuristicEstimator

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func (t *TiktokenEstimator) EstimateText(s string) int {
	t.once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			t.enc = enc
		}
	})
	if t.enc == nil {
		return t.Fallback.EstimateText(s)
	}
	return len(t.enc.Encode(s, nil, nil))
}

// NewEstimator returns the estimator named by kind ("heuristic" or
// "tiktoken").
func NewEstimator(kind string, charsPerToken int) (Estimator, error) {
	h := HeuristicEstimator{CharsPerToken: charsPerToken}
	switch kind {
	case "", "heuristic":
		return h, nil
	case "tiktoken":
		return &TiktokenEstimator{Fallback: h}, nil
	default:
		return nil, fmt.Errorf("unknown token estimator %q", kind)
	}
}

// EstimatePayload sums the estimates of every string value in v, walking
// objects and arrays recursively. Keys, numbers and punctuation are not
// counted. v is first normalized through JSON so struct tags decide what
// is visible.
func EstimatePayload(est Estimator, v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encoding payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return 0, fmt.Errorf("decoding payload: %w", err)
	}
	return sumStrings(est, generic), nil
}

func sumStrings(est Estimator, v any) int {
	switch x := v.(type) {
	case string:
		return est.EstimateText(x)
	case []any:
		total := 0
		for _, e := range x {
			total += sumStrings(est, e)
		}
		return total
	case map[string]any:
		total := 0
		for _, e := range x {
			total += sumStrings(est, e)
		}
		return total
	default:
		return 0
	}
}
