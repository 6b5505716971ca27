package models

import (
	"fmt"
	"math"
)

// Similarity scores are cosine similarities of L2-normalized vectors and always lie
// in [MinSimilarity, MaxSimilarity]. Threshold values are compared in the same range.
const (
	MinSimilarity = -1.0
	MaxSimilarity = 1.0

	// MaxK caps how many results a single query may request.
	MaxK = 100
)

// ValidationError reports a rejected query parameter. It is always recoverable by
// the caller and never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SearchQuery carries the caller-supplied parameters of a similarity search.
// K == 0 and Threshold == nil mean "use the configured default"; out-of-range
// values are rejected, never clamped.
type SearchQuery struct {
	K         int      `json:"k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Validate checks parameter bounds. K must be 0 (default) or within [1, MaxK];
// Threshold, when set, must be a real number within [MinSimilarity, MaxSimilarity].
func (q *SearchQuery) Validate() error {
	if q.K < 0 || q.K > MaxK {
		return &ValidationError{Field: "k", Reason: fmt.Sprintf("must be between 1 and %d", MaxK)}
	}
	if q.Threshold != nil {
		t := *q.Threshold
		if math.IsNaN(t) || t < MinSimilarity || t > MaxSimilarity {
			return &ValidationError{
				Field:  "threshold",
				Reason: fmt.Sprintf("must be between %g and %g", MinSimilarity, MaxSimilarity),
			}
		}
	}
	return nil
}

// Resolve validates the query and fills defaults for unset parameters.
func (q *SearchQuery) Resolve(defaultK int, defaultThreshold float64) (k int, threshold float64, err error) {
	if err := q.Validate(); err != nil {
		return 0, 0, err
	}
	k = q.K
	if k == 0 {
		k = defaultK
	}
	threshold = defaultThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	return k, threshold, nil
}
