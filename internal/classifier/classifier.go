// Package classifier wraps the pretrained toxicity model, consumed as
// an opaque inference service. The gateway only ever sees
// Classify(text) -> (label, score).
package classifier

import (
	"context"
	"errors"
)

// ErrUnavailable marks transient failures (timeout, 5xx, open circuit
// breaker). Callers must not bill a request that fails with it, and may
// retry.
var ErrUnavailable = errors.New("classifier unavailable")

type Result struct {
	Label int     // 1 = toxic, 0 = not toxic
	Score float64 // probability of the toxic label
}

type Classifier interface {
	Classify(ctx context.Context, text string) (*Result, error)
}
