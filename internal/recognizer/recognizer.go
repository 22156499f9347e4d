package recognizer

import (
	"context"

	"github.com/sokhanlabs/negar-core/internal/audio"
)

// Result captures backend output. Confidence is nil when the backend does
// not report one; absence never implies full confidence.
type Result struct {
	Text       string
	Confidence *float64
}

// Hints carries domain terminology passed to backends that accept phrase
// boosting.
type Hints struct {
	Phrases []string
	Boost   float64
}

// Recognizer abstracts one transcription backend. Implementations apply
// their own call timeout on top of the supplied context.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, seg audio.Segment, hints Hints) (Result, error)
}
