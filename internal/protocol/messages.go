package protocol

import "time"

// ConfidenceTier buckets a recognition confidence for display. Segments from
// backends that report no confidence stay TierUnknown rather than being
// assigned a made-up score.
type ConfidenceTier string

const (
	TierHigh     ConfidenceTier = "high"
	TierModerate ConfidenceTier = "moderate"
	TierLow      ConfidenceTier = "low"
	TierUnknown  ConfidenceTier = "unknown"
)

// TierFor maps a confidence score to its display tier at the emission
// boundary. A nil confidence means the backend never reported one.
func TierFor(confidence *float64) ConfidenceTier {
	if confidence == nil {
		return TierUnknown
	}
	switch {
	case *confidence >= 0.90:
		return TierHigh
	case *confidence >= 0.70:
		return TierModerate
	default:
		return TierLow
	}
}

// TranscriptSegment is one recognized window of speech broadcast on the bus.
type TranscriptSegment struct {
	SessionID  string         `json:"session_id"`
	Sequence   int            `json:"sequence"`
	Text       string         `json:"text"`
	Backend    string         `json:"backend"`
	Confidence *float64       `json:"confidence,omitempty"`
	Tier       ConfidenceTier `json:"tier"`
	Seconds    float64        `json:"seconds"`
	Timestamp  time.Time      `json:"timestamp"`
}

// UsageSnapshot mirrors the ledger counters for status consumers.
type UsageSnapshot struct {
	TotalMinutes      float64 `json:"total_minutes"`
	SuccessfulMinutes float64 `json:"successful_minutes"`
	FailedAttempts    int     `json:"failed_attempts"`
	EstimatedCost     string  `json:"estimated_cost"`
}

// Pipeline states published on the status subject.
const (
	StateIdle       = "idle"
	StateListening  = "listening"
	StateProcessing = "processing"
)

// StatusEvent reports a pipeline state change.
type StatusEvent struct {
	SessionID string         `json:"session_id"`
	State     string         `json:"state"`
	Backend   string         `json:"backend,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Usage     *UsageSnapshot `json:"usage,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	SubjectTranscriptSegment = "negar.transcript.segment"
	SubjectStatus            = "negar.status"
	SubjectUsage             = "negar.usage"
)
