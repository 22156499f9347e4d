package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sokhanlabs/negar-core/internal/audio"
	"github.com/sokhanlabs/negar-core/internal/config"
	"github.com/sokhanlabs/negar-core/internal/ledger"
	"github.com/sokhanlabs/negar-core/internal/protocol"
	"github.com/sokhanlabs/negar-core/internal/recognizer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// segmentWithAmplitude builds one second of constant-amplitude audio, so the
// measured RMS equals the amplitude and the zero-crossing rate is zero.
func segmentWithAmplitude(amplitude int16) audio.Segment {
	const samples = 16000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(amplitude))
	}
	return audio.Segment{PCM: pcm, SampleRate: 16000, Channels: 1, CapturedAt: time.Now()}
}

func testGate() *audio.Gate {
	return audio.NewGate(config.GateConfig{SilenceFloor: 300, SecondaryFloor: 500, NoiseCeiling: 0.3})
}

func testUsage(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(config.LedgerConfig{
		Path:          filepath.Join(t.TempDir(), "usage.json"),
		CostPerMinute: 0.006,
	}, testLogger())
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	return l
}

func newTestOrchestrator(t *testing.T, primary, secondary recognizer.Recognizer) (*Orchestrator, *ledger.Ledger) {
	t.Helper()
	usage := testUsage(t)
	recheck := config.SecondaryConfig{SilenceFloor: 300, EnergyFloor: 500, NoiseCeiling: 0.3}
	o := NewOrchestrator(testGate(), primary, secondary, usage, recognizer.Hints{}, recheck, testLogger())
	return o, usage
}

func confidence(v float64) recognizer.Result {
	return recognizer.Result{Text: "سلام دکتر", Confidence: &v}
}

func TestGateRejectionSkipsBackends(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	secondary := recognizer.NewMock("whisper")
	o, usage := newTestOrchestrator(t, primary, secondary)

	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(50))
	if out.Verdict != audio.RejectSilence {
		t.Fatalf("Verdict = %v, want RejectSilence", out.Verdict)
	}
	if out.Segment != nil {
		t.Fatal("silent segment produced a transcript")
	}
	if primary.Calls != 0 || secondary.Calls != 0 {
		t.Fatalf("backends called for rejected audio: primary=%d secondary=%d", primary.Calls, secondary.Calls)
	}
	if snap := usage.Snapshot(); snap.TotalMinutes != 0 {
		t.Fatalf("ledger updated for rejected audio: %+v", snap)
	}
}

func TestPrimarySuccessRecordsAndEmits(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(confidence(0.95), nil)
	secondary := recognizer.NewMock("whisper")
	o, usage := newTestOrchestrator(t, primary, secondary)

	out := o.Process(context.Background(), "s1", 3, segmentWithAmplitude(800))
	if out.Segment == nil {
		t.Fatal("no transcript emitted")
	}
	if out.Segment.Backend != "google-speech" {
		t.Fatalf("Backend = %q, want google-speech", out.Segment.Backend)
	}
	if out.Segment.Tier != protocol.TierHigh {
		t.Fatalf("Tier = %q, want high", out.Segment.Tier)
	}
	if out.Segment.Sequence != 3 {
		t.Fatalf("Sequence = %d, want 3", out.Segment.Sequence)
	}
	if secondary.Calls != 0 {
		t.Fatalf("secondary called after primary success: %d", secondary.Calls)
	}
	snap := usage.Snapshot()
	if snap.SuccessfulMinutes == 0 || snap.FailedAttempts != 0 {
		t.Fatalf("ledger did not record success: %+v", snap)
	}
}

func TestFallbackAttemptsSecondaryExactlyOnce(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(recognizer.Result{}, recognizer.ErrUnintelligible)
	secondary := recognizer.NewMock("whisper")
	secondary.Enqueue(recognizer.Result{Text: "بیمار از سردرد شکایت دارد"}, nil)
	o, _ := newTestOrchestrator(t, primary, secondary)

	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(800))
	if primary.Calls != 1 || secondary.Calls != 1 {
		t.Fatalf("calls = primary:%d secondary:%d, want 1:1", primary.Calls, secondary.Calls)
	}
	if out.Segment == nil || out.Segment.Backend != "whisper" {
		t.Fatalf("fallback transcript = %+v, want whisper segment", out.Segment)
	}
	if out.Segment.Confidence != nil {
		t.Fatal("whisper segment carried a confidence score")
	}
	if out.Segment.Tier != protocol.TierUnknown {
		t.Fatalf("Tier = %q, want unknown", out.Segment.Tier)
	}
}

func TestBothBackendsFailRecordsFailure(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(recognizer.Result{}, &recognizer.ServiceError{Backend: "google-speech", Class: recognizer.FailureTimeout, Err: errors.New("deadline exceeded")})
	secondary := recognizer.NewMock("whisper")
	secondary.Enqueue(recognizer.Result{}, &recognizer.ServiceError{Backend: "whisper", Class: recognizer.FailureRateLimit, Err: errors.New("quota exhausted")})
	o, usage := newTestOrchestrator(t, primary, secondary)

	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(800))
	if out.Segment != nil {
		t.Fatal("transcript emitted though both backends failed")
	}
	if out.Backend != "whisper" {
		t.Fatalf("Backend = %q, want whisper (last attempted)", out.Backend)
	}
	snap := usage.Snapshot()
	if snap.FailedAttempts != 1 {
		t.Fatalf("FailedAttempts = %d, want 1", snap.FailedAttempts)
	}
	if snap.SuccessfulMinutes != 0 {
		t.Fatalf("SuccessfulMinutes = %v, want 0", snap.SuccessfulMinutes)
	}
	if snap.TotalMinutes == 0 {
		t.Fatal("failed attempt not added to total minutes")
	}
}

func TestLowEnergyAudioNeverReachesPaidBackend(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(recognizer.Result{}, recognizer.ErrUnintelligible)
	secondary := recognizer.NewMock("whisper")
	o, _ := newTestOrchestrator(t, primary, secondary)

	// RMS 400 sits between the silence floor and the secondary floor.
	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(400))
	if out.Verdict != audio.PreferSecondary {
		t.Fatalf("Verdict = %v, want PreferSecondary", out.Verdict)
	}
	if primary.Calls != 1 {
		t.Fatalf("primary calls = %d, want 1", primary.Calls)
	}
	if secondary.Calls != 0 {
		t.Fatalf("paid backend called for low-energy audio: %d", secondary.Calls)
	}
	if out.Segment != nil {
		t.Fatal("transcript emitted for failed low-energy segment")
	}
}

func TestLowEnergySuccessStillEmits(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(confidence(0.72), nil)
	secondary := recognizer.NewMock("whisper")
	o, _ := newTestOrchestrator(t, primary, secondary)

	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(400))
	if out.Segment == nil {
		t.Fatal("low-energy primary success produced no transcript")
	}
	if out.Segment.Tier != protocol.TierModerate {
		t.Fatalf("Tier = %q, want moderate", out.Segment.Tier)
	}
}

func TestSecondaryGibberishDropped(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(recognizer.Result{}, recognizer.ErrUnintelligible)
	secondary := recognizer.NewMock("whisper")
	secondary.Enqueue(recognizer.Result{Text: "abc"}, nil)
	o, usage := newTestOrchestrator(t, primary, secondary)

	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(800))
	if out.Segment != nil {
		t.Fatalf("gibberish transcript emitted: %+v", out.Segment)
	}
	if snap := usage.Snapshot(); snap.FailedAttempts != 1 {
		t.Fatalf("FailedAttempts = %d, want 1", snap.FailedAttempts)
	}
}

func TestPrimaryAuthErrorSurfacedWithoutUsage(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(recognizer.Result{}, &recognizer.AuthError{Backend: "google-speech", Err: errors.New("API key invalid")})
	secondary := recognizer.NewMock("whisper")
	o, usage := newTestOrchestrator(t, primary, secondary)

	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(800))
	if out.Segment != nil {
		t.Fatal("transcript emitted after auth failure")
	}
	if secondary.Calls != 0 {
		t.Fatalf("fallback attempted after primary auth failure: %d", secondary.Calls)
	}
	if snap := usage.Snapshot(); snap.TotalMinutes != 0 {
		t.Fatalf("usage recorded for primary auth failure: %+v", snap)
	}
}

func TestSecondaryAuthErrorRecordsFailure(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(recognizer.Result{}, recognizer.ErrUnintelligible)
	secondary := recognizer.NewMock("whisper")
	secondary.Enqueue(recognizer.Result{}, &recognizer.AuthError{Backend: "whisper", Err: errors.New("invalid bearer token")})
	o, usage := newTestOrchestrator(t, primary, secondary)

	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(800))
	if out.Segment != nil {
		t.Fatal("transcript emitted after secondary auth failure")
	}
	if snap := usage.Snapshot(); snap.FailedAttempts != 1 {
		t.Fatalf("FailedAttempts = %d, want 1", snap.FailedAttempts)
	}
}

func TestPaidSilenceFloorRecheckBlocksWeakAudio(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(recognizer.Result{}, recognizer.ErrUnintelligible)
	secondary := recognizer.NewMock("whisper")
	usage := testUsage(t)

	// Only the paid silence floor is raised; the energy floor alone
	// would let this segment through.
	recheck := config.SecondaryConfig{SilenceFloor: 1000, EnergyFloor: 100, NoiseCeiling: 0.3}
	o := NewOrchestrator(testGate(), primary, secondary, usage, recognizer.Hints{}, recheck, testLogger())

	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(800))
	if secondary.Calls != 0 {
		t.Fatalf("paid backend called below its silence floor: %d", secondary.Calls)
	}
	if out.Segment != nil {
		t.Fatal("transcript emitted for blocked segment")
	}
	if snap := usage.Snapshot(); snap.FailedAttempts != 1 {
		t.Fatalf("FailedAttempts = %d, want 1", snap.FailedAttempts)
	}
}

func TestPaidThresholdRecheckBlocksWeakAudio(t *testing.T) {
	primary := recognizer.NewMock("google-speech")
	primary.Enqueue(recognizer.Result{}, recognizer.ErrUnintelligible)
	secondary := recognizer.NewMock("whisper")
	usage := testUsage(t)

	// Paid backend tuned stricter than the generic gate.
	recheck := config.SecondaryConfig{SilenceFloor: 300, EnergyFloor: 1000, NoiseCeiling: 0.3}
	o := NewOrchestrator(testGate(), primary, secondary, usage, recognizer.Hints{}, recheck, testLogger())

	out := o.Process(context.Background(), "s1", 0, segmentWithAmplitude(800))
	if secondary.Calls != 0 {
		t.Fatalf("paid backend called below its energy floor: %d", secondary.Calls)
	}
	if out.Segment != nil {
		t.Fatal("transcript emitted for blocked segment")
	}
	if snap := usage.Snapshot(); snap.FailedAttempts != 1 {
		t.Fatalf("FailedAttempts = %d, want 1", snap.FailedAttempts)
	}
}
