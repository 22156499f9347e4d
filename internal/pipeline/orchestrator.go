package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sokhanlabs/negar-core/internal/audio"
	"github.com/sokhanlabs/negar-core/internal/config"
	"github.com/sokhanlabs/negar-core/internal/ledger"
	"github.com/sokhanlabs/negar-core/internal/protocol"
	"github.com/sokhanlabs/negar-core/internal/recognizer"
)

// Outcome is the result of driving one segment through the pipeline.
type Outcome struct {
	// Segment is the transcript produced for this window, nil when the
	// window was dropped (gate rejection or recognition failure).
	Segment *protocol.TranscriptSegment
	// Backend names the last backend attempted, empty when the gate
	// rejected the window before any network call.
	Backend string
	Verdict audio.Verdict
	// Usage is set whenever the ledger was updated for this window.
	Usage *ledger.Snapshot
}

// Orchestrator drives one captured window through gating, recognition with
// fallback, transcript validation, and usage accounting. It processes
// segments strictly one at a time; the stream consumer enforces that.
type Orchestrator struct {
	gate      *audio.Gate
	primary   recognizer.Recognizer
	secondary recognizer.Recognizer
	usage     *ledger.Ledger
	hints     recognizer.Hints
	recheck   config.SecondaryConfig
	log       *slog.Logger
	clock     func() time.Time
}

func NewOrchestrator(
	gate *audio.Gate,
	primary, secondary recognizer.Recognizer,
	usage *ledger.Ledger,
	hints recognizer.Hints,
	recheck config.SecondaryConfig,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		gate:      gate,
		primary:   primary,
		secondary: secondary,
		usage:     usage,
		hints:     hints,
		recheck:   recheck,
		log:       log,
		clock:     time.Now,
	}
}

// Process runs the per-segment state machine. Quality rejections and
// recognition failures are absorbed here: they produce an Outcome with no
// transcript, never an error to the caller. Backend preference is
// primary-first; the gate's PreferSecondary verdict pins low-energy audio to
// the free primary backend so the paid one is never spent on it.
func (o *Orchestrator) Process(ctx context.Context, sessionID string, sequence int, seg audio.Segment) Outcome {
	eval := o.gate.Evaluate(seg)
	out := Outcome{Verdict: eval.Verdict}

	switch eval.Verdict {
	case audio.RejectSilence, audio.RejectNoise:
		o.log.Debug("segment rejected by quality gate",
			slog.String("verdict", eval.Verdict.String()),
			slog.Float64("rms", eval.RMS),
			slog.Float64("zcr", eval.ZeroCrossRate))
		return out
	}

	preferPrimaryOnly := eval.Verdict == audio.PreferSecondary

	if o.primary != nil {
		out.Backend = o.primary.Name()
		res, err := o.primary.Recognize(ctx, seg, o.hints)
		switch {
		case err == nil:
			return o.record(sessionID, sequence, seg, res, o.primary.Name(), out)
		case isFatalAuth(err):
			// The free backend does not issue auth errors in normal
			// operation; surface loudly and drop without touching
			// the ledger.
			o.log.Error("primary backend authentication failure",
				slog.String("backend", o.primary.Name()),
				slog.String("error", err.Error()))
			return out
		default:
			o.log.Debug("primary backend failed",
				slog.String("backend", o.primary.Name()),
				slog.String("error", err.Error()))
		}
	}

	if preferPrimaryOnly || o.secondary == nil {
		// Low-energy audio never escalates to the paid backend; the
		// window is charged as a failed attempt and dropped.
		return o.recordFailure(seg, out)
	}

	out.Backend = o.secondary.Name()
	if rms, zcr := audio.Measure(seg); rms < o.recheck.SilenceFloor || rms < o.recheck.EnergyFloor || zcr > o.recheck.NoiseCeiling {
		// Second gate pass with thresholds tuned for the paid
		// backend; weaker audio than the generic gate allows is not
		// worth the spend.
		o.log.Debug("segment below paid-backend thresholds",
			slog.Float64("rms", rms),
			slog.Float64("zcr", zcr))
		return o.recordFailure(seg, out)
	}

	res, err := o.secondary.Recognize(ctx, seg, o.hints)
	if err == nil {
		err = recognizer.ValidateTranscript(res.Text)
	}
	switch {
	case err == nil:
		return o.record(sessionID, sequence, seg, res, o.secondary.Name(), out)
	case isFatalAuth(err):
		o.log.Error("secondary backend authentication failure, check API key",
			slog.String("backend", o.secondary.Name()),
			slog.String("error", err.Error()))
		return o.recordFailure(seg, out)
	case errors.Is(err, recognizer.ErrUnintelligible):
		o.log.Debug("secondary backend returned unintelligible result",
			slog.String("backend", o.secondary.Name()))
		return o.recordFailure(seg, out)
	default:
		o.log.Warn("secondary backend failed, segment lost",
			slog.String("backend", o.secondary.Name()),
			slog.String("error", err.Error()))
		return o.recordFailure(seg, out)
	}
}

func (o *Orchestrator) record(sessionID string, sequence int, seg audio.Segment, res recognizer.Result, backend string, out Outcome) Outcome {
	snap := o.usage.Record(seg.Seconds(), true)
	out.Usage = &snap
	out.Backend = backend
	out.Segment = &protocol.TranscriptSegment{
		SessionID:  sessionID,
		Sequence:   sequence,
		Text:       res.Text,
		Backend:    backend,
		Confidence: res.Confidence,
		Tier:       protocol.TierFor(res.Confidence),
		Seconds:    seg.Seconds(),
		Timestamp:  o.clock().UTC(),
	}
	return out
}

func (o *Orchestrator) recordFailure(seg audio.Segment, out Outcome) Outcome {
	snap := o.usage.Record(seg.Seconds(), false)
	out.Usage = &snap
	return out
}

func isFatalAuth(err error) bool {
	var authErr *recognizer.AuthError
	return errors.As(err, &authErr)
}
