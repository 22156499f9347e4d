package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sokhanlabs/negar-core/internal/audio"
	"github.com/sokhanlabs/negar-core/internal/config"
	"github.com/sokhanlabs/negar-core/internal/ledger"
	"github.com/sokhanlabs/negar-core/internal/protocol"
)

// Emitter delivers transcripts, status changes, and usage snapshots to the
// presentation layer.
// Implementations must not block for long; they run on the consumer
// goroutine between segments.
type Emitter interface {
	EmitTranscript(protocol.TranscriptSegment)
	EmitStatus(protocol.StatusEvent)
	EmitUsage(protocol.UsageSnapshot)
	EmitDrop(reason string)
}

// Stream is the capture scaffold: one producer goroutine records fixed
// windows of audio into a bounded queue, one consumer drains the queue
// through the orchestrator strictly serially. Serial consumption keeps
// transcript order equal to capture order and bounds pressure on the paid
// backend.
type Stream struct {
	source        audio.Source
	orch          *Orchestrator
	usage         *ledger.Ledger
	emit          Emitter
	log           *slog.Logger
	queueDepth    int
	warnThreshold float64

	sessionID string
	listening atomic.Bool
	queue     chan audio.Segment
	stop      chan struct{}
	wg        sync.WaitGroup
	warned    bool
}

func NewStream(
	source audio.Source,
	orch *Orchestrator,
	usage *ledger.Ledger,
	emit Emitter,
	captureCfg config.CaptureConfig,
	warnThresholdUSD float64,
	log *slog.Logger,
) *Stream {
	return &Stream{
		source:        source,
		orch:          orch,
		usage:         usage,
		emit:          emit,
		log:           log,
		queueDepth:    captureCfg.QueueDepth,
		warnThreshold: warnThresholdUSD,
	}
}

// Start launches the producer and consumer goroutines for a new session.
// The context bounds the whole session: cancelling it is a hard stop, while
// Stop is the graceful path.
func (s *Stream) Start(ctx context.Context) error {
	s.sessionID = uuid.NewString()
	s.queue = make(chan audio.Segment, s.queueDepth)
	s.stop = make(chan struct{})
	s.warned = false
	s.listening.Store(true)

	s.log.Info("transcription session started",
		slog.String("session_id", s.sessionID),
		slog.Int("queue_depth", s.queueDepth))
	s.emitStatus(protocol.StateListening, "", nil)

	s.wg.Add(2)
	go s.produce(ctx)
	go s.consume(ctx)
	return nil
}

// Stop ends the session gracefully: the producer exits before its next
// capture window, the consumer finishes the segment already in flight, and
// all ledger writes complete before Stop returns.
func (s *Stream) Stop() {
	if !s.listening.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.emitStatus(protocol.StateIdle, "", nil)
	s.log.Info("transcription session stopped", slog.String("session_id", s.sessionID))
}

func (s *Stream) Healthy() bool {
	return s.listening.Load()
}

func (s *Stream) SessionID() string {
	return s.sessionID
}

func (s *Stream) produce(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.queue)

	for s.listening.Load() {
		seg, err := s.source.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("audio capture failed", slog.String("error", err.Error()))
			continue
		}
		select {
		case s.queue <- seg:
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) consume(ctx context.Context) {
	defer s.wg.Done()

	sequence := 0
	for {
		select {
		case seg, ok := <-s.queue:
			if !ok {
				return
			}
			s.emitStatus(protocol.StateProcessing, "", nil)

			out := s.orch.Process(ctx, s.sessionID, sequence, seg)
			sequence++

			if out.Segment != nil {
				s.emit.EmitTranscript(*out.Segment)
			} else if out.Backend != "" {
				s.emit.EmitDrop("recognition_failed")
			} else {
				s.emit.EmitDrop(out.Verdict.String())
			}
			s.emitStatus(protocol.StateListening, out.Backend, out.Usage)
			if out.Usage != nil {
				s.emit.EmitUsage(*usageEvent(out.Usage))
				s.checkCostWarning()
			}

			// Observe the stop flag only between segments, never
			// mid-call.
			if !s.listening.Load() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) emitStatus(state, backend string, usage *ledger.Snapshot) {
	ev := protocol.StatusEvent{
		SessionID: s.sessionID,
		State:     state,
		Backend:   backend,
		Timestamp: time.Now().UTC(),
	}
	if usage != nil {
		ev.Usage = usageEvent(usage)
	}
	s.emit.EmitStatus(ev)
}

func usageEvent(usage *ledger.Snapshot) *protocol.UsageSnapshot {
	return &protocol.UsageSnapshot{
		TotalMinutes:      usage.TotalMinutes,
		SuccessfulMinutes: usage.SuccessfulMinutes,
		FailedAttempts:    usage.FailedAttempts,
		EstimatedCost:     usage.EstimatedCost,
	}
}

// checkCostWarning logs at most once per session; `warned` is touched only
// on the consumer goroutine and reset by Start.
func (s *Stream) checkCostWarning() {
	if s.warned {
		return
	}
	over, cost, threshold := s.usage.CostWarning(s.warnThreshold)
	if !over {
		return
	}
	s.warned = true
	s.log.Warn("transcription spend exceeded warning threshold",
		slog.Float64("cost_usd", cost),
		slog.Float64("threshold_usd", threshold))
}
