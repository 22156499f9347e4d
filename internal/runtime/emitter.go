package runtime

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sokhanlabs/negar-core/internal/archive"
	"github.com/sokhanlabs/negar-core/internal/bus"
	"github.com/sokhanlabs/negar-core/internal/protocol"
)

// emitter fans pipeline output out to the NATS bus, the transcript archive,
// and the meters. Publish and archive failures are logged and absorbed; a
// flaky broker must not stall the capture loop.
type emitter struct {
	bus   *bus.Client
	store *archive.Store
	log   *slog.Logger

	segments metric.Int64Counter
	minutes  metric.Float64Counter
	drops    metric.Int64Counter
}

func newEmitter(busClient *bus.Client, store *archive.Store, log *slog.Logger) (*emitter, error) {
	meter := otel.Meter("negar-core")

	segments, err := meter.Int64Counter("negar_segments_total",
		metric.WithDescription("Transcript segments emitted, by backend and confidence tier"))
	if err != nil {
		return nil, err
	}
	minutes, err := meter.Float64Counter("negar_audio_minutes_total",
		metric.WithDescription("Minutes of audio successfully transcribed"))
	if err != nil {
		return nil, err
	}
	drops, err := meter.Int64Counter("negar_segments_dropped_total",
		metric.WithDescription("Segments dropped, by gate verdict or recognition failure"))
	if err != nil {
		return nil, err
	}

	return &emitter{
		bus:      busClient,
		store:    store,
		log:      log,
		segments: segments,
		minutes:  minutes,
		drops:    drops,
	}, nil
}

func (e *emitter) EmitDrop(reason string) {
	e.drops.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (e *emitter) EmitTranscript(seg protocol.TranscriptSegment) {
	ctx := context.Background()
	e.segments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", seg.Backend),
		attribute.String("tier", string(seg.Tier)),
	))
	e.minutes.Add(ctx, seg.Seconds/60.0)

	if err := e.bus.PublishTranscript(seg); err != nil {
		e.log.Warn("failed to publish transcript segment", slog.String("error", err.Error()))
	}
	if err := e.store.AppendSegment(ctx, seg); err != nil {
		e.log.Warn("failed to archive transcript segment", slog.String("error", err.Error()))
	}
}

func (e *emitter) EmitUsage(snap protocol.UsageSnapshot) {
	if err := e.bus.PublishUsage(snap); err != nil {
		e.log.Warn("failed to publish usage snapshot", slog.String("error", err.Error()))
	}
}

func (e *emitter) EmitStatus(ev protocol.StatusEvent) {
	if err := e.bus.PublishStatus(ev); err != nil {
		e.log.Warn("failed to publish status event", slog.String("error", err.Error()))
	}
}
