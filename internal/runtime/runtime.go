package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sokhanlabs/negar-core/internal/archive"
	"github.com/sokhanlabs/negar-core/internal/audio"
	"github.com/sokhanlabs/negar-core/internal/bus"
	"github.com/sokhanlabs/negar-core/internal/config"
	"github.com/sokhanlabs/negar-core/internal/hints"
	"github.com/sokhanlabs/negar-core/internal/ledger"
	"github.com/sokhanlabs/negar-core/internal/natsserver"
	"github.com/sokhanlabs/negar-core/internal/pipeline"
	"github.com/sokhanlabs/negar-core/internal/recognizer"
)

// Runtime wires the transcription pipeline together: telemetry, the event
// bus, the usage ledger, the transcript archive, both recognition backends,
// and the capture stream, plus the operational HTTP surface.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error
	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	usage       *ledger.Ledger
	store       *archive.Store
	stream      *pipeline.Stream

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, runs until the context is cancelled, and
// tears down in reverse order. The capture stream is stopped before anything
// it publishes to, so in-flight ledger writes and archive appends complete.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	natsServer, err := natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "natsserver")))
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}
	r.natsServer = natsServer

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	usage, err := ledger.Open(r.cfg.Ledger, r.logger.With(slog.String("component", "ledger")))
	if err != nil {
		return fmt.Errorf("failed to open usage ledger: %w", err)
	}
	r.usage = usage

	store, err := archive.Open(ctx, r.cfg.Archive, r.logger.With(slog.String("component", "archive")))
	if err != nil {
		return fmt.Errorf("failed to open transcript archive: %w", err)
	}
	r.store = store

	phrases, err := hints.Load(r.cfg.Hints)
	if err != nil {
		return fmt.Errorf("failed to load terminology hints: %w", err)
	}
	if len(phrases) > 0 {
		r.logger.Info("terminology hints loaded", slog.Int("phrases", len(phrases)))
	}

	var primary, secondary recognizer.Recognizer
	if r.cfg.Primary.Enabled {
		primary = recognizer.NewGoogleSpeech(r.cfg.Primary)
	}
	if r.cfg.Secondary.Enabled {
		secondary = recognizer.NewWhisper(r.cfg.Secondary)
	}

	source, err := audio.NewSource(r.cfg.Capture)
	if err != nil {
		return fmt.Errorf("failed to create audio source: %w", err)
	}

	sink, err := newEmitter(busClient, store, r.logger.With(slog.String("component", "emitter")))
	if err != nil {
		return fmt.Errorf("failed to create emitter: %w", err)
	}

	orch := pipeline.NewOrchestrator(
		audio.NewGate(r.cfg.Gate),
		primary, secondary,
		usage,
		recognizer.Hints{Phrases: phrases, Boost: r.cfg.Hints.Boost},
		r.cfg.Secondary,
		r.logger.With(slog.String("component", "pipeline")),
	)
	r.stream = pipeline.NewStream(source, orch, usage, sink, r.cfg.Capture, r.cfg.Ledger.WarnThresholdUSD, r.logger.With(slog.String("component", "pipeline")))

	if err := r.stream.Start(ctx); err != nil {
		return fmt.Errorf("failed to start capture stream: %w", err)
	}
	if err := store.BeginSession(ctx, r.stream.SessionID()); err != nil {
		r.logger.Warn("failed to register archive session", slog.String("error", err.Error()))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /v1/usage", r.handleUsage)
	mux.HandleFunc("POST /v1/usage/reset", r.handleUsageReset)
	mux.HandleFunc("GET /v1/transcripts/{session}", r.handleTranscript)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("session_id", r.stream.SessionID()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	r.stream.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.busClient.Close()
	r.natsServer.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("archive close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleUsage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, r.usage.Snapshot())
}

func (r *Runtime) handleUsageReset(w http.ResponseWriter, req *http.Request) {
	scope := ledger.Scope(req.URL.Query().Get("scope"))
	switch scope {
	case ledger.ScopeDaily, ledger.ScopeWeekly, ledger.ScopeAll:
	default:
		http.Error(w, "scope must be daily, weekly, or all", http.StatusBadRequest)
		return
	}
	r.logger.Info("usage reset requested", slog.String("scope", string(scope)))
	writeJSON(w, r.usage.Reset(scope))
}

func (r *Runtime) handleTranscript(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("session")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	segments, err := r.store.SessionTranscript(req.Context(), sessionID, limit)
	if err != nil {
		r.logger.Error("transcript lookup failed", slog.String("error", err.Error()))
		http.Error(w, "transcript lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, segments)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
	}
}
