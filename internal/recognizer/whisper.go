package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sokhanlabs/negar-core/internal/audio"
	"github.com/sokhanlabs/negar-core/internal/config"
)

// Whisper is the paid, higher-accuracy secondary backend. It uploads the
// segment as a WAV file to the audio transcription endpoint with a Persian
// language hint and deterministic decoding. The service reports no
// confidence, so Result.Confidence is always nil.
type Whisper struct {
	cfg    config.SecondaryConfig
	client *http.Client
}

func NewWhisper(cfg config.SecondaryConfig) *Whisper {
	return &Whisper{cfg: cfg, client: &http.Client{}}
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) Recognize(ctx context.Context, seg audio.Segment, _ Hints) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	wavPath, err := w.encodeWAV(seg)
	if err != nil {
		return Result{}, &FormatError{Err: err}
	}
	defer os.Remove(wavPath)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return Result{}, &ServiceError{Backend: w.Name(), Class: FailureGeneric, Err: err}
	}
	f, err := os.Open(wavPath)
	if err != nil {
		return Result{}, &FormatError{Err: err}
	}
	if _, err := io.Copy(fw, f); err != nil {
		f.Close()
		return Result{}, &ServiceError{Backend: w.Name(), Class: FailureGeneric, Err: err}
	}
	f.Close()

	_ = mw.WriteField("model", w.cfg.Model)
	_ = mw.WriteField("temperature", strconv.FormatFloat(w.cfg.Temperature, 'f', -1, 64))
	if w.cfg.Language != "" {
		_ = mw.WriteField("language", w.cfg.Language)
	}
	if err := mw.Close(); err != nil {
		return Result{}, &ServiceError{Backend: w.Name(), Class: FailureGeneric, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, &ServiceError{Backend: w.Name(), Class: FailureGeneric, Err: err}
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return Result{}, classifyTransport(w.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, classifyTransport(w.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, w.classifyStatus(resp.StatusCode, respBody)
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Result{}, &ServiceError{Backend: w.Name(), Class: FailureGeneric, Err: fmt.Errorf("decode response: %w", err)}
	}

	text := strings.TrimSpace(decoded.Text)
	if text == "" {
		return Result{}, ErrUnintelligible
	}
	return Result{Text: text}, nil
}

func (w *Whisper) encodeWAV(seg audio.Segment) (string, error) {
	file, err := os.CreateTemp(os.TempDir(), "negar_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	if err := audio.WriteWAV(file, seg); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

func (w *Whisper) classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("status %d: %s", status, truncate(body, 200))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Backend: w.Name(), Err: err}
	case status == http.StatusTooManyRequests:
		return &ServiceError{Backend: w.Name(), Class: FailureRateLimit, Err: err}
	default:
		return &ServiceError{Backend: w.Name(), Class: FailureGeneric, Err: err}
	}
}
