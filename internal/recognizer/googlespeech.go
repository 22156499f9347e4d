package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sokhanlabs/negar-core/internal/audio"
	"github.com/sokhanlabs/negar-core/internal/config"
)

// GoogleSpeech is the free, lower-latency primary backend. It posts
// base64-encoded PCM to the speech:recognize REST endpoint with a Persian
// primary language, an optional English alternative language, and optional
// terminology hints with a boost weight.
type GoogleSpeech struct {
	cfg    config.PrimaryConfig
	client *http.Client
}

func NewGoogleSpeech(cfg config.PrimaryConfig) *GoogleSpeech {
	return &GoogleSpeech{cfg: cfg, client: &http.Client{}}
}

func (g *GoogleSpeech) Name() string { return "google-speech" }

type googleRecognitionConfig struct {
	Encoding                 string                `json:"encoding"`
	SampleRateHertz          int                   `json:"sampleRateHertz"`
	AudioChannelCount        int                   `json:"audioChannelCount,omitempty"`
	LanguageCode             string                `json:"languageCode"`
	AlternativeLanguageCodes []string              `json:"alternativeLanguageCodes,omitempty"`
	MaxAlternatives          int                   `json:"maxAlternatives,omitempty"`
	SpeechContexts           []googleSpeechContext `json:"speechContexts,omitempty"`
}

type googleSpeechContext struct {
	Phrases []string `json:"phrases"`
	Boost   float64  `json:"boost,omitempty"`
}

type googleRecognizeRequest struct {
	Config googleRecognitionConfig `json:"config"`
	Audio  struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type googleRecognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence *float64 `json:"confidence,omitempty"`
		} `json:"alternatives"`
	} `json:"results"`
}

func (g *GoogleSpeech) Recognize(ctx context.Context, seg audio.Segment, hints Hints) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	result, err := g.recognizeOnce(ctx, seg, hints, true)
	if err == nil || g.cfg.AltLanguage == "" {
		return result, err
	}
	// Some deployments reject bilingual requests. Retry once in
	// single-language mode before surfacing anything to the caller.
	if isBilingualRejection(err) {
		return g.recognizeOnce(ctx, seg, hints, false)
	}
	return result, err
}

func (g *GoogleSpeech) recognizeOnce(ctx context.Context, seg audio.Segment, hints Hints, bilingual bool) (Result, error) {
	reqBody := googleRecognizeRequest{
		Config: googleRecognitionConfig{
			Encoding:          "LINEAR16",
			SampleRateHertz:   seg.SampleRate,
			AudioChannelCount: seg.Channels,
			LanguageCode:      g.cfg.Language,
		},
	}
	if bilingual && g.cfg.AltLanguage != "" {
		reqBody.Config.AlternativeLanguageCodes = []string{g.cfg.AltLanguage}
	}
	if g.cfg.AllAlternatives {
		reqBody.Config.MaxAlternatives = 5
	}
	if len(hints.Phrases) > 0 {
		reqBody.Config.SpeechContexts = []googleSpeechContext{{Phrases: hints.Phrases, Boost: hints.Boost}}
	}
	reqBody.Audio.Content = base64.StdEncoding.EncodeToString(seg.PCM)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, &ServiceError{Backend: g.Name(), Class: FailureGeneric, Err: err}
	}

	endpoint := g.cfg.Endpoint
	if g.cfg.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(g.cfg.APIKey)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, &ServiceError{Backend: g.Name(), Class: FailureGeneric, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, classifyTransport(g.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, classifyTransport(g.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, g.classifyStatus(resp.StatusCode, body)
	}

	var decoded googleRecognizeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, &ServiceError{Backend: g.Name(), Class: FailureGeneric, Err: fmt.Errorf("decode response: %w", err)}
	}

	for _, res := range decoded.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		best := res.Alternatives[0]
		text := strings.TrimSpace(best.Transcript)
		if text == "" {
			continue
		}
		return Result{Text: text, Confidence: best.Confidence}, nil
	}
	return Result{}, ErrUnintelligible
}

func (g *GoogleSpeech) classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("status %d: %s", status, truncate(body, 200))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Backend: g.Name(), Err: err}
	case status == http.StatusTooManyRequests:
		return &ServiceError{Backend: g.Name(), Class: FailureRateLimit, Err: err}
	case status == http.StatusBadRequest:
		return &badRequestError{backend: g.Name(), body: string(body), err: err}
	default:
		return &ServiceError{Backend: g.Name(), Class: FailureGeneric, Err: err}
	}
}

// badRequestError keeps the response body around so a bilingual rejection
// can be told apart from other client errors.
type badRequestError struct {
	backend string
	body    string
	err     error
}

func (e *badRequestError) Error() string { return fmt.Sprintf("%s: %v", e.backend, e.err) }

func (e *badRequestError) Unwrap() error {
	return &ServiceError{Backend: e.backend, Class: FailureGeneric, Err: e.err}
}

func isBilingualRejection(err error) bool {
	bre, ok := err.(*badRequestError)
	if !ok {
		return false
	}
	return strings.Contains(bre.body, "alternativeLanguageCodes") ||
		strings.Contains(bre.body, "alternative_language_codes")
}

func truncate(body []byte, n int) string {
	s := string(body)
	if len(s) > n {
		return s[:n]
	}
	return s
}
