package recognizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sokhanlabs/negar-core/internal/config"
)

func secondaryConfig(endpoint string) config.SecondaryConfig {
	return config.SecondaryConfig{
		Enabled:     true,
		Endpoint:    endpoint,
		APIKey:      "sk-test",
		Model:       "whisper-1",
		Language:    "fa",
		Temperature: 0,
		TimeoutMS:   2000,
	}
}

func TestWhisperSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("unexpected model field: %q", got)
		}
		if got := r.FormValue("language"); got != "fa" {
			t.Errorf("unexpected language field: %q", got)
		}
		if got := r.FormValue("temperature"); got != "0" {
			t.Errorf("unexpected temperature field: %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			file.Close()
			if !strings.HasSuffix(header.Filename, ".wav") {
				t.Errorf("expected wav upload, got %q", header.Filename)
			}
		}
		_, _ = w.Write([]byte(`{"text":"بیمار از بی‌خوابی شکایت دارد"}`))
	}))
	defer srv.Close()

	backend := NewWhisper(secondaryConfig(srv.URL))
	res, err := backend.Recognize(context.Background(), testSegment(), Hints{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "بیمار از بی‌خوابی شکایت دارد" {
		t.Fatalf("unexpected transcript: %q", res.Text)
	}
	if res.Confidence != nil {
		t.Fatalf("whisper must not report confidence, got %v", *res.Confidence)
	}
}

func TestWhisperEmptyTextIsUnintelligible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"text":"  "}`))
	}))
	defer srv.Close()

	backend := NewWhisper(secondaryConfig(srv.URL))
	_, err := backend.Recognize(context.Background(), testSegment(), Hints{})
	if !errors.Is(err, ErrUnintelligible) {
		t.Fatalf("expected ErrUnintelligible, got %v", err)
	}
}

func TestWhisperStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		class  FailureClass
		auth   bool
	}{
		{http.StatusUnauthorized, "", true},
		{http.StatusForbidden, "", true},
		{http.StatusTooManyRequests, FailureRateLimit, false},
		{http.StatusInternalServerError, FailureGeneric, false},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))

		backend := NewWhisper(secondaryConfig(srv.URL))
		_, err := backend.Recognize(context.Background(), testSegment(), Hints{})
		srv.Close()

		if tc.auth {
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("status %d: expected AuthError, got %v", tc.status, err)
			}
			continue
		}
		var svcErr *ServiceError
		if !errors.As(err, &svcErr) || svcErr.Class != tc.class {
			t.Fatalf("status %d: expected %s service error, got %v", tc.status, tc.class, err)
		}
	}
}

func TestWhisperTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte(`{"text":"late"}`))
	}))
	defer srv.Close()

	cfg := secondaryConfig(srv.URL)
	cfg.TimeoutMS = 50
	backend := NewWhisper(cfg)
	_, err := backend.Recognize(context.Background(), testSegment(), Hints{})
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Class != FailureTimeout {
		t.Fatalf("expected timeout service error, got %v", err)
	}
}
