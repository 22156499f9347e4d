package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NEGAR_CAPTURE_MODE", "mock")
	t.Setenv("NEGAR_SECONDARY_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.SampleRate != 16000 {
		t.Fatalf("expected 16kHz default sample rate, got %d", cfg.Capture.SampleRate)
	}
	if cfg.Gate.SilenceFloor != 300 || cfg.Gate.SecondaryFloor != 500 {
		t.Fatalf("unexpected default gate floors: %v", cfg.Gate)
	}
	if cfg.Ledger.CostPerMinute != 0.006 {
		t.Fatalf("expected default cost per minute 0.006, got %v", cfg.Ledger.CostPerMinute)
	}
	if cfg.Primary.Language != "fa-IR" || cfg.Primary.AltLanguage != "en-US" {
		t.Fatalf("unexpected default primary languages: %+v", cfg.Primary)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEGAR_CAPTURE_MODE", "mock")
	t.Setenv("NEGAR_CAPTURE_WINDOW_SECONDS", "3")
	t.Setenv("NEGAR_GATE_SILENCE_FLOOR", "250")
	t.Setenv("NEGAR_GATE_SECONDARY_FLOOR", "450")
	t.Setenv("NEGAR_GATE_NOISE_CEILING", "0.25")
	t.Setenv("NEGAR_SECONDARY_API_KEY", "sk-test")
	t.Setenv("NEGAR_SECONDARY_TIMEOUT_MS", "15000")
	t.Setenv("NEGAR_LEDGER_PATH", "./tmp-usage.json")
	t.Setenv("NEGAR_LEDGER_WARN_THRESHOLD_USD", "2.5")
	t.Setenv("NEGAR_ARCHIVE_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.WindowSeconds != 3 {
		t.Fatalf("expected window override, got %d", cfg.Capture.WindowSeconds)
	}
	if cfg.Gate.SilenceFloor != 250 || cfg.Gate.SecondaryFloor != 450 || cfg.Gate.NoiseCeiling != 0.25 {
		t.Fatalf("expected gate overrides, got %+v", cfg.Gate)
	}
	if cfg.Secondary.APIKey != "sk-test" {
		t.Fatalf("expected secondary api key override")
	}
	if cfg.Secondary.TimeoutMS != 15000 {
		t.Fatalf("expected secondary timeout override, got %d", cfg.Secondary.TimeoutMS)
	}
	if cfg.Ledger.Path != "./tmp-usage.json" {
		t.Fatalf("expected ledger path override")
	}
	if cfg.Ledger.WarnThresholdUSD != 2.5 {
		t.Fatalf("expected warn threshold override, got %v", cfg.Ledger.WarnThresholdUSD)
	}
	if cfg.Archive.RetentionMode != "persistent" {
		t.Fatalf("expected archive retention mode override")
	}
}

func TestValidateRejectsMissingSecondaryKey(t *testing.T) {
	t.Setenv("NEGAR_CAPTURE_MODE", "mock")
	t.Setenv("NEGAR_SECONDARY_API_KEY", "")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for missing secondary api key")
	}
}

func TestValidateRejectsInvertedGateFloors(t *testing.T) {
	t.Setenv("NEGAR_CAPTURE_MODE", "mock")
	t.Setenv("NEGAR_SECONDARY_API_KEY", "sk-test")
	t.Setenv("NEGAR_GATE_SILENCE_FLOOR", "600")
	t.Setenv("NEGAR_GATE_SECONDARY_FLOOR", "500")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for secondary floor below silence floor")
	}
}
