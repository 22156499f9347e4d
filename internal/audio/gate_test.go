package audio

import (
	"encoding/binary"
	"testing"

	"github.com/sokhanlabs/negar-core/internal/config"
)

func gateConfig() config.GateConfig {
	return config.GateConfig{SilenceFloor: 300, SecondaryFloor: 500, NoiseCeiling: 0.3}
}

func segmentFromSamples(t *testing.T, samples []int16) Segment {
	t.Helper()
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return Segment{PCM: pcm, SampleRate: 16000, Channels: 1}
}

func constantSamples(value int16, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func alternatingSamples(value int16, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = value
		} else {
			samples[i] = -value
		}
	}
	return samples
}

func TestEvaluateRejectsSilence(t *testing.T) {
	gate := NewGate(gateConfig())
	eval := gate.Evaluate(segmentFromSamples(t, constantSamples(50, 1600)))
	if eval.Verdict != RejectSilence {
		t.Fatalf("expected reject_silence, got %s", eval.Verdict)
	}
	if eval.RMS < 49 || eval.RMS > 51 {
		t.Fatalf("expected RMS near 50, got %f", eval.RMS)
	}
}

func TestEvaluateSilenceFloorIsStrict(t *testing.T) {
	gate := NewGate(gateConfig())
	eval := gate.Evaluate(segmentFromSamples(t, constantSamples(300, 1600)))
	if eval.Verdict == RejectSilence {
		t.Fatalf("RMS exactly at silence floor must not be rejected as silence")
	}
	if eval.Verdict != PreferSecondary {
		t.Fatalf("expected prefer_secondary at RMS 300, got %s", eval.Verdict)
	}
}

func TestEvaluateSecondaryFloorIsStrict(t *testing.T) {
	gate := NewGate(gateConfig())
	eval := gate.Evaluate(segmentFromSamples(t, constantSamples(500, 1600)))
	if eval.Verdict == PreferSecondary {
		t.Fatalf("RMS exactly at secondary floor must not route to the free backend")
	}
	if eval.Verdict != Proceed {
		t.Fatalf("expected proceed at RMS 500, got %s", eval.Verdict)
	}
}

func TestEvaluateRejectsHighZeroCrossing(t *testing.T) {
	gate := NewGate(gateConfig())
	eval := gate.Evaluate(segmentFromSamples(t, alternatingSamples(800, 1600)))
	if eval.Verdict != RejectNoise {
		t.Fatalf("expected reject_noise, got %s (zcr=%f)", eval.Verdict, eval.ZeroCrossRate)
	}
	if eval.ZeroCrossRate <= 0.3 {
		t.Fatalf("expected zcr above ceiling, got %f", eval.ZeroCrossRate)
	}
}

func TestEvaluateEmptySegment(t *testing.T) {
	gate := NewGate(gateConfig())
	eval := gate.Evaluate(Segment{SampleRate: 16000, Channels: 1})
	if eval.Verdict != RejectSilence {
		t.Fatalf("expected reject_silence for empty segment, got %s", eval.Verdict)
	}
}

func TestSegmentSeconds(t *testing.T) {
	seg := segmentFromSamples(t, constantSamples(100, 16000*5))
	if got := seg.Seconds(); got != 5 {
		t.Fatalf("expected 5s segment, got %f", got)
	}
}
