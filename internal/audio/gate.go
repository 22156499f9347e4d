package audio

import (
	"math"

	"github.com/sokhanlabs/negar-core/internal/config"
)

// Verdict classifies a segment before any paid backend is called.
type Verdict int

const (
	Proceed Verdict = iota
	PreferSecondary
	RejectSilence
	RejectNoise
)

func (v Verdict) String() string {
	switch v {
	case Proceed:
		return "proceed"
	case PreferSecondary:
		return "prefer_secondary"
	case RejectSilence:
		return "reject_silence"
	case RejectNoise:
		return "reject_noise"
	}
	return "unknown"
}

// Evaluation carries the verdict together with the measurements that
// produced it, so callers can log and re-check against their own thresholds.
type Evaluation struct {
	Verdict       Verdict
	RMS           float64
	ZeroCrossRate float64
}

// Gate decides whether a segment is worth sending to a recognition service.
// Pure function of the sample buffer; no side effects.
type Gate struct {
	cfg config.GateConfig
}

func NewGate(cfg config.GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

func (g *Gate) Evaluate(seg Segment) Evaluation {
	rms, zcr := Measure(seg)
	eval := Evaluation{RMS: rms, ZeroCrossRate: zcr}

	switch {
	case rms < g.cfg.SilenceFloor:
		eval.Verdict = RejectSilence
	case rms < g.cfg.SecondaryFloor:
		eval.Verdict = PreferSecondary
	case zcr > g.cfg.NoiseCeiling:
		eval.Verdict = RejectNoise
	default:
		eval.Verdict = Proceed
	}
	return eval
}

// Measure computes RMS energy and zero-crossing rate over the int16 samples.
// ZCR counts sign transitions normalized to 2N, matching the convention
// sum(|diff(sign(x))|) / 2N.
func Measure(seg Segment) (rms, zcr float64) {
	samples := seg.Samples()
	if len(samples) == 0 {
		return 0, 0
	}

	var sumSquares float64
	var transitions float64
	prev := sign(samples[0])
	for i, sample := range samples {
		f := float64(sample)
		sumSquares += f * f
		if i > 0 {
			cur := sign(sample)
			transitions += math.Abs(float64(cur - prev))
			prev = cur
		}
	}
	rms = math.Sqrt(sumSquares / float64(len(samples)))
	zcr = transitions / (2 * float64(len(samples)))
	return rms, zcr
}

func sign(s int16) int {
	switch {
	case s > 0:
		return 1
	case s < 0:
		return -1
	}
	return 0
}
