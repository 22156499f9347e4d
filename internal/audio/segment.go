package audio

import (
	"encoding/binary"
	"time"
)

// Segment is one fixed-duration chunk of captured microphone audio:
// little-endian int16 PCM, created by the capture source and consumed
// exactly once by the pipeline.
type Segment struct {
	PCM        []byte
	SampleRate int
	Channels   int
	CapturedAt time.Time
}

const bytesPerSample = 2

// Seconds derives the nominal duration from the buffer length.
func (s Segment) Seconds() float64 {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	frames := len(s.PCM) / bytesPerSample / s.Channels
	return float64(frames) / float64(s.SampleRate)
}

func (s Segment) Duration() time.Duration {
	return time.Duration(s.Seconds() * float64(time.Second))
}

// Samples decodes the PCM buffer into int16 samples. A trailing odd byte is
// ignored.
func (s Segment) Samples() []int16 {
	samples := make([]int16, len(s.PCM)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(s.PCM[i*bytesPerSample:]))
	}
	return samples
}
