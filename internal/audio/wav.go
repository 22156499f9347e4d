package audio

import (
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes the segment as a 16-bit PCM WAV stream. The writer must
// support seeking because the encoder patches the RIFF header on close.
func WriteWAV(ws io.WriteSeeker, seg Segment) error {
	if len(seg.PCM)%bytesPerSample != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	samples := seg.Samples()
	buffer := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: seg.Channels, SampleRate: seg.SampleRate},
		Data:   make([]int, len(samples)),
	}
	for i, sample := range samples {
		buffer.Data[i] = int(sample)
	}

	enc := wav.NewEncoder(ws, seg.SampleRate, 16, seg.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
