package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/sokhanlabs/negar-core/internal/config"
)

// Source captures one fixed-duration window of microphone audio. Capture
// blocks for the full window.
type Source interface {
	Capture(ctx context.Context) (Segment, error)
}

func NewSource(cfg config.CaptureConfig) (Source, error) {
	switch cfg.Mode {
	case "mock":
		return &mockSource{cfg: cfg}, nil
	case "exec":
		return newExecSource(cfg)
	}
	return nil, fmt.Errorf("unsupported capture mode %q", cfg.Mode)
}

// execSource shells out to an external capture command (arecord, sox, or a
// shim script) that writes raw little-endian int16 PCM to stdout for the
// requested window. The command contract mirrors the recognizer shims:
// --rate, --channels and --seconds are appended to the configured command.
type execSource struct {
	cmd []string
	cfg config.CaptureConfig
}

func newExecSource(cfg config.CaptureConfig) (*execSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &execSource{cmd: args, cfg: cfg}, nil
}

func (s *execSource) Capture(ctx context.Context) (Segment, error) {
	args := append([]string{}, s.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs,
		"--rate", strconv.Itoa(s.cfg.SampleRate),
		"--channels", strconv.Itoa(s.cfg.Channels),
		"--seconds", strconv.Itoa(s.cfg.WindowSeconds),
	)

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Segment{}, fmt.Errorf("capture command failed: %w: %s", err, stderr.String())
	}

	pcm := stdout.Bytes()
	if len(pcm)%bytesPerSample != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return Segment{
		PCM:        pcm,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// mockSource sleeps for the window and yields a silent segment. Used in
// development and tests where no microphone is present.
type mockSource struct {
	cfg config.CaptureConfig
}

func (s *mockSource) Capture(ctx context.Context) (Segment, error) {
	window := time.Duration(s.cfg.WindowSeconds) * time.Second
	select {
	case <-ctx.Done():
		return Segment{}, ctx.Err()
	case <-time.After(window):
	}
	frames := s.cfg.SampleRate * s.cfg.WindowSeconds * s.cfg.Channels
	return Segment{
		PCM:        make([]byte, frames*bytesPerSample),
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		CapturedAt: time.Now().UTC(),
	}, nil
}
