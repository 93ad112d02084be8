// Package tts synthesizes spoken replies.
package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/pcm"
)

type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk is one piece of synthesized audio. Chunks of a reply share a
// format; Final marks the last one.
type SynthChunk struct {
	SessionID string
	Sequence  int
	Format    pcm.Format
	PCM       []byte
	Final     bool
}

// Synthesizer streams audio for a reply. Both channels are closed when
// synthesis ends; at most one error is sent.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// New builds the synthesizer selected by cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
