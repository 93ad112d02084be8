// Package stt turns buffered utterance audio into text.
package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/pcm"
)

// Utterance is all audio received for one stream so far.
type Utterance struct {
	Audio  []byte
	Format pcm.Format
	// Final marks the last pass over the audio; earlier passes feed
	// partial transcripts.
	Final bool
}

func (u Utterance) Duration() int {
	bytesPerSecond := u.Format.SampleRate * u.Format.Channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return len(u.Audio) * 1000 / bytesPerSecond
}

type Transcript struct {
	Text       string
	Confidence float64
}

type Recognizer interface {
	Recognize(ctx context.Context, u Utterance) (Transcript, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "exec":
		r, err := NewExecRecognizer(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}

// MockRecognizer describes the audio instead of transcribing it. Silence
// yields an empty transcript.
type MockRecognizer struct{}

func NewMockRecognizer() *MockRecognizer { return &MockRecognizer{} }

func (MockRecognizer) Recognize(ctx context.Context, u Utterance) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if pcm.Silent(u.Audio) {
		return Transcript{}, nil
	}
	pass := "partial"
	if u.Final {
		pass = "final"
	}
	return Transcript{
		Text:       fmt.Sprintf("%s transcript of %dms of audio", pass, u.Duration()),
		Confidence: 1,
	}, nil
}
