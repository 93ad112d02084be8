package tts

import (
	"context"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/pcm"
)

type mockSynth struct {
	format pcm.Format
}

// NewMockSynth returns a synthesizer that renders each word as a 100ms beep,
// one chunk per word.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{format: pcm.Format{SampleRate: sampleRate, Channels: channels}}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(10 * time.Millisecond):
		}
		words := strings.Fields(req.Text)
		for i := range words {
			chunk := SynthChunk{
				SessionID: req.SessionID,
				Sequence:  i,
				Format:    m.format,
				PCM:       m.beep(100),
				Final:     i == len(words)-1,
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- chunk:
			}
		}
	}()
	return chunks, errs
}

// beep renders a quiet square wave at roughly 440 Hz.
func (m *mockSynth) beep(ms int) []byte {
	frames := m.format.SampleRate * ms / 1000
	channels := max(m.format.Channels, 1)
	half := max(m.format.SampleRate/880, 1)
	samples := make([]int, 0, frames*channels)
	for i := 0; i < frames; i++ {
		v := 1000
		if (i/half)%2 == 1 {
			v = -1000
		}
		for c := 0; c < channels; c++ {
			samples = append(samples, v)
		}
	}
	return pcm.FromInts(samples)
}
