package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dialog/internal/pcm"
)

// Render synthesizes req and returns the concatenated PCM together with its
// format. Chunks are joined in arrival order.
func Render(ctx context.Context, synth Synthesizer, req SynthRequest) ([]byte, pcm.Format, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var (
		audio  []byte
		format pcm.Format
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if format.SampleRate == 0 {
				format = chunk.Format
			}
			audio = append(audio, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, pcm.Format{}, fmt.Errorf("tts synthesis error: %w", err)
			}
		case <-ctx.Done():
			return nil, pcm.Format{}, fmt.Errorf("tts synthesis cancelled: %w", ctx.Err())
		}
	}
	return audio, format, nil
}

// RenderWAV synthesizes req into a WAV file.
func RenderWAV(ctx context.Context, synth Synthesizer, req SynthRequest) ([]byte, error) {
	audio, format, err := Render(ctx, synth, req)
	if err != nil {
		return nil, err
	}
	if format.SampleRate == 0 {
		return nil, nil
	}
	return pcm.EncodeWAV(audio, format)
}
