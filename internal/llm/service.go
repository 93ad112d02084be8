package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Completion is a fully collected model response.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Complete runs req through g and joins the streamed chunks.
func Complete(ctx context.Context, g Generator, req Request) (Completion, error) {
	var (
		out  Completion
		text strings.Builder
	)
	start := time.Now()
	err := g.Generate(ctx, req, func(chunk Chunk) error {
		text.WriteString(chunk.Content)
		if chunk.PromptTokens > 0 {
			out.PromptTokens = chunk.PromptTokens
		}
		if chunk.CompletionTokens > 0 {
			out.CompletionTokens = chunk.CompletionTokens
		}
		return nil
	})
	if err != nil {
		return Completion{}, fmt.Errorf("llm generation failed: %w", err)
	}
	out.Content = strings.TrimSpace(text.String())
	out.Latency = time.Since(start)
	return out, nil
}
