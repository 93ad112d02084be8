package llm

import (
	"context"
	"strings"
	"time"
)

// mockGenerator echoes the prompt back, streamed one word at a time the way
// a real model would deliver it.
type mockGenerator struct {
	delay time.Duration
}

func NewMockGenerator() Generator { return &mockGenerator{delay: 20 * time.Millisecond} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
	}

	words := strings.Fields("You said: " + strings.TrimSpace(req.Prompt))
	for i, word := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			word = " " + word
		}
		if err := consumer(Chunk{SessionID: req.SessionID, Content: word, Partial: true, TraceID: req.TraceID}); err != nil {
			return err
		}
	}
	return consumer(Chunk{
		SessionID:        req.SessionID,
		Partial:          false,
		PromptTokens:     len(strings.Fields(req.Prompt)),
		CompletionTokens: len(words),
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}
