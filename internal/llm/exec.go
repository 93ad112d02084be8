package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs a command per request. The request is written to stdin
// as JSON; the command prints one or more JSON objects, each carrying the
// next piece of the reply, so scripts may stream or answer in one go.
type execGenerator struct {
	cmd []string
}

type execRequest struct {
	SessionID   string  `json:"session_id"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Tier        string  `json:"tier,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
	TraceID     string  `json:"trace_id,omitempty"`
}

type execResponse struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execRequest{
		SessionID:   req.SessionID,
		Prompt:      req.Prompt,
		System:      req.System,
		Tier:        req.Tier,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TraceID:     req.TraceID,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	start := time.Now()
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("llm exec command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	var responses []execResponse
	dec := json.NewDecoder(bytes.NewReader(output))
	for {
		var resp execResponse
		if err := dec.Decode(&resp); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("decode llm exec response: %w", err)
		}
		responses = append(responses, resp)
	}
	if len(responses) == 0 {
		return errors.New("llm exec command produced no output")
	}

	for i, resp := range responses {
		last := i == len(responses)-1
		chunk := Chunk{
			SessionID:        req.SessionID,
			Content:          resp.Content,
			Partial:          !last,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			TraceID:          req.TraceID,
		}
		if last {
			chunk.Latency = time.Since(start)
		}
		if err := consumer(chunk); err != nil {
			return err
		}
	}
	return nil
}
