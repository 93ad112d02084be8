package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/pcm"
	"github.com/mattn/go-shellwords"
)

// ExecRecognizer runs an external transcriber once per pass. The utterance
// is written to the process stdin as a WAV file; the process prints
// {"text": ..., "confidence": ...} on stdout.
type ExecRecognizer struct {
	args []string
}

func NewExecRecognizer(cfg config.STTConfig) (*ExecRecognizer, error) {
	args, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("stt command is empty")
	}
	if cfg.ModelPath != "" {
		args = append(args, "--model", cfg.ModelPath)
	}
	if cfg.Language != "" {
		args = append(args, "--language", cfg.Language)
	}
	return &ExecRecognizer{args: args}, nil
}

func (r *ExecRecognizer) Recognize(ctx context.Context, u Utterance) (Transcript, error) {
	wav, err := pcm.EncodeWAV(u.Audio, u.Format)
	if err != nil {
		return Transcript{}, err
	}

	args := append([]string(nil), r.args[1:]...)
	if !u.Final {
		args = append(args, "--partial")
	}
	cmd := exec.CommandContext(ctx, r.args[0], args...)
	cmd.Stdin = bytes.NewReader(wav)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Transcript{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var out struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return Transcript{}, fmt.Errorf("decode stt output: %w", err)
	}
	return Transcript{Text: strings.TrimSpace(out.Text), Confidence: out.Confidence}, nil
}
