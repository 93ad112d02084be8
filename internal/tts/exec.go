package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/loqalabs/loqa-dialog/internal/pcm"
	"github.com/mattn/go-shellwords"
)

const maxLineBytes = 16 << 20

// execSynth writes {text, voice, sample_rate, channels} to the command's stdin
// and reads newline-delimited JSON objects from stdout. Each object carries
// either raw 16-bit PCM (pcm_base64) or a complete WAV file (wav_base64);
// a WAV payload or explicit sample_rate/channels override the configured
// format for that chunk.
type execSynth struct {
	cmd    []string
	format pcm.Format
}

type execRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64,omitempty"`
	WAVBase64  string `json:"wav_base64,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Final      bool   `json:"final"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("tts command empty")
	}
	return &execSynth{cmd: args, format: pcm.Format{SampleRate: sampleRate, Channels: channels}}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk) error {
	input, err := json.Marshal(execRequest{
		SessionID:  req.SessionID,
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.format.SampleRate,
		Channels:   e.format.Channels,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts command: %w", err)
	}
	waited := false
	defer func() {
		if !waited {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	sequence := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunk, err := e.decode(line)
		if err != nil {
			return err
		}
		chunk.SessionID = req.SessionID
		chunk.Sequence = sequence
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		sequence++
	}
	scanErr := scanner.Err()

	waited = true
	if err := cmd.Wait(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("tts command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("tts command failed: %w", err)
	}
	if scanErr != nil {
		return fmt.Errorf("read tts output: %w", scanErr)
	}
	return nil
}

func (e *execSynth) decode(line []byte) (SynthChunk, error) {
	var resp execResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return SynthChunk{}, fmt.Errorf("decode tts output: %w", err)
	}
	format := e.format
	var audio []byte
	switch {
	case resp.WAVBase64 != "":
		data, err := base64.StdEncoding.DecodeString(resp.WAVBase64)
		if err != nil {
			return SynthChunk{}, fmt.Errorf("decode tts wav: %w", err)
		}
		audio, format, err = pcm.DecodeWAV(data)
		if err != nil {
			return SynthChunk{}, err
		}
	default:
		data, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return SynthChunk{}, fmt.Errorf("decode tts pcm: %w", err)
		}
		audio = data
		if resp.SampleRate > 0 {
			format.SampleRate = resp.SampleRate
		}
		if resp.Channels > 0 {
			format.Channels = resp.Channels
		}
	}
	return SynthChunk{Format: format, PCM: audio, Final: resp.Final}, nil
}
