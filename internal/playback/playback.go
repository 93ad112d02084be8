// Package playback plays synthesized replies returned by the dialog agent.
package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/pcm"
	"github.com/loqalabs/loqa-dialog/internal/session"
	"github.com/mattn/go-shellwords"
)

// New builds the player selected by cfg. Mode "none" returns nil, which
// the session treats as playback disabled.
func New(cfg config.PlaybackConfig, logger *slog.Logger) (session.Player, error) {
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "exec":
		p, err := NewExec(cfg.Command, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "file":
		p, err := NewDir(cfg.Path)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "pcm":
		p, err := OpenPCM(cfg.Path)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported playback mode %q", cfg.Mode)
	}
}

// Exec pipes each clip to an external player such as aplay.
type Exec struct {
	args   []string
	logger *slog.Logger
}

func NewExec(command string, logger *slog.Logger) (*Exec, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("playback command is empty")
	}
	return &Exec{args: args, logger: logger.With(slog.String("component", "playback"))}, nil
}

func (e *Exec) Play(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	cmd := exec.Command(e.args[0], e.args[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("playback command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return fmt.Errorf("playback command failed: %w", err)
	}
	e.logger.Debug("played reply", slog.Int("bytes", len(audio)))
	return nil
}

// Writer streams raw PCM to w, unwrapping WAV payloads first.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// OpenPCM appends raw PCM to the file at path, which may be a named pipe
// read by a player (playback mode "pcm"). Opening a pipe blocks until the
// player opens it for reading.
func OpenPCM(path string) (*Writer, error) {
	if path == "" {
		return nil, errors.New("playback path is empty")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open playback output: %w", err)
	}
	return NewWriter(f), nil
}

// Close closes the underlying writer when it is closable.
func (p *Writer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Writer) Play(audio []byte) error {
	data := audio
	if pcm.IsWAV(audio) {
		decoded, _, err := pcm.DecodeWAV(audio)
		if err != nil {
			return err
		}
		data = decoded
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.w.Write(data)
	return err
}

// Dir saves each clip as reply-NNNN.wav under a directory.
type Dir struct {
	path string

	mu   sync.Mutex
	next int
}

func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("playback path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create playback dir: %w", err)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) Play(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	d.mu.Lock()
	d.next++
	name := filepath.Join(d.path, fmt.Sprintf("reply-%04d.wav", d.next))
	d.mu.Unlock()
	return os.WriteFile(name, audio, 0o644)
}
