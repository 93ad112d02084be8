// Package capture feeds microphone-like PCM into a conversation session.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-dialog/internal/session"
	"github.com/mattn/go-shellwords"
)

// Exec records audio by running an external command that writes raw 16-bit
// mono PCM to stdout, such as arecord or sox. The token {rate} in the
// command is replaced by the session sample rate.
type Exec struct {
	args    []string
	frameMS int
	logger  *slog.Logger

	mu         sync.Mutex
	sampleRate int
	cmd        *exec.Cmd
	done       chan struct{}
}

var _ session.Capture = (*Exec)(nil)

func NewExec(command string, frameMS int, logger *slog.Logger) (*Exec, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	if frameMS <= 0 {
		frameMS = 20
	}
	return &Exec{args: args, frameMS: frameMS, logger: logger.With(slog.String("component", "capture"))}, nil
}

func (e *Exec) Prepare(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if _, err := exec.LookPath(e.args[0]); err != nil {
		return fmt.Errorf("capture command %q: %w", e.args[0], err)
	}
	e.mu.Lock()
	e.sampleRate = sampleRate
	e.mu.Unlock()
	return nil
}

func (e *Exec) Start(sink session.AudioSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil {
		return errors.New("capture already running")
	}
	if e.sampleRate <= 0 {
		return errors.New("capture not prepared")
	}

	rate := strconv.Itoa(e.sampleRate)
	args := make([]string, len(e.args))
	for i, a := range e.args {
		args[i] = strings.ReplaceAll(a, "{rate}", rate)
	}
	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start capture command: %w", err)
	}
	e.cmd = cmd
	e.done = make(chan struct{})

	frame := e.sampleRate * 2 * e.frameMS / 1000
	go e.pump(stdout, frame, sink, e.done)
	e.logger.Debug("capture started", slog.String("command", args[0]), slog.Int("sample_rate", e.sampleRate))
	return nil
}

func (e *Exec) pump(r io.Reader, frameBytes int, sink session.AudioSink, done chan struct{}) {
	defer close(done)
	buf := make([]byte, frameBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if ferr := sink.FeedAudio(append([]byte(nil), buf[:n]...)); ferr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				e.logger.Warn("capture read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// Stop terminates the recorder and waits for the reader to drain.
func (e *Exec) Stop() error {
	e.mu.Lock()
	cmd, done := e.cmd, e.done
	e.cmd, e.done = nil, nil
	e.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
	_ = cmd.Wait()
	return nil
}
