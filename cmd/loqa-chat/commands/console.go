package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dialog/internal/bus"
	"github.com/loqalabs/loqa-dialog/internal/capability"
	"github.com/loqalabs/loqa-dialog/internal/capture"
	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/dialogclient"
	"github.com/loqalabs/loqa-dialog/internal/eventstore"
	"github.com/loqalabs/loqa-dialog/internal/playback"
	"github.com/loqalabs/loqa-dialog/internal/session"
	"github.com/loqalabs/loqa-dialog/internal/transcript"
)

// agentUnreachableError is shown in the transcript when no agent answers.
type agentUnreachableError struct {
	err error
}

func (e agentUnreachableError) Error() string {
	return fmt.Sprintf("Error: %v\n\nBe sure that the loqa daemon is running and reachable.", e.err)
}

func (e agentUnreachableError) Unwrap() error { return e.err }

// console is one wired conversation: bus, presence, history and session.
type console struct {
	cfg      config.Config
	logger   *slog.Logger
	bus      *bus.Client
	registry *capability.Registry
	store    *eventstore.Store
	writer   *transcript.Writer
	client   *dialogclient.Client
	player   session.Player
	session  *session.Session
}

type consoleOptions struct {
	out          io.Writer
	captureAudio bool
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	cfg.Node.ID = "loqa-chat-" + uuid.NewString()[:8]
	cfg.Node.Role = "client"
	cfg.Node.Capabilities = []config.NodeCapability{{Name: "dialog.console"}}
	cfg.EventStore.Path = historyPath
	if historyPath == "" {
		cfg.EventStore.RetentionMode = "ephemeral"
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	// stderr is shared with the prompt, so only warnings surface by default.
	level := max(cfg.Telemetry.Level(slog.LevelWarn), slog.LevelWarn)
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openConsole(ctx context.Context, cfg config.Config, logger *slog.Logger, opts consoleOptions) (*console, error) {
	c := &console{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	var err error
	c.bus, err = bus.Connect(ctx, cfg.Bus, cfg.Node.ID, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}
	c.registry, err = capability.NewRegistry(ctx, cfg.Node, c.bus, logger)
	if err != nil {
		return nil, fmt.Errorf("start presence: %w", err)
	}
	c.store, err = eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	c.client = dialogclient.New(c.bus.Conn(), "", cfg.Session.SampleRate, 1, logger)
	if err := c.store.AppendSession(ctx, c.client.SessionID(), cfg.Node.ID, "session"); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}

	deps := session.Collaborators{Client: c.client}
	c.writer = transcript.NewWriter(opts.out, ansi)
	sinks := transcript.Sinks{c.writer}
	if historyPath != "" {
		sinks = append(sinks, transcript.NewRecorder(c.store, c.client.SessionID(), cfg.Node.ID, logger))
	}
	deps.Sink = sinks

	if opts.captureAudio {
		deps.Capture, err = newCapture(cfg.Capture, logger)
		if err != nil {
			return nil, err
		}
	}
	c.player, err = playback.New(cfg.Playback, logger)
	if err != nil {
		return nil, err
	}
	deps.Player = c.player

	c.session, err = session.New(ctx, cfg.Session, deps, logger)
	if err != nil {
		return nil, err
	}
	ok = true
	return c, nil
}

func newCapture(cfg config.CaptureConfig, logger *slog.Logger) (session.Capture, error) {
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "exec":
		c, err := capture.NewExec(cfg.Command, cfg.FrameMS, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "wav":
		return capture.NewWAVFile(cfg.File, cfg.FrameMS, cfg.Realtime, logger), nil
	default:
		return nil, fmt.Errorf("unsupported capture mode %q", cfg.Mode)
	}
}

// waitForAgent blocks until a healthy agent is known. On failure the error
// is also appended to the transcript.
func (c *console) waitForAgent(ctx context.Context) bool {
	wait := time.Duration(c.cfg.Session.AgentWaitMS) * time.Millisecond
	if wait <= 0 {
		wait = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	node, err := c.registry.WaitFor(ctx, c.cfg.Agent.Capability)
	if err != nil {
		c.session.OnError(agentUnreachableError{err: err})
		c.session.Flush()
		return false
	}
	c.logger.Debug("dialog agent found", slog.String("node_id", node.ID))
	return true
}

// awaitIdle waits for the current turn to finish and its output to be shown.
func (c *console) awaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for c.session.State() != session.Idle {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	c.session.Flush()
	return nil
}

func (c *console) Close() {
	if c.session != nil {
		c.session.Close()
	}
	if closer, ok := c.player.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("failed to close playback output", slog.String("error", err.Error()))
		}
	}
	if c.writer != nil {
		c.writer.Flush()
	}
	if c.registry != nil {
		c.registry.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("failed to close history", slog.String("error", err.Error()))
		}
	}
	if c.bus != nil {
		c.bus.Close()
	}
}
