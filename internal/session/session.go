// Package session implements the client side of a voice/text conversation:
// turn-taking state, fixed-size audio chunking, and merging of streamed
// recognition and query results into an ordered transcript.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Collaborators are the external services a Session drives. Client is
// required; the rest are optional.
type Collaborators struct {
	Client  Client
	Capture Capture
	Player  Player
	Sink    transcript.Sink
}

// Session serializes every state transition and transcript mutation behind
// one mutex. Network calls run on tracked goroutines and rejoin through
// handleStreamResult / handleTextResult.
type Session struct {
	cfg       config.SessionConfig
	client    Client
	capture   Capture
	player    Player
	sink      transcript.Sink
	logger    *slog.Logger
	chunkSize int
	timeout   time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	notify  *notifier
	metrics *instruments
	tracer  trace.Tracer

	// captureMu orders capture Start and Stop calls so a stop issued while a
	// turn is still starting its capture runs after that start.
	captureMu sync.Mutex

	mu             sync.Mutex
	state          State
	buffer         []byte
	inflight       bool
	pendingText    string
	turn           uint64
	userEntry      int
	partialsClosed bool
	log            transcript.Log
	closed         bool
	// stopped is closed once the capture of the last listening turn has
	// stopped; nil when nothing is tearing down.
	stopped chan struct{}
}

// ChunkSize is the number of bytes per dispatched audio chunk.
func ChunkSize(cfg config.SessionConfig) int {
	return cfg.SampleRate * cfg.BytesPerSample * cfg.ChunkDurationMS / 1000
}

func New(parent context.Context, cfg config.SessionConfig, deps Collaborators, logger *slog.Logger) (*Session, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("session requires a conversation client")
	}
	size := ChunkSize(cfg)
	if size <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d (sample_rate=%d bytes_per_sample=%d chunk_duration_ms=%d)",
			size, cfg.SampleRate, cfg.BytesPerSample, cfg.ChunkDurationMS)
	}
	timeout := time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		cfg:       cfg,
		client:    deps.Client,
		capture:   deps.Capture,
		player:    deps.Player,
		sink:      deps.Sink,
		logger:    logger.With(slog.String("component", "session")),
		chunkSize: size,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
		notify:    newNotifier(),
		metrics:   newInstruments(),
		tracer:    otel.Tracer(instrumentationName),
		userEntry: -1,
	}, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a snapshot of the transcript.
func (s *Session) Transcript() []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Entries()
}

// Buffered reports how many captured bytes are waiting to be dispatched.
func (s *Session) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func (s *Session) ChunkSize() int { return s.chunkSize }

// Flush waits until sinks and the player have seen every update made so far.
func (s *Session) Flush() { s.notify.flush() }

// Close stops listening, cancels outstanding requests and waits for them,
// then delivers any queued notifications.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.state == Listening {
		s.stopLocked()
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.notify.close()
}

// StartListening opens a new audio turn. It is only valid while Idle, and
// waits for the previous turn's capture to stop before starting it again.
func (s *Session) StartListening() error {
	s.mu.Lock()
	for {
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.state != Idle {
			state := s.state
			s.mu.Unlock()
			return fmt.Errorf("%w: start listening while %s", ErrInvalidState, state)
		}
		stopped := s.stopped
		if stopped == nil {
			break
		}
		s.mu.Unlock()
		select {
		case <-stopped:
		case <-s.ctx.Done():
			return ErrClosed
		}
		s.mu.Lock()
		if s.stopped == stopped {
			s.stopped = nil
		}
	}
	s.beginTurnLocked()
	s.state = Listening
	s.buffer = nil
	turn := s.turn
	s.mu.Unlock()

	s.metrics.turnStarted("audio")
	s.logger.Debug("listening", slog.Uint64("turn", turn))

	if s.capture == nil {
		return nil
	}
	s.captureMu.Lock()
	err := s.capture.Prepare(s.cfg.SampleRate)
	if err == nil {
		err = s.capture.Start(s)
	}
	s.captureMu.Unlock()
	if err != nil {
		return s.failTurn(turn, newError(AudioSessionSetupError, err))
	}
	return nil
}

// FeedAudio buffers captured PCM and dispatches a chunk once more than one
// chunk's worth is buffered and no request is in flight.
func (s *Session) FeedAudio(sample []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Listening {
		return ErrNotListening
	}
	s.buffer = append(s.buffer, sample...)
	s.dispatchLocked()
	return nil
}

// StopListening ends the audio turn. It does nothing unless Listening.
func (s *Session) StopListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Listening {
		return
	}
	s.stopLocked()
}

// SendText starts a text turn. Blank input is rejected without any effect.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != Idle {
		return fmt.Errorf("%w: send text while %s", ErrInvalidState, s.state)
	}
	s.beginTurnLocked()
	s.state = AwaitingTextResponse
	s.pendingText = text
	s.metrics.turnStarted("text")
	s.dispatchLocked()
	return nil
}

func (s *Session) OnPartialRecognition(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialLocked(text)
}

func (s *Session) OnFinalRecognition() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalLocked()
}

func (s *Session) OnQueryResult(result QueryResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryResultLocked(result)
}

// OnError records err in the transcript and forces the session to Idle.
func (s *Session) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorLocked(err)
}

func (s *Session) beginTurnLocked() {
	s.settleUserLocked()
	s.turn++
	s.userEntry = -1
	s.partialsClosed = false
	s.pendingText = ""
}

func (s *Session) stopLocked() {
	s.state = Idle
	s.buffer = nil
	s.settleUserLocked()

	capture := s.capture
	turn := s.turn
	stopped := make(chan struct{})
	s.stopped = stopped
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if capture != nil {
			s.captureMu.Lock()
			if err := capture.Stop(); err != nil {
				s.logger.Warn("failed to stop audio capture", slogError(err))
			}
			s.captureMu.Unlock()
		}
		close(stopped)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.timeout)
		defer cancel()
		if err := s.client.CloseStream(ctx, turn); err != nil {
			s.logger.Warn("failed to close audio stream", slogError(err))
		}
	}()
}

// dispatchLocked hands the single request slot to whatever is waiting for it.
func (s *Session) dispatchLocked() {
	if s.inflight || s.closed {
		return
	}
	switch s.state {
	case AwaitingTextResponse:
		if s.pendingText == "" {
			return
		}
		text := s.pendingText
		s.pendingText = ""
		s.inflight = true
		s.wg.Add(1)
		go s.sendText(s.turn, text)
	case Listening:
		if len(s.buffer) <= s.chunkSize {
			return
		}
		chunk := append([]byte(nil), s.buffer[:s.chunkSize]...)
		n := copy(s.buffer, s.buffer[s.chunkSize:])
		s.buffer = s.buffer[:n]
		s.inflight = true
		s.metrics.chunkSent(len(chunk))
		s.wg.Add(1)
		go s.sendChunk(s.turn, chunk)
	}
}

func (s *Session) sendChunk(turn uint64, chunk []byte) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "session.stream_audio_chunk", trace.WithAttributes(
		attribute.Int64("turn", int64(turn)),
		attribute.Int("chunk.bytes", len(chunk)),
	))
	result, err := s.client.StreamAudioChunk(ctx, turn, chunk)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.handleStreamResult(turn, result, err)
}

func (s *Session) sendText(turn uint64, text string) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "session.send_text", trace.WithAttributes(
		attribute.Int64("turn", int64(turn)),
	))
	result, err := s.client.SendText(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.handleTextResult(turn, result, err)
}

func (s *Session) handleStreamResult(turn uint64, result StreamResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	defer s.dispatchLocked()

	if turn != s.turn || s.state != Listening {
		s.metrics.discarded()
		s.logger.Debug("discarding late stream response", slog.Uint64("turn", turn))
		return
	}
	if err != nil {
		s.errorLocked(newError(NetworkError, err))
		return
	}

	final := false
	if rec := result.Recognition; rec != nil {
		s.partialLocked(rec.Transcript)
		if rec.Final {
			final = true
			s.finalLocked()
		}
	}
	if result.QueryResult != nil {
		s.queryResultLocked(*result.QueryResult)
	}
	if final && s.userEntry < 0 {
		s.errorLocked(newError(EmptyRecognitionResult, ErrNoSpeech))
	}
}

func (s *Session) handleTextResult(turn uint64, result QueryResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	defer s.dispatchLocked()

	if turn != s.turn || s.state != AwaitingTextResponse {
		s.metrics.discarded()
		s.logger.Debug("discarding late text response", slog.Uint64("turn", turn))
		return
	}
	if err != nil {
		s.errorLocked(newError(NetworkError, err))
		return
	}
	s.queryResultLocked(result)
}

func (s *Session) partialLocked(text string) {
	if text == "" || s.partialsClosed {
		return
	}
	if s.userEntry >= 0 {
		if idx, ok := s.log.ReplaceTrailingIfPending(transcript.User, text); ok && idx == s.userEntry {
			s.emitReplaced(idx)
			return
		}
	}
	s.userEntry = s.log.Append(transcript.User, text, true)
	s.emitAppended(s.userEntry)
}

func (s *Session) finalLocked() {
	s.partialsClosed = true
	s.settleUserLocked()
	if s.state == Listening {
		s.stopLocked()
	}
}

// queryResultLocked merges the backend's view of the turn. Its query text
// always wins over whatever the recognizer produced.
func (s *Session) queryResultLocked(q QueryResult) {
	if q.QueryText != "" {
		if s.userEntry >= 0 && s.log.Rewrite(s.userEntry, transcript.User, q.QueryText) {
			s.emitReplaced(s.userEntry)
		} else {
			s.userEntry = s.log.Append(transcript.User, q.QueryText, false)
			s.emitAppended(s.userEntry)
		}
		s.partialsClosed = true
	}
	if text := displayText(q); text != "" {
		idx := s.log.Append(transcript.Bot, text, false)
		s.emitAppended(idx)
	}
	if len(q.OutputAudio) > 0 {
		s.emitAudio(q.OutputAudio)
	}
	if s.state == AwaitingTextResponse {
		s.state = Idle
	}
}

func (s *Session) errorLocked(err error) {
	if err == nil {
		return
	}
	s.metrics.failed(err)
	s.logger.Warn("turn failed", slogError(err), slog.String("state", s.state.String()))
	if s.state == Listening {
		s.stopLocked()
	}
	s.state = Idle
	s.pendingText = ""
	s.partialsClosed = true
	s.settleUserLocked()
	idx := s.log.Append(transcript.Bot, err.Error(), false)
	s.emitAppended(idx)
}

// failTurn reports a setup failure for turn unless that turn already ended.
func (s *Session) failTurn(turn uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == turn {
		s.errorLocked(err)
	}
	return err
}

func (s *Session) settleUserLocked() {
	if s.userEntry < 0 {
		return
	}
	entry, ok := s.log.At(s.userEntry)
	if !ok || !entry.Pending {
		return
	}
	s.log.Settle(s.userEntry)
	s.emitReplaced(s.userEntry)
}

func (s *Session) emitAppended(index int) {
	if s.sink == nil {
		return
	}
	entry, _ := s.log.At(index)
	sink := s.sink
	s.notify.enqueue(func() { sink.EntryAppended(index, entry) })
}

func (s *Session) emitReplaced(index int) {
	if s.sink == nil {
		return
	}
	entry, _ := s.log.At(index)
	sink := s.sink
	s.notify.enqueue(func() { sink.EntryReplaced(index, entry) })
}

func (s *Session) emitAudio(audio []byte) {
	if s.player == nil {
		return
	}
	player := s.player
	logger := s.logger
	s.notify.enqueue(func() {
		if err := player.Play(audio); err != nil {
			logger.Warn("error occurred while playing audio", slogError(err))
		}
	})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
