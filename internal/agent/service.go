// Package agent answers dialog requests from console clients: it buffers
// streamed audio per turn, runs speech recognition, asks the language model
// for a reply and synthesizes it.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/bus"
	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/eventstore"
	"github.com/loqalabs/loqa-dialog/internal/llm"
	"github.com/loqalabs/loqa-dialog/internal/pcm"
	"github.com/loqalabs/loqa-dialog/internal/protocol"
	"github.com/loqalabs/loqa-dialog/internal/stt"
	"github.com/loqalabs/loqa-dialog/internal/tts"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Backends are the speech and language engines behind the agent. Synth may
// be nil, in which case replies carry no audio.
type Backends struct {
	Recognizer stt.Recognizer
	Generator  llm.Generator
	Synth      tts.Synthesizer
}

type Service struct {
	cfg     config.AgentConfig
	sttCfg  config.STTConfig
	llmCfg  config.LLMConfig
	ttsCfg  config.TTSConfig
	bus     *bus.Client
	engines Backends
	store   *eventstore.Store
	logger  *slog.Logger
	metrics *instruments
	tracer  trace.Tracer
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	ready  atomic.Bool

	mu       sync.Mutex
	streams  streamTable
	sessions map[string]struct{}
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, engines Backends, store *eventstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	timeout := time.Duration(cfg.Agent.RequestTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	s := &Service{
		cfg:     cfg.Agent,
		sttCfg:  cfg.STT,
		llmCfg:  cfg.LLM,
		ttsCfg:  cfg.TTS,
		bus:     busClient,
		engines: engines,
		store:   store,
		logger:  logger.With(slog.String("component", "dialog-agent")),
		tracer:  otel.Tracer(instrumentationName),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		streams: streamTable{
			max:            cfg.Agent.MaxStreams,
			utteranceMS:    cfg.Agent.UtteranceMS,
			partialEvery:   time.Duration(cfg.STT.PartialEveryMS) * time.Millisecond,
			publishInterim: cfg.STT.PublishInterim,
			defaultFormat:  pcm.Format{SampleRate: cfg.STT.SampleRate, Channels: cfg.STT.Channels},
			streams:        make(map[string]*streamState),
			now:            time.Now,
		},
		sessions: make(map[string]struct{}),
	}
	s.metrics = newInstruments(s.activeStreams)
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.engines.Recognizer == nil || s.engines.Generator == nil {
		return errors.New("dialog agent requires a recognizer and a generator")
	}
	conn := s.bus.Conn()
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectAudioChunk, s.handleChunk},
		{protocol.SubjectTextQuery, s.handleText},
		{protocol.SubjectStreamClose, s.handleStreamClose},
	}
	for _, h := range handlers {
		sub, err := conn.Subscribe(h.subject, h.handler)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := conn.Flush(); err != nil {
		s.unsubscribe()
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	s.wg.Add(1)
	go s.expireLoop()

	s.ready.Store(true)
	s.logger.Info("dialog agent started",
		slog.String("stt", s.sttCfg.Mode),
		slog.String("llm", s.llmCfg.Mode),
		slog.Bool("tts", s.engines.Synth != nil))
	return nil
}

func (s *Service) Close() {
	s.ready.Store(false)
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) activeStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams.len()
}

// expireLoop forgets streams whose client went away without closing them.
func (s *Service) expireLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.timeout)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			dropped := s.streams.expire(2 * s.timeout)
			s.mu.Unlock()
			if dropped > 0 {
				s.logger.Info("expired idle audio streams", slog.Int("count", dropped))
			}
		}
	}
}

func (s *Service) handleChunk(msg *nats.Msg) {
	s.metrics.request("audio")
	var req protocol.AudioChunkRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode audio chunk", slogError(err))
		s.replyChunkError(msg, "", fmt.Errorf("decode audio chunk: %w", err))
		return
	}
	if req.StreamID == "" {
		s.replyChunkError(msg, "", errors.New("stream_id is required"))
		return
	}

	s.mu.Lock()
	res, err := s.streams.push(req.StreamID, req.SessionID, req.Sequence, pcm.Format{SampleRate: req.SampleRate, Channels: req.Channels}, req.PCM)
	s.mu.Unlock()
	if err != nil {
		s.replyChunkError(msg, req.StreamID, err)
		return
	}
	if res.OutOfOrder {
		s.logger.Warn("audio chunk out of order", slog.String("stream_id", req.StreamID), slog.Int("sequence", req.Sequence))
	}
	if res.Action == actionNone {
		s.reply(msg, protocol.AudioChunkResponse{StreamID: req.StreamID})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()

		final := res.Action == actionFinal
		ctx, span := s.tracer.Start(ctx, "agent.audio_chunk", trace.WithAttributes(
			attribute.String("stream.id", req.StreamID),
			attribute.Bool("final", final),
			attribute.Int("audio.bytes", len(res.Audio)),
		))
		defer span.End()

		resp, err := s.recognize(ctx, req, res, final)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.replyChunkError(msg, req.StreamID, err)
			s.recordFailure(req.SessionID, "audio", err)
			return
		}
		s.reply(msg, resp)
	}()
}

func (s *Service) recognize(ctx context.Context, req protocol.AudioChunkRequest, res pushResult, final bool) (protocol.AudioChunkResponse, error) {
	resp := protocol.AudioChunkResponse{StreamID: req.StreamID}
	result, err := s.engines.Recognizer.Recognize(ctx, stt.Utterance{Audio: res.Audio, Format: res.Format, Final: final})
	if err != nil {
		if !final {
			// partials are best effort; the final pass will retry the audio
			s.logger.Warn("partial transcription failed", slog.String("stream_id", req.StreamID), slogError(err))
			return resp, nil
		}
		return resp, fmt.Errorf("transcription failed: %w", err)
	}
	text := result.Text
	resp.Recognition = &protocol.Recognition{Transcript: text, Final: final, Confidence: result.Confidence}
	if !final {
		return resp, nil
	}

	s.logger.Info("utterance recognized",
		slog.String("session_id", req.SessionID),
		slog.String("stream_id", req.StreamID),
		slog.Int("audio_bytes", len(res.Audio)))
	if text == "" {
		return resp, nil
	}
	query, audio, err := s.respond(ctx, req.SessionID, text, "audio")
	if err != nil {
		return resp, err
	}
	resp.QueryResult = &query
	resp.OutputAudio = audio
	return resp, nil
}

func (s *Service) handleText(msg *nats.Msg) {
	s.metrics.request("text")
	var req protocol.TextQueryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode text query", slogError(err))
		s.replyTextError(msg, fmt.Errorf("decode text query: %w", err))
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		s.replyTextError(msg, errors.New("query text is empty"))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		ctx, span := s.tracer.Start(ctx, "agent.text_query")
		defer span.End()

		query, audio, err := s.respond(ctx, req.SessionID, text, "text")
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.replyTextError(msg, err)
			s.recordFailure(req.SessionID, "text", err)
			return
		}
		s.reply(msg, protocol.TextQueryResponse{QueryResult: &query, OutputAudio: audio})
	}()
}

func (s *Service) handleStreamClose(msg *nats.Msg) {
	var req protocol.StreamClose
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode stream close", slogError(err))
		return
	}
	s.mu.Lock()
	closed := s.streams.close(req.StreamID)
	s.mu.Unlock()
	if closed {
		s.logger.Debug("audio stream closed", slog.String("stream_id", req.StreamID))
	}
}

// respond turns a user query into the reply text and, when speech synthesis
// is available, WAV audio.
func (s *Service) respond(ctx context.Context, sessionID, query, kind string) (protocol.QueryResult, []byte, error) {
	start := time.Now()
	options, err := llm.OptionsFromConfig(s.llmCfg, "")
	if err != nil {
		return protocol.QueryResult{}, nil, err
	}
	options.SessionID = sessionID
	options.Prompt = query
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		options.TraceID = sc.TraceID().String()
	}

	completion, err := llm.Complete(ctx, s.engines.Generator, options)
	if err != nil {
		return protocol.QueryResult{}, nil, err
	}
	result := protocol.QueryResult{
		QueryText:       query,
		FulfillmentText: completion.Content,
	}
	if completion.Content != "" {
		result.FulfillmentMessages = []protocol.FulfillmentMessage{{Text: []string{completion.Content}}}
	}

	var audio []byte
	if s.engines.Synth != nil && completion.Content != "" {
		audio, err = tts.RenderWAV(ctx, s.engines.Synth, tts.SynthRequest{
			SessionID: sessionID,
			Text:      completion.Content,
			Voice:     s.ttsCfg.Voice,
		})
		if err != nil {
			// the text reply is still useful without audio
			s.logger.Warn("speech synthesis failed", slog.String("session_id", sessionID), slogError(err))
			audio = nil
		}
	}

	elapsed := time.Since(start)
	s.metrics.turn(kind, elapsed)
	s.recordTurn(sessionID, kind, result, completion, len(audio), elapsed)
	return result, audio, nil
}

type turnRecord struct {
	Kind             string `json:"kind"`
	QueryText        string `json:"query_text"`
	FulfillmentText  string `json:"fulfillment_text"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	AudioBytes       int    `json:"audio_bytes"`
	LatencyMS        int64  `json:"latency_ms"`
}

type failureRecord struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func (s *Service) recordTurn(sessionID, kind string, result protocol.QueryResult, completion llm.Completion, audioBytes int, elapsed time.Duration) {
	s.record(sessionID, eventstore.TypeTurnCompleted, turnRecord{
		Kind:             kind,
		QueryText:        result.QueryText,
		FulfillmentText:  result.FulfillmentText,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		AudioBytes:       audioBytes,
		LatencyMS:        elapsed.Milliseconds(),
	})
}

func (s *Service) recordFailure(sessionID, kind string, err error) {
	s.metrics.failed(kind)
	s.record(sessionID, eventstore.TypeTurnFailed, failureRecord{Kind: kind, Error: err.Error()})
}

func (s *Service) record(sessionID, eventType string, payload any) {
	if s.store == nil || sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	_, known := s.sessions[sessionID]
	s.sessions[sessionID] = struct{}{}
	s.mu.Unlock()
	if !known {
		if err := s.store.Record(ctx, sessionID, s.cfg.Capability, eventstore.TypeSessionStarted, nil); err != nil {
			s.logger.Warn("failed to record session", slogError(err))
		}
	}
	if err := s.store.Record(ctx, sessionID, s.cfg.Capability, eventType, payload); err != nil {
		s.logger.Warn("failed to record event", slog.String("type", eventType), slogError(err))
	}
}

func (s *Service) reply(msg *nats.Msg, resp any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

func (s *Service) replyChunkError(msg *nats.Msg, streamID string, err error) {
	s.reply(msg, protocol.AudioChunkResponse{StreamID: streamID, Error: err.Error()})
}

func (s *Service) replyTextError(msg *nats.Msg, err error) {
	s.reply(msg, protocol.TextQueryResponse{Error: err.Error()})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
