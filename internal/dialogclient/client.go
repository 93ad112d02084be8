// Package dialogclient talks to the dialog agent over the bus.
package dialogclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dialog/internal/protocol"
	"github.com/loqalabs/loqa-dialog/internal/session"
	"github.com/nats-io/nats.go"
)

// Client implements session.Client with NATS request/reply. Every listening
// turn gets its own stream id, allocated lazily on the turn's first chunk and
// released by CloseStream for that turn.
type Client struct {
	conn       *nats.Conn
	sessionID  string
	sampleRate int
	channels   int
	logger     *slog.Logger

	mu      sync.Mutex
	streams map[uint64]*stream
}

type stream struct {
	id       string
	sequence int
}

var _ session.Client = (*Client)(nil)

// New returns a client for sessionID. Audio is described to the agent as
// 16-bit PCM with the given rate and channel count.
func New(conn *nats.Conn, sessionID string, sampleRate, channels int, logger *slog.Logger) *Client {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Client{
		conn:       conn,
		sessionID:  sessionID,
		sampleRate: sampleRate,
		channels:   channels,
		streams:    make(map[uint64]*stream),
		logger:     logger.With(slog.String("component", "dialog-client"), slog.String("session_id", sessionID)),
	}
}

func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) StreamAudioChunk(ctx context.Context, turn uint64, chunk []byte) (session.StreamResult, error) {
	c.mu.Lock()
	st, ok := c.streams[turn]
	if !ok {
		st = &stream{id: uuid.NewString()}
		c.streams[turn] = st
	}
	req := protocol.AudioChunkRequest{
		SessionID:  c.sessionID,
		StreamID:   st.id,
		Sequence:   st.sequence,
		SampleRate: c.sampleRate,
		Channels:   c.channels,
		PCM:        chunk,
	}
	st.sequence++
	c.mu.Unlock()

	var resp protocol.AudioChunkResponse
	if err := c.request(ctx, protocol.SubjectAudioChunk, req, &resp); err != nil {
		return session.StreamResult{}, err
	}
	if resp.Error != "" {
		return session.StreamResult{}, fmt.Errorf("agent: %s", resp.Error)
	}

	var result session.StreamResult
	if resp.Recognition != nil {
		result.Recognition = &session.Recognition{
			Transcript: resp.Recognition.Transcript,
			Final:      resp.Recognition.Final,
		}
	}
	if resp.QueryResult != nil {
		q := toQueryResult(*resp.QueryResult, resp.OutputAudio)
		result.QueryResult = &q
	}
	return result, nil
}

func (c *Client) SendText(ctx context.Context, text string) (session.QueryResult, error) {
	req := protocol.TextQueryRequest{SessionID: c.sessionID, Text: text}
	var resp protocol.TextQueryResponse
	if err := c.request(ctx, protocol.SubjectTextQuery, req, &resp); err != nil {
		return session.QueryResult{}, err
	}
	if resp.Error != "" {
		return session.QueryResult{}, fmt.Errorf("agent: %s", resp.Error)
	}
	if resp.QueryResult == nil {
		return session.QueryResult{OutputAudio: resp.OutputAudio}, nil
	}
	return toQueryResult(*resp.QueryResult, resp.OutputAudio), nil
}

// CloseStream tells the agent the stream of turn is over. It is a no-op when
// turn sent no audio or was already closed.
func (c *Client) CloseStream(ctx context.Context, turn uint64) error {
	c.mu.Lock()
	st, ok := c.streams[turn]
	delete(c.streams, turn)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	streamID := st.id

	data, err := json.Marshal(protocol.StreamClose{
		SessionID: c.sessionID,
		StreamID:  streamID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := c.conn.Publish(protocol.SubjectStreamClose, data); err != nil {
		return fmt.Errorf("publish stream close: %w", err)
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush stream close: %w", err)
	}
	c.logger.Debug("stream closed", slog.String("stream_id", streamID))
	return nil
}

func (c *Client) request(ctx context.Context, subject string, req, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", subject, err)
	}
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("no dialog agent is listening on %s: %w", subject, err)
		}
		return fmt.Errorf("%s request: %w", subject, err)
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", subject, err)
	}
	return nil
}

func toQueryResult(q protocol.QueryResult, audio []byte) session.QueryResult {
	out := session.QueryResult{
		QueryText:       q.QueryText,
		FulfillmentText: q.FulfillmentText,
		OutputAudio:     audio,
	}
	for _, msg := range q.FulfillmentMessages {
		out.FulfillmentMessages = append(out.FulfillmentMessages, msg.Text)
	}
	if q.Sentiment != nil {
		out.Sentiment = &session.Sentiment{Score: q.Sentiment.Score, Magnitude: q.Sentiment.Magnitude}
	}
	return out
}
