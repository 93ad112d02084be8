package protocol

import "time"

// AudioChunkRequest carries one fixed-size chunk of captured PCM for a
// listening turn.
type AudioChunkRequest struct {
	SessionID  string `json:"session_id"`
	StreamID   string `json:"stream_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
}

// AudioChunkResponse answers an AudioChunkRequest. Any field may be absent.
type AudioChunkResponse struct {
	StreamID    string       `json:"stream_id"`
	Recognition *Recognition `json:"recognition,omitempty"`
	QueryResult *QueryResult `json:"query_result,omitempty"`
	OutputAudio []byte       `json:"output_audio,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// TextQueryRequest sends a typed user turn.
type TextQueryRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// TextQueryResponse answers a TextQueryRequest.
type TextQueryResponse struct {
	QueryResult *QueryResult `json:"query_result,omitempty"`
	OutputAudio []byte       `json:"output_audio,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// StreamClose tells the agent that no more audio will arrive for a stream.
type StreamClose struct {
	SessionID string    `json:"session_id"`
	StreamID  string    `json:"stream_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Recognition is the speech recognizer's view of the audio so far.
type Recognition struct {
	Transcript string  `json:"transcript"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
}

// QueryResult is the backend's answer to one turn.
type QueryResult struct {
	QueryText           string               `json:"query_text"`
	FulfillmentText     string               `json:"fulfillment_text"`
	FulfillmentMessages []FulfillmentMessage `json:"fulfillment_messages,omitempty"`
	Sentiment           *Sentiment           `json:"sentiment,omitempty"`
}

type FulfillmentMessage struct {
	Text []string `json:"text"`
}

type Sentiment struct {
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

const (
	SubjectAudioChunk  = "dialog.audio.chunk"
	SubjectTextQuery   = "dialog.text.query"
	SubjectStreamClose = "dialog.stream.close"
)
