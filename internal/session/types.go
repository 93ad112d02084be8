package session

import (
	"context"
	"fmt"
)

// State is the turn-taking state of a Session.
type State int

const (
	Idle State = iota
	Listening
	AwaitingTextResponse
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case AwaitingTextResponse:
		return "awaiting-text-response"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Recognition is a speech recognition update for the active audio turn.
type Recognition struct {
	Transcript string
	Final      bool
}

// Sentiment is the backend's sentiment analysis of the user's query.
type Sentiment struct {
	Score     float64
	Magnitude float64
}

// QueryResult is the backend's answer to one turn.
type QueryResult struct {
	QueryText       string
	FulfillmentText string
	// FulfillmentMessages holds the text lines of each rich fulfillment
	// message; when present the last line of the last message is shown
	// instead of FulfillmentText.
	FulfillmentMessages [][]string
	Sentiment           *Sentiment
	OutputAudio         []byte
}

// StreamResult is what the backend returns for one audio chunk.
type StreamResult struct {
	Recognition *Recognition
	QueryResult *QueryResult
}

// Client is the remote conversational service. Audio calls name the
// listening turn they belong to: a new turn opens a new stream, and
// CloseStream ends only the stream of the turn it names.
type Client interface {
	StreamAudioChunk(ctx context.Context, turn uint64, chunk []byte) (StreamResult, error)
	SendText(ctx context.Context, text string) (QueryResult, error)
	CloseStream(ctx context.Context, turn uint64) error
}

// AudioSink receives captured PCM.
type AudioSink interface {
	FeedAudio(sample []byte) error
}

// Capture produces microphone audio for a listening turn.
type Capture interface {
	Prepare(sampleRate int) error
	Start(sink AudioSink) error
	Stop() error
}

// Player plays synthesized response audio.
type Player interface {
	Play(audio []byte) error
}

// displayText picks the bot reply text and appends the sentiment summary.
func displayText(q QueryResult) string {
	text := q.FulfillmentText
	if text == "" {
		return ""
	}
	if n := len(q.FulfillmentMessages); n > 0 {
		if lines := q.FulfillmentMessages[n-1]; len(lines) > 0 {
			text = lines[len(lines)-1]
		}
	}
	if q.Sentiment != nil {
		text += fmt.Sprintf("\nSentiment score:%v", q.Sentiment.Score)
		text += fmt.Sprintf("\nSentiment magnitude:%v", q.Sentiment.Magnitude)
	}
	return text
}
