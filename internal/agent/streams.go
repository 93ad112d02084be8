package agent

import (
	"errors"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/pcm"
)

var errTooManyStreams = errors.New("too many active audio streams")

type action int

const (
	actionNone action = iota
	actionPartial
	actionFinal
)

// streamState buffers the audio of one listening turn.
type streamState struct {
	SessionID    string
	Format       pcm.Format
	Buffer       []byte
	NextSequence int
	LastPartial  time.Time
	LastSeen     time.Time
}

type pushResult struct {
	Action     action
	Audio      []byte
	Format     pcm.Format
	OutOfOrder bool
}

// streamTable tracks open streams. The owner serializes access.
type streamTable struct {
	max            int
	utteranceMS    int
	partialEvery   time.Duration
	publishInterim bool
	defaultFormat  pcm.Format
	streams        map[string]*streamState
	now            func() time.Time
}

// push appends audio to a stream and decides which recognition to run.
// Audio in the result is owned by the caller. A final action forgets the
// stream.
func (t *streamTable) push(streamID, sessionID string, sequence int, format pcm.Format, audio []byte) (pushResult, error) {
	now := t.now()
	st := t.streams[streamID]
	if st == nil {
		if t.max > 0 && len(t.streams) >= t.max {
			return pushResult{}, errTooManyStreams
		}
		if format.SampleRate <= 0 {
			format.SampleRate = t.defaultFormat.SampleRate
		}
		if format.Channels <= 0 {
			format.Channels = t.defaultFormat.Channels
		}
		st = &streamState{SessionID: sessionID, Format: format}
		t.streams[streamID] = st
	}
	res := pushResult{Format: st.Format, OutOfOrder: sequence != st.NextSequence}
	st.NextSequence = sequence + 1
	st.LastSeen = now
	st.Buffer = append(st.Buffer, audio...)

	switch {
	case len(st.Buffer) >= st.Format.BytesFor(t.utteranceMS):
		delete(t.streams, streamID)
		res.Action = actionFinal
		res.Audio = st.Buffer
	case !t.publishInterim:
	case st.LastPartial.IsZero() || (t.partialEvery > 0 && now.Sub(st.LastPartial) >= t.partialEvery):
		st.LastPartial = now
		res.Action = actionPartial
		res.Audio = append([]byte(nil), st.Buffer...)
	}
	return res, nil
}

func (t *streamTable) close(streamID string) bool {
	if _, ok := t.streams[streamID]; !ok {
		return false
	}
	delete(t.streams, streamID)
	return true
}

// expire drops streams that have not received audio within idle.
func (t *streamTable) expire(idle time.Duration) int {
	cutoff := t.now().Add(-idle)
	dropped := 0
	for id, st := range t.streams {
		if st.LastSeen.Before(cutoff) {
			delete(t.streams, id)
			dropped++
		}
	}
	return dropped
}

func (t *streamTable) len() int { return len(t.streams) }
