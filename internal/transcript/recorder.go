package transcript

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/eventstore"
)

// Recorder persists every transcript mutation into the event store.
type Recorder struct {
	store     *eventstore.Store
	sessionID string
	actorID   string
	timeout   time.Duration
	logger    *slog.Logger
}

type recordedEntry struct {
	Index int `json:"index"`
	Entry
}

func NewRecorder(store *eventstore.Store, sessionID, actorID string, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		sessionID: sessionID,
		actorID:   actorID,
		timeout:   5 * time.Second,
		logger:    logger.With(slog.String("component", "transcript-recorder")),
	}
}

func (r *Recorder) EntryAppended(index int, entry Entry) {
	r.record(eventstore.TypeTranscriptAppend, index, entry)
}

func (r *Recorder) EntryReplaced(index int, entry Entry) {
	r.record(eventstore.TypeTranscriptReplace, index, entry)
}

func (r *Recorder) record(eventType string, index int, entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Record(ctx, r.sessionID, r.actorID, eventType, recordedEntry{Index: index, Entry: entry}); err != nil {
		r.logger.Warn("failed to record transcript entry", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}
