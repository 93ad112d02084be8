package transcript

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/eventstore"
)

func TestRecorderPersistsMutations(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	store, err := eventstore.Open(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.AppendSession(ctx, "chat-1", "console", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}

	rec := NewRecorder(store, "chat-1", "console", logger)
	rec.EntryAppended(0, Entry{Speaker: User, Text: "hel", Pending: true})
	rec.EntryReplaced(0, Entry{Speaker: User, Text: "hello"})

	events, err := store.ListSessionEvents(ctx, "chat-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != eventstore.TypeTranscriptAppend || events[1].Type != eventstore.TypeTranscriptReplace {
		t.Fatalf("unexpected event types %s, %s", events[0].Type, events[1].Type)
	}
	var payload struct {
		Index   int    `json:"index"`
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
		Pending bool   `json:"pending"`
	}
	if err := json.Unmarshal(events[1].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Speaker != "user" || payload.Text != "hello" || payload.Pending {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
