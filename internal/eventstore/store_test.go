package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.AppendEvent(ctx, Event{SessionID: "s", Type: TypeTranscriptAppend}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	n, err := es.CountSessions(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected no sessions, got %d (%v)", n, err)
	}
}

func TestTranscriptEventsKeepOrder(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	es.clock = func() time.Time { return fixed }

	sessionID := "chat-123"
	if err := es.AppendSession(context.Background(), sessionID, "console", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	payloads := []string{`{"index":0,"text":"hel"}`, `{"index":0,"text":"hello"}`, `{"index":1,"text":"hi there"}`}
	types := []string{TypeTranscriptAppend, TypeTranscriptReplace, TypeTranscriptAppend}
	for i := range payloads {
		if err := es.AppendEvent(context.Background(), Event{SessionID: sessionID, Type: types[i], Payload: []byte(payloads[i])}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := es.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, evt := range events {
		if string(evt.Payload) != payloads[i] || evt.Type != types[i] {
			t.Fatalf("event %d out of order: %s %s", i, evt.Type, evt.Payload)
		}
	}
	n, err := es.CountSessions(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 session, got %d (%v)", n, err)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "old-session", "console", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: TypeTranscriptAppend}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "new-session", "console", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}

func TestRecordCreatesSessionAndKeepsActivity(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 10}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	day := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	es.clock = func() time.Time { return day }
	if err := es.Record(ctx, "long-chat", "dialog.agent", TypeTurnCompleted, map[string]string{"query_text": "hello"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	// a turn two days later keeps the session alive through pruning
	day = day.Add(48 * time.Hour)
	if err := es.Record(ctx, "long-chat", "dialog.agent", TypeTurnCompleted, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "long-chat", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected both events to survive, got %d", len(events))
	}
	if string(events[0].Payload) != `{"query_text":"hello"}` {
		t.Fatalf("unexpected payload %s", events[0].Payload)
	}
	if events[0].ActorID != "dialog.agent" || events[0].Privacy != "session" {
		t.Fatalf("unexpected event metadata %+v", events[0])
	}
	if !events[1].CreatedAt.Equal(day) {
		t.Fatalf("expected second event at %v, got %v", day, events[1].CreatedAt)
	}
}

func TestAppendEventRequiresSession(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.AppendEvent(context.Background(), Event{Type: TypeTurnFailed}); err == nil {
		t.Fatal("expected error for event without session id")
	}
}
