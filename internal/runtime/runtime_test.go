package runtime

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/dialogclient"
	"github.com/nats-io/nats.go"
)

func TestRuntimeServesTextQueries(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Telemetry.PrometheusBind = ""
	cfg.Bus.Host = "127.0.0.1"
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = filepath.Join(dir, "nats")
	cfg.Bus.Servers = nil
	cfg.Node.HeartbeatInterval = 50
	cfg.Node.HeartbeatTimeout = 500
	cfg.EventStore.Path = filepath.Join(dir, "events.db")
	cfg.TTS.Enabled = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := New(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !rt.Ready() {
		select {
		case err := <-done:
			t.Fatalf("runtime exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("runtime never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn, err := nats.Connect(rt.nats.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	dc := dialogclient.New(conn, "", cfg.Session.SampleRate, 1, logger)
	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	result, err := dc.SendText(reqCtx, "hello")
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if result.FulfillmentText != "You said: hello" {
		t.Fatalf("unexpected fulfillment %q", result.FulfillmentText)
	}
	if len(result.OutputAudio) != 0 {
		t.Fatal("expected no audio with synthesis disabled")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runtime shutdown: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not stop")
	}
	if rt.Ready() {
		t.Fatal("expected runtime to report not ready after shutdown")
	}
}
