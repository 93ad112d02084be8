package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/nats-io/nats.go"
)

func TestStartAndShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, logger)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	if !nc.IsConnected() {
		t.Fatal("expected connection")
	}
}

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || srv != nil {
		t.Fatalf("expected nil server when embedded mode is off, got %v %v", srv, err)
	}
	srv.Shutdown()
	if srv.ClientURL() != "" {
		t.Fatal("nil server has no url")
	}
}

func TestServerOptionsDefaults(t *testing.T) {
	opts := serverOptions(config.BusConfig{Port: 4333})
	if opts.Host != "0.0.0.0" || opts.Port != 4333 {
		t.Fatalf("unexpected listen address %s:%d", opts.Host, opts.Port)
	}
	if opts.MaxPayload != maxPayload {
		t.Fatalf("expected max payload %d, got %d", maxPayload, opts.MaxPayload)
	}
	if !opts.NoSigs {
		t.Fatal("embedded server must not install signal handlers")
	}
}
