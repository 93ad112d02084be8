// Package natsserver runs an in-process NATS server so a single daemon can
// host the dialog bus without external infrastructure.
package natsserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const (
	readyTimeout = 5 * time.Second
	// Synthesized replies travel as a handful of large messages.
	maxPayload = 8 << 20
)

// EmbeddedServer is a running in-process NATS server.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

func serverOptions(cfg config.BusConfig) *server.Options {
	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return &server.Options{
		ServerName: "loqa-dialog-bus",
		Host:       host,
		Port:       cfg.Port,
		StoreDir:   cfg.StoreDir,
		MaxPayload: maxPayload,
		NoSigs:     true,
		NoLog:      true,
	}
}

// Start launches the server when cfg.Embedded is set and returns nil
// otherwise. Port -1 binds a random free port.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	log = log.With(slog.String("component", "natsserver"))

	ns, err := server.NewServer(serverOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server not ready for connections")
	}
	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.Int("max_payload", maxPayload))

	return &EmbeddedServer{ns: ns, log: log}, nil
}

func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for client connections to close.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("stopping embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
