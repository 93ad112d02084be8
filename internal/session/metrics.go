package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-dialog/session"

type instruments struct {
	chunks     metric.Int64Counter
	chunkBytes metric.Int64Counter
	turns      metric.Int64Counter
	errors     metric.Int64Counter
	stale      metric.Int64Counter
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	inst := &instruments{}
	// Instrument creation only fails on invalid names; the no-op fallbacks
	// returned alongside the error are still usable.
	inst.chunks, _ = meter.Int64Counter("loqa.session.chunks", metric.WithDescription("Audio chunks dispatched"))
	inst.chunkBytes, _ = meter.Int64Counter("loqa.session.chunk_bytes", metric.WithDescription("Audio bytes dispatched"), metric.WithUnit("By"))
	inst.turns, _ = meter.Int64Counter("loqa.session.turns", metric.WithDescription("Turns started"))
	inst.errors, _ = meter.Int64Counter("loqa.session.errors", metric.WithDescription("Turns ended by an error"))
	inst.stale, _ = meter.Int64Counter("loqa.session.stale_responses", metric.WithDescription("Responses discarded because their turn had ended"))
	return inst
}

func (i *instruments) chunkSent(size int) {
	ctx := context.Background()
	i.chunks.Add(ctx, 1)
	i.chunkBytes.Add(ctx, int64(size))
}

func (i *instruments) turnStarted(kind string) {
	i.turns.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (i *instruments) failed(err error) {
	kind := "unknown"
	if k, ok := KindOf(err); ok {
		kind = k.String()
	}
	i.errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (i *instruments) discarded() {
	i.stale.Add(context.Background(), 1)
}
