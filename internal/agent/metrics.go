package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-dialog/agent"

type instruments struct {
	requests metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	streams  metric.Int64ObservableGauge
}

func newInstruments(activeStreams func() int) *instruments {
	meter := otel.Meter(instrumentationName)
	inst := &instruments{}
	inst.requests, _ = meter.Int64Counter("loqa.agent.requests", metric.WithDescription("Requests handled by the dialog agent"))
	inst.failures, _ = meter.Int64Counter("loqa.agent.errors", metric.WithDescription("Requests answered with an error"))
	inst.latency, _ = meter.Float64Histogram("loqa.agent.turn_latency", metric.WithDescription("Time to produce a reply for a finished turn"), metric.WithUnit("ms"))
	inst.streams, _ = meter.Int64ObservableGauge("loqa.agent.active_streams",
		metric.WithDescription("Audio streams currently buffered"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(activeStreams()))
			return nil
		}))
	return inst
}

func (i *instruments) request(kind string) {
	i.requests.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (i *instruments) failed(kind string) {
	i.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (i *instruments) turn(kind string, elapsed time.Duration) {
	i.latency.Record(context.Background(), float64(elapsed.Milliseconds()), metric.WithAttributes(attribute.String("kind", kind)))
}
