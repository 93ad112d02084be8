package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/pcm"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTable(clock *fakeClock) *streamTable {
	return &streamTable{
		max:            2,
		utteranceMS:    100,
		partialEvery:   50 * time.Millisecond,
		publishInterim: true,
		defaultFormat:  pcm.Format{SampleRate: 1000, Channels: 1},
		streams:        make(map[string]*streamState),
		now:            clock.now,
	}
}

func TestStreamTablePartialCadence(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	table := newTable(clock)

	res, err := table.push("s1", "sess", 0, pcm.Format{}, make([]byte, 20))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Action != actionPartial || res.Format.SampleRate != 1000 {
		t.Fatalf("expected first push to run a partial with default format, got %+v", res)
	}

	clock.advance(10 * time.Millisecond)
	res, _ = table.push("s1", "sess", 1, pcm.Format{}, make([]byte, 20))
	if res.Action != actionNone {
		t.Fatalf("expected no partial before cadence elapses, got %v", res.Action)
	}

	clock.advance(50 * time.Millisecond)
	res, _ = table.push("s1", "sess", 2, pcm.Format{}, make([]byte, 20))
	if res.Action != actionPartial || len(res.Audio) != 60 {
		t.Fatalf("expected partial over 60 bytes, got %v with %d bytes", res.Action, len(res.Audio))
	}
}

func TestStreamTableFinalForgetsStream(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	table := newTable(clock)
	table.publishInterim = false

	res, _ := table.push("s1", "sess", 0, pcm.Format{}, make([]byte, 150))
	if res.Action != actionNone {
		t.Fatalf("expected buffering only, got %v", res.Action)
	}
	res, _ = table.push("s1", "sess", 1, pcm.Format{}, make([]byte, 50))
	if res.Action != actionFinal || len(res.Audio) != 200 {
		t.Fatalf("expected final over 200 bytes, got %v with %d bytes", res.Action, len(res.Audio))
	}
	if table.len() != 0 {
		t.Fatalf("expected stream to be forgotten, %d left", table.len())
	}
}

func TestStreamTableOutOfOrderAndLimits(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	table := newTable(clock)

	if _, err := table.push("a", "sess", 0, pcm.Format{}, []byte{1, 2}); err != nil {
		t.Fatalf("push a: %v", err)
	}
	res, _ := table.push("a", "sess", 5, pcm.Format{}, []byte{1, 2})
	if !res.OutOfOrder {
		t.Fatal("expected out of order flag")
	}
	if _, err := table.push("b", "sess", 0, pcm.Format{}, []byte{1, 2}); err != nil {
		t.Fatalf("push b: %v", err)
	}
	if _, err := table.push("c", "sess", 0, pcm.Format{}, []byte{1, 2}); !errors.Is(err, errTooManyStreams) {
		t.Fatalf("expected too many streams, got %v", err)
	}

	if !table.close("a") || table.close("a") {
		t.Fatal("expected close to report the stream exactly once")
	}

	clock.advance(time.Minute)
	if dropped := table.expire(30 * time.Second); dropped != 1 {
		t.Fatalf("expected one expired stream, got %d", dropped)
	}
}
