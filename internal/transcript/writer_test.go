package transcript

import (
	"bytes"
	"testing"
)

type countingSink struct {
	appended, replaced int
}

func (c *countingSink) EntryAppended(int, Entry) { c.appended++ }
func (c *countingSink) EntryReplaced(int, Entry) { c.replaced++ }

func TestWriterPlain(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)
	w.EntryAppended(0, Entry{Speaker: User, Text: "hel", Pending: true})
	w.EntryReplaced(0, Entry{Speaker: User, Text: "hello"})
	w.EntryAppended(1, Entry{Speaker: Bot, Text: "hi there"})

	want := "you~ hel\nyou> hello\nbot> hi there\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestWriterANSIRewritesLastLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)
	w.EntryAppended(0, Entry{Speaker: User, Text: "hel", Pending: true})
	w.EntryReplaced(0, Entry{Speaker: User, Text: "hello"})
	w.EntryAppended(1, Entry{Speaker: Bot, Text: "hi"})
	w.Flush()

	want := "you~ hel\r\x1b[Kyou> hello\nbot> hi\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestSinksFanOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	sinks := Sinks{a, nil, b}
	sinks.EntryAppended(0, Entry{})
	sinks.EntryReplaced(0, Entry{})
	if a.appended != 1 || b.appended != 1 || a.replaced != 1 || b.replaced != 1 {
		t.Fatalf("fan out missed a sink: %+v %+v", a, b)
	}
}
