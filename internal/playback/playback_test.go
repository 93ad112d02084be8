package playback

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/pcm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterUnwrapsWAV(t *testing.T) {
	raw := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	clip, err := pcm.EncodeWAV(raw, pcm.Format{SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out bytes.Buffer
	p := NewWriter(&out)
	if err := p.Play(clip); err != nil {
		t.Fatalf("play wav: %v", err)
	}
	if !bytes.Equal(out.Bytes(), raw) {
		t.Fatalf("expected pcm %v, got %v", raw, out.Bytes())
	}

	out.Reset()
	if err := p.Play([]byte{9, 9}); err != nil {
		t.Fatalf("play raw: %v", err)
	}
	if !bytes.Equal(out.Bytes(), []byte{9, 9}) {
		t.Fatalf("expected raw passthrough, got %v", out.Bytes())
	}
}

func TestExecPipesAudioToStdin(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "played.bin")
	p, err := NewExec("sh -c 'cat > "+target+"'", discardLogger())
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if err := p.Play([]byte("audio-bytes")); err != nil {
		t.Fatalf("play: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read played audio: %v", err)
	}
	if string(got) != "audio-bytes" {
		t.Fatalf("unexpected played audio %q", got)
	}
}

func TestExecReportsFailure(t *testing.T) {
	p, err := NewExec("sh -c 'echo broken >&2; exit 3'", discardLogger())
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	err = p.Play([]byte{1})
	if err == nil {
		t.Fatal("expected playback failure")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("broken")) {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestDirWritesNumberedClips(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "replies")
	p, err := NewDir(dir)
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	for _, clip := range [][]byte{[]byte("one"), []byte("two")} {
		if err := p.Play(clip); err != nil {
			t.Fatalf("play: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "reply-0002.wav")); err != nil {
		t.Fatalf("expected second clip: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "reply-0001.wav"))
	if err != nil || string(got) != "one" {
		t.Fatalf("unexpected first clip %q (%v)", got, err)
	}
}

func TestNewSelectsMode(t *testing.T) {
	p, err := New(config.PlaybackConfig{Mode: "none"}, discardLogger())
	if err != nil || p != nil {
		t.Fatalf("expected nil player for none mode, got %v (%v)", p, err)
	}
	if _, err := New(config.PlaybackConfig{Mode: "speaker"}, discardLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	p, err = New(config.PlaybackConfig{Mode: "file", Path: t.TempDir()}, discardLogger())
	if err != nil {
		t.Fatalf("file mode: %v", err)
	}
	if _, ok := p.(*Dir); !ok {
		t.Fatalf("expected *Dir, got %T", p)
	}
	if _, err := New(config.PlaybackConfig{Mode: "pcm"}, discardLogger()); err == nil {
		t.Fatal("expected error for pcm mode without a path")
	}
}

func TestPCMModeAppendsUnwrappedAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reply.pcm")
	p, err := New(config.PlaybackConfig{Mode: "pcm", Path: path}, discardLogger())
	if err != nil {
		t.Fatalf("pcm mode: %v", err)
	}
	w, ok := p.(*Writer)
	if !ok {
		t.Fatalf("expected *Writer, got %T", p)
	}
	samples := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	clip, err := pcm.EncodeWAV(samples, pcm.Format{SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := w.Play(clip); err != nil {
		t.Fatalf("play wav: %v", err)
	}
	if err := w.Play([]byte{9, 0}); err != nil {
		t.Fatalf("play raw: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if want := append(append([]byte(nil), samples...), 9, 0); !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
