package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/pcm"
	"github.com/loqalabs/loqa-dialog/internal/session"
)

// WAVFile replays a 16-bit mono WAV file as if it were being recorded. Once
// the file is exhausted it keeps feeding silence at real-time pace until
// stopped, like a microphone in a quiet room.
type WAVFile struct {
	path     string
	frameMS  int
	realtime bool
	logger   *slog.Logger

	mu     sync.Mutex
	audio  []byte
	format pcm.Format
	stop   chan struct{}
	done   chan struct{}
}

var _ session.Capture = (*WAVFile)(nil)

func NewWAVFile(path string, frameMS int, realtime bool, logger *slog.Logger) *WAVFile {
	if frameMS <= 0 {
		frameMS = 20
	}
	return &WAVFile{path: path, frameMS: frameMS, realtime: realtime, logger: logger.With(slog.String("component", "capture"))}
}

func (w *WAVFile) Prepare(sampleRate int) error {
	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()
	audio, format, err := pcm.ReadWAV(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.path, err)
	}
	if format.SampleRate != sampleRate {
		return fmt.Errorf("%s is sampled at %d Hz, session expects %d Hz", w.path, format.SampleRate, sampleRate)
	}
	if format.Channels != 1 {
		return fmt.Errorf("%s has %d channels, only mono is supported", w.path, format.Channels)
	}
	w.mu.Lock()
	w.audio = audio
	w.format = format
	w.mu.Unlock()
	return nil
}

func (w *WAVFile) Start(sink session.AudioSink) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return errors.New("capture already running")
	}
	if w.format.SampleRate == 0 {
		return errors.New("capture not prepared")
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.pump(sink, w.audio, w.format.BytesFor(w.frameMS), w.stop, w.done)
	return nil
}

func (w *WAVFile) pump(sink session.AudioSink, audio []byte, frameBytes int, stop, done chan struct{}) {
	defer close(done)
	interval := time.Duration(w.frameMS) * time.Millisecond
	silence := make([]byte, frameBytes)
	for offset := 0; ; offset += frameBytes {
		frame := silence
		paced := true
		if offset < len(audio) {
			end := min(offset+frameBytes, len(audio))
			frame = audio[offset:end]
			paced = w.realtime
		}
		if err := sink.FeedAudio(append([]byte(nil), frame...)); err != nil {
			return
		}
		if !paced {
			select {
			case <-stop:
				return
			default:
			}
			continue
		}
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
	}
}

func (w *WAVFile) Stop() error {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}
