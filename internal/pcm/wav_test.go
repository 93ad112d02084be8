package pcm

import (
	"errors"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	samples := []int{0, 1000, -1000, 32767, -32768, 42}
	data := FromInts(samples)
	format := Format{SampleRate: 16000, Channels: 1}

	wavBytes, err := EncodeWAV(data, format)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !IsWAV(wavBytes) {
		t.Fatal("expected RIFF/WAVE header")
	}
	if len(wavBytes) < 44+len(data) {
		t.Fatalf("expected header plus data, got %d bytes", len(wavBytes))
	}

	decoded, got, err := DecodeWAV(wavBytes)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != format {
		t.Fatalf("format = %+v, want %+v", got, format)
	}
	back, err := toInts(decoded)
	if err != nil {
		t.Fatalf("to ints: %v", err)
	}
	if len(back) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(back))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, back[i], samples[i])
		}
	}
}

func TestDecodeRejectsRawPCM(t *testing.T) {
	if _, _, err := DecodeWAV([]byte{1, 2, 3, 4}); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}

func TestDecodeSamplesRejectsOddLength(t *testing.T) {
	if _, err := toInts([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestFromIntsClips(t *testing.T) {
	back, _ := toInts(FromInts([]int{40000, -40000}))
	if back[0] != 32767 || back[1] != -32768 {
		t.Fatalf("expected clipping, got %v", back)
	}
}

func TestBytesFor(t *testing.T) {
	if got := (Format{SampleRate: 16000, Channels: 1}).BytesFor(2000); got != 64000 {
		t.Fatalf("expected 64000 bytes, got %d", got)
	}
}

func TestSilent(t *testing.T) {
	if !Silent(make([]byte, 8)) || !Silent(nil) {
		t.Fatal("zeroed audio is silent")
	}
	if Silent([]byte{0, 0, 1, 0}) {
		t.Fatal("non-zero sample is not silent")
	}
}
