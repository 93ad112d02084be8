// Package pcm converts between raw 16-bit little-endian PCM and WAV
// containers.
package pcm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// ErrNotWAV is returned when a payload has no RIFF/WAVE header.
var ErrNotWAV = errors.New("pcm: payload is not a wav file")

// Format describes an interleaved PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesFor returns the number of 16-bit PCM bytes covering ms milliseconds.
func (f Format) BytesFor(ms int) int {
	return f.SampleRate * f.Channels * 2 * ms / 1000
}

// toInts decodes little-endian 16-bit samples.
func toInts(data []byte) ([]int, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return samples, nil
}

// FromInts encodes samples as little-endian 16-bit PCM, clipping to range.
func FromInts(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// writeWAV writes data as a 16-bit WAV file to w.
func writeWAV(w io.WriteSeeker, data []byte, format Format) error {
	samples, err := toInts(data)
	if err != nil {
		return err
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	enc := wav.NewEncoder(w, format.SampleRate, bitDepth, format.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// EncodeWAV wraps data in an in-memory WAV container.
func EncodeWAV(data []byte, format Format) ([]byte, error) {
	var buf seekBuffer
	if err := writeWAV(&buf, data, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsWAV reports whether payload starts with a RIFF/WAVE header.
func IsWAV(payload []byte) bool {
	return len(payload) >= 12 && bytes.Equal(payload[0:4], []byte("RIFF")) && bytes.Equal(payload[8:12], []byte("WAVE"))
}

// DecodeWAV returns the PCM samples of a 16-bit WAV payload.
func DecodeWAV(payload []byte) ([]byte, Format, error) {
	if !IsWAV(payload) {
		return nil, Format{}, ErrNotWAV
	}
	return ReadWAV(bytes.NewReader(payload))
}

// ReadWAV decodes a full 16-bit WAV stream.
func ReadWAV(r io.ReadSeeker) ([]byte, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, ErrNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != bitDepth {
		return nil, Format{}, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return FromInts(buf.Data), format, nil
}

// Silent reports whether every byte of data is zero.
func Silent(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
