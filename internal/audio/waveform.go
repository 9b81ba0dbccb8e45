package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Canonical waveform parameters. Every waveform handed to the recognition
// engine satisfies these exactly, regardless of input source.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

// ErrDecode indicates the input bytes could not be parsed as audio
// (corrupt or truncated input, or a decoder failure).
var ErrDecode = errors.New("audio decode failed")

// Waveform is PCM audio in a WAV container. Values produced by the
// Normalizer are always canonical (mono, 16 kHz, 16-bit); ParseWAV may
// return non-canonical waveforms that still need resampling.
type Waveform struct {
	data          []byte
	sampleRate    int
	channels      int
	bitsPerSample int
	pcmBytes      int
}

// ParseWAV validates a WAV container and reads its format header.
// Streamed containers with unknown chunk sizes (0xFFFFFFFF, as ffmpeg
// writes to a pipe) are accepted; the PCM payload then runs to the end
// of the buffer.
func ParseWAV(data []byte) (*Waveform, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE container", ErrDecode)
	}

	wf := &Waveform{data: data, pcmBytes: -1}
	haveFmt := false

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int64(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8

		if size == 0xFFFFFFFF || body+int(size) > len(data) {
			size = int64(len(data) - body)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrDecode)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 { // PCM
				return nil, fmt.Errorf("%w: unsupported wav audio format %d", ErrDecode, format)
			}
			wf.channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			wf.sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			wf.bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			wf.pcmBytes = int(size)
		}

		// Chunks are word-aligned.
		if size%2 == 1 {
			size++
		}
		off = body + int(size)
	}

	if !haveFmt || wf.pcmBytes < 0 {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrDecode)
	}
	if wf.channels <= 0 || wf.sampleRate <= 0 || wf.bitsPerSample <= 0 {
		return nil, fmt.Errorf("%w: invalid wav format header", ErrDecode)
	}

	return wf, nil
}

// WAV returns the raw container bytes.
func (w *Waveform) WAV() []byte { return w.data }

// SampleRate returns the sample rate in Hz.
func (w *Waveform) SampleRate() int { return w.sampleRate }

// Channels returns the channel count.
func (w *Waveform) Channels() int { return w.channels }

// Canonical reports whether the waveform already satisfies the canonical
// form consumed by the recognition engine.
func (w *Waveform) Canonical() bool {
	return w.sampleRate == SampleRate && w.channels == Channels && w.bitsPerSample == BitsPerSample
}

// Duration returns the audio duration derived from the PCM payload size.
func (w *Waveform) Duration() time.Duration {
	bytesPerSecond := w.sampleRate * w.channels * w.bitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(float64(w.pcmBytes) / float64(bytesPerSecond) * float64(time.Second))
}
