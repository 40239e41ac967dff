package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM  = 1
	bitsPerSample = 16
	wavChannels   = 2
	wavChunk      = 4096
)

var ErrUnsupportedWAV = errors.New("unsupported wav format")

// Buffer holds interleaved stereo float samples in [-1, 1]
type Buffer struct {
	SampleRate int
	Samples    []float32
}

// Frames is the number of stereo frames
func (b *Buffer) Frames() int {
	return len(b.Samples) / 2
}

// Duration in seconds
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Peak returns the largest absolute sample
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, s := range b.Samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

// WriteWAV encodes the buffer as a 16-bit stereo PCM RIFF file. The
// encoder patches chunk sizes on close, so writers that cannot seek get
// the file assembled in memory first.
func WriteWAV(w io.Writer, b *Buffer) error {
	if ws, ok := w.(io.WriteSeeker); ok {
		return encodeWAV(ws, b)
	}
	var mem writeSeeker
	if err := encodeWAV(&mem, b); err != nil {
		return err
	}
	if _, err := w.Write(mem.buf); err != nil {
		return fmt.Errorf("failed to write wav: %w", err)
	}
	return nil
}

func encodeWAV(w io.WriteSeeker, b *Buffer) error {
	enc := wav.NewEncoder(w, b.SampleRate, bitsPerSample, wavChannels, wavFormatPCM)
	chunk := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: wavChannels, SampleRate: b.SampleRate},
		SourceBitDepth: bitsPerSample,
	}
	for i := 0; i < len(b.Samples); i += wavChunk {
		end := min(i+wavChunk, len(b.Samples))
		chunk.Data = toPCM16(chunk.Data[:0], b.Samples[i:end])
		if err := enc.Write(chunk); err != nil {
			return fmt.Errorf("failed to write wav data: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish wav: %w", err)
	}
	return nil
}

// toPCM16 converts float samples to signed 16-bit values
func toPCM16(dst []int, samples []float32) []int {
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		dst = append(dst, int(math.Round(v*math.MaxInt16)))
	}
	return dst
}

// ReadWAV decodes a 16-bit PCM file and downmixes it to mono
func ReadWAV(r io.Reader) ([]float64, int, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read wav: %w", err)
		}
		rs = bytes.NewReader(data)
	}

	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: missing RIFF/WAVE header or fmt chunk", ErrUnsupportedWAV)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, 0, fmt.Errorf("%w: format %d", ErrUnsupportedWAV, dec.WavAudioFormat)
	}
	if dec.BitDepth != bitsPerSample {
		return nil, 0, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedWAV, dec.BitDepth)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedWAV, err)
	}
	channels := int(dec.NumChans)
	frames := len(pcm.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(pcm.Data[i*channels+c]) / math.MaxInt16
		}
		out[i] = sum / float64(channels)
	}
	return out, int(dec.SampleRate), nil
}

// writeSeeker is an in-memory io.WriteSeeker
type writeSeeker struct {
	buf []byte
	pos int
}

func (m *writeSeeker) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, errors.New("negative seek position")
	}
	m.pos = int(pos)
	return pos, nil
}
