// ABOUTME: Float32 WAV file writer
// ABOUTME: Streams IEEE-float frames to disk and patches chunk sizes on close
package pcmio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

// wavHeaderSize is the fixed preamble before sample data: RIFF header,
// 18-byte fmt chunk (IEEE float needs cbSize), fact chunk, data header.
const wavHeaderSize = 58

// Writer appends float32 frames to a WAV file (format 3, IEEE float).
// WAV stores frames interleaved; planar buffers are interleaved on the
// way out. Sizes are written as placeholders and patched on Close, so an
// unclosed file has an inconsistent header.
type Writer struct {
	f       *os.File
	path    string
	format  audio.Format
	frames  int64
	scratch []byte
}

// NewWriter creates path (truncating any existing file) and writes the
// WAV preamble for the given format.
func NewWriter(path string, format audio.Format) (*Writer, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid output format %s", format)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := &Writer{f: f, path: path, format: format}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write WAV header for %s: %w", path, err)
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	ch := uint16(w.format.Channels)
	rate := uint32(w.format.SampleRate)
	blockAlign := ch * 4
	byteRate := rate * uint32(blockAlign)

	h := struct {
		RiffID   [4]byte
		RiffSize uint32
		WaveID   [4]byte

		FmtID       [4]byte
		FmtSize     uint32
		AudioFormat uint16
		Channels    uint16
		SampleRate  uint32
		ByteRate    uint32
		BlockAlign  uint16
		BitDepth    uint16
		CbSize      uint16

		FactID     [4]byte
		FactSize   uint32
		FactFrames uint32

		DataID   [4]byte
		DataSize uint32
	}{
		RiffID:      [4]byte{'R', 'I', 'F', 'F'},
		WaveID:      [4]byte{'W', 'A', 'V', 'E'},
		FmtID:       [4]byte{'f', 'm', 't', ' '},
		FmtSize:     18,
		AudioFormat: 3, // IEEE float
		Channels:    ch,
		SampleRate:  rate,
		ByteRate:    byteRate,
		BlockAlign:  blockAlign,
		BitDepth:    32,
		FactID:      [4]byte{'f', 'a', 'c', 't'},
		FactSize:    4,
		DataID:      [4]byte{'d', 'a', 't', 'a'},
	}
	return binary.Write(w.f, binary.LittleEndian, &h)
}

// WriteBuffer appends a buffer's frames. The buffer must carry the
// writer's sample rate and channel count; layout may be either regime.
func (w *Writer) WriteBuffer(b *audio.Buffer) error {
	if b.Format.SampleRate != w.format.SampleRate || b.Format.Channels != w.format.Channels {
		return fmt.Errorf("buffer format %s does not match file format %s", b.Format, w.format)
	}
	ch := w.format.Channels
	need := b.FrameLen * ch * 4
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	buf := w.scratch[:need]
	for fr := 0; fr < b.FrameLen; fr++ {
		for c := 0; c < ch; c++ {
			bits := math.Float32bits(b.At(fr, c))
			binary.LittleEndian.PutUint32(buf[(fr*ch+c)*4:], bits)
		}
	}
	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	w.frames += int64(b.FrameLen)
	return nil
}

// WriteSilence appends zero-valued frames.
func (w *Writer) WriteSilence(frames int) error {
	if frames <= 0 {
		return nil
	}
	return w.WriteBuffer(audio.Silence(w.format, frames))
}

// Frames returns the frame count written so far.
func (w *Writer) Frames() int64 { return w.frames }

// Path returns the file path being written.
func (w *Writer) Path() string { return w.path }

// Format returns the file's format.
func (w *Writer) Format() audio.Format { return w.format }

// Close patches the RIFF, fact, and data sizes and closes the file.
func (w *Writer) Close() error {
	dataSize := uint32(w.frames) * uint32(w.format.Channels) * 4

	patch := func(offset int64, v uint32) error {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		_, err := w.f.WriteAt(b[:], offset)
		return err
	}
	if err := patch(4, wavHeaderSize-8+dataSize); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch header of %s: %w", w.path, err)
	}
	if err := patch(46, uint32(w.frames)); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch header of %s: %w", w.path, err)
	}
	if err := patch(54, dataSize); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch header of %s: %w", w.path, err)
	}
	return w.f.Close()
}
