// ABOUTME: Core audio type definitions
// ABOUTME: Defines stream formats and float32 sample buffers with explicit ownership
package audio

import (
	"fmt"
	"math"
	"time"
)

// Format describes a PCM float32 stream. Every buffer that crosses a
// package boundary carries one; nothing assumes a format implicitly.
type Format struct {
	SampleRate  float64 // Hz, must be positive
	Channels    int     // must be positive
	Interleaved bool    // false means planar (one region per channel)
}

// Valid reports whether the format can describe real audio.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Equal reports whether two formats match exactly, layout included.
func (f Format) Equal(other Format) bool {
	return f.SampleRate == other.SampleRate &&
		f.Channels == other.Channels &&
		f.Interleaved == other.Interleaved
}

func (f Format) String() string {
	layout := "planar"
	if f.Interleaved {
		layout = "interleaved"
	}
	return fmt.Sprintf("%gHz/%dch/f32/%s", f.SampleRate, f.Channels, layout)
}

// FramesFor returns the frame count covering d at this format's rate.
func (f Format) FramesFor(d time.Duration) int {
	return int(math.Round(d.Seconds() * f.SampleRate))
}

// Duration returns the wall time covered by frames at this format's rate.
func (f Format) Duration(frames int) time.Duration {
	return time.Duration(float64(frames) / f.SampleRate * float64(time.Second))
}

// Buffer holds float32 samples in the layout described by Format.
// Interleaved buffers use Data (FrameLen*Channels values, frame-major);
// planar buffers use Chans (Channels slices of FrameLen values each).
//
// A buffer is either owned or borrowed. Borrowed buffers alias memory
// that belongs to a real-time callback and are valid only until that
// callback returns; Clone is the sole safe way to carry their samples
// across a queue or goroutine boundary.
type Buffer struct {
	Format   Format
	FrameLen int

	Data  []float32
	Chans [][]float32

	// Borrowed marks a buffer that aliases callback-owned memory.
	Borrowed bool
}

// NewBuffer allocates an owned, zero-filled buffer of frames length.
func NewBuffer(f Format, frames int) *Buffer {
	b := &Buffer{Format: f, FrameLen: frames}
	if f.Interleaved {
		b.Data = make([]float32, frames*f.Channels)
		return b
	}
	b.Chans = make([][]float32, f.Channels)
	for ch := range b.Chans {
		b.Chans[ch] = make([]float32, frames)
	}
	return b
}

// Silence returns an owned buffer of zero-valued frames.
func Silence(f Format, frames int) *Buffer {
	return NewBuffer(f, frames)
}

// BorrowInterleaved wraps callback-owned interleaved samples without copying.
func BorrowInterleaved(f Format, data []float32, frames int) *Buffer {
	f.Interleaved = true
	return &Buffer{Format: f, FrameLen: frames, Data: data, Borrowed: true}
}

// BorrowPlanar wraps callback-owned per-channel sample regions without copying.
func BorrowPlanar(f Format, chans [][]float32, frames int) *Buffer {
	f.Interleaved = false
	return &Buffer{Format: f, FrameLen: frames, Chans: chans, Borrowed: true}
}

// At returns the sample for a frame/channel pair regardless of layout.
func (b *Buffer) At(frame, ch int) float32 {
	if b.Format.Interleaved {
		return b.Data[frame*b.Format.Channels+ch]
	}
	return b.Chans[ch][frame]
}

// SetAt stores the sample for a frame/channel pair regardless of layout.
func (b *Buffer) SetAt(frame, ch int, v float32) {
	if b.Format.Interleaved {
		b.Data[frame*b.Format.Channels+ch] = v
		return
	}
	b.Chans[ch][frame] = v
}

// Duration returns the wall time the buffer covers.
func (b *Buffer) Duration() time.Duration {
	return b.Format.Duration(b.FrameLen)
}

// standardRates are the nominal rates hardware actually reconfigures to.
var standardRates = []float64{
	8000, 11025, 16000, 22050, 24000, 32000,
	44100, 48000, 88200, 96000, 176400, 192000,
}

// SnapRate returns the nominal sample rate nearest to measured. Effective
// rates estimated from device clocks carry jitter; real reconfigurations
// land on one of these.
func SnapRate(measured float64) float64 {
	best := standardRates[0]
	bestDiff := math.Abs(measured - best)
	for _, r := range standardRates[1:] {
		if d := math.Abs(measured - r); d < bestDiff {
			best = r
			bestDiff = d
		}
	}
	return best
}
