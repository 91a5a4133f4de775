// ABOUTME: Conversion context binding one input format to one output format
// ABOUTME: Carries resampler filter state; rebuilt (never mutated) on format change
package convert

import (
	"errors"
	"fmt"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

// headroomFrames pads every conversion allocation so resamplers that
// buffer internally can never overrun the destination.
const headroomFrames = 32

// maxRatio bounds the rate ratios a filter can be built for.
const maxRatio = 64.0

// ErrConverterUnavailable is returned when no filter can be built for a
// format pair. It is signaled, never retried; the caller must surface it
// and abort the session or buffer.
var ErrConverterUnavailable = errors.New("converter unavailable for format pair")

// ErrFormatMismatch is returned when a buffer does not match the
// context's bound input format. The caller must rebuild the context
// before converting such a buffer.
var ErrFormatMismatch = errors.New("buffer format does not match context input")

// Context converts buffers from one bound PCM float32 format to another.
// It carries the resampler's filter history across calls, so a single
// context must only ever see one ordered stream. Contexts are immutable
// with respect to their bound formats: when the upstream format changes,
// build a new context and drop this one.
//
// Convert may allocate and is not real-time safe. Never call it on a
// capture callback thread.
type Context struct {
	in, out audio.Format
	rs      *resampler // nil when input and output rates match
}

// NewContext builds a context converting in to out.
func NewContext(in, out audio.Format) (*Context, error) {
	if !in.Valid() || !out.Valid() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrConverterUnavailable, in, out)
	}
	ratio := out.SampleRate / in.SampleRate
	if ratio > maxRatio || ratio < 1/maxRatio {
		return nil, fmt.Errorf("%w: ratio %g out of range", ErrConverterUnavailable, ratio)
	}

	c := &Context{in: in, out: out}
	if in.SampleRate != out.SampleRate {
		c.rs = newResampler(in.SampleRate, out.SampleRate, out.Channels)
	}
	return c, nil
}

// Input returns the bound input format.
func (c *Context) Input() audio.Format { return c.in }

// Output returns the bound output format.
func (c *Context) Output() audio.Format { return c.out }

// Convert produces a newly allocated owned buffer in the output format.
// Equal sample rates take a format-only fast path with the frame count
// preserved exactly. Differing rates run the windowed-sinc filter; the
// output length is bounded by ceil(inFrames*outRate/inRate)+32 frames.
func (c *Context) Convert(in *audio.Buffer) (*audio.Buffer, error) {
	if !in.Format.Equal(c.in) {
		return nil, fmt.Errorf("%w: got %s, bound %s", ErrFormatMismatch, in.Format, c.in)
	}

	// Channel mapping happens in the input rate domain so the filter
	// only ever runs over the output channel count.
	work := mixChannels(in, c.out.Channels)

	if c.rs == nil {
		return fromInterleaved(work, in.FrameLen, c.out), nil
	}

	capFrames := c.rs.outputCap(in.FrameLen) + headroomFrames
	outSamples := make([]float32, capFrames*c.out.Channels)
	frames := c.rs.process(work, in.FrameLen, outSamples, capFrames)
	return fromInterleaved(outSamples, frames, c.out), nil
}

// mixChannels maps a buffer's channels onto want channels, returning
// interleaved samples. Mono fans out to every channel, many-to-one
// averages, and otherwise the first min(have,want) channels are copied
// with the rest left silent.
func mixChannels(in *audio.Buffer, want int) []float32 {
	have := in.Format.Channels
	out := make([]float32, in.FrameLen*want)

	switch {
	case have == want:
		for fr := 0; fr < in.FrameLen; fr++ {
			for ch := 0; ch < want; ch++ {
				out[fr*want+ch] = in.At(fr, ch)
			}
		}
	case have == 1:
		for fr := 0; fr < in.FrameLen; fr++ {
			v := in.At(fr, 0)
			for ch := 0; ch < want; ch++ {
				out[fr*want+ch] = v
			}
		}
	case want == 1:
		inv := float32(1.0) / float32(have)
		for fr := 0; fr < in.FrameLen; fr++ {
			var sum float32
			for ch := 0; ch < have; ch++ {
				sum += in.At(fr, ch)
			}
			out[fr] = sum * inv
		}
	default:
		n := min(have, want)
		for fr := 0; fr < in.FrameLen; fr++ {
			for ch := 0; ch < n; ch++ {
				out[fr*want+ch] = in.At(fr, ch)
			}
		}
	}
	return out
}

// fromInterleaved builds an owned output buffer in the format's declared
// layout from interleaved working samples.
func fromInterleaved(samples []float32, frames int, f audio.Format) *audio.Buffer {
	out := audio.NewBuffer(f, frames)
	if f.Interleaved {
		copy(out.Data, samples[:frames*f.Channels])
		return out
	}
	for fr := 0; fr < frames; fr++ {
		for ch := 0; ch < f.Channels; ch++ {
			out.Chans[ch][fr] = samples[fr*f.Channels+ch]
		}
	}
	return out
}
