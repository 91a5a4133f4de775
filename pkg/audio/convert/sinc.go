// ABOUTME: Streaming Kaiser-windowed sinc resampler
// ABOUTME: Fixed best-quality filter; keeps input history for chunk continuity
package convert

import "math"

// halfTaps is the kernel half-width in output-rate frames at unity ratio.
const halfTaps = 16

// kaiserBeta trades transition width for ~90dB stopband attenuation.
const kaiserBeta = 8.6

// resampler converts interleaved float32 frames between sample rates
// with a windowed-sinc kernel. The tail of each input block is retained
// so consecutive chunks of one stream resample without seams.
type resampler struct {
	channels int
	step     float64 // input frames consumed per output frame
	scale    float64 // kernel cutoff scale, <1 when downsampling
	half     int     // kernel half-width in input frames

	hist    []float32 // retained input tail, interleaved
	histLen int       // frames currently in hist
	pos     float64   // next output center within hist+input, in frames
}

func newResampler(inRate, outRate float64, channels int) *resampler {
	scale := outRate / inRate
	if scale > 1 {
		scale = 1
	}
	return &resampler{
		channels: channels,
		step:     inRate / outRate,
		scale:    scale,
		half:     int(math.Ceil(halfTaps / scale)),
	}
}

// outputCap returns the frame count inFrames can produce at most,
// before headroom.
func (r *resampler) outputCap(inFrames int) int {
	return int(math.Ceil(float64(inFrames) / r.step))
}

// process consumes inFrames interleaved frames from input and writes up
// to outCap output frames into out, returning the frames produced.
func (r *resampler) process(input []float32, inFrames int, out []float32, outCap int) int {
	ch := r.channels
	combinedFrames := r.histLen + inFrames
	combined := make([]float32, 0, combinedFrames*ch)
	combined = append(combined, r.hist[:r.histLen*ch]...)
	combined = append(combined, input[:inFrames*ch]...)

	produced := 0
	// The kernel needs r.half frames of right context; outputs beyond
	// that wait for the next chunk.
	limit := float64(combinedFrames - 1 - r.half)
	for produced < outCap && r.pos <= limit {
		r.kernelAt(combined, combinedFrames, r.pos, out[produced*ch:])
		produced++
		r.pos += r.step
	}

	// Retain enough tail for the next chunk's left context.
	keep := 2 * r.half
	if keep > combinedFrames {
		keep = combinedFrames
	}
	drop := combinedFrames - keep
	if cap(r.hist) < keep*ch {
		r.hist = make([]float32, keep*ch)
	}
	r.hist = r.hist[:keep*ch]
	copy(r.hist, combined[drop*ch:combinedFrames*ch])
	r.histLen = keep
	r.pos -= float64(drop)

	return produced
}

// kernelAt evaluates the windowed-sinc kernel centered at pos and writes
// one output frame. Positions before the stream start read as silence.
func (r *resampler) kernelAt(combined []float32, frames int, pos float64, dst []float32) {
	ch := r.channels
	idx := int(math.Floor(pos))

	for c := 0; c < ch; c++ {
		dst[c] = 0
	}
	var wsum float64

	for k := idx - r.half + 1; k <= idx+r.half; k++ {
		x := pos - float64(k)
		w := r.scale * sinc(r.scale*x) * kaiser(x/float64(r.half))
		wsum += w
		if k < 0 || k >= frames {
			continue // silence outside the stream
		}
		for c := 0; c < ch; c++ {
			dst[c] += float32(w * float64(combined[k*ch+c]))
		}
	}

	if wsum != 0 {
		inv := float32(1 / wsum)
		for c := 0; c < ch; c++ {
			dst[c] *= inv
		}
	}
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// kaiser evaluates the Kaiser window at normalized position x in [-1, 1].
func kaiser(x float64) float64 {
	if x < -1 || x > 1 {
		return 0
	}
	return besselI0(kaiserBeta*math.Sqrt(1-x*x)) / besselI0(kaiserBeta)
}

// besselI0 is the zeroth-order modified Bessel function, by power series.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	half := x / 2
	for k := 1; k < 32; k++ {
		term *= (half / float64(k)) * (half / float64(k))
		sum += term
		if term < 1e-12*sum {
			break
		}
	}
	return sum
}
