// ABOUTME: Offline two-stream merge engine
// ABOUTME: Aligns two mono recordings into stereo plus a down-mixed mono file
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio/convert"
	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio/pcmio"
)

// chunkFrames is the lockstep read size per input stream.
const chunkFrames = 4096

// ErrInputMissing marks a merge input that does not exist.
var ErrInputMissing = errors.New("merge input missing")

// ErrNotMonoInput marks a merge input with more than one channel.
var ErrNotMonoInput = errors.New("merge input is not mono")

// WriteError reports the output file a merge died on and why.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("merge write to %s failed: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Merge reads two mono recordings, resamples each to targetRate, aligns
// them by read position, and writes a stereo file (input A on channel 0,
// B on channel 1) plus a mono down-mix (the per-sample mean of both
// channels) next to pathA. When one recording is shorter, the missing
// side is silence, so the stereo file always spans the longer take.
//
// Any failure aborts the whole merge; a partially written, misaligned
// pair is worse than no output. Partial output files from an aborted
// merge are left in place and are the caller's to clean up.
//
// ctx is checked between chunks; cancellation aborts with ctx.Err().
func Merge(ctx context.Context, pathA, pathB string, targetRate float64) (stereoPath, monoPath string, err error) {
	for _, p := range []string{pathA, pathB} {
		if _, statErr := os.Stat(p); statErr != nil {
			return "", "", fmt.Errorf("%w: %s", ErrInputMissing, p)
		}
	}

	target := audio.Format{SampleRate: targetRate, Channels: 1, Interleaved: true}

	a, err := openStream(pathA, target)
	if err != nil {
		return "", "", err
	}
	defer a.Close()
	b, err := openStream(pathB, target)
	if err != nil {
		return "", "", err
	}
	defer b.Close()

	dir := filepath.Dir(pathA)
	stereoPath = filepath.Join(dir, "merged-stereo.wav")
	monoPath = filepath.Join(dir, "merged-mono.wav")

	stereoFmt := audio.Format{SampleRate: targetRate, Channels: 2, Interleaved: false}
	monoFmt := audio.Format{SampleRate: targetRate, Channels: 1, Interleaved: false}

	stereoOut, err := pcmio.NewWriter(stereoPath, stereoFmt)
	if err != nil {
		return "", "", &WriteError{Path: stereoPath, Err: err}
	}
	monoOut, err := pcmio.NewWriter(monoPath, monoFmt)
	if err != nil {
		stereoOut.Close()
		return "", "", &WriteError{Path: monoPath, Err: err}
	}

	if err := mergeLoop(ctx, a, b, stereoOut, monoOut, stereoFmt, monoFmt); err != nil {
		stereoOut.Close()
		monoOut.Close()
		return "", "", err
	}

	if err := stereoOut.Close(); err != nil {
		monoOut.Close()
		return "", "", &WriteError{Path: stereoPath, Err: err}
	}
	if err := monoOut.Close(); err != nil {
		return "", "", &WriteError{Path: monoPath, Err: err}
	}

	log.Printf("merged %s + %s -> %s, %s (%d frames)",
		pathA, pathB, stereoPath, monoPath, stereoOut.Frames())
	return stereoPath, monoPath, nil
}

func mergeLoop(ctx context.Context, a, b *stream, stereoOut, monoOut *pcmio.Writer, stereoFmt, monoFmt audio.Format) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("merge canceled, partial outputs left in place: %w", err)
		}

		left, err := a.next()
		if err != nil {
			return err
		}
		right, err := b.next()
		if err != nil {
			return err
		}

		if left == nil && right == nil {
			return nil
		}

		// One side exhausted: substitute silence matching the live side
		// so stereo alignment survives recordings of unequal length.
		if left == nil {
			left = audio.Silence(a.target, right.FrameLen)
		}
		if right == nil {
			right = audio.Silence(b.target, left.FrameLen)
		}

		frames := left.FrameLen
		if right.FrameLen > frames {
			frames = right.FrameLen
		}

		stereo := audio.NewBuffer(stereoFmt, frames)
		for i := 0; i < left.FrameLen && i < frames; i++ {
			stereo.Chans[0][i] = left.At(i, 0)
		}
		for i := 0; i < right.FrameLen && i < frames; i++ {
			stereo.Chans[1][i] = right.At(i, 0)
		}

		mono := audio.NewBuffer(monoFmt, frames)
		for i := 0; i < frames; i++ {
			mono.Chans[0][i] = 0.5 * (stereo.Chans[0][i] + stereo.Chans[1][i])
		}

		if err := stereoOut.WriteBuffer(stereo); err != nil {
			return &WriteError{Path: stereoOut.Path(), Err: err}
		}
		if err := monoOut.WriteBuffer(mono); err != nil {
			return &WriteError{Path: monoOut.Path(), Err: err}
		}
	}
}

// stream reads one mono input, converting to the shared target format
// when the stored format differs. Converted samples buffer in pending so
// the two sides of the merge always advance in equal target-rate chunks,
// whatever each input's native rate.
type stream struct {
	path    string
	reader  pcmio.Reader
	ctx     *convert.Context // nil when the stored format already matches
	target  audio.Format
	in      []float32
	pending []float32
	eof     bool
}

func openStream(path string, target audio.Format) (*stream, error) {
	r, err := pcmio.Open(path)
	if err != nil {
		return nil, err
	}
	format := r.Format()
	if format.Channels != 1 {
		r.Close()
		return nil, fmt.Errorf("%w: %s has %d channels", ErrNotMonoInput, path, format.Channels)
	}

	st := &stream{path: path, reader: r, target: target, in: make([]float32, chunkFrames)}
	if !format.Equal(target) {
		ctx, err := convert.NewContext(format, target)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to build converter for %s: %w", path, err)
		}
		st.ctx = ctx
	}
	return st, nil
}

// next returns the stream's next chunkFrames target-rate frames, a short
// tail at end of stream, or nil once exhausted.
func (st *stream) next() (*audio.Buffer, error) {
	for len(st.pending) < chunkFrames && !st.eof {
		n, err := st.reader.ReadFrames(st.in)
		if err == io.EOF {
			st.eof = true
		} else if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", st.path, err)
		}
		if n == 0 {
			continue
		}
		if st.ctx == nil {
			st.pending = append(st.pending, st.in[:n]...)
			continue
		}
		chunk := audio.BorrowInterleaved(st.reader.Format(), st.in, n)
		out, err := st.ctx.Convert(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", st.path, err)
		}
		st.pending = append(st.pending, out.Data[:out.FrameLen]...)
	}

	take := len(st.pending)
	if take == 0 {
		return nil, nil
	}
	if take > chunkFrames {
		take = chunkFrames
	}
	b := audio.NewBuffer(st.target, take)
	copy(b.Data, st.pending[:take])
	st.pending = append(st.pending[:0], st.pending[take:]...)
	return b, nil
}

func (st *stream) Close() {
	st.reader.Close()
}
