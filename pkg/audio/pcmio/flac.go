// ABOUTME: FLAC reader
// ABOUTME: Parses frames via mewkiz/flac, carrying leftovers between reads
package pcmio

import (
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

// flacReader decodes whole FLAC frames and hands samples out on demand,
// keeping the undelivered remainder of the last frame between calls.
type flacReader struct {
	f       *os.File
	stream  *flac.Stream
	format  audio.Format
	scale   float32
	pending []float32
}

func openFLAC(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC %s: %w", path, err)
	}
	info := stream.Info
	return &flacReader{
		f:      f,
		stream: stream,
		format: audio.Format{
			SampleRate:  float64(info.SampleRate),
			Channels:    int(info.NChannels),
			Interleaved: true,
		},
		scale: float32(int64(1) << (info.BitsPerSample - 1)),
	}, nil
}

func (r *flacReader) Format() audio.Format { return r.format }

func (r *flacReader) ReadFrames(dst []float32) (int, error) {
	ch := r.format.Channels
	want := len(dst) / ch * ch
	if want == 0 {
		return 0, nil
	}

	filled := 0
	for filled < want {
		if len(r.pending) > 0 {
			n := copy(dst[filled:want], r.pending)
			r.pending = r.pending[n:]
			filled += n
			continue
		}

		frame, err := r.stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return filled / ch, err
		}

		inv := 1 / r.scale
		block := int(frame.BlockSize)
		samples := make([]float32, block*ch)
		for i := 0; i < block; i++ {
			for c := 0; c < ch; c++ {
				samples[i*ch+c] = float32(frame.Subframes[c].Samples[i]) * inv
			}
		}
		r.pending = samples
	}

	if filled == 0 {
		return 0, io.EOF
	}
	return filled / ch, nil
}

func (r *flacReader) Close() error { return r.f.Close() }
