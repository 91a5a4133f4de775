// ABOUTME: MP3 reader
// ABOUTME: Decodes via go-mp3 and normalizes 16-bit stereo output to float32
package pcmio

import (
	"fmt"
	"io"
	"os"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

// mp3Reader wraps the go-mp3 decoder, which always emits interleaved
// 16-bit little-endian stereo.
type mp3Reader struct {
	f       *os.File
	decoder *mp3.Decoder
	format  audio.Format
	scratch []byte
}

func openMP3(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	d, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3 %s: %w", path, err)
	}
	return &mp3Reader{
		f:       f,
		decoder: d,
		format: audio.Format{
			SampleRate:  float64(d.SampleRate()),
			Channels:    2,
			Interleaved: true,
		},
	}, nil
}

func (r *mp3Reader) Format() audio.Format { return r.format }

func (r *mp3Reader) ReadFrames(dst []float32) (int, error) {
	want := len(dst) / 2 * 2
	if want == 0 {
		return 0, nil
	}
	need := want * 2
	if cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	}
	buf := r.scratch[:need]

	n, err := r.decoder.Read(buf)
	if n == 0 {
		if err == nil || err == io.EOF {
			return 0, io.EOF
		}
		return 0, err
	}

	samples := n / 2
	const inv = 1.0 / 32768.0
	for i := 0; i < samples; i++ {
		s := int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
		dst[i] = float32(s) * inv
	}
	return samples / 2, nil
}

func (r *mp3Reader) Close() error { return r.f.Close() }
