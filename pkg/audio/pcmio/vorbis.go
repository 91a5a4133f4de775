// ABOUTME: Ogg Vorbis reader
// ABOUTME: Thin wrapper over jfreymuth/oggvorbis, which already yields float32
package pcmio

import (
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

type vorbisReader struct {
	f       *os.File
	decoder *oggvorbis.Reader
	format  audio.Format
}

func openVorbis(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	d, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode Ogg Vorbis %s: %w", path, err)
	}
	return &vorbisReader{
		f:       f,
		decoder: d,
		format: audio.Format{
			SampleRate:  float64(d.SampleRate()),
			Channels:    d.Channels(),
			Interleaved: true,
		},
	}, nil
}

func (r *vorbisReader) Format() audio.Format { return r.format }

func (r *vorbisReader) ReadFrames(dst []float32) (int, error) {
	ch := r.format.Channels
	want := len(dst) / ch * ch
	if want == 0 {
		return 0, nil
	}
	n, err := r.decoder.Read(dst[:want])
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	return n / ch, nil
}

func (r *vorbisReader) Close() error { return r.f.Close() }
