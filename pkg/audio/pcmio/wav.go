// ABOUTME: WAV readers for integer PCM and IEEE-float files
// ABOUTME: Integer PCM decodes via go-audio; float data streams natively
package pcmio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

type wavInfo struct {
	audioFormat uint16
	channels    int
	sampleRate  float64
	bitDepth    int
	dataOffset  int64
	dataSize    int64
}

// openWAV probes the fmt chunk and dispatches: IEEE-float data is read
// natively, integer PCM goes through the go-audio decoder.
func openWAV(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := probeWAV(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if info.audioFormat == wavFormatFloat {
		if info.bitDepth != 32 {
			f.Close()
			return nil, fmt.Errorf("%s: unsupported float bit depth %d", path, info.bitDepth)
		}
		if _, err := f.Seek(info.dataOffset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to seek %s: %w", path, err)
		}
		return &floatWAVReader{
			f: f,
			format: audio.Format{
				SampleRate:  info.sampleRate,
				Channels:    info.channels,
				Interleaved: true,
			},
			remaining: info.dataSize / 4,
		}, nil
	}

	// Integer PCM, plain or extensible: hand the file to go-audio.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek %s: %w", path, err)
	}
	d := wav.NewDecoder(f)
	d.ReadInfo()
	if d.NumChans == 0 || d.SampleRate == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: not a decodable WAV file", path)
	}
	return &intWAVReader{
		f:       f,
		decoder: d,
		format: audio.Format{
			SampleRate:  float64(d.SampleRate),
			Channels:    int(d.NumChans),
			Interleaved: true,
		},
		scale: float32(int64(1) << (d.BitDepth - 1)),
	}, nil
}

// probeWAV walks the RIFF chunk list and collects fmt and data info.
func probeWAV(f *os.File) (wavInfo, error) {
	var info wavInfo

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return info, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return info, fmt.Errorf("not a RIFF/WAVE file")
	}

	offset := int64(12)
	haveFmt, haveData := false, false
	for !(haveFmt && haveData) {
		var hdr [8]byte
		if _, err := f.ReadAt(hdr[:], offset); err != nil {
			if err == io.EOF && haveFmt && haveData {
				break
			}
			return info, err
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			var body [16]byte
			if _, err := f.ReadAt(body[:], offset+8); err != nil {
				return info, err
			}
			info.audioFormat = binary.LittleEndian.Uint16(body[0:2])
			info.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.sampleRate = float64(binary.LittleEndian.Uint32(body[4:8]))
			info.bitDepth = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			info.dataOffset = offset + 8
			info.dataSize = size
			haveData = true
		}

		offset += 8 + size
		if size%2 == 1 {
			offset++ // RIFF chunks are word aligned
		}
	}

	if info.channels == 0 || info.sampleRate == 0 {
		return info, fmt.Errorf("missing or empty fmt chunk")
	}
	return info, nil
}

// floatWAVReader streams IEEE-float samples straight off the data chunk.
type floatWAVReader struct {
	f         *os.File
	format    audio.Format
	remaining int64 // samples left in the data chunk
	scratch   []byte
}

func (r *floatWAVReader) Format() audio.Format { return r.format }

func (r *floatWAVReader) ReadFrames(dst []float32) (int, error) {
	ch := r.format.Channels
	want := int64(len(dst) / ch * ch)
	if want > r.remaining {
		want = r.remaining
	}
	if want == 0 {
		return 0, io.EOF
	}

	need := int(want) * 4
	if cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	}
	buf := r.scratch[:need]
	n, err := io.ReadFull(r.f, buf)
	samples := n / 4
	for i := 0; i < samples; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	r.remaining -= int64(samples)

	if samples == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	return samples / ch, nil
}

func (r *floatWAVReader) Close() error { return r.f.Close() }

// intWAVReader decodes integer PCM via the go-audio decoder and
// normalizes by the source bit depth.
type intWAVReader struct {
	f       *os.File
	decoder *wav.Decoder
	format  audio.Format
	scale   float32
	intBuf  *goaudio.IntBuffer
}

func (r *intWAVReader) Format() audio.Format { return r.format }

func (r *intWAVReader) ReadFrames(dst []float32) (int, error) {
	ch := r.format.Channels
	want := len(dst) / ch * ch
	if want == 0 {
		return 0, nil
	}
	if r.intBuf == nil || len(r.intBuf.Data) != want {
		r.intBuf = &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: ch,
				SampleRate:  int(r.format.SampleRate),
			},
			Data:           make([]int, want),
			SourceBitDepth: int(r.decoder.BitDepth),
		}
	}

	n, err := r.decoder.PCMBuffer(r.intBuf)
	if n == 0 {
		if err == nil || err == io.EOF {
			return 0, io.EOF
		}
		return 0, err
	}
	inv := 1 / r.scale
	for i := 0; i < n; i++ {
		dst[i] = float32(r.intBuf.Data[i]) * inv
	}
	return n / ch, nil
}

func (r *intWAVReader) Close() error { return r.f.Close() }
