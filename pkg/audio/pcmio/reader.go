// ABOUTME: PCM file readers normalized to float32
// ABOUTME: Opens WAV, MP3, FLAC, and Ogg Vorbis files behind one interface
package pcmio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

// Reader reads a PCM audio file as interleaved float32 frames in [-1, 1],
// whatever the stored sample representation.
type Reader interface {
	// Format returns the stream's stored format (always interleaved).
	Format() audio.Format

	// ReadFrames fills dst with up to len(dst)/channels frames and
	// returns the frames read. Fewer frames than requested may be
	// returned near the end of the stream; (0, io.EOF) marks exhaustion.
	ReadFrames(dst []float32) (int, error)

	Close() error
}

// Open opens an audio file for reading, picking the decoder from the
// file extension.
func Open(path string) (Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return openWAV(path)
	case ".mp3":
		return openMP3(path)
	case ".flac":
		return openFLAC(path)
	case ".ogg", ".oga":
		return openVorbis(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .wav, .mp3, .flac, .ogg)", path)
	}
}
