// ABOUTME: Live audio source abstraction
// ABOUTME: Process taps, input devices, and file replays behind one interface
package capture

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio/pcmio"
)

// Chunk is one callback delivery: a borrowed buffer that is valid only
// until the callback returns, the chunk's position on the source's own
// clock, and the format the source was producing when the chunk was read.
type Chunk struct {
	Buffer    *audio.Buffer
	Timestamp time.Duration
	Format    audio.Format
}

// Callback receives chunks on the source's delivery thread. It must
// return quickly, must not block on I/O, and must not retain the
// chunk's buffer past the call.
type Callback func(Chunk)

// Source delivers timestamped audio. Implementations own the OS or file
// registration; the session only registers a callback and reads the
// declared format.
type Source interface {
	// Format reports the source's current format. Valid before Start.
	Format() (audio.Format, error)

	// Start registers cb and begins delivering chunks.
	Start(cb Callback) error

	// Stop halts delivery and unregisters the callback. When Stop
	// returns, no further callback invocations occur.
	Stop() error
}

// TapHandle is the collaborator-provided face of a per-process system
// audio tap. Tap and aggregate-device creation, permission prompting,
// and process enumeration all live outside this package; the core only
// consumes "register a callback for timestamped buffers".
type TapHandle interface {
	CurrentFormat() (audio.Format, error)
	Register(Callback) error
	Unregister() error
}

// TapSource adapts an externally created process tap to Source.
type TapSource struct {
	handle TapHandle
}

// NewTapSource wraps a tap handle.
func NewTapSource(handle TapHandle) *TapSource {
	return &TapSource{handle: handle}
}

func (t *TapSource) Format() (audio.Format, error) {
	return t.handle.CurrentFormat()
}

func (t *TapSource) Start(cb Callback) error {
	if err := t.handle.Register(cb); err != nil {
		return fmt.Errorf("failed to register tap callback: %w", err)
	}
	return nil
}

func (t *TapSource) Stop() error {
	return t.handle.Unregister()
}

// FileSource replays a PCM file as if it were a live device, delivering
// fixed chunks with timestamps derived from the frame count. With
// Realtime set it paces delivery at the file's sample rate; otherwise it
// delivers as fast as the consumer allows. Used for offline replay and
// as the test double for device sources.
type FileSource struct {
	Path        string
	ChunkFrames int // default 1024
	Realtime    bool

	reader pcmio.Reader
	stop   chan struct{}
	done   chan struct{}
	mu     sync.Mutex
}

func (s *FileSource) Format() (audio.Format, error) {
	if err := s.open(); err != nil {
		return audio.Format{}, err
	}
	return s.reader.Format(), nil
}

func (s *FileSource) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return nil
	}
	r, err := pcmio.Open(s.Path)
	if err != nil {
		return err
	}
	s.reader = r
	return nil
}

func (s *FileSource) Start(cb Callback) error {
	if err := s.open(); err != nil {
		return err
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	chunk := s.ChunkFrames
	if chunk <= 0 {
		chunk = 1024
	}
	format := s.reader.Format()
	buf := make([]float32, chunk*format.Channels)

	go func() {
		defer close(s.done)
		var pos int64
		ticker := time.NewTicker(format.Duration(chunk))
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			default:
			}

			n, err := s.reader.ReadFrames(buf)
			if n > 0 {
				cb(Chunk{
					Buffer:    audio.BorrowInterleaved(format, buf, n),
					Timestamp: format.Duration(int(pos)),
					Format:    format,
				})
				pos += int64(n)
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				return
			}
			if s.Realtime {
				select {
				case <-ticker.C:
				case <-s.stop:
					return
				}
			}
		}
	}()
	return nil
}

func (s *FileSource) Stop() error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		err := s.reader.Close()
		s.reader = nil
		return err
	}
	return nil
}
