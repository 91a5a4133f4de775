// ABOUTME: Tests for the capture session state machine
// ABOUTME: Drives scripted sources through gaps, rate changes, and lifecycle edges
package capture

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio/pcmio"
)

// scriptedSource lets a test deliver chunks by hand. Stop guarantees no
// further callbacks because the test is the only caller.
type scriptedSource struct {
	format    audio.Format
	formatErr error
	cb        Callback
	starts    int
	stops     int
}

func (s *scriptedSource) Format() (audio.Format, error) { return s.format, s.formatErr }

func (s *scriptedSource) Start(cb Callback) error {
	s.cb = cb
	s.starts++
	return nil
}

func (s *scriptedSource) Stop() error {
	s.stops++
	return nil
}

func (s *scriptedSource) push(format audio.Format, frames int, value float32, ts time.Duration) {
	data := make([]float32, frames*format.Channels)
	for i := range data {
		data[i] = value
	}
	s.cb(Chunk{
		Buffer:    audio.BorrowInterleaved(format, data, frames),
		Timestamp: ts,
		Format:    format,
	})
}

func readOutput(t *testing.T, path string) []float32 {
	t.Helper()
	r, err := pcmio.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var out []float32
	buf := make([]float32, 4096*r.Format().Channels)
	for {
		n, err := r.ReadFrames(buf)
		if n > 0 {
			out = append(out, buf[:n*r.Format().Channels]...)
		}
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestSessionPadsDeviceClockGap(t *testing.T) {
	src := &scriptedSource{format: audio.Format{SampleRate: 16000, Channels: 1, Interleaved: true}}
	path := filepath.Join(t.TempDir(), "take.wav")
	s := NewSession(Config{Source: src, OutputPath: path})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	// Two 100ms chunks with the device clock jumping 2s between them.
	src.push(src.format, 1600, 0.25, 0)
	src.push(src.format, 1600, 0.25, 2100*time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	samples := readOutput(t, path)
	want := 1600 + 32000 + 1600
	if len(samples) != want {
		t.Fatalf("wrote %d frames, want %d (2s gap padded)", len(samples), want)
	}
	for i := 0; i < 1600; i++ {
		if samples[i] != 0.25 {
			t.Fatalf("frame %d: got %f, want chunk audio", i, samples[i])
		}
	}
	for i := 1600; i < 1600+32000; i++ {
		if samples[i] != 0 {
			t.Fatalf("frame %d: gap not silent: %f", i, samples[i])
		}
	}
	for i := 1600 + 32000; i < want; i++ {
		if samples[i] != 0.25 {
			t.Fatalf("frame %d: got %f, want chunk audio", i, samples[i])
		}
	}
}

func TestSessionIgnoresJitterGap(t *testing.T) {
	src := &scriptedSource{format: audio.Format{SampleRate: 16000, Channels: 1, Interleaved: true}}
	path := filepath.Join(t.TempDir(), "take.wav")
	s := NewSession(Config{Source: src, OutputPath: path})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	// 30ms late is jitter, not a gap.
	src.push(src.format, 1600, 0.25, 0)
	src.push(src.format, 1600, 0.25, 130*time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	if samples := readOutput(t, path); len(samples) != 3200 {
		t.Errorf("wrote %d frames, want 3200 with no padding", len(samples))
	}
}

func TestSessionStartStopIdempotent(t *testing.T) {
	src := &scriptedSource{format: audio.Format{SampleRate: 16000, Channels: 1, Interleaved: true}}
	path := filepath.Join(t.TempDir(), "take.wav")
	s := NewSession(Config{Source: src, OutputPath: path})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if src.starts != 1 {
		t.Errorf("source started %d times, want 1", src.starts)
	}
	if !s.Running() {
		t.Error("session not running after Start")
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if src.stops != 1 {
		t.Errorf("source stopped %d times, want 1", src.stops)
	}
	if s.Running() {
		t.Error("session still running after Stop")
	}
}

func TestSessionStartSurfacesFormatError(t *testing.T) {
	src := &scriptedSource{formatErr: errors.New("no device")}
	s := NewSession(Config{Source: src, OutputPath: filepath.Join(t.TempDir(), "take.wav")})

	if err := s.Start(); err == nil {
		t.Fatal("expected Start to fail when the source format is unknown")
	}
	if s.Running() {
		t.Error("session running after failed Start")
	}
}

func TestSessionConfirmedRateChangeRebindsConverter(t *testing.T) {
	src := &scriptedSource{format: audio.Format{SampleRate: 16000, Channels: 1, Interleaved: true}}
	path := filepath.Join(t.TempDir(), "take.wav")
	s := NewSession(Config{Source: src, OutputPath: path})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	// Timestamps advance as if the device were really running at 48kHz:
	// 1600 frames every 33.3ms. The divergence must be confirmed across
	// eight consecutive measurements before the converter rebinds.
	step := time.Second * 1600 / 48000
	for i := 0; i < 10; i++ {
		src.push(src.format, 1600, 0.1, time.Duration(i)*step)
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	if got := s.ctx.Input().SampleRate; got != 48000 {
		t.Errorf("converter bound to %gHz, want rebind at 48000", got)
	}
	if err := s.Err(); err != nil {
		t.Errorf("unexpected session error: %v", err)
	}
}

func TestSessionSourceFormatChangeRebuilds(t *testing.T) {
	first := audio.Format{SampleRate: 16000, Channels: 1, Interleaved: true}
	second := audio.Format{SampleRate: 48000, Channels: 2, Interleaved: true}
	src := &scriptedSource{format: first}
	path := filepath.Join(t.TempDir(), "take.wav")
	s := NewSession(Config{Source: src, OutputPath: path})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	src.push(first, 1600, 0.25, 0)
	src.push(second, 4800, 0.25, 100*time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	if got := s.ctx.Input(); !got.Equal(second) {
		t.Errorf("converter input is %s after format change, want %s", got, second)
	}
	if err := s.Err(); err != nil {
		t.Errorf("unexpected session error: %v", err)
	}
}

func TestSessionFileReplayEndToEnd(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.wav")
	outPath := filepath.Join(dir, "out.wav")

	inFormat := audio.Format{SampleRate: 16000, Channels: 1, Interleaved: true}
	w, err := pcmio.NewWriter(inPath, inFormat)
	if err != nil {
		t.Fatal(err)
	}
	b := audio.NewBuffer(inFormat, 4000)
	for i := range b.Data {
		b.Data[i] = float32(i%100)*0.01 - 0.3
	}
	if err := w.WriteBuffer(b); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	s := NewSession(Config{
		Source:     &FileSource{Path: inPath},
		OutputPath: outPath,
		TargetRate: 16000,
	})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().FramesWritten < 4000 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	samples := readOutput(t, outPath)
	if len(samples) != 4000 {
		t.Fatalf("replayed %d frames, want 4000", len(samples))
	}
	for i := range samples {
		if samples[i] != b.Data[i] {
			t.Fatalf("frame %d: got %f, want %f", i, samples[i], b.Data[i])
		}
	}
}
