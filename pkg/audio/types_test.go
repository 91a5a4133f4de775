// ABOUTME: Tests for core audio types
// ABOUTME: Covers format math, buffer layouts, and rate snapping
package audio

import (
	"testing"
	"time"
)

func TestFormatValid(t *testing.T) {
	if !(Format{SampleRate: 16000, Channels: 1}).Valid() {
		t.Error("expected 16kHz mono to be valid")
	}
	if (Format{SampleRate: 0, Channels: 1}).Valid() {
		t.Error("expected zero rate to be invalid")
	}
	if (Format{SampleRate: 16000, Channels: 0}).Valid() {
		t.Error("expected zero channels to be invalid")
	}
}

func TestFormatEqual(t *testing.T) {
	a := Format{SampleRate: 16000, Channels: 1, Interleaved: true}
	b := a
	if !a.Equal(b) {
		t.Error("expected identical formats to be equal")
	}
	b.Interleaved = false
	if a.Equal(b) {
		t.Error("expected layout difference to break equality")
	}
}

func TestFramesForDuration(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}
	if got := f.FramesFor(2 * time.Second); got != 32000 {
		t.Errorf("expected 32000 frames for 2s, got %d", got)
	}
	if got := f.Duration(16000); got != time.Second {
		t.Errorf("expected 1s for 16000 frames, got %v", got)
	}
}

func TestBufferInterleavedAccess(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, Interleaved: true}
	b := NewBuffer(f, 4)
	b.SetAt(1, 0, 0.25)
	b.SetAt(1, 1, -0.25)

	if b.Data[2] != 0.25 || b.Data[3] != -0.25 {
		t.Errorf("interleaved layout wrong: %v", b.Data)
	}
	if b.At(1, 0) != 0.25 || b.At(1, 1) != -0.25 {
		t.Error("At did not read back stored samples")
	}
}

func TestBufferPlanarAccess(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, Interleaved: false}
	b := NewBuffer(f, 4)
	b.SetAt(3, 1, 0.5)

	if b.Chans[1][3] != 0.5 {
		t.Errorf("planar layout wrong: %v", b.Chans)
	}
	if b.At(3, 1) != 0.5 {
		t.Error("At did not read back stored sample")
	}
}

func TestSilenceIsZero(t *testing.T) {
	b := Silence(Format{SampleRate: 16000, Channels: 2, Interleaved: true}, 100)
	for i, v := range b.Data {
		if v != 0 {
			t.Fatalf("sample %d not zero: %f", i, v)
		}
	}
	if b.FrameLen != 100 {
		t.Errorf("expected 100 frames, got %d", b.FrameLen)
	}
}

func TestSnapRate(t *testing.T) {
	cases := []struct {
		measured float64
		want     float64
	}{
		{15987.2, 16000},
		{44099.8, 44100},
		{47900, 48000},
		{8100, 8000},
		{191000, 192000},
	}
	for _, c := range cases {
		if got := SnapRate(c.measured); got != c.want {
			t.Errorf("SnapRate(%g) = %g, want %g", c.measured, got, c.want)
		}
	}
}
