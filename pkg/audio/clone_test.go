// ABOUTME: Tests for the buffer deep copy
// ABOUTME: Verifies independence from the borrowed region in both layouts
package audio

import "testing"

func TestCloneInterleaved(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, Interleaved: true}
	backing := []float32{0.1, 0.2, 0.3, 0.4, 99, 99} // capacity beyond FrameLen
	b := BorrowInterleaved(f, backing, 2)

	c := b.Clone()

	if c.Borrowed {
		t.Error("clone must be owned")
	}
	if c.FrameLen != 2 {
		t.Errorf("expected 2 frames, got %d", c.FrameLen)
	}
	if len(c.Data) != 4 {
		t.Errorf("clone must copy only FrameLen frames, got %d samples", len(c.Data))
	}
	for i, want := range []float32{0.1, 0.2, 0.3, 0.4} {
		if c.Data[i] != want {
			t.Errorf("sample %d: got %f, want %f", i, c.Data[i], want)
		}
	}

	// Mutating the borrowed region must not reach the clone.
	backing[0] = -1
	if c.Data[0] != 0.1 {
		t.Error("clone aliases the borrowed region")
	}
}

func TestClonePlanar(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, Interleaved: false}
	left := []float32{1, 2, 3}
	right := []float32{4, 5, 6}
	b := BorrowPlanar(f, [][]float32{left, right}, 3)

	c := b.Clone()

	for i := 0; i < 3; i++ {
		if c.Chans[0][i] != left[i] || c.Chans[1][i] != right[i] {
			t.Fatalf("frame %d mismatch", i)
		}
	}

	left[0] = -1
	if c.Chans[0][0] != 1 {
		t.Error("clone aliases the borrowed channel region")
	}
}

func TestCloneZeroFrames(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1, Interleaved: true}
	b := BorrowInterleaved(f, nil, 0)
	c := b.Clone()
	if c.FrameLen != 0 || len(c.Data) != 0 {
		t.Errorf("expected empty clone, got %d frames", c.FrameLen)
	}
}
