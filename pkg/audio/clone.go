// ABOUTME: Deep copy of callback-owned buffers
// ABOUTME: The only safe crossing from the real-time thread to a worker queue
package audio

// Clone deep-copies a buffer into an independently owned one with the
// same format, frame length, and per-channel content. A borrowed buffer
// must be cloned before it is queued anywhere; retaining it past the
// callback is a use-after-scope on the callback's memory.
//
// Only FrameLen frames are copied, never the backing capacity.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{Format: b.Format, FrameLen: b.FrameLen}
	if b.Format.Interleaved {
		n := b.FrameLen * b.Format.Channels
		out.Data = make([]float32, n)
		copy(out.Data, b.Data[:n])
		return out
	}
	out.Chans = make([][]float32, b.Format.Channels)
	for ch := range out.Chans {
		out.Chans[ch] = make([]float32, b.FrameLen)
		copy(out.Chans[ch], b.Chans[ch][:b.FrameLen])
	}
	return out
}
