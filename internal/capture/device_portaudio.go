// ABOUTME: Device capture backend on PortAudio
// ABOUTME: Alternative to the malgo backend where PortAudio is available
package capture

import (
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

// PortAudioDevice captures float32 from the default input device via
// PortAudio's callback API.
type PortAudioDevice struct {
	stream *portaudio.Stream
	format audio.Format
	frames uint64 // device clock, advanced only on the audio thread
	cb     Callback
}

// NewPortAudioDevice initializes PortAudio and fixes the capture format.
func NewPortAudioDevice(sampleRate float64, channels int) (*PortAudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &PortAudioDevice{
		format: audio.Format{
			SampleRate:  sampleRate,
			Channels:    channels,
			Interleaved: true,
		},
	}, nil
}

func (d *PortAudioDevice) Format() (audio.Format, error) {
	return d.format, nil
}

func (d *PortAudioDevice) Start(cb Callback) error {
	d.cb = cb
	stream, err := portaudio.OpenDefaultStream(
		d.format.Channels, 0, d.format.SampleRate, 1024, d.onData)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	d.stream = stream
	return nil
}

// onData runs on the PortAudio callback thread. The input slice belongs
// to PortAudio for the duration of the call only.
func (d *PortAudioDevice) onData(in []float32) {
	frameCount := len(in) / d.format.Channels
	ts := time.Duration(float64(d.frames) / d.format.SampleRate * float64(time.Second))
	d.frames += uint64(frameCount)

	d.cb(Chunk{
		Buffer:    audio.BorrowInterleaved(d.format, in, frameCount),
		Timestamp: ts,
		Format:    d.format,
	})
}

func (d *PortAudioDevice) Stop() error {
	if d.stream != nil {
		if err := d.stream.Stop(); err != nil {
			return fmt.Errorf("failed to stop input stream: %w", err)
		}
		d.stream.Close()
		d.stream = nil
	}
	return nil
}

// Close terminates PortAudio. Call after the final Stop.
func (d *PortAudioDevice) Close() error {
	return portaudio.Terminate()
}
