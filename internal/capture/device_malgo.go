// ABOUTME: Device capture backend on malgo (miniaudio)
// ABOUTME: Captures float32 from an input device or the system loopback mix
package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

// MalgoDevice captures from the default input device, or from the
// default render device in loopback mode (system audio on backends that
// support it, e.g. WASAPI).
type MalgoDevice struct {
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	format   audio.Format
	loopback bool

	cb      Callback
	frames  uint64    // device clock, advanced only on the audio thread
	scratch []float32 // reused conversion buffer, audio thread only
}

// NewMalgoDevice initializes the malgo context and fixes the capture
// format. miniaudio converts the hardware format to the requested one.
func NewMalgoDevice(loopback bool, sampleRate float64, channels int) (*MalgoDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	return &MalgoDevice{
		ctx:      ctx,
		loopback: loopback,
		format: audio.Format{
			SampleRate:  sampleRate,
			Channels:    channels,
			Interleaved: true,
		},
	}, nil
}

func (d *MalgoDevice) Format() (audio.Format, error) {
	return d.format, nil
}

func (d *MalgoDevice) Start(cb Callback) error {
	kind := malgo.Capture
	if d.loopback {
		kind = malgo.Loopback
	}
	config := malgo.DefaultDeviceConfig(kind)
	config.Capture.Format = malgo.FormatF32
	config.Capture.Channels = uint32(d.format.Channels)
	config.SampleRate = uint32(d.format.SampleRate)
	config.Alsa.NoMMap = 1

	d.cb = cb
	callbacks := malgo.DeviceCallbacks{
		Data: d.onData,
	}

	device, err := malgo.InitDevice(d.ctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	d.device = device
	return nil
}

// onData runs on the miniaudio capture thread. Raw bytes are reframed
// into the reused scratch slice; the borrowed buffer handed to the
// callback aliases that slice and must be cloned before queueing.
func (d *MalgoDevice) onData(_, input []byte, frameCount uint32) {
	samples := int(frameCount) * d.format.Channels
	if cap(d.scratch) < samples {
		d.scratch = make([]float32, samples)
	}
	buf := d.scratch[:samples]
	for i := 0; i < samples; i++ {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}

	ts := time.Duration(float64(d.frames) / d.format.SampleRate * float64(time.Second))
	d.frames += uint64(frameCount)

	d.cb(Chunk{
		Buffer:    audio.BorrowInterleaved(d.format, buf, int(frameCount)),
		Timestamp: ts,
		Format:    d.format,
	})
}

func (d *MalgoDevice) Stop() error {
	if d.device != nil {
		if err := d.device.Stop(); err != nil {
			return fmt.Errorf("failed to stop capture device: %w", err)
		}
		d.device.Uninit()
		d.device = nil
	}
	return nil
}

// Close releases the malgo context. Call after the final Stop.
func (d *MalgoDevice) Close() error {
	if d.ctx != nil {
		if err := d.ctx.Uninit(); err != nil {
			return err
		}
		d.ctx.Free()
		d.ctx = nil
	}
	return nil
}
