// ABOUTME: Effective sample rate tracking with rebuild hysteresis
// ABOUTME: Smooths callback jitter and confirms genuine device rate changes
package capture

import (
	"math"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
)

const (
	// emaWeight smooths effective-rate measurements across callbacks.
	emaWeight = 0.1

	// jumpTolerance is the relative deviation below which the smoothed
	// rate is treated as clock jitter and ignored.
	jumpTolerance = 0.05

	// confirmBand is how tightly consecutive measurements must agree to
	// count as confirmations of the same new rate.
	confirmBand = 0.005

	// confirmNeeded is the consecutive confirmation count required
	// before committing to a converter rebuild.
	confirmNeeded = 8
)

// RateTracker estimates a source's effective input sample rate from
// framesDelivered / elapsedDeviceTime and decides when the divergence
// from the bound rate is a genuine reconfiguration rather than jitter.
// A large jump must be confirmed by several consecutive agreeing
// measurements; the committed rate is snapped to the nearest nominal
// hardware rate.
type RateTracker struct {
	bound     float64
	ema       float64
	candidate float64
	confirmed int
}

// NewRateTracker starts tracking around the converter's bound input rate.
func NewRateTracker(boundRate float64) *RateTracker {
	return &RateTracker{bound: boundRate, ema: boundRate}
}

// Bound returns the rate the tracker currently considers authoritative.
func (t *RateTracker) Bound() float64 { return t.bound }

// Effective returns the smoothed effective rate estimate.
func (t *RateTracker) Effective() float64 { return t.ema }

// Observe feeds one effective-rate measurement. It returns the snapped
// new rate and true exactly when enough consecutive confirmations have
// accumulated to warrant rebuilding the conversion context.
func (t *RateTracker) Observe(measured float64) (float64, bool) {
	if measured <= 0 {
		return 0, false
	}
	t.ema += emaWeight * (measured - t.ema)

	if math.Abs(t.ema-t.bound)/t.bound < jumpTolerance {
		// Small drift: the resampler ratio absorbs it.
		t.confirmed = 0
		return 0, false
	}

	if t.confirmed == 0 || math.Abs(measured-t.candidate)/t.candidate > confirmBand {
		// New candidate rate; start confirmation over.
		t.candidate = measured
		t.confirmed = 1
		return 0, false
	}

	t.confirmed++
	if t.confirmed < confirmNeeded {
		return 0, false
	}

	snapped := audio.SnapRate(t.candidate)
	t.bound = snapped
	t.ema = snapped
	t.confirmed = 0
	return snapped, true
}
