// ABOUTME: Tests for effective-rate tracking
// ABOUTME: Verifies jitter tolerance, confirmation hysteresis, and rate snapping
package capture

import "testing"

func TestSmallDriftNeverRebuilds(t *testing.T) {
	tr := NewRateTracker(16000)
	for i := 0; i < 100; i++ {
		if _, rebuild := tr.Observe(16100); rebuild {
			t.Fatalf("observation %d: 0.6%% drift triggered a rebuild", i)
		}
	}
	if eff := tr.Effective(); eff < 16000 || eff > 16100 {
		t.Errorf("effective rate %g outside observed range", eff)
	}
	if tr.Bound() != 16000 {
		t.Errorf("bound moved to %g without a confirmed change", tr.Bound())
	}
}

func TestLargeJumpNeedsEightConfirmations(t *testing.T) {
	tr := NewRateTracker(16000)

	for i := 1; i <= 7; i++ {
		if _, rebuild := tr.Observe(48000); rebuild {
			t.Fatalf("rebuild after only %d confirmations", i)
		}
	}

	rate, rebuild := tr.Observe(48000)
	if !rebuild {
		t.Fatal("eighth consecutive confirmation did not trigger a rebuild")
	}
	if rate != 48000 {
		t.Errorf("rebuild rate %g, want 48000", rate)
	}
	if tr.Bound() != 48000 {
		t.Errorf("bound is %g after rebuild, want 48000", tr.Bound())
	}

	// The tracker re-arms: the now-bound rate reads as no drift.
	if _, rebuild := tr.Observe(48000); rebuild {
		t.Error("rebuild re-triggered at the already-bound rate")
	}
}

func TestDisagreeingMeasurementRestartsConfirmation(t *testing.T) {
	tr := NewRateTracker(16000)

	for i := 0; i < 5; i++ {
		tr.Observe(48000)
	}
	// A measurement outside the agreement band resets the count.
	tr.Observe(32000)

	for i := 1; i <= 7; i++ {
		if _, rebuild := tr.Observe(48000); rebuild {
			t.Fatalf("rebuild after reset with only %d confirmations", i)
		}
	}
	if _, rebuild := tr.Observe(48000); !rebuild {
		t.Error("confirmation did not complete after restart")
	}
}

func TestConfirmedRateSnapsToNominal(t *testing.T) {
	tr := NewRateTracker(16000)

	// Jittery measurements all within the agreement band of 47950.
	jitter := []float64{47950, 47960, 47940, 47955, 47948, 47952, 47945, 47958, 47950}
	var rate float64
	var rebuild bool
	for _, m := range jitter {
		rate, rebuild = tr.Observe(m)
		if rebuild {
			break
		}
	}
	if !rebuild {
		t.Fatal("agreeing measurements never confirmed")
	}
	if rate != 48000 {
		t.Errorf("confirmed rate %g, want snap to 48000", rate)
	}
}

func TestObserveIgnoresNonPositive(t *testing.T) {
	tr := NewRateTracker(16000)
	if _, rebuild := tr.Observe(0); rebuild {
		t.Error("zero measurement triggered a rebuild")
	}
	if tr.Effective() != 16000 {
		t.Errorf("zero measurement moved the estimate to %g", tr.Effective())
	}
}
