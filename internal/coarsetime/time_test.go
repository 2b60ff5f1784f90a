package coarsetime

import (
	"testing"
	"time"
)

func TestNowAdvances(t *testing.T) {
	start := Now()
	if d := time.Since(start); d < 0 || d > time.Second {
		t.Fatalf("coarse clock is off by %v", d)
	}

	time.Sleep(3 * Resolution)
	if !Now().After(start) {
		t.Errorf("clock did not advance after %v", 3*Resolution)
	}
	if Since(start) <= 0 {
		t.Errorf("Since(start) = %v, want > 0", Since(start))
	}
}

func BenchmarkTimeNow(b *testing.B) {
	var t time.Time

	b.Run("time", func(b *testing.B) {
		for b.Loop() {
			t = time.Now()
		}
	})

	b.Run("coarsetime", func(b *testing.B) {
		for b.Loop() {
			t = Now()
		}
	})

	_ = t
}
