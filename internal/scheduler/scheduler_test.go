package scheduler

import (
	"testing"
	"time"

	"anchorwatch/internal/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	for retry := 1; retry <= 8; retry++ {
		for i := 0; i < 50; i++ {
			d := backoffDelay(retry)
			if d < 0 {
				t.Fatalf("retry %d: negative delay %v", retry, d)
			}
			max := time.Duration(float64(retryMaxDelay) * (1 + retryJitter))
			if d > max {
				t.Fatalf("retry %d: delay %v exceeds cap %v", retry, d, max)
			}
		}
	}
}

func TestBackoffDelayGrows(t *testing.T) {
	t.Parallel()
	// Compare averages to smooth out jitter.
	avg := func(retry int) time.Duration {
		var sum time.Duration
		const n = 200
		for i := 0; i < n; i++ {
			sum += backoffDelay(retry)
		}
		return sum / n
	}
	if a1, a3 := avg(1), avg(3); a3 <= a1 {
		t.Fatalf("expected retry 3 delay (%v) > retry 1 delay (%v)", a3, a1)
	}
}

func TestAddIntervalRejectsZero(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nopLogger())
	if err := s.AddInterval("x", 0, 0, nil); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nopLogger())
	if err := s.AddCron("x", "not a spec", 0, nil); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}
