package circuitbreaker

import (
	"testing"
	"time"

	"github.com/direitopremium/lexgen/internal/metrics"
	dto "github.com/prometheus/client_model/go"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures int, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cb := New(failures, 1, timeout)
	cb.now = clk.now
	return cb, clk
}

func TestInitialStateClosed(t *testing.T) {
	cb := New(3, 1, 10*time.Second)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected Allow=true when closed")
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 10*time.Second)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected Allow=false when open")
	}
}

func TestHalfOpenThenClosedOrReopened(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)
	cb.RecordFailure()
	clk.advance(30 * time.Second)
	if cb.Allow() {
		t.Fatal("still inside the open window")
	}
	clk.advance(31 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after timeout, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open after failure in half_open, got %s", cb.State())
	}

	clk.advance(2 * time.Minute)
	_ = cb.State()
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after success in half_open, got %s", cb.State())
	}
}

func TestHalfOpenAdmitsOneTrialAtATime(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)
	cb.RecordFailure()
	clk.advance(2 * time.Minute)

	if !cb.Allow() {
		t.Fatal("expected the first half-open caller to be admitted")
	}
	if cb.Allow() {
		t.Fatal("expected a second caller to wait while the trial runs")
	}
	cb.Release()
	if !cb.Allow() {
		t.Fatal("expected a new trial after Release")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("Release must not change state, got %s", cb.State())
	}
	cb.RecordSuccess()
	if !cb.Allow() || !cb.Allow() {
		t.Fatal("expected closed breaker to admit everyone")
	}
}

func TestHalfOpenFailedTrialReopens(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)
	cb.RecordFailure()
	clk.advance(2 * time.Minute)

	if !cb.Allow() {
		t.Fatal("expected trial admitted")
	}
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("expected open after the trial failed")
	}
	clk.advance(2 * time.Minute)
	if !cb.Allow() {
		t.Fatal("expected a fresh trial once the open window passed")
	}
}

func TestHalfOpenLostTrialLapses(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)
	cb.RecordFailure()
	clk.advance(2 * time.Minute)

	if !cb.Allow() {
		t.Fatal("expected trial admitted")
	}
	clk.advance(30 * time.Second)
	if cb.Allow() {
		t.Fatal("trial still running")
	}
	clk.advance(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("expected an unreported trial to lapse after the timeout")
	}
}

func TestSuccessResetFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 10*time.Second)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("expected still closed (failure count reset), got %s", cb.State())
	}
}

func TestSet_ReusesBreakerAndReportsGauge(t *testing.T) {
	s := NewSet(Config{FailureThreshold: 2})
	a := s.For("gemini", "abcd1234")
	if s.For("gemini", "abcd1234") != a {
		t.Fatal("expected the same breaker for the same key")
	}
	if s.For("gemini", "ffff0000") == a {
		t.Fatal("expected distinct breakers per credential")
	}

	a.RecordFailure()
	a.RecordFailure()

	var m dto.Metric
	if err := metrics.CircuitBreakerState.WithLabelValues("gemini", "abcd1234").Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetGauge().GetValue(); got != float64(StateOpen) {
		t.Errorf("gauge = %v, want %v", got, float64(StateOpen))
	}
	if snap := s.Snapshot(); snap["gemini/abcd1234"] != StateOpen || snap["gemini/ffff0000"] != StateClosed {
		t.Errorf("snapshot = %v", snap)
	}
}
