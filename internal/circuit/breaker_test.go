package circuit

import (
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		InitialBackoff:   20 * time.Millisecond,
		MaxBackoff:       100 * time.Millisecond,
		BackoffFactor:    2.0,
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker("test", testConfig())
	if b.State() != StateClosed {
		t.Fatalf("new breaker state = %v, want closed", b.State())
	}
	if !b.Allow() {
		t.Error("closed breaker should allow calls")
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker("test", testConfig())
	err := errors.New("connection refused")

	b.RecordFailure(err)
	b.RecordFailure(err)
	if b.State() != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", b.State())
	}

	b.RecordFailure(err)
	if b.State() != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker should block calls during backoff")
	}
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := NewBreaker("test", testConfig())
	err := errors.New("timeout")

	b.RecordFailure(err)
	b.RecordFailure(err)
	b.RecordSuccess()
	b.RecordFailure(err)
	b.RecordFailure(err)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed: success should reset the run", b.State())
	}
}

func TestBreakerProbesAfterBackoff(t *testing.T) {
	b := NewBreaker("test", testConfig())
	err := errors.New("timeout")
	for i := 0; i < 3; i++ {
		b.RecordFailure(err)
	}

	time.Sleep(25 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("breaker should admit a probe after backoff elapses")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if b.Allow() {
		t.Error("half-open breaker should admit only one probe at a time")
	}
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	b := NewBreaker("test", testConfig())
	err := errors.New("timeout")
	for i := 0; i < 3; i++ {
		b.RecordFailure(err)
	}
	time.Sleep(25 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("probe should be admitted")
	}
	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("state after 1 probe success = %v, want half-open", b.State())
	}

	if !b.Allow() {
		t.Fatal("second probe should be admitted after the first succeeded")
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state after 2 probe successes = %v, want closed", b.State())
	}
}

func TestBreakerReopensWithLongerBackoff(t *testing.T) {
	b := NewBreaker("test", testConfig())
	err := errors.New("timeout")
	for i := 0; i < 3; i++ {
		b.RecordFailure(err)
	}
	time.Sleep(25 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("probe should be admitted")
	}
	b.RecordFailure(err)

	if b.State() != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", b.State())
	}
	st := b.Status()
	if st.Backoff != 40*time.Millisecond {
		t.Errorf("backoff after failed probe = %v, want 40ms", st.Backoff)
	}
}

func TestBreakerBackoffCapped(t *testing.T) {
	b := NewBreaker("test", testConfig())
	err := errors.New("timeout")

	for round := 0; round < 5; round++ {
		for i := 0; i < 3; i++ {
			b.RecordFailure(err)
		}
		time.Sleep(b.Status().Backoff + 5*time.Millisecond)
		if !b.Allow() {
			t.Fatalf("round %d: probe should be admitted", round)
		}
		b.RecordFailure(err)
	}

	if got := b.Status().Backoff; got > 100*time.Millisecond {
		t.Errorf("backoff = %v, want capped at 100ms", got)
	}
}

func TestRejectedFailuresNeverTrip(t *testing.T) {
	b := NewBreaker("test", testConfig())
	err := errors.New("command rejected with status 400")

	for i := 0; i < 10; i++ {
		b.RecordFailureClass(err, FailureRejected)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed: rejected commands are not an outage", b.State())
	}
}

func TestAuthFailuresNeverTrip(t *testing.T) {
	b := NewBreaker("test", testConfig())
	for i := 0; i < 10; i++ {
		b.RecordFailure(errors.New("401 unauthorized"))
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed: auth failures need a config fix, not a backoff", b.State())
	}
}

func TestOverloadTripsImmediately(t *testing.T) {
	b := NewBreaker("test", testConfig())
	b.RecordFailure(errors.New("miniserver returned 503"))
	if b.State() != StateOpen {
		t.Errorf("state after one overload failure = %v, want open", b.State())
	}
}

func TestRejectedFailureFreesProbeSlot(t *testing.T) {
	b := NewBreaker("test", testConfig())
	err := errors.New("timeout")
	for i := 0; i < 3; i++ {
		b.RecordFailure(err)
	}
	time.Sleep(25 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("probe should be admitted")
	}
	b.RecordFailureClass(errors.New("unknown uuid"), FailureRejected)

	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open: a rejected probe is not a failed probe", b.State())
	}
	if !b.Allow() {
		t.Error("probe slot should be free after a rejected probe")
	}
}

func TestReset(t *testing.T) {
	b := NewBreaker("test", testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure(errors.New("timeout"))
	}
	b.Reset()

	if b.State() != StateClosed {
		t.Errorf("state after reset = %v, want closed", b.State())
	}
	if !b.Allow() {
		t.Error("reset breaker should allow calls")
	}
	if got := b.Status().Backoff; got != 20*time.Millisecond {
		t.Errorf("backoff after reset = %v, want initial 20ms", got)
	}
}

func TestStatusReportsRetryWindow(t *testing.T) {
	b := NewBreaker("test", testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure(errors.New("timeout"))
	}

	st := b.Status()
	if st.State != "open" {
		t.Fatalf("status state = %q, want open", st.State)
	}
	if st.RetryAvailable <= 0 || st.RetryAvailable > 20*time.Millisecond {
		t.Errorf("retry window = %v, want within (0, 20ms]", st.RetryAvailable)
	}
	if st.TotalTrips != 1 {
		t.Errorf("total trips = %d, want 1", st.TotalTrips)
	}
	if st.LastError == "" {
		t.Error("status should carry the last error")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"nil", nil, FailureTransient},
		{"timeout", errors.New("context deadline exceeded"), FailureTransient},
		{"refused", errors.New("dial tcp: connection refused"), FailureTransient},
		{"overload", errors.New("miniserver returned 503"), FailureOverload},
		{"throttle", errors.New("429 too many requests"), FailureOverload},
		{"reset", errors.New("read: connection reset by peer"), FailureOverload},
		{"auth", errors.New("401 unauthorized"), FailureAuth},
		{"forbidden", errors.New("status 403 forbidden"), FailureAuth},
		{"bad request", errors.New("command rejected with status 400"), FailureRejected},
		{"not found", errors.New("404 not found"), FailureRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	b := NewBreaker("test", Config{})
	if b.cfg.FailureThreshold != 3 || b.cfg.SuccessThreshold != 2 {
		t.Errorf("thresholds = %d/%d, want 3/2", b.cfg.FailureThreshold, b.cfg.SuccessThreshold)
	}
	if b.cfg.InitialBackoff != time.Second || b.cfg.MaxBackoff != 2*time.Minute {
		t.Errorf("backoff bounds = %v/%v, want 1s/2m", b.cfg.InitialBackoff, b.cfg.MaxBackoff)
	}
}
