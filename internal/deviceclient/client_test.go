package deviceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(Config{BaseURL: srv.URL, CommandTimeout: time.Second})
	return c, srv.Close
}

func TestSendCommandSuccess(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"LL":{"value":"1"}}`))
	})
	defer closeSrv()

	result, err := c.SendCommand(context.Background(), "dev-1", "on")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if result.Response != "1" {
		t.Errorf("Response = %q, want %q", result.Response, "1")
	}
}

func TestSendCommandRejectedDoesNotTripBreaker(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	defer closeSrv()

	if _, err := c.SendCommand(context.Background(), "dev-1", "bogus"); err == nil {
		t.Fatal("SendCommand() error = nil, want rejection")
	}

	// A second call should still be allowed through the breaker since 4xx
	// is categorized as non-transient.
	if !c.breaker.Allow() {
		t.Error("breaker tripped on a rejected (non-transient) command")
	}
}

func TestSendCommandServerErrorTripsBreaker(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeSrv()

	for i := 0; i < 10; i++ {
		c.SendCommand(context.Background(), "dev-1", "on")
	}
	if c.breaker.Allow() {
		t.Error("breaker still allowing after repeated 5xx responses")
	}
}

func TestGetDeviceStatesPartialFailure(t *testing.T) {
	calls := 0
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"LL":{"value":23.5}}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeSrv()

	states, err := c.GetDeviceStates(context.Background(), []string{"dev-1", "dev-2"})
	if err != nil {
		t.Fatalf("GetDeviceStates() error = %v", err)
	}
	if _, ok := states["dev-1"]; !ok {
		t.Error("dev-1 missing from result, want resolved")
	}
	if _, ok := states["dev-2"]; ok {
		t.Error("dev-2 present in result, want absent after fetch failure")
	}
}

func TestCachedStateAfterLiveFetch(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"LL":{"value":1}}`))
	})
	defer closeSrv()

	if _, err := c.GetDeviceStates(context.Background(), []string{"dev-1"}); err != nil {
		t.Fatalf("GetDeviceStates() error = %v", err)
	}
	if _, ok := c.CachedState("dev-1"); !ok {
		t.Error("CachedState(dev-1) not found after GetDeviceStates")
	}
}

func TestStateHookFiresOnChange(t *testing.T) {
	calls := 0
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"LL":{"value":1}}`))
		} else {
			w.Write([]byte(`{"LL":{"value":2}}`))
		}
	})
	defer closeSrv()

	type change struct{ old, newVal interface{} }
	var changes []change
	c.SetStateHook(func(uuid string, old, newVal interface{}) {
		changes = append(changes, change{old, newVal})
	})

	c.GetDeviceStates(context.Background(), []string{"dev-1"})
	c.GetDeviceStates(context.Background(), []string{"dev-1"})
	c.GetDeviceStates(context.Background(), []string{"dev-1"})

	if len(changes) != 2 {
		t.Fatalf("hook fired %d times, want 2 (first sighting + one change)", len(changes))
	}
	if changes[0].old != nil || changes[0].newVal != float64(1) {
		t.Errorf("first change = %+v, want nil -> 1", changes[0])
	}
	if changes[1].old != float64(1) || changes[1].newVal != float64(2) {
		t.Errorf("second change = %+v, want 1 -> 2", changes[1])
	}
}

func TestHealthCheck(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer closeSrv()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheckUnhealthy(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer closeSrv()

	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() error = nil, want failure on 503")
	}
}
