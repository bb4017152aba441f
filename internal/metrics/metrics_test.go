package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if upstreamRequestsTotal == nil || backoffWaitsTotal == nil || entitiesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveUpstream(t *testing.T) {
	before := testutil.ToFloat64(upstreamRequestsTotalFor("listing-test", "503"))
	ObserveUpstream("listing-test", 503)
	ObserveUpstream("listing-test", 503)
	if got := testutil.ToFloat64(upstreamRequestsTotalFor("listing-test", "503")); got != before+2 {
		t.Errorf("expected %f, got %f", before+2, got)
	}
}

func TestObserveWait(t *testing.T) {
	ObserveWait("test-reason", 30*time.Second)
	if got := testutil.ToFloat64(backoffWaitsTotal.WithLabelValues("test-reason")); got < 1 {
		t.Errorf("expected at least one wait recorded, got %f", got)
	}
	if n := testutil.CollectAndCount(backoffWaitSeconds); n <= 0 {
		t.Errorf("expected wait histogram to be observed, got %d", n)
	}
}

func TestAddEntitiesIgnoresNonPositive(t *testing.T) {
	AddEntities("test-stage", 3)
	AddEntities("test-stage", 0)
	AddEntities("test-stage", -4)
	if got := testutil.ToFloat64(entitiesTotal.WithLabelValues("test-stage")); got != 3 {
		t.Errorf("expected 3 entities, got %f", got)
	}
}

func TestSetRateRemaining(t *testing.T) {
	SetRateRemaining(42)
	SetRateRemaining(-1)
	if got := testutil.ToFloat64(rateRemaining); got != 42 {
		t.Errorf("expected 42, got %f", got)
	}
}

func upstreamRequestsTotalFor(endpoint, code string) prometheus.Counter {
	Init()
	return upstreamRequestsTotal.WithLabelValues(endpoint, code)
}
