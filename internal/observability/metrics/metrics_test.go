package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSourceCounters(t *testing.T) {
	Init()
	Init()

	cases := []struct {
		name string
		inc  func(string)
		get  func() float64
	}{
		{"records", IncSourceRecord, func() float64 { return testutil.ToFloat64(sourceRecords.WithLabelValues("counter")) }},
		{"errors", IncSourceError, func() float64 { return testutil.ToFloat64(sourceErrors.WithLabelValues("counter")) }},
		{"dropped", IncSourceDropped, func() float64 { return testutil.ToFloat64(sourceDropped.WithLabelValues("counter")) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start := tc.get()
			tc.inc("counter")
			if got := tc.get(); got != start+1 {
				t.Fatalf("counter %s = %v, want %v", tc.name, got, start+1)
			}
		})
	}
}

func TestEmptySourceLabel(t *testing.T) {
	start := testutil.ToFloat64(sourceRecords.WithLabelValues("unknown"))
	IncSourceRecord("")
	if got := testutil.ToFloat64(sourceRecords.WithLabelValues("unknown")); got != start+1 {
		t.Fatalf("unknown label = %v, want %v", got, start+1)
	}
}

func TestObserveDispatch(t *testing.T) {
	okStart := testutil.ToFloat64(dispatched.WithLabelValues(ActionEdit))
	failStart := testutil.ToFloat64(dispatchFailures.WithLabelValues(ActionEdit))

	ObserveDispatch(ActionEdit, 10*time.Millisecond, nil)
	ObserveDispatch(ActionEdit, 10*time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(dispatched.WithLabelValues(ActionEdit)); got != okStart+1 {
		t.Fatalf("dispatched = %v, want %v", got, okStart+1)
	}
	if got := testutil.ToFloat64(dispatchFailures.WithLabelValues(ActionEdit)); got != failStart+1 {
		t.Fatalf("failures = %v, want %v", got, failStart+1)
	}
}

func TestSetActiveSourcesClampsNegative(t *testing.T) {
	SetActiveSources(-3)
	if got := testutil.ToFloat64(activeSources); got != 0 {
		t.Fatalf("active sources = %v, want 0", got)
	}
	SetActiveSources(2)
	if got := testutil.ToFloat64(activeSources); got != 2 {
		t.Fatalf("active sources = %v, want 2", got)
	}
}
