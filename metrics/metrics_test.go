package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestCountsTimeouts(t *testing.T) {
	m := New("quartz_transport_metrics_test")

	m.RecordRequest(5*time.Millisecond, false)
	m.RecordRequest(10*time.Millisecond, true)

	if got := testutil.ToFloat64(m.RequestTimeoutsTotal); got != 1 {
		t.Fatalf("expected 1 timeout recorded, got %v", got)
	}
}

func TestNewRegistersDistinctNamespaces(t *testing.T) {
	a := New("quartz_transport_metrics_test_a")
	b := New("quartz_transport_metrics_test_b")

	a.PublishesTotal.Inc()
	a.PublishesTotal.Inc()
	b.PublishesTotal.Inc()

	if got := testutil.ToFloat64(a.PublishesTotal); got != 2 {
		t.Fatalf("expected a.PublishesTotal == 2, got %v", got)
	}
	if got := testutil.ToFloat64(b.PublishesTotal); got != 1 {
		t.Fatalf("expected b.PublishesTotal == 1, got %v", got)
	}
}
