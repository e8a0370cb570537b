package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestForgetRoom(t *testing.T) {
	ActiveSessions.WithLabelValues("r-metrics").Set(3)
	Reservations.WithLabelValues("r-metrics").Set(1)
	if got := testutil.ToFloat64(ActiveSessions.WithLabelValues("r-metrics")); got != 3 {
		t.Fatalf("gauge = %v", got)
	}
	ForgetRoom("r-metrics")
	if got := testutil.ToFloat64(ActiveSessions.WithLabelValues("r-metrics")); got != 0 {
		t.Fatalf("series not deleted, gauge = %v", got)
	}
}
