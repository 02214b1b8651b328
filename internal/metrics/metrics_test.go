package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveResultCountsByMode(t *testing.T) {
	before := testutil.ToFloat64(AttemptsSubmitted.WithLabelValues("auto"))
	ObserveResult(0, 3, true)
	ObserveResult(2, 0, true)
	if got := testutil.ToFloat64(AttemptsSubmitted.WithLabelValues("auto")); got != before+2 {
		t.Fatalf("auto submits = %v, want %v", got, before+2)
	}
	if Mode(false) != "manual" {
		t.Fatal("manual mode label")
	}
}
