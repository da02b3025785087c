package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBeforeInitIsNoop(t *testing.T) {
	// Helpers must be safe to call from tests and tools that never call Init.
	if ruleEvaluations != nil {
		t.Skip("metrics already initialised by another test")
	}
	IncRuleEvaluation("matched")
	ObserveDelivery("email", ResultError, time.Millisecond)
	ObserveClassifier("http", "", time.Millisecond)
	AddAlertsTriggered("rule", 1)
}

func TestInitAndCount(t *testing.T) {
	Init(nil)
	Init(nil)

	before := testutil.ToFloat64(alertsTriggered.WithLabelValues("rule"))
	AddAlertsTriggered("rule", 2)
	AddAlertsTriggered("rule", 0)
	if got := testutil.ToFloat64(alertsTriggered.WithLabelValues("rule")); got != before+2 {
		t.Errorf("expected %v, got %v", before+2, got)
	}

	ObserveDelivery("", "", time.Millisecond)
	if got := testutil.ToFloat64(deliveryAttempts.WithLabelValues("unknown", ResultSuccess)); got < 1 {
		t.Errorf("expected unknown channel attempt to be counted, got %v", got)
	}

	IncAlertAcknowledged()
	if got := testutil.ToFloat64(alertsAcked); got < 1 {
		t.Errorf("expected ack counter to increase, got %v", got)
	}
}
