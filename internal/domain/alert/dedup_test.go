package alert

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestShouldFire_RecordKeyAlwaysFires(t *testing.T) {
	_, dedup, _, _ := newTestManager()
	ok, err := dedup.ShouldFire(context.Background(), RecordKey(uuid.New(), uuid.New()), 1440)
	if err != nil || !ok {
		t.Errorf("record keys always fire, got %v, %v", ok, err)
	}
}

func TestShouldFire_InvalidKey(t *testing.T) {
	_, dedup, _, _ := newTestManager()
	if _, err := dedup.ShouldFire(context.Background(), Key{PatientID: uuid.New()}, 10); err == nil {
		t.Error("expected error for key without rule or record")
	}
	if _, err := dedup.ShouldFire(context.Background(), RuleKey(uuid.New(), uuid.New()), -1); err == nil {
		t.Error("expected error for negative window")
	}
}

func TestShouldFire_WindowBoundary(t *testing.T) {
	mgr, dedup, _, clk := newTestManager()
	ctx := context.Background()
	ruleID, patientID := uuid.New(), uuid.New()
	mgr.CreateFromRule(ctx, ruleCandidate(ruleID, patientID), nil, 0)
	key := RuleKey(ruleID, patientID)

	tests := []struct {
		after time.Duration
		want  bool
	}{
		{0, false},
		{59 * time.Minute, false},
		{60 * time.Minute, true},
		{61 * time.Minute, true},
	}
	start := clk.now()
	for _, tt := range tests {
		clk.t = start.Add(tt.after)
		ok, err := dedup.ShouldFire(ctx, key, 60)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok != tt.want {
			t.Errorf("after %s: got %v, want %v", tt.after, ok, tt.want)
		}
	}
}
