package alert

import (
	"context"
	"fmt"
	"time"
)

// Deduplicator answers whether a candidate for key may fire now. The store
// is the only dedup state.
type Deduplicator struct {
	repo Repository
	now  func() time.Time
}

func NewDeduplicator(repo Repository) *Deduplicator {
	return &Deduplicator{repo: repo, now: time.Now}
}

// ShouldFire reports whether a rule alert for key is outside its dedup
// window. A window of zero always fires. Record keys always fire because
// classification alerts replace the record's previous set instead.
//
// ShouldFire is advisory. Creation goes through Manager.CreateFromRule, which
// repeats the check atomically with the insert.
func (d *Deduplicator) ShouldFire(ctx context.Context, key Key, windowMinutes int) (bool, error) {
	if key.RecordID != nil {
		return true, nil
	}
	if key.RuleID == nil {
		return false, fmt.Errorf("dedup key needs a rule id or a record id")
	}
	if windowMinutes < 0 {
		return false, fmt.Errorf("dedup window must be >= 0, got %d", windowMinutes)
	}
	if windowMinutes == 0 {
		return true, nil
	}
	since := d.now().Add(-time.Duration(windowMinutes) * time.Minute)
	exists, err := d.repo.ExistsSince(ctx, *key.RuleID, key.PatientID, since)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return !exists, nil
}
