package alertrule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRule marks configuration errors rejected when a rule is saved.
var ErrInvalidRule = errors.New("invalid rule")

// ErrNotFound is returned when a rule does not exist.
var ErrNotFound = errors.New("rule not found")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

type Scope string

const (
	ScopeGlobal     Scope = "global"
	ScopePerPatient Scope = "per_patient"
)

// Rule maps to the alert_rule table.
type Rule struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	Scope              Scope      `db:"scope" json:"scope"`
	OwnerID            uuid.UUID  `db:"owner_id" json:"owner_id"`
	PatientID          *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	Condition          Tree       `db:"condition" json:"condition"`
	DedupWindowMinutes int        `db:"dedup_window_minutes" json:"dedup_window_minutes"`
	IsActive           bool       `db:"is_active" json:"is_active"`
	VersionID          int        `db:"version_id" json:"version_id"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// DedupWindow returns the window as a duration.
func (r *Rule) DedupWindow() time.Duration {
	return time.Duration(r.DedupWindowMinutes) * time.Minute
}

// MetricType is the declared type of a snapshot metric.
type MetricType string

const (
	MetricNumeric MetricType = "numeric"
	MetricBoolean MetricType = "boolean"
)

// MetricCatalog declares metric types so save-time validation can reject
// operators that do not fit. Metrics absent from the catalog are typed by
// their operator.
type MetricCatalog map[string]MetricType

// DefaultCatalog covers the metrics the snapshot provider publishes.
var DefaultCatalog = MetricCatalog{
	"mood_latest":             MetricNumeric,
	"mood_avg_7d":             MetricNumeric,
	"days_without_medication": MetricNumeric,
	"days_since_last_checkin": MetricNumeric,
	"sleep_hours_latest":      MetricNumeric,
	"sleep_hours_avg_7d":      MetricNumeric,
	"phq9_score":              MetricNumeric,
	"gad7_score":              MetricNumeric,
	"checkin_missing_3d":      MetricBoolean,
	"medication_missed_today": MetricBoolean,
}

// Validate checks everything a rule must satisfy before it is stored.
func (r *Rule) Validate(catalog MetricCatalog) error {
	if r.Name == "" {
		return invalidf("name is required")
	}
	if r.OwnerID == uuid.Nil {
		return invalidf("owner_id is required")
	}
	switch r.Scope {
	case ScopePerPatient:
		if r.PatientID == nil || *r.PatientID == uuid.Nil {
			return invalidf("per_patient rules require patient_id")
		}
	case ScopeGlobal:
		if r.PatientID != nil {
			return invalidf("global rules must not bind a patient_id")
		}
	default:
		return invalidf("scope must be %q or %q, got %q", ScopeGlobal, ScopePerPatient, r.Scope)
	}
	if r.DedupWindowMinutes < 0 {
		return invalidf("dedup_window_minutes must be >= 0")
	}
	if r.Condition.Root == nil {
		return invalidf("condition is required")
	}
	return validateNode(r.Condition.Root, catalog, 1)
}

func validateNode(n Node, catalog MetricCatalog, depth int) error {
	if depth > maxDepth {
		return invalidf("condition tree deeper than %d levels", maxDepth)
	}
	switch v := n.(type) {
	case *Group:
		if v.Op != All && v.Op != Any {
			return invalidf("unknown combinator %q", v.Op)
		}
		if len(v.Children) == 0 {
			return invalidf("%q must have at least one condition", v.Op)
		}
		for i, c := range v.Children {
			if c == nil {
				return invalidf("%s[%d] is empty", v.Op, i)
			}
			if err := validateNode(c, catalog, depth+1); err != nil {
				return err
			}
		}
		return nil
	case *Condition:
		if err := v.validate(); err != nil {
			return err
		}
		switch catalog[v.Metric] {
		case MetricNumeric:
			if !v.Operator.IsComparison() {
				return invalidf("numeric metric %q only supports comparison operators", v.Metric)
			}
		case MetricBoolean:
			if !v.Operator.IsBoolean() {
				return invalidf("boolean metric %q only supports is_true/is_false", v.Metric)
			}
		}
		return nil
	}
	return invalidf("unknown condition node %T", n)
}
