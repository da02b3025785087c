package alert

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for operations on an instance that does not exist.
var ErrNotFound = errors.New("alert instance not found")

type Origin string

const (
	OriginRule           Origin = "rule"
	OriginClassification Origin = "classification"
)

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

const (
	StatusTriggered    = "triggered"
	StatusAcknowledged = "acknowledged"
)

// Candidate is a proposed alert produced by rule evaluation or
// classification. It is never stored directly.
type Candidate struct {
	Origin         Origin
	RuleID         *uuid.UUID
	RuleName       string
	RecordID       *uuid.UUID
	PatientID      uuid.UUID
	Level          Level
	Type           string
	Keywords       []string
	Recommendation string
	Confidence     string
	TriggeredAt    time.Time
}

// Payload is the descriptive part of an instance, stored as JSONB.
type Payload struct {
	Origin         Origin   `json:"origin"`
	RuleName       string   `json:"rule_name,omitempty"`
	Level          Level    `json:"level,omitempty"`
	Type           string   `json:"type,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Confidence     string   `json:"confidence,omitempty"`
}

// Instance maps to the alert_instance table.
type Instance struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	RuleID         *uuid.UUID  `db:"rule_id" json:"rule_id,omitempty"`
	RecordID       *uuid.UUID  `db:"record_id" json:"record_id,omitempty"`
	PatientID      uuid.UUID   `db:"patient_id" json:"patient_id"`
	RecipientIDs   []uuid.UUID `db:"recipient_ids" json:"recipient_ids"`
	Status         string      `db:"status" json:"status"`
	TriggeredAt    time.Time   `db:"triggered_at" json:"triggered_at"`
	AcknowledgedAt *time.Time  `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedBy *uuid.UUID  `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	Payload        Payload     `db:"payload" json:"payload"`
}

// NewInstance builds a triggered instance for c addressed to recipients.
func (c *Candidate) NewInstance(recipients []uuid.UUID) *Instance {
	if recipients == nil {
		recipients = []uuid.UUID{}
	}
	return &Instance{
		RuleID:       c.RuleID,
		RecordID:     c.RecordID,
		PatientID:    c.PatientID,
		RecipientIDs: recipients,
		Status:       StatusTriggered,
		TriggeredAt:  c.TriggeredAt,
		Payload: Payload{
			Origin:         c.Origin,
			RuleName:       c.RuleName,
			Level:          c.Level,
			Type:           c.Type,
			Keywords:       c.Keywords,
			Recommendation: c.Recommendation,
			Confidence:     c.Confidence,
		},
	}
}

func (i *Instance) IsAcknowledged() bool {
	return i.Status == StatusAcknowledged
}

// Key identifies what an alert is deduplicated against: a rule and patient
// for rule alerts, a record for classification alerts.
type Key struct {
	PatientID uuid.UUID
	RuleID    *uuid.UUID
	RecordID  *uuid.UUID
}

func RuleKey(ruleID, patientID uuid.UUID) Key {
	return Key{PatientID: patientID, RuleID: &ruleID}
}

func RecordKey(recordID, patientID uuid.UUID) Key {
	return Key{PatientID: patientID, RecordID: &recordID}
}
