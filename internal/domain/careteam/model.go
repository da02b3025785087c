package careteam

import (
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("professional not found")

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Membership links a professional to a patient's care team. The alert engine
// only reads memberships; they are maintained by the care portal.
type Membership struct {
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	ProfessionalID uuid.UUID `db:"professional_id" json:"professional_id"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	Status         string    `db:"status" json:"status"`
}

func (m *Membership) IsActive() bool {
	return m.Status == StatusActive
}

type Professional struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       string    `db:"email" json:"email,omitempty"`
}
