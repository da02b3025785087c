package delivery

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("delivery not found")
	// ErrNotFailed is returned when re-dispatch is asked for a delivery that
	// is pending or already sent.
	ErrNotFailed = errors.New("delivery is not in failed state")
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Delivery maps to the alert_delivery table. There is one row per
// (instance, recipient, channel); retries update it in place.
type Delivery struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	InstanceID   uuid.UUID  `db:"alert_instance_id" json:"alert_instance_id"`
	RecipientID  uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	Channel      string     `db:"channel" json:"channel"`
	Status       string     `db:"status" json:"status"`
	AttemptCount int        `db:"attempt_count" json:"attempt_count"`
	SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

func (d *Delivery) IsSent() bool { return d.Status == StatusSent }

// Attempt maps to alert_delivery_attempt, one row per send.
type Attempt struct {
	ID           uuid.UUID `db:"id" json:"id"`
	DeliveryID   uuid.UUID `db:"delivery_id" json:"delivery_id"`
	Attempt      int       `db:"attempt" json:"attempt"`
	Status       string    `db:"status" json:"status"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	AttemptedAt  time.Time `db:"attempted_at" json:"attempted_at"`
}

// Preference maps to notification_preference.
type Preference struct {
	ProfessionalID uuid.UUID `db:"professional_id" json:"professional_id"`
	Channel        string    `db:"channel" json:"channel"`
	Enabled        bool      `db:"enabled" json:"enabled"`
}
