package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Ensure inserts a pending row for (instance, recipient, channel) or
	// returns the existing one.
	Ensure(ctx context.Context, d *Delivery) (*Delivery, error)
	// RecordAttempt persists d's new state and appends a as its history row.
	RecordAttempt(ctx context.Context, d *Delivery, a *Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*Delivery, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*Delivery, error)
	ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]*Attempt, error)
	// ListRetryable returns deliveries with fewer than maxAttempts total
	// attempts that are failed, or pending without progress since
	// staleBefore. Oldest first.
	ListRetryable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]*Delivery, error)
	// Claim moves a retryable delivery to pending and returns it. Only one
	// concurrent caller wins; the others get ErrNotFailed, or ErrNotFound
	// when the row does not exist.
	Claim(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*Delivery, error)
}

type PreferenceRepository interface {
	ListForProfessional(ctx context.Context, professionalID uuid.UUID) ([]*Preference, error)
	// Replace stores prefs as the professional's complete preference set.
	Replace(ctx context.Context, professionalID uuid.UUID, prefs []*Preference) error
}
