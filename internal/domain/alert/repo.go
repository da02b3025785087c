package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// CreateIfNoneWithin inserts inst unless an instance for the same rule
	// and patient was triggered less than window before inst.TriggeredAt.
	// The check and the insert are atomic. It reports whether inst was
	// inserted.
	CreateIfNoneWithin(ctx context.Context, inst *Instance, window time.Duration) (bool, error)
	// ExistsSince reports whether an instance for the rule and patient was
	// triggered after since.
	ExistsSince(ctx context.Context, ruleID, patientID uuid.UUID, since time.Time) (bool, error)
	// ReplaceForRecord atomically deletes every instance for recordID and
	// inserts insts in its place.
	ReplaceForRecord(ctx context.Context, recordID uuid.UUID, insts []*Instance) error
	GetByID(ctx context.Context, id uuid.UUID) (*Instance, error)
	// Acknowledge moves a triggered instance to acknowledged and returns the
	// stored row. Already acknowledged instances are returned unchanged with
	// changed=false.
	Acknowledge(ctx context.Context, id, actorID uuid.UUID, at time.Time) (inst *Instance, changed bool, err error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error)
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Instance, error)
	ListOpen(ctx context.Context, limit, offset int) ([]*Instance, int, error)
}
