package alertrule

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	Update(ctx context.Context, r *Rule) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	List(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]*Rule, int, error)
	ListActive(ctx context.Context) ([]*Rule, error)
}
