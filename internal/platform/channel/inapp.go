package channel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// InAppChannel writes the alert into the professional's inbox table. A
// repeated send for the same alert and professional is a no-op.
type InAppChannel struct {
	db execer
}

func NewInAppChannel(pool *pgxpool.Pool) *InAppChannel {
	return &InAppChannel{db: pool}
}

func (c *InAppChannel) Name() string { return InApp }

func (c *InAppChannel) Send(ctx context.Context, msg Message) error {
	_, err := c.db.Exec(ctx, `
		INSERT INTO professional_inbox (id, professional_id, alert_instance_id, title, body)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (professional_id, alert_instance_id) DO NOTHING`,
		uuid.New(), msg.RecipientID, msg.AlertID, subjectLine(msg), msg.Body)
	if err != nil {
		return fmt.Errorf("inbox insert: %w", err)
	}
	return nil
}
