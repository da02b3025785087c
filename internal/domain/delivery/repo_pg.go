package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carealert/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// -- Delivery --

type deliveryRepoPG struct{ pool *pgxpool.Pool }

func NewDeliveryRepoPG(pool *pgxpool.Pool) Repository {
	return &deliveryRepoPG{pool: pool}
}

func (r *deliveryRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const deliveryCols = `id, alert_instance_id, recipient_id, channel, status, attempt_count,
	sent_at, error_message, created_at, updated_at`

func (r *deliveryRepoPG) scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.InstanceID, &d.RecipientID, &d.Channel, &d.Status, &d.AttemptCount,
		&d.SentAt, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *deliveryRepoPG) Ensure(ctx context.Context, d *Delivery) (*Delivery, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	// The no-op update makes RETURNING yield the existing row on conflict.
	return r.scanDelivery(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert_delivery (id, alert_instance_id, recipient_id, channel, status)
		VALUES ($1,$2,$3,$4,'pending')
		ON CONFLICT (alert_instance_id, recipient_id, channel)
		DO UPDATE SET updated_at = alert_delivery.updated_at
		RETURNING `+deliveryCols,
		d.ID, d.InstanceID, d.RecipientID, d.Channel))
}

func (r *deliveryRepoPG) RecordAttempt(ctx context.Context, d *Delivery, a *Attempt) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE alert_delivery
			SET status = $2, attempt_count = $3, sent_at = $4, error_message = $5, updated_at = NOW()
			WHERE id = $1`,
			d.ID, d.Status, d.AttemptCount, d.SentAt, d.ErrorMessage)
		if err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		a.ID = uuid.New()
		a.DeliveryID = d.ID
		_, err = r.conn(ctx).Exec(ctx, `
			INSERT INTO alert_delivery_attempt (id, delivery_id, attempt, status, error_message, attempted_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			a.ID, a.DeliveryID, a.Attempt, a.Status, a.ErrorMessage, a.AttemptedAt)
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		return nil
	})
}

func (r *deliveryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	return r.scanDelivery(r.conn(ctx).QueryRow(ctx, `SELECT `+deliveryCols+` FROM alert_delivery WHERE id = $1`, id))
}

func (r *deliveryRepoPG) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*Delivery, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+deliveryCols+` FROM alert_delivery
		WHERE alert_instance_id = $1 ORDER BY created_at, channel`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

const retryable = `(status = 'failed' OR (status = 'pending' AND updated_at < $2))`

func (r *deliveryRepoPG) ListRetryable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]*Delivery, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+deliveryCols+` FROM alert_delivery
		WHERE attempt_count < $1 AND `+retryable+`
		ORDER BY updated_at LIMIT $3`, maxAttempts, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *deliveryRepoPG) Claim(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*Delivery, error) {
	d, err := r.scanDelivery(r.conn(ctx).QueryRow(ctx, `
		UPDATE alert_delivery SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND `+retryable+`
		RETURNING `+deliveryCols, id, staleBefore))
	if !errors.Is(err, ErrNotFound) {
		return d, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrNotFailed
}

func (r *deliveryRepoPG) collect(rows pgx.Rows) ([]*Delivery, error) {
	var items []*Delivery
	for rows.Next() {
		d, err := r.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *deliveryRepoPG) ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]*Attempt, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, delivery_id, attempt, status, error_message, attempted_at
		FROM alert_delivery_attempt WHERE delivery_id = $1 ORDER BY attempt`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.Attempt, &a.Status, &a.ErrorMessage, &a.AttemptedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

// -- Preference --

type preferenceRepoPG struct{ pool *pgxpool.Pool }

func NewPreferenceRepoPG(pool *pgxpool.Pool) PreferenceRepository {
	return &preferenceRepoPG{pool: pool}
}

func (r *preferenceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *preferenceRepoPG) ListForProfessional(ctx context.Context, professionalID uuid.UUID) ([]*Preference, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT professional_id, channel, enabled FROM notification_preference
		WHERE professional_id = $1 ORDER BY channel`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Preference
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.ProfessionalID, &p.Channel, &p.Enabled); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *preferenceRepoPG) Replace(ctx context.Context, professionalID uuid.UUID, prefs []*Preference) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM notification_preference WHERE professional_id = $1`, professionalID); err != nil {
			return err
		}
		for _, p := range prefs {
			_, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO notification_preference (professional_id, channel, enabled)
				VALUES ($1,$2,$3)`, professionalID, p.Channel, p.Enabled)
			if err != nil {
				return fmt.Errorf("insert preference %s: %w", p.Channel, err)
			}
		}
		return nil
	})
}
