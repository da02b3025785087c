package alert

import (
	"context"
	"encoding/json"
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

type instanceRepoPG struct{ pool *pgxpool.Pool }

func NewInstanceRepoPG(pool *pgxpool.Pool) Repository {
	return &instanceRepoPG{pool: pool}
}

func (r *instanceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const instanceCols = `id, rule_id, record_id, patient_id, recipient_ids, status,
	triggered_at, acknowledged_at, acknowledged_by, payload`

func (r *instanceRepoPG) scanInstance(row pgx.Row) (*Instance, error) {
	var inst Instance
	var payload []byte
	err := row.Scan(&inst.ID, &inst.RuleID, &inst.RecordID, &inst.PatientID, &inst.RecipientIDs,
		&inst.Status, &inst.TriggeredAt, &inst.AcknowledgedAt, &inst.AcknowledgedBy, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &inst.Payload); err != nil {
		return nil, fmt.Errorf("alert %s: decode payload: %w", inst.ID, err)
	}
	if inst.RecipientIDs == nil {
		inst.RecipientIDs = []uuid.UUID{}
	}
	return &inst, nil
}

func (r *instanceRepoPG) insert(ctx context.Context, inst *Instance) error {
	inst.ID = uuid.New()
	if inst.RecipientIDs == nil {
		inst.RecipientIDs = []uuid.UUID{}
	}
	payload, err := json.Marshal(inst.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO alert_instance (id, rule_id, record_id, patient_id, recipient_ids, status,
			triggered_at, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		inst.ID, inst.RuleID, inst.RecordID, inst.PatientID, inst.RecipientIDs, inst.Status,
		inst.TriggeredAt, payload)
	return err
}

func (r *instanceRepoPG) CreateIfNoneWithin(ctx context.Context, inst *Instance, window time.Duration) (bool, error) {
	if inst.RuleID == nil {
		return false, fmt.Errorf("rule alert without rule_id")
	}
	created := false
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		key := db.LockKey("alert_rule_patient", inst.RuleID.String(), inst.PatientID.String())
		if err := db.AdvisoryXactLock(ctx, db.TxFromContext(ctx), key); err != nil {
			return err
		}
		if window > 0 {
			exists, err := r.ExistsSince(ctx, *inst.RuleID, inst.PatientID, inst.TriggeredAt.Add(-window))
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
		}
		if err := r.insert(ctx, inst); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *instanceRepoPG) ExistsSince(ctx context.Context, ruleID, patientID uuid.UUID, since time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alert_instance
			WHERE rule_id = $1 AND patient_id = $2 AND triggered_at > $3
		)`, ruleID, patientID, since).Scan(&exists)
	return exists, err
}

func (r *instanceRepoPG) ReplaceForRecord(ctx context.Context, recordID uuid.UUID, insts []*Instance) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		if err := db.AdvisoryXactLock(ctx, db.TxFromContext(ctx), db.LockKey("alert_record", recordID.String())); err != nil {
			return err
		}
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM alert_instance WHERE record_id = $1`, recordID); err != nil {
			return fmt.Errorf("delete record alerts: %w", err)
		}
		for _, inst := range insts {
			inst.RecordID = &recordID
			if err := r.insert(ctx, inst); err != nil {
				return fmt.Errorf("insert record alert: %w", err)
			}
		}
		return nil
	})
}

func (r *instanceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return r.scanInstance(r.conn(ctx).QueryRow(ctx, `SELECT `+instanceCols+` FROM alert_instance WHERE id = $1`, id))
}

func (r *instanceRepoPG) Acknowledge(ctx context.Context, id, actorID uuid.UUID, at time.Time) (*Instance, bool, error) {
	inst, err := r.scanInstance(r.conn(ctx).QueryRow(ctx, `
		UPDATE alert_instance
		SET status = 'acknowledged', acknowledged_at = $3, acknowledged_by = $2
		WHERE id = $1 AND status = 'triggered'
		RETURNING `+instanceCols, id, actorID, at))
	if errors.Is(err, ErrNotFound) {
		// Either missing or already acknowledged.
		inst, err = r.GetByID(ctx, id)
		return inst, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

func (r *instanceRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM alert_instance WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+instanceCols+` FROM alert_instance WHERE patient_id = $1
		ORDER BY triggered_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *instanceRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Instance, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+instanceCols+` FROM alert_instance WHERE record_id = $1
		ORDER BY triggered_at DESC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *instanceRepoPG) ListOpen(ctx context.Context, limit, offset int) ([]*Instance, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM alert_instance WHERE status = 'triggered'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+instanceCols+` FROM alert_instance WHERE status = 'triggered'
		ORDER BY triggered_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *instanceRepoPG) collect(rows pgx.Rows) ([]*Instance, error) {
	var items []*Instance
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inst)
	}
	return items, rows.Err()
}
