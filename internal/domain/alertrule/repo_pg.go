package alertrule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) Repository {
	return &ruleRepoPG{pool: pool}
}

func (r *ruleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const ruleCols = `id, name, scope, owner_id, patient_id, condition,
	dedup_window_minutes, is_active, version_id, created_at, updated_at`

func (r *ruleRepoPG) scanRule(row pgx.Row) (*Rule, error) {
	var rule Rule
	var condition []byte
	err := row.Scan(&rule.ID, &rule.Name, &rule.Scope, &rule.OwnerID, &rule.PatientID,
		&condition, &rule.DedupWindowMinutes, &rule.IsActive, &rule.VersionID,
		&rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tree, err := ParseTree(condition)
	if err != nil {
		return nil, fmt.Errorf("rule %s: stored condition: %w", rule.ID, err)
	}
	rule.Condition = tree
	return &rule, nil
}

func (r *ruleRepoPG) Create(ctx context.Context, rule *Rule) error {
	rule.ID = uuid.New()
	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("encode condition: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert_rule (id, name, scope, owner_id, patient_id, condition,
			dedup_window_minutes, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING version_id, created_at, updated_at`,
		rule.ID, rule.Name, rule.Scope, rule.OwnerID, rule.PatientID, condition,
		rule.DedupWindowMinutes, rule.IsActive,
	).Scan(&rule.VersionID, &rule.CreatedAt, &rule.UpdatedAt)
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return r.scanRule(r.conn(ctx).QueryRow(ctx, `SELECT `+ruleCols+` FROM alert_rule WHERE id = $1`, id))
}

func (r *ruleRepoPG) Update(ctx context.Context, rule *Rule) error {
	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("encode condition: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE alert_rule SET name=$2, scope=$3, patient_id=$4, condition=$5,
			dedup_window_minutes=$6, is_active=$7,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version_id, created_at, updated_at`,
		rule.ID, rule.Name, rule.Scope, rule.PatientID, condition,
		rule.DedupWindowMinutes, rule.IsActive,
	).Scan(&rule.VersionID, &rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *ruleRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE alert_rule SET is_active = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ruleRepoPG) List(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]*Rule, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM alert_rule WHERE ($1::uuid IS NULL OR owner_id = $1)`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+ruleCols+` FROM alert_rule
		WHERE ($1::uuid IS NULL OR owner_id = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *ruleRepoPG) ListActive(ctx context.Context) ([]*Rule, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ruleCols+` FROM alert_rule WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *ruleRepoPG) collect(rows pgx.Rows) ([]*Rule, error) {
	var items []*Rule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rule)
	}
	return items, rows.Err()
}
