package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carealert/internal/domain/alertrule"
	"github.com/ehr/carealert/internal/platform/db"
)

// ErrNoSnapshot means no metrics are recorded for the patient yet.
var ErrNoSnapshot = errors.New("no metric snapshot for patient")

// SnapshotProvider supplies the current metrics of a patient.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, patientID uuid.UUID) (alertrule.Snapshot, error)
}

// MetricValue is one stored metric. Exactly one of Number and Bool is set.
type MetricValue struct {
	Name       string    `json:"name"`
	Number     *float64  `json:"numeric_value,omitempty"`
	Bool       *bool     `json:"bool_value,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// MetricStore reads and writes the patient_metric table.
type MetricStore struct {
	pool *pgxpool.Pool
}

func NewMetricStore(pool *pgxpool.Pool) *MetricStore {
	return &MetricStore{pool: pool}
}

func (s *MetricStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *MetricStore) List(ctx context.Context, patientID uuid.UUID) ([]MetricValue, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT name, numeric_value, bool_value, observed_at
		FROM patient_metric WHERE patient_id = $1 ORDER BY name`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MetricValue
	for rows.Next() {
		var m MetricValue
		if err := rows.Scan(&m.Name, &m.Number, &m.Bool, &m.ObservedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MetricStore) Snapshot(ctx context.Context, patientID uuid.UUID) (alertrule.Snapshot, error) {
	values, err := s.List(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrNoSnapshot
	}
	return SnapshotOf(values), nil
}

// Upsert stores values as the patient's latest metrics.
func (s *MetricStore) Upsert(ctx context.Context, patientID uuid.UUID, values []MetricValue) error {
	return db.RunInTx(ctx, s.pool, func(ctx context.Context) error {
		for _, v := range values {
			if (v.Number == nil) == (v.Bool == nil) {
				return fmt.Errorf("metric %q needs exactly one of numeric_value or bool_value", v.Name)
			}
			at := v.ObservedAt
			if at.IsZero() {
				at = time.Now().UTC()
			}
			_, err := s.conn(ctx).Exec(ctx, `
				INSERT INTO patient_metric (patient_id, name, numeric_value, bool_value, observed_at)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (patient_id, name) DO UPDATE
				SET numeric_value = EXCLUDED.numeric_value, bool_value = EXCLUDED.bool_value,
					observed_at = EXCLUDED.observed_at`,
				patientID, v.Name, v.Number, v.Bool, at)
			if err != nil {
				return fmt.Errorf("upsert metric %s: %w", v.Name, err)
			}
		}
		return nil
	})
}

// SnapshotOf flattens stored values into an evaluator snapshot.
func SnapshotOf(values []MetricValue) alertrule.Snapshot {
	snap := make(alertrule.Snapshot, len(values))
	for _, v := range values {
		switch {
		case v.Number != nil:
			snap[v.Name] = *v.Number
		case v.Bool != nil:
			snap[v.Name] = *v.Bool
		}
	}
	return snap
}
