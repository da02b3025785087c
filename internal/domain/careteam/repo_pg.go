package careteam

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carealert/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type careTeamRepoPG struct{ pool *pgxpool.Pool }

func NewCareTeamRepoPG(pool *pgxpool.Pool) Repository {
	return &careTeamRepoPG{pool: pool}
}

func (r *careTeamRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *careTeamRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Membership, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.patient_id, m.professional_id, p.display_name, m.status
		FROM care_team_member m
		JOIN professional p ON p.id = m.professional_id
		WHERE m.patient_id = $1
		ORDER BY p.display_name`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.PatientID, &m.ProfessionalID, &m.DisplayName, &m.Status); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

func (r *careTeamRepoPG) ListActiveProfessionals(ctx context.Context, patientID uuid.UUID) ([]uuid.UUID, error) {
	return r.ids(ctx, `
		SELECT professional_id FROM care_team_member
		WHERE patient_id = $1 AND status = 'active'
		ORDER BY professional_id`, patientID)
}

func (r *careTeamRepoPG) ListPatientsForProfessional(ctx context.Context, professionalID uuid.UUID) ([]uuid.UUID, error) {
	return r.ids(ctx, `
		SELECT patient_id FROM care_team_member
		WHERE professional_id = $1 AND status = 'active'
		ORDER BY patient_id`, professionalID)
}

func (r *careTeamRepoPG) ids(ctx context.Context, sql string, arg uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *careTeamRepoPG) GetProfessional(ctx context.Context, id uuid.UUID) (*Professional, error) {
	var p Professional
	var email *string
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, display_name, email FROM professional WHERE id = $1`, id).
		Scan(&p.ID, &p.DisplayName, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if email != nil {
		p.Email = *email
	}
	return &p, nil
}
