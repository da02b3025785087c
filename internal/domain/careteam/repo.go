package careteam

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Membership, error)
	ListActiveProfessionals(ctx context.Context, patientID uuid.UUID) ([]uuid.UUID, error)
	ListPatientsForProfessional(ctx context.Context, professionalID uuid.UUID) ([]uuid.UUID, error)
	GetProfessional(ctx context.Context, id uuid.UUID) (*Professional, error)
}
