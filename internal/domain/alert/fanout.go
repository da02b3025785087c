package alert

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/carealert/internal/domain/alertrule"
)

// CareTeam is the read-only view of care-team memberships the resolver needs.
type CareTeam interface {
	ListActiveProfessionals(ctx context.Context, patientID uuid.UUID) ([]uuid.UUID, error)
}

// Resolver picks the professionals an alert is addressed to.
type Resolver struct {
	team CareTeam
}

func NewResolver(team CareTeam) *Resolver {
	return &Resolver{team: team}
}

// ForRule resolves recipients of a rule alert. Global rules are personal
// watch rules and go to their owner only. Per-patient rules go to every
// active care-team professional of the bound patient.
func (r *Resolver) ForRule(ctx context.Context, rule *alertrule.Rule) ([]uuid.UUID, error) {
	switch rule.Scope {
	case alertrule.ScopeGlobal:
		return []uuid.UUID{rule.OwnerID}, nil
	case alertrule.ScopePerPatient:
		if rule.PatientID == nil {
			return nil, fmt.Errorf("rule %s: per_patient rule without patient_id", rule.ID)
		}
		return r.ForPatient(ctx, *rule.PatientID)
	}
	return nil, fmt.Errorf("rule %s: unknown scope %q", rule.ID, rule.Scope)
}

// ForPatient resolves every active care-team professional of the patient.
// An empty result is not an error.
func (r *Resolver) ForPatient(ctx context.Context, patientID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := r.team.ListActiveProfessionals(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("care team for patient %s: %w", patientID, err)
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
