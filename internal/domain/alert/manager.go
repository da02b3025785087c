package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/platform/metrics"
)

// Manager is the only writer of alert instances.
type Manager struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(repo Repository, logger zerolog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: logger.With().Str("component", "alert-manager").Logger(),
		now:    time.Now,
	}
}

// CreateFromRule persists one instance for a rule candidate addressed to
// recipients, unless the rule already fired for the patient within window.
// It returns nil without error when the candidate is suppressed.
func (m *Manager) CreateFromRule(ctx context.Context, c *Candidate, recipients []uuid.UUID, window time.Duration) (*Instance, error) {
	if c.Origin != OriginRule || c.RuleID == nil {
		return nil, fmt.Errorf("CreateFromRule needs a rule candidate")
	}
	if c.TriggeredAt.IsZero() {
		c.TriggeredAt = m.now()
	}
	inst := c.NewInstance(recipients)
	created, err := m.repo.CreateIfNoneWithin(ctx, inst, window)
	if err != nil {
		return nil, fmt.Errorf("create rule alert: %w", err)
	}
	if !created {
		metrics.IncAlertSuppressed(string(OriginRule))
		m.logger.Debug().
			Str("rule_id", c.RuleID.String()).
			Str("patient_id", c.PatientID.String()).
			Dur("window", window).
			Msg("alert suppressed inside dedup window")
		return nil, nil
	}
	metrics.AddAlertsTriggered(string(OriginRule), 1)
	m.logger.Info().
		Str("alert_id", inst.ID.String()).
		Str("rule_id", c.RuleID.String()).
		Str("patient_id", c.PatientID.String()).
		Int("recipients", len(inst.RecipientIDs)).
		Msg("rule alert created")
	return inst, nil
}

// ReplaceForRecord makes the record's alert set reflect c. A nil candidate
// clears the set. Otherwise one instance is created per recipient, or a
// single unassigned instance when there are none, so the alert remains on
// record for audit.
func (m *Manager) ReplaceForRecord(ctx context.Context, recordID uuid.UUID, c *Candidate, recipients []uuid.UUID) ([]*Instance, error) {
	insts := []*Instance{}
	if c != nil {
		if c.Origin != OriginClassification {
			return nil, fmt.Errorf("ReplaceForRecord needs a classification candidate")
		}
		if c.TriggeredAt.IsZero() {
			c.TriggeredAt = m.now()
		}
		c.RecordID = &recordID
		if len(recipients) == 0 {
			insts = append(insts, c.NewInstance(nil))
		}
		for _, rid := range recipients {
			insts = append(insts, c.NewInstance([]uuid.UUID{rid}))
		}
	}
	if err := m.repo.ReplaceForRecord(ctx, recordID, insts); err != nil {
		return nil, fmt.Errorf("replace record alerts: %w", err)
	}
	metrics.AddAlertsTriggered(string(OriginClassification), len(insts))
	m.logger.Info().
		Str("record_id", recordID.String()).
		Int("instances", len(insts)).
		Msg("record alert set replaced")
	return insts, nil
}

// Acknowledge moves an instance to acknowledged. Repeating it is a no-op that
// returns the stored instance; unknown ids return ErrNotFound.
func (m *Manager) Acknowledge(ctx context.Context, id, actorID uuid.UUID) (*Instance, error) {
	if actorID == uuid.Nil {
		return nil, fmt.Errorf("acknowledge requires an actor")
	}
	inst, changed, err := m.repo.Acknowledge(ctx, id, actorID, m.now())
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.IncAlertAcknowledged()
		m.logger.Info().
			Str("alert_id", id.String()).
			Str("actor_id", actorID.String()).
			Msg("alert acknowledged")
	}
	return inst, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return m.repo.GetByID(ctx, id)
}

func (m *Manager) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	return m.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (m *Manager) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Instance, error) {
	return m.repo.ListByRecord(ctx, recordID)
}

func (m *Manager) ListOpen(ctx context.Context, limit, offset int) ([]*Instance, int, error) {
	return m.repo.ListOpen(ctx, limit, offset)
}
