package alertrule

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

type Service struct {
	rules   Repository
	catalog MetricCatalog
}

func NewService(rules Repository, catalog MetricCatalog) *Service {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	return &Service{rules: rules, catalog: catalog}
}

// CreateRule validates and stores a new rule. New rules start active.
func (s *Service) CreateRule(ctx context.Context, r *Rule) error {
	r.IsActive = true
	if err := r.Validate(s.catalog); err != nil {
		return err
	}
	return s.rules.Create(ctx, r)
}

func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return s.rules.GetByID(ctx, id)
}

// UpdateRule replaces the editable fields of an existing rule. Owner, active
// flag and creation time are taken from the stored rule.
func (s *Service) UpdateRule(ctx context.Context, r *Rule) error {
	existing, err := s.rules.GetByID(ctx, r.ID)
	if err != nil {
		return err
	}
	r.OwnerID = existing.OwnerID
	r.IsActive = existing.IsActive
	r.CreatedAt = existing.CreatedAt
	if err := r.Validate(s.catalog); err != nil {
		return err
	}
	return s.rules.Update(ctx, r)
}

func (s *Service) DeactivateRule(ctx context.Context, id uuid.UUID) error {
	return s.rules.SetActive(ctx, id, false)
}

func (s *Service) ActivateRule(ctx context.Context, id uuid.UUID) error {
	r, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.Validate(s.catalog); err != nil {
		return err
	}
	return s.rules.SetActive(ctx, id, true)
}

func (s *Service) ListRules(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]*Rule, int, error) {
	return s.rules.List(ctx, ownerID, limit, offset)
}

func (s *Service) ListActiveRules(ctx context.Context) ([]*Rule, error) {
	return s.rules.ListActive(ctx)
}

// DryRun evaluates an unsaved condition document against the given metrics.
func (s *Service) DryRun(metrics map[string]interface{}, condition json.RawMessage) (bool, error) {
	if len(condition) == 0 {
		return false, invalidf("condition is required")
	}
	tree, err := ParseTree(condition)
	if err != nil {
		return false, err
	}
	probe := &Rule{Name: "dry-run", Scope: ScopeGlobal, OwnerID: uuid.New(), Condition: tree}
	if err := probe.Validate(s.catalog); err != nil {
		return false, err
	}
	return EvaluateNode(tree.Root, Snapshot(metrics))
}

// IsInvalid reports whether err is a rule configuration error.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidRule)
}
