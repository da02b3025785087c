// Package engine drives the alert pipeline: a trigger produces at most one
// candidate, which is deduplicated, persisted, fanned out and dispatched.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/domain/alert"
	"github.com/ehr/carealert/internal/domain/alertrule"
	"github.com/ehr/carealert/internal/domain/delivery"
	"github.com/ehr/carealert/internal/platform/classify"
	"github.com/ehr/carealert/internal/platform/metrics"
)

// ErrEmptyRecord is returned by AnalyzeRecord for a record without text.
var ErrEmptyRecord = errors.New("record has no text")

const (
	outcomeMatched    = "matched"
	outcomeUnmatched  = "unmatched"
	outcomeNoSnapshot = "no_snapshot"
	outcomeError      = "error"
)

type Classifier interface {
	ClassifyRecord(ctx context.Context, req classify.Request) (classify.Result, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, inst *alert.Instance, recipients []uuid.UUID) ([]*delivery.Delivery, error)
}

// Record is a submitted free-text entry.
type Record struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Text      string
}

type Engine struct {
	snapshots  SnapshotProvider
	alerts     *alert.Manager
	resolver   *alert.Resolver
	classifier Classifier
	dispatcher Dispatcher
	logger     zerolog.Logger
	now        func() time.Time
}

func New(snapshots SnapshotProvider, alerts *alert.Manager, resolver *alert.Resolver, classifier Classifier, dispatcher Dispatcher, logger zerolog.Logger) *Engine {
	return &Engine{
		snapshots:  snapshots,
		alerts:     alerts,
		resolver:   resolver,
		classifier: classifier,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "engine").Logger(),
		now:        time.Now,
	}
}

// EvaluateRule evaluates rule for one patient and, when it matches outside
// the dedup window, creates and dispatches the alert. It returns nil when no
// alert was created. Missing snapshots and evaluation errors are logged, not
// returned.
func (e *Engine) EvaluateRule(ctx context.Context, rule *alertrule.Rule, patientID uuid.UUID) (*alert.Instance, error) {
	if !rule.IsActive {
		return nil, nil
	}
	if rule.Scope == alertrule.ScopePerPatient && (rule.PatientID == nil || *rule.PatientID != patientID) {
		return nil, fmt.Errorf("rule %s is bound to another patient", rule.ID)
	}
	log := e.logger.With().Str("rule_id", rule.ID.String()).Str("patient_id", patientID.String()).Logger()

	snap, err := e.snapshots.Snapshot(ctx, patientID)
	if errors.Is(err, ErrNoSnapshot) {
		metrics.IncRuleEvaluation(outcomeNoSnapshot)
		log.Debug().Msg("no metrics recorded; skipping rule")
		return nil, nil
	}
	if err != nil {
		metrics.IncRuleEvaluation(outcomeError)
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	matched, err := alertrule.Evaluate(rule, snap)
	if err != nil {
		metrics.IncRuleEvaluation(outcomeError)
		log.Error().Err(err).Msg("rule evaluation failed")
		return nil, nil
	}
	if !matched {
		metrics.IncRuleEvaluation(outcomeUnmatched)
		return nil, nil
	}
	metrics.IncRuleEvaluation(outcomeMatched)

	recipients, err := e.resolver.ForRule(ctx, rule)
	if err != nil {
		return nil, err
	}
	ruleID := rule.ID
	inst, err := e.alerts.CreateFromRule(ctx, &alert.Candidate{
		Origin:      alert.OriginRule,
		RuleID:      &ruleID,
		RuleName:    rule.Name,
		PatientID:   patientID,
		TriggeredAt: e.now().UTC(),
	}, recipients, rule.DedupWindow())
	if err != nil || inst == nil {
		return nil, err
	}
	e.dispatch(ctx, inst)
	return inst, nil
}

// AnalyzeRecord classifies a record and makes its alert set match the
// verdict. A classifier failure or an undecodable reply leaves the existing
// set untouched.
func (e *Engine) AnalyzeRecord(ctx context.Context, rec Record) (classify.Result, []*alert.Instance, error) {
	if strings.TrimSpace(rec.Text) == "" {
		return classify.Result{}, nil, ErrEmptyRecord
	}
	res, err := e.classifier.ClassifyRecord(ctx, classify.Request{
		RecordID:  rec.ID,
		PatientID: rec.PatientID,
		Text:      rec.Text,
	})
	if err != nil {
		return classify.Result{}, nil, fmt.Errorf("classify record %s: %w", rec.ID, err)
	}

	if res.Malformed {
		e.logger.Warn().Str("record_id", rec.ID.String()).Msg("classifier reply unusable; keeping existing alerts")
		insts, err := e.alerts.ListByRecord(ctx, rec.ID)
		return res, insts, err
	}

	if !res.HasAlert {
		insts, err := e.alerts.ReplaceForRecord(ctx, rec.ID, nil, nil)
		return res, insts, err
	}

	recipients, err := e.resolver.ForPatient(ctx, rec.PatientID)
	if err != nil {
		return res, nil, err
	}
	insts, err := e.alerts.ReplaceForRecord(ctx, rec.ID, &alert.Candidate{
		Origin:         alert.OriginClassification,
		PatientID:      rec.PatientID,
		Level:          alert.Level(res.Level),
		Type:           res.Type,
		Keywords:       res.Keywords,
		Recommendation: res.Recommendation,
		Confidence:     res.Confidence,
		TriggeredAt:    e.now().UTC(),
	}, recipients)
	if err != nil {
		return res, nil, err
	}
	for _, inst := range insts {
		e.dispatch(ctx, inst)
	}
	return res, insts, nil
}

// dispatch sends inst to its recipients. Failures are tracked per delivery,
// so only bookkeeping errors are logged here.
func (e *Engine) dispatch(ctx context.Context, inst *alert.Instance) {
	if len(inst.RecipientIDs) == 0 {
		e.logger.Warn().Str("alert_id", inst.ID.String()).Msg("alert has no recipients; delivery skipped")
		return
	}
	if _, err := e.dispatcher.Dispatch(ctx, inst, inst.RecipientIDs); err != nil {
		e.logger.Error().Err(err).Str("alert_id", inst.ID.String()).Msg("dispatch bookkeeping failed")
	}
}
