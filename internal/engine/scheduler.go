package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/domain/alertrule"
	"github.com/ehr/carealert/internal/platform/metrics"
)

// RuleSource lists the rules a tick evaluates.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]*alertrule.Rule, error)
}

// PatientDirectory expands a global rule to the patients its owner cares for.
type PatientDirectory interface {
	ListPatientsForProfessional(ctx context.Context, professionalID uuid.UUID) ([]uuid.UUID, error)
}

type Redispatcher interface {
	RedispatchFailed(ctx context.Context, maxTotalAttempts, limit int) (int, error)
}

type SchedulerConfig struct {
	RuleInterval       time.Duration
	Workers            int
	RedispatchInterval time.Duration
	// RedispatchMaxAttempts caps the total attempts a delivery may reach
	// through sweeps.
	RedispatchMaxAttempts int
	RedispatchBatch       int
}

// TickSummary reports one rule tick.
type TickSummary struct {
	Rules       int
	Evaluations int
	Alerts      int
	Errors      int
}

type Scheduler struct {
	engine     *Engine
	rules      RuleSource
	patients   PatientDirectory
	redispatch Redispatcher
	cfg        SchedulerConfig
	logger     zerolog.Logger
}

func NewScheduler(engine *Engine, rules RuleSource, patients PatientDirectory, redispatch Redispatcher, cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	if cfg.RuleInterval <= 0 {
		cfg.RuleInterval = 5 * time.Minute
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RedispatchInterval <= 0 {
		cfg.RedispatchInterval = 10 * time.Minute
	}
	if cfg.RedispatchMaxAttempts < 1 {
		cfg.RedispatchMaxAttempts = 10
	}
	if cfg.RedispatchBatch < 1 {
		cfg.RedispatchBatch = 100
	}
	return &Scheduler{
		engine:     engine,
		rules:      rules,
		patients:   patients,
		redispatch: redispatch,
		cfg:        cfg,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs both loops until ctx is cancelled. Each loop runs once
// immediately so a restart does not wait a full interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Dur("rule_interval", s.cfg.RuleInterval).
		Dur("redispatch_interval", s.cfg.RedispatchInterval).
		Int("workers", s.cfg.Workers).
		Msg("scheduler started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, "rules", s.cfg.RuleInterval, func(ctx context.Context) { s.RunRules(ctx) })
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "redispatch", s.cfg.RedispatchInterval, s.RunRedispatch)
	}()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job string, interval time.Duration, run func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := func() {
		start := time.Now()
		run(ctx)
		metrics.ObserveSchedulerTick(job, time.Since(start))
	}
	tick()
	for {
		select {
		case <-ticker.C:
			tick()
		case <-ctx.Done():
			return
		}
	}
}

type target struct {
	rule      *alertrule.Rule
	patientID uuid.UUID
}

// Targets lists the patients rule is evaluated for.
func (s *Scheduler) Targets(ctx context.Context, rule *alertrule.Rule) ([]uuid.UUID, error) {
	switch rule.Scope {
	case alertrule.ScopePerPatient:
		if rule.PatientID == nil {
			return nil, nil
		}
		return []uuid.UUID{*rule.PatientID}, nil
	case alertrule.ScopeGlobal:
		return s.patients.ListPatientsForProfessional(ctx, rule.OwnerID)
	}
	return nil, nil
}

// RunRules evaluates every active rule against each of its targets on a
// bounded worker pool.
func (s *Scheduler) RunRules(ctx context.Context) TickSummary {
	var sum TickSummary
	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list active rules")
		sum.Errors++
		return sum
	}
	sum.Rules = len(rules)

	jobs := make(chan target)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				inst, err := s.engine.EvaluateRule(ctx, t.rule, t.patientID)
				mu.Lock()
				sum.Evaluations++
				if err != nil {
					sum.Errors++
				}
				if inst != nil {
					sum.Alerts++
				}
				mu.Unlock()
				if err != nil {
					s.logger.Error().Err(err).
						Str("rule_id", t.rule.ID.String()).
						Str("patient_id", t.patientID.String()).
						Msg("rule evaluation failed")
				}
			}
		}()
	}

feed:
	for _, rule := range rules {
		patients, err := s.Targets(ctx, rule)
		if err != nil {
			s.logger.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("failed to expand rule targets")
			mu.Lock()
			sum.Errors++
			mu.Unlock()
			continue
		}
		for _, pid := range patients {
			select {
			case jobs <- target{rule: rule, patientID: pid}:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(jobs)
	wg.Wait()

	s.logger.Info().
		Int("rules", sum.Rules).
		Int("evaluations", sum.Evaluations).
		Int("alerts", sum.Alerts).
		Int("errors", sum.Errors).
		Msg("rule tick complete")
	return sum
}

// RunRedispatch sweeps failed deliveries once.
func (s *Scheduler) RunRedispatch(ctx context.Context) {
	if s.redispatch == nil {
		return
	}
	sent, err := s.redispatch.RedispatchFailed(ctx, s.cfg.RedispatchMaxAttempts, s.cfg.RedispatchBatch)
	if err != nil {
		s.logger.Error().Err(err).Msg("redispatch sweep failed")
		return
	}
	if sent > 0 {
		s.logger.Info().Int("sent", sent).Msg("redispatched failed deliveries")
	}
}
