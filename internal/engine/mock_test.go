package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/domain/alert"
	"github.com/ehr/carealert/internal/domain/alertrule"
	"github.com/ehr/carealert/internal/domain/delivery"
	"github.com/ehr/carealert/internal/platform/classify"
)

// alertStore implements alert.Repository for the paths the engine uses.
type alertStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*alert.Instance
}

func newAlertStore() *alertStore {
	return &alertStore{items: make(map[uuid.UUID]*alert.Instance)}
}

func (s *alertStore) exists(ruleID, patientID uuid.UUID, since time.Time) bool {
	for _, inst := range s.items {
		if inst.RuleID != nil && *inst.RuleID == ruleID && inst.PatientID == patientID && inst.TriggeredAt.After(since) {
			return true
		}
	}
	return false
}

func (s *alertStore) CreateIfNoneWithin(_ context.Context, inst *alert.Instance, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if window > 0 && s.exists(*inst.RuleID, inst.PatientID, inst.TriggeredAt.Add(-window)) {
		return false, nil
	}
	inst.ID = uuid.New()
	cp := *inst
	s.items[inst.ID] = &cp
	return true, nil
}

func (s *alertStore) ExistsSince(_ context.Context, ruleID, patientID uuid.UUID, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(ruleID, patientID, since), nil
}

func (s *alertStore) ReplaceForRecord(_ context.Context, recordID uuid.UUID, insts []*alert.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, inst := range s.items {
		if inst.RecordID != nil && *inst.RecordID == recordID {
			delete(s.items, id)
		}
	}
	for _, inst := range insts {
		inst.ID = uuid.New()
		cp := *inst
		s.items[inst.ID] = &cp
	}
	return nil
}

func (s *alertStore) GetByID(_ context.Context, id uuid.UUID) (*alert.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.items[id]
	if !ok {
		return nil, alert.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *alertStore) Acknowledge(context.Context, uuid.UUID, uuid.UUID, time.Time) (*alert.Instance, bool, error) {
	return nil, false, errors.New("not used")
}

func (s *alertStore) ListByPatient(context.Context, uuid.UUID, int, int) ([]*alert.Instance, int, error) {
	return nil, 0, errors.New("not used")
}

func (s *alertStore) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*alert.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*alert.Instance
	for _, inst := range s.items {
		if inst.RecordID != nil && *inst.RecordID == recordID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *alertStore) ListOpen(context.Context, int, int) ([]*alert.Instance, int, error) {
	return nil, 0, errors.New("not used")
}

func (s *alertStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type staticSnapshots struct {
	snaps map[uuid.UUID]alertrule.Snapshot
	err   error
}

func (s *staticSnapshots) Snapshot(_ context.Context, patientID uuid.UUID) (alertrule.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	snap, ok := s.snaps[patientID]
	if !ok {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

type team struct {
	active   map[uuid.UUID][]uuid.UUID
	patients map[uuid.UUID][]uuid.UUID
}

func (t *team) ListActiveProfessionals(_ context.Context, patientID uuid.UUID) ([]uuid.UUID, error) {
	return t.active[patientID], nil
}

func (t *team) ListPatientsForProfessional(_ context.Context, professionalID uuid.UUID) ([]uuid.UUID, error) {
	return t.patients[professionalID], nil
}

type stubClassifier struct {
	res   classify.Result
	err   error
	calls int
}

func (s *stubClassifier) ClassifyRecord(context.Context, classify.Request) (classify.Result, error) {
	s.calls++
	return s.res, s.err
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls map[uuid.UUID][]uuid.UUID
}

func (r *recordingDispatcher) Dispatch(_ context.Context, inst *alert.Instance, recipients []uuid.UUID) ([]*delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[uuid.UUID][]uuid.UUID)
	}
	r.calls[inst.ID] = append(r.calls[inst.ID], recipients...)
	return nil, nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixture struct {
	engine     *Engine
	store      *alertStore
	snaps      *staticSnapshots
	team       *team
	classifier *stubClassifier
	dispatcher *recordingDispatcher
	now        time.Time
}

func newFixture() *fixture {
	f := &fixture{
		store:      newAlertStore(),
		snaps:      &staticSnapshots{snaps: make(map[uuid.UUID]alertrule.Snapshot)},
		team:       &team{active: make(map[uuid.UUID][]uuid.UUID), patients: make(map[uuid.UUID][]uuid.UUID)},
		classifier: &stubClassifier{},
		dispatcher: &recordingDispatcher{},
		now:        time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC),
	}
	mgr := alert.NewManager(f.store, zerolog.Nop())
	f.engine = New(f.snaps, mgr, alert.NewResolver(f.team), f.classifier, f.dispatcher, zerolog.Nop())
	f.engine.now = func() time.Time { return f.now }
	return f
}

func escalationRule(ownerID, patientID uuid.UUID) *alertrule.Rule {
	return &alertrule.Rule{
		ID:        uuid.New(),
		Name:      "low mood, missed meds, no check-in",
		Scope:     alertrule.ScopePerPatient,
		OwnerID:   ownerID,
		PatientID: &patientID,
		Condition: alertrule.Tree{Root: alertrule.AllOf(
			alertrule.Leaf("mood_latest", alertrule.OpLT, 3),
			alertrule.Leaf("days_without_medication", alertrule.OpGTE, 3),
			alertrule.IsTrue("checkin_missing_3d"),
		)},
		DedupWindowMinutes: 1440,
		IsActive:           true,
	}
}

func alarmingSnapshot() alertrule.Snapshot {
	return alertrule.Snapshot{
		"mood_latest":             2.0,
		"days_without_medication": 4,
		"checkin_missing_3d":      true,
	}
}
