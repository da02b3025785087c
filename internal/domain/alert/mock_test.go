package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository. A single mutex makes every method
// atomic, matching the transactional guarantees of the pg implementation.
type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Instance
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[uuid.UUID]*Instance)}
}

func (m *memRepo) existsSince(ruleID, patientID uuid.UUID, since time.Time) bool {
	for _, inst := range m.items {
		if inst.RuleID != nil && *inst.RuleID == ruleID && inst.PatientID == patientID && inst.TriggeredAt.After(since) {
			return true
		}
	}
	return false
}

func (m *memRepo) CreateIfNoneWithin(_ context.Context, inst *Instance, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if window > 0 && m.existsSince(*inst.RuleID, inst.PatientID, inst.TriggeredAt.Add(-window)) {
		return false, nil
	}
	inst.ID = uuid.New()
	cp := *inst
	m.items[inst.ID] = &cp
	return true, nil
}

func (m *memRepo) ExistsSince(_ context.Context, ruleID, patientID uuid.UUID, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsSince(ruleID, patientID, since), nil
}

func (m *memRepo) ReplaceForRecord(_ context.Context, recordID uuid.UUID, insts []*Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inst := range m.items {
		if inst.RecordID != nil && *inst.RecordID == recordID {
			delete(m.items, id)
		}
	}
	for _, inst := range insts {
		inst.ID = uuid.New()
		inst.RecordID = &recordID
		cp := *inst
		m.items[inst.ID] = &cp
	}
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *memRepo) Acknowledge(_ context.Context, id, actorID uuid.UUID, at time.Time) (*Instance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.items[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed := false
	if inst.Status == StatusTriggered {
		inst.Status = StatusAcknowledged
		inst.AcknowledgedAt = &at
		inst.AcknowledgedBy = &actorID
		changed = true
	}
	cp := *inst
	return &cp, changed, nil
}

func (m *memRepo) filter(keep func(*Instance) bool) []*Instance {
	var out []*Instance
	for _, inst := range m.items {
		if keep(inst) {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out
}

func page(items []*Instance, limit, offset int) []*Instance {
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filter(func(i *Instance) bool { return i.PatientID == patientID })
	return page(all, limit, offset), len(all), nil
}

func (m *memRepo) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(i *Instance) bool { return i.RecordID != nil && *i.RecordID == recordID }), nil
}

func (m *memRepo) ListOpen(_ context.Context, limit, offset int) ([]*Instance, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filter(func(i *Instance) bool { return i.Status == StatusTriggered })
	return page(all, limit, offset), len(all), nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type fakeTeam struct {
	active map[uuid.UUID][]uuid.UUID
	err    error
}

func (f *fakeTeam) ListActiveProfessionals(_ context.Context, patientID uuid.UUID) ([]uuid.UUID, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.active[patientID], nil
}

// clock is a settable time source for the manager and deduplicator.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
