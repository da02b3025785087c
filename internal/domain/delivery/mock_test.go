package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/domain/alert"
	"github.com/ehr/carealert/internal/platform/channel"
)

type key struct {
	instance  uuid.UUID
	recipient uuid.UUID
	channel   string
}

type memRepo struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*Delivery
	byKey      map[key]uuid.UUID
	attempts   map[uuid.UUID][]*Attempt
	failRecord error
}

func newMemRepo() *memRepo {
	return &memRepo{
		deliveries: make(map[uuid.UUID]*Delivery),
		byKey:      make(map[key]uuid.UUID),
		attempts:   make(map[uuid.UUID][]*Attempt),
	}
}

func (m *memRepo) Ensure(_ context.Context, d *Delivery) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{d.InstanceID, d.RecipientID, d.Channel}
	if id, ok := m.byKey[k]; ok {
		cp := *m.deliveries[id]
		return &cp, nil
	}
	now := time.Now()
	stored := &Delivery{
		ID:          uuid.New(),
		InstanceID:  d.InstanceID,
		RecipientID: d.RecipientID,
		Channel:     d.Channel,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.deliveries[stored.ID] = stored
	m.byKey[k] = stored.ID
	cp := *stored
	return &cp, nil
}

func (m *memRepo) RecordAttempt(_ context.Context, d *Delivery, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		return m.failRecord
	}
	if _, ok := m.deliveries[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	cp.UpdatedAt = time.Now()
	m.deliveries[d.ID] = &cp
	a.ID = uuid.New()
	a.DeliveryID = d.ID
	ac := *a
	m.attempts[d.ID] = append(m.attempts[d.ID], &ac)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) ListByInstance(_ context.Context, instanceID uuid.UUID) ([]*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.InstanceID == instanceID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func (m *memRepo) ListAttempts(_ context.Context, deliveryID uuid.UUID) ([]*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Attempt(nil), m.attempts[deliveryID]...), nil
}

func memRetryable(d *Delivery, staleBefore time.Time) bool {
	return d.Status == StatusFailed || (d.Status == StatusPending && d.UpdatedAt.Before(staleBefore))
}

func (m *memRepo) ListRetryable(_ context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if memRetryable(d, staleBefore) && d.AttemptCount < maxAttempts && len(out) < limit {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) Claim(_ context.Context, id uuid.UUID, staleBefore time.Time) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !memRetryable(d, staleBefore) {
		return nil, ErrNotFailed
	}
	d.Status = StatusPending
	d.UpdatedAt = time.Now()
	cp := *d
	return &cp, nil
}

// setState overwrites a stored delivery's status, attempt count and
// update time.
func (m *memRepo) setState(id uuid.UUID, status string, attempts int, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	d.Status = status
	d.AttemptCount = attempts
	d.UpdatedAt = updatedAt
}

func (m *memRepo) byStatus(status string) []*Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out
}

type memPrefs struct {
	mu    sync.Mutex
	prefs map[uuid.UUID][]*Preference
	err   error
}

func newMemPrefs() *memPrefs {
	return &memPrefs{prefs: make(map[uuid.UUID][]*Preference)}
}

func (m *memPrefs) ListForProfessional(_ context.Context, id uuid.UUID) ([]*Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]*Preference(nil), m.prefs[id]...), nil
}

func (m *memPrefs) Replace(_ context.Context, id uuid.UUID, prefs []*Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[id] = prefs
	return nil
}

type fixedChannels map[uuid.UUID][]string

func (f fixedChannels) ChannelsFor(_ context.Context, id uuid.UUID) ([]string, error) {
	chs, ok := f[id]
	if !ok {
		return nil, errors.New("no preferences")
	}
	return chs, nil
}

// flakyChannel fails the first n sends, where n is failures.
type flakyChannel struct {
	name     string
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyChannel) Name() string { return f.name }

func (f *flakyChannel) Send(context.Context, channel.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New(f.name + " unavailable")
	}
	return nil
}

func (f *flakyChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memInstances map[uuid.UUID]*alert.Instance

func (m memInstances) Get(_ context.Context, id uuid.UUID) (*alert.Instance, error) {
	inst, ok := m[id]
	if !ok {
		return nil, alert.ErrNotFound
	}
	return inst, nil
}

func testInstance() *alert.Instance {
	ruleID := uuid.New()
	return &alert.Instance{
		ID:          uuid.New(),
		RuleID:      &ruleID,
		PatientID:   uuid.New(),
		Status:      alert.StatusTriggered,
		TriggeredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Payload: alert.Payload{
			Origin:   alert.OriginRule,
			RuleName: "low mood and missed meds",
			Level:    alert.LevelHigh,
		},
	}
}

type testDeps struct {
	repo   *memRepo
	sleeps []time.Duration
	mu     sync.Mutex
}

func newTestDispatcher(prefs ChannelResolver, instances InstanceLookup, channels ...channel.Channel) (*Dispatcher, *testDeps) {
	deps := &testDeps{repo: newMemRepo()}
	d := NewDispatcher(deps.repo, prefs, channel.NewRegistry(channels...), instances,
		DispatcherConfig{MaxAttempts: 3, BackoffBase: time.Second, Fallback: []string{channel.InApp}}, zerolog.Nop())
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		deps.mu.Lock()
		deps.sleeps = append(deps.sleeps, dur)
		deps.mu.Unlock()
		return ctx.Err()
	}
	return d, deps
}
