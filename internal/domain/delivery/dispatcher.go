package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/domain/alert"
	"github.com/ehr/carealert/internal/platform/channel"
	"github.com/ehr/carealert/internal/platform/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Second
	DefaultStaleAfter  = 15 * time.Minute
)

// Sender delivers a message on a named channel. *channel.Registry
// satisfies it.
type Sender interface {
	Send(ctx context.Context, name string, msg channel.Message) error
}

// ChannelResolver returns the channels a recipient should be notified on.
type ChannelResolver interface {
	ChannelsFor(ctx context.Context, professionalID uuid.UUID) ([]string, error)
}

// InstanceLookup loads the alert a delivery belongs to.
type InstanceLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*alert.Instance, error)
}

type DispatcherConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	// Fallback is used when a recipient's preferences cannot be read.
	Fallback []string
	// StaleAfter is how long a pending delivery may go without an attempt
	// before the sweep treats it as abandoned.
	StaleAfter time.Duration
}

// Dispatcher sends alert instances to every (recipient, channel) pair and
// tracks each pair as a Delivery.
type Dispatcher struct {
	repo      Repository
	prefs     ChannelResolver
	sender    Sender
	instances InstanceLookup
	cfg       DispatcherConfig
	logger    zerolog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(repo Repository, prefs ChannelResolver, sender Sender, instances InstanceLookup, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Dispatcher{
		repo:      repo,
		prefs:     prefs,
		sender:    sender,
		instances: instances,
		cfg:       cfg,
		logger:    logger.With().Str("component", "delivery").Logger(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the wait before retry n+1 after attempt n: base, 2*base,
// 4*base and so on.
func (d *Dispatcher) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return d.cfg.BackoffBase << uint(attempt-1)
}

type pair struct {
	recipient uuid.UUID
	channel   string
}

// Dispatch sends inst to every recipient on each of their channels. Pairs
// run concurrently and a failing pair does not affect the others. The
// returned error covers only bookkeeping failures; send failures are
// recorded on the returned deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, inst *alert.Instance, recipients []uuid.UUID) ([]*Delivery, error) {
	if inst == nil || len(recipients) == 0 {
		return nil, nil
	}

	var pairs []pair
	seen := make(map[pair]bool)
	for _, rid := range recipients {
		channels, err := d.prefs.ChannelsFor(ctx, rid)
		if err != nil {
			d.logger.Warn().Err(err).Str("recipient_id", rid.String()).
				Msg("failed to read channel preferences; using fallback channels")
			channels = d.cfg.Fallback
		}
		for _, ch := range channels {
			p := pair{recipient: rid, channel: ch}
			if !seen[p] {
				seen[p] = true
				pairs = append(pairs, p)
			}
		}
	}

	results := make([]*Delivery, len(pairs))
	errs := make([]error, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func(i int, p pair) {
			defer wg.Done()
			results[i], errs[i] = d.deliverPair(ctx, inst, p)
		}(i, p)
	}
	wg.Wait()

	var out []*Delivery
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

func (d *Dispatcher) deliverPair(ctx context.Context, inst *alert.Instance, p pair) (*Delivery, error) {
	del, err := d.repo.Ensure(ctx, &Delivery{
		InstanceID:  inst.ID,
		RecipientID: p.recipient,
		Channel:     p.channel,
		Status:      StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure delivery %s/%s: %w", p.recipient, p.channel, err)
	}
	if del.IsSent() {
		return del, nil
	}
	return del, d.attempt(ctx, del, BuildMessage(inst, p.recipient))
}

// attempt runs up to MaxAttempts sends for del, updating it after each one.
// An unknown channel is not retried.
func (d *Dispatcher) attempt(ctx context.Context, del *Delivery, msg channel.Message) error {
	log := d.logger.With().
		Str("delivery_id", del.ID.String()).
		Str("alert_id", del.InstanceID.String()).
		Str("channel", del.Channel).
		Logger()

	for n := 1; n <= d.cfg.MaxAttempts; n++ {
		start := time.Now()
		sendErr := d.sender.Send(ctx, del.Channel, msg)
		result := metrics.ResultSuccess
		if sendErr != nil {
			result = metrics.ResultError
		}
		metrics.ObserveDelivery(del.Channel, result, time.Since(start))

		at := d.now().UTC()
		del.AttemptCount++
		a := &Attempt{Attempt: del.AttemptCount, AttemptedAt: at}
		if sendErr == nil {
			del.Status = StatusSent
			del.SentAt = &at
			del.ErrorMessage = nil
			a.Status = StatusSent
		} else {
			errMsg := sendErr.Error()
			del.ErrorMessage = &errMsg
			a.Status = StatusFailed
			a.ErrorMessage = &errMsg
			if n == d.cfg.MaxAttempts || errors.Is(sendErr, channel.ErrUnknownChannel) {
				del.Status = StatusFailed
			} else {
				del.Status = StatusPending
			}
		}
		if err := d.repo.RecordAttempt(ctx, del, a); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}

		switch {
		case sendErr == nil:
			log.Info().Int("attempt", del.AttemptCount).Msg("alert delivered")
			return nil
		case errors.Is(sendErr, channel.ErrUnknownChannel):
			log.Error().Err(sendErr).Msg("delivery failed: channel not registered")
			return nil
		case n == d.cfg.MaxAttempts:
			log.Warn().Err(sendErr).Int("attempt", del.AttemptCount).Msg("delivery failed; attempts exhausted")
			return nil
		}

		log.Debug().Err(sendErr).Int("attempt", del.AttemptCount).Msg("delivery attempt failed; retrying")
		if err := d.sleep(ctx, d.Backoff(n)); err != nil {
			return d.abandon(ctx, del, err)
		}
	}
	return nil
}

// abandon marks del failed after ctx was cancelled mid-backoff.
func (d *Dispatcher) abandon(ctx context.Context, del *Delivery, cause error) error {
	del.Status = StatusFailed
	msg := "abandoned: " + cause.Error()
	del.ErrorMessage = &msg
	// The request context is gone; persist the final state without it.
	bg := context.WithoutCancel(ctx)
	a := &Attempt{Attempt: del.AttemptCount, Status: StatusFailed, ErrorMessage: &msg, AttemptedAt: d.now().UTC()}
	if err := d.repo.RecordAttempt(bg, del, a); err != nil {
		return fmt.Errorf("record abandoned delivery: %w", err)
	}
	return nil
}

// Redispatch retries one failed delivery with a fresh attempt budget.
func (d *Dispatcher) Redispatch(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	return d.redispatch(ctx, id, time.Time{})
}

// redispatch claims the delivery before sending, so a manual retry and a
// sweep never both run attempts on the same row. A zero staleBefore claims
// failed rows only.
func (d *Dispatcher) redispatch(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*Delivery, error) {
	del, err := d.repo.Claim(ctx, id, staleBefore)
	if errors.Is(err, ErrNotFailed) {
		current, getErr := d.repo.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrNotFailed
	}
	if err != nil {
		return nil, err
	}
	inst, err := d.instances.Get(ctx, del.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("load alert %s: %w", del.InstanceID, err)
	}
	if err := d.attempt(ctx, del, BuildMessage(inst, del.RecipientID)); err != nil {
		return nil, err
	}
	return del, nil
}

// RedispatchFailed retries up to limit deliveries that have made fewer
// than maxTotalAttempts attempts and are failed or stuck in pending. It
// returns how many were sent.
func (d *Dispatcher) RedispatchFailed(ctx context.Context, maxTotalAttempts, limit int) (int, error) {
	staleBefore := d.now().Add(-d.cfg.StaleAfter)
	failed, err := d.repo.ListRetryable(ctx, maxTotalAttempts, staleBefore, limit)
	if err != nil {
		return 0, fmt.Errorf("list retryable deliveries: %w", err)
	}
	sent := 0
	for _, f := range failed {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		del, err := d.redispatch(ctx, f.ID, staleBefore)
		if errors.Is(err, ErrNotFailed) {
			// Claimed by a concurrent retry.
			continue
		}
		if err != nil {
			d.logger.Warn().Err(err).Str("delivery_id", f.ID.String()).Msg("redispatch failed")
			continue
		}
		if del.IsSent() {
			sent++
		}
	}
	return sent, nil
}

func (d *Dispatcher) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*Delivery, error) {
	return d.repo.ListByInstance(ctx, instanceID)
}

func (d *Dispatcher) ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]*Attempt, error) {
	if _, err := d.repo.GetByID(ctx, deliveryID); err != nil {
		return nil, err
	}
	return d.repo.ListAttempts(ctx, deliveryID)
}

// BuildMessage renders inst for one recipient.
func BuildMessage(inst *alert.Instance, recipient uuid.UUID) channel.Message {
	p := inst.Payload
	title := p.RuleName
	if title == "" {
		title = p.Type
	}
	if title == "" {
		title = "Patient alert"
	}

	var body strings.Builder
	switch p.Origin {
	case alert.OriginRule:
		fmt.Fprintf(&body, "Rule %q matched for patient %s.", title, inst.PatientID)
	default:
		body.WriteString("A patient entry was flagged")
		if p.Type != "" {
			fmt.Fprintf(&body, " as %s", p.Type)
		}
		body.WriteString(".")
		if len(p.Keywords) > 0 {
			fmt.Fprintf(&body, " Keywords: %s.", strings.Join(p.Keywords, ", "))
		}
	}

	return channel.Message{
		AlertID:        inst.ID,
		PatientID:      inst.PatientID,
		RecipientID:    recipient,
		Origin:         string(p.Origin),
		Level:          string(p.Level),
		Type:           p.Type,
		Title:          title,
		Body:           body.String(),
		Recommendation: p.Recommendation,
		TriggeredAt:    inst.TriggeredAt,
	}
}
