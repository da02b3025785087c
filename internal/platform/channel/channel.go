// Package channel holds the delivery channels alerts are sent through and
// the registry the dispatcher looks them up in.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	InApp   = "in_app"
	Email   = "email"
	Webhook = "webhook"
	Push    = "push"
)

// ErrUnknownChannel is returned by Registry.Send for a name with no
// registered implementation.
var ErrUnknownChannel = errors.New("unknown delivery channel")

// Message is what a channel delivers to one recipient.
type Message struct {
	AlertID        uuid.UUID `json:"alert_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	RecipientID    uuid.UUID `json:"recipient_id"`
	Origin         string    `json:"origin"`
	Level          string    `json:"level,omitempty"`
	Type           string    `json:"type,omitempty"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Recommendation string    `json:"recommendation,omitempty"`
	TriggeredAt    time.Time `json:"triggered_at"`
}

// Channel sends a message to one recipient. A nil error means the channel
// accepted the message.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Registry maps channel names to implementations.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel)}
	for _, ch := range channels {
		r.Register(ch)
	}
	return r
}

func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
}

func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Names lists registered channels in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Send looks up name and sends msg through it.
func (r *Registry) Send(ctx context.Context, name string, msg Message) error {
	ch, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return ch.Send(ctx, msg)
}

// subjectLine renders the one-line summary used by email and inbox rows.
func subjectLine(msg Message) string {
	level := strings.ToUpper(msg.Level)
	if level == "" {
		level = "ALERT"
	}
	return fmt.Sprintf("[%s] %s", level, msg.Title)
}
