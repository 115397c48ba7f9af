// Package channel holds the outbound delivery adapters. Each adapter
// wraps one provider endpoint behind a shared Send contract; the
// dispatcher never knows provider specifics.
package channel

import (
	"context"
	"errors"

	"anchorwatch/internal/domain"
)

var (
	ErrDisabled  = errors.New("channel disabled")
	ErrNoAddress = errors.New("recipient has no address for channel")
)

// Message is one rendered alert bound for one recipient address.
type Message struct {
	AlertID   string
	Title     string
	Body      string
	Priority  domain.Priority
	Recipient string
}

// Result reports a successful provider hand-off.
type Result struct {
	MessageID string
}

// Adapter sends one message on one channel. Implementations rate-limit
// internally and must honor ctx cancellation.
type Adapter interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg Message) (Result, error)
}

// Registry resolves adapters by channel. Unconfigured channels resolve
// to nothing; the dispatcher records that as a failed outcome rather
// than erroring the whole job.
type Registry struct {
	adapters map[domain.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Channel]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Channel()] = a
	}
	return r
}

func (r *Registry) Get(ch domain.Channel) (Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}

// Channels lists the registered channels, for health reporting.
func (r *Registry) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		out = append(out, ch)
	}
	return out
}
