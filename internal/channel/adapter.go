// Package channel defines the adapter contract shared by every publishing
// destination and the driver that moves a job through its state machine.
package channel

import (
	"context"
	"fmt"
	"sort"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// Adapter publishes artifacts to one channel.
type Adapter interface {
	Channel() domain.Channel
	Schema() Schema
	// Begin authenticates for this invocation only and returns the release
	// that carries the upload and processing steps.
	Begin(ctx context.Context, sess *Session) (Release, error)
}

// Release is one authenticated publishing attempt.
type Release interface {
	Upload(ctx context.Context, sess *Session) error
	Process(ctx context.Context, sess *Session) error
	// Locator is the result URL or identifier, empty when the channel has none.
	Locator() string
}

// Registry maps channels to adapters.
type Registry struct {
	adapters map[domain.Channel]Adapter
}

// NewRegistry indexes adapters by channel, rejecting unknown and duplicate channels.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[domain.Channel]Adapter, len(adapters))}
	for _, a := range adapters {
		ch := a.Channel()
		if !ch.Valid() {
			return nil, fmt.Errorf("unknown channel %q", ch)
		}
		if _, dup := r.adapters[ch]; dup {
			return nil, fmt.Errorf("duplicate adapter for channel %q", ch)
		}
		r.adapters[ch] = a
	}
	return r, nil
}

// Get returns the adapter for ch.
func (r *Registry) Get(ch domain.Channel) (Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}

// Channels lists registered channels in a stable order.
func (r *Registry) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
