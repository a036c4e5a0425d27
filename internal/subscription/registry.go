// Package subscription tracks which players want to hear about which
// league events.
//
// State is held in memory with reader/writer locking: command handlers
// mutate, publish takes read-side snapshots. An optional store makes the
// registry durable with write-through semantics.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"chesster/pkg/logx"
)

// Subscription is one unit of subscriber interest. League empty means
// "every league".
type Subscription struct {
	Subscriber string
	Topic      string
	League     string
}

func (s Subscription) String() string {
	if s.League == "" {
		return fmt.Sprintf("%s (all leagues)", s.Topic)
	}
	return fmt.Sprintf("%s in %s", s.Topic, s.League)
}

// Subscriber is directory data needed to deliver and localize: where to DM
// the player and how far their clock sits from UTC.
type Subscriber struct {
	ID            string
	ChatID        int64
	OffsetMinutes int
}

// Store is the persistence surface the registry writes through to.
// A nil Store keeps the registry memory-only.
type Store interface {
	PutSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscriber(ctx context.Context, subscriber string) error
	PutSubscriber(ctx context.Context, s Subscriber) error
}

type Registry struct {
	mu sync.RWMutex
	// subs preserves registration order; dedup is enforced on insert.
	subs        []Subscription
	subscribers map[string]Subscriber

	store Store
	log   logx.Logger
}

func NewRegistry(store Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		subscribers: map[string]Subscriber{},
		store:       store,
		log:         log,
	}
}

// Restore seeds the registry from persisted state. Meant for startup,
// before any traffic; it does not write back to the store.
func (r *Registry) Restore(subs []Subscription, subscribers []Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range subs {
		if !r.containsLocked(s) {
			r.subs = append(r.subs, s)
		}
	}
	for _, s := range subscribers {
		r.subscribers[s.ID] = s
	}
}

// Subscribe adds one subscription. Re-adding an existing triple is a no-op;
// the bool reports whether the subscription was new.
func (r *Registry) Subscribe(ctx context.Context, sub Subscription) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.containsLocked(sub) {
		return false, nil
	}
	if r.store != nil {
		if err := r.store.PutSubscription(ctx, sub); err != nil {
			return false, fmt.Errorf("persist subscription: %w", err)
		}
	}
	r.subs = append(r.subs, sub)
	r.log.Debug("subscribed",
		logx.String("subscriber", sub.Subscriber),
		logx.String("topic", sub.Topic),
		logx.String("league", sub.League))
	return true, nil
}

// Remove deletes one subscription; reports whether it existed.
func (r *Registry) Remove(ctx context.Context, sub Subscription) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, s := range r.subs {
		if s == sub {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	if r.store != nil {
		if err := r.store.DeleteSubscription(ctx, sub); err != nil {
			return false, fmt.Errorf("remove subscription: %w", err)
		}
	}
	r.subs = append(r.subs[:idx], r.subs[idx+1:]...)
	return true, nil
}

// UnsubscribeAll drops every subscription owned by the subscriber and
// returns how many were removed.
func (r *Registry) UnsubscribeAll(ctx context.Context, subscriber string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteSubscriber(ctx, subscriber); err != nil {
			return 0, fmt.Errorf("remove subscriptions: %w", err)
		}
	}

	kept := r.subs[:0]
	removed := 0
	for _, s := range r.subs {
		if s.Subscriber == subscriber {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	r.subs = kept
	if removed > 0 {
		r.log.Debug("unsubscribed all",
			logx.String("subscriber", subscriber),
			logx.Int("removed", removed))
	}
	return removed, nil
}

// List returns the subscriber's active subscriptions in registration order.
func (r *Registry) List(subscriber string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for _, s := range r.subs {
		if s.Subscriber == subscriber {
			out = append(out, s)
		}
	}
	return out
}

// Matching snapshots the subscriptions interested in (topic, league):
// league filter unset or equal to the event's league. The returned slice is
// private to the caller; publish works off it without holding locks.
func (r *Registry) Matching(topic, league string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for _, s := range r.subs {
		if s.Topic != topic {
			continue
		}
		if s.League != "" && s.League != league {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SetSubscriber upserts directory data for a subscriber.
func (r *Registry) SetSubscriber(ctx context.Context, s Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		if err := r.store.PutSubscriber(ctx, s); err != nil {
			return fmt.Errorf("persist subscriber: %w", err)
		}
	}
	r.subscribers[s.ID] = s
	return nil
}

// SetOffset records the subscriber's UTC offset, keeping any known chat id.
func (r *Registry) SetOffset(ctx context.Context, subscriber string, offsetMinutes int) error {
	r.mu.RLock()
	s, ok := r.subscribers[subscriber]
	r.mu.RUnlock()
	if !ok {
		s = Subscriber{ID: subscriber}
	}
	s.OffsetMinutes = offsetMinutes
	return r.SetSubscriber(ctx, s)
}

// Resolve looks up directory data for a subscriber. Unknown subscribers
// resolve to a zero-offset entry with no chat id; the delivery adapter
// decides whether that is deliverable.
func (r *Registry) Resolve(subscriber string) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subscribers[subscriber]
	if !ok {
		return Subscriber{ID: subscriber}, false
	}
	return s, true
}

func (r *Registry) containsLocked(sub Subscription) bool {
	for _, s := range r.subs {
		if s == sub {
			return true
		}
	}
	return false
}
