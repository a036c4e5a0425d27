// Package eventbus binds league event topics to notification renderers and
// drives fan-out delivery to matching subscribers.
//
// Contract:
//   - Exactly one renderer per topic; rebinding overwrites.
//   - Publish fails fast when no renderer is bound or the event context is
//     missing a declared field. Otherwise it attempts every matched
//     subscriber exactly once and aggregates the per-subscriber results.
//   - One subscriber's render or delivery failure never aborts the rest.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"chesster/internal/subscription"
	"chesster/internal/template"
	"chesster/pkg/logx"
)

// ErrUnknownTopic fails a publish for which no renderer is bound.
var ErrUnknownTopic = errors.New("unknown topic")

// Renderer produces one subscriber's notification text from the canonical
// event context. Anything per-subscriber (localized dates) must go onto a
// clone; the canonical context is shared across the whole fan-out.
type Renderer func(to subscription.Subscriber, evctx template.Context) (string, error)

// Binding pairs a renderer with the context fields it references. Required
// paths are validated eagerly at publish time so a malformed event is
// rejected once, before fan-out, instead of failing per subscriber.
type Binding struct {
	Required []string
	Render   Renderer
}

// Subscriptions is the read side of the subscription registry the bus
// snapshots during Publish.
type Subscriptions interface {
	Matching(topic, league string) []subscription.Subscription
	Resolve(subscriber string) (subscription.Subscriber, bool)
}

// Deliverer hands rendered text to the chat transport. At-most-one attempt
// per call; retries are not this bus's business.
type Deliverer interface {
	Deliver(ctx context.Context, to subscription.Subscriber, text string) error
}

// DeliverFunc adapts a function to the Deliverer interface.
type DeliverFunc func(ctx context.Context, to subscription.Subscriber, text string) error

func (f DeliverFunc) Deliver(ctx context.Context, to subscription.Subscriber, text string) error {
	return f(ctx, to, text)
}

// Outcome is the per-subscriber result of one publish. Err is nil when the
// notification was rendered and handed to the deliverer successfully.
type Outcome struct {
	EventID    string
	Subscriber string
	Text       string
	Err        error
}

type Config struct {
	// RatePerSec bounds outbound deliveries across one publish.
	// Zero means the default of 10.
	RatePerSec int
}

type Bus struct {
	cfg     Config
	subs    Subscriptions
	deliver Deliverer
	limiter *rate.Limiter
	log     logx.Logger

	mu       sync.RWMutex
	bindings map[string]Binding
}

func New(cfg Config, subs Subscriptions, deliver Deliverer, log logx.Logger) *Bus {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bus{
		cfg:      cfg,
		subs:     subs,
		deliver:  deliver,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		log:      log,
		bindings: map[string]Binding{},
	}
}

// Register binds a renderer to a topic, overwriting any prior binding.
func (b *Bus) Register(topic string, binding Binding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.bindings[topic]; exists {
		b.log.Warn("topic renderer rebound", logx.String("topic", topic))
	}
	b.bindings[topic] = binding
}

// Topics lists the currently bound topics.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.bindings))
	for t := range b.bindings {
		out = append(out, t)
	}
	return out
}

// ValidateTopics confirms a renderer is bound for every topic the app will
// ever publish. Called once at startup so a missing binding fails fast
// instead of at first publish.
func (b *Bus) ValidateTopics(required ...string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range required {
		if _, ok := b.bindings[t]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTopic, t)
		}
	}
	return nil
}

// Publish fans one event out to every matching subscriber.
//
// The subscriber set is snapshotted once at call time; subscriptions added
// or removed mid-flight do not affect this publish. All deliveries are
// launched concurrently (rate-limited) and awaited collectively: the
// returned slice holds exactly one Outcome per matched subscriber, failures
// included. The error return concerns the publish as a whole (unknown
// topic, malformed context), never an individual delivery.
func (b *Bus) Publish(ctx context.Context, topic string, evctx template.Context) ([]Outcome, error) {
	b.mu.RLock()
	binding, ok := b.bindings[topic]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if err := evctx.Require(binding.Required...); err != nil {
		return nil, fmt.Errorf("publish %s: %w", topic, err)
	}

	league, _ := evctx["leagueName"].(string)
	matched := b.subs.Matching(topic, league)
	eventID := uuid.NewString()

	log := b.log.With(logx.String("event_id", eventID), logx.String("topic", topic))
	if len(matched) == 0 {
		log.Debug("publish matched no subscribers", logx.String("league", league))
		return nil, nil
	}

	started := time.Now()
	outcomes := make([]Outcome, len(matched))
	var wg sync.WaitGroup
	for i, sub := range matched {
		wg.Add(1)
		go func(i int, sub subscription.Subscription) {
			defer wg.Done()
			outcomes[i] = b.notifyOne(ctx, log, eventID, binding, sub, evctx)
		}(i, sub)
	}
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	log.Info("publish complete",
		logx.Int("matched", len(matched)),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(started)))
	return outcomes, nil
}

func (b *Bus) notifyOne(ctx context.Context, log logx.Logger, eventID string, binding Binding, sub subscription.Subscription, evctx template.Context) (out Outcome) {
	out = Outcome{EventID: eventID, Subscriber: sub.Subscriber}

	// A panicking renderer must not take the whole fan-out down.
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("renderer panic: %v", r)
			log.Error("renderer panicked",
				logx.String("subscriber", sub.Subscriber),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	if err := b.limiter.Wait(ctx); err != nil {
		out.Err = fmt.Errorf("rate limit wait: %w", err)
		return out
	}

	to, _ := b.subs.Resolve(sub.Subscriber)
	text, err := binding.Render(to, evctx)
	if err != nil {
		out.Err = fmt.Errorf("render: %w", err)
		log.Warn("notification suppressed",
			logx.String("subscriber", sub.Subscriber),
			logx.Err(err))
		return out
	}
	out.Text = text

	if err := b.deliver.Deliver(ctx, to, text); err != nil {
		out.Err = fmt.Errorf("deliver: %w", err)
		log.Warn("delivery failed",
			logx.String("subscriber", sub.Subscriber),
			logx.Err(err))
		return out
	}

	log.Debug("delivered", logx.String("subscriber", sub.Subscriber))
	return out
}
