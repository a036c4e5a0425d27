package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"chesster/internal/deadline"
	"chesster/internal/eventbus"
	"chesster/internal/league"
	"chesster/internal/subscription"
	"chesster/internal/template"
	kit "chesster/internal/transport"
	"chesster/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	ChatID int64
	Text   string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: to.ChatID, Text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Text
}

func (f *fakeAdapter) textsFor(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

const (
	dmChat     = int64(100)
	leagueChat = int64(-1001234)
)

// Sunday 2016-04-17 20:00 UTC; 45+45 cutoff Monday 11:00 UTC.
var fixedNow = time.Date(2016, 4, 17, 20, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *fakeAdapter, *subscription.Registry, *eventbus.Bus) {
	t.Helper()
	adapter := &fakeAdapter{}
	reg := subscription.NewRegistry(nil, logx.Nop())

	deliver := eventbus.DeliverFunc(func(ctx context.Context, to subscription.Subscriber, text string) error {
		_, err := adapter.SendText(ctx, kit.ChatTarget{ChatID: to.ChatID}, text, nil)
		return err
	})
	bus := eventbus.New(eventbus.Config{RatePerSec: 1000}, reg, deliver, logx.Nop())
	bus.Register(TopicGameStarts, eventbus.Binding{
		Required: []string{"white.name", "black.name", "leagueName", "result.gamelink"},
		Render: func(_ subscription.Subscriber, evctx template.Context) (string, error) {
			return template.Expand("{white.name} vs {black.name} in {leagueName} has started: {result.gamelink}", evctx)
		},
	})

	lg := league.League{
		Name:           "45+45",
		Rule:           deadline.Rule{ISOWeekday: 1, Hour: 11, Minute: 0, WarningHours: 1},
		Format:         "MM/DD @ HH:mm",
		WarningMessage: "warning: cutting it close",
		LateMessage:    "late: past the deadline",
	}
	leagues := league.Set{"45+45": lg}
	channels := map[int64]string{leagueChat: "45+45"}

	h := NewHandler(leagues, channels, reg, bus, adapter, logx.Nop())
	h.SetClock(func() time.Time { return fixedNow })
	return h, adapter, reg, bus
}

func dm(text string) *kit.Message {
	return &kit.Message{ChatID: dmChat, FromID: 7, FromUsername: "alice", Text: text}
}

func channelMsg(text string) *kit.Message {
	return &kit.Message{ChatID: leagueChat, FromID: 7, FromUsername: "alice", Text: text, IsGroup: true}
}

func TestTellSubscribes(t *testing.T) {
	t.Parallel()
	h, adapter, reg, _ := newTestHandler(t)

	if err := h.Handle(context.Background(), dm("tell me when a-game-starts in 45+45")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	subs := reg.List("alice")
	if len(subs) != 1 {
		t.Fatalf("List = %v, want one subscription", subs)
	}
	want := subscription.Subscription{Subscriber: "alice", Topic: "a-game-starts", League: "45+45"}
	if subs[0] != want {
		t.Fatalf("subscription = %v, want %v", subs[0], want)
	}
	if !strings.Contains(adapter.lastText(), "Done") {
		t.Fatalf("reply = %q", adapter.lastText())
	}

	// The DM chat becomes the delivery target.
	s, ok := reg.Resolve("alice")
	if !ok || s.ChatID != dmChat {
		t.Fatalf("Resolve = (%+v, %v)", s, ok)
	}
}

func TestTellDuplicateIsNoOp(t *testing.T) {
	t.Parallel()
	h, adapter, reg, _ := newTestHandler(t)

	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), dm("tell me when a-game-starts")); err != nil {
			t.Fatalf("Handle error: %v", err)
		}
	}
	if subs := reg.List("alice"); len(subs) != 1 {
		t.Fatalf("List = %v, want exactly one", subs)
	}
	if !strings.Contains(adapter.lastText(), "already subscribed") {
		t.Fatalf("reply = %q", adapter.lastText())
	}
}

func TestTellRejectsUnknown(t *testing.T) {
	t.Parallel()
	h, adapter, reg, _ := newTestHandler(t)

	if err := h.Handle(context.Background(), dm("tell me when the-cows-come-home")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !strings.Contains(adapter.lastText(), "don't know the event") {
		t.Fatalf("reply = %q", adapter.lastText())
	}

	if err := h.Handle(context.Background(), dm("tell me when a-game-starts in chess960")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !strings.Contains(adapter.lastText(), "don't know the league") {
		t.Fatalf("reply = %q", adapter.lastText())
	}
	if subs := reg.List("alice"); len(subs) != 0 {
		t.Fatalf("List = %v, want none", subs)
	}
}

func TestSubscriptionListAndRemove(t *testing.T) {
	t.Parallel()
	h, adapter, reg, _ := newTestHandler(t)
	ctx := context.Background()

	if err := h.Handle(ctx, dm("tell me when a-game-starts in 45+45")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if err := h.Handle(ctx, dm("tell me when a-game-is-over")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	if err := h.Handle(ctx, dm("subscription list")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	listing := adapter.lastText()
	if !strings.Contains(listing, "1. a-game-starts in 45+45") || !strings.Contains(listing, "2. a-game-is-over (all leagues)") {
		t.Fatalf("listing = %q", listing)
	}

	if err := h.Handle(ctx, dm("subscription remove 1")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	subs := reg.List("alice")
	if len(subs) != 1 || subs[0].Topic != "a-game-is-over" {
		t.Fatalf("after remove: %v", subs)
	}

	if err := h.Handle(ctx, dm("subscription remove 9")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !strings.Contains(adapter.lastText(), "not a subscription number") {
		t.Fatalf("reply = %q", adapter.lastText())
	}
}

func TestUnsubscribeAll(t *testing.T) {
	t.Parallel()
	h, adapter, reg, _ := newTestHandler(t)
	ctx := context.Background()

	for _, cmd := range []string{"tell me when a-game-starts", "tell me when a-game-is-over"} {
		if err := h.Handle(ctx, dm(cmd)); err != nil {
			t.Fatalf("Handle error: %v", err)
		}
	}
	if err := h.Handle(ctx, dm("unsubscribe")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !strings.Contains(adapter.lastText(), "Removed all 2") {
		t.Fatalf("reply = %q", adapter.lastText())
	}
	if subs := reg.List("alice"); len(subs) != 0 {
		t.Fatalf("List = %v, want none", subs)
	}
}

func TestTimezone(t *testing.T) {
	t.Parallel()
	h, adapter, reg, _ := newTestHandler(t)

	if err := h.Handle(context.Background(), dm("timezone -05:00")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	s, _ := reg.Resolve("alice")
	if s.OffsetMinutes != -300 {
		t.Fatalf("OffsetMinutes = %d, want -300", s.OffsetMinutes)
	}
	if !strings.Contains(adapter.lastText(), "UTC-05:00") {
		t.Fatalf("reply = %q", adapter.lastText())
	}

	if err := h.Handle(context.Background(), dm("timezone +99:00")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !strings.Contains(adapter.lastText(), "not a UTC offset") {
		t.Fatalf("reply = %q", adapter.lastText())
	}
}

func TestUnknownDMGetsHelpHint(t *testing.T) {
	t.Parallel()
	h, adapter, _, _ := newTestHandler(t)
	if err := h.Handle(context.Background(), dm("what's the weather")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !strings.Contains(adapter.lastText(), "subscription help") {
		t.Fatalf("reply = %q", adapter.lastText())
	}
}
