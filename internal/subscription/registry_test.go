package subscription

import (
	"context"
	"errors"
	"testing"

	"chesster/pkg/logx"
)

func TestSubscribeIdempotent(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, logx.Nop())
	sub := Subscription{Subscriber: "U1", Topic: "a-game-starts", League: "45+45"}

	added, err := r.Subscribe(context.Background(), sub)
	if err != nil || !added {
		t.Fatalf("first Subscribe = (%v, %v), want (true, nil)", added, err)
	}
	added, err = r.Subscribe(context.Background(), sub)
	if err != nil || added {
		t.Fatalf("second Subscribe = (%v, %v), want (false, nil)", added, err)
	}
	if got := r.List("U1"); len(got) != 1 {
		t.Fatalf("List = %v, want exactly one subscription", got)
	}
}

func TestListRegistrationOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, logx.Nop())
	want := []Subscription{
		{Subscriber: "U1", Topic: "a-game-starts"},
		{Subscriber: "U1", Topic: "a-game-is-over", League: "45+45"},
		{Subscriber: "U1", Topic: "a-game-is-scheduled", League: "lonewolf"},
	}
	for _, s := range want {
		if _, err := r.Subscribe(context.Background(), s); err != nil {
			t.Fatalf("Subscribe error: %v", err)
		}
	}
	// Another subscriber interleaved; must not show up in U1's list.
	if _, err := r.Subscribe(context.Background(), Subscription{Subscriber: "U2", Topic: "a-game-starts"}); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	got := r.List("U1")
	if len(got) != len(want) {
		t.Fatalf("List returned %d subscriptions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestUnsubscribeAll(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, logx.Nop())
	for _, s := range []Subscription{
		{Subscriber: "U1", Topic: "a-game-starts"},
		{Subscriber: "U1", Topic: "a-game-is-over"},
		{Subscriber: "U2", Topic: "a-game-starts"},
	} {
		if _, err := r.Subscribe(context.Background(), s); err != nil {
			t.Fatalf("Subscribe error: %v", err)
		}
	}

	removed, err := r.UnsubscribeAll(context.Background(), "U1")
	if err != nil {
		t.Fatalf("UnsubscribeAll error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("UnsubscribeAll removed %d, want 2", removed)
	}
	if got := r.List("U1"); len(got) != 0 {
		t.Fatalf("List after UnsubscribeAll = %v, want empty", got)
	}
	if got := r.Matching("a-game-starts", ""); len(got) != 1 || got[0].Subscriber != "U2" {
		t.Fatalf("Matching after UnsubscribeAll = %v, want only U2", got)
	}
}

func TestMatchingLeagueFilter(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, logx.Nop())
	for _, s := range []Subscription{
		{Subscriber: "any", Topic: "a-game-starts"},
		{Subscriber: "team", Topic: "a-game-starts", League: "45+45"},
		{Subscriber: "wolf", Topic: "a-game-starts", League: "lonewolf"},
		{Subscriber: "other", Topic: "a-game-is-over", League: "45+45"},
	} {
		if _, err := r.Subscribe(context.Background(), s); err != nil {
			t.Fatalf("Subscribe error: %v", err)
		}
	}

	got := r.Matching("a-game-starts", "45+45")
	if len(got) != 2 {
		t.Fatalf("Matching = %v, want 2 entries", got)
	}
	if got[0].Subscriber != "any" || got[1].Subscriber != "team" {
		t.Fatalf("Matching order = %v, want [any team]", got)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, logx.Nop())
	sub := Subscription{Subscriber: "U1", Topic: "a-game-starts"}
	if _, err := r.Subscribe(context.Background(), sub); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	ok, err := r.Remove(context.Background(), sub)
	if err != nil || !ok {
		t.Fatalf("Remove = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = r.Remove(context.Background(), sub)
	if err != nil || ok {
		t.Fatalf("second Remove = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestResolveAndOffsets(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, logx.Nop())
	if err := r.SetSubscriber(context.Background(), Subscriber{ID: "U1", ChatID: 42}); err != nil {
		t.Fatalf("SetSubscriber error: %v", err)
	}
	if err := r.SetOffset(context.Background(), "U1", -300); err != nil {
		t.Fatalf("SetOffset error: %v", err)
	}

	s, ok := r.Resolve("U1")
	if !ok || s.ChatID != 42 || s.OffsetMinutes != -300 {
		t.Fatalf("Resolve = (%+v, %v)", s, ok)
	}

	s, ok = r.Resolve("stranger")
	if ok || s.ID != "stranger" || s.OffsetMinutes != 0 {
		t.Fatalf("Resolve unknown = (%+v, %v)", s, ok)
	}
}

type failingStore struct{ err error }

func (f failingStore) PutSubscription(context.Context, Subscription) error  { return f.err }
func (f failingStore) DeleteSubscription(context.Context, Subscription) error { return f.err }
func (f failingStore) DeleteSubscriber(context.Context, string) error       { return f.err }
func (f failingStore) PutSubscriber(context.Context, Subscriber) error      { return f.err }

func TestSubscribeStoreFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk gone")
	r := NewRegistry(failingStore{err: boom}, logx.Nop())

	_, err := r.Subscribe(context.Background(), Subscription{Subscriber: "U1", Topic: "a-game-starts"})
	if !errors.Is(err, boom) {
		t.Fatalf("Subscribe error = %v, want wrapped store error", err)
	}
	// Failed write-through must not leave in-memory state behind.
	if got := r.List("U1"); len(got) != 0 {
		t.Fatalf("List after failed Subscribe = %v, want empty", got)
	}
}
