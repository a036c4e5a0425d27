// Package commands routes inbound chat messages: subscription management
// in direct messages, ambient scheduling and result traffic in the mapped
// league channels.
package commands

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chesster/internal/eventbus"
	"chesster/internal/league"
	"chesster/internal/subscription"
	kit "chesster/internal/transport"
	"chesster/pkg/logx"
)

// Topics the subscription commands accept. The ambient handlers publish the
// first three; the reminder service publishes the last.
const (
	TopicGameScheduled      = "a-game-is-scheduled"
	TopicGameStarts         = "a-game-starts"
	TopicGameOver           = "a-game-is-over"
	TopicDeadlineApproaches = "the-deadline-approaches"
)

func KnownTopics() []string {
	return []string{TopicGameScheduled, TopicGameStarts, TopicGameOver, TopicDeadlineApproaches}
}

var (
	tellRe     = regexp.MustCompile(`^tell\s+me\s+when\s+(\S+)(?:\s+in\s+(.+?))?\s*$`)
	removeRe   = regexp.MustCompile(`^subscription\s+remove\s+(\d+)$`)
	timezoneRe = regexp.MustCompile(`^timezone\s+([+-])(\d{1,2}):?(\d{2})$`)
)

type Handler struct {
	leagues  league.Set
	channels map[int64]string // chat id -> league name
	reg      *subscription.Registry
	bus      *eventbus.Bus
	adapter  kit.Adapter
	log      logx.Logger

	// now is injectable so classification tests are deterministic.
	now func() time.Time
}

func NewHandler(leagues league.Set, channels map[int64]string, reg *subscription.Registry, bus *eventbus.Bus, adapter kit.Adapter, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{
		leagues:  leagues,
		channels: channels,
		reg:      reg,
		bus:      bus,
		adapter:  adapter,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the handler's notion of now. Tests only.
func (h *Handler) SetClock(now func() time.Time) { h.now = now }

// Handle routes one inbound message. Errors are already surfaced to the
// user/chat; the return value is for logging at the call site.
func (h *Handler) Handle(ctx context.Context, msg *kit.Message) error {
	if msg == nil {
		return nil
	}
	if msg.IsGroup {
		if name, ok := h.channels[msg.ChatID]; ok {
			if lg, found := h.leagues.Get(name); found {
				return h.handleAmbient(ctx, lg, msg)
			}
		}
		return nil
	}
	return h.handleDirect(ctx, msg)
}

func (h *Handler) handleDirect(ctx context.Context, msg *kit.Message) error {
	text := strings.TrimSpace(msg.Text)
	lower := strings.ToLower(text)

	switch {
	case lower == "subscription help" || lower == "help":
		return h.reply(ctx, msg, helpText())
	case lower == "subscription list":
		return h.listSubscriptions(ctx, msg)
	case lower == "unsubscribe":
		return h.unsubscribeAll(ctx, msg)
	}
	if m := tellRe.FindStringSubmatch(lower); m != nil {
		return h.subscribe(ctx, msg, m[1], strings.TrimSpace(m[2]))
	}
	if m := removeRe.FindStringSubmatch(lower); m != nil {
		return h.removeSubscription(ctx, msg, m[1])
	}
	if m := timezoneRe.FindStringSubmatch(lower); m != nil {
		return h.setTimezone(ctx, msg, m[1], m[2], m[3])
	}

	return h.reply(ctx, msg, "I did not understand that. Say 'subscription help' for the commands I know.")
}

func (h *Handler) subscribe(ctx context.Context, msg *kit.Message, topic, leagueName string) error {
	if !isKnownTopic(topic) {
		return h.reply(ctx, msg, fmt.Sprintf("I don't know the event %q. Events I know: %s.", topic, strings.Join(KnownTopics(), ", ")))
	}
	if leagueName != "" {
		if _, ok := h.leagues.Get(leagueName); !ok {
			return h.reply(ctx, msg, fmt.Sprintf("I don't know the league %q.", leagueName))
		}
	}

	who := subscriberID(msg)
	// Remember where to DM this subscriber; keep any stored tz offset.
	existing, _ := h.reg.Resolve(who)
	existing.ID = who
	existing.ChatID = msg.ChatID
	if err := h.reg.SetSubscriber(ctx, existing); err != nil {
		return h.replyErr(ctx, msg, err)
	}

	added, err := h.reg.Subscribe(ctx, subscription.Subscription{Subscriber: who, Topic: topic, League: leagueName})
	if err != nil {
		return h.replyErr(ctx, msg, err)
	}
	if !added {
		return h.reply(ctx, msg, "You were already subscribed to that event.")
	}
	scope := "all leagues"
	if leagueName != "" {
		scope = leagueName
	}
	return h.reply(ctx, msg, fmt.Sprintf("Done. I will tell you when %s in %s.", topic, scope))
}

func (h *Handler) listSubscriptions(ctx context.Context, msg *kit.Message) error {
	subs := h.reg.List(subscriberID(msg))
	if len(subs) == 0 {
		return h.reply(ctx, msg, "You have no subscriptions.")
	}
	var b strings.Builder
	b.WriteString("Your subscriptions:\n")
	for i, s := range subs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("Remove one with 'subscription remove <number>'.")
	return h.reply(ctx, msg, b.String())
}

func (h *Handler) removeSubscription(ctx context.Context, msg *kit.Message, rawIndex string) error {
	idx, err := strconv.Atoi(rawIndex)
	if err != nil || idx < 1 {
		return h.reply(ctx, msg, "That is not a subscription number from 'subscription list'.")
	}
	subs := h.reg.List(subscriberID(msg))
	if idx > len(subs) {
		return h.reply(ctx, msg, "That is not a subscription number from 'subscription list'.")
	}
	if _, err := h.reg.Remove(ctx, subs[idx-1]); err != nil {
		return h.replyErr(ctx, msg, err)
	}
	return h.reply(ctx, msg, fmt.Sprintf("Removed: %s.", subs[idx-1]))
}

func (h *Handler) unsubscribeAll(ctx context.Context, msg *kit.Message) error {
	removed, err := h.reg.UnsubscribeAll(ctx, subscriberID(msg))
	if err != nil {
		return h.replyErr(ctx, msg, err)
	}
	if removed == 0 {
		return h.reply(ctx, msg, "You had no subscriptions.")
	}
	return h.reply(ctx, msg, fmt.Sprintf("Removed all %d of your subscriptions.", removed))
}

func (h *Handler) setTimezone(ctx context.Context, msg *kit.Message, sign, hh, mm string) error {
	hours, _ := strconv.Atoi(hh)
	minutes, _ := strconv.Atoi(mm)
	if hours > 14 || minutes > 59 {
		return h.reply(ctx, msg, "That is not a UTC offset I can use. Try something like 'timezone +05:30'.")
	}
	offset := hours*60 + minutes
	if sign == "-" {
		offset = -offset
	}
	if err := h.reg.SetOffset(ctx, subscriberID(msg), offset); err != nil {
		return h.replyErr(ctx, msg, err)
	}
	return h.reply(ctx, msg, fmt.Sprintf("Noted. Scheduled times will be shown at UTC%s%s:%s for you.", sign, hh, mm))
}

func (h *Handler) reply(ctx context.Context, msg *kit.Message, text string) error {
	_, err := h.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, text, &kit.SendOptions{DisablePreview: true})
	if err != nil {
		h.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
	return err
}

func (h *Handler) replyErr(ctx context.Context, msg *kit.Message, err error) error {
	h.log.Error("command failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	_ = h.reply(ctx, msg, "I'm sorry, but an error occurred processing this command.")
	return err
}

func helpText() string {
	return "I know these commands (DM only):\n" +
		"  tell me when <event> [in <league>]  subscribe to an event\n" +
		"  subscription list                   list your subscriptions\n" +
		"  subscription remove <number>        remove one subscription\n" +
		"  unsubscribe                         remove all your subscriptions\n" +
		"  timezone <+/-HH:MM>                 set your UTC offset for localized times\n" +
		"Events: " + strings.Join(KnownTopics(), ", ")
}

func isKnownTopic(topic string) bool {
	for _, t := range KnownTopics() {
		if t == topic {
			return true
		}
	}
	return false
}

// subscriberID prefers the stable username; falls back to the numeric id
// for accounts without one.
func subscriberID(msg *kit.Message) string {
	if msg.FromUsername != "" {
		return strings.ToLower(msg.FromUsername)
	}
	return strconv.FormatInt(msg.FromID, 10)
}
