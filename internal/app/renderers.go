package app

import (
	"context"
	"fmt"

	"chesster/internal/commands"
	"chesster/internal/eventbus"
	"chesster/internal/services/reminder"
	"chesster/internal/subscription"
	"chesster/internal/template"
	kit "chesster/internal/transport"
)

// Canonical notification texts, one per topic. The scheduled text is the
// only one localized per subscriber; the rest render once per event shape.
const (
	textGameScheduled = "{white.name} vs {black.name} in {leagueName} has been scheduled for {realDate}, which is {yourDate} for you."
	textGameStarts    = "{white.name} vs {black.name} in {leagueName} has started: {result.gamelink}"
	textGameOver      = "{white.name} vs {black.name} in {leagueName} is over. The result is {result.result}."
	textDeadline      = "The {leagueName} scheduling deadline is approaching: {deadline}. Games must be scheduled before then."
)

func registerRenderers(bus *eventbus.Bus) {
	bus.Register(commands.TopicGameScheduled, eventbus.Binding{
		Required: []string{"white.name", "black.name", "leagueName", "result.date"},
		Render: func(to subscription.Subscriber, evctx template.Context) (string, error) {
			local, err := template.LocalizeDate(evctx, "result.date", to.OffsetMinutes)
			if err != nil {
				return "", err
			}
			return template.Expand(textGameScheduled, local)
		},
	})
	bus.Register(commands.TopicGameStarts, eventbus.Binding{
		Required: []string{"white.name", "black.name", "leagueName", "result.gamelink"},
		Render:   staticRenderer(textGameStarts),
	})
	bus.Register(commands.TopicGameOver, eventbus.Binding{
		Required: []string{"white.name", "black.name", "leagueName", "result.result"},
		Render:   staticRenderer(textGameOver),
	})
	bus.Register(reminder.Topic, eventbus.Binding{
		Required: []string{"leagueName", "deadline"},
		Render:   staticRenderer(textDeadline),
	})
}

func staticRenderer(text string) eventbus.Renderer {
	return func(_ subscription.Subscriber, evctx template.Context) (string, error) {
		return template.Expand(text, evctx)
	}
}

// directDelivery sends each notification to the subscriber's private chat.
// A subscriber with no recorded chat never messaged the bot directly, so
// there is nowhere to deliver to.
func directDelivery(ad kit.Adapter) eventbus.DeliverFunc {
	return func(ctx context.Context, to subscription.Subscriber, text string) error {
		if to.ChatID == 0 {
			return fmt.Errorf("no direct chat known for %s; they must message the bot first", to.ID)
		}
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: to.ChatID}, text, nil)
		return err
	}
}
