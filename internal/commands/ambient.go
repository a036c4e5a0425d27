package commands

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chesster/internal/deadline"
	"chesster/internal/league"
	"chesster/internal/template"
	kit "chesster/internal/transport"
	"chesster/pkg/logx"
)

// Ambient patterns. League channels carry free chat too, so anything that
// does not match a pairing-shaped line is ignored silently.
var (
	resultRe   = regexp.MustCompile(`(?i)^\s*@?(\S+?)\s+vs\.?\s+@?(\S+?)\s*[:,]?\s+(1-0|0-1|1/2-1/2)\s*$`)
	gamelinkRe = regexp.MustCompile(`(?i)^\s*@?(\S+?)\s+vs\.?\s+@?(\S+?)\s*[:,]?\s+(https://lichess\.org/\S+)\s*$`)
	scheduleRe = regexp.MustCompile(`(?i)^\s*@?(\S+?)\s+vs\.?\s+@?(\S+?)\s*[:,]?\s+(.+)$`)
)

// handleAmbient inspects a message in a mapped league channel. Most
// specific pattern first: a posted result, then a game link, then a
// proposed schedule time.
func (h *Handler) handleAmbient(ctx context.Context, lg league.League, msg *kit.Message) error {
	if m := resultRe.FindStringSubmatch(msg.Text); m != nil {
		return h.ambientResult(ctx, lg, msg, m[1], m[2], m[3])
	}
	if m := gamelinkRe.FindStringSubmatch(msg.Text); m != nil {
		return h.ambientGamelink(ctx, lg, msg, m[1], m[2], m[3])
	}
	if m := scheduleRe.FindStringSubmatch(msg.Text); m != nil {
		return h.ambientSchedule(ctx, lg, msg, m[1], m[2], strings.TrimSpace(m[3]))
	}
	return nil
}

func (h *Handler) ambientSchedule(ctx context.Context, lg league.League, msg *kit.Message, white, black, rawTime string) error {
	verdict := lg.Classify(h.now(), rawTime)

	switch verdict.Tier {
	case deadline.Late, deadline.Invalid:
		// Rejection: relay the league's canonical message, publish nothing.
		return h.reply(ctx, msg, verdict.Message)
	}

	confirm := fmt.Sprintf("%s vs %s scheduled for %s UTC.", white, black, verdict.Proposed.Format("2006-01-02 15:04"))
	if verdict.Tier == deadline.Warning {
		confirm += "\n" + verdict.Message
	}
	if err := h.reply(ctx, msg, confirm); err != nil {
		return err
	}

	h.publishAmbient(ctx, TopicGameScheduled, template.Context{
		"white":      map[string]any{"name": white},
		"black":      map[string]any{"name": black},
		"leagueName": lg.Name,
		"result":     map[string]any{"date": verdict.Proposed},
	})
	return nil
}

func (h *Handler) ambientResult(ctx context.Context, lg league.League, msg *kit.Message, white, black, result string) error {
	h.publishAmbient(ctx, TopicGameOver, template.Context{
		"white":      map[string]any{"name": white},
		"black":      map[string]any{"name": black},
		"leagueName": lg.Name,
		"result":     map[string]any{"result": result},
	})
	return nil
}

func (h *Handler) ambientGamelink(ctx context.Context, lg league.League, msg *kit.Message, white, black, link string) error {
	h.publishAmbient(ctx, TopicGameStarts, template.Context{
		"white":      map[string]any{"name": white},
		"black":      map[string]any{"name": black},
		"leagueName": lg.Name,
		"result":     map[string]any{"gamelink": link},
	})
	return nil
}

// publishAmbient fans the event out. Per-subscriber failures live in the
// outcome list and were already logged by the bus; a publish-level failure
// (unbound topic, malformed context) is an operator problem, not something
// to relay into the league channel.
func (h *Handler) publishAmbient(ctx context.Context, topic string, evctx template.Context) {
	if _, err := h.bus.Publish(ctx, topic, evctx); err != nil {
		h.log.Error("ambient publish failed", logx.String("topic", topic), logx.Err(err))
	}
}
