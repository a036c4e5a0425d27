// Package reminder publishes a weekly "the deadline approaches" event per
// league, fired at the start of the league's warning window.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chesster/internal/deadline"
	"chesster/internal/eventbus"
	"chesster/internal/league"
	"chesster/internal/template"
	"chesster/pkg/logx"
)

// Topic is the event published when a league's warning window opens.
const Topic = "the-deadline-approaches"

type Config struct {
	Enabled bool
}

// Publisher is the event bus surface the reminder needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, evctx template.Context) ([]eventbus.Outcome, error)
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	leagues league.Set
	pub     Publisher
	log     logx.Logger

	c *cron.Cron
}

func New(cfg Config, leagues league.Set, pub Publisher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, leagues: leagues, pub: pub, log: log}
}

// Start registers one weekly cron entry per league and starts the cron
// runner in UTC (deadline rules are defined in UTC).
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		s.log.Debug("reminders disabled")
		return nil
	}
	if s.c != nil {
		return nil
	}

	s.c = cron.New(cron.WithLocation(time.UTC))
	for name, lg := range s.leagues {
		spec := Spec(lg.Rule)
		name, lg := name, lg
		if _, err := s.c.AddFunc(spec, func() { s.fire(ctx, name, lg) }); err != nil {
			s.c = nil
			return fmt.Errorf("reminder cron for %s (%q): %w", name, spec, err)
		}
		s.log.Info("reminder scheduled", logx.String("league", name), logx.String("spec", spec))
	}
	s.c.Start()
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("reminders stopped")
}

func (s *Service) fire(ctx context.Context, name string, lg league.League) {
	now := time.Now().UTC()
	evctx := template.Context{
		"leagueName": name,
		"deadline":   deadline.Upcoming(lg.Rule, now),
	}
	outcomes, err := s.pub.Publish(ctx, Topic, evctx)
	if err != nil {
		s.log.Error("deadline reminder publish failed", logx.String("league", name), logx.Err(err))
		return
	}
	s.log.Info("deadline reminder published",
		logx.String("league", name),
		logx.Int("notified", len(outcomes)))
}

// Spec derives the weekly cron expression for the start of the rule's
// warning window (the cutoff itself when warnings are disabled).
//
// Standard cron weekdays are Sunday-based (0..6); rules are ISO (1..7).
func Spec(r deadline.Rule) string {
	minutes := ((r.ISOWeekday-1)*24+r.Hour)*60 + r.Minute
	minutes -= r.WarningHours * 60
	const week = 7 * 24 * 60
	minutes = ((minutes % week) + week) % week

	day := minutes / (24 * 60) // 0 = Monday
	rem := minutes % (24 * 60)
	cronDOW := (day + 1) % 7 // 0 = Sunday
	return fmt.Sprintf("%d %d * * %d", rem%60, rem/60, cronDOW)
}
