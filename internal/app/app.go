// Package app wires the bot together: config, logging, storage, the
// subscription registry, the event bus, the Telegram adapter, the command
// handler and the deadline reminder service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chesster/internal/commands"
	"chesster/internal/config"
	"chesster/internal/eventbus"
	"chesster/internal/league"
	"chesster/internal/services/reminder"
	"chesster/internal/storage"
	"chesster/internal/subscription"
	kit "chesster/internal/transport"
	"chesster/internal/transport/telegram"
	"chesster/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	reg     *subscription.Registry
	bus     *eventbus.Bus
	adapter kit.Adapter

	// handler is swapped wholesale on config reload so the dispatch loop
	// never sees a half-applied league set.
	handler atomic.Pointer[commands.Handler]

	remMu sync.Mutex
	rem   *reminder.Service

	updates chan kit.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	// transactional config reload: validate before commit/publish
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if st != nil {
			store = st
			log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	reg := subscription.NewRegistry(store, log.With(logx.String("comp", "registry")))

	rate := 0
	if cfg.EventBus != nil {
		rate = cfg.EventBus.RatePerSec
	}
	bus := eventbus.New(eventbus.Config{RatePerSec: rate}, reg,
		directDelivery(ad), log.With(logx.String("comp", "eventbus")))
	registerRenderers(bus)
	// Every topic the command surface advertises must have a renderer
	// before the first update arrives.
	if err := bus.ValidateTopics(commands.KnownTopics()...); err != nil {
		return nil, err
	}

	leagues := buildLeagues(cfg)
	channels, err := buildChannels(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		reg:     reg,
		bus:     bus,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	a.handler.Store(commands.NewHandler(leagues, channels, reg, bus, ad,
		log.With(logx.String("comp", "commands"))))
	a.rem = reminder.New(reminder.Config{Enabled: reminderEnabled(cfg)}, leagues, bus,
		log.With(logx.String("comp", "reminder")))
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.store != nil {
		subs, err := a.store.LoadSubscriptions(runCtx)
		if err != nil {
			return fmt.Errorf("load subscriptions: %w", err)
		}
		subscribers, err := a.store.LoadSubscribers(runCtx)
		if err != nil {
			return fmt.Errorf("load subscribers: %w", err)
		}
		a.reg.Restore(subs, subscribers)
		a.log.Info("subscriptions restored",
			logx.Int("subscriptions", len(subs)),
			logx.Int("subscribers", len(subscribers)))
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if err := a.rem.Start(runCtx); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.dispatchLoop(runCtx)
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-a.updates:
			if upd.Message == nil {
				continue
			}
			h := a.handler.Load()
			if err := h.Handle(ctx, upd.Message); err != nil {
				a.log.Error("update handling failed",
					logx.Int64("chat", upd.Message.ChatID), logx.Err(err))
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, newCfg)
			last = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	if prev != nil && cfg.Telegram != prev.Telegram {
		a.log.Warn("telegram config changed; restart required for changes to take effect")
	}
	if prev != nil && !storageConfigEqual(cfg.Storage, prev.Storage) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	channels, err := buildChannels(cfg)
	if err != nil {
		a.log.Warn("invalid channel_map; keeping previous", logx.Err(err))
		return
	}
	leagues := buildLeagues(cfg)
	a.handler.Store(commands.NewHandler(leagues, channels, a.reg, a.bus, a.adapter,
		a.log.With(logx.String("comp", "commands"))))

	// Reminder cron entries derive from the league rules; rebuild the
	// service on the new set rather than patching entries in place.
	a.remMu.Lock()
	old := a.rem
	a.rem = reminder.New(reminder.Config{Enabled: reminderEnabled(cfg)}, leagues, a.bus,
		a.log.With(logx.String("comp", "reminder")))
	next := a.rem
	a.remMu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	old.Stop(stopCtx)
	cancel()
	if err := next.Start(ctx); err != nil {
		a.log.Error("reminder restart failed", logx.Err(err))
	}

	a.log.Info("config reloaded", logx.Int("leagues", len(leagues)))
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.log.Info("stopping")
	a.cancel()

	a.remMu.Lock()
	rem := a.rem
	a.remMu.Unlock()
	rem.Stop(ctx)

	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown deadline reached before background loops finished")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func buildLeagues(cfg *config.Config) league.Set {
	set := make(league.Set, len(cfg.Leagues))
	for name, lc := range cfg.Leagues {
		set[name] = league.League{
			Name:           name,
			Rule:           lc.Scheduling.Extrema.Rule(),
			Format:         lc.Scheduling.Format,
			WarningMessage: lc.Scheduling.WarningMessage,
			LateMessage:    lc.Scheduling.LateMessage,
			InvalidMessage: lc.Scheduling.InvalidMessage,
		}
	}
	return set
}

func buildChannels(cfg *config.Config) (map[int64]string, error) {
	out := make(map[int64]string, len(cfg.ChannelMap))
	for raw, name := range cfg.ChannelMap {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("channel_map: chat id %q is not numeric", raw)
		}
		out[id] = name
	}
	return out, nil
}

// Reminders default to on when the section is omitted.
func reminderEnabled(cfg *config.Config) bool {
	if cfg.Reminder == nil {
		return true
	}
	return cfg.Reminder.Enabled
}

func storageConfigEqual(a, b *config.StorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
