package config

import (
	"fmt"
	"sort"
	"strings"

	"chesster/internal/deadline"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	Storage  *StorageConfig  `json:"storage,omitempty"`
	Reminder *ReminderConfig `json:"reminder,omitempty"`
	EventBus *EventBusConfig `json:"event_bus,omitempty"`

	// Leagues maps league name ("45+45", "lonewolf") to its scheduling
	// policy and message texts.
	Leagues map[string]LeagueConfig `json:"leagues"`

	// ChannelMap maps a chat id (decimal string, as Telegram reports it)
	// to the league whose scheduling/results traffic lives in that chat.
	ChannelMap map[string]string `json:"channel_map,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./chesster.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ReminderConfig controls the weekly deadline-approaching publisher.
// If the whole section is omitted, reminders default to enabled.
type ReminderConfig struct {
	Enabled bool `json:"enabled"`
}

type EventBusConfig struct {
	// RatePerSec bounds outbound notification deliveries. 0 = default.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// LeagueConfig is one league's configuration block.
type LeagueConfig struct {
	Scheduling SchedulingConfig `json:"scheduling"`
}

type SchedulingConfig struct {
	Extrema ExtremaConfig `json:"extrema"`

	WarningMessage string `json:"warning_message"`
	LateMessage    string `json:"late_message"`
	// InvalidMessage is the reply for an unparseable proposed time.
	// Optional; a built-in default asks the player to repost.
	InvalidMessage string `json:"invalid_message,omitempty"`

	// Format is the moment-style time format players post in,
	// e.g. "MM/DD @ HH:mm".
	Format string `json:"format"`
}

// ExtremaConfig is the recurring weekly cutoff, in UTC.
type ExtremaConfig struct {
	ISOWeekday   int `json:"iso_weekday"`
	Hour         int `json:"hour"`
	Minute       int `json:"minute"`
	WarningHours int `json:"warning_hours"`
}

func (e ExtremaConfig) Rule() deadline.Rule {
	return deadline.Rule{
		ISOWeekday:   e.ISOWeekday,
		Hour:         e.Hour,
		Minute:       e.Minute,
		WarningHours: e.WarningHours,
	}
}

// Validate checks everything that can be checked without hitting the
// network. The config Watch() path runs it before committing a reload.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if len(c.Leagues) == 0 {
		return fmt.Errorf("at least one league is required")
	}
	for _, name := range c.LeagueNames() {
		lg := c.Leagues[name]
		if err := lg.Scheduling.Extrema.Rule().Validate(); err != nil {
			return fmt.Errorf("leagues.%s.scheduling.extrema: %w", name, err)
		}
		if strings.TrimSpace(lg.Scheduling.Format) == "" {
			return fmt.Errorf("leagues.%s.scheduling.format is required", name)
		}
	}
	for chat, league := range c.ChannelMap {
		if _, ok := c.Leagues[league]; !ok {
			return fmt.Errorf("channel_map.%s points at unknown league %q", chat, league)
		}
	}
	return nil
}

// LeagueNames returns the configured league names, sorted for stable
// iteration (map order is not).
func (c *Config) LeagueNames() []string {
	names := make([]string, 0, len(c.Leagues))
	for n := range c.Leagues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
