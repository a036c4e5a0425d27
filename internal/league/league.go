// Package league resolves per-league deadline policy and the message text
// each classification tier carries back to the player.
package league

import (
	"errors"
	"fmt"
	"time"

	"chesster/internal/deadline"
	"chesster/internal/timeparse"
)

var ErrUnknownLeague = errors.New("unknown league")

// DefaultInvalidMessage replies to an unparseable proposed time. Most
// league configs define only warning/late texts; an unreadable time needs
// its own answer, not the late one.
const DefaultInvalidMessage = "Sorry, I could not understand that time. " +
	"Please repost it in the league's scheduling format so I can check it against the deadline."

// League is one organizational unit of the tournament, with its weekly
// cutoff rule and canonical messages.
type League struct {
	Name           string
	Rule           deadline.Rule
	Format         string
	WarningMessage string
	LateMessage    string
	InvalidMessage string
}

// Verdict is the full result of classifying one proposed time: the tier,
// the tier's canonical message (empty for OK), and the instants that drove
// the decision.
type Verdict struct {
	Tier     deadline.Tier
	Message  string
	Proposed time.Time
	Deadline time.Time
}

// Classify parses the raw posted time with the league's format and runs the
// deadline policy. Pure given now; never mutates league state.
func (l League) Classify(now time.Time, raw string) Verdict {
	proposed, parseErr := timeparse.Parse(raw, l.Format, now)
	cutoff := deadline.Upcoming(l.Rule, now)

	v := Verdict{
		Tier:     deadline.Classify(l.Rule, now, proposed, parseErr),
		Proposed: proposed,
		Deadline: cutoff,
	}
	switch v.Tier {
	case deadline.Warning:
		v.Message = l.WarningMessage
	case deadline.Late:
		v.Message = l.LateMessage
	case deadline.Invalid:
		v.Message = l.InvalidMessage
		if v.Message == "" {
			v.Message = DefaultInvalidMessage
		}
		v.Proposed = time.Time{}
	}
	return v
}

// Set holds every configured league, keyed by name.
type Set map[string]League

// Classify routes to the named league.
func (s Set) Classify(leagueName string, now time.Time, raw string) (Verdict, error) {
	l, ok := s[leagueName]
	if !ok {
		return Verdict{}, fmt.Errorf("%w: %s", ErrUnknownLeague, leagueName)
	}
	return l.Classify(now, raw), nil
}

// Get looks up one league.
func (s Set) Get(leagueName string) (League, bool) {
	l, ok := s[leagueName]
	return l, ok
}
